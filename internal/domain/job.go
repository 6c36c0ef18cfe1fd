package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Finished reports whether the job will not change any more.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Scene is one page of a story to illustrate.
type Scene struct {
	Description string `json:"description"`
	PageNumber  int    `json:"pageNumber"`
}

// JobRequest is the payload a caller submits to illustrate a story.
type JobRequest struct {
	StoryID    string    `json:"storyId"`
	Character  Character `json:"character"`
	StoryTitle string    `json:"storyTitle"`
	Scenes     []Scene   `json:"scenes"`
}

// Illustration is the outcome of one successfully generated scene.
type Illustration struct {
	PageNumber          int    `json:"pageNumber"`
	SceneDescription    string `json:"sceneDescription"`
	Model               string `json:"model"`
	CharacterReferenced bool   `json:"characterReferenced"`
	URL                 string `json:"url,omitempty"`
	B64JSON             string `json:"b64Json,omitempty"`
	LocalURL            string `json:"localUrl,omitempty"`
}

// SceneFailure records a scene that could not be illustrated.
type SceneFailure struct {
	PageNumber int       `json:"pageNumber"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// Job encapsulates the lifecycle of an illustration request.
// Error keeps only the most recent failure; Failures keeps all of them.
type Job struct {
	ID        string         `json:"id"`
	Request   JobRequest     `json:"request"`
	Status    JobStatus      `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Error     string         `json:"error,omitempty"`
	Failures  []SceneFailure `json:"failures,omitempty"`
	Results   []Illustration `json:"results"`
}

// Clone returns a copy that shares no slices with j.
func (j Job) Clone() Job {
	out := j
	out.Request = j.Request.clone()
	out.Results = append([]Illustration(nil), j.Results...)
	if out.Results == nil {
		out.Results = []Illustration{}
	}
	if j.Failures != nil {
		out.Failures = append([]SceneFailure(nil), j.Failures...)
	}
	return out
}

func (r JobRequest) clone() JobRequest {
	out := r
	out.Character = r.Character.Clone()
	out.Scenes = append([]Scene(nil), r.Scenes...)
	return out
}
