package domain

// Sibling is a family member mentioned in the story.
type Sibling struct {
	Name   string `json:"name"`
	Traits string `json:"traits,omitempty"`
}

// Character is the story's protagonist. The pipeline only reads it.
type Character struct {
	Name            string    `json:"name"`
	Age             int       `json:"age"`
	Personality     []string  `json:"personality"`
	Interests       []string  `json:"interests"`
	Siblings        []Sibling `json:"siblings,omitempty"`
	PersonalMessage string    `json:"personalMessage,omitempty"`
	ImageURL        string    `json:"imageUrl,omitempty"`
}

// Clone returns a deep copy so queued jobs never alias caller slices.
func (c Character) Clone() Character {
	out := c
	out.Personality = append([]string(nil), c.Personality...)
	out.Interests = append([]string(nil), c.Interests...)
	out.Siblings = append([]Sibling(nil), c.Siblings...)
	return out
}
