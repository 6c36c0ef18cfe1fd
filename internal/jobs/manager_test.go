package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook/internal/domain"
	"storybook/internal/providers/image"
	"storybook/internal/providers/openai"
)

type fakeIllustrator struct {
	mu       sync.Mutex
	active   int32
	peak     int32
	calls    []int
	failPage map[int]error
	delay    time.Duration
	gate     chan struct{}
	panicOn  int
}

func (f *fakeIllustrator) GenerateIllustration(ctx context.Context, character domain.Character, scene, storyTitle string, page int) (*image.Result, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.mu.Unlock()

	if f.panicOn != 0 && page == f.panicOn {
		panic("boom")
	}
	if err := f.failPage[page]; err != nil {
		return nil, err
	}
	return &image.Result{
		Provider: "dall-e-3",
		Model:    "dall-e-3",
		URL:      fmt.Sprintf("https://img.example/%d.png", page),
	}, nil
}

func request(pages ...int) domain.JobRequest {
	scenes := make([]domain.Scene, 0, len(pages))
	for _, p := range pages {
		scenes = append(scenes, domain.Scene{Description: fmt.Sprintf("scene %d", p), PageNumber: p})
	}
	return domain.JobRequest{
		StoryID:    "story-1",
		StoryTitle: "The Lost Kite",
		Character:  domain.Character{Name: "Mia", Age: 6},
		Scenes:     scenes,
	}
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
}

func TestEnqueueReturnsQueuedSnapshot(t *testing.T) {
	gate := make(chan struct{})
	m := NewManager(Options{Illustrator: &fakeIllustrator{gate: gate}})

	job := m.Enqueue(request(1))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.NotNil(t, job.Results)
	assert.Empty(t, job.Results)
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)

	close(gate)
	waitIdle(t, m)

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	require.Len(t, got.Results, 1)
	assert.Equal(t, 1, got.Results[0].PageNumber)
	assert.Equal(t, "scene 1", got.Results[0].SceneDescription)
	assert.Empty(t, got.Error)
}

func TestGetUnknownJob(t *testing.T) {
	m := NewManager(Options{Illustrator: &fakeIllustrator{}})
	_, err := m.Get("nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestJobsAreProcessedOneAtATime(t *testing.T) {
	ill := &fakeIllustrator{delay: 5 * time.Millisecond}
	m := NewManager(Options{Illustrator: ill})

	ids := make(map[string]struct{})
	for i := 0; i < 5; i++ {
		job := m.Enqueue(request(1, 2))
		ids[job.ID] = struct{}{}
	}
	assert.Len(t, ids, 5)

	waitIdle(t, m)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ill.peak))
	assert.Len(t, ill.calls, 10)
	for id := range ids {
		job, err := m.Get(id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
		assert.Len(t, job.Results, 2)
	}
}

func TestScenesRunInOrder(t *testing.T) {
	ill := &fakeIllustrator{}
	m := NewManager(Options{Illustrator: ill})
	m.Enqueue(request(3, 1, 2))
	waitIdle(t, m)
	assert.Equal(t, []int{3, 1, 2}, ill.calls)
}

func TestFailedSceneDoesNotFailJob(t *testing.T) {
	ill := &fakeIllustrator{failPage: map[int]error{
		2: &domain.UpstreamError{Provider: "dall-e-3", Kind: domain.UpstreamContentPolicy, Status: 400, Err: errors.New("blocked")},
	}}
	m := NewManager(Options{Illustrator: ill})
	job := m.Enqueue(request(1, 2, 3))
	waitIdle(t, m)

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	require.Len(t, got.Results, 2)
	assert.Equal(t, 1, got.Results[0].PageNumber)
	assert.Equal(t, 3, got.Results[1].PageNumber)
	assert.Equal(t, "Failed scene p2: Image request violates OpenAI content policy.", got.Error)
	require.Len(t, got.Failures, 1)
	assert.Equal(t, 2, got.Failures[0].PageNumber)
}

func TestAllScenesFailingStillCompletes(t *testing.T) {
	ill := &fakeIllustrator{failPage: map[int]error{
		1: errors.New("network down"),
		2: &domain.UpstreamError{Kind: domain.UpstreamQuotaExceeded, Err: errors.New("quota")},
	}}
	m := NewManager(Options{Illustrator: ill})
	job := m.Enqueue(request(1, 2))
	waitIdle(t, m)

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Empty(t, got.Results)
	assert.Equal(t, "Failed scene p2: OpenAI API quota exceeded for image generation.", got.Error)
	require.Len(t, got.Failures, 2)
	assert.Equal(t, "Failed scene p1: Image generation failed: network down", got.Failures[0].Message)
}

func TestPanicMarksJobFailedAndWorkerContinues(t *testing.T) {
	ill := &fakeIllustrator{panicOn: 7}
	m := NewManager(Options{Illustrator: ill})
	bad := m.Enqueue(request(7))
	good := m.Enqueue(request(1))
	waitIdle(t, m)

	got, err := m.Get(bad.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "boom")

	got, err = m.Get(good.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
}

func TestListNewestFirst(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	clock := func() time.Time {
		return base.Add(time.Duration(tick.Load()) * time.Second)
	}
	gate := make(chan struct{})
	m := NewManager(Options{Illustrator: &fakeIllustrator{gate: gate}, Clock: clock})

	first := m.Enqueue(request(1))
	second := m.Enqueue(request(1))
	tick.Store(5)
	third := m.Enqueue(request(1))

	list := m.List(0)
	require.Len(t, list, 3)
	assert.Equal(t, third.ID, list[0].ID)
	// same timestamp: later submission first
	assert.Equal(t, second.ID, list[1].ID)
	assert.Equal(t, first.ID, list[2].ID)

	assert.Len(t, m.List(2), 2)

	close(gate)
	waitIdle(t, m)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	m := NewManager(Options{Illustrator: &fakeIllustrator{}})
	req := request(1)
	job := m.Enqueue(req)
	req.Scenes[0].Description = "mutated"
	waitIdle(t, m)

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	got.Results[0].URL = "changed"
	got.Request.Scenes[0].Description = "changed"

	again, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", again.Results[0].URL)
	assert.Equal(t, "scene 1", again.Request.Scenes[0].Description)
}

func TestMaxRetainedEvictsOldestFinished(t *testing.T) {
	m := NewManager(Options{Illustrator: &fakeIllustrator{}, MaxRetained: 2})
	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, m.Enqueue(request(1)).ID)
		waitIdle(t, m)
	}

	_, err := m.Get(ids[0])
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = m.Get(ids[1])
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = m.Get(ids[3])
	assert.NoError(t, err)
	assert.Len(t, m.List(10), 2)
}

func TestWaitHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	m := NewManager(Options{Illustrator: &fakeIllustrator{gate: gate}})
	m.Enqueue(request(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(ctx), context.DeadlineExceeded)

	close(gate)
	waitIdle(t, m)
}

func TestNewIDCollisionIsRetried(t *testing.T) {
	seq := []string{"a", "a", "b"}
	var i int
	var mu sync.Mutex
	newID := func() string {
		mu.Lock()
		defer mu.Unlock()
		id := seq[i]
		i++
		return id
	}
	m := NewManager(Options{Illustrator: &fakeIllustrator{}, NewID: newID})
	assert.Equal(t, "a", m.Enqueue(request(1)).ID)
	assert.Equal(t, "b", m.Enqueue(request(1)).ID)
	waitIdle(t, m)
}

type refusingEditor struct {
	name  string
	err   error
	calls atomic.Int32
}

func (e *refusingEditor) Edit(ctx context.Context, req openai.EditRequest) (*openai.Image, error) {
	e.calls.Add(1)
	return nil, e.err
}

func (e *refusingEditor) HasCredentials() bool { return true }
func (e *refusingEditor) Name() string         { return e.name }
func (e *refusingEditor) Model() string        { return "gpt-image-1" }

type textGenerator struct {
	calls atomic.Int32
}

func (g *textGenerator) GenerateImage(ctx context.Context, req openai.GenerateRequest) (*openai.Image, error) {
	g.calls.Add(1)
	return &openai.Image{URL: "https://img.example/dalle.png"}, nil
}

func (g *textGenerator) HasCredentials() bool { return true }

func TestReferenceTiersFailingFallsBackToTextOnly(t *testing.T) {
	uploads := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "mia.png"), []byte("ref"), 0o644))

	primary := &refusingEditor{name: "openai-gpt-image-1", err: &domain.UpstreamError{
		Provider: "openai-gpt-image-1", Kind: domain.UpstreamContentPolicy, Status: 400, Err: errors.New("blocked"),
	}}
	managed := &refusingEditor{name: "azure-gpt-image-1", err: &domain.UpstreamError{
		Provider: "azure-gpt-image-1", Kind: domain.UpstreamTransient, Status: 503, Err: errors.New("unavailable"),
	}}
	text := &textGenerator{}
	chain := image.NewOrchestrator(image.NewReferenceResolver(uploads), nil,
		image.NewReferenceEditor(image.ReferenceEditorOptions{Editor: primary, Enabled: true, FilePrefix: "gptimg-native"}),
		image.NewReferenceEditor(image.ReferenceEditorOptions{Editor: managed, Enabled: true, FilePrefix: "gptimg"}),
		image.NewTextOnly(image.TextOnlyOptions{Client: text}),
	)

	m := NewManager(Options{Illustrator: chain})
	req := request(1)
	req.Character.ImageURL = "/uploads/mia.png"
	job := m.Enqueue(req)
	waitIdle(t, m)

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	assert.Empty(t, got.Failures)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "dall-e-3", got.Results[0].Model)
	assert.False(t, got.Results[0].CharacterReferenced)
	assert.Equal(t, "https://img.example/dalle.png", got.Results[0].URL)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(1), managed.calls.Load())
	assert.Equal(t, int32(1), text.calls.Load())
}
