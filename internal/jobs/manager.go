// Package jobs runs illustration jobs through a single sequential worker.
//
// Upstream image providers rate-limit per account, so at most one job is
// processed at a time and the scenes of a job run one after another.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/metrics"
	"storybook/internal/providers/image"
)

// DefaultListLimit is used when List is called without a positive limit.
const DefaultListLimit = 50

// Illustrator renders one scene.
type Illustrator interface {
	GenerateIllustration(ctx context.Context, character domain.Character, scene, storyTitle string, page int) (*image.Result, error)
}

// Options configures a Manager.
type Options struct {
	Illustrator Illustrator
	Clock       func() time.Time
	NewID       func() string
	Logger      *infra.Logger
	// MaxRetained bounds finished jobs kept in memory; zero keeps all.
	MaxRetained int
}

type record struct {
	job domain.Job
	seq uint64
}

// Manager owns the job table and its worker.
type Manager struct {
	illustrator Illustrator
	now         func() time.Time
	newID       func() string
	logger      *infra.Logger
	maxRetained int

	mu    sync.Mutex
	jobs  map[string]*record
	order []*record
	seq   uint64
	busy  bool
	idle  chan struct{}
}

func NewManager(opts Options) *Manager {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Manager{
		illustrator: opts.Illustrator,
		now:         now,
		newID:       newID,
		logger:      infra.LoggerOrDiscard(opts.Logger),
		maxRetained: opts.MaxRetained,
		jobs:        make(map[string]*record),
	}
}

// Enqueue stores a queued job and wakes the worker. It never blocks on
// processing.
func (m *Manager) Enqueue(req domain.JobRequest) domain.Job {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.newID()
	for _, taken := m.jobs[id]; taken; _, taken = m.jobs[id] {
		id = m.newID()
	}
	m.seq++
	rec := &record{
		seq: m.seq,
		job: domain.Job{
			ID:        id,
			Request:   domain.Job{Request: req}.Clone().Request,
			Status:    domain.JobStatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
			Results:   []domain.Illustration{},
		},
	}
	m.jobs[id] = rec
	m.order = append(m.order, rec)
	metrics.JobsEnqueued.Inc()
	m.logger.Info().Str("job_id", id).Str("story_id", req.StoryID).Int("scenes", len(req.Scenes)).Msg("illustration job queued")

	m.kickLocked()
	return rec.job.Clone()
}

// Get returns a snapshot of the job or domain.ErrNotFound.
func (m *Manager) Get(id string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return rec.job.Clone(), nil
}

// List returns up to limit jobs, newest first.
func (m *Manager) List(limit int) []domain.Job {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.Lock()
	recs := append([]*record(nil), m.order...)
	m.mu.Unlock()

	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].job.CreatedAt, recs[j].job.CreatedAt
		if a.Equal(b) {
			return recs[i].seq > recs[j].seq
		}
		return a.After(b)
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Job, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.job.Clone())
	}
	return out
}

// Wait blocks until the worker has drained the queue or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	if !m.busy {
		m.mu.Unlock()
		return nil
	}
	idle := m.idle
	m.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// kickLocked starts the worker if none is running. m.mu must be held.
func (m *Manager) kickLocked() {
	if m.busy {
		return
	}
	m.busy = true
	m.idle = make(chan struct{})
	go m.run()
}

func (m *Manager) run() {
	for {
		rec := m.next()
		if rec == nil {
			return
		}
		m.process(rec)
	}
}

// next claims the oldest queued job, or marks the worker idle.
func (m *Manager) next() *record {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.order {
		if rec.job.Status == domain.JobStatusQueued {
			rec.job.Status = domain.JobStatusProcessing
			rec.job.UpdatedAt = m.now()
			return rec
		}
	}
	m.busy = false
	close(m.idle)
	return nil
}

func (m *Manager) process(rec *record) {
	m.mu.Lock()
	id := rec.job.ID
	req := rec.job.Request
	m.mu.Unlock()

	log := m.logger.With().Str("job_id", id).Logger()
	log.Info().Msg("illustration job started")

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("illustration job crashed")
			m.finish(rec, domain.JobStatusFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	// jobs are not cancellable once dequeued
	ctx := context.Background()
	for _, scene := range req.Scenes {
		res, err := m.illustrator.GenerateIllustration(ctx, req.Character, scene.Description, req.StoryTitle, scene.PageNumber)
		if err != nil {
			metrics.ScenesProcessed.WithLabelValues("error").Inc()
			msg := fmt.Sprintf("Failed scene p%d: %s", scene.PageNumber, domain.UserMessage(err))
			log.Warn().Err(err).Int("page", scene.PageNumber).Msg("scene illustration failed")
			m.recordFailure(rec, scene.PageNumber, msg)
			continue
		}
		metrics.ScenesProcessed.WithLabelValues("success").Inc()
		m.appendResult(rec, res.Illustration(scene.Description, scene.PageNumber))
	}
	m.finish(rec, domain.JobStatusCompleted, "")
}

func (m *Manager) appendResult(rec *record, item domain.Illustration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.job.Results = append(rec.job.Results, item)
	rec.job.UpdatedAt = m.now()
}

func (m *Manager) recordFailure(rec *record, page int, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	rec.job.Error = msg
	rec.job.Failures = append(rec.job.Failures, domain.SceneFailure{PageNumber: page, Message: msg, At: now})
	rec.job.UpdatedAt = now
}

func (m *Manager) finish(rec *record, status domain.JobStatus, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.job.Status = status
	if errMsg != "" {
		rec.job.Error = errMsg
	}
	rec.job.UpdatedAt = m.now()
	metrics.JobsFinished.WithLabelValues(string(status)).Inc()
	m.logger.Info().
		Str("job_id", rec.job.ID).
		Str("status", string(status)).
		Int("results", len(rec.job.Results)).
		Int("failures", len(rec.job.Failures)).
		Msg("illustration job finished")
	m.evictLocked()
}

// evictLocked drops the oldest finished jobs beyond maxRetained.
func (m *Manager) evictLocked() {
	if m.maxRetained <= 0 {
		return
	}
	finished := 0
	for _, rec := range m.order {
		if rec.job.Status.Finished() {
			finished++
		}
	}
	excess := finished - m.maxRetained
	if excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, rec := range m.order {
		if excess > 0 && rec.job.Status.Finished() {
			delete(m.jobs, rec.job.ID)
			excess--
			continue
		}
		kept = append(kept, rec)
	}
	m.order = kept
}
