package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/video-platform/internal/media/domain"
	"github.com/romariotrain/video-platform/internal/media/models"
)

// MemoryRepository is an in-process record store for videos, jobs and analytics.
// Every mutation runs under the collection lock so concurrent updates are never lost.
type MemoryRepository struct {
	mu        sync.RWMutex
	videos    map[uuid.UUID]*models.Video
	jobs      map[uuid.UUID]*models.ProcessingJob
	analytics []*models.AnalyticsEvent

	clock func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		videos: make(map[uuid.UUID]*models.Video),
		jobs:   make(map[uuid.UUID]*models.ProcessingJob),
		clock:  time.Now,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, v *models.Video) error {
	if v == nil || v.ID == uuid.Nil {
		return models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.videos[v.ID]; exists {
		return models.ErrConflict
	}
	r.videos[v.ID] = v.Clone()
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.videos[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return v.Clone(), nil
}

func (r *MemoryRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Video, 0, len(r.videos))
	for _, v := range r.videos {
		if ownerID == "" || v.OwnerID == ownerID {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id uuid.UUID, fn VideoMutation) (*models.Video, error) {
	if id == uuid.Nil || fn == nil {
		return nil, models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.videos[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.Views = cur.Views
	if err := domain.ValidateTransition(cur.Status, next.Status); err != nil {
		return nil, err
	}
	next.UpdatedAt = r.clock()

	r.videos[id] = next
	return next.Clone(), nil
}

func (r *MemoryRepository) IncrementViews(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.videos[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	v.Views++
	return v.Clone(), nil
}

// Jobs returns a JobRepository view over the same store.
func (r *MemoryRepository) Jobs() JobRepository { return memoryJobs{r} }

// Analytics returns an AnalyticsRepository view over the same store.
func (r *MemoryRepository) Analytics() AnalyticsRepository { return memoryAnalytics{r} }

type memoryJobs struct{ r *MemoryRepository }

func (m memoryJobs) Create(ctx context.Context, j *models.ProcessingJob) error {
	if j == nil || j.ID == uuid.Nil || j.VideoID == uuid.Nil {
		return models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.r.mu.Lock()
	defer m.r.mu.Unlock()

	if _, exists := m.r.jobs[j.ID]; exists {
		return models.ErrConflict
	}
	m.r.jobs[j.ID] = j.Clone()
	return nil
}

func (m memoryJobs) GetByID(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.r.mu.RLock()
	defer m.r.mu.RUnlock()

	j, ok := m.r.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return j.Clone(), nil
}

func (m memoryJobs) ListByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.ProcessingJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.r.mu.RLock()
	defer m.r.mu.RUnlock()

	var out []*models.ProcessingJob
	for _, j := range m.r.jobs {
		if j.VideoID == videoID {
			out = append(out, j.Clone())
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (m memoryJobs) Update(ctx context.Context, id uuid.UUID, fn JobMutation) (*models.ProcessingJob, error) {
	if id == uuid.Nil || fn == nil {
		return nil, models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.r.mu.Lock()
	defer m.r.mu.Unlock()

	cur, ok := m.r.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.VideoID = cur.VideoID
	if err := domain.ValidateJobTransition(cur.Status, next.Status); err != nil {
		return nil, err
	}
	next.UpdatedAt = m.r.clock()

	m.r.jobs[id] = next
	return next.Clone(), nil
}

type memoryAnalytics struct{ r *MemoryRepository }

func (m memoryAnalytics) Append(ctx context.Context, e *models.AnalyticsEvent) error {
	if e == nil || e.VideoID == uuid.Nil {
		return models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.r.mu.Lock()
	defer m.r.mu.Unlock()

	cp := *e
	m.r.analytics = append(m.r.analytics, &cp)
	return nil
}

func (m memoryAnalytics) ListByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.AnalyticsEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.r.mu.RLock()
	defer m.r.mu.RUnlock()

	var out []*models.AnalyticsEvent
	for _, e := range m.r.analytics {
		if e.VideoID == videoID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
