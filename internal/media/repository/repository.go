package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/romariotrain/video-platform/internal/media/models"
)

// VideoMutation edits a video in place. Returning an error aborts the update.
type VideoMutation func(v *models.Video) error

// JobMutation edits a processing job in place. Returning an error aborts the update.
type JobMutation func(j *models.ProcessingJob) error

// VideoRepository persists videos. Update applies the mutation atomically per id
// and rejects status changes the lifecycle does not allow.
type VideoRepository interface {
	Create(ctx context.Context, v *models.Video) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Video, error)
	Update(ctx context.Context, id uuid.UUID, fn VideoMutation) (*models.Video, error)
	IncrementViews(ctx context.Context, id uuid.UUID) (*models.Video, error)
}

type JobRepository interface {
	Create(ctx context.Context, j *models.ProcessingJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error)
	// ListByVideo returns jobs oldest first.
	ListByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.ProcessingJob, error)
	Update(ctx context.Context, id uuid.UUID, fn JobMutation) (*models.ProcessingJob, error)
}

type AnalyticsRepository interface {
	Append(ctx context.Context, e *models.AnalyticsEvent) error
	ListByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.AnalyticsEvent, error)
}
