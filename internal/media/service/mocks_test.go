package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/romariotrain/video-platform/internal/media/models"
	"github.com/romariotrain/video-platform/internal/media/repository"
)

// result pulls a typed value out of mocked arguments; a nil entry yields the zero value.
func result[T any](args mock.Arguments, i int) T {
	v, _ := args.Get(i).(T)
	return v
}

type VideoRepoMock struct {
	mock.Mock
}

var _ repository.VideoRepository = (*VideoRepoMock)(nil)

func (m *VideoRepoMock) Create(ctx context.Context, v *models.Video) error {
	return m.Called(ctx, v).Error(0)
}

func (m *VideoRepoMock) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	args := m.Called(ctx, id)
	return result[*models.Video](args, 0), args.Error(1)
}

func (m *VideoRepoMock) ListByOwner(ctx context.Context, ownerID string) ([]*models.Video, error) {
	args := m.Called(ctx, ownerID)
	return result[[]*models.Video](args, 0), args.Error(1)
}

func (m *VideoRepoMock) Update(ctx context.Context, id uuid.UUID, fn repository.VideoMutation) (*models.Video, error) {
	args := m.Called(ctx, id, fn)
	return result[*models.Video](args, 0), args.Error(1)
}

func (m *VideoRepoMock) IncrementViews(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	args := m.Called(ctx, id)
	return result[*models.Video](args, 0), args.Error(1)
}

type PipelineMock struct {
	mock.Mock
}

func (m *PipelineMock) Enqueue(videoID uuid.UUID) bool {
	return m.Called(videoID).Bool(0)
}
