package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/video-platform/internal/media/models"
	"github.com/romariotrain/video-platform/internal/media/repository"
)

type AnalyticsRepo struct {
	db *sqlx.DB
}

var _ repository.AnalyticsRepository = (*AnalyticsRepo)(nil)

func NewAnalyticsRepo(db *sqlx.DB) *AnalyticsRepo {
	return &AnalyticsRepo{db: db}
}

func (r *AnalyticsRepo) Append(ctx context.Context, e *models.AnalyticsEvent) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode analytics metadata: %w", err)
	}

	const q = `
		INSERT INTO analytics_events (id, video_id, user_id, kind, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, q, e.ID, e.VideoID, e.UserID, e.Kind, meta, e.OccurredAt); err != nil {
		return fmt.Errorf("analytics append: %w", err)
	}
	return nil
}

func (r *AnalyticsRepo) ListByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.AnalyticsEvent, error) {
	const q = `
		SELECT id, video_id, user_id, kind, metadata, occurred_at
		FROM analytics_events
		WHERE video_id = $1
		ORDER BY occurred_at ASC
	`

	var rows []struct {
		ID         uuid.UUID            `db:"id"`
		VideoID    uuid.UUID            `db:"video_id"`
		UserID     string               `db:"user_id"`
		Kind       models.AnalyticsKind `db:"kind"`
		Metadata   []byte               `db:"metadata"`
		OccurredAt time.Time            `db:"occurred_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, q, videoID); err != nil {
		return nil, fmt.Errorf("analytics list: %w", err)
	}

	out := make([]*models.AnalyticsEvent, 0, len(rows))
	for _, row := range rows {
		e := &models.AnalyticsEvent{
			ID:         row.ID,
			VideoID:    row.VideoID,
			UserID:     row.UserID,
			Kind:       row.Kind,
			OccurredAt: row.OccurredAt,
		}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode analytics metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}
