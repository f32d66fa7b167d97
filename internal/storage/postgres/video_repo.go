package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/video-platform/internal/media/domain"
	"github.com/romariotrain/video-platform/internal/media/models"
	"github.com/romariotrain/video-platform/internal/media/repository"
)

const videoColumns = `id, owner_id, title, description, filename, mime_type,
	original_path, processed_path, thumbnail_path, hls_path, dash_path,
	status, processing_progress, sensitivity_status, sensitivity_score, sensitivity_reasons,
	size, format, duration, resolution, views, created_at, updated_at`

type videoRow struct {
	models.Video
	Reasons []byte `db:"sensitivity_reasons"`
}

func (r *videoRow) toModel() (*models.Video, error) {
	v := r.Video
	if len(r.Reasons) > 0 {
		if err := json.Unmarshal(r.Reasons, &v.SensitivityReasons); err != nil {
			return nil, fmt.Errorf("decode sensitivity reasons: %w", err)
		}
	}
	return &v, nil
}

func encodeReasons(reasons []string) ([]byte, error) {
	if reasons == nil {
		reasons = []string{}
	}
	return json.Marshal(reasons)
}

type VideoRepo struct {
	db     *sqlx.DB
	outbox *OutboxRepo
	clock  func() time.Time
}

var _ repository.VideoRepository = (*VideoRepo)(nil)

func NewVideoRepo(db *sqlx.DB, outbox *OutboxRepo) *VideoRepo {
	return &VideoRepo{db: db, outbox: outbox, clock: time.Now}
}

func (r *VideoRepo) Create(ctx context.Context, v *models.Video) error {
	reasons, err := encodeReasons(v.SensitivityReasons)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO videos (` + videoColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, q,
		v.ID, v.OwnerID, v.Title, v.Description, v.Filename, v.MimeType,
		v.OriginalPath, v.ProcessedPath, v.ThumbnailPath, v.HLSPath, v.DASHPath,
		v.Status, v.ProcessingProgress, v.SensitivityStatus, v.SensitivityScore, reasons,
		v.Size, v.Format, v.Duration, v.Resolution, v.Views, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("video create: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrConflict
	}
	return nil
}

func (r *VideoRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	const q = `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	var row videoRow
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("video get by id: %w", err)
	}
	return row.toModel()
}

func (r *VideoRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.Video, error) {
	const q = `
		SELECT ` + videoColumns + ` FROM videos
		WHERE $1 = '' OR owner_id = $1
		ORDER BY created_at DESC
	`

	var rows []videoRow
	if err := r.db.SelectContext(ctx, &rows, q, ownerID); err != nil {
		return nil, fmt.Errorf("video list: %w", err)
	}

	out := make([]*models.Video, 0, len(rows))
	for i := range rows {
		v, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Update locks the row, applies fn and writes the result back. A status change is
// recorded in the outbox within the same transaction.
func (r *VideoRepo) Update(ctx context.Context, id uuid.UUID, fn repository.VideoMutation) (*models.Video, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const sel = `SELECT ` + videoColumns + ` FROM videos WHERE id = $1 FOR UPDATE`
	var row videoRow
	if err := tx.GetContext(ctx, &row, sel, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("video select for update: %w", err)
	}
	cur, err := row.toModel()
	if err != nil {
		return nil, err
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := domain.ValidateTransition(cur.Status, next.Status); err != nil {
		return nil, err
	}
	next.UpdatedAt = r.clock()

	reasons, err := encodeReasons(next.SensitivityReasons)
	if err != nil {
		return nil, err
	}

	const upd = `
		UPDATE videos SET
			title = $2, description = $3, original_path = $4, processed_path = $5,
			thumbnail_path = $6, hls_path = $7, dash_path = $8, status = $9,
			processing_progress = $10, sensitivity_status = $11, sensitivity_score = $12,
			sensitivity_reasons = $13, duration = $14, resolution = $15, updated_at = $16
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, upd,
		id, next.Title, next.Description, next.OriginalPath, next.ProcessedPath,
		next.ThumbnailPath, next.HLSPath, next.DASHPath, next.Status,
		next.ProcessingProgress, next.SensitivityStatus, next.SensitivityScore,
		reasons, next.Duration, next.Resolution, next.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("video update: %w", err)
	}

	if cur.Status != next.Status && r.outbox != nil {
		event := models.NewVideoStatusChanged(cur, next, next.UpdatedAt)
		if err := r.outbox.Add(ctx, tx, event); err != nil {
			return nil, fmt.Errorf("add outbox: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	next.Views = cur.Views
	return next, nil
}

func (r *VideoRepo) IncrementViews(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	const q = `
		UPDATE videos SET views = views + 1
		WHERE id = $1
		RETURNING ` + videoColumns

	var row videoRow
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("video increment views: %w", err)
	}
	return row.toModel()
}
