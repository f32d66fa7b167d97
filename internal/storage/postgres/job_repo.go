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

const jobColumns = `id, video_id, status, progress, current_step, error, steps,
	started_at, completed_at, created_at, updated_at`

type jobRow struct {
	ID          uuid.UUID        `db:"id"`
	VideoID     uuid.UUID        `db:"video_id"`
	Status      models.JobStatus `db:"status"`
	Progress    float64          `db:"progress"`
	CurrentStep string           `db:"current_step"`
	Error       string           `db:"error"`
	Steps       []byte           `db:"steps"`
	StartedAt   *time.Time       `db:"started_at"`
	CompletedAt *time.Time       `db:"completed_at"`
	CreatedAt   time.Time        `db:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at"`
}

func (r *jobRow) toModel() (*models.ProcessingJob, error) {
	j := &models.ProcessingJob{
		ID:          r.ID,
		VideoID:     r.VideoID,
		Status:      r.Status,
		Progress:    r.Progress,
		CurrentStep: r.CurrentStep,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Steps) > 0 {
		if err := json.Unmarshal(r.Steps, &j.Steps); err != nil {
			return nil, fmt.Errorf("decode job steps: %w", err)
		}
	}
	return j, nil
}

type JobRepo struct {
	db    *sqlx.DB
	clock func() time.Time
}

var _ repository.JobRepository = (*JobRepo)(nil)

func NewJobRepo(db *sqlx.DB) *JobRepo {
	return &JobRepo{db: db, clock: time.Now}
}

func (r *JobRepo) Create(ctx context.Context, j *models.ProcessingJob) error {
	steps, err := json.Marshal(j.Steps)
	if err != nil {
		return fmt.Errorf("encode job steps: %w", err)
	}

	const q = `
		INSERT INTO processing_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.ExecContext(ctx, q,
		j.ID, j.VideoID, j.Status, j.Progress, j.CurrentStep, j.Error, steps,
		j.StartedAt, j.CompletedAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("job create: %w", err)
	}
	return nil
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	const q = `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1`

	var row jobRow
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("job get by id: %w", err)
	}
	return row.toModel()
}

func (r *JobRepo) ListByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.ProcessingJob, error) {
	const q = `SELECT ` + jobColumns + ` FROM processing_jobs WHERE video_id = $1 ORDER BY created_at ASC`

	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, q, videoID); err != nil {
		return nil, fmt.Errorf("job list by video: %w", err)
	}

	out := make([]*models.ProcessingJob, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (r *JobRepo) Update(ctx context.Context, id uuid.UUID, fn repository.JobMutation) (*models.ProcessingJob, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const sel = `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1 FOR UPDATE`
	var row jobRow
	if err := tx.GetContext(ctx, &row, sel, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("job select for update: %w", err)
	}
	cur, err := row.toModel()
	if err != nil {
		return nil, err
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := domain.ValidateJobTransition(cur.Status, next.Status); err != nil {
		return nil, err
	}
	next.UpdatedAt = r.clock()

	steps, err := json.Marshal(next.Steps)
	if err != nil {
		return nil, fmt.Errorf("encode job steps: %w", err)
	}

	const upd = `
		UPDATE processing_jobs SET
			status = $2, progress = $3, current_step = $4, error = $5, steps = $6,
			started_at = $7, completed_at = $8, updated_at = $9
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, upd,
		id, next.Status, next.Progress, next.CurrentStep, next.Error, steps,
		next.StartedAt, next.CompletedAt, next.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("job update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return next, nil
}
