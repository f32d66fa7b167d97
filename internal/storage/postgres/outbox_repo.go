package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/video-platform/internal/media/models"
)

// OutboxEntry is a domain event waiting to leave the database.
type OutboxEntry struct {
	Seq         int64           `db:"id"`
	EventID     uuid.UUID       `db:"event_id"`
	EventType   string          `db:"event_type"`
	AggregateID uuid.UUID       `db:"aggregate_id"`
	Payload     json.RawMessage `db:"payload"`
	OccurredAt  time.Time       `db:"occurred_at"`
}

type OutboxRepo struct {
	db *sqlx.DB
}

func NewOutboxRepo(db *sqlx.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// Add writes the event through exec, normally the transaction that changed the aggregate.
// Re-adding an event id is a no-op.
func (r *OutboxRepo) Add(ctx context.Context, exec sqlx.ExecerContext, event models.DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType(), err)
	}

	const q = `
		INSERT INTO outbox (event_id, event_type, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`
	if _, err := exec.ExecContext(ctx, q,
		event.EventID(), event.EventType(), event.AggregateID(), payload, event.OccurredAt(),
	); err != nil {
		return fmt.Errorf("outbox insert: %w", err)
	}
	return nil
}

// GetPending returns unpublished entries in insertion order.
func (r *OutboxRepo) GetPending(ctx context.Context, limit int) ([]OutboxEntry, error) {
	const q = `
		SELECT id, event_id, event_type, aggregate_id, payload, occurred_at
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY id
		LIMIT $1
	`

	entries := make([]OutboxEntry, 0, limit)
	if err := r.db.SelectContext(ctx, &entries, q, limit); err != nil {
		return nil, fmt.Errorf("outbox pending: %w", err)
	}
	return entries, nil
}

func (r *OutboxRepo) MarkProcessed(ctx context.Context, seqs ...int64) error {
	if len(seqs) == 0 {
		return nil
	}

	const q = `UPDATE outbox SET processed_at = NOW() WHERE id = ANY($1) AND processed_at IS NULL`
	if _, err := r.db.ExecContext(ctx, q, seqs); err != nil {
		return fmt.Errorf("outbox mark processed: %w", err)
	}
	return nil
}

func (r *OutboxRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL`); err != nil {
		return 0, fmt.Errorf("outbox count: %w", err)
	}
	return n, nil
}

// PurgeProcessed deletes published entries older than before.
func (r *OutboxRepo) PurgeProcessed(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE processed_at IS NOT NULL AND processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("outbox purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
