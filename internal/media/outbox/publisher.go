package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/video-platform/internal/media/kafka"
	"github.com/romariotrain/video-platform/internal/metrics"
	"github.com/romariotrain/video-platform/internal/storage/postgres"
)

// Store is the slice of the outbox table the relay needs.
type Store interface {
	GetPending(ctx context.Context, limit int) ([]postgres.OutboxEntry, error)
	MarkProcessed(ctx context.Context, seqs ...int64) error
}

type Producer interface {
	PublishBatch(ctx context.Context, msgs []kafka.Message) error
}

// Publisher переносит события из outbox таблицы в Kafka.
// Доставка at-least-once: событие может уйти повторно, если отметка в БД не удалась.
type Publisher struct {
	store     Store
	producer  Producer
	interval  time.Duration
	batchSize int
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

type PublisherConfig struct {
	Store     Store
	Producer  Producer
	Interval  time.Duration
	BatchSize int
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Store == nil {
		return nil, errors.New("outbox store is required")
	}
	if cfg.Producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got: %v", cfg.Interval)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got: %d", cfg.BatchSize)
	}

	return &Publisher{
		store:     cfg.Store,
		producer:  cfg.Producer,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With().Str("component", "outbox_publisher").Logger(),
	}, nil
}

// Start polls the outbox every interval until ctx is cancelled.
// A failed round is logged and retried on the next tick.
func (p *Publisher) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().
		Dur("interval", p.interval).
		Int("batch_size", p.batchSize).
		Msg("outbox publisher started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("outbox publisher stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.publishPending(ctx); err != nil {
				p.logger.Error().Err(err).Msg("outbox round failed")
			}
		}
	}
}

// publishPending relays one batch and returns how many entries were published.
// Once an entry of a video fails, later entries of the same video wait for the
// next round so consumers see status changes in order.
func (p *Publisher) publishPending(ctx context.Context) (int, error) {
	entries, err := p.store.GetPending(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending: %w", err)
	}
	if p.metrics != nil {
		p.metrics.OutboxPending.Set(float64(len(entries)))
	}
	if len(entries) == 0 {
		return 0, nil
	}

	blocked := make(map[uuid.UUID]struct{})
	done := make([]int64, 0, len(entries))

	for _, e := range entries {
		log := p.logger.With().
			Int64("seq", e.Seq).
			Str("event_type", e.EventType).
			Str("video_id", e.AggregateID.String()).
			Logger()

		if _, ok := blocked[e.AggregateID]; ok {
			log.Debug().Msg("held back behind a failed event")
			continue
		}

		if err := p.producer.PublishBatch(ctx, []kafka.Message{toMessage(e)}); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Msg("publish failed")
			blocked[e.AggregateID] = struct{}{}
			if p.metrics != nil {
				p.metrics.OutboxFailed.Inc()
			}
			continue
		}
		done = append(done, e.Seq)
	}

	if len(done) > 0 {
		if p.metrics != nil {
			p.metrics.OutboxPublished.Add(float64(len(done)))
		}
		// Не удалось отметить: события уйдут повторно, потребитель должен быть идемпотентным.
		if err := p.store.MarkProcessed(context.WithoutCancel(ctx), done...); err != nil {
			return len(done), fmt.Errorf("mark processed: %w", err)
		}
	}

	p.logger.Info().
		Int("total", len(entries)).
		Int("published", len(done)).
		Int("held", len(entries)-len(done)).
		Msg("outbox batch relayed")

	return len(done), ctx.Err()
}

func toMessage(e postgres.OutboxEntry) kafka.Message {
	return kafka.Message{
		Key:   e.AggregateID.String(),
		Value: e.Payload,
		Headers: map[string]string{
			"event_id":    e.EventID.String(),
			"event_type":  e.EventType,
			"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}
}
