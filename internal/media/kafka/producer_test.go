package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedWriter fails with the queued errors, then succeeds.
type scriptedWriter struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	written  []kafkago.Message
	closeErr error
}

func (w *scriptedWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if len(w.errs) > 0 {
		err := w.errs[0]
		w.errs = w.errs[1:]
		return err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *scriptedWriter) Close() error { return w.closeErr }

func testConfig() ProducerConfig {
	cfg := ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "video-events",
		RetryBackoff: time.Millisecond,
		Logger:       zerolog.Nop(),
	}
	setDefaults(&cfg)
	return cfg
}

func TestNewProducer_AppliesDefaults(t *testing.T) {
	p, err := NewProducer(ProducerConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "video-events",
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	assert.Equal(t, "video-events", p.config.Topic)
	assert.Equal(t, 3, p.config.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, p.config.RetryBackoff)
	assert.Equal(t, 10*time.Second, p.config.WriteTimeout)
	assert.Equal(t, 100, p.config.BatchSize)
	assert.False(t, p.config.Async)
}

func TestNewProducer_KeepsExplicitValues(t *testing.T) {
	p, err := NewProducer(ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "video-events",
		MaxRetries:   5,
		RetryBackoff: 200 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		BatchSize:    50,
		Async:        true,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	assert.Equal(t, 5, p.config.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, p.config.RetryBackoff)
	assert.Equal(t, 5*time.Second, p.config.WriteTimeout)
	assert.Equal(t, 50, p.config.BatchSize)
	assert.True(t, p.config.Async)
}

func TestNewProducer_Validation(t *testing.T) {
	base := func(mut func(*ProducerConfig)) ProducerConfig {
		cfg := ProducerConfig{Brokers: []string{"localhost:9092"}, Topic: "t", Logger: zerolog.Nop()}
		mut(&cfg)
		return cfg
	}

	tests := []struct {
		name    string
		config  ProducerConfig
		wantErr string
	}{
		{"empty brokers", base(func(c *ProducerConfig) { c.Brokers = nil }), "brokers list is empty"},
		{"empty topic", base(func(c *ProducerConfig) { c.Topic = "" }), "topic is empty"},
		{"negative retries", base(func(c *ProducerConfig) { c.MaxRetries = -1 }), "max_retries cannot be negative"},
		{"negative backoff", base(func(c *ProducerConfig) { c.RetryBackoff = -time.Second }), "retry_backoff cannot be negative"},
		{"negative timeout", base(func(c *ProducerConfig) { c.WriteTimeout = -time.Second }), "write_timeout cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProducer(tt.config)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsRetriableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retriable bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"wrapped canceled", errors.Join(errors.New("write"), context.Canceled), false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"leader not available", kafkago.LeaderNotAvailable, true},
		{"message too large", kafkago.MessageSizeTooLarge, false},
		{"authorization", errors.New("topic authorization failed"), false},
		{"invalid payload", errors.New("invalid message format"), false},
		{"unknown", errors.New("something odd"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retriable, isRetriableError(tt.err))
		})
	}
}

func TestPublish_RetriesTransientErrors(t *testing.T) {
	w := &scriptedWriter{errs: []error{
		errors.New("connection reset by peer"),
		kafkago.LeaderNotAvailable,
	}}
	p := newProducer(w, testConfig())

	err := p.Publish(context.Background(), "video-1", []byte(`{"status":"ready"}`))
	require.NoError(t, err)

	assert.Equal(t, 3, w.calls)
	require.Len(t, w.written, 1)
	assert.Equal(t, "video-1", string(w.written[0].Key))

	m := p.GetMetrics()
	assert.Equal(t, int64(1), m.MessagesPublished)
	assert.Equal(t, int64(2), m.RetriesTotal)
	assert.Zero(t, m.MessagesFailed)
}

func TestPublish_GivesUpAfterMaxRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	w := &scriptedWriter{errs: []error{
		errors.New("i/o timeout"), errors.New("i/o timeout"), errors.New("i/o timeout"), errors.New("i/o timeout"),
	}}
	p := newProducer(w, cfg)

	err := p.Publish(context.Background(), "k", []byte("v"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "i/o timeout")
	assert.Equal(t, 3, w.calls)
	assert.Equal(t, int64(1), p.GetMetrics().MessagesFailed)
}

func TestPublish_PermanentErrorIsNotRetried(t *testing.T) {
	w := &scriptedWriter{errs: []error{kafkago.MessageSizeTooLarge}}
	p := newProducer(w, testConfig())

	err := p.Publish(context.Background(), "k", []byte("v"))
	require.ErrorIs(t, err, kafkago.MessageSizeTooLarge)
	assert.Equal(t, 1, w.calls)
	assert.Zero(t, p.GetMetrics().RetriesTotal)
}

func TestPublish_CancelledDuringBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = time.Hour
	w := &scriptedWriter{errs: []error{errors.New("connection refused")}}
	p := newProducer(w, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Publish(ctx, "k", []byte("v"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, w.calls)
}

func TestPublishBatch_HeadersAndEmpty(t *testing.T) {
	w := &scriptedWriter{}
	p := newProducer(w, testConfig())

	require.NoError(t, p.PublishBatch(context.Background(), nil))
	assert.Zero(t, w.calls)

	err := p.PublishBatch(context.Background(), []Message{
		{Key: "a", Value: []byte("1"), Headers: map[string]string{"event_type": "video.status_changed"}},
		{Key: "b", Value: []byte("2")},
	})
	require.NoError(t, err)
	require.Len(t, w.written, 2)
	require.Len(t, w.written[0].Headers, 1)
	assert.Equal(t, "event_type", w.written[0].Headers[0].Key)
	assert.Equal(t, int64(2), p.GetMetrics().MessagesPublished)
}

func TestGetMetrics_Average(t *testing.T) {
	p := newProducer(&scriptedWriter{}, testConfig())

	p.metrics.PublishDuration.Add(int64(100 * time.Millisecond))
	assert.Zero(t, p.GetMetrics().AvgPublishTime, "no division before the first publish")

	p.metrics.MessagesPublished.Add(10)
	assert.Equal(t, 10*time.Millisecond, p.GetMetrics().AvgPublishTime)
}

func TestProducer_ClosedRejectsWork(t *testing.T) {
	w := &scriptedWriter{}
	p := newProducer(w, testConfig())

	require.NoError(t, p.Close())
	err := p.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already closed")

	require.ErrorIs(t, p.Publish(context.Background(), "k", []byte("v")), ErrClosed)
	require.ErrorIs(t, p.PublishBatch(context.Background(), []Message{{Key: "k"}}), ErrClosed)
	require.ErrorIs(t, p.HealthCheck(context.Background()), ErrClosed)
	assert.Zero(t, w.calls)
}

func TestProducer_CloseReportsWriterError(t *testing.T) {
	p := newProducer(&scriptedWriter{closeErr: errors.New("flush failed")}, testConfig())
	err := p.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush failed")
	assert.True(t, p.closed.Load())
}

func TestHealthCheck_NoBroker(t *testing.T) {
	p := newProducer(&scriptedWriter{}, testConfig())
	p.dial = func(context.Context, string, string) (*kafkago.Conn, error) {
		return nil, errors.New("connection refused")
	}
	err := p.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no broker reachable")
}

func BenchmarkProducer_GetMetrics(b *testing.B) {
	p := newProducer(&scriptedWriter{}, testConfig())
	p.metrics.MessagesPublished.Add(1000)
	p.metrics.PublishDuration.Add(int64(time.Second))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.GetMetrics()
	}
}
