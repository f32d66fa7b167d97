// Package events fans processing notifications out to per-video subscribers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/video-platform/internal/metrics"
)

// Publisher is what the pipeline depends on.
type Publisher interface {
	Publish(videoID uuid.UUID, ev Event)
}

const DefaultBuffer = 32

// Subscription receives the events of one video. Events published before
// Subscribe are never replayed.
type Subscription struct {
	videoID uuid.UUID
	ch      chan Event
	b       *Broadcaster
	once    sync.Once
}

func (s *Subscription) C() <-chan Event    { return s.ch }
func (s *Subscription) VideoID() uuid.UUID { return s.videoID }
func (s *Subscription) Close()             { s.b.Unsubscribe(s) }

// Broadcaster delivers at most once per event to each current subscriber.
// A subscriber whose buffer is full loses the event; Publish never blocks.
type Broadcaster struct {
	mu     sync.RWMutex
	topics map[uuid.UUID]map[*Subscription]struct{}
	buffer int

	clock   func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

var _ Publisher = (*Broadcaster)(nil)

func NewBroadcaster(buffer int, m *metrics.Metrics, logger zerolog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Broadcaster{
		topics:  make(map[uuid.UUID]map[*Subscription]struct{}),
		buffer:  buffer,
		clock:   time.Now,
		logger:  logger.With().Str("component", "broadcaster").Logger(),
		metrics: m,
	}
}

func (b *Broadcaster) Subscribe(videoID uuid.UUID) *Subscription {
	sub := &Subscription{videoID: videoID, ch: make(chan Event, b.buffer), b: b}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[videoID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[videoID] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	sub.once.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if subs, ok := b.topics[sub.videoID]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.topics, sub.videoID)
			}
		}
		close(sub.ch)
	})
}

func (b *Broadcaster) Publish(videoID uuid.UUID, ev Event) {
	ev.VideoID = videoID
	if ev.At.IsZero() {
		ev.At = b.clock()
	}

	// Holding the read lock keeps Unsubscribe from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.topics[videoID] {
		select {
		case sub.ch <- ev:
			b.metrics.EventsPublished.Inc()
		default:
			b.metrics.EventsDropped.Inc()
			b.logger.Debug().
				Str("video_id", videoID.String()).
				Str("type", string(ev.Type)).
				Msg("subscriber buffer full, event dropped")
		}
	}
}

// Subscribers reports how many clients follow videoID.
func (b *Broadcaster) Subscribers(videoID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[videoID])
}
