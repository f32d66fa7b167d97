package models

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is anything the outbox can carry to the event bus.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	AggregateID() uuid.UUID
	OccurredAt() time.Time
}

const EventVideoStatusChanged = "video.status_changed"

// VideoStatusChanged records one lifecycle transition of a video.
type VideoStatusChanged struct {
	ID                uuid.UUID         `json:"event_id"`
	VideoID           uuid.UUID         `json:"video_id"`
	OwnerID           string            `json:"owner_id"`
	From              Status            `json:"from"`
	To                Status            `json:"to"`
	SensitivityStatus SensitivityStatus `json:"sensitivity_status,omitempty"`
	SensitivityScore  float64           `json:"sensitivity_score,omitempty"`
	At                time.Time         `json:"occurred_at"`
}

// NewVideoStatusChanged describes the move from prev to next. The verdict is
// only attached once the video reaches a terminal status.
func NewVideoStatusChanged(prev, next *Video, at time.Time) *VideoStatusChanged {
	e := &VideoStatusChanged{
		ID:      uuid.New(),
		VideoID: next.ID,
		OwnerID: next.OwnerID,
		From:    prev.Status,
		To:      next.Status,
		At:      at.UTC(),
	}
	if next.Status == ReadyStatus || next.Status == FlaggedStatus {
		e.SensitivityStatus = next.SensitivityStatus
		e.SensitivityScore = next.SensitivityScore
	}
	return e
}

func (e *VideoStatusChanged) EventID() uuid.UUID     { return e.ID }
func (e *VideoStatusChanged) EventType() string      { return EventVideoStatusChanged }
func (e *VideoStatusChanged) AggregateID() uuid.UUID { return e.VideoID }
func (e *VideoStatusChanged) OccurredAt() time.Time  { return e.At }
