package models

import (
	"time"

	"github.com/google/uuid"
)

type AnalyticsKind string

const (
	AnalyticsView     AnalyticsKind = "view"
	AnalyticsPlay     AnalyticsKind = "play"
	AnalyticsPause    AnalyticsKind = "pause"
	AnalyticsComplete AnalyticsKind = "complete"
	AnalyticsBuffer   AnalyticsKind = "buffer"
)

func (k AnalyticsKind) Valid() bool {
	switch k {
	case AnalyticsView, AnalyticsPlay, AnalyticsPause, AnalyticsComplete, AnalyticsBuffer:
		return true
	}
	return false
}

type AnalyticsEvent struct {
	ID         uuid.UUID         `json:"id"`
	VideoID    uuid.UUID         `json:"video_id"`
	UserID     string            `json:"user_id,omitempty"`
	Kind       AnalyticsKind     `json:"event"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"timestamp"`
}
