package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/video-platform/internal/media/models"
)

type Type string

const (
	Started   Type = "processing:started"
	Step      Type = "processing:step"
	Progress  Type = "processing:progress"
	Completed Type = "processing:completed"
	Error     Type = "processing:error"
)

type Sensitivity struct {
	Status     models.SensitivityStatus `json:"status"`
	Confidence float64                  `json:"confidence"`
	Reasons    []string                 `json:"reasons"`
}

// Event is one processing notification. Only the fields relevant to Type are set.
type Event struct {
	Type    Type      `json:"type"`
	VideoID uuid.UUID `json:"video_id"`
	JobID   uuid.UUID `json:"job_id,omitempty"`

	Step       string           `json:"step,omitempty"`
	Label      string           `json:"label,omitempty"`
	StepStatus models.JobStatus `json:"step_status,omitempty"`

	StepProgress  float64 `json:"step_progress,omitempty"`
	TotalProgress float64 `json:"total_progress,omitempty"`

	Status      models.Status `json:"status,omitempty"`
	Sensitivity *Sensitivity  `json:"sensitivity,omitempty"`

	Message string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}
