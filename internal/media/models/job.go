package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

type JobStep struct {
	Name        string     `json:"name"`
	Label       string     `json:"label"`
	Status      JobStatus  `json:"status"`
	Progress    float64    `json:"progress"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ProcessingJob is the composite record of one pipeline run over a video.
// It is written only by the pipeline worker.
type ProcessingJob struct {
	ID          uuid.UUID  `json:"id"`
	VideoID     uuid.UUID  `json:"video_id"`
	Status      JobStatus  `json:"status"`
	Progress    float64    `json:"progress"`
	CurrentStep string     `json:"current_step,omitempty"`
	Error       string     `json:"error,omitempty"`
	Steps       []JobStep  `json:"steps"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (j *ProcessingJob) Clone() *ProcessingJob {
	cp := *j
	cp.Steps = make([]JobStep, len(j.Steps))
	copy(cp.Steps, j.Steps)
	return &cp
}

// Step returns the step with the given name, or nil.
func (j *ProcessingJob) Step(name string) *JobStep {
	for i := range j.Steps {
		if j.Steps[i].Name == name {
			return &j.Steps[i]
		}
	}
	return nil
}
