package models

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	UploadingStatus  Status = "uploading"
	ProcessingStatus Status = "processing"
	ReadyStatus      Status = "ready"
	FailedStatus     Status = "failed"
	FlaggedStatus    Status = "flagged"
)

type SensitivityStatus string

const (
	SensitivityPending SensitivityStatus = "pending"
	SensitivitySafe    SensitivityStatus = "safe"
	SensitivityFlagged SensitivityStatus = "flagged"
)

// AllowedExtensions lists the container formats accepted at upload init.
var AllowedExtensions = []string{"mp4", "mov", "avi", "mkv", "webm"}

type Video struct {
	ID          uuid.UUID `db:"id" json:"id"`
	OwnerID     string    `db:"owner_id" json:"owner_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Filename    string    `db:"filename" json:"filename"`
	MimeType    string    `db:"mime_type" json:"mime_type"`

	OriginalPath  string `db:"original_path" json:"original_path,omitempty"`
	ProcessedPath string `db:"processed_path" json:"processed_path,omitempty"`
	ThumbnailPath string `db:"thumbnail_path" json:"thumbnail_path,omitempty"`
	HLSPath       string `db:"hls_path" json:"hls_path,omitempty"`
	DASHPath      string `db:"dash_path" json:"dash_path,omitempty"`

	Status             Status            `db:"status" json:"status"`
	ProcessingProgress float64           `db:"processing_progress" json:"processing_progress"`
	SensitivityStatus  SensitivityStatus `db:"sensitivity_status" json:"sensitivity_status"`
	SensitivityScore   *float64          `db:"sensitivity_score" json:"sensitivity_score,omitempty"`
	SensitivityReasons []string          `db:"-" json:"sensitivity_reasons,omitempty"`

	Size       int64   `db:"size" json:"size"`
	Format     string  `db:"format" json:"format"`
	Duration   *int    `db:"duration" json:"duration,omitempty"`
	Resolution *string `db:"resolution" json:"resolution,omitempty"`
	Views      int64   `db:"views" json:"views"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so stored records cannot be mutated through returned values.
func (v *Video) Clone() *Video {
	cp := *v
	if v.SensitivityScore != nil {
		s := *v.SensitivityScore
		cp.SensitivityScore = &s
	}
	if v.Duration != nil {
		d := *v.Duration
		cp.Duration = &d
	}
	if v.Resolution != nil {
		r := *v.Resolution
		cp.Resolution = &r
	}
	if v.SensitivityReasons != nil {
		cp.SensitivityReasons = append([]string(nil), v.SensitivityReasons...)
	}
	return &cp
}
