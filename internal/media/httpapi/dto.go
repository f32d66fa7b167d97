package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/video-platform/internal/media/models"
)

type InitUploadRequest struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mime_type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type InitUploadResponse struct {
	VideoID uuid.UUID     `json:"video_id"`
	Video   VideoResponse `json:"video"`
}

type VideoResponse struct {
	ID                 uuid.UUID                `json:"id"`
	OwnerID            string                   `json:"owner_id"`
	Title              string                   `json:"title"`
	Description        string                   `json:"description"`
	Filename           string                   `json:"filename"`
	Status             models.Status            `json:"status"`
	ProcessingProgress float64                  `json:"processing_progress"`
	SensitivityStatus  models.SensitivityStatus `json:"sensitivity_status"`
	SensitivityScore   *float64                 `json:"sensitivity_score,omitempty"`
	SensitivityReasons []string                 `json:"sensitivity_reasons,omitempty"`
	Size               int64                    `json:"size"`
	Format             string                   `json:"format"`
	Duration           *int                     `json:"duration,omitempty"`
	Resolution         *string                  `json:"resolution,omitempty"`
	Views              int64                    `json:"views"`
	ThumbnailURL       string                   `json:"thumbnail_url,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

type VideoStatusResponse struct {
	ID                 uuid.UUID                `json:"id"`
	Status             models.Status            `json:"status"`
	ProcessingProgress float64                  `json:"processing_progress"`
	SensitivityStatus  models.SensitivityStatus `json:"sensitivity_status"`
	SensitivityScore   *float64                 `json:"sensitivity_score,omitempty"`
}

type JobResponse struct {
	ID          uuid.UUID        `json:"id"`
	Type        string           `json:"type"`
	Status      models.JobStatus `json:"status"`
	Progress    float64          `json:"progress"`
	CurrentStep string           `json:"current_step,omitempty"`
	Error       string           `json:"error,omitempty"`
	Steps       []models.JobStep `json:"steps"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

type StatusResponse struct {
	Video VideoStatusResponse `json:"video"`
	Jobs  []JobResponse       `json:"jobs"`
}

type TrackRequest struct {
	VideoID  uuid.UUID         `json:"video_id"`
	Event    string            `json:"event"`
	Metadata map[string]string `json:"metadata"`
}

type FlaggedResponse struct {
	Error            string   `json:"error"`
	SensitivityScore *float64 `json:"sensitivity_score,omitempty"`
}

func toVideoResponse(v *models.Video) VideoResponse {
	resp := VideoResponse{
		ID:                 v.ID,
		OwnerID:            v.OwnerID,
		Title:              v.Title,
		Description:        v.Description,
		Filename:           v.Filename,
		Status:             v.Status,
		ProcessingProgress: v.ProcessingProgress,
		SensitivityStatus:  v.SensitivityStatus,
		SensitivityScore:   v.SensitivityScore,
		SensitivityReasons: v.SensitivityReasons,
		Size:               v.Size,
		Format:             v.Format,
		Duration:           v.Duration,
		Resolution:         v.Resolution,
		Views:              v.Views,
		CreatedAt:          v.CreatedAt,
		UpdatedAt:          v.UpdatedAt,
	}
	if v.ThumbnailPath != "" {
		resp.ThumbnailURL = "/videos/" + v.ID.String() + "/thumbnail"
	}
	return resp
}

func toJobResponse(j *models.ProcessingJob) JobResponse {
	return JobResponse{
		ID:          j.ID,
		Type:        "pipeline",
		Status:      j.Status,
		Progress:    j.Progress,
		CurrentStep: j.CurrentStep,
		Error:       j.Error,
		Steps:       j.Steps,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
