package domain

import (
	"github.com/romariotrain/video-platform/internal/media/models"
)

// CanTransition reports whether a video may move from one lifecycle status to another.
// Terminal states only re-enter processing on an explicit re-submission.
func CanTransition(from, to models.Status) bool {
	switch from {
	case models.UploadingStatus:
		return to == models.ProcessingStatus || to == models.FailedStatus
	case models.ProcessingStatus:
		return to == models.ReadyStatus || to == models.FlaggedStatus || to == models.FailedStatus
	case models.ReadyStatus, models.FlaggedStatus, models.FailedStatus:
		return to == models.ProcessingStatus
	default:
		return false
	}
}

func ValidateTransition(from, to models.Status) error {
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return &TransitionError{Entity: "video", From: string(from), To: string(to)}
	}
	return nil
}

func CanTransitionJob(from, to models.JobStatus) bool {
	switch from {
	case models.JobPending:
		return to == models.JobProcessing || to == models.JobFailed
	case models.JobProcessing:
		return to == models.JobCompleted || to == models.JobFailed
	default:
		return false
	}
}

func ValidateJobTransition(from, to models.JobStatus) error {
	if from == to {
		return nil
	}
	if !CanTransitionJob(from, to) {
		return &TransitionError{Entity: "job", From: string(from), To: string(to)}
	}
	return nil
}

// TerminalStatus picks the final video status once every step succeeded.
func TerminalStatus(s models.SensitivityStatus) models.Status {
	if s == models.SensitivityFlagged {
		return models.FlaggedStatus
	}
	return models.ReadyStatus
}
