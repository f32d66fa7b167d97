package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidArgument   = errors.New("invalid arguments")
	ErrMissingChunk      = errors.New("missing chunk")
	ErrNotReady          = errors.New("video not ready")
	ErrFlagged           = errors.New("video flagged")
	ErrStreamUnavailable = errors.New("stream not available")
)

// ValidationError describes a rejected input field. It matches ErrInvalidArgument.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidArgument }

// MissingChunkError is returned when assembly is attempted before every chunk arrived.
type MissingChunkError struct {
	VideoID uuid.UUID
	Missing []int
}

func (e *MissingChunkError) Error() string {
	idx := make([]string, 0, len(e.Missing))
	for _, i := range e.Missing {
		idx = append(idx, strconv.Itoa(i))
	}
	return fmt.Sprintf("video %s: missing chunks [%s]", e.VideoID, strings.Join(idx, ","))
}

func (e *MissingChunkError) Is(target error) bool { return target == ErrMissingChunk }

// StepError wraps a failure raised by a pipeline step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// FlaggedError carries the sensitivity score of a video that cannot be streamed.
type FlaggedError struct {
	Score *float64
}

func (e *FlaggedError) Error() string {
	return "video contains sensitive content and requires admin approval"
}

func (e *FlaggedError) Is(target error) bool { return target == ErrFlagged }
