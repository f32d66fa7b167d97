package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/video-platform/internal/media/models"
)

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to models.Status
		ok       bool
	}{
		{models.UploadingStatus, models.ProcessingStatus, true},
		{models.UploadingStatus, models.FailedStatus, true},
		{models.UploadingStatus, models.ReadyStatus, false},
		{models.ProcessingStatus, models.ReadyStatus, true},
		{models.ProcessingStatus, models.FlaggedStatus, true},
		{models.ProcessingStatus, models.FailedStatus, true},
		{models.ProcessingStatus, models.UploadingStatus, false},
		{models.ReadyStatus, models.FailedStatus, false},
		{models.ReadyStatus, models.ProcessingStatus, true},
		{models.FailedStatus, models.ProcessingStatus, true},
		{models.FailedStatus, models.ReadyStatus, false},
		{models.ReadyStatus, models.ReadyStatus, true},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			err := ValidateTransition(tc.from, tc.to)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestValidateJobTransition(t *testing.T) {
	require.NoError(t, ValidateJobTransition(models.JobPending, models.JobProcessing))
	require.NoError(t, ValidateJobTransition(models.JobProcessing, models.JobFailed))
	require.ErrorIs(t, ValidateJobTransition(models.JobCompleted, models.JobProcessing), ErrInvalidTransition)
	require.ErrorIs(t, ValidateJobTransition(models.JobFailed, models.JobCompleted), ErrInvalidTransition)
}

func TestTerminalStatus(t *testing.T) {
	assert.Equal(t, models.FlaggedStatus, TerminalStatus(models.SensitivityFlagged))
	assert.Equal(t, models.ReadyStatus, TerminalStatus(models.SensitivitySafe))
	assert.Equal(t, models.ReadyStatus, TerminalStatus(models.SensitivityPending))
}

func TestTransitionError_NamesTheMove(t *testing.T) {
	err := ValidateTransition(models.UploadingStatus, models.ReadyStatus)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "video", te.Entity)
	assert.Equal(t, "invalid transition: video uploading -> ready", err.Error())
}
