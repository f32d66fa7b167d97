package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/romariotrain/video-platform/internal/media/models"
	"github.com/romariotrain/video-platform/internal/media/repository"
)

const (
	StepTranscode = "transcode"
	StepThumbnail = "thumbnail"
	StepAnalysis  = "analysis"
	StepHLS       = "hls"
	StepDASH      = "dash"
)

// ApplyFunc runs after a step's work has elapsed. It receives a snapshot of the
// video and returns the mutation to persist, or nil when there is nothing to record.
type ApplyFunc func(ctx context.Context, v *models.Video) (repository.VideoMutation, error)

// Step is one entry of the pipeline's step table.
type Step struct {
	Name     string
	Label    string
	Duration time.Duration
	Apply    ApplyFunc
}

var errNoOriginal = errors.New("video has no original asset")

// sourceKey prefers the processed rendition once it exists.
func sourceKey(v *models.Video) string {
	if v.ProcessedPath != "" {
		return v.ProcessedPath
	}
	return v.OriginalPath
}

// DefaultSteps is the standard table: transcode, thumbnail, analysis, hls, dash.
func DefaultSteps(b Backends) []Step {
	return []Step{
		{
			Name:     StepTranscode,
			Label:    "Transcoding video",
			Duration: 4 * time.Second,
			Apply: func(ctx context.Context, v *models.Video) (repository.VideoMutation, error) {
				if v.OriginalPath == "" {
					return nil, errNoOriginal
				}
				meta, err := b.Metadata.ExtractMetadata(ctx, v.OriginalPath)
				if err != nil {
					return nil, fmt.Errorf("extract metadata: %w", err)
				}
				key, err := b.Transcoder.Transcode(ctx, v.ID, v.OriginalPath)
				if err != nil {
					return nil, err
				}
				return func(v *models.Video) error {
					v.ProcessedPath = key
					v.Duration = &meta.Duration
					v.Resolution = &meta.Resolution
					return nil
				}, nil
			},
		},
		{
			Name:     StepThumbnail,
			Label:    "Generating thumbnail",
			Duration: 2 * time.Second,
			Apply: func(ctx context.Context, v *models.Video) (repository.VideoMutation, error) {
				key, err := b.Transcoder.Thumbnail(ctx, v.ID, sourceKey(v))
				if err != nil {
					return nil, err
				}
				return func(v *models.Video) error {
					v.ThumbnailPath = key
					return nil
				}, nil
			},
		},
		{
			Name:     StepAnalysis,
			Label:    "Analyzing content",
			Duration: 2500 * time.Millisecond,
			Apply: func(ctx context.Context, v *models.Video) (repository.VideoMutation, error) {
				res, err := b.Sensitivity.AnalyzeSensitivity(ctx, sourceKey(v))
				if err != nil {
					return nil, err
				}
				return func(v *models.Video) error {
					score := res.Confidence
					v.SensitivityStatus = res.Status
					v.SensitivityScore = &score
					v.SensitivityReasons = append([]string(nil), res.Reasons...)
					return nil
				}, nil
			},
		},
		{
			Name:     StepHLS,
			Label:    "Creating HLS stream",
			Duration: 3 * time.Second,
			Apply: func(ctx context.Context, v *models.Video) (repository.VideoMutation, error) {
				key, err := b.Transcoder.PackageHLS(ctx, v.ID, sourceKey(v))
				if err != nil {
					return nil, err
				}
				return func(v *models.Video) error {
					v.HLSPath = key
					return nil
				}, nil
			},
		},
		{
			Name:     StepDASH,
			Label:    "Creating DASH stream",
			Duration: 3 * time.Second,
			Apply: func(ctx context.Context, v *models.Video) (repository.VideoMutation, error) {
				key, err := b.Transcoder.PackageDASH(ctx, v.ID, sourceKey(v))
				if err != nil {
					return nil, err
				}
				return func(v *models.Video) error {
					v.DASHPath = key
					return nil
				}, nil
			},
		},
	}
}

// ScaleSteps returns a copy of steps with every duration multiplied by factor.
func ScaleSteps(steps []Step, factor float64) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		s.Duration = time.Duration(float64(s.Duration) * factor)
		out[i] = s
	}
	return out
}

func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("step table is empty")
	}
	seen := make(map[string]struct{}, len(steps))
	for i, s := range steps {
		if s.Name == "" {
			return fmt.Errorf("step %d has no name", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate step %q", s.Name)
		}
		if s.Duration < 0 {
			return fmt.Errorf("step %q has negative duration", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}
