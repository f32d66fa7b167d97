package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/romariotrain/video-platform/internal/media/models"
)

type Metadata struct {
	Duration   int    `json:"duration"`
	Resolution string `json:"resolution"`
	Bitrate    int    `json:"bitrate"`
	Codec      string `json:"codec"`
}

type Sensitivity struct {
	Status     models.SensitivityStatus `json:"status"`
	Confidence float64                  `json:"confidence"`
	Reasons    []string                 `json:"reasons"`
	// Categories holds a 0-100 score per moderation category.
	Categories map[string]float64 `json:"categories,omitempty"`
}

type MetadataExtractor interface {
	ExtractMetadata(ctx context.Context, key string) (Metadata, error)
}

type SensitivityAnalyzer interface {
	AnalyzeSensitivity(ctx context.Context, key string) (Sensitivity, error)
}

// Transcoder produces derived assets for a video and returns their blob keys.
type Transcoder interface {
	Transcode(ctx context.Context, videoID uuid.UUID, sourceKey string) (string, error)
	Thumbnail(ctx context.Context, videoID uuid.UUID, sourceKey string) (string, error)
	PackageHLS(ctx context.Context, videoID uuid.UUID, sourceKey string) (string, error)
	PackageDASH(ctx context.Context, videoID uuid.UUID, sourceKey string) (string, error)
}

// Backends bundles the collaborators the default step table calls.
type Backends struct {
	Metadata    MetadataExtractor
	Sensitivity SensitivityAnalyzer
	Transcoder  Transcoder
}
