package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/video-platform/internal/media/models"
	"github.com/romariotrain/video-platform/internal/storage/blob"
)

const defaultFlagRate = 0.2

var (
	simulatedResolutions = []string{"1920x1080", "1280x720", "854x480"}
	moderationCategories = []string{"violence", "adult", "hate", "harassment"}
)

type rendition struct {
	name      string
	bandwidth int
	width     int
	height    int
}

var renditions = []rendition{
	{"1080p", 5000000, 1920, 1080},
	{"720p", 2800000, 1280, 720},
	{"480p", 1400000, 854, 480},
}

// Simulator stands in for real media tooling. Outcomes are random but come from
// the injected source, so a seeded Simulator is reproducible.
type Simulator struct {
	store blob.Store

	mu  sync.Mutex
	rng *rand.Rand

	// FlagRate is the probability that a video is flagged as sensitive.
	FlagRate float64
}

func NewSimulator(store blob.Store, rng *rand.Rand) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Simulator{store: store, rng: rng, FlagRate: defaultFlagRate}
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func (s *Simulator) requireSource(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty source key", models.ErrInvalidArgument)
	}
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check source %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("source %s: %w", key, models.ErrNotFound)
	}
	return nil
}

func (s *Simulator) ExtractMetadata(ctx context.Context, key string) (Metadata, error) {
	if err := s.requireSource(ctx, key); err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Duration:   s.intn(600) + 60,
		Resolution: simulatedResolutions[s.intn(len(simulatedResolutions))],
		Bitrate:    s.intn(5000) + 1000,
		Codec:      "h264",
	}, nil
}

func (s *Simulator) AnalyzeSensitivity(ctx context.Context, key string) (Sensitivity, error) {
	if err := s.requireSource(ctx, key); err != nil {
		return Sensitivity{}, err
	}

	res := Sensitivity{
		Status:     models.SensitivitySafe,
		Reasons:    []string{},
		Categories: make(map[string]float64, len(moderationCategories)),
	}
	if s.float() < s.FlagRate {
		res.Status = models.SensitivityFlagged
		res.Reasons = []string{"Potential sensitive content detected", "Manual review recommended"}
	}
	res.Confidence = 0.7 + s.float()*0.3
	for _, c := range moderationCategories {
		res.Categories[c] = s.float() * 100
	}
	return res, nil
}

// Transcode copies the original as the processed rendition.
func (s *Simulator) Transcode(ctx context.Context, videoID uuid.UUID, sourceKey string) (string, error) {
	src, err := s.store.Open(ctx, sourceKey)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	key := blob.ProcessedKey(videoID)
	if err := s.store.Put(ctx, key, src, src.Info().Size, "video/mp4"); err != nil {
		return "", fmt.Errorf("write processed: %w", err)
	}
	return key, nil
}

// Thumbnail renders a flat poster frame tinted from the video id.
func (s *Simulator) Thumbnail(ctx context.Context, videoID uuid.UUID, sourceKey string) (string, error) {
	if err := s.requireSource(ctx, sourceKey); err != nil {
		return "", err
	}

	img := image.NewRGBA(image.Rect(0, 0, 320, 180))
	fill := color.RGBA{R: videoID[0], G: videoID[1], B: videoID[2], A: 0xff}
	for y := 0; y < 180; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}

	key := blob.ThumbnailKey(videoID)
	if err := s.store.Put(ctx, key, &buf, int64(buf.Len()), "image/jpeg"); err != nil {
		return "", fmt.Errorf("write thumbnail: %w", err)
	}
	return key, nil
}

func (s *Simulator) PackageHLS(ctx context.Context, videoID uuid.UUID, sourceKey string) (string, error) {
	if err := s.requireSource(ctx, sourceKey); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, r := range renditions {
		fmt.Fprintf(&buf, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", r.bandwidth, r.width, r.height)
		fmt.Fprintf(&buf, "/videos/%s/video?quality=%s\n", videoID, r.name)
	}

	key := blob.HLSKey(videoID)
	if err := s.store.Put(ctx, key, &buf, int64(buf.Len()), "application/vnd.apple.mpegurl"); err != nil {
		return "", fmt.Errorf("write hls playlist: %w", err)
	}
	return key, nil
}

func (s *Simulator) PackageDASH(ctx context.Context, videoID uuid.UUID, sourceKey string) (string, error) {
	if err := s.requireSource(ctx, sourceKey); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString(`<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static">` + "\n")
	buf.WriteString("  <Period>\n    <AdaptationSet mimeType=\"video/mp4\">\n")
	for _, r := range renditions {
		fmt.Fprintf(&buf, "      <Representation id=%q bandwidth=\"%d\" width=\"%d\" height=\"%d\">\n",
			r.name, r.bandwidth, r.width, r.height)
		fmt.Fprintf(&buf, "        <BaseURL>/videos/%s/video?quality=%s</BaseURL>\n", videoID, r.name)
		buf.WriteString("      </Representation>\n")
	}
	buf.WriteString("    </AdaptationSet>\n  </Period>\n</MPD>\n")

	key := blob.DASHKey(videoID)
	if err := s.store.Put(ctx, key, &buf, int64(buf.Len()), "application/dash+xml"); err != nil {
		return "", fmt.Errorf("write dash manifest: %w", err)
	}
	return key, nil
}
