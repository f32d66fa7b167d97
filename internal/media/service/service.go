package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/video-platform/internal/media/cdn"
	"github.com/romariotrain/video-platform/internal/media/models"
	"github.com/romariotrain/video-platform/internal/media/repository"
	"github.com/romariotrain/video-platform/internal/media/upload"
	"github.com/romariotrain/video-platform/internal/metrics"
	"github.com/romariotrain/video-platform/internal/storage/blob"
)

type ViewPolicy string

const (
	// ViewOnGrant counts a view for every successful stream request.
	ViewOnGrant ViewPolicy = "grant"
	// ViewOnMiss counts a view only when the stream was read fresh from storage.
	ViewOnMiss ViewPolicy = "miss"
)

const (
	FormatHLS  = "hls"
	FormatDASH = "dash"
)

// Enqueuer hands a video to the processing worker.
type Enqueuer interface {
	Enqueue(videoID uuid.UUID) bool
}

// Chunks buffers upload chunks until a set is complete.
type Chunks interface {
	SaveChunk(ctx context.Context, videoID uuid.UUID, index, total int, r io.Reader) (upload.Progress, error)
	Assemble(ctx context.Context, videoID uuid.UUID, total int, filename string) (string, error)
	Discard(videoID uuid.UUID)
}

type Deps struct {
	Videos    repository.VideoRepository
	Jobs      repository.JobRepository
	Analytics repository.AnalyticsRepository
	Blobs     blob.Store
	Chunks    Chunks
	Pipeline  Enqueuer
	Cache     *cdn.Cache
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

type Config struct {
	// MaxUploadBytes caps the declared size at init; zero disables the check.
	MaxUploadBytes int64
	ViewPolicy     ViewPolicy
}

type Service struct {
	videos    repository.VideoRepository
	jobs      repository.JobRepository
	analytics repository.AnalyticsRepository
	blobs     blob.Store
	chunks    Chunks
	pipeline  Enqueuer
	cache     *cdn.Cache
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	maxUpload  int64
	viewPolicy ViewPolicy

	clock func() time.Time
	idGen func() uuid.UUID
}

func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Videos == nil || deps.Jobs == nil || deps.Analytics == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Blobs == nil || deps.Chunks == nil {
		return nil, fmt.Errorf("blob store and chunk assembler are required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	switch cfg.ViewPolicy {
	case "":
		cfg.ViewPolicy = ViewOnGrant
	case ViewOnGrant, ViewOnMiss:
	default:
		return nil, fmt.Errorf("unknown view policy %q", cfg.ViewPolicy)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if deps.Cache == nil {
		deps.Cache = cdn.New(cdn.Config{Metrics: deps.Metrics})
	}

	return &Service{
		videos:     deps.Videos,
		jobs:       deps.Jobs,
		analytics:  deps.Analytics,
		blobs:      deps.Blobs,
		chunks:     deps.Chunks,
		pipeline:   deps.Pipeline,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With().Str("component", "media_service").Logger(),
		maxUpload:  cfg.MaxUploadBytes,
		viewPolicy: cfg.ViewPolicy,
		clock:      func() time.Time { return time.Now().UTC() },
		idGen:      uuid.New,
	}, nil
}

type InitUploadInput struct {
	OwnerID     string
	Filename    string
	Size        int64
	MimeType    string
	Title       string
	Description string
}

// InitUpload registers a new video in the uploading state.
func (s *Service) InitUpload(ctx context.Context, in InitUploadInput) (*models.Video, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return nil, models.NewValidationError("owner", "required")
	}
	name := filepath.Base(strings.TrimSpace(in.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, models.NewValidationError("filename", "required")
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if !slices.Contains(models.AllowedExtensions, ext) {
		return nil, models.NewValidationError("filename",
			fmt.Sprintf("unsupported format %q, allowed: %s", ext, strings.Join(models.AllowedExtensions, ", ")))
	}
	if in.Size <= 0 {
		return nil, models.NewValidationError("size", "must be positive")
	}
	if s.maxUpload > 0 && in.Size > s.maxUpload {
		return nil, models.NewValidationError("size", fmt.Sprintf("exceeds limit of %d bytes", s.maxUpload))
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = name
	}

	now := s.clock()
	v := &models.Video{
		ID:                s.idGen(),
		OwnerID:           in.OwnerID,
		Title:             title,
		Description:       in.Description,
		Filename:          name,
		MimeType:          in.MimeType,
		Status:            models.UploadingStatus,
		SensitivityStatus: models.SensitivityPending,
		Size:              in.Size,
		Format:            ext,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.videos.Create(ctx, v); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("video_id", v.ID.String()).
		Str("owner_id", v.OwnerID).
		Str("filename", v.Filename).
		Int64("size", v.Size).
		Msg("upload initialized")
	return v, nil
}

type ChunkResult struct {
	VideoID  uuid.UUID `json:"video_id"`
	Received int       `json:"received"`
	Total    int       `json:"total"`
	Progress float64   `json:"progress"`
	Complete bool      `json:"complete"`
}

// UploadChunk stores one chunk. The chunk that completes the set assembles the
// original, moves the video into processing and queues it.
func (s *Service) UploadChunk(ctx context.Context, videoID uuid.UUID, chunkIndex, totalChunks int, r io.Reader) (*ChunkResult, error) {
	if videoID == uuid.Nil || r == nil {
		return nil, models.ErrInvalidArgument
	}

	v, err := s.videos.GetByID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if v.Status != models.UploadingStatus {
		return nil, fmt.Errorf("%w: video %s is %s and accepts no chunks", models.ErrConflict, videoID, v.Status)
	}

	p, err := s.chunks.SaveChunk(ctx, videoID, chunkIndex, totalChunks, r)
	if err != nil {
		return nil, err
	}
	res := &ChunkResult{
		VideoID:  videoID,
		Received: p.Received,
		Total:    p.Total,
		Progress: p.Percent,
	}
	if !p.Complete {
		return res, nil
	}

	key, err := s.chunks.Assemble(ctx, videoID, totalChunks, v.Filename)
	if err != nil {
		var missing *models.MissingChunkError
		if !errors.As(err, &missing) {
			// Чанки уже удалены, загрузку не восстановить.
			s.failUpload(ctx, videoID, err)
		}
		return nil, err
	}

	if _, err := s.videos.Update(ctx, videoID, func(v *models.Video) error {
		v.OriginalPath = key
		v.Status = models.ProcessingStatus
		v.ProcessingProgress = 0
		return nil
	}); err != nil {
		err = fmt.Errorf("start processing: %w", err)
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Warn().Err(delErr).Str("key", key).Msg("cannot remove orphaned original")
		}
		s.failUpload(ctx, videoID, err)
		return nil, err
	}
	s.pipeline.Enqueue(videoID)

	s.logger.Info().
		Str("video_id", videoID.String()).
		Str("key", key).
		Int("chunks", totalChunks).
		Msg("upload complete, queued for processing")

	res.Complete = true
	return res, nil
}

func (s *Service) failUpload(ctx context.Context, videoID uuid.UUID, cause error) {
	s.logger.Error().Err(cause).Str("video_id", videoID.String()).Msg("assembly failed")
	if _, err := s.videos.Update(context.WithoutCancel(ctx), videoID, func(v *models.Video) error {
		v.Status = models.FailedStatus
		return nil
	}); err != nil {
		s.logger.Error().Err(err).Str("video_id", videoID.String()).Msg("cannot mark upload failed")
	}
}

// Reprocess re-submits a finished video to the pipeline from its first step.
func (s *Service) Reprocess(ctx context.Context, videoID uuid.UUID) (*models.Video, error) {
	if videoID == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}

	var stale []string
	v, err := s.videos.Update(ctx, videoID, func(v *models.Video) error {
		switch v.Status {
		case models.ReadyStatus, models.FlaggedStatus, models.FailedStatus:
		default:
			return fmt.Errorf("%w: video %s is %s", models.ErrConflict, v.ID, v.Status)
		}
		if v.OriginalPath == "" {
			return fmt.Errorf("%w: video %s has no uploaded original", models.ErrConflict, v.ID)
		}
		stale = []string{v.ThumbnailPath, v.HLSPath, v.DASHPath}
		// Старые артефакты не отдаём, пока видео ждёт в очереди.
		v.Status = models.ProcessingStatus
		v.ProcessingProgress = 0
		v.ProcessedPath = ""
		v.ThumbnailPath = ""
		v.HLSPath = ""
		v.DASHPath = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, key := range stale {
		if key != "" {
			s.cache.Invalidate(key)
		}
	}
	queued := s.pipeline.Enqueue(videoID)

	s.logger.Info().
		Str("video_id", videoID.String()).
		Bool("queued", queued).
		Msg("video resubmitted")
	return v, nil
}

// ResumePending re-queues videos left in processing by a previous run of the
// process. It returns how many were queued.
func (s *Service) ResumePending(ctx context.Context) (int, error) {
	all, err := s.videos.ListByOwner(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list videos: %w", err)
	}

	// ListByOwner is newest first; queue oldest first.
	n := 0
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Status == models.ProcessingStatus {
			s.pipeline.Enqueue(all[i].ID)
			n++
		}
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("resumed interrupted processing")
	}
	return n, nil
}

func (s *Service) GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	return s.videos.GetByID(ctx, id)
}

// ListVideos returns the owner's videos, newest first. An empty owner lists everything.
func (s *Service) ListVideos(ctx context.Context, ownerID string) ([]*models.Video, error) {
	return s.videos.ListByOwner(ctx, ownerID)
}

type StatusReport struct {
	Video *models.Video
	Jobs  []*models.ProcessingJob
}

func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*StatusReport, error) {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobs.ListByVideo(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return &StatusReport{Video: v, Jobs: jobs}, nil
}

type Manifest struct {
	VideoID           uuid.UUID                `json:"video_id"`
	Title             string                   `json:"title"`
	Formats           map[string]string        `json:"formats"`
	Thumbnail         string                   `json:"thumbnail,omitempty"`
	Duration          *int                     `json:"duration,omitempty"`
	Resolution        *string                  `json:"resolution,omitempty"`
	SensitivityStatus models.SensitivityStatus `json:"sensitivity_status"`
	Views             int64                    `json:"views"`
}

func (s *Service) GetManifest(ctx context.Context, id uuid.UUID) (*Manifest, error) {
	v, err := s.playable(ctx, id)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		VideoID:           v.ID,
		Title:             v.Title,
		Formats:           make(map[string]string, 2),
		Duration:          v.Duration,
		Resolution:        v.Resolution,
		SensitivityStatus: v.SensitivityStatus,
		Views:             v.Views,
	}
	base := "/videos/" + v.ID.String()
	if v.HLSPath != "" {
		m.Formats[FormatHLS] = base + "/stream?format=" + FormatHLS
	}
	if v.DASHPath != "" {
		m.Formats[FormatDASH] = base + "/stream?format=" + FormatDASH
	}
	if v.ThumbnailPath != "" {
		m.Thumbnail = base + "/thumbnail"
	}
	return m, nil
}

// playable loads a video and refuses anything that is not ready. A flagged
// video yields *models.FlaggedError carrying its score.
func (s *Service) playable(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	switch v.Status {
	case models.ReadyStatus:
		return v, nil
	case models.FlaggedStatus:
		return nil, &models.FlaggedError{Score: v.SensitivityScore}
	default:
		return nil, fmt.Errorf("%w: status is %s", models.ErrNotReady, v.Status)
	}
}

// Asset is a response body served through the CDN cache.
type Asset struct {
	Data        []byte
	ContentType string
	Hit         bool
	Views       int64
}

// OpenStream returns the HLS or DASH manifest of a ready video and counts the
// view according to the configured policy.
func (s *Service) OpenStream(ctx context.Context, id uuid.UUID, format string) (*Asset, error) {
	if format == "" {
		format = FormatHLS
	}
	if format != FormatHLS && format != FormatDASH {
		return nil, models.NewValidationError("format", "must be hls or dash")
	}

	v, err := s.playable(ctx, id)
	if err != nil {
		return nil, err
	}
	key := v.HLSPath
	if format == FormatDASH {
		key = v.DASHPath
	}
	if key == "" {
		return nil, fmt.Errorf("%w: no %s rendition", models.ErrStreamUnavailable, format)
	}

	a, err := s.fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	a.Views = v.Views
	if s.viewPolicy == ViewOnGrant || !a.Hit {
		updated, err := s.videos.IncrementViews(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("count view: %w", err)
		}
		a.Views = updated.Views
	}
	return a, nil
}

// OpenOriginal opens the playable video file for range requests.
func (s *Service) OpenOriginal(ctx context.Context, id uuid.UUID) (blob.Object, *models.Video, error) {
	v, err := s.playable(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	key := v.ProcessedPath
	if key == "" {
		key = v.OriginalPath
	}
	if key == "" {
		return nil, nil, fmt.Errorf("%w: no video file", models.ErrStreamUnavailable)
	}
	obj, err := s.blobs.Open(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return obj, v, nil
}

func (s *Service) GetThumbnail(ctx context.Context, id uuid.UUID) (*Asset, error) {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.ThumbnailPath == "" {
		return nil, fmt.Errorf("thumbnail: %w", models.ErrNotFound)
	}
	return s.fetch(ctx, v.ThumbnailPath)
}

// fetch serves key from the CDN cache, falling back to the blob store and caching the result.
func (s *Service) fetch(ctx context.Context, key string) (*Asset, error) {
	if hit, ok := s.cache.Get(key); ok {
		s.metrics.CacheHits.WithLabelValues(cdn.ClassOf(hit.ContentType)).Inc()
		return &Asset{Data: hit.Data, ContentType: hit.ContentType, Hit: true}, nil
	}

	obj, err := s.blobs.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	ct := obj.Info().ContentType
	if ct == "" {
		ct = blob.ContentTypeFor(key)
	}

	s.cache.Put(key, data, ct)
	s.metrics.CacheMisses.WithLabelValues(cdn.ClassOf(ct)).Inc()
	return &Asset{Data: data, ContentType: ct}, nil
}

type TrackInput struct {
	VideoID  uuid.UUID
	UserID   string
	Kind     models.AnalyticsKind
	Metadata map[string]string
}

// TrackEvent records a player event. A "view" event is stored but never touches
// the view counter, which only stream grants advance.
func (s *Service) TrackEvent(ctx context.Context, in TrackInput) (*models.AnalyticsEvent, error) {
	if in.VideoID == uuid.Nil {
		return nil, models.NewValidationError("videoId", "required")
	}
	if !in.Kind.Valid() {
		return nil, models.NewValidationError("event", fmt.Sprintf("unknown event %q", in.Kind))
	}
	if _, err := s.videos.GetByID(ctx, in.VideoID); err != nil {
		return nil, err
	}

	e := &models.AnalyticsEvent{
		ID:         s.idGen(),
		VideoID:    in.VideoID,
		UserID:     in.UserID,
		Kind:       in.Kind,
		Metadata:   in.Metadata,
		OccurredAt: s.clock(),
	}
	if err := s.analytics.Append(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) ListEvents(ctx context.Context, videoID uuid.UUID) ([]*models.AnalyticsEvent, error) {
	if _, err := s.GetVideo(ctx, videoID); err != nil {
		return nil, err
	}
	return s.analytics.ListByVideo(ctx, videoID)
}

func (s *Service) CacheStats() cdn.Stats {
	return s.cache.Stats()
}
