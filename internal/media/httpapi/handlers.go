package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/romariotrain/video-platform/internal/media/domain"
	"github.com/romariotrain/video-platform/internal/media/events"
	"github.com/romariotrain/video-platform/internal/media/models"
	"github.com/romariotrain/video-platform/internal/media/service"
)

const (
	ownerHeader = "X-User-ID"

	maxChunkBytes     = 64 << 20
	multipartMemory   = 8 << 20
	defaultHeartbeat  = 15 * time.Second
	streamCacheMaxAge = "public, max-age=3600"
	thumbCacheMaxAge  = "public, max-age=86400"
)

// EventSource hands out per-video subscriptions to processing events.
type EventSource interface {
	Subscribe(videoID uuid.UUID) *events.Subscription
}

type Handler struct {
	svc       *service.Service
	events    EventSource
	logger    zerolog.Logger
	heartbeat time.Duration
}

func New(svc *service.Service, src EventSource, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:       svc,
		events:    src,
		logger:    logger.With().Str("component", "http").Logger(),
		heartbeat: defaultHeartbeat,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) InitUpload(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req InitUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid json body")
		return
	}

	v, err := h.svc.InitUpload(r.Context(), service.InitUploadInput{
		OwnerID:     r.Header.Get(ownerHeader),
		Filename:    req.Filename,
		Size:        req.Size,
		MimeType:    req.MimeType,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, InitUploadResponse{VideoID: v.ID, Video: toVideoResponse(v)})
}

// UploadChunk accepts either a multipart form with a "chunk" file field or a raw
// body. chunkIndex and totalChunks come from the form or the query string.
func (h *Handler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxChunkBytes)
	defer r.Body.Close()

	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeErrorJSON(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		defer r.MultipartForm.RemoveAll()

		f, _, err := r.FormFile("chunk")
		if err != nil {
			writeErrorJSON(w, http.StatusBadRequest, "missing chunk file")
			return
		}
		defer f.Close()
		body = f
	}

	index, err := strconv.Atoi(r.FormValue("chunkIndex"))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid chunkIndex")
		return
	}
	total, err := strconv.Atoi(r.FormValue("totalChunks"))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid totalChunks")
		return
	}

	res, err := h.svc.UploadChunk(r.Context(), id, index, total, body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeErrorJSON(w, http.StatusRequestEntityTooLarge, "chunk too large")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) UploadStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rep, err := h.svc.GetStatus(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := StatusResponse{
		Video: VideoStatusResponse{
			ID:                 rep.Video.ID,
			Status:             rep.Video.Status,
			ProcessingProgress: rep.Video.ProcessingProgress,
			SensitivityStatus:  rep.Video.SensitivityStatus,
			SensitivityScore:   rep.Video.SensitivityScore,
		},
		Jobs: make([]JobResponse, 0, len(rep.Jobs)),
	}
	for _, j := range rep.Jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Reprocess(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toVideoResponse(v))
}

// ListVideos returns the caller's videos, or every video when no owner header is sent.
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListVideos(r.Context(), r.Header.Get(ownerHeader))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]VideoResponse, 0, len(list))
	for _, v := range list {
		out = append(out, toVideoResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": out})
}

func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.svc.GetVideo(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVideoResponse(v))
}

func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := h.svc.GetManifest(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.OpenStream(r.Context(), id, r.URL.Query().Get("format"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeAsset(w, a, streamCacheMaxAge)
}

func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.GetThumbnail(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeAsset(w, a, thumbCacheMaxAge)
}

// Video serves the playable file with Range support.
func (h *Handler) Video(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	obj, v, err := h.svc.OpenOriginal(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer obj.Close()

	info := obj.Info()
	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, v.Filename, info.ModTime, obj)
}

func (h *Handler) TrackEvent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid json body")
		return
	}

	e, err := h.svc.TrackEvent(r.Context(), service.TrackInput{
		VideoID:  req.VideoID,
		UserID:   r.Header.Get(ownerHeader),
		Kind:     models.AnalyticsKind(req.Event),
		Metadata: req.Metadata,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) VideoAnalytics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListEvents(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.AnalyticsEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": list})
}

func (h *Handler) CDNStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CacheStats())
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func writeAsset(w http.ResponseWriter, a *service.Asset, cacheControl string) {
	cache := "MISS"
	if a.Hit {
		cache = "HIT"
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("X-Cache", cache)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

// writeServiceError переводит доменные ошибки в HTTP-статусы.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		flagged *models.FlaggedError
		missing *models.MissingChunkError
	)
	switch {
	case errors.As(err, &flagged):
		writeJSON(w, http.StatusForbidden, FlaggedResponse{Error: flagged.Error(), SensitivityScore: flagged.Score})
	case errors.As(err, &missing):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "missing chunks", "missing": missing.Missing})
	case errors.Is(err, models.ErrNotFound):
		writeErrorJSON(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrInvalidArgument):
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		writeErrorJSON(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrNotReady):
		writeErrorJSON(w, http.StatusConflict, "video not ready")
	case errors.Is(err, models.ErrStreamUnavailable):
		writeErrorJSON(w, http.StatusNotFound, err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeErrorJSON(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Events streams processing events for one video as Server-Sent Events.
// Only events published after the subscription are delivered.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.GetVideo(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorJSON(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := h.events.Subscribe(id)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	log := hlog.FromRequest(r).With().Str("video_id", id.String()).Logger()
	log.Debug().Msg("event stream opened")

	for {
		select {
		case <-r.Context().Done():
			log.Debug().Msg("event stream closed by client")
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-sub.C():
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Msg("marshal event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
