package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

func NewRouter(h *Handler, metrics http.Handler, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	mux.HandleFunc("POST /uploads", h.InitUpload)
	mux.HandleFunc("POST /uploads/{id}/chunks", h.UploadChunk)
	mux.HandleFunc("GET /uploads/{id}/status", h.UploadStatus)

	mux.HandleFunc("GET /videos", h.ListVideos)
	mux.HandleFunc("GET /videos/{id}", h.GetVideo)
	mux.HandleFunc("POST /videos/{id}/process", h.Process)
	mux.HandleFunc("GET /videos/{id}/manifest", h.Manifest)
	mux.HandleFunc("GET /videos/{id}/stream", h.Stream)
	mux.HandleFunc("GET /videos/{id}/video", h.Video)
	mux.HandleFunc("GET /videos/{id}/thumbnail", h.Thumbnail)
	mux.HandleFunc("GET /videos/{id}/events", h.Events)
	mux.HandleFunc("GET /videos/{id}/analytics", h.VideoAnalytics)

	mux.HandleFunc("POST /analytics/track", h.TrackEvent)
	mux.HandleFunc("GET /cdn/stats", h.CDNStats)

	// Логируем каждый запрос с request id.
	access := hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	})
	return hlog.NewHandler(logger)(
		hlog.RequestIDHandler("req_id", "X-Request-ID")(
			access(mux),
		),
	)
}
