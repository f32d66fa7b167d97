// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Storage struct {
	Driver string
	Root   string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

type Pipeline struct {
	StepScale     float64
	ProgressTicks int
	StepTimeout   time.Duration
	Dedup         string
	Cooldown      time.Duration
}

type CDN struct {
	Capacity     int
	MediaTTL     time.Duration
	ThumbnailTTL time.Duration
}

type Kafka struct {
	Brokers []string
	Topic   string
}

type Outbox struct {
	Interval  time.Duration
	BatchSize int
}

type Config struct {
	HTTPAddr       string
	DatabaseURL    string
	ChunkDir       string
	MaxUploadBytes int64
	ViewPolicy     string
	EventBuffer    int

	Storage  Storage
	Pipeline Pipeline
	CDN      CDN
	Kafka    Kafka
	Outbox   Outbox

	LogLevel  string
	LogFormat string
}

// Load reads .env from the working directory if present, then the environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup and validates it.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}

	cfg := Config{
		HTTPAddr:       r.str("HTTP_ADDR", ":8081"),
		DatabaseURL:    r.str("DATABASE_URL", ""),
		ChunkDir:       r.str("CHUNK_DIR", "./uploads/chunks"),
		MaxUploadBytes: r.int64("MAX_UPLOAD_BYTES", 2<<30),
		ViewPolicy:     r.str("VIEW_POLICY", "grant"),
		EventBuffer:    r.int("EVENT_BUFFER", 32),
		Storage: Storage{
			Driver:         r.str("STORAGE_DRIVER", "local"),
			Root:           r.str("STORAGE_ROOT", "./uploads"),
			MinioEndpoint:  r.str("MINIO_ENDPOINT", ""),
			MinioAccessKey: r.str("MINIO_ACCESS_KEY", ""),
			MinioSecretKey: r.str("MINIO_SECRET_KEY", ""),
			MinioBucket:    r.str("MINIO_BUCKET", "videos"),
			MinioUseSSL:    r.bool("MINIO_USE_SSL", false),
		},
		Pipeline: Pipeline{
			StepScale:     r.float("PIPELINE_STEP_SCALE", 1.0),
			ProgressTicks: r.int("PIPELINE_PROGRESS_TICKS", 10),
			StepTimeout:   r.duration("PIPELINE_STEP_TIMEOUT", 0),
			Dedup:         r.str("PIPELINE_DEDUP", "none"),
			Cooldown:      r.duration("PIPELINE_COOLDOWN", time.Second),
		},
		CDN: CDN{
			Capacity:     r.int("CDN_CAPACITY", 100),
			MediaTTL:     r.duration("CDN_MEDIA_TTL", 24*time.Hour),
			ThumbnailTTL: r.duration("CDN_THUMBNAIL_TTL", 24*time.Hour),
		},
		Kafka: Kafka{
			Brokers: r.list("KAFKA_BROKERS"),
			Topic:   r.str("KAFKA_TOPIC", "video-events"),
		},
		Outbox: Outbox{
			Interval:  r.duration("OUTBOX_INTERVAL", time.Second),
			BatchSize: r.int("OUTBOX_BATCH_SIZE", 100),
		},
		LogLevel:  r.str("LOG_LEVEL", "info"),
		LogFormat: r.str("LOG_FORMAT", "json"),
	}

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.HTTPAddr != "", "HTTP_ADDR is empty")
	check(c.ChunkDir != "", "CHUNK_DIR is empty")
	check(c.MaxUploadBytes > 0, "MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	check(c.ViewPolicy == "grant" || c.ViewPolicy == "miss", "VIEW_POLICY must be grant or miss, got %q", c.ViewPolicy)
	check(c.EventBuffer > 0, "EVENT_BUFFER must be positive, got %d", c.EventBuffer)

	switch c.Storage.Driver {
	case "local":
		check(c.Storage.Root != "", "STORAGE_ROOT is empty")
	case "minio":
		check(c.Storage.MinioEndpoint != "", "MINIO_ENDPOINT is required for the minio driver")
		check(c.Storage.MinioBucket != "", "MINIO_BUCKET is empty")
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be local or minio, got %q", c.Storage.Driver))
	}

	check(c.Pipeline.StepScale > 0, "PIPELINE_STEP_SCALE must be positive, got %v", c.Pipeline.StepScale)
	check(c.Pipeline.ProgressTicks > 0, "PIPELINE_PROGRESS_TICKS must be positive, got %d", c.Pipeline.ProgressTicks)
	check(c.Pipeline.StepTimeout >= 0, "PIPELINE_STEP_TIMEOUT cannot be negative")
	check(c.Pipeline.Cooldown >= 0, "PIPELINE_COOLDOWN cannot be negative")
	check(c.Pipeline.Dedup == "none" || c.Pipeline.Dedup == "pending", "PIPELINE_DEDUP must be none or pending, got %q", c.Pipeline.Dedup)

	check(c.CDN.Capacity > 0, "CDN_CAPACITY must be positive, got %d", c.CDN.Capacity)
	check(c.CDN.MediaTTL > 0, "CDN_MEDIA_TTL must be positive")
	check(c.CDN.ThumbnailTTL > 0, "CDN_THUMBNAIL_TTL must be positive")

	check(c.Outbox.Interval > 0, "OUTBOX_INTERVAL must be positive")
	check(c.Outbox.BatchSize > 0, "OUTBOX_BATCH_SIZE must be positive, got %d", c.Outbox.BatchSize)

	return errors.Join(errs...)
}

// reader collects parse errors so one Load reports every bad variable.
type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *reader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) int64(key string, def int64) int64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (r *reader) bool(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) list(key string) []string {
	v, ok := r.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
