package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupMap(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := FromLookup(lookupMap(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, "grant", cfg.ViewPolicy)
	assert.Equal(t, 100, cfg.CDN.Capacity)
	assert.Equal(t, 24*time.Hour, cfg.CDN.MediaTTL)
	assert.Equal(t, 10, cfg.Pipeline.ProgressTicks)
	assert.Equal(t, 1.0, cfg.Pipeline.StepScale)
	assert.Equal(t, "none", cfg.Pipeline.Dedup)
	assert.Equal(t, time.Second, cfg.Pipeline.Cooldown)
	assert.Zero(t, cfg.Pipeline.StepTimeout)
	assert.Equal(t, 32, cfg.EventBuffer)
	assert.Nil(t, cfg.Kafka.Brokers)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
}

func TestFromLookup_Overrides(t *testing.T) {
	cfg, err := FromLookup(lookupMap(map[string]string{
		"HTTP_ADDR":             ":9000",
		"STORAGE_DRIVER":        "minio",
		"MINIO_ENDPOINT":        "localhost:9000",
		"MINIO_USE_SSL":         "true",
		"PIPELINE_STEP_SCALE":   "0.01",
		"PIPELINE_DEDUP":        "pending",
		"PIPELINE_STEP_TIMEOUT": "30s",
		"VIEW_POLICY":           "miss",
		"CDN_CAPACITY":          "5",
		"KAFKA_BROKERS":         " kafka-1:9092, ,kafka-2:9092 ",
		"MAX_UPLOAD_BYTES":      "1048576",
		"CHUNK_DIR":             "  ",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.True(t, cfg.Storage.MinioUseSSL)
	assert.Equal(t, 0.01, cfg.Pipeline.StepScale)
	assert.Equal(t, "pending", cfg.Pipeline.Dedup)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.StepTimeout)
	assert.Equal(t, "miss", cfg.ViewPolicy)
	assert.Equal(t, 5, cfg.CDN.Capacity)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(1<<20), cfg.MaxUploadBytes)
	assert.Equal(t, "./uploads/chunks", cfg.ChunkDir, "blank values fall back to defaults")
}

func TestFromLookup_ReportsEveryBadValue(t *testing.T) {
	_, err := FromLookup(lookupMap(map[string]string{
		"CDN_CAPACITY":     "many",
		"CDN_MEDIA_TTL":    "forever",
		"MINIO_USE_SSL":    "perhaps",
		"MAX_UPLOAD_BYTES": "1e9",
	}))
	require.Error(t, err)
	for _, key := range []string{"CDN_CAPACITY", "CDN_MEDIA_TTL", "MINIO_USE_SSL", "MAX_UPLOAD_BYTES"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidate(t *testing.T) {
	valid, err := FromLookup(lookupMap(nil))
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown storage", func(c *Config) { c.Storage.Driver = "s3" }, "STORAGE_DRIVER"},
		{"minio without endpoint", func(c *Config) { c.Storage.Driver = "minio" }, "MINIO_ENDPOINT"},
		{"bad view policy", func(c *Config) { c.ViewPolicy = "sometimes" }, "VIEW_POLICY"},
		{"bad dedup", func(c *Config) { c.Pipeline.Dedup = "always" }, "PIPELINE_DEDUP"},
		{"zero scale", func(c *Config) { c.Pipeline.StepScale = 0 }, "PIPELINE_STEP_SCALE"},
		{"negative timeout", func(c *Config) { c.Pipeline.StepTimeout = -time.Second }, "PIPELINE_STEP_TIMEOUT"},
		{"zero capacity", func(c *Config) { c.CDN.Capacity = 0 }, "CDN_CAPACITY"},
		{"zero upload limit", func(c *Config) { c.MaxUploadBytes = 0 }, "MAX_UPLOAD_BYTES"},
		{"zero batch", func(c *Config) { c.Outbox.BatchSize = 0 }, "OUTBOX_BATCH_SIZE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	require.NoError(t, valid.Validate())
}

func TestLoad_ReadsDotEnvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("CDN_CAPACITY=7\nHTTP_ADDR=:7000\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("HTTP_ADDR", ":6000")
	// godotenv sets variables it loads; make sure the key is restored afterwards.
	t.Setenv("CDN_CAPACITY", "")
	require.NoError(t, os.Unsetenv("CDN_CAPACITY"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.HTTPAddr)
	assert.Equal(t, 7, cfg.CDN.Capacity)
}

func TestLoad_MissingDotEnvIsFine(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	_, err = Load()
	require.NoError(t, err)
}
