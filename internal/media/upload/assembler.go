// Package upload buffers indexed chunks of an upload on local disk and
// assembles them, in index order, into the original asset.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/video-platform/internal/media/models"
	"github.com/romariotrain/video-platform/internal/metrics"
	"github.com/romariotrain/video-platform/internal/storage/blob"
)

const chunkSuffix = ".part"

type Progress struct {
	Received int     `json:"received"`
	Total    int     `json:"total"`
	Percent  float64 `json:"progress"`
	// Complete is true for exactly one SaveChunk call: the one that made the set whole.
	Complete bool `json:"complete"`
}

type chunkSet struct {
	total    int
	received map[int]struct{}
	sealed   bool
}

// Assembler is safe for concurrent use. Writes to distinct chunk slots never
// contend; only bookkeeping is serialized.
type Assembler struct {
	dir   string
	store blob.Store

	mu   sync.Mutex
	sets map[uuid.UUID]*chunkSet

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewAssembler(dir string, store blob.Store, m *metrics.Metrics, logger zerolog.Logger) (*Assembler, error) {
	if dir == "" {
		return nil, fmt.Errorf("chunk dir is empty")
	}
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Assembler{
		dir:     dir,
		store:   store,
		sets:    make(map[uuid.UUID]*chunkSet),
		logger:  logger.With().Str("component", "chunk_assembler").Logger(),
		metrics: m,
	}, nil
}

func (a *Assembler) videoDir(videoID uuid.UUID) string {
	return filepath.Join(a.dir, videoID.String())
}

func (a *Assembler) chunkPath(videoID uuid.UUID, index int) string {
	return filepath.Join(a.videoDir(videoID), strconv.Itoa(index)+chunkSuffix)
}

// SaveChunk stores one chunk. Re-sending an index replaces the earlier bytes.
func (a *Assembler) SaveChunk(ctx context.Context, videoID uuid.UUID, index, total int, r io.Reader) (Progress, error) {
	if total <= 0 {
		return Progress{}, models.NewValidationError("totalChunks", "must be positive")
	}
	if index < 0 || index >= total {
		return Progress{}, models.NewValidationError("chunkIndex", fmt.Sprintf("%d out of range [0,%d)", index, total))
	}
	if err := ctx.Err(); err != nil {
		return Progress{}, err
	}

	a.mu.Lock()
	set, err := a.setLocked(videoID, total)
	if err == nil && set.sealed {
		err = fmt.Errorf("%w: upload %s already complete", models.ErrConflict, videoID)
	}
	a.mu.Unlock()
	if err != nil {
		return Progress{}, err
	}

	writeErr := a.writeChunk(videoID, index, r)

	a.mu.Lock()
	defer a.mu.Unlock()

	set, ok := a.sets[videoID]
	if !ok {
		// Discarded while we were writing; MkdirAll may have brought the directory back.
		_ = os.Remove(a.chunkPath(videoID, index))
		_ = os.Remove(a.videoDir(videoID))
		return Progress{}, fmt.Errorf("%w: upload %s was discarded", models.ErrConflict, videoID)
	}
	if writeErr != nil {
		return Progress{}, writeErr
	}
	a.metrics.ChunksReceived.Inc()
	set.received[index] = struct{}{}

	p := Progress{
		Received: len(set.received),
		Total:    set.total,
		Percent:  float64(len(set.received)) / float64(set.total) * 100,
	}
	if p.Received == p.Total && !set.sealed {
		set.sealed = true
		p.Complete = true
	}
	return p, nil
}

// setLocked returns the bookkeeping for videoID, rebuilding it from disk when the
// process restarted mid-upload.
func (a *Assembler) setLocked(videoID uuid.UUID, total int) (*chunkSet, error) {
	if set, ok := a.sets[videoID]; ok {
		if set.total != total {
			return nil, models.NewValidationError("totalChunks", fmt.Sprintf("expected %d, got %d", set.total, total))
		}
		return set, nil
	}

	set := &chunkSet{total: total, received: make(map[int]struct{})}
	entries, err := os.ReadDir(a.videoDir(videoID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("scan chunk dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, chunkSuffix) {
			continue
		}
		i, convErr := strconv.Atoi(strings.TrimSuffix(name, chunkSuffix))
		if convErr == nil && i >= 0 && i < total {
			set.received[i] = struct{}{}
		}
	}
	a.sets[videoID] = set
	return set, nil
}

func (a *Assembler) writeChunk(videoID uuid.UUID, index int, r io.Reader) error {
	dir := a.videoDir(videoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create chunk dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".chunk-*")
	if err != nil {
		return fmt.Errorf("create chunk: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write chunk %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close chunk %d: %w", index, err)
	}
	if err := os.Rename(tmp.Name(), a.chunkPath(videoID, index)); err != nil {
		return fmt.Errorf("commit chunk %d: %w", index, err)
	}
	return nil
}

// Received reports how many distinct chunks of videoID are stored.
func (a *Assembler) Received(videoID uuid.UUID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if set, ok := a.sets[videoID]; ok {
		return len(set.received)
	}
	return 0
}

// Assemble concatenates chunks 0..total-1 into the original object and returns its key.
// With any chunk absent it fails with *models.MissingChunkError, writes nothing and keeps
// the received chunks so the upload can resume. Once concatenation starts the chunk
// directory is removed whatever the outcome.
func (a *Assembler) Assemble(ctx context.Context, videoID uuid.UUID, total int, filename string) (string, error) {
	if total <= 0 {
		return "", models.NewValidationError("totalChunks", "must be positive")
	}

	var (
		missing []int
		size    int64
	)
	for i := 0; i < total; i++ {
		st, err := os.Stat(a.chunkPath(videoID, i))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				missing = append(missing, i)
				continue
			}
			return "", fmt.Errorf("stat chunk %d: %w", i, err)
		}
		size += st.Size()
	}
	if len(missing) > 0 {
		a.mu.Lock()
		if set, ok := a.sets[videoID]; ok {
			set.sealed = false
		}
		a.mu.Unlock()
		return "", &models.MissingChunkError{VideoID: videoID, Missing: missing}
	}

	defer a.Discard(videoID)

	key := blob.OriginalKey(videoID, filename)
	r := &chunkReader{paths: a.orderedPaths(videoID, total)}
	defer r.Close()

	if err := a.store.Put(ctx, key, r, size, blob.ContentTypeFor(filename)); err != nil {
		return "", fmt.Errorf("assemble %s: %w", videoID, err)
	}

	a.metrics.UploadsDone.Inc()
	a.logger.Info().
		Str("video_id", videoID.String()).
		Int("chunks", total).
		Int64("bytes", size).
		Str("key", key).
		Msg("upload assembled")
	return key, nil
}

func (a *Assembler) orderedPaths(videoID uuid.UUID, total int) []string {
	paths := make([]string, total)
	for i := range paths {
		paths[i] = a.chunkPath(videoID, i)
	}
	return paths
}

// Discard drops every stored chunk of videoID.
func (a *Assembler) Discard(videoID uuid.UUID) {
	a.mu.Lock()
	delete(a.sets, videoID)
	a.mu.Unlock()

	if err := os.RemoveAll(a.videoDir(videoID)); err != nil {
		a.logger.Warn().Err(err).Str("video_id", videoID.String()).Msg("failed to remove chunk dir")
	}
}

// chunkReader streams files one after another, holding at most one open.
type chunkReader struct {
	paths []string
	cur   *os.File
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if len(r.paths) == 0 {
				return 0, io.EOF
			}
			f, err := os.Open(r.paths[0])
			if err != nil {
				return 0, fmt.Errorf("open chunk: %w", err)
			}
			r.cur = f
			r.paths = r.paths[1:]
		}

		n, err := r.cur.Read(p)
		if errors.Is(err, io.EOF) {
			r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *chunkReader) Close() error {
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}
