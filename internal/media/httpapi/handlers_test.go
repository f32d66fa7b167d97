package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/video-platform/internal/media/cdn"
	"github.com/romariotrain/video-platform/internal/media/events"
	"github.com/romariotrain/video-platform/internal/media/models"
	"github.com/romariotrain/video-platform/internal/media/pipeline"
	"github.com/romariotrain/video-platform/internal/media/repository"
	"github.com/romariotrain/video-platform/internal/media/service"
	"github.com/romariotrain/video-platform/internal/media/upload"
	"github.com/romariotrain/video-platform/internal/metrics"
	"github.com/romariotrain/video-platform/internal/storage/blob"
)

type testServer struct {
	*httptest.Server
	repo   *repository.MemoryRepository
	store  *blob.LocalStore
	events *events.Broadcaster
	proc   *pipeline.Processor
}

func newTestServer(t *testing.T, flagRate float64) *testServer {
	t.Helper()
	repo := repository.NewMemoryRepository()
	store, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	m := metrics.New(nil)
	b := events.NewBroadcaster(512, m, zerolog.Nop())

	sim := pipeline.NewSimulator(store, rand.New(rand.NewSource(1)))
	sim.FlagRate = flagRate
	steps := pipeline.ScaleSteps(pipeline.DefaultSteps(pipeline.Backends{
		Metadata: sim, Sensitivity: sim, Transcoder: sim,
	}), 0.001)
	proc, err := pipeline.NewProcessor(repo, repo.Jobs(), b, pipeline.Config{Steps: steps, ProgressTicks: 2}, m, zerolog.Nop())
	require.NoError(t, err)

	chunks, err := upload.NewAssembler(t.TempDir(), store, m, zerolog.Nop())
	require.NoError(t, err)
	svc, err := service.New(service.Deps{
		Videos:    repo,
		Jobs:      repo.Jobs(),
		Analytics: repo.Analytics(),
		Blobs:     store,
		Chunks:    chunks,
		Pipeline:  proc,
		Cache:     cdn.New(cdn.Config{Capacity: 10, Metrics: m}),
		Metrics:   m,
		Logger:    zerolog.Nop(),
	}, service.Config{MaxUploadBytes: 1 << 20})
	require.NoError(t, err)

	h := New(svc, b, zerolog.Nop())
	h.heartbeat = 20 * time.Millisecond
	srv := httptest.NewServer(NewRouter(h, m.Handler(), zerolog.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = proc.Run(ctx)
	}()
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})

	return &testServer{Server: srv, repo: repo, store: store, events: b, proc: proc}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, hdr map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *testServer) initUpload(t *testing.T, filename string, size int) uuid.UUID {
	t.Helper()
	body := fmt.Sprintf(`{"filename":%q,"size":%d,"title":"Trip"}`, filename, size)
	resp := s.do(t, http.MethodPost, "/uploads", strings.NewReader(body), map[string]string{ownerHeader: "user-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[InitUploadResponse](t, resp).VideoID
}

func (s *testServer) sendChunk(t *testing.T, id uuid.UUID, index, total int, data string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("chunkIndex", fmt.Sprint(index)))
	require.NoError(t, mw.WriteField("totalChunks", fmt.Sprint(total)))
	fw, err := mw.CreateFormFile("chunk", "blob")
	require.NoError(t, err)
	_, err = fw.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return s.do(t, http.MethodPost, "/uploads/"+id.String()+"/chunks", &buf,
		map[string]string{"Content-Type": mw.FormDataContentType()})
}

func (s *testServer) waitStatus(t *testing.T, id uuid.UUID, want models.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		v, err := s.repo.GetByID(context.Background(), id)
		return err == nil && v.Status == want
	}, 5*time.Second, 5*time.Millisecond)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0)
	resp := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestInitUpload_RejectsBadExtension(t *testing.T) {
	s := newTestServer(t, 0)
	resp := s.do(t, http.MethodPost, "/uploads", strings.NewReader(`{"filename":"virus.exe","size":10}`),
		map[string]string{ownerHeader: "user-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/uploads", strings.NewReader(`{`), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadToStream_EndToEnd(t *testing.T) {
	s := newTestServer(t, 0)
	id := s.initUpload(t, "trip.mp4", 12)

	resp := s.sendChunk(t, id, 1, 2, "world!")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[service.ChunkResult](t, resp)
	assert.False(t, first.Complete)
	assert.Equal(t, 50.0, first.Progress)

	resp = s.sendChunk(t, id, 0, 2, "hello ")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[service.ChunkResult](t, resp).Complete)

	s.waitStatus(t, id, models.ReadyStatus)

	resp = s.do(t, http.MethodGet, "/uploads/"+id.String()+"/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[StatusResponse](t, resp)
	assert.Equal(t, models.ReadyStatus, st.Video.Status)
	require.Len(t, st.Jobs, 1)
	assert.Equal(t, 100.0, st.Jobs[0].Progress)
	assert.Len(t, st.Jobs[0].Steps, 5)

	resp = s.do(t, http.MethodGet, "/videos/"+id.String()+"/manifest", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	man := decode[service.Manifest](t, resp)
	assert.Contains(t, man.Formats, "hls")
	assert.Contains(t, man.Formats, "dash")

	resp = s.do(t, http.MethodGet, "/videos/"+id.String()+"/stream?format=hls", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, "public, max-age=3600", resp.Header.Get("Cache-Control"))
	playlist, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(playlist), "#EXTM3U"))

	resp = s.do(t, http.MethodGet, "/videos/"+id.String()+"/stream?format=hls", nil, nil)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	resp = s.do(t, http.MethodGet, "/videos/"+id.String()+"/video", nil, map[string]string{"Range": "bytes=0-4"})
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	part, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(part))

	resp = s.do(t, http.MethodGet, "/videos/"+id.String()+"/thumbnail", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "public, max-age=86400", resp.Header.Get("Cache-Control"))

	resp = s.do(t, http.MethodGet, "/videos/"+id.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), decode[VideoResponse](t, resp).Views)

	resp = s.do(t, http.MethodGet, "/cdn/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[cdn.Stats](t, resp)
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 10, stats.Capacity)
}

func TestStream_FlaggedIsForbiddenWithScore(t *testing.T) {
	s := newTestServer(t, 1)
	id := s.initUpload(t, "trip.webm", 4)
	resp := s.sendChunk(t, id, 0, 1, "data")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	s.waitStatus(t, id, models.FlaggedStatus)

	resp = s.do(t, http.MethodGet, "/videos/"+id.String()+"/stream", nil, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decode[FlaggedResponse](t, resp)
	require.NotNil(t, body.SensitivityScore)
	assert.GreaterOrEqual(t, *body.SensitivityScore, 0.7)
}

func TestStream_NotReady(t *testing.T) {
	s := newTestServer(t, 0)
	id := s.initUpload(t, "trip.mp4", 4)

	resp := s.do(t, http.MethodGet, "/videos/"+id.String()+"/manifest", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/videos/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/videos/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadChunk_RawBodyAndBadParams(t *testing.T) {
	s := newTestServer(t, 0)
	id := s.initUpload(t, "trip.mp4", 8)

	resp := s.do(t, http.MethodPost, "/uploads/"+id.String()+"/chunks?chunkIndex=x&totalChunks=2",
		strings.NewReader("abcd"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/uploads/"+id.String()+"/chunks?chunkIndex=5&totalChunks=2",
		strings.NewReader("abcd"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/uploads/"+id.String()+"/chunks?chunkIndex=0&totalChunks=2",
		strings.NewReader("abcd"), map[string]string{"Content-Type": "application/octet-stream"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[service.ChunkResult](t, resp)
	assert.Equal(t, 1, res.Received)
}

func TestEvents_StreamsAfterSubscribe(t *testing.T) {
	s := newTestServer(t, 0)
	id := s.initUpload(t, "trip.mp4", 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"/videos/"+id.String()+"/events", nil)
	require.NoError(t, err)
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return s.events.Subscribers(id) == 1 }, time.Second, time.Millisecond)

	chunk := s.sendChunk(t, id, 0, 1, "data")
	require.Equal(t, http.StatusOK, chunk.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	var types []string
	for sc.Scan() {
		line := sc.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			types = append(types, name)
			if name == string(events.Completed) {
				break
			}
		}
	}
	require.NotEmpty(t, types)
	assert.Equal(t, string(events.Started), types[0])
	assert.Equal(t, string(events.Completed), types[len(types)-1])
	assert.Contains(t, types, string(events.Progress))
}

func TestTrackEventAndAnalytics(t *testing.T) {
	s := newTestServer(t, 0)
	id := s.initUpload(t, "trip.mp4", 4)

	body := fmt.Sprintf(`{"video_id":%q,"event":"play","metadata":{"position":"12"}}`, id)
	resp := s.do(t, http.MethodPost, "/analytics/track", strings.NewReader(body), map[string]string{ownerHeader: "user-2"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/analytics/track",
		strings.NewReader(fmt.Sprintf(`{"video_id":%q,"event":"dance"}`, id)), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/videos/"+id.String()+"/analytics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[map[string][]models.AnalyticsEvent](t, resp)
	require.Len(t, list["events"], 1)
	assert.Equal(t, "user-2", list["events"][0].UserID)
}

func TestProcess_ResubmitsFailedVideo(t *testing.T) {
	s := newTestServer(t, 0)
	id := s.initUpload(t, "trip.mp4", 4)

	resp := s.do(t, http.MethodPost, "/videos/"+id.String()+"/process", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "still uploading")

	require.Equal(t, http.StatusOK, s.sendChunk(t, id, 0, 1, "data").StatusCode)
	s.waitStatus(t, id, models.ReadyStatus)
	require.Eventually(t, func() bool {
		_, busy := s.proc.Processing()
		return !busy
	}, time.Second, time.Millisecond)

	resp = s.do(t, http.MethodPost, "/videos/"+id.String()+"/process", nil, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	s.waitStatus(t, id, models.ReadyStatus)

	require.Eventually(t, func() bool {
		jobs, err := s.repo.Jobs().ListByVideo(context.Background(), id)
		return err == nil && len(jobs) == 2 && jobs[1].Status == models.JobCompleted
	}, 5*time.Second, 5*time.Millisecond)
}

func TestListVideosByOwner(t *testing.T) {
	s := newTestServer(t, 0)
	s.initUpload(t, "a.mp4", 4)

	resp := s.do(t, http.MethodGet, "/videos", nil, map[string]string{ownerHeader: "user-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[map[string][]VideoResponse](t, resp)["videos"], 1)

	resp = s.do(t, http.MethodGet, "/videos", nil, map[string]string{ownerHeader: "someone-else"})
	assert.Empty(t, decode[map[string][]VideoResponse](t, resp)["videos"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, 0)
	s.initUpload(t, "a.mp4", 4)

	resp := s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pipeline_queue_depth")
}
