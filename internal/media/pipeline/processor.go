// Package pipeline runs uploaded videos through an ordered table of processing
// steps on a single background worker, one video at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/video-platform/internal/media/domain"
	"github.com/romariotrain/video-platform/internal/media/events"
	"github.com/romariotrain/video-platform/internal/media/models"
	"github.com/romariotrain/video-platform/internal/media/repository"
	"github.com/romariotrain/video-platform/internal/metrics"
)

type DedupPolicy string

const (
	// DedupNone keeps every enqueue as its own run.
	DedupNone DedupPolicy = "none"
	// DedupPending ignores an enqueue while the same video is queued or processing.
	DedupPending DedupPolicy = "pending"
)

const (
	defaultProgressTicks = 10
	// Overall progress stays below 100 until the job is marked completed.
	maxRunningProgress = 99.0
)

var ErrAlreadyRunning = errors.New("processor already running")

type Config struct {
	Steps         []Step
	ProgressTicks int
	StepTimeout   time.Duration
	Cooldown      time.Duration
	Dedup         DedupPolicy
}

type Processor struct {
	videos  repository.VideoRepository
	jobs    repository.JobRepository
	events  events.Publisher
	metrics *metrics.Metrics
	logger  zerolog.Logger

	steps       []Step
	ticks       int
	stepTimeout time.Duration
	cooldown    time.Duration
	dedup       DedupPolicy

	clock func() time.Time
	idGen func() uuid.UUID

	mu      sync.Mutex
	queue   []uuid.UUID
	pending map[uuid.UUID]int
	current uuid.UUID
	wake    chan struct{}
	running atomic.Bool
}

func NewProcessor(
	videos repository.VideoRepository,
	jobs repository.JobRepository,
	pub events.Publisher,
	cfg Config,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*Processor, error) {
	if videos == nil || jobs == nil {
		return nil, fmt.Errorf("video and job repositories are required")
	}
	if pub == nil {
		return nil, fmt.Errorf("event publisher is required")
	}
	if err := validateSteps(cfg.Steps); err != nil {
		return nil, err
	}
	if cfg.StepTimeout < 0 || cfg.Cooldown < 0 {
		return nil, fmt.Errorf("step timeout and cooldown cannot be negative")
	}
	if cfg.ProgressTicks <= 0 {
		cfg.ProgressTicks = defaultProgressTicks
	}
	switch cfg.Dedup {
	case "":
		cfg.Dedup = DedupNone
	case DedupNone, DedupPending:
	default:
		return nil, fmt.Errorf("unknown dedup policy %q", cfg.Dedup)
	}
	if m == nil {
		m = metrics.New(nil)
	}

	return &Processor{
		videos:      videos,
		jobs:        jobs,
		events:      pub,
		metrics:     m,
		logger:      logger.With().Str("component", "pipeline").Logger(),
		steps:       append([]Step(nil), cfg.Steps...),
		ticks:       cfg.ProgressTicks,
		stepTimeout: cfg.StepTimeout,
		cooldown:    cfg.Cooldown,
		dedup:       cfg.Dedup,
		clock:       func() time.Time { return time.Now().UTC() },
		idGen:       uuid.New,
		pending:     make(map[uuid.UUID]int),
		wake:        make(chan struct{}, 1),
	}, nil
}

// Enqueue appends videoID to the FIFO. It returns false when the dedup policy
// dropped the request.
func (p *Processor) Enqueue(videoID uuid.UUID) bool {
	p.mu.Lock()
	if p.dedup == DedupPending && p.pending[videoID] > 0 {
		p.mu.Unlock()
		p.logger.Debug().Str("video_id", videoID.String()).Msg("already queued, enqueue ignored")
		return false
	}
	p.queue = append(p.queue, videoID)
	p.pending[videoID]++
	depth := len(p.queue)
	p.mu.Unlock()

	p.metrics.QueueDepth.Set(float64(depth))
	p.logger.Info().Str("video_id", videoID.String()).Int("queue_len", depth).Msg("video queued")

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

func (p *Processor) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Processing returns the video the worker is on, if any.
func (p *Processor) Processing() (uuid.UUID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.current != uuid.Nil
}

// Run drains the queue until ctx is cancelled. Cancellation is honoured between
// steps; a step already running finishes unless the step timeout fires.
func (p *Processor) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)

	p.logger.Info().
		Int("steps", len(p.steps)).
		Str("dedup", string(p.dedup)).
		Dur("step_timeout", p.stepTimeout).
		Msg("processing worker started")

	for {
		if err := ctx.Err(); err != nil {
			p.logger.Info().Err(err).Int("queue_len", p.QueueLen()).Msg("processing worker stopped")
			return err
		}

		videoID, ok := p.next()
		if !ok {
			select {
			case <-ctx.Done():
			case <-p.wake:
			}
			continue
		}

		p.process(ctx, videoID)
		p.done(videoID)

		if p.cooldown > 0 && p.QueueLen() > 0 {
			_ = sleepCtx(ctx, p.cooldown)
		}
	}
}

func (p *Processor) next() (uuid.UUID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return uuid.Nil, false
	}
	id := p.queue[0]
	p.queue[0] = uuid.Nil
	p.queue = p.queue[1:]
	p.current = id

	p.metrics.QueueDepth.Set(float64(len(p.queue)))
	p.metrics.ActiveJobs.Set(1)
	return id, true
}

func (p *Processor) done(videoID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = uuid.Nil
	if p.pending[videoID]--; p.pending[videoID] <= 0 {
		delete(p.pending, videoID)
	}
	p.metrics.ActiveJobs.Set(0)
}

// run is the worker's private state for one video.
type run struct {
	videoID  uuid.UUID
	job      *models.ProcessingJob
	progress float64
	log      zerolog.Logger
}

func (p *Processor) process(ctx context.Context, videoID uuid.UUID) {
	// Records are written with a context that outlives shutdown so a run that
	// is cut short still ends in a terminal state.
	wctx := context.WithoutCancel(ctx)
	log := p.logger.With().Str("video_id", videoID.String()).Logger()

	if _, err := p.videos.GetByID(wctx, videoID); err != nil {
		log.Error().Err(err).Msg("cannot load video")
		p.publish(videoID, events.Event{Type: events.Error, Message: err.Error()})
		p.metrics.VideosProcessed.WithLabelValues(string(models.FailedStatus)).Inc()
		return
	}

	now := p.clock()
	job := &models.ProcessingJob{
		ID:        p.idGen(),
		VideoID:   videoID,
		Status:    models.JobProcessing,
		Steps:     make([]models.JobStep, 0, len(p.steps)),
		StartedAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, s := range p.steps {
		job.Steps = append(job.Steps, models.JobStep{Name: s.Name, Label: s.Label, Status: models.JobPending})
	}
	r := &run{
		videoID: videoID,
		job:     job,
		log:     log.With().Str("job_id", job.ID.String()).Logger(),
	}

	if err := p.jobs.Create(wctx, job); err != nil {
		log.Error().Err(err).Msg("cannot create processing job")
		p.publish(videoID, events.Event{Type: events.Error, Message: err.Error()})
		p.markVideoFailed(wctx, r)
		return
	}

	if _, err := p.videos.Update(wctx, videoID, resetForRun); err != nil {
		p.fail(wctx, r, -1, fmt.Errorf("start processing: %w", err))
		return
	}

	r.log.Info().Msg("processing started")
	p.publish(videoID, events.Event{Type: events.Started, JobID: job.ID})

	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.interrupt(wctx, r, err)
			return
		}
		if err := p.runStep(wctx, r, i, step); err != nil {
			p.fail(wctx, r, i, &models.StepError{Step: step.Name, Err: err})
			return
		}
	}

	p.complete(wctx, r)
}

// resetForRun puts the video back at the start of the pipeline. Derived assets
// from an earlier run are forgotten so each path only reappears once its step
// completes again.
func resetForRun(v *models.Video) error {
	v.Status = models.ProcessingStatus
	v.ProcessingProgress = 0
	v.ProcessedPath = ""
	v.ThumbnailPath = ""
	v.HLSPath = ""
	v.DASHPath = ""
	v.SensitivityStatus = models.SensitivityPending
	v.SensitivityScore = nil
	v.SensitivityReasons = nil
	return nil
}

func (p *Processor) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.stepTimeout > 0 {
		return context.WithTimeout(ctx, p.stepTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *Processor) runStep(ctx context.Context, r *run, i int, step Step) (err error) {
	stepCtx, cancel := p.stepContext(ctx)
	defer cancel()

	began := p.clock()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		p.metrics.StepDuration.WithLabelValues(step.Name, outcome).Observe(p.clock().Sub(began).Seconds())
	}()

	st := &r.job.Steps[i]
	st.Status = models.JobProcessing
	st.StartedAt = &began
	r.job.CurrentStep = step.Label
	if err := p.saveJob(ctx, r); err != nil {
		return err
	}

	r.log.Debug().Str("step", step.Name).Msg("step started")
	p.publish(r.videoID, events.Event{
		Type:       events.Step,
		JobID:      r.job.ID,
		Step:       step.Name,
		Label:      step.Label,
		StepStatus: models.JobProcessing,
	})

	interval := step.Duration / time.Duration(p.ticks)
	for k := 1; k <= p.ticks; k++ {
		if err := sleepCtx(stepCtx, interval); err != nil {
			return err
		}

		local := float64(k) / float64(p.ticks)
		st.Progress = local * 100
		p.advance(r, (float64(i)+local)/float64(len(p.steps))*100)

		if err := p.saveJob(ctx, r); err != nil {
			return err
		}
		total := r.progress
		if _, err := p.videos.Update(ctx, r.videoID, func(v *models.Video) error {
			v.ProcessingProgress = total
			return nil
		}); err != nil {
			return fmt.Errorf("record progress: %w", err)
		}

		p.publish(r.videoID, events.Event{
			Type:          events.Progress,
			JobID:         r.job.ID,
			Step:          step.Name,
			Label:         step.Label,
			StepProgress:  st.Progress,
			TotalProgress: total,
		})
	}

	if step.Apply != nil {
		v, err := p.videos.GetByID(ctx, r.videoID)
		if err != nil {
			return fmt.Errorf("reload video: %w", err)
		}
		mutate, err := step.Apply(stepCtx, v)
		if err != nil {
			return err
		}
		if mutate != nil {
			if _, err := p.videos.Update(ctx, r.videoID, mutate); err != nil {
				return fmt.Errorf("apply result: %w", err)
			}
		}
	}

	finished := p.clock()
	st.Status = models.JobCompleted
	st.CompletedAt = &finished
	if err := p.saveJob(ctx, r); err != nil {
		return err
	}

	r.log.Debug().Str("step", step.Name).Dur("took", finished.Sub(began)).Msg("step completed")
	p.publish(r.videoID, events.Event{
		Type:       events.Step,
		JobID:      r.job.ID,
		Step:       step.Name,
		Label:      step.Label,
		StepStatus: models.JobCompleted,
	})
	return nil
}

// advance moves overall progress forward, never back.
func (p *Processor) advance(r *run, total float64) {
	if total > maxRunningProgress {
		total = maxRunningProgress
	}
	if total > r.progress {
		r.progress = total
	}
	r.job.Progress = r.progress
}

func (p *Processor) saveJob(ctx context.Context, r *run) error {
	snapshot := r.job.Clone()
	if _, err := p.jobs.Update(ctx, r.job.ID, func(j *models.ProcessingJob) error {
		*j = *snapshot
		return nil
	}); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (p *Processor) complete(ctx context.Context, r *run) {
	now := p.clock()
	r.job.Status = models.JobCompleted
	r.job.Progress = 100
	r.job.CurrentStep = ""
	r.job.CompletedAt = &now
	if err := p.saveJob(ctx, r); err != nil {
		p.fail(ctx, r, -1, err)
		return
	}

	v, err := p.videos.Update(ctx, r.videoID, func(v *models.Video) error {
		v.Status = domain.TerminalStatus(v.SensitivityStatus)
		v.ProcessingProgress = 100
		return nil
	})
	if err != nil {
		r.log.Error().Err(err).Msg("cannot finalize video")
		p.publish(r.videoID, events.Event{Type: events.Error, JobID: r.job.ID, Message: err.Error()})
		p.metrics.VideosProcessed.WithLabelValues(string(models.FailedStatus)).Inc()
		return
	}

	sens := &events.Sensitivity{Status: v.SensitivityStatus, Reasons: v.SensitivityReasons}
	if v.SensitivityScore != nil {
		sens.Confidence = *v.SensitivityScore
	}

	r.log.Info().
		Str("status", string(v.Status)).
		Str("sensitivity", string(v.SensitivityStatus)).
		Dur("took", now.Sub(*r.job.StartedAt)).
		Msg("processing completed")
	p.publish(r.videoID, events.Event{
		Type:          events.Completed,
		JobID:         r.job.ID,
		Status:        v.Status,
		TotalProgress: 100,
		Sensitivity:   sens,
	})
	p.metrics.VideosProcessed.WithLabelValues(string(v.Status)).Inc()
}

// fail records err on the job and the video. Steps after failedStep stay pending.
// failedStep is -1 when no step was running.
func (p *Processor) fail(ctx context.Context, r *run, failedStep int, err error) {
	now := p.clock()
	msg := err.Error()

	if failedStep >= 0 {
		st := &r.job.Steps[failedStep]
		st.Status = models.JobFailed
		st.Error = msg
		p.publish(r.videoID, events.Event{
			Type:       events.Step,
			JobID:      r.job.ID,
			Step:       st.Name,
			Label:      st.Label,
			StepStatus: models.JobFailed,
		})
	}
	r.job.Status = models.JobFailed
	r.job.Error = msg
	r.job.CompletedAt = &now
	if saveErr := p.saveJob(ctx, r); saveErr != nil {
		r.log.Error().Err(saveErr).Msg("cannot record job failure")
	}

	p.markVideoFailed(ctx, r)

	r.log.Error().Err(err).Float64("progress", r.job.Progress).Msg("processing failed")
	p.publish(r.videoID, events.Event{Type: events.Error, JobID: r.job.ID, Message: msg})
	p.metrics.VideosProcessed.WithLabelValues(string(models.FailedStatus)).Inc()
}

// interrupt closes the job of a run stopped by shutdown. The video stays in
// processing so ResumePending queues it again on the next start.
func (p *Processor) interrupt(ctx context.Context, r *run, cause error) {
	now := p.clock()
	r.job.Status = models.JobFailed
	r.job.Error = fmt.Sprintf("processing interrupted: %v", cause)
	r.job.CompletedAt = &now
	if err := p.saveJob(ctx, r); err != nil {
		r.log.Error().Err(err).Msg("cannot record interrupted job")
	}
	r.log.Warn().Float64("progress", r.job.Progress).Msg("processing interrupted, video left for resume")
}

func (p *Processor) markVideoFailed(ctx context.Context, r *run) {
	if _, err := p.videos.Update(ctx, r.videoID, func(v *models.Video) error {
		v.Status = models.FailedStatus
		return nil
	}); err != nil {
		r.log.Error().Err(err).Msg("cannot mark video failed")
	}
}

func (p *Processor) publish(videoID uuid.UUID, ev events.Event) {
	ev.VideoID = videoID
	ev.At = p.clock()
	p.events.Publish(videoID, ev)
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
