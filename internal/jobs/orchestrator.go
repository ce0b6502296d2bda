// Package jobs contains the job orchestrator: the top-level state machine
// that accepts submissions, drives each job through download, segmented
// transcription, and finalize, and exposes status, resume, and listing
// operations.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"video-transcriber/internal/checkpoint"
	"video-transcriber/internal/config"
	"video-transcriber/internal/domain"
	"video-transcriber/internal/media"
	"video-transcriber/internal/observability"
	"video-transcriber/internal/output"
	"video-transcriber/internal/store"
	"video-transcriber/internal/transcribe"
)

// ErrNoActiveRun is returned by Cancel when no pipeline run is in flight
// for the given id.
var ErrNoActiveRun = errors.New("no active run for job")

// ResumeOutcome is the tri-state result of a resume request.
type ResumeOutcome string

const (
	ResumeStarted         ResumeOutcome = "resumed"
	ResumeNotFound        ResumeOutcome = "not_found"
	ResumeAlreadyFinished ResumeOutcome = "already_finished"
	ResumeRejected        ResumeOutcome = "cannot_resume"
)

// Options wires the orchestrator's collaborators and policy knobs.
type Options struct {
	Store       *store.JobStore
	Checkpoints *checkpoint.Store
	Downloader  media.Downloader
	Driver      *transcribe.Driver
	Events      *EventBus
	Metrics     *observability.Metrics

	// MediaDir caches downloaded media per job id so a resumed job can
	// re-enter at transcribing without refetching.
	MediaDir  string
	OutputDir string

	Weights         config.StageWeights
	DownloadTimeout time.Duration
	Logger          zerolog.Logger
}

// Orchestrator owns the job lifecycle. All job mutation flows through the
// job store's atomic update; the orchestrator adds the per-id execution lock
// that guarantees at most one active pipeline run per job.
type Orchestrator struct {
	opts Options

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an orchestrator from its options.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		opts:   opts,
		active: make(map[string]context.CancelFunc),
	}
}

// Submit validates the request, records a pending job, and starts its
// pipeline asynchronously. The returned id is available immediately;
// pipeline errors surface only through status and details.
func (o *Orchestrator) Submit(ctx context.Context, source domain.Source, params domain.Params) (string, error) {
	if err := validateSubmission(source, &params); err != nil {
		return "", err
	}

	job, err := o.opts.Store.Create(ctx, source, params)
	if err != nil {
		return "", err
	}

	o.opts.Metrics.JobsSubmitted.Inc()
	o.publishStatus(job.ID, domain.JobStatusPending, 0, "job accepted")

	if runCtx, ok := o.tryAcquire(job.ID); ok {
		o.wg.Add(1)
		go o.run(runCtx, job.ID, false)
	}
	return job.ID, nil
}

// Status returns the last durably recorded status and progress.
func (o *Orchestrator) Status(ctx context.Context, id string) (domain.JobStatus, int, error) {
	job, err := o.opts.Store.Get(ctx, id)
	if err != nil {
		return "", 0, err
	}
	return job.Status, job.Progress, nil
}

// Details returns the full job record.
func (o *Orchestrator) Details(ctx context.Context, id string) (domain.Job, error) {
	return o.opts.Store.Get(ctx, id)
}

// ListIncomplete returns the ids of all unfinished jobs, oldest first.
func (o *Orchestrator) ListIncomplete(ctx context.Context) ([]string, error) {
	incomplete, err := o.opts.Store.ListIncomplete(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(incomplete))
	for _, job := range incomplete {
		ids = append(ids, job.ID)
	}
	return ids, nil
}

// Resume restarts an interrupted job from its last checkpoint. Exactly one
// of two concurrent resume calls on the same job wins; the other observes
// ResumeRejected.
func (o *Orchestrator) Resume(ctx context.Context, id string) (ResumeOutcome, domain.JobStatus, error) {
	job, err := o.opts.Store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return ResumeNotFound, "", nil
	}
	if err != nil {
		return "", "", err
	}

	if job.Status.Terminal() {
		return ResumeAlreadyFinished, job.Status, nil
	}
	if !job.Source.Resumable() {
		return ResumeRejected, job.Status, nil
	}

	runCtx, ok := o.tryAcquire(id)
	if !ok {
		return ResumeRejected, job.Status, nil
	}

	updated, err := o.opts.Store.Update(ctx, id, transitionTo(domain.JobStatusResuming, job.Progress))
	if err != nil {
		o.release(id)
		return ResumeRejected, job.Status, nil
	}

	o.opts.Metrics.JobsResumed.Inc()
	o.publishStatus(id, updated.Status, updated.Progress, "resume accepted")

	o.wg.Add(1)
	go o.run(runCtx, id, true)
	return ResumeStarted, updated.Status, nil
}

// Cancel signals the active pipeline run for id to stop at the next segment
// boundary. The job ends up failed and resumable.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	cancel, ok := o.active[id]
	o.mu.Unlock()
	if !ok {
		return ErrNoActiveRun
	}
	cancel()
	return nil
}

// Close cancels all active runs and waits for them to settle.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	for _, cancel := range o.active {
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// tryAcquire claims the per-id execution slot. It fails when a run is
// already in flight for the id.
func (o *Orchestrator) tryAcquire(id string) (context.Context, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.active[id]; exists {
		return nil, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.active[id] = cancel
	return ctx, true
}

// release frees the per-id execution slot.
func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.active[id]; ok {
		cancel()
		delete(o.active, id)
	}
}

// run executes one full pipeline pass for a job: resolve media (download if
// needed), drive segmented transcription, then finalize artifacts.
func (o *Orchestrator) run(ctx context.Context, id string, resume bool) {
	defer o.wg.Done()
	defer o.release(id)

	o.opts.Metrics.ActiveJobs.Inc()
	defer o.opts.Metrics.ActiveJobs.Dec()

	logger := o.opts.Logger.With().Str("jobId", id).Logger()

	job, err := o.opts.Store.Get(ctx, id)
	if err != nil {
		logger.Error().Err(err).Msg("load job for pipeline run")
		return
	}

	audioPath, err := o.resolveMedia(ctx, job, resume)
	if err != nil {
		o.fail(id, logger, err)
		return
	}

	if _, err := o.opts.Store.Update(ctx, id, transitionTo(domain.JobStatusTranscribing, o.opts.Weights.DownloadEnd)); err != nil {
		o.fail(id, logger, err)
		return
	}
	o.publishStatus(id, domain.JobStatusTranscribing, o.opts.Weights.DownloadEnd, "transcription started")

	transcript, err := o.opts.Driver.Run(ctx, id, audioPath, job.Params, o.progressFunc(id))
	if err != nil {
		o.fail(id, logger, err)
		return
	}

	result, err := o.finalize(ctx, id, job, audioPath, transcript)
	if err != nil {
		o.fail(id, logger, err)
		return
	}

	o.opts.Metrics.JobsCompleted.Inc()
	o.opts.Events.Publish(Event{
		JobID:    id,
		Type:     EventTypeResult,
		Status:   domain.JobStatusComplete,
		Progress: 100,
		Message:  "transcript exported",
		TextPath: result.TextPath,
	})
	logger.Info().Str("textPath", result.TextPath).Msg("job complete")
}

// resolveMedia returns the local media path for the job, downloading it for
// URL sources. A resumed job whose earlier download survived re-enters at
// transcribing without refetching.
func (o *Orchestrator) resolveMedia(ctx context.Context, job domain.Job, resume bool) (string, error) {
	if job.Source.Kind == domain.SourceUploadedFile {
		if _, err := os.Stat(job.Source.Ref); err != nil {
			return "", fmt.Errorf("%w: uploaded file missing: %v", domain.ErrSourceUnavailable, err)
		}
		return job.Source.Ref, nil
	}

	destDir := filepath.Join(o.opts.MediaDir, job.ID)
	if resume {
		if cached := cachedMedia(destDir); cached != "" {
			return cached, nil
		}
	}

	if _, err := o.opts.Store.Update(ctx, job.ID, transitionTo(domain.JobStatusDownloading, 0)); err != nil {
		return "", err
	}
	o.publishStatus(job.ID, domain.JobStatusDownloading, job.Progress, "download started")

	dlCtx := ctx
	cancel := context.CancelFunc(func() {})
	if o.opts.DownloadTimeout > 0 {
		dlCtx, cancel = context.WithTimeout(ctx, o.opts.DownloadTimeout)
	}
	defer cancel()

	path, err := o.opts.Downloader.Fetch(dlCtx, job.Source.Ref, destDir, resume)
	if err != nil {
		if errors.Is(dlCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timeout downloading media: %v", domain.ErrSourceUnavailable, err)
		}
		return "", err
	}
	return path, nil
}

// progressFunc maps segment completion into the transcription progress band
// and persists each step. The first callback is the baseline of previously
// checkpointed work; only later callbacks represent new segments.
func (o *Orchestrator) progressFunc(id string) transcribe.Progress {
	first := true
	last := 0
	lastAt := time.Now()
	return func(completed, total int) {
		if total <= 0 {
			return
		}
		if first {
			first = false
			last = completed
			lastAt = time.Now()
			if completed == total {
				o.opts.Metrics.CheckpointCacheHits.Inc()
			}
		} else if completed > last {
			delta := completed - last
			o.opts.Metrics.SegmentsTranscribed.Add(float64(delta))
			o.opts.Metrics.SegmentDuration.Observe(time.Since(lastAt).Seconds() / float64(delta))
			last = completed
			lastAt = time.Now()
		}

		band := o.opts.Weights.TranscribeEnd - o.opts.Weights.DownloadEnd
		percent := o.opts.Weights.DownloadEnd + band*completed/total

		updated, err := o.opts.Store.Update(context.Background(), id, func(job *domain.Job) error {
			if percent > job.Progress {
				job.Progress = percent
			}
			job.CheckpointAt = time.Now().UTC()
			return nil
		})
		if err != nil {
			o.opts.Logger.Error().Err(err).Str("jobId", id).Msg("persist progress")
			return
		}

		o.opts.Events.Publish(Event{
			JobID:    id,
			Type:     EventTypeProgress,
			Status:   updated.Status,
			Progress: updated.Progress,
			Message:  fmt.Sprintf("segment %d/%d complete", completed, total),
		})
	}
}

// finalize writes output artifacts and records the terminal result.
func (o *Orchestrator) finalize(ctx context.Context, id string, job domain.Job, audioPath string, transcript domain.Transcript) (domain.Result, error) {
	o.publishStatus(id, domain.JobStatusTranscribing, o.opts.Weights.TranscribeEnd, "writing artifacts")

	base := filepath.Base(audioPath)
	title := output.SafeTitle(strings.TrimSuffix(base, filepath.Ext(base)))

	outDir := job.Params.OutputDir
	if outDir == "" {
		outDir = o.opts.OutputDir
	}

	result, err := output.WriteArtifacts(filepath.Join(outDir, title), title, transcript, audioPath)
	if err != nil {
		return domain.Result{}, err
	}

	_, err = o.opts.Store.Update(ctx, id, func(j *domain.Job) error {
		if !validTransition(j.Status, domain.JobStatusComplete) {
			return fmt.Errorf("invalid transition: %s -> %s", j.Status, domain.JobStatusComplete)
		}
		j.Status = domain.JobStatusComplete
		j.Progress = 100
		j.Error = ""
		j.Result = &result
		return nil
	})
	if err != nil {
		return domain.Result{}, err
	}
	return result, nil
}

// fail records the error detail and leaves the job failed but intact; the
// checkpoint keeps everything completed so far.
func (o *Orchestrator) fail(id string, logger zerolog.Logger, runErr error) {
	o.opts.Metrics.JobsFailed.Inc()
	logger.Error().Err(runErr).Msg("pipeline run failed")

	updated, err := o.opts.Store.Update(context.Background(), id, func(job *domain.Job) error {
		if !validTransition(job.Status, domain.JobStatusFailed) {
			return fmt.Errorf("invalid transition: %s -> %s", job.Status, domain.JobStatusFailed)
		}
		job.Status = domain.JobStatusFailed
		job.Error = runErr.Error()
		return nil
	})
	if err != nil {
		// The job keeps its last durably recorded state.
		logger.Error().Err(err).Msg("record job failure")
		return
	}

	o.opts.Events.Publish(Event{
		JobID:    id,
		Type:     EventTypeError,
		Status:   updated.Status,
		Progress: updated.Progress,
		Message:  runErr.Error(),
	})
}

// publishStatus emits a normalized status event.
func (o *Orchestrator) publishStatus(id string, status domain.JobStatus, progress int, message string) {
	o.opts.Events.Publish(Event{
		JobID:    id,
		Type:     EventTypeStatus,
		Status:   status,
		Progress: progress,
		Message:  message,
	})
}

// validateSubmission checks the source and normalizes params.
func validateSubmission(source domain.Source, params *domain.Params) error {
	switch source.Kind {
	case domain.SourceURL:
		ref := strings.TrimSpace(source.Ref)
		if ref == "" {
			return fmt.Errorf("%w: url is required", domain.ErrInvalidParams)
		}
		parsed, err := url.Parse(ref)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("%w: malformed url %q", domain.ErrInvalidParams, ref)
		}
	case domain.SourceUploadedFile:
		if strings.TrimSpace(source.Ref) == "" {
			return fmt.Errorf("%w: file path is required", domain.ErrInvalidParams)
		}
		if _, err := os.Stat(source.Ref); err != nil {
			return fmt.Errorf("%w: uploaded file not readable: %v", domain.ErrInvalidParams, err)
		}
	default:
		return fmt.Errorf("%w: unknown source kind %q", domain.ErrInvalidParams, source.Kind)
	}

	if strings.TrimSpace(params.Language) == "" {
		params.Language = "auto"
	}
	return nil
}

// cachedMedia returns the completed media file under dir, if any.
func cachedMedia(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		return filepath.Join(dir, name)
	}
	return ""
}
