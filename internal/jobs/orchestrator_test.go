package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"video-transcriber/internal/checkpoint"
	"video-transcriber/internal/config"
	"video-transcriber/internal/domain"
	"video-transcriber/internal/media"
	"video-transcriber/internal/observability"
	"video-transcriber/internal/store"
	"video-transcriber/internal/transcribe"
)

// stubTranscriber delegates segment transcription to injected behavior.
type stubTranscriber struct {
	transcribe func(ctx context.Context, req transcribe.SegmentRequest) (transcribe.SegmentResult, error)
}

func (s *stubTranscriber) Transcribe(ctx context.Context, req transcribe.SegmentRequest) (transcribe.SegmentResult, error) {
	return s.transcribe(ctx, req)
}

// stubProber reports a fixed media duration.
type stubProber struct {
	duration float64
}

func (s *stubProber) Duration(ctx context.Context, path string) (float64, error) {
	return s.duration, nil
}

// stubDownloader simulates yt-dlp by writing a media file into destDir.
type stubDownloader struct {
	fetch func(ctx context.Context, url, destDir string, resume bool) (string, error)
}

func (s *stubDownloader) Fetch(ctx context.Context, url, destDir string, resume bool) (string, error) {
	return s.fetch(ctx, url, destDir, resume)
}

// testHarness bundles the orchestrator with its observable collaborators.
type testHarness struct {
	orchestrator *Orchestrator
	store        *store.JobStore
	events       *EventBus
	outputDir    string
}

// newHarness wires a full orchestrator over in-memory storage and fake
// external tools.
func newHarness(t *testing.T, transcriber transcribe.Transcriber, downloader media.Downloader, duration float64) *testHarness {
	t.Helper()

	jobStore, err := store.NewJobStore(store.OpenMemory(t))
	if err != nil {
		t.Fatalf("NewJobStore() error = %v", err)
	}

	checkpoints := checkpoint.NewStore(t.TempDir())
	driver := transcribe.NewDriver(
		checkpoints,
		transcriber,
		&stubProber{duration: duration},
		media.Fingerprint,
		30,
		0,
		zerolog.Nop(),
	)

	events := NewEventBus(500)
	outputDir := t.TempDir()
	orchestrator := New(Options{
		Store:           jobStore,
		Checkpoints:     checkpoints,
		Downloader:      downloader,
		Driver:          driver,
		Events:          events,
		Metrics:         observability.NewMetrics(prometheus.NewRegistry()),
		MediaDir:        t.TempDir(),
		OutputDir:       outputDir,
		Weights:         config.StageWeights{DownloadEnd: 10, TranscribeEnd: 95},
		DownloadTimeout: 0,
		Logger:          zerolog.Nop(),
	})
	t.Cleanup(orchestrator.Close)

	return &testHarness{
		orchestrator: orchestrator,
		store:        jobStore,
		events:       events,
		outputDir:    outputDir,
	}
}

// waitForStatus polls until the job reaches one of the wanted statuses.
func waitForStatus(t *testing.T, h *testHarness, id string, want ...domain.JobStatus) domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		for _, status := range want {
			if job.Status == status {
				return job
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := h.store.Get(context.Background(), id)
	t.Fatalf("job %s stuck in %q, want one of %v", id, job.Status, want)
	return domain.Job{}
}

// resumeEventually retries Resume while the previous run is still releasing
// its execution slot.
func resumeEventually(t *testing.T, h *testHarness, id string) ResumeOutcome {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		outcome, _, err := h.orchestrator.Resume(context.Background(), id)
		if err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		if outcome != ResumeRejected || time.Now().After(deadline) {
			return outcome
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// writeMediaFile creates an uploaded-file source fixture.
func writeMediaFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("media-"+name), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	return path
}

// TestSubmitUploadedFileRunsToComplete checks the full uploaded-file
// pipeline: segmented transcription, artifact export, terminal record.
func TestSubmitUploadedFileRunsToComplete(t *testing.T) {
	transcriber := &stubTranscriber{
		transcribe: func(ctx context.Context, req transcribe.SegmentRequest) (transcribe.SegmentResult, error) {
			return transcribe.SegmentResult{
				Text:  fmt.Sprintf("part-%v", req.Offset),
				Units: []domain.SegmentUnit{{Start: 0, End: 1, Text: fmt.Sprintf("part-%v", req.Offset)}},
			}, nil
		},
	}
	h := newHarness(t, transcriber, nil, 75)
	mediaPath := writeMediaFile(t, "talk.mp4")

	id, err := h.orchestrator.Submit(context.Background(),
		domain.Source{Kind: domain.SourceUploadedFile, Ref: mediaPath}, domain.Params{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	job := waitForStatus(t, h, id, domain.JobStatusComplete, domain.JobStatusFailed)
	if job.Status != domain.JobStatusComplete {
		t.Fatalf("status = %q, error = %q", job.Status, job.Error)
	}
	if job.Progress != 100 {
		t.Fatalf("progress = %d, want 100", job.Progress)
	}
	if job.Result == nil {
		t.Fatal("complete job has no result")
	}
	if job.Result.Transcript != "part-0 part-30 part-60" {
		t.Fatalf("transcript = %q", job.Result.Transcript)
	}
	if _, err := os.Stat(job.Result.TextPath); err != nil {
		t.Fatalf("text artifact missing: %v", err)
	}
	if _, err := os.Stat(job.Result.SubtitlePath); err != nil {
		t.Fatalf("subtitle artifact missing: %v", err)
	}

	var sawResult bool
	for _, event := range h.events.Since(0) {
		if event.Type == EventTypeResult && event.JobID == id {
			sawResult = true
			if event.TextPath == "" {
				t.Fatal("result event missing text path")
			}
		}
	}
	if !sawResult {
		t.Fatal("no result event published")
	}
}

// TestSubmitValidation checks malformed submissions are rejected up front.
func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, &stubTranscriber{
		transcribe: func(ctx context.Context, req transcribe.SegmentRequest) (transcribe.SegmentResult, error) {
			return transcribe.SegmentResult{}, nil
		},
	}, nil, 30)

	cases := []domain.Source{
		{Kind: domain.SourceURL, Ref: ""},
		{Kind: domain.SourceURL, Ref: "ftp://example.com/clip"},
		{Kind: domain.SourceURL, Ref: "not a url"},
		{Kind: domain.SourceUploadedFile, Ref: ""},
		{Kind: domain.SourceUploadedFile, Ref: "/nonexistent/file.mp4"},
		{Kind: "carrier_pigeon", Ref: "x"},
	}
	for _, source := range cases {
		if _, err := h.orchestrator.Submit(context.Background(), source, domain.Params{}); !errors.Is(err, domain.ErrInvalidParams) {
			t.Fatalf("Submit(%+v) error = %v, want ErrInvalidParams", source, err)
		}
	}
}

// TestSubmitURLDownloadsThenTranscribes checks the URL path routes through
// the downloader with a per-job destination directory.
func TestSubmitURLDownloadsThenTranscribes(t *testing.T) {
	transcriber := &stubTranscriber{
		transcribe: func(ctx context.Context, req transcribe.SegmentRequest) (transcribe.SegmentResult, error) {
			return transcribe.SegmentResult{Text: "ok"}, nil
		},
	}
	var gotDest string
	downloader := &stubDownloader{
		fetch: func(ctx context.Context, url, destDir string, resume bool) (string, error) {
			gotDest = destDir
			path := filepath.Join(destDir, "Fetched Clip.mp4")
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return "", err
			}
			if err := os.WriteFile(path, []byte("downloaded"), 0o644); err != nil {
				return "", err
			}
			return path, nil
		},
	}
	h := newHarness(t, transcriber, downloader, 30)

	id, err := h.orchestrator.Submit(context.Background(),
		domain.Source{Kind: domain.SourceURL, Ref: "https://example.com/v"}, domain.Params{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	job := waitForStatus(t, h, id, domain.JobStatusComplete, domain.JobStatusFailed)
	if job.Status != domain.JobStatusComplete {
		t.Fatalf("status = %q, error = %q", job.Status, job.Error)
	}
	if !strings.Contains(gotDest, id) {
		t.Fatalf("download dir = %q, want per-job directory", gotDest)
	}
	if job.Result == nil || !strings.Contains(job.Result.TextPath, "Fetched Clip") {
		t.Fatalf("result = %+v, want artifact name derived from media title", job.Result)
	}

	var sawDownloading bool
	for _, event := range h.events.Since(0) {
		if event.JobID == id && event.Status == domain.JobStatusDownloading {
			sawDownloading = true
		}
	}
	if !sawDownloading {
		t.Fatal("no downloading status event published")
	}
}

// TestFailureThenResumeCompletes checks the core resume flow: a failure at
// segment k records the error, and resume re-enters at k without repeating
// completed segments.
func TestFailureThenResumeCompletes(t *testing.T) {
	calls := 0
	failOnce := true
	transcriber := &stubTranscriber{
		transcribe: func(ctx context.Context, req transcribe.SegmentRequest) (transcribe.SegmentResult, error) {
			calls++
			if failOnce && req.Offset == 30 {
				failOnce = false
				return transcribe.SegmentResult{}, errors.New("gpu fell over")
			}
			return transcribe.SegmentResult{Text: fmt.Sprintf("part-%v", req.Offset)}, nil
		},
	}
	downloader := &stubDownloader{
		fetch: func(ctx context.Context, url, destDir string, resume bool) (string, error) {
			path := filepath.Join(destDir, "clip.mp4")
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return "", err
			}
			if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
				return "", err
			}
			return path, nil
		},
	}
	h := newHarness(t, transcriber, downloader, 75)

	id, err := h.orchestrator.Submit(context.Background(),
		domain.Source{Kind: domain.SourceURL, Ref: "https://example.com/v"}, domain.Params{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	failed := waitForStatus(t, h, id, domain.JobStatusFailed, domain.JobStatusComplete)
	if failed.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want failed", failed.Status)
	}
	if !strings.Contains(failed.Error, "gpu fell over") {
		t.Fatalf("error detail = %q", failed.Error)
	}
	if calls != 2 {
		t.Fatalf("first run calls = %d, want 2", calls)
	}

	if outcome := resumeEventually(t, h, id); outcome != ResumeStarted {
		t.Fatalf("outcome = %q, want %q", outcome, ResumeStarted)
	}

	job := waitForStatus(t, h, id, domain.JobStatusComplete, domain.JobStatusFailed)
	if job.Status != domain.JobStatusComplete {
		t.Fatalf("status after resume = %q, error = %q", job.Status, job.Error)
	}
	// 2 calls before the failure, 2 for the remaining segments; segment 0 is
	// never re-transcribed.
	if calls != 4 {
		t.Fatalf("total calls = %d, want 4", calls)
	}
	if job.Result.Transcript != "part-0 part-30 part-60" {
		t.Fatalf("transcript = %q", job.Result.Transcript)
	}
}

// TestResumeOutcomes checks not-found, already-finished, and non-resumable
// sources.
func TestResumeOutcomes(t *testing.T) {
	transcriber := &stubTranscriber{
		transcribe: func(ctx context.Context, req transcribe.SegmentRequest) (transcribe.SegmentResult, error) {
			return transcribe.SegmentResult{}, errors.New("always fails")
		},
	}
	h := newHarness(t, transcriber, nil, 30)

	outcome, _, err := h.orchestrator.Resume(context.Background(), "no-such-job")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if outcome != ResumeNotFound {
		t.Fatalf("outcome = %q, want %q", outcome, ResumeNotFound)
	}

	// Uploaded-file jobs cannot be resumed: the source has no durable origin.
	mediaPath := writeMediaFile(t, "talk.mp4")
	id, err := h.orchestrator.Submit(context.Background(),
		domain.Source{Kind: domain.SourceUploadedFile, Ref: mediaPath}, domain.Params{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForStatus(t, h, id, domain.JobStatusFailed)

	outcome, status, err := h.orchestrator.Resume(context.Background(), id)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if outcome != ResumeRejected {
		t.Fatalf("outcome = %q, want %q", outcome, ResumeRejected)
	}
	if status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want failed", status)
	}
}

// TestResumeCompleteJobAlreadyFinished checks resuming a finished job is a
// harmless no-op.
func TestResumeCompleteJobAlreadyFinished(t *testing.T) {
	transcriber := &stubTranscriber{
		transcribe: func(ctx context.Context, req transcribe.SegmentRequest) (transcribe.SegmentResult, error) {
			return transcribe.SegmentResult{Text: "done"}, nil
		},
	}
	h := newHarness(t, transcriber, nil, 30)
	mediaPath := writeMediaFile(t, "talk.mp4")

	id, err := h.orchestrator.Submit(context.Background(),
		domain.Source{Kind: domain.SourceUploadedFile, Ref: mediaPath}, domain.Params{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForStatus(t, h, id, domain.JobStatusComplete)

	outcome, status, err := h.orchestrator.Resume(context.Background(), id)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if outcome != ResumeAlreadyFinished {
		t.Fatalf("outcome = %q, want %q", outcome, ResumeAlreadyFinished)
	}
	if status != domain.JobStatusComplete {
		t.Fatalf("status = %q, want complete", status)
	}
}

// TestConcurrentResumeSingleWinner checks two racing resumes on the same job
// start exactly one pipeline run.
func TestConcurrentResumeSingleWinner(t *testing.T) {
	release := make(chan struct{})
	failFirst := true
	transcriber := &stubTranscriber{
		transcribe: func(ctx context.Context, req transcribe.SegmentRequest) (transcribe.SegmentResult, error) {
			if failFirst {
				failFirst = false
				return transcribe.SegmentResult{}, errors.New("transient")
			}
			<-release
			return transcribe.SegmentResult{Text: "ok"}, nil
		},
	}
	downloader := &stubDownloader{
		fetch: func(ctx context.Context, url, destDir string, resume bool) (string, error) {
			path := filepath.Join(destDir, "clip.mp4")
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return "", err
			}
			if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
				return "", err
			}
			return path, nil
		},
	}
	h := newHarness(t, transcriber, downloader, 30)

	id, err := h.orchestrator.Submit(context.Background(),
		domain.Source{Kind: domain.SourceURL, Ref: "https://example.com/v"}, domain.Params{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForStatus(t, h, id, domain.JobStatusFailed)

	first := resumeEventually(t, h, id)
	second, _, err := h.orchestrator.Resume(context.Background(), id)
	if err != nil {
		t.Fatalf("second Resume() error = %v", err)
	}

	if first != ResumeStarted {
		t.Fatalf("first outcome = %q, want %q", first, ResumeStarted)
	}
	if second != ResumeRejected {
		t.Fatalf("second outcome = %q, want %q (run already in flight)", second, ResumeRejected)
	}

	close(release)
	waitForStatus(t, h, id, domain.JobStatusComplete)
}

// TestCancelWithoutActiveRun checks the sentinel for idle jobs.
func TestCancelWithoutActiveRun(t *testing.T) {
	h := newHarness(t, &stubTranscriber{
		transcribe: func(ctx context.Context, req transcribe.SegmentRequest) (transcribe.SegmentResult, error) {
			return transcribe.SegmentResult{}, nil
		},
	}, nil, 30)

	if err := h.orchestrator.Cancel("idle-job"); !errors.Is(err, ErrNoActiveRun) {
		t.Fatalf("Cancel() error = %v, want ErrNoActiveRun", err)
	}
}

// TestListIncompleteShape checks the startup recovery listing.
func TestListIncompleteShape(t *testing.T) {
	transcriber := &stubTranscriber{
		transcribe: func(ctx context.Context, req transcribe.SegmentRequest) (transcribe.SegmentResult, error) {
			return transcribe.SegmentResult{}, errors.New("always fails")
		},
	}
	h := newHarness(t, transcriber, nil, 30)
	mediaPath := writeMediaFile(t, "talk.mp4")

	id, err := h.orchestrator.Submit(context.Background(),
		domain.Source{Kind: domain.SourceUploadedFile, Ref: mediaPath}, domain.Params{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForStatus(t, h, id, domain.JobStatusFailed)

	ids, err := h.orchestrator.ListIncomplete(context.Background())
	if err != nil {
		t.Fatalf("ListIncomplete() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("incomplete ids = %v, want [%s]", ids, id)
	}
}
