package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"video-transcriber/internal/checkpoint"
	"video-transcriber/internal/domain"
	"video-transcriber/internal/media"
	"video-transcriber/internal/segment"
)

// Progress reports completed and total segment counts after each durably
// persisted checkpoint.
type Progress func(completed, total int)

// Driver walks a job's segments in index order, invoking the transcription
// collaborator per pending segment and persisting a checkpoint after each
// one. The checkpoint is the sole source of truth for resumption: a failure
// at segment k leaves segments [0..k) durably recorded, and a later run
// re-enters at the saved cursor.
type Driver struct {
	checkpoints    *checkpoint.Store
	transcriber    Transcriber
	prober         media.Prober
	fingerprint    func(path string) (string, error)
	segmentSeconds float64
	segmentTimeout time.Duration
	logger         zerolog.Logger
}

// NewDriver wires the driver's collaborators. segmentTimeout bounds each
// transcriber call; zero disables the per-segment deadline.
func NewDriver(
	checkpoints *checkpoint.Store,
	transcriber Transcriber,
	prober media.Prober,
	fingerprint func(path string) (string, error),
	segmentSeconds float64,
	segmentTimeout time.Duration,
	logger zerolog.Logger,
) *Driver {
	return &Driver{
		checkpoints:    checkpoints,
		transcriber:    transcriber,
		prober:         prober,
		fingerprint:    fingerprint,
		segmentSeconds: segmentSeconds,
		segmentTimeout: segmentTimeout,
		logger:         logger,
	}
}

// Run transcribes audioPath segment by segment, resuming from any valid
// checkpoint for the same audio content and parameters, and returns the
// merged transcript.
func (d *Driver) Run(ctx context.Context, jobID, audioPath string, params domain.Params, onProgress Progress) (domain.Transcript, error) {
	fp, err := d.fingerprint(audioPath)
	if err != nil {
		return domain.Transcript{}, &PipelineError{Stage: "transcribing", Message: "fingerprint audio", Err: err}
	}

	cp, err := d.checkpoints.Load(fp)
	if err != nil {
		return domain.Transcript{}, &PipelineError{Stage: "transcribing", Message: "load checkpoint", Err: err}
	}

	paramsHash := HashParams(params)
	if cp != nil && cp.ParamsHash != paramsHash {
		// Cached results were produced under different parameters; reusing
		// them would silently return text transcribed with the old settings.
		d.logger.Info().Str("jobId", jobID).Msg("checkpoint parameter mismatch, starting fresh")
		if err := d.checkpoints.Discard(fp); err != nil {
			return domain.Transcript{}, &PipelineError{Stage: "transcribing", Message: "discard stale checkpoint", Err: err}
		}
		cp = nil
	}

	if cp == nil {
		cp, err = d.freshCheckpoint(ctx, fp, paramsHash, audioPath)
		if err != nil {
			return domain.Transcript{}, err
		}
	} else {
		cp.AudioPath = audioPath
		if cp.Cursor > 0 {
			d.logger.Info().Str("jobId", jobID).
				Int("cursor", cp.Cursor).
				Int("total", cp.TotalSegments).
				Msg("resuming from checkpoint")
		}
	}

	// Segment stubs are re-derived, not stored: the splitter is
	// deterministic over the recorded duration, so indices and offsets are
	// identical on every run.
	stubs, err := segment.Split(cp.AudioDuration, cp.SegmentDuration)
	if err != nil {
		return domain.Transcript{}, &PipelineError{Stage: "transcribing", Message: "split audio", Err: err}
	}
	if len(stubs) != cp.TotalSegments {
		return domain.Transcript{}, &PipelineError{
			Stage:   "transcribing",
			Message: fmt.Sprintf("checkpoint expects %d segments, splitter produced %d", cp.TotalSegments, len(stubs)),
		}
	}

	// Baseline callback: reports how much of the work was already done
	// before this run touched anything.
	if onProgress != nil {
		onProgress(cp.Cursor, cp.TotalSegments)
	}

	for i := cp.Cursor; i < cp.TotalSegments; i++ {
		// Cancellation boundary: never interrupt an in-flight segment, but
		// stop cleanly between segments.
		if err := ctx.Err(); err != nil {
			return domain.Transcript{}, &PipelineError{Stage: "transcribing", Message: "cancelled between segments", Err: err}
		}

		stub := stubs[i]
		result, err := d.transcribeSegment(ctx, audioPath, stub, params)
		if err != nil {
			return domain.Transcript{}, err
		}

		done := stub
		done.Done = true
		done.Text = result.Text
		done.Units = shiftUnits(result.Units, stub.Offset)

		cp.Segments = append(cp.Segments, done)
		cp.Cursor = i + 1
		if err := d.checkpoints.Save(cp); err != nil {
			return domain.Transcript{}, &PipelineError{Stage: "transcribing", Message: "persist checkpoint", Err: err}
		}

		if onProgress != nil {
			onProgress(cp.Cursor, cp.TotalSegments)
		}
	}

	return Merge(cp.Segments), nil
}

// freshCheckpoint probes the audio and builds the initial empty checkpoint.
func (d *Driver) freshCheckpoint(ctx context.Context, fp, paramsHash, audioPath string) (*domain.Checkpoint, error) {
	duration, err := d.prober.Duration(ctx, audioPath)
	if err != nil {
		return nil, &PipelineError{Stage: "transcribing", Message: "probe audio duration", Err: err}
	}

	stubs, err := segment.Split(duration, d.segmentSeconds)
	if err != nil {
		return nil, &PipelineError{Stage: "transcribing", Message: "split audio", Err: err}
	}

	return &domain.Checkpoint{
		Fingerprint:     fp,
		ParamsHash:      paramsHash,
		AudioPath:       audioPath,
		AudioDuration:   duration,
		SegmentDuration: d.segmentSeconds,
		TotalSegments:   len(stubs),
		Cursor:          0,
	}, nil
}

// transcribeSegment invokes the collaborator under the per-segment deadline.
func (d *Driver) transcribeSegment(ctx context.Context, audioPath string, stub domain.Segment, params domain.Params) (SegmentResult, error) {
	segCtx := ctx
	cancel := context.CancelFunc(func() {})
	if d.segmentTimeout > 0 {
		segCtx, cancel = context.WithTimeout(ctx, d.segmentTimeout)
	}
	defer cancel()

	result, err := d.transcriber.Transcribe(segCtx, SegmentRequest{
		AudioPath: audioPath,
		Offset:    stub.Offset,
		Duration:  stub.Duration,
		Language:  params.Language,
		Model:     params.Model,
		Translate: params.Translate,
	})
	if err != nil {
		message := fmt.Sprintf("transcribe segment %d", stub.Index)
		if errors.Is(segCtx.Err(), context.DeadlineExceeded) {
			message = fmt.Sprintf("timeout transcribing segment %d", stub.Index)
		}
		return SegmentResult{}, &PipelineError{Stage: "transcribing", Message: message, Err: err}
	}
	return result, nil
}

// shiftUnits moves segment-local timestamps onto the global audio timeline.
func shiftUnits(units []domain.SegmentUnit, offset float64) []domain.SegmentUnit {
	shifted := make([]domain.SegmentUnit, len(units))
	for i, unit := range units {
		shifted[i] = domain.SegmentUnit{
			Start: unit.Start + offset,
			End:   unit.End + offset,
			Text:  unit.Text,
		}
	}
	return shifted
}

// Merge combines completed segments in index order into one transcript.
// It is pure and re-derivable from a checkpoint at any time, so no
// in-memory accumulator ever holds state a checkpoint does not.
func Merge(segments []domain.Segment) domain.Transcript {
	var pieces []string
	var units []domain.SegmentUnit
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			pieces = append(pieces, text)
		}
		units = append(units, seg.Units...)
	}
	return domain.Transcript{
		Text:  strings.Join(pieces, " "),
		Units: units,
	}
}
