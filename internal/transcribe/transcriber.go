// Package transcribe contains the segment transcription collaborator
// interface, its whisper.cpp implementation, and the checkpoint-driven
// driver that walks a job's segments.
package transcribe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"video-transcriber/internal/domain"
)

// SegmentRequest identifies one audio slice to transcribe. Offset and
// Duration are seconds in the source audio timeline.
type SegmentRequest struct {
	AudioPath string
	Offset    float64
	Duration  float64
	Language  string
	Model     string
	Translate bool
}

// SegmentResult holds one segment's text and its timestamped units with
// segment-local timestamps (starting at zero).
type SegmentResult struct {
	Text  string
	Units []domain.SegmentUnit
}

// Transcriber maps one audio slice to text plus timestamps. Implementations
// are stateless with respect to job progress; the driver owns checkpoints.
type Transcriber interface {
	Transcribe(ctx context.Context, req SegmentRequest) (SegmentResult, error)
}

// PipelineError is a stage-aware error for pipeline failures.
type PipelineError struct {
	Stage   string
	Message string
	Err     error
}

// Error formats pipeline failures for logs and job error detail.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HashParams digests the transcription-relevant parameters. Checkpoints
// store this hash so cached segment results are never reused across a
// language, model, or translate change.
func HashParams(params domain.Params) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%t", params.Language, params.Model, params.Translate)
	return hex.EncodeToString(h.Sum(nil))
}
