package jobs

import (
	"fmt"

	"video-transcriber/internal/domain"
)

// validTransition enforces the allowed job state machine edges. Status
// transitions are monotonic: complete is terminal, and failed only moves
// forward through resuming.
func validTransition(from, to domain.JobStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case domain.JobStatusPending:
		return to == domain.JobStatusDownloading || to == domain.JobStatusTranscribing ||
			to == domain.JobStatusFailed || to == domain.JobStatusResuming
	case domain.JobStatusDownloading:
		return to == domain.JobStatusTranscribing || to == domain.JobStatusFailed ||
			to == domain.JobStatusResuming
	case domain.JobStatusTranscribing:
		return to == domain.JobStatusComplete || to == domain.JobStatusFailed ||
			to == domain.JobStatusResuming
	case domain.JobStatusResuming:
		return to == domain.JobStatusDownloading || to == domain.JobStatusTranscribing ||
			to == domain.JobStatusFailed
	case domain.JobStatusFailed:
		return to == domain.JobStatusResuming
	case domain.JobStatusComplete:
		return false
	default:
		return false
	}
}

// transitionTo returns a job store mutator that applies one status change,
// rejecting edges outside the state machine. Progress never decreases while
// the job is active.
func transitionTo(status domain.JobStatus, progress int) func(*domain.Job) error {
	return func(job *domain.Job) error {
		if !validTransition(job.Status, status) {
			return fmt.Errorf("invalid transition: %s -> %s", job.Status, status)
		}
		job.Status = status
		if progress > job.Progress {
			job.Progress = progress
		}
		return nil
	}
}
