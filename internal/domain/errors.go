package domain

import "errors"

// Error taxonomy shared across stores, pipeline, and API boundary.
var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidParams is returned when a submission is malformed.
	ErrInvalidParams = errors.New("invalid job parameters")

	// ErrSourceUnavailable wraps download collaborator failures.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrInferenceFailure wraps transcription collaborator failures.
	ErrInferenceFailure = errors.New("inference failure")

	// ErrStorageFailure wraps job or checkpoint store write failures.
	ErrStorageFailure = errors.New("storage failure")
)
