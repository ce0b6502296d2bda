// Package segment deterministically partitions an audio timeline into
// fixed-duration segments.
package segment

import (
	"errors"
	"fmt"

	"video-transcriber/internal/domain"
)

// ErrEmptyAudio is returned when the source has no audible duration.
var ErrEmptyAudio = errors.New("audio duration is zero")

// Split partitions totalSeconds of audio into segments of segmentSeconds.
// Segments are contiguous, non-overlapping, and cover the full duration; the
// final segment holds the remainder and may be shorter, never longer or
// zero. Identical inputs always yield identical offsets, so segment indices
// stay stable across process restarts.
func Split(totalSeconds, segmentSeconds float64) ([]domain.Segment, error) {
	if segmentSeconds <= 0 {
		return nil, fmt.Errorf("segment duration must be positive, got %v", segmentSeconds)
	}
	if totalSeconds <= 0 {
		return nil, ErrEmptyAudio
	}

	var segments []domain.Segment
	for i := 0; ; i++ {
		offset := float64(i) * segmentSeconds
		if offset >= totalSeconds {
			break
		}
		duration := segmentSeconds
		if remaining := totalSeconds - offset; remaining < duration {
			duration = remaining
		}
		segments = append(segments, domain.Segment{
			Index:    i,
			Offset:   offset,
			Duration: duration,
		})
	}
	return segments, nil
}
