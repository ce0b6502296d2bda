package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Prober reports the duration of a media file in seconds.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// FFprobeProber measures duration with ffprobe.
type FFprobeProber struct {
	ffprobePath string
	runner      Runner
}

// NewFFprobeProber builds a prober using the given ffprobe binary.
func NewFFprobeProber(ffprobePath string, runner Runner) *FFprobeProber {
	return &FFprobeProber{ffprobePath: ffprobePath, runner: runner}
}

// Duration runs ffprobe and parses the container duration.
func (p *FFprobeProber) Duration(ctx context.Context, path string) (float64, error) {
	result, err := p.runner.Run(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(result.Stderr))
	}

	raw := strings.TrimSpace(result.Stdout)
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", raw, err)
	}
	return seconds, nil
}
