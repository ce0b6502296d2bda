package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Extractor produces whisper-ready audio with ffmpeg: 16 kHz mono PCM WAV.
type Extractor struct {
	ffmpegPath string
	runner     Runner
}

// NewExtractor builds an extractor using the given ffmpeg binary.
func NewExtractor(ffmpegPath string, runner Runner) *Extractor {
	return &Extractor{ffmpegPath: ffmpegPath, runner: runner}
}

// ExtractAudio converts the full media file into a WAV at outPath.
func (e *Extractor) ExtractAudio(ctx context.Context, inputPath, outPath string) error {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}

	result, err := e.runner.Run(ctx, e.ffmpegPath, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg audio extraction exit %d: %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// CutSegment writes the [offset, offset+duration) slice of audioPath to
// outPath, re-encoded to the same whisper-ready format.
func (e *Extractor) CutSegment(ctx context.Context, audioPath string, offset, duration float64, outPath string) error {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(offset),
		"-t", formatSeconds(duration),
		"-i", audioPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}

	result, err := e.runner.Run(ctx, e.ffmpegPath, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg segment cut exit %d: %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// formatSeconds renders seconds for ffmpeg CLI arguments.
func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 3, 64)
}
