// Package output renders the merged transcript into plain text and SRT
// subtitle artifacts. Formatting is pure; writing is confined to
// WriteArtifacts.
package output

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"video-transcriber/internal/domain"
)

// SafeTitle folds a media title into a filesystem-safe artifact base name.
func SafeTitle(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	title := strings.TrimSpace(b.String())
	if title == "" {
		return "downloaded_video"
	}
	return title
}

// FormatText returns the plain-text artifact content.
func FormatText(t domain.Transcript) string {
	return strings.TrimSpace(t.Text)
}

// FormatSRT renders timestamped units as SRT cues: 1-based numbering,
// HH:MM:SS,mmm timestamps, blank-line separated.
func FormatSRT(units []domain.SegmentUnit) string {
	var cues []string
	for i, unit := range units {
		cues = append(cues, fmt.Sprintf("%d\n%s --> %s\n%s\n",
			i+1,
			formatTimestamp(unit.Start),
			formatTimestamp(unit.End),
			strings.TrimSpace(unit.Text),
		))
	}
	return strings.Join(cues, "\n")
}

// formatTimestamp renders non-negative seconds as HH:MM:SS,mmm.
func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(math.Round(seconds * 1000))
	hours := totalMillis / 3_600_000
	minutes := (totalMillis % 3_600_000) / 60_000
	secs := (totalMillis % 60_000) / 1000
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// WriteArtifacts writes <title>.txt and <title>.srt under dir, copies the
// source media alongside them, and returns the populated result.
func WriteArtifacts(dir, title string, t domain.Transcript, mediaPath string) (domain.Result, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Result{}, fmt.Errorf("create output directory: %w", err)
	}

	textPath := filepath.Join(dir, title+".txt")
	if err := os.WriteFile(textPath, []byte(FormatText(t)), 0o644); err != nil {
		return domain.Result{}, fmt.Errorf("write transcript text: %w", err)
	}

	srtPath := filepath.Join(dir, title+".srt")
	if err := os.WriteFile(srtPath, []byte(FormatSRT(t.Units)), 0o644); err != nil {
		return domain.Result{}, fmt.Errorf("write subtitles: %w", err)
	}

	result := domain.Result{
		Transcript:   FormatText(t),
		TextPath:     textPath,
		SubtitlePath: srtPath,
	}

	if mediaPath != "" {
		destPath := filepath.Join(dir, title+filepath.Ext(mediaPath))
		if err := copyFile(mediaPath, destPath); err != nil {
			return domain.Result{}, fmt.Errorf("copy media: %w", err)
		}
		result.MediaPath = destPath
	}

	return result, nil
}

// copyFile copies src to dst, truncating any existing file.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
