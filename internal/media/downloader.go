package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"video-transcriber/internal/domain"
)

// Downloader fetches a remote media URL into a local directory and returns
// the downloaded file path.
type Downloader interface {
	Fetch(ctx context.Context, url, destDir string, resume bool) (string, error)
}

// YtDlpDownloader fetches media with yt-dlp. With resume set it passes
// --continue so a partially downloaded file in destDir is picked up rather
// than refetched from scratch.
type YtDlpDownloader struct {
	ytDlpPath string
	runner    Runner
	readDir   func(string) ([]os.DirEntry, error)
}

// NewYtDlpDownloader builds a downloader using the given yt-dlp binary.
func NewYtDlpDownloader(ytDlpPath string, runner Runner) *YtDlpDownloader {
	return &YtDlpDownloader{
		ytDlpPath: ytDlpPath,
		runner:    runner,
		readDir:   os.ReadDir,
	}
}

// Fetch downloads url into destDir. The output template keeps the media
// title in the filename so artifact naming can derive from it.
func (d *YtDlpDownloader) Fetch(ctx context.Context, url, destDir string, resume bool) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create download dir: %v", domain.ErrSourceUnavailable, err)
	}

	args := []string{
		"--no-playlist",
		"--no-progress",
		"-f", "best",
		"-o", filepath.Join(destDir, "%(title)s.%(ext)s"),
	}
	if resume {
		args = append(args, "--continue")
	}
	args = append(args, url)

	result, err := d.runner.Run(ctx, d.ytDlpPath, args...)
	if err != nil {
		return "", fmt.Errorf("%w: yt-dlp exit %d: %s",
			domain.ErrSourceUnavailable, result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	return d.downloadedFile(destDir)
}

// downloadedFile returns the single completed media file in destDir,
// skipping yt-dlp partial artifacts.
func (d *YtDlpDownloader) downloadedFile(destDir string) (string, error) {
	entries, err := d.readDir(destDir)
	if err != nil {
		return "", fmt.Errorf("%w: read download dir: %v", domain.ErrSourceUnavailable, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		return filepath.Join(destDir, name), nil
	}
	return "", fmt.Errorf("%w: no file found after download", domain.ErrSourceUnavailable)
}
