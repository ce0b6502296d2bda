package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"video-transcriber/internal/config"
)

// testConfig builds a config with writable temp directories.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	base := t.TempDir()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.CacheDir = filepath.Join(base, "cache")
	cfg.OutputDir = filepath.Join(base, "outputs")
	modelPath := filepath.Join(base, "ggml-base.bin")
	if err := os.WriteFile(modelPath, []byte("model"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	cfg.ModelPath = modelPath
	return cfg
}

// newCheckerWithTools builds a checker whose PATH lookups succeed for the
// given set.
func newCheckerWithTools(available map[string]bool) *Checker {
	checker := NewChecker()
	checker.lookPath = func(name string) (string, error) {
		if available[name] {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}
	return checker
}

// TestRunAllPass checks a fully provisioned environment reports no failures.
func TestRunAllPass(t *testing.T) {
	checker := newCheckerWithTools(map[string]bool{
		"ffmpeg": true, "ffprobe": true, "yt-dlp": true, "whisper-cli": true,
	})

	report := checker.Run(testConfig(t))
	if report.HasFailures {
		t.Fatalf("report has failures: %+v", report.Items)
	}
	if len(report.Items) != 8 {
		t.Fatalf("item count = %d, want 8", len(report.Items))
	}
	if report.GeneratedAt.IsZero() {
		t.Fatal("report has zero timestamp")
	}
}

// TestRunMissingToolFails checks an absent binary is reported with a hint.
func TestRunMissingToolFails(t *testing.T) {
	checker := newCheckerWithTools(map[string]bool{
		"ffmpeg": true, "ffprobe": true, "whisper-cli": true,
	})

	report := checker.Run(testConfig(t))
	if !report.HasFailures {
		t.Fatal("expected failures for missing yt-dlp")
	}

	var found bool
	for _, item := range report.Items {
		if item.ID == "tool_yt-dlp" {
			found = true
			if item.Status != StatusFail {
				t.Fatalf("yt-dlp status = %q, want fail", item.Status)
			}
			if item.Hint == "" {
				t.Fatal("failed check has no hint")
			}
		}
	}
	if !found {
		t.Fatal("yt-dlp check missing from report")
	}
}

// TestRunAbsoluteToolPath checks configured absolute paths bypass PATH.
func TestRunAbsoluteToolPath(t *testing.T) {
	cfg := testConfig(t)
	toolPath := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(toolPath, []byte("#!/bin/sh"), 0o755); err != nil {
		t.Fatalf("write tool: %v", err)
	}
	cfg.Tools.FFmpeg = toolPath

	checker := newCheckerWithTools(map[string]bool{
		"ffprobe": true, "yt-dlp": true, "whisper-cli": true,
	})
	report := checker.Run(cfg)
	for _, item := range report.Items {
		if item.ID == "tool_ffmpeg" && item.Status != StatusPass {
			t.Fatalf("absolute path check = %+v, want pass", item)
		}
	}
}

// TestRunMissingModelPath checks the model check failure mode.
func TestRunMissingModelPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.ModelPath = filepath.Join(t.TempDir(), "absent.bin")

	checker := newCheckerWithTools(map[string]bool{
		"ffmpeg": true, "ffprobe": true, "yt-dlp": true, "whisper-cli": true,
	})
	report := checker.Run(cfg)
	if !report.HasFailures {
		t.Fatal("expected failure for missing model")
	}
}

// TestRunUnwritableDir checks the write probe catches read-only directories.
func TestRunUnwritableDir(t *testing.T) {
	cfg := testConfig(t)
	checker := newCheckerWithTools(map[string]bool{
		"ffmpeg": true, "ffprobe": true, "yt-dlp": true, "whisper-cli": true,
	})
	checker.createTemp = func(dir, pattern string) (*os.File, error) {
		if dir == cfg.OutputDir {
			return nil, errors.New("read-only filesystem")
		}
		return os.CreateTemp(dir, pattern)
	}

	report := checker.Run(cfg)
	var outputItem Item
	for _, item := range report.Items {
		if item.ID == "output_dir" {
			outputItem = item
		}
	}
	if outputItem.Status != StatusFail {
		t.Fatalf("output_dir = %+v, want fail", outputItem)
	}
}
