// Package diagnostics validates external tools and required filesystem
// paths before the pipeline accepts work.
package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"video-transcriber/internal/config"
)

// Status indicates whether a single startup check passed.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// Item is one startup check result with optional hint.
type Item struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Report aggregates startup checks for logs and API responses.
type Report struct {
	GeneratedAt time.Time `json:"generatedAt"`
	HasFailures bool      `json:"hasFailures"`
	Items       []Item    `json:"items"`
}

// Checker runs the startup checks with injectable OS dependencies.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(cfg config.Config) Report {
	items := []Item{
		c.checkTool(cfg.Tools.FFmpeg),
		c.checkTool(cfg.Tools.FFprobe),
		c.checkTool(cfg.Tools.YtDlp),
		c.checkTool(cfg.Tools.Whisper),
		c.checkModelPath(cfg.ModelPath),
		c.checkWritableDir("data_dir", cfg.DataDir),
		c.checkWritableDir("cache_dir", cfg.CacheDir),
		c.checkWritableDir("output_dir", cfg.OutputDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == StatusFail {
			hasFailures = true
			break
		}
	}

	return Report{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a required CLI executable is reachable. Absolute paths
// are stat'ed directly; bare names are resolved on PATH.
func (c *Checker) checkTool(tool string) Item {
	name := filepath.Base(tool)
	item := Item{ID: "tool_" + name, Name: name}

	if strings.ContainsRune(tool, os.PathSeparator) {
		if _, err := c.stat(tool); err != nil {
			item.Status = StatusFail
			item.Message = fmt.Sprintf("Tool not found: %s", tool)
			item.Hint = "Install it or fix the configured path."
			return item
		}
		item.Status = StatusPass
		item.Message = fmt.Sprintf("Found at %s", tool)
		return item
	}

	path, err := c.lookPath(tool)
	if err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Tool not found in PATH: %s", tool)
		item.Hint = "Install it and ensure the binary is available on PATH before submitting jobs."
		return item
	}
	item.Status = StatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkModelPath validates the configured model file or model directory.
func (c *Checker) checkModelPath(modelPath string) Item {
	item := Item{ID: "model_path", Name: "Model path"}

	if strings.TrimSpace(modelPath) == "" {
		item.Status = StatusFail
		item.Message = "Model path is empty."
		item.Hint = "Set a valid model file path or a directory containing whisper models."
		return item
	}

	if _, err := c.stat(modelPath); err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Cannot access model path: %s", modelPath)
		item.Hint = "Download a whisper model and point modelPath at it."
		return item
	}

	item.Status = StatusPass
	item.Message = fmt.Sprintf("Model path exists: %s", modelPath)
	return item
}

// checkWritableDir verifies the directory exists (creating it if needed)
// and accepts writes.
func (c *Checker) checkWritableDir(id, dir string) Item {
	item := Item{ID: id, Name: id}

	if strings.TrimSpace(dir) == "" {
		item.Status = StatusFail
		item.Message = "Directory is not configured."
		return item
	}
	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		return item
	}

	probe, err := c.createTemp(dir, ".writecheck-*")
	if err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		return item
	}
	probe.Close()
	_ = c.remove(probe.Name())

	item.Status = StatusPass
	item.Message = fmt.Sprintf("Writable: %s", dir)
	return item
}
