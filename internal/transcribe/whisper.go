package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"video-transcriber/internal/domain"
	"video-transcriber/internal/media"
)

// WhisperTranscriber runs whisper.cpp on one audio slice at a time. Each
// call cuts the requested slice to a temporary WAV, invokes the whisper
// binary with JSON output, and parses segment-local timestamps.
type WhisperTranscriber struct {
	whisperPath string
	modelPath   string
	extractor   *media.Extractor
	runner      media.Runner

	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	readFile  func(name string) ([]byte, error)
	stat      func(name string) (os.FileInfo, error)
	readDir   func(name string) ([]os.DirEntry, error)
}

// NewWhisperTranscriber constructs the production transcriber. modelPath may
// be a model file or a directory of ggml models; per-request model selection
// is resolved against it.
func NewWhisperTranscriber(whisperPath, modelPath string, extractor *media.Extractor, runner media.Runner) *WhisperTranscriber {
	return &WhisperTranscriber{
		whisperPath: whisperPath,
		modelPath:   modelPath,
		extractor:   extractor,
		runner:      runner,
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		readFile:    os.ReadFile,
		stat:        os.Stat,
		readDir:     os.ReadDir,
	}
}

// Transcribe cuts the slice and runs whisper.cpp on it.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, req SegmentRequest) (SegmentResult, error) {
	modelFile, err := w.resolveModel(req.Model)
	if err != nil {
		return SegmentResult{}, fmt.Errorf("%w: %v", domain.ErrInferenceFailure, err)
	}

	tempDir, err := w.mkdirTemp("", "video-transcriber-seg-*")
	if err != nil {
		return SegmentResult{}, fmt.Errorf("create segment workspace: %w", err)
	}
	defer func() { _ = w.removeAll(tempDir) }()

	slicePath := filepath.Join(tempDir, "slice.wav")
	if err := w.extractor.CutSegment(ctx, req.AudioPath, req.Offset, req.Duration, slicePath); err != nil {
		return SegmentResult{}, fmt.Errorf("%w: %v", domain.ErrInferenceFailure, err)
	}

	outBase := filepath.Join(tempDir, "slice")
	args := buildWhisperArgs(modelFile, slicePath, outBase, req.Language, req.Translate)
	result, err := w.runner.Run(ctx, w.whisperPath, args...)
	if err != nil {
		return SegmentResult{}, fmt.Errorf("%w: whisper exit %d: %s",
			domain.ErrInferenceFailure, result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	data, err := w.readFile(outBase + ".json")
	if err != nil {
		return SegmentResult{}, fmt.Errorf("%w: whisper completed but JSON output is missing: %v",
			domain.ErrInferenceFailure, err)
	}

	parsed, err := parseWhisperJSON(data)
	if err != nil {
		return SegmentResult{}, fmt.Errorf("%w: %v", domain.ErrInferenceFailure, err)
	}
	return parsed, nil
}

// resolveModel returns the model file for the requested model id. An empty
// id falls back to the configured model path; an id matching a file inside a
// model directory (exactly, or as ggml-<id>.bin) is preferred, otherwise the
// lexicographically first model in the directory is used.
func (w *WhisperTranscriber) resolveModel(modelID string) (string, error) {
	base := strings.TrimSpace(w.modelPath)
	if base == "" {
		return "", fmt.Errorf("model path is not configured")
	}

	info, err := w.stat(base)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", base)
	}
	if !info.IsDir() {
		return base, nil
	}

	entries, err := w.readDir(base)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", base)
	}

	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			candidates = append(candidates, entry.Name())
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", base)
	}

	if id := strings.TrimSpace(modelID); id != "" {
		for _, name := range candidates {
			if name == id || name == "ggml-"+id+".bin" {
				return filepath.Join(base, name), nil
			}
		}
	}

	sort.Strings(candidates)
	return filepath.Join(base, candidates[0]), nil
}

// buildWhisperArgs builds whisper.cpp args for JSON transcript export.
func buildWhisperArgs(modelPath, audioPath, outBase, language string, translate bool) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
	}
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}
	if translate {
		args = append(args, "-tr")
	}
	return args
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// whisperOutput mirrors the whisper.cpp -oj JSON document.
type whisperOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseWhisperJSON converts whisper.cpp millisecond offsets into
// segment-local units in seconds.
func parseWhisperJSON(data []byte) (SegmentResult, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return SegmentResult{}, fmt.Errorf("parse whisper JSON: %w", err)
	}

	var result SegmentResult
	var pieces []string
	for _, entry := range out.Transcription {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}
		pieces = append(pieces, text)
		result.Units = append(result.Units, domain.SegmentUnit{
			Start: float64(entry.Offsets.From) / 1000,
			End:   float64(entry.Offsets.To) / 1000,
			Text:  text,
		})
	}
	result.Text = strings.Join(pieces, " ")
	return result, nil
}
