package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"video-transcriber/internal/domain"
	"video-transcriber/internal/media"
)

// fakeRunner simulates external command execution.
type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (media.CommandResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
	if f.run == nil {
		return media.CommandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

// argValue returns the value following a flag, or empty.
func argValue(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// hasArg reports whether the flag appears at all.
func hasArg(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

// mustWriteFile writes a fixture file or fails the test.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const sampleWhisperJSON = `{
	"transcription": [
		{"offsets": {"from": 0, "to": 2500}, "text": " hello"},
		{"offsets": {"from": 2500, "to": 5000}, "text": " world "},
		{"offsets": {"from": 5000, "to": 6000}, "text": "   "}
	]
}`

// TestWhisperTranscribeHappyPath checks the cut-then-transcribe flow: ffmpeg
// slices the requested window, whisper runs with JSON export, and the parsed
// units carry segment-local second timestamps.
func TestWhisperTranscribeHappyPath(t *testing.T) {
	root := t.TempDir()
	modelPath := filepath.Join(root, "ggml-base.bin")
	mustWriteFile(t, modelPath, "model")

	call := 0
	var ffmpegArgs, whisperArgs []string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
			call++
			switch call {
			case 1:
				if name != "ffmpeg-custom" {
					t.Fatalf("command 1 = %q, want ffmpeg-custom", name)
				}
				ffmpegArgs = append([]string{}, args...)
				return media.CommandResult{ExitCode: 0}, nil
			case 2:
				if name != "whisper-custom" {
					t.Fatalf("command 2 = %q, want whisper-custom", name)
				}
				whisperArgs = append([]string{}, args...)
				mustWriteFile(t, argValue(args, "-of")+".json", sampleWhisperJSON)
				return media.CommandResult{ExitCode: 0}, nil
			default:
				t.Fatalf("unexpected command call %d", call)
				return media.CommandResult{}, nil
			}
		},
	}

	w := NewWhisperTranscriber("whisper-custom", modelPath, media.NewExtractor("ffmpeg-custom", runner), runner)
	result, err := w.Transcribe(context.Background(), SegmentRequest{
		AudioPath: "/audio/full.wav",
		Offset:    60,
		Duration:  30,
		Language:  "en",
		Translate: true,
	})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}

	if argValue(ffmpegArgs, "-ss") != "60.000" || argValue(ffmpegArgs, "-t") != "30.000" {
		t.Fatalf("ffmpeg slice args = %v", ffmpegArgs)
	}
	if argValue(whisperArgs, "-m") != modelPath {
		t.Fatalf("whisper model arg = %q", argValue(whisperArgs, "-m"))
	}
	if !hasArg(whisperArgs, "-oj") {
		t.Fatalf("whisper args missing -oj: %v", whisperArgs)
	}
	if argValue(whisperArgs, "-l") != "en" {
		t.Fatalf("whisper language arg = %q", argValue(whisperArgs, "-l"))
	}
	if !hasArg(whisperArgs, "-tr") {
		t.Fatalf("whisper args missing -tr: %v", whisperArgs)
	}

	if result.Text != "hello world" {
		t.Fatalf("text = %q", result.Text)
	}
	if len(result.Units) != 2 {
		t.Fatalf("unit count = %d, want blank unit dropped", len(result.Units))
	}
	if result.Units[0].Start != 0 || result.Units[0].End != 2.5 {
		t.Fatalf("first unit = %+v", result.Units[0])
	}
}

// TestWhisperAutoLanguageOmitsFlag checks "auto" never reaches the CLI.
func TestWhisperAutoLanguageOmitsFlag(t *testing.T) {
	args := buildWhisperArgs("model.bin", "slice.wav", "slice", "auto", false)
	if hasArg(args, "-l") {
		t.Fatalf("auto language should omit -l, args = %v", args)
	}
	if hasArg(args, "-tr") {
		t.Fatalf("translate off should omit -tr, args = %v", args)
	}
}

// TestWhisperFailureWrapsInferenceError checks a nonzero exit maps to the
// inference sentinel with stderr detail.
func TestWhisperFailureWrapsInferenceError(t *testing.T) {
	root := t.TempDir()
	modelPath := filepath.Join(root, "model.bin")
	mustWriteFile(t, modelPath, "model")

	call := 0
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
			call++
			if call == 1 {
				return media.CommandResult{ExitCode: 0}, nil
			}
			return media.CommandResult{Stderr: "failed to load model", ExitCode: 3}, errors.New("exit status 3")
		},
	}

	w := NewWhisperTranscriber("whisper", modelPath, media.NewExtractor("ffmpeg", runner), runner)
	_, err := w.Transcribe(context.Background(), SegmentRequest{AudioPath: "a.wav", Duration: 30})
	if !errors.Is(err, domain.ErrInferenceFailure) {
		t.Fatalf("Transcribe() error = %v, want ErrInferenceFailure", err)
	}
}

// TestWhisperMissingJSONOutput checks a successful exit without the expected
// JSON document is still an inference failure.
func TestWhisperMissingJSONOutput(t *testing.T) {
	root := t.TempDir()
	modelPath := filepath.Join(root, "model.bin")
	mustWriteFile(t, modelPath, "model")

	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (media.CommandResult, error) {
			return media.CommandResult{ExitCode: 0}, nil
		},
	}

	w := NewWhisperTranscriber("whisper", modelPath, media.NewExtractor("ffmpeg", runner), runner)
	_, err := w.Transcribe(context.Background(), SegmentRequest{AudioPath: "a.wav", Duration: 30})
	if !errors.Is(err, domain.ErrInferenceFailure) {
		t.Fatalf("Transcribe() error = %v, want ErrInferenceFailure", err)
	}
}

// TestResolveModelDirectory checks id matching inside a model directory.
func TestResolveModelDirectory(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "ggml-base.bin"), "m")
	mustWriteFile(t, filepath.Join(dir, "ggml-small.bin"), "m")
	mustWriteFile(t, filepath.Join(dir, "notes.txt"), "x")

	w := NewWhisperTranscriber("whisper", dir, nil, nil)

	got, err := w.resolveModel("small")
	if err != nil {
		t.Fatalf("resolveModel() error = %v", err)
	}
	if got != filepath.Join(dir, "ggml-small.bin") {
		t.Fatalf("resolved = %q, want ggml-small.bin", got)
	}

	// Unknown id falls back to the lexicographically first model.
	got, err = w.resolveModel("huge")
	if err != nil {
		t.Fatalf("resolveModel() error = %v", err)
	}
	if got != filepath.Join(dir, "ggml-base.bin") {
		t.Fatalf("fallback = %q, want ggml-base.bin", got)
	}
}

// TestResolveModelEmptyDirectory checks a model directory without model
// files is rejected.
func TestResolveModelEmptyDirectory(t *testing.T) {
	w := NewWhisperTranscriber("whisper", t.TempDir(), nil, nil)
	if _, err := w.resolveModel(""); err == nil {
		t.Fatal("resolveModel() expected error for empty directory")
	}
}

// TestParseWhisperJSONMalformed checks parse errors surface.
func TestParseWhisperJSONMalformed(t *testing.T) {
	if _, err := parseWhisperJSON([]byte("{broken")); err == nil {
		t.Fatal("parseWhisperJSON() expected error")
	}
}
