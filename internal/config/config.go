package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "45s" parse directly.
type Duration time.Duration

// UnmarshalYAML parses a duration string such as "10m" or "45s".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StageWeights defines the fixed progress bands for pre-transcription and
// finalize phases. Download runs 0..DownloadEnd, segment transcription maps
// into DownloadEnd..TranscribeEnd, finalize runs TranscribeEnd..100.
type StageWeights struct {
	DownloadEnd   int `yaml:"downloadEnd"`
	TranscribeEnd int `yaml:"transcribeEnd"`
}

// Tools holds paths to external collaborator binaries.
type Tools struct {
	FFmpeg  string `yaml:"ffmpeg"`
	FFprobe string `yaml:"ffprobe"`
	YtDlp   string `yaml:"ytDlp"`
	Whisper string `yaml:"whisper"`
}

// Config contains the full service configuration.
type Config struct {
	ListenAddr string `yaml:"listenAddr"`

	// DataDir holds the job database; CacheDir holds downloaded media and
	// checkpoints; OutputDir is the default artifact destination.
	DataDir   string `yaml:"dataDir"`
	CacheDir  string `yaml:"cacheDir"`
	OutputDir string `yaml:"outputDir"`

	ModelPath      string  `yaml:"modelPath"`
	SegmentSeconds float64 `yaml:"segmentSeconds"`

	DownloadTimeout Duration `yaml:"downloadTimeout"`
	SegmentTimeout  Duration `yaml:"segmentTimeout"`

	Weights StageWeights `yaml:"progressWeights"`
	Tools   Tools        `yaml:"tools"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Default returns the baseline configuration used when no file is present.
func Default() Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	base := filepath.Join(homeDir, ".video-transcriber")

	return Config{
		ListenAddr:      "127.0.0.1:7861",
		DataDir:         filepath.Join(base, "data"),
		CacheDir:        filepath.Join(base, "cache"),
		OutputDir:       filepath.Join(base, "outputs"),
		ModelPath:       filepath.Join(base, "models"),
		SegmentSeconds:  30,
		DownloadTimeout: Duration(30 * time.Minute),
		SegmentTimeout:  Duration(10 * time.Minute),
		Weights:         StageWeights{DownloadEnd: 10, TranscribeEnd: 95},
		Tools: Tools{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
			YtDlp:   "yt-dlp",
			Whisper: "whisper-cli",
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load reads the YAML config file at path, falling back to defaults when the
// file is missing, then applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// first run, defaults apply
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate rejects values the pipeline cannot operate with.
func (c Config) validate() error {
	if c.SegmentSeconds <= 0 {
		return fmt.Errorf("segmentSeconds must be positive, got %v", c.SegmentSeconds)
	}
	w := c.Weights
	if w.DownloadEnd <= 0 || w.TranscribeEnd <= w.DownloadEnd || w.TranscribeEnd >= 100 {
		return fmt.Errorf("progress weights must satisfy 0 < downloadEnd < transcribeEnd < 100, got %+v", w)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listenAddr is required")
	}
	return nil
}

// applyEnv overrides config values from VT_* environment variables.
func applyEnv(cfg *Config) {
	setString(&cfg.ListenAddr, "VT_LISTEN_ADDR")
	setString(&cfg.DataDir, "VT_DATA_DIR")
	setString(&cfg.CacheDir, "VT_CACHE_DIR")
	setString(&cfg.OutputDir, "VT_OUTPUT_DIR")
	setString(&cfg.ModelPath, "VT_MODEL_PATH")
	setString(&cfg.LogLevel, "VT_LOG_LEVEL")
	setString(&cfg.LogFormat, "VT_LOG_FORMAT")
	setString(&cfg.Tools.FFmpeg, "VT_FFMPEG")
	setString(&cfg.Tools.FFprobe, "VT_FFPROBE")
	setString(&cfg.Tools.YtDlp, "VT_YTDLP")
	setString(&cfg.Tools.Whisper, "VT_WHISPER")

	if v := os.Getenv("VT_SEGMENT_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SegmentSeconds = f
		}
	}
}

// setString assigns an environment variable value when present.
func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
