// Package config resolves run settings from flags with environment
// fallbacks.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/renderparity/internal/models"
)

// Config holds everything a comparison run needs.
type Config struct {
	InputDir         string
	OutputRoot       string
	DPI              int
	CandidatePath    string
	CandidateTimeout time.Duration
	Jobs             int

	// Optional publication and run history.
	ResultsBucket       string
	ResultsPrefix       string
	ProjectID           string
	FirestoreCollection string

	LogLevel  string
	LogFormat string
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() (*Config, error) {
	cfg := &Config{
		InputDir:            GetEnv("RENDER_COMPARE_INPUT", "test_pdfs"),
		OutputRoot:          GetEnv("RENDER_COMPARE_OUTPUT", "results"),
		CandidatePath:       GetEnv("CANDIDATE_RENDERER", "./target/release/pdf-handler"),
		ResultsBucket:       GetEnv("RESULTS_BUCKET", ""),
		ResultsPrefix:       GetEnv("RESULTS_PREFIX", ""),
		ProjectID:           GetEnv("PROJECT_ID", ""),
		FirestoreCollection: GetEnv("FIRESTORE_COLLECTION", "render-compare-runs"),
		LogLevel:            GetEnv("LOG_LEVEL", "info"),
		LogFormat:           GetEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.DPI, err = envInt("RENDER_COMPARE_DPI", 72); err != nil {
		return nil, err
	}
	if cfg.Jobs, err = envInt("RENDER_COMPARE_JOBS", 1); err != nil {
		return nil, err
	}
	timeout := GetEnv("CANDIDATE_TIMEOUT", "10m")
	if cfg.CandidateTimeout, err = time.ParseDuration(timeout); err != nil {
		return nil, &models.ConfigurationError{Msg: "invalid CANDIDATE_TIMEOUT " + strconv.Quote(timeout), Err: err}
	}
	return cfg, nil
}

// Load parses args over the environment defaults and validates the result.
// Flags win over environment variables.
func Load(args []string, stderr io.Writer) (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("render-compare", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.InputDir, "input", cfg.InputDir, "folder holding the source PDFs")
	fs.StringVar(&cfg.OutputRoot, "output", cfg.OutputRoot, "output root for stage directories and the aggregate report")
	fs.IntVar(&cfg.DPI, "dpi", cfg.DPI, "render resolution in dots per inch")
	fs.StringVar(&cfg.CandidatePath, "candidate", cfg.CandidatePath, "path to the candidate renderer executable")
	fs.DurationVar(&cfg.CandidateTimeout, "candidate-timeout", cfg.CandidateTimeout, "per-document candidate time limit, 0 disables")
	fs.IntVar(&cfg.Jobs, "jobs", cfg.Jobs, "documents processed concurrently")
	fs.StringVar(&cfg.ResultsBucket, "bucket", cfg.ResultsBucket, "GCS bucket receiving the results, empty disables publication")
	fs.StringVar(&cfg.ResultsPrefix, "prefix", cfg.ResultsPrefix, "object prefix for published results")
	fs.StringVar(&cfg.ProjectID, "project", cfg.ProjectID, "GCP project for run history, empty disables it")
	fs.StringVar(&cfg.FirestoreCollection, "collection", cfg.FirestoreCollection, "Firestore collection for run history")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "json or text")
	if err := fs.Parse(args); err != nil {
		return nil, &models.ConfigurationError{Msg: "invalid arguments", Err: err}
	}
	if fs.NArg() > 0 {
		return nil, &models.ConfigurationError{Msg: fmt.Sprintf("unexpected arguments: %s", strings.Join(fs.Args(), " "))}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no run can succeed with.
func (c *Config) Validate() error {
	switch {
	case c.DPI <= 0:
		return &models.ConfigurationError{Msg: fmt.Sprintf("dpi must be positive, got %d", c.DPI)}
	case c.Jobs < 1:
		return &models.ConfigurationError{Msg: fmt.Sprintf("jobs must be at least 1, got %d", c.Jobs)}
	case c.CandidateTimeout < 0:
		return &models.ConfigurationError{Msg: fmt.Sprintf("candidate timeout must not be negative, got %s", c.CandidateTimeout)}
	case c.InputDir == "":
		return &models.ConfigurationError{Msg: "input folder must be set"}
	case c.OutputRoot == "":
		return &models.ConfigurationError{Msg: "output root must be set"}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return &models.ConfigurationError{Msg: fmt.Sprintf("unknown log format %q", c.LogFormat)}
	}
	return nil
}

// ParseLevel maps a level name onto slog.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, &models.ConfigurationError{Msg: fmt.Sprintf("unknown log level %q", s), Err: err}
	}
	return level, nil
}

// NewLogger builds the process logger described by c.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func envInt(key string, fallback int) (int, error) {
	raw := GetEnv(key, strconv.Itoa(fallback))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &models.ConfigurationError{Msg: fmt.Sprintf("invalid %s %q", key, raw), Err: err}
	}
	return n, nil
}
