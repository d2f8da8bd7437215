package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Lllllllleong/renderparity/internal/config"
	"github.com/Lllllllleong/renderparity/internal/gcp"
	"github.com/Lllllllleong/renderparity/internal/source"
)

// GCSEvent is the payload of a Cloud Storage object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// CompareFunction compares every PDF uploaded to a bucket. Inputs are kept
// under WORK_DIR by content hash, so a warm instance resumes from the
// stages it already checkpointed.
type CompareFunction struct {
	runner   *CompareRunner
	inputDir string
	// Documents of one instance share an output root, so runs are
	// serialised to keep the aggregate consistent.
	mu sync.Mutex
}

// NewCompareFunction configures the function from the environment.
func NewCompareFunction(ctx context.Context) (*CompareFunction, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	workDir := config.GetEnv("WORK_DIR", filepath.Join(os.TempDir(), "render-compare"))
	cfg.InputDir = filepath.Join(workDir, "inputs")
	cfg.OutputRoot = filepath.Join(workDir, "results")
	if cfg.ResultsBucket == "" {
		return nil, fmt.Errorf("RESULTS_BUCKET environment variable must be set")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.InputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create input dir: %w", err)
	}

	runner, err := NewCompareRunner(ctx, cfg, slog.Default())
	if err != nil {
		return nil, err
	}
	slog.Info("Compare function initialized.", "workDir", workDir, "resultsBucket", cfg.ResultsBucket)
	return &CompareFunction{runner: runner, inputDir: cfg.InputDir}, nil
}

// Process compares one uploaded object. Objects that are not PDFs are
// ignored, as are PDFs whose content already has a completed run.
// Rendering differences are reported through the results, not as a
// function failure.
func (f *CompareFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !strings.EqualFold(filepath.Ext(e.Name), ".pdf") {
		logCtx.Info("Object is not a PDF. Skipping.")
		return nil
	}
	logCtx.Info("Processing new GCS object.")

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.fetch(ctx, e)
	if err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return err
	}
	logCtx = logCtx.With("fileHash", doc.SHA256)

	if h := f.runner.History(); h != nil {
		runID, done, err := alreadyCompared(ctx, h, doc.SHA256)
		if err != nil {
			logCtx.Error("Failed to check for duplicate", "error", err)
			return err
		}
		if done {
			logCtx.Info("Duplicate file detected. Skipping.", "existingRunId", runID)
			return nil
		}
	}

	result, err := f.runner.RunDocument(ctx, doc)
	if err != nil {
		logCtx.Error("Comparison failed", "error", err)
		return err
	}
	logCtx.Info("Comparison complete.",
		"status", result.Status,
		"diffManifest", result.DiffManifestPath,
		"error", result.ErrorMessage,
	)
	return nil
}

// alreadyCompared reports whether history holds a completed run for the
// content hash sha. Runs that ended in a processing error are ignored.
func alreadyCompared(ctx context.Context, h RunHistory, sha string) (string, bool, error) {
	runs, err := h.FindBySourceHash(ctx, sha)
	if err != nil {
		return "", false, err
	}
	run, ok := CompletedRun(runs)
	return run.ID, ok, nil
}

// fetch downloads the object to <inputs>/<sha256>.pdf.
func (f *CompareFunction) fetch(ctx context.Context, e GCSEvent) (source.Document, error) {
	tmp, err := os.CreateTemp(f.inputDir, ".download-*.pdf")
	if err != nil {
		return source.Document{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	if err := gcp.Download(ctx, f.runner.StorageClient(), e.Bucket, e.Name, tmpPath); err != nil {
		return source.Document{}, err
	}
	hash, err := source.HashFile(tmpPath)
	if err != nil {
		return source.Document{}, fmt.Errorf("failed to calculate file hash: %w", err)
	}
	dest := filepath.Join(f.inputDir, source.ContentAddressedName(hash))
	if err := os.Rename(tmpPath, dest); err != nil {
		return source.Document{}, fmt.Errorf("failed to store %s: %w", dest, err)
	}
	return source.NewDocument(dest)
}

func (f *CompareFunction) Close() { f.runner.Close() }
