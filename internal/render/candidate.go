package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/renderparity/internal/models"
	"github.com/Lllllllleong/renderparity/internal/raster"
	"github.com/Lllllllleong/renderparity/internal/source"
)

const candidateStage = "candidate render"

// Candidate renders by running an external executable:
//
//	<executable> <input.pdf> -f png -o <dir> --dpi <dpi>
//
// The tool's own file naming is not relied on; whatever PNGs it leaves in
// dir are taken in lexical order and renamed to 0.png, 1.png, ...
type Candidate struct {
	Executable string
	// Timeout bounds one invocation. Zero waits indefinitely.
	Timeout time.Duration
	Logger  *slog.Logger

	identity string
}

// NewCandidate checks that executable exists and fingerprints it. A missing
// executable is a ConfigurationError.
func NewCandidate(executable string, timeout time.Duration, logger *slog.Logger) (*Candidate, error) {
	info, err := os.Stat(executable)
	if err != nil {
		return nil, &models.ConfigurationError{Msg: "candidate renderer not found at " + executable, Err: err}
	}
	if info.IsDir() {
		return nil, &models.ConfigurationError{Msg: "candidate renderer " + executable + " is a directory"}
	}
	hash, err := source.HashFile(executable)
	if err != nil {
		return nil, &models.ConfigurationError{Msg: "failed to read candidate renderer", Err: err}
	}
	return &Candidate{
		Executable: executable,
		Timeout:    timeout,
		Logger:     logger,
		identity:   fmt.Sprintf("%s sha256=%s", executable, hash),
	}, nil
}

func (c *Candidate) Backend() models.Backend { return models.BackendCandidate }

func (c *Candidate) Identity() string { return c.identity }

// Render ignores targets: the candidate's output defines the page sizes.
func (c *Candidate) Render(ctx context.Context, doc source.Document, dpi int, _ []models.Size, dir string) (*models.RenderManifest, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Executable,
		doc.Path,
		"-f", "png",
		"-o", dir,
		"--dpi", strconv.Itoa(dpi),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", c.Timeout, err)
		}
		return nil, &models.StageExecutionError{
			Stage:  candidateStage,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	c.Logger.Debug("Candidate renderer exited.", "document", doc.Name, "elapsed", time.Since(start).String())

	produced, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, err
	}
	if len(produced) == 0 {
		return nil, &models.StageExecutionError{
			Stage:  candidateStage,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    errors.New("renderer exited successfully but produced no page images"),
		}
	}
	slices.Sort(produced)

	pages, err := renumber(dir, produced)
	if err != nil {
		return nil, err
	}
	return models.NewRenderManifest(models.BackendCandidate, doc.Name, dpi, pages), nil
}

// renumber renames files to 0.png, 1.png, ... in the order given. Files
// are first moved aside so that an output already called 2.png cannot be
// overwritten while 10.png is being renamed.
func renumber(dir string, files []string) ([]models.PageRenderRecord, error) {
	staged := make([]string, len(files))
	for i, f := range files {
		staged[i] = filepath.Join(dir, fmt.Sprintf(".staging-%d.png", i))
		if err := os.Rename(f, staged[i]); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", filepath.Base(f), err)
		}
	}

	pages := make([]models.PageRenderRecord, 0, len(staged))
	for i, f := range staged {
		name := PageFileName(i)
		final := filepath.Join(dir, name)
		if err := os.Rename(f, final); err != nil {
			return nil, fmt.Errorf("failed to rename page %d: %w", i, err)
		}
		size, err := raster.DecodeSize(final)
		if err != nil {
			return nil, &models.StageExecutionError{Stage: candidateStage, Err: fmt.Errorf("page %d: %w", i, err)}
		}
		pages = append(pages, models.PageRenderRecord{
			PageIndex: i,
			FileName:  name,
			Width:     size.Width,
			Height:    size.Height,
		})
	}
	return pages, nil
}
