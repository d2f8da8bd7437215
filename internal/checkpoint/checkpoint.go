// Package checkpoint makes pipeline stages resumable. A stage is complete
// exactly when its manifest file exists in the stage's output directory.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Lllllllleong/renderparity/internal/models"
)

// ManifestName is the file whose presence marks a stage as complete.
const ManifestName = "manifest.json"

// ArtifactPattern matches the files a stage owns in its directory.
// Leftovers matching it are removed before a stage is re-run.
const ArtifactPattern = "*.png"

// Manifest is implemented by every persisted stage record.
type Manifest interface {
	Validate() error
	Fingerprint() models.Fingerprint
	SetFingerprint(models.Fingerprint)
}

type manifestPtr[T any] interface {
	*T
	Manifest
}

// Stage is one checkpointed unit of work writing into Dir.
type Stage[M Manifest] struct {
	Name string
	Dir  string
	// Fingerprint describes the inputs. A stored manifest with a different
	// fingerprint is stale and the stage runs again.
	Fingerprint models.Fingerprint
	Run         func(ctx context.Context, dir string) (M, error)
}

// ManifestPath returns the manifest location for a stage directory.
func ManifestPath(dir string) string {
	return filepath.Join(dir, ManifestName)
}

// Run returns the stage's manifest, invoking s.Run only when no valid,
// current manifest exists. A failing s.Run leaves no manifest behind.
func Run[T any, M manifestPtr[T]](ctx context.Context, logger *slog.Logger, s Stage[M]) (M, error) {
	logCtx := logger.With("stage", s.Name, "dir", s.Dir)
	path := ManifestPath(s.Dir)

	existing, err := Load[T, M](path)
	switch {
	case err == nil:
		if existing.Fingerprint().Equal(s.Fingerprint) {
			logCtx.Info("Stage already complete. Skipping.")
			return existing, nil
		}
		logCtx.Warn("Manifest was produced with different inputs. Re-running stage.",
			"stored", existing.Fingerprint().Digest(), "expected", s.Fingerprint.Digest())
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale manifest: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := clean(s.Dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stage directory: %w", err)
	}

	logCtx.Info("Running stage.")
	m, err := s.Run(ctx, s.Dir)
	if err != nil {
		return nil, err
	}
	m.SetFingerprint(s.Fingerprint)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("stage %s produced an invalid manifest: %w", s.Name, err)
	}
	if err := write(path, m); err != nil {
		return nil, err
	}
	logCtx.Info("Stage complete. Manifest written.")
	return m, nil
}

// Load reads and validates a manifest. A missing file is reported with an
// error matching fs.ErrNotExist; anything unparsable is a ManifestError.
func Load[T any, M manifestPtr[T]](path string) (M, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := M(new(T))
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(m); err != nil {
		return nil, &models.ManifestError{Path: path, Err: err}
	}
	if dec.More() {
		return nil, &models.ManifestError{Path: path, Err: errors.New("trailing data after manifest")}
	}
	if err := m.Validate(); err != nil {
		return nil, &models.ManifestError{Path: path, Err: err}
	}
	return m, nil
}

// clean removes artifacts left behind by an interrupted attempt.
func clean(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, ArtifactPattern))
	if err != nil {
		return err
	}
	for _, f := range matches {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("failed to remove partial artifact: %w", err)
		}
	}
	return nil
}

// write persists m through a temporary file so a crash mid-write never
// leaves a truncated manifest that would read as a checkpoint.
func write(path string, m any) error {
	if err := WriteJSON(path, m); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// WriteJSON atomically replaces path with the indented JSON encoding of v.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
