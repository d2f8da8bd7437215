// Package pipeline runs the candidate render, reference render and diff
// stages for each document and folds the persisted results into a report.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/renderparity/internal/checkpoint"
	"github.com/Lllllllleong/renderparity/internal/diff"
	"github.com/Lllllllleong/renderparity/internal/models"
	"github.com/Lllllllleong/renderparity/internal/render"
	"github.com/Lllllllleong/renderparity/internal/source"
)

// Stage directory names inside <root>/<document stem>/.
const (
	CandidateDir = "candidate"
	ReferenceDir = "reference"
	DiffDir      = "diff"
)

// Pipeline is the context shared by every stage of every document.
// Documents write only below their own <OutputRoot>/<stem> subtree, which
// is what allows several of them to run at once.
type Pipeline struct {
	OutputRoot string
	DPI        int
	Candidate  render.Renderer
	Reference  render.Renderer
	Differ     *diff.Differ
	// Inspector, when set, cross-checks page counts with a third reader.
	Inspector source.Inspector
	// Jobs is the number of documents processed concurrently.
	Jobs   int
	Logger *slog.Logger
}

// DocumentDir is the output subtree owned by doc.
func (p *Pipeline) DocumentDir(doc source.Document) string {
	return filepath.Join(p.OutputRoot, doc.Stem)
}

// Run processes every document and returns one result per document, in
// input order. A failing document never stops the others.
func (p *Pipeline) Run(ctx context.Context, docs []source.Document) []models.DocumentResult {
	results := make([]models.DocumentResult, len(docs))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(p.Jobs, 1))
	for i, doc := range docs {
		eg.Go(func() error {
			results[i] = p.ProcessDocument(gctx, doc)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// ProcessDocument takes one document from nothing to a diff manifest,
// resuming from whatever stages already completed. Every failure,
// including a panic, becomes an error result.
func (p *Pipeline) ProcessDocument(ctx context.Context, doc source.Document) (result models.DocumentResult) {
	logCtx := p.Logger.With("document", doc.Name)
	logCtx.Info("Processing document.")

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logCtx.Error("Document pipeline panicked.", "error", err)
			result = failed(doc, err)
		}
	}()

	manifestPath, err := p.process(ctx, logCtx, doc)
	if err != nil {
		logCtx.Error("Document failed.", "error", err, "kind", models.Classify(err))
		return failed(doc, err)
	}
	logCtx.Info("Document complete.", "diffManifest", manifestPath)
	return models.DocumentResult{
		DocumentName:     doc.Name,
		Status:           models.StatusSuccess,
		DiffManifestPath: manifestPath,
	}
}

func failed(doc source.Document, err error) models.DocumentResult {
	return models.DocumentResult{
		DocumentName: doc.Name,
		Status:       models.StatusError,
		ErrorKind:    models.Classify(err),
		ErrorMessage: err.Error(),
	}
}

func (p *Pipeline) process(ctx context.Context, logCtx *slog.Logger, doc source.Document) (string, error) {
	base := p.DocumentDir(doc)

	// The candidate goes first: its page sizes are the targets the
	// reference is resampled to.
	candidate, err := checkpoint.Run(ctx, logCtx, checkpoint.Stage[*models.RenderManifest]{
		Name:        CandidateDir,
		Dir:         filepath.Join(base, CandidateDir),
		Fingerprint: p.renderFingerprint(CandidateDir, p.Candidate, doc, nil),
		Run: func(ctx context.Context, dir string) (*models.RenderManifest, error) {
			return p.Candidate.Render(ctx, doc, p.DPI, nil, dir)
		},
	})
	if err != nil {
		return "", err
	}
	p.preflight(logCtx, doc, candidate.TotalPages)

	targets := candidate.PageSizes()
	reference, err := checkpoint.Run(ctx, logCtx, checkpoint.Stage[*models.RenderManifest]{
		Name:        ReferenceDir,
		Dir:         filepath.Join(base, ReferenceDir),
		Fingerprint: p.renderFingerprint(ReferenceDir, p.Reference, doc, targets),
		Run: func(ctx context.Context, dir string) (*models.RenderManifest, error) {
			return p.Reference.Render(ctx, doc, p.DPI, targets, dir)
		},
	})
	if err != nil {
		return "", err
	}

	if reference.TotalPages != candidate.TotalPages {
		return "", &models.ConsistencyError{
			ReferencePages: reference.TotalPages,
			CandidatePages: candidate.TotalPages,
		}
	}

	diffDir := filepath.Join(base, DiffDir)
	_, err = checkpoint.Run(ctx, logCtx, checkpoint.Stage[*models.DiffManifest]{
		Name: DiffDir,
		Dir:  diffDir,
		Fingerprint: models.Fingerprint{
			Stage: DiffDir,
			Inputs: map[string]string{
				"candidate": candidate.Inputs.Digest(),
				"reference": reference.Inputs.Digest(),
				"differ":    p.Differ.Identity(),
			},
		},
		Run: func(ctx context.Context, dir string) (*models.DiffManifest, error) {
			return p.compare(ctx, logCtx, doc, base, candidate, reference, dir)
		},
	})
	if err != nil {
		return "", err
	}
	return checkpoint.ManifestPath(diffDir), nil
}

func (p *Pipeline) renderFingerprint(stage string, r render.Renderer, doc source.Document, targets []models.Size) models.Fingerprint {
	inputs := map[string]string{
		"backend":       string(r.Backend()),
		"renderer":      r.Identity(),
		"dpi":           strconv.Itoa(p.DPI),
		"source_sha256": doc.SHA256,
	}
	if targets != nil {
		sizes := make([]string, len(targets))
		for i, s := range targets {
			sizes[i] = s.String()
		}
		inputs["targets"] = strings.Join(sizes, ",")
	}
	return models.Fingerprint{Stage: stage, Inputs: inputs}
}

// compare diffs index-aligned page pairs. The reference is the expected
// image and the candidate the actual one.
func (p *Pipeline) compare(ctx context.Context, logCtx *slog.Logger, doc source.Document, base string, candidate, reference *models.RenderManifest, dir string) (*models.DiffManifest, error) {
	n := candidate.TotalPages
	pages := make([]models.PageDiffRecord, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := render.PageFileName(i)
		rec, err := p.Differ.Compare(i,
			filepath.Join(base, ReferenceDir, reference.Pages[i].FileName),
			filepath.Join(base, CandidateDir, candidate.Pages[i].FileName),
			filepath.Join(dir, name),
			name,
		)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		logCtx.Info("Page compared.", "page", i+1, "pages", n, "diffPixels", rec.DiffPixelCount)
		pages = append(pages, rec)
	}
	return models.NewDiffManifest(doc.Name,
		filepath.ToSlash(filepath.Join(ReferenceDir, checkpoint.ManifestName)),
		filepath.ToSlash(filepath.Join(CandidateDir, checkpoint.ManifestName)),
		pages,
	), nil
}

// preflight logs when pdfcpu disagrees with the candidate's page count.
// The authoritative check is between the two renderers.
func (p *Pipeline) preflight(logCtx *slog.Logger, doc source.Document, candidatePages int) {
	if p.Inspector == nil {
		return
	}
	count, err := p.Inspector.PageCount(doc.Path)
	if err != nil {
		logCtx.Warn("Preflight could not read document.", "error", err)
		return
	}
	if count != candidatePages {
		logCtx.Warn("Preflight page count differs from candidate render.",
			"preflightPages", count, "candidatePages", candidatePages)
	}
}
