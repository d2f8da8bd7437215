package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/renderparity/internal/checkpoint"
	"github.com/Lllllllleong/renderparity/internal/config"
	"github.com/Lllllllleong/renderparity/internal/diff"
	"github.com/Lllllllleong/renderparity/internal/gcp"
	"github.com/Lllllllleong/renderparity/internal/models"
	"github.com/Lllllllleong/renderparity/internal/pipeline"
	"github.com/Lllllllleong/renderparity/internal/render"
	"github.com/Lllllllleong/renderparity/internal/source"
)

// RunHistory stores and looks up run records.
type RunHistory interface {
	Record(ctx context.Context, rec models.RunRecord) (string, error)
	FindBySourceHash(ctx context.Context, sha string) ([]gcp.StoredRun, error)
}

// CompareRunner runs the comparison pipeline and, when configured,
// publishes the results and records the run.
type CompareRunner struct {
	pipeline  *pipeline.Pipeline
	publisher *gcp.Publisher
	history   RunHistory
	logger    *slog.Logger

	storageClient   *storage.Client
	firestoreClient *firestore.Client
}

// NewCompareRunner wires the renderers and the optional cloud clients.
// A missing candidate executable is a configuration error.
func NewCompareRunner(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*CompareRunner, error) {
	candidate, err := render.NewCandidate(cfg.CandidatePath, cfg.CandidateTimeout, logger)
	if err != nil {
		return nil, err
	}

	r := &CompareRunner{
		pipeline: &pipeline.Pipeline{
			OutputRoot: cfg.OutputRoot,
			DPI:        cfg.DPI,
			Candidate:  candidate,
			Reference:  render.NewReference(logger),
			Differ:     diff.New(logger),
			Inspector:  source.PDFCPUInspector{},
			Jobs:       cfg.Jobs,
			Logger:     logger,
		},
		logger: logger,
	}

	if cfg.ResultsBucket != "" {
		r.storageClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		r.publisher = gcp.NewPublisher(r.storageClient, cfg.ResultsBucket, cfg.ResultsPrefix, logger)
	}
	if cfg.ProjectID != "" {
		r.firestoreClient, err = gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		r.history = gcp.NewHistoryRecorder(r.firestoreClient, cfg.FirestoreCollection)
	}

	logger.Info("Comparison runner initialized.",
		"candidate", candidate.Identity(),
		"reference", r.pipeline.Reference.Identity(),
		"dpi", cfg.DPI,
		"jobs", cfg.Jobs,
		"publish", r.publisher != nil,
		"history", r.history != nil,
	)
	return r, nil
}

// StorageClient is nil unless publication is configured.
func (r *CompareRunner) StorageClient() *storage.Client { return r.storageClient }

// History is nil unless run history is configured.
func (r *CompareRunner) History() RunHistory { return r.history }

// Run processes docs and aggregates the output root. Publication and
// history failures are logged and never change the outcome.
func (r *CompareRunner) Run(ctx context.Context, docs []source.Document) (*pipeline.Outcome, error) {
	started := time.Now().UTC()
	outcome, resultsURI, err := r.execute(ctx, docs)
	if err != nil {
		return nil, err
	}
	if r.history != nil {
		rec := NewRunRecord(outcome, r.pipeline.OutputRoot, r.pipeline.DPI, started, time.Now().UTC())
		rec.ResultsURI = resultsURI
		r.record(ctx, rec)
	}
	return outcome, nil
}

// RunDocument processes a single upload. Its history record is keyed by
// the document's content hash and describes that document alone, even when
// the output root holds earlier documents too.
func (r *CompareRunner) RunDocument(ctx context.Context, doc source.Document) (models.DocumentResult, error) {
	started := time.Now().UTC()
	outcome, resultsURI, err := r.execute(ctx, []source.Document{doc})
	if err != nil {
		return models.DocumentResult{}, err
	}
	result := outcome.Results[0]

	if r.history != nil {
		var manifest *models.DiffManifest
		if !result.Failed() {
			manifest, err = checkpoint.Load[models.DiffManifest](result.DiffManifestPath)
			if err != nil {
				r.logger.Error("Failed to read diff manifest for run history.", "path", result.DiffManifestPath, "error", err)
				return result, nil
			}
		}
		rec := NewDocumentRecord(doc, result, manifest, r.pipeline.OutputRoot, r.pipeline.DPI, started, time.Now().UTC())
		rec.ResultsURI = resultsURI
		r.record(ctx, rec)
	}
	return result, nil
}

func (r *CompareRunner) execute(ctx context.Context, docs []source.Document) (*pipeline.Outcome, string, error) {
	outcome, err := r.pipeline.Execute(ctx, docs)
	if err != nil {
		return nil, "", err
	}

	var resultsURI string
	if r.publisher != nil {
		if _, err := r.publisher.PublishTree(ctx, r.pipeline.OutputRoot, pipeline.ReportName); err != nil {
			r.logger.Error("Failed to publish results.", "error", err)
		} else {
			resultsURI = r.publisher.URI()
		}
	}
	return outcome, resultsURI, nil
}

func (r *CompareRunner) record(ctx context.Context, rec models.RunRecord) {
	id, err := r.history.Record(ctx, rec)
	if err != nil {
		r.logger.Error("Failed to record run history.", "error", err)
		return
	}
	r.logger.Info("Recorded run history.", "runId", id)
}

// NewRunRecord summarises outcome for the run history.
func NewRunRecord(outcome *pipeline.Outcome, outputRoot string, dpi int, started, finished time.Time) models.RunRecord {
	rec := models.RunRecord{
		OutputRoot:         outputRoot,
		DPI:                dpi,
		TotalDocuments:     outcome.Report.TotalDocuments,
		IdenticalDocuments: outcome.Report.IdenticalDocuments,
		MatchRate:          outcome.Report.MatchRate,
		TotalPages:         outcome.Report.TotalPages,
		TotalDiffPixels:    outcome.Report.TotalDiffPixels,
		ExitCode:           outcome.ExitCode,
		StartedAt:          started,
		FinishedAt:         finished,
	}
	for _, e := range outcome.Errors() {
		rec.Errors = append(rec.Errors, fmt.Sprintf("%s: %s", e.DocumentName, e.ErrorMessage))
	}
	return rec
}

// NewDocumentRecord describes one document's run. manifest is nil when the
// document failed.
func NewDocumentRecord(doc source.Document, result models.DocumentResult, manifest *models.DiffManifest, outputRoot string, dpi int, started, finished time.Time) models.RunRecord {
	rec := models.RunRecord{
		SourceSHA256:   doc.SHA256,
		SourceName:     doc.Name,
		OutputRoot:     outputRoot,
		DPI:            dpi,
		TotalDocuments: 1,
		ExitCode:       1,
		StartedAt:      started,
		FinishedAt:     finished,
	}
	if result.Failed() || manifest == nil {
		rec.Errors = []string{fmt.Sprintf("%s: %s", result.DocumentName, result.ErrorMessage)}
		return rec
	}
	rec.TotalPages = manifest.TotalPages
	rec.TotalDiffPixels = manifest.TotalDiffPixels
	if manifest.Identical {
		rec.IdenticalDocuments = 1
		rec.MatchRate = 1
		rec.ExitCode = 0
	}
	return rec
}

// CompletedRun returns the first run that compared the document without a
// processing error. Runs with errors do not count, so a failed comparison
// is retried on the next upload.
func CompletedRun(runs []gcp.StoredRun) (gcp.StoredRun, bool) {
	for _, run := range runs {
		if len(run.Record.Errors) == 0 {
			return run, true
		}
	}
	return gcp.StoredRun{}, false
}

// Close releases the cloud clients.
func (r *CompareRunner) Close() {
	if r.storageClient != nil {
		_ = r.storageClient.Close()
	}
	if r.firestoreClient != nil {
		_ = r.firestoreClient.Close()
	}
}
