package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Lllllllleong/renderparity/internal/checkpoint"
	"github.com/Lllllllleong/renderparity/internal/models"
	"github.com/Lllllllleong/renderparity/internal/source"
)

// ReportName is the aggregate report's file name under the output root.
const ReportName = "aggregate-report.json"

// Aggregate folds every <root>/*/diff manifest into a report. It reads
// only from disk, so it can summarise an output tree without rendering.
func Aggregate(root string) (*models.AggregateReport, error) {
	paths, err := filepath.Glob(filepath.Join(root, "*", DiffDir, checkpoint.ManifestName))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)

	report := &models.AggregateReport{PerDocument: []*models.DiffManifest{}}
	for _, path := range paths {
		m, err := checkpoint.Load[models.DiffManifest](path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		report.TotalDocuments++
		if m.Identical {
			report.IdenticalDocuments++
		}
		report.TotalPages += m.TotalPages
		report.TotalDiffPixels += m.TotalDiffPixels
		report.PerDocument = append(report.PerDocument, m)
	}
	if report.TotalDocuments > 0 {
		report.MatchRate = float64(report.IdenticalDocuments) / float64(report.TotalDocuments)
	}
	return report, nil
}

// WriteReport overwrites the report file under root and returns its path.
func WriteReport(root string, report *models.AggregateReport) (string, error) {
	path := filepath.Join(root, ReportName)
	if err := checkpoint.WriteJSON(path, report); err != nil {
		return "", fmt.Errorf("failed to write aggregate report: %w", err)
	}
	return path, nil
}

// ExitCode is 0 only when every aggregated document is identical and no
// document failed during this run.
func ExitCode(report *models.AggregateReport, results []models.DocumentResult) int {
	for _, r := range results {
		if r.Failed() {
			return 1
		}
	}
	if report.IdenticalDocuments != report.TotalDocuments {
		return 1
	}
	return 0
}

// Outcome is everything a run produced.
type Outcome struct {
	Results    []models.DocumentResult
	Report     *models.AggregateReport
	ReportPath string
	ExitCode   int
}

// Errors returns the failed results.
func (o *Outcome) Errors() []models.DocumentResult {
	var errs []models.DocumentResult
	for _, r := range o.Results {
		if r.Failed() {
			errs = append(errs, r)
		}
	}
	return errs
}

// Execute processes docs, then aggregates and writes the report.
func (p *Pipeline) Execute(ctx context.Context, docs []source.Document) (*Outcome, error) {
	results := p.Run(ctx, docs)

	p.Logger.Info("Aggregating results.", "outputRoot", p.OutputRoot)
	report, err := Aggregate(p.OutputRoot)
	if err != nil {
		return nil, err
	}
	path, err := WriteReport(p.OutputRoot, report)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Results:    results,
		Report:     report,
		ReportPath: path,
		ExitCode:   ExitCode(report, results),
	}, nil
}

// PrintSummary writes the human readable end-of-run summary.
func PrintSummary(w io.Writer, o *Outcome) {
	r := o.Report
	rule := strings.Repeat("=", 80)
	fmt.Fprintf(w, "\n%s\nSUMMARY\n%s\n", rule, rule)
	fmt.Fprintf(w, "Total documents: %d\n", r.TotalDocuments)
	fmt.Fprintf(w, "Total pages: %d\n", r.TotalPages)
	fmt.Fprintf(w, "Identical renders: %d/%d\n", r.IdenticalDocuments, r.TotalDocuments)
	fmt.Fprintf(w, "Match rate: %.1f%%\n", r.MatchRate*100)

	var nonIdentical []*models.DiffManifest
	for _, m := range r.PerDocument {
		if !m.Identical {
			nonIdentical = append(nonIdentical, m)
		}
	}
	if len(nonIdentical) > 0 {
		fmt.Fprintf(w, "\nNon-identical documents (%d):\n", len(nonIdentical))
		for _, m := range nonIdentical {
			fmt.Fprintf(w, "  - %s\n", m.DocumentName)
			fmt.Fprintf(w, "    Total diff pixels: %d\n", m.TotalDiffPixels)
			fmt.Fprintf(w, "    Pages: %d\n", m.TotalPages)
		}
	}

	if errs := o.Errors(); len(errs) > 0 {
		fmt.Fprintf(w, "\nProcessing errors (%d):\n", len(errs))
		for _, e := range errs {
			fmt.Fprintf(w, "  - %s [%s]: %s\n", e.DocumentName, e.ErrorKind, e.ErrorMessage)
		}
	}

	fmt.Fprintf(w, "\nAggregate results saved to: %s\n", o.ReportPath)
}
