package models

import "time"

// RunRecord is the history entry stored in Firestore for one harness run.
// It carries the aggregate totals, not the per-page detail.
type RunRecord struct {
	SourceSHA256       string    `firestore:"sourceSha256,omitempty"`
	SourceName         string    `firestore:"sourceName,omitempty"`
	OutputRoot         string    `firestore:"outputRoot,omitempty"`
	DPI                int       `firestore:"dpi"`
	TotalDocuments     int       `firestore:"totalDocuments"`
	IdenticalDocuments int       `firestore:"identicalDocuments"`
	MatchRate          float64   `firestore:"matchRate"`
	TotalPages         int       `firestore:"totalPages"`
	TotalDiffPixels    int       `firestore:"totalDiffPixels"`
	Errors             []string  `firestore:"errors,omitempty"`
	ExitCode           int       `firestore:"exitCode"`
	ResultsURI         string    `firestore:"resultsUri,omitempty"` // For traceability
	StartedAt          time.Time `firestore:"startedAt,omitempty"`
	FinishedAt         time.Time `firestore:"finishedAt,omitempty"`
}
