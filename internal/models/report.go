package models

// AggregateReport summarises every diff manifest found under an output root.
// It is recomputed and overwritten on every run.
type AggregateReport struct {
	TotalDocuments     int             `json:"total_documents"`
	IdenticalDocuments int             `json:"identical_documents"`
	MatchRate          float64         `json:"match_rate"`
	TotalPages         int             `json:"total_pages"`
	TotalDiffPixels    int             `json:"total_diff_pixels"`
	PerDocument        []*DiffManifest `json:"per_document"`
}

// DocumentStatus is the outcome of one document's pipeline run.
type DocumentStatus string

const (
	StatusSuccess DocumentStatus = "success"
	StatusError   DocumentStatus = "error"
)

// DocumentResult is kept in memory only; the aggregate is rebuilt from disk.
type DocumentResult struct {
	DocumentName     string         `json:"document_name"`
	Status           DocumentStatus `json:"status"`
	DiffManifestPath string         `json:"diff_manifest_path,omitempty"`
	ErrorKind        ErrorKind      `json:"error_kind,omitempty"`
	ErrorMessage     string         `json:"error,omitempty"`
}

func (r DocumentResult) Failed() bool {
	return r.Status == StatusError
}
