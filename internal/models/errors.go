package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a document failure for reporting.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindStage         ErrorKind = "stage"
	KindConsistency   ErrorKind = "consistency"
	KindManifest      ErrorKind = "manifest"
	KindIO            ErrorKind = "io"
)

// ConfigurationError is fatal to the whole run: a missing renderer
// executable or input folder. It is never retried.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Msg, e.Err)
	}
	return "configuration: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StageExecutionError is a renderer failure. Stderr holds whatever the
// candidate subprocess printed before exiting.
type StageExecutionError struct {
	Stage  string
	Stderr string
	Err    error
}

func (e *StageExecutionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.Stage, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// ConsistencyError reports a page-count disagreement between renderers.
type ConsistencyError struct {
	ReferencePages int
	CandidatePages int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("page count mismatch: candidate=%d, reference=%d", e.CandidatePages, e.ReferencePages)
}

// ManifestError is a manifest that exists but cannot be trusted. It is not
// regenerated automatically.
type ManifestError struct {
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("invalid manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// Classify maps an error onto the kind reported in a DocumentResult.
func Classify(err error) ErrorKind {
	var (
		cfgErr   *ConfigurationError
		stageErr *StageExecutionError
		consErr  *ConsistencyError
		manErr   *ManifestError
	)
	switch {
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &consErr):
		return KindConsistency
	case errors.As(err, &manErr):
		return KindManifest
	case errors.As(err, &stageErr):
		return KindStage
	default:
		return KindIO
	}
}
