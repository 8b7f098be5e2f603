package ingestion

import "strings"

// QualityError is raised by extraction when content fails a sanity check.
// A message containing "RECURSION" routes to
// review/ instead of rejected/ — a defensive guard against a previously
// filed sidecar transcript wandering back into the ingest directory and
// being treated as a fresh quality failure.
type QualityError struct {
	Message string
}

func (e *QualityError) Error() string { return e.Message }

// NewQualityError builds a QualityError whose message always contains the
// "Quality Check Failed" marker the pipeline's outcome dispatch matches on.
func NewQualityError(reason string) *QualityError {
	return &QualityError{Message: "Quality Check Failed: " + reason}
}

// NewRecursionError flags content that looks like a previously-filed
// sidecar transcript re-entering the pipeline.
func NewRecursionError(reason string) *QualityError {
	return &QualityError{Message: "Quality Check Failed (RECURSION): " + reason}
}

func (e *QualityError) isRecursion() bool {
	return strings.Contains(e.Message, "RECURSION")
}
