package config

import "os"

// ExpandEnv expands environment variables in YAML content using Go's standard library.
// Supports both ${VAR} and $VAR syntax (standard shell-style).
//
// Examples:
//   - ${RAG_INGEST_DIR} → value of RAG_INGEST_DIR environment variable
//   - $BRAIN_DIR → value of BRAIN_DIR environment variable
//
// Missing variables expand to empty string; validation catches required fields left empty.
func ExpandEnv(data []byte) []byte {
	expanded := os.ExpandEnv(string(data))
	return []byte(expanded)
}
