package internal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a monitor has no run inside the lookup window.
// It is an expected outcome, not a failure.
var ErrNotFound = errors.New("no run found in lookup window")

// APIError represents a non-2xx response from the monitoring API
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("api error: %s %s: status %d: %s", e.Method, e.Path, e.Status, body)
}

// ReferenceFetchError represents a failed tile-reference request for one step
type ReferenceFetchError struct {
	StepIndex int
	Err       error
}

func (e *ReferenceFetchError) Error() string {
	return fmt.Sprintf("reference fetch error [step %d]: %v", e.StepIndex, e.Err)
}

func (e *ReferenceFetchError) Unwrap() error {
	return e.Err
}

// TileFetchError represents a failed batched tile-content request.
// Every step that needed tiles from the batch reports it.
type TileFetchError struct {
	StepIndex int
	Err       error
}

func (e *TileFetchError) Error() string {
	return fmt.Sprintf("tile fetch error [step %d]: %v", e.StepIndex, e.Err)
}

func (e *TileFetchError) Unwrap() error {
	return e.Err
}

// MissingTilePayloadError means the batch response lacked hashes a step references.
// This points at inconsistent data on the remote side rather than a transient failure.
type MissingTilePayloadError struct {
	StepIndex int
	Hashes    []string
}

func (e *MissingTilePayloadError) Error() string {
	return fmt.Sprintf("missing tile payload [step %d]: %s", e.StepIndex, strings.Join(e.Hashes, ", "))
}

// CompositeError represents a failure decoding or drawing a tile
type CompositeError struct {
	StepIndex int
	Hash      string // empty when the failure is not tile specific (e.g. encoding)
	Err       error
}

func (e *CompositeError) Error() string {
	if e.Hash == "" {
		return fmt.Sprintf("composite error [step %d]: %v", e.StepIndex, e.Err)
	}
	return fmt.Sprintf("composite error [step %d] tile %s: %v", e.StepIndex, e.Hash, e.Err)
}

func (e *CompositeError) Unwrap() error {
	return e.Err
}

// ConfigError represents an invalid configuration value
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error [%s]: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ExportError represents errors during export
type ExportError struct {
	Format string
	Path   string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [%s] %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// FailureKind classifies a step failure for reporting.
func FailureKind(err error) string {
	var (
		refErr     *ReferenceFetchError
		tileErr    *TileFetchError
		missingErr *MissingTilePayloadError
		compErr    *CompositeError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &missingErr):
		return "missing_tile_payload"
	case errors.As(err, &refErr):
		return "reference_fetch"
	case errors.As(err, &tileErr):
		return "tile_fetch"
	case errors.As(err, &compErr):
		return "composite"
	default:
		return "unknown"
	}
}
