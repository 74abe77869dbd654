package export

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONLExporter exports manifests in JSONL format (one step per line)
type JSONLExporter struct{}

// Export writes one line per step, each carrying the run identity
func (e *JSONLExporter) Export(manifest *Manifest, w io.Writer) error {
	enc := json.NewEncoder(w)

	for _, step := range manifest.Steps {
		obj := map[string]interface{}{
			"reconstruction_id": manifest.ID,
			"monitor_id":        manifest.MonitorID,
			"grouping_key":      manifest.GroupingKey,
			"index":             step.Index,
			"status":            step.Status,
		}
		if step.File != "" {
			obj["file"] = step.File
		}
		if step.Error != "" {
			obj["error"] = step.Error
		}

		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("failed to encode step %d: %w", step.Index, err)
		}
	}

	return nil
}

// Extension returns the file extension for this format
func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
