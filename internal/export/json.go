package export

import (
	"encoding/json"
	"io"
)

// JSONExporter exports manifests in JSON format (pretty-printed)
type JSONExporter struct{}

// Export writes the manifest as indented JSON
func (e *JSONExporter) Export(manifest *Manifest, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(manifest)
}

// Extension returns the file extension for this format
func (e *JSONExporter) Extension() string {
	return "json"
}
