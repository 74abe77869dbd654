package export

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLExporter exports manifests in YAML format
type YAMLExporter struct{}

// Export writes the manifest as YAML
func (e *YAMLExporter) Export(manifest *Manifest, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer func() { _ = enc.Close() }()

	return enc.Encode(manifest)
}

// Extension returns the file extension for this format
func (e *YAMLExporter) Extension() string {
	return "yaml"
}
