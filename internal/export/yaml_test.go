package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/iksnae/synthshot/internal"
	"gopkg.in/yaml.v3"
)

func TestYAMLExporter_Export(t *testing.T) {
	manifest := NewManifest(internal.CreateTestReconstruction("mon-1"), map[int]string{1: "step_1.jpg", 4: "step_4.jpg"}, "")

	var buf bytes.Buffer
	if err := (&YAMLExporter{}).Export(manifest, &buf); err != nil {
		t.Fatalf("YAMLExporter.Export() error = %v", err)
	}

	output := buf.String()
	var got Manifest
	if err := yaml.Unmarshal([]byte(output), &got); err != nil {
		t.Fatalf("Output is not valid YAML: %v\nOutput: %s", err, output)
	}

	if got.GroupingKey != "check-group-1" {
		t.Errorf("GroupingKey = %q, want check-group-1", got.GroupingKey)
	}
	if len(got.Steps) != 3 {
		t.Errorf("len(Steps) = %d, want 3", len(got.Steps))
	}
	if !strings.Contains(output, "monitor_id: mon-1") {
		t.Errorf("Output should contain monitor_id, got:\n%s", output)
	}
}

func TestYAMLExporter_Extension(t *testing.T) {
	if got := (&YAMLExporter{}).Extension(); got != "yaml" {
		t.Errorf("YAMLExporter.Extension() = %v, want yaml", got)
	}
}
