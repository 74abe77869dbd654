package export

import (
	"path/filepath"
	"time"

	"github.com/iksnae/synthshot/internal"
)

// Manifest describes a reconstruction and the image files written for it
type Manifest struct {
	ID              string         `json:"id" yaml:"id"`
	MonitorID       string         `json:"monitor_id" yaml:"monitor_id"`
	GroupingKey     string         `json:"grouping_key" yaml:"grouping_key"`
	StartedAt       time.Time      `json:"started_at" yaml:"started_at"`
	DurationSeconds int64          `json:"duration_seconds" yaml:"duration_seconds"`
	Elapsed         string         `json:"elapsed" yaml:"elapsed"`
	Steps           []ManifestStep `json:"steps" yaml:"steps"`
}

// ManifestStep is one step of the manifest
type ManifestStep struct {
	Index  int    `json:"index" yaml:"index"`
	Status string `json:"status" yaml:"status"`
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
	Width  int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height int    `json:"height,omitempty" yaml:"height,omitempty"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewManifest builds a manifest. files maps step index to the written image path;
// paths are stored relative to baseDir when possible.
func NewManifest(rec *internal.Reconstruction, files map[int]string, baseDir string) *Manifest {
	m := &Manifest{
		ID:              rec.ID,
		MonitorID:       rec.MonitorID,
		GroupingKey:     rec.Run.GroupingKey,
		StartedAt:       rec.Run.StartedAt,
		DurationSeconds: rec.Run.DurationSeconds(),
		Elapsed:         rec.Elapsed.Round(time.Millisecond).String(),
		Steps:           make([]ManifestStep, 0, len(rec.Steps)),
	}

	for _, s := range rec.Steps {
		step := ManifestStep{Index: s.StepIndex}
		if s.OK() {
			step.Status = "ok"
			step.Format = s.Image.Format
			step.Width = s.Image.Width
			step.Height = s.Image.Height
			step.File = relativeTo(baseDir, files[s.StepIndex])
		} else {
			step.Status = internal.FailureKind(s.Err)
			if s.Err != nil {
				step.Error = s.Err.Error()
			}
		}
		m.Steps = append(m.Steps, step)
	}
	return m
}

func relativeTo(base, path string) string {
	if path == "" || base == "" {
		return path
	}
	if rel, err := filepath.Rel(base, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

// Failed returns the number of failed steps
func (m *Manifest) Failed() int {
	n := 0
	for _, s := range m.Steps {
		if s.Status != "ok" {
			n++
		}
	}
	return n
}
