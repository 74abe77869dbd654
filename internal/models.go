package internal

import (
	"context"
	"math"
	"time"
)

// Run is the most recent execution of a monitor
type Run struct {
	GroupingKey    string    `json:"grouping_key" yaml:"grouping_key"`
	DurationMicros int64     `json:"duration_us" yaml:"duration_us"`
	StartedAt      time.Time `json:"started_at" yaml:"started_at"`
}

// Duration returns the run duration as a time.Duration
func (r *Run) Duration() time.Duration {
	return time.Duration(r.DurationMicros) * time.Microsecond
}

// DurationSeconds returns the duration rounded to whole seconds, 0 when unknown
func (r *Run) DurationSeconds() int64 {
	if r.DurationMicros <= 0 {
		return 0
	}
	return int64(math.Round(float64(r.DurationMicros) / 1000 / 1000))
}

// CaptureMode tells how a step's screenshot was stored
type CaptureMode int

const (
	CaptureInline CaptureMode = iota
	CaptureTileReferenced
)

func (m CaptureMode) String() string {
	if m == CaptureTileReferenced {
		return "tile-referenced"
	}
	return "inline"
}

// Step is one ordered unit of a run. Index is 1-based.
type Step struct {
	Index       int         `json:"index"`
	Name        string      `json:"name,omitempty"`
	CaptureMode CaptureMode `json:"capture_mode"`
}

// TileDescriptor places one content-addressed tile on the canvas
type TileDescriptor struct {
	Hash   string `json:"hash"`
	Left   int    `json:"left"`
	Top    int    `json:"top"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// TileReference is the layout of one tile-referenced step
type TileReference struct {
	StepIndex    int              `json:"step_index"`
	CanvasWidth  int              `json:"width"`
	CanvasHeight int              `json:"height"`
	Tiles        []TileDescriptor `json:"blocks"`
}

// TilePayload holds the encoded image bytes of a tile
type TilePayload struct {
	Hash string
	MIME string
	Data []byte
}

// ReconstructedImage is the composited screenshot for one step
type ReconstructedImage struct {
	StepIndex int    `json:"step_index" yaml:"step_index"`
	Format    string `json:"format" yaml:"format"`
	Width     int    `json:"width" yaml:"width"`
	Height    int    `json:"height" yaml:"height"`
	Data      []byte `json:"-" yaml:"-"`
}

// StepResult is one slot of a reconstruction. Exactly one of Image and Err is set.
type StepResult struct {
	StepIndex int
	Image     *ReconstructedImage
	Err       error
}

// OK reports whether the step was reconstructed
func (s StepResult) OK() bool {
	return s.Err == nil && s.Image != nil
}

// Reconstruction is the result of reconstructing a monitor's latest run
type Reconstruction struct {
	ID        string
	MonitorID string
	Run       Run
	Steps     []StepResult
	Elapsed   time.Duration
}

// Images returns the successfully reconstructed images in step order
func (r *Reconstruction) Images() []*ReconstructedImage {
	images := make([]*ReconstructedImage, 0, len(r.Steps))
	for _, s := range r.Steps {
		if s.OK() {
			images = append(images, s.Image)
		}
	}
	return images
}

// Failed returns the failed step results in step order
func (r *Reconstruction) Failed() []StepResult {
	var failed []StepResult
	for _, s := range r.Steps {
		if !s.OK() {
			failed = append(failed, s)
		}
	}
	return failed
}

// RunLookup resolves the latest run of a monitor inside a time window.
// Implementations return ErrNotFound when there is none.
type RunLookup interface {
	LatestRun(ctx context.Context, monitorID string, from, to time.Time) (*Run, error)
}

// StepMetadataSource lists the steps of a run in order
type StepMetadataSource interface {
	Steps(ctx context.Context, groupingKey string) ([]Step, error)
}

// TileReferenceSource returns the tile layout of one step
type TileReferenceSource interface {
	TileReference(ctx context.Context, groupingKey string, stepIndex int) (*TileReference, error)
}

// TileContentSource returns tile payloads for a batch of hashes.
// Hashes unknown to the remote side are simply absent from the result.
type TileContentSource interface {
	TileContents(ctx context.Context, hashes []string) ([]TilePayload, error)
}

// MonitoringAPI is the full set of remote collaborators used by the engine
type MonitoringAPI interface {
	RunLookup
	StepMetadataSource
	TileReferenceSource
	TileContentSource
}
