package internal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// MetricsRegistry holds the reconstruction metrics. It is exposed by `serve`
// and written as a textfile by `reconstruct --metrics-file`.
var MetricsRegistry = prometheus.NewRegistry()

func init() {
	MetricsRegistry.MustRegister(
		ReconstructionDuration, ReconstructionTotal, StepTotal,
		TileReferencesTotal, TileFetchedTotal,
	)
}

// ReconstructionDuration reconstruction latency in seconds
var ReconstructionDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "synthshot_reconstruction_duration_seconds",
		Help:    "Time spent reconstructing a run's screenshots",
		Buckets: prometheus.DefBuckets,
	},
)

// ReconstructionTotal reconstructions by outcome
var ReconstructionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "synthshot_reconstructions_total",
		Help: "Reconstruction calls by outcome",
	},
	[]string{"outcome"}, // complete | partial | not_found | error | cancelled
)

// StepTotal reconstructed steps by result
var StepTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "synthshot_steps_total",
		Help: "Tile-referenced steps by result",
	},
	[]string{"result"}, // ok | reference_fetch | tile_fetch | missing_tile_payload | composite
)

// TileReferencesTotal tile descriptors seen across all steps, duplicates included
var TileReferencesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "synthshot_tile_references_total",
		Help: "Tile descriptors referenced by steps, duplicates included",
	},
)

// TileFetchedTotal unique tile hashes requested from the tile content service
var TileFetchedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "synthshot_tiles_fetched_total",
		Help: "Unique tile hashes requested in batch fetches",
	},
)

func recordReconstruction(rec *Reconstruction, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		ReconstructionTotal.WithLabelValues("not_found").Inc()
		return
	case err != nil:
		outcome := "error"
		if isContextError(err) {
			outcome = "cancelled"
		}
		ReconstructionTotal.WithLabelValues(outcome).Inc()
		return
	}

	ReconstructionDuration.Observe(rec.Elapsed.Seconds())
	for _, s := range rec.Steps {
		if s.OK() {
			StepTotal.WithLabelValues("ok").Inc()
			continue
		}
		StepTotal.WithLabelValues(FailureKind(s.Err)).Inc()
	}
	if len(rec.Failed()) > 0 {
		ReconstructionTotal.WithLabelValues("partial").Inc()
	} else {
		ReconstructionTotal.WithLabelValues("complete").Inc()
	}
}

// WriteMetrics writes the registry in Prometheus text format
func WriteMetrics(w io.Writer) error {
	families, err := MetricsRegistry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteMetricsFile writes the registry to path atomically (textfile collector style)
func WriteMetricsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	if err := WriteMetrics(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
