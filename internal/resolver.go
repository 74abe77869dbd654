package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultLookback is how far back the run lookup searches for the latest run
const DefaultLookback = 5 * time.Minute

// RunResolver finds the latest run of a monitor
type RunResolver struct {
	lookup   RunLookup
	lookback time.Duration
	now      func() time.Time
}

// NewRunResolver creates a RunResolver. A non-positive lookback uses DefaultLookback.
func NewRunResolver(lookup RunLookup, lookback time.Duration) *RunResolver {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &RunResolver{lookup: lookup, lookback: lookback, now: time.Now}
}

// ResolveLatestRun returns the newest run in the lookup window, or ErrNotFound
func (r *RunResolver) ResolveLatestRun(ctx context.Context, monitorID string) (*Run, error) {
	if strings.TrimSpace(monitorID) == "" {
		return nil, fmt.Errorf("monitor id is required")
	}

	to := r.now()
	from := to.Add(-r.lookback)
	run, err := r.lookup.LatestRun(ctx, monitorID, from, to)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up latest run for %s: %w", monitorID, err)
	}
	if run == nil || run.GroupingKey == "" {
		return nil, ErrNotFound
	}
	return run, nil
}

// StepLocator finds which steps of a run use tile-referenced screenshots
type StepLocator struct {
	source StepMetadataSource
}

// NewStepLocator creates a StepLocator
func NewStepLocator(source StepMetadataSource) *StepLocator {
	return &StepLocator{source: source}
}

// ListTileReferencedSteps returns screenshot indices of tile-referenced steps in run order.
// The layout service numbers screenshots by array position + 1, independent of
// whatever index the step metadata carries.
func (l *StepLocator) ListTileReferencedSteps(ctx context.Context, groupingKey string) ([]int, error) {
	steps, err := l.source.Steps(ctx, groupingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps for %s: %w", groupingKey, err)
	}

	indices := make([]int, 0, len(steps))
	for pos, step := range steps {
		if step.CaptureMode != CaptureTileReferenced {
			continue
		}
		indices = append(indices, pos+1)
	}
	return indices, nil
}
