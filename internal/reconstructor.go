package internal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultReferenceConcurrency = 4
	DefaultCompositeConcurrency = 2
)

// ReconstructorOptions configures the reconstruction pipeline
type ReconstructorOptions struct {
	Lookback             time.Duration
	ReferenceConcurrency int
	CompositeConcurrency int
	Compositor           *Compositor
}

// Reconstructor rebuilds the screenshots of a monitor's latest run.
// It keeps no state between calls.
type Reconstructor struct {
	resolver   *RunResolver
	locator    *StepLocator
	references TileReferenceSource
	store      *TileStore
	compositor *Compositor
	refLimit   int
	compLimit  int
}

// NewReconstructor creates a Reconstructor backed by the monitoring API
func NewReconstructor(api MonitoringAPI, opts ReconstructorOptions) *Reconstructor {
	r := &Reconstructor{
		resolver:   NewRunResolver(api, opts.Lookback),
		locator:    NewStepLocator(api),
		references: api,
		store:      NewTileStore(api),
		compositor: opts.Compositor,
		refLimit:   opts.ReferenceConcurrency,
		compLimit:  opts.CompositeConcurrency,
	}
	if r.compositor == nil {
		r.compositor = NewCompositor(CompositorOptions{})
	}
	if r.refLimit <= 0 {
		r.refLimit = DefaultReferenceConcurrency
	}
	if r.compLimit <= 0 {
		r.compLimit = DefaultCompositeConcurrency
	}
	return r
}

// ReconstructRun reconstructs every tile-referenced step of the monitor's latest run.
// It returns ErrNotFound when there is no recent run. Step failures are reported in
// the matching StepResult and never abort the other steps. If ctx is cancelled the
// partial result is discarded and ctx.Err() is returned.
func (r *Reconstructor) ReconstructRun(ctx context.Context, monitorID string) (*Reconstruction, error) {
	start := time.Now()
	rec, err := r.reconstruct(ctx, monitorID)
	if rec != nil {
		rec.Elapsed = time.Since(start)
	}
	recordReconstruction(rec, err)
	return rec, err
}

func (r *Reconstructor) reconstruct(ctx context.Context, monitorID string) (*Reconstruction, error) {
	run, err := r.resolver.ResolveLatestRun(ctx, monitorID)
	if errors.Is(err, ErrNotFound) {
		LogInfo("No recent run for monitor %s", monitorID)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	LogDebug("Monitor %s latest run %s (%dus)", monitorID, run.GroupingKey, run.DurationMicros)

	indices, err := r.locator.ListTileReferencedSteps(ctx, run.GroupingKey)
	if err != nil {
		return nil, err
	}

	rec := &Reconstruction{
		ID:        uuid.NewString(),
		MonitorID: monitorID,
		Run:       *run,
		Steps:     make([]StepResult, len(indices)),
	}
	for i, idx := range indices {
		rec.Steps[i].StepIndex = idx
	}
	if len(indices) == 0 {
		LogInfo("Run %s has no tile-referenced steps", run.GroupingKey)
		return rec, nil
	}

	refs := r.fetchReferences(ctx, run.GroupingKey, rec.Steps)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The batch is issued only after every reference fetch has returned.
	hashes := CollectHashes(refs)
	for _, ref := range refs {
		if ref != nil {
			TileReferencesTotal.Add(float64(len(ref.Tiles)))
		}
	}
	TileFetchedTotal.Add(float64(len(hashes)))

	tiles, err := r.store.ResolveTiles(ctx, hashes)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		LogWarn("Tile batch fetch failed for run %s: %v", run.GroupingKey, err)
		for i, ref := range refs {
			if ref == nil || len(ref.Tiles) == 0 {
				continue
			}
			rec.Steps[i].Err = &TileFetchError{StepIndex: ref.StepIndex, Err: err}
			refs[i] = nil
		}
	}

	r.compositeAll(ctx, refs, tiles, rec.Steps)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, s := range rec.Failed() {
		LogWarn("Step %d failed: %v", s.StepIndex, s.Err)
	}
	return rec, nil
}

// fetchReferences fetches each step's layout concurrently. The returned slice is
// aligned with steps; a failed slot is nil and its StepResult carries the error.
func (r *Reconstructor) fetchReferences(ctx context.Context, groupingKey string, steps []StepResult) []*TileReference {
	refs := make([]*TileReference, len(steps))

	var g errgroup.Group
	g.SetLimit(r.refLimit)
	for i := range steps {
		idx := steps[i].StepIndex
		g.Go(func() error {
			ref, err := r.references.TileReference(ctx, groupingKey, idx)
			if err != nil {
				steps[i].Err = &ReferenceFetchError{StepIndex: idx, Err: err}
				return nil
			}
			if ref == nil {
				steps[i].Err = &ReferenceFetchError{StepIndex: idx, Err: errors.New("empty tile reference")}
				return nil
			}
			ref.StepIndex = idx
			refs[i] = ref
			return nil
		})
	}
	_ = g.Wait()

	return refs
}

// compositeAll composites each step with a usable reference. Results land in the
// StepResult with the same position, which keeps the output in step order.
func (r *Reconstructor) compositeAll(ctx context.Context, refs []*TileReference, tiles TileSet, steps []StepResult) {
	var g errgroup.Group
	g.SetLimit(r.compLimit)
	for i, ref := range refs {
		if ref == nil {
			continue
		}
		g.Go(func() error {
			img, err := r.compositor.Composite(ctx, ref, tiles)
			if err != nil {
				steps[i].Err = err
				return nil
			}
			steps[i].Image = img
			return nil
		})
	}
	_ = g.Wait()
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
