package registration

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"

	"cardiacatlas/pkg/volume"
)

// Unit is the per-atlas input to the stage runner: the original atlas image,
// its structure labels, and the optional guide structure for rigid alignment.
type Unit struct {
	ID         string
	Image      *volume.Volume
	Structures map[string]*volume.Volume
	Guide      *volume.Volume
}

// StageOutput holds everything produced by one registration stage for one
// atlas: the resampled image, the transform that produced it, and every
// structure label propagated through that transform.
type StageOutput struct {
	Image      *volume.Volume
	Transform  Transform
	Structures map[string]*volume.Volume
}

// UnitResult is the outcome of one atlas's full registration chain. A non-nil
// Err means the atlas failed and must be excluded from the run; other fields
// are then nil.
type UnitResult struct {
	ID         string
	Rigid      *StageOutput
	Deformable *StageOutput
	WeightMap  *volume.Volume
	Err        error
}

// Runner drives each atlas through rigid registration, deformable
// registration and weight-map computation as one schedulable unit of work.
// Units run concurrently on a bounded worker pool; no unit reads another
// unit's state, so partial results are never shared.
type Runner struct {
	Rigid             RigidRegistrar
	Deformable        DeformableRegistrar
	RigidOptions      RigidOptions
	DeformableOptions DeformableOptions

	// WeightMap derives the per-atlas similarity weight volume from the
	// cropped target and the deformably registered atlas image. Optional.
	WeightMap func(fixed, registered *volume.Volume) *volume.Volume

	// Workers bounds pool concurrency; zero or negative means GOMAXPROCS.
	Workers int

	// StageTimeout bounds each collaborator call; zero means no timeout.
	StageTimeout time.Duration

	Log *log.Logger
}

// Run registers every unit against the fixed (cropped target) volume and
// returns one result per unit, in input order. Per-unit failures are
// reported in the result, never propagated: losing individual atlases is an
// accepted mode of this pipeline.
func (r *Runner) Run(ctx context.Context, fixed *volume.Volume, units []Unit) []UnitResult {
	results := make([]UnitResult, len(units))

	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	sem := make(chan struct{}, workers)
	done := make(chan int, len(units))

	for i, unit := range units {
		sem <- struct{}{}
		go func(i int, unit Unit) {
			defer func() { <-sem }()
			results[i] = r.runUnit(ctx, fixed, unit)
			done <- i
		}(i, unit)
	}

	for range units {
		i := <-done
		if err := results[i].Err; err != nil {
			r.logf("atlas %s: registration failed: %v", results[i].ID, err)
		} else {
			r.logf("atlas %s: registration chain complete", results[i].ID)
		}
	}
	return results
}

// runUnit performs the full chain for a single atlas: rigid alignment, label
// propagation, deformable refinement, label propagation again, weight map.
func (r *Runner) runUnit(ctx context.Context, fixed *volume.Volume, unit Unit) UnitResult {
	res := UnitResult{ID: unit.ID}

	rigid, err := r.runRigid(ctx, fixed, unit)
	if err != nil {
		res.Err = fmt.Errorf("rigid stage: %w", err)
		return res
	}
	res.Rigid = rigid

	deformable, err := r.runDeformable(ctx, fixed, rigid)
	if err != nil {
		res.Err = fmt.Errorf("deformable stage: %w", err)
		return res
	}
	res.Deformable = deformable

	if r.WeightMap != nil {
		res.WeightMap = r.WeightMap(fixed, deformable.Image)
	}
	return res
}

func (r *Runner) runRigid(ctx context.Context, fixed *volume.Volume, unit Unit) (*StageOutput, error) {
	ctx, cancel := r.stageContext(ctx)
	defer cancel()

	image, transform, err := r.Rigid.Register(ctx, fixed, unit.Image, unit.Guide, r.RigidOptions)
	if err != nil {
		return nil, err
	}
	if image == nil || transform == nil {
		return nil, fmt.Errorf("registrar returned a degenerate result")
	}

	out := &StageOutput{
		Image:      image,
		Transform:  transform,
		Structures: make(map[string]*volume.Volume, len(unit.Structures)),
	}
	for name, label := range unit.Structures {
		propagated, err := PropagateStructure(fixed, label, transform, Linear)
		if err != nil {
			return nil, fmt.Errorf("propagating %s: %w", name, err)
		}
		out.Structures[name] = propagated
	}
	return out, nil
}

func (r *Runner) runDeformable(ctx context.Context, fixed *volume.Volume, rigid *StageOutput) (*StageOutput, error) {
	ctx, cancel := r.stageContext(ctx)
	defer cancel()

	image, field, err := r.Deformable.Register(ctx, fixed, rigid.Image, r.DeformableOptions)
	if err != nil {
		return nil, err
	}
	if image == nil || field == nil {
		return nil, fmt.Errorf("registrar returned a degenerate result")
	}

	out := &StageOutput{
		Image:      image,
		Transform:  field,
		Structures: make(map[string]*volume.Volume, len(rigid.Structures)),
	}
	for name, label := range rigid.Structures {
		propagated, err := PropagateStructure(fixed, label, field, Linear)
		if err != nil {
			return nil, fmt.Errorf("propagating %s: %w", name, err)
		}
		out.Structures[name] = propagated
	}
	return out, nil
}

func (r *Runner) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.StageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.StageTimeout)
}

func (r *Runner) logf(format string, args ...any) {
	if r.Log != nil {
		r.Log.Printf(format, args...)
	}
}
