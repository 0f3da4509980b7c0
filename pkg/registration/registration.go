// Package registration defines the call contracts for the external rigid and
// deformable registration collaborators, and drives each atlas through its
// full registration chain on a bounded worker pool.
//
// The numerical optimisation inside a registration solve is deliberately out
// of scope: collaborators are injected through the interfaces below. The
// package ships simple reference implementations (centroid translation and an
// identity displacement field) so the pipeline can run end to end without an
// external solver.
package registration

import (
	"context"

	"cardiacatlas/pkg/volume"
)

// Interpolation selects how a transform resamples voxel values.
type Interpolation int

const (
	Nearest Interpolation = iota
	Linear
	BSpline
)

// Transform maps a moving volume into a reference grid. Implementations are
// produced by registration collaborators and stored per atlas per stage.
type Transform interface {
	// Resample maps the moving volume onto the reference grid using the
	// given interpolation. The moving volume is not modified.
	Resample(reference, moving *volume.Volume, interp Interpolation) (*volume.Volume, error)
}

// RigidOptions configures the rigid (linear) registration collaborator.
type RigidOptions struct {
	// Method names the linear registration model, e.g. "Affine" or "Rigid".
	Method string

	// ShrinkFactors and SmoothSigmas define the multi-resolution schedule,
	// coarsest stage first.
	ShrinkFactors []int
	SmoothSigmas  []float64

	// SamplingRate is the fraction of voxels sampled by the metric, in (0,1].
	SamplingRate float64

	// FinalInterp is the interpolation used for the final image resampling.
	FinalInterp Interpolation
}

// DeformableOptions configures the deformable registration collaborator.
type DeformableOptions struct {
	// ResolutionStaging and IterationStaging define the staged schedule,
	// coarsest resolution first, one iteration count per stage.
	ResolutionStaging []int
	IterationStaging  []int

	// Cores is a resource hint for the collaborator's own numerical solve.
	// It is independent of the orchestrator's worker pool size.
	Cores int
}

// RigidRegistrar aligns a moving volume to a fixed volume with a linear
// transform. The optional guide structure may steer the alignment; nil means
// image-driven registration.
type RigidRegistrar interface {
	Register(ctx context.Context, fixed, moving, guide *volume.Volume, opts RigidOptions) (*volume.Volume, Transform, error)
}

// DeformableRegistrar refines an already linearly aligned moving volume with
// a per-voxel displacement field.
type DeformableRegistrar interface {
	Register(ctx context.Context, fixed, moving *volume.Volume, opts DeformableOptions) (*volume.Volume, Transform, error)
}

// PropagateStructure maps a binary structure label through a transform with
// label-preserving interpolation: Nearest passes through directly, anything
// else resamples linearly and re-binarises at 0.5 so the output stays a
// strict {0,1} label volume.
func PropagateStructure(reference, label *volume.Volume, t Transform, interp Interpolation) (*volume.Volume, error) {
	if interp == Nearest {
		return t.Resample(reference, label, Nearest)
	}
	resampled, err := t.Resample(reference, label, Linear)
	if err != nil {
		return nil, err
	}
	return resampled.Threshold(0.5), nil
}
