package registration

import (
	"context"
	"fmt"

	"cardiacatlas/pkg/volume"
)

// TranslationTransform shifts the moving volume by a fixed voxel offset in
// the reference grid. It is the transform type produced by CentroidRigid and
// the building block of the test doubles used across the pipeline.
type TranslationTransform struct {
	DX, DY, DZ float64
}

// Resample maps the moving volume onto the reference grid, sampling the
// moving volume at position + offset. Out-of-bounds voxels become zero.
func (t *TranslationTransform) Resample(reference, moving *volume.Volume, interp Interpolation) (*volume.Volume, error) {
	out := volume.NewLike(reference)
	for z := 0; z < out.Depth; z++ {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				sx := float64(x) + t.DX
				sy := float64(y) + t.DY
				sz := float64(z) + t.DZ
				var val float64
				if interp == Nearest {
					val = moving.SampleNearest(sx, sy, sz, 0)
				} else {
					val = moving.Sample(sx, sy, sz, 0)
				}
				out.Set(x, y, z, val)
			}
		}
	}
	return out, nil
}

// DisplacementField is a dense per-voxel displacement in reference voxel
// units. It is the transform type produced by deformable registration.
type DisplacementField struct {
	Width, Height, Depth int
	// DX, DY, DZ hold the displacement components, flat-indexed like a Volume.
	DX, DY, DZ []float64
}

// NewDisplacementField allocates a zero (identity) field on the given grid.
func NewDisplacementField(width, height, depth int) *DisplacementField {
	n := width * height * depth
	return &DisplacementField{
		Width: width, Height: height, Depth: depth,
		DX: make([]float64, n), DY: make([]float64, n), DZ: make([]float64, n),
	}
}

// Resample applies the field: each reference voxel samples the moving volume
// at its own position plus the local displacement.
func (f *DisplacementField) Resample(reference, moving *volume.Volume, interp Interpolation) (*volume.Volume, error) {
	if reference.Width != f.Width || reference.Height != f.Height || reference.Depth != f.Depth {
		return nil, fmt.Errorf("displacement field %dx%dx%d does not match reference %dx%dx%d",
			f.Width, f.Height, f.Depth, reference.Width, reference.Height, reference.Depth)
	}
	out := volume.NewLike(reference)
	i := 0
	for z := 0; z < f.Depth; z++ {
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				sx := float64(x) + f.DX[i]
				sy := float64(y) + f.DY[i]
				sz := float64(z) + f.DZ[i]
				var val float64
				if interp == Nearest {
					val = moving.SampleNearest(sx, sy, sz, 0)
				} else {
					val = moving.Sample(sx, sy, sz, 0)
				}
				out.Set(x, y, z, val)
				i++
			}
		}
	}
	return out, nil
}

// CentroidRigid is a reference RigidRegistrar that aligns intensity centroids
// with a pure translation. It stands in for a full linear solver in local
// runs and tests; production deployments inject a real collaborator.
type CentroidRigid struct{}

// Register computes the translation that moves the moving volume's intensity
// centroid onto the fixed volume's, preferring the guide structure centroids
// when a guide is supplied.
func (CentroidRigid) Register(ctx context.Context, fixed, moving, guide *volume.Volume, opts RigidOptions) (*volume.Volume, Transform, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	fcx, fcy, fcz, ok := centroid(fixed)
	if !ok {
		return nil, nil, fmt.Errorf("centroid registration: fixed volume has no mass")
	}
	src := moving
	if guide != nil {
		src = guide
	}
	mcx, mcy, mcz, ok := centroid(src)
	if !ok {
		return nil, nil, fmt.Errorf("centroid registration: moving volume has no mass")
	}

	t := &TranslationTransform{DX: mcx - fcx, DY: mcy - fcy, DZ: mcz - fcz}
	resampled, err := t.Resample(fixed, moving, opts.FinalInterp)
	if err != nil {
		return nil, nil, err
	}
	return resampled, t, nil
}

func centroid(v *volume.Volume) (cx, cy, cz float64, ok bool) {
	var sum float64
	i := 0
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				w := v.Data[i]
				i++
				if w <= 0 {
					continue
				}
				sum += w
				cx += w * float64(x)
				cy += w * float64(y)
				cz += w * float64(z)
			}
		}
	}
	if sum == 0 {
		return 0, 0, 0, false
	}
	return cx / sum, cy / sum, cz / sum, true
}

// IdentityDeformable is a reference DeformableRegistrar that produces a zero
// displacement field, resampling the moving volume onto the fixed grid
// unchanged. Production deployments inject a demons-style collaborator.
type IdentityDeformable struct{}

func (IdentityDeformable) Register(ctx context.Context, fixed, moving *volume.Volume, opts DeformableOptions) (*volume.Volume, Transform, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	f := NewDisplacementField(fixed.Width, fixed.Height, fixed.Depth)
	resampled, err := f.Resample(fixed, moving, Linear)
	if err != nil {
		return nil, nil, err
	}
	return resampled, f, nil
}
