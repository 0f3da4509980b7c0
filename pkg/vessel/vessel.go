// Package vessel integrates centerline-spline extraction for thin vascular
// structures. Voxel voting washes out structures only a couple of voxels
// wide, so vessel-type structures bypass fusion entirely: a generator walks
// the pruned atlas set and produces a tubular binary mask directly in
// cropped-target space.
//
// The spline geometry itself is a collaborator contract. CentroidTube is the
// built-in generator: a per-slice consensus-centroid walk with a fixed tube
// radius, which is enough to run the pipeline end to end without an external
// spline library.
package vessel

import (
	"context"
	"fmt"
	"math"

	"cardiacatlas/pkg/atlas"
	"cardiacatlas/pkg/volume"
)

// Axis names the scan direction along which the vessel is traversed.
type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
	AxisZ Axis = "z"
)

// StopCondition terminates the centerline walk.
type StopCondition struct {
	// Type selects the criterion. "count" requires at least Value atlases
	// to carry foreground on a slice for the slice to contribute.
	Type  string
	Value float64
}

// Settings configures extraction of one vessel structure.
type Settings struct {
	// Radius is the tube radius in millimetres.
	Radius float64

	// Direction is the scan axis, normally the craniocaudal axis for
	// coronary vessels.
	Direction Axis

	Stop StopCondition
}

// SplineGenerator produces a binary vessel mask in cropped-target space from
// the pruned atlas set. Implementations read the deformable-stage structure
// labels and must not mutate the set.
type SplineGenerator interface {
	Generate(ctx context.Context, set *atlas.Set, structure string, settings Settings) (*volume.Volume, error)
}

// CentroidTube is the reference SplineGenerator. For each slice along the
// scan direction it averages the atlases' foreground centroids and paints a
// disc of the configured radius around the consensus point. Slices where
// fewer atlases than the stop condition demands carry foreground are left
// empty.
type CentroidTube struct{}

// Generate implements SplineGenerator.
func (CentroidTube) Generate(ctx context.Context, set *atlas.Set, structure string, settings Settings) (*volume.Volume, error) {
	if settings.Radius <= 0 {
		return nil, fmt.Errorf("vessel %s: radius must be positive, got %g", structure, settings.Radius)
	}
	switch settings.Direction {
	case AxisX, AxisY, AxisZ:
	default:
		return nil, fmt.Errorf("vessel %s: unknown scan direction %q", structure, settings.Direction)
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("vessel %s: empty atlas set", structure)
	}

	labels := make([]*volume.Volume, 0, set.Len())
	for _, id := range set.IDs() {
		rec := set.Get(id)
		if rec.Deformable == nil {
			return nil, fmt.Errorf("vessel %s: atlas %s has no deformable stage", structure, id)
		}
		label, ok := rec.Deformable.Structures[structure]
		if !ok {
			return nil, fmt.Errorf("vessel %s: atlas %s is missing the structure", structure, id)
		}
		labels = append(labels, label)
	}
	ref := labels[0]
	for _, l := range labels[1:] {
		if !l.SameShape(ref) {
			return nil, fmt.Errorf("vessel %s: atlas label shapes differ", structure)
		}
	}

	minAtlases := 1
	if settings.Stop.Type == "count" && settings.Stop.Value > 1 {
		minAtlases = int(settings.Stop.Value)
	}

	mask := volume.NewLike(ref)
	for slice := 0; slice < sliceCount(ref, settings.Direction); slice++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("vessel %s: %w", structure, err)
		}

		var cu, cv, weight float64
		voting := 0
		for _, l := range labels {
			u, v, w := sliceCentroid(l, settings.Direction, slice)
			if w == 0 {
				continue
			}
			voting++
			cu += u * w
			cv += v * w
			weight += w
		}
		if voting < minAtlases || weight == 0 {
			continue
		}
		paintDisc(mask, settings.Direction, slice, cu/weight, cv/weight, settings.Radius)
	}
	return mask, nil
}

func sliceCount(v *volume.Volume, dir Axis) int {
	switch dir {
	case AxisX:
		return v.Width
	case AxisY:
		return v.Height
	default:
		return v.Depth
	}
}

// sliceCentroid returns the foreground centroid of one slice in the two
// in-plane axes (in the volume's canonical axis order) and its total mass.
func sliceCentroid(v *volume.Volume, dir Axis, slice int) (u, v2, mass float64) {
	forEachInSlice(v, dir, slice, func(a, b int, val float64) {
		if val <= 0 {
			return
		}
		u += float64(a) * val
		v2 += float64(b) * val
		mass += val
	})
	if mass == 0 {
		return 0, 0, 0
	}
	return u / mass, v2 / mass, mass
}

func forEachInSlice(v *volume.Volume, dir Axis, slice int, fn func(a, b int, val float64)) {
	switch dir {
	case AxisX:
		for z := 0; z < v.Depth; z++ {
			for y := 0; y < v.Height; y++ {
				fn(y, z, v.At(slice, y, z))
			}
		}
	case AxisY:
		for z := 0; z < v.Depth; z++ {
			for x := 0; x < v.Width; x++ {
				fn(x, z, v.At(x, slice, z))
			}
		}
	default:
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				fn(x, y, v.At(x, y, slice))
			}
		}
	}
}

// paintDisc sets a filled in-plane disc of radiusMM around the centre point,
// converting the physical radius to voxels independently per axis.
func paintDisc(mask *volume.Volume, dir Axis, slice int, cu, cv, radiusMM float64) {
	var sa, sb float64
	switch dir {
	case AxisX:
		sa, sb = mask.Spacing[1], mask.Spacing[2]
	case AxisY:
		sa, sb = mask.Spacing[0], mask.Spacing[2]
	default:
		sa, sb = mask.Spacing[0], mask.Spacing[1]
	}
	if sa <= 0 {
		sa = 1
	}
	if sb <= 0 {
		sb = 1
	}

	ra := radiusMM / sa
	rb := radiusMM / sb
	for b := int(math.Floor(cv - rb)); b <= int(math.Ceil(cv+rb)); b++ {
		for a := int(math.Floor(cu - ra)); a <= int(math.Ceil(cu+ra)); a++ {
			da := (float64(a) - cu) / ra
			db := (float64(b) - cv) / rb
			if da*da+db*db > 1 {
				continue
			}
			setInSlice(mask, dir, slice, a, b)
		}
	}
}

func setInSlice(mask *volume.Volume, dir Axis, slice, a, b int) {
	var x, y, z int
	switch dir {
	case AxisX:
		x, y, z = slice, a, b
	case AxisY:
		x, y, z = a, slice, b
	default:
		x, y, z = a, b, slice
	}
	if mask.Contains(x, y, z) {
		mask.Set(x, y, z, 1)
	}
}
