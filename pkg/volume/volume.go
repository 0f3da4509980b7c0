// Package volume provides the 3D voxel grid data model shared by every
// pipeline stage, together with the index-space crop and paste operations
// used to restrict processing to a region of interest and to map results
// back into the original image geometry.
package volume

import "math"

// Volume is a 3D voxel grid with physical metadata. Voxel data is stored as
// a flat array in row-major order, indexed as z*Width*Height + y*Width + x.
//
// Volumes written into the atlas store are treated as immutable: pipeline
// stages always allocate a new Volume rather than mutating one in place.
// Identity is by reference; equality is intentionally not defined.
type Volume struct {
	// Data is the voxel data as a 1D array in row-major order
	Data []float64

	// Width, Height, Depth are the grid dimensions in voxels
	Width, Height, Depth int

	// Spacing is the physical voxel size in mm along x, y, z
	Spacing [3]float64

	// Origin is the physical position of voxel (0,0,0) in mm
	Origin [3]float64

	// Direction is the row-major 3x3 direction cosine matrix
	Direction [9]float64
}

// New creates a zero-filled volume with unit spacing and identity direction.
func New(width, height, depth int) *Volume {
	return &Volume{
		Data:      make([]float64, width*height*depth),
		Width:     width,
		Height:    height,
		Depth:     depth,
		Spacing:   [3]float64{1, 1, 1},
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
}

// NewLike creates a zero-filled volume with the same grid and physical
// metadata as the reference volume.
func NewLike(ref *Volume) *Volume {
	v := New(ref.Width, ref.Height, ref.Depth)
	v.Spacing = ref.Spacing
	v.Origin = ref.Origin
	v.Direction = ref.Direction
	return v
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := NewLike(v)
	copy(out.Data, v.Data)
	return out
}

// Index returns the flat data index for voxel (x,y,z). No bounds check.
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the voxel value at (x,y,z). No bounds check.
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores a voxel value at (x,y,z). No bounds check.
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// NumVoxels returns the total number of voxels in the grid.
func (v *Volume) NumVoxels() int {
	return v.Width * v.Height * v.Depth
}

// SameShape reports whether two volumes share the same grid dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}

// Contains reports whether (x,y,z) lies within the grid bounds.
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && x < v.Width && y >= 0 && y < v.Height && z >= 0 && z < v.Depth
}

// MinMax returns the minimum and maximum voxel values.
func (v *Volume) MinMax() (min, max float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	min, max = v.Data[0], v.Data[0]
	for _, d := range v.Data {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}

// Threshold returns a binary volume where voxels with value >= cutoff become
// 1 and all others become 0. Raising the cutoff can only shrink the result.
func (v *Volume) Threshold(cutoff float64) *Volume {
	out := NewLike(v)
	for i, d := range v.Data {
		if d >= cutoff {
			out.Data[i] = 1
		}
	}
	return out
}

// CountNonzero returns the number of voxels with a non-zero value.
func (v *Volume) CountNonzero() int {
	n := 0
	for _, d := range v.Data {
		if d != 0 {
			n++
		}
	}
	return n
}

// Sample returns the volume value at continuous voxel coordinates using
// trilinear interpolation. Coordinates outside the grid sample as fill.
func (v *Volume) Sample(x, y, z, fill float64) float64 {
	x0, y0, z0 := int(math.Floor(x)), int(math.Floor(y)), int(math.Floor(z))
	fx, fy, fz := x-float64(x0), y-float64(y0), z-float64(z0)

	sum, weight := 0.0, 0.0
	for dz := 0; dz <= 1; dz++ {
		for dy := 0; dy <= 1; dy++ {
			for dx := 0; dx <= 1; dx++ {
				w := wlin(fx, dx) * wlin(fy, dy) * wlin(fz, dz)
				if w == 0 {
					continue
				}
				xi, yi, zi := x0+dx, y0+dy, z0+dz
				val := fill
				if v.Contains(xi, yi, zi) {
					val = v.At(xi, yi, zi)
				}
				sum += val * w
				weight += w
			}
		}
	}
	if weight == 0 {
		return fill
	}
	return sum / weight
}

// SampleNearest returns the volume value at continuous voxel coordinates
// using nearest-neighbour interpolation. Outside the grid it returns fill.
func (v *Volume) SampleNearest(x, y, z, fill float64) float64 {
	xi := int(math.Round(x))
	yi := int(math.Round(y))
	zi := int(math.Round(z))
	if !v.Contains(xi, yi, zi) {
		return fill
	}
	return v.At(xi, yi, zi)
}

func wlin(f float64, side int) float64 {
	if side == 0 {
		return 1 - f
	}
	return f
}
