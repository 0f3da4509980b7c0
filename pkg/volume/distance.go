package volume

import "math"

// DistanceMap computes a signed distance map of a binary label volume using
// a two-pass 26-neighbour chamfer transform with spacing-aware weights.
// Voxels outside the structure carry the (approximate) Euclidean distance in
// mm to the structure surface; voxels inside carry the negative distance to
// the background. An empty or full mask yields an all-zero map.
func DistanceMap(mask *Volume) *Volume {
	outside := chamfer(mask, false)
	inside := chamfer(mask, true)

	out := NewLike(mask)
	for i := range out.Data {
		out.Data[i] = outside[i] - inside[i]
	}
	return out
}

// chamfer returns per-voxel distances to the set of voxels where the mask is
// non-zero (invert=false) or zero (invert=true).
func chamfer(mask *Volume, invert bool) []float64 {
	w, h, d := mask.Width, mask.Height, mask.Depth
	dist := make([]float64, len(mask.Data))
	seedCount := 0
	for i, v := range mask.Data {
		seed := v != 0
		if invert {
			seed = !seed
		}
		if seed {
			seedCount++
		} else {
			dist[i] = math.Inf(1)
		}
	}
	// Degenerate mask: no seeds anywhere, distance is undefined; use zero.
	if seedCount == 0 {
		return make([]float64, len(mask.Data))
	}

	type offset struct {
		dx, dy, dz int
		w          float64
	}
	var fwd []offset
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dz > 0 || (dz == 0 && dy > 0) || (dz == 0 && dy == 0 && dx >= 0) {
					continue
				}
				fwd = append(fwd, offset{dx, dy, dz, math.Sqrt(
					sq(float64(dx)*mask.Spacing[0]) +
						sq(float64(dy)*mask.Spacing[1]) +
						sq(float64(dz)*mask.Spacing[2]))})
			}
		}
	}

	// Forward pass
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := mask.Index(x, y, z)
				for _, o := range fwd {
					nx, ny, nz := x+o.dx, y+o.dy, z+o.dz
					if nx < 0 || nx >= w || ny < 0 || ny >= h || nz < 0 || nz >= d {
						continue
					}
					if c := dist[mask.Index(nx, ny, nz)] + o.w; c < dist[i] {
						dist[i] = c
					}
				}
			}
		}
	}
	// Backward pass with mirrored offsets
	for z := d - 1; z >= 0; z-- {
		for y := h - 1; y >= 0; y-- {
			for x := w - 1; x >= 0; x-- {
				i := mask.Index(x, y, z)
				for _, o := range fwd {
					nx, ny, nz := x-o.dx, y-o.dy, z-o.dz
					if nx < 0 || nx >= w || ny < 0 || ny >= h || nz < 0 || nz >= d {
						continue
					}
					if c := dist[mask.Index(nx, ny, nz)] + o.w; c < dist[i] {
						dist[i] = c
					}
				}
			}
		}
	}
	return dist
}

func sq(x float64) float64 { return x * x }

// GaussianSmooth applies a separable Gaussian filter with the given sigma in
// mm. Spacing converts sigma to voxel units per axis. A non-positive sigma
// returns an unmodified copy. Borders renormalise over in-bounds samples.
func GaussianSmooth(v *Volume, sigmaMM float64) *Volume {
	if sigmaMM <= 0 {
		return v.Clone()
	}
	out := v.Clone()
	for axis := 0; axis < 3; axis++ {
		spacing := v.Spacing[axis]
		if spacing <= 0 {
			spacing = 1
		}
		kernel := gaussKernel(sigmaMM / spacing)
		if len(kernel) <= 1 {
			continue
		}
		out = convolveAxis(out, kernel, axis)
	}
	return out
}

func gaussKernel(sigmaVox float64) []float64 {
	radius := int(math.Ceil(3 * sigmaVox))
	if radius < 1 {
		return []float64{1}
	}
	k := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range k {
		x := float64(i - radius)
		k[i] = math.Exp(-x * x / (2 * sigmaVox * sigmaVox))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

func convolveAxis(v *Volume, kernel []float64, axis int) *Volume {
	out := NewLike(v)
	radius := len(kernel) / 2
	step := [3]int{0, 0, 0}
	step[axis] = 1
	dims := [3]int{v.Width, v.Height, v.Depth}

	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				sum, weight := 0.0, 0.0
				for k, kw := range kernel {
					off := k - radius
					nx := x + off*step[0]
					ny := y + off*step[1]
					nz := z + off*step[2]
					pos := [3]int{nx, ny, nz}
					if pos[axis] < 0 || pos[axis] >= dims[axis] {
						continue
					}
					sum += v.At(nx, ny, nz) * kw
					weight += kw
				}
				if weight > 0 {
					out.Set(x, y, z, sum/weight)
				}
			}
		}
	}
	return out
}
