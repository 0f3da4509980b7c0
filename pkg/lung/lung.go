// Package lung implements the automatic lung segmentation used to restrict
// cardiac segmentation to the thorax: intensity normalisation, band
// thresholding, connected-component filtering and bounding-box extraction.
//
// It is the default organ-of-interest detector; the pipeline consumes it
// through a function value so a different detector can be substituted.
package lung

import (
	"fmt"

	"github.com/theodesp/unionfind"

	"cardiacatlas/pkg/volume"
)

// Params controls the detector. Thresholds apply to intensities normalised
// into [0,1] over the volume's full dynamic range; components smaller than
// VoxelCountThreshold voxels are discarded as noise.
type Params struct {
	LowerThreshold      float64
	UpperThreshold      float64
	VoxelCountThreshold float64
}

// Segment detects the lung region of a CT-like volume. It returns the tight
// bounding box of the detected region and the binary lung mask in the input
// geometry. Air connected to the lateral image border is treated as patient
// exterior and removed before counting.
func Segment(v *volume.Volume, p Params) (volume.CropBox, *volume.Volume, error) {
	if p.UpperThreshold <= p.LowerThreshold {
		return volume.CropBox{}, nil, fmt.Errorf("lung segment: invalid threshold band [%g,%g]",
			p.LowerThreshold, p.UpperThreshold)
	}

	min, max := v.MinMax()
	span := max - min
	if span == 0 {
		return volume.CropBox{}, nil, fmt.Errorf("lung segment: volume has no dynamic range")
	}

	binary := make([]bool, v.NumVoxels())
	for i, d := range v.Data {
		norm := (d - min) / span
		binary[i] = norm >= p.LowerThreshold && norm <= p.UpperThreshold
	}

	labels, _ := labelComponents(v, binary)

	// Per-component statistics: voxel counts and lateral border contact.
	sizes := make(map[int]int)
	border := make(map[int]bool)
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				l := labels[v.Index(x, y, z)]
				if l == 0 {
					continue
				}
				sizes[l]++
				if x == 0 || x == v.Width-1 || y == 0 || y == v.Height-1 {
					border[l] = true
				}
			}
		}
	}

	keep := make(map[int]bool)
	for l, n := range sizes {
		if border[l] {
			continue
		}
		if float64(n) >= p.VoxelCountThreshold {
			keep[l] = true
		}
	}

	mask := volume.NewLike(v)
	box := volume.CropBox{X: v.Width, Y: v.Height, Z: v.Depth}
	maxX, maxY, maxZ := -1, -1, -1
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				if !keep[labels[v.Index(x, y, z)]] {
					continue
				}
				mask.Set(x, y, z, 1)
				if x < box.X {
					box.X = x
				}
				if y < box.Y {
					box.Y = y
				}
				if z < box.Z {
					box.Z = z
				}
				if x > maxX {
					maxX = x
				}
				if y > maxY {
					maxY = y
				}
				if z > maxZ {
					maxZ = z
				}
			}
		}
	}
	if maxX < 0 {
		return volume.CropBox{}, nil, fmt.Errorf("lung segment: no component passed the %g voxel threshold",
			p.VoxelCountThreshold)
	}
	box.SizeX = maxX - box.X + 1
	box.SizeY = maxY - box.Y + 1
	box.SizeZ = maxZ - box.Z + 1
	return box, mask, nil
}

// labelComponents assigns 6-connected component labels to the thresholded
// voxels: a provisional-label scan recording equivalences, then a union-find
// pass to reconcile them.
func labelComponents(v *volume.Volume, binary []bool) (labels []int, count int) {
	labels = make([]int, len(binary))
	nextLabel := 1
	type pair struct{ a, b int }
	var merges []pair

	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				i := v.Index(x, y, z)
				if !binary[i] {
					continue
				}

				best := 0
				for _, n := range [3]int{
					neighbourIndex(v, binary, x-1, y, z),
					neighbourIndex(v, binary, x, y-1, z),
					neighbourIndex(v, binary, x, y, z-1),
				} {
					if n < 0 {
						continue
					}
					l := labels[n]
					if best == 0 || l < best {
						if best != 0 && l != best {
							merges = append(merges, pair{l, best})
						}
						best = l
					} else if l != best {
						merges = append(merges, pair{best, l})
					}
				}

				if best == 0 {
					best = nextLabel
					nextLabel++
				}
				labels[i] = best
			}
		}
	}

	uf := unionfind.NewThreadSafeUnionFind(nextLabel)
	for _, m := range merges {
		uf.Union(m.a, m.b)
	}

	resolved := make(map[int]int)
	for i, l := range labels {
		if l == 0 {
			continue
		}
		root := l
		if r := uf.Root(l); r >= 0 {
			root = r
		}
		canonical, ok := resolved[root]
		if !ok {
			count++
			canonical = count
			resolved[root] = canonical
		}
		labels[i] = canonical
	}
	return labels, count
}

// neighbourIndex returns the flat index of an in-bounds foreground
// neighbour, or -1.
func neighbourIndex(v *volume.Volume, binary []bool, x, y, z int) int {
	if !v.Contains(x, y, z) {
		return -1
	}
	i := v.Index(x, y, z)
	if !binary[i] {
		return -1
	}
	return i
}
