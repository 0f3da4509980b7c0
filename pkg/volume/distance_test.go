package volume

import (
	"math"
	"testing"
)

func TestDistanceMapSigns(t *testing.T) {
	mask := New(9, 9, 9)
	for z := 3; z <= 5; z++ {
		for y := 3; y <= 5; y++ {
			for x := 3; x <= 5; x++ {
				mask.Set(x, y, z, 1)
			}
		}
	}

	dm := DistanceMap(mask)
	if got := dm.At(4, 4, 4); got >= 0 {
		t.Fatalf("interior voxel has non-negative distance %g", got)
	}
	if got := dm.At(0, 0, 0); got <= 0 {
		t.Fatalf("exterior voxel has non-positive distance %g", got)
	}
	// The far corner is further from the surface than a voxel next to it.
	if !(dm.At(0, 4, 4) < dm.At(0, 0, 0)) {
		t.Fatalf("distance does not grow away from the structure: %g vs %g",
			dm.At(0, 4, 4), dm.At(0, 0, 0))
	}
}

func TestDistanceMapSpacingWeights(t *testing.T) {
	mask := New(9, 3, 3)
	mask.Spacing = [3]float64{2, 1, 1}
	mask.Set(4, 1, 1, 1)

	dm := DistanceMap(mask)
	// Two voxels along x at 2mm spacing is 4mm.
	if got := dm.At(6, 1, 1); math.Abs(got-4) > 1e-9 {
		t.Fatalf("x-axis distance: got %g, want 4", got)
	}
}

func TestDistanceMapDegenerateMasks(t *testing.T) {
	empty := New(4, 4, 4)
	for _, d := range DistanceMap(empty).Data {
		if d != 0 {
			t.Fatalf("empty mask produced a non-zero distance %g", d)
		}
	}

	full := New(4, 4, 4)
	for i := range full.Data {
		full.Data[i] = 1
	}
	for _, d := range DistanceMap(full).Data {
		if d != 0 {
			t.Fatalf("full mask produced a non-zero distance %g", d)
		}
	}
}

func TestGaussianSmoothPreservesConstant(t *testing.T) {
	v := New(6, 6, 6)
	for i := range v.Data {
		v.Data[i] = 3
	}
	smoothed := GaussianSmooth(v, 2)
	for i, d := range smoothed.Data {
		if math.Abs(d-3) > 1e-9 {
			t.Fatalf("constant volume changed at voxel %d: %g", i, d)
		}
	}
}

func TestGaussianSmoothSpreadsImpulse(t *testing.T) {
	v := New(9, 9, 9)
	v.Set(4, 4, 4, 1)

	smoothed := GaussianSmooth(v, 1.5)
	if smoothed.At(4, 4, 4) >= 1 {
		t.Fatalf("impulse peak did not shrink: %g", smoothed.At(4, 4, 4))
	}
	if smoothed.At(3, 4, 4) <= 0 {
		t.Fatalf("impulse did not spread to a neighbour")
	}
	if smoothed.At(3, 4, 4) >= smoothed.At(4, 4, 4) {
		t.Fatalf("smoothed impulse is not peaked at the centre")
	}
}

func TestGaussianSmoothZeroSigmaIsIdentity(t *testing.T) {
	v := New(4, 4, 4)
	fillPattern(v)
	smoothed := GaussianSmooth(v, 0)
	for i := range v.Data {
		if smoothed.Data[i] != v.Data[i] {
			t.Fatalf("zero sigma modified voxel %d", i)
		}
	}
}
