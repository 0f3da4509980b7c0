package volume

import (
	"math"
	"testing"
)

// fillPattern writes a distinct value into every voxel so copies can be
// verified exactly.
func fillPattern(v *Volume) {
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				v.Set(x, y, z, float64(v.Index(x, y, z)+1))
			}
		}
	}
}

func TestIndexRoundTrip(t *testing.T) {
	v := New(7, 5, 3)
	seen := make(map[int]bool)
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				i := v.Index(x, y, z)
				if i < 0 || i >= v.NumVoxels() {
					t.Fatalf("index (%d,%d,%d) out of range: %d", x, y, z, i)
				}
				if seen[i] {
					t.Fatalf("index (%d,%d,%d) collides at %d", x, y, z, i)
				}
				seen[i] = true
			}
		}
	}
}

func TestThresholdMonotonic(t *testing.T) {
	v := New(4, 4, 4)
	for i := range v.Data {
		v.Data[i] = float64(i) / float64(len(v.Data))
	}

	low := v.Threshold(0.3)
	high := v.Threshold(0.7)
	for i := range v.Data {
		if high.Data[i] > low.Data[i] {
			t.Fatalf("raising the cutoff grew the mask at voxel %d", i)
		}
		if low.Data[i] != 0 && low.Data[i] != 1 {
			t.Fatalf("threshold output is not binary: %g", low.Data[i])
		}
	}
}

func TestCropShiftsOrigin(t *testing.T) {
	v := New(10, 10, 10)
	v.Spacing = [3]float64{2, 3, 4}
	v.Origin = [3]float64{100, 200, 300}
	fillPattern(v)

	box := CropBox{X: 2, Y: 3, Z: 4, SizeX: 5, SizeY: 4, SizeZ: 3}
	cropped, err := v.Crop(box)
	if err != nil {
		t.Fatalf("crop failed: %v", err)
	}

	if cropped.Width != 5 || cropped.Height != 4 || cropped.Depth != 3 {
		t.Fatalf("wrong cropped size: %dx%dx%d", cropped.Width, cropped.Height, cropped.Depth)
	}
	wantOrigin := [3]float64{100 + 2*2, 200 + 3*3, 300 + 4*4}
	if cropped.Origin != wantOrigin {
		t.Fatalf("wrong cropped origin: %v, want %v", cropped.Origin, wantOrigin)
	}
	for z := 0; z < cropped.Depth; z++ {
		for y := 0; y < cropped.Height; y++ {
			for x := 0; x < cropped.Width; x++ {
				want := v.At(box.X+x, box.Y+y, box.Z+z)
				if got := cropped.At(x, y, z); got != want {
					t.Fatalf("voxel (%d,%d,%d): got %g, want %g", x, y, z, got, want)
				}
			}
		}
	}
}

func TestCropOutsideBoundsFails(t *testing.T) {
	v := New(10, 10, 10)
	cases := []CropBox{
		{X: -1, SizeX: 2, SizeY: 2, SizeZ: 2},
		{X: 9, SizeX: 2, SizeY: 2, SizeZ: 2},
		{SizeX: 0, SizeY: 2, SizeZ: 2},
	}
	for _, box := range cases {
		if _, err := v.Crop(box); err == nil {
			t.Errorf("crop with box %+v should have failed", box)
		}
	}
}

// TestCropPasteRoundTrip verifies that a mask produced in cropped space,
// pasted into a zero template at the crop offset and re-cropped at the same
// box, is recovered exactly, and that everything outside the pasted region
// stays zero.
func TestCropPasteRoundTrip(t *testing.T) {
	template := New(20, 18, 16)
	box := CropBox{X: 3, Y: 4, Z: 5, SizeX: 8, SizeY: 7, SizeZ: 6}

	mask := New(box.SizeX, box.SizeY, box.SizeZ)
	for i := range mask.Data {
		if i%3 == 0 {
			mask.Data[i] = 1
		}
	}

	full, err := Paste(template, mask, box.X, box.Y, box.Z)
	if err != nil {
		t.Fatalf("paste failed: %v", err)
	}

	ex, ey, ez := box.End()
	for z := 0; z < full.Depth; z++ {
		for y := 0; y < full.Height; y++ {
			for x := 0; x < full.Width; x++ {
				inside := x >= box.X && x < ex && y >= box.Y && y < ey && z >= box.Z && z < ez
				got := full.At(x, y, z)
				if !inside && got != 0 {
					t.Fatalf("voxel (%d,%d,%d) outside the pasted region is %g", x, y, z, got)
				}
				if inside && got != mask.At(x-box.X, y-box.Y, z-box.Z) {
					t.Fatalf("voxel (%d,%d,%d) inside the pasted region differs", x, y, z)
				}
			}
		}
	}

	back, err := full.Crop(box)
	if err != nil {
		t.Fatalf("re-crop failed: %v", err)
	}
	for i := range mask.Data {
		if back.Data[i] != mask.Data[i] {
			t.Fatalf("round trip lost voxel %d", i)
		}
	}
}

// TestCropBoxScenario pins the crop computation for a detected region at
// origin (10,10,5) with size (100,100,60) in a 200x200x100 volume and zero
// margins: the box must contain the region exactly.
func TestCropBoxScenario(t *testing.T) {
	region := CropBox{X: 10, Y: 10, Z: 5, SizeX: 100, SizeY: 100, SizeZ: 60}
	box := region.Expanded(0, 0, 0).Clamped(200, 200, 100)
	if box != region {
		t.Fatalf("zero-margin crop box changed the region: %+v", box)
	}
}

func TestExpandedGrowsBothSides(t *testing.T) {
	region := CropBox{X: 10, Y: 20, Z: 30, SizeX: 5, SizeY: 5, SizeZ: 5}
	box := region.Expanded(2, 3, 4)

	want := CropBox{X: 8, Y: 17, Z: 26, SizeX: 9, SizeY: 11, SizeZ: 13}
	if box != want {
		t.Fatalf("expanded box %+v, want %+v", box, want)
	}
}

func TestClampedStaysInBounds(t *testing.T) {
	region := CropBox{X: 2, Y: 2, Z: 2, SizeX: 10, SizeY: 10, SizeZ: 10}
	box := region.Expanded(5, 5, 5).Clamped(12, 12, 12)

	if box.X < 0 || box.Y < 0 || box.Z < 0 {
		t.Fatalf("clamped box has a negative origin: %+v", box)
	}
	ex, ey, ez := box.End()
	if ex > 12 || ey > 12 || ez > 12 {
		t.Fatalf("clamped box exceeds the grid: %+v", box)
	}
	if box.IsEmpty() {
		t.Fatalf("clamped box collapsed: %+v", box)
	}
}

func TestSampleAtVoxelCenters(t *testing.T) {
	v := New(4, 4, 4)
	fillPattern(v)
	for z := 0; z < 4; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				got := v.Sample(float64(x), float64(y), float64(z), -1)
				if math.Abs(got-v.At(x, y, z)) > 1e-9 {
					t.Fatalf("sample at voxel center (%d,%d,%d): got %g, want %g",
						x, y, z, got, v.At(x, y, z))
				}
			}
		}
	}
}

func TestSampleInterpolatesBetweenVoxels(t *testing.T) {
	v := New(2, 1, 1)
	v.Data[0] = 0
	v.Data[1] = 10
	if got := v.Sample(0.5, 0, 0, -1); math.Abs(got-5) > 1e-9 {
		t.Fatalf("midpoint sample: got %g, want 5", got)
	}
}
