package visualization

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"cardiacatlas/pkg/volume"
)

// zGradient builds a volume where each axial slice has a unique value.
func zGradient(width, height, depth int) *volume.Volume {
	v := volume.New(width, height, depth)
	for z := 0; z < depth; z++ {
		value := float64(z)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v.Set(x, y, z, value)
			}
		}
	}
	return v
}

// TestExtractSlice verifies that slices are correctly extracted and scaled
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 10, 5
	viewer := NewViewer(zGradient(width, height, depth))

	// Each Z slice renders as a flat gray level proportional to z
	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		gray16Img, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}
		expected := uint16(float64(z) / float64(depth-1) * 65535)
		center := gray16Img.Gray16At(width/2, height/2).Y
		if math.Abs(float64(center)-float64(expected)) > 1.0 {
			t.Errorf("Expected Z slice value ~%d at center, got %d", expected, center)
		}
	}

	// Cross-axis slices keep the expected dimensions
	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err = viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err = viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
}

// TestExtractSliceFlatVolume verifies that a volume without dynamic range
// renders as black instead of dividing by zero
func TestExtractSliceFlatVolume(t *testing.T) {
	v := volume.New(4, 4, 4)
	for i := range v.Data {
		v.Data[i] = 7
	}
	img, err := NewViewer(v).ExtractSlice("z", 2)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	gray16Img := img.(*image.Gray16)
	if got := gray16Img.Gray16At(1, 1).Y; got != 0 {
		t.Errorf("Flat volume should render black, got %d", got)
	}
}

// TestSaveSlice verifies that slices can be saved to disk
func TestSaveSlice(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	tempDir := t.TempDir()
	viewer := NewViewer(zGradient(10, 10, 5))

	img, err := viewer.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}

	filename := filepath.Join(tempDir, "test_slice.jpg")
	if err := viewer.SaveSlice(img, filename); err != nil {
		t.Fatalf("Failed to save slice: %v", err)
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		t.Errorf("Saved file does not exist: %s", filename)
	}
}

// TestSaveAxialMidSlice verifies the single-image QC export
func TestSaveAxialMidSlice(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	filename := filepath.Join(t.TempDir(), "qc.jpg")
	if err := NewViewer(zGradient(8, 8, 6)).SaveAxialMidSlice(filename); err != nil {
		t.Fatalf("Failed to save QC image: %v", err)
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		t.Errorf("Saved file does not exist: %s", filename)
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	tempDir := t.TempDir()
	depth := 3
	viewer := NewViewer(zGradient(5, 5, depth))

	outputDir := filepath.Join(tempDir, "slices")
	if err := viewer.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.jpg", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}
