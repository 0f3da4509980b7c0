// Package visualization exports quality-control images from segmentation
// runs: grayscale slices of probability volumes and masks, saved as JPEG for
// quick visual review without a medical image viewer.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"cardiacatlas/pkg/volume"
)

// Viewer extracts 2D slices from a volume for review. Intensities are
// min-max normalised over the whole volume, so probability volumes in [0,1]
// and raw CT ranges render equally well.
type Viewer struct {
	vol      *volume.Volume
	min, max float64
}

// NewViewer creates a viewer over the volume.
func NewViewer(v *volume.Volume) *Viewer {
	min, max := v.MinMax()
	return &Viewer{vol: v, min: min, max: max}
}

// ExtractSlice extracts a 2D grayscale slice along the specified axis.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		if position >= v.vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.vol.Width)
		}
		img = image.NewGray16(image.Rect(0, 0, v.vol.Depth, v.vol.Height))
		for y := 0; y < v.vol.Height; y++ {
			for z := 0; z < v.vol.Depth; z++ {
				img.SetGray16(z, y, v.gray(position, y, z))
			}
		}

	case "y", "Y":
		if position >= v.vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.vol.Height)
		}
		img = image.NewGray16(image.Rect(0, 0, v.vol.Width, v.vol.Depth))
		for z := 0; z < v.vol.Depth; z++ {
			for x := 0; x < v.vol.Width; x++ {
				img.SetGray16(x, z, v.gray(x, position, z))
			}
		}

	case "z", "Z":
		if position >= v.vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.vol.Depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.vol.Width, v.vol.Height))
		for y := 0; y < v.vol.Height; y++ {
			for x := 0; x < v.vol.Width; x++ {
				img.SetGray16(x, y, v.gray(x, y, position))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

func (v *Viewer) gray(x, y, z int) color.Gray16 {
	span := v.max - v.min
	if span == 0 {
		return color.Gray16{}
	}
	norm := (v.vol.At(x, y, z) - v.min) / span
	if norm < 0 {
		norm = 0
	} else if norm > 1 {
		norm = 1
	}
	return color.Gray16{Y: uint16(norm * 65535)}
}

// SaveSlice saves an extracted slice as a JPEG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveAxialMidSlice saves the central axial slice, the standard single-image
// QC view for a cardiac volume.
func (v *Viewer) SaveAxialMidSlice(filename string) error {
	img, err := v.ExtractSlice("z", v.vol.Depth/2)
	if err != nil {
		return err
	}
	return v.SaveSlice(img, filename)
}

// SaveSliceSequence extracts and saves every slice along the specified axis.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Width
	case "y", "Y":
		maxPos = v.vol.Height
	case "z", "Z":
		maxPos = v.vol.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
