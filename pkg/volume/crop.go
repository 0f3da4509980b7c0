package volume

import "fmt"

// CropBox is an axis-aligned voxel-index region: an origin and a size along
// each axis. It is computed once per run from the detected organ region plus
// configured margins, and remembered so that cropped-space results can be
// pasted back into the original geometry.
type CropBox struct {
	X, Y, Z             int
	SizeX, SizeY, SizeZ int
}

// End returns the exclusive upper corner of the box.
func (b CropBox) End() (x, y, z int) {
	return b.X + b.SizeX, b.Y + b.SizeY, b.Z + b.SizeZ
}

// IsEmpty reports whether the box has no voxels.
func (b CropBox) IsEmpty() bool {
	return b.SizeX <= 0 || b.SizeY <= 0 || b.SizeZ <= 0
}

// Expanded grows the box by the given per-axis margins on both sides.
// The result is not clamped; combine with Clamped.
func (b CropBox) Expanded(mx, my, mz int) CropBox {
	return CropBox{
		X: b.X - mx, Y: b.Y - my, Z: b.Z - mz,
		SizeX: b.SizeX + 2*mx, SizeY: b.SizeY + 2*my, SizeZ: b.SizeZ + 2*mz,
	}
}

// Clamped restricts the box to a width x height x depth grid.
func (b CropBox) Clamped(width, height, depth int) CropBox {
	out := b
	out.X, out.SizeX = clampAxis(b.X, b.SizeX, width)
	out.Y, out.SizeY = clampAxis(b.Y, b.SizeY, height)
	out.Z, out.SizeZ = clampAxis(b.Z, b.SizeZ, depth)
	return out
}

func clampAxis(origin, size, dim int) (int, int) {
	end := origin + size
	if origin < 0 {
		origin = 0
	}
	if end > dim {
		end = dim
	}
	if end < origin {
		end = origin
	}
	return origin, end - origin
}

// Crop extracts the box from the volume as a pure index-space slice with no
// interpolation. The physical origin shifts by the crop offset so that the
// cropped volume stays registered with the source in physical space.
func (v *Volume) Crop(b CropBox) (*Volume, error) {
	if b.IsEmpty() {
		return nil, fmt.Errorf("crop: empty box %+v", b)
	}
	ex, ey, ez := b.End()
	if b.X < 0 || b.Y < 0 || b.Z < 0 || ex > v.Width || ey > v.Height || ez > v.Depth {
		return nil, fmt.Errorf("crop: box %+v outside %dx%dx%d volume",
			b, v.Width, v.Height, v.Depth)
	}

	out := New(b.SizeX, b.SizeY, b.SizeZ)
	out.Spacing = v.Spacing
	out.Direction = v.Direction
	out.Origin = [3]float64{
		v.Origin[0] + float64(b.X)*v.Spacing[0],
		v.Origin[1] + float64(b.Y)*v.Spacing[1],
		v.Origin[2] + float64(b.Z)*v.Spacing[2],
	}

	for z := 0; z < b.SizeZ; z++ {
		for y := 0; y < b.SizeY; y++ {
			srcOff := v.Index(b.X, b.Y+y, b.Z+z)
			dstOff := out.Index(0, y, z)
			copy(out.Data[dstOff:dstOff+b.SizeX], v.Data[srcOff:srcOff+b.SizeX])
		}
	}
	return out, nil
}

// Paste copies the patch into a zero-filled copy of the template at the given
// voxel offset, with no resampling. Every voxel outside the pasted region is
// zero; every voxel inside matches the patch exactly.
func Paste(template, patch *Volume, ox, oy, oz int) (*Volume, error) {
	if ox < 0 || oy < 0 || oz < 0 ||
		ox+patch.Width > template.Width ||
		oy+patch.Height > template.Height ||
		oz+patch.Depth > template.Depth {
		return nil, fmt.Errorf("paste: patch %dx%dx%d at (%d,%d,%d) outside %dx%dx%d template",
			patch.Width, patch.Height, patch.Depth, ox, oy, oz,
			template.Width, template.Height, template.Depth)
	}

	out := NewLike(template)
	for z := 0; z < patch.Depth; z++ {
		for y := 0; y < patch.Height; y++ {
			srcOff := patch.Index(0, y, z)
			dstOff := out.Index(ox, oy+y, oz+z)
			copy(out.Data[dstOff:dstOff+patch.Width], patch.Data[srcOff:srcOff+patch.Width])
		}
	}
	return out, nil
}
