package volume

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/henghuang/nifti"
)

// ReadNIfTI loads a .nii or .nii.gz volume from disk. For 4D files only the
// first time point is read. Voxel spacing comes from the header pixdim; the
// physical origin and direction are left at their defaults, since every
// pipeline operation works in voxel index space.
func ReadNIfTI(path string) (*Volume, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("read nifti: %w", err)
	}

	var img nifti.Nifti1Image
	img.LoadImage(path, true)

	var hdr nifti.Nifti1Header
	hdr.LoadHeader(path)

	dims := img.GetDims()
	width, height, depth := dims[0], dims[1], dims[2]
	if width <= 0 || height <= 0 || depth <= 0 {
		return nil, fmt.Errorf("read nifti %s: degenerate dimensions %dx%dx%d",
			path, width, height, depth)
	}

	v := New(width, height, depth)
	for i := 0; i < 3; i++ {
		if s := float64(hdr.Pixdim[i+1]); s > 0 {
			v.Spacing[i] = s
		}
	}
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v.Set(x, y, z, float64(img.GetAt(x, y, z, 0)))
			}
		}
	}
	return v, nil
}

// nifti1Header is the fixed 348-byte NIfTI-1 header, fields in file order.
type nifti1Header struct {
	SizeofHdr                    int32
	DataTypeUnused               [10]byte
	DbName                       [18]byte
	Extents                      int32
	SessionError                 int16
	Regular                      byte
	DimInfo                      byte
	Dim                          [8]int16
	IntentP1, IntentP2, IntentP3 float32
	IntentCode                   int16
	Datatype                     int16
	Bitpix                       int16
	SliceStart                   int16
	Pixdim                       [8]float32
	VoxOffset                    float32
	SclSlope                     float32
	SclInter                     float32
	SliceEnd                     int16
	SliceCode                    byte
	XyztUnits                    byte
	CalMax                       float32
	CalMin                       float32
	SliceDuration                float32
	Toffset                      float32
	Glmax                        int32
	Glmin                        int32
	Descrip                      [80]byte
	AuxFile                      [24]byte
	QformCode                    int16
	SformCode                    int16
	QuaternB, QuaternC, QuaternD float32
	QoffsetX, QoffsetY, QoffsetZ float32
	SrowX                        [4]float32
	SrowY                        [4]float32
	SrowZ                        [4]float32
	IntentName                   [16]byte
	Magic                        [4]byte
}

const (
	niftiDTFloat32 = 16
	niftiUnitsMM   = 2
)

// WriteNIfTI saves the volume as an uncompressed or gzip-compressed NIfTI-1
// file, chosen by the .gz suffix. Data is written as float32 with an sform
// built from the volume spacing and origin.
func WriteNIfTI(path string, v *Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write nifti: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz = gzip.NewWriter(f)
		defer gz.Close()
		w = gz
	}

	hdr := nifti1Header{
		SizeofHdr: 348,
		Regular:   'r',
		Datatype:  niftiDTFloat32,
		Bitpix:    32,
		VoxOffset: 352,
		SclSlope:  1,
		XyztUnits: niftiUnitsMM,
		SformCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim = [8]int16{3, int16(v.Width), int16(v.Height), int16(v.Depth), 1, 1, 1, 1}
	hdr.Pixdim = [8]float32{1,
		float32(v.Spacing[0]), float32(v.Spacing[1]), float32(v.Spacing[2]),
		1, 1, 1, 1}
	hdr.SrowX = [4]float32{float32(v.Direction[0] * v.Spacing[0]), float32(v.Direction[1] * v.Spacing[1]), float32(v.Direction[2] * v.Spacing[2]), float32(v.Origin[0])}
	hdr.SrowY = [4]float32{float32(v.Direction[3] * v.Spacing[0]), float32(v.Direction[4] * v.Spacing[1]), float32(v.Direction[5] * v.Spacing[2]), float32(v.Origin[1])}
	hdr.SrowZ = [4]float32{float32(v.Direction[6] * v.Spacing[0]), float32(v.Direction[7] * v.Spacing[1]), float32(v.Direction[8] * v.Spacing[2]), float32(v.Origin[2])}
	copy(hdr.Descrip[:], "cardiacatlas")

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write nifti header: %w", err)
	}
	// Extension flag: four zero bytes, no header extensions.
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("write nifti extension flag: %w", err)
	}

	data := make([]float32, len(v.Data))
	for i, d := range v.Data {
		data[i] = float32(d)
	}
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("write nifti data: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("write nifti: %w", err)
		}
	}
	return nil
}
