package fusion

import "cardiacatlas/pkg/volume"

// WeightMap derives a voxel-wise similarity weight in (0,1] from the cropped
// target and a deformably registered atlas image: the absolute intensity
// difference is Gaussian-smoothed to express local rather than pointwise
// agreement, then inverted so that similar regions vote strongly.
//
// Pure function of its inputs; no cross-atlas interaction.
func WeightMap(fixed, registered *volume.Volume, smoothSigmaMM float64) *volume.Volume {
	diff := volume.NewLike(fixed)
	for i := range diff.Data {
		d := fixed.Data[i] - registered.Data[i]
		if d < 0 {
			d = -d
		}
		diff.Data[i] = d
	}
	if smoothSigmaMM > 0 {
		diff = volume.GaussianSmooth(diff, smoothSigmaMM)
	}

	w := volume.NewLike(fixed)
	for i, d := range diff.Data {
		w.Data[i] = 1 / (1 + d)
	}
	return w
}
