// Package fusion combines the surviving atlases' propagated structure labels
// into per-structure probability volumes via weighted voting, and thresholds
// them into binary masks.
package fusion

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"cardiacatlas/pkg/atlas"
	"cardiacatlas/pkg/volume"
)

// VoteType selects how atlas weights enter the vote.
type VoteType string

const (
	// VoteLocal weights every voxel by the atlas's voxel-wise weight map.
	VoteLocal VoteType = "local"

	// VoteGlobal collapses each atlas's weight map to its mean value, so
	// every voxel of an atlas votes with the same strength.
	VoteGlobal VoteType = "global"
)

// Combine fuses the named structures across every atlas in the set into
// probability volumes with values in [0,1]. Every atlas must have completed
// the deformable stage, carry a weight map, and carry every requested
// structure; a gap is a pipeline invariant violation and fails the call.
func Combine(set *atlas.Set, structures []string, vote VoteType) (map[string]*volume.Volume, error) {
	if set.Len() == 0 {
		return nil, fmt.Errorf("fusion: empty atlas set")
	}
	if vote != VoteLocal && vote != VoteGlobal {
		return nil, fmt.Errorf("fusion: unknown vote type %q", vote)
	}

	ids := set.IDs()
	weights := make([]*volume.Volume, len(ids))
	globals := make([]float64, len(ids))
	for i, id := range ids {
		rec := set.Get(id)
		if rec.Deformable == nil || rec.Deformable.WeightMap == nil {
			return nil, fmt.Errorf("fusion: atlas %s has no deformable-stage weight map", id)
		}
		weights[i] = rec.Deformable.WeightMap
		if vote == VoteGlobal {
			globals[i] = meanValue(weights[i])
		}
	}

	out := make(map[string]*volume.Volume, len(structures))
	for _, name := range structures {
		labels := make([]*volume.Volume, len(ids))
		for i, id := range ids {
			label, ok := set.Get(id).Deformable.Structures[name]
			if !ok {
				return nil, fmt.Errorf("fusion: atlas %s is missing structure %s", id, name)
			}
			labels[i] = label
		}

		prob := volume.NewLike(labels[0])
		for vi := range prob.Data {
			var num, den float64
			for i := range ids {
				w := globals[i]
				if vote == VoteLocal {
					w = weights[i].Data[vi]
				}
				if w <= 0 {
					continue
				}
				num += w * labels[i].Data[vi]
				den += w
			}
			if den > 0 {
				p := num / den
				// Binary labels and non-negative weights keep the vote in
				// [0,1]; clamp guards against float rounding at the edges.
				if p < 0 {
					p = 0
				} else if p > 1 {
					p = 1
				}
				prob.Data[vi] = p
			}
		}
		out[name] = prob
	}
	return out, nil
}

// ProcessProbability thresholds a probability volume into a binary mask.
// Thresholding is monotonic: raising the cutoff never grows the mask.
func ProcessProbability(prob *volume.Volume, threshold float64) *volume.Volume {
	return prob.Threshold(threshold)
}

func meanValue(v *volume.Volume) float64 {
	if len(v.Data) == 0 {
		return 0
	}
	return stat.Mean(v.Data, nil)
}
