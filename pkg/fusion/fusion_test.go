package fusion

import (
	"math"
	"testing"

	"cardiacatlas/pkg/atlas"
	"cardiacatlas/pkg/volume"
)

// addAtlas registers a deformable-stage record with a uniform weight and a
// given label volume.
func addAtlas(t *testing.T, set *atlas.Set, id string, label *volume.Volume, weight float64) {
	t.Helper()
	wm := volume.NewLike(label)
	for i := range wm.Data {
		wm.Data[i] = weight
	}
	rec := &atlas.Record{
		ID:       id,
		Original: atlas.StageData{Image: volume.NewLike(label)},
		Deformable: &atlas.RegisteredStage{
			StageData: atlas.StageData{
				Image:      volume.NewLike(label),
				Structures: map[string]*volume.Volume{"WHOLEHEART": label},
			},
			WeightMap: wm,
		},
	}
	if err := set.Add(rec); err != nil {
		t.Fatalf("adding atlas %s: %v", id, err)
	}
}

func binaryLabel(on bool) *volume.Volume {
	v := volume.New(3, 3, 3)
	if on {
		for i := range v.Data {
			v.Data[i] = 1
		}
	}
	return v
}

func TestCombineWeightedMean(t *testing.T) {
	set := atlas.NewSet()
	addAtlas(t, set, "a", binaryLabel(true), 3)
	addAtlas(t, set, "b", binaryLabel(false), 1)

	probs, err := Combine(set, []string{"WHOLEHEART"}, VoteLocal)
	if err != nil {
		t.Fatalf("combine failed: %v", err)
	}
	prob := probs["WHOLEHEART"]
	for i, p := range prob.Data {
		if math.Abs(p-0.75) > 1e-9 {
			t.Fatalf("voxel %d: got %g, want 0.75", i, p)
		}
	}
}

func TestCombineStaysInUnitInterval(t *testing.T) {
	set := atlas.NewSet()
	addAtlas(t, set, "a", binaryLabel(true), 0.2)
	addAtlas(t, set, "b", binaryLabel(true), 5)
	addAtlas(t, set, "c", binaryLabel(false), 1.7)

	for _, vote := range []VoteType{VoteLocal, VoteGlobal} {
		probs, err := Combine(set, []string{"WHOLEHEART"}, vote)
		if err != nil {
			t.Fatalf("combine (%s) failed: %v", vote, err)
		}
		for i, p := range probs["WHOLEHEART"].Data {
			if p < 0 || p > 1 {
				t.Fatalf("vote %s voxel %d outside [0,1]: %g", vote, i, p)
			}
		}
	}
}

func TestCombineUnanimousVoteIsExact(t *testing.T) {
	set := atlas.NewSet()
	addAtlas(t, set, "a", binaryLabel(true), 1)
	addAtlas(t, set, "b", binaryLabel(true), 2)

	probs, err := Combine(set, []string{"WHOLEHEART"}, VoteGlobal)
	if err != nil {
		t.Fatalf("combine failed: %v", err)
	}
	for i, p := range probs["WHOLEHEART"].Data {
		if math.Abs(p-1) > 1e-9 {
			t.Fatalf("unanimous vote voxel %d: got %g, want 1", i, p)
		}
	}
}

func TestCombineInvariantViolations(t *testing.T) {
	t.Run("empty set", func(t *testing.T) {
		if _, err := Combine(atlas.NewSet(), []string{"WHOLEHEART"}, VoteLocal); err == nil {
			t.Fatal("empty set should fail")
		}
	})

	t.Run("unknown vote type", func(t *testing.T) {
		set := atlas.NewSet()
		addAtlas(t, set, "a", binaryLabel(true), 1)
		if _, err := Combine(set, []string{"WHOLEHEART"}, VoteType("median")); err == nil {
			t.Fatal("unknown vote type should fail")
		}
	})

	t.Run("missing structure", func(t *testing.T) {
		set := atlas.NewSet()
		addAtlas(t, set, "a", binaryLabel(true), 1)
		if _, err := Combine(set, []string{"LANTDESCARTERY"}, VoteLocal); err == nil {
			t.Fatal("missing structure should fail")
		}
	})

	t.Run("missing weight map", func(t *testing.T) {
		set := atlas.NewSet()
		rec := &atlas.Record{
			ID: "a",
			Deformable: &atlas.RegisteredStage{
				StageData: atlas.StageData{
					Structures: map[string]*volume.Volume{"WHOLEHEART": binaryLabel(true)},
				},
			},
		}
		if err := set.Add(rec); err != nil {
			t.Fatalf("add failed: %v", err)
		}
		if _, err := Combine(set, []string{"WHOLEHEART"}, VoteLocal); err == nil {
			t.Fatal("missing weight map should fail")
		}
	})
}

func TestProcessProbabilityMonotonic(t *testing.T) {
	prob := volume.New(4, 4, 4)
	for i := range prob.Data {
		prob.Data[i] = float64(i) / float64(len(prob.Data))
	}

	prev := ProcessProbability(prob, 0.2)
	for _, cutoff := range []float64{0.4, 0.6, 0.8} {
		next := ProcessProbability(prob, cutoff)
		for i := range prob.Data {
			if next.Data[i] > prev.Data[i] {
				t.Fatalf("cutoff %g grew the mask at voxel %d", cutoff, i)
			}
		}
		prev = next
	}
}

func TestWeightMapRange(t *testing.T) {
	fixed := volume.New(5, 5, 5)
	registered := volume.New(5, 5, 5)
	for i := range fixed.Data {
		fixed.Data[i] = float64(i % 11)
		registered.Data[i] = float64((i + 3) % 7)
	}

	w := WeightMap(fixed, registered, 1)
	for i, d := range w.Data {
		if d <= 0 || d > 1 {
			t.Fatalf("weight %d outside (0,1]: %g", i, d)
		}
	}
}

func TestWeightMapPerfectMatchIsOne(t *testing.T) {
	fixed := volume.New(4, 4, 4)
	for i := range fixed.Data {
		fixed.Data[i] = float64(i)
	}
	w := WeightMap(fixed, fixed.Clone(), 2)
	for i, d := range w.Data {
		if math.Abs(d-1) > 1e-9 {
			t.Fatalf("identical images should weight 1, voxel %d is %g", i, d)
		}
	}
}
