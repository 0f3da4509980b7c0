// Package iar implements iterative atlas removal: a statistical pruning pass
// that scores every atlas by the consistency of its propagated reference
// structure against the rest of the set, and removes outliers one at a time
// until the set is stable, the minimum atlas floor is reached, or the
// iteration cap runs out.
//
// Every removal is written to an audit log with its score, robust z-score and
// the outlier bounds in force, so a reviewer can reconstruct exactly why an
// atlas was excluded from fusion.
package iar

import (
	"errors"
	"fmt"
	"log"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"cardiacatlas/pkg/atlas"
	"cardiacatlas/pkg/volume"
)

// Statistic selects how per-atlas scores are converted to z-scores.
type Statistic string

const (
	// StatisticMAD centres on the median and scales by the normalised
	// median absolute deviation, robust against the outliers being scored.
	StatisticMAD Statistic = "MAD"

	// StatisticStdDev centres on the mean and scales by the standard
	// deviation.
	StatisticStdDev Statistic = "STD"
)

// Method selects how the outlier bound is drawn.
type Method string

const (
	// MethodIQR fences scores outside [Q1 - factor*IQR, Q3 + factor*IQR].
	MethodIQR Method = "IQR"

	// MethodThreshold flags scores with |z| above the factor.
	MethodThreshold Method = "threshold"
)

// madScale converts a median absolute deviation into a Gaussian-equivalent
// standard deviation.
const madScale = 1.4826

// ErrTooFewAtlases reports that fewer atlases are available than the
// configured minimum, before any statistical rejection has happened. Fusing
// from such a set would be meaningless, so the run must fail instead.
var ErrTooFewAtlases = errors.New("fewer atlases than the configured minimum")

// Params configures the engine. All values come from the run configuration;
// the engine itself reads no ambient state.
type Params struct {
	// ReferenceStructure names the label whose consistency is scored.
	ReferenceStructure string

	// SmoothDistanceMaps applies a Gaussian of SmoothSigmaMM to each
	// distance map before scoring.
	SmoothDistanceMaps bool
	SmoothSigmaMM      float64

	Statistic Statistic
	Method    Method

	// Factor is the multiplicative fencing factor for the chosen method.
	Factor float64

	// MinBestAtlases is the floor below which the set is never reduced.
	MinBestAtlases int

	// MaxIterations caps the removal loop; zero means one pass per atlas,
	// which is the natural upper bound since each iteration removes one.
	MaxIterations int
}

// Removal is one audit-log entry: which atlas was removed, when and why.
type Removal struct {
	ID         string
	Iteration  int
	Score      float64
	ZScore     float64
	LowerBound float64
	UpperBound float64
}

// Engine prunes an atlas set in place. It holds exclusive mutation rights
// over the set while Run executes; callers must not touch the set
// concurrently.
type Engine struct {
	Params Params

	// Log receives the mandatory audit trail. Nil disables logging but not
	// the returned removal records.
	Log *log.Logger
}

// Run executes the removal loop against the set and returns the removals in
// order. The set passed in is mutated: removed atlases lose their entire
// record. An atlas is never removed twice, and the set never drops below
// Params.MinBestAtlases.
func (e *Engine) Run(set *atlas.Set) ([]Removal, error) {
	p := e.Params
	if p.ReferenceStructure == "" {
		return nil, fmt.Errorf("iar: reference structure not configured")
	}
	if p.Factor <= 0 {
		return nil, fmt.Errorf("iar: outlier factor must be positive, got %g", p.Factor)
	}
	switch p.Statistic {
	case StatisticMAD, StatisticStdDev:
	default:
		return nil, fmt.Errorf("iar: unknown statistic %q", p.Statistic)
	}
	switch p.Method {
	case MethodIQR, MethodThreshold:
	default:
		return nil, fmt.Errorf("iar: unknown outlier method %q", p.Method)
	}
	if set.Len() < p.MinBestAtlases {
		return nil, fmt.Errorf("iar: %d atlases available, minimum is %d: %w",
			set.Len(), p.MinBestAtlases, ErrTooFewAtlases)
	}

	maxIter := p.MaxIterations
	if maxIter <= 0 {
		maxIter = set.Len()
	}

	// Distance maps depend only on the atlas itself, so they are computed
	// once and cached; the cross-atlas statistics are re-derived every
	// iteration over the surviving set.
	maps := make(map[string]*volume.Volume, set.Len())

	var removals []Removal
	for iteration := 1; iteration <= maxIter; iteration++ {
		ids := set.IDs()
		if len(ids) <= p.MinBestAtlases {
			e.logf("iteration %d: atlas floor of %d reached, stopping", iteration, p.MinBestAtlases)
			break
		}

		for _, id := range ids {
			if _, ok := maps[id]; ok {
				continue
			}
			dm, err := e.distanceMap(set.Get(id))
			if err != nil {
				return removals, err
			}
			maps[id] = dm
		}

		scores, err := consistencyScores(ids, maps)
		if err != nil {
			return removals, err
		}
		zscores := e.zScores(scores)
		lower, upper, err := e.bounds(scores, zscores)
		if err != nil {
			return removals, err
		}

		worst := e.pickWorst(ids, scores, zscores, lower, upper)
		if worst < 0 {
			e.logf("iteration %d: no outliers flagged, set stable with %d atlases", iteration, len(ids))
			break
		}

		id := ids[worst]
		set.Remove(id)
		delete(maps, id)
		removal := Removal{
			ID:         id,
			Iteration:  iteration,
			Score:      scores[worst],
			ZScore:     zscores[worst],
			LowerBound: lower,
			UpperBound: upper,
		}
		removals = append(removals, removal)
		e.logf("iteration %d: removed atlas %s (score=%.6f z=%.3f bounds=[%.6f, %.6f])",
			iteration, id, removal.Score, removal.ZScore, lower, upper)
	}

	e.logf("finished with %d atlases remaining: %v", set.Len(), set.IDs())
	return removals, nil
}

func (e *Engine) distanceMap(rec *atlas.Record) (*volume.Volume, error) {
	if rec.Deformable == nil {
		return nil, fmt.Errorf("iar: atlas %s has no deformable stage", rec.ID)
	}
	label, ok := rec.Deformable.Structures[e.Params.ReferenceStructure]
	if !ok {
		return nil, fmt.Errorf("iar: atlas %s is missing reference structure %s",
			rec.ID, e.Params.ReferenceStructure)
	}
	dm := volume.DistanceMap(label)
	if e.Params.SmoothDistanceMaps {
		dm = volume.GaussianSmooth(dm, e.Params.SmoothSigmaMM)
	}
	return dm, nil
}

// consistencyScores reduces each atlas to one scalar: the mean absolute
// deviation of its distance map from the mean distance map of all the other
// atlases. A perfectly consensual atlas scores near zero.
func consistencyScores(ids []string, maps map[string]*volume.Volume) ([]float64, error) {
	n := len(ids)
	first := maps[ids[0]]
	sum := make([]float64, len(first.Data))
	for _, id := range ids {
		m := maps[id]
		if !m.SameShape(first) {
			return nil, fmt.Errorf("iar: distance map shapes differ between atlases")
		}
		for i, d := range m.Data {
			sum[i] += d
		}
	}

	scores := make([]float64, n)
	for ai, id := range ids {
		m := maps[id]
		total := 0.0
		for i, d := range m.Data {
			others := (sum[i] - d) / float64(n-1)
			diff := d - others
			if diff < 0 {
				diff = -diff
			}
			total += diff
		}
		scores[ai] = total / float64(len(m.Data))
	}
	return scores, nil
}

func (e *Engine) zScores(scores []float64) []float64 {
	z := make([]float64, len(scores))
	switch e.Params.Statistic {
	case StatisticMAD:
		median, err := stats.Median(scores)
		if err != nil {
			return z
		}
		mad, err := stats.MedianAbsoluteDeviation(scores)
		if err != nil || mad == 0 {
			return z
		}
		for i, s := range scores {
			z[i] = (s - median) / (mad * madScale)
		}
	case StatisticStdDev:
		mean := stat.Mean(scores, nil)
		sd := stat.StdDev(scores, nil)
		if sd == 0 {
			return z
		}
		for i, s := range scores {
			z[i] = (s - mean) / sd
		}
	}
	return z
}

// bounds returns the inclusive score interval considered consistent. For the
// threshold method the fencing happens in z-space, so the score bounds are
// infinite and pickWorst consults the z-scores instead.
func (e *Engine) bounds(scores, zscores []float64) (lower, upper float64, err error) {
	switch e.Params.Method {
	case MethodIQR:
		q, err := stats.Quartile(scores)
		if err != nil {
			return 0, 0, fmt.Errorf("iar: quartiles: %w", err)
		}
		iqr := q.Q3 - q.Q1
		return q.Q1 - e.Params.Factor*iqr, q.Q3 + e.Params.Factor*iqr, nil
	case MethodThreshold:
		return 0, 0, nil
	}
	return 0, 0, fmt.Errorf("iar: unknown outlier method %q", e.Params.Method)
}

// pickWorst returns the index of the single worst flagged atlas, or -1 when
// nothing is flagged. The worst offender is the largest |z|; exact ties fall
// back to ascending atlas identifier so removal order is always
// deterministic.
func (e *Engine) pickWorst(ids []string, scores, zscores []float64, lower, upper float64) int {
	worst := -1
	for i := range ids {
		var flagged bool
		switch e.Params.Method {
		case MethodIQR:
			flagged = scores[i] < lower || scores[i] > upper
		case MethodThreshold:
			flagged = abs(zscores[i]) > e.Params.Factor
		}
		if !flagged {
			continue
		}
		if worst < 0 {
			worst = i
			continue
		}
		zi, zw := abs(zscores[i]), abs(zscores[worst])
		if zi > zw || (zi == zw && ids[i] < ids[worst]) {
			worst = i
		}
	}
	return worst
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func (e *Engine) logf(format string, args ...any) {
	if e.Log != nil {
		e.Log.Printf(format, args...)
	}
}
