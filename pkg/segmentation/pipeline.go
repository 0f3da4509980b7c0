// Package segmentation orchestrates the full multi-atlas cardiac pipeline:
// organ-region detection and cropping, per-atlas registration staging,
// outlier rejection, label fusion and vessel extraction, and compositing of
// the final masks back into the target's original geometry.
package segmentation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"cardiacatlas/pkg/atlas"
	"cardiacatlas/pkg/config"
	"cardiacatlas/pkg/fusion"
	"cardiacatlas/pkg/iar"
	"cardiacatlas/pkg/lung"
	"cardiacatlas/pkg/registration"
	"cardiacatlas/pkg/vessel"
	"cardiacatlas/pkg/volume"
)

// ErrLungRegionImplausible reports that the automatic organ-region detection
// produced a bounding box that cannot be a thorax: empty, or spanning nearly
// the entire volume along every axis. Cropping with such a box would either
// fail or silently process the whole scan, so the run stops instead.
var ErrLungRegionImplausible = errors.New("detected lung region is implausible")

// implausibleAxisFraction is the per-axis extent above which a detected
// region is treated as covering the whole volume.
const implausibleAxisFraction = 0.9

// OrganDetector locates the organ region that bounds cardiac processing.
// It returns the tight bounding box and the binary organ mask.
type OrganDetector func(v *volume.Volume, p lung.Params) (volume.CropBox, *volume.Volume, error)

// Pipeline wires the collaborators together for one or more runs. All fields
// must be set before calling Run; NewPipeline fills in the built-in
// reference collaborators.
type Pipeline struct {
	Config     *config.Config
	Rigid      registration.RigidRegistrar
	Deformable registration.DeformableRegistrar
	Vessels    vessel.SplineGenerator
	Detect     OrganDetector

	// Log receives progress output. AuditLog receives the IAR trail; the
	// command layer points it at the per-run IAR_<timestamp>.log file.
	Log      *log.Logger
	AuditLog *log.Logger
}

// NewPipeline returns a pipeline using the built-in reference collaborators:
// centroid rigid alignment, identity deformable refinement, centroid-tube
// vessel extraction and lung-based organ detection.
func NewPipeline(cfg *config.Config, logger *log.Logger) *Pipeline {
	return &Pipeline{
		Config:     cfg,
		Rigid:      registration.CentroidRigid{},
		Deformable: registration.IdentityDeformable{},
		Vessels:    vessel.CentroidTube{},
		Detect:     lung.Segment,
		Log:        logger,
	}
}

// ExcludedAtlas records an atlas dropped before fusion, with the stage that
// dropped it.
type ExcludedAtlas struct {
	ID     string
	Stage  string
	Reason string
}

// Report summarises one segmentation run for review: the crop geometry, every
// atlas exclusion with its cause, and the IAR removal trail.
type Report struct {
	CropBox  volume.CropBox
	Excluded []ExcludedAtlas
	Removals []iar.Removal

	// FusedAtlases lists the atlases that contributed to the final vote.
	FusedAtlases []string

	// Probabilities holds the fused probability volume per voxel-vote
	// structure, in cropped space, for QC export.
	Probabilities map[string]*volume.Volume
}

// Run segments the target using the given atlas units and returns one binary
// mask per configured structure in the target's original geometry, plus the
// run report. The target and unit volumes are not modified.
func (p *Pipeline) Run(ctx context.Context, target *volume.Volume, units []registration.Unit) (map[string]*volume.Volume, *Report, error) {
	cfg := p.Config
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if len(cfg.Vessels.NameList) > 0 && p.Vessels == nil {
		return nil, nil, fmt.Errorf("config: vessel structures configured but no spline generator wired")
	}

	box, err := p.locateRegion(target)
	if err != nil {
		return nil, nil, err
	}
	report := &Report{CropBox: box}
	p.logf("crop box: origin (%d,%d,%d) size %dx%dx%d",
		box.X, box.Y, box.Z, box.SizeX, box.SizeY, box.SizeZ)

	cropped, err := target.Crop(box)
	if err != nil {
		return nil, nil, fmt.Errorf("cropping target: %w", err)
	}

	set, err := p.register(ctx, cropped, units, report)
	if err != nil {
		return nil, report, err
	}

	if err := p.reject(set, report); err != nil {
		return nil, report, err
	}
	report.FusedAtlases = set.IDs()

	masks, err := p.extract(ctx, set, report)
	if err != nil {
		return nil, report, err
	}

	out := make(map[string]*volume.Volume, len(masks))
	for name, mask := range masks {
		full, err := volume.Paste(target, mask, box.X, box.Y, box.Z)
		if err != nil {
			return nil, report, fmt.Errorf("compositing %s: %w", name, err)
		}
		out[name] = full
	}
	return out, report, nil
}

// locateRegion detects the organ region, sanity-checks it, and converts it to
// the final crop box by expanding the configured margins and clamping to the
// target bounds.
func (p *Pipeline) locateRegion(target *volume.Volume) (volume.CropBox, error) {
	cfg := p.Config
	box, _, err := p.Detect(target, lung.Params{
		LowerThreshold:      cfg.Crop.LowerNormalizedThreshold,
		UpperThreshold:      cfg.Crop.UpperNormalizedThreshold,
		VoxelCountThreshold: cfg.Crop.VoxelCountThreshold,
	})
	if err != nil {
		return volume.CropBox{}, fmt.Errorf("organ detection: %w", err)
	}
	if box.IsEmpty() {
		return volume.CropBox{}, fmt.Errorf("organ detection returned an empty region: %w",
			ErrLungRegionImplausible)
	}
	if float64(box.SizeX) >= implausibleAxisFraction*float64(target.Width) &&
		float64(box.SizeY) >= implausibleAxisFraction*float64(target.Height) &&
		float64(box.SizeZ) >= implausibleAxisFraction*float64(target.Depth) {
		return volume.CropBox{}, fmt.Errorf("organ region spans the whole volume: %w",
			ErrLungRegionImplausible)
	}

	box = box.Expanded(cfg.Crop.SagittalExpansion, cfg.Crop.CoronalExpansion, cfg.Crop.AxialExpansion)
	return box.Clamped(target.Width, target.Height, target.Depth), nil
}

// register drives every atlas through the stage runner and collects the
// survivors into an ordered atlas set. Per-atlas failures become report
// exclusions, not run failures.
func (p *Pipeline) register(ctx context.Context, cropped *volume.Volume, units []registration.Unit, report *Report) (*atlas.Set, error) {
	cfg := p.Config
	runner := &registration.Runner{
		Rigid:      p.Rigid,
		Deformable: p.Deformable,
		RigidOptions: registration.RigidOptions{
			Method:        cfg.Rigid.Method,
			ShrinkFactors: cfg.Rigid.ShrinkFactors,
			SmoothSigmas:  cfg.Rigid.SmoothSigmas,
			SamplingRate:  cfg.Rigid.SamplingRate,
			FinalInterp:   parseInterpolation(cfg.Rigid.FinalInterp),
		},
		DeformableOptions: registration.DeformableOptions{
			ResolutionStaging: cfg.Deformable.ResolutionStaging,
			IterationStaging:  cfg.Deformable.IterationStaging,
			Cores:             cfg.Deformable.Cores,
		},
		WeightMap: func(fixed, registered *volume.Volume) *volume.Volume {
			return fusion.WeightMap(fixed, registered, cfg.Fusion.WeightMapSmoothSigma)
		},
		Workers:      cfg.Processing.Workers,
		StageTimeout: time.Duration(cfg.Processing.StageTimeoutSeconds) * time.Second,
		Log:          p.Log,
	}

	set := atlas.NewSet()
	for i, res := range runner.Run(ctx, cropped, units) {
		if res.Err != nil {
			report.Excluded = append(report.Excluded, ExcludedAtlas{
				ID:     res.ID,
				Stage:  "registration",
				Reason: res.Err.Error(),
			})
			continue
		}
		rec := &atlas.Record{
			ID: res.ID,
			Original: atlas.StageData{
				Image:      units[i].Image,
				Structures: units[i].Structures,
			},
			Rigid: &atlas.RegisteredStage{
				StageData: atlas.StageData{Image: res.Rigid.Image, Structures: res.Rigid.Structures},
				Transform: res.Rigid.Transform,
			},
			Deformable: &atlas.RegisteredStage{
				StageData: atlas.StageData{Image: res.Deformable.Image, Structures: res.Deformable.Structures},
				Transform: res.Deformable.Transform,
				WeightMap: res.WeightMap,
			},
		}
		if err := set.Add(rec); err != nil {
			return nil, err
		}
	}

	if set.Len() < cfg.IAR.MinBestAtlases {
		return nil, fmt.Errorf("%d of %d atlases survived registration, minimum is %d: %w",
			set.Len(), len(units), cfg.IAR.MinBestAtlases, iar.ErrTooFewAtlases)
	}
	return set, nil
}

func (p *Pipeline) reject(set *atlas.Set, report *Report) error {
	cfg := p.Config
	engine := &iar.Engine{
		Params: iar.Params{
			ReferenceStructure: cfg.IAR.ReferenceStructure,
			SmoothDistanceMaps: cfg.IAR.SmoothDistanceMaps,
			SmoothSigmaMM:      cfg.IAR.SmoothSigma,
			Statistic:          iar.Statistic(cfg.IAR.ZScoreStatistic),
			Method:             iar.Method(cfg.IAR.OutlierMethod),
			Factor:             cfg.IAR.OutlierFactor,
			MinBestAtlases:     cfg.IAR.MinBestAtlases,
			MaxIterations:      cfg.IAR.MaxIterations,
		},
		Log: p.AuditLog,
	}

	removals, err := engine.Run(set)
	report.Removals = removals
	for _, rm := range removals {
		report.Excluded = append(report.Excluded, ExcludedAtlas{
			ID:     rm.ID,
			Stage:  "outlier rejection",
			Reason: fmt.Sprintf("iteration %d score %.6f z %.3f", rm.Iteration, rm.Score, rm.ZScore),
		})
	}
	return err
}

// extract produces the binary mask per structure in cropped space: weighted
// voting plus thresholding for regular structures, spline extraction for
// vessel-type structures.
func (p *Pipeline) extract(ctx context.Context, set *atlas.Set, report *Report) (map[string]*volume.Volume, error) {
	cfg := p.Config

	var voteStructures []string
	for _, name := range cfg.Atlas.Structures {
		if !cfg.IsVessel(name) {
			voteStructures = append(voteStructures, name)
		}
	}

	masks := make(map[string]*volume.Volume, len(cfg.Atlas.Structures))
	if len(voteStructures) > 0 {
		probs, err := fusion.Combine(set, voteStructures, fusion.VoteType(cfg.Fusion.VoteType))
		if err != nil {
			return nil, fmt.Errorf("label fusion: %w", err)
		}
		report.Probabilities = probs
		for name, prob := range probs {
			masks[name] = fusion.ProcessProbability(prob, cfg.ThresholdFor(name))
		}
	}

	for _, name := range cfg.Vessels.NameList {
		mask, err := p.Vessels.Generate(ctx, set, name, vessel.Settings{
			Radius:    cfg.Vessels.RadiusMM[name],
			Direction: vessel.Axis(cfg.Vessels.SpliningDirection[name]),
			Stop: vessel.StopCondition{
				Type:  cfg.Vessels.StopCondition[name],
				Value: cfg.Vessels.StopConditionValue[name],
			},
		})
		if err != nil {
			return nil, fmt.Errorf("vessel extraction: %w", err)
		}
		masks[name] = mask
	}
	return masks, nil
}

func parseInterpolation(name string) registration.Interpolation {
	switch name {
	case "nearest":
		return registration.Nearest
	case "bspline":
		return registration.BSpline
	default:
		return registration.Linear
	}
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.Log != nil {
		p.Log.Printf(format, args...)
	}
}
