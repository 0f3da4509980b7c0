// Package config provides configuration loading and management for the
// cardiac segmentation pipeline. It handles loading configuration from YAML
// files, provides clinically validated default values, and checks the
// configuration for fatal inconsistencies before a run starts.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the pipeline configuration loaded from YAML.
type Config struct {
	// Atlas library parameters
	Atlas struct {
		// IDList names the atlas cases to register, in processing order
		IDList []string `yaml:"idList"`

		// Path is the root directory of the atlas library
		Path string `yaml:"path"`

		// ImageFormat is the per-atlas image filename template relative to
		// Path; argument 1 is the atlas identifier
		ImageFormat string `yaml:"imageFormat"`

		// LabelFormat is the per-atlas structure filename template relative
		// to Path; argument 1 is the atlas identifier, argument 2 the
		// structure name
		LabelFormat string `yaml:"labelFormat"`

		// Structures lists every structure propagated from the atlases
		Structures []string `yaml:"structures"`
	} `yaml:"atlas"`

	// Automatic crop parameters
	Crop struct {
		// LowerNormalizedThreshold and UpperNormalizedThreshold bound the
		// lung intensity band after min-max normalisation to [0,1]
		LowerNormalizedThreshold float64 `yaml:"lowerNormalizedThreshold"`
		UpperNormalizedThreshold float64 `yaml:"upperNormalizedThreshold"`

		// VoxelCountThreshold discards connected components smaller than
		// this many voxels
		VoxelCountThreshold float64 `yaml:"voxelCountThreshold"`

		// Margin expansions in voxels, applied on both sides of the
		// detected lung bounding box per axis
		SagittalExpansion int `yaml:"sagittalExpansion"`
		CoronalExpansion  int `yaml:"coronalExpansion"`
		AxialExpansion    int `yaml:"axialExpansion"`
	} `yaml:"crop"`

	// Rigid registration parameters
	Rigid struct {
		// Method names the linear transform model requested from the
		// registration collaborator
		Method string `yaml:"method"`

		ShrinkFactors []int     `yaml:"shrinkFactors"`
		SmoothSigmas  []float64 `yaml:"smoothSigmas"`
		SamplingRate  float64   `yaml:"samplingRate"`

		// FinalInterp is the interpolation used to resample the atlas
		// image after alignment: "nearest", "linear" or "bspline"
		FinalInterp string `yaml:"finalInterp"`

		// GuideStructure optionally focuses the alignment on one
		// structure's region; empty means whole-image alignment
		GuideStructure string `yaml:"guideStructure"`
	} `yaml:"rigid"`

	// Deformable registration parameters
	Deformable struct {
		ResolutionStaging []int `yaml:"resolutionStaging"`
		IterationStaging  []int `yaml:"iterationStaging"`

		// Cores is the parallelism hint forwarded to the registration
		// collaborator, independent of the pipeline's own worker pool
		Cores int `yaml:"cores"`
	} `yaml:"deformable"`

	// Iterative atlas removal parameters
	IAR struct {
		ReferenceStructure string  `yaml:"referenceStructure"`
		SmoothDistanceMaps bool    `yaml:"smoothDistanceMaps"`
		SmoothSigma        float64 `yaml:"smoothSigma"`

		// ZScoreStatistic is "MAD" or "STD"
		ZScoreStatistic string `yaml:"zScoreStatistic"`

		// OutlierMethod is "IQR" or "threshold"
		OutlierMethod string  `yaml:"outlierMethod"`
		OutlierFactor float64 `yaml:"outlierFactor"`

		MinBestAtlases int `yaml:"minBestAtlases"`
		MaxIterations  int `yaml:"maxIterations"`
	} `yaml:"iar"`

	// Label fusion parameters
	Fusion struct {
		// VoteType is "local" or "global"
		VoteType string `yaml:"voteType"`

		// WeightMapSmoothSigma is the Gaussian sigma in mm applied to the
		// intensity-difference weight maps
		WeightMapSmoothSigma float64 `yaml:"weightMapSmoothSigma"`

		// Thresholds maps structure name to its probability cutoff;
		// structures not listed fall back to DefaultThreshold
		Thresholds       map[string]float64 `yaml:"thresholds"`
		DefaultThreshold float64            `yaml:"defaultThreshold"`
	} `yaml:"fusion"`

	// Vessel splining parameters
	Vessels struct {
		// NameList selects which configured structures are vessel-type
		NameList []string `yaml:"nameList"`

		// RadiusMM maps vessel name to tube radius in millimetres
		RadiusMM map[string]float64 `yaml:"radiusMM"`

		// SpliningDirection maps vessel name to scan axis ("x","y","z")
		SpliningDirection map[string]string `yaml:"spliningDirection"`

		// StopCondition and StopConditionValue map vessel name to the
		// walk termination criterion
		StopCondition      map[string]string  `yaml:"stopCondition"`
		StopConditionValue map[string]float64 `yaml:"stopConditionValue"`
	} `yaml:"vessels"`

	// Processing parameters
	Processing struct {
		// Workers bounds the number of atlases registered concurrently;
		// zero means one worker per CPU
		Workers int `yaml:"workers"`

		// StageTimeoutSeconds aborts a single registration stage that
		// exceeds the limit; zero disables the timeout
		StageTimeoutSeconds int `yaml:"stageTimeoutSeconds"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Directory receives the final masks and the IAR audit log
		Directory string `yaml:"directory"`

		// NameFormat is the per-structure output filename template; the
		// verb receives the structure name
		NameFormat string `yaml:"nameFormat"`

		// SaveQCImages dumps mid-axial JPEG slices of the fused
		// probability volumes for visual review
		SaveQCImages bool `yaml:"saveQCImages"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values matching the
// validated whole-heart workflow.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Atlas.IDList = []string{"08", "11", "12", "13", "14"}
	cfg.Atlas.Path = "atlas"
	cfg.Atlas.ImageFormat = "Case_%[1]s/Images/Case_%[1]s_CROP.nii.gz"
	cfg.Atlas.LabelFormat = "Case_%[1]s/Structures/Case_%[1]s_%[2]s_CROP.nii.gz"
	cfg.Atlas.Structures = []string{"WHOLEHEART", "LANTDESCARTERY"}

	cfg.Crop.LowerNormalizedThreshold = -0.1
	cfg.Crop.UpperNormalizedThreshold = 0.4
	cfg.Crop.VoxelCountThreshold = 5e4
	cfg.Crop.SagittalExpansion = 0
	cfg.Crop.CoronalExpansion = 15
	cfg.Crop.AxialExpansion = 5

	cfg.Rigid.Method = "Affine"
	cfg.Rigid.ShrinkFactors = []int{8, 4, 2, 1}
	cfg.Rigid.SmoothSigmas = []float64{8, 4, 1, 0}
	cfg.Rigid.SamplingRate = 0.25
	cfg.Rigid.FinalInterp = "bspline"
	cfg.Rigid.GuideStructure = ""

	cfg.Deformable.ResolutionStaging = []int{16, 4, 2, 1}
	cfg.Deformable.IterationStaging = []int{20, 10, 10, 10}
	cfg.Deformable.Cores = 8

	cfg.IAR.ReferenceStructure = "WHOLEHEART"
	cfg.IAR.SmoothDistanceMaps = false
	cfg.IAR.SmoothSigma = 1
	cfg.IAR.ZScoreStatistic = "MAD"
	cfg.IAR.OutlierMethod = "IQR"
	cfg.IAR.OutlierFactor = 1.5
	cfg.IAR.MinBestAtlases = 4
	cfg.IAR.MaxIterations = 10

	cfg.Fusion.VoteType = "local"
	cfg.Fusion.WeightMapSmoothSigma = 2
	cfg.Fusion.Thresholds = map[string]float64{"WHOLEHEART": 0.44}
	cfg.Fusion.DefaultThreshold = 0.5

	cfg.Vessels.NameList = []string{"LANTDESCARTERY"}
	cfg.Vessels.RadiusMM = map[string]float64{"LANTDESCARTERY": 2.2}
	cfg.Vessels.SpliningDirection = map[string]string{"LANTDESCARTERY": "z"}
	cfg.Vessels.StopCondition = map[string]string{"LANTDESCARTERY": "count"}
	cfg.Vessels.StopConditionValue = map[string]float64{"LANTDESCARTERY": 1}

	cfg.Processing.Workers = 0
	cfg.Processing.StageTimeoutSeconds = 0

	cfg.Output.Directory = "."
	cfg.Output.NameFormat = "Auto_%s.nii.gz"
	cfg.Output.SaveQCImages = false
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file, overlaying the defaults.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for inconsistencies that would make a
// run meaningless. Any returned error is fatal before processing begins.
func (cfg *Config) Validate() error {
	if len(cfg.Atlas.IDList) == 0 {
		return fmt.Errorf("config: atlas id list is empty")
	}
	seen := make(map[string]bool, len(cfg.Atlas.IDList))
	for _, id := range cfg.Atlas.IDList {
		if id == "" {
			return fmt.Errorf("config: atlas id list contains an empty identifier")
		}
		if seen[id] {
			return fmt.Errorf("config: duplicate atlas identifier %q", id)
		}
		seen[id] = true
	}
	if len(cfg.Atlas.Structures) == 0 {
		return fmt.Errorf("config: atlas structure list is empty")
	}
	if cfg.Atlas.ImageFormat == "" || cfg.Atlas.LabelFormat == "" {
		return fmt.Errorf("config: atlas image and label formats must be set")
	}

	if cfg.Crop.UpperNormalizedThreshold <= cfg.Crop.LowerNormalizedThreshold {
		return fmt.Errorf("config: crop threshold band [%g,%g] is empty",
			cfg.Crop.LowerNormalizedThreshold, cfg.Crop.UpperNormalizedThreshold)
	}
	if cfg.Crop.SagittalExpansion < 0 || cfg.Crop.CoronalExpansion < 0 || cfg.Crop.AxialExpansion < 0 {
		return fmt.Errorf("config: crop expansions must be non-negative")
	}

	if !hasStructure(cfg.Atlas.Structures, cfg.IAR.ReferenceStructure) {
		return fmt.Errorf("config: IAR reference structure %q is not in the structure list",
			cfg.IAR.ReferenceStructure)
	}
	if cfg.IAR.MinBestAtlases < 2 {
		return fmt.Errorf("config: minimum best atlases must be at least 2, got %d",
			cfg.IAR.MinBestAtlases)
	}
	if cfg.IAR.OutlierFactor <= 0 {
		return fmt.Errorf("config: IAR outlier factor must be positive")
	}

	for name, t := range cfg.Fusion.Thresholds {
		if t < 0 || t > 1 {
			return fmt.Errorf("config: fusion threshold for %s is %g, must be in [0,1]", name, t)
		}
		if !hasStructure(cfg.Atlas.Structures, name) {
			return fmt.Errorf("config: fusion threshold names unknown structure %q", name)
		}
	}
	if cfg.Fusion.DefaultThreshold < 0 || cfg.Fusion.DefaultThreshold > 1 {
		return fmt.Errorf("config: default fusion threshold %g must be in [0,1]",
			cfg.Fusion.DefaultThreshold)
	}

	for _, name := range cfg.Vessels.NameList {
		if !hasStructure(cfg.Atlas.Structures, name) {
			return fmt.Errorf("config: vessel %q is not in the structure list", name)
		}
		if cfg.Vessels.RadiusMM[name] <= 0 {
			return fmt.Errorf("config: vessel %s needs a positive radius", name)
		}
	}

	if cfg.Output.NameFormat == "" {
		return fmt.Errorf("config: output name format is empty")
	}
	return nil
}

// IsVessel reports whether a structure is configured for vessel splining
// rather than voxel voting.
func (cfg *Config) IsVessel(structure string) bool {
	return hasStructure(cfg.Vessels.NameList, structure)
}

// ThresholdFor returns the fusion probability cutoff for a structure.
func (cfg *Config) ThresholdFor(structure string) float64 {
	if t, ok := cfg.Fusion.Thresholds[structure]; ok {
		return t
	}
	return cfg.Fusion.DefaultThreshold
}

func hasStructure(list []string, name string) bool {
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
