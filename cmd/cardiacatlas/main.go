package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"cardiacatlas/pkg/config"
	"cardiacatlas/pkg/segmentation"
)

func main() {
	// Parse command line arguments
	targetPath := flag.String("target", "", "Target CT volume (NIfTI, .nii or .nii.gz)")
	configPath := flag.String("config", "config.yaml", "Configuration file (YAML)")
	outputDir := flag.String("output", "", "Output directory (overrides config)")
	atlasPath := flag.String("atlas", "", "Atlas library root directory (overrides config)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to the config path and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	if *targetPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *outputDir != "" {
		cfg.Output.Directory = *outputDir
	}
	if *atlasPath != "" {
		cfg.Atlas.Path = *atlasPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	if !cfg.Output.Verbose {
		logger = log.New(io.Discard, "", 0)
	}

	fmt.Println("================================")
	fmt.Println("MULTI-ATLAS CARDIAC SEGMENTATION")
	fmt.Println("================================")
	fmt.Printf("Target: %s\n", *targetPath)
	fmt.Printf("Atlases: %v\n", cfg.Atlas.IDList)
	fmt.Printf("Structures: %v\n", cfg.Atlas.Structures)

	pipeline := segmentation.NewPipeline(cfg, logger)

	startTime := time.Now()
	report, written, err := pipeline.RunFile(context.Background(), *targetPath)
	if err != nil {
		log.Fatalf("Segmentation failed: %v", err)
	}
	elapsed := time.Since(startTime)

	fmt.Printf("\nSegmentation completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Crop box: origin (%d,%d,%d) size %dx%dx%d\n",
		report.CropBox.X, report.CropBox.Y, report.CropBox.Z,
		report.CropBox.SizeX, report.CropBox.SizeY, report.CropBox.SizeZ)
	fmt.Printf("Atlases fused: %v\n", report.FusedAtlases)

	if len(report.Excluded) > 0 {
		fmt.Println("\nExcluded atlases:")
		for _, ex := range report.Excluded {
			fmt.Printf("- %s (%s): %s\n", ex.ID, ex.Stage, ex.Reason)
		}
	}

	fmt.Println("\nOutputs:")
	for _, name := range cfg.Atlas.Structures {
		if path, ok := written[name]; ok {
			fmt.Printf("- %s: %s\n", name, path)
		}
	}
}
