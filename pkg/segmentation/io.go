package segmentation

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"cardiacatlas/pkg/registration"
	"cardiacatlas/pkg/visualization"
	"cardiacatlas/pkg/volume"
)

// LoadAtlasLibrary reads every configured atlas image and its structure
// labels from disk into registration units, in the configured order. A
// missing file fails the load: the atlas library is fixed input, not an
// optional one.
func (p *Pipeline) LoadAtlasLibrary() ([]registration.Unit, error) {
	cfg := p.Config
	units := make([]registration.Unit, 0, len(cfg.Atlas.IDList))
	for _, id := range cfg.Atlas.IDList {
		imagePath := filepath.Join(cfg.Atlas.Path, fmt.Sprintf(cfg.Atlas.ImageFormat, id))
		image, err := volume.ReadNIfTI(imagePath)
		if err != nil {
			return nil, fmt.Errorf("atlas %s: %w", id, err)
		}

		unit := registration.Unit{
			ID:         id,
			Image:      image,
			Structures: make(map[string]*volume.Volume, len(cfg.Atlas.Structures)),
		}
		for _, name := range cfg.Atlas.Structures {
			labelPath := filepath.Join(cfg.Atlas.Path, fmt.Sprintf(cfg.Atlas.LabelFormat, id, name))
			label, err := volume.ReadNIfTI(labelPath)
			if err != nil {
				return nil, fmt.Errorf("atlas %s structure %s: %w", id, name, err)
			}
			unit.Structures[name] = label
		}
		if cfg.Rigid.GuideStructure != "" {
			guide, ok := unit.Structures[cfg.Rigid.GuideStructure]
			if !ok {
				return nil, fmt.Errorf("atlas %s: guide structure %s not loaded",
					id, cfg.Rigid.GuideStructure)
			}
			unit.Guide = guide
		}
		units = append(units, unit)
	}
	return units, nil
}

// RunFile executes the full pipeline for a target image on disk: loads the
// target and atlas library, opens the IAR audit log in the output directory,
// runs segmentation, and writes one mask per structure plus optional QC
// images. It returns the run report and the written mask paths.
func (p *Pipeline) RunFile(ctx context.Context, targetPath string) (*Report, map[string]string, error) {
	cfg := p.Config
	target, err := volume.ReadNIfTI(targetPath)
	if err != nil {
		return nil, nil, fmt.Errorf("target: %w", err)
	}

	units, err := p.LoadAtlasLibrary()
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
		return nil, nil, fmt.Errorf("output directory: %w", err)
	}
	auditPath := filepath.Join(cfg.Output.Directory,
		fmt.Sprintf("IAR_%s.log", time.Now().Format("20060102_150405")))
	auditFile, err := os.Create(auditPath)
	if err != nil {
		return nil, nil, fmt.Errorf("audit log: %w", err)
	}
	defer auditFile.Close()
	p.AuditLog = log.New(auditFile, "", log.LstdFlags)

	masks, report, err := p.Run(ctx, target, units)
	if err != nil {
		return report, nil, err
	}

	written := make(map[string]string, len(masks))
	for _, name := range cfg.Atlas.Structures {
		mask, ok := masks[name]
		if !ok {
			continue
		}
		outPath := filepath.Join(cfg.Output.Directory, fmt.Sprintf(cfg.Output.NameFormat, name))
		if err := volume.WriteNIfTI(outPath, mask); err != nil {
			return report, written, fmt.Errorf("writing %s: %w", name, err)
		}
		written[name] = outPath
		p.logf("wrote %s", outPath)
	}

	if cfg.Output.SaveQCImages {
		if err := p.saveQCImages(report); err != nil {
			return report, written, err
		}
	}
	return report, written, nil
}

// saveQCImages dumps the central axial slice of each fused probability
// volume for visual review.
func (p *Pipeline) saveQCImages(report *Report) error {
	for name, prob := range report.Probabilities {
		path := filepath.Join(p.Config.Output.Directory, fmt.Sprintf("QC_%s.jpg", name))
		if err := visualization.NewViewer(prob).SaveAxialMidSlice(path); err != nil {
			return fmt.Errorf("QC image for %s: %w", name, err)
		}
	}
	return nil
}
