package cmd

import (
	"github.com/spf13/cobra"

	"github.com/qbi-lab/madym/config"
	"github.com/qbi-lab/madym/dwimapper"
	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/image"
	"github.com/qbi-lab/madym/model"
)

var (
	dwiMethod  string
	dwiVols    []string
	dwiBValues []float64
	dwiThreshB float64
	dwiROIPath string
)

var dwiCmd = &cobra.Command{
	Use:   "dwi",
	Short: "Map ADC/IVIM parameters from a set of b-value volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, err := prepareRun(cmd)
		if err != nil {
			return err
		}
		return runTool("dwi", func() error { return runDWI(cmd, outDir) })
	},
}

func init() {
	f := dwiCmd.Flags()
	f.StringVar(&dwiMethod, "method", "ADC", "DWI mapping method (ADC, ADC_linear, IVIM, IVIM_simple)")
	f.StringSliceVar(&dwiVols, "vols", nil, "base paths of the b-value volumes, one per --b_values entry")
	f.Float64SliceVar(&dwiBValues, "b_values", nil, "b-values in s/mm^2, one per --vols entry")
	f.Float64Var(&dwiThreshB, "threshold_b", 0, "b-value threshold separating the perfusion and diffusion IVIM compartments")
	f.StringVar(&dwiROIPath, "roi", "", "base path of a ROI mask")
}

func runDWI(cmd *cobra.Command, outDir string) error {
	cfg := loadedConfig.DWI
	methodName := stringFlagOrConfig(cmd, "method", dwiMethod, cfg.Method)
	method, err := model.ParseDWIMethod(methodName)
	if err != nil {
		return err
	}

	bValues := dwiBValues
	if len(bValues) == 0 {
		bValues = cfg.BValues
	}

	bImages := make([]*image.Image, len(dwiVols))
	for i, base := range dwiVols {
		im, err := loadVolume(base, image.Generic)
		if err != nil {
			return err
		}
		bImages[i] = im
	}
	if len(bImages) == 0 {
		return &config.ConfigError{Msg: "dwi: --vols must name at least one b-value volume"}
	}

	var roi *image.Image
	if dwiROIPath != "" {
		roi, err = loadVolume(dwiROIPath, image.ROI)
		if err != nil {
			return err
		}
	}

	nx, ny, nz := bImages[0].Dims()
	dx, dy, dz := bImages[0].Spacing()
	tracker, err := errortracker.New(nx, ny, nz, dx, dy, dz)
	if err != nil {
		return err
	}

	thresholdB := float64FlagOrConfig(cmd, "threshold_b", dwiThreshB, cfg.ThresholdB)

	mapper, err := dwimapper.New(method, bImages, bValues, thresholdB, tracker)
	if err != nil {
		return err
	}
	result, err := mapper.Run(roi)
	if err != nil {
		return err
	}

	if err := writeVolume(outDir, "S0", result.S0); err != nil {
		return err
	}
	if err := writeVolume(outDir, "ADC", result.ADC); err != nil {
		return err
	}
	if err := writeVolume(outDir, "Perf", result.Perf); err != nil {
		return err
	}
	if err := writeVolume(outDir, "DStar", result.DStar); err != nil {
		return err
	}
	return writeVolume(outDir, "error_tracker", tracker.Image())
}
