package cmd

import (
	"github.com/spf13/cobra"

	"github.com/qbi-lab/madym/config"
	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/image"
	"github.com/qbi-lab/madym/model"
	"github.com/qbi-lab/madym/t1mapper"
)

var (
	t1Method      string
	t1Vols        []string
	t1FAs         []float64
	t1TIs         []float64
	t1TR          float64
	t1BigTR       float64
	t1B1Path      string
	t1NoiseThresh float64
	t1ROIPath     string
)

var t1Cmd = &cobra.Command{
	Use:   "t1",
	Short: "Map T1/M0 from a set of variable-flip-angle or inversion-recovery volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, err := prepareRun(cmd)
		if err != nil {
			return err
		}
		return runTool("t1", func() error { return runT1(cmd, outDir) })
	},
}

func init() {
	f := t1Cmd.Flags()
	f.StringVar(&t1Method, "method", "VFA", "T1 mapping method (VFA, VFA_B1, VFA_linear, IR)")
	f.StringSliceVar(&t1Vols, "vols", nil, "base paths (no extension) of the signal volumes, one per --fa/--ti entry")
	f.Float64SliceVar(&t1FAs, "fa", nil, "nominal flip angles in degrees, one per --vols entry (VFA methods)")
	f.Float64SliceVar(&t1TIs, "ti", nil, "inversion times, one per --vols entry (IR method)")
	f.Float64Var(&t1TR, "tr", 0, "repetition time")
	f.Float64Var(&t1BigTR, "bigTR", 0, "recovery time between inversions (IR method)")
	f.StringVar(&t1B1Path, "B1", "", "base path of a B1 correction map")
	f.Float64Var(&t1NoiseThresh, "noise_thresh", 0, "minimum signal below which a voxel is left unfit")
	f.StringVar(&t1ROIPath, "roi", "", "base path of a ROI mask")
}

func runT1(cmd *cobra.Command, outDir string) error {
	cfg := loadedConfig.T1
	methodName := stringFlagOrConfig(cmd, "method", t1Method, cfg.Method)
	method, err := model.ParseT1Method(methodName)
	if err != nil {
		return err
	}

	faOrTI := t1FAs
	if method == model.IR {
		faOrTI = t1TIs
	}
	if len(faOrTI) == 0 {
		if method == model.IR {
			faOrTI = cfg.TIs
		} else {
			faOrTI = cfg.FAs
		}
	}

	signalImages := make([]*image.Image, len(t1Vols))
	for i, base := range t1Vols {
		im, err := loadVolume(base, image.Generic)
		if err != nil {
			return err
		}
		signalImages[i] = im
	}
	if len(signalImages) == 0 {
		return &config.ConfigError{Msg: "t1: --vols must name at least one signal volume"}
	}

	var b1Image *image.Image
	b1Path := stringFlagOrConfig(cmd, "B1", t1B1Path, cfg.B1)
	if b1Path != "" {
		b1Image, err = loadVolume(b1Path, image.Generic)
		if err != nil {
			return err
		}
	}

	var roi *image.Image
	if t1ROIPath != "" {
		roi, err = loadVolume(t1ROIPath, image.ROI)
		if err != nil {
			return err
		}
	}

	nx, ny, nz := signalImages[0].Dims()
	dx, dy, dz := signalImages[0].Spacing()
	tracker, err := errortracker.New(nx, ny, nz, dx, dy, dz)
	if err != nil {
		return err
	}

	tr := float64FlagOrConfig(cmd, "tr", t1TR, cfg.TR)
	bigTR := float64FlagOrConfig(cmd, "bigTR", t1BigTR, cfg.BigTR)
	noiseThresh := float64FlagOrConfig(cmd, "noise_thresh", t1NoiseThresh, cfg.NoiseThresh)

	mapper, err := t1mapper.New(method, signalImages, faOrTI, tr, bigTR, b1Image, noiseThresh, tracker)
	if err != nil {
		return err
	}
	result, err := mapper.Run(roi)
	if err != nil {
		return err
	}

	if err := writeVolume(outDir, "T1", result.T1); err != nil {
		return err
	}
	if err := writeVolume(outDir, "M0", result.M0); err != nil {
		return err
	}
	return writeVolume(outDir, "error_tracker", tracker.Image())
}
