package cmd

import (
	"github.com/spf13/cobra"

	"github.com/qbi-lab/madym/aif"
	"github.com/qbi-lab/madym/autoaif"
	"github.com/qbi-lab/madym/config"
	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/image"
)

var (
	aaDyn                   string
	aaT1Path                string
	aaROIPath               string
	aaFirst                 int
	aaLast                  int
	aaCtIn                  bool
	aaFlipAngle             float64
	aaTR                    float64
	aaR1Const               float64
	aaSlices                []int
	aaMinT1Blood            float64
	aaPeakTime              float64
	aaPrebolusNoiseFallback float64
	aaPrebolusMinImages     int
	aaSelectPct             float64
	aaPrebolus              int
)

var aifAutoCmd = &cobra.Command{
	Use:   "aif-auto",
	Short: "Detect blood-vessel voxels and build an AIF from a dynamic volume",
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, err := prepareRun(cmd)
		if err != nil {
			return err
		}
		return runTool("aif-auto", func() error { return runAIFAuto(cmd, outDir) })
	},
}

func init() {
	f := aifAutoCmd.Flags()
	f.StringVar(&aaDyn, "dyn", "", "dynamic series base name prefix (volumes dyn001, dyn002, ...)")
	f.StringVar(&aaT1Path, "T1", "", "base path of the baseline T1 map")
	f.StringVar(&aaROIPath, "roi", "", "base path of a ROI mask")
	f.IntVar(&aaFirst, "first", 0, "first dynamic timepoint included")
	f.IntVar(&aaLast, "last", 0, "last dynamic timepoint included")
	f.BoolVar(&aaCtIn, "Ct_in", false, "dynamic volumes already hold Ct, skip the signal->concentration conversion")
	f.Float64Var(&aaFlipAngle, "flip_angle", 0, "dynamic series nominal flip angle in degrees")
	f.Float64Var(&aaTR, "tr", 0, "dynamic series repetition time")
	f.Float64Var(&aaR1Const, "r1_const", 0, "contrast agent relaxivity r1")
	f.IntSliceVar(&aaSlices, "slices", nil, "slice indices to screen for candidate voxels")
	f.Float64Var(&aaMinT1Blood, "min_T1_blood", 0, "minimum baseline T1 (ms) for a voxel to be considered blood")
	f.Float64Var(&aaPeakTime, "peak_time", 0, "maximum seconds from bolus injection to a candidate's peak signal")
	f.Float64Var(&aaPrebolusNoiseFallback, "prebolus_noise_fallback", 0, "noise threshold fallback when the prebolus window is too short")
	f.IntVar(&aaPrebolusMinImages, "prebolus_min_images", 0, "minimum prebolus frames required to estimate noise directly")
	f.Float64Var(&aaSelectPct, "select_pct", 0, "percentage of candidates, ranked by peak signal, selected for the AIF")
	f.IntVar(&aaPrebolus, "prebolus", 0, "index of the last dynamic frame before injection")
}

func runAIFAuto(cmd *cobra.Command, outDir string) error {
	cfg := loadedConfig.AIFAuto
	dceCfg := loadedConfig.DCE

	dyn := stringFlagOrConfig(cmd, "dyn", aaDyn, dceCfg.Dyn)
	first := intFlagOrConfig(cmd, "first", aaFirst, dceCfg.First)
	last := intFlagOrConfig(cmd, "last", aaLast, dceCfg.Last)

	dynImages, err := loadSeries(dyn, first, last, image.CtDynamic)
	if err != nil {
		return err
	}

	t1Path := stringFlagOrConfig(cmd, "T1", aaT1Path, dceCfg.T1)
	if t1Path == "" {
		return &config.ConfigError{Msg: "aif-auto: --T1 is required"}
	}
	t10, err := loadVolume(t1Path, image.T1)
	if err != nil {
		return err
	}

	var roi *image.Image
	if aaROIPath != "" {
		if roi, err = loadVolume(aaROIPath, image.ROI); err != nil {
			return err
		}
	}

	grid := dynImages[0]
	nx, ny, nz := grid.Dims()
	dx, dy, dz := grid.Spacing()
	tracker, err := errortracker.New(nx, ny, nz, dx, dy, dz)
	if err != nil {
		return err
	}

	computeCt := !boolFlagOrConfig(cmd, "Ct_in", aaCtIn, dceCfg.CtIn)
	flipAngle := float64FlagOrConfig(cmd, "flip_angle", aaFlipAngle, dceCfg.FlipAngle)
	tr := float64FlagOrConfig(cmd, "tr", aaTR, dceCfg.TR)
	r1 := float64FlagOrConfig(cmd, "r1_const", aaR1Const, dceCfg.R1Const)
	ctVolume, err := computeCtVolume(dynImages, t10, nil, nil, r1, flipAngle, tr, computeCt)
	if err != nil {
		return err
	}

	times := make([]float64, len(dynImages))
	for i := range times {
		times[i] = float64(i)
	}

	slices := aaSlices
	if len(slices) == 0 {
		slices = cfg.Slices
	}
	if len(slices) == 0 {
		slices = make([]int, nz)
		for i := range slices {
			slices[i] = i
		}
	}
	xRange := make([]int, nx)
	for i := range xRange {
		xRange[i] = i
	}
	yRange := make([]int, ny)
	for i := range yRange {
		yRange[i] = i
	}

	opts := autoaif.Options{
		Slices:                slices,
		XRange:                xRange,
		YRange:                yRange,
		MinT1Blood:            float64FlagOrConfig(cmd, "min_T1_blood", aaMinT1Blood, cfg.MinT1Blood),
		PeakTimeSec:           float64FlagOrConfig(cmd, "peak_time", aaPeakTime, cfg.PeakTime),
		PrebolusNoiseFallback: float64FlagOrConfig(cmd, "prebolus_noise_fallback", aaPrebolusNoiseFallback, cfg.PrebolusNoiseFallback),
		PrebolusMinImages:     intFlagOrConfig(cmd, "prebolus_min_images", aaPrebolusMinImages, cfg.PrebolusMinImages),
		SelectPct:             float64FlagOrConfig(cmd, "select_pct", aaSelectPct, cfg.SelectPct),
		Prebolus:              intFlagOrConfig(cmd, "prebolus", aaPrebolus, dceCfg.Prebolus),
	}

	detector := autoaif.New(opts, dynImages, t10, roi, tracker, times)
	result := detector.Run(ctVolume)

	if err := writeVolume(outDir, "AIF_final", result.AIFMap); err != nil {
		return err
	}

	a := aif.New()
	if err := a.SetDynamicTimes(times); err != nil {
		return err
	}
	if err := a.SetPrebolus(opts.Prebolus); err != nil {
		return err
	}
	if err := a.SetBaseAIF(result.AIFSeries); err != nil {
		return err
	}
	return a.WriteAIF(outDir + "/AIF.txt")
}
