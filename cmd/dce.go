package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/qbi-lab/madym/aif"
	"github.com/qbi-lab/madym/concentration"
	"github.com/qbi-lab/madym/dceanalysis"
	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/fitter"
	"github.com/qbi-lab/madym/image"
)

var (
	dceModel               string
	dceInitParams          []float64
	dceFixedParams         []int
	dceFixedValues         []float64
	dceRelLimitParams      []int
	dceRelLimitValues      []float64
	dceDyn                 string
	dceT1Path              string
	dceM0Path              string
	dceB1Path              string
	dceFlipAngle           float64
	dceTR                  float64
	dceR1Const             float64
	dceDose                float64
	dceHct                 float64
	dceAIFPath             string
	dcePIFPath             string
	dceAIFMapPath          string
	dceIAUC                []float64
	dceFirst               int
	dceLast                int
	dceMaxIter             int
	dceDynNoise            bool
	dceTestEnh             bool
	dceCtIn                bool
	dceCtSig               bool
	dceCtMod               bool
	dceBackend             string
	dcePrebolus            int
	dceIAUCAtPeak          bool
	dceROIPath             string
)

var dceCmd = &cobra.Command{
	Use:   "dce",
	Short: "Fit a tracer-kinetic model over a dynamic contrast-enhanced volume",
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, err := prepareRun(cmd)
		if err != nil {
			return err
		}
		return runTool("dce", func() error { return runDCE(cmd, outDir) })
	},
}

func init() {
	f := dceCmd.Flags()
	f.StringVar(&dceModel, "model", "ETM", "tracer-kinetic model name")
	f.Float64SliceVar(&dceInitParams, "init_params", nil, "initial parameter values, in the model's parameter order")
	f.IntSliceVar(&dceFixedParams, "fixed_params", nil, "indices of parameters to hold fixed during fitting")
	f.Float64SliceVar(&dceFixedValues, "fixed_values", nil, "fixed values, one per --fixed_params entry")
	f.IntSliceVar(&dceRelLimitParams, "relative_limit_params", nil, "indices of parameters with a bound tightened around their initial value")
	f.Float64SliceVar(&dceRelLimitValues, "relative_limit_values", nil, "absolute offset r, one per --relative_limit_params entry, giving bounds [init-r, init+r]")
	f.StringVar(&dceDyn, "dyn", "", "dynamic series base name prefix (volumes dyn001, dyn002, ...)")
	f.StringVar(&dceT1Path, "T1", "", "base path of the baseline T1 map")
	f.StringVar(&dceM0Path, "M0", "", "base path of the M0 map")
	f.StringVar(&dceB1Path, "B1", "", "base path of a B1 correction map")
	f.Float64Var(&dceFlipAngle, "flip_angle", 0, "dynamic series nominal flip angle in degrees")
	f.Float64Var(&dceTR, "tr", 0, "dynamic series repetition time")
	f.Float64Var(&dceR1Const, "r1_const", 0, "contrast agent relaxivity r1")
	f.Float64Var(&dceDose, "dose", 0, "contrast agent dose in mmol/kg")
	f.Float64Var(&dceHct, "hct", 0, "haematocrit fraction")
	f.StringVar(&dceAIFPath, "aif", "", "dynamic AIF text file")
	f.StringVar(&dcePIFPath, "pif", "", "dynamic PIF text file")
	f.StringVar(&dceAIFMapPath, "aif_map", "", "base path of an auto-AIF voxel map (used when --aif is not given)")
	f.Float64SliceVar(&dceIAUC, "iauc", nil, "IAUC integration times in seconds from injection")
	f.IntVar(&dceFirst, "first", 0, "first dynamic timepoint included in the fit")
	f.IntVar(&dceLast, "last", 0, "last dynamic timepoint included in the fit")
	f.IntVar(&dceMaxIter, "max_iter", 100, "maximum optimiser iterations")
	f.BoolVar(&dceDynNoise, "dyn_noise", false, "weight residuals by a per-timepoint noise estimate")
	f.BoolVar(&dceTestEnh, "test_enh", false, "skip fitting voxels that do not test as enhancing")
	f.BoolVar(&dceCtIn, "Ct_in", false, "dynamic volumes already hold Ct, skip the signal->concentration conversion")
	f.BoolVar(&dceCtSig, "Ct_sig", false, "write the per-voxel measured Ct series")
	f.BoolVar(&dceCtMod, "Ct_mod", false, "write the per-voxel modelled Ct series")
	f.StringVar(&dceBackend, "backend", "BLEIC", "optimiser backend (LLS, BLEIC, NS)")
	f.IntVar(&dcePrebolus, "prebolus", 0, "index of the last dynamic frame before injection")
	f.BoolVar(&dceIAUCAtPeak, "iauc_at_peak", false, "also integrate IAUC from injection to each voxel's peak Ct")
	f.StringVar(&dceROIPath, "roi", "", "base path of a ROI mask")
}

func runDCE(cmd *cobra.Command, outDir string) error {
	cfg := loadedConfig.DCE

	modelName := stringFlagOrConfig(cmd, "model", dceModel, cfg.Model)
	dyn := stringFlagOrConfig(cmd, "dyn", dceDyn, cfg.Dyn)
	first := intFlagOrConfig(cmd, "first", dceFirst, cfg.First)
	last := intFlagOrConfig(cmd, "last", dceLast, cfg.Last)

	dynImages, err := loadSeries(dyn, first, last, image.CtDynamic)
	if err != nil {
		return err
	}

	var t10, m0, b1 *image.Image
	t1Path := stringFlagOrConfig(cmd, "T1", dceT1Path, cfg.T1)
	if t1Path != "" {
		if t10, err = loadVolume(t1Path, image.T1); err != nil {
			return err
		}
	}
	m0Path := stringFlagOrConfig(cmd, "M0", dceM0Path, cfg.M0)
	if m0Path != "" {
		if m0, err = loadVolume(m0Path, image.M0); err != nil {
			return err
		}
	}
	b1Path := stringFlagOrConfig(cmd, "B1", dceB1Path, cfg.B1)
	if b1Path != "" {
		if b1, err = loadVolume(b1Path, image.Generic); err != nil {
			return err
		}
	}

	var roi *image.Image
	if dceROIPath != "" {
		if roi, err = loadVolume(dceROIPath, image.ROI); err != nil {
			return err
		}
	}

	a := aif.New()
	if hct := float64FlagOrConfig(cmd, "hct", dceHct, cfg.Hct); hct != 0 {
		if err := a.SetHct(hct); err != nil {
			return err
		}
	}
	if dose := float64FlagOrConfig(cmd, "dose", dceDose, cfg.Dose); dose != 0 {
		if err := a.SetDose(dose); err != nil {
			return err
		}
	}
	times := make([]float64, len(dynImages))
	for i := range times {
		times[i] = float64(i)
	}
	if err := a.SetDynamicTimes(times); err != nil {
		return err
	}
	prebolus := intFlagOrConfig(cmd, "prebolus", dcePrebolus, cfg.Prebolus)
	if err := a.SetPrebolus(prebolus); err != nil {
		return err
	}

	computeCt := !boolFlagOrConfig(cmd, "Ct_in", dceCtIn, cfg.CtIn)
	flipAngle := float64FlagOrConfig(cmd, "flip_angle", dceFlipAngle, cfg.FlipAngle)
	tr := float64FlagOrConfig(cmd, "tr", dceTR, cfg.TR)
	r1 := float64FlagOrConfig(cmd, "r1_const", dceR1Const, cfg.R1Const)

	// AIF precedence: FILE > MAP > POP (spec.md §9's fixed precedence).
	aifPath := stringFlagOrConfig(cmd, "aif", dceAIFPath, cfg.AIF)
	aifMapPath := stringFlagOrConfig(cmd, "aif_map", dceAIFMapPath, cfg.AIFMap)
	var ctVolume [][]float64
	if aifPath != "" {
		if err := a.ReadAIF(aifPath, len(dynImages)); err != nil {
			return err
		}
	} else if aifMapPath != "" {
		ctVolume, err = computeCtVolume(dynImages, t10, m0, b1, r1, flipAngle, tr, computeCt)
		if err != nil {
			return err
		}
	}
	if pifPath := stringFlagOrConfig(cmd, "pif", dcePIFPath, cfg.PIF); pifPath != "" {
		if err := a.ReadPIF(pifPath, len(dynImages)); err != nil {
			return err
		}
	}

	backendName := stringFlagOrConfig(cmd, "backend", dceBackend, cfg.Backend)
	backend, err := fitter.BackendFromString(backendName)
	if err != nil {
		return err
	}

	grid := dynImages[0]
	nx, ny, nz := grid.Dims()
	dx, dy, dz := grid.Spacing()
	tracker, err := errortracker.New(nx, ny, nz, dx, dy, dz)
	if err != nil {
		return err
	}

	opts := dceanalysis.Options{
		ModelName:       modelName,
		InitParams:      dceInitParams,
		FixedParams:     dceFixedParams,
		FixedValues:     dceFixedValues,
		RelLimitParams:  dceRelLimitParams,
		RelLimitValues:  dceRelLimitValues,
		T10:             t10,
		M0:              m0,
		B1:              b1,
		R1:              r1,
		Prebolus:        prebolus,
		TimepointFirst:  first,
		TimepointLast:   last,
		ComputeCt:       computeCt,
		TestEnhancement: boolFlagOrConfig(cmd, "test_enh", dceTestEnh, cfg.TestEnh),
		DynNoise:        boolFlagOrConfig(cmd, "dyn_noise", dceDynNoise, cfg.DynNoise),
		IAUCTimes:       dceIAUC,
		IAUCAtPeak:      dceIAUCAtPeak,
		Backend:         backend,
		MaxIterations:   intFlagOrConfig(cmd, "max_iter", dceMaxIter, cfg.MaxIter),
		WriteCtMaps:     boolFlagOrConfig(cmd, "Ct_sig", dceCtSig, cfg.CtSig) || boolFlagOrConfig(cmd, "Ct_mod", dceCtMod, cfg.CtMod),
		FlipAngle:       flipAngle,
		TR:              tr,
	}

	dca, err := dceanalysis.New(opts, a, dynImages, tracker, nil)
	if err != nil {
		return err
	}

	if aifPath == "" && aifMapPath != "" {
		aifMap, err := loadVolume(aifMapPath, image.AIFVoxelMap)
		if err != nil {
			return err
		}
		if err := dca.SeedAIFFromMap(aifMap, ctVolume); err != nil {
			return err
		}
	}

	result, err := dca.Run(roi)
	if err != nil {
		return err
	}

	if aifPath == "" {
		if err := a.WriteAIF(outDir + "/AIF.txt"); err != nil {
			return err
		}
	}
	for name, im := range result.ParamMaps {
		if err := writeVolume(outDir, name, im); err != nil {
			return err
		}
	}
	if err := writeVolume(outDir, "residuals", result.Residual); err != nil {
		return err
	}
	for i, im := range result.IAUCMaps {
		if err := writeVolume(outDir, iaucMapName(i, len(dceIAUC)), im); err != nil {
			return err
		}
	}
	if boolFlagOrConfig(cmd, "Ct_sig", dceCtSig, cfg.CtSig) {
		for t, im := range result.CtSignal {
			if err := writeVolume(outDir, ctSeriesName("Ct_sig", t), im); err != nil {
				return err
			}
		}
	}
	if boolFlagOrConfig(cmd, "Ct_mod", dceCtMod, cfg.CtMod) {
		for t, im := range result.CtModel {
			if err := writeVolume(outDir, ctSeriesName("Ct_mod", t), im); err != nil {
				return err
			}
		}
	}
	return writeVolume(outDir, "error_tracker", tracker.Image())
}

// computeCtVolume converts every dynamic volume to [timepoint][voxelIndex]
// concentration for every voxel of the grid, so that an AIF map seeding
// pass can average the selected voxels before any model fit runs.
func computeCtVolume(dynImages []*image.Image, t10, m0, b1 *image.Image, r1, flipAngle, tr float64, computeCt bool) ([][]float64, error) {
	n := dynImages[0].NumVoxels()
	ctVolume := make([][]float64, len(dynImages))
	for t := range ctVolume {
		ctVolume[t] = make([]float64, n)
	}
	if !computeCt {
		for t, im := range dynImages {
			for idx := 0; idx < n; idx++ {
				ctVolume[t][idx] = im.At(idx)
			}
		}
		return ctVolume, nil
	}

	signal := make([]float64, len(dynImages))
	for idx := 0; idx < n; idx++ {
		for t, im := range dynImages {
			signal[t] = im.At(idx)
		}
		t10v := 1000.0
		if t10 != nil {
			t10v = t10.At(idx)
		}
		m0v := 1.0
		if m0 != nil {
			m0v = m0.At(idx)
		}
		b1v := 1.0
		if b1 != nil {
			b1v = b1.At(idx)
		}
		ct, err := concentration.SignalSeriesToConcentration(signal, t10v, m0v, flipAngle, tr, r1, b1v)
		if err != nil {
			continue
		}
		for t := range ct {
			ctVolume[t][idx] = ct[t]
		}
	}
	return ctVolume, nil
}

func iaucMapName(i, numTimes int) string {
	if i < numTimes {
		return "IAUC_" + strconv.Itoa(i)
	}
	return "IAUC_peak"
}

func ctSeriesName(prefix string, t int) string {
	return prefix + "_" + strconv.Itoa(t)
}
