package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/qbi-lab/madym/aif"
	"github.com/qbi-lab/madym/config"
	"github.com/qbi-lab/madym/errortracker"
	"github.com/qbi-lab/madym/fitter"
	"github.com/qbi-lab/madym/ioformats"
	"github.com/qbi-lab/madym/model"
	"github.com/qbi-lab/madym/voxel"
)

var (
	liteModel      string
	liteIn         string
	liteOut        string
	liteNumDynamic int
	liteHasT1      bool
	liteHasM0      bool
	liteHasB1      bool
	liteTRFrames   float64
	litePrebolus   int
	liteCtIn       bool
	liteTestEnh    bool
	liteAIFPath    string
	liteHct        float64
	liteDose       float64
	liteR1Const    float64
	liteFlipAngle  float64
	liteTR         float64
	liteMaxIter    int
	liteBackend    string
	liteIAUC       []float64
	liteIAUCAtPeak bool
	liteCtSig      bool
	liteCtMod      bool
)

var dceLiteCmd = &cobra.Command{
	Use:   "dce-lite",
	Short: "Fit a tracer-kinetic model over a per-voxel CSV, with no image I/O",
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, err := prepareRun(cmd)
		if err != nil {
			return err
		}
		return runTool("dce-lite", func() error { return runDCELite(cmd, outDir) })
	},
}

func init() {
	f := dceLiteCmd.Flags()
	f.StringVar(&liteModel, "model", "ETM", "tracer-kinetic model name")
	f.StringVar(&liteIn, "in", "", "input per-voxel CSV")
	f.StringVar(&liteOut, "out", "results.csv", "output per-voxel CSV, written under --output")
	f.IntVar(&liteNumDynamic, "n", 0, "number of dynamic signal/Ct columns")
	f.BoolVar(&liteHasT1, "has_T1", false, "input CSV carries a trailing T1 column")
	f.BoolVar(&liteHasM0, "has_M0", false, "input CSV carries a trailing M0 column")
	f.BoolVar(&liteHasB1, "has_B1", false, "input CSV carries a trailing B1 column")
	f.Float64Var(&liteTRFrames, "frame_duration", 1, "seconds between dynamic frames")
	f.IntVar(&litePrebolus, "prebolus", 0, "index of the last dynamic frame before injection")
	f.BoolVar(&liteCtIn, "Ct_in", false, "dynamic columns already hold Ct, skip the signal->concentration conversion")
	f.BoolVar(&liteTestEnh, "test_enh", false, "skip fitting rows that do not test as enhancing")
	f.StringVar(&liteAIFPath, "aif", "", "dynamic AIF text file (population AIF used if omitted)")
	f.Float64Var(&liteHct, "hct", 0, "haematocrit fraction")
	f.Float64Var(&liteDose, "dose", 0, "contrast agent dose in mmol/kg")
	f.Float64Var(&liteR1Const, "r1_const", 0, "contrast agent relaxivity r1")
	f.Float64Var(&liteFlipAngle, "flip_angle", 0, "dynamic series nominal flip angle in degrees")
	f.Float64Var(&liteTR, "tr", 0, "dynamic series repetition time")
	f.IntVar(&liteMaxIter, "max_iter", 100, "maximum optimiser iterations")
	f.StringVar(&liteBackend, "backend", "BLEIC", "optimiser backend (LLS, BLEIC, NS)")
	f.Float64SliceVar(&liteIAUC, "iauc", nil, "IAUC integration times in seconds from injection")
	f.BoolVar(&liteIAUCAtPeak, "iauc_at_peak", false, "also integrate IAUC from injection to each row's peak Ct")
	f.BoolVar(&liteCtSig, "Ct_sig", false, "write the per-row measured Ct series")
	f.BoolVar(&liteCtMod, "Ct_mod", false, "write the per-row modelled Ct series")
}

func runDCELite(cmd *cobra.Command, outDir string) error {
	cfg := loadedConfig.DCE
	if liteIn == "" {
		return &config.ConfigError{Msg: "dce-lite: --in is required"}
	}
	if liteNumDynamic <= 0 {
		return &config.ConfigError{Msg: "dce-lite: --n must name the number of dynamic columns"}
	}

	_, indices, columns, err := ioformats.ReadVoxelCSV(liteIn)
	if err != nil {
		return err
	}
	col := liteNumDynamic
	t1Col, m0Col, b1Col := -1, -1, -1
	if liteHasT1 {
		t1Col = col
		col++
	}
	if liteHasM0 {
		m0Col = col
		col++
	}
	if liteHasB1 {
		b1Col = col
		col++
	}

	modelName := stringFlagOrConfig(cmd, "model", liteModel, cfg.Model)
	backendName := stringFlagOrConfig(cmd, "backend", liteBackend, cfg.Backend)
	backend, err := fitter.BackendFromString(backendName)
	if err != nil {
		return err
	}

	times := make([]float64, liteNumDynamic)
	for i := range times {
		times[i] = float64(i) * liteTRFrames
	}
	a := aif.New()
	if hct := float64FlagOrConfig(cmd, "hct", liteHct, cfg.Hct); hct != 0 {
		if err := a.SetHct(hct); err != nil {
			return err
		}
	}
	if dose := float64FlagOrConfig(cmd, "dose", liteDose, cfg.Dose); dose != 0 {
		if err := a.SetDose(dose); err != nil {
			return err
		}
	}
	if err := a.SetDynamicTimes(times); err != nil {
		return err
	}
	prebolus := intFlagOrConfig(cmd, "prebolus", litePrebolus, cfg.Prebolus)
	if err := a.SetPrebolus(prebolus); err != nil {
		return err
	}
	if aifPath := stringFlagOrConfig(cmd, "aif", liteAIFPath, cfg.AIF); aifPath != "" {
		if err := a.ReadAIF(aifPath, liteNumDynamic); err != nil {
			return err
		}
	}

	template, err := model.CreateModel(modelName, a, nil, nil, nil, nil, nil)
	if err != nil {
		return err
	}

	computeCt := !boolFlagOrConfig(cmd, "Ct_in", liteCtIn, cfg.CtIn)
	testEnh := boolFlagOrConfig(cmd, "test_enh", liteTestEnh, cfg.TestEnh)
	flipAngle := float64FlagOrConfig(cmd, "flip_angle", liteFlipAngle, cfg.FlipAngle)
	tr := float64FlagOrConfig(cmd, "tr", liteTR, cfg.TR)
	r1 := float64FlagOrConfig(cmd, "r1_const", liteR1Const, cfg.R1Const)
	maxIter := intFlagOrConfig(cmd, "max_iter", liteMaxIter, cfg.MaxIter)
	iaucTimes := liteIAUC

	outNames := []string{"status", "enhancing", "modelFitError"}
	for i := range iaucTimes {
		outNames = append(outNames, "IAUC_"+strconv.Itoa(i))
	}
	if liteIAUCAtPeak {
		outNames = append(outNames, "IAUC_peak")
	}
	outNames = append(outNames, template.ParamNames()...)
	if liteCtSig {
		for t := 0; t < liteNumDynamic; t++ {
			outNames = append(outNames, "Ct_sig_"+strconv.Itoa(t))
		}
	}
	if liteCtMod {
		for t := 0; t < liteNumDynamic; t++ {
			outNames = append(outNames, "Ct_mod_"+strconv.Itoa(t))
		}
	}
	outColumns := make([][]float64, len(outNames))

	nRows := len(indices)
	for row := 0; row < nRows; row++ {
		signal := make([]float64, liteNumDynamic)
		for t := 0; t < liteNumDynamic; t++ {
			signal[t] = columns[t][row]
		}
		t10, m0v, b1v := 1000.0, 1.0, 1.0
		if t1Col >= 0 {
			t10 = columns[t1Col][row]
		}
		if m0Col >= 0 {
			m0v = columns[m0Col][row]
		}
		if b1Col >= 0 {
			b1v = columns[b1Col][row]
		}

		ct := make([]float64, liteNumDynamic)
		dv := voxel.New(signal, ct, prebolus, times, iaucTimes, liteIAUCAtPeak)
		if computeCt {
			dv.ComputeCtFromSignal(t10, flipAngle, tr, r1, m0v, b1v)
		} else {
			copy(ct, signal)
		}

		iaucValues := dv.ComputeIAUC()
		enhancing := true
		if testEnh && dv.Status() == errortracker.OK {
			enhancing = dv.TestEnhancing()
		}

		m, err := model.CreateModel(modelName, a, nil, nil, nil, nil, nil)
		if err != nil {
			return err
		}
		var residual float64
		if enhancing && dv.Status() == errortracker.OK {
			f := fitter.New(m, 0, liteNumDynamic, nil, backend, maxIter)
			f.InitialiseModelFit(dv.CtData())
			f.FitModel(dv.Status())
			residual = f.ModelFitError()
		}

		rowVals := []float64{float64(dv.Status() | m.ModelErrorCode()), boolToFloat(enhancing), residual}
		rowVals = append(rowVals, iaucValues...)
		rowVals = append(rowVals, m.Params()...)
		if liteCtSig {
			rowVals = append(rowVals, dv.CtData()...)
		}
		if liteCtMod {
			if enhancing {
				m.ComputeCtModel(liteNumDynamic)
				rowVals = append(rowVals, m.CtModel()...)
			} else {
				rowVals = append(rowVals, make([]float64, liteNumDynamic)...)
			}
		}
		for c, v := range rowVals {
			outColumns[c] = append(outColumns[c], v)
		}
	}

	return ioformats.WriteVoxelCSV(outDir+"/"+liteOut, outNames, indices, outColumns)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
