package model

import (
	"math"

	aifpkg "github.com/qbi-lab/madym/aif"
	"github.com/qbi-lab/madym/errortracker"
)

// newBaseModel allocates the shared Model scaffolding every concrete
// constructor below specialises with its own compute/check/lls closures.
func newBaseModel(kind Type, a *aifpkg.AIF, names []string, initial, lower, upper []float64) *Model {
	k := len(names)
	m := &Model{
		kind:             kind,
		aif:              a,
		params:           append([]float64(nil), initial...),
		initialParams:    append([]float64(nil), initial...),
		paramNames:       append([]string(nil), names...),
		optimisedFlags:   make([]bool, k),
		lowerBounds:      append([]float64(nil), lower...),
		upperBounds:      append([]float64(nil), upper...),
		repeatParamIndex: -1,
	}
	for i := range m.optimisedFlags {
		m.optimisedFlags[i] = true
	}
	return m
}

// dualInputSeries blends the AIF with the PIF (if configured) using weight
// fa on the AIF; dual-input models fall back to single-input (fa forced to
// 1) when no PIF is bound, so they degrade gracefully rather than failing.
func dualInputSeries(m *Model, fa float64) ([]float64, error) {
	ca, err := m.aif.AIFSamples()
	if err != nil {
		return nil, err
	}
	cp, err := m.aif.PIFSamples()
	if err != nil {
		return ca, nil
	}
	return mix(ca, cp, fa), nil
}

func checkFiniteOnly(m *Model) errortracker.Code {
	return errortracker.OK
}

// --- NONE -------------------------------------------------------------

func newNone() *Model {
	return &Model{kind: NONE, repeatParamIndex: -1}
}

// --- ETM / TOFTS (alias) ------------------------------------------------

// newETM builds the 5-parameter extended Tofts model: Ktrans, ve, vp,
// offset (bolus-arrival correction, seconds), fa (vascular-term weight).
// TOFTS is the same model with vp fixed.
func newETM(a *aifpkg.AIF) *Model {
	names := []string{"Ktrans", "ve", "vp", "offset", "fa"}
	initial := []float64{0.25, 0.2, 0.01, 0, 1}
	lower := []float64{0, 0.0001, 0, -60, 0}
	upper := []float64{5, 1, 1, 60, 1}
	m := newBaseModel(ETM, a, names, initial, lower, upper)
	m.compute = computeETM
	m.check = checkPositiveVolumes([]int{1, 2})
	return m
}

func computeETM(m *Model, nTimes int) {
	p := m.params
	ktrans, ve, vp, offset, fa := p[0], p[1], p[2], p[3], p[4]
	if !allFinite(ktrans, ve, vp, offset, fa) || ve <= 0 {
		return
	}
	ca, err := m.aif.AIFSamples()
	if err != nil {
		return
	}
	t := m.aif.Times()
	caShifted := shiftSeries(t, ca, offset)
	conv := expConv(t, caShifted, ktrans/ve)
	for i := 0; i < nTimes && i < len(t); i++ {
		m.ctModel[i] = fa*vp*caShifted[i] + ktrans*conv[i]
	}
}

func checkPositiveVolumes(indices []int) checkFunc {
	return func(m *Model) errortracker.Code {
		for _, idx := range indices {
			if m.params[idx] < 0 {
				return errortracker.DCEFitFail
			}
		}
		return errortracker.OK
	}
}

// newTofts returns an ETM instance with vp fixed at 0; fa stays free with
// initial value 1. The caller may apply its own fixed/initial overrides
// afterward.
func newTofts(a *aifpkg.AIF) *Model {
	m := newETM(a)
	m.kind = TOFTS
	m.optimisedFlags[2] = false // vp fixed
	m.params[2] = 0
	m.initialParams[2] = 0
	return m
}

// --- PATLAK (linear, single input) --------------------------------------

func newPatlak(a *aifpkg.AIF) *Model {
	names := []string{"Ktrans", "vp"}
	initial := []float64{0.1, 0.05}
	lower := []float64{0, 0}
	upper := []float64{5, 1}
	m := newBaseModel(PATLAK, a, names, initial, lower, upper)
	m.compute = computePatlak
	m.check = checkPositiveVolumes([]int{0, 1})
	m.lls = llsPatlak
	m.transform = transformPatlak
	return m
}

func computePatlak(m *Model, nTimes int) {
	ktrans, vp := m.params[0], m.params[1]
	ca, err := m.aif.AIFSamples()
	if err != nil {
		return
	}
	t := m.aif.Times()
	integral := expConv(t, ca, 0)
	for i := 0; i < nTimes && i < len(t); i++ {
		m.ctModel[i] = vp*ca[i] + ktrans*integral[i]
	}
}

func llsPatlak(m *Model, ctData []float64) ([]float64, int, error) {
	ca, err := m.aif.AIFSamples()
	if err != nil {
		return nil, 0, err
	}
	t := m.aif.Times()
	integral := expConv(t, ca, 0)
	n := len(ctData)
	aFlat := make([]float64, n*2)
	for i := 0; i < n; i++ {
		aFlat[i*2] = ca[i]
		aFlat[i*2+1] = integral[i]
	}
	return aFlat, 2, nil
}

func transformPatlak(m *Model, b []float64) error {
	// LLS columns were [Ca, integral], solving C = vp*Ca + Ktrans*integral
	m.params[1] = b[0]
	m.params[0] = b[1]
	return nil
}

// --- 2CXM (two-compartment exchange model, single input) ---------------

// newCXM2 builds the classical 2-compartment exchange model: Fp (plasma
// flow), PS (permeability-surface area product), ve, vp. Biexponential
// impulse response follows Sourbron & Buckley (2011).
func newCXM2(a *aifpkg.AIF) *Model {
	names := []string{"Fp", "PS", "ve", "vp"}
	initial := []float64{0.5, 0.2, 0.2, 0.05}
	lower := []float64{0, 0, 0.0001, 0}
	upper := []float64{5, 5, 1, 1}
	m := newBaseModel(CXM2, a, names, initial, lower, upper)
	m.compute = func(m *Model, nTimes int) { compute2CXM(m, nTimes, 1.0) }
	m.check = checkPositiveVolumes([]int{2, 3})
	return m
}

// twoCompartmentIRF returns the biexponential impulse-response weights and
// rates (eplus, tplus, tminus) for the 2-compartment exchange system.
func twoCompartmentIRF(fp, ps, ve, vp float64) (eplus, tplus, tminus float64, ok bool) {
	if fp <= 0 || ve <= 0 {
		return 0, 0, 0, false
	}
	extraction := ps / (ps + fp)
	tp := vp / (fp + ps)
	te := ve / ps
	sum := tp + te
	disc := sum*sum - 4*tp*te*(1-extraction)
	if disc < 0 {
		disc = 0
	}
	sq := math.Sqrt(disc)
	tplus = 0.5 * (sum + sq)
	tminus = 0.5 * (sum - sq)
	if tplus == tminus {
		eplus = 0.5
	} else {
		eplus = (tplus - tp) / (tplus - tminus)
	}
	return eplus, tplus, tminus, true
}

func compute2CXM(m *Model, nTimes int, faWeight float64) {
	p := m.params
	fp, ps, ve, vp := p[0], p[1], p[2], p[3]
	eplus, tplus, tminus, ok := twoCompartmentIRF(fp, ps, ve, vp)
	if !ok {
		return
	}
	ca, err := dualInputSeries(m, faWeight)
	if err != nil {
		return
	}
	t := m.aif.Times()
	var rplus, rminus float64
	if tplus > 0 {
		rplus = 1 / tplus
	}
	if tminus > 0 {
		rminus = 1 / tminus
	}
	cplus := expConv(t, ca, rplus)
	cminus := expConv(t, ca, rminus)
	for i := 0; i < nTimes && i < len(t); i++ {
		m.ctModel[i] = fp * (eplus*cplus[i] + (1-eplus)*cminus[i])
	}
}

// --- DI2CXM (dual-input 2CXM) -------------------------------------------

func newDI2CXM(a *aifpkg.AIF) *Model {
	names := []string{"Fp", "PS", "ve", "vp", "fa"}
	initial := []float64{0.5, 0.2, 0.2, 0.05, 0.25}
	lower := []float64{0, 0, 0.0001, 0, 0}
	upper := []float64{5, 5, 1, 1, 1}
	m := newBaseModel(DI2CXM, a, names, initial, lower, upper)
	m.compute = func(m *Model, nTimes int) { compute2CXM(m, nTimes, m.params[4]) }
	m.check = checkPositiveVolumes([]int{2, 3})
	return m
}

// --- AUEM (gadoxetate arterial uptake/excretion model, dual input) -----

// newAUEM models hepatocyte uptake (ki) and biliary excretion (kbile) as
// two sequential single-exponential compartments downstream of a
// vascular/EES term, fed by the dual (fa-weighted) input.
func newAUEM(a *aifpkg.AIF) *Model {
	names := []string{"Fp", "ve", "ki", "kbile", "fa"}
	initial := []float64{0.5, 0.2, 0.05, 0.01, 0.25}
	lower := []float64{0, 0.0001, 0, 0, 0}
	upper := []float64{5, 1, 2, 2, 1}
	m := newBaseModel(AUEM, a, names, initial, lower, upper)
	m.compute = computeAUEM
	m.check = checkPositiveVolumes([]int{1})
	return m
}

func computeAUEM(m *Model, nTimes int) {
	p := m.params
	fp, ve, ki, kbile, fa := p[0], p[1], p[2], p[3], p[4]
	if ve <= 0 {
		return
	}
	ca, err := dualInputSeries(m, fa)
	if err != nil {
		return
	}
	t := m.aif.Times()
	vascular := expConv(t, ca, fp/ve)
	hepatocyte := expConv(t, vascular, kbile)
	for i := 0; i < nTimes && i < len(t); i++ {
		m.ctModel[i] = fp*vascular[i] + ki*hepatocyte[i]
	}
}

// --- DISCM (Materne dual-input single-compartment model) --------------

func newDISCM(a *aifpkg.AIF) *Model {
	names := []string{"Fp", "fa", "MTT"}
	initial := []float64{0.5, 0.25, 0.2}
	lower := []float64{0, 0, 0.0001}
	upper := []float64{5, 1, 5}
	m := newBaseModel(DISCM, a, names, initial, lower, upper)
	m.compute = computeDISCM
	return m
}

func computeDISCM(m *Model, nTimes int) {
	fp, fa, mtt := m.params[0], m.params[1], m.params[2]
	if mtt <= 0 {
		return
	}
	ca, err := dualInputSeries(m, fa)
	if err != nil {
		return
	}
	t := m.aif.Times()
	conv := expConv(t, ca, 1/mtt)
	for i := 0; i < nTimes && i < len(t); i++ {
		m.ctModel[i] = fp * conv[i]
	}
}

// --- DIBEM / DIBEM_FP (dual-input bi-exponential model) -----------------

// newDIBEM models a dual-input bi-exponential response as two independent
// exponential compartments (fast/slow) each with their own rate and
// plasma-flow weight; fa mixes AIF/PIF.
func newDIBEM(a *aifpkg.AIF) *Model {
	names := []string{"Ffast", "Eratio", "kfast", "kslow", "fa"}
	initial := []float64{0.5, 0.5, 1.0, 0.1, 0.25}
	lower := []float64{0, 0, 0, 0, 0}
	upper := []float64{5, 1, 10, 10, 1}
	m := newBaseModel(DIBEM, a, names, initial, lower, upper)
	m.compute = computeDIBEM
	return m
}

func computeDIBEM(m *Model, nTimes int) {
	p := m.params
	ffast, eratio, kfast, kslow, fa := p[0], p[1], p[2], p[3], p[4]
	ca, err := dualInputSeries(m, fa)
	if err != nil {
		return
	}
	t := m.aif.Times()
	fast := expConv(t, ca, kfast)
	slow := expConv(t, ca, kslow)
	for i := 0; i < nTimes && i < len(t); i++ {
		m.ctModel[i] = ffast * (eratio*fast[i] + (1-eratio)*slow[i])
	}
}

// newDIBEMFp is DIBEM with the plasma flow split into separate
// arterial/portal components (spec.md open question (b)): an extra free
// parameter Fslow alongside DIBEM's Ffast.
func newDIBEMFp(a *aifpkg.AIF) *Model {
	names := []string{"Ffast", "Fslow", "Eratio", "kfast", "kslow", "fa"}
	initial := []float64{0.5, 0.1, 0.5, 1.0, 0.1, 0.25}
	lower := []float64{0, 0, 0, 0, 0, 0}
	upper := []float64{5, 5, 1, 10, 10, 1}
	m := newBaseModel(DIBEMFp, a, names, initial, lower, upper)
	m.compute = computeDIBEMFp
	return m
}

func computeDIBEMFp(m *Model, nTimes int) {
	p := m.params
	ffast, fslow, eratio, kfast, kslow, fa := p[0], p[1], p[2], p[3], p[4], p[5]
	ca, err := dualInputSeries(m, fa)
	if err != nil {
		return
	}
	t := m.aif.Times()
	fast := expConv(t, ca, kfast)
	slow := expConv(t, ca, kslow)
	for i := 0; i < nTimes && i < len(t); i++ {
		m.ctModel[i] = eratio*ffast*fast[i] + (1-eratio)*fslow*slow[i]
	}
}

// --- DIETM (dual-input extended Tofts model) ----------------------------

func newDIETM(a *aifpkg.AIF) *Model {
	names := []string{"Ktrans", "ve", "vp", "fa", "offset"}
	initial := []float64{0.25, 0.2, 0.01, 0.25, 0}
	lower := []float64{0, 0.0001, 0, 0, -60}
	upper := []float64{5, 1, 1, 1, 60}
	m := newBaseModel(DIETM, a, names, initial, lower, upper)
	m.compute = computeDIETM
	m.check = checkPositiveVolumes([]int{1, 2})
	return m
}

func computeDIETM(m *Model, nTimes int) {
	p := m.params
	ktrans, ve, vp, fa, offset := p[0], p[1], p[2], p[3], p[4]
	if ve <= 0 {
		return
	}
	mixed, err := dualInputSeries(m, fa)
	if err != nil {
		return
	}
	t := m.aif.Times()
	shifted := shiftSeries(t, mixed, offset)
	conv := expConv(t, shifted, ktrans/ve)
	for i := 0; i < nTimes && i < len(t); i++ {
		m.ctModel[i] = vp*shifted[i] + ktrans*conv[i]
	}
}

// --- MLDRW (model-less deconvolution, fits its own input-function shape) -

// newMLDRW builds the model-less deconvolution model, which fits its own
// inverse-Gaussian arterial input shape (alpha, kappa, MTT) alongside a
// single Ktrans/kep exchange term rather than sampling the bound AIF.
// Grounded verbatim on original_source/madym/dce/mdm_DCEModelMLDRW.cxx.
func newMLDRW(a *aifpkg.AIF) *Model {
	names := []string{"alpha", "kappa", "MTT", "Ktrans", "kep"}
	initial := []float64{0.2, 0.2, 0.2, 0.2, 0.2}
	lower := []float64{0, 0, 0, 0, 0}
	upper := []float64{100, 100, 100, 100, 100}
	m := newBaseModel(MLDRW, a, names, initial, lower, upper)
	m.compute = computeMLDRW
	m.check = func(m *Model) errortracker.Code { return errortracker.OK }
	return m
}

func mldrwInputFunction(alpha, kappa, mtt, t float64) float64 {
	if t <= 0 {
		return 0
	}
	return alpha * math.Sqrt(kappa/(2*math.Pi*t)) * math.Exp(-kappa*(t-mtt)*(t-mtt)/(2*t))
}

func computeMLDRW(m *Model, nTimes int) {
	p := m.params
	alpha, kappa, mtt, ktrans, kep := p[0], p[1], p[2], p[3], p[4]
	t := m.aif.Times()
	n := len(t)
	if n == 0 {
		return
	}
	caT := make([]float64, n)
	integral := 0.0
	caT[0] = 0
	for i := 1; i < n && i < nTimes; i++ {
		caT[i] = mldrwInputFunction(alpha, kappa, mtt, t[i])

		dt := t[i] - t[i-1]
		eDelta := math.Exp(-kep * dt)
		a := dt * 0.5 * (caT[i] + caT[i-1]*eDelta)
		integral = integral*eDelta + a

		ct := caT[i] + ktrans*integral
		if math.IsNaN(ct) {
			return
		}
		m.ctModel[i] = ct
	}
}
