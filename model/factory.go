package model

import (
	"fmt"

	"github.com/qbi-lab/madym/aif"
)

// CreateModel materialises a model instance from a textual name plus
// parameter overrides, following the factory contract of spec.md §4.3:
// fixedIdx/fixedValues pin a parameter out of the optimiser; relLimitIdx/
// relLimitValues narrow its bounds to [initial-limit, initial+limit],
// intersected with the model's existing bounds; supplying both for
// the same index is a ConfigError, never a silent precedence choice.
func CreateModel(name string, a *aif.AIF, initParams []float64, fixedIdx []int, fixedValues []float64, relLimitIdx []int, relLimitValues []float64) (*Model, error) {
	kind := ParseModelName(name)
	if !kind.IsDefined() {
		return nil, &UnsupportedError{Msg: fmt.Sprintf("model: unrecognised model name %q", name)}
	}

	m, err := newModelByKind(kind, a)
	if err != nil {
		return nil, err
	}

	if len(initParams) > 0 {
		if len(initParams) != len(m.params) {
			return nil, &ConfigError{Msg: fmt.Sprintf("model: %s expects %d initial params, got %d", kind, len(m.params), len(initParams))}
		}
		m.SetParams(initParams)
		m.SetInitialParams(initParams)
	}

	fixedSet := make(map[int]bool, len(fixedIdx))
	for _, idx := range fixedIdx {
		fixedSet[idx] = true
	}
	relSet := make(map[int]bool, len(relLimitIdx))
	for _, idx := range relLimitIdx {
		relSet[idx] = true
	}
	for idx := range fixedSet {
		if relSet[idx] {
			return nil, &ConfigError{Msg: fmt.Sprintf("model: parameter index %d has both a fixed value and a relative limit", idx)}
		}
	}

	for i, idx := range fixedIdx {
		if idx < 0 || idx >= len(m.params) {
			return nil, &ConfigError{Msg: fmt.Sprintf("model: fixed parameter index %d out of range", idx)}
		}
		m.optimisedFlags[idx] = false
		m.params[idx] = fixedValues[i]
		m.initialParams[idx] = fixedValues[i]
	}

	for i, idx := range relLimitIdx {
		if idx < 0 || idx >= len(m.params) {
			return nil, &ConfigError{Msg: fmt.Sprintf("model: relative-limit parameter index %d out of range", idx)}
		}
		limit := relLimitValues[i]
		v := m.initialParams[idx]
		lo, hi := v-limit, v+limit
		if lo > hi {
			lo, hi = hi, lo
		}
		if lo > m.lowerBounds[idx] {
			m.lowerBounds[idx] = lo
		}
		if hi < m.upperBounds[idx] {
			m.upperBounds[idx] = hi
		}
	}

	return m, nil
}

func newModelByKind(kind Type, a *aif.AIF) (*Model, error) {
	switch kind {
	case NONE:
		return newNone(), nil
	case ETM:
		return newETM(a), nil
	case TOFTS:
		return newTofts(a), nil
	case PATLAK:
		return newPatlak(a), nil
	case CXM2:
		return newCXM2(a), nil
	case DI2CXM:
		return newDI2CXM(a), nil
	case AUEM:
		return newAUEM(a), nil
	case DISCM:
		return newDISCM(a), nil
	case DIBEM:
		return newDIBEM(a), nil
	case DIBEMFp:
		return newDIBEMFp(a), nil
	case DIETM:
		return newDIETM(a), nil
	case MLDRW:
		return newMLDRW(a), nil
	default:
		return nil, &UnsupportedError{Msg: fmt.Sprintf("model: %s has no constructor", kind)}
	}
}

// SetRepeatParam configures a repeat-initialisation sweep over parameter
// index idx, trying each of values in turn as the seed for that parameter
// while the rest stay at initialParams (spec.md §3 "repeat-initialisation
// sweeps").
func (m *Model) SetRepeatParam(idx int, values []float64) error {
	if idx < 0 || idx >= len(m.params) {
		return &ConfigError{Msg: fmt.Sprintf("model: repeat parameter index %d out of range", idx)}
	}
	m.repeatParamIndex = idx
	m.repeatValues = append([]float64(nil), values...)
	m.repeatCursor = 0
	return nil
}
