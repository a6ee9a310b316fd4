// Package config implements the shared CLI option groups (spec.md §6) and
// the YAML config-file loading every run-tool merges them from. Grounded on
// cmd/default_config.go's yaml.v3 + KnownFields(true) strict-decode idiom,
// generalised from one flat Config struct to one struct per option group so
// each run-tool (t1/dce/dce-lite/dwi/aif-auto) embeds only the groups it
// uses.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigError reports an invalid or missing config file (spec.md §7).
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return e.Msg }

// Common holds the options every run-tool accepts (spec.md §6 "Common
// options").
type Common struct {
	Cwd        string `yaml:"cwd"`
	Output     string `yaml:"output"`
	OutputRoot string `yaml:"output_root"`
	Overwrite  bool   `yaml:"overwrite"`
	ImgFmtR    string `yaml:"img_fmt_r"`
	ImgFmtW    string `yaml:"img_fmt_w"`
	NoLog      bool   `yaml:"no_log"`
	NoAudit    bool   `yaml:"no_audit"`
	Quiet      bool   `yaml:"quiet"`
}

// DCE holds the `madym_DCE`/`madym_DCE_lite` options (spec.md §6 "Domain
// options per tool (DCE: ...)").
type DCE struct {
	Model                string    `yaml:"model"`
	InitParams           []float64 `yaml:"init_params"`
	FixedParams          []int     `yaml:"fixed_params"`
	FixedValues          []float64 `yaml:"fixed_values"`
	RelativeLimitParams  []int     `yaml:"relative_limit_params"`
	RelativeLimitValues  []float64 `yaml:"relative_limit_values"`
	Dyn                  string    `yaml:"dyn"`
	T1                   string    `yaml:"T1"`
	M0                   string    `yaml:"M0"`
	B1                   string    `yaml:"B1"`
	FlipAngle            float64   `yaml:"flip_angle"`
	TR                   float64   `yaml:"tr"`
	R1Const              float64   `yaml:"r1_const"`
	Dose                 float64   `yaml:"dose"`
	Hct                  float64   `yaml:"hct"`
	AIF                  string    `yaml:"aif"`
	PIF                  string    `yaml:"pif"`
	AIFMap               string    `yaml:"aif_map"`
	IAUC                 []float64 `yaml:"iauc"`
	First                int       `yaml:"first"`
	Last                 int       `yaml:"last"`
	MaxIter              int       `yaml:"max_iter"`
	DynNoise             bool      `yaml:"dyn_noise"`
	TestEnh              bool      `yaml:"test_enh"`
	CtIn                 bool      `yaml:"Ct_in"`
	CtSig                bool      `yaml:"Ct_sig"`
	CtMod                bool      `yaml:"Ct_mod"`
	Backend              string    `yaml:"backend"`
	Prebolus             int       `yaml:"prebolus"`
	IAUCAtPeak           bool      `yaml:"iauc_at_peak"`
}

// T1 holds the `madym_T1` options.
type T1 struct {
	Method      string    `yaml:"method"`
	FAs         []float64 `yaml:"fa"`
	TIs         []float64 `yaml:"ti"`
	TR          float64   `yaml:"tr"`
	BigTR       float64   `yaml:"bigTR"`
	B1          string    `yaml:"B1"`
	NoiseThresh float64   `yaml:"noise_thresh"`
}

// DWI holds the `madym_DWI` options.
type DWI struct {
	Method      string    `yaml:"method"`
	BValues     []float64 `yaml:"b_values"`
	ThresholdB  float64   `yaml:"threshold_b"`
}

// AIFAuto holds the `madym_AIF_auto` options.
type AIFAuto struct {
	Slices                []int   `yaml:"slices"`
	MinT1Blood            float64 `yaml:"min_T1_blood"`
	PeakTime              float64 `yaml:"peak_time"`
	PrebolusNoiseFallback float64 `yaml:"prebolus_noise_fallback"`
	PrebolusMinImages     int     `yaml:"prebolus_min_images"`
	SelectPct             float64 `yaml:"select_pct"`
}

// Config is the full defaults.yaml structure: every top-level section must
// be listed here to satisfy KnownFields(true) strict parsing.
type Config struct {
	Common  Common  `yaml:"common"`
	DCE     DCE     `yaml:"dce"`
	T1      T1      `yaml:"t1"`
	DWI     DWI     `yaml:"dwi"`
	AIFAuto AIFAuto `yaml:"aif_auto"`
}

// Load reads and strictly decodes a YAML config file (spec.md §6's
// `--config` option). A zero Config is returned (not an error) when path is
// empty: `--config` is optional, flags alone are a valid invocation.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, &ConfigError{Msg: fmt.Sprintf("config: reading %s: %v", path, err)}
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, &ConfigError{Msg: fmt.Sprintf("config: parsing %s: %v", path, err)}
	}
	return cfg, nil
}
