package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qbi-lab/madym/image"
	"github.com/qbi-lab/madym/ioformats"
)

// loadVolume reads baseName.hdr/.img (and, if present, baseName.xtr) into a
// single Image of the given Type. Only the Analyze reader/writer the
// ioformats package implements is wired here; --img_fmt_r/--img_fmt_w exist
// for spec.md §6 parity but NIFTI/DICOM are out of scope (SPEC_FULL.md §3).
func loadVolume(baseName string, kind image.Type) (*image.Image, error) {
	im, err := ioformats.ReadAnalyze(baseName, kind)
	if err != nil {
		return nil, err
	}
	if err := ioformats.ReadXtr(baseName, im); err != nil {
		logIgnoredXtr(baseName, err)
	}
	return im, nil
}

// loadSeries reads a numbered run of dynamic volumes
// "<prefix><001..N>"(.hdr/.img), the naming convention spec.md's `--dyn`
// option names.
func loadSeries(prefix string, first, last int, kind image.Type) ([]*image.Image, error) {
	if last < first {
		return nil, fmt.Errorf("cmd: series range [%d,%d] is empty", first, last)
	}
	out := make([]*image.Image, 0, last-first+1)
	for i := first; i <= last; i++ {
		base := fmt.Sprintf("%s%03d", prefix, i)
		im, err := loadVolume(base, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, im)
	}
	return out, nil
}

// writeVolume writes outDir/name.hdr/.img (sparse, double precision) and its
// XTR side-car.
func writeVolume(outDir, name string, im *image.Image) error {
	base := outDir + "/" + name
	if err := ioformats.WriteAnalyze(base, im, ioformats.DTDouble, true); err != nil {
		return err
	}
	return ioformats.WriteXtr(base, im, ioformats.NewXtr)
}

func logIgnoredXtr(baseName string, err error) {
	auditLog.Debugf("cmd: no xtr side-car for %s: %v", baseName, err)
}

func stringFlagOrConfig(cmd *cobra.Command, flagName, flagVal, cfgVal string) string {
	if cmd.Flags().Changed(flagName) || cfgVal == "" {
		return flagVal
	}
	return cfgVal
}

func float64FlagOrConfig(cmd *cobra.Command, flagName string, flagVal, cfgVal float64) float64 {
	if cmd.Flags().Changed(flagName) || cfgVal == 0 {
		return flagVal
	}
	return cfgVal
}

func intFlagOrConfig(cmd *cobra.Command, flagName string, flagVal, cfgVal int) int {
	if cmd.Flags().Changed(flagName) || cfgVal == 0 {
		return flagVal
	}
	return cfgVal
}

func boolFlagOrConfig(cmd *cobra.Command, flagName string, flagVal, cfgVal bool) bool {
	if cmd.Flags().Changed(flagName) {
		return flagVal
	}
	return flagVal || cfgVal
}
