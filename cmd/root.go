// cmd/root.go
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/qbi-lab/madym/config"
)

var (
	configPath string
	cwd        string
	output     string
	outputRoot string
	overwrite  bool
	imgFmtR    string
	imgFmtW    string
	noLog      bool
	noAudit    bool
	quiet      bool
)

var loadedConfig config.Config

var auditLog = logrus.New()

var rootCmd = &cobra.Command{
	Use:   "madym",
	Short: "Quantitative DCE-MRI / T1 / DWI analysis suite",
}

// Execute runs the selected subcommand and exits non-zero on any error
// (spec.md §6's "Exit codes: 0 success, non-zero on error").
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file merged with flags (flags take precedence)")
	pf.StringVar(&cwd, "cwd", "", "working directory to run from")
	pf.StringVar(&output, "output", "", "output directory name")
	pf.StringVar(&outputRoot, "output_root", "", "root directory under which --output is created")
	pf.BoolVar(&overwrite, "overwrite", false, "allow overwriting an existing output directory")
	pf.StringVar(&imgFmtR, "img_fmt_r", "Analyze", "image format to read (Analyze, NIFTI, DICOM)")
	pf.StringVar(&imgFmtW, "img_fmt_w", "Analyze", "image format to write (Analyze, NIFTI, DICOM)")
	pf.BoolVar(&noLog, "no_log", false, "suppress the program log")
	pf.BoolVar(&noAudit, "no_audit", false, "suppress the audit log")
	pf.BoolVar(&quiet, "quiet", false, "reduce console logging to warnings and above")

	rootCmd.AddCommand(t1Cmd, dceCmd, dceLiteCmd, dwiCmd, aifAutoCmd)
}

// prepareRun merges --config into the package-level loadedConfig, sets up
// logging, resolves and creates the output directory, and returns it.
// Mirrors the teacher cmd/root.go's flags -> logrus.SetLevel -> run
// pattern, generalised to run once per subcommand instead of once at the
// process root.
func prepareRun(cmd *cobra.Command) (outDir string, err error) {
	loadedConfig, err = config.Load(configPath)
	if err != nil {
		return "", err
	}

	level := logrus.InfoLevel
	if quiet {
		level = logrus.WarnLevel
	}
	logrus.SetLevel(level)
	if noLog {
		logrus.SetOutput(io.Discard)
	}

	if cwd != "" {
		if err := os.Chdir(cwd); err != nil {
			return "", &config.ConfigError{Msg: fmt.Sprintf("cmd: changing to --cwd %s: %v", cwd, err)}
		}
	}

	outDir = output
	if outDir == "" {
		outDir = cmd.Name() + "_output"
	}
	if outputRoot != "" {
		outDir = filepath.Join(outputRoot, outDir)
	}
	if _, statErr := os.Stat(outDir); statErr == nil && !overwrite {
		return "", &config.ConfigError{Msg: fmt.Sprintf("cmd: output directory %s already exists (pass --overwrite)", outDir)}
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", &config.ConfigError{Msg: fmt.Sprintf("cmd: creating output directory %s: %v", outDir, err)}
	}

	auditLog.SetLevel(logrus.InfoLevel)
	if noAudit {
		auditLog.SetOutput(io.Discard)
	} else {
		f, err := os.Create(filepath.Join(outDir, "audit.log"))
		if err != nil {
			return "", &config.ConfigError{Msg: fmt.Sprintf("cmd: creating audit log: %v", err)}
		}
		auditLog.SetOutput(f)
	}
	return outDir, nil
}

// runTool wraps a subcommand's body in the catch-all spec.md §7 requires at
// every top-level entry point: log one line to the audit log and surface a
// non-zero exit, never letting a panic escape the CLI boundary. Grounded on
// mdm_RunTools.cxx's per-tool try/catch.
func runTool(name string, body func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			auditLog.Errorf("%s: aborted: %v", name, r)
			err = fmt.Errorf("%s: aborted: %v", name, r)
		}
	}()
	if err := body(); err != nil {
		auditLog.Errorf("%s: %v", name, err)
		return err
	}
	auditLog.Infof("%s: completed successfully", name)
	return nil
}
