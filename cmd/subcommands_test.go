package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmd_RegistersEveryToolSubcommand(t *testing.T) {
	// GIVEN the root command's registered children
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	// THEN every spec.md §6 run-tool has a subcommand
	for _, want := range []string{"t1", "dce", "dce-lite", "dwi", "aif-auto"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestDCECmd_ModelFlagDefaultsToETM(t *testing.T) {
	flag := dceCmd.Flags().Lookup("model")
	assert.NotNil(t, flag)
	assert.Equal(t, "ETM", flag.DefValue)
}

func TestDCELiteCmd_RequiresInAndN(t *testing.T) {
	// GIVEN no --in and no --n
	liteIn = ""
	liteNumDynamic = 0

	// WHEN runDCELite is invoked directly
	err := runDCELite(dceLiteCmd, t.TempDir())

	// THEN it reports a config error rather than panicking on a nil slice
	assert.Error(t, err)
}

func TestAIFAutoCmd_T1FlagIsRegistered(t *testing.T) {
	flag := aifAutoCmd.Flags().Lookup("T1")
	assert.NotNil(t, flag)
}

func TestT1Cmd_MethodFlagIsRegistered(t *testing.T) {
	flag := t1Cmd.Flags().Lookup("method")
	assert.NotNil(t, flag)
}

func TestDWICmd_MethodFlagIsRegistered(t *testing.T) {
	flag := dwiCmd.Flags().Lookup("method")
	assert.NotNil(t, flag)
}
