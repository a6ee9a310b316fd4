package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func testCmdWithStringFlag(t *testing.T, name, def string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	c.Flags().String(name, def, "")
	return c
}

func TestStringFlagOrConfig_FlagWinsWhenChanged(t *testing.T) {
	// GIVEN a command whose flag was explicitly set by the user
	c := testCmdWithStringFlag(t, "model", "ETM")
	_ = c.Flags().Set("model", "PATLAK")

	// WHEN resolving against a config value
	got := stringFlagOrConfig(c, "model", "PATLAK", "TOFTS")

	// THEN the flag value wins regardless of the config value
	assert.Equal(t, "PATLAK", got)
}

func TestStringFlagOrConfig_ConfigWinsWhenFlagUntouched(t *testing.T) {
	// GIVEN a command whose flag was left at its default
	c := testCmdWithStringFlag(t, "model", "ETM")

	// WHEN resolving against a non-empty config value
	got := stringFlagOrConfig(c, "model", "ETM", "TOFTS")

	// THEN the config value wins over the untouched default
	assert.Equal(t, "TOFTS", got)
}

func TestStringFlagOrConfig_FlagDefaultWinsWhenConfigEmpty(t *testing.T) {
	c := testCmdWithStringFlag(t, "model", "ETM")
	got := stringFlagOrConfig(c, "model", "ETM", "")
	assert.Equal(t, "ETM", got)
}

func TestBoolFlagOrConfig_FlagFalseDoesNotOverrideConfigTrue(t *testing.T) {
	// GIVEN a bool flag left at its default false
	c := &cobra.Command{Use: "test"}
	c.Flags().Bool("test_enh", false, "")

	// WHEN the config file turned it on
	got := boolFlagOrConfig(c, "test_enh", false, true)

	// THEN the config's true sticks, since the flag was never touched
	assert.True(t, got)
}

func TestBoolFlagOrConfig_ExplicitFlagFalseWins(t *testing.T) {
	c := &cobra.Command{Use: "test"}
	c.Flags().Bool("test_enh", false, "")
	_ = c.Flags().Set("test_enh", "false")

	got := boolFlagOrConfig(c, "test_enh", false, true)
	assert.False(t, got)
}

func TestIaucMapName(t *testing.T) {
	assert.Equal(t, "IAUC_0", iaucMapName(0, 2))
	assert.Equal(t, "IAUC_1", iaucMapName(1, 2))
	assert.Equal(t, "IAUC_peak", iaucMapName(2, 2))
}

func TestCtSeriesName(t *testing.T) {
	assert.Equal(t, "Ct_sig_3", ctSeriesName("Ct_sig", 3))
}
