package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/podcast-intel/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"process", "status", "episodes", "intel"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "podcast-intel", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestProcessCommand_Flags(t *testing.T) {
	flag := processCmd.Flags().Lookup("json")
	require.NotNil(t, flag, "process command should have --json flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestEpisodesCommand_Flags(t *testing.T) {
	for _, name := range []string{"status", "podcast", "limit"} {
		require.NotNil(t, episodesCmd.Flags().Lookup(name), "episodes command should have --%s flag", name)
	}
	assert.Equal(t, "50", episodesCmd.Flags().Lookup("limit").DefValue)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	orig := cfg
	t.Cleanup(func() { cfg = orig })

	cfg = &config.Config{Store: config.StoreConfig{Driver: "oracle"}}
	_, err := initStore(t.Context())
	assert.Error(t, err)
}

func TestRetryConfig_Conversion(t *testing.T) {
	rc := retryConfig(config.RetryPolicy{
		MaxAttempts:      4,
		InitialBackoffMs: 250,
		MaxBackoffMs:     10000,
		Multiplier:       1.5,
	})
	assert.Equal(t, 4, rc.MaxAttempts)
	assert.Equal(t, "250ms", rc.InitialBackoff.String())
	assert.Equal(t, "10s", rc.MaxBackoff.String())
	assert.InDelta(t, 1.5, rc.Multiplier, 0.001)
}

func TestStatusCommand_Registered(t *testing.T) {
	require.NotNil(t, statusCmd.RunE)
	assert.Equal(t, "status", statusCmd.Use)
}
