package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"stores", "products", "warehouse", "cache", "sources"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "optimal", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	flag := rootCmd.PersistentFlags().Lookup("debug")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestKindCommands_Stages(t *testing.T) {
	for _, parent := range []string{"stores", "products"} {
		t.Run(parent, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{parent})
			require.NoError(t, err)

			names := make(map[string]bool)
			for _, c := range cmd.Commands() {
				names[c.Name()] = true
				assert.NotNil(t, c.Flags().Lookup("source"), "%s %s needs --source", parent, c.Name())
			}
			for _, name := range []string{"extract-raw", "transform-staging", "deploy-prod", "run-pipeline"} {
				assert.True(t, names[name], "expected %s %s", parent, name)
			}
		})
	}
}

func TestDeployProd_HasNoDateFlag(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"stores", "deploy-prod"})
	require.NoError(t, err)
	assert.Nil(t, cmd.Flags().Lookup("date"))

	cmd, _, err = rootCmd.Find([]string{"products", "run-pipeline"})
	require.NoError(t, err)
	assert.NotNil(t, cmd.Flags().Lookup("date"))
}

func TestWarehouseCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range warehouseCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"migrate", "runs", "partitions", "health"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}

	flag := warehouseRunsCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestCacheCommand_Flags(t *testing.T) {
	flag := cachePurgeCmd.Flags().Lookup("older-than")
	require.NotNil(t, flag)
	assert.Equal(t, "720h0m0s", flag.DefValue)
}

func TestRunPipeline_AllFlags(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"stores", "run-pipeline"})
	require.NoError(t, err)

	all := cmd.Flags().Lookup("all")
	require.NotNil(t, all)
	assert.Equal(t, "false", all.DefValue)

	parallel := cmd.Flags().Lookup("parallel")
	require.NotNil(t, parallel)
	assert.Equal(t, "1", parallel.DefValue)

	// --source is only required on the single-stage commands.
	src := cmd.Flags().Lookup("source")
	require.NotNil(t, src)
	assert.NotContains(t, src.Annotations, cobra.BashCompOneRequiredFlag)

	extract, _, err := rootCmd.Find([]string{"stores", "extract-raw"})
	require.NoError(t, err)
	assert.Contains(t, extract.Flags().Lookup("source").Annotations, cobra.BashCompOneRequiredFlag)
}
