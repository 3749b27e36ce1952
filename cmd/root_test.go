package main

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestk/legacy-etl/internal/orchestrator"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "job", "audit", "migrate", "status", "jobs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "gestk-etl", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"dry-run", "limit", "batch-size", "date-from", "date-to",
		"skip-jobs", "start-at", "stop-at", "parallelism"} {
		require.NotNil(t, runCmd.Flags().Lookup(name), "run command should have --%s", name)
	}
}

func TestJobCommand_Flags(t *testing.T) {
	for _, name := range []string{"dry-run", "limit", "batch-size", "date-from", "date-to"} {
		require.NotNil(t, jobCmd.Flags().Lookup(name), "job command should have --%s", name)
	}
	assert.Nil(t, jobCmd.Flags().Lookup("skip-jobs"))
}

func TestAuditCommand_Flags(t *testing.T) {
	flag := auditCmd.Flags().Lookup("strict")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
	require.NotNil(t, auditCmd.Flags().Lookup("xlsx"))
}

func TestStatusCommand_Flags(t *testing.T) {
	flag := statusCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestExitCode(t *testing.T) {
	critical := eris.Wrap(eris.Wrapf(orchestrator.ErrCriticalFailure, "job 02 contracts"), "run")
	partial := eris.Wrap(eris.Wrapf(orchestrator.ErrPartialFailure, "1 of 9 jobs"), "run")

	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("load config: missing dsn")))
	assert.Equal(t, 2, exitCode(critical))
	assert.Equal(t, 3, exitCode(partial))
	assert.NotEqual(t, exitCode(critical), exitCode(partial))
}
