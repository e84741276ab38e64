package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/exam-attempt-service/internal/config"
)

func TestViperForCmd_FlagsOverrideConfig(t *testing.T) {
	root := rootCmd()
	archive, _, err := root.Find([]string{"archive"})
	require.NoError(t, err)

	// merge the root persistent flags the way Execute does
	require.NoError(t, archive.ParseFlags([]string{"--older-than", "90m", "--log-level", "debug"}))

	cfg, err := config.LoadConfigFrom(viperForCmd(archive))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cfg.StaleAttemptAge)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestViperForCmd_UnsetFlagsKeepDefaults(t *testing.T) {
	t.Setenv("EXAM_SWEEP_INTERVAL", "5s")

	root := rootCmd()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.ParseFlags(nil))

	cfg, err := config.LoadConfigFrom(viperForCmd(serve))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.Equal(t, "8080", cfg.Port)
}

func TestRootCmd_ExportRequiresRunID(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"export", "--as", "admin-1"})
	root.SilenceErrors = true

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run-id")
}
