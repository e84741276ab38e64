package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("EXAM_KAFKA_BROKERS", "")

	cfg, err := LoadConfigFrom(viper.New())
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.Equal(t, 30*time.Second, cfg.SweepInterval)
	require.Equal(t, 72*time.Hour, cfg.StaleAttemptAge)
	require.False(t, cfg.Kafka.Enabled())
	require.False(t, cfg.Cloudinary.Enabled())
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("EXAM_PORT", ":9090")
	t.Setenv("EXAM_LOG_LEVEL", "debug")
	t.Setenv("EXAM_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("EXAM_SWEEP_INTERVAL", "1m")

	cfg, err := LoadConfigFrom(viper.New())
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, time.Minute, cfg.SweepInterval)
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	t.Setenv("EXAM_SWEEP_INTERVAL", "often")

	_, err := LoadConfigFrom(viper.New())
	require.Error(t, err)
}
