package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "sqlite", cfg.Legacy.Driver)
	assert.Equal(t, "SELECT cgce_emp FROM bethadba.geempre WHERE codi_emp = ?", cfg.Legacy.LookupQuery)
	assert.Equal(t, 10*time.Second, cfg.Legacy.QueryTimeout())
	assert.Equal(t, 3, cfg.Legacy.ConnectAttempts)
	assert.Equal(t, 5, cfg.Legacy.BreakerThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Resolver.MapTTL())
	assert.Equal(t, 5*time.Minute, cfg.Resolver.LookupTTL())
	assert.Equal(t, 30, cfg.Resolver.GapThresholdDays)
	assert.Equal(t, 1000, cfg.Pipeline.BatchSize)
	assert.Equal(t, 4, cfg.Pipeline.ResolveWorkers)
	assert.Equal(t, 1, cfg.Orchestrator.Parallelism)
	assert.Empty(t, cfg.Metrics.Textfile)

	floor, err := cfg.Pipeline.Floor()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), floor)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
legacy:
  driver: pgx
  dsn: postgres://legacy/db
pipeline:
  batch_size: 250
orchestrator:
  parallelism: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "pgx", cfg.Legacy.Driver)
	assert.Equal(t, "postgres://legacy/db", cfg.Legacy.DSN)
	assert.Equal(t, 250, cfg.Pipeline.BatchSize)
	assert.Equal(t, 3, cfg.Orchestrator.Parallelism)
	// Defaults still apply for unset values
	assert.Equal(t, 4, cfg.Pipeline.ResolveWorkers)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
legacy:
  dsn: file:a.db
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GESTK_LEGACY_DSN", "file:b.db")
	t.Setenv("GESTK_LOG_LEVEL", "warn")
	t.Setenv("GESTK_TARGET_DATABASE_URL", "postgres://target/db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "file:b.db", cfg.Legacy.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "postgres://target/db", cfg.Target.DatabaseURL)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func validRun() *Config {
	return &Config{
		Legacy: LegacyConfig{
			Driver:      "sqlite",
			DSN:         "file:legacy.db",
			LookupQuery: "SELECT doc FROM firms WHERE code = ?",
		},
		Target:   TargetConfig{DatabaseURL: "postgres://localhost/etl"},
		Pipeline: PipelineConfig{BatchSize: 100, ImportFloor: "2019-01-01"},
	}
}

func TestValidateRun(t *testing.T) {
	require.NoError(t, validRun().ValidateRun())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no target", func(c *Config) { c.Target.DatabaseURL = "" }, "target.database_url"},
		{"no dsn", func(c *Config) { c.Legacy.DSN = "" }, "legacy.dsn"},
		{"bad driver", func(c *Config) { c.Legacy.Driver = "mysql" }, "unsupported legacy.driver"},
		{"bad batch", func(c *Config) { c.Pipeline.BatchSize = 0 }, "batch_size"},
		{"bad floor", func(c *Config) { c.Pipeline.ImportFloor = "01/01/2019" }, "import_floor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validRun()
			tt.mutate(cfg)
			err := cfg.ValidateRun()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFloorEmpty(t *testing.T) {
	floor, err := PipelineConfig{}.Floor()
	require.NoError(t, err)
	assert.True(t, floor.IsZero())
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
