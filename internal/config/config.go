package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Legacy       LegacyConfig       `yaml:"legacy" mapstructure:"legacy"`
	Target       TargetConfig       `yaml:"target" mapstructure:"target"`
	Resolver     ResolverConfig     `yaml:"resolver" mapstructure:"resolver"`
	Pipeline     PipelineConfig     `yaml:"pipeline" mapstructure:"pipeline"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// LegacyConfig points at the read-only legacy database.
type LegacyConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"`
	DSN              string `yaml:"dsn" mapstructure:"dsn"`
	LookupQuery      string `yaml:"lookup_query" mapstructure:"lookup_query"`
	QueryTimeoutSecs int    `yaml:"query_timeout_secs" mapstructure:"query_timeout_secs"`
	MaxQPS           int    `yaml:"max_qps" mapstructure:"max_qps"`
	ConnectAttempts  int    `yaml:"connect_attempts" mapstructure:"connect_attempts"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// QueryTimeout returns the per-lookup timeout.
func (c LegacyConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSecs) * time.Second
}

// TargetConfig points at the Postgres target store.
type TargetConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ResolverConfig tunes the ownership caches and the integrity audit.
type ResolverConfig struct {
	MapTTLSecs       int `yaml:"map_ttl_secs" mapstructure:"map_ttl_secs"`
	LookupTTLSecs    int `yaml:"lookup_ttl_secs" mapstructure:"lookup_ttl_secs"`
	GapThresholdDays int `yaml:"gap_threshold_days" mapstructure:"gap_threshold_days"`
}

// MapTTL returns how long a built ownership map stays valid.
func (c ResolverConfig) MapTTL() time.Duration {
	return time.Duration(c.MapTTLSecs) * time.Second
}

// LookupTTL returns how long a document lookup stays cached.
func (c ResolverConfig) LookupTTL() time.Duration {
	return time.Duration(c.LookupTTLSecs) * time.Second
}

// PipelineConfig configures batch loading.
type PipelineConfig struct {
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`
	ResolveWorkers int    `yaml:"resolve_workers" mapstructure:"resolve_workers"`
	ProgressEvery  int    `yaml:"progress_every" mapstructure:"progress_every"`
	ImportFloor    string `yaml:"import_floor" mapstructure:"import_floor"`
}

// Floor parses ImportFloor. An empty value means no floor.
func (c PipelineConfig) Floor() (time.Time, error) {
	if c.ImportFloor == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, c.ImportFloor)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "config: parse pipeline.import_floor %q", c.ImportFloor)
	}
	return t, nil
}

// OrchestratorConfig configures the job plan runner.
type OrchestratorConfig struct {
	Parallelism int    `yaml:"parallelism" mapstructure:"parallelism"`
	PlanFile    string `yaml:"plan_file" mapstructure:"plan_file"`
}

// MetricsConfig configures the Prometheus textfile written after each run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// Load reads configuration from config.yaml, GESTK_* environment variables,
// and defaults, in that order of increasing precedence for the first two.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GESTK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can see it on Unmarshal.
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("legacy.driver", "sqlite")
	v.SetDefault("legacy.dsn", "")
	v.SetDefault("legacy.lookup_query", "SELECT cgce_emp FROM bethadba.geempre WHERE codi_emp = ?")
	v.SetDefault("legacy.query_timeout_secs", 10)
	v.SetDefault("legacy.max_qps", 0)
	v.SetDefault("legacy.connect_attempts", 3)
	v.SetDefault("legacy.breaker_threshold", 5)
	v.SetDefault("legacy.breaker_reset_secs", 30)
	v.SetDefault("target.database_url", "")
	v.SetDefault("resolver.map_ttl_secs", 300)
	v.SetDefault("resolver.lookup_ttl_secs", 300)
	v.SetDefault("resolver.gap_threshold_days", 30)
	v.SetDefault("pipeline.batch_size", 1000)
	v.SetDefault("pipeline.resolve_workers", 4)
	v.SetDefault("pipeline.progress_every", 10)
	v.SetDefault("pipeline.import_floor", "2019-01-01")
	v.SetDefault("orchestrator.parallelism", 1)
	v.SetDefault("orchestrator.plan_file", "")
	v.SetDefault("metrics.textfile", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// ValidateTarget checks the settings needed by commands that only touch the
// target store (migrate, status, audit).
func (c *Config) ValidateTarget() error {
	if c.Target.DatabaseURL == "" {
		return eris.New("config: target.database_url is required (GESTK_TARGET_DATABASE_URL)")
	}
	return nil
}

// ValidateRun checks everything an import run needs.
func (c *Config) ValidateRun() error {
	if err := c.ValidateTarget(); err != nil {
		return err
	}
	var missing []string
	if c.Legacy.DSN == "" {
		missing = append(missing, "legacy.dsn")
	}
	if c.Legacy.LookupQuery == "" {
		missing = append(missing, "legacy.lookup_query")
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	switch c.Legacy.Driver {
	case "sqlite", "pgx":
	default:
		return eris.Errorf("config: unsupported legacy.driver %q (want sqlite or pgx)", c.Legacy.Driver)
	}
	if c.Pipeline.BatchSize <= 0 {
		return eris.Errorf("config: pipeline.batch_size must be positive, got %d", c.Pipeline.BatchSize)
	}
	if _, err := c.Pipeline.Floor(); err != nil {
		return err
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
