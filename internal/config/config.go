package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Airtable   AirtableConfig   `yaml:"airtable" mapstructure:"airtable"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Actor      ActorConfig      `yaml:"actor" mapstructure:"actor"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Standalone bool             `yaml:"standalone" mapstructure:"standalone"`
}

// AirtableConfig holds the master base credentials and table names.
type AirtableConfig struct {
	APIKey          string  `yaml:"api_key" mapstructure:"api_key"`
	BaseID          string  `yaml:"base_id" mapstructure:"base_id"`
	JobsTable       string  `yaml:"jobs_table" mapstructure:"jobs_table"`
	ClientRunsTable string  `yaml:"client_runs_table" mapstructure:"client_runs_table"`
	TenantsTable    string  `yaml:"tenants_table" mapstructure:"tenants_table"`
	RateLimitRPS    float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// GeminiConfig holds the scoring model settings.
type GeminiConfig struct {
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ActorConfig holds the scraping-actor API settings.
type ActorConfig struct {
	Token         string `yaml:"token" mapstructure:"token"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	ActorID       string `yaml:"actor_id" mapstructure:"actor_id"`
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
}

// StoreConfig configures the actor-run mapping store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ScheduleConfig configures the batch scheduler in serve mode.
type ScheduleConfig struct {
	Cron   string `yaml:"cron" mapstructure:"cron"`
	Stream int    `yaml:"stream" mapstructure:"stream"`
}

// MonitoringConfig configures the background alert checker in serve mode.
// Alerts go out only when WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	TokenThreshold       int     `yaml:"token_threshold" mapstructure:"token_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging. StageLevels overrides the base level for
// individual pipeline stages, e.g. "lead=debug,harvest=info".
type LogConfig struct {
	Level       string `yaml:"level" mapstructure:"level"`
	Format      string `yaml:"format" mapstructure:"format"`
	StageLevels string `yaml:"stage_levels" mapstructure:"stage_levels"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("airtable.jobs_table", "Job Tracking")
	v.SetDefault("airtable.client_runs_table", "Client Run Tracking")
	v.SetDefault("airtable.tenants_table", "Clients")
	v.SetDefault("airtable.rate_limit_rps", 5.0)
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.timeout_secs", 120)
	v.SetDefault("actor.base_url", "https://api.apify.com/v2")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "lead-engine.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("schedule.cron", "0 4 * * *")
	v.SetDefault("schedule.stream", 1)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
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
