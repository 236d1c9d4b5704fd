package config

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	ETL    ETLConfig    `yaml:"etl" mapstructure:"etl"`
	Export ExportConfig `yaml:"export" mapstructure:"export"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// StoreConfig configures where committed generations live. DatabaseURL is
// optional; when set, runs are logged and generations published to Postgres.
type StoreConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir" validate:"required"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema" validate:"required,pgident"`
}

// ETLConfig configures the quarterly pipeline.
type ETLConfig struct {
	Inputs              []string `yaml:"inputs" mapstructure:"inputs"`
	RegistryPath        string   `yaml:"registry_path" mapstructure:"registry_path"`
	CatalogPath         string   `yaml:"catalog_path" mapstructure:"catalog_path"`
	Delimiter           string   `yaml:"delimiter" mapstructure:"delimiter" validate:"len=1"`
	Encoding            string   `yaml:"encoding" mapstructure:"encoding" validate:"required"`
	SkipThreshold       float64  `yaml:"skip_threshold" mapstructure:"skip_threshold" validate:"gte=0,lte=1"`
	Workers             int      `yaml:"workers" mapstructure:"workers" validate:"gte=1"`
	AllowPartialWindows bool     `yaml:"allow_partial_windows" mapstructure:"allow_partial_windows"`
	FillAcrossReports   bool     `yaml:"fill_across_reports" mapstructure:"fill_across_reports"`
	ReleaseLagMonths    int      `yaml:"release_lag_months" mapstructure:"release_lag_months" validate:"gte=1,lte=12"`
}

// DelimiterRune returns the configured field delimiter.
func (c ETLConfig) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Delimiter)
	return r
}

// ExportConfig configures workbook and parquet exports.
type ExportConfig struct {
	Dir          string `yaml:"dir" mapstructure:"dir" validate:"required"`
	MissingLabel string `yaml:"missing_label" mapstructure:"missing_label"`
}

// Load reads configuration from a .env file, config.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BACEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.dir", "data/store")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.schema", "bacen")
	v.SetDefault("etl.inputs", []string{})
	v.SetDefault("etl.registry_path", "")
	v.SetDefault("etl.catalog_path", "")
	v.SetDefault("etl.delimiter", ";")
	v.SetDefault("etl.encoding", "windows-1252")
	v.SetDefault("etl.skip_threshold", 0.05)
	v.SetDefault("etl.workers", 4)
	v.SetDefault("etl.allow_partial_windows", false)
	v.SetDefault("etl.fill_across_reports", false)
	v.SetDefault("etl.release_lag_months", 3)
	v.SetDefault("export.dir", "data/export")
	v.SetDefault("export.missing_label", "n/d")

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

// pgIdentRe matches names usable unquoted as Postgres identifiers.
var pgIdentRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("pgident", func(fl validator.FieldLevel) bool {
		return pgIdentRe.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks field constraints, then the settings a command mode needs.
// Modes: "etl", "query", "export" and "postgres".
func (c *Config) Validate(mode string) error {
	if err := newValidator().Struct(c); err != nil {
		return eris.Wrap(err, "config: invalid")
	}

	switch mode {
	case "etl", "query", "export":
		return nil
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required")
		}
		return nil
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
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
