package config

import (
	"errors"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Seed       SeedConfig       `yaml:"seed" mapstructure:"seed"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`

	// EnvFile is the dotenv file Load applied, if any.
	EnvFile string `yaml:"-" mapstructure:"-"`
}

// GoogleConfig configures the Places API client.
type GoogleConfig struct {
	APIKey      string      `yaml:"api_key" mapstructure:"api_key" validate:"required"`
	BaseURL     string      `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	RateLimit   float64     `yaml:"rate_limit" mapstructure:"rate_limit" validate:"gte=0"`
	TimeoutSecs int         `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gt=0"`
	Retry       RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig tunes the backoff policy for nearby search.
type RetryConfig struct {
	MaxAttempts       int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1"`
	InitialWaitMs     int `yaml:"initial_wait_ms" mapstructure:"initial_wait_ms" validate:"gt=0"`
	MaxWaitMs         int `yaml:"max_wait_ms" mapstructure:"max_wait_ms" validate:"gt=0"`
	RateLimitWaitSecs int `yaml:"rate_limit_wait_secs" mapstructure:"rate_limit_wait_secs" validate:"gt=0"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
}

// SeedConfig holds the default search area.
type SeedConfig struct {
	Lat       float64 `yaml:"lat" mapstructure:"lat" validate:"latitude"`
	Lng       float64 `yaml:"lng" mapstructure:"lng" validate:"longitude"`
	Radius    int     `yaml:"radius" mapstructure:"radius" validate:"gt=0"`
	MaxRadius int     `yaml:"max_radius" mapstructure:"max_radius" validate:"gt=0"`
	City      string  `yaml:"city" mapstructure:"city" validate:"required"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MonitoringConfig configures run metrics and alerts. Empty URLs disable
// the corresponding output.
type MonitoringConfig struct {
	PushgatewayURL     string  `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job                string  `yaml:"job" mapstructure:"job"`
	WebhookURL         string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ErrorRateThreshold float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
}

// DotenvFiles are checked in order; the first one found is loaded. Values
// already present in the environment win.
var DotenvFiles = []string{"server/.env.local", ".env.local"}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	envFile, err := loadDotenv()
	if err != nil {
		return nil, err
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PLACES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("google.api_key", "PLACES_GOOGLE_API_KEY", "GOOGLE_PLACES_API_KEY")
	_ = v.BindEnv("store.database_url", "PLACES_STORE_DATABASE_URL", "DATABASE_URL")

	// Defaults
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.rate_limit", 5.0)
	v.SetDefault("google.timeout_secs", 30)
	v.SetDefault("google.retry.max_attempts", 3)
	v.SetDefault("google.retry.initial_wait_ms", 1000)
	v.SetDefault("google.retry.max_wait_ms", 30000)
	v.SetDefault("google.retry.rate_limit_wait_secs", 60)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("seed.lat", 12.9345)
	v.SetDefault("seed.lng", 77.6069)
	v.SetDefault("seed.radius", 2500)
	v.SetDefault("seed.max_radius", 5000)
	v.SetDefault("seed.city", "Bangalore")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.job", "places_seed")
	v.SetDefault("monitoring.error_rate_threshold", 0.2)

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
	cfg.EnvFile = envFile

	return &cfg, nil
}

// loadDotenv applies the first dotenv file found and returns its path. It
// runs before the logger is configured, so callers log the result.
func loadDotenv() (string, error) {
	for _, path := range DotenvFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return "", eris.Wrapf(err, "config: load %s", path)
		}
		return path, nil
	}
	return "", nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks that the settings required by the given mode are
// present and in range. Modes: "seed" (API key, search area and store)
// and "store" (database only).
func (c *Config) Validate(mode string) error {
	switch mode {
	case "seed":
		if err := validateSection("google", c.Google); err != nil {
			return err
		}
		if err := validateSection("seed", c.Seed); err != nil {
			return err
		}
		return validateSection("store", c.Store)
	case "store":
		return validateSection("store", c.Store)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
}

func validateSection(name string, section any) error {
	err := validate.Struct(section)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		// Namespace is "<StructType>.<path>"; drop the type.
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		return &ValidationError{
			Field:  name + "." + field,
			Value:  fe.Value(),
			Reason: reason(fe),
		}
	}
	return eris.Wrapf(err, "config: validate %s", name)
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt":
		return "must be > " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "latitude", "longitude":
		return "out of range"
	default:
		return "failed " + fe.Tag() + " check"
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
