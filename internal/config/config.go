// Package config loads orchestrator configuration.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr" validate:"required"`

	PostgresDSN string `yaml:"postgres_dsn" validate:"required"`

	RedisAddr          string `yaml:"redis_addr" validate:"required"`
	RedisQueueKey      string `yaml:"redis_queue_key" validate:"required"`
	RedisProcessingKey string `yaml:"redis_processing_key" validate:"required"`
	RedisWakeKey       string `yaml:"redis_wake_key" validate:"required"`

	Workers    int `yaml:"workers" validate:"min=1"`
	MaxRetries int `yaml:"max_retries" validate:"min=1"`
	// VisibilityTimeout is how long a claimed message may stay unsettled
	// before the reaper returns it to its lane.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout" validate:"gt=0"`
	StartTimeout      time.Duration `yaml:"start_timeout" validate:"gt=0"`

	StallThreshold   time.Duration `yaml:"stall_threshold" validate:"gt=0"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval" validate:"gt=0"`
	WakePollInterval time.Duration `yaml:"wake_poll_interval" validate:"gt=0"`
	MaxWakeDrives    int           `yaml:"max_wake_drives" validate:"min=0"`

	// WatchdogConcurrency bounds wake-ups the watchdog runs at once.
	WatchdogConcurrency int `yaml:"watchdog_concurrency" validate:"min=1"`

	CallbackSecret    string        `yaml:"callback_secret"`
	CallbackTimeout   time.Duration `yaml:"callback_timeout" validate:"gt=0"`
	CallbackAttempts  int           `yaml:"callback_attempts" validate:"min=1"`
	CallbackBaseDelay time.Duration `yaml:"callback_base_delay" validate:"min=0"`

	GitHubToken  string `yaml:"github_token" validate:"required"`
	GitHubAPIURL string `yaml:"github_api_url" validate:"required,url"`

	// AnthropicAPIKey enables generation. Without it items are written with
	// their placeholder content.
	AnthropicAPIKey    string  `yaml:"anthropic_api_key"`
	AnthropicModel     string  `yaml:"anthropic_model" validate:"required_with=AnthropicAPIKey"`
	AnthropicBaseURL   string  `yaml:"anthropic_base_url" validate:"omitempty,url"`
	PriceInputPerMTok  float64 `yaml:"price_input_per_mtok" validate:"gte=0"`
	PriceOutputPerMTok float64 `yaml:"price_output_per_mtok" validate:"gte=0"`

	// JWTSecret signs approval tokens. Empty disables approvals over HTTP.
	JWTSecret string `yaml:"jwt_secret"`

	// ProtectedBranches replaces the built-in protected branch list.
	ProtectedBranches []string `yaml:"protected_branches"`

	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=json text"`
}

func Default() *Config {
	return &Config{
		HTTPAddr:            ":8080",
		RedisQueueKey:       "builds:queue",
		RedisProcessingKey:  "builds:processing",
		RedisWakeKey:        "builds:wake",
		Workers:             4,
		MaxRetries:          3,
		VisibilityTimeout:   5 * time.Minute,
		StartTimeout:        10 * time.Second,
		StallThreshold:      15 * time.Minute,
		WatchdogInterval:    time.Minute,
		WakePollInterval:    time.Second,
		WatchdogConcurrency: 8,
		MaxWakeDrives:       5,
		CallbackTimeout:     10 * time.Second,
		CallbackAttempts:    3,
		CallbackBaseDelay:   time.Second,
		GitHubAPIURL:        "https://api.github.com",
		AnthropicModel:      "claude-sonnet-4-5",
		PriceInputPerMTok:   3,
		PriceOutputPerMTok:  15,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty), and the environment as seen through getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.VisibilityTimeout <= c.StartTimeout {
		return fmt.Errorf("invalid config: visibility timeout %s must exceed start timeout %s", c.VisibilityTimeout, c.StartTimeout)
	}
	return nil
}

// env overlays environment values, collecting parse errors.
type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key string, dst *string) {
	if v := e.get(key); v != "" {
		*dst = v
	}
}

func (e *env) integer(key string, dst *int) {
	v := e.get(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("parse %s: %w", key, err))
		return
	}
	*dst = n
}

func (e *env) decimal(key string, dst *float64) {
	v := e.get(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("parse %s: %w", key, err))
		return
	}
	*dst = f
}

func (e *env) duration(key string, dst *time.Duration) {
	v := e.get(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("parse %s: %w", key, err))
		return
	}
	*dst = d
}

func (e *env) list(key string, dst *[]string) {
	v := e.get(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (c *Config) applyEnv(getenv func(string) string) error {
	e := &env{get: getenv}

	e.str("HTTP_ADDR", &c.HTTPAddr)
	e.str("POSTGRES_DSN", &c.PostgresDSN)
	e.str("REDIS_ADDR", &c.RedisAddr)
	e.str("REDIS_QUEUE_KEY", &c.RedisQueueKey)
	e.str("REDIS_PROCESSING_KEY", &c.RedisProcessingKey)
	e.str("REDIS_WAKE_KEY", &c.RedisWakeKey)
	e.integer("WORKERS", &c.Workers)
	e.integer("MAX_RETRIES", &c.MaxRetries)
	e.duration("VISIBILITY_TIMEOUT", &c.VisibilityTimeout)
	e.duration("START_TIMEOUT", &c.StartTimeout)
	e.duration("STALL_THRESHOLD", &c.StallThreshold)
	e.duration("WATCHDOG_INTERVAL", &c.WatchdogInterval)
	e.duration("WAKE_POLL_INTERVAL", &c.WakePollInterval)
	e.integer("WATCHDOG_CONCURRENCY", &c.WatchdogConcurrency)
	e.integer("MAX_WAKE_DRIVES", &c.MaxWakeDrives)
	e.str("CALLBACK_SECRET", &c.CallbackSecret)
	e.duration("CALLBACK_TIMEOUT", &c.CallbackTimeout)
	e.integer("CALLBACK_ATTEMPTS", &c.CallbackAttempts)
	e.duration("CALLBACK_BASE_DELAY", &c.CallbackBaseDelay)
	e.str("GITHUB_TOKEN", &c.GitHubToken)
	e.str("GITHUB_API_URL", &c.GitHubAPIURL)
	e.str("ANTHROPIC_API_KEY", &c.AnthropicAPIKey)
	e.str("ANTHROPIC_MODEL", &c.AnthropicModel)
	e.str("ANTHROPIC_BASE_URL", &c.AnthropicBaseURL)
	e.decimal("PRICE_INPUT_PER_MTOK", &c.PriceInputPerMTok)
	e.decimal("PRICE_OUTPUT_PER_MTOK", &c.PriceOutputPerMTok)
	e.str("JWT_SECRET", &c.JWTSecret)
	e.list("PROTECTED_BRANCHES", &c.ProtectedBranches)
	e.str("LOG_LEVEL", &c.LogLevel)
	e.str("LOG_FORMAT", &c.LogFormat)

	return errors.Join(e.errs...)
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password of a URL-style DSN: user:pass@ becomes
// user:****@. DSNs without a password are returned unchanged.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
