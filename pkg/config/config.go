// Package config loads woodpecker binary configuration from a YAML file,
// a .env file and the environment, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/woodpecker/pkg/api"
	"github.com/Sternrassler/woodpecker/pkg/logging"
	"github.com/Sternrassler/woodpecker/pkg/swarm"
)

// Environment variables read by Load.
const (
	EnvUserToken   = "WOODPECKER_USER_TOKEN"
	EnvBaseURL     = "WOODPECKER_BASE_URL"
	EnvLegacy      = "WOODPECKER_LEGACY"
	EnvMaxWorkers  = "WOODPECKER_MAX_WORKERS"
	EnvPageTimeout = "WOODPECKER_PAGE_TIMEOUT"
	EnvRPS         = "WOODPECKER_REQUESTS_PER_SECOND"
	EnvBudget      = "WOODPECKER_BUDGET"
	EnvRedisURL    = "REDIS_URL"
	EnvPort        = "PORT"
	EnvLogLevel    = "LOG_LEVEL"
	EnvLogPretty   = "LOG_PRETTY"
)

// Config is the complete binary configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       logging.Config  `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// APIConfig configures the backend endpoint.
type APIConfig struct {
	BaseURL   string            `yaml:"base_url"`
	UserToken string            `yaml:"user_token"`
	Legacy    bool              `yaml:"legacy"`
	Params    map[string]string `yaml:"params"`
}

// FetcherConfig configures the fetch engine.
type FetcherConfig struct {
	MaxWorkers  int           `yaml:"max_workers"`
	PageTimeout time.Duration `yaml:"page_timeout"`
}

// RateLimitConfig configures local pacing and the optional shared budget.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// RedisURL enables the shared budget when set. Accepts redis:// URLs or host:port.
	RedisURL  string        `yaml:"redis_url"`
	Budget    int           `yaml:"budget"`
	Window    time.Duration `yaml:"window"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080"},
		API:    APIConfig{BaseURL: api.DefaultBaseURL},
		Fetcher: FetcherConfig{
			MaxWorkers:  swarm.MaxPoolSize,
			PageTimeout: 15 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             16,
			Budget:            600,
			Window:            time.Minute,
		},
		Log: logging.Config{Level: logging.LevelInfo},
	}
}

// Load builds the configuration. envFile (usually ".env") is loaded into
// the process environment without overriding variables that are already
// set; a missing envFile is ignored. path is an optional YAML file.
func Load(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := decodeYAML(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// applyEnv overrides cfg with the variables lookup finds.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	parse := func(key string, set func(string) error) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		if err := set(v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return nil
	}

	str(EnvUserToken, &cfg.API.UserToken)
	str(EnvBaseURL, &cfg.API.BaseURL)
	str(EnvRedisURL, &cfg.RateLimit.RedisURL)
	str(EnvPort, &cfg.Server.Port)

	return errors.Join(
		parse(EnvLegacy, func(v string) (err error) {
			cfg.API.Legacy, err = strconv.ParseBool(v)
			return err
		}),
		parse(EnvMaxWorkers, func(v string) (err error) {
			cfg.Fetcher.MaxWorkers, err = strconv.Atoi(v)
			return err
		}),
		parse(EnvPageTimeout, func(v string) (err error) {
			cfg.Fetcher.PageTimeout, err = time.ParseDuration(v)
			return err
		}),
		parse(EnvRPS, func(v string) (err error) {
			cfg.RateLimit.RequestsPerSecond, err = strconv.ParseFloat(v, 64)
			return err
		}),
		parse(EnvBudget, func(v string) (err error) {
			cfg.RateLimit.Budget, err = strconv.Atoi(v)
			return err
		}),
		parse(EnvLogLevel, func(v string) (err error) {
			cfg.Log.Level, err = logging.ParseLevel(v)
			return err
		}),
		parse(EnvLogPretty, func(v string) (err error) {
			cfg.Log.Pretty, err = strconv.ParseBool(v)
			return err
		}),
	)
}

// Validate checks ranges and required values.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api base_url is required"))
	}
	if c.Fetcher.MaxWorkers < 1 || c.Fetcher.MaxWorkers > swarm.MaxPoolSize {
		errs = append(errs, fmt.Errorf("fetcher max_workers must be between 1 and %d (got %d)", swarm.MaxPoolSize, c.Fetcher.MaxWorkers))
	}
	if c.Fetcher.PageTimeout <= 0 {
		errs = append(errs, fmt.Errorf("fetcher page_timeout must be positive (got %s)", c.Fetcher.PageTimeout))
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("rate_limit requests_per_second must be >= 0 (got %g)", c.RateLimit.RequestsPerSecond))
	}
	if c.RateLimit.RedisURL != "" && c.RateLimit.Budget < 1 {
		errs = append(errs, fmt.Errorf("rate_limit budget must be >= 1 with a redis_url (got %d)", c.RateLimit.Budget))
	}
	if _, err := logging.ParseLevel(string(c.Log.Level)); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Endpoint returns the endpoint configuration.
func (c Config) Endpoint() api.Config {
	var out api.Config
	if c.API.Legacy {
		out = api.LegacyConfig(c.API.UserToken)
	} else {
		out = api.DefaultConfig(c.API.UserToken)
	}
	// Legacy mode keeps its own root unless a base was set explicitly.
	if !c.API.Legacy || c.API.BaseURL != api.DefaultBaseURL {
		out.BaseURL = c.API.BaseURL
	}

	if len(c.API.Params) > 0 {
		params := make(map[string]string, len(out.Params)+len(c.API.Params))
		for k, v := range out.Params {
			params[k] = v
		}
		for k, v := range c.API.Params {
			params[k] = v
		}
		out.Params = params
	}
	return out
}

// RedisOptions parses RedisURL. It returns nil options when no Redis is configured.
func (c RateLimitConfig) RedisOptions() (*redis.Options, error) {
	if c.RedisURL == "" {
		return nil, nil
	}
	if strings.Contains(c.RedisURL, "://") {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: c.RedisURL}, nil
}
