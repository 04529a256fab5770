package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Port              string `json:"port" yaml:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
}

type Relay struct {
	RelayURL    string `json:"relay_url" yaml:"relay_url" validate:"required,url"`
	ProviderURL string `json:"provider_url" yaml:"provider_url" validate:"required,url"`
	Interval    string `json:"interval" yaml:"interval"`
	Range       string `json:"range" yaml:"range"`
	UserAgent   string `json:"user_agent" yaml:"user_agent"`
}

type Poller struct {
	IntervalSec     int    `json:"interval_sec" yaml:"interval_sec" validate:"gt=0"`
	CycleTimeoutSec int    `json:"cycle_timeout_sec" yaml:"cycle_timeout_sec" validate:"gte=0"`
	Symbol          string `json:"symbol" yaml:"symbol"`
}

type Limits struct {
	MaxRequestsPerMinute  int `json:"max_requests_per_minute" yaml:"max_requests_per_minute" validate:"gte=0"`
	Burst                 int `json:"burst" yaml:"burst" validate:"gte=0"`
	MinRequestIntervalSec int `json:"min_request_interval_sec" yaml:"min_request_interval_sec" validate:"gte=0"`
	CacheTTLSeconds       int `json:"cache_ttl_sec" yaml:"cache_ttl_sec" validate:"gte=0"`
	CacheMaxItems         int `json:"cache_max_items" yaml:"cache_max_items" validate:"gte=0"`
}

type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format" validate:"omitempty,oneof=json text"`
	Output string `json:"output" yaml:"output"`
	MaxAge int    `json:"max_age" yaml:"max_age"`
}

type Config struct {
	Server Server `json:"server" yaml:"server"`
	Relay  Relay  `json:"relay" yaml:"relay"`
	Poller Poller `json:"poller" yaml:"poller"`
	Limits Limits `json:"limits" yaml:"limits"`
	Log    Log    `json:"log" yaml:"log"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10},
		Relay: Relay{
			RelayURL:    "https://api.allorigins.win/get",
			ProviderURL: "https://query1.finance.yahoo.com",
			Interval:    "1d",
			Range:       "1d",
			UserAgent:   "quotewatch/1.0",
		},
		Poller: Poller{IntervalSec: 60, CycleTimeoutSec: 20, Symbol: "AAPL"},
		Limits: Limits{
			MaxRequestsPerMinute: 30,
			Burst:                3,
			CacheTTLSeconds:      5,
			CacheMaxItems:        64,
		},
		Log: Log{Level: "info", Format: "json", Output: "stdout", MaxAge: 7},
	}
}

// Load reads config from path. YAML is used for .yaml/.yml files, JSON otherwise.
// If path is empty, config.json or config.yaml in the working directory is tried.
// A missing file yields defaults. Environment variables override select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		for _, p := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their config key.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate rejects values the poller and relay cannot run with.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	envInt("REQUEST_TIMEOUT_SEC", 1, &cfg.Server.RequestTimeoutSec)

	if v := os.Getenv("RELAY_URL"); v != "" {
		cfg.Relay.RelayURL = v
	}
	if v := os.Getenv("PROVIDER_URL"); v != "" {
		cfg.Relay.ProviderURL = v
	}

	envInt("POLL_INTERVAL_SEC", 1, &cfg.Poller.IntervalSec)
	envInt("CYCLE_TIMEOUT_SEC", 0, &cfg.Poller.CycleTimeoutSec)
	if v := os.Getenv("SYMBOL"); v != "" {
		cfg.Poller.Symbol = v
	}

	envInt("QUOTE_MAX_RPM", 0, &cfg.Limits.MaxRequestsPerMinute)
	envInt("QUOTE_BURST", 1, &cfg.Limits.Burst)
	envInt("QUOTE_MIN_INTERVAL_SEC", 0, &cfg.Limits.MinRequestIntervalSec)
	envInt("QUOTE_CACHE_TTL_SEC", 0, &cfg.Limits.CacheTTLSeconds)
	envInt("QUOTE_CACHE_MAX_ITEMS", 1, &cfg.Limits.CacheMaxItems)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Log.Output = v
	}
}

// envInt sets *dst from the named variable when it parses and is at least min.
func envInt(name string, min int, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	x, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || x < min {
		return
	}
	*dst = x
}
