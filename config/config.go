// Package config loads the lettings client configuration from YAML with
// LETTINGS_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Store kinds
const (
	StoreMemory    = "memory"
	StoreFS        = "fs"
	StoreRedis     = "redis"
	StoreSQLite    = "sqlite"
	StoreDatastore = "datastore"
	StoreSCS       = "scs"
)

// Config is the complete client configuration
type Config struct {
	API   APIConfig   `yaml:"api" mapstructure:"api"`
	Auth  AuthConfig  `yaml:"auth" mapstructure:"auth"`
	Store StoreConfig `yaml:"store" mapstructure:"store"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
	Mock  MockConfig  `yaml:"mock" mapstructure:"mock"`
}

type APIConfig struct {
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	ClientID  string        `yaml:"client_id" mapstructure:"client_id"`
	UserAgent string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type AuthConfig struct {
	Username       string        `yaml:"username" mapstructure:"username"`
	LoginPath      string        `yaml:"login_path" mapstructure:"login_path"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" mapstructure:"refresh_timeout"`
	RefreshAhead   time.Duration `yaml:"refresh_ahead" mapstructure:"refresh_ahead"`
}

type StoreConfig struct {
	Kind      string        `yaml:"kind" mapstructure:"kind"`
	Path      string        `yaml:"path" mapstructure:"path"`
	Namespace string        `yaml:"namespace" mapstructure:"namespace"`
	Addr      string        `yaml:"addr" mapstructure:"addr"`
	Password  string        `yaml:"password" mapstructure:"password"`
	DB        int           `yaml:"db" mapstructure:"db"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Project   string        `yaml:"project" mapstructure:"project"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MockConfig configures the in-process fake API
type MockConfig struct {
	Addr       string        `yaml:"addr" mapstructure:"addr"`
	Secret     string        `yaml:"secret" mapstructure:"secret"`
	AccessTTL  time.Duration `yaml:"access_ttl" mapstructure:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" mapstructure:"refresh_ttl"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:  "http://localhost:8080",
			ClientID: "lettings-cli",
			Timeout:  30 * time.Second,
		},
		Auth: AuthConfig{
			LoginPath:      "/login",
			RefreshTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Kind:      StoreFS,
			Namespace: "lettings",
			Addr:      "localhost:6379",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Mock: MockConfig{
			Addr:       ":8080",
			Secret:     "lettings-mock-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
	}
}

// envBindings maps environment variables onto config keys
var envBindings = map[string]string{
	"LETTINGS_API_URL":              "api.base_url",
	"LETTINGS_API_CLIENT_ID":        "api.client_id",
	"LETTINGS_API_TIMEOUT":          "api.timeout",
	"LETTINGS_USERNAME":             "auth.username",
	"LETTINGS_AUTH_REFRESH_TIMEOUT": "auth.refresh_timeout",
	"LETTINGS_AUTH_REFRESH_AHEAD":   "auth.refresh_ahead",
	"LETTINGS_STORE":                "store.kind",
	"LETTINGS_STORE_PATH":           "store.path",
	"LETTINGS_STORE_NAMESPACE":      "store.namespace",
	"LETTINGS_REDIS_ADDR":           "store.addr",
	"LETTINGS_REDIS_PASSWORD":       "store.password",
	"LETTINGS_DATASTORE_PROJECT":    "store.project",
	"LETTINGS_LOG_LEVEL":            "log.level",
	"LETTINGS_LOG_FORMAT":           "log.format",
	"LETTINGS_MOCK_ADDR":            "mock.addr",
	"LETTINGS_MOCK_SECRET":          "mock.secret",
}

// Load reads the YAML file at path (skipped when path is empty or the file is
// missing), applies environment overrides on top and validates the result.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	raw := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	for env, key := range envBindings {
		if v, ok := lookup(env); ok {
			setPath(raw, strings.Split(key, "."), v)
		}
	}

	cfg := Default()
	if err := Decode(raw, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode decodes a loosely typed map onto cfg, converting duration strings
func Decode(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setPath(m map[string]any, path []string, v string) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

// Validate checks the configuration for values the client cannot work with
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL))
	}
	if c.API.Timeout < 0 || c.Auth.RefreshTimeout < 0 || c.Auth.RefreshAhead < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}

	switch c.Store.Kind {
	case StoreMemory, StoreFS, StoreSQLite, StoreSCS:
	case StoreRedis:
		if c.Store.Addr == "" {
			errs = append(errs, errors.New("store.addr is required for the redis store"))
		}
	case StoreDatastore:
		if c.Store.Project == "" {
			errs = append(errs, errors.New("store.project is required for the datastore store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store kind %q", c.Store.Kind))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ParseLevel converts a level name into a slog.Level
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}
