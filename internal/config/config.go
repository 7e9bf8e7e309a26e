// Package config loads goplan.yaml, applies GOPLAN_* overrides and opens the configured adapters.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backends accepted by store.backend.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Config is the goplan configuration file (goplan.yaml).
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Workflow WorkflowConfig `yaml:"workflow"`
	LLM      LLMConfig      `yaml:"llm"`
	Weather  WeatherConfig  `yaml:"weather"`
	Flights  FlightsConfig  `yaml:"flights"`
	Hotels   HotelsConfig   `yaml:"hotels"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	MaxInputSize int    `yaml:"max_input_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	// Path is the directory of the file backend or the database file of the sqlite backend.
	Path     string         `yaml:"path"`
	Redis    RedisConfig    `yaml:"redis"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`

	// EncryptionKey is a base64 AES-256 key; when set checkpoints are sealed at rest.
	EncryptionKey string   `yaml:"encryption_key"`
	FallbackKeys  []string `yaml:"fallback_keys"`
	// MaskFields are regular expressions naming extracted fields redacted before storage.
	MaskFields []string `yaml:"mask_fields"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	// Lock enables the Redis distributed locker for multi-instance deployments.
	Lock    bool          `yaml:"lock"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type WorkflowConfig struct {
	StepTimeout     time.Duration `yaml:"step_timeout"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	ExtractTimeout  time.Duration `yaml:"extract_timeout"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	PlanTimeout     time.Duration `yaml:"plan_timeout"`
	MaxSteps        int           `yaml:"max_steps"`
	RetainCompleted bool          `yaml:"retain_completed"`
}

type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	RateLimit   float64 `yaml:"rate_limit"`
	Burst       int     `yaml:"burst"`
}

type WeatherConfig struct {
	BaseURL   string  `yaml:"base_url"`
	APIKey    string  `yaml:"api_key"`
	RateLimit float64 `yaml:"rate_limit"`
}

// FlightsConfig enables the Aviationstack flight search when APIKey is set.
type FlightsConfig struct {
	BaseURL   string  `yaml:"base_url"`
	APIKey    string  `yaml:"api_key"`
	RateLimit float64 `yaml:"rate_limit"`
	Limit     int     `yaml:"limit"`
}

// HotelsConfig enables the HotelLook lookup; it needs no key.
type HotelsConfig struct {
	Enabled   bool    `yaml:"enabled"`
	BaseURL   string  `yaml:"base_url"`
	RateLimit float64 `yaml:"rate_limit"`
	Limit     int     `yaml:"limit"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", MaxInputSize: 4096},
		Log:    LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Backend: BackendMemory,
			TTL:     24 * time.Hour,
			Redis:   RedisConfig{Addr: "localhost:6379", LockTTL: 30 * time.Second},
		},
		Workflow: WorkflowConfig{
			StepTimeout:     60 * time.Second,
			CallTimeout:     5 * time.Minute,
			ExtractTimeout:  30 * time.Second,
			ProviderTimeout: 45 * time.Second,
			PlanTimeout:     60 * time.Second,
			MaxSteps:        64,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			RateLimit:   5,
			Burst:       10,
		},
		Weather: WeatherConfig{RateLimit: 1},
		Flights: FlightsConfig{RateLimit: 1, Limit: 6},
		Hotels:  HotelsConfig{RateLimit: 1, Limit: 10},
	}
}

// Load reads path over the defaults, then applies GOPLAN_* environment overrides.
// A missing file is not an error unless the path was given explicitly.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	str(&c.Server.Addr, "GOPLAN_ADDR")
	str(&c.Log.Level, "GOPLAN_LOG_LEVEL")
	str(&c.Log.Format, "GOPLAN_LOG_FORMAT")
	str(&c.Store.Backend, "GOPLAN_STORE")
	str(&c.Store.Path, "GOPLAN_STORE_PATH")
	str(&c.Store.Redis.Addr, "GOPLAN_REDIS_ADDR")
	str(&c.Store.Redis.Password, "GOPLAN_REDIS_PASSWORD")
	str(&c.Store.DynamoDB.Table, "GOPLAN_DYNAMODB_TABLE")
	str(&c.Store.DynamoDB.Region, "GOPLAN_DYNAMODB_REGION", "AWS_REGION")
	str(&c.Store.DynamoDB.Endpoint, "GOPLAN_DYNAMODB_ENDPOINT")
	str(&c.Store.EncryptionKey, "GOPLAN_ENCRYPTION_KEY")
	str(&c.LLM.BaseURL, "GOPLAN_LLM_BASE_URL")
	str(&c.LLM.Model, "GOPLAN_LLM_MODEL")
	str(&c.LLM.APIKey, "GOPLAN_LLM_API_KEY", "OPENAI_API_KEY")
	str(&c.Weather.APIKey, "GOPLAN_WEATHER_API_KEY", "OPENWEATHER_API_KEY")
	str(&c.Flights.APIKey, "GOPLAN_FLIGHTS_API_KEY", "AVIATIONSTACK_API_KEY")

	if v, ok := lookup("GOPLAN_STORE_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GOPLAN_STORE_TTL: %w", err)
		}
		c.Store.TTL = d
	}
	if v, ok := lookup("GOPLAN_RETAIN_COMPLETED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GOPLAN_RETAIN_COMPLETED: %w", err)
		}
		c.Workflow.RetainCompleted = b
	}
	if v, ok := lookup("GOPLAN_HOTEL_SEARCH"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GOPLAN_HOTEL_SEARCH: %w", err)
		}
		c.Hotels.Enabled = b
	}
	return nil
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Store.Backend) {
	case BackendMemory, BackendFile, BackendSQLite:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis backend"))
		}
	case BackendDynamoDB:
		if c.Store.DynamoDB.Table == "" {
			errs = append(errs, errors.New("store.dynamodb.table is required for the dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Store.EncryptionKey != "" {
		if _, err := decodeKey(c.Store.EncryptionKey); err != nil {
			errs = append(errs, fmt.Errorf("store.encryption_key: %w", err))
		}
	}
	for i, k := range c.Store.FallbackKeys {
		if _, err := decodeKey(k); err != nil {
			errs = append(errs, fmt.Errorf("store.fallback_keys[%d]: %w", i, err))
		}
	}
	if c.Store.TTL < 0 {
		errs = append(errs, errors.New("store.ttl must not be negative"))
	}
	if c.Workflow.CallTimeout > 0 && c.Workflow.StepTimeout > c.Workflow.CallTimeout {
		errs = append(errs, errors.New("workflow.step_timeout must not exceed workflow.call_timeout"))
	}
	return errors.Join(errs...)
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
