package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/goplan"
	"github.com/aretw0/goplan/pkg/adapters/dynamodb"
	"github.com/aretw0/goplan/pkg/adapters/file"
	"github.com/aretw0/goplan/pkg/adapters/flights"
	"github.com/aretw0/goplan/pkg/adapters/hotels"
	"github.com/aretw0/goplan/pkg/adapters/llm"
	"github.com/aretw0/goplan/pkg/adapters/memory"
	"github.com/aretw0/goplan/pkg/adapters/redis"
	"github.com/aretw0/goplan/pkg/adapters/sqlite"
	"github.com/aretw0/goplan/pkg/adapters/weather"
	"github.com/aretw0/goplan/pkg/persistence/middleware"
	"github.com/aretw0/goplan/pkg/planner"
	"github.com/aretw0/goplan/pkg/ports"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

const defaultSQLitePath = ".goplan/goplan.db"

// ErrMissingAPIKey is returned when providers are requested without an LLM key.
var ErrMissingAPIKey = errors.New("llm api key is not configured (set llm.api_key or GOPLAN_LLM_API_KEY)")

// Backend is an opened checkpoint store plus its optional distributed locker.
type Backend struct {
	Store  ports.CheckpointStore
	Locker ports.DistributedLocker
	close  []func() error
}

// Close releases connections held by the backend.
func (b *Backend) Close() error {
	var errs []error
	for _, fn := range b.close {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

// OpenStore connects the configured backend, wrapped with masking and encryption when
// configured. Background work (the memory janitor) stops when ctx is done.
func OpenStore(ctx context.Context, cfg StoreConfig) (*Backend, error) {
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var mws []middleware.Middleware
	if len(cfg.MaskFields) > 0 {
		mw, err := middleware.NewPIIMiddleware(cfg.MaskFields)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		mws = append(mws, mw)
	}
	if cfg.EncryptionKey != "" {
		enc := middleware.EncryptionConfig{}
		if enc.ActiveKey, err = decodeKey(cfg.EncryptionKey); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("store.encryption_key: %w", err)
		}
		for i, k := range cfg.FallbackKeys {
			key, err := decodeKey(k)
			if err != nil {
				_ = b.Close()
				return nil, fmt.Errorf("store.fallback_keys[%d]: %w", i, err)
			}
			enc.FallbackKeys = append(enc.FallbackKeys, key)
		}
		mw, err := middleware.NewEncryptionMiddleware(enc)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		mws = append(mws, mw)
	}
	b.Store = middleware.Chain(b.Store, mws...)
	return b, nil
}

func openBackend(ctx context.Context, cfg StoreConfig) (*Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendMemory, "":
		s := memory.NewStore(memory.WithTTL(cfg.TTL))
		if cfg.TTL > 0 {
			go s.RunJanitor(ctx, min(cfg.TTL, time.Minute))
		}
		return &Backend{Store: s}, nil

	case BackendFile:
		return &Backend{Store: file.New(cfg.Path, file.WithTTL(cfg.TTL))}, nil

	case BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = defaultSQLitePath
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		s, err := sqlite.Open(path, sqlite.WithTTL(cfg.TTL))
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, close: []func() error{s.Close}}, nil

	case BackendRedis:
		opts := []redis.Option{redis.WithTTL(cfg.TTL)}
		if cfg.Redis.Prefix != "" {
			opts = append(opts, redis.WithPrefix(cfg.Redis.Prefix))
		}
		s := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		b := &Backend{Store: s, close: []func() error{s.Close}}
		if cfg.Redis.Lock {
			b.Locker = redis.NewLocker(s.Client(), "goplan:")
		}
		return b, nil

	case BackendDynamoDB:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.DynamoDB.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.DynamoDB.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		client := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
			if cfg.DynamoDB.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
			}
		})
		s, err := dynamodb.New(client, cfg.DynamoDB.Table, dynamodb.WithTTL(cfg.TTL))
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// Providers builds the LLM-backed collaborators of the trip workflow.
// The weather forecaster and flight search are only wired when their keys are
// configured; the hotel lookup when enabled.
func (c Config) Providers(now func() time.Time) (planner.Providers, error) {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return planner.Providers{}, ErrMissingAPIKey
	}
	client, err := llm.NewClient(c.LLM.APIKey,
		llm.WithBaseURL(c.LLM.BaseURL),
		llm.WithModel(c.LLM.Model),
		llm.WithTemperature(c.LLM.Temperature),
		llm.WithRateLimit(c.LLM.RateLimit, c.LLM.Burst),
	)
	if err != nil {
		return planner.Providers{}, err
	}

	p := planner.Providers{
		Extractor:   llm.NewExtractor(client, func() string { return now().Format(time.DateOnly) }),
		Flights:     llm.NewFlightRecommender(client),
		Hotels:      llm.NewHotelRecommender(client),
		Activities:  llm.NewActivityRecommender(client),
		Synthesizer: llm.NewSynthesizer(client),
	}
	if c.Weather.APIKey != "" {
		opts := []weather.Option{weather.WithRateLimit(c.Weather.RateLimit, 5)}
		if c.Weather.BaseURL != "" {
			opts = append(opts, weather.WithBaseURL(c.Weather.BaseURL))
		}
		fc, err := weather.New(c.Weather.APIKey, opts...)
		if err != nil {
			return planner.Providers{}, err
		}
		p.Forecaster = fc
	}
	if c.Flights.APIKey != "" {
		opts := []flights.Option{
			flights.WithRateLimit(c.Flights.RateLimit, 5),
			flights.WithLimit(c.Flights.Limit),
			flights.WithClock(now),
		}
		if c.Flights.BaseURL != "" {
			opts = append(opts, flights.WithBaseURL(c.Flights.BaseURL))
		}
		fs, err := flights.New(c.Flights.APIKey, opts...)
		if err != nil {
			return planner.Providers{}, err
		}
		p.FlightSearch = fs
	}
	if c.Hotels.Enabled {
		opts := []hotels.Option{
			hotels.WithRateLimit(c.Hotels.RateLimit, 5),
			hotels.WithLimit(c.Hotels.Limit),
		}
		if c.Hotels.BaseURL != "" {
			opts = append(opts, hotels.WithBaseURL(c.Hotels.BaseURL))
		}
		p.HotelSearch = hotels.New(opts...)
	}
	return p, nil
}

// EngineOptions translates the workflow section (and the backend's store and locker)
// into engine options.
func (c Config) EngineOptions(b *Backend) []goplan.Option {
	w := c.Workflow
	opts := []goplan.Option{
		goplan.WithStepTimeout(w.StepTimeout),
		goplan.WithCallTimeout(w.CallTimeout),
		goplan.WithMaxSteps(w.MaxSteps),
		goplan.WithRetainCompleted(w.RetainCompleted),
		goplan.WithPlannerOptions(
			planner.WithExtractTimeout(w.ExtractTimeout),
			planner.WithProviderTimeout(w.ProviderTimeout),
			planner.WithPlanTimeout(w.PlanTimeout),
		),
	}
	if b != nil {
		opts = append(opts, goplan.WithStore(b.Store))
		if b.Locker != nil {
			opts = append(opts, goplan.WithLocker(b.Locker, c.Store.Redis.LockTTL))
		}
	}
	return opts
}
