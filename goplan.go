package goplan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/goplan/internal/runtime"
	"github.com/aretw0/goplan/pkg/adapters/memory"
	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/graph"
	"github.com/aretw0/goplan/pkg/planner"
	"github.com/aretw0/goplan/pkg/ports"
	"github.com/aretw0/goplan/pkg/session"
	"github.com/aretw0/goplan/pkg/stream"
)

// Engine is the high-level entry point for the goplan library.
// It wraps the internal orchestrator and provides a simplified API for consumers.
type Engine struct {
	orch  *runtime.Orchestrator
	graph *graph.Graph
	store ports.CheckpointStore
}

type settings struct {
	store       ports.CheckpointStore
	logger      *slog.Logger
	hooks       domain.LifecycleHooks
	broker      *stream.Broker
	plannerOpts []planner.Option
	runtimeOpts []runtime.Option
}

// Option defines a functional option for configuring the Engine.
type Option func(*settings)

// WithStore sets the checkpoint store (default: in-memory, one hour TTL).
func WithStore(s ports.CheckpointStore) Option {
	return func(c *settings) {
		c.store = s
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(c *settings) {
		c.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks. Repeated calls accumulate.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(c *settings) {
		c.hooks = c.hooks.Merge(hooks)
	}
}

// WithStream shares an event broker, e.g. with an HTTP server.
func WithStream(b *stream.Broker) Option {
	return func(c *settings) {
		c.broker = b
	}
}

// WithLocker serializes checkpoint writers across processes.
func WithLocker(l ports.DistributedLocker, ttl time.Duration) Option {
	return func(c *settings) {
		c.runtimeOpts = append(c.runtimeOpts, runtime.WithSessionOptions(session.WithLocker(l), session.WithLockTTL(ttl)))
	}
}

// WithStepTimeout sets the default timeout for steps that do not declare one.
func WithStepTimeout(d time.Duration) Option {
	return func(c *settings) {
		c.runtimeOpts = append(c.runtimeOpts, runtime.WithStepTimeout(d))
	}
}

// WithCallTimeout bounds a whole Start or Resume call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *settings) {
		c.runtimeOpts = append(c.runtimeOpts, runtime.WithCallTimeout(d))
	}
}

// WithMaxSteps bounds the steps one call may execute.
func WithMaxSteps(n int) Option {
	return func(c *settings) {
		c.runtimeOpts = append(c.runtimeOpts, runtime.WithMaxSteps(n))
	}
}

// WithRetainCompleted keeps completed conversations in the store for audit.
func WithRetainCompleted(retain bool) Option {
	return func(c *settings) {
		c.runtimeOpts = append(c.runtimeOpts, runtime.WithRetainCompleted(retain))
	}
}

// WithIDGenerator overrides how conversation IDs are generated.
func WithIDGenerator(fn func() string) Option {
	return func(c *settings) {
		c.runtimeOpts = append(c.runtimeOpts, runtime.WithIDGenerator(fn))
	}
}

// WithPlannerOptions configures the built-in trip workflow (per-step timeouts).
func WithPlannerOptions(opts ...planner.Option) Option {
	return func(c *settings) {
		c.plannerOpts = append(c.plannerOpts, opts...)
	}
}

// New creates an engine running the trip-planning workflow against the given providers.
func New(p planner.Providers, opts ...Option) (*Engine, error) {
	s := collect(opts)
	popts := s.plannerOpts
	if s.logger != nil {
		popts = append([]planner.Option{planner.WithLogger(s.logger)}, popts...)
	}
	g, err := planner.NewGraph(p, popts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow: %w", err)
	}
	return build(g, s), nil
}

// NewWithGraph creates an engine for a custom workflow graph.
func NewWithGraph(g *graph.Graph, opts ...Option) *Engine {
	return build(g, collect(opts))
}

func collect(opts []Option) *settings {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = memory.NewStore(memory.WithTTL(time.Hour))
	}
	return s
}

func build(g *graph.Graph, s *settings) *Engine {
	ropts := []runtime.Option{runtime.WithLifecycleHooks(s.hooks)}
	if s.logger != nil {
		ropts = append(ropts, runtime.WithLogger(s.logger))
	}
	if s.broker != nil {
		ropts = append(ropts, runtime.WithStream(s.broker))
	}
	ropts = append(ropts, s.runtimeOpts...)
	return &Engine{
		orch:  runtime.New(g, s.store, ropts...),
		graph: g,
		store: s.store,
	}
}

// Start creates a conversation and runs it until it suspends for input, completes or fails.
func (e *Engine) Start(ctx context.Context, req domain.StartRequest) (domain.Outcome, error) {
	return e.orch.Start(ctx, req)
}

// Resume continues a suspended conversation with the caller's answer.
func (e *Engine) Resume(ctx context.Context, conversationID, input string) (domain.Outcome, error) {
	return e.orch.Resume(ctx, conversationID, input)
}

// Subscribe streams lifecycle events of the conversation's current or next call.
func (e *Engine) Subscribe(conversationID string) (<-chan domain.Event, func()) {
	return e.orch.Subscribe(conversationID)
}

// Status reports where a conversation stands.
func (e *Engine) Status(ctx context.Context, conversationID string) (domain.StatusReport, error) {
	return e.orch.Status(ctx, conversationID)
}

// Cancel discards a conversation and any call running for it.
func (e *Engine) Cancel(ctx context.Context, conversationID string) error {
	return e.orch.Cancel(ctx, conversationID)
}

// List returns the IDs of stored conversations.
func (e *Engine) List(ctx context.Context) ([]string, error) {
	return e.orch.List(ctx)
}

// Inspect returns the stored checkpoint of a conversation.
func (e *Engine) Inspect(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	return e.orch.Sessions().Load(ctx, conversationID)
}

// Graph returns the workflow the engine runs.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Store returns the checkpoint store.
func (e *Engine) Store() ports.CheckpointStore {
	return e.store
}
