package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/goplan/internal/logging"
	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/graph"
	"github.com/aretw0/goplan/pkg/ports"
	"github.com/aretw0/goplan/pkg/session"
	"github.com/aretw0/goplan/pkg/stream"
	"github.com/google/uuid"
)

const (
	DefaultStepTimeout = 60 * time.Second
	DefaultCallTimeout = 5 * time.Minute
	DefaultMaxSteps    = 64

	// persistTimeout bounds the final save of a conversation whose call context is already done.
	persistTimeout = 10 * time.Second
)

// Orchestrator drives a workflow graph for many conversations.
type Orchestrator struct {
	graph    *graph.Graph
	sessions *session.Manager
	stream   *stream.Broker
	hooks    domain.LifecycleHooks
	logger   *slog.Logger

	stepTimeout     time.Duration
	callTimeout     time.Duration
	maxSteps        int
	retainCompleted bool
	sessionOpts     []session.Option

	calls *registry
	newID func() string
	now   func() time.Time
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(h domain.LifecycleHooks) Option {
	return func(o *Orchestrator) {
		o.hooks = o.hooks.Merge(h)
	}
}

// WithStream sets the event broker. A private one is created otherwise.
func WithStream(b *stream.Broker) Option {
	return func(o *Orchestrator) {
		o.stream = b
	}
}

// WithStepTimeout sets the default per-step timeout.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stepTimeout = d
		}
	}
}

// WithCallTimeout bounds a whole start/resume call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithMaxSteps bounds the number of steps executed by one call.
func WithMaxSteps(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// WithRetainCompleted keeps completed checkpoints instead of deleting them.
func WithRetainCompleted(retain bool) Option {
	return func(o *Orchestrator) {
		o.retainCompleted = retain
	}
}

// WithSessionOptions configures the checkpoint lock manager (e.g. a distributed locker).
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *Orchestrator) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

// WithIDGenerator overrides conversation ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// New creates an orchestrator for graph g persisting to store.
func New(g *graph.Graph, store ports.CheckpointStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		graph:       g,
		logger:      logging.NewNop(),
		stepTimeout: DefaultStepTimeout,
		callTimeout: DefaultCallTimeout,
		maxSteps:    DefaultMaxSteps,
		calls:       newRegistry(),
		newID:       uuid.NewString,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.stream == nil {
		o.stream = stream.NewBroker(stream.WithLogger(o.logger))
	}
	o.sessions = session.NewManager(store, append([]session.Option{session.WithLogger(o.logger)}, o.sessionOpts...)...)
	return o
}

// Stream exposes the event broker.
func (o *Orchestrator) Stream() *stream.Broker {
	return o.stream
}

// Sessions exposes the checkpoint lock manager.
func (o *Orchestrator) Sessions() *session.Manager {
	return o.sessions
}

// Start creates a conversation and runs it from the entry step until it suspends or terminates.
func (o *Orchestrator) Start(ctx context.Context, req domain.StartRequest) (domain.Outcome, error) {
	id := req.ConversationID
	if id == "" {
		id = o.newID()
	}

	callCtx, c, err := o.begin(ctx, id)
	if err != nil {
		return domain.Outcome{}, err
	}
	defer o.finish(id, c)

	if _, err := o.sessions.Load(callCtx, id); err == nil {
		return domain.Outcome{}, fmt.Errorf("start %s: %w", id, domain.ErrConversationExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Outcome{}, &domain.InfrastructureError{Op: "load checkpoint", Err: err}
	}

	o.stream.Begin(id, 0)

	if req.Preferences.BudgetLevel == "" {
		req.Preferences.BudgetLevel = "medium"
	}
	state := domain.NewConversationState(id, req.Input, req.Preferences)
	state.CreatedAt = o.now()
	state.UpdatedAt = state.CreatedAt
	c.track(state)

	if err := o.checkpoint(callCtx, c, state); err != nil {
		return domain.Outcome{State: state}, err
	}

	o.logger.Info("conversation started", "conversation_id", id)
	return o.run(callCtx, c, state, []string{o.graph.Entry()}, nil)
}

// Resume injects input into a suspended conversation and re-enters the step that suspended.
// Unknown or expired conversations fail with domain.ErrNotFound and nothing is written.
func (o *Orchestrator) Resume(ctx context.Context, conversationID, input string) (domain.Outcome, error) {
	callCtx, c, err := o.begin(ctx, conversationID)
	if err != nil {
		return domain.Outcome{}, err
	}
	defer o.finish(conversationID, c)

	state, err := o.sessions.Load(callCtx, conversationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Outcome{}, fmt.Errorf("resume %s: %w", conversationID, domain.ErrNotFound)
		}
		return domain.Outcome{}, &domain.InfrastructureError{Op: "load checkpoint", Err: err}
	}
	if state.Status != domain.StatusAwaitingInput || state.Suspension == nil {
		return domain.Outcome{State: state}, fmt.Errorf("resume %s (status %s): %w", conversationID, state.Status, domain.ErrNotAwaitingInput)
	}

	o.stream.Begin(conversationID, state.LastSeq)

	reentry := state.Suspension.Step
	if _, ok := o.graph.Step(reentry); !ok {
		return domain.Outcome{State: state}, &domain.WorkflowLogicError{Step: reentry, Reason: "suspended step no longer exists in the graph"}
	}

	state.RawUserInput = input
	state.Status = domain.StatusRunning
	state.Suspension = nil
	state.UpdatedAt = o.now()
	c.track(state)

	o.logger.Info("conversation resumed", "conversation_id", conversationID, "step", reentry)
	return o.run(callCtx, c, state, []string{reentry}, &input)
}

// Subscribe streams lifecycle events of the conversation's current or next call.
// The channel closes when that call returns; cancel detaches early.
func (o *Orchestrator) Subscribe(conversationID string) (<-chan domain.Event, func()) {
	return o.stream.Subscribe(conversationID)
}

// Status reports where a conversation stands.
func (o *Orchestrator) Status(ctx context.Context, conversationID string) (domain.StatusReport, error) {
	state, inFlight := o.calls.snapshot(conversationID)
	if state == nil {
		var err error
		state, err = o.sessions.Load(ctx, conversationID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.StatusReport{}, fmt.Errorf("status %s: %w", conversationID, domain.ErrNotFound)
			}
			return domain.StatusReport{}, &domain.InfrastructureError{Op: "load checkpoint", Err: err}
		}
	}

	report := domain.StatusReport{
		ConversationID: conversationID,
		Status:         state.Status,
		CreatedAt:      state.CreatedAt,
		UpdatedAt:      state.UpdatedAt,
		InFlight:       inFlight,
	}
	if state.Suspension != nil {
		report.PendingStep = state.Suspension.Step
	}
	end := o.now()
	if state.Status == domain.StatusCompleted || state.Status == domain.StatusFailed {
		end = state.UpdatedAt
	}
	report.Elapsed = end.Sub(state.CreatedAt)
	return report, nil
}

// Cancel deletes the conversation's checkpoint and discards the result of any in-flight call.
func (o *Orchestrator) Cancel(ctx context.Context, conversationID string) error {
	if !o.calls.discard(conversationID) {
		if _, err := o.sessions.Load(ctx, conversationID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("cancel %s: %w", conversationID, domain.ErrNotFound)
			}
			return &domain.InfrastructureError{Op: "load checkpoint", Err: err}
		}
	}

	if err := o.sessions.Delete(ctx, conversationID); err != nil {
		return &domain.InfrastructureError{Op: "delete checkpoint", Err: err}
	}
	o.logger.Info("conversation cancelled", "conversation_id", conversationID)
	return nil
}

// List returns the IDs of stored conversations.
func (o *Orchestrator) List(ctx context.Context) ([]string, error) {
	ids, err := o.sessions.List(ctx)
	if err != nil {
		return nil, &domain.InfrastructureError{Op: "list checkpoints", Err: err}
	}
	return ids, nil
}

func (o *Orchestrator) begin(ctx context.Context, id string) (context.Context, *call, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil, fmt.Errorf("conversation id is required")
	}
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	c, err := o.calls.begin(id, cancel)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("conversation %s: %w", id, err)
	}
	return callCtx, c, nil
}

func (o *Orchestrator) finish(id string, c *call) {
	c.cancel()
	o.calls.end(id, c)
	o.stream.End(id)
}
