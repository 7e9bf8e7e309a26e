package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStepStart  EventType = "step_start"
	EventStepFinish EventType = "step_finish"
	EventStepError  EventType = "step_error"
	EventSuspended  EventType = "suspended"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
)

// Event is a step-lifecycle notification.
type Event struct {
	// Seq increases monotonically per conversation. Assigned by the stream.
	Seq            uint64        `json:"seq"`
	Timestamp      time.Time     `json:"timestamp"`
	Type           EventType     `json:"type"`
	ConversationID string        `json:"conversation_id"`
	Step           string        `json:"step,omitempty"`
	Duration       time.Duration `json:"duration,omitempty"`
	Error          string        `json:"error,omitempty"`
	Degraded       bool          `json:"degraded,omitempty"`
}

// LifecycleHooks defines callbacks for orchestrator observability.
// Hooks run synchronously on the step goroutine and must not block.
type LifecycleHooks struct {
	OnStepStart  func(context.Context, *Event)
	OnStepFinish func(context.Context, *Event)
	OnStepError  func(context.Context, *Event)
	OnCallEnd    func(context.Context, *Event)
}

// Merge combines two hook sets; both are invoked, h first.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnStepStart:  chain(h.OnStepStart, other.OnStepStart),
		OnStepFinish: chain(h.OnStepFinish, other.OnStepFinish),
		OnStepError:  chain(h.OnStepError, other.OnStepError),
		OnCallEnd:    chain(h.OnCallEnd, other.OnCallEnd),
	}
}

func chain(a, b func(context.Context, *Event)) func(context.Context, *Event) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e *Event) {
		a(ctx, e)
		b(ctx, e)
	}
}
