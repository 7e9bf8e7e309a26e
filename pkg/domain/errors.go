package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a conversation cannot be found in the store,
// either because it never existed, was cancelled, or its checkpoint expired.
var ErrNotFound = errors.New("conversation not found or expired")

// ErrNotAwaitingInput is returned when Resume targets a conversation that is not suspended.
var ErrNotAwaitingInput = errors.New("conversation is not awaiting input")

// ErrDiscarded is returned by an in-flight call whose conversation was cancelled.
var ErrDiscarded = errors.New("conversation was cancelled; result discarded")

// ErrConversationExists is returned when Start is given an ID that already has a live checkpoint.
var ErrConversationExists = errors.New("conversation already exists")

// ErrConversationBusy is returned when a start/resume call is already running for the conversation.
var ErrConversationBusy = errors.New("conversation already has a call in flight")

// Category sentinels, matched with errors.Is against the typed errors below.
var (
	ErrWorkflowLogic  = errors.New("workflow logic error")
	ErrInfrastructure = errors.New("infrastructure error")
	ErrProvider       = errors.New("provider error")
)

// Error kinds recorded in ErrorRecord.Kind.
const (
	KindProvider = "provider"
	KindTimeout  = "timeout"
	KindPanic    = "panic"
	KindCall     = "call_timeout"
)

// WorkflowLogicError reports a defect in the graph or in a routing decision.
// It aborts the current call without committing any checkpoint.
type WorkflowLogicError struct {
	Step   string
	Reason string
}

func (e *WorkflowLogicError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("workflow logic error: %s", e.Reason)
	}
	return fmt.Sprintf("workflow logic error at step %q: %s", e.Step, e.Reason)
}

func (e *WorkflowLogicError) Is(target error) bool {
	return target == ErrWorkflowLogic
}

// InfrastructureError wraps a checkpoint store failure.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure error during %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

func (e *InfrastructureError) Is(target error) bool {
	return target == ErrInfrastructure
}

// ProviderError reports a failed or timed-out collaborator call inside a step.
// It never escapes the step boundary: the orchestrator records it and degrades.
type ProviderError struct {
	Step     string
	Provider string
	Kind     string
	Err      error
}

func (e *ProviderError) Error() string {
	name := e.Provider
	if name == "" {
		name = e.Step
	}
	return fmt.Sprintf("%s failed (%s): %v", name, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}
