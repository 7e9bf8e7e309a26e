package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/graph"
)

// stepResult is what one step execution contributes.
// At most one of suspend and fatal is set; update is always safe to apply otherwise.
type stepResult struct {
	update  domain.Update
	suspend *domain.SuspendSignal
	fatal   error
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("step panicked: %v", p.value)
}

// execute runs a step under its timeout, converting failures into a recorded error
// plus the step's degraded update.
func (o *Orchestrator) execute(ctx context.Context, conversationID string, step *graph.Step, snap *domain.ConversationState) stepResult {
	start := o.now()
	o.emit(ctx, o.hooks.OnStepStart, domain.Event{
		Type:           domain.EventStepStart,
		ConversationID: conversationID,
		Step:           step.Name,
	})

	update, err := o.invoke(ctx, step, snap)
	if err == nil {
		o.emit(ctx, o.hooks.OnStepFinish, domain.Event{
			Type:           domain.EventStepFinish,
			ConversationID: conversationID,
			Step:           step.Name,
			Duration:       o.now().Sub(start),
			Degraded:       update.Result != nil && update.Result.Degraded,
		})
		return stepResult{update: update}
	}

	var sig *domain.SuspendSignal
	if errors.As(err, &sig) {
		o.emit(ctx, o.hooks.OnStepFinish, domain.Event{
			Type:           domain.EventStepFinish,
			ConversationID: conversationID,
			Step:           step.Name,
			Duration:       o.now().Sub(start),
		})
		return stepResult{suspend: sig}
	}
	if errors.Is(err, domain.ErrWorkflowLogic) {
		return stepResult{fatal: err}
	}

	perr := asProviderError(step, err)
	o.logger.Warn("step failed, degrading",
		"conversation_id", conversationID,
		"step", step.Name,
		"kind", perr.Kind,
		"err", perr.Err,
	)

	var degraded domain.Update
	if step.Degrade != nil {
		degraded = step.Degrade(snap, perr)
	}
	degraded.Errors = append([]domain.ErrorRecord{{
		Step:     step.Name,
		Provider: perr.Provider,
		Kind:     perr.Kind,
		Message:  perr.Error(),
		Time:     o.now(),
	}}, degraded.Errors...)

	o.emit(ctx, o.hooks.OnStepError, domain.Event{
		Type:           domain.EventStepError,
		ConversationID: conversationID,
		Step:           step.Name,
		Duration:       o.now().Sub(start),
		Error:          perr.Error(),
		Degraded:       true,
	})
	return stepResult{update: degraded}
}

// invoke calls the step function in its own goroutine so a step that ignores its
// context still cannot outlive its timeout.
func (o *Orchestrator) invoke(ctx context.Context, step *graph.Step, snap *domain.ConversationState) (domain.Update, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = o.stepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		update domain.Update
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &panicError{value: r}}
			}
		}()
		u, err := step.Fn(stepCtx, snap)
		done <- outcome{update: u, err: err}
	}()

	select {
	case out := <-done:
		return out.update, out.err
	case <-stepCtx.Done():
		return domain.Update{}, fmt.Errorf("step %s: %w", step.Name, stepCtx.Err())
	}
}

func asProviderError(step *graph.Step, err error) *domain.ProviderError {
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		out := *perr
		if out.Step == "" {
			out.Step = step.Name
		}
		if out.Provider == "" {
			out.Provider = step.Owns
		}
		if out.Kind == "" {
			out.Kind = kindOf(err)
		}
		return &out
	}
	return &domain.ProviderError{
		Step:     step.Name,
		Provider: step.Owns,
		Kind:     kindOf(err),
		Err:      err,
	}
}

func kindOf(err error) string {
	var p *panicError
	switch {
	case errors.As(err, &p):
		return domain.KindPanic
	case errors.Is(err, context.DeadlineExceeded):
		return domain.KindTimeout
	}
	return domain.KindProvider
}

func (o *Orchestrator) emit(ctx context.Context, hook func(context.Context, *domain.Event), e domain.Event) {
	e.Timestamp = time.Now().UTC()
	e = o.stream.Publish(e)
	if hook != nil {
		hook(ctx, &e)
	}
}
