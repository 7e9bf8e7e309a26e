package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/graph"
	"golang.org/x/sync/errgroup"
)

// run executes steps starting at next until the conversation suspends, terminates, or fails.
// resume, when non-nil, is handed to the first executed step only.
func (o *Orchestrator) run(ctx context.Context, c *call, state *domain.ConversationState, next []string, resume *string) (domain.Outcome, error) {
	for executed := 0; ; executed++ {
		if err := c.guard(); err != nil {
			return o.discarded(ctx, state)
		}
		if ctx.Err() != nil {
			return o.abort(ctx, c, state, "", ctx.Err())
		}
		if executed >= o.maxSteps {
			return o.logicFailure(ctx, state, &domain.WorkflowLogicError{
				Reason: fmt.Sprintf("call exceeded %d steps without suspending or terminating", o.maxSteps),
			})
		}

		stepCtx := ctx
		if resume != nil {
			stepCtx = graph.WithResumeInput(ctx, *resume)
			resume = nil
		}

		if len(next) > 1 {
			join, err := o.fanOut(stepCtx, c, state, next)
			if err != nil {
				return o.fail(ctx, c, state, err)
			}
			next = []string{join}
			continue
		}

		step, ok := o.graph.Step(next[0])
		if !ok {
			return o.logicFailure(ctx, state, &domain.WorkflowLogicError{Step: next[0], Reason: "step is not defined"})
		}

		res := o.execute(stepCtx, state.ConversationID, step, state.Snapshot())
		if ctx.Err() != nil {
			// The call deadline, not the step, ended this execution.
			return o.abort(ctx, c, state, step.Name, ctx.Err())
		}

		if res.suspend != nil {
			return o.suspend(ctx, c, state, step, res.suspend)
		}
		if res.fatal != nil {
			return o.logicFailure(ctx, state, res.fatal)
		}
		if err := apply(state, step, res.update, o.now()); err != nil {
			return o.logicFailure(ctx, state, err)
		}
		state.Trail = append(state.Trail, step.Name)
		c.track(state)

		if step.Terminal {
			return o.complete(ctx, c, state, step)
		}
		if err := o.checkpoint(ctx, c, state); err != nil {
			return o.fail(ctx, c, state, err)
		}

		if !step.Branching() {
			next = []string{step.Next}
			continue
		}

		members, _, err := o.graph.Resolve(step.Name, step.Router(state.Snapshot()))
		if err != nil {
			return o.logicFailure(ctx, state, err)
		}
		o.logger.Debug("routed", "conversation_id", state.ConversationID, "step", step.Name, "next", members)
		next = members
	}
}

// fanOut runs every member concurrently against the same pre-barrier state,
// then merges their updates in member name order and checkpoints once.
func (o *Orchestrator) fanOut(ctx context.Context, c *call, state *domain.ConversationState, names []string) (string, error) {
	members, join, err := o.graph.Resolve(lastStep(state), names)
	if err != nil {
		return "", err
	}

	steps := make([]*graph.Step, len(members))
	for i, name := range members {
		steps[i], _ = o.graph.Step(name)
	}

	results := make([]stepResult, len(steps))
	var g errgroup.Group
	for i, step := range steps {
		snap := state.Snapshot()
		g.Go(func() error {
			// Members never fail the group: a failure degrades that member only.
			results[i] = o.execute(ctx, state.ConversationID, step, snap)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	for i, step := range steps {
		res := results[i]
		if res.suspend != nil {
			return "", &domain.WorkflowLogicError{Step: step.Name, Reason: "a fan-out member cannot suspend"}
		}
		if res.fatal != nil {
			return "", res.fatal
		}
		if err := apply(state, step, res.update, o.now()); err != nil {
			return "", err
		}
		state.Trail = append(state.Trail, step.Name)
	}
	c.track(state)

	if err := o.checkpoint(ctx, c, state); err != nil {
		return "", err
	}
	return join, nil
}

// apply merges a partial update into state, enforcing field ownership.
func apply(state *domain.ConversationState, step *graph.Step, u domain.Update, now time.Time) error {
	if u.Result != nil {
		if step.Owns == "" || u.Result.Provider != step.Owns {
			return &domain.WorkflowLogicError{Step: step.Name, Reason: fmt.Sprintf("step may not write results[%q]", u.Result.Provider)}
		}
	}
	if u.FinalOutput != "" {
		if !step.Terminal {
			return &domain.WorkflowLogicError{Step: step.Name, Reason: "only the terminal step may set the final output"}
		}
		if state.FinalOutput != "" {
			return &domain.WorkflowLogicError{Step: step.Name, Reason: "final output is already set"}
		}
	}

	state.History = append(state.History, u.History...)
	if u.Extracted != nil {
		state.Extracted = *u.Extracted
	}
	if u.Result != nil {
		if state.Results == nil {
			state.Results = make(map[string]domain.Result)
		}
		state.Results[u.Result.Provider] = *u.Result
	}
	if u.FinalOutput != "" {
		state.FinalOutput = u.FinalOutput
	}
	state.Errors = append(state.Errors, u.Errors...)
	state.UpdatedAt = now
	return nil
}

func (o *Orchestrator) suspend(ctx context.Context, c *call, state *domain.ConversationState, step *graph.Step, sig *domain.SuspendSignal) (domain.Outcome, error) {
	now := o.now()
	state.Status = domain.StatusAwaitingInput
	state.Suspension = &domain.Suspension{Step: step.Name, Payload: sig.Payload, Since: now}
	state.Trail = append(state.Trail, step.Name)
	state.UpdatedAt = now
	c.track(state)

	if err := o.checkpoint(ctx, c, state); err != nil {
		return o.fail(ctx, c, state, err)
	}

	o.endCall(ctx, state, domain.EventSuspended, step.Name, "")
	o.logger.Info("conversation suspended", "conversation_id", state.ConversationID, "step", step.Name)
	return domain.Outcome{
		State: state,
		Handle: &domain.ResumeHandle{
			ConversationID: state.ConversationID,
			Step:           step.Name,
			Payload:        sig.Payload,
		},
	}, nil
}

func (o *Orchestrator) complete(ctx context.Context, c *call, state *domain.ConversationState, step *graph.Step) (domain.Outcome, error) {
	if state.FinalOutput == "" {
		state.Errors = append(state.Errors, domain.ErrorRecord{
			Step:    step.Name,
			Kind:    domain.KindProvider,
			Message: "terminal step produced no output",
			Time:    o.now(),
		})
		return o.abort(ctx, c, state, step.Name, errors.New("terminal step produced no output"))
	}

	state.Status = domain.StatusCompleted
	state.UpdatedAt = o.now()
	c.track(state)

	var err error
	if o.retainCompleted {
		err = o.checkpoint(ctx, c, state)
	} else if err = c.guard(); err == nil {
		if derr := o.sessions.Delete(ctx, state.ConversationID); derr != nil {
			err = &domain.InfrastructureError{Op: "retire checkpoint", Err: derr}
		}
	}
	if err != nil {
		return o.fail(ctx, c, state, err)
	}

	o.endCall(ctx, state, domain.EventCompleted, step.Name, "")
	o.logger.Info("conversation completed", "conversation_id", state.ConversationID, "errors", len(state.Errors))
	return domain.Outcome{State: state}, nil
}

// abort marks the conversation Failed and persists the partial state for diagnosis.
func (o *Orchestrator) abort(ctx context.Context, c *call, state *domain.ConversationState, step string, cause error) (domain.Outcome, error) {
	if c.guard() != nil {
		return o.discarded(ctx, state)
	}

	state.Status = domain.StatusFailed
	state.Suspension = nil
	state.UpdatedAt = o.now()
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, context.Canceled) {
		state.Errors = append(state.Errors, domain.ErrorRecord{
			Step:    step,
			Kind:    domain.KindCall,
			Message: fmt.Sprintf("call aborted: %v", cause),
			Time:    state.UpdatedAt,
		})
	}
	c.track(state)

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := o.checkpoint(saveCtx, c, state); err != nil {
		o.endCall(ctx, state, domain.EventFailed, step, err.Error())
		return domain.Outcome{State: state}, err
	}

	o.endCall(ctx, state, domain.EventFailed, step, cause.Error())
	o.logger.Warn("conversation failed", "conversation_id", state.ConversationID, "step", step, "err", cause)

	if errors.Is(cause, context.Canceled) {
		return domain.Outcome{State: state}, cause
	}
	return domain.Outcome{State: state}, nil
}

// fail routes an error raised outside a single step to the right failure path.
func (o *Orchestrator) fail(ctx context.Context, c *call, state *domain.ConversationState, err error) (domain.Outcome, error) {
	switch {
	case errors.Is(err, domain.ErrDiscarded):
		return o.discarded(ctx, state)
	case errors.Is(err, domain.ErrWorkflowLogic):
		return o.logicFailure(ctx, state, err)
	case errors.Is(err, domain.ErrInfrastructure):
		state.Status = domain.StatusFailed
		o.endCall(ctx, state, domain.EventFailed, lastStep(state), err.Error())
		o.logger.Error("checkpoint failure", "conversation_id", state.ConversationID, "err", err)
		return domain.Outcome{State: state}, err
	case ctx.Err() != nil:
		return o.abort(ctx, c, state, lastStep(state), ctx.Err())
	}
	return o.logicFailure(ctx, state, err)
}

// logicFailure aborts the call without touching the last committed checkpoint.
func (o *Orchestrator) logicFailure(ctx context.Context, state *domain.ConversationState, err error) (domain.Outcome, error) {
	state.Status = domain.StatusFailed
	state.Suspension = nil
	o.endCall(ctx, state, domain.EventFailed, lastStep(state), err.Error())
	o.logger.Error("workflow logic error", "conversation_id", state.ConversationID, "err", err)
	return domain.Outcome{State: state}, err
}

func (o *Orchestrator) discarded(ctx context.Context, state *domain.ConversationState) (domain.Outcome, error) {
	o.logger.Info("discarding result of cancelled call", "conversation_id", state.ConversationID)
	return domain.Outcome{}, fmt.Errorf("conversation %s: %w", state.ConversationID, domain.ErrDiscarded)
}

// checkpoint persists a snapshot unless the call was discarded.
// The stored LastSeq counts the event that follows the write.
func (o *Orchestrator) checkpoint(ctx context.Context, c *call, state *domain.ConversationState) error {
	state.LastSeq = o.stream.Seq(state.ConversationID) + 1
	err := o.sessions.SaveIf(ctx, state.ConversationID, state.Snapshot(), c.guard)
	if err == nil || errors.Is(err, domain.ErrDiscarded) {
		return err
	}
	return &domain.InfrastructureError{Op: "save checkpoint", Err: err}
}

func (o *Orchestrator) endCall(ctx context.Context, state *domain.ConversationState, kind domain.EventType, step, msg string) {
	e := o.stream.Publish(domain.Event{
		Type:           kind,
		ConversationID: state.ConversationID,
		Step:           step,
		Error:          msg,
		Duration:       o.now().Sub(state.CreatedAt),
	})
	if o.hooks.OnCallEnd != nil {
		o.hooks.OnCallEnd(ctx, &e)
	}
}

func lastStep(state *domain.ConversationState) string {
	if len(state.Trail) == 0 {
		return ""
	}
	return state.Trail[len(state.Trail)-1]
}
