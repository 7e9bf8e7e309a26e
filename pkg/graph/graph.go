package graph

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/aretw0/goplan/pkg/domain"
)

// StepFunc is the unit of work: it reads the state and returns a partial update.
// Returning a *domain.SuspendSignal halts the workflow until the conversation is resumed.
//
// The state handed to a StepFunc is a snapshot; mutating it has no effect.
type StepFunc func(ctx context.Context, state *domain.ConversationState) (domain.Update, error)

// DegradeFunc builds the placeholder update used when a step fails or times out.
type DegradeFunc func(state *domain.ConversationState, err error) domain.Update

// Router decides which step(s) run next after a branching step.
// Returning more than one name designates a fan-out set.
type Router func(state *domain.ConversationState) []string

// Step is a node of the static workflow graph.
type Step struct {
	Name string
	Fn   StepFunc

	// Next is the static edge followed when the step has no Router.
	Next string

	// Router marks the step as branching.
	Router Router

	// Targets optionally lists every step Router may choose.
	// When set, decisions naming other steps are rejected.
	Targets []string

	// Owns is the results key this step is allowed to write.
	Owns string

	// Terminal marks the step that sets the final output and ends the workflow.
	Terminal bool

	// Timeout bounds a single execution. Zero means the orchestrator default.
	Timeout time.Duration

	// Degrade builds the fallback update on failure.
	// Steps without one record the error and contribute nothing else.
	Degrade DegradeFunc
}

// Branching reports whether the step has a conditional edge.
func (s *Step) Branching() bool {
	return s.Router != nil
}

// Graph is an immutable, validated workflow definition.
type Graph struct {
	entry string
	steps map[string]*Step
}

// Entry returns the name of the first step.
func (g *Graph) Entry() string {
	return g.entry
}

// Step returns the step registered under name.
func (g *Graph) Step(name string) (*Step, bool) {
	s, ok := g.steps[name]
	return s, ok
}

// Steps returns the step names in lexical order.
func (g *Graph) Steps() []string {
	names := make([]string, 0, len(g.steps))
	for name := range g.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve validates a routing decision taken after step from.
// A single name is a plain transition. Several names form a fan-out set whose
// members must be distinct, non-branching, non-terminal, and share the same join step.
// The returned names are sorted; join is empty for a single-step decision.
func (g *Graph) Resolve(from string, decision []string) (members []string, join string, err error) {
	if len(decision) == 0 {
		return nil, "", &domain.WorkflowLogicError{Step: from, Reason: "router returned no next step"}
	}

	for _, name := range decision {
		if _, ok := g.steps[name]; !ok {
			return nil, "", &domain.WorkflowLogicError{Step: from, Reason: fmt.Sprintf("router chose unknown step %q", name)}
		}
	}

	if src, ok := g.steps[from]; ok && len(src.Targets) > 0 {
		for _, name := range decision {
			if !slices.Contains(src.Targets, name) {
				return nil, "", &domain.WorkflowLogicError{Step: from, Reason: fmt.Sprintf("router chose undeclared step %q", name)}
			}
		}
	}

	if len(decision) == 1 {
		return slices.Clone(decision), "", nil
	}

	members = slices.Clone(decision)
	sort.Strings(members)
	if len(slices.Compact(slices.Clone(members))) != len(members) {
		return nil, "", &domain.WorkflowLogicError{Step: from, Reason: fmt.Sprintf("fan-out set %v repeats a step", decision)}
	}

	owners := make(map[string]string, len(members))
	for _, name := range members {
		s := g.steps[name]
		if s.Branching() || s.Terminal {
			return nil, "", &domain.WorkflowLogicError{Step: from, Reason: fmt.Sprintf("step %q cannot be part of a fan-out set", name)}
		}
		if s.Next == "" {
			return nil, "", &domain.WorkflowLogicError{Step: name, Reason: "fan-out member has no static edge to a join step"}
		}
		if join == "" {
			join = s.Next
		} else if s.Next != join {
			return nil, "", &domain.WorkflowLogicError{Step: from, Reason: fmt.Sprintf("fan-out members join at different steps (%q, %q)", join, s.Next)}
		}
		if s.Owns != "" {
			if prev, dup := owners[s.Owns]; dup {
				return nil, "", &domain.WorkflowLogicError{Step: from, Reason: fmt.Sprintf("steps %q and %q both write results[%q]", prev, name, s.Owns)}
			}
			owners[s.Owns] = name
		}
	}

	return members, join, nil
}
