package graph

import (
	"fmt"
	"time"
)

// Builder manages the graph construction.
type Builder struct {
	entry string
	order []string
	steps map[string]*StepBuilder
}

// New creates a new graph builder.
func New() *Builder {
	return &Builder{
		steps: make(map[string]*StepBuilder),
	}
}

// Entry sets the first step. Defaults to the first step added.
func (b *Builder) Entry(name string) *Builder {
	b.entry = name
	return b
}

// Add creates a new step in the graph.
// If the step already exists, it returns the existing builder.
func (b *Builder) Add(name string) *StepBuilder {
	if sb, ok := b.steps[name]; ok {
		return sb
	}
	sb := &StepBuilder{step: Step{Name: name}}
	b.steps[name] = sb
	b.order = append(b.order, name)
	return sb
}

// Build validates the static structure and returns the graph.
func (b *Builder) Build() (*Graph, error) {
	if len(b.steps) == 0 {
		return nil, fmt.Errorf("graph has no steps")
	}

	entry := b.entry
	if entry == "" {
		entry = b.order[0]
	}
	if _, ok := b.steps[entry]; !ok {
		return nil, fmt.Errorf("entry step %q is not defined", entry)
	}

	g := &Graph{entry: entry, steps: make(map[string]*Step, len(b.steps))}
	owners := make(map[string]string)
	terminals := 0

	for _, name := range b.order {
		s := b.steps[name].step
		if s.Fn == nil {
			return nil, fmt.Errorf("step %q has no function", name)
		}

		edges := 0
		if s.Next != "" {
			edges++
			if _, ok := b.steps[s.Next]; !ok {
				return nil, fmt.Errorf("step %q has an edge to undefined step %q", name, s.Next)
			}
		}
		if s.Router != nil {
			edges++
			for _, t := range s.Targets {
				if _, ok := b.steps[t]; !ok {
					return nil, fmt.Errorf("step %q routes to undefined step %q", name, t)
				}
			}
		}
		if s.Terminal {
			edges++
			terminals++
		}
		if edges != 1 {
			return nil, fmt.Errorf("step %q must have exactly one of: static edge, router, terminal", name)
		}

		if s.Owns != "" {
			if prev, dup := owners[s.Owns]; dup {
				return nil, fmt.Errorf("steps %q and %q both own results[%q]", prev, name, s.Owns)
			}
			owners[s.Owns] = name
		}

		step := s
		g.steps[name] = &step
	}

	if terminals == 0 {
		return nil, fmt.Errorf("graph has no terminal step")
	}

	return g, nil
}

// StepBuilder provides a fluent API for configuring a step.
type StepBuilder struct {
	step Step
}

// Do sets the step function.
func (s *StepBuilder) Do(fn StepFunc) *StepBuilder {
	s.step.Fn = fn
	return s
}

// Go adds an unconditional edge to the target step.
func (s *StepBuilder) Go(target string) *StepBuilder {
	s.step.Next = target
	return s
}

// Route marks the step as branching; r picks the next step(s) among targets.
func (s *StepBuilder) Route(r Router, targets ...string) *StepBuilder {
	s.step.Router = r
	s.step.Targets = targets
	return s
}

// Owns declares the results key written by this step.
func (s *StepBuilder) Owns(key string) *StepBuilder {
	s.step.Owns = key
	return s
}

// Timeout bounds each execution of the step.
func (s *StepBuilder) Timeout(d time.Duration) *StepBuilder {
	s.step.Timeout = d
	return s
}

// Degrade sets the placeholder builder used when the step fails.
func (s *StepBuilder) Degrade(fn DegradeFunc) *StepBuilder {
	s.step.Degrade = fn
	return s
}

// Terminal marks the step as the end of the flow.
func (s *StepBuilder) Terminal() *StepBuilder {
	s.step.Terminal = true
	s.step.Next = ""
	return s
}
