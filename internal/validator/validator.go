// Package validator checks a built workflow graph for steps the entry can never reach.
package validator

import (
	"fmt"
	"strings"

	"github.com/aretw0/goplan/pkg/graph"
)

// ValidateGraph crawls the graph from its entry along static edges and declared
// router targets, and reports every step that is never visited.
// Routers without declared targets make reachability undecidable, so they are reported too.
func ValidateGraph(g *graph.Graph) error {
	visited := make(map[string]bool)
	queue := []string{g.Entry()}
	var problems []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		step, ok := g.Step(current)
		if !ok {
			problems = append(problems, fmt.Sprintf("missing step %q", current))
			continue
		}

		switch {
		case step.Next != "":
			queue = append(queue, step.Next)
		case step.Branching():
			if len(step.Targets) == 0 {
				problems = append(problems, fmt.Sprintf("router of step %q declares no targets", current))
			}
			queue = append(queue, step.Targets...)
		}
	}

	for _, name := range g.Steps() {
		if !visited[name] {
			problems = append(problems, fmt.Sprintf("step %q is unreachable from %q", name, g.Entry()))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("found %d errors:\n- %s", len(problems), strings.Join(problems, "\n- "))
	}
	return nil
}
