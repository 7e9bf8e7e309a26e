package graph

import (
	"fmt"
	"strings"

	wf "github.com/aretw0/goplan/pkg/graph"
)

// Overlay contains conversation data to visualize on the graph.
type Overlay struct {
	Trail       []string
	PendingStep string
}

// GenerateMermaid produces a Mermaid flowchart of the workflow.
// It applies semantic styling:
// - Entry: ((Circle))
// - Branching: {Rhombus}
// - Provider (owns a result): [[Subroutine]]
// - Terminal: ([Stadium])
// - Default: [Rectangle]
// Fan-out routes are drawn dotted; an overlay marks visited and pending steps.
func GenerateMermaid(g *wf.Graph, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, name := range g.Steps() {
		step, _ := g.Step(name)
		safeID := sanitizeMermaidID(name)

		opener, closer := "[", "]"
		switch {
		case name == g.Entry():
			opener, closer = "((", "))"
		case step.Branching():
			opener, closer = "{", "}"
		case step.Owns != "":
			opener, closer = "[[", "]]"
		case step.Terminal:
			opener, closer = "([", "])"
		}

		label := name
		if step.Timeout > 0 {
			label = fmt.Sprintf("%s <br/> ⏱️ %s", name, step.Timeout)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, label, closer)

		switch {
		case step.Next != "":
			fmt.Fprintf(&sb, "    %s --> %s\n", safeID, sanitizeMermaidID(step.Next))
		case step.Branching():
			for _, t := range step.Targets {
				target, _ := g.Step(t)
				arrow := "-- route -->"
				if target != nil && target.Owns != "" {
					arrow = "-. fan-out .->"
				}
				fmt.Fprintf(&sb, "    %s %s %s\n", safeID, arrow, sanitizeMermaidID(t))
			}
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, name := range overlay.Trail {
			safeID := sanitizeMermaidID(name)
			if safeID != "" && !seen[safeID] {
				seen[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		if overlay.PendingStep != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.PendingStep))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	return strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_").Replace(id)
}
