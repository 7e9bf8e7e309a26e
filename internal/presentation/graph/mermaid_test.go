package graph_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/goplan/internal/presentation/graph"
	"github.com/aretw0/goplan/pkg/domain"
	wf "github.com/aretw0/goplan/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *domain.ConversationState) (domain.Update, error) {
	return domain.Update{}, nil
}

func workflow(t *testing.T) *wf.Graph {
	t.Helper()
	b := wf.New()
	b.Add("collect").Do(noop).Route(func(*domain.ConversationState) []string { return nil }, "ask", "fetch-a", "fetch.b")
	b.Add("ask").Do(noop).Go("collect")
	b.Add("fetch-a").Do(noop).Owns("a").Timeout(5 * time.Second).Go("merge")
	b.Add("fetch.b").Do(noop).Owns("b").Go("merge")
	b.Add("merge").Do(noop).Terminal()
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestGenerateMermaid(t *testing.T) {
	out := graph.GenerateMermaid(workflow(t), nil)

	for _, want := range []string{
		"graph TD\n",
		`collect(("collect"))`,
		`ask["ask"]`,
		`fetch_a[["fetch-a <br/> ⏱️ 5s"]]`,
		`fetch_b[["fetch.b"]]`,
		`merge(["merge"])`,
		"collect -- route --> ask",
		"collect -. fan-out .-> fetch_a",
		"ask --> collect",
		"fetch_b --> merge",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "Overlay")
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	out := graph.GenerateMermaid(workflow(t), &graph.Overlay{
		Trail:       []string{"collect", "ask", "collect"},
		PendingStep: "ask",
	})

	assert.Equal(t, 1, strings.Count(out, "class collect visited;"))
	assert.Contains(t, out, "class ask current;")
}
