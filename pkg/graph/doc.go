/*
Package graph defines the static workflow graph driven by the orchestrator.

A graph is a set of named steps connected by static edges or by a Router.
Routers are pure: given the same state they return the same decision. A decision
naming several steps is a fan-out set; its members run concurrently and join at
their common static successor.

Example:

	b := graph.New()
	b.Add("collect").Do(collect).Route(graph.CompletenessRouter([]string{"city"}, "ask", "a", "b"))
	b.Add("ask").Do(ask).Go("collect")
	b.Add("a").Do(fetchA).Owns("a").Go("merge")
	b.Add("b").Do(fetchB).Owns("b").Go("merge")
	b.Add("merge").Do(merge).Terminal()
	g, err := b.Build()
*/
package graph
