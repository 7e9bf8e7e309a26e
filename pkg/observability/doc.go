/*
Package observability turns orchestrator lifecycle events into Prometheus metrics and
structured log lines.

Both are exposed as domain.LifecycleHooks and can be combined with Merge:

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	hooks := metrics.Hooks().Merge(observability.LogHooks(logger))
*/
package observability
