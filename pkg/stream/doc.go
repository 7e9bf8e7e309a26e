// Package stream implements the EventStream: an ordered, best-effort channel of
// step-lifecycle events per conversation. Slow subscribers lose events instead of
// slowing the workflow down.
package stream
