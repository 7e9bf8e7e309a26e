/*
Package planner defines the trip-planning workflow run by the orchestrator.

The extractor collects origin, destination and travel dates, possibly across
several user turns. Once complete, flight, hotel and activity recommendations run
concurrently and a synthesizer merges them into the final markdown plan. A failed
provider is replaced by a placeholder so the plan is still produced.
*/
package planner
