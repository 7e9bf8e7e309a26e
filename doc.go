/*
Package goplan is a conversational travel-planning workflow engine.

A conversation starts from free text ("New York to Paris, 15 to 22 September"). An
extraction step turns it into structured trip requirements. When something is missing
the workflow suspends with a question. The caller answers through Resume, and the
conversation continues where it stopped. Once the requirements are complete, the flight,
hotel and activity providers run concurrently, and their results are merged into a final
plan.

# Concept

The workflow is a static graph of steps (see pkg/graph). Each step reads a snapshot of
the ConversationState and returns a partial Update. The engine owns everything around
the steps: timeouts, panic isolation, degraded placeholders, checkpointing after every
step, and the lifecycle event stream. A provider that fails never fails the
conversation. It contributes a placeholder and an ErrorRecord instead.

# Usage

	engine, err := goplan.New(planner.Providers{
		Extractor:   extractor,
		Flights:     flights,
		Hotels:      hotels,
		Activities:  activities,
		Synthesizer: synthesizer,
	}, goplan.WithStore(store))
	if err != nil {
		log.Fatal(err)
	}

	out, err := engine.Start(ctx, domain.StartRequest{Input: "Paris next month"})
	for err == nil && out.Handle != nil {
		// Ask the user out.Handle.Payload, then:
		out, err = engine.Resume(ctx, out.Handle.ConversationID, answer)
	}

The cmd/goplan binary wires the same engine to OpenAI-compatible LLM providers, the
configured checkpoint store and an HTTP API with server-sent events.
*/
package goplan
