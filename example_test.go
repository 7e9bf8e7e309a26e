package goplan_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/goplan"
	"github.com/aretw0/goplan/internal/testutils"
	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/planner"
)

// ExampleEngine walks a conversation that needs one follow-up question.
func ExampleEngine() {
	extractor := testutils.NewScriptedExtractor(
		testutils.Turn{
			Fields:   map[string]any{"destination": "Paris"},
			Response: "Where are you flying from, and on which dates?",
		},
		testutils.Turn{Fields: testutils.ParisTrip(), Complete: testutils.Bool(true)},
	)

	engine, err := goplan.New(planner.Providers{
		Extractor:   extractor,
		Flights:     &testutils.StubRecommender{Name: "Direct flights"},
		Hotels:      &testutils.StubRecommender{Name: "Boutique hotels"},
		Activities:  &testutils.StubRecommender{Name: "Walking tours"},
		Synthesizer: &testutils.JoinSynthesizer{},
	}, goplan.WithIDGenerator(func() string { return "trip-1" }))
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	out, err := engine.Start(ctx, domain.StartRequest{Input: "I want to see Paris"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(out.State.Status, "-", out.Handle.Payload)

	out, err = engine.Resume(ctx, out.Handle.ConversationID, "From New York, 15 to 22 September")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(out.State.Status)
	fmt.Println(out.State.FinalOutput)

	// Output:
	// awaiting_input - Where are you flying from, and on which dates?
	// completed
	// Plan for Paris:
	// - activity: Walking tours options for Paris
	// - flight: Direct flights options for Paris
	// - hotel: Boutique hotels options for Paris
}
