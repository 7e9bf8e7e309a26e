package planner_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/goplan/internal/testutils"
	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/graph"
	"github.com/aretw0/goplan/pkg/planner"
	"github.com/aretw0/goplan/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providers(ex *testutils.ScriptedExtractor) planner.Providers {
	return planner.Providers{
		Extractor:   ex,
		Flights:     &testutils.StubRecommender{Name: "flights"},
		Hotels:      &testutils.StubRecommender{Name: "hotels"},
		Activities:  &testutils.StubRecommender{Name: "activities"},
		Synthesizer: &testutils.JoinSynthesizer{},
	}
}

func step(t *testing.T, g *graph.Graph, name string) *graph.Step {
	t.Helper()
	s, ok := g.Step(name)
	require.True(t, ok, "step %s", name)
	return s
}

func parisState() *domain.ConversationState {
	state := domain.NewConversationState("c1", "Paris please", domain.Preferences{})
	state.Extracted = domain.Extraction{Fields: testutils.ParisTrip(), Complete: testutils.Bool(true)}
	return state
}

func TestDecodeTrip_WeakTyping(t *testing.T) {
	trip, err := planner.DecodeTrip(map[string]any{
		"origin":          "Lisbon",
		"destination":     "Rome",
		"date_leaving":    "2026-05-01",
		"date_returning":  "2026-05-08",
		"max_hotel_price": "150",
	})
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", trip.Origin)
	assert.Equal(t, 150, trip.MaxHotelPrice)

	trip, err = planner.DecodeTrip(map[string]any{"max_hotel_price": float64(320)})
	require.NoError(t, err)
	assert.Equal(t, 320, trip.MaxHotelPrice)

	_, err = planner.DecodeTrip(map[string]any{"max_hotel_price": "cheap"})
	assert.Error(t, err)
}

func TestCriteriaFor_Defaults(t *testing.T) {
	c, err := planner.CriteriaFor(parisState())
	require.NoError(t, err)
	assert.Equal(t, "Paris", c.Destination)
	assert.Equal(t, planner.DefaultMaxHotelPrice, c.MaxHotelPrice)
	assert.Equal(t, "medium", c.Preferences.BudgetLevel)

	state := parisState()
	state.Extracted.Fields["max_hotel_price"] = 90
	state.Preferences = domain.Preferences{BudgetLevel: "low", PreferredAirlines: []string{"TAP"}}
	c, err = planner.CriteriaFor(state)
	require.NoError(t, err)
	assert.Equal(t, 90, c.MaxHotelPrice)
	assert.Equal(t, "low", c.Preferences.BudgetLevel)
	assert.Equal(t, []string{"TAP"}, c.Preferences.PreferredAirlines)
}

func TestPlaceholder(t *testing.T) {
	r := planner.Placeholder(planner.ProviderFlight, &domain.ProviderError{Provider: "flight", Err: errors.New("503 from upstream")})
	assert.True(t, r.Degraded)
	assert.Equal(t, planner.ProviderFlight, r.Provider)
	assert.Equal(t, "Flight search temporarily unavailable: 503 from upstream", r.Content)

	r = planner.Placeholder(planner.ProviderHotel, nil)
	assert.Contains(t, r.Content, "unknown error")
}

func TestComposePlan(t *testing.T) {
	state := parisState()
	state.Results[planner.ProviderHotel] = domain.Result{Provider: "hotel", Content: "Hotel Lutetia  "}
	state.Results[planner.ProviderActivity] = domain.Result{Provider: "activity", Content: "Louvre"}

	plan := planner.ComposePlan(state)
	assert.True(t, strings.HasPrefix(plan, "# Trip plan: New York to Paris\n"))
	assert.Contains(t, plan, "Dates: 2026-09-15 to 2026-09-22")
	assert.Less(t, strings.Index(plan, "## Activity"), strings.Index(plan, "## Hotel"))
	assert.Contains(t, plan, "## Hotel\n\nHotel Lutetia\n")

	empty := planner.ComposePlan(domain.NewConversationState("c2", "", domain.Preferences{}))
	assert.Contains(t, empty, "(unknown) to (unknown)")
}

func TestNewGraph(t *testing.T) {
	_, err := planner.NewGraph(planner.Providers{})
	require.Error(t, err)

	g, err := planner.NewGraph(providers(testutils.NewScriptedExtractor()), planner.WithProviderTimeout(3*time.Second))
	require.NoError(t, err)

	assert.Equal(t, planner.StepGatherInfo, g.Entry())
	gather := step(t, g, planner.StepGatherInfo)
	assert.True(t, gather.Branching())
	assert.ElementsMatch(t, []string{planner.StepNeedInput, planner.StepFlights, planner.StepHotels, planner.StepActivities}, gather.Targets)

	assert.Equal(t, planner.StepGatherInfo, step(t, g, planner.StepNeedInput).Next)
	for name, owner := range map[string]string{
		planner.StepFlights:    planner.ProviderFlight,
		planner.StepHotels:     planner.ProviderHotel,
		planner.StepActivities: planner.ProviderActivity,
	} {
		s := step(t, g, name)
		assert.Equal(t, owner, s.Owns)
		assert.Equal(t, planner.StepFinalPlan, s.Next)
		assert.Equal(t, 3*time.Second, s.Timeout)
	}
	assert.True(t, step(t, g, planner.StepFinalPlan).Terminal)

	members, join, err := g.Resolve(planner.StepGatherInfo, gather.Router(parisState()))
	require.NoError(t, err)
	assert.Len(t, members, 3)
	assert.Equal(t, planner.StepFinalPlan, join)

	incomplete := parisState()
	incomplete.Extracted.Complete = nil
	assert.Equal(t, []string{planner.StepNeedInput}, gather.Router(incomplete))
}

func TestGatherInfo(t *testing.T) {
	ex := testutils.NewScriptedExtractor(
		testutils.Turn{Fields: map[string]any{"destination": "Paris"}, Response: "Where from?"},
		testutils.Turn{Err: errors.New("model overloaded")},
	)
	g, err := planner.NewGraph(providers(ex))
	require.NoError(t, err)
	gather := step(t, g, planner.StepGatherInfo)

	state := domain.NewConversationState("c1", "to Paris", domain.Preferences{})
	u, err := gather.Fn(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, u.Extracted)
	assert.Equal(t, "Paris", u.Extracted.Fields["destination"])
	assert.Len(t, u.History, 2)
	assert.Equal(t, []string{"to Paris"}, ex.Inputs)

	_, err = gather.Fn(context.Background(), state)
	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "extractor", perr.Provider)
}

func TestDegradeExtraction_NeverClaimsComplete(t *testing.T) {
	g, err := planner.NewGraph(providers(testutils.NewScriptedExtractor()))
	require.NoError(t, err)

	state := parisState()
	u := step(t, g, planner.StepGatherInfo).Degrade(state, errors.New("boom"))
	require.NotNil(t, u.Extracted)
	assert.False(t, u.Extracted.Claimed())
	assert.Equal(t, "Paris", u.Extracted.Fields["destination"])
	assert.NotEmpty(t, u.Extracted.Response)

	u.Extracted.Fields["destination"] = "Oslo"
	assert.Equal(t, "Paris", state.Extracted.Fields["destination"])
}

func TestNeedInput(t *testing.T) {
	g, err := planner.NewGraph(providers(testutils.NewScriptedExtractor()))
	require.NoError(t, err)
	need := step(t, g, planner.StepNeedInput)

	state := domain.NewConversationState("c1", "hi", domain.Preferences{})
	state.Extracted.Response = "When are you leaving?"
	_, err = need.Fn(context.Background(), state)
	var sig *domain.SuspendSignal
	require.ErrorAs(t, err, &sig)
	assert.Equal(t, "When are you leaving?", sig.Payload)

	state.Extracted.Response = "  "
	_, err = need.Fn(context.Background(), state)
	require.ErrorAs(t, err, &sig)
	assert.Equal(t, planner.DefaultQuestion, sig.Payload)

	u, err := need.Fn(graph.WithResumeInput(context.Background(), "next week"), state)
	require.NoError(t, err)
	assert.True(t, u.IsZero())
}

func TestRecommend(t *testing.T) {
	hotels := &testutils.StubRecommender{Name: "hotels"}
	p := providers(testutils.NewScriptedExtractor())
	p.Hotels = hotels
	p.Flights = &testutils.StubRecommender{Text: "   "}
	g, err := planner.NewGraph(p)
	require.NoError(t, err)

	state := parisState()
	state.Preferences.HotelAmenities = []string{"pool"}
	u, err := step(t, g, planner.StepHotels).Fn(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, u.Result)
	assert.Equal(t, domain.Result{Provider: planner.ProviderHotel, Content: "hotels options for Paris"}, *u.Result)
	assert.Equal(t, []string{"pool"}, hotels.LastCriteria().Preferences.HotelAmenities)

	_, err = step(t, g, planner.StepFlights).Fn(context.Background(), state)
	assert.ErrorContains(t, err, "empty result")

	d := step(t, g, planner.StepFlights).Degrade(state, errors.New("timeout"))
	require.NotNil(t, d.Result)
	assert.True(t, d.Result.Degraded)
	assert.Equal(t, planner.ProviderFlight, d.Result.Provider)
}

func TestRecommend_WeatherEnrichment(t *testing.T) {
	tests := []struct {
		name       string
		forecaster *testutils.StubForecaster
		want       string
	}{
		{"forecast", &testutils.StubForecaster{Summary: "light rain"}, "Paris on 2026-09-15: light rain, around 21°C."},
		{"unavailable", &testutils.StubForecaster{Err: errors.New("no data")}, "Weather data for Paris on 2026-09-15 is unavailable (no data)."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activities := &testutils.StubRecommender{Name: "activities"}
			p := providers(testutils.NewScriptedExtractor())
			p.Activities = activities
			p.Forecaster = tt.forecaster
			g, err := planner.NewGraph(p)
			require.NoError(t, err)

			_, err = step(t, g, planner.StepActivities).Fn(context.Background(), parisState())
			require.NoError(t, err)
			assert.Equal(t, tt.want, activities.LastCriteria().Weather)
		})
	}
}

func TestFinalPlan(t *testing.T) {
	synth := &testutils.JoinSynthesizer{}
	p := providers(testutils.NewScriptedExtractor())
	p.Synthesizer = synth
	g, err := planner.NewGraph(p)
	require.NoError(t, err)
	final := step(t, g, planner.StepFinalPlan)

	state := parisState()
	state.Results[planner.ProviderFlight] = domain.Result{Provider: "flight", Content: "AF 007"}
	u, err := final.Fn(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "Plan for Paris:\n- flight: AF 007", u.FinalOutput)

	synth.Err = errors.New("quota exceeded")
	_, err = final.Fn(context.Background(), state)
	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "synthesizer", perr.Provider)

	d := final.Degrade(state, err)
	assert.Contains(t, d.FinalOutput, "## Flight\n\nAF 007")
}

func TestCriteriaFor_UnreadableHotelPrice(t *testing.T) {
	state := parisState()
	state.Extracted.Fields["max_hotel_price"] = "around 250"

	c, err := planner.CriteriaFor(state)
	require.NoError(t, err)
	assert.Equal(t, "Paris", c.Destination)
	assert.Equal(t, planner.DefaultMaxHotelPrice, c.MaxHotelPrice)

	price, err := planner.HotelPrice(state.Extracted.Fields)
	assert.Error(t, err)
	assert.Equal(t, planner.DefaultMaxHotelPrice, price)

	price, err = planner.HotelPrice(map[string]any{"max_hotel_price": "150"})
	require.NoError(t, err)
	assert.Equal(t, 150, price)
}

func TestUnreadableHotelPriceDegradesNothing(t *testing.T) {
	hotels := &testutils.StubRecommender{Name: "hotels"}
	p := providers(testutils.NewScriptedExtractor())
	p.Hotels = hotels
	g, err := planner.NewGraph(p)
	require.NoError(t, err)

	state := parisState()
	state.Extracted.Fields["max_hotel_price"] = "around 250"
	for _, name := range []string{planner.StepFlights, planner.StepHotels, planner.StepActivities, planner.StepFinalPlan} {
		_, err := step(t, g, name).Fn(context.Background(), state)
		assert.NoError(t, err, name)
	}
	assert.Equal(t, planner.DefaultMaxHotelPrice, hotels.LastCriteria().MaxHotelPrice)
	assert.Contains(t, planner.ComposePlan(state), "# Trip plan: New York to Paris")
}

func TestRecommend_FlightSearch(t *testing.T) {
	found := []ports.Flight{
		{Airline: "Delta", Number: "DL264", FromAirport: "JFK", ToAirport: "CDG", Departure: "2026-09-15T17:00", Arrival: "2026-09-16T06:30"},
		{Airline: "Air France", Number: "AF7", FromAirport: "JFK", ToAirport: "CDG", Departure: "2026-09-15T18:30", Arrival: "2026-09-16T07:45"},
	}
	tests := []struct {
		name     string
		searcher *testutils.StubFlightSearcher
		want     []string
	}{
		{"preferred first", &testutils.StubFlightSearcher{Flights: found}, []string{
			"Scheduled flights from New York to Paris:",
			"\n- Air France AF7: JFK to CDG, departs 2026-09-15T18:30, arrives 2026-09-16T07:45\n- Delta DL264",
		}},
		{"no flights", &testutils.StubFlightSearcher{}, []string{"No scheduled flights found from New York to Paris."}},
		{"unavailable", &testutils.StubFlightSearcher{Err: errors.New("quota")}, []string{
			"Live flight search from New York to Paris on 2026-09-15 is unavailable (quota).",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flights := &testutils.StubRecommender{Name: "flights"}
			p := providers(testutils.NewScriptedExtractor())
			p.Flights = flights
			p.FlightSearch = tt.searcher
			g, err := planner.NewGraph(p)
			require.NoError(t, err)

			state := parisState()
			state.Preferences.PreferredAirlines = []string{"air france"}
			u, err := step(t, g, planner.StepFlights).Fn(context.Background(), state)
			require.NoError(t, err)
			assert.False(t, u.Result.Degraded)
			for _, w := range tt.want {
				assert.Contains(t, flights.LastCriteria().Flights, w)
			}
		})
	}
	assert.Equal(t, "Delta", found[0].Airline, "search results are not reordered in place")
}

func TestRecommend_HotelSearch(t *testing.T) {
	found := []ports.Hotel{
		{Name: "Le Bristol", Location: "Paris", Country: "France", Stars: 5, PricePerNight: 800},
		{Name: "Ibis Opera", Location: "Paris", Stars: 3, PricePerNight: 120},
		{Name: "Hotel des Jeunes", Location: "Paris", Stars: 2},
	}
	tests := []struct {
		name     string
		searcher *testutils.StubHotelSearcher
		want     string
	}{
		{"within cap first", &testutils.StubHotelSearcher{Hotels: found},
			"Hotels found in Paris:\n- Ibis Opera (3 stars, Paris), from 120 USD per night" +
				"\n- Hotel des Jeunes (2 stars, Paris), price unknown" +
				"\n- Le Bristol (5 stars, Paris, France), from 800 USD per night, above the cap"},
		{"unavailable", &testutils.StubHotelSearcher{Err: errors.New("429")}, "Live hotel search for Paris is unavailable (429)."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hotels := &testutils.StubRecommender{Name: "hotels"}
			p := providers(testutils.NewScriptedExtractor())
			p.Hotels = hotels
			p.HotelSearch = tt.searcher
			g, err := planner.NewGraph(p)
			require.NoError(t, err)

			_, err = step(t, g, planner.StepHotels).Fn(context.Background(), parisState())
			require.NoError(t, err)
			assert.Equal(t, tt.want, hotels.LastCriteria().Hotels)
		})
	}
}
