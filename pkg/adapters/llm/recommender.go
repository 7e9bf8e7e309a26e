package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/ports"
)

const (
	flightPrompt = `You are the flight specialist of a travel planner. Recommend the best
round-trip flight options for the request. Weigh price, total travel time and
convenience, favour direct flights, and prefer the traveller's airlines when given.
When flight search results are given, recommend only from them.
Explain briefly why each option was chosen.`

	hotelPrompt = `You are the hotel specialist of a travel planner. Recommend hotels at
the destination for the stay. Stay under the nightly price cap when possible, balance
rating, location and the requested amenities, and say why each hotel was chosen.
When hotel search results are given, recommend only from them.
Never ask for clarification; make sensible assumptions instead.`

	activityPrompt = `You are the activities specialist of a travel planner. Recommend
activities for the trip that fit the weather: outdoor plans when it is fair,
indoor options when it is wet. Never ask for clarification. Format each item as:
- Activity: <title>
  Reason: <why it fits>`

	synthesisPrompt = `You are a travel agent. Combine the flight, hotel and activity
recommendations into one clear trip plan in markdown. If a section says it is
unavailable, mention it and plan around it.`
)

// Recommender implements ports.Recommender for one provider kind.
type Recommender struct {
	client *Client
	system string
	kind   string
}

// NewFlightRecommender returns the flight specialist.
func NewFlightRecommender(c *Client) *Recommender {
	return &Recommender{client: c, system: flightPrompt, kind: "flight"}
}

// NewHotelRecommender returns the hotel specialist.
func NewHotelRecommender(c *Client) *Recommender {
	return &Recommender{client: c, system: hotelPrompt, kind: "hotel"}
}

// NewActivityRecommender returns the activities specialist.
func NewActivityRecommender(c *Client) *Recommender {
	return &Recommender{client: c, system: activityPrompt, kind: "activity"}
}

// Recommend asks the model for recommendations of the recommender's kind.
func (r *Recommender) Recommend(ctx context.Context, c ports.Criteria) (string, error) {
	return r.client.Chat(ctx, []ChatMessage{
		{Role: "system", Content: r.system},
		{Role: "user", Content: describe(r.kind, c)},
	})
}

// Synthesizer implements ports.Synthesizer.
type Synthesizer struct {
	client *Client
}

// NewSynthesizer returns a Synthesizer backed by c.
func NewSynthesizer(c *Client) *Synthesizer {
	return &Synthesizer{client: c}
}

// Synthesize merges the provider results into one markdown plan.
func (s *Synthesizer) Synthesize(ctx context.Context, c ports.Criteria, results map[string]domain.Result) (string, error) {
	var b strings.Builder
	b.WriteString(describe("trip", c))

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n\n%s recommendations:\n%s", k, results[k].Content)
	}

	return s.client.Chat(ctx, []ChatMessage{
		{Role: "system", Content: synthesisPrompt},
		{Role: "user", Content: b.String()},
	})
}

// describe renders the criteria a provider of the given kind cares about.
func describe(kind string, c ports.Criteria) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trip from %s to %s, leaving %s and returning %s.", c.Origin, c.Destination, c.DateLeaving, c.DateReturning)
	switch kind {
	case "flight":
		if len(c.Preferences.PreferredAirlines) > 0 {
			fmt.Fprintf(&b, "\nPreferred airlines: %s.", strings.Join(c.Preferences.PreferredAirlines, ", "))
		}
		if c.Flights != "" {
			fmt.Fprintf(&b, "\n\n%s", c.Flights)
		}
	case "hotel":
		fmt.Fprintf(&b, "\nMaximum price per night: %d USD.", c.MaxHotelPrice)
		if len(c.Preferences.HotelAmenities) > 0 {
			fmt.Fprintf(&b, "\nDesired amenities: %s.", strings.Join(c.Preferences.HotelAmenities, ", "))
		}
		if c.Hotels != "" {
			fmt.Fprintf(&b, "\n\n%s", c.Hotels)
		}
	case "activity":
		if c.Weather != "" {
			fmt.Fprintf(&b, "\nWeather: %s", c.Weather)
		}
	}
	if c.Preferences.BudgetLevel != "" {
		fmt.Fprintf(&b, "\nBudget level: %s.", c.Preferences.BudgetLevel)
	}
	return b.String()
}
