package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"unicode"

	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/graph"
	"github.com/aretw0/goplan/pkg/ports"
)

// Step names of the trip-planning workflow.
const (
	StepGatherInfo = "gather_info"
	StepNeedInput  = "need_input"
	StepFlights    = "get_flight_recommendations"
	StepHotels     = "get_hotel_recommendations"
	StepActivities = "get_activity_recommendations"
	StepFinalPlan  = "create_final_plan"
)

// Provider keys in ConversationState.Results.
const (
	ProviderFlight   = "flight"
	ProviderHotel    = "hotel"
	ProviderActivity = "activity"
)

// DefaultQuestion is the suspension payload when the extractor gave no question of its own.
const DefaultQuestion = "I need some additional information to continue planning your trip."

const rephraseQuestion = "Sorry, I couldn't process that. Could you restate where you're flying from and to, and your travel dates?"

func gatherInfo(ex ports.Extractor) graph.StepFunc {
	return func(ctx context.Context, state *domain.ConversationState) (domain.Update, error) {
		res, err := ex.Extract(ctx, state.RawUserInput, state.History)
		if err != nil {
			return domain.Update{}, &domain.ProviderError{Provider: "extractor", Err: err}
		}
		extracted := res.Extraction
		return domain.Update{History: res.Messages, Extracted: &extracted}, nil
	}
}

// degradeExtraction keeps what was already known but never claims completeness.
func degradeExtraction(state *domain.ConversationState, _ error) domain.Update {
	incomplete := false
	return domain.Update{Extracted: &domain.Extraction{
		Fields:   maps.Clone(state.Extracted.Fields),
		Complete: &incomplete,
		Response: rephraseQuestion,
	}}
}

// needInput suspends until the caller supplies more details; on resume it hands
// control back to the extractor through its static edge.
func needInput(ctx context.Context, state *domain.ConversationState) (domain.Update, error) {
	if _, resumed := graph.ResumeInput(ctx); resumed {
		return domain.Update{}, nil
	}
	question := strings.TrimSpace(state.Extracted.Response)
	if question == "" {
		question = DefaultQuestion
	}
	return domain.Update{}, domain.Suspend(question)
}

func recommend(provider string, rec ports.Recommender, enrich func(context.Context, *ports.Criteria), logger *slog.Logger) graph.StepFunc {
	return func(ctx context.Context, state *domain.ConversationState) (domain.Update, error) {
		criteria, err := CriteriaFor(state)
		if err != nil {
			return domain.Update{}, err
		}
		if provider == ProviderHotel {
			if _, perr := HotelPrice(state.Extracted.Fields); perr != nil {
				logger.Warn("using default hotel price cap", "conversation_id", state.ConversationID,
					"default", DefaultMaxHotelPrice, "err", perr)
			}
		}
		if enrich != nil {
			enrich(ctx, &criteria)
		}
		text, err := rec.Recommend(ctx, criteria)
		if err != nil {
			return domain.Update{}, err
		}
		if strings.TrimSpace(text) == "" {
			return domain.Update{}, errors.New("provider returned an empty result")
		}
		return domain.Update{Result: &domain.Result{Provider: provider, Content: text}}, nil
	}
}

// Placeholder is the degraded result substituted for a failed provider.
func Placeholder(provider string, reason error) domain.Result {
	return domain.Result{
		Provider: provider,
		Content:  fmt.Sprintf("%s search temporarily unavailable: %s", title(provider), reasonText(reason)),
		Degraded: true,
	}
}

func degradeProvider(provider string) graph.DegradeFunc {
	return func(_ *domain.ConversationState, err error) domain.Update {
		r := Placeholder(provider, err)
		return domain.Update{Result: &r}
	}
}

// weatherFor looks up the departure-day forecast; failures only change the text.
func weatherFor(f ports.Forecaster) func(context.Context, *ports.Criteria) {
	return func(ctx context.Context, c *ports.Criteria) {
		fc, err := f.Forecast(ctx, c.Destination, c.DateLeaving)
		if err != nil {
			c.Weather = fmt.Sprintf("Weather data for %s on %s is unavailable (%v).", c.Destination, c.DateLeaving, err)
			return
		}
		c.Weather = fmt.Sprintf("%s on %s: %s, around %.0f°C.", fc.City, fc.Date, fc.Summary, fc.AvgTemp)
	}
}

func finalPlan(s ports.Synthesizer) graph.StepFunc {
	return func(ctx context.Context, state *domain.ConversationState) (domain.Update, error) {
		criteria, err := CriteriaFor(state)
		if err != nil {
			return domain.Update{}, err
		}
		text, err := s.Synthesize(ctx, criteria, maps.Clone(state.Results))
		if err != nil {
			return domain.Update{}, &domain.ProviderError{Provider: "synthesizer", Err: err}
		}
		if strings.TrimSpace(text) == "" {
			return domain.Update{}, &domain.ProviderError{Provider: "synthesizer", Err: errors.New("empty plan")}
		}
		return domain.Update{FinalOutput: text}, nil
	}
}

// degradePlan composes a plain plan from whatever the providers returned.
func degradePlan(state *domain.ConversationState, _ error) domain.Update {
	return domain.Update{FinalOutput: ComposePlan(state)}
}

// ComposePlan renders the trip and every result section as markdown.
func ComposePlan(state *domain.ConversationState) string {
	var b strings.Builder
	trip, _ := decodeRequired(state.Extracted.Fields)
	fmt.Fprintf(&b, "# Trip plan: %s to %s\n\n", orUnknown(trip.Origin), orUnknown(trip.Destination))
	fmt.Fprintf(&b, "Dates: %s to %s\n", orUnknown(trip.DateLeaving), orUnknown(trip.DateReturning))

	keys := make([]string, 0, len(state.Results))
	for k := range state.Results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", title(k), strings.TrimSpace(state.Results[k].Content))
	}
	return b.String()
}

func title(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func reasonText(err error) string {
	if err == nil {
		return "unknown error"
	}
	var perr *domain.ProviderError
	if errors.As(err, &perr) && perr.Err != nil {
		return perr.Err.Error()
	}
	return err.Error()
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}
