package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/goplan/internal/logging"
	"github.com/aretw0/goplan/pkg/graph"
	"github.com/aretw0/goplan/pkg/ports"
)

// Providers are the collaborators the trip workflow calls.
type Providers struct {
	Extractor   ports.Extractor
	Flights     ports.Recommender
	Hotels      ports.Recommender
	Activities  ports.Recommender
	Synthesizer ports.Synthesizer

	// Forecaster is optional; without it activities are recommended without weather.
	Forecaster ports.Forecaster
	// FlightSearch and HotelSearch are optional live searches the matching
	// recommenders are grounded on.
	FlightSearch ports.FlightSearcher
	HotelSearch  ports.HotelSearcher
}

type config struct {
	extractTimeout  time.Duration
	providerTimeout time.Duration
	planTimeout     time.Duration
	logger          *slog.Logger
}

// Option configures the trip workflow.
type Option func(*config)

// WithExtractTimeout bounds each extraction call.
func WithExtractTimeout(d time.Duration) Option {
	return func(c *config) { c.extractTimeout = d }
}

// WithProviderTimeout bounds each recommendation call.
func WithProviderTimeout(d time.Duration) Option {
	return func(c *config) { c.providerTimeout = d }
}

// WithPlanTimeout bounds the synthesis call.
func WithPlanTimeout(d time.Duration) Option {
	return func(c *config) { c.planTimeout = d }
}

// WithLogger sets the logger for warnings raised inside steps.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewGraph wires the trip-planning workflow:
//
//	gather_info -(router)-> need_input -> gather_info
//	            -(router)-> flight | hotel | activity -> create_final_plan
func NewGraph(p Providers, opts ...Option) (*graph.Graph, error) {
	if p.Extractor == nil || p.Flights == nil || p.Hotels == nil || p.Activities == nil || p.Synthesizer == nil {
		return nil, fmt.Errorf("planner: extractor, flights, hotels, activities and synthesizer are required")
	}
	cfg := &config{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(cfg)
	}

	var flightEnrich, hotelEnrich, activityEnrich func(context.Context, *ports.Criteria)
	if p.FlightSearch != nil {
		flightEnrich = flightsFor(p.FlightSearch)
	}
	if p.HotelSearch != nil {
		hotelEnrich = hotelsFor(p.HotelSearch)
	}
	if p.Forecaster != nil {
		activityEnrich = weatherFor(p.Forecaster)
	}

	b := graph.New().Entry(StepGatherInfo)

	b.Add(StepGatherInfo).
		Do(gatherInfo(p.Extractor)).
		Timeout(cfg.extractTimeout).
		Degrade(degradeExtraction).
		Route(graph.CompletenessRouter(RequiredFields, StepNeedInput, StepFlights, StepHotels, StepActivities),
			StepNeedInput, StepFlights, StepHotels, StepActivities)

	b.Add(StepNeedInput).
		Do(needInput).
		Go(StepGatherInfo)

	b.Add(StepFlights).
		Do(recommend(ProviderFlight, p.Flights, flightEnrich, cfg.logger)).
		Owns(ProviderFlight).
		Timeout(cfg.providerTimeout).
		Degrade(degradeProvider(ProviderFlight)).
		Go(StepFinalPlan)

	b.Add(StepHotels).
		Do(recommend(ProviderHotel, p.Hotels, hotelEnrich, cfg.logger)).
		Owns(ProviderHotel).
		Timeout(cfg.providerTimeout).
		Degrade(degradeProvider(ProviderHotel)).
		Go(StepFinalPlan)

	b.Add(StepActivities).
		Do(recommend(ProviderActivity, p.Activities, activityEnrich, cfg.logger)).
		Owns(ProviderActivity).
		Timeout(cfg.providerTimeout).
		Degrade(degradeProvider(ProviderActivity)).
		Go(StepFinalPlan)

	b.Add(StepFinalPlan).
		Do(finalPlan(p.Synthesizer)).
		Timeout(cfg.planTimeout).
		Degrade(degradePlan).
		Terminal()

	return b.Build()
}
