package ports

import (
	"context"

	"github.com/aretw0/goplan/pkg/domain"
)

// ExtractResult is the validated output of one extraction call.
type ExtractResult struct {
	Extraction domain.Extraction
	// Messages are the new history records produced by this call.
	Messages []domain.Message
}

// Extractor turns free text plus prior history into structured requirements.
type Extractor interface {
	Extract(ctx context.Context, rawInput string, history []domain.Message) (ExtractResult, error)
}

// Criteria is what a recommendation or synthesis call is asked about.
type Criteria struct {
	Origin        string `json:"origin,omitempty"`
	Destination   string `json:"destination"`
	DateLeaving   string `json:"date_leaving"`
	DateReturning string `json:"date_returning"`
	MaxHotelPrice int    `json:"max_hotel_price,omitempty"`

	Preferences domain.Preferences `json:"preferences"`

	// Weather is a forecast summary for the destination, when one was looked up.
	Weather string `json:"weather,omitempty"`

	// Flights and Hotels list live search results the recommendation is grounded on.
	Flights string `json:"flights,omitempty"`
	Hotels  string `json:"hotels,omitempty"`
}

// Recommender is one fan-out provider (flight, hotel, activity, ...).
// Retries and fallbacks are the provider's own business; from the orchestrator's
// view a call either returns text or fails.
type Recommender interface {
	Recommend(ctx context.Context, criteria Criteria) (string, error)
}

// RecommenderFunc adapts a function to the Recommender interface.
type RecommenderFunc func(ctx context.Context, criteria Criteria) (string, error)

func (f RecommenderFunc) Recommend(ctx context.Context, criteria Criteria) (string, error) {
	return f(ctx, criteria)
}

// Synthesizer combines every provider result into the final plan.
type Synthesizer interface {
	Synthesize(ctx context.Context, criteria Criteria, results map[string]domain.Result) (string, error)
}

// Forecast is a weather summary for one city and day.
type Forecast struct {
	City    string
	Date    string
	Summary string
	AvgTemp float64
}

// Forecaster looks up weather for a city on a given date (YYYY-MM-DD).
type Forecaster interface {
	Forecast(ctx context.Context, city, date string) (Forecast, error)
}

// Flight is one scheduled flight returned by a flight search.
type Flight struct {
	Airline     string
	Number      string
	FromAirport string
	ToAirport   string
	Departure   string
	Arrival     string
}

// FlightSearcher looks up flights between two cities departing on date (YYYY-MM-DD).
type FlightSearcher interface {
	SearchFlights(ctx context.Context, origin, destination, date string) ([]Flight, error)
}

// Hotel is one property returned by a hotel search.
type Hotel struct {
	ID            string
	Name          string
	Location      string
	Country       string
	Stars         int
	PricePerNight float64
}

// HotelSearcher looks up hotels in a city for a stay (dates YYYY-MM-DD).
type HotelSearcher interface {
	SearchHotels(ctx context.Context, city, checkIn, checkOut string) ([]Hotel, error)
}
