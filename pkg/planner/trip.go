package planner

import (
	"fmt"
	"maps"

	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/ports"
	"github.com/mitchellh/mapstructure"
)

// Requirement field names produced by the extractor.
const (
	FieldOrigin        = "origin"
	FieldDestination   = "destination"
	FieldDateLeaving   = "date_leaving"
	FieldDateReturning = "date_returning"
	FieldMaxHotelPrice = "max_hotel_price"
)

// RequiredFields must all be present before any provider is asked for recommendations.
var RequiredFields = []string{FieldOrigin, FieldDestination, FieldDateLeaving, FieldDateReturning}

// DefaultMaxHotelPrice is the nightly cap (USD) used when the user gave none.
const DefaultMaxHotelPrice = 200

// TripDetails is the typed view of the extracted requirement fields.
type TripDetails struct {
	Origin        string `mapstructure:"origin"`
	Destination   string `mapstructure:"destination"`
	DateLeaving   string `mapstructure:"date_leaving"`
	DateReturning string `mapstructure:"date_returning"`
	MaxHotelPrice int    `mapstructure:"max_hotel_price"`
}

// DecodeTrip converts loosely typed extraction fields (e.g. JSON numbers, numeric strings).
func DecodeTrip(fields map[string]any) (TripDetails, error) {
	var trip TripDetails
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &trip,
	})
	if err != nil {
		return trip, err
	}
	if err := dec.Decode(fields); err != nil {
		return trip, fmt.Errorf("failed to decode trip details: %w", err)
	}
	return trip, nil
}

// HotelPrice reads the optional nightly cap. Absent or non-positive values yield
// the default; an unreadable value yields the default together with an error.
func HotelPrice(fields map[string]any) (int, error) {
	raw, ok := fields[FieldMaxHotelPrice]
	if !ok || raw == nil {
		return DefaultMaxHotelPrice, nil
	}
	var price int
	if err := mapstructure.WeakDecode(raw, &price); err != nil {
		return DefaultMaxHotelPrice, fmt.Errorf("invalid %s %q: %w", FieldMaxHotelPrice, fmt.Sprint(raw), err)
	}
	if price <= 0 {
		return DefaultMaxHotelPrice, nil
	}
	return price, nil
}

// CriteriaFor builds provider criteria from the state, applying defaults.
// An unreadable max_hotel_price falls back to DefaultMaxHotelPrice.
func CriteriaFor(state *domain.ConversationState) (ports.Criteria, error) {
	trip, err := decodeRequired(state.Extracted.Fields)
	if err != nil {
		return ports.Criteria{}, err
	}
	trip.MaxHotelPrice, _ = HotelPrice(state.Extracted.Fields)
	prefs := state.Preferences
	if prefs.BudgetLevel == "" {
		prefs.BudgetLevel = "medium"
	}
	return ports.Criteria{
		Origin:        trip.Origin,
		Destination:   trip.Destination,
		DateLeaving:   trip.DateLeaving,
		DateReturning: trip.DateReturning,
		MaxHotelPrice: trip.MaxHotelPrice,
		Preferences:   prefs,
	}, nil
}

// decodeRequired decodes the trip without the optional price cap.
func decodeRequired(fields map[string]any) (TripDetails, error) {
	rest := maps.Clone(fields)
	delete(rest, FieldMaxHotelPrice)
	return DecodeTrip(rest)
}
