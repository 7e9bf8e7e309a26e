package planner

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/goplan/pkg/ports"
)

// flightsFor grounds flight criteria in a live search; failures only change the text.
// Flights of preferred airlines are listed first.
func flightsFor(s ports.FlightSearcher) func(context.Context, *ports.Criteria) {
	return func(ctx context.Context, c *ports.Criteria) {
		found, err := s.SearchFlights(ctx, c.Origin, c.Destination, c.DateLeaving)
		if err != nil {
			c.Flights = fmt.Sprintf("Live flight search from %s to %s on %s is unavailable (%v).", c.Origin, c.Destination, c.DateLeaving, err)
			return
		}
		if len(found) == 0 {
			c.Flights = fmt.Sprintf("No scheduled flights found from %s to %s.", c.Origin, c.Destination)
			return
		}

		found = slices.Clone(found)
		preferred := func(f ports.Flight) bool {
			for _, a := range c.Preferences.PreferredAirlines {
				if a != "" && strings.Contains(strings.ToLower(f.Airline), strings.ToLower(a)) {
					return true
				}
			}
			return false
		}
		slices.SortStableFunc(found, func(a, b ports.Flight) int {
			switch pa, pb := preferred(a), preferred(b); {
			case pa && !pb:
				return -1
			case pb && !pa:
				return 1
			}
			return 0
		})

		var b strings.Builder
		fmt.Fprintf(&b, "Scheduled flights from %s to %s:", c.Origin, c.Destination)
		for _, f := range found {
			fmt.Fprintf(&b, "\n- %s %s: %s to %s, departs %s, arrives %s",
				orUnknown(f.Airline), orUnknown(f.Number), orUnknown(f.FromAirport), orUnknown(f.ToAirport),
				orUnknown(f.Departure), orUnknown(f.Arrival))
		}
		c.Flights = b.String()
	}
}

// hotelsFor grounds hotel criteria in a live lookup; failures only change the text.
// Hotels within the nightly cap are listed first.
func hotelsFor(s ports.HotelSearcher) func(context.Context, *ports.Criteria) {
	return func(ctx context.Context, c *ports.Criteria) {
		found, err := s.SearchHotels(ctx, c.Destination, c.DateLeaving, c.DateReturning)
		if err != nil {
			c.Hotels = fmt.Sprintf("Live hotel search for %s is unavailable (%v).", c.Destination, err)
			return
		}
		if len(found) == 0 {
			c.Hotels = fmt.Sprintf("No hotels found in %s.", c.Destination)
			return
		}

		found = slices.Clone(found)
		over := func(h ports.Hotel) bool { return h.PricePerNight > float64(c.MaxHotelPrice) }
		slices.SortStableFunc(found, func(a, b ports.Hotel) int {
			switch oa, ob := over(a), over(b); {
			case !oa && ob:
				return -1
			case oa && !ob:
				return 1
			}
			return 0
		})

		var b strings.Builder
		fmt.Fprintf(&b, "Hotels found in %s:", c.Destination)
		for _, h := range found {
			fmt.Fprintf(&b, "\n- %s (%d stars, %s", h.Name, h.Stars, h.Location)
			if h.Country != "" {
				fmt.Fprintf(&b, ", %s", h.Country)
			}
			b.WriteString(")")
			switch {
			case h.PricePerNight <= 0:
				b.WriteString(", price unknown")
			case over(h):
				fmt.Fprintf(&b, ", from %.0f USD per night, above the cap", h.PricePerNight)
			default:
				fmt.Fprintf(&b, ", from %.0f USD per night", h.PricePerNight)
			}
		}
		c.Hotels = b.String()
	}
}
