package flights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aretw0/goplan/pkg/ports"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.aviationstack.com/v1"
	defaultLimit   = 6
)

// ErrUnsupportedCity is returned for a city missing from the IATA table.
var ErrUnsupportedCity = errors.New("city is not in the supported list")

// cityCodes maps lower-cased city names to the airport code searched for them.
var cityCodes = map[string]string{
	"new york":      "JFK",
	"london":        "LON",
	"paris":         "CDG",
	"dubai":         "DXB",
	"tokyo":         "HND",
	"los angeles":   "LAX",
	"toronto":       "YYZ",
	"sydney":        "SYD",
	"rome":          "FCO",
	"amsterdam":     "AMS",
	"frankfurt":     "FRA",
	"singapore":     "SIN",
	"istanbul":      "IST",
	"barcelona":     "BCN",
	"bangkok":       "BKK",
	"seoul":         "ICN",
	"madrid":        "MAD",
	"chicago":       "ORD",
	"san francisco": "SFO",
	"lisbon":        "LIS",
	"nairobi":       "NBO",
	"cape town":     "CPT",
	"lagos":         "LOS",
	"johannesburg":  "JNB",
	"mexico city":   "MEX",
	"buenos aires":  "EZE",
	"cairo":         "CAI",
	"athens":        "ATH",
	"vienna":        "VIE",
	"helsinki":      "HEL",
}

// CityCode returns the airport code searched for a city name.
func CityCode(city string) (string, error) {
	code, ok := cityCodes[strings.ToLower(strings.TrimSpace(city))]
	if !ok {
		return "", fmt.Errorf("flights: %q: %w", city, ErrUnsupportedCity)
	}
	return code, nil
}

type endpoint struct {
	Airport   string `json:"airport"`
	IATA      string `json:"iata"`
	Scheduled string `json:"scheduled"`
}

// flightsResponse is the subset of the /flights payload we read.
type flightsResponse struct {
	Data []struct {
		Airline struct {
			Name string `json:"name"`
		} `json:"airline"`
		Flight struct {
			IATA string `json:"iata"`
		} `json:"flight"`
		Departure endpoint `json:"departure"`
		Arrival   endpoint `json:"arrival"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client implements ports.FlightSearcher against the Aviationstack flights API.
type Client struct {
	baseURL    string
	apiKey     string
	limit      int
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit caps searches per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithLimit sets how many flights one search returns.
func WithLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithClock sets the time source used to reject past departure dates.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func New(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("flights: api key must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		limit:      defaultLimit,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(1), 5),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SearchFlights lists scheduled flights from origin to destination. The date
// must be in the future; the API itself does not filter by it.
func (c *Client) SearchFlights(ctx context.Context, origin, destination, date string) ([]ports.Flight, error) {
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return nil, fmt.Errorf("flights: invalid date %q: %w", date, err)
	}
	today := c.now().UTC().Truncate(24 * time.Hour)
	if !day.After(today) {
		return nil, fmt.Errorf("flights: date %s must be in the future", date)
	}
	from, err := CityCode(origin)
	if err != nil {
		return nil, err
	}
	to, err := CityCode(destination)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("flights: rate limit wait: %w", err)
	}

	q := url.Values{}
	q.Set("access_key", c.apiKey)
	q.Set("dep_iata", from)
	q.Set("arr_iata", to)
	q.Set("limit", fmt.Sprint(c.limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/flights?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("flights: create request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flights: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("flights: unexpected status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload flightsResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("flights: decode response: %w", err)
	}
	if payload.Error != nil {
		return nil, fmt.Errorf("flights: api error %s: %s", payload.Error.Code, payload.Error.Message)
	}

	out := make([]ports.Flight, 0, len(payload.Data))
	for _, f := range payload.Data {
		out = append(out, ports.Flight{
			Airline:     f.Airline.Name,
			Number:      f.Flight.IATA,
			FromAirport: f.Departure.Airport,
			ToAirport:   f.Arrival.Airport,
			Departure:   f.Departure.Scheduled,
			Arrival:     f.Arrival.Scheduled,
		})
	}
	return out, nil
}
