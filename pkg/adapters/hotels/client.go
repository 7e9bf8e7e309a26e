package hotels

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
	defaultBaseURL = "https://engine.hotellook.com/api/v2"
	defaultLimit   = 10
)

// ErrNoHotels is returned when the lookup finds no property in the city.
var ErrNoHotels = errors.New("no hotels found")

// lookupResponse is the subset of the lookup.json payload we read.
type lookupResponse struct {
	Results struct {
		Hotels []struct {
			ID           json.Number `json:"id"`
			Label        string      `json:"label"`
			LocationName string      `json:"location_name"`
			CountryName  string      `json:"country_name"`
			Stars        int         `json:"stars"`
			MinRate      float64     `json:"min_rate"`
		} `json:"hotels"`
	} `json:"results"`
}

// Client implements ports.HotelSearcher against the HotelLook public lookup API.
// The API needs no credentials.
type Client struct {
	baseURL    string
	limit      int
	httpClient *http.Client
	limiter    *rate.Limiter
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

// WithRateLimit caps lookups per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithLimit sets how many hotels one lookup returns.
func WithLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limit = n
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		limit:      defaultLimit,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(1), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchHotels looks up hotels in city. Dates are validated but the lookup
// itself is not date-aware.
func (c *Client) SearchHotels(ctx context.Context, city, checkIn, checkOut string) ([]ports.Hotel, error) {
	for _, d := range []string{checkIn, checkOut} {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return nil, fmt.Errorf("hotels: invalid date %q: %w", d, err)
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("hotels: rate limit wait: %w", err)
	}

	q := url.Values{}
	q.Set("query", city)
	q.Set("lang", "en")
	q.Set("lookFor", "both")
	q.Set("limit", fmt.Sprint(c.limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/lookup.json?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("hotels: create request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hotels: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("hotels: unexpected status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload lookupResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("hotels: decode response: %w", err)
	}
	if len(payload.Results.Hotels) == 0 {
		return nil, fmt.Errorf("hotels: %s: %w", city, ErrNoHotels)
	}

	found := payload.Results.Hotels
	if len(found) > c.limit {
		found = found[:c.limit]
	}
	out := make([]ports.Hotel, 0, len(found))
	for _, h := range found {
		name := h.Label
		if name == "" {
			name = "Unknown Hotel"
		}
		location := h.LocationName
		if location == "" {
			location = city
		}
		out = append(out, ports.Hotel{
			ID:            h.ID.String(),
			Name:          name,
			Location:      location,
			Country:       h.CountryName,
			Stars:         h.Stars,
			PricePerNight: h.MinRate,
		})
	}
	return out, nil
}
