package weather

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

const defaultBaseURL = "https://api.openweathermap.org/data/2.5"

// ErrNoForecast is returned when the forecast window does not cover the requested date.
var ErrNoForecast = errors.New("no forecast available for the selected date")

// forecastResponse is the subset of the 5 day / 3 hour forecast payload we read.
type forecastResponse struct {
	City struct {
		Name string `json:"name"`
	} `json:"city"`
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
		} `json:"weather"`
	} `json:"list"`
}

// Client implements ports.Forecaster against the OpenWeather forecast API.
type Client struct {
	baseURL    string
	apiKey     string
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

// WithRateLimit caps lookups per second; the free tier allows 60 per minute.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

func New(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("weather: api key must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(1), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Forecast averages the 3-hour samples that fall on date (YYYY-MM-DD, UTC) and
// reports the most frequent condition.
func (c *Client) Forecast(ctx context.Context, city, date string) (ports.Forecast, error) {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return ports.Forecast{}, fmt.Errorf("weather: invalid date %q: %w", date, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return ports.Forecast{}, fmt.Errorf("weather: rate limit wait: %w", err)
	}

	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	endpoint := c.baseURL + "/forecast?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ports.Forecast{}, fmt.Errorf("weather: create request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return ports.Forecast{}, fmt.Errorf("weather: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return ports.Forecast{}, fmt.Errorf("weather: unexpected status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload forecastResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return ports.Forecast{}, fmt.Errorf("weather: decode response: %w", err)
	}

	var (
		sum     float64
		samples int
		counts  = make(map[string]int)
		best    string
	)
	for _, entry := range payload.List {
		if time.Unix(entry.Dt, 0).UTC().Format(time.DateOnly) != date {
			continue
		}
		sum += entry.Main.Temp
		samples++
		if len(entry.Weather) == 0 {
			continue
		}
		cond := entry.Weather[0].Description
		if cond == "" {
			cond = entry.Weather[0].Main
		}
		counts[cond]++
		if best == "" || counts[cond] > counts[best] {
			best = cond
		}
	}
	if samples == 0 {
		return ports.Forecast{}, ErrNoForecast
	}

	name := payload.City.Name
	if name == "" {
		name = city
	}
	return ports.Forecast{
		City:    name,
		Date:    date,
		Summary: best,
		AvgTemp: sum / float64(samples),
	}, nil
}
