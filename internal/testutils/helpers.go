package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/ports"
)

// Turn is one scripted extractor reply.
type Turn struct {
	Fields   map[string]any
	Complete *bool
	Response string
	Err      error
}

// ScriptedExtractor replays turns in order; the last turn repeats once the script runs out.
type ScriptedExtractor struct {
	mu     sync.Mutex
	turns  []Turn
	Inputs []string
}

// NewScriptedExtractor creates an extractor that answers with the given turns.
func NewScriptedExtractor(turns ...Turn) *ScriptedExtractor {
	return &ScriptedExtractor{turns: turns}
}

func (s *ScriptedExtractor) Extract(ctx context.Context, rawInput string, history []domain.Message) (ports.ExtractResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Inputs = append(s.Inputs, rawInput)
	if len(s.turns) == 0 {
		return ports.ExtractResult{}, errors.New("no scripted turn")
	}
	turn := s.turns[0]
	if len(s.turns) > 1 {
		s.turns = s.turns[1:]
	}
	if turn.Err != nil {
		return ports.ExtractResult{}, turn.Err
	}

	msg, _ := json.Marshal(map[string]string{"role": "user", "content": rawInput})
	reply, _ := json.Marshal(map[string]string{"role": "assistant", "content": turn.Response})
	return ports.ExtractResult{
		Extraction: domain.Extraction{Fields: turn.Fields, Complete: turn.Complete, Response: turn.Response},
		Messages:   []domain.Message{msg, reply},
	}, nil
}

// Calls returns the number of extraction calls made so far.
func (s *ScriptedExtractor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Inputs)
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// ParisTrip is a complete set of trip fields.
func ParisTrip() map[string]any {
	return map[string]any{
		"origin":         "New York",
		"destination":    "Paris",
		"date_leaving":   "2026-09-15",
		"date_returning": "2026-09-22",
	}
}

// StubRecommender returns Text after Delay, or Err. A Delay longer than the step
// timeout simulates a provider that hangs.
type StubRecommender struct {
	Name  string
	Text  string
	Err   error
	Delay time.Duration
	Panic bool

	calls    atomic.Int32
	mu       sync.Mutex
	criteria []ports.Criteria
}

func (s *StubRecommender) Recommend(ctx context.Context, c ports.Criteria) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.criteria = append(s.criteria, c)
	s.mu.Unlock()

	if s.Panic {
		panic(s.Name + " exploded")
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.Err != nil {
		return "", s.Err
	}
	if s.Text != "" {
		return s.Text, nil
	}
	return fmt.Sprintf("%s options for %s", s.Name, c.Destination), nil
}

// Calls returns the number of Recommend calls.
func (s *StubRecommender) Calls() int {
	return int(s.calls.Load())
}

// LastCriteria returns the criteria of the most recent call.
func (s *StubRecommender) LastCriteria() ports.Criteria {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.criteria) == 0 {
		return ports.Criteria{}
	}
	return s.criteria[len(s.criteria)-1]
}

// JoinSynthesizer concatenates every result in key order.
type JoinSynthesizer struct {
	Err   error
	calls atomic.Int32
}

func (j *JoinSynthesizer) Synthesize(ctx context.Context, c ports.Criteria, results map[string]domain.Result) (string, error) {
	j.calls.Add(1)
	if j.Err != nil {
		return "", j.Err
	}
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Plan for %s:", c.Destination)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %s", k, results[k].Content)
	}
	return b.String(), nil
}

// Calls returns the number of Synthesize calls.
func (j *JoinSynthesizer) Calls() int {
	return int(j.calls.Load())
}

// StubForecaster returns a fixed forecast or Err.
type StubForecaster struct {
	Summary string
	Err     error
}

func (f *StubForecaster) Forecast(ctx context.Context, city, date string) (ports.Forecast, error) {
	if f.Err != nil {
		return ports.Forecast{}, f.Err
	}
	return ports.Forecast{City: city, Date: date, Summary: f.Summary, AvgTemp: 21}, nil
}

// StubFlightSearcher returns Flights or Err.
type StubFlightSearcher struct {
	Flights []ports.Flight
	Err     error
}

func (s *StubFlightSearcher) SearchFlights(ctx context.Context, origin, destination, date string) ([]ports.Flight, error) {
	return s.Flights, s.Err
}

// StubHotelSearcher returns Hotels or Err.
type StubHotelSearcher struct {
	Hotels []ports.Hotel
	Err    error
}

func (s *StubHotelSearcher) SearchHotels(ctx context.Context, city, checkIn, checkOut string) ([]ports.Hotel, error) {
	return s.Hotels, s.Err
}
