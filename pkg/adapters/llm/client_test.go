package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI records chat requests and answers each with reply(req).
type fakeAPI struct {
	mu       sync.Mutex
	requests []chatRequest
	reply    func(chatRequest) (int, string)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.Header.Get("Authorization") != "Bearer test-key" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	status, content := f.reply(req)
	if status != http.StatusOK {
		http.Error(w, content, status)
		return
	}
	resp := map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeAPI) last() chatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c, err := NewClient("test-key", WithBaseURL(srv.URL+"/v1"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient("  ")
	assert.Error(t, err)
}

func TestChatURL(t *testing.T) {
	assert.Equal(t, "https://x.test/v1/chat/completions", chatURL("https://x.test/v1/"))
	assert.Equal(t, "https://x.test/v1/chat/completions", chatURL("https://x.test"))
	assert.Equal(t, defaultBaseURL+"/chat/completions", chatURL(""))
}

func TestChat_StatusError(t *testing.T) {
	api := &fakeAPI{reply: func(chatRequest) (int, string) { return http.StatusTooManyRequests, "slow down" }}
	c := newTestClient(t, api)

	_, err := c.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "slow down")
}

func TestChat_RateLimitHonoursContext(t *testing.T) {
	api := &fakeAPI{reply: func(chatRequest) (int, string) { return http.StatusOK, "ok" }}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c, err := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(0.001, 1))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Chat(ctx, nil)
	assert.Error(t, err)
}

func TestExtractor(t *testing.T) {
	api := &fakeAPI{reply: func(chatRequest) (int, string) {
		return http.StatusOK, `{"origin":"NYC","destination":"Paris","date_leaving":"2025-06-01",
			"date_returning":"2025-06-08","max_hotel_price":null,"all_details_given":true,
			"response":"Great, planning NYC to Paris."}`
	}}
	c := newTestClient(t, api)
	ex := NewExtractor(c, func() string { return "2025-05-01" })

	prior, _ := json.Marshal(ChatMessage{Role: "assistant", Content: "Where to?"})
	res, err := ex.Extract(context.Background(), "NYC to Paris June 1-8", []domain.Message{prior})
	require.NoError(t, err)

	assert.True(t, res.Extraction.Claimed())
	assert.Equal(t, map[string]any{
		"origin": "NYC", "destination": "Paris",
		"date_leaving": "2025-06-01", "date_returning": "2025-06-08",
	}, res.Extraction.Fields)
	assert.Equal(t, "Great, planning NYC to Paris.", res.Extraction.Response)
	require.Len(t, res.Messages, 2)
	assert.Contains(t, string(res.Messages[0]), "NYC to Paris June 1-8")

	req := api.last()
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "json_schema", req.ResponseFormat.Type)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "2025-05-01")
	assert.Equal(t, "Where to?", req.Messages[1].Content)
}

func TestExtractor_MissingClaimIsIncomplete(t *testing.T) {
	api := &fakeAPI{reply: func(chatRequest) (int, string) {
		return http.StatusOK, `{"destination":"Rome","response":"Where from?"}`
	}}
	ex := NewExtractor(newTestClient(t, api), func() string { return "2025-05-01" })

	res, err := ex.Extract(context.Background(), "Rome", nil)
	require.NoError(t, err)
	assert.Nil(t, res.Extraction.Complete)
	assert.False(t, res.Extraction.Claimed())
	assert.Equal(t, map[string]any{"destination": "Rome"}, res.Extraction.Fields)
}

func TestExtractor_InvalidPayload(t *testing.T) {
	api := &fakeAPI{reply: func(chatRequest) (int, string) { return http.StatusOK, "not json" }}
	ex := NewExtractor(newTestClient(t, api), func() string { return "2025-05-01" })

	_, err := ex.Extract(context.Background(), "x", nil)
	assert.ErrorContains(t, err, "invalid extraction payload")
}

func TestRecommenders_PromptContent(t *testing.T) {
	api := &fakeAPI{reply: func(chatRequest) (int, string) { return http.StatusOK, "recommendation" }}
	c := newTestClient(t, api)
	criteria := ports.Criteria{
		Origin: "NYC", Destination: "Paris", DateLeaving: "2025-06-01", DateReturning: "2025-06-08",
		MaxHotelPrice: 180,
		Preferences: domain.Preferences{
			PreferredAirlines: []string{"Air France"},
			HotelAmenities:    []string{"wifi"},
			BudgetLevel:       "medium",
		},
		Weather: "Paris on 2025-06-01: Rain, around 14°C.",
	}

	tests := []struct {
		name    string
		rec     *Recommender
		want    string
		notWant string
	}{
		{"flight", NewFlightRecommender(c), "Air France", "wifi"},
		{"hotel", NewHotelRecommender(c), "180 USD", "Air France"},
		{"activity", NewActivityRecommender(c), "Rain", "180 USD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.rec.Recommend(context.Background(), criteria)
			require.NoError(t, err)
			assert.Equal(t, "recommendation", out)

			user := api.last().Messages[1].Content
			assert.Contains(t, user, "NYC to Paris")
			assert.Contains(t, user, tt.want)
			assert.NotContains(t, user, tt.notWant)
		})
	}
}

func TestRecommenders_GroundedOnSearchResults(t *testing.T) {
	api := &fakeAPI{reply: func(chatRequest) (int, string) { return http.StatusOK, "recommendation" }}
	c := newTestClient(t, api)
	criteria := ports.Criteria{
		Origin: "NYC", Destination: "Paris", DateLeaving: "2025-06-01", DateReturning: "2025-06-08",
		MaxHotelPrice: 180,
		Flights:       "Scheduled flights from NYC to Paris:\n- Air France AF7",
		Hotels:        "Hotels found in Paris:\n- Hotel Lutetia (5 stars, Paris)",
	}

	_, err := NewFlightRecommender(c).Recommend(context.Background(), criteria)
	require.NoError(t, err)
	req := api.last()
	assert.Contains(t, req.Messages[0].Content, "recommend only from them")
	assert.Contains(t, req.Messages[1].Content, "- Air France AF7")
	assert.NotContains(t, req.Messages[1].Content, "Lutetia")

	_, err = NewHotelRecommender(c).Recommend(context.Background(), criteria)
	require.NoError(t, err)
	req = api.last()
	assert.Contains(t, req.Messages[1].Content, "- Hotel Lutetia (5 stars, Paris)")
	assert.NotContains(t, req.Messages[1].Content, "AF7")
}

func TestSynthesizer_OrdersSections(t *testing.T) {
	api := &fakeAPI{reply: func(chatRequest) (int, string) { return http.StatusOK, "the plan" }}
	s := NewSynthesizer(newTestClient(t, api))

	out, err := s.Synthesize(context.Background(), ports.Criteria{Destination: "Paris"}, map[string]domain.Result{
		"hotel":  {Provider: "hotel", Content: "H"},
		"flight": {Provider: "flight", Content: "F"},
	})
	require.NoError(t, err)
	assert.Equal(t, "the plan", out)

	user := api.last().Messages[1].Content
	assert.Less(t, strings.Index(user, "flight recommendations"), strings.Index(user, "hotel recommendations"))
}
