package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/ports"
)

const extractPrompt = `You are the intake assistant of a travel planner.
Collect these trip details from the conversation:
- origin: city the traveller departs from
- destination: city or country they are going to
- date_leaving and date_returning: dates as YYYY-MM-DD, resolving relative dates against today (%s)
- max_hotel_price: maximum nightly hotel price in USD, if mentioned

Use null for anything not stated. Set all_details_given to true only when origin,
destination and both dates are known. In "response", confirm what you understood
and, when something is missing, ask for exactly what is missing.`

var extractionSchema = json.RawMessage(`{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"origin":{"type":["string","null"]},
		"destination":{"type":["string","null"]},
		"date_leaving":{"type":["string","null"]},
		"date_returning":{"type":["string","null"]},
		"max_hotel_price":{"type":["integer","null"]},
		"all_details_given":{"type":"boolean"},
		"response":{"type":"string"}
	},
	"required":["origin","destination","date_leaving","date_returning","max_hotel_price","all_details_given","response"]
}`)

// extraction is the structured reply; pointers distinguish null from zero values.
type extraction struct {
	Origin          *string `json:"origin"`
	Destination     *string `json:"destination"`
	DateLeaving     *string `json:"date_leaving"`
	DateReturning   *string `json:"date_returning"`
	MaxHotelPrice   *int    `json:"max_hotel_price"`
	AllDetailsGiven *bool   `json:"all_details_given"`
	Response        string  `json:"response"`
}

// Extractor implements ports.Extractor with a structured-output chat call.
type Extractor struct {
	client *Client
	today  func() string
}

// NewExtractor creates an extractor; today returns the current date as YYYY-MM-DD.
func NewExtractor(client *Client, today func() string) *Extractor {
	return &Extractor{client: client, today: today}
}

// Extract replays history, sends the new input and validates the structured reply.
func (e *Extractor) Extract(ctx context.Context, rawInput string, history []domain.Message) (ports.ExtractResult, error) {
	messages := []ChatMessage{{Role: "system", Content: fmt.Sprintf(extractPrompt, e.today())}}
	for _, m := range history {
		var msg ChatMessage
		if err := json.Unmarshal(m, &msg); err == nil && msg.Role != "" {
			messages = append(messages, msg)
		}
	}
	user := ChatMessage{Role: "user", Content: rawInput}
	messages = append(messages, user)

	content, err := e.client.chat(ctx, messages, &responseFormat{
		Type:       "json_schema",
		JSONSchema: jsonSchemaConfig{Name: "trip_details", Strict: true, Schema: extractionSchema},
	})
	if err != nil {
		return ports.ExtractResult{}, err
	}

	var out extraction
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return ports.ExtractResult{}, fmt.Errorf("llm: invalid extraction payload: %w", err)
	}

	fields := make(map[string]any)
	setString(fields, "origin", out.Origin)
	setString(fields, "destination", out.Destination)
	setString(fields, "date_leaving", out.DateLeaving)
	setString(fields, "date_returning", out.DateReturning)
	if out.MaxHotelPrice != nil && *out.MaxHotelPrice > 0 {
		fields["max_hotel_price"] = *out.MaxHotelPrice
	}

	userMsg, _ := json.Marshal(user)
	reply, _ := json.Marshal(ChatMessage{Role: "assistant", Content: out.Response})
	return ports.ExtractResult{
		Extraction: domain.Extraction{
			Fields:   fields,
			Complete: out.AllDetailsGiven,
			Response: out.Response,
		},
		Messages: []domain.Message{userMsg, reply},
	}, nil
}

func setString(fields map[string]any, key string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		fields[key] = strings.TrimSpace(*v)
	}
}
