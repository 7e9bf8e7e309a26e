package domain

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Status defines what the caller may do next with a conversation.
type Status string

const (
	StatusRunning       Status = "running"        // A start/resume call is executing steps
	StatusAwaitingInput Status = "awaiting_input" // Suspended, waiting for Resume
	StatusCompleted     Status = "completed"      // FinalOutput is set
	StatusFailed        Status = "failed"         // Aborted; partial state kept for diagnosis
)

// IsTerminal reports whether the status ends a start/resume call.
func (s Status) IsTerminal() bool {
	return s == StatusAwaitingInput || s == StatusCompleted || s == StatusFailed
}

// Message is an opaque conversation record produced by the extraction step.
// The orchestrator never inspects it.
type Message = json.RawMessage

// Extraction holds the requirement fields collected from the user.
// It is replaced wholesale by every extraction step (last writer wins).
type Extraction struct {
	// Fields maps requirement names (origin, destination, ...) to values.
	Fields map[string]any `json:"fields,omitempty"`

	// Complete is the extractor's own completeness claim.
	// A nil value means the claim was absent, which counts as incomplete.
	Complete *bool `json:"complete,omitempty"`

	// Response is the user-facing text produced alongside the fields.
	Response string `json:"response,omitempty"`
}

// Claimed returns the completeness flag, treating an absent flag as false.
func (e Extraction) Claimed() bool {
	return e.Complete != nil && *e.Complete
}

// Preferences is caller-supplied configuration, fixed at workflow start.
type Preferences struct {
	PreferredAirlines []string `json:"preferred_airlines,omitempty"`
	HotelAmenities    []string `json:"hotel_amenities,omitempty"`
	BudgetLevel       string   `json:"budget_level,omitempty"`
}

// Result is one provider's latest output.
type Result struct {
	Provider string `json:"provider"`
	Content  string `json:"content"`

	// Degraded marks a placeholder substituted for a failed provider.
	Degraded bool `json:"degraded,omitempty"`
}

// ErrorRecord describes a failure recorded during the workflow.
type ErrorRecord struct {
	Step     string    `json:"step"`
	Provider string    `json:"provider,omitempty"`
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// Suspension is the pending request for caller input.
type Suspension struct {
	// Step is the step that raised the suspension and the one re-entered on resume.
	Step string `json:"step"`

	// Payload is handed to the caller untouched.
	Payload any `json:"payload,omitempty"`

	Since time.Time `json:"since"`
}

// ConversationState is the durable record threaded through every step.
type ConversationState struct {
	ConversationID string            `json:"conversation_id"`
	RawUserInput   string            `json:"raw_user_input"`
	History        []Message         `json:"history,omitempty"`
	Extracted      Extraction        `json:"extracted"`
	Preferences    Preferences       `json:"preferences"`
	Results        map[string]Result `json:"results,omitempty"`
	Errors         []ErrorRecord     `json:"errors,omitempty"`
	FinalOutput    string            `json:"final_output,omitempty"`
	Status         Status            `json:"status"`

	// Suspension is set iff Status == StatusAwaitingInput.
	Suspension *Suspension `json:"suspension,omitempty"`

	// Trail records the executed step names, in execution order.
	// Fan-out members appear sorted by name after their barrier.
	Trail []string `json:"trail,omitempty"`

	// LastSeq is the sequence number of the last event the conversation emitted.
	LastSeq uint64 `json:"last_seq,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationState creates a fresh state for a new request.
func NewConversationState(conversationID, rawInput string, prefs Preferences) *ConversationState {
	now := time.Now().UTC()
	return &ConversationState{
		ConversationID: conversationID,
		RawUserInput:   rawInput,
		Preferences:    prefs,
		Results:        make(map[string]Result),
		Status:         StatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Snapshot returns a deep copy of the state, safe to hand to concurrent readers.
func (s *ConversationState) Snapshot() *ConversationState {
	if s == nil {
		return nil
	}
	next := *s
	if s.History != nil {
		next.History = make([]Message, len(s.History))
		for i, m := range s.History {
			next.History[i] = slices.Clone(m)
		}
	}
	next.Extracted.Fields = maps.Clone(s.Extracted.Fields)
	if s.Extracted.Complete != nil {
		c := *s.Extracted.Complete
		next.Extracted.Complete = &c
	}
	next.Preferences.PreferredAirlines = slices.Clone(s.Preferences.PreferredAirlines)
	next.Preferences.HotelAmenities = slices.Clone(s.Preferences.HotelAmenities)
	next.Results = maps.Clone(s.Results)
	if next.Results == nil {
		next.Results = make(map[string]Result)
	}
	next.Errors = slices.Clone(s.Errors)
	next.Trail = slices.Clone(s.Trail)
	if s.Suspension != nil {
		susp := *s.Suspension
		next.Suspension = &susp
	}
	return &next
}

// ResumeHandle tells the caller what input is needed to continue a suspended conversation.
type ResumeHandle struct {
	ConversationID string `json:"conversation_id"`
	Step           string `json:"step"`
	Payload        any    `json:"payload,omitempty"`
}

// Outcome is the result of one start/resume call.
// Handle is non-nil iff State.Status == StatusAwaitingInput.
type Outcome struct {
	State  *ConversationState `json:"state"`
	Handle *ResumeHandle      `json:"handle,omitempty"`
}

// StatusReport answers a status query for a conversation.
type StatusReport struct {
	ConversationID string        `json:"conversation_id"`
	Status         Status        `json:"status"`
	Elapsed        time.Duration `json:"elapsed"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	PendingStep    string        `json:"pending_step,omitempty"`
	InFlight       bool          `json:"in_flight"`
}

// StartRequest describes a new conversation.
type StartRequest struct {
	// ConversationID is optional; a UUID is generated when empty.
	ConversationID string      `json:"conversation_id,omitempty"`
	Input          string      `json:"input"`
	Preferences    Preferences `json:"preferences"`
}
