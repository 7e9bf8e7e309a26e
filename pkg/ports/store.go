package ports

import (
	"context"

	"github.com/aretw0/goplan/pkg/domain"
)

// CheckpointStore persists ConversationState keyed by conversation ID.
// This is what makes "suspend now, resume after a restart" possible.
//
// Implementations must make Save atomic per key: a concurrent Load observes
// either the previous or the new state, never a partial write.
type CheckpointStore interface {
	// Save persists the state for a given conversation ID, refreshing its TTL.
	Save(ctx context.Context, conversationID string, state *domain.ConversationState) error

	// Load retrieves the state for a given conversation ID.
	// Returns domain.ErrNotFound if the conversation does not exist or has expired.
	Load(ctx context.Context, conversationID string) (*domain.ConversationState, error)

	// Delete removes the state for a given conversation ID. Deleting a missing key is not an error.
	Delete(ctx context.Context, conversationID string) error

	// List returns the IDs of live (non-expired) conversations.
	List(ctx context.Context) ([]string, error)
}
