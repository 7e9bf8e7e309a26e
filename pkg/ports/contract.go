package ports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/goplan/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCheckpointStoreContract runs a suite of tests to verify that a CheckpointStore implementation
// adheres to the defined interface contract.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	conversationID := "contract-test-conv-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		complete := true
		state := domain.NewConversationState(conversationID, "trip to Paris", domain.Preferences{BudgetLevel: "medium"})
		state.History = []domain.Message{domain.Message(`{"role":"user","content":"trip to Paris"}`)}
		state.Extracted = domain.Extraction{
			Fields:   map[string]any{"destination": "Paris"},
			Complete: &complete,
			Response: "Got it",
		}
		state.Results["flight"] = domain.Result{Provider: "flight", Content: "AF123"}
		state.Status = domain.StatusAwaitingInput
		state.Suspension = &domain.Suspension{Step: "need_input", Payload: "when?"}

		err := store.Save(ctx, conversationID, state)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, conversationID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, conversationID, loaded.ConversationID)
		assert.Equal(t, "trip to Paris", loaded.RawUserInput)
		assert.Equal(t, domain.StatusAwaitingInput, loaded.Status)
		require.NotNil(t, loaded.Suspension)
		assert.Equal(t, "need_input", loaded.Suspension.Step)
		assert.Equal(t, "Paris", loaded.Extracted.Fields["destination"])
		assert.True(t, loaded.Extracted.Claimed())
		assert.Equal(t, "AF123", loaded.Results["flight"].Content)
		assert.JSONEq(t, `{"role":"user","content":"trip to Paris"}`, string(loaded.History[0]))
	})

	t.Run("Load returns a detached copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, conversationID)
		require.NoError(t, err)
		loaded.RawUserInput = "mutated"

		again, err := store.Load(ctx, conversationID)
		require.NoError(t, err)
		assert.Equal(t, "trip to Paris", again.RawUserInput)
	})

	t.Run("Overwrite", func(t *testing.T) {
		state := domain.NewConversationState(conversationID, "second input", domain.Preferences{})
		require.NoError(t, store.Save(ctx, conversationID, state))

		loaded, err := store.Load(ctx, conversationID)
		require.NoError(t, err)
		assert.Equal(t, "second input", loaded.RawUserInput)
	})

	t.Run("Concurrent writers never tear a state", func(t *testing.T) {
		id := conversationID + "-concurrent"
		defer func() { _ = store.Delete(ctx, id) }()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				s := domain.NewConversationState(id, "writer", domain.Preferences{})
				s.FinalOutput = "plan"
				_ = store.Save(ctx, id, s)
			}(i)
		}
		wg.Wait()

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "writer", loaded.RawUserInput)
		assert.Equal(t, "plan", loaded.FinalOutput)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+conversationID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, conversationID, domain.NewConversationState(conversationID, "x", domain.Preferences{}))
		require.NoError(t, err)

		err = store.Delete(ctx, conversationID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, conversationID)
		assert.ErrorIs(t, err, domain.ErrNotFound, "Load after Delete should return ErrNotFound")

		assert.NoError(t, store.Delete(ctx, conversationID), "Deleting twice is a no-op")
	})

	t.Run("List", func(t *testing.T) {
		id1 := conversationID + "-1"
		id2 := conversationID + "-2"
		_ = store.Save(ctx, id1, domain.NewConversationState(id1, "a", domain.Preferences{}))
		_ = store.Save(ctx, id2, domain.NewConversationState(id2, "b", domain.Preferences{}))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
