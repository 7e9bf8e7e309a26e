package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/aretw0/goplan/pkg/domain"
)

// MockStore structure
type MockStore struct{}

func (m *MockStore) Save(ctx context.Context, id string, state *domain.ConversationState) error {
	return nil
}
func (m *MockStore) Load(ctx context.Context, id string) (*domain.ConversationState, error) {
	return nil, domain.ErrNotFound
}
func (m *MockStore) Delete(ctx context.Context, id string) error { return nil }
func (m *MockStore) List(ctx context.Context) ([]string, error)  { return nil, nil }

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(&MockStore{})
	ctx := context.Background()
	count := 10000

	for i := 0; i < count; i++ {
		id := fmt.Sprintf("conv-%d", i)
		_ = mgr.Save(ctx, id, &domain.ConversationState{})
		_ = mgr.Delete(ctx, id)
	}

	lockCount := len(mgr.locks)
	if lockCount != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory after Delete", lockCount)
	}
}
