package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/goplan/pkg/adapters/redis"
	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := setup(t)
	store := redis.NewFromClient(client)
	ports.RunCheckpointStoreContract(t, store)
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := setup(t)
	store := redis.NewFromClient(client, redis.WithTTL(time.Second), redis.WithPrefix("test:"))
	ctx := context.Background()

	state := domain.NewConversationState("conv-ttl", "trip", domain.Preferences{})
	require.NoError(t, store.Save(ctx, "conv-ttl", state))

	assert.True(t, mr.Exists("test:conv-ttl"))
	_, err := store.Load(ctx, "conv-ttl")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = store.Load(ctx, "conv-ttl")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisStore_DeleteRemovesIndexEntry(t *testing.T) {
	mr, client := setup(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "c1", domain.NewConversationState("c1", "x", domain.Preferences{})))
	require.NoError(t, store.Delete(ctx, "c1"))

	members, err := mr.ZMembers("goplan:conversation:index")
	if err == nil {
		assert.NotContains(t, members, "c1")
	}
	require.NoError(t, store.Ping(ctx))
}
