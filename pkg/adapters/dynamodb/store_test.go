package dynamodb

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/ports"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo keeps items in memory keyed by PK|SK and pages scans two items at a time.
type fakeDynamo struct {
	mu        sync.Mutex
	items     map[string]map[string]types.AttributeValue
	putErr    error
	lastGetIn *dynamodb.GetItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(k map[string]types.AttributeValue) string {
	pk := k["PK"].(*types.AttributeValueMemberS).Value
	sk := k["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGetIn = in
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, itemKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		last := itemKey(in.ExclusiveStartKey)
		start = sort.SearchStrings(keys, last) + 1
	}
	end := min(start+2, len(keys))

	out := &dynamodb.ScanOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, f.items[k])
	}
	if end < len(keys) {
		item := f.items[keys[end-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]}
	}
	return out, nil
}

func TestDynamoStore_Contract(t *testing.T) {
	store, err := New(newFakeDynamo(), "checkpoints")
	require.NoError(t, err)
	ports.RunCheckpointStoreContract(t, store)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t")
	assert.Error(t, err)
	_, err = New(newFakeDynamo(), " ")
	assert.Error(t, err)
}

func TestDynamoStore_ItemShape(t *testing.T) {
	db := newFakeDynamo()
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	store, err := New(db, "checkpoints", WithTTL(time.Hour), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "abc", domain.NewConversationState("abc", "x", domain.Preferences{})))

	item := db.items["CONV#abc|CHECKPOINT"]
	require.NotNil(t, item)
	assert.Equal(t, "abc", item["conversationId"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, strconv.FormatInt(now.Add(time.Hour).Unix(), 10), item["ttl"].(*types.AttributeValueMemberN).Value)

	_, err = store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, aws.ToBool(db.lastGetIn.ConsistentRead))
}

func TestDynamoStore_ExpiredItemsAreNotFound(t *testing.T) {
	db := newFakeDynamo()
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	store, err := New(db, "checkpoints", WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "abc", domain.NewConversationState("abc", "x", domain.Preferences{})))
	now = now.Add(2 * time.Minute)

	_, err = store.Load(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDynamoStore_ListPaginates(t *testing.T) {
	store, err := New(newFakeDynamo(), "checkpoints")
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.Save(ctx, id, domain.NewConversationState(id, "x", domain.Preferences{})))
	}
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, ids)
}

func TestDynamoStore_SaveError(t *testing.T) {
	db := newFakeDynamo()
	db.putErr = errors.New("throttled")
	store, err := New(db, "checkpoints")
	require.NoError(t, err)

	err = store.Save(context.Background(), "abc", domain.NewConversationState("abc", "x", domain.Preferences{}))
	assert.ErrorContains(t, err, "throttled")
}
