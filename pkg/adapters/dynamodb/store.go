package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const skCheckpoint = "CHECKPOINT"

// dynamodbAPI is the minimal DynamoDB interface required by Store.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store implements ports.CheckpointStore on a DynamoDB table keyed by PK/SK.
// The table's TTL attribute must be "ttl". DynamoDB deletes expired items lazily,
// so reads also check expiry.
type Store struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithTTL sets the checkpoint expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store over an existing table.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamodb: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamodb: table name must not be empty")
	}
	s := &Store{api: api, tableName: tableName, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func key(conversationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK": &types.AttributeValueMemberS{Value: skCheckpoint},
	}
}

// Save writes the checkpoint with a single PutItem, which DynamoDB applies atomically.
func (s *Store) Save(ctx context.Context, conversationID string, state *domain.ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("dynamodb: marshal state: %w", err)
	}

	now := s.now().UTC()
	item := key(conversationID)
	item["conversationId"] = &types.AttributeValueMemberS{Value: conversationID}
	item["status"] = &types.AttributeValueMemberS{Value: string(state.Status)}
	item["state"] = &types.AttributeValueMemberS{Value: string(data)}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)}
	if s.ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttl).Unix(), 10)}
	}

	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamodb: save checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint with a consistent read.
func (s *Store) Load(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key(conversationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load checkpoint: %w", err)
	}
	if out == nil || len(out.Item) == 0 || s.expired(out.Item) {
		return nil, domain.ErrNotFound
	}

	raw, err := strAttr(out.Item, "state")
	if err != nil {
		return nil, err
	}
	var state domain.ConversationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("dynamodb: unmarshal checkpoint: %w", err)
	}
	if state.Results == nil {
		state.Results = make(map[string]domain.Result)
	}
	return &state, nil
}

// Delete removes the checkpoint. Missing items are not an error.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	if _, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       key(conversationID),
	}); err != nil {
		return fmt.Errorf("dynamodb: delete checkpoint: %w", err)
	}
	return nil
}

// List scans for live checkpoints. Intended for operator tooling, not hot paths.
func (s *Store) List(ctx context.Context) ([]string, error) {
	in := &dynamodb.ScanInput{
		TableName:            aws.String(s.tableName),
		FilterExpression:     aws.String("SK = :sk"),
		ProjectionExpression: aws.String("PK, SK, conversationId, #ttl"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sk": &types.AttributeValueMemberS{Value: skCheckpoint},
		},
	}

	ids := []string{}
	for {
		out, err := s.api.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("dynamodb: list checkpoints: %w", err)
		}
		for _, item := range out.Items {
			if sk, _ := strAttr(item, "SK"); sk != skCheckpoint || s.expired(item) {
				continue
			}
			id, err := strAttr(item, "conversationId")
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return ids, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *Store) expired(item map[string]types.AttributeValue) bool {
	v, ok := item["ttl"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	exp, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return false
	}
	return s.now().Unix() >= exp
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("dynamodb: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamodb: attribute %q is not a string", key)
	}
	return s.Value, nil
}
