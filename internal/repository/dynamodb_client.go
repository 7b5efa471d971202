package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

const (
	defaultOwnerIndex = "owner-index"
	// createdKeyLayout is fixed width so GSI sort keys order lexically by time.
	createdKeyLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores conversations and users in a single DynamoDB table.
type Client struct {
	api        dynamodbAPI
	tableName  string
	ownerIndex string
}

// New creates a new repository Client. An empty ownerIndex selects the default
// owner GSI name.
func New(api dynamodbAPI, tableName, ownerIndex string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	ownerIndex = strings.TrimSpace(ownerIndex)
	if ownerIndex == "" {
		ownerIndex = defaultOwnerIndex
	}
	return &Client{api: api, tableName: tableName, ownerIndex: ownerIndex}, nil
}

var (
	newID = func() string { return uuid.NewString() }
	now   = func() time.Time { return time.Now().UTC() }
)

// canonicalID parses a client supplied id. Anything that is not a uuid cannot
// name a stored record.
func canonicalID(id string) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func strValue(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func strListValue(ss []string) types.AttributeValue {
	list := make([]types.AttributeValue, 0, len(ss))
	for _, s := range ss {
		list = append(list, strValue(s))
	}
	return &types.AttributeValueMemberL{Value: list}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

// optStrAttr returns "" for an absent attribute.
func optStrAttr(item map[string]types.AttributeValue, key string) (string, error) {
	if _, ok := item[key]; !ok {
		return "", nil
	}
	return strAttr(item, key)
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}

// jsonAttr decodes an opaque slot stored as JSON text. Absent slots yield nil.
func jsonAttr(item map[string]types.AttributeValue, key string) (json.RawMessage, error) {
	s, err := optStrAttr(item, key)
	if err != nil || s == "" {
		return nil, err
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("repository: attribute %q is not valid JSON", key)
	}
	return json.RawMessage(s), nil
}

func strListAttr(item map[string]types.AttributeValue, key string) ([]string, error) {
	v, ok := item[key]
	if !ok {
		return []string{}, nil
	}
	l, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a list", key)
	}
	out := make([]string, 0, len(l.Value))
	for i, elem := range l.Value {
		s, ok := elem.(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("repository: attribute %q[%d] is not a string", key, i)
		}
		out = append(out, s.Value)
	}
	return out, nil
}
