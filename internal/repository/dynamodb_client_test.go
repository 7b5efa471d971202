package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"conversation-api/internal/domain"
)

const (
	testConvID = "3f2c1a58-4b7e-4d8e-9c61-0a5f7e2b9d10"
	testUserID = "9a1b2c3d-0000-4000-8000-000000000001"
)

type fakeDynamo struct {
	items     map[string]map[string]types.AttributeValue // by PK
	getErr    error
	putErr    error
	updateOut *dynamodb.UpdateItemOutput
	updateErr error
	deleteErr error
	queryOuts []*dynamodb.QueryOutput
	queryErr  error
	txErr     error

	getCalls     int
	putCalls     int
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastUpdateIn *dynamodb.UpdateItemInput
	lastDeleteIn *dynamodb.DeleteItemInput
	queryInputs  []*dynamodb.QueryInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getCalls++
	f.lastGetInput = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	pk := in.Key["PK"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[pk]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putCalls++
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.updateOut == nil {
		return &dynamodb.UpdateItemOutput{}, nil
	}
	return f.updateOut, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDeleteIn = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	idx := len(f.queryInputs) - 1
	if idx >= len(f.queryOuts) {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.queryOuts[idx], nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table", "")
	require.NoError(t, err)
	return c
}

func fixClock(t *testing.T, id string, at time.Time) {
	t.Helper()
	prevID, prevNow := newID, now
	newID = func() string { return id }
	now = func() time.Time { return at }
	t.Cleanup(func() {
		newID, now = prevID, prevNow
	})
}

func sAttr(t *testing.T, item map[string]types.AttributeValue, key string) string {
	t.Helper()
	v, err := strAttr(item, key)
	require.NoError(t, err)
	return v
}

func storedConversation(owner string) domain.Conversation {
	conv := domain.Conversation{
		ID:         testConvID,
		Owner:      owner,
		Title:      "Demo",
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Transcript: json.RawMessage(`[{"speaker":"a","text":"hi"}]`),
		AudioURL:   "https://cdn.example.com/a.mp3",
		Tags:       []string{"x"},
	}
	conv.ApplyDefaults()
	return conv
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "t", "")
	require.ErrorContains(t, err, "api must not be nil")

	_, err = New(&fakeDynamo{}, " ", "")
	require.ErrorContains(t, err, "table name must not be empty")

	c, err := New(&fakeDynamo{}, "t", "")
	require.NoError(t, err)
	require.Equal(t, defaultOwnerIndex, c.ownerIndex)
}

func TestCreateConversation_HappyPath(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 5, time.UTC)
	fixClock(t, testConvID, at)
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	conv, err := c.CreateConversation(context.Background(), domain.Conversation{
		Owner: "u1",
		Title: "Demo",
		Tags:  []string{"x"},
	})
	require.NoError(t, err)
	require.Equal(t, testConvID, conv.ID)
	require.Equal(t, at, conv.CreatedAt)
	require.JSONEq(t, `[]`, string(conv.Transcript))
	require.JSONEq(t, `{}`, string(conv.BudgetEstimation))

	require.NotNil(t, db.lastPutInput)
	require.Equal(t, "attribute_not_exists(PK)", aws.ToString(db.lastPutInput.ConditionExpression))
	item := db.lastPutInput.Item
	require.Equal(t, "CONV#"+testConvID, sAttr(t, item, "PK"))
	require.Equal(t, "OWNER#u1", sAttr(t, item, "ownerKey"))
	require.Equal(t, "2026-03-01T12:00:00.000000005Z#"+testConvID, sAttr(t, item, "createdKey"))
	require.Equal(t, "[]", sAttr(t, item, "painPoints"))
	require.NotContains(t, item, "audioUrl")
}

func TestCreateConversation_ValidationError(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	_, err := c.CreateConversation(context.Background(), domain.Conversation{Owner: "u1"})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "title", vErr.Field)
	require.Zero(t, db.putCalls)
}

func TestCreateConversation_PutError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("boom")}
	c := mustNewClient(t, db)

	_, err := c.CreateConversation(context.Background(), domain.Conversation{Owner: "u1", Title: "Demo"})
	require.ErrorContains(t, err, "CreateConversation")
	require.ErrorContains(t, err, "boom")
}

func TestFindConversationsByOwner_WalksPagesNewestFirst(t *testing.T) {
	newer := storedConversation("u1")
	newer.Title = "newer"
	older := storedConversation("u1")
	older.Title = "older"
	older.CreatedAt = newer.CreatedAt.Add(-time.Hour)

	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{conversationItem(newer)},
			LastEvaluatedKey: map[string]types.AttributeValue{"PK": strValue("next")},
		},
		{
			Items: []map[string]types.AttributeValue{conversationItem(older)},
		},
	}}
	c := mustNewClient(t, db)

	var titles []string
	for s, err := range c.FindConversationsByOwner(context.Background(), "u1") {
		require.NoError(t, err)
		titles = append(titles, s.Title)
	}
	require.Equal(t, []string{"newer", "older"}, titles)
	require.Len(t, db.queryInputs, 2)

	first := db.queryInputs[0]
	require.Equal(t, defaultOwnerIndex, aws.ToString(first.IndexName))
	require.False(t, aws.ToBool(first.ScanIndexForward))
	require.Equal(t, "#id, #title, #createdAt, #keyInsights", aws.ToString(first.ProjectionExpression))
	require.Equal(t, "OWNER#u1", first.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS).Value)
	require.NotNil(t, db.queryInputs[1].ExclusiveStartKey)
}

func TestFindConversationsByOwner_StopsWhenConsumerBreaks(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{conversationItem(storedConversation("u1"))},
			LastEvaluatedKey: map[string]types.AttributeValue{"PK": strValue("next")},
		},
	}}
	c := mustNewClient(t, db)

	for _, err := range c.FindConversationsByOwner(context.Background(), "u1") {
		require.NoError(t, err)
		break
	}
	require.Len(t, db.queryInputs, 1)
}

func TestFindConversationsByOwner_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")}
	c := mustNewClient(t, db)

	var got error
	for _, err := range c.FindConversationsByOwner(context.Background(), "u1") {
		got = err
	}
	require.ErrorContains(t, got, "FindConversationsByOwner query")
}

func TestFindConversationByID_RoundTrip(t *testing.T) {
	conv := storedConversation("u1")
	db := &fakeDynamo{items: map[string]map[string]types.AttributeValue{
		"CONV#" + testConvID: conversationItem(conv),
	}}
	c := mustNewClient(t, db)

	got, err := c.FindConversationByID(context.Background(), testConvID)
	require.NoError(t, err)
	require.Equal(t, conv, got)
	require.True(t, aws.ToBool(db.lastGetInput.ConsistentRead))
}

func TestFindConversationByID_NotFound(t *testing.T) {
	cases := []struct {
		name      string
		id        string
		wantCalls int
	}{
		{name: "missing", id: testConvID, wantCalls: 1},
		{name: "malformed", id: "not-an-id", wantCalls: 0},
		{name: "object id", id: "507f1f77bcf86cd799439011", wantCalls: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := &fakeDynamo{}
			c := mustNewClient(t, db)
			_, err := c.FindConversationByID(context.Background(), tc.id)
			require.ErrorIs(t, err, domain.ErrNotFound)
			require.Equal(t, tc.wantCalls, db.getCalls)
		})
	}
}

func TestFindConversationByID_GetError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("throttled")}
	c := mustNewClient(t, db)

	_, err := c.FindConversationByID(context.Background(), testConvID)
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateConversationByID_SetsOnlyProvidedFields(t *testing.T) {
	updated := storedConversation("u1")
	updated.Title = "Demo2"
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: conversationItem(updated)}}
	c := mustNewClient(t, db)

	title := "Demo2"
	got, err := c.UpdateConversationByID(context.Background(), testConvID, domain.ConversationPatch{
		Title: &title,
		Tags:  []string{"a", "b"},
	})
	require.NoError(t, err)
	require.Equal(t, "Demo2", got.Title)

	in := db.lastUpdateIn
	require.Equal(t, "SET #title = :title, #tags = :tags", aws.ToString(in.UpdateExpression))
	require.Equal(t, "attribute_exists(PK)", aws.ToString(in.ConditionExpression))
	require.Equal(t, types.ReturnValueAllNew, in.ReturnValues)
	require.Equal(t, map[string]string{"#title": "title", "#tags": "tags"}, in.ExpressionAttributeNames)
}

func TestUpdateConversationByID_EmptyPatchReturnsCurrent(t *testing.T) {
	conv := storedConversation("u1")
	db := &fakeDynamo{items: map[string]map[string]types.AttributeValue{
		"CONV#" + testConvID: conversationItem(conv),
	}}
	c := mustNewClient(t, db)

	got, err := c.UpdateConversationByID(context.Background(), testConvID, domain.ConversationPatch{})
	require.NoError(t, err)
	require.Equal(t, conv, got)
	require.Nil(t, db.lastUpdateIn)
}

func TestUpdateConversationByID_Errors(t *testing.T) {
	t.Run("condition failed", func(t *testing.T) {
		db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("nope")}}
		c := mustNewClient(t, db)
		tags := []string{"x"}
		_, err := c.UpdateConversationByID(context.Background(), testConvID, domain.ConversationPatch{Tags: tags})
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("malformed id", func(t *testing.T) {
		db := &fakeDynamo{}
		c := mustNewClient(t, db)
		_, err := c.UpdateConversationByID(context.Background(), "zzz", domain.ConversationPatch{Tags: []string{"x"}})
		require.ErrorIs(t, err, domain.ErrNotFound)
		require.Nil(t, db.lastUpdateIn)
	})

	t.Run("wrong slot kind", func(t *testing.T) {
		db := &fakeDynamo{}
		c := mustNewClient(t, db)
		_, err := c.UpdateConversationByID(context.Background(), testConvID, domain.ConversationPatch{
			BudgetEstimation: json.RawMessage(`[1]`),
		})
		var vErr *domain.ValidationError
		require.ErrorAs(t, err, &vErr)
		require.Equal(t, "budgetEstimation", vErr.Field)
		require.Nil(t, db.lastUpdateIn)
	})

	t.Run("upstream", func(t *testing.T) {
		db := &fakeDynamo{updateErr: errors.New("boom")}
		c := mustNewClient(t, db)
		_, err := c.UpdateConversationByID(context.Background(), testConvID, domain.ConversationPatch{Tags: []string{"x"}})
		require.ErrorContains(t, err, "boom")
		require.NotErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestDeleteConversationByID(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.DeleteConversationByID(context.Background(), testConvID))
	require.Equal(t, "CONV#"+testConvID, db.lastDeleteIn.Key["PK"].(*types.AttributeValueMemberS).Value)

	err := c.DeleteConversationByID(context.Background(), "bad")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConversationItem_KeepsOpaquePayloadVerbatim(t *testing.T) {
	conv := storedConversation("u1")
	conv.BudgetEstimation = json.RawMessage(`{"min":1000,"max":5000,"currency":"USD","notes":{"k":[1,2]}}`)

	got, err := itemToConversation(conversationItem(conv))
	require.NoError(t, err)
	require.JSONEq(t, string(conv.BudgetEstimation), string(got.BudgetEstimation))
}
