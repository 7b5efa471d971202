package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"conversation-api/internal/domain"
)

const skConversation = "CONV"

func conversationPK(id string) string {
	return "CONV#" + id
}

func ownerKey(owner string) string {
	return "OWNER#" + owner
}

func conversationKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": strValue(conversationPK(id)),
		"SK": strValue(skConversation),
	}
}

// CreateConversation assigns an id and creation time, applies defaults and
// persists the record. It returns the stored record.
func (c *Client) CreateConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error) {
	conv.ID = newID()
	conv.CreatedAt = now()
	conv.ApplyDefaults()
	if err := conv.Validate(); err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: CreateConversation: %w", err)
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                conversationItem(conv),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return conv, nil
}

// FindConversationsByOwner lazily walks the owner index, newest first. Items are
// projected to the listing fields only.
func (c *Client) FindConversationsByOwner(ctx context.Context, owner string) iter.Seq2[domain.ConversationSummary, error] {
	return func(yield func(domain.ConversationSummary, error) bool) {
		p := dynamodb.NewQueryPaginator(c.api, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			IndexName:              aws.String(c.ownerIndex),
			KeyConditionExpression: aws.String("#ownerKey = :owner"),
			ProjectionExpression:   aws.String("#id, #title, #createdAt, #keyInsights"),
			ExpressionAttributeNames: map[string]string{
				"#ownerKey":    "ownerKey",
				"#id":          "id",
				"#title":       "title",
				"#createdAt":   "createdAt",
				"#keyInsights": "keyInsights",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":owner": strValue(ownerKey(owner)),
			},
			ScanIndexForward: aws.Bool(false),
		})
		for p.HasMorePages() {
			out, err := p.NextPage(ctx)
			if err != nil {
				yield(domain.ConversationSummary{}, fmt.Errorf("repository: FindConversationsByOwner query: %w", err))
				return
			}
			for _, item := range out.Items {
				summary, err := itemToSummary(item)
				if err != nil {
					yield(domain.ConversationSummary{}, fmt.Errorf("repository: FindConversationsByOwner unmarshal: %w", err))
					return
				}
				if !yield(summary, nil) {
					return
				}
			}
		}
	}
}

// FindConversationByID returns the full record. Malformed ids report
// domain.ErrNotFound just like missing records.
func (c *Client) FindConversationByID(ctx context.Context, id string) (domain.Conversation, error) {
	id, ok := canonicalID(id)
	if !ok {
		return domain.Conversation{}, fmt.Errorf("repository: FindConversationByID: %w", domain.ErrNotFound)
	}

	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            conversationKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: FindConversationByID get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, fmt.Errorf("repository: FindConversationByID: %w", domain.ErrNotFound)
	}

	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: FindConversationByID unmarshal: %w", err)
	}
	return conv, nil
}

// UpdateConversationByID writes only the fields set in patch and returns the
// record as stored afterwards.
func (c *Client) UpdateConversationByID(ctx context.Context, id string, patch domain.ConversationPatch) (domain.Conversation, error) {
	canonical, ok := canonicalID(id)
	if !ok {
		return domain.Conversation{}, fmt.Errorf("repository: UpdateConversationByID: %w", domain.ErrNotFound)
	}
	if patch.IsEmpty() {
		return c.FindConversationByID(ctx, canonical)
	}

	expr, names, values, err := patchExpression(patch)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: UpdateConversationByID: %w", err)
	}

	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       conversationKey(canonical),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.Conversation{}, fmt.Errorf("repository: UpdateConversationByID: %w", domain.ErrNotFound)
		}
		return domain.Conversation{}, fmt.Errorf("repository: UpdateConversationByID: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.Conversation{}, fmt.Errorf("repository: UpdateConversationByID: %w", domain.ErrNotFound)
	}

	conv, err := itemToConversation(out.Attributes)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: UpdateConversationByID unmarshal: %w", err)
	}
	return conv, nil
}

// DeleteConversationByID removes the record. Deleting a missing record is not
// an error; callers check existence first.
func (c *Client) DeleteConversationByID(ctx context.Context, id string) error {
	id, ok := canonicalID(id)
	if !ok {
		return fmt.Errorf("repository: DeleteConversationByID: %w", domain.ErrNotFound)
	}

	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       conversationKey(id),
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteConversationByID: %w", err)
	}
	return nil
}

// patchExpression builds the SET clause for the fields present in patch, in a
// fixed field order.
func patchExpression(patch domain.ConversationPatch) (string, map[string]string, map[string]types.AttributeValue, error) {
	var clauses []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}

	set := func(attr string, v types.AttributeValue) {
		clauses = append(clauses, fmt.Sprintf("#%s = :%s", attr, attr))
		names["#"+attr] = attr
		values[":"+attr] = v
	}
	setList := func(attr string, raw json.RawMessage) error {
		if raw == nil {
			return nil
		}
		if !domain.IsJSONArray(raw) {
			return &domain.ValidationError{Field: attr, Reason: "must be an array"}
		}
		set(attr, strValue(string(raw)))
		return nil
	}

	if patch.Title != nil {
		if *patch.Title == "" {
			return "", nil, nil, &domain.ValidationError{Field: "title", Reason: "is required"}
		}
		set("title", strValue(*patch.Title))
	}
	for _, slot := range []struct {
		attr string
		raw  json.RawMessage
	}{
		{"transcript", patch.Transcript},
		{"sentimentTrajectory", patch.SentimentTrajectory},
		{"topicDistribution", patch.TopicDistribution},
		{"painPoints", patch.PainPoints},
	} {
		if err := setList(slot.attr, slot.raw); err != nil {
			return "", nil, nil, err
		}
	}
	if patch.BudgetEstimation != nil {
		if !domain.IsJSONObject(patch.BudgetEstimation) {
			return "", nil, nil, &domain.ValidationError{Field: "budgetEstimation", Reason: "must be an object"}
		}
		set("budgetEstimation", strValue(string(patch.BudgetEstimation)))
	}
	if err := setList("keyInsights", patch.KeyInsights); err != nil {
		return "", nil, nil, err
	}
	if patch.AudioURL != nil {
		set("audioUrl", strValue(*patch.AudioURL))
	}
	if patch.Tags != nil {
		set("tags", strListValue(patch.Tags))
	}

	return "SET " + strings.Join(clauses, ", "), names, values, nil
}

func conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	created := conv.CreatedAt.UTC()
	item := map[string]types.AttributeValue{
		"PK":                  strValue(conversationPK(conv.ID)),
		"SK":                  strValue(skConversation),
		"ownerKey":            strValue(ownerKey(conv.Owner)),
		"createdKey":          strValue(created.Format(createdKeyLayout) + "#" + conv.ID),
		"id":                  strValue(conv.ID),
		"owner":               strValue(conv.Owner),
		"title":               strValue(conv.Title),
		"createdAt":           strValue(created.Format(time.RFC3339Nano)),
		"transcript":          strValue(string(conv.Transcript)),
		"sentimentTrajectory": strValue(string(conv.SentimentTrajectory)),
		"topicDistribution":   strValue(string(conv.TopicDistribution)),
		"painPoints":          strValue(string(conv.PainPoints)),
		"budgetEstimation":    strValue(string(conv.BudgetEstimation)),
		"keyInsights":         strValue(string(conv.KeyInsights)),
		"tags":                strListValue(conv.Tags),
	}
	if conv.AudioURL != "" {
		item["audioUrl"] = strValue(conv.AudioURL)
	}
	return item
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	var (
		conv domain.Conversation
		err  error
	)
	if conv.ID, err = strAttr(item, "id"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.Owner, err = strAttr(item, "owner"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.Title, err = strAttr(item, "title"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.AudioURL, err = optStrAttr(item, "audioUrl"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.Tags, err = strListAttr(item, "tags"); err != nil {
		return domain.Conversation{}, err
	}
	for _, slot := range []struct {
		attr string
		dst  *json.RawMessage
	}{
		{"transcript", &conv.Transcript},
		{"sentimentTrajectory", &conv.SentimentTrajectory},
		{"topicDistribution", &conv.TopicDistribution},
		{"painPoints", &conv.PainPoints},
		{"budgetEstimation", &conv.BudgetEstimation},
		{"keyInsights", &conv.KeyInsights},
	} {
		if *slot.dst, err = jsonAttr(item, slot.attr); err != nil {
			return domain.Conversation{}, err
		}
	}
	conv.ApplyDefaults()
	return conv, nil
}

func itemToSummary(item map[string]types.AttributeValue) (domain.ConversationSummary, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	title, err := strAttr(item, "title")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	insights, err := jsonAttr(item, "keyInsights")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	if insights == nil {
		insights = json.RawMessage(`[]`)
	}
	return domain.ConversationSummary{
		ID:          id,
		Title:       title,
		CreatedAt:   createdAt,
		KeyInsights: insights,
	}, nil
}
