package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"conversation-api/internal/domain"
)

const (
	skProfile = "PROFILE"
	skEmail   = "EMAIL"
)

func userKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": strValue("USER#" + id),
		"SK": strValue(skProfile),
	}
}

func emailKey(email string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": strValue("EMAIL#" + email),
		"SK": strValue(skEmail),
	}
}

// CreateUser writes the profile and the email uniqueness marker in one
// transaction. An email already in use reports domain.ErrEmailTaken.
func (c *Client) CreateUser(ctx context.Context, u domain.User) error {
	u.Email = domain.NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return fmt.Errorf("repository: CreateUser: %w", err)
	}

	emailItem := emailKey(u.Email)
	emailItem["userId"] = strValue(u.ID)

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                userItem(u),
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                emailItem,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) && emailConflict(canceled) {
			return fmt.Errorf("repository: CreateUser: %w", domain.ErrEmailTaken)
		}
		return fmt.Errorf("repository: CreateUser: %w", err)
	}
	return nil
}

// emailConflict reports whether the email marker put (second item) failed its
// condition.
func emailConflict(e *types.TransactionCanceledException) bool {
	if len(e.CancellationReasons) < 2 {
		return false
	}
	return aws.ToString(e.CancellationReasons[1].Code) == "ConditionalCheckFailed"
}

// GetUserByID returns the user or domain.ErrNotFound.
func (c *Client) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            userKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUserByID get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.User{}, fmt.Errorf("repository: GetUserByID: %w", domain.ErrNotFound)
	}
	u, err := itemToUser(out.Item)
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUserByID unmarshal: %w", err)
	}
	return u, nil
}

// GetUserByEmail resolves the email marker and loads the profile it points to.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            emailKey(domain.NormalizeEmail(email)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUserByEmail get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.User{}, fmt.Errorf("repository: GetUserByEmail: %w", domain.ErrNotFound)
	}
	userID, err := strAttr(out.Item, "userId")
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUserByEmail unmarshal: %w", err)
	}
	return c.GetUserByID(ctx, userID)
}

// TouchLastLogin records a successful login time on the profile.
func (c *Client) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 userKey(id),
		UpdateExpression:    aws.String("SET #lastLogin = :lastLogin"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#lastLogin": "lastLogin",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lastLogin": strValue(at.UTC().Format(time.RFC3339Nano)),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: TouchLastLogin: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("repository: TouchLastLogin: %w", err)
	}
	return nil
}

func userItem(u domain.User) map[string]types.AttributeValue {
	item := userKey(u.ID)
	item["id"] = strValue(u.ID)
	item["name"] = strValue(u.Name)
	item["email"] = strValue(u.Email)
	item["passwordHash"] = strValue(u.PasswordHash)
	item["role"] = strValue(string(u.Role))
	item["createdAt"] = strValue(u.CreatedAt.UTC().Format(time.RFC3339Nano))
	if u.LastLogin != nil {
		item["lastLogin"] = strValue(u.LastLogin.UTC().Format(time.RFC3339Nano))
	}
	return item
}

func itemToUser(item map[string]types.AttributeValue) (domain.User, error) {
	var (
		u    domain.User
		role string
		err  error
	)
	if u.ID, err = strAttr(item, "id"); err != nil {
		return domain.User{}, err
	}
	if u.Name, err = strAttr(item, "name"); err != nil {
		return domain.User{}, err
	}
	if u.Email, err = strAttr(item, "email"); err != nil {
		return domain.User{}, err
	}
	if u.PasswordHash, err = strAttr(item, "passwordHash"); err != nil {
		return domain.User{}, err
	}
	if role, err = optStrAttr(item, "role"); err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	if u.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return domain.User{}, err
	}
	if _, ok := item["lastLogin"]; ok {
		last, err := timeAttr(item, "lastLogin")
		if err != nil {
			return domain.User{}, err
		}
		u.LastLogin = &last
	}
	return u, nil
}
