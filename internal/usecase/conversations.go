package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"iter"

	"conversation-api/internal/domain"
)

// ConversationStore is the persistence contract the conversation service needs.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error)
	FindConversationsByOwner(ctx context.Context, owner string) iter.Seq2[domain.ConversationSummary, error]
	FindConversationByID(ctx context.Context, id string) (domain.Conversation, error)
	UpdateConversationByID(ctx context.Context, id string, patch domain.ConversationPatch) (domain.Conversation, error)
	DeleteConversationByID(ctx context.Context, id string) error
}

// ConversationInput is a create or update payload as the client sent it. Each
// field is kept raw so presence and truthiness can be judged per field; keys
// such as "owner" or "user" are never read.
type ConversationInput struct {
	Title               json.RawMessage `json:"title"`
	Transcript          json.RawMessage `json:"transcript"`
	SentimentTrajectory json.RawMessage `json:"sentimentTrajectory"`
	TopicDistribution   json.RawMessage `json:"topicDistribution"`
	PainPoints          json.RawMessage `json:"painPoints"`
	BudgetEstimation    json.RawMessage `json:"budgetEstimation"`
	KeyInsights         json.RawMessage `json:"keyInsights"`
	AudioURL            json.RawMessage `json:"audioUrl"`
	Tags                json.RawMessage `json:"tags"`
}

// ConversationService scopes every conversation operation to the calling user.
type ConversationService struct {
	store ConversationStore
}

func NewConversationService(store ConversationStore) (*ConversationService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	return &ConversationService{store: store}, nil
}

// List returns the caller's conversations, newest first, as summaries.
func (s *ConversationService) List(ctx context.Context, caller string) ([]domain.ConversationSummary, error) {
	out := []domain.ConversationSummary{}
	for summary, err := range s.store.FindConversationsByOwner(ctx, caller) {
		if err != nil {
			return nil, newError(ErrorInternal, "list_conversations", err)
		}
		out = append(out, summary)
	}
	return out, nil
}

// Create stores a new conversation owned by caller. Validation failures are
// reported as internal errors, matching the published contract.
func (s *ConversationService) Create(ctx context.Context, caller string, in ConversationInput) (domain.Conversation, error) {
	conv, err := in.conversation(caller)
	if err != nil {
		return domain.Conversation{}, newError(ErrorInternal, "invalid_conversation", err)
	}
	created, err := s.store.CreateConversation(ctx, conv)
	if err != nil {
		return domain.Conversation{}, newError(ErrorInternal, "create_conversation", err)
	}
	return created, nil
}

// Get returns one conversation if caller owns it.
func (s *ConversationService) Get(ctx context.Context, caller, id string) (domain.Conversation, error) {
	return s.owned(ctx, caller, id)
}

// Update merges the truthy fields of in into the caller's conversation.
func (s *ConversationService) Update(ctx context.Context, caller, id string, in ConversationInput) (domain.Conversation, error) {
	conv, err := s.owned(ctx, caller, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	patch, err := in.patch()
	if err != nil {
		return domain.Conversation{}, newError(ErrorInternal, "invalid_conversation", err)
	}
	updated, err := s.store.UpdateConversationByID(ctx, conv.ID, patch)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Conversation{}, newError(ErrorNotFound, ReasonConversationNotFound, err)
		}
		return domain.Conversation{}, newError(ErrorInternal, "update_conversation", err)
	}
	return updated, nil
}

// Delete removes the caller's conversation.
func (s *ConversationService) Delete(ctx context.Context, caller, id string) error {
	conv, err := s.owned(ctx, caller, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteConversationByID(ctx, conv.ID); err != nil {
		return newError(ErrorInternal, "delete_conversation", err)
	}
	return nil
}

// owned loads id and checks it belongs to caller. Every single-record
// operation goes through here before touching the record.
func (s *ConversationService) owned(ctx context.Context, caller, id string) (domain.Conversation, error) {
	conv, err := s.store.FindConversationByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Conversation{}, newError(ErrorNotFound, ReasonConversationNotFound, err)
		}
		return domain.Conversation{}, newError(ErrorInternal, "find_conversation", err)
	}
	if conv.Owner != caller {
		return domain.Conversation{}, newError(ErrorUnauthorized, ReasonNotOwner, nil)
	}
	return conv, nil
}

func (in ConversationInput) conversation(owner string) (domain.Conversation, error) {
	conv := domain.Conversation{
		Owner:               owner,
		Transcript:          nonNull(in.Transcript),
		SentimentTrajectory: nonNull(in.SentimentTrajectory),
		TopicDistribution:   nonNull(in.TopicDistribution),
		PainPoints:          nonNull(in.PainPoints),
		BudgetEstimation:    nonNull(in.BudgetEstimation),
		KeyInsights:         nonNull(in.KeyInsights),
	}
	var err error
	if conv.Title, err = optString("title", in.Title); err != nil {
		return domain.Conversation{}, err
	}
	if conv.AudioURL, err = optString("audioUrl", in.AudioURL); err != nil {
		return domain.Conversation{}, err
	}
	if conv.Tags, err = optStrings("tags", in.Tags); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

// patch keeps only the truthy fields; falsy or absent fields are left alone.
func (in ConversationInput) patch() (domain.ConversationPatch, error) {
	var p domain.ConversationPatch
	if domain.Truthy(in.Title) {
		title, err := optString("title", in.Title)
		if err != nil {
			return domain.ConversationPatch{}, err
		}
		p.Title = &title
	}
	if domain.Truthy(in.AudioURL) {
		url, err := optString("audioUrl", in.AudioURL)
		if err != nil {
			return domain.ConversationPatch{}, err
		}
		p.AudioURL = &url
	}
	if domain.Truthy(in.Tags) {
		tags, err := optStrings("tags", in.Tags)
		if err != nil {
			return domain.ConversationPatch{}, err
		}
		p.Tags = tags
	}
	p.Transcript = truthyOrNil(in.Transcript)
	p.SentimentTrajectory = truthyOrNil(in.SentimentTrajectory)
	p.TopicDistribution = truthyOrNil(in.TopicDistribution)
	p.PainPoints = truthyOrNil(in.PainPoints)
	p.BudgetEstimation = truthyOrNil(in.BudgetEstimation)
	p.KeyInsights = truthyOrNil(in.KeyInsights)
	return p, nil
}

func truthyOrNil(raw json.RawMessage) json.RawMessage {
	if !domain.Truthy(raw) {
		return nil
	}
	return raw
}

func nonNull(raw json.RawMessage) json.RawMessage {
	if string(raw) == "null" {
		return nil
	}
	return raw
}

func optString(field string, raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &domain.ValidationError{Field: field, Reason: "must be a string"}
	}
	return s, nil
}

func optStrings(field string, raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal(raw, &ss); err != nil {
		return nil, &domain.ValidationError{Field: field, Reason: "must be a list of strings"}
	}
	return ss, nil
}
