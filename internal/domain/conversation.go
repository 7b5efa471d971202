package domain

import (
	"encoding/json"
	"time"
)

// Conversation is a stored transcript together with caller-supplied analytics.
// The analytics slots are opaque JSON; nothing in this service interprets them.
type Conversation struct {
	ID                  string          `json:"id"`
	Owner               string          `json:"owner"`
	Title               string          `json:"title"`
	CreatedAt           time.Time       `json:"createdAt"`
	Transcript          json.RawMessage `json:"transcript"`
	SentimentTrajectory json.RawMessage `json:"sentimentTrajectory"`
	TopicDistribution   json.RawMessage `json:"topicDistribution"`
	PainPoints          json.RawMessage `json:"painPoints"`
	BudgetEstimation    json.RawMessage `json:"budgetEstimation"`
	KeyInsights         json.RawMessage `json:"keyInsights"`
	AudioURL            string          `json:"audioUrl,omitempty"`
	Tags                []string        `json:"tags"`
}

// ConversationSummary is the projection returned when listing conversations.
type ConversationSummary struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	CreatedAt   time.Time       `json:"createdAt"`
	KeyInsights json.RawMessage `json:"keyInsights"`
}

// ConversationPatch holds the fields of a partial update. Nil means "leave as is".
type ConversationPatch struct {
	Title               *string
	Transcript          json.RawMessage
	SentimentTrajectory json.RawMessage
	TopicDistribution   json.RawMessage
	PainPoints          json.RawMessage
	BudgetEstimation    json.RawMessage
	KeyInsights         json.RawMessage
	AudioURL            *string
	Tags                []string
}

// IsEmpty reports whether the patch changes nothing.
func (p ConversationPatch) IsEmpty() bool {
	return p.Title == nil &&
		p.Transcript == nil &&
		p.SentimentTrajectory == nil &&
		p.TopicDistribution == nil &&
		p.PainPoints == nil &&
		p.BudgetEstimation == nil &&
		p.KeyInsights == nil &&
		p.AudioURL == nil &&
		p.Tags == nil
}

var (
	emptyList   = json.RawMessage(`[]`)
	emptyObject = json.RawMessage(`{}`)
)

// ApplyDefaults fills every unset optional field with its empty value.
func (c *Conversation) ApplyDefaults() {
	for _, slot := range []*json.RawMessage{
		&c.Transcript,
		&c.SentimentTrajectory,
		&c.TopicDistribution,
		&c.PainPoints,
		&c.KeyInsights,
	} {
		if isNullJSON(*slot) {
			*slot = emptyList
		}
	}
	if isNullJSON(c.BudgetEstimation) {
		c.BudgetEstimation = emptyObject
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
}

// Validate checks the fields required for persistence.
func (c *Conversation) Validate() error {
	if c.Owner == "" {
		return &ValidationError{Field: "owner", Reason: "is required"}
	}
	if c.Title == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	for name, slot := range map[string]json.RawMessage{
		"transcript":          c.Transcript,
		"sentimentTrajectory": c.SentimentTrajectory,
		"topicDistribution":   c.TopicDistribution,
		"painPoints":          c.PainPoints,
		"keyInsights":         c.KeyInsights,
	} {
		if !IsJSONArray(slot) {
			return &ValidationError{Field: name, Reason: "must be an array"}
		}
	}
	if !IsJSONObject(c.BudgetEstimation) {
		return &ValidationError{Field: "budgetEstimation", Reason: "must be an object"}
	}
	return nil
}

// Summary projects the conversation to its listing view.
func (c Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ID:          c.ID,
		Title:       c.Title,
		CreatedAt:   c.CreatedAt,
		KeyInsights: c.KeyInsights,
	}
}
