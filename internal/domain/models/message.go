package models

import (
	"time"

	"github.com/longregen/engram/internal/domain"
)

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Well-known metadata tags set by the orchestrator on ingest.
const (
	TagFirstMessage      = "first_message"
	TagEarlyConversation = "early_conversation"
)

type EntityType string

const (
	EntityTypePerson     EntityType = "person"
	EntityTypePlace      EntityType = "place"
	EntityTypeTechnology EntityType = "technology"
	EntityTypeDecision   EntityType = "decision"
	EntityTypePreference EntityType = "preference"
	EntityTypeConstraint EntityType = "constraint"
	EntityTypeGoal       EntityType = "goal"
	EntityTypeOther      EntityType = "other"
)

// ExtractedEntity is a key/value pair pulled out of message content by the
// capability provider, candidate for promotion into the fact tier.
type ExtractedEntity struct {
	Key        string     `json:"key"`
	Value      string     `json:"value"`
	Type       EntityType `json:"type"`
	Importance float32    `json:"importance"`
	IsNovel    bool       `json:"is_novel"`
	Embedding  []float32  `json:"embedding,omitempty"`
}

// MessageMetadata carries derived signals. Importance is written exactly
// once by the orchestrator before tier writes; everything else is set at
// construction or by the background pipeline.
type MessageMetadata struct {
	Importance        float32           `json:"importance"`
	IsQuestion        bool              `json:"is_question"`
	ContainsDecision  bool              `json:"contains_decision"`
	ContainsCode      bool              `json:"contains_code"`
	Tags              []string          `json:"tags,omitempty"`
	ExtractedEntities []ExtractedEntity `json:"extracted_entities,omitempty"`
}

// HasTag reports whether the metadata carries the given tag.
func (md MessageMetadata) HasTag(tag string) bool {
	for _, t := range md.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Message is a single conversational turn. Immutable after construction;
// WithImportance returns a copy rather than mutating in place so messages
// can be shared across tier goroutines without locking.
type Message struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	ConversationID string          `json:"conversation_id"`
	Role           MessageRole     `json:"role"`
	Content        string          `json:"content"`
	Timestamp      time.Time       `json:"timestamp"`
	Metadata       MessageMetadata `json:"metadata"`
}

// NewMessage validates and constructs a message. The timestamp is always
// UTC for consistent ordering across tiers.
func NewMessage(id, userID, conversationID string, role MessageRole, content string) (*Message, error) {
	if userID == "" {
		return nil, domain.NewInputError(domain.ErrEmptyUserID, "message")
	}
	if conversationID == "" {
		return nil, domain.NewInputError(domain.ErrEmptyConversationID, "message")
	}
	if content == "" {
		return nil, domain.NewInputError(domain.ErrEmptyContent, "message")
	}
	switch role {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem:
	default:
		return nil, domain.NewInputError(domain.ErrInvalidRole, string(role))
	}

	return &Message{
		ID:             id,
		UserID:         userID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		Metadata:       MessageMetadata{Tags: []string{}},
	}, nil
}

// WithImportance returns a copy of the message with importance set, clamped
// to [0,1].
func (m *Message) WithImportance(importance float32) *Message {
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}
	clone := *m
	clone.Metadata.Importance = importance
	return &clone
}

// WithMetadata returns a copy of the message with the given metadata.
func (m *Message) WithMetadata(md MessageMetadata) *Message {
	clone := *m
	clone.Metadata = md
	return &clone
}

func (m *Message) IsFromUser() bool {
	return m.Role == MessageRoleUser
}

func (m *Message) IsFromAssistant() bool {
	return m.Role == MessageRoleAssistant
}

// AgeAt returns how long before now the message was created.
func (m *Message) AgeAt(now time.Time) time.Duration {
	return now.Sub(m.Timestamp)
}
