package models

import (
	"time"

	"github.com/longregen/engram/internal/domain"
)

// Fact is a key/value item extracted from conversation and stored in the
// fact tier. Access tracking drives the eviction predicate.
type Fact struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	ConversationID  string     `json:"conversation_id"`
	SourceMessageID string     `json:"source_message_id,omitempty"`
	Key             string     `json:"key"`
	Value           string     `json:"value"`
	Type            EntityType `json:"type"`
	Importance      float32    `json:"importance"`
	Embedding       []float32  `json:"embedding,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastAccessed    time.Time  `json:"last_accessed"`
	AccessCount     int        `json:"access_count"`
}

func NewFact(id, userID, conversationID, key, value string, entityType EntityType) (*Fact, error) {
	if userID == "" {
		return nil, domain.NewInputError(domain.ErrEmptyUserID, "fact")
	}
	if key == "" || value == "" {
		return nil, domain.NewInputError(domain.ErrEmptyContent, "fact key and value are required")
	}

	now := time.Now().UTC()
	return &Fact{
		ID:             id,
		UserID:         userID,
		ConversationID: conversationID,
		Key:            key,
		Value:          value,
		Type:           entityType,
		Importance:     0.5,
		CreatedAt:      now,
		LastAccessed:   now,
		AccessCount:    1,
	}, nil
}

// SetImportance clamps importance to [0,1].
func (f *Fact) SetImportance(importance float32) {
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}
	f.Importance = importance
}

// RecordAccess bumps the access counter and refreshes the access timestamp.
// AccessCount only ever grows.
func (f *Fact) RecordAccess() {
	f.AccessCount++
	f.LastAccessed = time.Now().UTC()
}

// Evictable reports whether the fact satisfies the eviction predicate:
// rarely accessed and untouched for longer than the TTL.
func (f *Fact) Evictable(now time.Time, minAccess int, ttl time.Duration) bool {
	return f.AccessCount < minAccess && now.Sub(f.LastAccessed) > ttl
}

func (f *Fact) HasEmbedding() bool {
	return len(f.Embedding) > 0
}
