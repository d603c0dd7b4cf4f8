package models

import "time"

// ConversationState is derived bookkeeping the classifier consults; it is
// never authoritative storage.
type ConversationState struct {
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	TurnCount      int       `json:"turn_count"`
	LastActivity   time.Time `json:"last_activity"`
}

// EarlyTurnCount is the turn count below which a conversation counts as
// early for classification and tagging purposes.
const EarlyTurnCount = 3

func NewConversationState(userID, conversationID string, turnCount int, lastActivity time.Time) ConversationState {
	return ConversationState{
		UserID:         userID,
		ConversationID: conversationID,
		TurnCount:      turnCount,
		LastActivity:   lastActivity,
	}
}

// IsEarly reports whether the conversation is still in its opening turns.
func (s ConversationState) IsEarly() bool {
	return s.TurnCount < EarlyTurnCount
}
