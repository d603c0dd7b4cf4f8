// Package archive implements the T1 tier: a per-user durable archive of
// every message with a content index. This in-memory variant backs tests
// and single-process deployments; the postgres adapter is the durable one.
package archive

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/internal/domain/models"
)

// Store is the in-memory T1 implementation, keyed by user first so erase
// is a partition sweep.
type Store struct {
	mu    sync.RWMutex
	users map[string]*userArchive
}

type userArchive struct {
	mu       sync.Mutex
	byID     map[string]*models.Message
	ordered  []*models.Message
	inverted map[string]map[string]struct{} // token -> message IDs
}

func NewStore() *Store {
	return &Store{users: make(map[string]*userArchive)}
}

// Archive stores the full message body and indexes its content. The stored
// copy round-trips byte-exact with what was given.
func (s *Store) Archive(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil || msg.UserID == "" {
		return domain.NewInputError(domain.ErrInvalidInput, "archive message")
	}

	ua := s.getOrCreate(msg.UserID)

	ua.mu.Lock()
	defer ua.mu.Unlock()

	clone := *msg
	if _, exists := ua.byID[msg.ID]; exists {
		// Idempotent re-archive of the same ID replaces in place.
		for i, m := range ua.ordered {
			if m.ID == msg.ID {
				ua.ordered[i] = &clone
				break
			}
		}
	} else {
		ua.ordered = append(ua.ordered, &clone)
	}
	ua.byID[msg.ID] = &clone

	for token := range tokenize(msg.Content) {
		ids, ok := ua.inverted[token]
		if !ok {
			ids = make(map[string]struct{})
			ua.inverted[token] = ids
		}
		ids[msg.ID] = struct{}{}
	}
	return nil
}

// Search returns up to maxResults messages ranked by token-overlap
// relevance, then importance desc, then timestamp desc.
func (s *Store) Search(ctx context.Context, userID, query string, maxResults int) ([]*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	ua := s.get(userID)
	if ua == nil {
		return nil, nil
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	ua.mu.Lock()
	defer ua.mu.Unlock()

	hits := make(map[string]int)
	for token := range queryTokens {
		for id := range ua.inverted[token] {
			hits[id]++
		}
	}

	type scored struct {
		msg   *models.Message
		score int
	}
	results := make([]scored, 0, len(hits))
	for id, score := range hits {
		results = append(results, scored{msg: ua.byID[id], score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		if results[i].msg.Metadata.Importance != results[j].msg.Metadata.Importance {
			return results[i].msg.Metadata.Importance > results[j].msg.Metadata.Importance
		}
		return results[i].msg.Timestamp.After(results[j].msg.Timestamp)
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	out := make([]*models.Message, len(results))
	for i, r := range results {
		clone := *r.msg
		out[i] = &clone
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, userID, messageID string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ua := s.get(userID)
	if ua == nil {
		return nil, domain.NewInputError(domain.ErrMessageNotFound, messageID)
	}

	ua.mu.Lock()
	defer ua.mu.Unlock()

	msg, ok := ua.byID[messageID]
	if !ok {
		return nil, domain.NewInputError(domain.ErrMessageNotFound, messageID)
	}
	clone := *msg
	return &clone, nil
}

func (s *Store) Delete(ctx context.Context, userID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ua := s.get(userID)
	if ua == nil {
		return nil
	}

	ua.mu.Lock()
	defer ua.mu.Unlock()

	msg, ok := ua.byID[messageID]
	if !ok {
		return nil
	}
	delete(ua.byID, messageID)
	for i, m := range ua.ordered {
		if m.ID == messageID {
			ua.ordered = append(ua.ordered[:i], ua.ordered[i+1:]...)
			break
		}
	}
	for token := range tokenize(msg.Content) {
		if ids, ok := ua.inverted[token]; ok {
			delete(ids, messageID)
			if len(ids) == 0 {
				delete(ua.inverted, token)
			}
		}
	}
	return nil
}

// CountByConversation returns how many archived messages the conversation
// holds; the orchestrator derives turn counts from it.
func (s *Store) CountByConversation(ctx context.Context, userID, conversationID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ua := s.get(userID)
	if ua == nil {
		return 0, nil
	}

	ua.mu.Lock()
	defer ua.mu.Unlock()

	count := 0
	for _, m := range ua.ordered {
		if m.ConversationID == conversationID {
			count++
		}
	}
	return count, nil
}

func (s *Store) EraseUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	return nil
}

func (s *Store) get(userID string) *userArchive {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID]
}

func (s *Store) getOrCreate(userID string) *userArchive {
	if ua := s.get(userID); ua != nil {
		return ua
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ua, ok := s.users[userID]
	if !ok {
		ua = &userArchive{
			byID:     make(map[string]*models.Message),
			inverted: make(map[string]map[string]struct{}),
		}
		s.users[userID] = ua
	}
	return ua
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(field) >= 2 {
			tokens[field] = struct{}{}
		}
	}
	return tokens
}
