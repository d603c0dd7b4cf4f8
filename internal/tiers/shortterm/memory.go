// Package shortterm implements the T3 tier: a bounded per-(user,
// conversation) recency window of full messages with TTL-based partition
// reclamation.
package shortterm

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/internal/domain/models"
	"github.com/longregen/engram/internal/ports"
)

const (
	DefaultCapacity = 10
	DefaultTTL      = 24 * time.Hour
)

// Store is the in-memory T3 implementation. The aggregate map is guarded
// by a read/write mutex; each partition carries its own lock so concurrent
// conversations never contend.
type Store struct {
	capacity int
	ttl      time.Duration
	clock    ports.Clock

	mu    sync.RWMutex
	users map[string]map[string]*partition // userID -> conversationID -> partition
}

type partition struct {
	mu        sync.Mutex
	messages  []*models.Message
	expiresAt time.Time
}

type Option func(*Store)

func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(clock ports.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		clock:    ports.SystemClock{},
		users:    make(map[string]map[string]*partition),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add appends a message to the conversation window. When the partition
// exceeds capacity, the single lowest-importance item is evicted, oldest
// timestamp breaking ties. The partition TTL is refreshed.
func (s *Store) Add(ctx context.Context, userID, conversationID string, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" || conversationID == "" {
		return domain.NewInputError(domain.ErrInvalidInput, "short-term add")
	}

	p := s.getOrCreate(userID, conversationID)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.messages = append(p.messages, msg)
	if len(p.messages) > s.capacity {
		evictLowestImportance(p)
	}
	p.expiresAt = s.clock.Now().Add(s.ttl)
	return nil
}

// GetRecent returns up to count most recent messages in ascending timestamp
// order and refreshes the partition TTL.
func (s *Store) GetRecent(ctx context.Context, userID, conversationID string, count int) ([]*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count <= 0 {
		count = s.capacity
	}

	p := s.get(userID, conversationID)
	if p == nil {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	sorted := make([]*models.Message, len(p.messages))
	copy(sorted, p.messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	if len(sorted) > count {
		sorted = sorted[len(sorted)-count:]
	}

	p.expiresAt = s.clock.Now().Add(s.ttl)
	return sorted, nil
}

func (s *Store) Remove(ctx context.Context, userID, conversationID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := s.get(userID, conversationID)
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i, m := range p.messages {
		if m.ID == messageID {
			p.messages = append(p.messages[:i], p.messages[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, userID, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if convs, ok := s.users[userID]; ok {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(s.users, userID)
		}
	}
	return nil
}

// EraseUser drops every partition for the user in one sweep.
func (s *Store) EraseUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	return nil
}

// Size returns the current partition size, for tests and introspection.
func (s *Store) Size(userID, conversationID string) int {
	p := s.get(userID, conversationID)
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// ReapExpired removes partitions whose TTL elapsed without access and
// returns how many were reclaimed.
func (s *Store) ReapExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := s.clock.Now()
	reaped := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for userID, convs := range s.users {
		for convID, p := range convs {
			p.mu.Lock()
			expired := now.After(p.expiresAt)
			p.mu.Unlock()
			if expired {
				delete(convs, convID)
				reaped++
			}
		}
		if len(convs) == 0 {
			delete(s.users, userID)
		}
	}
	return reaped, nil
}

func (s *Store) get(userID, conversationID string) *partition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if convs, ok := s.users[userID]; ok {
		return convs[conversationID]
	}
	return nil
}

func (s *Store) getOrCreate(userID, conversationID string) *partition {
	if p := s.get(userID, conversationID); p != nil {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	convs, ok := s.users[userID]
	if !ok {
		convs = make(map[string]*partition)
		s.users[userID] = convs
	}
	p, ok := convs[conversationID]
	if !ok {
		p = &partition{}
		convs[conversationID] = p
	}
	return p
}

// evictLowestImportance removes exactly one message: the one with minimum
// importance, oldest timestamp on ties. Caller holds the partition lock.
func evictLowestImportance(p *partition) {
	victim := 0
	for i, m := range p.messages[1:] {
		cur := p.messages[victim]
		cand := m
		if cand.Metadata.Importance < cur.Metadata.Importance ||
			(cand.Metadata.Importance == cur.Metadata.Importance && cand.Timestamp.Before(cur.Timestamp)) {
			victim = i + 1
		}
	}
	p.messages = append(p.messages[:victim], p.messages[victim+1:]...)
}
