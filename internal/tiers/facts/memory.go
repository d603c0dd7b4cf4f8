// Package facts implements the T2 tier: per-user extracted facts with
// salience and access tracking, searchable lexically or by embedding.
package facts

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/internal/domain/models"
	"github.com/longregen/engram/internal/ports"
	"github.com/longregen/engram/shared/vectors"
)

const (
	DefaultMinAccess = 2
	DefaultTTL       = 7 * 24 * time.Hour

	// semanticThreshold is the minimum cosine similarity for an embedding
	// hit to count when no lexical match exists.
	semanticThreshold = 0.5
)

// embedder is the slice of the capability the store needs for semantic
// search. Failure degrades to lexical matching.
type embedder interface {
	Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error)
}

// Store is the in-memory T2 implementation. All state is keyed by user
// first; mutations take the per-user lock.
type Store struct {
	minAccess int
	ttl       time.Duration
	clock     ports.Clock
	embedder  embedder

	mu    sync.RWMutex
	users map[string]*userFacts
}

type userFacts struct {
	mu    sync.Mutex
	byID  map[string]*models.Fact
	byKey map[string]string // key "\x00" value -> fact ID, the upsert identity
}

type Option func(*Store)

func WithEvictionPolicy(minAccess int, ttl time.Duration) Option {
	return func(s *Store) {
		if minAccess > 0 {
			s.minAccess = minAccess
		}
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(clock ports.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithEmbedder enables semantic search over fact embeddings.
func WithEmbedder(e embedder) Option {
	return func(s *Store) { s.embedder = e }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		minAccess: DefaultMinAccess,
		ttl:       DefaultTTL,
		clock:     ports.SystemClock{},
		users:     make(map[string]*userFacts),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreFacts upserts facts for a user. A fact with the same (key, value)
// pair as an existing one merges into it: access is recorded and the higher
// importance wins, so retried stores stay idempotent.
func (s *Store) StoreFacts(ctx context.Context, userID, conversationID string, facts []*models.Fact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return domain.NewInputError(domain.ErrEmptyUserID, "store facts")
	}

	uf := s.getOrCreate(userID)

	uf.mu.Lock()
	defer uf.mu.Unlock()

	for _, f := range facts {
		identity := upsertKey(f.Key, f.Value)
		if existingID, ok := uf.byKey[identity]; ok {
			existing := uf.byID[existingID]
			existing.RecordAccess()
			if f.Importance > existing.Importance {
				existing.SetImportance(f.Importance)
			}
			if len(f.Embedding) > 0 && !existing.HasEmbedding() {
				existing.Embedding = f.Embedding
			}
			continue
		}
		uf.byID[f.ID] = f
		uf.byKey[identity] = f.ID
	}
	return nil
}

// Search returns the top facts matching the query, lexically on key/value
// or by cosine similarity when embeddings are available, ordered by
// importance desc then last accessed desc. Returned facts have their
// access recorded. When the embedder fails the search runs lexically and
// the results come back together with a capability-kind error so callers
// can annotate the degradation.
func (s *Store) Search(ctx context.Context, userID, query string, maxResults int) ([]*models.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	var queryEmbedding []float32
	var degraded error
	if s.embedder != nil {
		result, err := s.embedder.Embed(ctx, query)
		if err != nil {
			log.Printf("[FactStore] embedding unavailable, lexical only: %v", err)
			degraded = domain.NewCapabilityError(domain.ErrEmbeddingsFailed, "fact search")
		} else if result != nil {
			queryEmbedding = result.Embedding
		}
	}

	uf := s.get(userID)
	if uf == nil {
		return nil, degraded
	}

	lowerQuery := strings.ToLower(query)

	uf.mu.Lock()
	defer uf.mu.Unlock()

	matched := make([]*models.Fact, 0)
	for _, f := range uf.byID {
		if lexicalMatch(f, lowerQuery) {
			matched = append(matched, f)
			continue
		}
		if len(queryEmbedding) > 0 && f.HasEmbedding() {
			if vectors.Cosine(queryEmbedding, f.Embedding) >= semanticThreshold {
				matched = append(matched, f)
			}
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Importance != matched[j].Importance {
			return matched[i].Importance > matched[j].Importance
		}
		return matched[i].LastAccessed.After(matched[j].LastAccessed)
	})
	if len(matched) > maxResults {
		matched = matched[:maxResults]
	}

	out := make([]*models.Fact, len(matched))
	for i, f := range matched {
		f.RecordAccess()
		clone := *f
		out[i] = &clone
	}
	return out, degraded
}

func (s *Store) RecordAccess(ctx context.Context, userID, factID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	uf := s.get(userID)
	if uf == nil {
		return domain.NewInputError(domain.ErrFactNotFound, factID)
	}

	uf.mu.Lock()
	defer uf.mu.Unlock()

	f, ok := uf.byID[factID]
	if !ok {
		return domain.NewInputError(domain.ErrFactNotFound, factID)
	}
	f.RecordAccess()
	return nil
}

// Prune deletes facts satisfying the eviction predicate and returns how
// many were removed.
func (s *Store) Prune(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	uf := s.get(userID)
	if uf == nil {
		return 0, nil
	}

	now := s.clock.Now()

	uf.mu.Lock()
	defer uf.mu.Unlock()

	pruned := 0
	for id, f := range uf.byID {
		if f.Evictable(now, s.minAccess, s.ttl) {
			delete(uf.byID, id)
			delete(uf.byKey, upsertKey(f.Key, f.Value))
			pruned++
		}
	}
	return pruned, nil
}

func (s *Store) DeleteFact(ctx context.Context, userID, factID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	uf := s.get(userID)
	if uf == nil {
		return nil
	}

	uf.mu.Lock()
	defer uf.mu.Unlock()

	if f, ok := uf.byID[factID]; ok {
		delete(uf.byID, factID)
		delete(uf.byKey, upsertKey(f.Key, f.Value))
	}
	return nil
}

// List returns every fact for the user, for introspection and tests.
func (s *Store) List(ctx context.Context, userID string) ([]*models.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uf := s.get(userID)
	if uf == nil {
		return nil, nil
	}

	uf.mu.Lock()
	defer uf.mu.Unlock()

	out := make([]*models.Fact, 0, len(uf.byID))
	for _, f := range uf.byID {
		clone := *f
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
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

func (s *Store) get(userID string) *userFacts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID]
}

func (s *Store) getOrCreate(userID string) *userFacts {
	if uf := s.get(userID); uf != nil {
		return uf
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	uf, ok := s.users[userID]
	if !ok {
		uf = &userFacts{
			byID:  make(map[string]*models.Fact),
			byKey: make(map[string]string),
		}
		s.users[userID] = uf
	}
	return uf
}

func lexicalMatch(f *models.Fact, lowerQuery string) bool {
	return strings.Contains(strings.ToLower(f.Key), lowerQuery) ||
		strings.Contains(strings.ToLower(f.Value), lowerQuery) ||
		strings.Contains(lowerQuery, strings.ToLower(f.Key))
}

func upsertKey(key, value string) string {
	return strings.ToLower(key) + "\x00" + strings.ToLower(value)
}
