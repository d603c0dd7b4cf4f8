// Package patterns implements the TP tier: learned behavioral patterns
// with trigger matching, concurrent reinforcement, and background
// consolidation of near-duplicates.
package patterns

import (
	"context"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/internal/domain/models"
	"github.com/longregen/engram/internal/ports"
	"github.com/longregen/engram/shared/vectors"
)

const (
	// consolidationQueueSize bounds the pending per-user consolidation
	// requests; duplicates for a queued user are dropped.
	consolidationQueueSize = 64

	// jaccardMergeThreshold is the trigger-set similarity above which two
	// patterns count as near-duplicates.
	jaccardMergeThreshold = 0.5
)

// embedder is the slice of the capability the match path needs.
type embedder interface {
	Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error)
}

// Store is the in-memory TP implementation. Mutations serialize on the
// per-user lock; the match path never holds it across an embedding call.
type Store struct {
	embedder embedder

	mu    sync.RWMutex
	users map[string]*userPatterns

	regexMu    sync.Mutex
	regexCache map[string]*regexp.Regexp

	queueMu  sync.Mutex
	queued   map[string]bool
	queue    chan string
	stopOnce sync.Once
	stopped  chan struct{}
	workerWG sync.WaitGroup
}

type userPatterns struct {
	mu     sync.Mutex
	byID   map[string]*models.Pattern
	byName map[string]string // normalized name -> pattern ID
}

type Option func(*Store)

// WithEmbedder enables semantic trigger scoring.
func WithEmbedder(e embedder) Option {
	return func(s *Store) { s.embedder = e }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		users:      make(map[string]*userPatterns),
		regexCache: make(map[string]*regexp.Regexp),
		queued:     make(map[string]bool),
		queue:      make(chan string, consolidationQueueSize),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.workerWG.Add(1)
	go s.consolidationWorker()
	return s
}

// Close stops the consolidation worker and waits for it to drain.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopped) })
	s.workerWG.Wait()
}

// Upsert inserts or merges a pattern. Identity is (user, normalized name):
// re-upserting the same name absorbs the incoming counters instead of
// duplicating the pattern, keeping detection idempotent.
func (s *Store) Upsert(ctx context.Context, pattern *models.Pattern) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pattern == nil || pattern.UserID == "" {
		return domain.NewInputError(domain.ErrInvalidInput, "pattern upsert")
	}
	if len(pattern.Triggers) == 0 {
		return domain.NewInputError(domain.ErrPatternNoTriggers, pattern.Name)
	}

	up := s.getOrCreate(pattern.UserID)

	up.mu.Lock()
	defer up.mu.Unlock()

	name := pattern.NormalizedName()
	if existingID, ok := up.byName[name]; ok {
		existing := up.byID[existingID]
		existing.AbsorbCounters(pattern)
		return nil
	}

	up.byID[pattern.ID] = pattern
	up.byName[name] = pattern.ID
	return nil
}

// Match finds the highest-scoring pattern whose score meets its confidence
// threshold, records its usage, and returns a clone. Embeddings are
// computed before re-entering the user lock; on capability failure the
// scoring pass falls back to keyword and regex triggers only, and the
// result is returned together with a capability-kind error so callers can
// annotate the degradation.
func (s *Store) Match(ctx context.Context, userID, query string) (*models.Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	up := s.get(userID)
	if up == nil {
		return nil, nil
	}

	// Phase 1: snapshot under the lock.
	up.mu.Lock()
	snapshot := make([]*models.Pattern, 0, len(up.byID))
	needsEmbedding := false
	for _, p := range up.byID {
		snapshot = append(snapshot, p)
		for _, t := range p.Triggers {
			if t.Kind == models.TriggerKindSemantic && len(t.Embedding) > 0 {
				needsEmbedding = true
			}
		}
	}
	up.mu.Unlock()

	if len(snapshot) == 0 {
		return nil, nil
	}

	// Phase 2: compute the query embedding outside any lock, at most once.
	var queryEmbedding []float32
	var degraded error
	if needsEmbedding && s.embedder != nil {
		result, err := s.embedder.Embed(ctx, query)
		if err != nil {
			log.Printf("[PatternStore] embedding unavailable, lexical triggers only: %v", err)
			degraded = domain.NewCapabilityError(domain.ErrEmbeddingsFailed, "pattern match")
		} else if result != nil {
			queryEmbedding = result.Embedding
		}
	}

	// Phase 3: scoring pass under the lock with precomputed inputs.
	lowerQuery := strings.ToLower(query)

	up.mu.Lock()
	var best *models.Pattern
	var bestScore float32
	for _, p := range snapshot {
		if _, stillThere := up.byID[p.ID]; !stillThere {
			continue
		}
		score := s.scorePattern(p, lowerQuery, queryEmbedding)
		_, threshold := p.Usage()
		if score < threshold {
			continue
		}
		if best == nil || score > bestScore {
			best = p
			bestScore = score
		}
	}
	up.mu.Unlock()

	if best == nil {
		return nil, degraded
	}

	best.RecordUsage()
	return best.Clone(), degraded
}

// scorePattern returns the maximum trigger score for the pattern.
func (s *Store) scorePattern(p *models.Pattern, lowerQuery string, queryEmbedding []float32) float32 {
	var best float32
	for _, t := range p.Triggers {
		var score float32
		switch t.Kind {
		case models.TriggerKindKeyword:
			if strings.Contains(lowerQuery, strings.ToLower(t.Pattern)) {
				score = 1.0
			}
		case models.TriggerKindRegex:
			if re := s.compiled(t.Pattern); re != nil && re.MatchString(lowerQuery) {
				score = 1.0
			}
		case models.TriggerKindSemantic:
			if len(queryEmbedding) > 0 && len(t.Embedding) > 0 {
				score = vectors.Cosine(queryEmbedding, t.Embedding)
			}
		}
		if score > best {
			best = score
		}
	}
	return best
}

func (s *Store) Get(ctx context.Context, userID, patternID string) (*models.Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	up := s.get(userID)
	if up == nil {
		return nil, domain.NewInputError(domain.ErrPatternNotFound, patternID)
	}

	up.mu.Lock()
	defer up.mu.Unlock()

	p, ok := up.byID[patternID]
	if !ok {
		return nil, domain.NewInputError(domain.ErrPatternNotFound, patternID)
	}
	return p.Clone(), nil
}

func (s *Store) List(ctx context.Context, userID string) ([]*models.Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	up := s.get(userID)
	if up == nil {
		return nil, nil
	}

	up.mu.Lock()
	defer up.mu.Unlock()

	out := make([]*models.Pattern, 0, len(up.byID))
	for _, p := range up.byID {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// EnqueueConsolidation schedules a background consolidation for the user.
// Never called re-entrantly from the match path; it only queues.
func (s *Store) EnqueueConsolidation(userID string) {
	s.queueMu.Lock()
	if s.queued[userID] {
		s.queueMu.Unlock()
		return
	}
	s.queued[userID] = true
	s.queueMu.Unlock()

	select {
	case s.queue <- userID:
	default:
		// Queue full; the next enqueue will retry.
		s.queueMu.Lock()
		delete(s.queued, userID)
		s.queueMu.Unlock()
	}
}

func (s *Store) consolidationWorker() {
	defer s.workerWG.Done()
	for {
		select {
		case <-s.stopped:
			return
		case userID := <-s.queue:
			s.queueMu.Lock()
			delete(s.queued, userID)
			s.queueMu.Unlock()

			if merged, err := s.Consolidate(context.Background(), userID); err != nil {
				log.Printf("warning: pattern consolidation failed for user %s: %v", userID, err)
			} else if merged > 0 {
				log.Printf("info: consolidated %d pattern(s) for user %s", merged, userID)
			}
		}
	}
}

// Consolidate merges near-duplicate patterns: same normalized name or
// Jaccard-similar trigger sets. The higher-usage pattern survives and
// absorbs the other's counters. Returns the number of merges.
func (s *Store) Consolidate(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	up := s.get(userID)
	if up == nil {
		return 0, nil
	}

	up.mu.Lock()
	defer up.mu.Unlock()

	patterns := make([]*models.Pattern, 0, len(up.byID))
	for _, p := range up.byID {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].ID < patterns[j].ID })

	merged := 0
	for i := 0; i < len(patterns); i++ {
		a := patterns[i]
		if _, live := up.byID[a.ID]; !live {
			continue
		}
		for j := i + 1; j < len(patterns); j++ {
			b := patterns[j]
			if _, live := up.byID[b.ID]; !live {
				continue
			}
			if a.NormalizedName() != b.NormalizedName() &&
				jaccard(a.TriggerTokens(), b.TriggerTokens()) < jaccardMergeThreshold {
				continue
			}

			keeper, absorbed := a, b
			keeperCount, _ := keeper.Usage()
			absorbedCount, _ := absorbed.Usage()
			if absorbedCount > keeperCount {
				keeper, absorbed = absorbed, keeper
			}

			keeper.AbsorbCounters(absorbed)
			if err := absorbed.MarkState(models.PatternStateMerged); err != nil {
				log.Printf("warning: merged pattern %s state transition: %v", absorbed.ID, err)
			}
			delete(up.byID, absorbed.ID)
			delete(up.byName, absorbed.NormalizedName())
			up.byName[keeper.NormalizedName()] = keeper.ID
			merged++

			if keeper == b {
				a = keeper
			}
		}
	}
	return merged, nil
}

func (s *Store) Delete(ctx context.Context, userID, patternID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	up := s.get(userID)
	if up == nil {
		return nil
	}

	up.mu.Lock()
	defer up.mu.Unlock()

	if p, ok := up.byID[patternID]; ok {
		delete(up.byID, patternID)
		delete(up.byName, p.NormalizedName())
	}
	return nil
}

// EraseUser soft-archives and drops every pattern for the user.
func (s *Store) EraseUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	up := s.get(userID)
	if up != nil {
		up.mu.Lock()
		for _, p := range up.byID {
			if err := p.MarkState(models.PatternStateArchived); err != nil {
				log.Printf("warning: archiving pattern %s on erase: %v", p.ID, err)
			}
		}
		up.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	return nil
}

func (s *Store) get(userID string) *userPatterns {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID]
}

func (s *Store) getOrCreate(userID string) *userPatterns {
	if up := s.get(userID); up != nil {
		return up
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	up, ok := s.users[userID]
	if !ok {
		up = &userPatterns{
			byID:   make(map[string]*models.Pattern),
			byName: make(map[string]string),
		}
		s.users[userID] = up
	}
	return up
}

// compiled returns a cached compiled regex, or nil when the pattern does
// not compile. Bad regexes never fail the match path.
func (s *Store) compiled(pattern string) *regexp.Regexp {
	s.regexMu.Lock()
	defer s.regexMu.Unlock()

	if re, ok := s.regexCache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		log.Printf("warning: invalid regex trigger %q: %v", pattern, err)
		re = nil
	}
	s.regexCache[pattern] = re
	return re
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
