// Package services contains the memory engine orchestrator and its
// background task supervisor.
package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/longregen/engram/internal/adapters/metrics"
	"github.com/longregen/engram/internal/adapters/tracing"
	"github.com/longregen/engram/internal/classify"
	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/internal/domain/models"
	"github.com/longregen/engram/internal/ports"
	"github.com/longregen/engram/internal/scoring"
)

// Per-retrieval result caps.
const (
	shortTermWindow = 10
	maxFactResults  = 20
	maxArchiveHits  = 5
)

// advisoryConfidenceFloor is the plan confidence below which the engine
// consults the capability's query classifier.
const advisoryConfidenceFloor = 0.4

// consolidator is the background half of the store path.
type consolidator interface {
	Execute(ctx context.Context, msg *models.Message) error
}

// reaper is implemented by short-term stores that support TTL reclamation.
type reaper interface {
	ReapExpired(ctx context.Context) (int, error)
}

// queryLabeler is the advisory slice of the capability consulted when the
// built-in classifier is unsure about a query.
type queryLabeler interface {
	ClassifyQuery(ctx context.Context, text string) (string, error)
}

// Deps wires the engine. ShortTerm, Facts, Archive, Patterns, and IDs are
// required; Consolidate and Supervisor are optional (without them the
// store path is foreground-only), as is Capability (without it
// low-confidence plans skip the advisory classification).
type Deps struct {
	ShortTerm   ports.ShortTermStore
	Facts       ports.FactStore
	Archive     ports.ArchiveStore
	Patterns    ports.PatternStore
	IDs         ports.IDGenerator
	Consolidate consolidator
	Supervisor  *Supervisor
	Capability  queryLabeler
	Clock       ports.Clock
}

// Engine is the orchestrator: the single entry point for storing turns,
// retrieving context, and erasing users across all four tiers.
type Engine struct {
	scorer     *scoring.Scorer
	classifier *classify.Classifier

	shortTerm ports.ShortTermStore
	facts     ports.FactStore
	archive   ports.ArchiveStore
	patterns  ports.PatternStore

	ids         ports.IDGenerator
	consolidate consolidator
	supervisor  *Supervisor
	labeler     queryLabeler
	clock       ports.Clock

	mu        sync.Mutex
	seenUsers map[string]struct{}
}

func NewEngine(deps Deps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Engine{
		scorer:      scoring.NewScorer(),
		classifier:  classify.NewClassifier(),
		shortTerm:   deps.ShortTerm,
		facts:       deps.Facts,
		archive:     deps.Archive,
		patterns:    deps.Patterns,
		ids:         deps.IDs,
		consolidate: deps.Consolidate,
		supervisor:  deps.Supervisor,
		labeler:     deps.Capability,
		clock:       clock,
		seenUsers:   make(map[string]struct{}),
	}
}

// Store ingests one conversational turn: score it, write it to the archive
// and the short-term window in parallel (both mandatory), then hand it to
// the background pipeline. The returned message carries its importance.
func (e *Engine) Store(ctx context.Context, userID, conversationID string, role models.MessageRole, content string) (*models.Message, error) {
	ctx, span := tracing.Tracer().Start(ctx, "engine.store")
	defer span.End()
	span.SetAttributes(
		attribute.String("engram.user_id", userID),
		attribute.String("engram.role", string(role)),
		attribute.Int("engram.content_length", len(content)),
	)

	msg, err := models.NewMessage(e.ids.GenerateMessageID(), userID, conversationID, role, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	turns, err := e.archive.CountByConversation(ctx, userID, conversationID)
	if err != nil {
		wrapped := domain.NewAdapterError(err, "count conversation turns")
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return nil, wrapped
	}

	md := msg.Metadata
	if turns == 0 {
		md.Tags = append(md.Tags, models.TagFirstMessage)
	}
	if turns < models.EarlyTurnCount {
		md.Tags = append(md.Tags, models.TagEarlyConversation)
	}
	msg = msg.WithMetadata(md)

	// Importance is assigned exactly once, before any tier sees the message.
	msg = msg.WithImportance(e.scorer.Score(msg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.archive.Archive(gctx, msg); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := e.shortTerm.Add(gctx, userID, conversationID, msg); err != nil {
			return fmt.Errorf("short-term: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		wrapped := domain.NewAdapterError(err, "store message")
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return nil, wrapped
	}
	span.SetAttributes(attribute.Float64("engram.importance", float64(msg.Metadata.Importance)))

	e.noteUser(userID)
	metrics.MessagesStored.Inc()

	if e.supervisor != nil && e.consolidate != nil {
		stored := msg
		e.supervisor.Go("consolidate:"+stored.ID, func(taskCtx context.Context) error {
			return e.consolidate.Execute(taskCtx, stored)
		})
	}
	return msg, nil
}

// Retrieve assembles a MemoryContext for the query. Tier reads run in
// parallel per the classifier's plan; a failing tier is recorded as
// degraded and skipped, never propagated. Retrieve only errors on invalid
// input or caller cancellation.
func (e *Engine) Retrieve(ctx context.Context, userID, conversationID, query string) (*models.MemoryContext, error) {
	ctx, span := tracing.Tracer().Start(ctx, "engine.retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("engram.user_id", userID))

	if userID == "" {
		return nil, domain.NewInputError(domain.ErrEmptyUserID, "retrieve")
	}
	if conversationID == "" {
		return nil, domain.NewInputError(domain.ErrEmptyConversationID, "retrieve")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := e.clock.Now()

	turns, err := e.archive.CountByConversation(ctx, userID, conversationID)
	if err != nil {
		// Planning degrades to a fresh-conversation assumption.
		turns = 0
	}
	state := models.ConversationState{
		UserID:         userID,
		ConversationID: conversationID,
		TurnCount:      turns,
		LastActivity:   start,
	}

	plan := e.classifier.Plan(query, state)
	if e.labeler != nil && plan.Confidence < advisoryConfidenceFloor {
		// Advisory only: the provider's label can rename the plan type,
		// the low-confidence tier set keeps its all-tiers floor.
		if label, err := e.labeler.ClassifyQuery(ctx, query); err != nil {
			log.Printf("[Engine] advisory query classification unavailable: %v", err)
		} else if qt, ok := models.ParseQueryType(label); ok {
			plan.Type = qt
		}
	}
	memCtx := &models.MemoryContext{
		UserID:         userID,
		ConversationID: conversationID,
		Query:          query,
		Plan:           plan,
	}

	var mu sync.Mutex
	degrade := func(tier models.Tier) {
		mu.Lock()
		memCtx.DegradedTiers = append(memCtx.DegradedTiers, tier)
		mu.Unlock()
		metrics.TierDegraded.WithLabelValues(string(tier)).Inc()
	}

	// Each read reports degradation instead of returning an error, so one
	// slow or broken tier never cancels the others.
	var wg sync.WaitGroup
	if plan.Uses(models.TierShortTerm) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recent, err := e.shortTerm.GetRecent(ctx, userID, conversationID, shortTermWindow)
			if err != nil {
				degrade(models.TierShortTerm)
				return
			}
			mu.Lock()
			memCtx.WorkingMemory = recent
			mu.Unlock()
		}()
	}
	if plan.Uses(models.TierFacts) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			facts, err := e.facts.Search(ctx, userID, query, maxFactResults)
			if err != nil {
				// Capability-kind errors mean the tier fell back to
				// lexical matching; its results are still usable.
				degrade(models.TierFacts)
				if domain.Classify(err) != domain.KindCapability {
					return
				}
			}
			mu.Lock()
			memCtx.Facts = facts
			mu.Unlock()
		}()
	}
	if plan.Uses(models.TierArchive) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := e.archive.Search(ctx, userID, query, maxArchiveHits)
			if err != nil {
				degrade(models.TierArchive)
				return
			}
			mu.Lock()
			memCtx.ArchiveHits = hits
			mu.Unlock()
		}()
	}
	if plan.Uses(models.TierPatterns) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pattern, err := e.patterns.Match(ctx, userID, query)
			if err != nil {
				degrade(models.TierPatterns)
				if domain.Classify(err) != domain.KindCapability {
					return
				}
			}
			if pattern != nil {
				metrics.PatternsMatched.Inc()
				mu.Lock()
				memCtx.MatchedPattern = pattern
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(memCtx.DegradedTiers, func(i, j int) bool {
		return memCtx.DegradedTiers[i] < memCtx.DegradedTiers[j]
	})
	memCtx.EstimatedTokens = memCtx.EstimateTokens()

	elapsed := e.clock.Now().Sub(start)
	memCtx.RetrievalLatencyMS = elapsed.Milliseconds()
	metrics.RetrievalLatency.Observe(elapsed.Seconds())
	metrics.Retrievals.WithLabelValues(string(plan.Type)).Inc()
	span.SetAttributes(
		attribute.String("engram.query_type", string(plan.Type)),
		attribute.Int("engram.degraded_tiers", len(memCtx.DegradedTiers)),
		attribute.Int("engram.estimated_tokens", memCtx.EstimatedTokens),
	)

	e.noteUser(userID)
	return memCtx, nil
}

// EraseUser removes every trace of the user from all four tiers in
// parallel. Tiers that fail are named in the returned error; the call is
// safe to retry since successful tiers erase idempotently.
func (e *Engine) EraseUser(ctx context.Context, userID string) error {
	ctx, span := tracing.Tracer().Start(ctx, "engine.erase_user")
	defer span.End()
	span.SetAttributes(attribute.String("engram.user_id", userID))

	if userID == "" {
		return domain.NewInputError(domain.ErrEmptyUserID, "erase")
	}

	type tierErase struct {
		tier models.Tier
		fn   func(context.Context, string) error
	}
	erasures := []tierErase{
		{models.TierShortTerm, e.shortTerm.EraseUser},
		{models.TierFacts, e.facts.EraseUser},
		{models.TierArchive, e.archive.EraseUser},
		{models.TierPatterns, e.patterns.EraseUser},
	}

	var mu sync.Mutex
	var failed []string
	var wg sync.WaitGroup
	for _, te := range erasures {
		wg.Add(1)
		go func(te tierErase) {
			defer wg.Done()
			if err := te.fn(ctx, userID); err != nil {
				mu.Lock()
				failed = append(failed, string(te.tier))
				mu.Unlock()
			}
		}(te)
	}
	wg.Wait()

	e.mu.Lock()
	delete(e.seenUsers, userID)
	e.mu.Unlock()

	if len(failed) > 0 {
		sort.Strings(failed)
		metrics.UserErasures.WithLabelValues("failed").Inc()
		wrapped := domain.NewAdapterError(domain.ErrEraseIncomplete, "tiers: "+strings.Join(failed, ", "))
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return wrapped
	}
	metrics.UserErasures.WithLabelValues("ok").Inc()
	return nil
}

// Maintain runs one maintenance pass: reap expired short-term partitions,
// prune evictable facts, and consolidate patterns for every active user.
// Callers schedule it on a ticker.
func (e *Engine) Maintain(ctx context.Context) error {
	if r, ok := e.shortTerm.(reaper); ok {
		if _, err := r.ReapExpired(ctx); err != nil {
			return fmt.Errorf("reap short-term: %w", err)
		}
	}

	for _, userID := range e.activeUsers() {
		pruned, err := e.facts.Prune(ctx, userID)
		if err != nil {
			return fmt.Errorf("prune facts for %s: %w", userID, err)
		}
		if pruned > 0 {
			metrics.FactsPruned.Add(float64(pruned))
		}
		if _, err := e.patterns.Consolidate(ctx, userID); err != nil {
			return fmt.Errorf("consolidate patterns for %s: %w", userID, err)
		}
	}
	return nil
}

// Drain waits for in-flight background tasks, for shutdown.
func (e *Engine) Drain(ctx context.Context) error {
	if e.supervisor == nil {
		return nil
	}
	return e.supervisor.Drain(ctx)
}

func (e *Engine) noteUser(userID string) {
	e.mu.Lock()
	e.seenUsers[userID] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) activeUsers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	users := make([]string, 0, len(e.seenUsers))
	for u := range e.seenUsers {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
