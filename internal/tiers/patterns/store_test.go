package patterns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/internal/domain/models"
	"github.com/longregen/engram/internal/ports"
	"github.com/longregen/engram/shared/vectors"
)

type stubEmbedder struct {
	vecs map[string][]float32
	fail bool
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error) {
	if e.fail {
		return nil, errors.New("embedder down")
	}
	v, ok := e.vecs[text]
	if !ok {
		v = []float32{0, 0, 1}
	}
	return &ports.EmbeddingResult{Embedding: vectors.Normalize(v), Dimensions: len(v)}, nil
}

func pattern(t *testing.T, id, name string, triggers ...models.Trigger) *models.Pattern {
	t.Helper()
	p, err := models.NewPattern(id, "user_1", name, "test pattern", "Do the thing.", triggers)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func keyword(id, text string) models.Trigger {
	return models.Trigger{ID: id, Kind: models.TriggerKindKeyword, Pattern: text}
}

func TestMatchKeywordTrigger(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	s.Upsert(ctx, pattern(t, "pat_1", "bug report", keyword("trg_1", "bug report")))

	got, err := s.Match(ctx, "user_1", "please file a Bug Report for this")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "pat_1" {
		t.Fatalf("expected pat_1, got %v", got)
	}
	if got.UsageCount != 1 {
		t.Errorf("match must record usage, got count %d", got.UsageCount)
	}
	if got.State != models.PatternStateActive {
		t.Errorf("first use promotes candidate to active, got %s", got.State)
	}
}

func TestMatchMissReturnsNil(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	s.Upsert(ctx, pattern(t, "pat_1", "bug report", keyword("trg_1", "bug report")))

	got, err := s.Match(ctx, "user_1", "what is for lunch")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected no match, got %s", got.ID)
	}
}

func TestMatchRegexTrigger(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	s.Upsert(ctx, pattern(t, "pat_1", "deploy", models.Trigger{
		ID: "trg_1", Kind: models.TriggerKindRegex, Pattern: `deploy (to )?prod`,
	}))

	got, err := s.Match(ctx, "user_1", "Deploy to PROD now please")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "pat_1" {
		t.Fatalf("regex trigger should match case-insensitively, got %v", got)
	}
}

func TestInvalidRegexNeverMatchesOrPanics(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	s.Upsert(ctx, pattern(t, "pat_1", "broken", models.Trigger{
		ID: "trg_1", Kind: models.TriggerKindRegex, Pattern: `([`,
	}))
	s.Upsert(ctx, pattern(t, "pat_2", "working", keyword("trg_2", "status update")))

	got, err := s.Match(ctx, "user_1", "give me a status update")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "pat_2" {
		t.Fatalf("the broken regex must not block other patterns, got %v", got)
	}
}

func TestMatchSemanticTrigger(t *testing.T) {
	ctx := context.Background()
	e := &stubEmbedder{vecs: map[string][]float32{
		"summarize my meeting notes": {1, 0, 0},
	}}
	s := NewStore(WithEmbedder(e))
	defer s.Close()

	p := pattern(t, "pat_1", "meeting summary", models.Trigger{
		ID: "trg_1", Kind: models.TriggerKindSemantic, Pattern: "summarize meeting",
		Embedding: vectors.Normalize([]float32{0.95, 0.05, 0}),
	})
	s.Upsert(ctx, p)

	got, err := s.Match(ctx, "user_1", "summarize my meeting notes")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "pat_1" {
		t.Fatalf("expected semantic match, got %v", got)
	}
}

func TestMatchBelowThresholdIsRejected(t *testing.T) {
	ctx := context.Background()
	e := &stubEmbedder{vecs: map[string][]float32{
		"completely unrelated": {0, 1, 0},
	}}
	s := NewStore(WithEmbedder(e))
	defer s.Close()

	s.Upsert(ctx, pattern(t, "pat_1", "meeting summary", models.Trigger{
		ID: "trg_1", Kind: models.TriggerKindSemantic, Pattern: "summarize meeting",
		Embedding: vectors.Normalize([]float32{1, 0, 0}),
	}))

	got, err := s.Match(ctx, "user_1", "completely unrelated")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("orthogonal query must score below the threshold, got %s", got.ID)
	}
}

func TestMatchDegradesWhenEmbedderFails(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithEmbedder(&stubEmbedder{fail: true}))
	defer s.Close()

	s.Upsert(ctx, pattern(t, "pat_1", "mixed",
		models.Trigger{
			ID: "trg_1", Kind: models.TriggerKindSemantic, Pattern: "draft email",
			Embedding: []float32{1, 0, 0},
		},
		keyword("trg_2", "draft an email"),
	))

	got, err := s.Match(ctx, "user_1", "draft an email to the team")
	if !errors.Is(err, domain.ErrEmbeddingsFailed) {
		t.Fatalf("lexical fallback must be reported as a capability error, got %v", err)
	}
	if got == nil || got.ID != "pat_1" {
		t.Fatalf("keyword trigger should still fire, got %v", got)
	}
}

func TestMatchPicksHighestScore(t *testing.T) {
	ctx := context.Background()
	e := &stubEmbedder{vecs: map[string][]float32{
		"write the weekly report": {1, 0, 0},
	}}
	s := NewStore(WithEmbedder(e))
	defer s.Close()

	s.Upsert(ctx, pattern(t, "pat_semantic", "report style", models.Trigger{
		ID: "trg_1", Kind: models.TriggerKindSemantic, Pattern: "weekly report",
		Embedding: vectors.Normalize([]float32{0.9, 0.44, 0}),
	}))
	s.Upsert(ctx, pattern(t, "pat_keyword", "weekly report", keyword("trg_2", "weekly report")))

	got, err := s.Match(ctx, "user_1", "write the weekly report")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "pat_keyword" {
		t.Fatalf("exact keyword hit outscores a partial semantic hit, got %v", got)
	}
}

func TestUpsertMergesByNormalizedName(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	s.Upsert(ctx, pattern(t, "pat_1", "Greeting", keyword("trg_1", "hello")))

	incoming := pattern(t, "pat_2", "  greeting ", keyword("trg_2", "hi"))
	incoming.UsageCount = 3
	s.Upsert(ctx, incoming)

	all, _ := s.List(ctx, "user_1")
	if len(all) != 1 {
		t.Fatalf("same normalized name must merge, got %d patterns", len(all))
	}
	if all[0].ID != "pat_1" {
		t.Errorf("first pattern survives the merge, got %s", all[0].ID)
	}
	if all[0].UsageCount != 3 {
		t.Errorf("merge absorbs usage counters, got %d", all[0].UsageCount)
	}
}

func TestUpsertRejectsTriggerlessPattern(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	err := s.Upsert(ctx, &models.Pattern{ID: "pat_1", UserID: "user_1", Name: "empty"})
	if !errors.Is(err, domain.ErrPatternNoTriggers) {
		t.Errorf("expected ErrPatternNoTriggers, got %v", err)
	}
}

func TestConsolidateMergesSimilarTriggerSets(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	a := pattern(t, "pat_a", "email drafting", keyword("trg_1", "draft email"), keyword("trg_2", "write email"))
	b := pattern(t, "pat_b", "email helper", keyword("trg_3", "draft email"), keyword("trg_4", "write email"), keyword("trg_5", "compose"))
	b.UsageCount = 5
	s.Upsert(ctx, a)
	s.Upsert(ctx, b)

	merged, err := s.Consolidate(ctx, "user_1")
	if err != nil {
		t.Fatal(err)
	}
	if merged != 1 {
		t.Fatalf("expected 1 merge, got %d", merged)
	}

	all, _ := s.List(ctx, "user_1")
	if len(all) != 1 {
		t.Fatalf("expected 1 surviving pattern, got %d", len(all))
	}
	if all[0].ID != "pat_b" {
		t.Errorf("higher-usage pattern survives, got %s", all[0].ID)
	}
	if all[0].UsageCount != 5 {
		t.Errorf("survivor absorbs the loser's counters, got %d", all[0].UsageCount)
	}
}

func TestConsolidateLeavesDistinctPatternsAlone(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	s.Upsert(ctx, pattern(t, "pat_a", "emails", keyword("trg_1", "draft email")))
	s.Upsert(ctx, pattern(t, "pat_b", "reports", keyword("trg_2", "weekly report")))

	merged, err := s.Consolidate(ctx, "user_1")
	if err != nil {
		t.Fatal(err)
	}
	if merged != 0 {
		t.Errorf("distinct patterns must not merge, got %d merges", merged)
	}
	if all, _ := s.List(ctx, "user_1"); len(all) != 2 {
		t.Errorf("expected both patterns intact, got %d", len(all))
	}
}

func TestBackgroundConsolidation(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	s.Upsert(ctx, pattern(t, "pat_a", "emails", keyword("trg_1", "draft email")))
	s.Upsert(ctx, pattern(t, "pat_b", "mail", keyword("trg_2", "draft email")))

	s.EnqueueConsolidation("user_1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if all, _ := s.List(ctx, "user_1"); len(all) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("background worker never consolidated the duplicates")
}

func TestDeleteFreesTheName(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	s.Upsert(ctx, pattern(t, "pat_1", "greeting", keyword("trg_1", "hello")))
	if err := s.Delete(ctx, "user_1", "pat_1"); err != nil {
		t.Fatal(err)
	}

	s.Upsert(ctx, pattern(t, "pat_2", "greeting", keyword("trg_2", "hi")))
	all, _ := s.List(ctx, "user_1")
	if len(all) != 1 || all[0].ID != "pat_2" {
		t.Errorf("deleted name must be reusable, got %v", all)
	}
}

func TestGetUnknownPattern(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	if _, err := s.Get(ctx, "user_1", "pat_missing"); !errors.Is(err, domain.ErrPatternNotFound) {
		t.Errorf("expected ErrPatternNotFound, got %v", err)
	}
}

func TestEraseUser(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	s.Upsert(ctx, pattern(t, "pat_1", "greeting", keyword("trg_1", "hello")))
	other, _ := models.NewPattern("pat_2", "user_2", "greeting", "d", "i",
		[]models.Trigger{keyword("trg_2", "hello")})
	s.Upsert(ctx, other)

	if err := s.EraseUser(ctx, "user_1"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Match(ctx, "user_1", "hello there")
	if err != nil || got != nil {
		t.Errorf("erased user must have no matchable patterns, got %v / %v", got, err)
	}
	if all, _ := s.List(ctx, "user_2"); len(all) != 1 {
		t.Error("other users must be untouched")
	}
}

func TestJaccard(t *testing.T) {
	set := func(tokens ...string) map[string]struct{} {
		out := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			out[tok] = struct{}{}
		}
		return out
	}

	if got := jaccard(set("a", "b"), set("a", "b")); got != 1.0 {
		t.Errorf("identical sets: expected 1.0, got %f", got)
	}
	if got := jaccard(set("a", "b"), set("c")); got != 0 {
		t.Errorf("disjoint sets: expected 0, got %f", got)
	}
	if got := jaccard(set("a", "b"), set("b", "c")); got != 1.0/3.0 {
		t.Errorf("expected 1/3, got %f", got)
	}
	if got := jaccard(nil, set("a")); got != 0 {
		t.Errorf("empty set: expected 0, got %f", got)
	}
}
