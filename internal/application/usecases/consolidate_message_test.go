package usecases

import (
	"context"
	"errors"
	"testing"

	"github.com/longregen/engram/internal/domain/models"
	"github.com/longregen/engram/internal/ports"
	"github.com/longregen/engram/internal/tiers/facts"
	"github.com/longregen/engram/shared/id"
)

type stubCapability struct {
	entities   []models.ExtractedEntity
	extractErr error
	embedErr   error
	embedCalls int
}

func (c *stubCapability) Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error) {
	c.embedCalls++
	if c.embedErr != nil {
		return nil, c.embedErr
	}
	return &ports.EmbeddingResult{Embedding: []float32{1, 0, 0}, Dimensions: 3}, nil
}

func (c *stubCapability) ExtractEntities(ctx context.Context, text string) ([]models.ExtractedEntity, error) {
	return c.entities, c.extractErr
}

func (c *stubCapability) ClassifyQuery(ctx context.Context, text string) (string, error) {
	return "", nil
}

func (c *stubCapability) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return "", nil
}

func (c *stubCapability) AnswerWithContext(ctx context.Context, query string, memCtx *models.MemoryContext) (string, error) {
	return "", nil
}

func (c *stubCapability) AnalyzeSentiment(ctx context.Context, text string) (*ports.SentimentResult, error) {
	return &ports.SentimentResult{}, nil
}

func (c *stubCapability) ProposePattern(ctx context.Context, text string) (*ports.PatternProposal, error) {
	return nil, nil
}

func (c *stubCapability) GetDimensions() int { return 3 }

type stubDetector struct {
	calls int
	err   error
}

func (d *stubDetector) Detect(ctx context.Context, msg *models.Message) (*models.Pattern, error) {
	d.calls++
	return nil, d.err
}

func srcMessage(t *testing.T) *models.Message {
	t.Helper()
	msg, err := models.NewMessage("msg_1", "user_1", "conv_1", models.MessageRoleUser,
		"my name is Ada and I use Go")
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestExecuteStoresExtractedFacts(t *testing.T) {
	ctx := context.Background()
	store := facts.NewStore()
	cap := &stubCapability{entities: []models.ExtractedEntity{
		{Key: "name", Value: "Ada", Type: models.EntityTypePerson, Importance: 0.9},
		{Key: "language", Value: "Go", Type: models.EntityTypeTechnology, Importance: 0.5},
	}}
	uc := NewConsolidateMessage(cap, store, id.Generator{}, nil)

	if err := uc.Execute(ctx, srcMessage(t)); err != nil {
		t.Fatal(err)
	}

	stored, _ := store.List(ctx, "user_1")
	if len(stored) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(stored))
	}
	for _, f := range stored {
		if f.SourceMessageID != "msg_1" {
			t.Errorf("fact %s must reference its source message", f.ID)
		}
		if !f.HasEmbedding() {
			t.Errorf("fact %s should be embedded", f.ID)
		}
	}
}

func TestExecuteSkipsMalformedEntities(t *testing.T) {
	ctx := context.Background()
	store := facts.NewStore()
	cap := &stubCapability{entities: []models.ExtractedEntity{
		{Key: "", Value: "orphan", Type: models.EntityTypeOther, Importance: 0.5},
		{Key: "name", Value: "Ada", Type: models.EntityTypePerson, Importance: 0.9},
	}}
	uc := NewConsolidateMessage(cap, store, id.Generator{}, nil)

	if err := uc.Execute(ctx, srcMessage(t)); err != nil {
		t.Fatalf("a malformed entity must be skipped, not fatal: %v", err)
	}
	stored, _ := store.List(ctx, "user_1")
	if len(stored) != 1 {
		t.Errorf("expected only the valid fact, got %d", len(stored))
	}
}

func TestExecutePrefersProvidedEmbedding(t *testing.T) {
	ctx := context.Background()
	store := facts.NewStore()
	cap := &stubCapability{entities: []models.ExtractedEntity{
		{Key: "name", Value: "Ada", Type: models.EntityTypePerson, Importance: 0.9,
			Embedding: []float32{0, 1, 0}},
	}}
	uc := NewConsolidateMessage(cap, store, id.Generator{}, nil)

	uc.Execute(ctx, srcMessage(t))
	if cap.embedCalls != 0 {
		t.Errorf("entities carrying embeddings must not be re-embedded, got %d calls", cap.embedCalls)
	}
}

func TestExecuteEmbeddingFailureKeepsFact(t *testing.T) {
	ctx := context.Background()
	store := facts.NewStore()
	cap := &stubCapability{
		entities: []models.ExtractedEntity{{Key: "name", Value: "Ada", Type: models.EntityTypePerson, Importance: 0.9}},
		embedErr: errors.New("embedder down"),
	}
	uc := NewConsolidateMessage(cap, store, id.Generator{}, nil)

	if err := uc.Execute(ctx, srcMessage(t)); err != nil {
		t.Fatalf("embedding failure must not fail consolidation: %v", err)
	}
	stored, _ := store.List(ctx, "user_1")
	if len(stored) != 1 || stored[0].HasEmbedding() {
		t.Errorf("fact should be stored without an embedding, got %v", stored)
	}
}

func TestExecuteExtractionFailurePropagatesAfterDetection(t *testing.T) {
	ctx := context.Background()
	store := facts.NewStore()
	detector := &stubDetector{}
	cap := &stubCapability{extractErr: errors.New("provider down")}
	uc := NewConsolidateMessage(cap, store, id.Generator{}, detector)

	err := uc.Execute(ctx, srcMessage(t))
	if err == nil {
		t.Fatal("extraction failure must surface")
	}
	if detector.calls != 1 {
		t.Error("pattern detection runs even when extraction fails")
	}
}

func TestExecuteDetectorFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	store := facts.NewStore()
	detector := &stubDetector{err: errors.New("detector down")}
	cap := &stubCapability{}
	uc := NewConsolidateMessage(cap, store, id.Generator{}, detector)

	if err := uc.Execute(ctx, srcMessage(t)); err != nil {
		t.Errorf("detector failures must not fail consolidation: %v", err)
	}
}

func TestExecuteNilMessage(t *testing.T) {
	uc := NewConsolidateMessage(&stubCapability{}, facts.NewStore(), id.Generator{}, nil)
	if err := uc.Execute(context.Background(), nil); err != nil {
		t.Errorf("nil message is a no-op, got %v", err)
	}
}
