package ports

import (
	"context"

	"github.com/longregen/engram/internal/domain/models"
)

// EmbeddingResult contains a generated embedding and its provenance.
type EmbeddingResult struct {
	Embedding  []float32
	Model      string
	Dimensions int
}

// SentimentResult is the provider's sentiment read on a text.
type SentimentResult struct {
	Score float32 // -1 (negative) .. 1 (positive)
	Label string
}

// PatternProposal is the structured pattern suggestion returned by the
// provider during detection. Shape is validated before upsert.
type PatternProposal struct {
	Name                string            `json:"name"`
	Description         string            `json:"description"`
	Triggers            []ProposedTrigger `json:"triggers"`
	InstructionTemplate string            `json:"instruction_template"`
}

type ProposedTrigger struct {
	Kind    string `json:"kind"`
	Pattern string `json:"pattern"`
}

// Capability is the external text/embedding/LLM provider. Every operation
// honors its context; the engine treats failures as degradable.
type Capability interface {
	Embed(ctx context.Context, text string) (*EmbeddingResult, error)
	ExtractEntities(ctx context.Context, text string) ([]models.ExtractedEntity, error)
	ClassifyQuery(ctx context.Context, text string) (string, error)
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
	AnswerWithContext(ctx context.Context, query string, memCtx *models.MemoryContext) (string, error)
	AnalyzeSentiment(ctx context.Context, text string) (*SentimentResult, error)
	ProposePattern(ctx context.Context, text string) (*PatternProposal, error)
	GetDimensions() int
}
