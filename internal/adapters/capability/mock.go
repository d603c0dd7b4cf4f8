package capability

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"regexp"
	"strings"

	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/internal/domain/models"
	"github.com/longregen/engram/internal/ports"
	"github.com/longregen/engram/shared/vectors"
)

// MockDimensions is the embedding width of the deterministic provider.
const MockDimensions = 64

// Mock is a deterministic, offline provider: hashed embeddings and
// rule-based extraction. It backs tests and the local development mode, so
// identical inputs always produce identical outputs.
type Mock struct {
	FailEmbeddings bool // when set, Embed returns an error to exercise degradation
}

func NewMock() *Mock {
	return &Mock{}
}

// Embed produces a unit-length vector derived from token hashes. Texts
// sharing tokens land closer together, which is enough signal for
// similarity ranking in tests.
func (m *Mock) Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailEmbeddings {
		return nil, domain.NewCapabilityError(domain.ErrEmbeddingsFailed, "mock configured to fail")
	}

	embedding := make([]float32, MockDimensions)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		for i := 0; i < MockDimensions; i++ {
			bits := binary.BigEndian.Uint32(sum[(i*4)%28 : (i*4)%28+4])
			// Spread each token over every dimension with a stable sign.
			v := float32(bits%1000)/1000.0 - 0.5
			if i%2 == int(sum[i%32])%2 {
				v = -v
			}
			embedding[i] += v
		}
	}
	if allZero(embedding) {
		embedding[0] = 1
	}

	return &ports.EmbeddingResult{
		Embedding:  vectors.Normalize(embedding),
		Model:      "mock",
		Dimensions: MockDimensions,
	}, nil
}

func (m *Mock) GetDimensions() int { return MockDimensions }

var (
	nameRe       = regexp.MustCompile(`(?i)\bmy name is (\w+)`)
	preferenceRe = regexp.MustCompile(`(?i)\bi (?:prefer|love|like|always use) ([\w .+-]+)`)
	decisionRe   = regexp.MustCompile(`(?i)\bwe (?:decided|agreed|settled) (?:on |to )?([\w .+-]+)`)
	usesRe       = regexp.MustCompile(`(?i)\b(?:i use|we use|using|switched to) ([\w .+-]+)`)
)

// ExtractEntities applies fixed lexical rules. Deliberately conservative:
// only high-precision forms become facts.
func (m *Mock) ExtractEntities(ctx context.Context, text string) ([]models.ExtractedEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entities []models.ExtractedEntity
	if match := nameRe.FindStringSubmatch(text); match != nil {
		entities = append(entities, models.ExtractedEntity{
			Key: "name", Value: match[1], Type: models.EntityTypePerson, Importance: 0.9,
		})
	}
	if match := preferenceRe.FindStringSubmatch(text); match != nil {
		entities = append(entities, models.ExtractedEntity{
			Key: "preference", Value: trimClause(match[1]), Type: models.EntityTypePreference, Importance: 0.6,
		})
	}
	if match := decisionRe.FindStringSubmatch(text); match != nil {
		entities = append(entities, models.ExtractedEntity{
			Key: "decision", Value: trimClause(match[1]), Type: models.EntityTypeDecision, Importance: 0.8,
		})
	}
	if match := usesRe.FindStringSubmatch(text); match != nil {
		entities = append(entities, models.ExtractedEntity{
			Key: "technology", Value: trimClause(match[1]), Type: models.EntityTypeTechnology, Importance: 0.5,
		})
	}
	return entities, nil
}

func (m *Mock) ClassifyQuery(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "exactly") || strings.Contains(lower, "quote"):
		return string(models.QueryTypeDeepRecall), nil
	case strings.Contains(lower, "what") || strings.Contains(lower, "who"):
		return string(models.QueryTypeFactRetrieval), nil
	case strings.Contains(lower, "write") || strings.Contains(lower, "generate"):
		return string(models.QueryTypeProceduralTrigger), nil
	case strings.HasPrefix(lower, "continue") || strings.HasPrefix(lower, "go on"):
		return string(models.QueryTypeContinuation), nil
	}
	return string(models.QueryTypeComplex), nil
}

func (m *Mock) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "ok", nil
}

func (m *Mock) AnswerWithContext(ctx context.Context, query string, memCtx *models.MemoryContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if memCtx == nil || memCtx.IsEmpty() {
		return "I have no stored context for that.", nil
	}
	return "Based on stored context: " + memCtx.Render(), nil
}

var negativeWords = []string{"hate", "broken", "terrible", "frustrated", "awful", "fail"}
var positiveWords = []string{"love", "great", "excellent", "perfect", "thanks", "works"}

func (m *Mock) AnalyzeSentiment(ctx context.Context, text string) (*ports.SentimentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lower := strings.ToLower(text)
	score := float32(0)
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			score -= 0.4
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			score += 0.4
		}
	}
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}

	label := "neutral"
	if score > 0.2 {
		label = "positive"
	} else if score < -0.2 {
		label = "negative"
	}
	return &ports.SentimentResult{Score: score, Label: label}, nil
}

var proposeRe = regexp.MustCompile(`(?i)\b(?:always|whenever|every time|from now on)\b.{0,80}`)

// ProposePattern proposes a keyword-triggered pattern when the message
// states a standing instruction. Returns nil for one-off requests.
func (m *Mock) ProposePattern(ctx context.Context, text string) (*ports.PatternProposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !proposeRe.MatchString(text) {
		return nil, nil
	}

	keyword := dominantKeyword(text)
	if keyword == "" {
		return nil, nil
	}

	return &ports.PatternProposal{
		Name:        keyword + " preference",
		Description: "Standing instruction derived from: " + trimClause(text),
		Triggers: []ports.ProposedTrigger{
			{Kind: string(models.TriggerKindKeyword), Pattern: keyword},
		},
		InstructionTemplate: "Apply the user's standing instruction: " + trimClause(text),
	}, nil
}

var stopwords = map[string]bool{
	"always": true, "whenever": true, "every": true, "time": true,
	"from": true, "now": true, "on": true, "the": true, "a": true,
	"i": true, "my": true, "me": true, "please": true, "you": true,
	"want": true, "when": true, "use": true, "make": true, "in": true,
}

// dominantKeyword picks the longest non-stopword as the trigger keyword.
func dominantKeyword(text string) string {
	best := ""
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if stopwords[word] || len(word) < 4 {
			continue
		}
		if len(word) > len(best) {
			best = word
		}
	}
	return best
}

func trimClause(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, ".!?\n"); idx > 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return strings.TrimSpace(s)
}

func allZero(v []float32) bool {
	for _, x := range v {
		if math.Abs(float64(x)) > 0 {
			return false
		}
	}
	return true
}
