// Package scoring implements the salience scorer: a pure function mapping a
// message to an importance scalar in [0,1] used for retention and ranking.
package scoring

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/longregen/engram/internal/domain/models"
)

// Scorer produces importance scores from textual and contextual signals.
// It is stateless and performs no I/O.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// Breakdown exposes the scorer's components for diagnostics. The scalar
// returned by Score is authoritative; these pieces do not sum to it.
type Breakdown struct {
	Base            float32
	EmotionalWeight float32
	NoveltyBoost    float32
	RecencyFactor   float32
}

const (
	// neutralImportance is returned when no signal clears the threshold.
	neutralImportance = 0.30
	// dampener keeps co-occurring strong signals from saturating at 1.0.
	dampener = 0.90
	// signalThreshold filters numeric noise out of the geometric mean.
	signalThreshold = 0.01
)

// Phrase tables. Each lookup takes the highest-weighted match.

var decisionPhrases = []weightedPhrase{
	{"final decision", 0.50},
	{"we decided", 0.50},
	{"we've decided", 0.50},
	{"decided to", 0.50},
	{"settled on", 0.50},
	{"going with", 0.50},
	{"we will use", 0.25},
	{"we'll use", 0.25},
	{"let's go with", 0.25},
	{"plan to", 0.25},
	{"we should", 0.25},
	{"maybe we", 0.15},
	{"we might", 0.15},
	{"could consider", 0.15},
}

var importanceMarkers = []weightedPhrase{
	{"critical", 0.60},
	{"must", 0.60},
	{"required", 0.60},
	{"important", 0.40},
	{"remember", 0.40},
	{"key", 0.40},
	{"don't forget", 0.35},
	{"dont forget", 0.35},
	{"take note", 0.35},
}

var contextBackPhrases = []string{
	"as we discussed", "as discussed", "previously", "as i mentioned",
	"like we talked about", "earlier you said",
}

var contextForwardPhrases = []string{
	"going forward", "from now on", "in the future", "next time",
	"later we", "we'll come back",
}

var modalVerbs = []string{
	"should", "could", "would", "shall", "might", "ought",
}

var codeVocabulary = []string{
	"function", "class", "method", "variable", "array", "struct",
	"interface", "import", "return", "compile", "runtime", "api",
	"endpoint", "query", "schema",
}

var technicalVocabulary = []string{
	"database", "server", "deployment", "architecture", "latency",
	"throughput", "kubernetes", "docker", "microservice", "protocol",
	"encryption", "authentication", "cache", "index", "replication",
	"algorithm", "concurrency", "transaction",
}

var negativeKeywords = []string{
	"problem", "issue", "broken", "fail", "failed", "error", "bug",
	"wrong", "bad", "frustrat", "annoying", "blocked",
}

var positiveKeywords = []string{
	"great", "excellent", "perfect", "love", "awesome", "works",
	"fixed", "solved", "thanks", "nice",
}

// commonCapitalized are capitalized words that carry no novelty signal.
var commonCapitalized = map[string]bool{
	"i": true, "the": true, "a": true, "an": true, "this": true,
	"that": true, "we": true, "you": true, "it": true, "my": true,
	"our": true, "if": true, "so": true, "but": true, "and": true,
	"or": true, "in": true, "on": true, "for": true, "to": true,
	"is": true, "what": true, "how": true, "why": true, "when": true,
	"yes": true, "no": true, "ok": true, "okay": true,
}

type weightedPhrase struct {
	phrase string
	weight float32
}

var (
	fencedCodeRe  = regexp.MustCompile("(?s)```.+?```")
	inlineCodeRe  = regexp.MustCompile("`[^`]+`")
	acronymRe     = regexp.MustCompile(`\b[A-Z]{2,}\b`)
	wordRe        = regexp.MustCompile(`[A-Za-z][A-Za-z']*`)
	sentenceEndRe = regexp.MustCompile(`[.!?]\s+`)
)

// Score returns the importance of a message in [0,1]. It depends only on
// the message content, timestamp, and metadata.
func (s *Scorer) Score(msg *models.Message) float32 {
	signals := []float32{
		s.decisionSignal(msg.Content),
		s.markerSignal(msg.Content),
		s.questionSignal(msg.Content),
		s.codeSignal(msg.Content),
		s.noveltySignal(msg),
		s.sentimentSignal(msg.Content),
		s.technicalSignal(msg.Content),
		s.contextSignal(msg),
	}

	nonZero := make([]float64, 0, len(signals))
	for _, sig := range signals {
		if sig > signalThreshold {
			nonZero = append(nonZero, float64(sig))
		}
	}

	if len(nonZero) == 0 {
		return neutralImportance
	}

	// Geometric mean: the arithmetic mean over-rewards messages that brush
	// many weak signals.
	logSum := 0.0
	for _, v := range nonZero {
		logSum += math.Log(v)
	}
	mean := math.Exp(logSum / float64(len(nonZero)))

	score := dampener * mean
	if score > 1.0 {
		score = 1.0
	}
	return float32(score)
}

// ScoreBreakdown returns the structured diagnostic view alongside the
// authoritative scalar.
func (s *Scorer) ScoreBreakdown(msg *models.Message, now time.Time) (float32, Breakdown) {
	score := s.Score(msg)

	ageHours := now.Sub(msg.Timestamp).Hours()
	recency := 1.0
	if ageHours >= 1 {
		recency = math.Exp(-ageHours / 24)
	}

	return score, Breakdown{
		Base:            s.decisionSignal(msg.Content),
		EmotionalWeight: s.sentimentSignal(msg.Content),
		NoveltyBoost:    s.noveltySignal(msg),
		RecencyFactor:   float32(recency),
	}
}

func (s *Scorer) decisionSignal(content string) float32 {
	return maxPhraseWeight(strings.ToLower(content), decisionPhrases)
}

func (s *Scorer) markerSignal(content string) float32 {
	return maxPhraseWeight(strings.ToLower(content), importanceMarkers)
}

func (s *Scorer) questionSignal(content string) float32 {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}

	if strings.HasSuffix(trimmed, "?") {
		lower := strings.ToLower(trimmed)
		for _, modal := range modalVerbs {
			if containsWord(lower, modal) {
				return 0.40 // deliberative
			}
		}
		return 0.20 // factual
	}

	if strings.Contains(trimmed, "?") {
		return 0.05
	}
	return 0
}

func (s *Scorer) codeSignal(content string) float32 {
	if fencedCodeRe.MatchString(content) {
		return 0.60
	}
	if inlineCodeRe.MatchString(content) {
		return 0.45
	}
	lower := strings.ToLower(content)
	for _, word := range codeVocabulary {
		if containsWord(lower, word) {
			return 0.30
		}
	}
	return 0
}

func (s *Scorer) noveltySignal(msg *models.Message) float32 {
	var signal float32

	novel := 0
	for _, e := range msg.Metadata.ExtractedEntities {
		if e.IsNovel {
			novel++
		}
	}
	signal += minf(0.15*float32(novel), 0.50)

	if msg.Metadata.HasTag(models.TagFirstMessage) {
		signal += 0.30
	}

	signal += minf(0.05*float32(s.uncommonCapitalized(msg.Content)), 0.20)
	return signal
}

// uncommonCapitalized counts capitalized words that neither start a
// sentence nor belong to the common-word set; they usually name people,
// places, or products.
func (s *Scorer) uncommonCapitalized(content string) int {
	sentenceStarts := map[int]bool{0: true}
	for _, loc := range sentenceEndRe.FindAllStringIndex(content, -1) {
		sentenceStarts[loc[1]] = true
	}

	count := 0
	for _, loc := range wordRe.FindAllStringIndex(content, -1) {
		word := content[loc[0]:loc[1]]
		first := word[0]
		if first < 'A' || first > 'Z' {
			continue
		}
		if sentenceStarts[loc[0]] {
			continue
		}
		if commonCapitalized[strings.ToLower(word)] {
			continue
		}
		if strings.ToUpper(word) == word && len(word) >= 2 {
			continue // acronyms score under technical depth
		}
		count++
	}
	return count
}

func (s *Scorer) sentimentSignal(content string) float32 {
	lower := strings.ToLower(content)
	var signal float32

	for _, kw := range negativeKeywords {
		if strings.Contains(lower, kw) {
			signal += 0.35
			break
		}
	}
	for _, kw := range positiveKeywords {
		if strings.Contains(lower, kw) {
			signal += 0.25
			break
		}
	}

	signal += minf(0.05*float32(strings.Count(content, "!")), 0.15)
	return signal
}

func (s *Scorer) technicalSignal(content string) float32 {
	lower := strings.ToLower(content)
	var signal float32

	vocab := 0
	for _, word := range technicalVocabulary {
		if containsWord(lower, word) {
			vocab++
		}
	}
	signal += minf(0.15*float32(vocab), 0.40)

	if len(content) > 200 {
		signal += 0.15
	}

	acronyms := len(acronymRe.FindAllString(content, -1))
	signal += minf(0.10*float32(acronyms), 0.20)
	return signal
}

func (s *Scorer) contextSignal(msg *models.Message) float32 {
	var signal float32

	if msg.Metadata.HasTag(models.TagEarlyConversation) {
		signal += 0.15
	}

	lower := strings.ToLower(msg.Content)
	for _, p := range contextBackPhrases {
		if strings.Contains(lower, p) {
			signal += 0.25
			break
		}
	}
	for _, p := range contextForwardPhrases {
		if strings.Contains(lower, p) {
			signal += 0.20
			break
		}
	}

	if signal > 1 {
		signal = 1
	}
	return signal
}

func maxPhraseWeight(lower string, table []weightedPhrase) float32 {
	var best float32
	for _, wp := range table {
		if wp.weight <= best {
			continue
		}
		// Single words need a boundary check ("key" must not match
		// "monkey"); multi-word phrases are specific enough as-is.
		if strings.ContainsRune(wp.phrase, ' ') {
			if strings.Contains(lower, wp.phrase) {
				best = wp.weight
			}
		} else if containsWord(lower, wp.phrase) {
			best = wp.weight
		}
	}
	return best
}

// containsWord does a word-boundary contains check without allocating a
// regexp per call.
func containsWord(lower, word string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(lower[start-1])
		afterOK := end == len(lower) || !isWordChar(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
		if idx >= len(lower) {
			return false
		}
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
