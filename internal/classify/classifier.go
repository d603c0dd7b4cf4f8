// Package classify implements the query classifier: a pure two-stage
// routing decision mapping a query and conversation state to the set of
// memory tiers worth consulting.
package classify

import (
	"strings"

	"github.com/longregen/engram/internal/domain/models"
)

// Classifier plans tier usage for a query. No I/O, no state.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

// Confidence bands for the signal stage.
const (
	highConfidence = 0.80
	midConfidence  = 0.60
)

// Fast-path cue tables.

var continuationCues = []string{
	"continue", "go on", "keep going", "and then", "carry on",
	"next", "what else", "more",
}

var deepRecallCues = []string{
	"quote", "exactly", "verbatim", "word for word", "precise wording",
}

var proceduralCues = []string{
	"write code", "generate", "build", "implement", "create a",
	"how do we", "how do i", "how should i", "scaffold",
}

var factCues = []string{
	"what was", "what is", "tell me about", "what did", "who is",
	"where is", "when did", "which",
}

// Signal-stage phrase tables. Each hit adds its weight to the signal.

var retrievalPhrases = map[string]float64{
	"remember":   0.5,
	"recall":     0.5,
	"we talked":  0.4,
	"you said":   0.4,
	"last time":  0.4,
	"mentioned":  0.3,
	"about":      0.1,
	"preference": 0.3,
}

var decisionPhrases = map[string]float64{
	"decided":    0.5,
	"decision":   0.5,
	"agreed":     0.4,
	"chose":      0.4,
	"conclusion": 0.3,
	"why did":    0.3,
	"said about": 0.3,
}

var patternPhrases = map[string]float64{
	"write":    0.4,
	"make":     0.3,
	"draft":    0.4,
	"code":     0.4,
	"script":   0.4,
	"template": 0.3,
	"usual":    0.4,
	"always":   0.3,
	"format":   0.3,
}

var narrativePhrases = map[string]float64{
	"tell":     0.2,
	"explain":  0.3,
	"describe": 0.3,
	"thoughts": 0.3,
	"think":    0.2,
	"opinion":  0.3,
}

var negationWords = []string{"not", "don't", "dont", "never", "no need"}

var emphaticAdverbs = []string{"really", "definitely", "absolutely", "urgently"}

// Plan maps a query and conversation state to a QueryPlan.
func (c *Classifier) Plan(query string, state models.ConversationState) models.QueryPlan {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)

	if plan, ok := c.fastStage(lower); ok {
		return plan
	}
	return c.signalStage(trimmed, lower, state)
}

// fastStage handles unambiguous lexical cues.
func (c *Classifier) fastStage(lower string) (models.QueryPlan, bool) {
	for _, cue := range continuationCues {
		if strings.HasPrefix(lower, cue) {
			return c.finish(models.QueryTypeContinuation, 1.0,
				[]models.Tier{models.TierShortTerm}), true
		}
	}
	for _, cue := range deepRecallCues {
		if strings.Contains(lower, cue) {
			return c.finish(models.QueryTypeDeepRecall, 1.0,
				[]models.Tier{models.TierShortTerm, models.TierFacts, models.TierArchive}), true
		}
	}
	for _, cue := range proceduralCues {
		if strings.Contains(lower, cue) {
			return c.finish(models.QueryTypeProceduralTrigger, 1.0,
				[]models.Tier{models.TierShortTerm, models.TierPatterns}), true
		}
	}
	for _, cue := range factCues {
		if strings.Contains(lower, cue) {
			return c.finish(models.QueryTypeFactRetrieval, 1.0,
				[]models.Tier{models.TierShortTerm, models.TierFacts}), true
		}
	}
	return models.QueryPlan{}, false
}

// signalStage scores four intent signals, normalizes them into a
// distribution, and widens the tier set as confidence drops.
func (c *Classifier) signalStage(original, lower string, state models.ConversationState) models.QueryPlan {
	retrieval := sumPhrases(lower, retrievalPhrases)
	decision := sumPhrases(lower, decisionPhrases)
	pattern := sumPhrases(lower, patternPhrases)
	narrative := sumPhrases(lower, narrativePhrases)

	// Length heuristics: long queries tend to be complex narratives, very
	// short ones tend to be continuations of whatever is on screen.
	words := len(strings.Fields(lower))
	switch {
	case words <= 3:
		narrative += 0.2
	case words > 20:
		retrieval += 0.2
		narrative += 0.2
	}

	// Negation flips retrieval intent ("don't remember that").
	for _, neg := range negationWords {
		if strings.Contains(lower, neg) {
			retrieval *= 0.5
			break
		}
	}

	// Language intensity sharpens whatever leads.
	intensity := 1.0
	if original != "" && original == strings.ToUpper(original) && strings.ContainsAny(original, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		intensity += 0.2
	}
	if strings.Contains(original, "!") {
		intensity += 0.1
	}
	for _, adv := range emphaticAdverbs {
		if strings.Contains(lower, adv) {
			intensity += 0.1
			break
		}
	}
	retrieval *= intensity
	decision *= intensity
	pattern *= intensity

	// Early turns rarely need deep recall; recency dominates.
	if state.IsEarly() {
		narrative += 0.2
		decision *= 0.7
	}

	total := retrieval + decision + pattern + narrative
	if total <= 0 {
		return c.finish(models.QueryTypeComplex, 0.25, models.AllTiers)
	}

	type candidate struct {
		qt     models.QueryType
		score  float64
		narrow []models.Tier
	}
	candidates := []candidate{
		{models.QueryTypeFactRetrieval, retrieval, []models.Tier{models.TierShortTerm, models.TierFacts}},
		{models.QueryTypeDeepRecall, decision, []models.Tier{models.TierShortTerm, models.TierFacts, models.TierArchive}},
		{models.QueryTypeProceduralTrigger, pattern, []models.Tier{models.TierShortTerm, models.TierPatterns}},
		{models.QueryTypeContinuation, narrative, []models.Tier{models.TierShortTerm}},
	}

	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.score > best.score {
			best = cand
		}
	}
	confidence := best.score / total

	switch {
	case confidence >= highConfidence:
		return c.finish(best.qt, confidence, best.narrow)
	case confidence >= midConfidence:
		return c.finish(best.qt, confidence, withFallback(best.narrow))
	default:
		return c.finish(models.QueryTypeComplex, confidence, models.AllTiers)
	}
}

func (c *Classifier) finish(qt models.QueryType, confidence float64, tiers []models.Tier) models.QueryPlan {
	budget := 0
	for _, t := range tiers {
		budget += models.TierBudget(t)
	}
	// Confidence discounts the estimate: a sure plan reads less.
	estimated := int(float64(budget) * (0.5 + 0.5*confidence))
	if estimated > budget {
		estimated = budget
	}

	return models.QueryPlan{
		Type:            qt,
		TiersToUse:      tiers,
		Confidence:      float32(confidence),
		EstimatedTokens: estimated,
	}
}

// withFallback appends the archive as a safety net for mid-confidence plans.
func withFallback(tiers []models.Tier) []models.Tier {
	for _, t := range tiers {
		if t == models.TierArchive {
			return tiers
		}
	}
	out := make([]models.Tier, len(tiers), len(tiers)+1)
	copy(out, tiers)
	return append(out, models.TierArchive)
}

func sumPhrases(lower string, table map[string]float64) float64 {
	var sum float64
	for phrase, weight := range table {
		if strings.Contains(lower, phrase) {
			sum += weight
		}
	}
	return sum
}
