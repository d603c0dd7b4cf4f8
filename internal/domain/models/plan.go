package models

import "strings"

// Tier identifies one of the four memory tiers.
type Tier string

const (
	TierShortTerm Tier = "short_term" // T3: recency window
	TierFacts     Tier = "facts"      // T2: extracted facts
	TierArchive   Tier = "archive"    // T1: durable archive
	TierPatterns  Tier = "patterns"   // TP: learned patterns
)

// AllTiers lists every tier in retrieval order.
var AllTiers = []Tier{TierShortTerm, TierFacts, TierArchive, TierPatterns}

type QueryType string

const (
	QueryTypeContinuation      QueryType = "continuation"
	QueryTypeFactRetrieval     QueryType = "fact_retrieval"
	QueryTypeDeepRecall        QueryType = "deep_recall"
	QueryTypeComplex           QueryType = "complex"
	QueryTypeProceduralTrigger QueryType = "procedural_trigger"
)

// ParseQueryType maps a provider label to a QueryType. Unknown labels are
// rejected so an off-script provider cannot steer the plan.
func ParseQueryType(label string) (QueryType, bool) {
	qt := QueryType(strings.ToLower(strings.TrimSpace(label)))
	switch qt {
	case QueryTypeContinuation, QueryTypeFactRetrieval, QueryTypeDeepRecall,
		QueryTypeComplex, QueryTypeProceduralTrigger:
		return qt, true
	}
	return "", false
}

// Per-tier token budgets used for the plan's estimate.
const (
	TokenBudgetShortTerm = 500
	TokenBudgetFacts     = 400
	TokenBudgetArchive   = 300
	TokenBudgetPatterns  = 100
)

// QueryPlan is the classifier's routing decision: which tiers to consult
// and roughly how many tokens the assembled context will cost.
type QueryPlan struct {
	Type            QueryType `json:"type"`
	TiersToUse      []Tier    `json:"tiers_to_use"`
	Confidence      float32   `json:"confidence"`
	EstimatedTokens int       `json:"estimated_tokens"`
}

// Uses reports whether the plan consults the given tier.
func (p QueryPlan) Uses(tier Tier) bool {
	for _, t := range p.TiersToUse {
		if t == tier {
			return true
		}
	}
	return false
}

// TierBudget returns the token budget for a single tier.
func TierBudget(tier Tier) int {
	switch tier {
	case TierShortTerm:
		return TokenBudgetShortTerm
	case TierFacts:
		return TokenBudgetFacts
	case TierArchive:
		return TokenBudgetArchive
	case TierPatterns:
		return TokenBudgetPatterns
	default:
		return 0
	}
}
