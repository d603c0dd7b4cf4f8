package models

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// MemoryContext is the assembled result of a retrieval. Rendering order and
// headings are part of the external contract; downstream prompts depend on
// them.
type MemoryContext struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`

	WorkingMemory  []*Message `json:"working_memory"`
	Facts          []*Fact    `json:"facts,omitempty"`
	ArchiveHits    []*Message `json:"archive_hits,omitempty"`
	MatchedPattern *Pattern   `json:"matched_pattern,omitempty"`

	Plan               QueryPlan `json:"plan"`
	DegradedTiers      []Tier    `json:"degraded_tiers,omitempty"`
	EstimatedTokens    int       `json:"estimated_tokens"`
	RetrievalLatencyMS int64     `json:"retrieval_latency_ms"`
}

// Rendering limits.
const (
	renderMaxFacts = 10
)

// IsEmpty reports whether the retrieval surfaced nothing at all.
func (c *MemoryContext) IsEmpty() bool {
	return len(c.WorkingMemory) == 0 && len(c.Facts) == 0 &&
		len(c.ArchiveHits) == 0 && c.MatchedPattern == nil
}

// Degraded reports whether the given tier failed during retrieval.
func (c *MemoryContext) Degraded(tier Tier) bool {
	for _, t := range c.DegradedTiers {
		if t == tier {
			return true
		}
	}
	return false
}

// EstimateTokens approximates the token cost of the rendered context at
// four characters per token, rounding up.
func (c *MemoryContext) EstimateTokens() int {
	total := 0
	for _, m := range c.WorkingMemory {
		total += utf8.RuneCountInString(m.Content)
	}
	for _, f := range c.Facts {
		total += utf8.RuneCountInString(f.Key) + utf8.RuneCountInString(f.Value)
	}
	for _, m := range c.ArchiveHits {
		total += utf8.RuneCountInString(m.Content)
	}
	if c.MatchedPattern != nil {
		total += utf8.RuneCountInString(c.MatchedPattern.InstructionTemplate)
	}
	return (total + 3) / 4
}

// Render emits the deterministic prompt layout: optional system instruction
// from a matched pattern, then recent conversation in ascending timestamp,
// then top facts by importance, then archive hits in ascending timestamp.
func (c *MemoryContext) Render() string {
	var b strings.Builder

	if c.MatchedPattern != nil {
		b.WriteString("[SYSTEM INSTRUCTION]: ")
		b.WriteString(c.MatchedPattern.InstructionTemplate)
		b.WriteString("\n\n")
	}

	if len(c.WorkingMemory) > 0 {
		b.WriteString("=== Recent Conversation ===\n")
		recent := sortedByTimestamp(c.WorkingMemory)
		for _, m := range recent {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	if len(c.Facts) > 0 {
		b.WriteString("=== Relevant Facts ===\n")
		facts := make([]*Fact, len(c.Facts))
		copy(facts, c.Facts)
		sort.SliceStable(facts, func(i, j int) bool {
			return facts[i].Importance > facts[j].Importance
		})
		if len(facts) > renderMaxFacts {
			facts = facts[:renderMaxFacts]
		}
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
		}
		b.WriteString("\n")
	}

	if len(c.ArchiveHits) > 0 {
		b.WriteString("=== Previous Relevant Exchanges ===\n")
		hits := sortedByTimestamp(c.ArchiveHits)
		for _, m := range hits {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func sortedByTimestamp(messages []*Message) []*Message {
	out := make([]*Message, len(messages))
	copy(out, messages)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
