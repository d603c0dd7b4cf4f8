package models

import (
	"strings"
	"sync"
	"time"

	"github.com/longregen/engram/internal/domain"
)

type TriggerKind string

const (
	TriggerKindKeyword  TriggerKind = "keyword"
	TriggerKindRegex    TriggerKind = "regex"
	TriggerKindSemantic TriggerKind = "semantic"
)

// Trigger is a single condition under which a pattern fires. Semantic
// triggers carry an embedding computed at detection time.
type Trigger struct {
	ID        string      `json:"id"`
	Kind      TriggerKind `json:"kind"`
	Pattern   string      `json:"pattern"`
	Embedding []float32   `json:"embedding,omitempty"`
}

const (
	// DefaultConfidenceThreshold is applied to freshly detected patterns.
	DefaultConfidenceThreshold = 0.80
	// MinConfidenceThreshold is the floor reinforcement can lower to.
	MinConfidenceThreshold = 0.60
	// ReinforcedUsageCount is the usage count past which a pattern counts
	// as reinforced and its threshold starts relaxing.
	ReinforcedUsageCount = 10
)

// Pattern is a learned (triggers -> instruction) rule. Usage counters are
// guarded by a pattern-local mutex so RecordUsage is safe from concurrent
// matchers holding a shared snapshot.
type Pattern struct {
	ID                  string       `json:"id"`
	UserID              string       `json:"user_id"`
	Name                string       `json:"name"`
	Description         string       `json:"description"`
	Triggers            []Trigger    `json:"triggers"`
	InstructionTemplate string       `json:"instruction_template"`
	ConfidenceThreshold float32      `json:"confidence_threshold"`
	UsageCount          int64        `json:"usage_count"`
	State               PatternState `json:"state"`
	LastUsed            time.Time    `json:"last_used"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`

	mu sync.Mutex
}

func NewPattern(id, userID, name, description, instructionTemplate string, triggers []Trigger) (*Pattern, error) {
	if userID == "" {
		return nil, domain.NewInputError(domain.ErrEmptyUserID, "pattern")
	}
	if name == "" || description == "" || instructionTemplate == "" {
		return nil, domain.NewInputError(domain.ErrPatternIncomplete, "pattern")
	}
	if len(triggers) == 0 {
		return nil, domain.NewInputError(domain.ErrPatternNoTriggers, "pattern "+name)
	}

	now := time.Now().UTC()
	return &Pattern{
		ID:                  id,
		UserID:              userID,
		Name:                name,
		Description:         description,
		Triggers:            triggers,
		InstructionTemplate: instructionTemplate,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		State:               PatternStateCandidate,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// NormalizedName is the idempotency key for upserts and consolidation.
func (p *Pattern) NormalizedName() string {
	return strings.ToLower(strings.TrimSpace(p.Name))
}

// RecordUsage atomically bumps the usage counter and applies slow
// reinforcement: past ReinforcedUsageCount uses, a threshold above 0.7
// relaxes by 0.05 per use down to MinConfidenceThreshold.
func (p *Pattern) RecordUsage() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.UsageCount++
	p.LastUsed = time.Now().UTC()
	p.UpdatedAt = p.LastUsed

	if p.UsageCount > ReinforcedUsageCount && p.ConfidenceThreshold > 0.7 {
		p.ConfidenceThreshold -= 0.05
		if p.ConfidenceThreshold < MinConfidenceThreshold {
			p.ConfidenceThreshold = MinConfidenceThreshold
		}
	}

	switch {
	case p.UsageCount > ReinforcedUsageCount:
		p.State = PatternStateReinforced
	case p.State == PatternStateCandidate:
		p.State = PatternStateActive
	}
}

// Usage returns the counter and threshold under the pattern lock.
func (p *Pattern) Usage() (count int64, threshold float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.UsageCount, p.ConfidenceThreshold
}

// AbsorbCounters folds another pattern's usage into this one during
// consolidation.
func (p *Pattern) AbsorbCounters(other *Pattern) {
	other.mu.Lock()
	count := other.UsageCount
	last := other.LastUsed
	other.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.UsageCount += count
	if last.After(p.LastUsed) {
		p.LastUsed = last
	}
	p.UpdatedAt = time.Now().UTC()
}

// MarkState transitions the pattern lifecycle state, validating the move.
func (p *Pattern) MarkState(to PatternState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ValidatePatternTransition(p.State, to); err != nil {
		return err
	}
	p.State = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone returns a deep copy safe to hand to callers outside the store lock.
func (p *Pattern) Clone() *Pattern {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := &Pattern{
		ID:                  p.ID,
		UserID:              p.UserID,
		Name:                p.Name,
		Description:         p.Description,
		InstructionTemplate: p.InstructionTemplate,
		ConfidenceThreshold: p.ConfidenceThreshold,
		UsageCount:          p.UsageCount,
		State:               p.State,
		LastUsed:            p.LastUsed,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
	clone.Triggers = make([]Trigger, len(p.Triggers))
	copy(clone.Triggers, p.Triggers)
	return clone
}

// TriggerTokens returns the set of trigger pattern strings, lowercased,
// used for Jaccard similarity during consolidation.
func (p *Pattern) TriggerTokens() map[string]struct{} {
	tokens := make(map[string]struct{}, len(p.Triggers))
	for _, t := range p.Triggers {
		tokens[strings.ToLower(strings.TrimSpace(t.Pattern))] = struct{}{}
	}
	return tokens
}
