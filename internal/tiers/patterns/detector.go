package patterns

import (
	"context"
	"log"
	"strings"

	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/internal/domain/models"
	"github.com/longregen/engram/internal/ports"
)

// detectionCues gate the expensive proposal call: only messages that look
// like repeatable requests are worth asking the provider about.
var detectionCues = []string{
	"write", "generate", "build", "create", "draft", "make me",
	"always", "whenever", "every time", "each time", "from now on",
	"format", "template", "the usual",
}

// Detector turns user messages into stored patterns via the capability
// provider. Runs only on the background consolidation path.
type Detector struct {
	capability ports.Capability
	ids        ports.IDGenerator
	store      *Store
}

func NewDetector(capability ports.Capability, ids ports.IDGenerator, store *Store) *Detector {
	return &Detector{capability: capability, ids: ids, store: store}
}

// Detect asks the provider for a pattern proposal when the message carries
// a detection cue, validates it, embeds its semantic triggers, and upserts
// the result. Returns nil when the message yields no pattern.
func (d *Detector) Detect(ctx context.Context, msg *models.Message) (*models.Pattern, error) {
	if msg == nil || !msg.IsFromUser() {
		return nil, nil
	}
	if !hasDetectionCue(msg.Content) {
		return nil, nil
	}

	proposal, err := d.capability.ProposePattern(ctx, msg.Content)
	if err != nil {
		return nil, domain.NewCapabilityError(err, "pattern proposal")
	}
	if proposal == nil {
		return nil, nil
	}
	if err := validateProposal(proposal); err != nil {
		return nil, err
	}

	triggers := make([]models.Trigger, 0, len(proposal.Triggers))
	for _, pt := range proposal.Triggers {
		trigger := models.Trigger{
			ID:      d.ids.GenerateTriggerID(),
			Kind:    models.TriggerKind(pt.Kind),
			Pattern: pt.Pattern,
		}
		if trigger.Kind == models.TriggerKindSemantic {
			result, err := d.capability.Embed(ctx, pt.Pattern)
			if err != nil {
				log.Printf("[PatternDetector] trigger embedding failed, keeping lexical form: %v", err)
			} else if result != nil {
				trigger.Embedding = result.Embedding
			}
		}
		triggers = append(triggers, trigger)
	}

	pattern, err := models.NewPattern(
		d.ids.GeneratePatternID(),
		msg.UserID,
		proposal.Name,
		proposal.Description,
		proposal.InstructionTemplate,
		triggers,
	)
	if err != nil {
		return nil, err
	}

	if err := d.store.Upsert(ctx, pattern); err != nil {
		return nil, err
	}
	d.store.EnqueueConsolidation(msg.UserID)
	return pattern, nil
}

// validateProposal rejects structurally incomplete provider output before
// it can reach the store.
func validateProposal(p *ports.PatternProposal) error {
	if strings.TrimSpace(p.Name) == "" ||
		strings.TrimSpace(p.Description) == "" ||
		strings.TrimSpace(p.InstructionTemplate) == "" {
		return domain.NewInputError(domain.ErrPatternIncomplete, "proposal")
	}
	if len(p.Triggers) == 0 {
		return domain.NewInputError(domain.ErrPatternNoTriggers, p.Name)
	}
	for _, t := range p.Triggers {
		switch models.TriggerKind(t.Kind) {
		case models.TriggerKindKeyword, models.TriggerKindRegex, models.TriggerKindSemantic:
		default:
			return domain.NewInputError(domain.ErrPatternIncomplete, "trigger kind "+t.Kind)
		}
		if strings.TrimSpace(t.Pattern) == "" {
			return domain.NewInputError(domain.ErrPatternIncomplete, "empty trigger")
		}
	}
	return nil
}

func hasDetectionCue(content string) bool {
	lower := strings.ToLower(content)
	for _, cue := range detectionCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}
