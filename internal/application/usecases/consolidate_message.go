// Package usecases holds the application workflows that compose tiers and
// capabilities into the engine's store, retrieve, and consolidation paths.
package usecases

import (
	"context"
	"fmt"
	"log"

	"github.com/longregen/engram/internal/domain/models"
	"github.com/longregen/engram/internal/ports"
)

// patternDetector is the slice of the TP tier the pipeline needs.
type patternDetector interface {
	Detect(ctx context.Context, msg *models.Message) (*models.Pattern, error)
}

// ConsolidateMessage is the background half of the store path: entity
// extraction into the fact tier plus pattern detection. It runs detached
// under the supervisor's deadline and must tolerate capability failures.
type ConsolidateMessage struct {
	capability ports.Capability
	facts      ports.FactStore
	ids        ports.IDGenerator
	detector   patternDetector
}

func NewConsolidateMessage(capability ports.Capability, facts ports.FactStore, ids ports.IDGenerator, detector patternDetector) *ConsolidateMessage {
	return &ConsolidateMessage{
		capability: capability,
		facts:      facts,
		ids:        ids,
		detector:   detector,
	}
}

// Execute extracts entities into facts, then runs pattern detection.
// Either half may fail independently; a partial run is still progress
// since re-consolidation is idempotent at the store level.
func (uc *ConsolidateMessage) Execute(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return nil
	}

	factErr := uc.extractFacts(ctx, msg)

	if uc.detector != nil {
		if _, err := uc.detector.Detect(ctx, msg); err != nil {
			log.Printf("warning: pattern detection for message %s: %v", msg.ID, err)
		}
	}

	return factErr
}

func (uc *ConsolidateMessage) extractFacts(ctx context.Context, msg *models.Message) error {
	entities, err := uc.capability.ExtractEntities(ctx, msg.Content)
	if err != nil {
		return fmt.Errorf("extract entities: %w", err)
	}
	if len(entities) == 0 {
		return nil
	}

	facts := make([]*models.Fact, 0, len(entities))
	for _, e := range entities {
		fact, err := models.NewFact(uc.ids.GenerateFactID(), msg.UserID, msg.ConversationID, e.Key, e.Value, e.Type)
		if err != nil {
			log.Printf("warning: skipping malformed entity %q: %v", e.Key, err)
			continue
		}
		fact.SourceMessageID = msg.ID
		fact.SetImportance(e.Importance)

		if len(e.Embedding) > 0 {
			fact.Embedding = e.Embedding
		} else if result, err := uc.capability.Embed(ctx, e.Key+": "+e.Value); err != nil {
			log.Printf("warning: fact embedding for %q: %v", e.Key, err)
		} else if result != nil {
			fact.Embedding = result.Embedding
		}
		facts = append(facts, fact)
	}

	if err := uc.facts.StoreFacts(ctx, msg.UserID, msg.ConversationID, facts); err != nil {
		return fmt.Errorf("store facts: %w", err)
	}
	return nil
}
