package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/longregen/engram/internal/domain/models"
)

func mustMessage(t *testing.T, content string) *models.Message {
	t.Helper()
	msg, err := models.NewMessage("msg_1", "user_1", "conv_1", models.MessageRoleUser, content)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

func TestScoreNeutralWhenNoSignals(t *testing.T) {
	s := NewScorer()
	got := s.Score(mustMessage(t, "ok"))
	if got != 0.30 {
		t.Errorf("expected neutral 0.30, got %f", got)
	}
}

func TestScoreStaysInRange(t *testing.T) {
	s := NewScorer()
	contents := []string{
		"ok",
		"CRITICAL: the database is broken! We must fix the deployment NOW!!!",
		"we decided to go with PostgreSQL and Redis for the cache architecture",
		"```go\nfunc main() {}\n```",
		"Should we migrate the Kubernetes cluster or keep the Docker setup?",
	}
	for _, content := range contents {
		got := s.Score(mustMessage(t, content))
		if got < 0 || got > 1 {
			t.Errorf("score out of range for %q: %f", content, got)
		}
	}
}

func TestScoreDecisionAboveNeutral(t *testing.T) {
	s := NewScorer()
	got := s.Score(mustMessage(t, "we decided to go with option a"))
	if got <= 0.30 {
		t.Errorf("decision statement should outscore neutral, got %f", got)
	}
	// Single strong signal: 0.90 * 0.50
	if math.Abs(float64(got)-0.45) > 1e-6 {
		t.Errorf("expected 0.45, got %f", got)
	}
}

func TestMarkerRequiresWordBoundary(t *testing.T) {
	s := NewScorer()

	// "monkey" contains "key" but must not trigger the marker.
	if got := s.Score(mustMessage(t, "the monkey escaped")); got != 0.30 {
		t.Errorf("expected neutral for boundary miss, got %f", got)
	}
	if got := s.Score(mustMessage(t, "this is key")); got <= 0.30 {
		t.Errorf("expected marker hit to outscore neutral, got %f", got)
	}
}

func TestFencedCodeSignal(t *testing.T) {
	s := NewScorer()
	got := s.Score(mustMessage(t, "```\nselect 1\n```"))
	// Single code signal: 0.90 * 0.60
	if math.Abs(float64(got)-0.54) > 1e-6 {
		t.Errorf("expected 0.54, got %f", got)
	}
}

func TestDeliberativeQuestionOutscoresFactual(t *testing.T) {
	s := NewScorer()
	deliberative := s.Score(mustMessage(t, "should we do it?"))
	factual := s.Score(mustMessage(t, "what time is it?"))
	if deliberative <= factual {
		t.Errorf("deliberative %f should outscore factual %f", deliberative, factual)
	}
}

func TestFirstMessageTagBoostsNovelty(t *testing.T) {
	s := NewScorer()
	plain := mustMessage(t, "meet Ada in Oslo")
	tagged := plain.WithMetadata(models.MessageMetadata{Tags: []string{models.TagFirstMessage}})

	if s.Score(tagged) <= s.Score(plain) {
		t.Error("first-message tag should raise the novelty signal")
	}
}

func TestNovelEntitiesOutscoreNeutral(t *testing.T) {
	s := NewScorer()
	plain := mustMessage(t, "noted")
	md := plain.Metadata
	md.ExtractedEntities = []models.ExtractedEntity{
		{Key: "name", Value: "Ada", IsNovel: true},
		{Key: "city", Value: "Oslo", IsNovel: true},
		{Key: "language", Value: "Go", IsNovel: true},
	}
	enriched := plain.WithMetadata(md)

	// Three novel entities put the novelty signal at 0.45, which clears
	// the neutral floor after dampening.
	if s.Score(enriched) <= s.Score(plain) {
		t.Error("novel entities should raise the score above neutral")
	}
}

func TestScoreBreakdownRecency(t *testing.T) {
	s := NewScorer()
	msg := mustMessage(t, "hello")

	_, fresh := s.ScoreBreakdown(msg, msg.Timestamp.Add(30*time.Minute))
	if fresh.RecencyFactor != 1.0 {
		t.Errorf("messages under an hour old should have recency 1.0, got %f", fresh.RecencyFactor)
	}

	_, old := s.ScoreBreakdown(msg, msg.Timestamp.Add(48*time.Hour))
	want := math.Exp(-2)
	if math.Abs(float64(old.RecencyFactor)-want) > 1e-4 {
		t.Errorf("expected recency %f after 48h, got %f", want, old.RecencyFactor)
	}
}

func TestBreakdownMatchesAuthoritativeScore(t *testing.T) {
	s := NewScorer()
	msg := mustMessage(t, "we decided to use the database")
	scalar := s.Score(msg)
	fromBreakdown, _ := s.ScoreBreakdown(msg, time.Now())
	if scalar != fromBreakdown {
		t.Errorf("breakdown scalar %f differs from Score %f", fromBreakdown, scalar)
	}
}
