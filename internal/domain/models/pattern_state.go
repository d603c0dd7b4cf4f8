package models

import "fmt"

// PatternState tracks the pattern lifecycle: Candidate on first upsert,
// Active after the first successful match, Reinforced past the usage
// threshold, Merged when consolidation folds it into another pattern,
// Archived on soft-delete.
type PatternState string

const (
	PatternStateCandidate  PatternState = "candidate"
	PatternStateActive     PatternState = "active"
	PatternStateReinforced PatternState = "reinforced"
	PatternStateMerged     PatternState = "merged"
	PatternStateArchived   PatternState = "archived"
)

// PatternTransition represents a state transition
type PatternTransition struct {
	From PatternState
	To   PatternState
}

var validPatternTransitions = map[PatternTransition]bool{
	{PatternStateCandidate, PatternStateActive}:     true,
	{PatternStateCandidate, PatternStateMerged}:     true,
	{PatternStateCandidate, PatternStateArchived}:   true,
	{PatternStateActive, PatternStateReinforced}:    true,
	{PatternStateActive, PatternStateMerged}:        true,
	{PatternStateActive, PatternStateArchived}:      true,
	{PatternStateReinforced, PatternStateMerged}:    true,
	{PatternStateReinforced, PatternStateArchived}:  true,

	// Merged and archived are terminal.
}

// ValidatePatternTransition checks if a state transition is valid.
func ValidatePatternTransition(from, to PatternState) error {
	if from == to {
		return nil
	}
	if !validPatternTransitions[PatternTransition{From: from, To: to}] {
		return &InvalidPatternTransitionError{From: from, To: to}
	}
	return nil
}

// InvalidPatternTransitionError reports a disallowed lifecycle move.
type InvalidPatternTransitionError struct {
	From PatternState
	To   PatternState
}

func (e *InvalidPatternTransitionError) Error() string {
	return fmt.Sprintf("invalid pattern state transition from '%s' to '%s'", e.From, e.To)
}
