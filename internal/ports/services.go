package ports

import "time"

// Clock abstracts time for components that make retention decisions, so
// tests can drive TTL and decay deterministically.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity IDs.
type IDGenerator interface {
	GenerateMessageID() string
	GenerateFactID() string
	GeneratePatternID() string
	GenerateTriggerID() string
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
