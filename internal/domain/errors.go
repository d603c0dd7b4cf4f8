package domain

import (
	"context"
	"errors"
)

// ErrorKind partitions engine failures for propagation decisions: input
// errors surface synchronously, capability errors degrade, adapter errors
// are fatal on the foreground store path, cancellation and timeout are
// reported as their own kinds.
type ErrorKind string

const (
	KindInput      ErrorKind = "input"
	KindCapability ErrorKind = "capability"
	KindAdapter    ErrorKind = "adapter"
	KindCancelled  ErrorKind = "cancelled"
	KindTimeout    ErrorKind = "timeout"
)

// Common domain errors
var (
	// Input errors
	ErrEmptyUserID         = errors.New("user ID cannot be empty")
	ErrEmptyConversationID = errors.New("conversation ID cannot be empty")
	ErrEmptyContent        = errors.New("content cannot be empty")
	ErrInvalidRole         = errors.New("invalid message role")
	ErrInvalidID           = errors.New("invalid ID format")
	ErrInvalidImportance   = errors.New("importance must be between 0 and 1")
	ErrInvalidInput        = errors.New("invalid input")

	// Fact errors
	ErrFactNotFound = errors.New("fact not found")

	// Pattern errors
	ErrPatternNotFound   = errors.New("pattern not found")
	ErrPatternNoTriggers = errors.New("pattern requires at least one trigger")
	ErrPatternIncomplete = errors.New("pattern name, description and instruction template are required")

	// Message errors
	ErrMessageNotFound = errors.New("message not found")

	// Capability errors
	ErrCapabilityUnavailable = errors.New("capability provider unavailable")
	ErrEmbeddingsFailed      = errors.New("failed to generate embeddings")
	ErrMalformedResponse     = errors.New("capability returned malformed response")

	// Adapter errors
	ErrTierUnavailable = errors.New("tier backend unavailable")

	// Lifecycle errors
	ErrBackgroundTimeout = errors.New("background task exceeded deadline")
	ErrEraseIncomplete   = errors.New("erase did not complete on all tiers")
)

// EngineError wraps an underlying error with its kind and optional context.
type EngineError struct {
	Kind    ErrorKind
	Err     error
	Message string
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func NewInputError(err error, message string) *EngineError {
	return &EngineError{Kind: KindInput, Err: err, Message: message}
}

func NewCapabilityError(err error, message string) *EngineError {
	return &EngineError{Kind: KindCapability, Err: err, Message: message}
}

func NewAdapterError(err error, message string) *EngineError {
	return &EngineError{Kind: KindAdapter, Err: err, Message: message}
}

// Classify maps an arbitrary error to its ErrorKind. Context cancellation
// and deadline expiry win over any wrapped EngineError kind so callers can
// distinguish "the backend broke" from "the caller gave up".
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrBackgroundTimeout):
		return KindTimeout
	}

	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}

	return KindAdapter
}

// IsCancellation reports whether err represents caller cancellation or a
// deadline, as opposed to a backend failure.
func IsCancellation(err error) bool {
	k := Classify(err)
	return k == KindCancelled || k == KindTimeout
}
