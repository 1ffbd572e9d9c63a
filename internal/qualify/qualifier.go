// Package qualify scores opportunities with an LLM and validates the answer
// into a domain.Qualification.
package qualify

import (
	"context"
	"errors"
	"fmt"

	"leadscout-engine/internal/domain"
)

type Qualifier interface {
	Qualify(ctx context.Context, o domain.RawOpportunity, taxonomy []domain.Service) (domain.Qualification, error)
}

type Kind string

const (
	KindTimeout       Kind = "timeout"
	KindMalformed     Kind = "malformed_output"
	KindContentPolicy Kind = "content_policy"
	KindTransport     Kind = "transport"
	KindRejected      Kind = "rejected"
	KindDisabled      Kind = "disabled"
	// KindCredential means the model is configured but no usable API key
	// could be read.
	KindCredential Kind = "credential"
)

// Error is returned when no valid qualification could be obtained. The lead
// is still stored, unscored.
type Error struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("qualification %s after %d attempts: %v", e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("qualification %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// retryable reports whether another attempt may succeed.
func (e *Error) retryable() bool {
	switch e.Kind {
	case KindTimeout, KindTransport, KindMalformed:
		return true
	}
	return false
}

// SkipError means the opportunity was deliberately not sent to the model.
// It is not a failure.
type SkipError struct {
	Reason       string
	IsGovernment bool
}

func (e *SkipError) Error() string { return "prefilter: " + e.Reason }

// Disabled never calls a model.
type Disabled struct{}

func (Disabled) Qualify(context.Context, domain.RawOpportunity, []domain.Service) (domain.Qualification, error) {
	return domain.Qualification{}, &Error{Kind: KindDisabled, Attempts: 0, Err: errors.New("qualification is disabled")}
}
