// Package adapters defines the contract between the action dispatcher and
// external fulfillment systems (dialing platforms, mail houses, email
// marketing platforms).
//
// Adapters are external collaborators; only their request/response shapes
// are owned here. Each adapter declares how its failures classify so the
// dispatcher can decide between retry and permanent failure without
// system-specific knowledge.
package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/cultivar-crm/cultivar/internal/types"
)

// Classification tells the dispatcher how to treat an adapter failure.
type Classification int

const (
	// Retryable failures (unreachable system, throttling, timeout) are
	// retried per the rule's execution policy.
	Retryable Classification = iota
	// Fatal failures (rejected payload, unknown campaign) are recorded
	// and never retried.
	Fatal
)

// Ack is the adapter's acknowledgement of an accepted submission.
type Ack struct {
	// Reference is the external system's identifier for the submission,
	// kept in the execution record detail for cross-system audit.
	Reference string
}

// Error is an adapter failure with its declared classification.
type Error struct {
	Class Classification
	Err   error
}

func (e *Error) Error() string {
	if e.Class == Fatal {
		return fmt.Sprintf("adapter: fatal: %v", e.Err)
	}
	return fmt.Sprintf("adapter: retryable: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RetryableErr wraps err as a retryable adapter failure.
func RetryableErr(err error) *Error { return &Error{Class: Retryable, Err: err} }

// FatalErr wraps err as a fatal adapter failure.
func FatalErr(err error) *Error { return &Error{Class: Fatal, Err: err} }

// Classify extracts the classification from err. Errors that are not
// adapter errors (transport failures, context timeouts) default to
// Retryable: the safe assumption for infrastructure faults.
func Classify(err error) Classification {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Class
	}
	return Retryable
}

// Adapter submits one action's payload to an external system.
//
// idempotencyKey is stable per (action, event) pair; implementations must
// deduplicate on it so dispatcher retries are safe.
type Adapter interface {
	Send(ctx context.Context, cfg types.DispatchConfig, donor types.DonorID, idempotencyKey string) (Ack, error)
}

// Registry maps external systems to their adapters.
type Registry struct {
	adapters map[types.ExternalSystem]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[types.ExternalSystem]Adapter)}
}

// Register binds an adapter to a system, replacing any previous binding.
func (r *Registry) Register(system types.ExternalSystem, a Adapter) {
	r.adapters[system] = a
}

// Lookup returns the adapter for a system. A missing adapter is a fatal
// configuration error, not a retryable fault.
func (r *Registry) Lookup(system types.ExternalSystem) (Adapter, error) {
	a, ok := r.adapters[system]
	if !ok {
		return nil, FatalErr(fmt.Errorf("no adapter registered for %q", system))
	}
	return a, nil
}
