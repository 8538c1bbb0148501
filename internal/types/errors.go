package types

import "errors"

// Sentinel errors for Cultivar operations.
//
// Validation errors surface at authoring/compile time and block save;
// they never reach evaluation or dispatch.
var (
	// ErrUnknownField indicates a clause references a field the schema
	// doesn't declare for the record or event kind.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidOperator indicates an operator outside the legal set for
	// the field's declared type.
	ErrInvalidOperator = errors.New("invalid operator for field type")

	// ErrMissingValue indicates a required clause value is absent
	// (e.g. between without value2).
	ErrMissingValue = errors.New("missing required value")

	// ErrBadValue indicates a clause value that doesn't parse as the
	// field's declared type.
	ErrBadValue = errors.New("value does not match field type")

	// ErrBadUnit indicates a within_last clause with a missing or unknown
	// date unit, or a non-positive amount.
	ErrBadUnit = errors.New("invalid date unit")

	// ErrEmptyFilterSet indicates a filter set or condition group with
	// zero clauses. Empty groups are never vacuously true.
	ErrEmptyFilterSet = errors.New("filter set is empty")

	// ErrTooManyClauses indicates a filter set or group over its limit.
	ErrTooManyClauses = errors.New("too many clauses")

	// ErrBadActionConfig indicates an action whose config doesn't match
	// its kind's schema.
	ErrBadActionConfig = errors.New("invalid action config")

	// ErrBadDelay indicates an unparsable execution delay.
	ErrBadDelay = errors.New("invalid execution delay")

	// ErrSegmentNotFound indicates an unknown segment ID.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrRuleNotFound indicates an unknown trigger rule ID.
	ErrRuleNotFound = errors.New("trigger rule not found")

	// ErrDonorNotFound indicates a donor absent from the snapshot.
	ErrDonorNotFound = errors.New("donor not found")

	// ErrInvalidTransition indicates a segment state change outside the
	// Draft -> Active <-> Paused -> Archived lifecycle.
	ErrInvalidTransition = errors.New("invalid segment state transition")

	// ErrSegmentNotActive indicates a recompute request for a segment
	// whose state excludes it from recompute.
	ErrSegmentNotActive = errors.New("segment is not active")

	// ErrStaticSegment indicates a recompute request for a static segment.
	ErrStaticSegment = errors.New("static segments are not recomputed")

	// ErrStaleWrite indicates a membership write superseded by a newer
	// writer for the same segment. Resolved internally, never user-facing.
	ErrStaleWrite = errors.New("membership write superseded")
)
