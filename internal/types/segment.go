// internal/types/segment.go
package types

import "time"

/*
 * Domain types for audience segments (smart tags).
 *
 * A Segment is a named set of donor IDs. Dynamic segments derive membership
 * from an inclusion filter set minus (or flagged by) a removal filter set;
 * static segments are curated by explicit add/remove calls and never
 * recomputed.
 *
 * Key types:
 *   - FilterClause: one field/operator/value comparison
 *   - FilterSet: ordered clauses combined by a strict left-to-right fold
 *   - Segment: definition plus lifecycle state and removal policy
 *
 * Filter combination is intentionally unusual: each clause after the first
 * carries the connective joining it to the accumulated result so far. There
 * is no grouping; "A AND B OR C" evaluates as "(A AND B) OR C". This mirrors
 * the authoring UI row-by-row and is documented on filter.Compile.
 */

// SegmentID identifies a segment. UUIDv7 string.
type SegmentID string

// Connective joins a clause to the fold result of the clauses before it.
type Connective string

const (
	And Connective = "and"
	Or  Connective = "or"
)

// Operator is the comparison applied by a clause. The legal set depends on
// the declared type of the clause's field; filter.Compile rejects pairs
// outside the per-type sets.
type Operator string

const (
	// text
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpIsEmpty    Operator = "is_empty"
	OpIsNotEmpty Operator = "is_not_empty"

	// number, currency
	OpGreaterThan  Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLessThan     Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpBetween      Operator = "between"

	// date
	OpOn         Operator = "on"
	OpBefore     Operator = "before"
	OpAfter      Operator = "after"
	OpWithinLast Operator = "within_last"

	// select
	OpNotEquals Operator = "not_equals"
)

// DateUnit is the unit for the within_last operator.
type DateUnit string

const (
	UnitDays   DateUnit = "days"
	UnitWeeks  DateUnit = "weeks"
	UnitMonths DateUnit = "months"
	UnitYears  DateUnit = "years"
)

// FilterClause is one comparison against a donor field. Value and Value2 are
// the raw authored strings; filter.Compile parses them against the field's
// declared type. Value2 is only meaningful for between; Unit only for
// within_last. Connective is ignored on the first clause of a set.
type FilterClause struct {
	Field      FieldName  `json:"field"`
	Operator   Operator   `json:"operator"`
	Value      string     `json:"value,omitempty"`
	Value2     string     `json:"value2,omitempty"`
	Unit       DateUnit   `json:"unit,omitempty"`
	Connective Connective `json:"connective,omitempty"`
}

// FilterSet is an ordered sequence of clauses evaluated as a strict
// left-to-right fold.
type FilterSet []FilterClause

// ProcessingType distinguishes curated from derived segments.
type ProcessingType string

const (
	ProcessingStatic  ProcessingType = "static"
	ProcessingDynamic ProcessingType = "dynamic"
)

// SegmentState is the lifecycle state of a segment.
// Draft -> Active <-> Paused -> Archived. Recompute runs only for Active.
// Archiving clears membership but retains the definition for audit.
type SegmentState string

const (
	StateDraft    SegmentState = "draft"
	StateActive   SegmentState = "active"
	StatePaused   SegmentState = "paused"
	StateArchived SegmentState = "archived"
)

// RemovalAction controls what happens to donors matching the removal filter.
// Remove subtracts them from membership; the mark-inactive variants keep them
// as members but flag them inactive, never changing membership count.
type RemovalAction string

const (
	RemovalRemove           RemovalAction = "remove"
	RemovalMarkInactive     RemovalAction = "mark_inactive"
	RemovalMarkInactiveDate RemovalAction = "mark_inactive_with_date"
)

// Segment is a named, possibly dynamically maintained set of donor IDs.
type Segment struct {
	ID             SegmentID      `json:"id"`
	Name           string         `json:"name"`
	Category       string         `json:"category,omitempty"`
	Processing     ProcessingType `json:"processing"`
	State          SegmentState   `json:"state"`
	Inclusion      FilterSet      `json:"inclusion,omitempty"`
	Removal        FilterSet      `json:"removal,omitempty"`
	RemovalAction  RemovalAction  `json:"removal_action,omitempty"`
	InactiveAsOf   *time.Time     `json:"inactive_as_of,omitempty"` // effective date for mark_inactive_with_date
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Dynamic reports whether membership is derived from filters.
func (s *Segment) Dynamic() bool { return s.Processing == ProcessingDynamic }

// ValidTransition reports whether moving from the segment's current state to
// next is allowed by the lifecycle.
func (s *Segment) ValidTransition(next SegmentState) bool {
	switch s.State {
	case StateDraft:
		return next == StateActive || next == StateArchived
	case StateActive:
		return next == StatePaused || next == StateArchived
	case StatePaused:
		return next == StateActive || next == StateArchived
	case StateArchived:
		return false
	default:
		return false
	}
}

// Member is one row of a segment's membership. Inactive members remain
// counted; InactiveSince is set only by the mark-inactive removal actions.
type Member struct {
	DonorID       DonorID    `json:"donor_id"`
	Inactive      bool       `json:"inactive,omitempty"`
	InactiveSince *time.Time `json:"inactive_since,omitempty"`
}

// MemberSet is segment membership keyed by donor ID.
type MemberSet map[DonorID]Member

// Clone returns a deep copy. Recompute builds a fresh set and swaps it in
// atomically, so shared sets are never mutated in place.
func (m MemberSet) Clone() MemberSet {
	out := make(MemberSet, len(m))
	for id, mem := range m {
		out[id] = mem
	}
	return out
}

// IDs returns the member donor IDs in unspecified order.
func (m MemberSet) IDs() []DonorID {
	out := make([]DonorID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
