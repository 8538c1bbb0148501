// Package types provides domain models shared across Cultivar components.
//
// Zero-dependency design: types.go, segment.go, trigger.go, and errors.go use
// only the standard library. ID utilities in ids.go import uuid but are
// isolated for selective inclusion.
//
// Separation from wire formats: JSON serialization happens at the API and
// store boundaries; these types carry the canonical field names via struct
// tags but contain no transport logic.
package types

import "time"

// DonorID identifies a donor record in the snapshot source.
// String alias enables type safety while maintaining JSON string serialization.
type DonorID string

// FieldName identifies one typed field on a donor record or event payload.
type FieldName string

// FieldType is the declared type of a field. It constrains the legal operator
// set for any clause referencing the field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldCurrency FieldType = "currency"
	FieldDate     FieldType = "date"
	FieldSelect   FieldType = "select"
	// FieldMulti holds zero or more select-style options (donor flags, tags).
	// Not addressable from filter clauses; mutated by flag actions.
	FieldMulti FieldType = "multi"
)

// FieldValue is a closed tagged union of the value kinds a donor field can
// hold. Exactly one payload slot is meaningful, selected by Kind. The union
// replaces the freeform any-typed values of the source model so that type
// mismatches surface at compile time rather than mid-evaluation.
type FieldValue struct {
	Kind    FieldType `json:"kind"`
	Text    string    `json:"text,omitempty"`    // text, select
	Number  float64   `json:"number,omitempty"`  // number, currency
	Date    time.Time `json:"date,omitempty"`    // date
	Options []string  `json:"options,omitempty"` // multi
}

// TextValue constructs a text field value.
func TextValue(s string) FieldValue { return FieldValue{Kind: FieldText, Text: s} }

// NumberValue constructs a number field value.
func NumberValue(n float64) FieldValue { return FieldValue{Kind: FieldNumber, Number: n} }

// CurrencyValue constructs a currency field value. Amounts are decimal units
// (dollars), not cents; the engine never does arithmetic on them.
func CurrencyValue(n float64) FieldValue { return FieldValue{Kind: FieldCurrency, Number: n} }

// DateValue constructs a date field value.
func DateValue(t time.Time) FieldValue { return FieldValue{Kind: FieldDate, Date: t} }

// SelectValue constructs a select field value.
func SelectValue(s string) FieldValue { return FieldValue{Kind: FieldSelect, Text: s} }

// MultiValue constructs a multi-option field value.
func MultiValue(opts ...string) FieldValue { return FieldValue{Kind: FieldMulti, Options: opts} }

// DonorRecord is a read-only snapshot of one donor's typed fields. Records
// are owned by the external snapshot source; the engine never mutates them.
type DonorRecord struct {
	ID     DonorID                  `json:"id"`
	Fields map[FieldName]FieldValue `json:"fields"`
}

// Field returns the value for name and whether it is present.
func (r DonorRecord) Field(name FieldName) (FieldValue, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Resource limits enforced at authoring time to bound evaluation cost.
const (
	// MaxFilterClauses bounds a single filter set. 32 clauses covers the
	// largest segments observed in practice with wide margin.
	MaxFilterClauses = 32

	// MaxConditionRows bounds one condition group of a trigger rule.
	MaxConditionRows = 16

	// MaxConditionGroups bounds the IF-clauses of one trigger rule.
	MaxConditionGroups = 8

	// MaxActionsPerGroup bounds the actions owned by one condition group.
	MaxActionsPerGroup = 16

	// MaxSelectValueLength bounds select option and flag strings.
	MaxSelectValueLength = 128
)
