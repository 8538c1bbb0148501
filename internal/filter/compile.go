// internal/filter/compile.go
package filter

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cultivar-crm/cultivar/internal/types"
)

/*
 * Filter compilation and validation.
 *
 * Compiles a FilterSet (or the rows of a ConditionGroup, which share the
 * clause shape) into a Predicate: a side-effect-free boolean function over
 * one donor record. All validation happens here, before any evaluation:
 *   1. Non-empty set, clause count limit
 *   2. Field declared in the schema
 *   3. Operator legal for the field's declared type
 *   4. Values parse as the declared type; between gets both bounds,
 *      normalized so lo <= hi regardless of authored order
 *   5. within_last gets a positive integer amount and a known unit
 *
 * Compilation never partially succeeds: the first invalid clause aborts with
 * a wrapped sentinel error and no predicate is returned.
 *
 * Combination semantics: strict left-to-right fold. The result starts as
 * clause[0]'s truth value; each later clause combines with the accumulated
 * result using that clause's own connective. There is no grouping, so
 * "A AND B OR C" is "(A AND B) OR C". This mirrors the row-by-row authoring
 * surface and is deliberately preserved rather than re-interpreted with
 * operator precedence.
 *
 * Evaluation-time type mismatches (a record whose stored value kind differs
 * from the schema) cannot be caught at compile time because records arrive
 * later. The clause evaluates false and a warning is logged; evaluation of
 * the rest of the set continues.
 */

// Predicate is a compiled, ready-to-evaluate filter. Evaluation is pure:
// the same record and timestamp always produce the same result.
type Predicate struct {
	clauses []compiledClause
	fields  []types.FieldName
	logger  *slog.Logger
}

type compiledClause struct {
	field      types.FieldName
	fieldType  types.FieldType
	op         types.Operator
	connective types.Connective

	text   string    // text, select comparand
	num    float64   // number/currency comparand, between lo
	num2   float64   // between hi
	date   time.Time // date comparand, between lo
	date2  time.Time // between hi
	amount int       // within_last
	unit   types.DateUnit
}

// Compiler validates and compiles filter sets against one field schema.
type Compiler struct {
	schema Schema
	logger *slog.Logger
}

// NewCompiler creates a compiler for the given schema. A nil logger falls
// back to slog.Default.
func NewCompiler(schema Schema, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{schema: schema, logger: logger}
}

// Compile validates fs and returns its predicate. Errors wrap the sentinel
// validation errors in types and name the offending clause index.
func (c *Compiler) Compile(fs types.FilterSet) (*Predicate, error) {
	if len(fs) == 0 {
		return nil, types.ErrEmptyFilterSet
	}
	if len(fs) > types.MaxFilterClauses {
		return nil, fmt.Errorf("%w: %d clauses, limit %d", types.ErrTooManyClauses, len(fs), types.MaxFilterClauses)
	}

	clauses := make([]compiledClause, 0, len(fs))
	seen := make(map[types.FieldName]bool)
	var fields []types.FieldName

	for i, clause := range fs {
		cc, err := c.compileClause(clause)
		if err != nil {
			return nil, fmt.Errorf("clause %d (%s): %w", i, clause.Field, err)
		}
		if i > 0 && cc.connective == "" {
			cc.connective = types.And
		}
		clauses = append(clauses, cc)
		if !seen[cc.field] {
			seen[cc.field] = true
			fields = append(fields, cc.field)
		}
	}

	return &Predicate{clauses: clauses, fields: fields, logger: c.logger}, nil
}

// CompileGroup compiles the condition rows of a trigger rule group. Groups
// with zero rows are invalid, never vacuously true.
func (c *Compiler) CompileGroup(g types.ConditionGroup) (*Predicate, error) {
	return c.Compile(types.FilterSet(g.Rows))
}

// compileClause validates one clause and parses its values.
func (c *Compiler) compileClause(clause types.FilterClause) (compiledClause, error) {
	ft, ok := c.schema.TypeOf(clause.Field)
	if !ok {
		return compiledClause{}, types.ErrUnknownField
	}
	if !ValidOperator(ft, clause.Operator) {
		return compiledClause{}, fmt.Errorf("%w: %s on %s", types.ErrInvalidOperator, clause.Operator, ft)
	}
	switch clause.Connective {
	case "", types.And, types.Or:
	default:
		return compiledClause{}, fmt.Errorf("%w: connective %q", types.ErrBadValue, clause.Connective)
	}

	cc := compiledClause{
		field:      clause.Field,
		fieldType:  ft,
		op:         clause.Operator,
		connective: clause.Connective,
	}

	if requiresValue(clause.Operator) && clause.Value == "" {
		return compiledClause{}, types.ErrMissingValue
	}

	switch ft {
	case types.FieldText, types.FieldSelect:
		cc.text = clause.Value

	case types.FieldNumber, types.FieldCurrency:
		n, err := parseAmount(clause.Value)
		if err != nil {
			return compiledClause{}, err
		}
		cc.num = n
		if clause.Operator == types.OpBetween {
			if clause.Value2 == "" {
				return compiledClause{}, fmt.Errorf("%w: between requires value2", types.ErrMissingValue)
			}
			n2, err := parseAmount(clause.Value2)
			if err != nil {
				return compiledClause{}, err
			}
			// The authoring surface doesn't enforce bound ordering; swap
			// rather than reject so min/max always hold lo <= hi.
			if n2 < n {
				n, n2 = n2, n
			}
			cc.num, cc.num2 = n, n2
		}

	case types.FieldDate:
		if clause.Operator == types.OpWithinLast {
			amount, err := strconv.Atoi(strings.TrimSpace(clause.Value))
			if err != nil || amount <= 0 {
				return compiledClause{}, fmt.Errorf("%w: within_last requires a positive integer", types.ErrBadValue)
			}
			switch clause.Unit {
			case types.UnitDays, types.UnitWeeks, types.UnitMonths, types.UnitYears:
			default:
				return compiledClause{}, fmt.Errorf("%w: %q", types.ErrBadUnit, clause.Unit)
			}
			cc.amount = amount
			cc.unit = clause.Unit
			break
		}
		d, err := parseDate(clause.Value)
		if err != nil {
			return compiledClause{}, err
		}
		cc.date = d
		if clause.Operator == types.OpBetween {
			if clause.Value2 == "" {
				return compiledClause{}, fmt.Errorf("%w: between requires value2", types.ErrMissingValue)
			}
			d2, err := parseDate(clause.Value2)
			if err != nil {
				return compiledClause{}, err
			}
			if d2.Before(d) {
				d, d2 = d2, d
			}
			cc.date, cc.date2 = d, d2
		}
	}

	return cc, nil
}

// parseAmount parses numeric and currency values, tolerating the currency
// formatting the authoring UI emits ("$1,000.50").
func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not numeric", types.ErrBadValue, s)
	}
	return n, nil
}

// parseDate accepts the authoring date format (2006-01-02) and RFC 3339.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d, nil
	}
	if d, err := time.Parse(time.RFC3339, s); err == nil {
		return d, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q is not a date", types.ErrBadValue, s)
}

// Fields returns the distinct fields the predicate reads, in authored
// order. Snapshot fetches request only these.
func (p *Predicate) Fields() []types.FieldName {
	return p.fields
}

// Eval applies the predicate to one donor record. at is the evaluation
// timestamp used by within_last windows; supplying it explicitly keeps
// replay and tests deterministic.
func (p *Predicate) Eval(rec types.DonorRecord, at time.Time) bool {
	acc := p.evalClause(p.clauses[0], rec, at)
	for _, cc := range p.clauses[1:] {
		// Left-to-right fold. The branch value is only needed when it can
		// change the accumulator.
		if cc.connective == types.Or {
			if !acc {
				acc = p.evalClause(cc, rec, at)
			}
		} else if acc {
			acc = p.evalClause(cc, rec, at)
		}
	}
	return acc
}

// evalClause evaluates one clause against the record. A stored value whose
// kind contradicts the schema logs a warning and fails the clause; it never
// aborts the evaluation pass.
func (p *Predicate) evalClause(cc compiledClause, rec types.DonorRecord, at time.Time) bool {
	v, present := rec.Field(cc.field)
	if present && !kindCompatible(v.Kind, cc.fieldType) {
		p.logger.Warn("field value kind contradicts schema",
			"donor", rec.ID, "field", cc.field,
			"declared", cc.fieldType, "stored", v.Kind)
		return false
	}

	switch cc.fieldType {
	case types.FieldText:
		return compareText(cc.op, v.Text, present, cc.text)
	case types.FieldSelect:
		return compareSelect(cc.op, v.Text, present, cc.text)
	case types.FieldNumber, types.FieldCurrency:
		if !present {
			return false
		}
		return compareNumber(cc.op, v.Number, cc.num, cc.num2)
	case types.FieldDate:
		if !present {
			return false
		}
		return compareDate(cc.op, v.Date, cc.date, cc.date2, cc.amount, cc.unit, at)
	default:
		return false
	}
}

// kindCompatible reports whether a stored value kind satisfies a declared
// type. Number and currency share a numeric payload; text and select share
// a string payload.
func kindCompatible(stored, declared types.FieldType) bool {
	if stored == declared {
		return true
	}
	switch declared {
	case types.FieldNumber, types.FieldCurrency:
		return stored == types.FieldNumber || stored == types.FieldCurrency
	case types.FieldText, types.FieldSelect:
		return stored == types.FieldText || stored == types.FieldSelect
	default:
		return false
	}
}
