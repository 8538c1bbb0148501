// internal/filter/operators.go
package filter

import (
	"strings"
	"time"

	"github.com/cultivar-crm/cultivar/internal/types"
)

/*
 * Operator comparison logic.
 *
 * Each declared field type carries a fixed legal operator set; pairs outside
 * the sets are rejected during compilation. Comparison functions operate on
 * values already parsed by Compile, so they never fail at evaluation time.
 *
 * Operator sets:
 *   - text:            equals, contains, starts_with, ends_with, is_empty, is_not_empty
 *   - number/currency: equals, gt, gte, lt, lte, between
 *   - date:            on, before, after, between, within_last
 *   - select:          equals, not_equals
 *
 * Date comparison is calendar-day granular in UTC: "on" means the same day,
 * "before"/"after" exclude the day itself. within_last subtracts N units
 * from the caller-supplied evaluation timestamp (months and years via
 * AddDate so month-length arithmetic stays calendar-correct).
 */

// ValidOperator reports whether op is legal for a field of type ft.
func ValidOperator(ft types.FieldType, op types.Operator) bool {
	switch ft {
	case types.FieldText:
		switch op {
		case types.OpEquals, types.OpContains, types.OpStartsWith,
			types.OpEndsWith, types.OpIsEmpty, types.OpIsNotEmpty:
			return true
		}
	case types.FieldNumber, types.FieldCurrency:
		switch op {
		case types.OpEquals, types.OpGreaterThan, types.OpGreaterEqual,
			types.OpLessThan, types.OpLessEqual, types.OpBetween:
			return true
		}
	case types.FieldDate:
		switch op {
		case types.OpOn, types.OpBefore, types.OpAfter,
			types.OpBetween, types.OpWithinLast:
			return true
		}
	case types.FieldSelect:
		switch op {
		case types.OpEquals, types.OpNotEquals:
			return true
		}
	}
	return false
}

// requiresValue reports whether op needs a primary comparison value.
func requiresValue(op types.Operator) bool {
	switch op {
	case types.OpIsEmpty, types.OpIsNotEmpty:
		return false
	default:
		return true
	}
}

// compareText applies a text operator. present is false when the donor
// record has no value for the field; is_empty treats absence as empty.
func compareText(op types.Operator, value string, present bool, target string) bool {
	switch op {
	case types.OpIsEmpty:
		return !present || value == ""
	case types.OpIsNotEmpty:
		return present && value != ""
	}
	if !present {
		return false
	}
	switch op {
	case types.OpEquals:
		return strings.EqualFold(value, target)
	case types.OpContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(target))
	case types.OpStartsWith:
		return strings.HasPrefix(strings.ToLower(value), strings.ToLower(target))
	case types.OpEndsWith:
		return strings.HasSuffix(strings.ToLower(value), strings.ToLower(target))
	default:
		return false
	}
}

// compareNumber applies a numeric operator. lo and hi are meaningful only
// for between and are normalized (lo <= hi) at compile time.
func compareNumber(op types.Operator, value, target, hi float64) bool {
	switch op {
	case types.OpEquals:
		return value == target
	case types.OpGreaterThan:
		return value > target
	case types.OpGreaterEqual:
		return value >= target
	case types.OpLessThan:
		return value < target
	case types.OpLessEqual:
		return value <= target
	case types.OpBetween:
		return value >= target && value <= hi
	default:
		return false
	}
}

// day truncates t to its UTC calendar day.
func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// compareDate applies a date operator at calendar-day granularity. For
// within_last the cutoff is derived from at, the evaluation timestamp
// supplied by the caller, never from the wall clock.
func compareDate(op types.Operator, value, target, hi time.Time, amount int, unit types.DateUnit, at time.Time) bool {
	v := day(value)
	switch op {
	case types.OpOn:
		return v.Equal(day(target))
	case types.OpBefore:
		return v.Before(day(target))
	case types.OpAfter:
		return v.After(day(target))
	case types.OpBetween:
		return !v.Before(day(target)) && !v.After(day(hi))
	case types.OpWithinLast:
		cutoff := withinCutoff(at, amount, unit)
		return !v.Before(day(cutoff)) && !v.After(day(at))
	default:
		return false
	}
}

// withinCutoff computes the earliest date still inside the window.
func withinCutoff(at time.Time, amount int, unit types.DateUnit) time.Time {
	switch unit {
	case types.UnitDays:
		return at.AddDate(0, 0, -amount)
	case types.UnitWeeks:
		return at.AddDate(0, 0, -7*amount)
	case types.UnitMonths:
		return at.AddDate(0, -amount, 0)
	case types.UnitYears:
		return at.AddDate(-amount, 0, 0)
	default:
		return at
	}
}

// compareSelect applies a select operator. not_equals on a missing field
// matches: the donor's value is known to differ from the target.
func compareSelect(op types.Operator, value string, present bool, target string) bool {
	switch op {
	case types.OpEquals:
		return present && strings.EqualFold(value, target)
	case types.OpNotEquals:
		return !present || !strings.EqualFold(value, target)
	default:
		return false
	}
}
