// internal/filter/property_test.go
package filter

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/cultivar-crm/cultivar/internal/types"
)

// numericOps are the operators exercised by the fold property. between is
// covered separately because it needs two bounds.
var numericOps = []types.Operator{
	types.OpEquals, types.OpGreaterThan, types.OpGreaterEqual,
	types.OpLessThan, types.OpLessEqual,
}

// referenceClause evaluates one numeric clause the naive way, straight off
// the raw values, independent of the compiler.
func referenceClause(op types.Operator, value, target float64) bool {
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
	default:
		return false
	}
}

// TestProperty_FoldMatchesReferenceInterpreter checks that the compiled
// predicate agrees with a naive left-to-right fold over individually
// evaluated clauses, for arbitrary clause lists and donor values.
func TestProperty_FoldMatchesReferenceInterpreter(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	c := NewCompiler(DonorSchema(), nil)

	properties.Property("compiled fold equals reference fold", prop.ForAll(
		func(opIdxs []int, targets []int, orMask []bool, giving int) bool {
			n := len(opIdxs)
			if n == 0 {
				return true
			}
			if len(targets) < n || len(orMask) < n {
				return true
			}

			fs := make(types.FilterSet, n)
			for i := 0; i < n; i++ {
				op := numericOps[((opIdxs[i]%len(numericOps))+len(numericOps))%len(numericOps)]
				conn := types.And
				if orMask[i] {
					conn = types.Or
				}
				fs[i] = types.FilterClause{
					Field:      "total_giving",
					Operator:   op,
					Value:      strconv.Itoa(targets[i]),
					Connective: conn,
				}
			}

			pred, err := c.Compile(fs)
			if err != nil {
				return false
			}

			rec := types.DonorRecord{
				ID:     "d",
				Fields: map[types.FieldName]types.FieldValue{"total_giving": types.CurrencyValue(float64(giving))},
			}

			// Reference interpreter: evaluate each clause raw, fold with the
			// clause's own connective.
			want := referenceClause(fs[0].Operator, float64(giving), float64(targets[0]))
			for i := 1; i < n; i++ {
				v := referenceClause(fs[i].Operator, float64(giving), float64(targets[i]))
				if fs[i].Connective == types.Or {
					want = want || v
				} else {
					want = want && v
				}
			}

			return pred.Eval(rec, evalAt) == want
		},
		gen.SliceOfN(4, gen.IntRange(0, 100)),
		gen.SliceOfN(4, gen.IntRange(-1000, 1000)),
		gen.SliceOfN(4, gen.Bool()),
		gen.IntRange(-1000, 1000),
	))

	properties.Property("between is order-independent in its bounds", prop.ForAll(
		func(a, b, giving int) bool {
			mk := func(lo, hi int) types.FilterSet {
				return types.FilterSet{{
					Field:    "total_giving",
					Operator: types.OpBetween,
					Value:    strconv.Itoa(lo),
					Value2:   strconv.Itoa(hi),
				}}
			}
			p1, err1 := c.Compile(mk(a, b))
			p2, err2 := c.Compile(mk(b, a))
			if err1 != nil || err2 != nil {
				return false
			}
			rec := types.DonorRecord{
				ID:     "d",
				Fields: map[types.FieldName]types.FieldValue{"total_giving": types.CurrencyValue(float64(giving))},
			}
			return p1.Eval(rec, evalAt) == p2.Eval(rec, evalAt)
		},
		gen.IntRange(-500, 500),
		gen.IntRange(-500, 500),
		gen.IntRange(-1000, 1000),
	))

	properties.TestingRun(t)
}
