// internal/filter/compile_test.go
package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/cultivar-crm/cultivar/internal/types"
)

var evalAt = time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC) // a Monday

func donor(id string, fields map[types.FieldName]types.FieldValue) types.DonorRecord {
	return types.DonorRecord{ID: types.DonorID(id), Fields: fields}
}

func TestCompile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		fs      types.FilterSet
		wantErr error
	}{
		{
			name:    "empty filter set",
			fs:      types.FilterSet{},
			wantErr: types.ErrEmptyFilterSet,
		},
		{
			name: "unknown field",
			fs: types.FilterSet{
				{Field: "shoe_size", Operator: types.OpEquals, Value: "42"},
			},
			wantErr: types.ErrUnknownField,
		},
		{
			name: "operator illegal for type",
			fs: types.FilterSet{
				{Field: "total_giving", Operator: types.OpContains, Value: "5"},
			},
			wantErr: types.ErrInvalidOperator,
		},
		{
			name: "between without value2",
			fs: types.FilterSet{
				{Field: "total_giving", Operator: types.OpBetween, Value: "100"},
			},
			wantErr: types.ErrMissingValue,
		},
		{
			name: "within_last non-integer",
			fs: types.FilterSet{
				{Field: "last_gift_date", Operator: types.OpWithinLast, Value: "soon", Unit: types.UnitDays},
			},
			wantErr: types.ErrBadValue,
		},
		{
			name: "within_last zero amount",
			fs: types.FilterSet{
				{Field: "last_gift_date", Operator: types.OpWithinLast, Value: "0", Unit: types.UnitDays},
			},
			wantErr: types.ErrBadValue,
		},
		{
			name: "within_last unknown unit",
			fs: types.FilterSet{
				{Field: "last_gift_date", Operator: types.OpWithinLast, Value: "3", Unit: "fortnights"},
			},
			wantErr: types.ErrBadUnit,
		},
		{
			name: "missing required value",
			fs: types.FilterSet{
				{Field: "email", Operator: types.OpContains},
			},
			wantErr: types.ErrMissingValue,
		},
		{
			name: "non-numeric value for currency",
			fs: types.FilterSet{
				{Field: "total_giving", Operator: types.OpGreaterEqual, Value: "lots"},
			},
			wantErr: types.ErrBadValue,
		},
		{
			name: "is_empty ignores value",
			fs: types.FilterSet{
				{Field: "email", Operator: types.OpIsEmpty},
			},
			wantErr: nil,
		},
		{
			name: "currency formatting accepted",
			fs: types.FilterSet{
				{Field: "total_giving", Operator: types.OpGreaterEqual, Value: "$1,000.50"},
			},
			wantErr: nil,
		},
	}

	c := NewCompiler(DonorSchema(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile(tt.fs)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Compile() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Compile() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEval_LeftToRightFold(t *testing.T) {
	// A AND B OR C must evaluate as (A AND B) OR C, never A AND (B OR C).
	fs := types.FilterSet{
		{Field: "donor_type", Operator: types.OpEquals, Value: "individual"},                       // A
		{Field: "total_giving", Operator: types.OpGreaterEqual, Value: "500", Connective: types.And}, // B
		{Field: "status", Operator: types.OpEquals, Value: "lapsed", Connective: types.Or},           // C
	}
	pred, err := NewCompiler(DonorSchema(), nil).Compile(fs)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	tests := []struct {
		name string
		rec  types.DonorRecord
		want bool
	}{
		{
			name: "A true, B true, C false",
			rec: donor("d1", map[types.FieldName]types.FieldValue{
				"donor_type":   types.SelectValue("individual"),
				"total_giving": types.CurrencyValue(750),
				"status":       types.SelectValue("active"),
			}),
			want: true,
		},
		{
			name: "A false, B true, C false: (false AND true) OR false",
			rec: donor("d2", map[types.FieldName]types.FieldValue{
				"donor_type":   types.SelectValue("organization"),
				"total_giving": types.CurrencyValue(750),
				"status":       types.SelectValue("active"),
			}),
			want: false,
		},
		{
			name: "A false, B false, C true rescued by OR",
			rec: donor("d3", map[types.FieldName]types.FieldValue{
				"donor_type":   types.SelectValue("organization"),
				"total_giving": types.CurrencyValue(10),
				"status":       types.SelectValue("lapsed"),
			}),
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pred.Eval(tt.rec, evalAt); got != tt.want {
				t.Errorf("Eval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEval_BetweenNormalization(t *testing.T) {
	// min=1000, max=500 must behave exactly like min=500, max=1000.
	ordered := types.FilterSet{{Field: "total_giving", Operator: types.OpBetween, Value: "500", Value2: "1000"}}
	swapped := types.FilterSet{{Field: "total_giving", Operator: types.OpBetween, Value: "1000", Value2: "500"}}

	c := NewCompiler(DonorSchema(), nil)
	po, err := c.Compile(ordered)
	if err != nil {
		t.Fatalf("Compile(ordered) error = %v", err)
	}
	ps, err := c.Compile(swapped)
	if err != nil {
		t.Fatalf("Compile(swapped) error = %v", err)
	}

	for _, amount := range []float64{0, 499.99, 500, 750, 1000, 1000.01} {
		rec := donor("d", map[types.FieldName]types.FieldValue{
			"total_giving": types.CurrencyValue(amount),
		})
		if po.Eval(rec, evalAt) != ps.Eval(rec, evalAt) {
			t.Errorf("amount %v: ordered and swapped bounds disagree", amount)
		}
	}
}

func TestEval_WithinLast(t *testing.T) {
	fs := types.FilterSet{
		{Field: "last_gift_date", Operator: types.OpWithinLast, Value: "2", Unit: types.UnitWeeks},
	}
	pred, err := NewCompiler(DonorSchema(), nil).Compile(fs)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	tests := []struct {
		name string
		gift time.Time
		want bool
	}{
		{"yesterday", evalAt.AddDate(0, 0, -1), true},
		{"exactly at window edge", evalAt.AddDate(0, 0, -14), true},
		{"one day outside window", evalAt.AddDate(0, 0, -15), false},
		{"in the future", evalAt.AddDate(0, 0, 2), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := donor("d", map[types.FieldName]types.FieldValue{
				"last_gift_date": types.DateValue(tt.gift),
			})
			if got := pred.Eval(rec, evalAt); got != tt.want {
				t.Errorf("Eval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEval_MissingAndMismatchedFields(t *testing.T) {
	c := NewCompiler(DonorSchema(), nil)

	tests := []struct {
		name string
		fs   types.FilterSet
		rec  types.DonorRecord
		want bool
	}{
		{
			name: "is_empty matches missing field",
			fs:   types.FilterSet{{Field: "email", Operator: types.OpIsEmpty}},
			rec:  donor("d", nil),
			want: true,
		},
		{
			name: "is_not_empty fails on missing field",
			fs:   types.FilterSet{{Field: "email", Operator: types.OpIsNotEmpty}},
			rec:  donor("d", nil),
			want: false,
		},
		{
			name: "not_equals matches missing select",
			fs:   types.FilterSet{{Field: "donor_type", Operator: types.OpNotEquals, Value: "foundation"}},
			rec:  donor("d", nil),
			want: true,
		},
		{
			name: "numeric comparison fails on missing field",
			fs:   types.FilterSet{{Field: "gift_count", Operator: types.OpGreaterEqual, Value: "1"}},
			rec:  donor("d", nil),
			want: false,
		},
		{
			name: "stored kind contradicting schema fails clause",
			fs:   types.FilterSet{{Field: "total_giving", Operator: types.OpGreaterEqual, Value: "1"}},
			rec: donor("d", map[types.FieldName]types.FieldValue{
				"total_giving": types.TextValue("a lot"),
			}),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := c.Compile(tt.fs)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			if got := pred.Eval(tt.rec, evalAt); got != tt.want {
				t.Errorf("Eval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventSchema_Kinds(t *testing.T) {
	for _, kind := range []types.EventKind{types.EventGift, types.EventPledge, types.EventTask, types.EventAction} {
		if _, ok := EventSchema(kind); !ok {
			t.Errorf("EventSchema(%s) missing", kind)
		}
	}
	if _, ok := EventSchema("webhook"); ok {
		t.Error("EventSchema accepted unknown kind")
	}
}
