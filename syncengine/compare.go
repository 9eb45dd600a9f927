package syncengine

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// floatTolerance absorbs cross-engine rounding of numeric columns. MySQL,
// Postgres and SQL Server do not round identically at the edge of a
// column's precision; differences below this are not real divergence.
const floatTolerance = 1e-6

// FieldDiff is one per-field divergence between the owner's copy and a
// replica's copy, both canonicalized. Its rendering doubles as the
// operator-facing conflict reason.
type FieldDiff struct {
	Field  string `json:"field"`
	Source string `json:"source"`
	Target string `json:"target"`
}

func (d FieldDiff) String() string {
	return fmt.Sprintf("%s: %s -> %s", d.Field, d.Source, d.Target)
}

// DiffText renders a diff list as the single-line reason stored on a
// conflict row and sent with notifications.
func DiffText(table string, key string, ownerNode string, intruderNode string, diffs []FieldDiff) string {
	parts := make([]string, 0, len(diffs))
	for _, d := range diffs {
		parts = append(parts, d.String())
	}
	return fmt.Sprintf("%s owns %s:%s but %s holds a different copy [%s]",
		ownerNode, table, key, intruderNode, strings.Join(parts, "; "))
}

// diffFields compares two canonicalized records field by field. Bookkeeping
// columns are simply not in the schema's field list, so they never show up.
func diffFields[T any](sc *Schema[T], src *T, dst *T) []FieldDiff {
	var diffs []FieldDiff
	for _, f := range sc.Fields {
		a := f.Value(src)
		b := f.Value(dst)
		if !valuesEqual(a, b) {
			diffs = append(diffs, FieldDiff{
				Field:  f.Column,
				Source: renderValue(a),
				Target: renderValue(b),
			})
		}
	}
	return diffs
}

func valuesEqual(a any, b any) bool {
	switch av := a.(type) {
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		if !ok {
			return false
		}
		return av.Sub(bv).Abs().LessThanOrEqual(decimal.NewFromFloat(floatTolerance))
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return false
		}
		return math.Abs(av-bv) <= floatTolerance
	case *int:
		bv, ok := b.(*int)
		if !ok {
			return false
		}
		if av == nil || bv == nil {
			return av == nil && bv == nil
		}
		return *av == *bv
	default:
		return a == b
	}
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case *int:
		if t == nil {
			return "NULL"
		}
		return fmt.Sprintf("%d", *t)
	case decimal.Decimal:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
