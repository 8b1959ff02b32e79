package staging

import (
	"strings"
	"time"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
)

// timestampTolerance absorbs the 1/300 s rounding of SQL Server datetime
const timestampTolerance = 5 * time.Millisecond

// RowKey is the rendered destination primary key of a row
type RowKey string

// KeyOf renders the primary key from values ordered like t.Columns
func (t Target) KeyOf(values []any) RowKey {
	parts := make([]string, 0, len(t.PrimaryKey))
	for _, i := range t.KeyIndexes() {
		if i < 0 || i >= len(values) {
			parts = append(parts, "")
			continue
		}
		parts = append(parts, keyPart(values[i]))
	}
	return RowKey(strings.Join(parts, "\x1f"))
}

// Row is a normalized destination row ready for writing
type Row struct {
	Key            RowKey
	CorrelationKey string
	Values         []any

	// SourceKeys are the correlation keys of every pending line the row covers
	SourceKeys []string
	Line       replenishment.NettedLine
}

// KeyValues returns the primary-key values in key order
func (r Row) KeyValues(t Target) []any {
	out := make([]any, 0, len(t.PrimaryKey))
	for _, i := range t.KeyIndexes() {
		out = append(out, r.Values[i])
	}
	return out
}

// Value returns the value of column, or nil when unmapped
func (r Row) Value(t Target, column string) any {
	i := t.ColumnIndex(column)
	if i < 0 || i >= len(r.Values) {
		return nil
	}
	return r.Values[i]
}

// Equivalent reports whether stored values match the row column by column
func (r Row) Equivalent(stored []any) bool {
	if len(stored) != len(r.Values) {
		return false
	}
	for i := range r.Values {
		if !valuesEqual(r.Values[i], stored[i]) {
			return false
		}
	}
	return true
}

// Differences lists the positions whose stored value differs
func (r Row) Differences(t Target, stored []any) []string {
	var cols []string
	for i, c := range t.Columns {
		if i >= len(stored) || !valuesEqual(r.Values[i], stored[i]) {
			cols = append(cols, c.Column)
		}
	}
	return cols
}

func valuesEqual(a, b any) bool {
	if isNull(a) || isNull(b) {
		return isNull(a) && isNull(b)
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := toTimestamp(b)
		if !ok {
			return false
		}
		d := ta.Sub(tb)
		if d < 0 {
			d = -d
		}
		return d <= timestampTolerance
	}
	if ba, ok := a.(bool); ok {
		bb, ok := toBoolean(b)
		return ok && ba == bb
	}
	if sa, ok := a.(string); ok {
		sb, ok := toText(b)
		return ok && strings.TrimRight(sa, " ") == strings.TrimRight(sb, " ")
	}
	da, okA := toDecimal(a)
	db, okB := toDecimal(b)
	if okA && okB {
		return da.Equal(db)
	}
	return keyPart(a) == keyPart(b)
}

func mergeKeys(dst []string, src []string) []string {
	for _, k := range src {
		found := false
		for _, d := range dst {
			if d == k {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, k)
		}
	}
	return dst
}
