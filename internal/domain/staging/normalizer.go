package staging

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
	"github.com/diarco/connexa-sync/internal/domain/shared"
)

// Rejection is a line excluded from the write because a key component could
// not be coerced. It never aborts the batch.
type Rejection struct {
	Line   replenishment.NettedLine
	Column string
	Value  any
	Err    error
}

// NormalizeResult holds the rows to write and the lines left out
type NormalizeResult struct {
	Rows     []Row
	Rejected []Rejection
	// Dropped lines had a quantity that rounds to zero in the destination type
	Dropped []replenishment.NettedLine
	// Duplicates counts rows replaced by a later row with the same key
	Duplicates int
}

// Normalizer coerces netted lines to the declared destination columns
type Normalizer struct {
	target Target
}

// NewNormalizer creates a normalizer for target
func NewNormalizer(target Target) *Normalizer {
	return &Normalizer{target: target}
}

// CheckSchema verifies that every mapped column exists in the destination
func (n *Normalizer) CheckSchema(columns ColumnSet) error {
	if len(columns) == 0 {
		return shared.Wrap(shared.CodeSchemaMismatch, nil, "table %s not found or has no columns", n.target.QualifiedName())
	}
	var missing []string
	for _, c := range n.target.Columns {
		spec, ok := columns.Lookup(c.Column)
		if !ok {
			missing = append(missing, c.Column)
			continue
		}
		if spec.Kind() == KindUnknown {
			return shared.Wrap(shared.CodeSchemaMismatch, nil, "%s.%s has unsupported type %s",
				n.target.QualifiedName(), c.Column, spec.DataType)
		}
	}
	if len(missing) > 0 {
		return shared.Wrap(shared.CodeSchemaMismatch, nil, "%s is missing columns %s",
			n.target.QualifiedName(), strings.Join(missing, ", "))
	}
	return nil
}

// Normalize converts lines into destination rows. Rows are de-duplicated by
// primary key; a later row replaces an earlier one and inherits its source keys.
func (n *Normalizer) Normalize(lines []replenishment.NettedLine, columns ColumnSet) (NormalizeResult, error) {
	if err := n.CheckSchema(columns); err != nil {
		return NormalizeResult{}, err
	}

	specs := make([]ColumnSpec, len(n.target.Columns))
	for i, c := range n.target.Columns {
		specs[i], _ = columns.Lookup(c.Column)
	}
	qtyIdx := -1
	if n.target.QuantityColumn != "" {
		qtyIdx = n.target.ColumnIndex(n.target.QuantityColumn)
	}

	var result NormalizeResult
	positions := make(map[RowKey]int, len(lines))

	for _, line := range lines {
		values := make([]any, len(n.target.Columns))
		var rejection *Rejection

		for i, mapping := range n.target.Columns {
			raw := n.resolve(mapping.Source, line)
			isKey := n.target.IsKey(mapping.Column)
			v, err := coerce(raw, specs[i], mapping, isKey, i == qtyIdx)
			if err != nil {
				rejection = &Rejection{Line: line, Column: mapping.Column, Value: raw, Err: err}
				break
			}
			values[i] = v
		}
		if rejection != nil {
			result.Rejected = append(result.Rejected, *rejection)
			continue
		}

		if qtyIdx >= 0 && quantityIsZero(values[qtyIdx]) {
			result.Dropped = append(result.Dropped, line)
			continue
		}

		row := Row{
			Key:            n.target.KeyOf(values),
			CorrelationKey: line.CorrelationKey(),
			Values:         values,
			SourceKeys:     append([]string(nil), line.MemberKeys...),
			Line:           line,
		}
		if pos, dup := positions[row.Key]; dup {
			row.SourceKeys = mergeKeys(row.SourceKeys, result.Rows[pos].SourceKeys)
			result.Rows[pos] = row
			result.Duplicates++
			continue
		}
		positions[row.Key] = len(result.Rows)
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func (n *Normalizer) resolve(source string, line replenishment.NettedLine) any {
	switch source {
	case SourceSupplier:
		return line.SupplierCode
	case SourceArticle:
		return line.ArticleCode
	case SourceBranch:
		return line.DestinationBranchID
	case SourceQuantity:
		return line.NetQty
	case SourceCorrelationKey:
		return line.CorrelationKey()
	default:
		return line.Representative.Field(source)
	}
}

func coerce(raw any, spec ColumnSpec, mapping ColumnMapping, isKey, isQuantity bool) (any, error) {
	null := isNull(raw)
	invalid := func() (any, error) {
		if isKey {
			return nil, shared.Wrap(shared.CodeDataValidation, nil,
				"key column %s: cannot coerce %v to %s", mapping.Column, raw, spec.DataType)
		}
		return defaultFor(spec, mapping)
	}

	switch spec.Kind() {
	case KindInteger:
		if null {
			return invalid()
		}
		v, ok := toInteger(raw, isKey)
		if !ok {
			return invalid()
		}
		if isQuantity && v < 0 {
			v = 0
		}
		return v, nil

	case KindDecimal:
		if null {
			return invalid()
		}
		v, ok := toDecimal(raw)
		if !ok {
			return invalid()
		}
		if isQuantity && v.IsNegative() {
			v = decimal.Zero
		}
		return v, nil

	case KindTimestamp:
		if null {
			return invalid()
		}
		v, ok := toTimestamp(raw)
		if !ok {
			return invalid()
		}
		return v, nil

	case KindBoolean:
		if null {
			return invalid()
		}
		v, ok := toBoolean(raw)
		if !ok {
			return invalid()
		}
		return v, nil

	case KindText:
		s, ok := toText(raw)
		if !ok || (isKey && strings.TrimSpace(s) == "") {
			if isKey {
				return invalid()
			}
			d, err := defaultFor(spec, mapping)
			if err != nil {
				return nil, err
			}
			s, _ = toText(d)
		}
		return truncateText(s, spec.MaxLength), nil
	}

	return nil, shared.Wrap(shared.CodeSchemaMismatch, nil, "column %s has unsupported type %s", mapping.Column, spec.DataType)
}

// defaultFor returns the configured default or the type's zero value.
// Timestamps fall back to TimestampSentinel.
func defaultFor(spec ColumnSpec, mapping ColumnMapping) (any, error) {
	if mapping.Default != nil {
		d := mapping.Default
		switch spec.Kind() {
		case KindInteger:
			if v, ok := toInteger(d, false); ok {
				return v, nil
			}
		case KindDecimal:
			if v, ok := toDecimal(d); ok {
				return v, nil
			}
		case KindTimestamp:
			if v, ok := toTimestamp(d); ok {
				return v, nil
			}
		case KindBoolean:
			if v, ok := toBoolean(d); ok {
				return v, nil
			}
		case KindText:
			if s, ok := toText(d); ok {
				return truncateText(s, spec.MaxLength), nil
			}
		}
		return nil, fmt.Errorf("column %s: default %v does not fit type %s", mapping.Column, d, spec.DataType)
	}

	switch spec.Kind() {
	case KindInteger:
		return int64(0), nil
	case KindDecimal:
		return decimal.Zero, nil
	case KindTimestamp:
		return TimestampSentinel, nil
	case KindBoolean:
		return false, nil
	default:
		return "", nil
	}
}

func quantityIsZero(v any) bool {
	d, ok := toDecimal(v)
	return !ok || !d.IsPositive()
}
