// Package staging describes the ERP staging tables that receive published
// lines: their introspected columns, the configured column map and the
// normalization rules that make a netted line fit the destination exactly.
package staging

import (
	"strings"
)

// ColumnKind is the coercion family of a destination column
type ColumnKind string

const (
	KindInteger   ColumnKind = "integer"
	KindDecimal   ColumnKind = "decimal"
	KindTimestamp ColumnKind = "timestamp"
	KindText      ColumnKind = "text"
	KindBoolean   ColumnKind = "boolean"
	KindUnknown   ColumnKind = "unknown"
)

// KindOf maps an INFORMATION_SCHEMA data type to its coercion family
func KindOf(sqlType string) ColumnKind {
	switch strings.ToLower(strings.TrimSpace(sqlType)) {
	case "int", "integer", "bigint", "smallint", "tinyint", "int2", "int4", "int8":
		return KindInteger
	case "decimal", "numeric", "money", "smallmoney", "float", "real", "double precision":
		return KindDecimal
	case "date", "datetime", "datetime2", "smalldatetime", "datetimeoffset",
		"timestamp", "timestamp without time zone", "timestamp with time zone":
		return KindTimestamp
	case "char", "varchar", "nchar", "nvarchar", "text", "ntext", "character", "character varying":
		return KindText
	case "bit", "boolean", "bool":
		return KindBoolean
	default:
		return KindUnknown
	}
}

// ColumnSpec is one destination column as declared at run time
type ColumnSpec struct {
	Name      string
	DataType  string
	MaxLength int // characters; 0 when unbounded or not a text column
	Nullable  bool
}

// Kind returns the coercion family of the column
func (c ColumnSpec) Kind() ColumnKind {
	return KindOf(c.DataType)
}

// ColumnSet indexes column specs by lower-cased name
type ColumnSet map[string]ColumnSpec

// NewColumnSet builds a set from specs. MaxLength values of -1 (varchar(max))
// are stored as unbounded.
func NewColumnSet(specs []ColumnSpec) ColumnSet {
	set := make(ColumnSet, len(specs))
	for _, s := range specs {
		if s.MaxLength < 0 || s.Kind() != KindText {
			s.MaxLength = 0
		}
		set[strings.ToLower(s.Name)] = s
	}
	return set
}

// Lookup finds a column case-insensitively
func (s ColumnSet) Lookup(name string) (ColumnSpec, bool) {
	spec, ok := s[strings.ToLower(name)]
	return spec, ok
}
