package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/diarco/connexa-sync/internal/domain/staging"
	"gorm.io/gorm"
)

// InformationSchemaIntrospector reads column metadata from
// INFORMATION_SCHEMA.COLUMNS, which both SQL Server and PostgreSQL expose.
// Every call hits the catalog; widths can change between deployments.
type InformationSchemaIntrospector struct {
	db *gorm.DB
}

// NewInformationSchemaIntrospector creates an introspector on db
func NewInformationSchemaIntrospector(db *gorm.DB) *InformationSchemaIntrospector {
	return &InformationSchemaIntrospector{db: db}
}

type columnRow struct {
	ColumnName             string        `gorm:"column:column_name"`
	DataType               string        `gorm:"column:data_type"`
	CharacterMaximumLength sql.NullInt64 `gorm:"column:character_maximum_length"`
	IsNullable             string        `gorm:"column:is_nullable"`
}

// Columns returns the declared columns of schema.table. An unknown table
// yields an empty set, which the normalizer reports as a schema mismatch.
func (i *InformationSchemaIntrospector) Columns(ctx context.Context, schema, table string) (staging.ColumnSet, error) {
	if !staging.ValidIdentifier(schema) || !staging.ValidIdentifier(table) {
		return nil, fmt.Errorf("invalid table name %s.%s", schema, table)
	}

	var rows []columnRow
	err := i.db.WithContext(ctx).Raw(`SELECT COLUMN_NAME AS column_name, DATA_TYPE AS data_type,
	CHARACTER_MAXIMUM_LENGTH AS character_maximum_length, IS_NULLABLE AS is_nullable
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`, schema, table).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("introspect %s.%s: %w", schema, table, Classify(err))
	}

	specs := make([]staging.ColumnSpec, len(rows))
	for n, row := range rows {
		maxLen := 0
		if row.CharacterMaximumLength.Valid {
			maxLen = int(row.CharacterMaximumLength.Int64)
		}
		specs[n] = staging.ColumnSpec{
			Name:      row.ColumnName,
			DataType:  row.DataType,
			MaxLength: maxLen,
			Nullable:  strings.EqualFold(row.IsNullable, "YES"),
		}
	}
	return staging.NewColumnSet(specs), nil
}

var _ staging.SchemaIntrospector = (*InformationSchemaIntrospector)(nil)
