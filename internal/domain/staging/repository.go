package staging

import (
	"context"
)

// SchemaIntrospector reads the destination column metadata. Implementations
// must not cache across runs.
type SchemaIntrospector interface {
	Columns(ctx context.Context, schema, table string) (ColumnSet, error)
}

// MergeResult tells whether a merge inserted or updated the row
type MergeResult string

const (
	MergeInserted MergeResult = "INSERT"
	MergeUpdated  MergeResult = "UPDATE"
)

// Store writes normalized rows into a staging table. Every statement uses the
// explicit ordered column list of the target.
type Store interface {
	// FetchExisting returns the stored values, ordered like target.Columns,
	// of the rows whose primary key matches one of rows.
	FetchExisting(ctx context.Context, target Target, rows []Row) (map[RowKey][]any, error)

	// Insert writes rows in one transaction. A duplicate key fails the whole
	// call with shared.ErrDuplicateKeyConflict.
	Insert(ctx context.Context, target Target, rows []Row) error

	// Update rewrites the non-key columns of rows matched by primary key
	Update(ctx context.Context, target Target, rows []Row) error

	// Merge upserts a single row
	Merge(ctx context.Context, target Target, row Row) (MergeResult, error)
}
