package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diarco/connexa-sync/internal/domain/staging"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	// SQL Server accepts at most 2100 parameters per request and 1000 rows per VALUES list
	maxParams     = 2000
	maxValuesRows = 1000
)

// SQLServerStagingStore implements staging.Store on the ERP database. Every
// write is a short transaction with an explicit ordered column list, so no
// long-lived lock is held against the table maintenance routine.
type SQLServerStagingStore struct {
	db               *gorm.DB
	statementTimeout time.Duration
}

// NewSQLServerStagingStore creates a store. A zero timeout leaves statements
// bounded only by the caller's context.
func NewSQLServerStagingStore(db *gorm.DB, statementTimeout time.Duration) *SQLServerStagingStore {
	return &SQLServerStagingStore{db: db, statementTimeout: statementTimeout}
}

func (s *SQLServerStagingStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.statementTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.statementTimeout)
}

type quotedTarget struct {
	table   string
	columns []string
	keys    []string
}

func quoteTarget(t staging.Target) (quotedTarget, error) {
	table, err := msQualified(t.Schema, t.Table)
	if err != nil {
		return quotedTarget{}, err
	}
	cols, err := msColumns(t.ColumnNames())
	if err != nil {
		return quotedTarget{}, err
	}
	keys, err := msColumns(t.PrimaryKey)
	if err != nil {
		return quotedTarget{}, err
	}
	return quotedTarget{table: table, columns: cols, keys: keys}, nil
}

// FetchExisting selects the stored rows whose primary key is in rows
func (s *SQLServerStagingStore) FetchExisting(ctx context.Context, target staging.Target, rows []staging.Row) (map[staging.RowKey][]any, error) {
	out := make(map[staging.RowKey][]any)
	if len(rows) == 0 {
		return out, nil
	}
	q, err := quoteTarget(target)
	if err != nil {
		return nil, err
	}

	keyMatch := make([]string, len(q.keys))
	for i, k := range q.keys {
		keyMatch[i] = k + " = ?"
	}
	predicate := "(" + strings.Join(keyMatch, " AND ") + ")"
	chunk := max(1, maxParams/len(q.keys))

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for start := 0; start < len(rows); start += chunk {
		batch := rows[start:min(start+chunk, len(rows))]
		preds := make([]string, len(batch))
		args := make([]any, 0, len(batch)*len(q.keys))
		for i, r := range batch {
			preds[i] = predicate
			args = append(args, r.KeyValues(target)...)
		}
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
			strings.Join(q.columns, ", "), q.table, strings.Join(preds, " OR "))

		if err := s.scanInto(ctx, query, args, len(q.columns), func(values []any) {
			values = conformKey(target, values, batch[0])
			out[target.KeyOf(values)] = values
		}); err != nil {
			return nil, fmt.Errorf("fetch existing rows of %s: %w", target.QualifiedName(), err)
		}
	}
	return out, nil
}

func (s *SQLServerStagingStore) scanInto(ctx context.Context, query string, args []any, width int, fn func([]any)) error {
	rows, err := s.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return Classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		values := make([]any, width)
		ptrs := make([]any, width)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Classify(err)
		}
		fn(values)
	}
	return Classify(rows.Err())
}

// conformKey converts the stored key values to the Go types the normalizer
// produced, so a DECIMAL key read back as bytes keys the same as an int64
func conformKey(target staging.Target, stored []any, sample staging.Row) []any {
	for _, i := range target.KeyIndexes() {
		if i < 0 || i >= len(stored) || i >= len(sample.Values) {
			continue
		}
		switch sample.Values[i].(type) {
		case int64:
			if n, ok := asDecimal(stored[i]); ok && n.IsInteger() {
				stored[i] = n.IntPart()
			}
		case decimal.Decimal:
			if d, ok := asDecimal(stored[i]); ok {
				stored[i] = d
			}
		case string:
			stored[i] = strings.TrimRight(asString(stored[i]), " ")
		}
	}
	return stored
}

// Insert writes rows with multi-row INSERT statements in one transaction
func (s *SQLServerStagingStore) Insert(ctx context.Context, target staging.Target, rows []staging.Row) error {
	if len(rows) == 0 {
		return nil
	}
	q, err := quoteTarget(target)
	if err != nil {
		return err
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(q.columns)), ", ") + ")"
	chunk := min(maxValuesRows, max(1, maxParams/len(q.columns)))
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", q.table, strings.Join(q.columns, ", "))

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(rows); start += chunk {
			batch := rows[start:min(start+chunk, len(rows))]
			values := make([]string, len(batch))
			args := make([]any, 0, len(batch)*len(q.columns))
			for i, r := range batch {
				values[i] = placeholders
				args = append(args, r.Values...)
			}
			if err := tx.Exec(prefix+strings.Join(values, ", "), args...).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert into %s: %w", target.QualifiedName(), Classify(err))
	}
	return nil
}

// Update rewrites the non-key columns of rows matched by primary key
func (s *SQLServerStagingStore) Update(ctx context.Context, target staging.Target, rows []staging.Row) error {
	if len(rows) == 0 {
		return nil
	}
	q, err := quoteTarget(target)
	if err != nil {
		return err
	}

	var sets, where []string
	var setIdx []int
	for i, c := range target.Columns {
		if target.IsKey(c.Column) {
			continue
		}
		sets = append(sets, q.columns[i]+" = ?")
		setIdx = append(setIdx, i)
	}
	if len(sets) == 0 {
		return nil
	}
	for _, k := range q.keys {
		where = append(where, k+" = ?")
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", q.table, strings.Join(sets, ", "), strings.Join(where, " AND "))

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range rows {
			args := make([]any, 0, len(setIdx)+len(q.keys))
			for _, i := range setIdx {
				args = append(args, r.Values[i])
			}
			args = append(args, r.KeyValues(target)...)
			if err := tx.Exec(query, args...).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", target.QualifiedName(), Classify(err))
	}
	return nil
}

// Merge upserts one row with MERGE ... WITH (HOLDLOCK), which serialises
// concurrent merges of the same key instead of raising a duplicate
func (s *SQLServerStagingStore) Merge(ctx context.Context, target staging.Target, row staging.Row) (staging.MergeResult, error) {
	q, err := quoteTarget(target)
	if err != nil {
		return "", err
	}

	source := make([]string, len(q.columns))
	insertValues := make([]string, len(q.columns))
	var on, sets []string
	for i, c := range target.Columns {
		source[i] = "? AS " + q.columns[i]
		insertValues[i] = "s." + q.columns[i]
		if target.IsKey(c.Column) {
			on = append(on, "t."+q.columns[i]+" = s."+q.columns[i])
		} else {
			sets = append(sets, "t."+q.columns[i]+" = s."+q.columns[i])
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "MERGE %s WITH (HOLDLOCK) AS t USING (SELECT %s) AS s ON %s",
		q.table, strings.Join(source, ", "), strings.Join(on, " AND "))
	if len(sets) > 0 {
		fmt.Fprintf(&sb, " WHEN MATCHED THEN UPDATE SET %s", strings.Join(sets, ", "))
	}
	fmt.Fprintf(&sb, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s) OUTPUT $action;",
		strings.Join(q.columns, ", "), strings.Join(insertValues, ", "))

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var action string
	if err := s.db.WithContext(ctx).Raw(sb.String(), row.Values...).Row().Scan(&action); err != nil {
		return "", fmt.Errorf("merge into %s: %w", target.QualifiedName(), Classify(err))
	}
	if strings.EqualFold(action, string(staging.MergeUpdated)) {
		return staging.MergeUpdated, nil
	}
	return staging.MergeInserted, nil
}

var _ staging.Store = (*SQLServerStagingStore)(nil)
