package persistence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Columns of the planning store's pending line table
const (
	colID             = "id"
	colSupplier       = "c_proveedor"
	colArticle        = "c_articulo"
	colBranch         = "c_sucu_empr"
	colQuantity       = "q_bultos_kilos_diarco"
	colCorrelationKey = "c_compra_connexa"
	colCreatedAt      = "created_at"
	colDCCode         = "cod_cd"

	maxPublishErrorLen = 1000
)

// keyExpr is the correlation key as the reader sees it: trimmed text, with
// NULL read as the empty key
var keyExpr = fmt.Sprintf("btrim(COALESCE(%s::text, ''))", colCorrelationKey)

// bookkeeping columns are not descriptive fields of the line
var bookkeepingColumns = map[string]bool{
	"publish_state": true,
	"sync_run_id":   true,
	"claimed_at":    true,
	"publish_error": true,
}

// GormPendingLineRepository implements replenishment.PendingLineRepository
// on the PostgreSQL planning store
type GormPendingLineRepository struct {
	db       *gorm.DB
	table    string
	products string
	now      func() time.Time
}

// NewGormPendingLineRepository creates the repository for the given
// schema.table names of the pending lines and the product catalog
func NewGormPendingLineRepository(db *gorm.DB, sourceTable, productsTable string) (*GormPendingLineRepository, error) {
	table, err := pgQualified(sourceTable)
	if err != nil {
		return nil, err
	}
	products, err := pgQualified(productsTable)
	if err != nil {
		return nil, err
	}
	return &GormPendingLineRepository{db: db, table: table, products: products, now: time.Now}, nil
}

// WithTx returns a new repository instance with the given transaction
func (r *GormPendingLineRepository) WithTx(tx *gorm.DB) *GormPendingLineRepository {
	c := *r
	c.db = tx
	return &c
}

// FindPending reads PENDING lines joined with the product catalog's
// distribution-center code, oldest id first. Rows with an unusable id, key,
// branch or quantity come back as rejections.
func (r *GormPendingLineRepository) FindPending(ctx context.Context, req replenishment.ReadRequest) (replenishment.PendingBatch, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT p.*, b.%[1]s FROM %[2]s p
LEFT JOIN LATERAL (
	SELECT b.%[1]s FROM %[3]s b
	WHERE b.c_sucu_empr = p.c_sucu_empr
	  AND b.c_articulo::text = p.c_articulo::text
	  AND b.c_proveedor_primario::text = p.c_proveedor::text
	LIMIT 1
) b ON TRUE
WHERE p.publish_state = ?`, colDCCode, r.table, r.products)

	args := []any{string(replenishment.PublishStatePending)}
	if req.MaxAge > 0 {
		sb.WriteString(" AND p.created_at >= ?")
		args = append(args, r.now().Add(-req.MaxAge))
	}
	if req.MaxID > 0 {
		sb.WriteString(" AND p.id <= ?")
		args = append(args, req.MaxID)
	}
	sb.WriteString(" ORDER BY p.id")
	if req.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, req.Limit)
	}

	var rows []map[string]any
	if err := r.db.WithContext(ctx).Raw(sb.String(), args...).Scan(&rows).Error; err != nil {
		return replenishment.PendingBatch{}, fmt.Errorf("read pending lines: %w", Classify(err))
	}

	batch := replenishment.PendingBatch{Lines: make([]replenishment.PendingLine, 0, len(rows))}
	for _, row := range rows {
		line, rejected := pendingLineFromRow(row)
		if rejected != nil {
			batch.Rejected = append(batch.Rejected, *rejected)
			continue
		}
		batch.Lines = append(batch.Lines, line)
	}
	return batch, nil
}

// pendingLineFromRow builds a line from a scanned row, or the rejection
// explaining why the row cannot be published
func pendingLineFromRow(row map[string]any) (replenishment.PendingLine, *replenishment.RejectedLine) {
	fields := descriptiveFields(row)

	id, _ := asInt64(fields[colID])
	key := strings.TrimSpace(asString(fields[colCorrelationKey]))
	reject := func(format string, args ...any) (replenishment.PendingLine, *replenishment.RejectedLine) {
		return replenishment.PendingLine{}, &replenishment.RejectedLine{
			ID:             id,
			CorrelationKey: key,
			Reason:         fmt.Sprintf(format, args...),
			Values:         fields,
		}
	}

	if id <= 0 {
		return reject("id %v is not numeric", fields[colID])
	}
	if key == "" {
		return reject("%s is empty", colCorrelationKey)
	}
	branch, ok := asInt64(fields[colBranch])
	if !ok {
		return reject("%s %v is not numeric", colBranch, fields[colBranch])
	}
	qty, ok := asDecimal(fields[colQuantity])
	if !ok {
		return reject("%s %v is not numeric", colQuantity, fields[colQuantity])
	}
	created, _ := fields[colCreatedAt].(time.Time)

	return replenishment.PendingLine{
		ID:                     id,
		SupplierCode:           asString(fields[colSupplier]),
		ArticleCode:            asString(fields[colArticle]),
		OriginBranchID:         int(branch),
		DistributionCenterCode: strings.TrimSpace(asString(fields[colDCCode])),
		RequestedQty:           qty,
		CorrelationKey:         key,
		State:                  replenishment.PublishStatePending,
		CreatedAt:              created,
		Fields:                 fields,
	}, nil
}

// descriptiveFields lower-cases column names and drops bookkeeping columns
func descriptiveFields(row map[string]any) map[string]any {
	fields := make(map[string]any, len(row))
	for k, v := range row {
		k = strings.ToLower(k)
		if bookkeepingColumns[k] {
			continue
		}
		fields[k] = v
	}
	return fields
}

type claimRow struct {
	ID             int64  `gorm:"column:id"`
	CorrelationKey string `gorm:"column:correlation_key"`
}

// Claim moves PENDING lines to SYNCING for runID in one statement. Lines
// another run claimed in the meantime do not match and are not returned.
func (r *GormPendingLineRepository) Claim(ctx context.Context, runID string, ids []int64) ([]replenishment.ClaimedLine, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`UPDATE %s SET publish_state = ?, sync_run_id = ?, claimed_at = ?, publish_error = NULL
WHERE publish_state = ? AND id = ANY(?)
RETURNING id, %s AS correlation_key`, r.table, keyExpr)

	var rows []claimRow
	err := r.db.WithContext(ctx).Raw(query,
		string(replenishment.PublishStateSyncing), runID, r.now(),
		string(replenishment.PublishStatePending), pq.Array(ids),
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("claim pending lines: %w", Classify(err))
	}

	claimed := make([]replenishment.ClaimedLine, len(rows))
	for i, row := range rows {
		claimed[i] = replenishment.ClaimedLine{ID: row.ID, CorrelationKey: strings.TrimSpace(row.CorrelationKey)}
	}
	return claimed, nil
}

// ReleaseStale returns lines left in SYNCING by a crashed run to PENDING
func (r *GormPendingLineRepository) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET publish_state = ?, sync_run_id = NULL, claimed_at = NULL
WHERE publish_state = ? AND claimed_at < ?`, r.table)
	result := r.db.WithContext(ctx).Exec(query,
		string(replenishment.PublishStatePending), string(replenishment.PublishStateSyncing), olderThan)
	if result.Error != nil {
		return 0, fmt.Errorf("release stale claims: %w", Classify(result.Error))
	}
	return result.RowsAffected, nil
}

// MarkPublished moves runID's claimed lines for keys to PUBLISHED in one statement
func (r *GormPendingLineRepository) MarkPublished(ctx context.Context, runID string, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`UPDATE %s SET publish_state = ?, f_procesado = ?, publish_error = NULL
WHERE publish_state = ? AND sync_run_id = ? AND %s = ANY(?)`, r.table, keyExpr)
	result := r.db.WithContext(ctx).Exec(query,
		string(replenishment.PublishStatePublished), r.now(),
		string(replenishment.PublishStateSyncing), runID, pq.Array(keys))
	if result.Error != nil {
		return 0, fmt.Errorf("mark published: %w", Classify(result.Error))
	}
	return result.RowsAffected, nil
}

// MarkFailed moves runID's claimed lines to ERROR with a per-key message
func (r *GormPendingLineRepository) MarkFailed(ctx context.Context, runID string, failures map[string]string) (int64, error) {
	if len(failures) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(failures))
	details := make([]string, 0, len(failures))
	for k, d := range failures {
		keys = append(keys, k)
		details = append(details, truncateRunes(d, maxPublishErrorLen))
	}
	query := fmt.Sprintf(`UPDATE %s AS p SET publish_state = ?, publish_error = f.detail
FROM unnest(?::text[], ?::text[]) AS f(key, detail)
WHERE btrim(COALESCE(p.%s::text, '')) = f.key AND p.publish_state = ? AND p.sync_run_id = ?`, r.table, colCorrelationKey)
	result := r.db.WithContext(ctx).Exec(query,
		string(replenishment.PublishStateError), pq.Array(keys), pq.Array(details),
		string(replenishment.PublishStateSyncing), runID)
	if result.Error != nil {
		return 0, fmt.Errorf("mark failed: %w", Classify(result.Error))
	}
	return result.RowsAffected, nil
}

// MarkRejected moves runID's claimed rows to ERROR by id with a per-row message
func (r *GormPendingLineRepository) MarkRejected(ctx context.Context, runID string, rejections map[int64]string) (int64, error) {
	if len(rejections) == 0 {
		return 0, nil
	}
	ids, details := rejectionArrays(rejections)
	query := fmt.Sprintf(`UPDATE %s AS p SET publish_state = ?, publish_error = f.detail
FROM unnest(?::bigint[], ?::text[]) AS f(id, detail)
WHERE p.id = f.id AND p.publish_state = ? AND p.sync_run_id = ?`, r.table)
	result := r.db.WithContext(ctx).Exec(query,
		string(replenishment.PublishStateError), pq.Array(ids), pq.Array(details),
		string(replenishment.PublishStateSyncing), runID)
	if result.Error != nil {
		return 0, fmt.Errorf("mark rejected: %w", Classify(result.Error))
	}
	return result.RowsAffected, nil
}

// Release returns runID's claimed lines to PENDING. A nil key list releases all of them.
func (r *GormPendingLineRepository) Release(ctx context.Context, runID string, keys []string) (int64, error) {
	if keys != nil && len(keys) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`UPDATE %s SET publish_state = ?, sync_run_id = NULL, claimed_at = NULL
WHERE publish_state = ? AND sync_run_id = ?`, r.table)
	args := []any{string(replenishment.PublishStatePending), string(replenishment.PublishStateSyncing), runID}
	if keys != nil {
		query += fmt.Sprintf(" AND %s = ANY(?)", keyExpr)
		args = append(args, pq.Array(keys))
	}
	result := r.db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return 0, fmt.Errorf("release claims: %w", Classify(result.Error))
	}
	return result.RowsAffected, nil
}

// rejectionArrays flattens rejections into parallel arrays ordered by id
func rejectionArrays(rejections map[int64]string) ([]int64, []string) {
	ids := make([]int64, 0, len(rejections))
	for id := range rejections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	details := make([]string, len(ids))
	for i, id := range ids {
		details[i] = truncateRunes(rejections[id], maxPublishErrorLen)
	}
	return ids, details
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

var _ replenishment.PendingLineRepository = (*GormPendingLineRepository)(nil)
