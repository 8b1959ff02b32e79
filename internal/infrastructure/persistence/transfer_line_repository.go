package persistence

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Derived fields a transfer line offers to the column map
const (
	fieldOriginBranch   = "c_sucu_orig"
	fieldUnitsRequested = "q_requerida"
	fieldPackageFactor  = "q_factor"
	fieldRequestedAt    = "f_alta"
)

var leadingDigits = regexp.MustCompile(`^\s*(\d+)`)

// TransferSource names the planning store's distribution transfer tables and
// the status codes that drive them
type TransferSource struct {
	HeaderTable       string // schema.table of transfer headers
	DetailTable       string // schema.table of transfer lines
	StatusTable       string // schema.table of the status catalog
	PendingStatus     string // status code of headers waiting for the ERP
	PublishedStatusID int    // status id set once the ERP holds the transfer
}

// GormTransferLineRepository implements replenishment.PendingLineRepository
// over distribution transfers. Publish state lives on the header: every line
// of a transfer is claimed, published or failed together, and the header id
// is the correlation key.
type GormTransferLineRepository struct {
	db          *gorm.DB
	header      string
	detail      string
	status      string
	pending     string
	publishedID int
	now         func() time.Time
}

// NewGormTransferLineRepository creates the repository over src
func NewGormTransferLineRepository(db *gorm.DB, src TransferSource) (*GormTransferLineRepository, error) {
	header, err := pgQualified(src.HeaderTable)
	if err != nil {
		return nil, err
	}
	detail, err := pgQualified(src.DetailTable)
	if err != nil {
		return nil, err
	}
	status, err := pgQualified(src.StatusTable)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(src.PendingStatus) == "" {
		return nil, fmt.Errorf("transfer pending status code is required")
	}
	if src.PublishedStatusID <= 0 {
		return nil, fmt.Errorf("transfer published status id must be positive, got %d", src.PublishedStatusID)
	}
	return &GormTransferLineRepository{
		db:          db,
		header:      header,
		detail:      detail,
		status:      status,
		pending:     src.PendingStatus,
		publishedID: src.PublishedStatusID,
		now:         time.Now,
	}, nil
}

// FindPending reads the lines of PENDING headers in the pending status,
// oldest header first. Limit and MaxID bound headers, not lines, so a
// transfer is never split across runs.
func (r *GormTransferLineRepository) FindPending(ctx context.Context, req replenishment.ReadRequest) (replenishment.PendingBatch, error) {
	var headers strings.Builder
	fmt.Fprintf(&headers, `SELECT h2.id FROM %s h2 JOIN %s s2 ON h2.status_id = s2.id
WHERE s2.code = ? AND h2.publish_state = ?`, r.header, r.status)
	args := []any{r.pending, string(replenishment.PublishStatePending)}
	if req.MaxAge > 0 {
		headers.WriteString(" AND h2.created_at >= ?")
		args = append(args, r.now().Add(-req.MaxAge))
	}
	if req.MaxID > 0 {
		headers.WriteString(" AND h2.id <= ?")
		args = append(args, req.MaxID)
	}
	headers.WriteString(" ORDER BY h2.id")
	if req.Limit > 0 {
		headers.WriteString(" LIMIT ?")
		args = append(args, req.Limit)
	}

	query := fmt.Sprintf(`SELECT d.id AS detail_id, h.id AS header_id, h.origin_cd, h.destination_store_code,
	h.connexa_purchase_code, h.requested_at, h.created_by, h.created_at,
	d.item_code, d.item_description, d.qty_requested, d.qty_planned, d.units_per_package
FROM %s d
JOIN %s h ON d.distribution_transfer_id = h.id
WHERE h.id IN (%s)
ORDER BY h.id, d.id`, r.detail, r.header, headers.String())

	var rows []map[string]any
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return replenishment.PendingBatch{}, fmt.Errorf("read pending transfers: %w", Classify(err))
	}

	now := r.now()
	batch := replenishment.PendingBatch{Lines: make([]replenishment.PendingLine, 0, len(rows))}
	for _, row := range rows {
		line, rejected := transferLineFromRow(row, now)
		if rejected != nil {
			batch.Rejected = append(batch.Rejected, *rejected)
			continue
		}
		batch.Lines = append(batch.Lines, line)
	}
	return batch, nil
}

// transferLineFromRow converts one transfer line. Quantities are in
// packages; units per package defaults to 1 when missing or not positive.
func transferLineFromRow(row map[string]any, now time.Time) (replenishment.PendingLine, *replenishment.RejectedLine) {
	fields := descriptiveFields(row)

	id, _ := asInt64(fields["detail_id"])
	var key string
	if header, ok := asInt64(fields["header_id"]); ok {
		key = strconv.FormatInt(header, 10)
	}
	reject := func(format string, args ...any) (replenishment.PendingLine, *replenishment.RejectedLine) {
		return replenishment.PendingLine{}, &replenishment.RejectedLine{
			ID:             id,
			CorrelationKey: key,
			Reason:         fmt.Sprintf(format, args...),
			Values:         fields,
		}
	}

	if id <= 0 {
		return reject("detail id %v is not numeric", fields["detail_id"])
	}
	if key == "" {
		return reject("header id %v is not numeric", fields["header_id"])
	}
	destination, ok := asInt64(fields["destination_store_code"])
	if !ok {
		return reject("destination_store_code %v is not numeric", fields["destination_store_code"])
	}
	match := leadingDigits.FindStringSubmatch(asString(fields["origin_cd"]))
	if match == nil {
		return reject("origin_cd %v has no branch number", fields["origin_cd"])
	}
	origin, _ := strconv.ParseInt(match[1], 10, 64)
	qty, ok := asDecimal(fields["qty_requested"])
	if !ok {
		return reject("qty_requested %v is not numeric", fields["qty_requested"])
	}

	units, ok := asDecimal(fields["units_per_package"])
	if !ok || !units.IsPositive() {
		units = decimal.NewFromInt(1)
	}

	created, _ := fields["created_at"].(time.Time)
	requestedAt, _ := fields["requested_at"].(time.Time)
	switch {
	case !requestedAt.IsZero():
	case !created.IsZero():
		requestedAt = created
	default:
		requestedAt = now
	}

	fields[fieldOriginBranch] = origin
	fields[fieldPackageFactor] = units.IntPart()
	fields[fieldUnitsRequested] = units.Mul(qty).IntPart()
	fields[fieldRequestedAt] = requestedAt

	return replenishment.PendingLine{
		ID:             id,
		ArticleCode:    strings.TrimSpace(asString(fields["item_code"])),
		OriginBranchID: int(destination),
		RequestedQty:   qty,
		CorrelationKey: key,
		State:          replenishment.PublishStatePending,
		CreatedAt:      created,
		Fields:         fields,
	}, nil
}

// Claim moves the headers owning the given lines from PENDING to SYNCING and
// returns every requested line whose header this run won
func (r *GormTransferLineRepository) Claim(ctx context.Context, runID string, ids []int64) ([]replenishment.ClaimedLine, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`WITH claimed AS (
	UPDATE %[1]s SET publish_state = ?, sync_run_id = ?, claimed_at = ?, publish_error = NULL
	WHERE publish_state = ? AND id IN (SELECT distribution_transfer_id FROM %[2]s WHERE id = ANY(?))
	RETURNING id
)
SELECT d.id, d.distribution_transfer_id::text AS correlation_key
FROM %[2]s d JOIN claimed c ON c.id = d.distribution_transfer_id
WHERE d.id = ANY(?)`, r.header, r.detail)

	var rows []claimRow
	err := r.db.WithContext(ctx).Raw(query,
		string(replenishment.PublishStateSyncing), runID, r.now(),
		string(replenishment.PublishStatePending), pq.Array(ids), pq.Array(ids),
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("claim transfers: %w", Classify(err))
	}

	claimed := make([]replenishment.ClaimedLine, len(rows))
	for i, row := range rows {
		claimed[i] = replenishment.ClaimedLine{ID: row.ID, CorrelationKey: row.CorrelationKey}
	}
	return claimed, nil
}

// ReleaseStale returns headers left in SYNCING by a crashed run to PENDING
func (r *GormTransferLineRepository) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET publish_state = ?, sync_run_id = NULL, claimed_at = NULL
WHERE publish_state = ? AND claimed_at < ?`, r.header)
	result := r.db.WithContext(ctx).Exec(query,
		string(replenishment.PublishStatePending), string(replenishment.PublishStateSyncing), olderThan)
	if result.Error != nil {
		return 0, fmt.Errorf("release stale transfer claims: %w", Classify(result.Error))
	}
	return result.RowsAffected, nil
}

// MarkPublished moves runID's headers to PUBLISHED and to the published status
func (r *GormTransferLineRepository) MarkPublished(ctx context.Context, runID string, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`UPDATE %s SET publish_state = ?, status_id = ?, publish_error = NULL
WHERE publish_state = ? AND sync_run_id = ? AND id::text = ANY(?)`, r.header)
	result := r.db.WithContext(ctx).Exec(query,
		string(replenishment.PublishStatePublished), r.publishedID,
		string(replenishment.PublishStateSyncing), runID, pq.Array(keys))
	if result.Error != nil {
		return 0, fmt.Errorf("mark transfers published: %w", Classify(result.Error))
	}
	return result.RowsAffected, nil
}

// MarkFailed moves runID's headers to ERROR with a per-header message. The
// planning status is left alone so the transfer stays visible upstream.
func (r *GormTransferLineRepository) MarkFailed(ctx context.Context, runID string, failures map[string]string) (int64, error) {
	if len(failures) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(failures))
	details := make([]string, 0, len(failures))
	for k, d := range failures {
		keys = append(keys, k)
		details = append(details, truncateRunes(d, maxPublishErrorLen))
	}
	query := fmt.Sprintf(`UPDATE %s AS h SET publish_state = ?, publish_error = f.detail
FROM unnest(?::text[], ?::text[]) AS f(key, detail)
WHERE h.id::text = f.key AND h.publish_state = ? AND h.sync_run_id = ?`, r.header)
	result := r.db.WithContext(ctx).Exec(query,
		string(replenishment.PublishStateError), pq.Array(keys), pq.Array(details),
		string(replenishment.PublishStateSyncing), runID)
	if result.Error != nil {
		return 0, fmt.Errorf("mark transfers failed: %w", Classify(result.Error))
	}
	return result.RowsAffected, nil
}

// MarkRejected moves the headers of the given lines to ERROR
func (r *GormTransferLineRepository) MarkRejected(ctx context.Context, runID string, rejections map[int64]string) (int64, error) {
	if len(rejections) == 0 {
		return 0, nil
	}
	ids, details := rejectionArrays(rejections)
	query := fmt.Sprintf(`UPDATE %s AS h SET publish_state = ?, publish_error = f.detail
FROM unnest(?::bigint[], ?::text[]) AS f(id, detail)
JOIN %s d ON d.id = f.id
WHERE h.id = d.distribution_transfer_id AND h.publish_state = ? AND h.sync_run_id = ?`, r.header, r.detail)
	result := r.db.WithContext(ctx).Exec(query,
		string(replenishment.PublishStateError), pq.Array(ids), pq.Array(details),
		string(replenishment.PublishStateSyncing), runID)
	if result.Error != nil {
		return 0, fmt.Errorf("mark transfers rejected: %w", Classify(result.Error))
	}
	return result.RowsAffected, nil
}

// Release returns runID's headers to PENDING. A nil key list releases all of them.
func (r *GormTransferLineRepository) Release(ctx context.Context, runID string, keys []string) (int64, error) {
	if keys != nil && len(keys) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`UPDATE %s SET publish_state = ?, sync_run_id = NULL, claimed_at = NULL
WHERE publish_state = ? AND sync_run_id = ?`, r.header)
	args := []any{string(replenishment.PublishStatePending), string(replenishment.PublishStateSyncing), runID}
	if keys != nil {
		query += " AND id::text = ANY(?)"
		args = append(args, pq.Array(keys))
	}
	result := r.db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return 0, fmt.Errorf("release transfer claims: %w", Classify(result.Error))
	}
	return result.RowsAffected, nil
}

var _ replenishment.PendingLineRepository = (*GormTransferLineRepository)(nil)
