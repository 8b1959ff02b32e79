package persistence

import (
	"context"
	"fmt"
	"sort"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormStockRepository reads the replicated branch stock table and the
// purchase conversion factor from the product catalog
type GormStockRepository struct {
	db       *gorm.DB
	stock    string
	products string
}

// NewGormStockRepository creates a snapshot provider for schema.table names
func NewGormStockRepository(db *gorm.DB, stockTable, productsTable string) (*GormStockRepository, error) {
	stock, err := pgQualified(stockTable)
	if err != nil {
		return nil, err
	}
	products, err := pgQualified(productsTable)
	if err != nil {
		return nil, err
	}
	return &GormStockRepository{db: db, stock: stock, products: products}, nil
}

type stockRow struct {
	BranchID       int             `gorm:"column:branch_id"`
	ArticleCode    string          `gorm:"column:article_code"`
	OnHand         decimal.Decimal `gorm:"column:on_hand"`
	PendingReceipt decimal.Decimal `gorm:"column:pending_receipt"`
	InTransit      decimal.Decimal `gorm:"column:in_transit"`
	Factor         decimal.Decimal `gorm:"column:factor"`
}

// Snapshots returns one aggregated position per requested (branch, article).
// Keys without a stock row are absent and count as zero stock.
func (r *GormStockRepository) Snapshots(ctx context.Context, keys []replenishment.StockKey) ([]replenishment.StockSnapshot, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	branchSet := map[int64]bool{}
	articleSet := map[string]bool{}
	want := make(map[replenishment.StockKey]bool, len(keys))
	for _, k := range keys {
		branchSet[int64(k.BranchID)] = true
		articleSet[k.ArticleCode] = true
		want[replenishment.NewStockKey(k.BranchID, k.ArticleCode)] = true
	}
	branches := make([]int64, 0, len(branchSet))
	for b := range branchSet {
		branches = append(branches, b)
	}
	articles := make([]string, 0, len(articleSet))
	for a := range articleSet {
		articles = append(articles, a)
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i] < branches[j] })
	sort.Strings(articles)

	query := fmt.Sprintf(`SELECT s.codigo_sucursal AS branch_id,
	s.codigo_articulo::text AS article_code,
	SUM(COALESCE(s.stock, 0)) AS on_hand,
	SUM(COALESCE(s.pedido_pendiente, 0)) AS pending_receipt,
	SUM(COALESCE(s.transfer_pendiente, 0)) AS in_transit,
	MAX(COALESCE(f.q_factor_compra, 1)) AS factor
FROM %s s
LEFT JOIN LATERAL (
	SELECT b.q_factor_compra FROM %s b
	WHERE b.c_sucu_empr = s.codigo_sucursal
	  AND b.c_articulo = s.codigo_articulo
	  AND b.c_proveedor_primario = s.codigo_proveedor
	LIMIT 1
) f ON TRUE
WHERE s.codigo_sucursal = ANY(?) AND s.codigo_articulo::text = ANY(?)
GROUP BY s.codigo_sucursal, s.codigo_articulo`, r.stock, r.products)

	var rows []stockRow
	if err := r.db.WithContext(ctx).Raw(query, pq.Array(branches), pq.Array(articles)).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("read stock snapshots: %w", Classify(err))
	}

	// the ANY filters select a superset of the requested pairs
	out := make([]replenishment.StockSnapshot, 0, len(rows))
	for _, row := range rows {
		if !want[replenishment.NewStockKey(row.BranchID, row.ArticleCode)] {
			continue
		}
		out = append(out, replenishment.StockSnapshot{
			BranchID:          row.BranchID,
			ArticleCode:       row.ArticleCode,
			OnHandQty:         row.OnHand,
			PendingReceiptQty: row.PendingReceipt,
			InTransitQty:      row.InTransit,
			ConversionFactor:  row.Factor,
		})
	}
	return out, nil
}

var _ replenishment.StockSnapshotProvider = (*GormStockRepository)(nil)
