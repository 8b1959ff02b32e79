package replenishment

import (
	"github.com/shopspring/decimal"
)

// StockSnapshot is the replicated stock position of an article at a branch
type StockSnapshot struct {
	BranchID          int
	ArticleCode       string
	OnHandQty         decimal.Decimal
	PendingReceiptQty decimal.Decimal
	InTransitQty      decimal.Decimal
	ConversionFactor  decimal.Decimal
}

// Available returns floor((on hand + pending receipt + in transit) / max(factor, 1)),
// i.e. the stock expressed in purchase packages.
func (s StockSnapshot) Available() decimal.Decimal {
	factor := s.ConversionFactor
	if factor.LessThan(decimal.NewFromInt(1)) {
		factor = decimal.NewFromInt(1)
	}
	total := s.OnHandQty.Add(s.PendingReceiptQty).Add(s.InTransitQty)
	return total.Div(factor).Floor()
}

// StockKey addresses a snapshot
type StockKey struct {
	BranchID    int
	ArticleCode string
}

// NewStockKey builds a key with a canonical article code
func NewStockKey(branchID int, articleCode string) StockKey {
	return StockKey{BranchID: branchID, ArticleCode: CanonicalCode(articleCode)}
}

// StockSnapshots indexes snapshots by branch and article
type StockSnapshots map[StockKey]StockSnapshot

// IndexSnapshots builds the lookup. When a key repeats the later snapshot wins.
func IndexSnapshots(snapshots []StockSnapshot) StockSnapshots {
	idx := make(StockSnapshots, len(snapshots))
	for _, s := range snapshots {
		idx[NewStockKey(s.BranchID, s.ArticleCode)] = s
	}
	return idx
}

// Lookup returns the snapshot for (branch, article)
func (s StockSnapshots) Lookup(branchID int, articleCode string) (StockSnapshot, bool) {
	snap, ok := s[NewStockKey(branchID, articleCode)]
	return snap, ok
}

// NettedLine is a consolidated line with its final quantity to publish
type NettedLine struct {
	ConsolidatedLine
	Available decimal.Decimal
	NetQty    decimal.Decimal
	Netted    bool // stock was considered for this line
}

// NettingResult splits the netter output into publishable and dropped lines
type NettingResult struct {
	Lines   []NettedLine
	Dropped []NettedLine
}

// StockNetter subtracts available distribution-center stock from consolidated demand
type StockNetter struct{}

// NewStockNetter creates a netter
func NewStockNetter() *StockNetter {
	return &StockNetter{}
}

// Net computes net = max(0, requested - available) for consolidated lines.
// A missing snapshot means no stock; direct deliveries keep their quantity.
// Any line whose net quantity is zero ends up in Dropped.
func (n *StockNetter) Net(lines []ConsolidatedLine, stock StockSnapshots) NettingResult {
	result := NettingResult{Lines: make([]NettedLine, 0, len(lines))}
	for _, line := range lines {
		netted := NettedLine{ConsolidatedLine: line, Available: decimal.Zero}
		if line.Consolidated() {
			if snap, ok := stock.Lookup(line.DestinationBranchID, line.ArticleCode); ok {
				netted.Available = snap.Available()
			}
			netted.Netted = true
		}

		net := line.RequestedQty.Sub(netted.Available)
		if net.IsNegative() {
			net = decimal.Zero
		}
		netted.NetQty = net

		if net.IsZero() {
			result.Dropped = append(result.Dropped, netted)
			continue
		}
		result.Lines = append(result.Lines, netted)
	}
	return result
}

// BranchArticles lists the (branch, article) pairs that need a snapshot
func BranchArticles(lines []ConsolidatedLine) []StockKey {
	seen := make(map[StockKey]struct{})
	keys := make([]StockKey, 0)
	for _, line := range lines {
		if !line.Consolidated() {
			continue
		}
		k := NewStockKey(line.DestinationBranchID, line.ArticleCode)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
