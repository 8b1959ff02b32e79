package replenishment

import (
	"github.com/shopspring/decimal"
)

// ConsolidatedLine is the unit handed to netting and publishing. For lines
// delivered through a distribution center it aggregates every member sharing
// (supplier, article, center branch); direct deliveries map one-to-one.
type ConsolidatedLine struct {
	SupplierCode           string
	ArticleCode            string
	DestinationBranchID    int
	DistributionCenterCode string
	RequestedQty           decimal.Decimal

	// Representative is the member whose descriptive fields and correlation
	// key are published for the whole group.
	Representative PendingLine

	// MemberKeys are the distinct correlation keys folded into the line,
	// in first-seen order. MemberIDs are the source row identifiers.
	MemberKeys []string
	MemberIDs  []int64
}

// Consolidated reports whether the line was built by the distribution-center grouping
func (c ConsolidatedLine) Consolidated() bool {
	return c.DistributionCenterCode != ""
}

// CorrelationKey is the key published with the line
func (c ConsolidatedLine) CorrelationKey() string {
	return c.Representative.CorrelationKey
}

// GroupKey identifies a consolidation group
type GroupKey struct {
	SupplierCode string
	ArticleCode  string
	BranchID     int
}

// Consolidator groups distribution-center demand by (supplier, article, branch).
// Descriptive fields are taken from the first member encountered; quantities
// are summed. Lines without a recognized center pass through untouched.
type Consolidator struct {
	centers *DistributionCenters
}

// NewConsolidator creates a consolidator over the given center catalog
func NewConsolidator(centers *DistributionCenters) *Consolidator {
	if centers == nil {
		centers = DefaultDistributionCenters()
	}
	return &Consolidator{centers: centers}
}

// Consolidate folds lines into consolidated lines. Groups whose sum is zero
// or negative are kept; netting is responsible for dropping them.
func (c *Consolidator) Consolidate(lines []PendingLine) []ConsolidatedLine {
	out := make([]ConsolidatedLine, 0, len(lines))
	groups := make(map[GroupKey]int)

	for _, line := range lines {
		branch, ok := c.centers.Branch(line.DistributionCenterCode)
		if !ok {
			out = append(out, ConsolidatedLine{
				SupplierCode:        line.SupplierCode,
				ArticleCode:         line.ArticleCode,
				DestinationBranchID: line.OriginBranchID,
				RequestedQty:        line.RequestedQty,
				Representative:      line,
				MemberKeys:          []string{line.CorrelationKey},
				MemberIDs:           []int64{line.ID},
			})
			continue
		}

		key := GroupKey{
			SupplierCode: CanonicalCode(line.SupplierCode),
			ArticleCode:  CanonicalCode(line.ArticleCode),
			BranchID:     branch,
		}
		if idx, exists := groups[key]; exists {
			group := &out[idx]
			group.RequestedQty = group.RequestedQty.Add(line.RequestedQty)
			group.MemberIDs = append(group.MemberIDs, line.ID)
			if !containsString(group.MemberKeys, line.CorrelationKey) {
				group.MemberKeys = append(group.MemberKeys, line.CorrelationKey)
			}
			continue
		}

		groups[key] = len(out)
		out = append(out, ConsolidatedLine{
			SupplierCode:           key.SupplierCode,
			ArticleCode:            key.ArticleCode,
			DestinationBranchID:    branch,
			DistributionCenterCode: normalizeDCCode(line.DistributionCenterCode),
			RequestedQty:           line.RequestedQty,
			Representative:         line,
			MemberKeys:             []string{line.CorrelationKey},
			MemberIDs:              []int64{line.ID},
		})
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
