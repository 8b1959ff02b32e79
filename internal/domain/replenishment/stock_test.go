package replenishment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockSnapshot_Available(t *testing.T) {
	tests := []struct {
		name   string
		snap   StockSnapshot
		expect int64
	}{
		{
			name:   "floors package count",
			snap:   StockSnapshot{OnHandQty: decimal.NewFromInt(25), PendingReceiptQty: decimal.NewFromInt(10), InTransitQty: decimal.NewFromInt(5), ConversionFactor: decimal.NewFromInt(12)},
			expect: 3,
		},
		{
			name:   "factor below one is treated as one",
			snap:   StockSnapshot{OnHandQty: decimal.NewFromInt(4), ConversionFactor: decimal.Zero},
			expect: 4,
		},
		{
			name:   "negative stock floors down",
			snap:   StockSnapshot{OnHandQty: decimal.NewFromInt(-3), ConversionFactor: decimal.NewFromInt(2)},
			expect: -2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, decimal.NewFromInt(tt.expect).Equal(tt.snap.Available()), "got %s", tt.snap.Available())
		})
	}
}

func TestStockNetter_Net(t *testing.T) {
	c := NewConsolidator(nil)
	consolidated := c.Consolidate([]PendingLine{
		newLine(1, "1", "100", 7, "41CD", 10, "OC-1"),
		newLine(2, "1", "100", 8, "41CD", 5, "OC-2"),
		newLine(3, "1", "200", 7, "41CD", 3, "OC-3"),
		newLine(4, "1", "300", 7, "41CD", 6, "OC-4"),
		newLine(5, "2", "100", 7, "", 9, "OC-5"),
	})
	require.Len(t, consolidated, 4)

	stock := IndexSnapshots([]StockSnapshot{
		{BranchID: 41, ArticleCode: "100", OnHandQty: decimal.NewFromInt(8), ConversionFactor: decimal.NewFromInt(2)},
		{BranchID: 41, ArticleCode: "200", OnHandQty: decimal.NewFromInt(30), ConversionFactor: decimal.NewFromInt(1)},
		// direct delivery branch must not be netted
		{BranchID: 7, ArticleCode: "100", OnHandQty: decimal.NewFromInt(100)},
	})

	res := NewStockNetter().Net(consolidated, stock)
	require.Len(t, res.Lines, 3)
	require.Len(t, res.Dropped, 1)

	byArticle := map[string]NettedLine{}
	for _, l := range res.Lines {
		byArticle[l.SupplierCode+"/"+l.ArticleCode] = l
	}

	assert.True(t, byArticle["1/100"].NetQty.Equal(decimal.NewFromInt(11)))
	assert.True(t, byArticle["1/100"].Available.Equal(decimal.NewFromInt(4)))
	// no snapshot: no reduction
	assert.True(t, byArticle["1/300"].NetQty.Equal(decimal.NewFromInt(6)))
	assert.True(t, byArticle["2/100"].NetQty.Equal(decimal.NewFromInt(9)))
	assert.False(t, byArticle["2/100"].Netted)

	assert.Equal(t, "200", res.Dropped[0].ArticleCode)
	assert.True(t, res.Dropped[0].NetQty.IsZero())

	for _, l := range res.Lines {
		assert.True(t, l.NetQty.IsPositive())
	}
}

func TestStockNetter_DropsNonPositiveDirectLines(t *testing.T) {
	lines := NewConsolidator(nil).Consolidate([]PendingLine{
		newLine(1, "1", "100", 7, "", 0, "OC-1"),
		newLine(2, "1", "100", 7, "", -2, "OC-2"),
	})

	res := NewStockNetter().Net(lines, nil)
	assert.Empty(t, res.Lines)
	assert.Len(t, res.Dropped, 2)
}

func TestBranchArticles(t *testing.T) {
	lines := NewConsolidator(nil).Consolidate([]PendingLine{
		newLine(1, "1", "100", 7, "41CD", 10, "OC-1"),
		newLine(2, "2", "0100", 7, "41CD", 1, "OC-2"),
		newLine(3, "2", "300", 7, "", 1, "OC-3"),
	})

	keys := BranchArticles(lines)
	assert.Equal(t, []StockKey{{BranchID: 41, ArticleCode: "100"}}, keys)
}

func TestPlanStatus(t *testing.T) {
	claimed := []string{"A", "B", "C", "D", "E"}
	outcomes := []PublishOutcome{
		{CorrelationKey: "A", Kind: OutcomeInserted},
		{CorrelationKey: "B", Kind: OutcomeInserted},
		{CorrelationKey: "B", Kind: OutcomeFailed, Err: errors.New("bad pk")},
		{CorrelationKey: "C", Kind: OutcomeSkippedExisting},
		{CorrelationKey: "D", Kind: OutcomeUpdated},
		{CorrelationKey: "Z", Kind: OutcomeInserted},
	}

	t.Run("without re-confirmation", func(t *testing.T) {
		plan := PlanStatus(claimed, outcomes, false)
		assert.Equal(t, []string{"A", "D"}, plan.Publish)
		assert.Equal(t, map[string]string{"B": "bad pk"}, plan.Fail)
		assert.Equal(t, []string{"C", "E"}, plan.Release)
	})

	t.Run("with re-confirmation", func(t *testing.T) {
		plan := PlanStatus(claimed, outcomes, true)
		assert.Equal(t, []string{"A", "C", "D"}, plan.Publish)
		assert.Equal(t, []string{"E"}, plan.Release)
	})
}

func TestRunSummary_Count(t *testing.T) {
	var s RunSummary
	s.Count([]PublishOutcome{
		{Kind: OutcomeInserted}, {Kind: OutcomeInserted}, {Kind: OutcomeUpdated},
		{Kind: OutcomeSkippedExisting}, {Kind: OutcomeFailed},
	})
	assert.Equal(t, 2, s.Inserted)
	assert.Equal(t, 1, s.Updated)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Failed)
}
