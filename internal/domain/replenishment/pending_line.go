package replenishment

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PublishState is the lifecycle state of a pending line in the planning store
type PublishState string

const (
	PublishStatePending   PublishState = "PENDING"
	PublishStateSyncing   PublishState = "SYNCING"
	PublishStatePublished PublishState = "PUBLISHED"
	PublishStateError     PublishState = "ERROR"
)

// IsValid checks if the state is one of the known states
func (s PublishState) IsValid() bool {
	switch s {
	case PublishStatePending, PublishStateSyncing, PublishStatePublished, PublishStateError:
		return true
	}
	return false
}

// CanTransitionTo reports whether the pipeline may move a line from s to next.
// ERROR and PUBLISHED are terminal for automatic processing; SYNCING may fall
// back to PENDING when a run releases its claim.
func (s PublishState) CanTransitionTo(next PublishState) bool {
	switch s {
	case PublishStatePending:
		return next == PublishStateSyncing
	case PublishStateSyncing:
		return next == PublishStatePublished || next == PublishStateError || next == PublishStatePending
	default:
		return false
	}
}

// PendingLine is one demand line produced by the planning process.
// Supplier and article codes are kept as delivered by the source; they are
// parsed into integers only when the destination row is built.
type PendingLine struct {
	ID                     int64
	SupplierCode           string
	ArticleCode            string
	OriginBranchID         int
	DistributionCenterCode string // empty for direct-to-store deliveries
	RequestedQty           decimal.Decimal
	CorrelationKey         string
	State                  PublishState
	CreatedAt              time.Time

	// Fields holds the descriptive columns (buyer, user, terminal, dates...)
	// keyed by lower-cased source column name.
	Fields map[string]any
}

// Field returns a descriptive field by source column name
func (l PendingLine) Field(name string) any {
	if l.Fields == nil {
		return nil
	}
	return l.Fields[strings.ToLower(name)]
}

// HasDistributionCenter reports whether the line is delivered through a DC
func (l PendingLine) HasDistributionCenter() bool {
	return strings.TrimSpace(l.DistributionCenterCode) != ""
}

// CanonicalCode trims a code and strips leading zeros when it is numeric so
// that "0001" and "1" group together. Non-numeric codes are only trimmed.
func CanonicalCode(code string) string {
	trimmed := strings.TrimSpace(code)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return trimmed
}

// ReadRequest bounds one read of pending lines
type ReadRequest struct {
	// Limit caps the number of lines returned (0 = no cap)
	Limit int
	// MaxAge excludes lines created before now-MaxAge (0 = no bound)
	MaxAge time.Duration
	// MaxID caps the identifiers processed by this run (0 = no bound)
	MaxID int64
}
