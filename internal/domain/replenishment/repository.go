package replenishment

import (
	"context"
	"time"
)

// ClaimedLine identifies a pending line taken by a run
type ClaimedLine struct {
	ID             int64
	CorrelationKey string
}

// RejectedLine is a PENDING source row that could not be read as a line:
// its quantity, branch or correlation key is missing or unparseable.
// ID is zero when the row id itself is unusable.
type RejectedLine struct {
	ID             int64
	CorrelationKey string
	Reason         string
	Values         map[string]any
}

// PendingBatch is the result of one read. Rejected rows never abort the read.
type PendingBatch struct {
	Lines    []PendingLine
	Rejected []RejectedLine
}

// Len returns the number of source rows read
func (b PendingBatch) Len() int {
	return len(b.Lines) + len(b.Rejected)
}

// PendingLineRepository reads pending demand and records its publish state
type PendingLineRepository interface {
	// FindPending returns PENDING lines within the request bounds, with the
	// rows that could not be parsed set apart. Read-only.
	FindPending(ctx context.Context, req ReadRequest) (PendingBatch, error)

	// Claim moves the given PENDING lines to SYNCING for runID and returns the
	// lines actually claimed. Lines already taken by another run are skipped.
	Claim(ctx context.Context, runID string, ids []int64) ([]ClaimedLine, error)

	// ReleaseStale returns SYNCING lines claimed before olderThan to PENDING
	ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error)

	// MarkPublished moves runID's SYNCING lines with the given keys to PUBLISHED
	MarkPublished(ctx context.Context, runID string, keys []string) (int64, error)

	// MarkFailed moves runID's SYNCING lines to ERROR, storing a message per key
	MarkFailed(ctx context.Context, runID string, failures map[string]string) (int64, error)

	// MarkRejected moves runID's SYNCING rows to ERROR by row id, storing a
	// message per row. It covers rows whose key cannot address them.
	MarkRejected(ctx context.Context, runID string, rejections map[int64]string) (int64, error)

	// Release moves runID's SYNCING lines with the given keys back to PENDING.
	// A nil key list releases every line held by the run.
	Release(ctx context.Context, runID string, keys []string) (int64, error)
}

// StockSnapshotProvider supplies the replicated stock positions
type StockSnapshotProvider interface {
	Snapshots(ctx context.Context, keys []StockKey) ([]StockSnapshot, error)
}
