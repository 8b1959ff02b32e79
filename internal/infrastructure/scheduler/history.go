package scheduler

import (
	"sync"
	"time"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
)

// RunStatus represents the status of a scheduled run
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
	RunStatusSkipped RunStatus = "SKIPPED"
)

// Trigger names what started a run
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// RunRecord is one entry of the run history
type RunRecord struct {
	ID          string                    `json:"id"`
	RunID       string                    `json:"run_id,omitempty"`
	Trigger     string                    `json:"trigger"`
	Status      RunStatus                 `json:"status"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	Error       string                    `json:"error,omitempty"`
	Summary     *replenishment.RunSummary `json:"summary,omitempty"`
}

// History keeps the most recent runs, newest last, bounded to a fixed size
type History struct {
	mu      sync.RWMutex
	records []RunRecord
	size    int
}

// NewHistory creates a history holding at most size records
func NewHistory(size int) *History {
	if size < 1 {
		size = 100
	}
	return &History{size: size, records: make([]RunRecord, 0, size)}
}

// Add appends a record, evicting the oldest when full
func (h *History) Add(r RunRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == h.size {
		copy(h.records, h.records[1:])
		h.records = h.records[:h.size-1]
	}
	h.records = append(h.records, r)
}

// Update replaces the record with the same ID
func (h *History) Update(r RunRecord) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.records {
		if h.records[i].ID == r.ID {
			h.records[i] = r
			return true
		}
	}
	return false
}

// Get returns the record with id
func (h *History) Get(id string) (RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, r := range h.records {
		if r.ID == id || (r.RunID != "" && r.RunID == id) {
			return r, nil
		}
	}
	return RunRecord{}, ErrRunNotFound
}

// List returns up to limit records, newest first. limit <= 0 returns all.
func (h *History) List(limit int) []RunRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]RunRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, h.records[i])
	}
	return out
}

// Len returns the number of records held
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}
