package publish

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
	"github.com/diarco/connexa-sync/internal/domain/shared"
	"github.com/diarco/connexa-sync/internal/domain/staging"
)

// fakeLine is a planning-store row with its publish bookkeeping
type fakeLine struct {
	line      replenishment.PendingLine
	state     replenishment.PublishState
	runID     string
	claimedAt time.Time
	errDetail string
	// rejectReason makes the row come back as unreadable
	rejectReason string
}

type fakeLineRepo struct {
	mu      sync.Mutex
	rows    []*fakeLine
	stolen  map[int64]bool
	now     func() time.Time
	readErr []error

	publishCalls int
}

func newFakeLineRepo(lines ...replenishment.PendingLine) *fakeLineRepo {
	r := &fakeLineRepo{stolen: map[int64]bool{}, now: time.Now}
	for _, l := range lines {
		r.rows = append(r.rows, &fakeLine{line: l, state: replenishment.PublishStatePending})
	}
	return r
}

// addUnreadable seeds a PENDING row the reader cannot parse
func (r *fakeLineRepo) addUnreadable(id int64, key, reason string) {
	r.rows = append(r.rows, &fakeLine{
		line:         replenishment.PendingLine{ID: id, CorrelationKey: key},
		state:        replenishment.PublishStatePending,
		rejectReason: reason,
	})
}

func (r *fakeLineRepo) FindPending(_ context.Context, req replenishment.ReadRequest) (replenishment.PendingBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.readErr) > 0 {
		err := r.readErr[0]
		r.readErr = r.readErr[1:]
		return replenishment.PendingBatch{}, err
	}
	var out replenishment.PendingBatch
	for _, row := range r.rows {
		if row.state != replenishment.PublishStatePending {
			continue
		}
		if req.MaxID > 0 && row.line.ID > req.MaxID {
			continue
		}
		if row.rejectReason != "" {
			out.Rejected = append(out.Rejected, replenishment.RejectedLine{
				ID:             row.line.ID,
				CorrelationKey: row.line.CorrelationKey,
				Reason:         row.rejectReason,
			})
		} else {
			l := row.line
			l.State = row.state
			out.Lines = append(out.Lines, l)
		}
		if req.Limit > 0 && out.Len() == req.Limit {
			break
		}
	}
	return out, nil
}

func (r *fakeLineRepo) Claim(_ context.Context, runID string, ids []int64) ([]replenishment.ClaimedLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []replenishment.ClaimedLine
	for _, row := range r.rows {
		if !want[row.line.ID] || row.state != replenishment.PublishStatePending {
			continue
		}
		if r.stolen[row.line.ID] {
			row.state = replenishment.PublishStateSyncing
			row.runID = "other-run"
			row.claimedAt = r.now()
			continue
		}
		row.state = replenishment.PublishStateSyncing
		row.runID = runID
		row.claimedAt = r.now()
		out = append(out, replenishment.ClaimedLine{ID: row.line.ID, CorrelationKey: row.line.CorrelationKey})
	}
	return out, nil
}

func (r *fakeLineRepo) ReleaseStale(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.state == replenishment.PublishStateSyncing && row.claimedAt.Before(olderThan) {
			row.state = replenishment.PublishStatePending
			row.runID = ""
			n++
		}
	}
	return n, nil
}

func (r *fakeLineRepo) transition(runID string, keys []string, to replenishment.PublishState, detail func(string) string) int64 {
	set := map[string]bool{}
	for _, k := range keys {
		set[k] = true
	}
	var n int64
	for _, row := range r.rows {
		if row.state != replenishment.PublishStateSyncing || row.runID != runID {
			continue
		}
		if keys != nil && !set[row.line.CorrelationKey] {
			continue
		}
		row.state = to
		if detail != nil {
			row.errDetail = detail(row.line.CorrelationKey)
		}
		if to == replenishment.PublishStatePending {
			row.runID = ""
		}
		n++
	}
	return n
}

func (r *fakeLineRepo) MarkPublished(_ context.Context, runID string, keys []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishCalls++
	return r.transition(runID, keys, replenishment.PublishStatePublished, nil), nil
}

func (r *fakeLineRepo) MarkFailed(_ context.Context, runID string, failures map[string]string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(failures))
	for k := range failures {
		keys = append(keys, k)
	}
	return r.transition(runID, keys, replenishment.PublishStateError, func(k string) string { return failures[k] }), nil
}

func (r *fakeLineRepo) MarkRejected(_ context.Context, runID string, rejections map[int64]string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		detail, ok := rejections[row.line.ID]
		if !ok || row.state != replenishment.PublishStateSyncing || row.runID != runID {
			continue
		}
		row.state = replenishment.PublishStateError
		row.errDetail = detail
		n++
	}
	return n, nil
}

func (r *fakeLineRepo) Release(_ context.Context, runID string, keys []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transition(runID, keys, replenishment.PublishStatePending, nil), nil
}

func (r *fakeLineRepo) states() map[string]replenishment.PublishState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]replenishment.PublishState{}
	for _, row := range r.rows {
		out[row.line.CorrelationKey] = row.state
	}
	return out
}

func (r *fakeLineRepo) resetToPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		row.state = replenishment.PublishStatePending
		row.runID = ""
	}
}

type fakeStock struct {
	snapshots []replenishment.StockSnapshot
	calls     int
}

func (f *fakeStock) Snapshots(_ context.Context, keys []replenishment.StockKey) ([]replenishment.StockSnapshot, error) {
	f.calls++
	want := map[replenishment.StockKey]bool{}
	for _, k := range keys {
		want[k] = true
	}
	var out []replenishment.StockSnapshot
	for _, s := range f.snapshots {
		if want[replenishment.NewStockKey(s.BranchID, s.ArticleCode)] {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeSchema struct {
	columns staging.ColumnSet
	calls   int
}

func (f *fakeSchema) Columns(_ context.Context, _, _ string) (staging.ColumnSet, error) {
	f.calls++
	return f.columns, nil
}

// memStore is an in-memory staging table keyed by primary key
type memStore struct {
	mu   sync.Mutex
	data map[staging.RowKey][]any

	// staleReads makes the next FetchExisting calls miss every row,
	// standing in for a concurrent writer committing after the read.
	staleReads int
	insertErrs []error
	inserts    int
	updates    int
	merges     int
}

func newMemStore() *memStore {
	return &memStore{data: map[staging.RowKey][]any{}}
}

func (m *memStore) FetchExisting(_ context.Context, _ staging.Target, rows []staging.Row) (map[staging.RowKey][]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[staging.RowKey][]any{}
	if m.staleReads > 0 {
		m.staleReads--
		return out, nil
	}
	for _, r := range rows {
		if v, ok := m.data[r.Key]; ok {
			out[r.Key] = v
		}
	}
	return out, nil
}

func (m *memStore) Insert(_ context.Context, _ staging.Target, rows []staging.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.insertErrs) > 0 {
		err := m.insertErrs[0]
		m.insertErrs = m.insertErrs[1:]
		return err
	}
	for _, r := range rows {
		if _, ok := m.data[r.Key]; ok {
			return shared.Wrap(shared.CodeDuplicateKeyConflict, nil, "violation of PRIMARY KEY constraint")
		}
	}
	for _, r := range rows {
		m.data[r.Key] = append([]any(nil), r.Values...)
		m.inserts++
	}
	return nil
}

func (m *memStore) Update(_ context.Context, _ staging.Target, rows []staging.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		if _, ok := m.data[r.Key]; ok {
			m.data[r.Key] = append([]any(nil), r.Values...)
			m.updates++
		}
	}
	return nil
}

func (m *memStore) Merge(_ context.Context, _ staging.Target, row staging.Row) (staging.MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merges++
	_, exists := m.data[row.Key]
	m.data[row.Key] = append([]any(nil), row.Values...)
	if exists {
		return staging.MergeUpdated, nil
	}
	return staging.MergeInserted, nil
}

func (m *memStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

func (m *memStore) value(key staging.RowKey, target staging.Target, column string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.data[key]
	if !ok {
		return nil
	}
	return row[target.ColumnIndex(column)]
}

type fakeArtifacts struct {
	runs    []string
	lines   int
	dropped int
}

func (f *fakeArtifacts) WriteRun(_ context.Context, runID string, lines, dropped []replenishment.NettedLine) (string, error) {
	f.runs = append(f.runs, runID)
	f.lines += len(lines)
	f.dropped += len(dropped)
	return "mem://" + runID, nil
}

type fakeLock struct {
	held bool
}

func (f *fakeLock) TryLock(_ context.Context, _ string, _ time.Duration) (func(context.Context) error, bool, error) {
	if f.held {
		return nil, false, nil
	}
	f.held = true
	return func(context.Context) error { f.held = false; return nil }, true, nil
}
