package replenishment

import (
	"sort"
	"time"
)

// OutcomeKind is the result of publishing one destination row
type OutcomeKind string

const (
	OutcomeInserted        OutcomeKind = "INSERTED"
	OutcomeUpdated         OutcomeKind = "UPDATED"
	OutcomeSkippedExisting OutcomeKind = "SKIPPED_EXISTING"
	OutcomeFailed          OutcomeKind = "FAILED"
)

// Written reports whether the destination row was written by this run
func (k OutcomeKind) Written() bool {
	return k == OutcomeInserted || k == OutcomeUpdated
}

// PublishOutcome records what happened to one correlation key's row
type PublishOutcome struct {
	CorrelationKey string
	Kind           OutcomeKind
	Err            error
}

// ErrorDetail returns the failure message, empty when the outcome succeeded
func (o PublishOutcome) ErrorDetail() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// StatusPlan is the set of status transitions to apply at the end of a run
type StatusPlan struct {
	Publish []string
	Fail    map[string]string
	Release []string
}

// PlanStatus reduces per-row outcomes to one transition per claimed key:
//   - any failure moves the key to ERROR
//   - otherwise a written row (or an existing one when markExisting is set) publishes it
//   - keys with nothing written go back to PENDING
//
// Claimed keys without any outcome (netted to zero) are released.
func PlanStatus(claimed []string, outcomes []PublishOutcome, markExisting bool) StatusPlan {
	type acc struct {
		written  bool
		existing bool
		failure  string
		failed   bool
	}
	byKey := make(map[string]*acc, len(claimed))
	for _, k := range claimed {
		byKey[k] = &acc{}
	}
	for _, o := range outcomes {
		a, ok := byKey[o.CorrelationKey]
		if !ok {
			continue
		}
		switch {
		case o.Kind == OutcomeFailed:
			if !a.failed {
				a.failure = o.ErrorDetail()
			}
			a.failed = true
		case o.Kind.Written():
			a.written = true
		case o.Kind == OutcomeSkippedExisting:
			a.existing = true
		}
	}

	plan := StatusPlan{Fail: make(map[string]string)}
	for _, k := range claimed {
		a := byKey[k]
		switch {
		case a.failed:
			plan.Fail[k] = a.failure
		case a.written, a.existing && markExisting:
			plan.Publish = append(plan.Publish, k)
		default:
			plan.Release = append(plan.Release, k)
		}
	}
	sort.Strings(plan.Publish)
	sort.Strings(plan.Release)
	return plan
}

// RunSummary aggregates one pipeline invocation. A summary of several
// pipelines holds the totals and one part per pipeline.
type RunSummary struct {
	RunID           string
	Pipeline        string `json:",omitempty"`
	StartedAt       time.Time
	FinishedAt      time.Time
	LinesRead       int
	LinesRejected   int // unreadable source rows moved to ERROR
	KeysClaimed     int
	Consolidated    int
	DroppedByStock  int
	RowsRejected    int
	RowsDroppedZero int // quantity rounds to zero in the destination column
	Inserted        int
	Updated         int
	Skipped         int
	Failed          int
	KeysPublished   int
	KeysFailed      int
	KeysReleased    int
	StaleReleased   int
	Parts           []RunSummary `json:",omitempty"`
}

// Count tallies row outcomes into the summary
func (s *RunSummary) Count(outcomes []PublishOutcome) {
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeInserted:
			s.Inserted++
		case OutcomeUpdated:
			s.Updated++
		case OutcomeSkippedExisting:
			s.Skipped++
		case OutcomeFailed:
			s.Failed++
		}
	}
}

// Merge adds part's counters to s, widens its time span and records part
func (s *RunSummary) Merge(part RunSummary) {
	if s.StartedAt.IsZero() || (!part.StartedAt.IsZero() && part.StartedAt.Before(s.StartedAt)) {
		s.StartedAt = part.StartedAt
	}
	if part.FinishedAt.After(s.FinishedAt) {
		s.FinishedAt = part.FinishedAt
	}
	s.LinesRead += part.LinesRead
	s.LinesRejected += part.LinesRejected
	s.KeysClaimed += part.KeysClaimed
	s.Consolidated += part.Consolidated
	s.DroppedByStock += part.DroppedByStock
	s.RowsRejected += part.RowsRejected
	s.RowsDroppedZero += part.RowsDroppedZero
	s.Inserted += part.Inserted
	s.Updated += part.Updated
	s.Skipped += part.Skipped
	s.Failed += part.Failed
	s.KeysPublished += part.KeysPublished
	s.KeysFailed += part.KeysFailed
	s.KeysReleased += part.KeysReleased
	s.StaleReleased += part.StaleReleased
	s.Parts = append(s.Parts, part)
}

// Duration returns the wall time of the run
func (s RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
