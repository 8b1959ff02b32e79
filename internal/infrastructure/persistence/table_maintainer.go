package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/diarco/connexa-sync/internal/domain/shared"
	"github.com/diarco/connexa-sync/internal/domain/staging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LockPolicy bounds how hard a maintenance operation tries to get an
// exclusive table lock
type LockPolicy struct {
	// NowaitAttempts is how many initial attempts fail immediately when the lock is taken
	NowaitAttempts int
	// LockTimeout is the wait per attempt once NOWAIT attempts are spent
	LockTimeout time.Duration
	// StatementTimeout caps each TRUNCATE or INSERT statement
	StatementTimeout time.Duration
	MaxAttempts      int
	// BackoffCap caps the 1s, 2s, 4s... pause between attempts
	BackoffCap time.Duration
	// BatchSize is the number of rows per INSERT during a reload
	BatchSize int
}

// DefaultLockPolicy mirrors the maintenance defaults of the configuration
var DefaultLockPolicy = LockPolicy{
	NowaitAttempts:   2,
	LockTimeout:      3 * time.Second,
	StatementTimeout: 10 * time.Minute,
	MaxAttempts:      5,
	BackoffCap:       60 * time.Second,
	BatchSize:        1000,
}

// LockHolder is a session holding or waiting for a lock on the table
type LockHolder struct {
	PID         int64     `gorm:"column:pid"`
	User        string    `gorm:"column:username"`
	Application string    `gorm:"column:application_name"`
	State       string    `gorm:"column:state"`
	Mode        string    `gorm:"column:mode"`
	Granted     bool      `gorm:"column:granted"`
	Since       time.Time `gorm:"column:since"`
	Query       string    `gorm:"column:query"`
}

// lockDialect holds the engine specific statements of the maintainer
type lockDialect interface {
	name() string
	qualify(schema, table string) (string, error)
	quote(column string) (string, error)
	truncate(ctx context.Context, db *gorm.DB, table string, wait time.Duration) error
	lockHolders(ctx context.Context, db *gorm.DB, schema, table string) ([]LockHolder, error)
}

// TableMaintainer truncates and reloads replicated snapshot tables. It
// shares the pool with the publisher and never waits on a lock unbounded.
type TableMaintainer struct {
	db      *gorm.DB
	dialect lockDialect
	policy  LockPolicy
	logger  *zap.Logger
	timer   backoff.Timer
}

// NewPostgresMaintainer creates a maintainer for planning store tables
func NewPostgresMaintainer(db *gorm.DB, policy LockPolicy, logger *zap.Logger) *TableMaintainer {
	return newMaintainer(db, postgresDialect{}, policy, logger)
}

// NewSQLServerMaintainer creates a maintainer for ERP staging tables
func NewSQLServerMaintainer(db *gorm.DB, policy LockPolicy, logger *zap.Logger) *TableMaintainer {
	return newMaintainer(db, sqlServerDialect{}, policy, logger)
}

func newMaintainer(db *gorm.DB, d lockDialect, policy LockPolicy, logger *zap.Logger) *TableMaintainer {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BatchSize < 1 {
		policy.BatchSize = DefaultLockPolicy.BatchSize
	}
	return &TableMaintainer{db: db, dialect: d, policy: policy, logger: logger.Named("maintenance")}
}

// backoffFor returns the pause schedule min(2^(n-1) s, cap) without jitter
func (m *TableMaintainer) backoffFor(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = m.policy.BackoffCap
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.policy.MaxAttempts-1)), ctx)
}

// Truncate empties schema.table. The first NowaitAttempts attempts fail fast
// when the lock is taken, later ones wait up to LockTimeout. Lock failures
// are retried with backoff; after MaxAttempts the call fails with a
// LOCK_TIMEOUT error.
func (m *TableMaintainer) Truncate(ctx context.Context, schema, table string) error {
	qualified, err := m.dialect.qualify(schema, table)
	if err != nil {
		return err
	}
	log := m.logger.With(zap.String("table", schema+"."+table), zap.String("database", m.dialect.name()))

	attempt := 0
	operation := func() error {
		attempt++
		wait := m.policy.LockTimeout
		if attempt <= m.policy.NowaitAttempts {
			wait = 0
		}

		stmtCtx, cancel := m.statementContext(ctx)
		defer cancel()

		err := Classify(m.dialect.truncate(stmtCtx, m.db, qualified, wait))
		if err == nil {
			return nil
		}
		if !errors.Is(err, shared.ErrLockTimeout) {
			return backoff.Permanent(err)
		}
		m.logLockHolders(ctx, log, schema, table)
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn("Table lock not acquired, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.policy.MaxAttempts),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	err = backoff.RetryNotifyWithTimer(operation, m.backoffFor(ctx), notify, m.timer)
	if err == nil {
		log.Info("Table truncated", zap.Int("attempts", attempt))
		return nil
	}
	if errors.Is(err, shared.ErrLockTimeout) {
		log.Error("Table lock not acquired, giving up", zap.Int("attempts", attempt), zap.Error(err))
		return shared.Wrap(shared.CodeLockTimeout, err, "truncate %s.%s: lock not acquired after %d attempts", schema, table, attempt)
	}
	return fmt.Errorf("truncate %s.%s: %w", schema, table, err)
}

func (m *TableMaintainer) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.policy.StatementTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.policy.StatementTimeout)
}

func (m *TableMaintainer) logLockHolders(ctx context.Context, log *zap.Logger, schema, table string) {
	holders, err := m.dialect.lockHolders(ctx, m.db, schema, table)
	if err != nil {
		log.Debug("Could not read lock holders", zap.Error(err))
		return
	}
	for _, h := range holders {
		log.Warn("Lock holder",
			zap.Int64("pid", h.PID),
			zap.String("user", h.User),
			zap.String("application", h.Application),
			zap.String("state", h.State),
			zap.String("mode", h.Mode),
			zap.Bool("granted", h.Granted),
			zap.Time("since", h.Since),
			zap.String("query", h.Query))
	}
}

// Reload truncates schema.table and inserts rows in batches. Each row holds
// values in the order of columns.
func (m *TableMaintainer) Reload(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("reload %s.%s: no columns", schema, table)
	}
	qualified, err := m.dialect.qualify(schema, table)
	if err != nil {
		return 0, err
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		if quoted[i], err = m.dialect.quote(c); err != nil {
			return 0, err
		}
	}

	if err := m.Truncate(ctx, schema, table); err != nil {
		return 0, err
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", qualified, strings.Join(quoted, ", "))
	batch := min(m.policy.BatchSize, max(1, maxParams/len(columns)), maxValuesRows)

	var inserted int64
	for start := 0; start < len(rows); start += batch {
		chunk := rows[start:min(start+batch, len(rows))]
		values := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*len(columns))
		for i, r := range chunk {
			if len(r) != len(columns) {
				return inserted, shared.Wrap(shared.CodeDataValidation, nil,
					"reload %s.%s: row %d has %d values for %d columns", schema, table, start+i, len(r), len(columns))
			}
			values[i] = placeholders
			args = append(args, r...)
		}

		stmtCtx, cancel := m.statementContext(ctx)
		result := m.db.WithContext(stmtCtx).Exec(prefix+strings.Join(values, ", "), args...)
		cancel()
		if result.Error != nil {
			return inserted, fmt.Errorf("reload %s.%s: %w", schema, table, Classify(result.Error))
		}
		inserted += result.RowsAffected
	}

	m.logger.Info("Table reloaded",
		zap.String("table", schema+"."+table),
		zap.String("database", m.dialect.name()),
		zap.Int64("rows", inserted))
	return inserted, nil
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) qualify(schema, table string) (string, error) {
	return pgQualified(schema + "." + table)
}

func (postgresDialect) quote(column string) (string, error) {
	if !staging.ValidIdentifier(column) {
		return "", fmt.Errorf("invalid identifier %q", column)
	}
	return `"` + column + `"`, nil
}

// truncate takes ACCESS EXCLUSIVE explicitly so the wait is governed by
// NOWAIT or lock_timeout, then truncates inside the same transaction
func (postgresDialect) truncate(ctx context.Context, db *gorm.DB, table string, wait time.Duration) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lock := fmt.Sprintf("LOCK TABLE %s IN ACCESS EXCLUSIVE MODE NOWAIT", table)
		if wait > 0 {
			if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", wait.Milliseconds())).Error; err != nil {
				return err
			}
			lock = fmt.Sprintf("LOCK TABLE %s IN ACCESS EXCLUSIVE MODE", table)
		}
		if err := tx.Exec(lock).Error; err != nil {
			return err
		}
		return tx.Exec(fmt.Sprintf("TRUNCATE TABLE %s", table)).Error
	})
}

func (postgresDialect) lockHolders(ctx context.Context, db *gorm.DB, schema, table string) ([]LockHolder, error) {
	regclass, err := pgQualified(schema + "." + table)
	if err != nil {
		return nil, err
	}
	var holders []LockHolder
	err = db.WithContext(ctx).Raw(`SELECT a.pid, a.usename AS username, a.application_name, a.state,
	l.mode, l.granted, COALESCE(a.query_start, now()) AS since, left(a.query, 200) AS query
FROM pg_locks l
JOIN pg_stat_activity a ON a.pid = l.pid
WHERE l.relation = ?::regclass AND a.pid <> pg_backend_pid()
ORDER BY l.granted DESC, a.query_start`, regclass).Scan(&holders).Error
	return holders, err
}

type sqlServerDialect struct{}

func (sqlServerDialect) name() string { return "sqlserver" }

func (sqlServerDialect) qualify(schema, table string) (string, error) {
	return msQualified(schema, table)
}

func (sqlServerDialect) quote(column string) (string, error) {
	return msQuote(column)
}

// truncate sets LOCK_TIMEOUT on a pinned connection, takes TABLOCKX and
// truncates. The session setting is restored before the connection goes
// back to the pool.
func (sqlServerDialect) truncate(ctx context.Context, db *gorm.DB, table string, wait time.Duration) error {
	return db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec(fmt.Sprintf("SET LOCK_TIMEOUT %d", wait.Milliseconds())).Error; err != nil {
			return err
		}
		defer conn.Exec("SET LOCK_TIMEOUT -1")

		return conn.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(fmt.Sprintf("SELECT TOP (0) 1 FROM %s WITH (TABLOCKX, HOLDLOCK)", table)).Error; err != nil {
				return err
			}
			return tx.Exec(fmt.Sprintf("TRUNCATE TABLE %s", table)).Error
		})
	})
}

func (sqlServerDialect) lockHolders(ctx context.Context, db *gorm.DB, schema, table string) ([]LockHolder, error) {
	var holders []LockHolder
	err := db.WithContext(ctx).Raw(`SELECT l.request_session_id AS pid, s.login_name AS username,
	s.program_name AS application_name, s.status AS state, l.request_mode AS mode,
	CASE WHEN l.request_status = 'GRANT' THEN CAST(1 AS bit) ELSE CAST(0 AS bit) END AS granted,
	s.last_request_start_time AS since, '' AS query
FROM sys.dm_tran_locks l
JOIN sys.dm_exec_sessions s ON s.session_id = l.request_session_id
WHERE l.resource_type = 'OBJECT' AND l.resource_associated_entity_id = OBJECT_ID(?)
	AND l.request_session_id <> @@SPID`, schema+"."+table).Scan(&holders).Error
	return holders, err
}
