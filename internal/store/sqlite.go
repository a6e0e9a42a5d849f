package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"signal_relay/internal/core"
	apperrors "signal_relay/pkg/errors"
	"signal_relay/pkg/retry"
)

const jobColumns = `id, status, reason, strategy, ticker, timeframe, action, price, atr,
	risk_pct, trail_atr_mult, r_multiple_tp, max_slots, buffer_ratio, bar_time, subaccount,
	raw, retry_count, next_attempt_at, last_error, created_at, updated_at`

// busyPolicy retries writes that lose the race for the single sqlite writer.
// The 5s busy_timeout pragma handles most contention; this covers the rest.
var busyPolicy = retry.RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
}

// SQLiteStore is the durable QueueStore. It runs in WAL mode so the ingress
// and worker processes can share one database file.
type SQLiteStore struct {
	db     *sql.DB
	logger core.ILogger
}

// NewSQLiteStore opens (and if needed creates) the database at dsn and
// applies the embedded schema.
func NewSQLiteStore(dsn string, logger core.ILogger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return retry.DoValue(ctx, busyPolicy, isBusy, func() (sql.Result, error) {
		return s.db.ExecContext(ctx, query, args...)
	})
}

// InsertSignal writes the raw signal row. A dedup_key collision reports
// apperrors.ErrDuplicateSignal so the caller can answer dup_ignored.
func (s *SQLiteStore) InsertSignal(ctx context.Context, sig *core.Signal) error {
	_, err := s.exec(ctx, `
		INSERT INTO signals_raw (strategy, ticker, timeframe, action, price, atr,
			risk_pct, trail_atr_mult, bar_time, dedup_key, source, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.Strategy, sig.Ticker, sig.Timeframe, sig.Action,
		sig.Price, sig.ATR, sig.RiskPct, sig.TrailATRMult,
		sig.BarTime, sig.DedupKey, sig.Source, sig.Raw,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicateSignal
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) HasSignal(ctx context.Context, dedupKey string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM signals_raw WHERE dedup_key = ?`, dedupKey).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return true, nil
}

// InsertJob enqueues a ready job. A missing ID is filled with a fresh UUID;
// the ID seeds the deterministic client_order_id later on.
func (s *SQLiteStore) InsertJob(ctx context.Context, job *core.QueueJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = core.JobReady
	}
	if job.Subaccount == "" {
		job.Subaccount = "default"
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.exec(ctx, `
		INSERT INTO order_queue (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Status, job.Reason, job.Strategy, job.Ticker, job.Timeframe,
		job.Action, job.Price, job.ATR, job.RiskPct, job.TrailATRMult,
		job.RMultipleTP, job.MaxSlots, job.BufferRatio, job.BarTime, job.Subaccount,
		job.Raw, job.RetryCount, job.NextAttemptAt, job.LastError,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// ClaimJob flips ready to processing with a conditional update. Exactly one
// caller wins; everyone else gets apperrors.ErrNotClaimable.
func (s *SQLiteStore) ClaimJob(ctx context.Context, id string) (*core.QueueJob, error) {
	res, err := s.exec(ctx, `
		UPDATE order_queue SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		core.JobProcessing, time.Now().UTC(), id, core.JobReady,
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if n == 0 {
		return nil, apperrors.ErrNotClaimable
	}
	return s.LoadJob(ctx, id)
}

func (s *SQLiteStore) LoadJob(ctx context.Context, id string) (*core.QueueJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM order_queue WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) ListReadyJobs(ctx context.Context, limit int) ([]*core.QueueJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM order_queue
		WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		core.JobReady, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ready jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*core.QueueJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ready job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id, status, reason string) error {
	res, err := s.exec(ctx, `
		UPDATE order_queue SET status = ?, reason = NULLIF(?, ''), updated_at = ?
		WHERE id = ?`,
		status, reason, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeferJob(ctx context.Context, id string, nextAttempt time.Time) error {
	res, err := s.exec(ctx, `
		UPDATE order_queue SET status = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?`,
		core.JobReady, nextAttempt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("defer job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RetryJob(ctx context.Context, id string, retryCount int, lastErr string, nextAttempt time.Time) error {
	res, err := s.exec(ctx, `
		UPDATE order_queue
		SET status = ?, retry_count = ?, last_error = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?`,
		core.JobReady, retryCount, lastErr, nextAttempt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// DeadLetterJob copies the row into the DLQ table. The caller still marks
// the original failed. Replays of the same id are idempotent.
func (s *SQLiteStore) DeadLetterJob(ctx context.Context, job *core.QueueJob) error {
	_, err := s.exec(ctx, `
		INSERT INTO order_queue_dlq (id, reason, strategy, ticker, timeframe, action,
			price, atr, risk_pct, trail_atr_mult, r_multiple_tp, max_slots, buffer_ratio,
			bar_time, subaccount, raw, retry_count, last_error, created_at, dead_lettered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Reason, job.Strategy, job.Ticker, job.Timeframe, job.Action,
		job.Price, job.ATR, job.RiskPct, job.TrailATRMult, job.RMultipleTP,
		job.MaxSlots, job.BufferRatio, job.BarTime, job.Subaccount, job.Raw,
		job.RetryCount, job.LastError, job.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("dead letter job: %w", err)
	}
	return nil
}

// RequeueStale flips processing rows older than the cutoff back to ready so
// jobs orphaned by a crashed worker are retried. The broker-side
// client_order_id still guards against double execution.
func (s *SQLiteStore) RequeueStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	res, err := s.exec(ctx, `
		UPDATE order_queue SET status = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM order_queue WHERE status = ? AND updated_at < ? LIMIT ?
		)`,
		core.JobReady, time.Now().UTC(), core.JobProcessing, olderThan.UTC(), limit,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stale: %w", err)
	}
	if n > 0 {
		s.logger.Warn("requeued stale processing jobs", "count", n)
	}
	return int(n), nil
}

func (s *SQLiteStore) CountJobs(ctx context.Context, status string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_queue WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountFailedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM order_queue WHERE status = ? AND updated_at >= ?`,
		core.JobFailed, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failed jobs: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountDeadLetters(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_queue_dlq`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) LoadAccountState(ctx context.Context) (*core.AccountState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT trading_enabled, daily_dd_limit_pct, daily_dd_triggered,
			daily_high_watermark, daily_loss_cap_usd, reset_time_utc,
			pause_reason, max_positions_total
		FROM account_state WHERE id = 1`)

	var state core.AccountState
	err := row.Scan(
		&state.TradingEnabled, &state.DailyDDLimitPct, &state.DailyDDTriggered,
		&state.DailyHighWatermark, &state.DailyLossCapUSD, &state.ResetTimeUTC,
		&state.PauseReason, &state.MaxPositionsTotal,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account state: %w", err)
	}
	return &state, nil
}

func (s *SQLiteStore) UpdateAccountState(ctx context.Context, upd core.AccountStateUpdate) error {
	var sets []string
	var args []interface{}
	if upd.TradingEnabled != nil {
		sets = append(sets, "trading_enabled = ?")
		args = append(args, *upd.TradingEnabled)
	}
	if upd.DailyDDTriggered != nil {
		sets = append(sets, "daily_dd_triggered = ?")
		args = append(args, *upd.DailyDDTriggered)
	}
	if upd.DailyHighWatermark != nil {
		sets = append(sets, "daily_high_watermark = ?")
		args = append(args, *upd.DailyHighWatermark)
	}
	if upd.PauseReason != nil {
		sets = append(sets, "pause_reason = NULLIF(?, '')")
		args = append(args, *upd.PauseReason)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, 1)

	res, err := s.exec(ctx,
		fmt.Sprintf("UPDATE account_state SET %s WHERE id = ?", strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return fmt.Errorf("update account state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetOrCreateDailyMetrics(ctx context.Context, day, alias string) (*core.DailyMetrics, error) {
	_, err := s.exec(ctx, `
		INSERT INTO daily_metrics (d, alias) VALUES (?, ?)
		ON CONFLICT(d, alias) DO NOTHING`, day, alias)
	if err != nil {
		return nil, fmt.Errorf("create daily metrics: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, d, alias, equity, high_watermark
		FROM daily_metrics WHERE d = ? AND alias = ?`, day, alias)

	var m core.DailyMetrics
	if err := row.Scan(&m.ID, &m.Day, &m.Alias, &m.Equity, &m.HighWatermark); err != nil {
		return nil, fmt.Errorf("load daily metrics: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) SetDailyEquity(ctx context.Context, day, alias string, equity decimal.Decimal) error {
	_, err := s.exec(ctx, `
		INSERT INTO daily_metrics (d, alias, equity) VALUES (?, ?, ?)
		ON CONFLICT(d, alias) DO UPDATE SET equity = excluded.equity`,
		day, alias, equity,
	)
	if err != nil {
		return fmt.Errorf("set daily equity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadStrategy(ctx context.Context, name string) (*core.Strategy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, status, default_risk_pct, trail_atr_mult, r_multiple_tp,
			max_positions, allow_short, time_in_force
		FROM strategies WHERE name = ?`, name)

	var st core.Strategy
	err := row.Scan(
		&st.Name, &st.Status, &st.DefaultRiskPct, &st.TrailATRMult,
		&st.RMultipleTP, &st.MaxPositions, &st.AllowShort, &st.TimeInForce,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load strategy: %w", err)
	}
	return &st, nil
}

func (s *SQLiteStore) InsertWebhookJob(ctx context.Context, data []byte) (int64, error) {
	now := time.Now().UTC()
	res, err := s.exec(ctx, `
		INSERT INTO webhook_queue (data, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		data, core.V1Pending, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert webhook job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert webhook job: %w", err)
	}
	return id, nil
}

// ClaimWebhookJobs claims up to limit pending v1 jobs, one conditional
// update each, and returns only the rows this caller won.
func (s *SQLiteStore) ClaimWebhookJobs(ctx context.Context, limit int) ([]*core.WebhookJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data, status, error, created_at, updated_at
		FROM webhook_queue WHERE status = ? ORDER BY id ASC LIMIT ?`,
		core.V1Pending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhook jobs: %w", err)
	}

	var candidates []*core.WebhookJob
	for rows.Next() {
		var job core.WebhookJob
		if err := rows.Scan(&job.ID, &job.Data, &job.Status, &job.Error,
			&job.CreatedAt, &job.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan webhook job: %w", err)
		}
		candidates = append(candidates, &job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now().UTC()
	var claimed []*core.WebhookJob
	for _, job := range candidates {
		res, err := s.exec(ctx, `
			UPDATE webhook_queue SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			core.V1Processing, now, job.ID, core.V1Pending,
		)
		if err != nil {
			return claimed, fmt.Errorf("claim webhook job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			job.Status = core.V1Processing
			claimed = append(claimed, job)
		}
	}
	return claimed, nil
}

func (s *SQLiteStore) CompleteWebhookJob(ctx context.Context, id int64, status, errMsg string) error {
	res, err := s.exec(ctx, `
		UPDATE webhook_queue SET status = ?, error = NULLIF(?, ''), updated_at = ?
		WHERE id = ?`,
		status, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("complete webhook job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*core.QueueJob, error) {
	var job core.QueueJob
	err := row.Scan(
		&job.ID, &job.Status, &job.Reason, &job.Strategy, &job.Ticker, &job.Timeframe,
		&job.Action, &job.Price, &job.ATR, &job.RiskPct, &job.TrailATRMult,
		&job.RMultipleTP, &job.MaxSlots, &job.BufferRatio, &job.BarTime, &job.Subaccount,
		&job.Raw, &job.RetryCount, &job.NextAttemptAt, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func isBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
