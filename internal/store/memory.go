package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signal_relay/internal/core"
	apperrors "signal_relay/pkg/errors"
)

// MemoryStore keeps the whole queue in process memory. It exists for tests
// and for running the stack without a database file; semantics match the
// sqlite store, including the conditional claim.
type MemoryStore struct {
	mu         sync.Mutex
	signals    map[string]*core.Signal
	jobs       map[string]*core.QueueJob
	jobOrder   []string
	dlq        map[string]*core.QueueJob
	state      *core.AccountState
	metrics    map[string]*core.DailyMetrics
	nextMetric int64
	strategies map[string]*core.Strategy
	webhook    []*core.WebhookJob
	nextV1     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals:    map[string]*core.Signal{},
		jobs:       map[string]*core.QueueJob{},
		dlq:        map[string]*core.QueueJob{},
		metrics:    map[string]*core.DailyMetrics{},
		strategies: map[string]*core.Strategy{},
		state: &core.AccountState{
			TradingEnabled: true,
			ResetTimeUTC:   "13:30",
		},
	}
}

// SetAccountState replaces the policy row. Used to seed risk limits in
// tests and ephemeral deployments.
func (m *MemoryStore) SetAccountState(state *core.AccountState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// SetStrategy upserts a strategy row.
func (m *MemoryStore) SetStrategy(st *core.Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	m.strategies[st.Name] = &cp
}

// WebhookJob returns a copy of one v1 queue row, or nil. Inspection helper
// for tests; the QueueStore contract has no per-row v1 read.
func (m *MemoryStore) WebhookJob(id int64) *core.WebhookJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.webhook {
		if job.ID == id {
			cp := *job
			cp.Data = append([]byte(nil), job.Data...)
			return &cp
		}
	}
	return nil
}

func (m *MemoryStore) InsertSignal(_ context.Context, sig *core.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.signals[sig.DedupKey]; ok {
		return apperrors.ErrDuplicateSignal
	}
	cp := *sig
	cp.Raw = append([]byte(nil), sig.Raw...)
	cp.CreatedAt = time.Now().UTC()
	m.signals[sig.DedupKey] = &cp
	return nil
}

func (m *MemoryStore) HasSignal(_ context.Context, dedupKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.signals[dedupKey]
	return ok, nil
}

func (m *MemoryStore) InsertJob(_ context.Context, job *core.QueueJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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

	m.jobs[job.ID] = cloneJob(job)
	m.jobOrder = append(m.jobOrder, job.ID)
	return nil
}

func (m *MemoryStore) ClaimJob(_ context.Context, id string) (*core.QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != core.JobReady {
		return nil, apperrors.ErrNotClaimable
	}
	job.Status = core.JobProcessing
	job.UpdatedAt = time.Now().UTC()
	return cloneJob(job), nil
}

func (m *MemoryStore) LoadJob(_ context.Context, id string) (*core.QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneJob(job), nil
}

func (m *MemoryStore) ListReadyJobs(_ context.Context, limit int) ([]*core.QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []*core.QueueJob
	for _, id := range m.jobOrder {
		if len(jobs) >= limit {
			break
		}
		if job := m.jobs[id]; job.Status == core.JobReady {
			jobs = append(jobs, cloneJob(job))
		}
	}
	return jobs, nil
}

func (m *MemoryStore) CompleteJob(_ context.Context, id, status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	job.Status = status
	job.Reason = nullString(reason)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) DeferJob(_ context.Context, id string, nextAttempt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	job.Status = core.JobReady
	job.NextAttemptAt = nullTime(nextAttempt)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) RetryJob(_ context.Context, id string, retryCount int, lastErr string, nextAttempt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	job.Status = core.JobReady
	job.RetryCount = retryCount
	job.LastError = nullString(lastErr)
	job.NextAttemptAt = nullTime(nextAttempt)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) DeadLetterJob(_ context.Context, job *core.QueueJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq[job.ID] = cloneJob(job)
	return nil
}

func (m *MemoryStore) RequeueStale(_ context.Context, olderThan time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, id := range m.jobOrder {
		if count >= limit {
			break
		}
		job := m.jobs[id]
		if job.Status == core.JobProcessing && job.UpdatedAt.Before(olderThan) {
			job.Status = core.JobReady
			job.UpdatedAt = time.Now().UTC()
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CountJobs(_ context.Context, status string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.jobs {
		if job.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountFailedSince(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.jobs {
		if job.Status == core.JobFailed && !job.UpdatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountDeadLetters(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dlq), nil
}

func (m *MemoryStore) LoadAccountState(_ context.Context) (*core.AccountState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, apperrors.ErrNotFound
	}
	cp := *m.state
	return &cp, nil
}

func (m *MemoryStore) UpdateAccountState(_ context.Context, upd core.AccountStateUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return apperrors.ErrNotFound
	}
	if upd.TradingEnabled != nil {
		m.state.TradingEnabled = *upd.TradingEnabled
	}
	if upd.DailyDDTriggered != nil {
		m.state.DailyDDTriggered = *upd.DailyDDTriggered
	}
	if upd.DailyHighWatermark != nil {
		m.state.DailyHighWatermark = decimal.NullDecimal{Decimal: *upd.DailyHighWatermark, Valid: true}
	}
	if upd.PauseReason != nil {
		m.state.PauseReason = nullString(*upd.PauseReason)
	}
	return nil
}

func (m *MemoryStore) GetOrCreateDailyMetrics(_ context.Context, day, alias string) (*core.DailyMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := day + "|" + alias
	if row, ok := m.metrics[key]; ok {
		cp := *row
		return &cp, nil
	}
	m.nextMetric++
	row := &core.DailyMetrics{ID: m.nextMetric, Day: day, Alias: alias}
	m.metrics[key] = row
	cp := *row
	return &cp, nil
}

func (m *MemoryStore) SetDailyEquity(_ context.Context, day, alias string, equity decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := day + "|" + alias
	row, ok := m.metrics[key]
	if !ok {
		m.nextMetric++
		row = &core.DailyMetrics{ID: m.nextMetric, Day: day, Alias: alias}
		m.metrics[key] = row
	}
	row.Equity = decimal.NullDecimal{Decimal: equity, Valid: true}
	return nil
}

func (m *MemoryStore) LoadStrategy(_ context.Context, name string) (*core.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.strategies[name]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *MemoryStore) InsertWebhookJob(_ context.Context, data []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextV1++
	now := time.Now().UTC()
	m.webhook = append(m.webhook, &core.WebhookJob{
		ID:        m.nextV1,
		Data:      append([]byte(nil), data...),
		Status:    core.V1Pending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return m.nextV1, nil
}

func (m *MemoryStore) ClaimWebhookJobs(_ context.Context, limit int) ([]*core.WebhookJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []*core.WebhookJob
	for _, job := range m.webhook {
		if len(claimed) >= limit {
			break
		}
		if job.Status != core.V1Pending {
			continue
		}
		job.Status = core.V1Processing
		job.UpdatedAt = time.Now().UTC()
		cp := *job
		cp.Data = append([]byte(nil), job.Data...)
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (m *MemoryStore) CompleteWebhookJob(_ context.Context, id int64, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.webhook {
		if job.ID == id {
			job.Status = status
			job.Error = nullString(errMsg)
			job.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func cloneJob(job *core.QueueJob) *core.QueueJob {
	cp := *job
	cp.Raw = append([]byte(nil), job.Raw...)
	return &cp
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
