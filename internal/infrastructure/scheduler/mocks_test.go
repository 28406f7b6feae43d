package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// memCheckpointStore mirrors the run-lock semantics of the gorm store
type memCheckpointStore struct {
	mu        sync.Mutex
	rows      map[string]*integration.Checkpoint
	previous  map[string]integration.RunStatus
	threshold int
	now       func() time.Time

	beginCalls    atomic.Int32
	commitCalls   atomic.Int32
	completeCalls atomic.Int32
	failCalls     atomic.Int32
	abortCalls    atomic.Int32
}

func newMemCheckpointStore(threshold int, now func() time.Time) *memCheckpointStore {
	return &memCheckpointStore{
		rows:      make(map[string]*integration.Checkpoint),
		previous:  make(map[string]integration.RunStatus),
		threshold: threshold,
		now:       now,
	}
}

func cpKey(tenantID uuid.UUID, resource integration.ResourceType) string {
	return tenantID.String() + "/" + string(resource)
}

func (s *memCheckpointStore) put(cp integration.Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[cpKey(cp.TenantID, cp.Resource)] = &cp
}

func (s *memCheckpointStore) GetCheckpoint(_ context.Context, tenantID uuid.UUID, resource integration.ResourceType) (*integration.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.rows[cpKey(tenantID, resource)]
	if !ok {
		return nil, integration.ErrCheckpointNotFound
	}
	out := *cp
	return &out, nil
}

func (s *memCheckpointStore) ListCheckpoints(_ context.Context, tenantID uuid.UUID) ([]integration.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []integration.Checkpoint
	for _, cp := range s.rows {
		if cp.TenantID == tenantID {
			out = append(out, *cp)
		}
	}
	return out, nil
}

func (s *memCheckpointStore) BeginRun(_ context.Context, tenantID uuid.UUID, resource integration.ResourceType, kind integration.RunKind) (integration.RunToken, error) {
	s.beginCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cpKey(tenantID, resource)
	cp, ok := s.rows[key]
	if !ok {
		cp = &integration.Checkpoint{TenantID: tenantID, Resource: resource, Status: integration.RunStatusIdle}
		s.rows[key] = cp
	}
	if cp.Status == integration.RunStatusRunning {
		return integration.RunToken{}, integration.ErrAlreadyRunning
	}

	now := s.now()
	runID := uuid.New()
	s.previous[key] = cp.Status
	cp.Status = integration.RunStatusRunning
	cp.RunID = &runID
	cp.RunKind = kind
	cp.RunStartedAt = &now
	return integration.RunToken{RunID: runID, TenantID: tenantID, Resource: resource, Kind: kind, StartedAt: now}, nil
}

func (s *memCheckpointStore) current(token integration.RunToken) (*integration.Checkpoint, error) {
	cp, ok := s.rows[cpKey(token.TenantID, token.Resource)]
	if !ok || cp.RunID == nil || *cp.RunID != token.RunID || cp.Status != integration.RunStatusRunning {
		return nil, integration.ErrStaleRunToken
	}
	return cp, nil
}

func (s *memCheckpointStore) CommitRun(_ context.Context, token integration.RunToken, lastSyncAt time.Time, n int64) error {
	s.commitCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, err := s.current(token)
	if err != nil {
		return err
	}
	if cp.LastSyncAt != nil && lastSyncAt.Before(*cp.LastSyncAt) {
		cp.Status = integration.RunStatusError
		cp.RunID = nil
		return integration.ErrCheckpointRegression
	}
	at := lastSyncAt
	cp.LastSyncAt = &at
	s.succeed(cp, n)
	return nil
}

func (s *memCheckpointStore) CompleteRun(_ context.Context, token integration.RunToken, n int64) error {
	s.completeCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, err := s.current(token)
	if err != nil {
		return err
	}
	s.succeed(cp, n)
	return nil
}

func (s *memCheckpointStore) succeed(cp *integration.Checkpoint, n int64) {
	now := s.now()
	cp.Status = integration.RunStatusSuccess
	cp.RecordsProcessed = n
	cp.TotalRecordsProcessed += n
	cp.ConsecutiveErrors = 0
	cp.LastError = ""
	cp.RunID = nil
	cp.LastFinishedAt = &now
}

func (s *memCheckpointStore) FailRun(_ context.Context, token integration.RunToken, runErr error) (*integration.Checkpoint, error) {
	s.failCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, err := s.current(token)
	if err != nil {
		return nil, err
	}
	cp.ConsecutiveErrors++
	cp.LastError = runErr.Error()
	cp.RunID = nil
	cp.Status = integration.RunStatusRetrying
	if cp.ConsecutiveErrors >= s.threshold {
		cp.Status = integration.RunStatusError
	}
	out := *cp
	return &out, nil
}

func (s *memCheckpointStore) AbortRun(_ context.Context, token integration.RunToken) error {
	s.abortCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, err := s.current(token)
	if err != nil {
		return err
	}
	cp.Status = s.previous[cpKey(token.TenantID, token.Resource)]
	cp.RunID = nil
	return nil
}

// scriptedFetcher answers FetchPage through fn and records every cursor it was called with
type scriptedFetcher struct {
	mu      sync.Mutex
	cursors []string
	windows []integration.FetchWindow
	calls   atomic.Int32
	fn      func(call int, cursor string) (*integration.Page, error)
}

func (f *scriptedFetcher) FetchPage(_ context.Context, _ uuid.UUID, _ integration.ResourceType, window integration.FetchWindow, cursor string) (*integration.Page, error) {
	call := int(f.calls.Add(1))
	f.mu.Lock()
	f.cursors = append(f.cursors, cursor)
	f.windows = append(f.windows, window)
	f.mu.Unlock()
	return f.fn(call, cursor)
}

func (f *scriptedFetcher) seenCursors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cursors...)
}

func (f *scriptedFetcher) firstWindow() integration.FetchWindow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.windows[0]
}

// pagedFetcher serves pages of the given sizes with cursors c1, c2, ...
func pagedFetcher(sizes ...int) *scriptedFetcher {
	return &scriptedFetcher{fn: func(_ int, cursor string) (*integration.Page, error) {
		idx := 0
		if cursor != "" {
			_, _ = fmt.Sscanf(cursor, "c%d", &idx)
		}
		return pageOf(idx, sizes[idx], idx == len(sizes)-1), nil
	}}
}

func pageOf(idx, size int, done bool) *integration.Page {
	records := make([]integration.ExternalRecord, size)
	for i := range records {
		records[i] = &integration.ExternalProduct{
			SKU:       fmt.Sprintf("SKU-%d-%d", idx, i),
			UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	page := &integration.Page{Records: records, Done: done}
	if !done {
		page.NextCursor = fmt.Sprintf("c%d", idx+1)
	}
	return page
}

// countingReconciler counts every record as created
type countingReconciler struct {
	calls   atomic.Int32
	records atomic.Int64
	mu      sync.Mutex
	sources []integration.RecordSource
	hook    func(call int) error
}

func (r *countingReconciler) Reconcile(_ context.Context, req integration.ReconcileRequest) (integration.ReconcileResult, error) {
	call := int(r.calls.Add(1))
	r.mu.Lock()
	r.sources = append(r.sources, req.Source)
	r.mu.Unlock()
	if r.hook != nil {
		if err := r.hook(call); err != nil {
			return integration.ReconcileResult{}, err
		}
	}
	r.records.Add(int64(len(req.Records)))
	return integration.ReconcileResult{Created: len(req.Records)}, nil
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.EventType())
	}
	return out
}

// recordingSleeper returns immediately and keeps the requested durations
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}
