// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"

	"etl-orchestrator/internal/domain"
)

// === Execution Log Mock ===

// MockExecutionLog implements domain.ExecutionLogRepository in memory. It is
// safe for concurrent use because the coordinator records attempts from
// several goroutines.
type MockExecutionLog struct {
	StartFn  func(ctx context.Context, rec *domain.ExecutionRecord) error
	FinishFn func(ctx context.Context, rec *domain.ExecutionRecord) error
	ListFn   func(ctx context.Context, filter domain.ExecutionFilter) ([]domain.ExecutionRecord, int64, error)
	StatsFn  func(ctx context.Context, filter domain.ExecutionFilter) ([]domain.ExecutionStats, error)

	mu      sync.Mutex
	records []*domain.ExecutionRecord
}

// Start implements the interface method for testing.
func (m *MockExecutionLog) Start(ctx context.Context, rec *domain.ExecutionRecord) error {
	if m.StartFn != nil {
		if err := m.StartFn(ctx, rec); err != nil {
			return err
		}
	}
	if rec.ID == "" {
		rec.ID = domain.NewID()
	}
	cp := *rec
	m.mu.Lock()
	m.records = append(m.records, &cp)
	m.mu.Unlock()
	return nil
}

// Finish implements the interface method for testing. Like the SQLite
// repository it only updates RUNNING records.
func (m *MockExecutionLog) Finish(ctx context.Context, rec *domain.ExecutionRecord) error {
	if m.FinishFn != nil {
		if err := m.FinishFn(ctx, rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.ID != rec.ID {
			continue
		}
		if r.Status != domain.ExecutionStatusRunning {
			return domain.ErrConflict("execution record %q is not running", rec.ID)
		}
		cp := *rec
		m.records[i] = &cp
		return nil
	}
	return domain.ErrNotFound("execution record %q not found", rec.ID)
}

// List implements the interface method for testing.
func (m *MockExecutionLog) List(ctx context.Context, filter domain.ExecutionFilter) ([]domain.ExecutionRecord, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	recs := m.Records()
	return recs, int64(len(recs)), nil
}

// Stats implements the interface method for testing.
func (m *MockExecutionLog) Stats(ctx context.Context, filter domain.ExecutionFilter) ([]domain.ExecutionStats, error) {
	if m.StatsFn != nil {
		return m.StatsFn(ctx, filter)
	}
	panic("unexpected call to MockExecutionLog.Stats")
}

// Records returns a copy of every record in insertion order.
func (m *MockExecutionLog) Records() []domain.ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ExecutionRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out
}

// RecordsFor returns the records of one pipeline in insertion order.
func (m *MockExecutionLog) RecordsFor(pipeline string) []domain.ExecutionRecord {
	var out []domain.ExecutionRecord
	for _, r := range m.Records() {
		if r.PipelineName == pipeline {
			out = append(out, r)
		}
	}
	return out
}

var _ domain.ExecutionLogRepository = (*MockExecutionLog)(nil)

// === Notifier Mock ===

// MockNotifier implements domain.Notifier and collects alerts.
type MockNotifier struct {
	NotifyFn func(ctx context.Context, alert domain.Alert) error

	mu     sync.Mutex
	Alerts []domain.Alert
}

// Notify implements the interface method for testing.
func (m *MockNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	m.mu.Lock()
	m.Alerts = append(m.Alerts, alert)
	m.mu.Unlock()
	if m.NotifyFn != nil {
		return m.NotifyFn(ctx, alert)
	}
	return nil
}

// Sent returns a copy of the collected alerts.
func (m *MockNotifier) Sent() []domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Alert(nil), m.Alerts...)
}

var _ domain.Notifier = (*MockNotifier)(nil)

// === Definition Repository Mock ===

// MockDefinitionRepo implements domain.DefinitionRepository with in-memory
// slices. Upserts append or replace by natural key.
type MockDefinitionRepo struct {
	Pipelines  []domain.PipelineDefinition
	SCD2       []domain.SCD2Definition
	Rules      []domain.DQRule
	Units      []domain.UnitDefinition
	Predicates []domain.PredicateDefinition

	ListPipelinesFn func(ctx context.Context) ([]domain.PipelineDefinition, error)
}

// UpsertPipeline implements the interface method for testing.
func (m *MockDefinitionRepo) UpsertPipeline(_ context.Context, p *domain.PipelineDefinition) error {
	for i := range m.Pipelines {
		if m.Pipelines[i].Name == p.Name {
			m.Pipelines[i] = *p
			return nil
		}
	}
	m.Pipelines = append(m.Pipelines, *p)
	return nil
}

// ListPipelines implements the interface method for testing.
func (m *MockDefinitionRepo) ListPipelines(ctx context.Context) ([]domain.PipelineDefinition, error) {
	if m.ListPipelinesFn != nil {
		return m.ListPipelinesFn(ctx)
	}
	return append([]domain.PipelineDefinition(nil), m.Pipelines...), nil
}

// DeletePipeline implements the interface method for testing.
func (m *MockDefinitionRepo) DeletePipeline(_ context.Context, name string) error {
	for i := range m.Pipelines {
		if m.Pipelines[i].Name == name {
			m.Pipelines = append(m.Pipelines[:i], m.Pipelines[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound("pipeline %q not found", name)
}

// UpsertSCD2 implements the interface method for testing.
func (m *MockDefinitionRepo) UpsertSCD2(_ context.Context, d *domain.SCD2Definition) error {
	for i := range m.SCD2 {
		if m.SCD2[i].TableName == d.TableName {
			m.SCD2[i] = *d
			return nil
		}
	}
	m.SCD2 = append(m.SCD2, *d)
	return nil
}

// ListSCD2 implements the interface method for testing.
func (m *MockDefinitionRepo) ListSCD2(_ context.Context) ([]domain.SCD2Definition, error) {
	return append([]domain.SCD2Definition(nil), m.SCD2...), nil
}

// UpsertRule implements the interface method for testing.
func (m *MockDefinitionRepo) UpsertRule(_ context.Context, r *domain.DQRule) error {
	for i := range m.Rules {
		if m.Rules[i].Key() == r.Key() {
			m.Rules[i] = *r
			return nil
		}
	}
	m.Rules = append(m.Rules, *r)
	return nil
}

// ListRules implements the interface method for testing.
func (m *MockDefinitionRepo) ListRules(_ context.Context) ([]domain.DQRule, error) {
	return append([]domain.DQRule(nil), m.Rules...), nil
}

// UpsertUnit implements the interface method for testing.
func (m *MockDefinitionRepo) UpsertUnit(_ context.Context, u *domain.UnitDefinition) error {
	for i := range m.Units {
		if m.Units[i].Name == u.Name {
			m.Units[i] = *u
			return nil
		}
	}
	m.Units = append(m.Units, *u)
	return nil
}

// ListUnits implements the interface method for testing.
func (m *MockDefinitionRepo) ListUnits(_ context.Context) ([]domain.UnitDefinition, error) {
	return append([]domain.UnitDefinition(nil), m.Units...), nil
}

// UpsertPredicate implements the interface method for testing.
func (m *MockDefinitionRepo) UpsertPredicate(_ context.Context, p *domain.PredicateDefinition) error {
	for i := range m.Predicates {
		if m.Predicates[i].Name == p.Name {
			m.Predicates[i] = *p
			return nil
		}
	}
	m.Predicates = append(m.Predicates, *p)
	return nil
}

// ListPredicates implements the interface method for testing.
func (m *MockDefinitionRepo) ListPredicates(_ context.Context) ([]domain.PredicateDefinition, error) {
	return append([]domain.PredicateDefinition(nil), m.Predicates...), nil
}

var _ domain.DefinitionRepository = (*MockDefinitionRepo)(nil)

// === Config Value Repository Mock ===

// MockConfigValueRepo implements domain.ConfigValueRepository in memory and
// records audit entries.
type MockConfigValueRepo struct {
	SetFn  func(ctx context.Context, change domain.ConfigChange) (*domain.ConfigAuditEntry, error)
	ListFn func(ctx context.Context) ([]domain.ConfigValue, error)

	Values []domain.ConfigValue
	Audit  []domain.ConfigAuditEntry
}

// Get implements the interface method for testing.
func (m *MockConfigValueRepo) Get(_ context.Context, category, key string) (*domain.ConfigValue, error) {
	for i := range m.Values {
		if m.Values[i].Category == category && m.Values[i].Key == key {
			v := m.Values[i]
			return &v, nil
		}
	}
	return nil, domain.ErrNotFound("config value %s/%s not found", category, key)
}

// List implements the interface method for testing.
func (m *MockConfigValueRepo) List(ctx context.Context) ([]domain.ConfigValue, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx)
	}
	return append([]domain.ConfigValue(nil), m.Values...), nil
}

// Set implements the interface method for testing.
func (m *MockConfigValueRepo) Set(ctx context.Context, change domain.ConfigChange) (*domain.ConfigAuditEntry, error) {
	if m.SetFn != nil {
		return m.SetFn(ctx, change)
	}
	entry := domain.ConfigAuditEntry{
		ID: domain.NewID(), Category: change.Category, Key: change.Key, NewValue: change.Value,
		Actor: change.Actor, Reason: change.Reason,
	}
	for i := range m.Values {
		if m.Values[i].Category == change.Category && m.Values[i].Key == change.Key {
			old := m.Values[i].Value
			entry.OldValue = &old
			m.Values[i].Value = change.Value
			if change.ValueType != "" {
				m.Values[i].ValueType = change.ValueType
			}
			m.Audit = append(m.Audit, entry)
			return &entry, nil
		}
	}
	m.Values = append(m.Values, domain.ConfigValue{
		Category: change.Category, Key: change.Key, Value: change.Value, ValueType: change.ValueType,
	})
	m.Audit = append(m.Audit, entry)
	return &entry, nil
}

// ListAudit implements the interface method for testing.
func (m *MockConfigValueRepo) ListAudit(_ context.Context, _ domain.ConfigAuditFilter) ([]domain.ConfigAuditEntry, int64, error) {
	return append([]domain.ConfigAuditEntry(nil), m.Audit...), int64(len(m.Audit)), nil
}

var _ domain.ConfigValueRepository = (*MockConfigValueRepo)(nil)

// === Report Archive Mock ===

// MockArchive implements domain.ReportArchive and keeps stored reports.
type MockArchive struct {
	StoreFn func(ctx context.Context, report *domain.RunReport) (string, error)

	mu      sync.Mutex
	Reports []*domain.RunReport
}

// Store implements the interface method for testing.
func (m *MockArchive) Store(ctx context.Context, report *domain.RunReport) (string, error) {
	m.mu.Lock()
	m.Reports = append(m.Reports, report)
	m.mu.Unlock()
	if m.StoreFn != nil {
		return m.StoreFn(ctx, report)
	}
	return "mem://" + report.BatchID, nil
}

var _ domain.ReportArchive = (*MockArchive)(nil)
