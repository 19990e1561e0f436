// Package configstore is the read/write facade over the configuration store.
// Runs read it through immutable snapshots; writes always leave an audit row.
package configstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"etl-orchestrator/internal/domain"
)

// CategoryDefinitions holds the audited marker written by Apply.
const CategoryDefinitions = "DEFINITIONS"

// ScheduleReloader is notified when SCHEDULE values change.
type ScheduleReloader interface {
	Reload(ctx context.Context) error
}

// Service reads and writes configuration.
type Service struct {
	defs     domain.DefinitionRepository
	values   domain.ConfigValueRepository
	logger   *slog.Logger
	reloader ScheduleReloader
	now      func() time.Time
}

// NewService creates a configuration store service.
func NewService(defs domain.DefinitionRepository, values domain.ConfigValueRepository, logger *slog.Logger) *Service {
	return &Service{
		defs:   defs,
		values: values,
		logger: logger.With("component", "configstore"),
		now:    time.Now,
	}
}

// SetScheduleReloader sets the schedule reloader (breaks circular dep).
func (s *Service) SetScheduleReloader(r ScheduleReloader) {
	s.reloader = r
}

// Snapshot reads the whole store once and returns an immutable, validated
// view. Invalid rows surface as ConfigurationError.
func (s *Service) Snapshot(ctx context.Context) (*domain.ConfigSnapshot, error) {
	data, err := s.State(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateSnapshotData(data); err != nil {
		return nil, err
	}
	return domain.NewConfigSnapshot(data, s.now()), nil
}

// State returns every stored definition and value, inactive ones included.
func (s *Service) State(ctx context.Context) (domain.SnapshotData, error) {
	var data domain.SnapshotData
	var err error
	if data.Pipelines, err = s.defs.ListPipelines(ctx); err != nil {
		return data, fmt.Errorf("list pipelines: %w", err)
	}
	if data.SCD2, err = s.defs.ListSCD2(ctx); err != nil {
		return data, fmt.Errorf("list scd2 definitions: %w", err)
	}
	if data.Rules, err = s.defs.ListRules(ctx); err != nil {
		return data, fmt.Errorf("list dq rules: %w", err)
	}
	if data.Values, err = s.values.List(ctx); err != nil {
		return data, fmt.Errorf("list config values: %w", err)
	}
	if data.Units, err = s.defs.ListUnits(ctx); err != nil {
		return data, fmt.Errorf("list units: %w", err)
	}
	if data.Predicates, err = s.defs.ListPredicates(ctx); err != nil {
		return data, fmt.Errorf("list predicates: %w", err)
	}
	return data, nil
}

func validateSnapshotData(data domain.SnapshotData) error {
	for _, p := range data.Pipelines {
		if err := p.Validate(); err != nil {
			return domain.ErrConfiguration("pipeline %s: %v", p.Name, err)
		}
	}
	for _, d := range data.SCD2 {
		if !d.Active {
			continue
		}
		if err := d.Validate(); err != nil {
			return domain.ErrConfiguration("scd2 definition %s: %v", d.TableName, err)
		}
	}
	for _, r := range data.Rules {
		if !r.Active {
			continue
		}
		if err := r.Validate(); err != nil {
			return domain.ErrConfiguration("dq rule %s: %v", r.Key(), err)
		}
	}
	return nil
}

// Get returns one configuration value.
func (s *Service) Get(ctx context.Context, category, key string) (*domain.ConfigValue, error) {
	return s.values.Get(ctx, category, key)
}

// GetString returns a value as a string.
func (s *Service) GetString(ctx context.Context, category, key string) (string, error) {
	v, err := s.values.Get(ctx, category, key)
	if err != nil {
		return "", err
	}
	return v.Value, nil
}

// GetNumber returns a value as a float64.
func (s *Service) GetNumber(ctx context.Context, category, key string) (float64, error) {
	v, err := s.values.Get(ctx, category, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
	if err != nil {
		return 0, domain.ErrValidation("%s/%s is not a number: %q", category, key, v.Value)
	}
	return f, nil
}

// GetBool returns a value as a bool.
func (s *Service) GetBool(ctx context.Context, category, key string) (bool, error) {
	v, err := s.values.Get(ctx, category, key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v.Value))
	if err != nil {
		return false, domain.ErrValidation("%s/%s is not a boolean: %q", category, key, v.Value)
	}
	return b, nil
}

// FeatureEnabled reports a FEATURE_FLAGS value, or def when it is unset.
func (s *Service) FeatureEnabled(ctx context.Context, flag string, def bool) bool {
	b, err := s.GetBool(ctx, domain.CategoryFeatureFlags, flag)
	if err != nil {
		return def
	}
	return b
}

// Set updates one value. An empty value type keeps the stored type. The
// repository writes the value and its audit row atomically.
func (s *Service) Set(ctx context.Context, change domain.ConfigChange) (*domain.ConfigAuditEntry, error) {
	if strings.TrimSpace(change.Category) == "" || strings.TrimSpace(change.Key) == "" {
		return nil, domain.ErrValidation("category and key are required")
	}
	if strings.TrimSpace(change.Reason) == "" {
		return nil, domain.ErrValidation("reason is required")
	}
	if change.ValueType == "" {
		change.ValueType = domain.ValueTypeString
		if existing, err := s.values.Get(ctx, change.Category, change.Key); err == nil {
			change.ValueType = existing.ValueType
		}
	}
	probe := domain.ConfigValue{Category: change.Category, Key: change.Key, Value: change.Value, ValueType: change.ValueType}
	if err := probe.CheckValue(); err != nil {
		return nil, err
	}
	entry, err := s.values.Set(ctx, change)
	if err != nil {
		return nil, err
	}
	s.logger.Info("config value updated",
		"category", change.Category, "key", change.Key, "actor", change.Actor)

	if change.Category == domain.CategorySchedule && s.reloader != nil {
		if err := s.reloader.Reload(ctx); err != nil {
			s.logger.Warn("schedule reload failed", "error", err)
		}
	}
	return entry, nil
}

// ListAudit returns audit entries, newest first.
func (s *Service) ListAudit(ctx context.Context, filter domain.ConfigAuditFilter) ([]domain.ConfigAuditEntry, int64, error) {
	return s.values.ListAudit(ctx, filter)
}

// ListValues returns every configuration value.
func (s *Service) ListValues(ctx context.Context) ([]domain.ConfigValue, error) {
	return s.values.List(ctx)
}

// ApplyResult counts what Apply wrote.
type ApplyResult struct {
	Pipelines     int `json:"pipelines"`
	SCD2          int `json:"scd2_definitions"`
	Rules         int `json:"dq_rules"`
	Units         int `json:"units"`
	Predicates    int `json:"predicates"`
	ValuesChanged int `json:"values_changed"`
}

func (r ApplyResult) String() string {
	return fmt.Sprintf("pipelines=%d scd2=%d rules=%d units=%d predicates=%d values=%d",
		r.Pipelines, r.SCD2, r.Rules, r.Units, r.Predicates, r.ValuesChanged)
}

// Apply upserts declarative definitions. Config values go through Set and
// are only written when they differ from the stored value. The apply itself
// is recorded as an audited DEFINITIONS/lastApply value.
func (s *Service) Apply(ctx context.Context, actor, reason string, desired domain.SnapshotData) (*ApplyResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.ErrValidation("reason is required")
	}
	res := &ApplyResult{}
	for i := range desired.Pipelines {
		if err := s.defs.UpsertPipeline(ctx, &desired.Pipelines[i]); err != nil {
			return res, fmt.Errorf("pipeline %s: %w", desired.Pipelines[i].Name, err)
		}
		res.Pipelines++
	}
	for i := range desired.SCD2 {
		if err := s.defs.UpsertSCD2(ctx, &desired.SCD2[i]); err != nil {
			return res, fmt.Errorf("scd2 definition %s: %w", desired.SCD2[i].TableName, err)
		}
		res.SCD2++
	}
	for i := range desired.Rules {
		if err := s.defs.UpsertRule(ctx, &desired.Rules[i]); err != nil {
			return res, fmt.Errorf("dq rule %s: %w", desired.Rules[i].Key(), err)
		}
		res.Rules++
	}
	for i := range desired.Units {
		if err := s.defs.UpsertUnit(ctx, &desired.Units[i]); err != nil {
			return res, fmt.Errorf("unit %s: %w", desired.Units[i].Name, err)
		}
		res.Units++
	}
	for i := range desired.Predicates {
		if err := s.defs.UpsertPredicate(ctx, &desired.Predicates[i]); err != nil {
			return res, fmt.Errorf("predicate %s: %w", desired.Predicates[i].Name, err)
		}
		res.Predicates++
	}
	for _, v := range desired.Values {
		cur, err := s.values.Get(ctx, v.Category, v.Key)
		if err == nil && cur.Value == v.Value && cur.ValueType == v.ValueType {
			continue
		}
		if _, err := s.Set(ctx, domain.ConfigChange{
			Category: v.Category, Key: v.Key, Value: v.Value, ValueType: v.ValueType,
			Actor: actor, Reason: reason,
		}); err != nil {
			return res, fmt.Errorf("config value %s/%s: %w", v.Category, v.Key, err)
		}
		res.ValuesChanged++
	}

	if _, err := s.values.Set(ctx, domain.ConfigChange{
		Category:  CategoryDefinitions,
		Key:       "lastApply",
		Value:     res.String(),
		ValueType: domain.ValueTypeString,
		Actor:     actor,
		Reason:    reason,
	}); err != nil {
		return res, fmt.Errorf("record apply: %w", err)
	}
	s.logger.Info("definitions applied", "actor", actor, "result", res.String())
	return res, nil
}
