package domain

import (
	"context"
	"time"
)

// DefinitionRepository persists pipeline, SCD2, DQ, unit and predicate
// definitions of the configuration store.
type DefinitionRepository interface {
	UpsertPipeline(ctx context.Context, p *PipelineDefinition) error
	ListPipelines(ctx context.Context) ([]PipelineDefinition, error)
	DeletePipeline(ctx context.Context, name string) error
	UpsertSCD2(ctx context.Context, d *SCD2Definition) error
	ListSCD2(ctx context.Context) ([]SCD2Definition, error)
	UpsertRule(ctx context.Context, r *DQRule) error
	ListRules(ctx context.Context) ([]DQRule, error)
	UpsertUnit(ctx context.Context, u *UnitDefinition) error
	ListUnits(ctx context.Context) ([]UnitDefinition, error)
	UpsertPredicate(ctx context.Context, p *PredicateDefinition) error
	ListPredicates(ctx context.Context) ([]PredicateDefinition, error)
}

// ConfigAuditFilter holds filter parameters for querying the config audit trail.
type ConfigAuditFilter struct {
	Category *string
	Key      *string
	Page     PageRequest
}

// ConfigValueRepository persists scalar configuration values. Every write is
// paired with an audit row.
type ConfigValueRepository interface {
	Get(ctx context.Context, category, key string) (*ConfigValue, error)
	List(ctx context.Context) ([]ConfigValue, error)
	Set(ctx context.Context, change ConfigChange) (*ConfigAuditEntry, error)
	ListAudit(ctx context.Context, filter ConfigAuditFilter) ([]ConfigAuditEntry, int64, error)
}

// ExecutionFilter holds filter parameters for querying the execution log.
type ExecutionFilter struct {
	Pipeline *string
	BatchID  *string
	Status   *string
	Since    *time.Time
	Until    *time.Time
	Page     PageRequest
}

// ExecutionStats aggregates the execution log for one pipeline.
type ExecutionStats struct {
	PipelineName       string  `json:"pipeline_name"`
	SuccessCount       int64   `json:"success_count"`
	FailureCount       int64   `json:"failure_count"`
	SkippedCount       int64   `json:"skipped_count"`
	RunningCount       int64   `json:"running_count"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

// ExecutionLogRepository is the append-only execution log. Start inserts a
// RUNNING (or SKIPPED) record; Finish moves a RUNNING record to its terminal
// status exactly once.
type ExecutionLogRepository interface {
	Start(ctx context.Context, rec *ExecutionRecord) error
	Finish(ctx context.Context, rec *ExecutionRecord) error
	List(ctx context.Context, filter ExecutionFilter) ([]ExecutionRecord, int64, error)
	Stats(ctx context.Context, filter ExecutionFilter) ([]ExecutionStats, error)
}
