package domain

import "time"

// SourceType describes where a pipeline reads its input from.
type SourceType string

// Source types.
const (
	SourceSingle   SourceType = "SINGLE_SOURCE"
	SourceMulti    SourceType = "MULTI_SOURCE"
	SourceExternal SourceType = "EXTERNAL"
)

// LoadType describes how a pipeline writes its target.
type LoadType string

// Load types.
const (
	LoadFull        LoadType = "FULL"
	LoadIncremental LoadType = "INCREMENTAL"
	LoadDelta       LoadType = "DELTA"
)

// Execution record status constants.
const (
	ExecutionStatusRunning = "RUNNING"
	ExecutionStatusSuccess = "SUCCESS"
	ExecutionStatusFailed  = "FAILED"
	ExecutionStatusSkipped = "SKIPPED"
)

// Run status constants.
const (
	RunStatusSuccess   = "SUCCESS"
	RunStatusFailed    = "FAILED"
	RunStatusCancelled = "CANCELLED"
)

// Trigger type constants.
const (
	TriggerTypeManual    = "MANUAL"
	TriggerTypeScheduled = "SCHEDULED"
)

// PipelineDefinition is one configured pipeline stage. It is read once per
// orchestration run and never mutated by the engine.
type PipelineDefinition struct {
	Name              string     `json:"name" yaml:"name" validate:"required,max=128"`
	EntityType        string     `json:"entity_type" yaml:"entity_type" validate:"required"`
	ExecutionOrder    int        `json:"execution_order" yaml:"execution_order" validate:"gte=0"`
	ParallelGroup     *int       `json:"parallel_group,omitempty" yaml:"parallel_group,omitempty" validate:"omitempty,gte=0"`
	DependsOn         []string   `json:"depends_on,omitempty" yaml:"depends_on,omitempty" validate:"dive,required"`
	SourceType        SourceType `json:"source_type" yaml:"source_type" validate:"required,oneof=SINGLE_SOURCE MULTI_SOURCE EXTERNAL"`
	TransformUnit     string     `json:"transform_unit,omitempty" yaml:"transform_unit,omitempty"`
	LoadUnit          string     `json:"load_unit,omitempty" yaml:"load_unit,omitempty"`
	TargetTable       string     `json:"target_table,omitempty" yaml:"target_table,omitempty"`
	LoadType          LoadType   `json:"load_type" yaml:"load_type" validate:"required,oneof=FULL INCREMENTAL DELTA"`
	Enabled           bool       `json:"enabled" yaml:"enabled"`
	SkipOnError       bool       `json:"skip_on_error" yaml:"skip_on_error"`
	RetryCount        int        `json:"retry_count" yaml:"retry_count" validate:"gte=0,lte=100"`
	RetryDelaySeconds int        `json:"retry_delay_seconds" yaml:"retry_delay_seconds" validate:"gte=0"`
	AlertOnFailure    bool       `json:"alert_on_failure" yaml:"alert_on_failure"`
	UpdatedAt         time.Time  `json:"updated_at" yaml:"-"`
}

// RetryDelay returns the wait between two attempts of the pipeline.
func (p PipelineDefinition) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySeconds) * time.Second
}

// ExecutionRecord is one attempt (or skip) of a pipeline within a run.
// It is immutable once Status is SUCCESS, FAILED or SKIPPED.
type ExecutionRecord struct {
	ID              string     `json:"id"`
	PipelineName    string     `json:"pipeline_name"`
	BatchID         string     `json:"batch_id"`
	StartTs         time.Time  `json:"start_ts"`
	EndTs           *time.Time `json:"end_ts,omitempty"`
	Status          string     `json:"status"`
	RowsRead        int64      `json:"rows_read"`
	RowsTransformed int64      `json:"rows_transformed"`
	RowsLoaded      int64      `json:"rows_loaded"`
	RowsRejected    int64      `json:"rows_rejected"`
	RetryAttempt    int        `json:"retry_attempt"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	ErrorCode       *string    `json:"error_code,omitempty"`
}

// IsTerminal reports whether the record can no longer change.
func (r *ExecutionRecord) IsTerminal() bool {
	return r.Status == ExecutionStatusSuccess || r.Status == ExecutionStatusFailed ||
		r.Status == ExecutionStatusSkipped
}

// Duration returns the wall time of the attempt, or zero while it is running.
func (r *ExecutionRecord) Duration() time.Duration {
	if r.EndTs == nil {
		return 0
	}
	return r.EndTs.Sub(r.StartTs)
}

// DisabledPolicy decides how a disabled dependency affects its dependents.
type DisabledPolicy string

// Disabled dependency policies.
const (
	// DisabledSatisfied treats a disabled dependency as already satisfied.
	DisabledSatisfied DisabledPolicy = "satisfied"
	// DisabledBlocked prevents every transitive dependent from running.
	DisabledBlocked DisabledPolicy = "blocked"
)

// ParseDisabledPolicy accepts "", "satisfied" or "blocked". The empty policy
// defers to the configured default.
func ParseDisabledPolicy(v string) (DisabledPolicy, error) {
	switch p := DisabledPolicy(v); p {
	case "", DisabledSatisfied, DisabledBlocked:
		return p, nil
	default:
		return "", ErrValidation("disabled policy must be %q or %q, got %q", DisabledSatisfied, DisabledBlocked, v)
	}
}

// Batch is a set of pipelines that may run concurrently. Every dependency of a
// batch member lives in a strictly earlier batch.
type Batch struct {
	Phase     int      `json:"phase"`
	Group     *int     `json:"group,omitempty"`
	Pipelines []string `json:"pipelines"`
}

// PhaseOverrideWarning reports a pipeline whose declared execution order
// understated its true dependency depth.
type PhaseOverrideWarning struct {
	Name     string `json:"name"`
	Declared int    `json:"declared"`
	Computed int    `json:"computed"`
}

// BlockedPipeline is an enabled pipeline withheld from execution because a
// dependency is disabled under DisabledBlocked.
type BlockedPipeline struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Resolution is the resolver output consumed by the coordinator.
type Resolution struct {
	Batches  []Batch                `json:"batches"`
	Warnings []PhaseOverrideWarning `json:"warnings,omitempty"`
	Blocked  []BlockedPipeline      `json:"blocked,omitempty"`
}

// PipelineOutcome summarizes one pipeline in a run report.
type PipelineOutcome struct {
	Name            string   `json:"name"`
	Status          string   `json:"status"`
	Attempts        int      `json:"attempts"`
	RowsRead        int64    `json:"rows_read"`
	RowsTransformed int64    `json:"rows_transformed"`
	RowsLoaded      int64    `json:"rows_loaded"`
	RowsRejected    int64    `json:"rows_rejected"`
	Error           string   `json:"error,omitempty"`
	ErrorCode       string   `json:"error_code,omitempty"`
	FailureChain    []string `json:"failure_chain,omitempty"`
}

// RunReport is produced for every terminal run.
type RunReport struct {
	BatchID     string                 `json:"batch_id"`
	Status      string                 `json:"status"`
	TriggeredBy string                 `json:"triggered_by"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Batches     []Batch                `json:"batches"`
	Warnings    []PhaseOverrideWarning `json:"warnings,omitempty"`
	Pipelines   []PipelineOutcome      `json:"pipelines"`
}

// Outcome returns the outcome of the named pipeline, or nil.
func (r *RunReport) Outcome(name string) *PipelineOutcome {
	for i := range r.Pipelines {
		if r.Pipelines[i].Name == name {
			return &r.Pipelines[i]
		}
	}
	return nil
}

// Counts returns the number of pipelines per terminal status.
func (r *RunReport) Counts() map[string]int {
	counts := make(map[string]int, 3)
	for _, p := range r.Pipelines {
		counts[p.Status]++
	}
	return counts
}
