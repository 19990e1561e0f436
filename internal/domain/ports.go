package domain

import (
	"context"
	"time"
)

// UnitInput is handed to a transform or load unit for one attempt.
type UnitInput struct {
	Pipeline PipelineDefinition
	BatchID  string
	Attempt  int
	Snapshot *ConfigSnapshot
	Params   map[string]string
	// Upstream holds the transform result when the load step runs.
	Upstream *UnitResult
}

// UnitResult carries the row counts reported by a unit.
type UnitResult struct {
	RowsRead        int64
	RowsTransformed int64
	RowsLoaded      int64
	RowsRejected    int64
}

// Add accumulates other into r.
func (r *UnitResult) Add(other UnitResult) {
	r.RowsRead += other.RowsRead
	r.RowsTransformed += other.RowsTransformed
	r.RowsLoaded += other.RowsLoaded
	r.RowsRejected += other.RowsRejected
}

// Unit is a named transform or load procedure. The coordinator treats it as
// a black box returning row counts and an error.
type Unit interface {
	Execute(ctx context.Context, in UnitInput) (UnitResult, error)
}

// UnitFunc adapts a function to the Unit interface.
type UnitFunc func(ctx context.Context, in UnitInput) (UnitResult, error)

// Execute calls f.
func (f UnitFunc) Execute(ctx context.Context, in UnitInput) (UnitResult, error) {
	return f(ctx, in)
}

// Predicate evaluates a CUSTOM_FUNCTION or REFERENCE_CHECK rule.
type Predicate interface {
	Evaluate(ctx context.Context, value any, record Row) (bool, error)
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(ctx context.Context, value any, record Row) (bool, error)

// Evaluate calls f.
func (f PredicateFunc) Evaluate(ctx context.Context, value any, record Row) (bool, error) {
	return f(ctx, value, record)
}

// Alert is a pipeline failure notification.
type Alert struct {
	Pipeline   string    `json:"pipeline"`
	BatchID    string    `json:"batch_id"`
	Reason     string    `json:"reason"`
	Recipients []string  `json:"recipients"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers alerts. Delivery is fire-and-forget from the caller's
// point of view.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// ReportArchive stores terminal run reports and returns their location.
type ReportArchive interface {
	Store(ctx context.Context, report *RunReport) (string, error)
}

// TargetStore gives atomic per-business-key access to SCD2 target tables.
type TargetStore interface {
	// InKeyTx runs fn in a transaction scoped to a single business key of table.
	InKeyTx(ctx context.Context, table string, fn func(tx TargetTx) error) error
}

// TargetTx is the per-key read-modify-write surface of a TargetStore.
type TargetTx interface {
	// Current returns every row flagged current for the key.
	Current(ctx context.Context, def SCD2Definition, key Row) ([]TargetRow, error)
	// Expire closes a current row. Implementations return MergeConflictError
	// when the row is no longer current.
	Expire(ctx context.Context, def SCD2Definition, row TargetRow, at time.Time) error
	// Insert adds a new current row.
	Insert(ctx context.Context, def SCD2Definition, values Row, hash string, at time.Time) error
}

// StagingReader reads staging rows in arrival order.
type StagingReader interface {
	ReadStaging(ctx context.Context, table string) ([]Row, error)
}
