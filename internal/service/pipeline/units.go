package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/service/dq"
	"etl-orchestrator/internal/service/scd"
)

// Names of the units every run registers.
const (
	UnitSCD2Load = "generic_scd2_load"
	UnitDQScore  = "generic_dq_score"
)

// Merger applies staging rows to an SCD2 target.
type Merger interface {
	Merge(ctx context.Context, def domain.SCD2Definition, rows []domain.Row) (domain.MergeResult, error)
}

// SCD2LoadUnit loads the staging table of a pipeline's target dimension.
// A business key whose latest staged row fails an enforced DQ rule is counted
// as rejected and left out of the merge.
type SCD2LoadUnit struct {
	merger  Merger
	staging domain.StagingReader
	scorer  *dq.Scorer
	logger  *slog.Logger
}

// NewSCD2LoadUnit creates the generic SCD2 load unit. scorer may be nil.
func NewSCD2LoadUnit(merger Merger, staging domain.StagingReader, scorer *dq.Scorer, logger *slog.Logger) *SCD2LoadUnit {
	return &SCD2LoadUnit{merger: merger, staging: staging, scorer: scorer, logger: logger}
}

var _ domain.Unit = (*SCD2LoadUnit)(nil)

// Execute reads, filters and merges.
func (u *SCD2LoadUnit) Execute(ctx context.Context, in domain.UnitInput) (domain.UnitResult, error) {
	def, ok := in.Snapshot.SCD2ForTable(in.Pipeline.TargetTable)
	if !ok {
		return domain.UnitResult{}, domain.ErrConfiguration(
			"pipeline %s: no active scd2 definition for target table %q", in.Pipeline.Name, in.Pipeline.TargetTable)
	}
	rows, err := u.staging.ReadStaging(ctx, def.StagingTable)
	if err != nil {
		return domain.UnitResult{}, fmt.Errorf("read staging %s: %w", def.StagingTable, err)
	}

	res := domain.UnitResult{RowsRead: int64(len(rows))}
	accepted, rejected, err := admitRows(ctx, u.scorer, in.Pipeline.EntityType, def, rows)
	if err != nil {
		return res, err
	}
	res.RowsRejected = rejected

	merged, err := u.merger.Merge(ctx, def, accepted)
	if err != nil {
		return res, err
	}
	res.RowsLoaded = merged.Loaded()
	u.logger.Info("scd2 load",
		"pipeline", in.Pipeline.Name, "table", def.TableName,
		"read", res.RowsRead, "rejected", res.RowsRejected,
		"inserted", merged.Inserted, "updated", merged.Updated, "unchanged", merged.Unchanged)
	return res, nil
}

// admitRows keeps the last staged row of every business key, then drops the
// keys whose surviving row fails an enforced rule. Rows with a null key column
// are scored on their own; the ones that pass are left for the merge to refuse.
func admitRows(ctx context.Context, scorer *dq.Scorer, entity string, def domain.SCD2Definition,
	rows []domain.Row) ([]domain.Row, int64, error) {
	var keyed, unkeyed []domain.Row
	for _, r := range rows {
		if hasNullKey(def, r) {
			unkeyed = append(unkeyed, r)
			continue
		}
		keyed = append(keyed, r)
	}
	latest, _, err := scd.Dedupe(def, keyed)
	if err != nil {
		return nil, 0, err
	}
	candidates := append(latest, unkeyed...)
	if scorer == nil {
		return candidates, 0, nil
	}

	out := make([]domain.Row, 0, len(candidates))
	var rejected int64
	for _, r := range candidates {
		if scorer.Score(ctx, entity, r).Rejected {
			rejected++
			continue
		}
		out = append(out, r)
	}
	return out, rejected, nil
}

func hasNullKey(def domain.SCD2Definition, row domain.Row) bool {
	for _, col := range def.BusinessKeyColumns {
		if row[col] == nil {
			return true
		}
	}
	return false
}

// DQScoreUnit scores a staging table without loading it. The table is the
// staging table of the target's SCD2 definition, or the target table itself.
type DQScoreUnit struct {
	staging domain.StagingReader
	scorer  *dq.Scorer
	logger  *slog.Logger
}

// NewDQScoreUnit creates the generic DQ scoring unit.
func NewDQScoreUnit(staging domain.StagingReader, scorer *dq.Scorer, logger *slog.Logger) *DQScoreUnit {
	return &DQScoreUnit{staging: staging, scorer: scorer, logger: logger}
}

var _ domain.Unit = (*DQScoreUnit)(nil)

// Execute scores every staging row.
func (u *DQScoreUnit) Execute(ctx context.Context, in domain.UnitInput) (domain.UnitResult, error) {
	table := in.Pipeline.TargetTable
	if def, ok := in.Snapshot.SCD2ForTable(table); ok {
		table = def.StagingTable
	}
	if table == "" {
		return domain.UnitResult{}, domain.ErrConfiguration("pipeline %s: no table to score", in.Pipeline.Name)
	}
	rows, err := u.staging.ReadStaging(ctx, table)
	if err != nil {
		return domain.UnitResult{}, fmt.Errorf("read staging %s: %w", table, err)
	}

	res := domain.UnitResult{RowsRead: int64(len(rows))}
	var earned, maxScore int64
	for _, r := range rows {
		s := u.scorer.Score(ctx, in.Pipeline.EntityType, r)
		earned += int64(s.Earned)
		maxScore += int64(s.Max)
		if s.Rejected {
			res.RowsRejected++
		}
	}
	res.RowsTransformed = res.RowsRead - res.RowsRejected

	attrs := []any{"pipeline", in.Pipeline.Name, "table", table, "rows", res.RowsRead, "rejected", res.RowsRejected}
	if maxScore > 0 {
		attrs = append(attrs, "score_pct", float64(earned)*100/float64(maxScore))
	}
	u.logger.Info("dq scoring", attrs...)
	return res, nil
}

// UnitFactory builds a unit from a declarative definition.
type UnitFactory func(def domain.UnitDefinition) (domain.Unit, error)

// StandardUnits returns the per-run units: the generic SCD2 load and DQ
// scoring units bound to a scorer built from the run's snapshot, plus one
// unit per declaratively defined unit when sqlUnits is set.
func StandardUnits(merger Merger, staging domain.StagingReader, predicates *dq.PredicateRegistry,
	refs dq.ReferenceResolver, sqlUnits UnitFactory, logger *slog.Logger) RunUnits {
	logger = logger.With("component", "units")
	return func(_ context.Context, snap *domain.ConfigSnapshot) (map[string]domain.Unit, error) {
		scorer, err := dq.BuildScorer(snap, predicates, refs, logger)
		if err != nil {
			return nil, err
		}
		units := map[string]domain.Unit{
			UnitSCD2Load: NewSCD2LoadUnit(merger, staging, scorer, logger),
			UnitDQScore:  NewDQScoreUnit(staging, scorer, logger),
		}
		for _, def := range snap.Units() {
			if sqlUnits == nil {
				return nil, domain.ErrConfiguration("unit %s: no factory for %s units", def.Name, def.Kind)
			}
			if _, dup := units[def.Name]; dup {
				return nil, domain.ErrConfiguration("unit %s: name is reserved", def.Name)
			}
			u, err := sqlUnits(def)
			if err != nil {
				return nil, err
			}
			units[def.Name] = u
		}
		return units, nil
	}
}
