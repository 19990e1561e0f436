// Package scd implements the generic Type-2 slowly changing dimension merge.
// One algorithm serves every dimension; tables are described only by
// domain.SCD2Definition.
package scd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"etl-orchestrator/internal/domain"
)

// Engine merges staging rows into SCD2 target tables.
type Engine struct {
	store  domain.TargetStore
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	tables map[string]*sync.Mutex
}

// NewEngine creates a merge engine over store.
func NewEngine(store domain.TargetStore, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With("component", "scd2"),
		now:    time.Now,
		tables: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) tableLock(table string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.tables[table]
	if !ok {
		m = &sync.Mutex{}
		e.tables[table] = m
	}
	return m
}

// stagedKey is one deduplicated business key of a staging batch.
type stagedKey struct {
	key  string
	row  domain.Row
	hash string
}

// Dedupe collapses rows sharing a business key. The last row by arrival
// order wins; keys keep the order of their first appearance.
func Dedupe(def domain.SCD2Definition, rows []domain.Row) ([]domain.Row, int64, error) {
	index := make(map[string]int, len(rows))
	var out []domain.Row
	var collapsed int64
	for i, row := range rows {
		for _, col := range def.BusinessKeyColumns {
			if row[col] == nil {
				return nil, 0, domain.ErrValidation("staging row %d of %s: business key column %s is null",
					i, def.StagingTable, col)
			}
		}
		k := KeyString(def, row)
		if pos, ok := index[k]; ok {
			out[pos] = row
			collapsed++
			continue
		}
		index[k] = len(out)
		out = append(out, row)
	}
	return out, collapsed, nil
}

// Merge applies rows to the target table of def. Each business key is
// handled in its own store transaction; concurrent merges into the same
// table are serialized.
func (e *Engine) Merge(ctx context.Context, def domain.SCD2Definition, rows []domain.Row) (domain.MergeResult, error) {
	var res domain.MergeResult
	if err := def.Validate(); err != nil {
		return res, domain.ErrConfiguration("scd2 definition %s: %v", def.TableName, err)
	}

	deduped, collapsed, err := Dedupe(def, rows)
	if err != nil {
		return res, err
	}
	res.DuplicatesCollapsed = collapsed

	staged := make([]stagedKey, len(deduped))
	for i, row := range deduped {
		staged[i] = stagedKey{key: KeyString(def, row), row: row, hash: HashRow(def, row)}
	}

	lock := e.tableLock(def.TableName)
	lock.Lock()
	defer lock.Unlock()

	at := e.now().UTC()
	logger := e.logger.With("table", def.TableName)
	for _, s := range staged {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outcome, err := e.mergeKey(ctx, def, s, at)
		if err != nil {
			return res, err
		}
		switch outcome {
		case outcomeInserted:
			res.Inserted++
		case outcomeUpdated:
			res.Updated++
		default:
			res.Unchanged++
		}
	}

	logger.Info("merge complete",
		"inserted", res.Inserted, "updated", res.Updated,
		"unchanged", res.Unchanged, "duplicates", res.DuplicatesCollapsed)
	return res, nil
}

type keyOutcome int

const (
	outcomeUnchanged keyOutcome = iota
	outcomeInserted
	outcomeUpdated
)

func (e *Engine) mergeKey(ctx context.Context, def domain.SCD2Definition, s stagedKey, at time.Time) (keyOutcome, error) {
	outcome := outcomeUnchanged
	err := e.store.InKeyTx(ctx, def.TableName, func(tx domain.TargetTx) error {
		current, err := tx.Current(ctx, def, keyOf(def, s.row))
		if err != nil {
			return fmt.Errorf("read current row: %w", err)
		}
		values := InsertValues(def, s.row)
		switch len(current) {
		case 0:
			outcome = outcomeInserted
			return tx.Insert(ctx, def, values, s.hash, at)
		case 1:
			if current[0].Hash == s.hash {
				outcome = outcomeUnchanged
				return nil
			}
			if err := tx.Expire(ctx, def, current[0], at); err != nil {
				return err
			}
			outcome = outcomeUpdated
			return tx.Insert(ctx, def, values, s.hash, at)
		default:
			return &domain.MergeConflictError{
				Table: def.TableName,
				Key:   s.key,
				Cause: fmt.Sprintf("%d current rows", len(current)),
			}
		}
	})
	return outcome, err
}

func keyOf(def domain.SCD2Definition, row domain.Row) domain.Row {
	key := make(domain.Row, len(def.BusinessKeyColumns))
	for _, col := range def.BusinessKeyColumns {
		key[col] = row[col]
	}
	return key
}

// InsertValues returns the staging columns copied into a new target row.
// Surrogate, hash, SCD metadata and excluded columns are dropped.
func InsertValues(def domain.SCD2Definition, row domain.Row) domain.Row {
	out := make(domain.Row, len(row))
	for col, v := range row {
		if def.IsExcluded(col) {
			continue
		}
		out[col] = v
	}
	return out
}
