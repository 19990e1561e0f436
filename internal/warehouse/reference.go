package warehouse

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"etl-orchestrator/internal/domain"
)

// ValueSource lists the distinct values of a table column.
type ValueSource interface {
	DistinctValues(ctx context.Context, table, column string) ([]string, error)
}

// ReferenceSet is a REFERENCE_CHECK predicate backed by the distinct values
// of one warehouse column. The values are loaded on first use and kept for
// the lifetime of the set, which is one run.
type ReferenceSet struct {
	source ValueSource
	table  string
	column string

	once   sync.Once
	values map[string]struct{}
	err    error
}

// NewReferenceSet parses a "table.column" or "schema.table.column" condition.
func NewReferenceSet(source ValueSource, condition string) (*ReferenceSet, error) {
	i := strings.LastIndex(condition, ".")
	if i <= 0 || i == len(condition)-1 {
		return nil, domain.ErrConfiguration("reference condition %q must be table.column", condition)
	}
	return &ReferenceSet{source: source, table: condition[:i], column: condition[i+1:]}, nil
}

var _ domain.Predicate = (*ReferenceSet)(nil)

func (r *ReferenceSet) load(ctx context.Context) error {
	r.once.Do(func() {
		vals, err := r.source.DistinctValues(ctx, r.table, r.column)
		if err != nil {
			r.err = fmt.Errorf("load reference %s.%s: %w", r.table, r.column, err)
			return
		}
		r.values = make(map[string]struct{}, len(vals))
		for _, v := range vals {
			r.values[v] = struct{}{}
		}
	})
	return r.err
}

// Evaluate reports whether value is present in the reference column. Null
// values are not met.
func (r *ReferenceSet) Evaluate(ctx context.Context, value any, _ domain.Row) (bool, error) {
	if err := r.load(ctx); err != nil {
		return false, err
	}
	if value == nil {
		return false, nil
	}
	_, ok := r.values[fmt.Sprint(value)]
	return ok, nil
}
