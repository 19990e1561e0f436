package warehouse

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"etl-orchestrator/internal/domain"
)

// Version is one row of an SCD2 table held by MemoryStore.
type Version struct {
	SurrogateKey  int64
	Values        domain.Row
	Hash          string
	IsCurrent     bool
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

// MemoryStore is an in-process TargetStore and StagingReader. Each InKeyTx
// holds the store lock, which makes the per-key work atomic.
type MemoryStore struct {
	mu      sync.Mutex
	staging map[string][]domain.Row
	tables  map[string][]*Version
	nextSK  int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		staging: make(map[string][]domain.Row),
		tables:  make(map[string][]*Version),
	}
}

var (
	_ domain.TargetStore   = (*MemoryStore)(nil)
	_ domain.StagingReader = (*MemoryStore)(nil)
)

// LoadStaging replaces the rows of a staging table.
func (m *MemoryStore) LoadStaging(table string, rows ...domain.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staging[table] = append([]domain.Row(nil), rows...)
}

// ReadStaging returns a copy of the staging rows in load order.
func (m *MemoryStore) ReadStaging(_ context.Context, table string) ([]domain.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.staging[table]
	if !ok {
		return nil, domain.ErrNotFound("staging table %s not found", table)
	}
	out := make([]domain.Row, len(rows))
	for i, r := range rows {
		out[i] = copyRow(r)
	}
	return out, nil
}

// Seed appends a version directly, bypassing the merge rules.
func (m *MemoryStore) Seed(table string, values domain.Row, hash string, current bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSK++
	m.tables[table] = append(m.tables[table], &Version{
		SurrogateKey:  m.nextSK,
		Values:        copyRow(values),
		Hash:          hash,
		IsCurrent:     current,
		EffectiveFrom: time.Unix(0, 0).UTC(),
	})
	return m.nextSK
}

// Versions returns copies of every version of a table in insertion order.
func (m *MemoryStore) Versions(table string) []Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Version, 0, len(m.tables[table]))
	for _, v := range m.tables[table] {
		c := *v
		c.Values = copyRow(v.Values)
		out = append(out, c)
	}
	return out
}

// DistinctValues returns the distinct values of column across the current
// versions of table, or across the staging rows when no such table exists.
func (m *MemoryStore) DistinctValues(_ context.Context, table, column string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	if versions, ok := m.tables[table]; ok {
		for _, v := range versions {
			if val, ok := v.Values[column]; ok && val != nil && v.IsCurrent {
				seen[fmt.Sprint(val)] = struct{}{}
			}
		}
	} else if rows, ok := m.staging[table]; ok {
		for _, r := range rows {
			if val, ok := r[column]; ok && val != nil {
				seen[fmt.Sprint(val)] = struct{}{}
			}
		}
	} else {
		return nil, domain.ErrNotFound("table %s not found", table)
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// InKeyTx runs fn while holding the store lock. Writes made by fn are
// discarded when it returns an error.
func (m *MemoryStore) InKeyTx(ctx context.Context, table string, fn func(tx domain.TargetTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{store: m, table: table}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type memTx struct {
	store    *MemoryStore
	table    string
	inserted int
	expired  []*Version
}

func (t *memTx) rollback() {
	versions := t.store.tables[t.table]
	t.store.tables[t.table] = versions[:len(versions)-t.inserted]
	for _, v := range t.expired {
		v.IsCurrent = true
		v.EffectiveTo = nil
	}
}

func (t *memTx) Current(_ context.Context, def domain.SCD2Definition, key domain.Row) ([]domain.TargetRow, error) {
	var out []domain.TargetRow
	for _, v := range t.store.tables[def.TableName] {
		if !v.IsCurrent || !matchesKey(def, v.Values, key) {
			continue
		}
		out = append(out, domain.TargetRow{SurrogateKey: v.SurrogateKey, Hash: v.Hash})
	}
	return out, nil
}

func matchesKey(def domain.SCD2Definition, values, key domain.Row) bool {
	for _, col := range def.BusinessKeyColumns {
		if fmt.Sprint(values[col]) != fmt.Sprint(key[col]) {
			return false
		}
	}
	return true
}

func (t *memTx) Expire(_ context.Context, def domain.SCD2Definition, row domain.TargetRow, at time.Time) error {
	for _, v := range t.store.tables[def.TableName] {
		if v.SurrogateKey != row.SurrogateKey {
			continue
		}
		if !v.IsCurrent {
			break
		}
		v.IsCurrent = false
		end := at
		v.EffectiveTo = &end
		t.expired = append(t.expired, v)
		return nil
	}
	return &domain.MergeConflictError{
		Table: def.TableName,
		Key:   fmt.Sprint(row.SurrogateKey),
		Cause: "current version was expired by another writer",
	}
}

func (t *memTx) Insert(_ context.Context, def domain.SCD2Definition, values domain.Row, hash string, at time.Time) error {
	for col := range values {
		if def.IsExcluded(col) {
			return fmt.Errorf("column %q is excluded from insert", col)
		}
	}
	t.store.nextSK++
	t.store.tables[def.TableName] = append(t.store.tables[def.TableName], &Version{
		SurrogateKey:  t.store.nextSK,
		Values:        copyRow(values),
		Hash:          hash,
		IsCurrent:     true,
		EffectiveFrom: at,
	})
	t.inserted++
	return nil
}

func copyRow(r domain.Row) domain.Row {
	out := make(domain.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
