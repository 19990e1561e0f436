// Package warehouse is the DuckDB side of the engine: staging reads, SCD2
// target maintenance, reference lookups and SQL units.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver

	"etl-orchestrator/internal/ddl"
	"etl-orchestrator/internal/domain"
)

// Open opens a DuckDB database. An empty path opens an in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

// DuckDBStore implements the SCD2 target and staging ports on DuckDB.
type DuckDBStore struct {
	db *sql.DB
}

// NewDuckDBStore creates a store over db.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

var (
	_ domain.TargetStore   = (*DuckDBStore)(nil)
	_ domain.StagingReader = (*DuckDBStore)(nil)
)

// DB returns the underlying connection pool.
func (s *DuckDBStore) DB() *sql.DB { return s.db }

// InKeyTx runs fn inside one DuckDB transaction.
func (s *DuckDBStore) InKeyTx(ctx context.Context, table string, fn func(tx domain.TargetTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&duckTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isConflict(err) {
			return &domain.MergeConflictError{Table: table, Key: "?", Cause: err.Error()}
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DuckDB reports optimistic write-write conflicts as transaction errors.
func isConflict(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "conflict")
}

type duckTx struct {
	tx *sql.Tx
}

func (t *duckTx) Current(ctx context.Context, def domain.SCD2Definition, key domain.Row) ([]domain.TargetRow, error) {
	q, err := ddl.SelectCurrent(def)
	if err != nil {
		return nil, domain.ErrConfiguration("%v", err)
	}
	args := make([]any, len(def.BusinessKeyColumns))
	for i, col := range def.BusinessKeyColumns {
		args[i] = key[col]
	}
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select current %s: %w", def.TableName, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.TargetRow
	for rows.Next() {
		var r domain.TargetRow
		var hash sql.NullString
		if err := rows.Scan(&r.SurrogateKey, &hash); err != nil {
			return nil, err
		}
		r.Hash = hash.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *duckTx) Expire(ctx context.Context, def domain.SCD2Definition, row domain.TargetRow, at time.Time) error {
	q, err := ddl.ExpireVersion(def)
	if err != nil {
		return domain.ErrConfiguration("%v", err)
	}
	res, err := t.tx.ExecContext(ctx, q, at, row.SurrogateKey)
	if err != nil {
		if isConflict(err) {
			return &domain.MergeConflictError{Table: def.TableName, Key: fmt.Sprint(row.SurrogateKey), Cause: err.Error()}
		}
		return fmt.Errorf("expire %s: %w", def.TableName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return &domain.MergeConflictError{
			Table: def.TableName,
			Key:   fmt.Sprint(row.SurrogateKey),
			Cause: "current version was expired by another writer",
		}
	}
	return nil
}

func (t *duckTx) Insert(ctx context.Context, def domain.SCD2Definition, values domain.Row, hash string, at time.Time) error {
	cols := sortedColumns(values)
	q, err := ddl.InsertVersion(def, cols)
	if err != nil {
		return domain.ErrConfiguration("%v", err)
	}
	args := make([]any, 0, len(cols)+2)
	for _, c := range cols {
		args = append(args, values[c])
	}
	args = append(args, hash, at)
	if _, err := t.tx.ExecContext(ctx, q, args...); err != nil {
		if isConflict(err) {
			return &domain.MergeConflictError{Table: def.TableName, Key: "?", Cause: err.Error()}
		}
		return fmt.Errorf("insert %s: %w", def.TableName, err)
	}
	return nil
}

func sortedColumns(r domain.Row) []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// ReadStaging returns every row of a staging table in insertion order.
func (s *DuckDBStore) ReadStaging(ctx context.Context, table string) ([]domain.Row, error) {
	q, err := ddl.SelectStaging(table)
	if err != nil {
		return nil, domain.ErrConfiguration("%v", err)
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read staging %s: %w", table, err)
	}
	defer rows.Close() //nolint:errcheck
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]domain.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []domain.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(domain.Row, len(cols))
		for i, c := range cols {
			r[c] = vals[i]
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DistinctValues returns the distinct non-null values of table.column
// rendered as strings.
func (s *DuckDBStore) DistinctValues(ctx context.Context, table, column string) ([]string, error) {
	q, err := ddl.SelectDistinct(table, column)
	if err != nil {
		return nil, domain.ErrConfiguration("%v", err)
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", table, column, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprint(v))
	}
	return out, rows.Err()
}

// EnsureTable creates a plain table when it does not exist.
func (s *DuckDBStore) EnsureTable(ctx context.Context, table string, columns []ddl.ColumnDef) error {
	if schema, _, ok := strings.Cut(table, "."); ok {
		stmt, err := ddl.CreateSchema(schema)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema %s: %w", schema, err)
		}
	}
	stmt, err := ddl.CreateTable(table, columns)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// EnsureDimension creates an SCD2 target table and its surrogate sequence.
func (s *DuckDBStore) EnsureDimension(ctx context.Context, def domain.SCD2Definition, columns []ddl.ColumnDef) error {
	if schema, _, ok := strings.Cut(def.TableName, "."); ok {
		stmt, err := ddl.CreateSchema(schema)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema %s: %w", schema, err)
		}
	}
	stmts, err := ddl.CreateDimensionTable(def, columns)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create dimension %s: %w", def.TableName, err)
		}
	}
	return nil
}

// Versions returns every version of an SCD2 table ordered by surrogate key.
func (s *DuckDBStore) Versions(ctx context.Context, def domain.SCD2Definition) ([]domain.Row, error) {
	qt, err := ddl.QualifiedName(def.TableName)
	if err != nil {
		return nil, domain.ErrConfiguration("%v", err)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s",
		qt, ddl.QuoteIdentifier(def.SurrogateKeyColumn)))
	if err != nil {
		return nil, fmt.Errorf("versions %s: %w", def.TableName, err)
	}
	defer rows.Close() //nolint:errcheck
	return scanRows(rows)
}
