package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"etl-orchestrator/internal/ddl"
	"etl-orchestrator/internal/domain"
)

// SQLUnit runs a declaratively defined SQL body on DuckDB. The batch ID,
// pipeline name and run parameters are exposed to the body as DuckDB
// variables, read with getvariable('batch_id').
type SQLUnit struct {
	db   *sql.DB
	name string
	body string
}

// NewSQLUnit creates a unit from its definition.
func NewSQLUnit(db *sql.DB, def domain.UnitDefinition) (*SQLUnit, error) {
	if def.Kind != domain.UnitKindSQL {
		return nil, domain.ErrConfiguration("unit %s: unsupported kind %q", def.Name, def.Kind)
	}
	if def.Body == "" {
		return nil, domain.ErrConfiguration("unit %s: body is required", def.Name)
	}
	return &SQLUnit{db: db, name: def.Name, body: def.Body}, nil
}

// SQLUnitFactory returns a constructor binding units to db.
func SQLUnitFactory(db *sql.DB) func(domain.UnitDefinition) (domain.Unit, error) {
	return func(def domain.UnitDefinition) (domain.Unit, error) {
		u, err := NewSQLUnit(db, def)
		if err != nil {
			return nil, err
		}
		return u, nil
	}
}

var _ domain.Unit = (*SQLUnit)(nil)

// Execute runs the body on a dedicated connection so the session variables
// are visible to it. RowsTransformed is the count reported by the driver.
func (u *SQLUnit) Execute(ctx context.Context, in domain.UnitInput) (domain.UnitResult, error) {
	conn, err := u.db.Conn(ctx)
	if err != nil {
		return domain.UnitResult{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	vars := map[string]string{
		"batch_id": in.BatchID,
		"pipeline": in.Pipeline.Name,
	}
	for k, v := range in.Params {
		vars[k] = v
	}
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if err := ddl.ValidateIdentifier(k); err != nil {
			return domain.UnitResult{}, domain.ErrConfiguration("unit %s: parameter %q: %v", u.name, k, err)
		}
		stmt := fmt.Sprintf("SET VARIABLE %s = %s", ddl.QuoteIdentifier(k), ddl.QuoteLiteral(vars[k]))
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return domain.UnitResult{}, fmt.Errorf("set variable %s: %w", k, err)
		}
	}

	res, err := conn.ExecContext(ctx, u.body)
	if err != nil {
		return domain.UnitResult{}, fmt.Errorf("sql unit %s: %w", u.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		n = 0
	}
	return domain.UnitResult{RowsTransformed: n}, nil
}
