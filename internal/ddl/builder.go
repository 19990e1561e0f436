// Package ddl builds the DuckDB statements the warehouse issues for staging
// reads, SCD2 version maintenance and reference lookups. Every identifier is
// validated and quoted; values are always bound as parameters.
package ddl

import (
	"fmt"
	"strings"

	"etl-orchestrator/internal/domain"
)

// ColumnDef describes a column for CREATE TABLE.
type ColumnDef struct {
	Name string
	Type string
}

// CreateSchema returns: CREATE SCHEMA IF NOT EXISTS "<name>".
func CreateSchema(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid schema name: %w", err)
	}
	return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", QuoteIdentifier(name)), nil
}

// CreateTable returns: CREATE TABLE IF NOT EXISTS <table> ("<col1>" TYPE1, ...).
func CreateTable(table string, columns []ColumnDef) (string, error) {
	qt, err := QualifiedName(table)
	if err != nil {
		return "", err
	}
	colDefs, err := columnDefs(columns)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", qt, strings.Join(colDefs, ", ")), nil
}

func columnDefs(columns []ColumnDef) ([]string, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("at least one column is required")
	}
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if err := ValidateIdentifier(c.Name); err != nil {
			return nil, fmt.Errorf("invalid column name %q: %w", c.Name, err)
		}
		if err := ValidateColumnType(c.Type); err != nil {
			return nil, fmt.Errorf("invalid column type for %q: %w", c.Name, err)
		}
		out = append(out, fmt.Sprintf("%s %s", QuoteIdentifier(c.Name), c.Type))
	}
	return out, nil
}

// SequenceName returns the surrogate key sequence name of an SCD2 table.
func SequenceName(def domain.SCD2Definition) string {
	return strings.ReplaceAll(def.TableName, ".", "_") + "_" + def.SurrogateKeyColumn + "_seq"
}

// CreateDimensionTable returns the statements that create an SCD2 target:
// a sequence feeding the surrogate key, then the table with the hash and
// SCD metadata columns appended to columns.
func CreateDimensionTable(def domain.SCD2Definition, columns []ColumnDef) ([]string, error) {
	qt, err := QualifiedName(def.TableName)
	if err != nil {
		return nil, err
	}
	for _, col := range []string{def.SurrogateKeyColumn, def.HashColumn} {
		if err := ValidateIdentifier(col); err != nil {
			return nil, fmt.Errorf("invalid column name %q: %w", col, err)
		}
	}
	colDefs, err := columnDefs(columns)
	if err != nil {
		return nil, err
	}
	seq := SequenceName(def)
	all := []string{
		fmt.Sprintf("%s BIGINT PRIMARY KEY DEFAULT nextval(%s)",
			QuoteIdentifier(def.SurrogateKeyColumn), QuoteLiteral(seq)),
	}
	all = append(all, colDefs...)
	all = append(all,
		fmt.Sprintf("%s VARCHAR NOT NULL", QuoteIdentifier(def.HashColumn)),
		fmt.Sprintf("%s BOOLEAN NOT NULL", QuoteIdentifier(domain.ColumnIsCurrent)),
		fmt.Sprintf("%s TIMESTAMP NOT NULL", QuoteIdentifier(domain.ColumnEffectiveFrom)),
		fmt.Sprintf("%s TIMESTAMP", QuoteIdentifier(domain.ColumnEffectiveTo)),
	)
	return []string{
		fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", QuoteIdentifier(seq)),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", qt, strings.Join(all, ", ")),
	}, nil
}

// SelectStaging returns a query reading all staging rows in arrival order.
func SelectStaging(table string) (string, error) {
	qt, err := QualifiedName(table)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT * FROM %s ORDER BY rowid", qt), nil
}

// SelectCurrent returns a query for the current versions of one business
// key. Parameters are the key values in BusinessKeyColumns order.
func SelectCurrent(def domain.SCD2Definition) (string, error) {
	qt, err := QualifiedName(def.TableName)
	if err != nil {
		return "", err
	}
	preds, err := keyPredicates(def)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s AND %s = TRUE",
		QuoteIdentifier(def.SurrogateKeyColumn),
		QuoteIdentifier(def.HashColumn),
		qt,
		strings.Join(preds, " AND "),
		QuoteIdentifier(domain.ColumnIsCurrent),
	), nil
}

func keyPredicates(def domain.SCD2Definition) ([]string, error) {
	preds := make([]string, len(def.BusinessKeyColumns))
	for i, col := range def.BusinessKeyColumns {
		if err := ValidateIdentifier(col); err != nil {
			return nil, fmt.Errorf("invalid business key column %q: %w", col, err)
		}
		preds[i] = QuoteIdentifier(col) + " = ?"
	}
	return preds, nil
}

// ExpireVersion returns an update closing one current version. Parameters
// are the effective_to timestamp and the surrogate key.
func ExpireVersion(def domain.SCD2Definition) (string, error) {
	qt, err := QualifiedName(def.TableName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("UPDATE %s SET %s = FALSE, %s = ? WHERE %s = ? AND %s = TRUE",
		qt,
		QuoteIdentifier(domain.ColumnIsCurrent),
		QuoteIdentifier(domain.ColumnEffectiveTo),
		QuoteIdentifier(def.SurrogateKeyColumn),
		QuoteIdentifier(domain.ColumnIsCurrent),
	), nil
}

// InsertVersion returns an insert of a new current version. Parameters are
// the values of columns in order, then the hash, then effective_from.
func InsertVersion(def domain.SCD2Definition, columns []string) (string, error) {
	qt, err := QualifiedName(def.TableName)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(columns)+4)
	marks := make([]string, 0, len(columns)+4)
	for _, col := range columns {
		if err := ValidateIdentifier(col); err != nil {
			return "", fmt.Errorf("invalid column name %q: %w", col, err)
		}
		if def.IsExcluded(col) {
			return "", fmt.Errorf("column %q is excluded from insert", col)
		}
		names = append(names, QuoteIdentifier(col))
		marks = append(marks, "?")
	}
	names = append(names,
		QuoteIdentifier(def.HashColumn),
		QuoteIdentifier(domain.ColumnIsCurrent),
		QuoteIdentifier(domain.ColumnEffectiveFrom),
		QuoteIdentifier(domain.ColumnEffectiveTo),
	)
	marks = append(marks, "?", "TRUE", "?", "NULL")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qt, strings.Join(names, ", "), strings.Join(marks, ", ")), nil
}

// SelectDistinct returns a query for the distinct non-null values of a column.
func SelectDistinct(table, column string) (string, error) {
	qt, err := QualifiedName(table)
	if err != nil {
		return "", err
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", fmt.Errorf("invalid column name %q: %w", column, err)
	}
	qc := QuoteIdentifier(column)
	return fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL", qc, qt, qc), nil
}
