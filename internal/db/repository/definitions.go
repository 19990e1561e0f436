package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"etl-orchestrator/internal/domain"
)

var _ domain.DefinitionRepository = (*DefinitionRepo)(nil)

// DefinitionRepo stores pipeline, SCD2, DQ rule, unit and predicate
// definitions in SQLite.
type DefinitionRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewDefinitionRepo creates a new DefinitionRepo.
func NewDefinitionRepo(db *sql.DB) *DefinitionRepo {
	return &DefinitionRepo{db: db, now: time.Now}
}

// UpsertPipeline inserts or replaces a pipeline definition by name.
func (r *DefinitionRepo) UpsertPipeline(ctx context.Context, p *domain.PipelineDefinition) error {
	if err := p.Validate(); err != nil {
		return err
	}
	deps, err := marshalStrings(p.DependsOn)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pipeline_definitions (name, entity_type, execution_order, parallel_group, depends_on,
			source_type, transform_unit, load_unit, target_table, load_type, enabled, skip_on_error,
			retry_count, retry_delay_seconds, alert_on_failure, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			entity_type = excluded.entity_type,
			execution_order = excluded.execution_order,
			parallel_group = excluded.parallel_group,
			depends_on = excluded.depends_on,
			source_type = excluded.source_type,
			transform_unit = excluded.transform_unit,
			load_unit = excluded.load_unit,
			target_table = excluded.target_table,
			load_type = excluded.load_type,
			enabled = excluded.enabled,
			skip_on_error = excluded.skip_on_error,
			retry_count = excluded.retry_count,
			retry_delay_seconds = excluded.retry_delay_seconds,
			alert_on_failure = excluded.alert_on_failure,
			updated_at = excluded.updated_at
	`, p.Name, p.EntityType, p.ExecutionOrder, nullIntPtr(p.ParallelGroup), deps,
		string(p.SourceType), p.TransformUnit, p.LoadUnit, p.TargetTable, string(p.LoadType),
		boolToInt(p.Enabled), boolToInt(p.SkipOnError), p.RetryCount, p.RetryDelaySeconds,
		boolToInt(p.AlertOnFailure), formatTime(r.now()))
	return mapDBError(err)
}

// ListPipelines returns all pipeline definitions ordered by name.
func (r *DefinitionRepo) ListPipelines(ctx context.Context) ([]domain.PipelineDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, entity_type, execution_order, parallel_group, depends_on, source_type,
		       transform_unit, load_unit, target_table, load_type, enabled, skip_on_error,
		       retry_count, retry_delay_seconds, alert_on_failure, updated_at
		FROM pipeline_definitions ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.PipelineDefinition
	for rows.Next() {
		var (
			p                                   domain.PipelineDefinition
			group                               sql.NullInt64
			deps, sourceType, loadType, updated string
			enabled, skipOnError, alert         int64
		)
		if err := rows.Scan(&p.Name, &p.EntityType, &p.ExecutionOrder, &group, &deps, &sourceType,
			&p.TransformUnit, &p.LoadUnit, &p.TargetTable, &loadType, &enabled, &skipOnError,
			&p.RetryCount, &p.RetryDelaySeconds, &alert, &updated); err != nil {
			return nil, err
		}
		if p.DependsOn, err = unmarshalStrings(deps); err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", p.Name, err)
		}
		p.ParallelGroup = intPtrFromNull(group)
		p.SourceType = domain.SourceType(sourceType)
		p.LoadType = domain.LoadType(loadType)
		p.Enabled = enabled != 0
		p.SkipOnError = skipOnError != 0
		p.AlertOnFailure = alert != 0
		p.UpdatedAt = parseTime(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePipeline removes a pipeline definition.
func (r *DefinitionRepo) DeletePipeline(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pipeline_definitions WHERE name = ?`, name)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("pipeline %q not found", name)
	}
	return nil
}

// UpsertSCD2 inserts or replaces an SCD2 definition by table name.
func (r *DefinitionRepo) UpsertSCD2(ctx context.Context, d *domain.SCD2Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	keys, err := marshalStrings(d.BusinessKeyColumns)
	if err != nil {
		return err
	}
	excluded, err := marshalStrings(d.ExcludeFromInsert)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scd2_definitions (table_name, staging_table, business_key_columns, hash_column,
			surrogate_key_column, exclude_from_insert, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (table_name) DO UPDATE SET
			staging_table = excluded.staging_table,
			business_key_columns = excluded.business_key_columns,
			hash_column = excluded.hash_column,
			surrogate_key_column = excluded.surrogate_key_column,
			exclude_from_insert = excluded.exclude_from_insert,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, d.TableName, d.StagingTable, keys, d.HashColumn, d.SurrogateKeyColumn, excluded,
		boolToInt(d.Active), formatTime(r.now()))
	return mapDBError(err)
}

// ListSCD2 returns every SCD2 definition, active or not.
func (r *DefinitionRepo) ListSCD2(ctx context.Context) ([]domain.SCD2Definition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT table_name, staging_table, business_key_columns, hash_column, surrogate_key_column,
		       exclude_from_insert, active, updated_at
		FROM scd2_definitions ORDER BY table_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.SCD2Definition
	for rows.Next() {
		var (
			d                       domain.SCD2Definition
			keys, excluded, updated string
			active                  int64
		)
		if err := rows.Scan(&d.TableName, &d.StagingTable, &keys, &d.HashColumn,
			&d.SurrogateKeyColumn, &excluded, &active, &updated); err != nil {
			return nil, err
		}
		if d.BusinessKeyColumns, err = unmarshalStrings(keys); err != nil {
			return nil, fmt.Errorf("scd2 %s: %w", d.TableName, err)
		}
		if d.ExcludeFromInsert, err = unmarshalStrings(excluded); err != nil {
			return nil, fmt.Errorf("scd2 %s: %w", d.TableName, err)
		}
		d.Active = active != 0
		d.UpdatedAt = parseTime(updated)
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertRule inserts or replaces a DQ rule by (entity_type, field_name, rule_type).
func (r *DefinitionRepo) UpsertRule(ctx context.Context, rule *domain.DQRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dq_rules (entity_type, field_name, rule_type, condition, points_if_met,
			points_if_not_met, importance, enforce_in_etl, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, field_name, rule_type) DO UPDATE SET
			condition = excluded.condition,
			points_if_met = excluded.points_if_met,
			points_if_not_met = excluded.points_if_not_met,
			importance = excluded.importance,
			enforce_in_etl = excluded.enforce_in_etl,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, rule.EntityType, rule.FieldName, string(rule.RuleType), rule.Condition, rule.PointsIfMet,
		rule.PointsIfNotMet, string(rule.Importance), boolToInt(rule.EnforceInETL),
		boolToInt(rule.Active), formatTime(r.now()))
	return mapDBError(err)
}

// ListRules returns every DQ rule ordered by entity and field.
func (r *DefinitionRepo) ListRules(ctx context.Context) ([]domain.DQRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_type, field_name, rule_type, condition, points_if_met, points_if_not_met,
		       importance, enforce_in_etl, active, updated_at
		FROM dq_rules ORDER BY entity_type, field_name, rule_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.DQRule
	for rows.Next() {
		var (
			rule                          domain.DQRule
			ruleType, importance, updated string
			enforce, active               int64
		)
		if err := rows.Scan(&rule.EntityType, &rule.FieldName, &ruleType, &rule.Condition,
			&rule.PointsIfMet, &rule.PointsIfNotMet, &importance, &enforce, &active, &updated); err != nil {
			return nil, err
		}
		rule.RuleType = domain.RuleType(ruleType)
		rule.Importance = domain.Importance(importance)
		rule.EnforceInETL = enforce != 0
		rule.Active = active != 0
		rule.UpdatedAt = parseTime(updated)
		out = append(out, rule)
	}
	return out, rows.Err()
}

// UpsertUnit inserts or replaces a declarative unit.
func (r *DefinitionRepo) UpsertUnit(ctx context.Context, u *domain.UnitDefinition) error {
	if err := domain.ValidateStruct(u); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO unit_definitions (name, kind, body, description) VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			kind = excluded.kind, body = excluded.body, description = excluded.description
	`, u.Name, u.Kind, u.Body, u.Description)
	return mapDBError(err)
}

// ListUnits returns every declarative unit ordered by name.
func (r *DefinitionRepo) ListUnits(ctx context.Context) ([]domain.UnitDefinition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, kind, body, description FROM unit_definitions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.UnitDefinition
	for rows.Next() {
		var u domain.UnitDefinition
		if err := rows.Scan(&u.Name, &u.Kind, &u.Body, &u.Description); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpsertPredicate inserts or replaces a Starlark predicate.
func (r *DefinitionRepo) UpsertPredicate(ctx context.Context, p *domain.PredicateDefinition) error {
	if err := domain.ValidateStruct(p); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO predicate_definitions (name, expression) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET expression = excluded.expression
	`, p.Name, p.Expression)
	return mapDBError(err)
}

// ListPredicates returns every Starlark predicate ordered by name.
func (r *DefinitionRepo) ListPredicates(ctx context.Context) ([]domain.PredicateDefinition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, expression FROM predicate_definitions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.PredicateDefinition
	for rows.Next() {
		var p domain.PredicateDefinition
		if err := rows.Scan(&p.Name, &p.Expression); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
