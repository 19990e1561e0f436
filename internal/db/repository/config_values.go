package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"etl-orchestrator/internal/domain"
)

var _ domain.ConfigValueRepository = (*ConfigValueRepo)(nil)

// ConfigValueRepo stores scalar configuration values and their audit trail.
type ConfigValueRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewConfigValueRepo creates a new ConfigValueRepo.
func NewConfigValueRepo(db *sql.DB) *ConfigValueRepo {
	return &ConfigValueRepo{db: db, now: time.Now}
}

// Get returns a single configuration value.
func (r *ConfigValueRepo) Get(ctx context.Context, category, key string) (*domain.ConfigValue, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT category, key, value, value_type, updated_by, updated_at
		FROM config_values WHERE category = ? AND key = ?
	`, category, key)
	v, err := scanConfigValue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("config value %s/%s not found", category, key)
	}
	if err != nil {
		return nil, mapDBError(err)
	}
	return v, nil
}

// List returns every configuration value ordered by category and key.
func (r *ConfigValueRepo) List(ctx context.Context) ([]domain.ConfigValue, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, key, value, value_type, updated_by, updated_at
		FROM config_values ORDER BY category, key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.ConfigValue
	for rows.Next() {
		v, err := scanConfigValue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// Set writes a value and its audit entry in one transaction. An unchanged
// value still produces an audit entry so that every request is traceable.
func (r *ConfigValueRepo) Set(ctx context.Context, change domain.ConfigChange) (*domain.ConfigAuditEntry, error) {
	if strings.TrimSpace(change.Actor) == "" {
		return nil, domain.ErrValidation("actor is required")
	}
	if strings.TrimSpace(change.Reason) == "" {
		return nil, domain.ErrValidation("reason is required")
	}
	value := domain.ConfigValue{
		Category:  change.Category,
		Key:       change.Key,
		Value:     change.Value,
		ValueType: change.ValueType,
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		oldValue sql.NullString
		oldType  string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT value, value_type FROM config_values WHERE category = ? AND key = ?`,
		change.Category, change.Key).Scan(&oldValue, &oldType)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		oldValue = sql.NullString{}
	case err != nil:
		return nil, err
	}
	if value.ValueType == "" {
		value.ValueType = oldType
	}
	if err := value.Validate(); err != nil {
		return nil, err
	}

	now := formatTime(r.now())
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO config_values (category, key, value, value_type, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (category, key) DO UPDATE SET
			value = excluded.value,
			value_type = excluded.value_type,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`, value.Category, value.Key, value.Value, value.ValueType, change.Actor, now); err != nil {
		return nil, mapDBError(err)
	}

	entry := &domain.ConfigAuditEntry{
		ID:        domain.NewID(),
		Category:  change.Category,
		Key:       change.Key,
		OldValue:  ptrFromNull(oldValue),
		NewValue:  change.Value,
		Actor:     change.Actor,
		Reason:    change.Reason,
		ChangedAt: parseTime(now),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO config_audit (id, category, key, old_value, new_value, actor, reason, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Category, entry.Key, nullStringPtr(entry.OldValue), entry.NewValue,
		entry.Actor, entry.Reason, now); err != nil {
		return nil, mapDBError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return entry, nil
}

// ListAudit returns audit entries, newest first.
func (r *ConfigValueRepo) ListAudit(ctx context.Context, filter domain.ConfigAuditFilter) ([]domain.ConfigAuditEntry, int64, error) {
	where := " WHERE 1 = 1"
	var args []any
	if filter.Category != nil {
		where += " AND category = ?"
		args = append(args, *filter.Category)
	}
	if filter.Key != nil {
		where += " AND key = ?"
		args = append(args, *filter.Key)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM config_audit`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, category, key, old_value, new_value, actor, reason, changed_at
		FROM config_audit`+where+` ORDER BY changed_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Page.Limit(), filter.Page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.ConfigAuditEntry
	for rows.Next() {
		var (
			e         domain.ConfigAuditEntry
			oldValue  sql.NullString
			changedAt string
		)
		if err := rows.Scan(&e.ID, &e.Category, &e.Key, &oldValue, &e.NewValue, &e.Actor,
			&e.Reason, &changedAt); err != nil {
			return nil, 0, err
		}
		e.OldValue = ptrFromNull(oldValue)
		e.ChangedAt = parseTime(changedAt)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func scanConfigValue(row rowScanner) (*domain.ConfigValue, error) {
	var (
		v       domain.ConfigValue
		updated string
	)
	if err := row.Scan(&v.Category, &v.Key, &v.Value, &v.ValueType, &v.UpdatedBy, &updated); err != nil {
		return nil, err
	}
	v.UpdatedAt = parseTime(updated)
	return &v, nil
}
