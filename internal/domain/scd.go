package domain

import "time"

// SCD2 metadata columns maintained on every versioned target table.
const (
	ColumnIsCurrent     = "is_current"
	ColumnEffectiveFrom = "effective_from"
	ColumnEffectiveTo   = "effective_to"
)

// SCD2Definition describes one Type-2 dimension target.
type SCD2Definition struct {
	TableName          string    `json:"table_name" yaml:"table_name" validate:"required"`
	StagingTable       string    `json:"staging_table" yaml:"staging_table" validate:"required"`
	BusinessKeyColumns []string  `json:"business_key_columns" yaml:"business_key_columns" validate:"required,min=1,dive,required"`
	HashColumn         string    `json:"hash_column" yaml:"hash_column" validate:"required"`
	SurrogateKeyColumn string    `json:"surrogate_key_column" yaml:"surrogate_key_column" validate:"required"`
	ExcludeFromInsert  []string  `json:"exclude_from_insert,omitempty" yaml:"exclude_from_insert,omitempty"`
	Active             bool      `json:"active" yaml:"active"`
	UpdatedAt          time.Time `json:"updated_at" yaml:"-"`
}

// IsKey reports whether col is one of the business key columns.
func (d SCD2Definition) IsKey(col string) bool {
	for _, k := range d.BusinessKeyColumns {
		if k == col {
			return true
		}
	}
	return false
}

// IsExcluded reports whether col must never be copied from staging.
func (d SCD2Definition) IsExcluded(col string) bool {
	if col == d.SurrogateKeyColumn || col == d.HashColumn {
		return true
	}
	switch col {
	case ColumnIsCurrent, ColumnEffectiveFrom, ColumnEffectiveTo:
		return true
	}
	for _, c := range d.ExcludeFromInsert {
		if c == col {
			return true
		}
	}
	return false
}

// Row is a single record keyed by column name.
type Row map[string]any

// TargetRow is the current version of a business key in a target table.
type TargetRow struct {
	SurrogateKey any
	Hash         string
}

// MergeResult counts what one merge invocation did.
type MergeResult struct {
	Inserted            int64 `json:"inserted"`
	Updated             int64 `json:"updated"`
	Unchanged           int64 `json:"unchanged"`
	DuplicatesCollapsed int64 `json:"duplicates_collapsed"`
}

// Loaded is the number of target rows that became current.
func (m MergeResult) Loaded() int64 { return m.Inserted + m.Updated }
