package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-orchestrator/internal/domain"
)

func veteranDef() domain.SCD2Definition {
	return domain.SCD2Definition{
		TableName:          "dw.dim_veteran",
		StagingTable:       "stg.veteran",
		BusinessKeyColumns: []string{"veteran_id", "source_system"},
		HashColumn:         "row_hash",
		SurrogateKeyColumn: "veteran_sk",
		ExcludeFromInsert:  []string{"load_ts"},
		Active:             true,
	}
}

func TestCreateTable(t *testing.T) {
	got, err := CreateTable("stg.veteran", []ColumnDef{{Name: "veteran_id", Type: "BIGINT"}, {Name: "email", Type: "VARCHAR"}})
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "stg"."veteran" ("veteran_id" BIGINT, "email" VARCHAR)`, got)

	_, err = CreateTable("stg.veteran", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one column")

	_, err = CreateTable("stg.veteran", []ColumnDef{{Name: "x", Type: "INT; DROP"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column type")
}

func TestCreateDimensionTable(t *testing.T) {
	stmts, err := CreateDimensionTable(veteranDef(), []ColumnDef{
		{Name: "veteran_id", Type: "BIGINT"},
		{Name: "source_system", Type: "VARCHAR"},
		{Name: "email", Type: "VARCHAR"},
	})
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, `CREATE SEQUENCE IF NOT EXISTS "dw_dim_veteran_veteran_sk_seq"`, stmts[0])
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "dw"."dim_veteran" (`+
		`"veteran_sk" BIGINT PRIMARY KEY DEFAULT nextval('dw_dim_veteran_veteran_sk_seq'), `+
		`"veteran_id" BIGINT, "source_system" VARCHAR, "email" VARCHAR, `+
		`"row_hash" VARCHAR NOT NULL, "is_current" BOOLEAN NOT NULL, `+
		`"effective_from" TIMESTAMP NOT NULL, "effective_to" TIMESTAMP)`, stmts[1])
}

func TestSCD2Statements(t *testing.T) {
	def := veteranDef()

	t.Run("select_current", func(t *testing.T) {
		got, err := SelectCurrent(def)
		require.NoError(t, err)
		assert.Equal(t, `SELECT "veteran_sk", "row_hash" FROM "dw"."dim_veteran" `+
			`WHERE "veteran_id" = ? AND "source_system" = ? AND "is_current" = TRUE`, got)
	})

	t.Run("expire_version", func(t *testing.T) {
		got, err := ExpireVersion(def)
		require.NoError(t, err)
		assert.Equal(t, `UPDATE "dw"."dim_veteran" SET "is_current" = FALSE, "effective_to" = ? `+
			`WHERE "veteran_sk" = ? AND "is_current" = TRUE`, got)
	})

	t.Run("insert_version", func(t *testing.T) {
		got, err := InsertVersion(def, []string{"veteran_id", "source_system", "email"})
		require.NoError(t, err)
		assert.Equal(t, `INSERT INTO "dw"."dim_veteran" `+
			`("veteran_id", "source_system", "email", "row_hash", "is_current", "effective_from", "effective_to") `+
			`VALUES (?, ?, ?, ?, TRUE, ?, NULL)`, got)
	})

	t.Run("insert_rejects_excluded_columns", func(t *testing.T) {
		for _, col := range []string{"veteran_sk", "load_ts", "row_hash", "is_current"} {
			_, err := InsertVersion(def, []string{"veteran_id", col})
			require.Error(t, err, col)
			assert.Contains(t, err.Error(), "excluded from insert")
		}
	})

	t.Run("invalid_key_column", func(t *testing.T) {
		bad := def
		bad.BusinessKeyColumns = []string{"id; --"}
		_, err := SelectCurrent(bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid business key column")
	})
}

func TestSelectStagingAndDistinct(t *testing.T) {
	got, err := SelectStaging("stg.veteran")
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "stg"."veteran" ORDER BY rowid`, got)

	got, err = SelectDistinct("ref.state", "code")
	require.NoError(t, err)
	assert.Equal(t, `SELECT DISTINCT "code" FROM "ref"."state" WHERE "code" IS NOT NULL`, got)

	_, err = SelectDistinct("ref.state", "")
	require.Error(t, err)
}

func TestCreateSchema(t *testing.T) {
	got, err := CreateSchema("dw")
	require.NoError(t, err)
	assert.Equal(t, `CREATE SCHEMA IF NOT EXISTS "dw"`, got)

	_, err = CreateSchema("my-schema")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schema name")
}
