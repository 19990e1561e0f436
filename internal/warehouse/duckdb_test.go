package warehouse

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-orchestrator/internal/ddl"
	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/service/scd"
)

func openTestStore(t *testing.T) *DuckDBStore {
	t.Helper()
	db, err := Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewDuckDBStore(db)
}

func veteranDef() domain.SCD2Definition {
	return domain.SCD2Definition{
		TableName:          "dw.dim_veteran",
		StagingTable:       "stg.veteran",
		BusinessKeyColumns: []string{"veteran_id"},
		HashColumn:         "row_hash",
		SurrogateKeyColumn: "veteran_sk",
		ExcludeFromInsert:  []string{"load_ts"},
		Active:             true,
	}
}

func setupVeteran(t *testing.T, s *DuckDBStore) domain.SCD2Definition {
	t.Helper()
	ctx := context.Background()
	def := veteranDef()
	require.NoError(t, s.EnsureTable(ctx, def.StagingTable, []ddl.ColumnDef{
		{Name: "veteran_id", Type: "BIGINT"},
		{Name: "email", Type: "VARCHAR"},
		{Name: "load_ts", Type: "TIMESTAMP"},
	}))
	require.NoError(t, s.EnsureDimension(ctx, def, []ddl.ColumnDef{
		{Name: "veteran_id", Type: "BIGINT"},
		{Name: "email", Type: "VARCHAR"},
	}))
	return def
}

func TestDuckDBStore_ReadStagingArrivalOrder(t *testing.T) {
	s := openTestStore(t)
	def := setupVeteran(t, s)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx, `INSERT INTO stg.veteran (veteran_id, email) VALUES (3, 'c'), (1, 'a'), (2, 'b')`)
	require.NoError(t, err)

	rows, err := s.ReadStaging(ctx, def.StagingTable)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(3), rows[0]["veteran_id"])
	assert.Equal(t, "a", rows[1]["email"])
	assert.Nil(t, rows[2]["load_ts"])

	_, err = s.ReadStaging(ctx, "bad name;")
	require.Error(t, err)
}

func TestDuckDBStore_MergeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	def := setupVeteran(t, s)
	ctx := context.Background()
	engine := scd.NewEngine(s, slog.New(slog.DiscardHandler))

	first := []domain.Row{{"veteran_id": int64(42), "email": "a@example.com"}}
	res, err := engine.Merge(ctx, def, first)
	require.NoError(t, err)
	assert.Equal(t, domain.MergeResult{Inserted: 1}, res)

	res, err = engine.Merge(ctx, def, first)
	require.NoError(t, err)
	assert.Equal(t, domain.MergeResult{Unchanged: 1}, res)

	res, err = engine.Merge(ctx, def, []domain.Row{{"veteran_id": int64(42), "email": "b@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, domain.MergeResult{Updated: 1}, res)

	versions, err := s.Versions(ctx, def)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, false, versions[0]["is_current"])
	assert.NotNil(t, versions[0]["effective_to"])
	assert.Equal(t, "a@example.com", versions[0]["email"])
	assert.Equal(t, true, versions[1]["is_current"])
	assert.Nil(t, versions[1]["effective_to"])
	assert.Equal(t, "b@example.com", versions[1]["email"])
	assert.NotEqual(t, versions[0]["veteran_sk"], versions[1]["veteran_sk"])
}

func TestDuckDBStore_ExpireLostUpdate(t *testing.T) {
	s := openTestStore(t)
	def := setupVeteran(t, s)
	ctx := context.Background()

	err := s.InKeyTx(ctx, def.TableName, func(tx domain.TargetTx) error {
		return tx.Expire(ctx, def, domain.TargetRow{SurrogateKey: int64(999)}, testTime())
	})
	var mc *domain.MergeConflictError
	require.ErrorAs(t, err, &mc)
	assert.Equal(t, def.TableName, mc.Table)
}

func TestDuckDBStore_DistinctValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureTable(ctx, "ref.state", []ddl.ColumnDef{{Name: "code", Type: "VARCHAR"}}))
	_, err := s.DB().ExecContext(ctx, `INSERT INTO ref.state VALUES ('VA'), ('MD'), ('VA'), (NULL)`)
	require.NoError(t, err)

	vals, err := s.DistinctValues(ctx, "ref.state", "code")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"VA", "MD"}, vals)

	ref, err := NewReferenceSet(s, "ref.state.code")
	require.NoError(t, err)
	ok, err := ref.Evaluate(ctx, "VA", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = ref.Evaluate(ctx, "TX", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLUnit_Execute(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureTable(ctx, "stg.audit", []ddl.ColumnDef{
		{Name: "batch_id", Type: "VARCHAR"},
		{Name: "region", Type: "VARCHAR"},
	}))

	unit, err := NewSQLUnit(s.DB(), domain.UnitDefinition{
		Name: "sp_transform_audit",
		Kind: domain.UnitKindSQL,
		Body: `INSERT INTO stg.audit SELECT getvariable('batch_id'), getvariable('region')`,
	})
	require.NoError(t, err)

	res, err := unit.Execute(ctx, domain.UnitInput{
		BatchID:  "b-1",
		Pipeline: domain.PipelineDefinition{Name: "audit"},
		Params:   map[string]string{"region": "east"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsTransformed)

	var batch, region string
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT batch_id, region FROM stg.audit`).Scan(&batch, &region))
	assert.Equal(t, "b-1", batch)
	assert.Equal(t, "east", region)

	_, err = unit.Execute(ctx, domain.UnitInput{Params: map[string]string{"bad-name": "x"}})
	var ce *domain.ConfigurationError
	require.ErrorAs(t, err, &ce)
}

func TestNewSQLUnit_Invalid(t *testing.T) {
	_, err := NewSQLUnit(nil, domain.UnitDefinition{Name: "x", Kind: "PYTHON", Body: "x"})
	var ce *domain.ConfigurationError
	require.ErrorAs(t, err, &ce)

	_, err = NewSQLUnit(nil, domain.UnitDefinition{Name: "x", Kind: domain.UnitKindSQL})
	require.ErrorAs(t, err, &ce)
}
