package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"etl-orchestrator/internal/domain"
)

var _ domain.ExecutionLogRepository = (*ExecutionLogRepo)(nil)

// ExecutionLogRepo is the append-only execution log backed by SQLite.
type ExecutionLogRepo struct {
	db *sql.DB
}

// NewExecutionLogRepo creates a new ExecutionLogRepo.
func NewExecutionLogRepo(db *sql.DB) *ExecutionLogRepo {
	return &ExecutionLogRepo{db: db}
}

// Start appends a new record. Records start as RUNNING; SKIPPED records are
// written terminal in a single step.
func (r *ExecutionLogRepo) Start(ctx context.Context, rec *domain.ExecutionRecord) error {
	switch rec.Status {
	case domain.ExecutionStatusRunning:
	case domain.ExecutionStatusSkipped:
		if rec.EndTs == nil {
			end := rec.StartTs
			rec.EndTs = &end
		}
	default:
		return domain.ErrValidation("execution record must start as RUNNING or SKIPPED, got %q", rec.Status)
	}
	if rec.ID == "" {
		rec.ID = domain.NewID()
	}
	if rec.StartTs.IsZero() {
		rec.StartTs = time.Now()
	}

	var endTs sql.NullString
	if rec.EndTs != nil {
		endTs = sql.NullString{String: formatTime(*rec.EndTs), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_log (id, pipeline_name, batch_id, start_ts, end_ts, status,
			rows_read, rows_transformed, rows_loaded, rows_rejected, retry_attempt,
			error_message, error_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.PipelineName, rec.BatchID, formatTime(rec.StartTs), endTs, rec.Status,
		rec.RowsRead, rec.RowsTransformed, rec.RowsLoaded, rec.RowsRejected, rec.RetryAttempt,
		nullStringPtr(rec.ErrorMessage), nullStringPtr(rec.ErrorCode))
	return mapDBError(err)
}

// Finish moves a RUNNING record to its terminal status. A record that is
// already terminal is never modified again.
func (r *ExecutionLogRepo) Finish(ctx context.Context, rec *domain.ExecutionRecord) error {
	if !rec.IsTerminal() {
		return domain.ErrValidation("cannot finish execution record with status %q", rec.Status)
	}
	if rec.EndTs == nil {
		end := time.Now()
		rec.EndTs = &end
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE execution_log
		SET status = ?, end_ts = ?, rows_read = ?, rows_transformed = ?, rows_loaded = ?,
		    rows_rejected = ?, error_message = ?, error_code = ?
		WHERE id = ? AND status = 'RUNNING'
	`, rec.Status, formatTime(*rec.EndTs), rec.RowsRead, rec.RowsTransformed, rec.RowsLoaded,
		rec.RowsRejected, nullStringPtr(rec.ErrorMessage), nullStringPtr(rec.ErrorCode), rec.ID)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrConflict("execution record %q is not running", rec.ID)
	}
	return nil
}

func executionWhere(filter domain.ExecutionFilter) (string, []any) {
	where := " WHERE 1 = 1"
	var args []any
	if filter.Pipeline != nil {
		where += " AND pipeline_name = ?"
		args = append(args, *filter.Pipeline)
	}
	if filter.BatchID != nil {
		where += " AND batch_id = ?"
		args = append(args, *filter.BatchID)
	}
	if filter.Status != nil {
		where += " AND status = ?"
		args = append(args, *filter.Status)
	}
	if filter.Since != nil {
		where += " AND start_ts >= ?"
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		where += " AND start_ts < ?"
		args = append(args, formatTime(*filter.Until))
	}
	return where, args
}

const executionColumns = `id, pipeline_name, batch_id, start_ts, end_ts, status, rows_read,
	rows_transformed, rows_loaded, rows_rejected, retry_attempt, error_message, error_code`

// List returns matching records, newest first.
func (r *ExecutionLogRepo) List(ctx context.Context, filter domain.ExecutionFilter) ([]domain.ExecutionRecord, int64, error) {
	where, args := executionWhere(filter)

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM execution_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+executionColumns+` FROM execution_log`+where+
		` ORDER BY start_ts DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Page.Limit(), filter.Page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

// Stats aggregates matching records per pipeline. Average duration covers
// SUCCESS and FAILED attempts only.
func (r *ExecutionLogRepo) Stats(ctx context.Context, filter domain.ExecutionFilter) ([]domain.ExecutionStats, error) {
	where, args := executionWhere(filter)
	rows, err := r.db.QueryContext(ctx, `SELECT `+executionColumns+` FROM execution_log`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	type acc struct {
		stats    domain.ExecutionStats
		total    time.Duration
		finished int64
	}
	byPipeline := make(map[string]*acc)
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		a, ok := byPipeline[rec.PipelineName]
		if !ok {
			a = &acc{stats: domain.ExecutionStats{PipelineName: rec.PipelineName}}
			byPipeline[rec.PipelineName] = a
		}
		switch rec.Status {
		case domain.ExecutionStatusSuccess:
			a.stats.SuccessCount++
		case domain.ExecutionStatusFailed:
			a.stats.FailureCount++
		case domain.ExecutionStatusSkipped:
			a.stats.SkippedCount++
			continue
		case domain.ExecutionStatusRunning:
			a.stats.RunningCount++
			continue
		}
		a.total += rec.Duration()
		a.finished++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.ExecutionStats, 0, len(byPipeline))
	for _, a := range byPipeline {
		if a.finished > 0 {
			a.stats.AvgDurationSeconds = a.total.Seconds() / float64(a.finished)
		}
		out = append(out, a.stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PipelineName < out[j].PipelineName })
	return out, nil
}

func scanExecution(row rowScanner) (*domain.ExecutionRecord, error) {
	var (
		rec           domain.ExecutionRecord
		startTs       string
		endTs         sql.NullString
		errMsg, errCd sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.PipelineName, &rec.BatchID, &startTs, &endTs, &rec.Status,
		&rec.RowsRead, &rec.RowsTransformed, &rec.RowsLoaded, &rec.RowsRejected, &rec.RetryAttempt,
		&errMsg, &errCd); err != nil {
		return nil, err
	}
	rec.StartTs = parseTime(startTs)
	if endTs.Valid {
		t := parseTime(endTs.String)
		rec.EndTs = &t
	}
	rec.ErrorMessage = ptrFromNull(errMsg)
	rec.ErrorCode = ptrFromNull(errCd)
	return &rec, nil
}
