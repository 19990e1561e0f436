package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"etl-orchestrator/internal/domain"
)

const interruptedMessage = "process stopped before the attempt finished"

// closeInterruptedRecords fails every execution record still RUNNING. Runs
// live in one process, so at startup such records can only belong to a
// process that exited mid-run.
func closeInterruptedRecords(ctx context.Context, log domain.ExecutionLogRepository, logger *slog.Logger) error {
	running := domain.ExecutionStatusRunning
	closed := 0
	for {
		recs, _, err := log.List(ctx, domain.ExecutionFilter{
			Status: &running,
			Page:   domain.PageRequest{MaxResults: 100},
		})
		if err != nil {
			return fmt.Errorf("list running records: %w", err)
		}
		if len(recs) == 0 {
			break
		}
		now := time.Now()
		progressed := false
		for i := range recs {
			rec := recs[i]
			msg, code := interruptedMessage, domain.ErrorCodeInterrupted
			rec.Status = domain.ExecutionStatusFailed
			rec.EndTs = &now
			rec.ErrorMessage = &msg
			rec.ErrorCode = &code
			if err := log.Finish(ctx, &rec); err != nil {
				logger.Warn("close interrupted record", "id", rec.ID, "pipeline", rec.PipelineName, "error", err)
				continue
			}
			progressed = true
			closed++
		}
		if !progressed {
			break
		}
	}
	if closed > 0 {
		logger.Warn("closed interrupted execution records", "count", closed)
	}
	return nil
}
