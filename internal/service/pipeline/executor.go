package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"etl-orchestrator/internal/domain"
)

// RunContext carries the inputs of a single orchestration run.
type RunContext struct {
	BatchID     string
	Snapshot    *domain.ConfigSnapshot
	Params      map[string]string
	TriggeredBy string
	// Registry overrides the coordinator's registry for this run.
	Registry *Registry
}

// CoordinatorOptions tunes a Coordinator.
type CoordinatorOptions struct {
	// MaxParallel bounds concurrently running pipelines per batch; 0 is unbounded.
	MaxParallel int
	// DefaultRecipients receive alerts when no ALERTS value names any.
	DefaultRecipients []string
}

// Coordinator drives resolved batches through their units and records every
// attempt in the execution log.
type Coordinator struct {
	registry *Registry
	log      domain.ExecutionLogRepository
	notifier domain.Notifier
	logger   *slog.Logger
	opts     CoordinatorOptions

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	tablesMu sync.Mutex
	tables   map[string]*sync.Mutex
}

// NewCoordinator creates a Coordinator. notifier may be nil.
func NewCoordinator(registry *Registry, log domain.ExecutionLogRepository, notifier domain.Notifier,
	logger *slog.Logger, opts CoordinatorOptions) *Coordinator {
	return &Coordinator{
		registry: registry,
		log:      log,
		notifier: notifier,
		logger:   logger.With("component", "coordinator"),
		opts:     opts,
		now:      time.Now,
		sleep:    sleepContext,
		tables:   make(map[string]*sync.Mutex),
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// tableLock returns the writer lock of a target table. It is shared by every
// run driven by this coordinator.
func (c *Coordinator) tableLock(table string) *sync.Mutex {
	c.tablesMu.Lock()
	defer c.tablesMu.Unlock()
	mu, ok := c.tables[table]
	if !ok {
		mu = &sync.Mutex{}
		c.tables[table] = mu
	}
	return mu
}

// runState collects outcomes while batches execute.
type runState struct {
	mu       sync.Mutex
	outcomes map[string]*domain.PipelineOutcome
}

func (s *runState) set(o *domain.PipelineOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[o.Name] = o
}

func (s *runState) get(name string) (*domain.PipelineOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outcomes[name]
	return o, ok
}

// Run executes the batches of res strictly in order. Members of a batch run
// concurrently and the next batch starts only after every member is terminal.
// Cancelling ctx lets in-flight attempts finish, suppresses retries and skips
// everything not yet started. The returned report covers every pipeline of
// res, including blocked ones.
func (c *Coordinator) Run(ctx context.Context, res *domain.Resolution, rc RunContext) (*domain.RunReport, error) {
	if rc.Snapshot == nil {
		return nil, domain.ErrConfiguration("run %s has no configuration snapshot", rc.BatchID)
	}
	if rc.BatchID == "" {
		rc.BatchID = domain.NewID()
	}
	registry := rc.Registry
	if registry == nil {
		registry = c.registry
	}
	logger := c.logger.With("batch_id", rc.BatchID)

	report := &domain.RunReport{
		BatchID:     rc.BatchID,
		TriggeredBy: rc.TriggeredBy,
		StartedAt:   c.now(),
		Batches:     res.Batches,
		Warnings:    res.Warnings,
	}
	state := &runState{outcomes: make(map[string]*domain.PipelineOutcome)}

	for _, b := range res.Blocked {
		c.skip(ctx, logger, rc, state, b.Name, b.Reason, domain.ErrorCodeDisabledDep, nil)
	}

	halted := ""
	cancelled := false
	for i, batch := range res.Batches {
		if halted != "" {
			for _, name := range batch.Pipelines {
				c.skip(ctx, logger, rc, state, name, fmt.Sprintf("run halted after failure of %s", halted),
					domain.ErrorCodeRunHalted, []string{halted})
			}
			continue
		}

		logger.Info("dispatching batch", "batch", i+1, "phase", batch.Phase, "pipelines", batch.Pipelines)
		g := new(errgroup.Group)
		if c.opts.MaxParallel > 0 {
			g.SetLimit(c.opts.MaxParallel)
		}
		for _, name := range batch.Pipelines {
			g.Go(func() error {
				c.runPipeline(ctx, logger, rc, registry, state, name)
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			cancelled = true
		}
		for _, name := range batch.Pipelines {
			o, _ := state.get(name)
			p, _ := rc.Snapshot.Pipeline(name)
			if o != nil && o.Status == domain.ExecutionStatusFailed && !p.SkipOnError {
				halted = name
				logger.Error("fatal pipeline failure, halting run", "pipeline", name)
				break
			}
		}
	}

	report.FinishedAt = c.now()
	for _, o := range state.outcomes {
		report.Pipelines = append(report.Pipelines, *o)
	}
	sort.Slice(report.Pipelines, func(i, j int) bool { return report.Pipelines[i].Name < report.Pipelines[j].Name })

	counts := report.Counts()
	switch {
	case cancelled || ctx.Err() != nil:
		report.Status = domain.RunStatusCancelled
	case counts[domain.ExecutionStatusFailed] > 0:
		report.Status = domain.RunStatusFailed
	default:
		report.Status = domain.RunStatusSuccess
	}
	runsTotal.WithLabelValues(report.Status).Inc()
	logger.Info("run finished", "status", report.Status,
		"succeeded", counts[domain.ExecutionStatusSuccess],
		"failed", counts[domain.ExecutionStatusFailed],
		"skipped", counts[domain.ExecutionStatusSkipped])
	return report, nil
}

// runPipeline runs one pipeline to a terminal status.
func (c *Coordinator) runPipeline(ctx context.Context, logger *slog.Logger, rc RunContext,
	registry *Registry, state *runState, name string) {

	logger = logger.With("pipeline", name)
	p, ok := rc.Snapshot.Pipeline(name)
	if !ok {
		c.fail(ctx, logger, rc, state, name,
			domain.ErrConfiguration("pipeline %q is not in the configuration snapshot", name))
		return
	}

	deps := append([]string(nil), p.DependsOn...)
	sort.Strings(deps)
	for _, d := range deps {
		up, ok := state.get(d)
		if !ok || up.Status == domain.ExecutionStatusSuccess {
			continue
		}
		chain := append(append([]string(nil), up.FailureChain...), d)
		c.skip(ctx, logger, rc, state, name, fmt.Sprintf("skipped due to upstream failure of %s", d),
			domain.ErrorCodeUpstream, chain)
		return
	}

	if ctx.Err() != nil {
		c.skip(ctx, logger, rc, state, name, "run cancelled before start", domain.ErrorCodeCancelled, nil)
		return
	}

	if p.TargetTable != "" {
		mu := c.tableLock(p.TargetTable)
		mu.Lock()
		defer mu.Unlock()
	}

	// Attempts run detached from cancellation so nothing is torn mid-write.
	unitCtx := context.WithoutCancel(ctx)
	outcome := &domain.PipelineOutcome{Name: name}
	var lastErr error
	maxAttempts := p.RetryCount + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, p.RetryDelay()); err != nil {
				logger.Warn("retries suppressed by cancellation", "attempts", attempt)
				break
			}
			logger.Info("retrying pipeline", "attempt", attempt+1, "of", maxAttempts)
		}

		result, err := c.attempt(unitCtx, logger, rc, registry, p, attempt)
		outcome.Attempts = attempt + 1
		outcome.RowsRead = result.RowsRead
		outcome.RowsTransformed = result.RowsTransformed
		outcome.RowsLoaded = result.RowsLoaded
		outcome.RowsRejected = result.RowsRejected
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		logger.Warn("pipeline attempt failed", "attempt", attempt+1, "error", err)
		if !domain.IsRetryable(err) {
			break
		}
	}

	if lastErr != nil {
		outcome.Status = domain.ExecutionStatusFailed
		outcome.Error = lastErr.Error()
		outcome.ErrorCode = domain.ErrorCode(lastErr)
		state.set(outcome)
		c.alert(unitCtx, logger, rc, p, lastErr)
		return
	}

	outcome.Status = domain.ExecutionStatusSuccess
	state.set(outcome)
	for kind, n := range map[string]int64{
		"read": outcome.RowsRead, "transformed": outcome.RowsTransformed,
		"loaded": outcome.RowsLoaded, "rejected": outcome.RowsRejected,
	} {
		pipelineRows.WithLabelValues(name, kind).Add(float64(n))
	}
	logger.Info("pipeline succeeded", "attempts", outcome.Attempts,
		"rows_loaded", outcome.RowsLoaded, "rows_rejected", outcome.RowsRejected)
}

// attempt records and executes one transform+load attempt.
func (c *Coordinator) attempt(ctx context.Context, logger *slog.Logger, rc RunContext, registry *Registry,
	p domain.PipelineDefinition, attempt int) (domain.UnitResult, error) {

	rec := &domain.ExecutionRecord{
		ID:           domain.NewID(),
		PipelineName: p.Name,
		BatchID:      rc.BatchID,
		StartTs:      c.now(),
		Status:       domain.ExecutionStatusRunning,
		RetryAttempt: attempt,
	}
	if err := c.log.Start(ctx, rec); err != nil {
		logger.Error("failed to record attempt start", "error", err)
	}

	result, err := c.invokeUnits(ctx, rc, registry, p, attempt)

	end := c.now()
	if end.Before(rec.StartTs) {
		end = rec.StartTs
	}
	rec.EndTs = &end
	rec.RowsRead = result.RowsRead
	rec.RowsTransformed = result.RowsTransformed
	rec.RowsLoaded = result.RowsLoaded
	rec.RowsRejected = result.RowsRejected
	rec.Status = domain.ExecutionStatusSuccess
	if err != nil {
		rec.Status = domain.ExecutionStatusFailed
		msg := err.Error()
		code := domain.ErrorCode(err)
		rec.ErrorMessage = &msg
		rec.ErrorCode = &code
	}
	if ferr := c.log.Finish(ctx, rec); ferr != nil {
		logger.Error("failed to record attempt finish", "error", ferr)
	}

	pipelineAttempts.WithLabelValues(p.Name, rec.Status).Inc()
	pipelineDuration.WithLabelValues(p.Name).Observe(rec.Duration().Seconds())
	return result, err
}

// invokeUnits runs transform then load. Unit failures are wrapped in
// UnitInvocationError; a panicking unit fails the attempt.
func (c *Coordinator) invokeUnits(ctx context.Context, rc RunContext, registry *Registry,
	p domain.PipelineDefinition, attempt int) (total domain.UnitResult, err error) {

	in := domain.UnitInput{
		Pipeline: p,
		BatchID:  rc.BatchID,
		Attempt:  attempt,
		Snapshot: rc.Snapshot,
		Params:   rc.Params,
	}
	for _, name := range []string{p.TransformUnit, p.LoadUnit} {
		if name == "" {
			continue
		}
		u, ok := registry.Lookup(name)
		if !ok {
			return total, domain.ErrConfiguration("unit %q of pipeline %q is not registered", name, p.Name)
		}
		res, uerr := invokeUnit(ctx, u, in)
		total.Add(res)
		if uerr != nil {
			return total, &domain.UnitInvocationError{Unit: name, Err: uerr}
		}
		upstream := total
		in.Upstream = &upstream
	}
	return total, nil
}

func invokeUnit(ctx context.Context, u domain.Unit, in domain.UnitInput) (res domain.UnitResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return u.Execute(ctx, in)
}

// fail records a pipeline that could not be attempted at all.
func (c *Coordinator) fail(ctx context.Context, logger *slog.Logger, rc RunContext, state *runState,
	name string, err error) {

	ctx = context.WithoutCancel(ctx)
	now := c.now()
	msg := err.Error()
	code := domain.ErrorCode(err)
	rec := &domain.ExecutionRecord{
		PipelineName: name, BatchID: rc.BatchID, StartTs: now, Status: domain.ExecutionStatusRunning,
	}
	if serr := c.log.Start(ctx, rec); serr == nil {
		rec.Status = domain.ExecutionStatusFailed
		rec.EndTs = &now
		rec.ErrorMessage = &msg
		rec.ErrorCode = &code
		if ferr := c.log.Finish(ctx, rec); ferr != nil {
			logger.Error("failed to record failure", "error", ferr)
		}
	}
	logger.Error("pipeline failed", "error", err)
	state.set(&domain.PipelineOutcome{
		Name: name, Status: domain.ExecutionStatusFailed, Error: msg, ErrorCode: code,
	})
}

// skip records a single SKIPPED execution record.
func (c *Coordinator) skip(ctx context.Context, logger *slog.Logger, rc RunContext, state *runState,
	name, reason, code string, chain []string) {

	now := c.now()
	rec := &domain.ExecutionRecord{
		PipelineName: name,
		BatchID:      rc.BatchID,
		StartTs:      now,
		EndTs:        &now,
		Status:       domain.ExecutionStatusSkipped,
		ErrorMessage: &reason,
		ErrorCode:    &code,
	}
	if err := c.log.Start(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("failed to record skip", "pipeline", name, "error", err)
	}
	pipelineAttempts.WithLabelValues(name, domain.ExecutionStatusSkipped).Inc()
	logger.Info("pipeline skipped", "pipeline", name, "reason", reason)
	state.set(&domain.PipelineOutcome{
		Name:         name,
		Status:       domain.ExecutionStatusSkipped,
		Error:        reason,
		ErrorCode:    code,
		FailureChain: chain,
	})
}

// alert emits a failure notification for pipelines that ask for one.
func (c *Coordinator) alert(ctx context.Context, logger *slog.Logger, rc RunContext, p domain.PipelineDefinition, cause error) {
	if !p.AlertOnFailure || c.notifier == nil {
		return
	}
	a := domain.Alert{
		Pipeline:   p.Name,
		BatchID:    rc.BatchID,
		Reason:     cause.Error(),
		Recipients: c.recipients(rc.Snapshot, p.Name),
		OccurredAt: c.now(),
	}
	if err := c.notifier.Notify(ctx, a); err != nil {
		logger.Warn("alert delivery failed", "error", err)
	}
}

// AlertEmailListKey is the ALERTS config key holding the default recipient
// list; a pipeline-specific list lives under AlertEmailListKey + "." + name.
const AlertEmailListKey = "alertEmailList"

func (c *Coordinator) recipients(snap *domain.ConfigSnapshot, pipeline string) []string {
	for _, key := range []string{AlertEmailListKey + "." + pipeline, AlertEmailListKey} {
		if v, ok := snap.String(domain.CategoryAlerts, key); ok {
			if list := splitRecipients(v); len(list) > 0 {
				return list
			}
		}
	}
	return append([]string(nil), c.opts.DefaultRecipients...)
}

func splitRecipients(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
