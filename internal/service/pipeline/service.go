package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"etl-orchestrator/internal/domain"
)

// SnapshotSource produces the configuration snapshot of a run.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*domain.ConfigSnapshot, error)
}

// ScheduleReloader allows configuration writers to notify the scheduler.
type ScheduleReloader interface {
	Reload(ctx context.Context) error
}

// RunUnits builds the units that depend on a run's snapshot.
type RunUnits func(ctx context.Context, snap *domain.ConfigSnapshot) (map[string]domain.Unit, error)

// ServiceOptions tunes a Service.
type ServiceOptions struct {
	Resolve ResolveOptions
	// MaxConcurrentRuns bounds runs in flight; 0 means 1.
	MaxConcurrentRuns int
	// ReportHistory is the number of finished reports kept in memory; 0 means 50.
	ReportHistory int
}

// RunRequest describes one orchestration run.
type RunRequest struct {
	Actor       string
	TriggerType string
	Params      map[string]string
	// DisabledPolicy overrides the configured policy for this run when set.
	DisabledPolicy domain.DisabledPolicy
	// StrictGroups overrides the configured group mode for this run when set.
	StrictGroups *bool
}

// Service validates, resolves and executes orchestration runs.
type Service struct {
	config   SnapshotSource
	registry *Registry
	runUnits RunUnits
	coord    *Coordinator
	archive  domain.ReportArchive
	logger   *slog.Logger
	opts     ServiceOptions

	mu      sync.Mutex
	active  map[string]*activeRun
	reports map[string]*domain.RunReport
	order   []string
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type preparedRun struct {
	batchID  string
	req      RunRequest
	snapshot *domain.ConfigSnapshot
	registry *Registry
	plan     *domain.Resolution
}

// NewService creates a run service. runUnits and archive may be nil.
func NewService(config SnapshotSource, registry *Registry, runUnits RunUnits, coord *Coordinator,
	archive domain.ReportArchive, logger *slog.Logger, opts ServiceOptions) *Service {
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 1
	}
	if opts.ReportHistory <= 0 {
		opts.ReportHistory = 50
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Service{
		config:   config,
		registry: registry,
		runUnits: runUnits,
		coord:    coord,
		archive:  archive,
		logger:   logger.With("component", "runs"),
		opts:     opts,
		active:   make(map[string]*activeRun),
		reports:  make(map[string]*domain.RunReport),
	}
}

// Plan validates the current configuration and returns the batches a run
// would execute, without executing anything.
func (s *Service) Plan(ctx context.Context, req RunRequest) (*domain.Resolution, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.plan, nil
}

func (s *Service) prepare(ctx context.Context, req RunRequest) (*preparedRun, error) {
	snap, err := s.config.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	reg := s.registry.Clone()
	if s.runUnits != nil {
		units, err := s.runUnits(ctx, snap)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(units))
		for name := range units {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := reg.Register(name, units[name]); err != nil {
				return nil, domain.ErrConfiguration("unit %s: %v", name, err)
			}
		}
	}
	if err := reg.Validate(snap.Pipelines()); err != nil {
		return nil, err
	}

	opts := s.opts.Resolve
	if req.DisabledPolicy != "" {
		opts.DisabledPolicy = req.DisabledPolicy
	}
	if req.StrictGroups != nil {
		opts.StrictGroups = *req.StrictGroups
	}
	plan, err := Resolve(snap.Pipelines(), opts)
	if err != nil {
		return nil, err
	}

	if req.TriggerType == "" {
		req.TriggerType = domain.TriggerTypeManual
	}
	return &preparedRun{
		batchID:  domain.NewID(),
		req:      req,
		snapshot: snap,
		registry: reg,
		plan:     plan,
	}, nil
}

func (s *Service) acquire(batchID string, cancel context.CancelFunc) (*activeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.active) >= s.opts.MaxConcurrentRuns {
		return nil, domain.ErrConflict("concurrency limit reached (%d active runs)", len(s.active))
	}
	a := &activeRun{cancel: cancel, done: make(chan struct{})}
	s.active[batchID] = a
	return a, nil
}

func (s *Service) release(batchID string, a *activeRun, report *domain.RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, batchID)
	if report != nil {
		s.reports[batchID] = report
		s.order = append(s.order, batchID)
		for len(s.order) > s.opts.ReportHistory {
			delete(s.reports, s.order[0])
			s.order = s.order[1:]
		}
	}
	close(a.done)
}

// Execute runs synchronously and returns the terminal report. Cancelling
// ctx cancels the run gracefully; the report is still returned.
func (s *Service) Execute(ctx context.Context, req RunRequest) (*domain.RunReport, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a, err := s.acquire(p.batchID, cancel)
	if err != nil {
		return nil, err
	}
	report, err := s.execute(runCtx, p)
	s.release(p.batchID, a, report)
	return report, err
}

// Trigger validates and resolves synchronously, then runs in the
// background. It returns the batch ID of the new run.
func (s *Service) Trigger(ctx context.Context, req RunRequest) (string, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return "", err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a, err := s.acquire(p.batchID, cancel)
	if err != nil {
		cancel()
		return "", err
	}

	go func() {
		defer cancel()
		report, err := s.execute(runCtx, p)
		if err != nil {
			s.logger.Error("background run failed", "batch_id", p.batchID, "error", err)
		}
		s.release(p.batchID, a, report)
	}()
	return p.batchID, nil
}

func (s *Service) execute(ctx context.Context, p *preparedRun) (*domain.RunReport, error) {
	logger := s.logger.With("batch_id", p.batchID)
	logger.Info("run started", "actor", p.req.Actor, "trigger", p.req.TriggerType,
		"batches", len(p.plan.Batches), "blocked", len(p.plan.Blocked))
	for _, w := range p.plan.Warnings {
		logger.Warn("execution order raised to dependency depth",
			"pipeline", w.Name, "declared", w.Declared, "computed", w.Computed)
	}

	report, err := s.coord.Run(ctx, p.plan, RunContext{
		BatchID:     p.batchID,
		Snapshot:    p.snapshot,
		Params:      p.req.Params,
		TriggeredBy: p.req.Actor,
		Registry:    p.registry,
	})
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		loc, err := s.archive.Store(context.WithoutCancel(ctx), report)
		if err != nil {
			logger.Warn("archive run report failed", "error", err)
		} else {
			logger.Info("run report archived", "location", loc)
		}
	}
	return report, nil
}

// Cancel stops an active run. In-flight attempts finish; everything not yet
// started is skipped.
func (s *Service) Cancel(actor, batchID string) error {
	s.mu.Lock()
	a, ok := s.active[batchID]
	s.mu.Unlock()
	if !ok {
		return domain.ErrNotFound("run %s is not active", batchID)
	}
	s.logger.Info("run cancellation requested", "batch_id", batchID, "actor", actor)
	a.cancel()
	return nil
}

// Wait blocks until the run finishes or ctx is done, then returns its report.
func (s *Service) Wait(ctx context.Context, batchID string) (*domain.RunReport, error) {
	s.mu.Lock()
	a, ok := s.active[batchID]
	s.mu.Unlock()
	if ok {
		select {
		case <-a.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.Report(batchID)
}

// Report returns the report of a finished run still held in memory.
func (s *Service) Report(batchID string) (*domain.RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[batchID]
	if !ok {
		if _, running := s.active[batchID]; running {
			return nil, domain.ErrConflict("run %s is still running", batchID)
		}
		return nil, domain.ErrNotFound("run %s not found", batchID)
	}
	return r, nil
}

// Active returns the batch IDs of runs in flight, sorted.
func (s *Service) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
