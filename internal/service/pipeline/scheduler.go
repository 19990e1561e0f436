package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"etl-orchestrator/internal/domain"
)

// SchedulerActor is recorded as the actor of scheduled runs.
const SchedulerActor = "scheduler"

// Trigger starts a run in the background.
type Trigger interface {
	Trigger(ctx context.Context, req RunRequest) (string, error)
}

// ValueLister lists configuration values.
type ValueLister interface {
	List(ctx context.Context) ([]domain.ConfigValue, error)
}

// Scheduler triggers runs from cron expressions stored as SCHEDULE
// configuration values. The key names the schedule and is passed to the run
// as the "schedule" parameter; an empty value disables it.
type Scheduler struct {
	cron    *cron.Cron
	runs    Trigger
	values  ValueLister
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID // schedule key → cron entry
}

// NewScheduler creates a new run scheduler.
func NewScheduler(runs Trigger, values ValueLister, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		runs:    runs,
		values:  values,
		logger:  logger.With("component", "scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads all schedules and starts the cron scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	err := s.loadSchedules(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("run scheduler started")
	return nil
}

// Stop stops the cron scheduler and waits for running trigger calls.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("run scheduler stopped")
}

// Reload clears all cron entries and reloads them from configuration.
// Implements the ScheduleReloader interface.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entryID := range s.entries {
		s.cron.Remove(entryID)
	}
	s.entries = make(map[string]cron.EntryID)

	return s.loadSchedules(ctx)
}

// Schedules returns the active schedule keys.
func (s *Scheduler) Schedules() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

// loadSchedules adds one cron entry per non-empty SCHEDULE value.
func (s *Scheduler) loadSchedules(ctx context.Context) error {
	values, err := s.values.List(ctx)
	if err != nil {
		return err
	}

	for _, v := range values {
		if v.Category != domain.CategorySchedule {
			continue
		}
		schedule := strings.TrimSpace(v.Value)
		if schedule == "" {
			continue
		}
		key := v.Key

		entryID, err := s.cron.AddFunc(schedule, func() {
			s.fire(key)
		})
		if err != nil {
			s.logger.Warn("invalid cron schedule",
				"schedule", key,
				"expression", schedule,
				"error", err,
			)
			continue
		}

		s.entries[key] = entryID
		s.logger.Info("scheduled run", "schedule", key, "expression", schedule)
	}

	return nil
}

func (s *Scheduler) fire(key string) {
	batchID, err := s.runs.Trigger(context.Background(), RunRequest{
		Actor:       SchedulerActor,
		TriggerType: domain.TriggerTypeScheduled,
		Params:      map[string]string{"schedule": key},
	})
	if err != nil {
		s.logger.Warn("scheduled trigger failed", "schedule", key, "error", err)
		return
	}
	s.logger.Info("scheduled run triggered", "schedule", key, "batch_id", batchID)
}

// Compile-time check that Scheduler implements ScheduleReloader.
var _ ScheduleReloader = (*Scheduler)(nil)
