package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/testutil"
)

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type recordingTrigger struct {
	mu   sync.Mutex
	reqs []RunRequest
	err  error
}

func (r *recordingTrigger) Trigger(_ context.Context, req RunRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return "", r.err
	}
	return fmt.Sprintf("batch-%d", len(r.reqs)), nil
}

func schedule(key, expr string) domain.ConfigValue {
	return domain.ConfigValue{Category: domain.CategorySchedule, Key: key, Value: expr, ValueType: domain.ValueTypeString}
}

func TestScheduler_Start(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		values    []domain.ConfigValue
		listErr   error
		wantErr   bool
		wantCount int
	}{
		{
			name:      "loads schedules from config",
			values:    []domain.ConfigValue{schedule("nightly", "0 2 * * *")},
			wantCount: 1,
		},
		{
			name: "ignores other categories",
			values: []domain.ConfigValue{
				schedule("nightly", "0 2 * * *"),
				{Category: domain.CategoryAlerts, Key: "alertEmailList", Value: "*/5 * * * *"},
			},
			wantCount: 1,
		},
		{
			name:      "empty value disables schedule",
			values:    []domain.ConfigValue{schedule("paused", "  ")},
			wantCount: 0,
		},
		{
			name:    "list error propagates",
			listErr: fmt.Errorf("connection refused"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := &testutil.MockConfigValueRepo{
				Values: tt.values,
				ListFn: func(_ context.Context) ([]domain.ConfigValue, error) {
					if tt.listErr != nil {
						return nil, tt.listErr
					}
					return tt.values, nil
				},
			}

			scheduler := NewScheduler(&recordingTrigger{}, repo, discardLogger())
			t.Cleanup(func() { scheduler.Stop() })

			err := scheduler.Start(context.Background())

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Len(t, scheduler.entries, tt.wantCount)
			}
		})
	}
}

func TestScheduler_Reload(t *testing.T) {
	t.Parallel()

	repo := &testutil.MockConfigValueRepo{Values: []domain.ConfigValue{schedule("hourly", "0 * * * *")}}
	scheduler := NewScheduler(&recordingTrigger{}, repo, discardLogger())
	t.Cleanup(func() { scheduler.Stop() })

	require.NoError(t, scheduler.Start(context.Background()))
	assert.Len(t, scheduler.entries, 1)

	repo.Values = []domain.ConfigValue{
		schedule("nightly", "0 2 * * *"),
		schedule("weekly", "0 3 * * 0"),
	}
	require.NoError(t, scheduler.Reload(context.Background()))

	keys := scheduler.Schedules()
	sort.Strings(keys)
	assert.Equal(t, []string{"nightly", "weekly"}, keys)
	assert.Len(t, scheduler.cron.Entries(), 2, "old cron entries are removed")
}

func TestScheduler_InvalidCronExpression(t *testing.T) {
	t.Parallel()

	repo := &testutil.MockConfigValueRepo{Values: []domain.ConfigValue{
		schedule("bad", "not a cron"),
		schedule("good", "*/5 * * * *"),
	}}
	scheduler := NewScheduler(&recordingTrigger{}, repo, discardLogger())
	t.Cleanup(func() { scheduler.Stop() })

	require.NoError(t, scheduler.Start(context.Background()))

	assert.Len(t, scheduler.entries, 1)
	_, hasGood := scheduler.entries["good"]
	assert.True(t, hasGood, "valid cron schedule should be registered")
	_, hasBad := scheduler.entries["bad"]
	assert.False(t, hasBad, "invalid cron schedule should be skipped")
}

func TestScheduler_FireTriggersScheduledRun(t *testing.T) {
	t.Parallel()

	trigger := &recordingTrigger{}
	scheduler := NewScheduler(trigger, &testutil.MockConfigValueRepo{}, discardLogger())

	scheduler.fire("nightly")
	trigger.err = domain.ErrConflict("concurrency limit reached (1 active runs)")
	assert.NotPanics(t, func() { scheduler.fire("nightly") })

	require.Len(t, trigger.reqs, 2)
	req := trigger.reqs[0]
	assert.Equal(t, SchedulerActor, req.Actor)
	assert.Equal(t, domain.TriggerTypeScheduled, req.TriggerType)
	assert.Equal(t, map[string]string{"schedule": "nightly"}, req.Params)
}

func TestScheduler_Stop(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(&recordingTrigger{}, &testutil.MockConfigValueRepo{}, discardLogger())
	require.NoError(t, scheduler.Start(context.Background()))

	assert.NotPanics(t, func() {
		scheduler.Stop()
	})
}
