package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultStatsSchedule is how often StatsReporter samples the store.
const DefaultStatsSchedule = "@every 10m"

// StatsReporter periodically logs the store's size. The memory store grows
// without bound, so this is the only signal of how much it holds.
type StatsReporter struct {
	store    Store
	logger   *slog.Logger
	cron     *cron.Cron
	schedule string
	record   func(context.Context, Stats)
}

// NewStatsReporter validates schedule (standard cron spec or @every
// descriptor). record may be nil.
func NewStatsReporter(store Store, schedule string, logger *slog.Logger, record func(context.Context, Stats)) (*StatsReporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse stats schedule %q: %w", schedule, err)
	}
	r := &StatsReporter{
		store:    store,
		logger:   logger,
		cron:     cron.New(),
		schedule: schedule,
		record:   record,
	}
	if _, err := r.cron.AddFunc(schedule, func() {
		_, _ = r.Report(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("schedule stats: %w", err)
	}
	return r, nil
}

func (r *StatsReporter) Start() {
	r.cron.Start()
	r.logger.Info("session stats reporter started", "schedule", r.schedule)
}

// Stop halts the schedule and waits for a running report to finish.
func (r *StatsReporter) Stop() {
	<-r.cron.Stop().Done()
}

// Report samples the store once.
func (r *StatsReporter) Report(ctx context.Context) (Stats, error) {
	st, err := r.store.Stats(ctx)
	if err != nil {
		r.logger.Error("session stats failed", "error", err)
		return Stats{}, err
	}
	r.logger.Info("session store stats", "sessions", st.Sessions, "turns", st.Turns)
	if r.record != nil {
		r.record(ctx, st)
	}
	return st, nil
}
