package reward

import (
	"context"
	"time"

	"cloudbot/pkg/config"
	"cloudbot/pkg/featureflags"
	"cloudbot/pkg/task"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler enqueues the weekly distribution every Monday.
type Scheduler struct {
	enqueuer task.Enqueuer
	flags    featureflags.FeatureFlag
	hour     int
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

type SchedulerParams struct {
	fx.In
	Enqueuer task.Enqueuer
	Config   *config.Config
	Flags    featureflags.FeatureFlag `optional:"true"`
}

func NewScheduler(p SchedulerParams) *Scheduler {
	flags := p.Flags
	if flags == nil {
		flags = featureflags.Static{}
	}
	return &Scheduler{
		enqueuer: p.Enqueuer,
		flags:    flags,
		hour:     p.Config.Reward.Hour,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// StartScheduler runs the scheduler for the lifetime of the fx app when enabled.
func StartScheduler(lc fx.Lifecycle, s *Scheduler, cfg *config.Config) {
	if !cfg.Reward.ScheduleEnabled {
		zap.L().Info("[Scheduler] weekly reward schedule disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			s.done = make(chan struct{})
			go s.run(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.cancel()
			select {
			case <-s.done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	zap.L().Info("[Scheduler] started weekly reward scheduler")

	for {
		now := s.now()
		next := nextWeeklyRun(now, time.Monday, s.hour)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", next.Sub(now)),
		)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
			s.enqueue(ctx)
		case <-ctx.Done():
			timer.Stop()
			zap.L().Info("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context) {
	if !s.flags.Enabled(ctx, featureflags.WeeklyRewards, true) {
		zap.L().Warn("[Scheduler] weekly rewards paused by feature flag")
		return
	}

	enqueued, err := EnqueueDistribution(ctx, s.enqueuer, s.now(), "scheduler")
	switch {
	case err != nil:
		zap.L().Error("[Scheduler] failed to enqueue weekly rewards", zap.Error(err))
	case !enqueued:
		zap.L().Info("[Scheduler] weekly rewards already enqueued for this cycle")
	default:
		zap.L().Info("[Scheduler] weekly rewards enqueued")
	}
}

// nextWeeklyRun returns the next instant strictly after now that falls on
// weekday at hour:00 UTC.
func nextWeeklyRun(now time.Time, weekday time.Weekday, hour int) time.Time {
	now = now.UTC()
	days := (int(weekday) - int(now.Weekday()) + 7) % 7
	next := time.Date(now.Year(), now.Month(), now.Day()+days, hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}
