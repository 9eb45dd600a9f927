package syncengine

import (
	"context"
	"sync/atomic"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// maxConcurrentCycles bounds in-flight scan cycles. When the ceiling is hit,
// extra requests are dropped, not queued: a cycle sweeps everything anyway,
// so a queued run would only repeat the work.
const maxConcurrentCycles = 2

// settingsRefreshTimeout bounds the per-tick settings read so a stalled
// central node cannot wedge the scheduler loop.
const settingsRefreshTimeout = 10 * time.Second

// Scheduler drives periodic reconciliation. The interval and the enable flag
// live in system settings and are re-read every tick, so an operator change
// takes effect without a restart.
type Scheduler struct {
	engine   *Engine
	settings *config.SystemConfig
	clock    clockwork.Clock

	trigger    chan struct{}
	reschedule chan struct{}
	running    atomic.Int32
	logger     *logrus.Logger
}

func NewScheduler(engine *Engine, settings *config.SystemConfig, clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		engine:     engine,
		settings:   settings,
		clock:      clock,
		trigger:    make(chan struct{}, 1),
		reschedule: make(chan struct{}, 1),
		logger:     config.GetLogger(),
	}
}

// TriggerNow requests an immediate cycle, regardless of the scheduled-sync
// flag. Fire and forget: if a manual trigger is already queued, this one
// coalesces into it.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Reschedule tells the loop to re-read settings and reset its ticker without
// waiting for the current interval to elapse.
func (s *Scheduler) Reschedule() {
	select {
	case s.reschedule <- struct{}{}:
	default:
	}
}

// Start blocks until ctx is cancelled. Cycles run on their own goroutines so
// a slow scan never stalls the ticker.
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.currentInterval()
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	s.logger.WithField("interval", interval.String()).Info("sync scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return

		case <-ticker.Chan():
			if next := s.refreshInterval(ctx); next != interval {
				interval = next
				ticker.Reset(interval)
				s.logger.WithField("interval", interval.String()).Info("sync interval changed")
			}
			if s.settings.Snapshot().ScheduledSync {
				s.launchCycle(ctx, "scheduled")
			}

		case <-s.trigger:
			s.launchCycle(ctx, "manual")

		case <-s.reschedule:
			if next := s.refreshInterval(ctx); next != interval {
				interval = next
				ticker.Reset(interval)
				s.logger.WithField("interval", interval.String()).Info("sync interval changed")
			}
		}
	}
}

func (s *Scheduler) currentInterval() time.Duration {
	sec := s.settings.Snapshot().SyncInterval
	if sec <= 0 {
		sec = config.DefaultSyncIntervalSeconds
	}
	return time.Duration(sec) * time.Second
}

func (s *Scheduler) refreshInterval(ctx context.Context) time.Duration {
	rctx, cancel := context.WithTimeout(ctx, settingsRefreshTimeout)
	defer cancel()
	s.settings.Refresh(rctx)
	return s.currentInterval()
}

// launchCycle starts a cycle unless the concurrency ceiling is already
// reached, in which case the request is dropped with a log line.
func (s *Scheduler) launchCycle(ctx context.Context, origin string) {
	if s.running.Add(1) > maxConcurrentCycles {
		s.running.Add(-1)
		s.logger.WithField("origin", origin).Warn("sync cycle dropped, concurrency ceiling reached")
		return
	}
	go func() {
		defer s.running.Add(-1)
		start := s.clock.Now()
		res := s.engine.RunCycle(ctx)
		s.logger.WithFields(logrus.Fields{
			"origin":    origin,
			"elapsed":   s.clock.Since(start).String(),
			"inserted":  res.Inserted,
			"updated":   res.Updated,
			"aligned":   res.Aligned,
			"conflicts": res.Conflicts,
			"skipped":   res.Skipped,
			"errors":    res.Errors,
		}).Info("sync cycle finished")
	}()
}
