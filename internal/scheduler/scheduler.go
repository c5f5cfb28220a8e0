// Package scheduler triggers the monthly payout run and the daily reconciliation.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reflink/platform/internal/clock"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/guard"
	"github.com/reflink/platform/internal/service"
)

// PayoutRunner executes a payout action.
type PayoutRunner interface {
	Run(ctx context.Context, action string) (*service.RunSummary, error)
}

// Config holds the trigger times, evaluated in UTC.
type Config struct {
	MonthlyDay  int
	MonthlyHour int
	DailyHour   int
	// Interval is how often the clock is checked. Defaults to one minute.
	Interval time.Duration
}

// Scheduler fires "monthly on MonthlyDay at MonthlyHour" and "daily at DailyHour",
// each at most once per period.
type Scheduler struct {
	runner PayoutRunner
	clock  clock.Clock
	guard  *guard.RunGuard
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	lastMonthly string
	lastDaily   string

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler. It does nothing until Start or Tick is called.
func New(runner PayoutRunner, clk clock.Clock, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MonthlyDay < 1 {
		cfg.MonthlyDay = 1
	}
	return &Scheduler{
		runner: runner,
		clock:  clk,
		guard:  guard.NewRunGuard(),
		cfg:    cfg,
		logger: logger,
	}
}

// Start checks the clock every Interval until Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("payout scheduler started",
		"monthly_day", s.cfg.MonthlyDay,
		"monthly_hour", s.cfg.MonthlyHour,
		"daily_hour", s.cfg.DailyHour,
		"interval", s.cfg.Interval,
	)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("payout scheduler stopped")
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for a running job to return.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Tick runs whichever triggers are due and returns the actions it started.
func (s *Scheduler) Tick(ctx context.Context) []string {
	now := s.clock.Now().UTC()
	var fired []string

	if day := now.Format("2006-01-02"); now.Hour() >= s.cfg.DailyHour && s.claimPeriod(&s.lastDaily, day) {
		fired = append(fired, service.ActionPending)
		s.runScheduled(ctx, service.ActionPending)
	}

	if month := now.Format("2006-01"); now.Day() == s.cfg.MonthlyDay && now.Hour() >= s.cfg.MonthlyHour &&
		s.claimPeriod(&s.lastMonthly, month) {
		fired = append(fired, service.ActionMonthly)
		s.runScheduled(ctx, service.ActionMonthly)
	}
	return fired
}

// claimPeriod records period as fired. It reports false if it already was.
func (s *Scheduler) claimPeriod(last *string, period string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *last == period {
		return false
	}
	*last = period
	return true
}

func (s *Scheduler) runScheduled(ctx context.Context, action string) {
	summary, err := s.Run(ctx, action)
	if err != nil {
		s.logger.Error("scheduled payout run failed", "action", action, "error", err)
		return
	}
	s.logger.Info("scheduled payout run finished",
		"action", action,
		"created", summary.Created,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"exhausted", summary.Exhausted,
		"total_paid", summary.TotalPaid,
	)
}

// Run executes action unless the same action is already running in this process.
// Manual triggers go through here too.
func (s *Scheduler) Run(ctx context.Context, action string) (*service.RunSummary, error) {
	key := "payout." + action
	if res := s.guard.Acquire(ctx, key); !res.Allowed {
		return nil, domain.ErrConflict(res.Reason)
	}
	defer s.guard.Release(key)
	return s.runner.Run(ctx, action)
}
