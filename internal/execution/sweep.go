// ABOUTME: Stuck-execution sweep and its cron-driven scheduler
// ABOUTME: Force-fails running records older than a threshold; runs once at startup with no threshold

package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// sweepTimeout bounds a single scheduled sweep.
const sweepTimeout = 30 * time.Second

// StuckMessage is the result recorded on executions reclaimed by the sweep.
func StuckMessage(timeoutMinutes int) string {
	return fmt.Sprintf("Execution timed out after %d minutes and was automatically cleaned up", timeoutMinutes)
}

// SweepStuck fails every running execution created more than timeoutMinutes
// ago and returns how many were updated. Records already terminal are never
// matched, so repeated or concurrent sweeps are harmless.
func (m *Manager) SweepStuck(ctx context.Context, timeoutMinutes int) (int, error) {
	if timeoutMinutes < 0 {
		timeoutMinutes = 0
	}
	cutoff := m.now().Add(-time.Duration(timeoutMinutes) * time.Minute)

	ids, err := m.store.FailStuckExecutions(ctx, cutoff, StuckMessage(timeoutMinutes))
	if err != nil {
		return 0, fmt.Errorf("sweeping stuck executions: %w", err)
	}

	if len(ids) > 0 {
		m.metrics.SweepReclaimed.Add(ctx, int64(len(ids)))
		m.logger.Warn("cleaned up stuck executions",
			"count", len(ids),
			"timeout_minutes", timeoutMinutes,
			"execution_ids", ids,
		)
	}
	return len(ids), nil
}

// cronParser accepts standard 5-field specs and descriptors like "@every 5m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ValidateSchedule reports whether spec is a schedule the Sweeper accepts.
func ValidateSchedule(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return nil
}

// SweeperConfig holds the dependencies for the Sweeper.
type SweeperConfig struct {
	Manager    *Manager
	Logger     *slog.Logger
	Schedule   string        // defaults to "@every 5m"
	StuckAfter time.Duration // defaults to 10 minutes
}

// Sweeper runs SweepStuck on a cron schedule.
type Sweeper struct {
	manager        *Manager
	logger         *slog.Logger
	schedule       string
	timeoutMinutes int

	mu     sync.Mutex
	cron   *cronlib.Cron
	cancel context.CancelFunc
}

// NewSweeper validates the schedule and builds a stopped Sweeper.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@every 5m"
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}

	stuckAfter := cfg.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = 10 * time.Minute
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		manager:        cfg.Manager,
		logger:         logger.With("component", "sweeper"),
		schedule:       schedule,
		timeoutMinutes: int(stuckAfter / time.Minute),
	}, nil
}

// RunStartup reclaims every running execution. Nothing can legitimately be in
// flight before this process started serving.
func (s *Sweeper) RunStartup(ctx context.Context) (int, error) {
	count, err := s.manager.SweepStuck(ctx, 0)
	if err != nil {
		return 0, err
	}
	s.logger.Info("startup sweep complete", "reclaimed", count)
	return count, nil
}

// Start registers the recurring sweep and starts the cron scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c := cronlib.New(
		cronlib.WithParser(cronParser),
		cronlib.WithLogger(cronLogger{s.logger}),
		cronlib.WithChain(cronlib.Recover(cronLogger{s.logger}), cronlib.SkipIfStillRunning(cronLogger{s.logger})),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.sweepOnce(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("scheduling sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.logger.Info("stuck execution sweep scheduled",
		"schedule", s.schedule,
		"timeout_minutes", s.timeoutMinutes,
	)
	return nil
}

// Stop halts the schedule, cancels a sweep in progress and waits for it to
// return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}

// sweepOnce never returns an error: a failed sweep is logged and the next
// scheduled run tries again.
func (s *Sweeper) sweepOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	count, err := s.manager.SweepStuck(ctx, s.timeoutMinutes)
	if err != nil {
		s.logger.Error("stuck execution sweep failed", "error", err)
		return
	}
	s.logger.Debug("stuck execution sweep complete", "reclaimed", count)
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
