package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"echotwin/pkg/logging"
)

const defaultTickInterval = 15 * time.Minute

// SchedulerConfig configures the tick scheduler.
type SchedulerConfig struct {
	Agent      *Agent
	Interval   time.Duration
	RunOnStart bool
	Logger     logging.Logger
}

// Scheduler drives the pipeline on a fixed interval using cron. Each
// firing is one tick. Shutdown waits for in-flight ticks; the run
// cursor only advances after a confirmed publish, so an aborted tick
// never leaves partial state behind.
type Scheduler struct {
	cron       *cron.Cron
	agent      *Agent
	interval   time.Duration
	runOnStart bool
	logger     logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultTickInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(),
		agent:      cfg.Agent,
		interval:   interval,
		runOnStart: cfg.RunOnStart,
		logger:     cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start registers the tick job and begins scheduling.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		s.agent.RunTick(s.ctx, time.Now().UTC())
	}); err != nil {
		return fmt.Errorf("schedule pipeline tick: %w", err)
	}

	s.cron.Start()
	s.logger.WithField("interval", s.interval.String()).Info("Pipeline scheduler started")

	if s.runOnStart {
		go s.agent.RunTick(s.ctx, time.Now().UTC())
	}
	return nil
}

// Stop cancels future ticks and waits for in-flight ones, up to the
// deadline of the given context.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.logger.Info("Pipeline scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Pipeline scheduler shutdown timed out")
	}
}
