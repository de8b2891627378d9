// Package advancer drives the round lifecycle on a fixed tick, adapted from
// the teacher's settlement scheduler loop: a mutex-guarded running flag, a
// ticker-driven goroutine, and a stop channel for graceful shutdown.
package advancer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"btc-tournament/internal/logging"
	"btc-tournament/internal/metrics"
	"btc-tournament/internal/reasonrule"
	"btc-tournament/internal/round"
)

// SchedulerConfig controls the advancer's tick cadence.
type SchedulerConfig struct {
	TickInterval time.Duration
	TickTimeout  time.Duration
}

// DefaultSchedulerConfig returns sane defaults: a tick every 5 seconds, each
// one bounded to 10 seconds so a stuck upstream call can't wedge the loop.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		TickInterval: 5 * time.Second,
		TickTimeout:  10 * time.Second,
	}
}

// Scheduler runs the round service's Tick on a fixed interval.
type Scheduler struct {
	roundSvc *round.Service
	metrics  *metrics.Registry
	config   *SchedulerConfig
	log      *logging.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler constructs a Scheduler. reg may be nil to disable tick-duration
// metric recording.
func NewScheduler(roundSvc *round.Service, reg *metrics.Registry, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	return &Scheduler{
		roundSvc: roundSvc,
		metrics:  reg,
		config:   config,
		log:      logging.Default().WithComponent("advancer"),
		stopChan: make(chan struct{}),
	}
}

// Start begins the tick loop in a background goroutine.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("advancer scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.log.Info("starting state advancer scheduler")

	s.wg.Add(1)
	go s.runLoop()

	return nil
}

// Stop halts the tick loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("advancer scheduler not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()

	s.log.Info("state advancer scheduler stopped")
	return nil
}

// IsRunning reports whether the tick loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.runTick()

	for {
		select {
		case <-ticker.C:
			s.runTick()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) runTick() {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("recovered from panic in advancer tick")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.TickTimeout)
	defer cancel()

	start := time.Now()
	err := s.roundSvc.Tick(ctx)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.TickDuration.Observe(elapsed.Seconds())
	}

	if err != nil {
		s.log.WithError(err).WithDuration(elapsed).Error("advancer tick failed")
		return
	}
	s.log.WithDuration(elapsed).Debug("advancer tick completed")
}

// SweepScheduler drives the Reason Rule Service's asynchronous outcome
// evaluator on a fixed interval, sharing the Scheduler's run/stop shape.
type SweepScheduler struct {
	store    reasonrule.PendingJudgmentStore
	klines   reasonrule.KlineProvider
	symbol   string
	flatPct  float64
	maxRows  int
	metrics  *metrics.Registry
	config   *SchedulerConfig
	log      *logging.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSweepScheduler constructs a SweepScheduler. reg may be nil to disable
// the evaluated-row counter.
func NewSweepScheduler(
	store reasonrule.PendingJudgmentStore,
	klines reasonrule.KlineProvider,
	symbol string,
	flatThresholdPct float64,
	maxRows int,
	reg *metrics.Registry,
	config *SchedulerConfig,
) *SweepScheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	return &SweepScheduler{
		store:    store,
		klines:   klines,
		symbol:   symbol,
		flatPct:  flatThresholdPct,
		maxRows:  maxRows,
		metrics:  reg,
		config:   config,
		log:      logging.Default().WithComponent("reasonrule-sweep"),
		stopChan: make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *SweepScheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweep scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.log.Info("starting reason rule sweep scheduler")

	s.wg.Add(1)
	go s.runLoop()

	return nil
}

// Stop halts the sweep loop and waits for the in-flight sweep to finish.
func (s *SweepScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweep scheduler not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()

	s.log.Info("reason rule sweep scheduler stopped")
	return nil
}

// IsRunning reports whether the sweep loop is active.
func (s *SweepScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *SweepScheduler) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.runSweep()

	for {
		select {
		case <-ticker.C:
			s.runSweep()
		case <-s.stopChan:
			return
		}
	}
}

func (s *SweepScheduler) runSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("recovered from panic in reason rule sweep")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.TickTimeout)
	defer cancel()

	evaluated, err := reasonrule.SweepPending(ctx, s.store, s.klines, s.symbol, s.flatPct, s.maxRows)
	if err != nil {
		s.log.WithError(err).Error("reason rule sweep failed")
		return
	}

	if s.metrics != nil && evaluated > 0 {
		s.metrics.SweepRows.Add(float64(evaluated))
	}
	if evaluated > 0 {
		s.log.WithField("evaluated", evaluated).Debug("reason rule sweep completed")
	}
}
