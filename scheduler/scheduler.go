// Package scheduler runs a callback on a fixed cadence of whole seconds.
//
// The cadence is a six-field cron expression with a seconds field, "*/N * * * * *", so ticks
// land on wall-clock second boundaries divisible by N. The seconds field stops at 59, so longer
// intervals run as "@every <N>s" counted from Start instead. The job is periodic until Stop; a tick
// that fails or panics is logged and the next tick still fires.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultInterval is used when a non-positive interval is given.
	DefaultInterval = 5
	// MaxAlignedInterval is the longest interval expressible in the cron seconds field.
	MaxAlignedInterval = 59
)

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithName labels log lines of this scheduler.
func WithName(name string) Option {
	return func(s *Scheduler) {
		s.name = name
	}
}

type Scheduler struct {
	spec     string
	name     string
	callback func() error
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	runs    atomic.Int64
}

// New builds a scheduler firing callback every intervalSeconds. It does not start it.
// Intervals up to MaxAlignedInterval are aligned to the wall clock; longer ones are not.
func New(intervalSeconds int, callback func() error, opts ...Option) *Scheduler {
	if intervalSeconds <= 0 {
		intervalSeconds = DefaultInterval
	}
	s := &Scheduler{
		spec:     cronSpec(intervalSeconds),
		name:     "poll",
		callback: callback,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cronSpec(seconds int) string {
	if seconds > MaxAlignedInterval {
		return fmt.Sprintf("@every %ds", seconds)
	}
	return fmt.Sprintf("*/%d * * * * *", seconds)
}

// Spec returns the cron expression driving the scheduler.
func (s *Scheduler) Spec() string {
	return s.spec
}

// Runs returns how many ticks have invoked the callback so far.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Start begins firing. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{s.logger})))
	if _, err := c.AddFunc(s.spec, s.tick); err != nil {
		return fmt.Errorf("scheduler: %s: %w", s.spec, err)
	}
	c.Start()
	s.cron = c
	s.running = true
	return nil
}

// Stop halts future ticks and waits for a running callback to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Scheduler) tick() {
	s.runs.Add(1)
	if err := s.callback(); err != nil {
		s.logger.Warn("Scheduled task failed", "name", s.name, "err", err)
	}
}

// cronLogger adapts slog to cron.Logger for the Recover wrapper.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}
