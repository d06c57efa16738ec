// Package trigger fires the engine's evaluation pass on a fixed interval.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "attendbot/pkg/logx"
)

type Config struct {
	// Interval between passes; @every semantics. Default 1m.
	Interval time.Duration
	// Timezone is an IANA name, e.g. "Asia/Jakarta". Session resolution uses
	// wall-clock time in this zone. Empty means the host zone.
	Timezone string
	// RunOnStart fires one pass immediately instead of waiting a full
	// interval, so a restart mid-session does not miss the window.
	RunOnStart bool
}

// Runner is the engine side of the trigger.
type Runner func(ctx context.Context)

type Service struct {
	cfg Config
	log logx.Logger
	run Runner

	mu  sync.Mutex
	c   *cron.Cron
	loc *time.Location
}

func New(cfg Config, run Runner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Service{cfg: cfg, log: log, run: run}
}

// Location returns the resolved timezone, falling back to the host zone when
// the configured name does not load.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc == nil {
		s.loc = s.loadLocation()
	}
	return s.loc
}

func (s *Service) loadLocation() *time.Location {
	if s.cfg.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		s.log.Warn("unknown timezone, using host zone", logx.String("tz", s.cfg.Timezone))
		return time.Local
	}
	return loc
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if s.loc == nil {
		s.loc = s.loadLocation()
	}
	s.c = cron.New(cron.WithLocation(s.loc))

	job := func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("pass panicked", logx.Any("panic", r))
			}
		}()
		s.run(ctx)
	}
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := s.c.AddFunc(spec, job); err != nil {
		s.c = nil
		return fmt.Errorf("register pass schedule: %w", err)
	}
	s.c.Start()
	s.log.Info("trigger started",
		logx.Duration("interval", s.cfg.Interval),
		logx.String("tz", s.loc.String()))

	if s.cfg.RunOnStart {
		go job()
	}
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger stopped")
}
