// Package engine is the attendance scheduling core: it decides, for every
// linked account, whether a qualifying session is active right now and drives
// the site-automation actor with bounded retries, durable attempt
// bookkeeping, and pause semantics.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"attendbot/internal/flagstore"
	"attendbot/internal/registry"
	logx "attendbot/pkg/logx"
)

// OutcomeStatus is the three-way contract of the site-automation actor.
type OutcomeStatus int

const (
	// OutcomeSuccess: the attendance action completed.
	OutcomeSuccess OutcomeStatus = iota
	// OutcomeLoginRejected: credentials invalid; terminal, never retried.
	OutcomeLoginRejected
	// OutcomeRetriable: anything else (target not found, timeout, window
	// closed); advances the attempt counter.
	OutcomeRetriable
)

// Outcome is the actor's report for one attempt.
type Outcome struct {
	Status OutcomeStatus

	// Reason describes a retriable failure. It is surfaced verbatim in the
	// user notification and never inspected for control flow.
	Reason string

	// ObservedTime optionally carries the ground-truth "HH:MM - HH:MM" range
	// the actor saw on the attendance page, used for drift correction.
	ObservedTime string
}

// Actor performs the actual login-and-submit against the remote site.
// Implementations own their own timeout budget; the engine only classifies
// the result. An error return (or panic) is treated as a retriable failure
// with a generic reason so bookkeeping never gets skipped.
type Actor interface {
	Attempt(ctx context.Context, acct registry.Account, course string) (Outcome, error)
}

// Notifier delivers a text to an account's chat. Fire-and-forget: delivery
// failure must never abort a pass.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string)
}

// AccountSource yields the per-pass read-only account snapshot.
type AccountSource interface {
	Snapshot() ([]registry.Account, error)
}

// Config controls one evaluation pass.
type Config struct {
	// Window is how long after a session's start the action stays eligible.
	Window time.Duration // default 15m
	// MaxAttempts bounds retriable attempts per account-course-day.
	MaxAttempts int // default 3
	// Concurrency caps in-flight actor invocations.
	Concurrency int // default 4
	// Stagger is the per-account enqueue delay step that smooths login
	// bursts against the remote site.
	Stagger time.Duration // default 2s
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 15 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Stagger <= 0 {
		c.Stagger = 2 * time.Second
	}
	return c
}

// PassReport summarizes one evaluation pass.
type PassReport struct {
	Started   time.Time
	Duration  time.Duration
	Accounts  int
	Skipped   int
	Dispatch  int
	Succeeded int
	Failed    int
}

// Engine wires the core together. Construct with New; zero value is not usable.
type Engine struct {
	cfg      Config
	log      logx.Logger
	flags    flagstore.Store
	accounts AccountSource
	actor    Actor
	notifier Notifier

	attempts *Attempts
	pauses   *Pauses

	// now is swappable for tests.
	now func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	last    PassReport
}

func New(cfg Config, flags flagstore.Store, accounts AccountSource, actor Actor, notifier Notifier, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		log:      log,
		flags:    flags,
		accounts: accounts,
		actor:    actor,
		notifier: notifier,
		attempts: &Attempts{flags: flags, max: cfg.MaxAttempts},
		pauses:   &Pauses{flags: flags},
		now:      time.Now,
	}
}

// Pauses exposes the pause manager for the command layer.
func (e *Engine) Pauses() *Pauses { return e.pauses }

// Attempts exposes the attempt tracker (used by status commands and tests).
func (e *Engine) Attempts() *Attempts { return e.attempts }
