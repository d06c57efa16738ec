package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"attendbot/internal/registry"
	"attendbot/internal/timetable"
	logx "attendbot/pkg/logx"
)

// job is one eligible account-course pair queued for dispatch.
type job struct {
	acct    registry.Account
	course  string
	attempt int
	delay   time.Duration
}

// SetClock overrides the engine's time source. The configured timezone is
// applied here: hand in a func that returns time.Now().In(loc).
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Report returns the summary of the most recent completed pass.
func (e *Engine) Report() PassReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// RunPass executes one full evaluation pass: garbage-collect stale flags,
// resolve the current session for every account, filter by success flag,
// pause state, and attempt budget, then dispatch the survivors through the
// concurrency gate with a per-job stagger. Returns once every dispatched
// attempt has completed its bookkeeping.
func (e *Engine) RunPass(ctx context.Context) PassReport {
	if !e.running.CompareAndSwap(false, true) {
		e.log.Warn("pass already running, skipping")
		return PassReport{}
	}
	defer e.running.Store(false)

	now := e.now()
	report := PassReport{Started: now}
	defer func() {
		report.Duration = time.Since(now)
		e.mu.Lock()
		e.last = report
		e.mu.Unlock()
	}()

	e.collectStale(ctx, now)

	accounts, err := e.accounts.Snapshot()
	if err != nil {
		e.log.Error("pass aborted: account snapshot failed", logx.Err(err))
		return report
	}
	report.Accounts = len(accounts)

	var jobs []job
	for _, acct := range accounts {
		j, ok := e.evaluate(ctx, acct, now)
		if !ok {
			report.Skipped++
			continue
		}
		// Stagger counts eligible jobs only, so a long roster of idle
		// accounts does not delay the accounts that actually have class.
		j.delay = time.Duration(len(jobs)) * e.cfg.Stagger
		jobs = append(jobs, j)
	}
	report.Dispatch = len(jobs)
	if len(jobs) == 0 {
		return report
	}

	e.log.Info("dispatching attendance jobs",
		logx.Int("jobs", len(jobs)),
		logx.Int("concurrency", e.cfg.Concurrency))

	sem := semaphore.NewWeighted(int64(e.cfg.Concurrency))
	var wg sync.WaitGroup
	var succeeded, failed atomic.Int64
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			if !sleepCtx(ctx, j.delay) {
				return
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			if e.runJob(ctx, j, now) {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
		}(j)
	}
	wg.Wait()
	report.Succeeded = int(succeeded.Load())
	report.Failed = int(failed.Load())
	e.log.Info("pass complete",
		logx.Int("dispatched", report.Dispatch),
		logx.Int("succeeded", report.Succeeded),
		logx.Int("failed", report.Failed))
	return report
}

// evaluate runs the sequential eligibility checks for one account. The
// ordering matters: the success-flag check precedes the pause check so a
// once-pause is never burned on a session that is already attended, and the
// pause check precedes the budget check so pausing an exhausted course stays
// a no-op rather than consuming the once-flag.
func (e *Engine) evaluate(ctx context.Context, acct registry.Account, now time.Time) (job, bool) {
	log := e.log.With(logx.String("account", acct.Username))

	tt, err := timetable.Load(acct.ScheduleFile)
	if err != nil {
		log.Warn("timetable unreadable, skipping account", logx.Err(err))
		return job{}, false
	}
	sess := tt.Current(now, e.cfg.Window)
	if sess == nil {
		log.Debug("no session in window")
		return job{}, false
	}
	log = log.With(logx.String("course", sess.Course))

	done, err := e.attempts.HasSucceeded(ctx, acct.Username, sess.Course, now)
	if err != nil {
		log.Error("success-flag check failed, skipping account", logx.Err(err))
		return job{}, false
	}
	if done {
		log.Debug("already attended today")
		return job{}, false
	}

	kind, err := e.pauses.ShouldSkip(ctx, acct.Username, sess.Course)
	if err != nil {
		log.Error("pause check failed, skipping account", logx.Err(err))
		return job{}, false
	}
	switch kind {
	case PauseIndefinite:
		log.Info("account paused, skipping")
		e.notifier.Notify(ctx, acct.ChatID, fmt.Sprintf(
			"⏸️ Skipped attendance for %s (paused). Use /resume to turn it back on.",
			sess.Course))
		return job{}, false
	case PauseOnce:
		log.Info("once-pause consumed, skipping")
		e.notifier.Notify(ctx, acct.ChatID, fmt.Sprintf(
			"⏭️ Skipped %s this time as requested. Attendance resumes next session.",
			sess.Course))
		return job{}, false
	}

	attempt, err := e.attempts.Current(ctx, acct.Username, sess.Course, now)
	if err != nil {
		log.Error("attempt probe failed, skipping account", logx.Err(err))
		return job{}, false
	}
	if attempt > e.cfg.MaxAttempts {
		log.Debug("attempt budget exhausted")
		return job{}, false
	}
	return job{acct: acct, course: sess.Course, attempt: attempt}, true
}

// runJob invokes the actor for one eligible job and applies the outcome to
// flags and notifications. Returns true on attendance success.
func (e *Engine) runJob(ctx context.Context, j job, day time.Time) bool {
	log := e.log.With(
		logx.String("account", j.acct.Username),
		logx.String("course", j.course),
		logx.Int("attempt", j.attempt))
	log.Info("attempting attendance")

	outcome := e.invoke(ctx, j.acct, j.course)

	switch outcome.Status {
	case OutcomeSuccess:
		log.Info("attendance submitted")
		if err := e.attempts.RecordSuccess(ctx, j.acct.Username, j.course, day); err != nil {
			log.Error("success bookkeeping failed", logx.Err(err))
		}
		e.correctDrift(ctx, j.acct, j.course, outcome.ObservedTime)
		e.notifier.Notify(ctx, j.acct.ChatID, fmt.Sprintf(
			"✅ Attendance submitted for %s.", j.course))
		return true

	case OutcomeLoginRejected:
		// Terminal: retrying with the same credentials cannot help, so no
		// retry flag is written and the next pass will try fresh.
		log.Warn("login rejected")
		e.notifier.Notify(ctx, j.acct.ChatID, fmt.Sprintf(
			"❌ Login failed while attending %s. Please check your credentials with /mystatus and /setup.",
			j.course))
		return false

	default:
		log.Warn("attempt failed", logx.String("reason", outcome.Reason))
		if err := e.attempts.RecordFailure(ctx, j.acct.Username, j.course, day, j.attempt); err != nil {
			log.Error("failure bookkeeping failed", logx.Err(err))
		}
		// The give-up check comes first so a budget of one reports the
		// spent budget, not a retry that will never happen.
		switch {
		case j.attempt >= e.cfg.MaxAttempts:
			e.notifier.Notify(ctx, j.acct.ChatID, fmt.Sprintf(
				"❌ Gave up on %s after %d attempts. Last error: %s",
				j.course, e.cfg.MaxAttempts, outcome.Reason))
		case j.attempt == 1:
			e.notifier.Notify(ctx, j.acct.ChatID, fmt.Sprintf(
				"⚠️ Could not attend %s (attempt 1/%d): %s. Retrying on the next pass.",
				j.course, e.cfg.MaxAttempts, outcome.Reason))
		}
		return false
	}
}

// invoke calls the actor with panic isolation. A panic or a plain error from
// the actor is folded into a retriable outcome so bookkeeping always runs.
func (e *Engine) invoke(ctx context.Context, acct registry.Account, course string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("actor panicked",
				logx.String("account", acct.Username),
				logx.Any("panic", r))
			out = Outcome{Status: OutcomeRetriable, Reason: "internal error during attempt"}
		}
	}()
	out, err := e.actor.Attempt(ctx, acct, course)
	if err != nil {
		return Outcome{Status: OutcomeRetriable, Reason: err.Error()}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
