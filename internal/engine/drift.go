package engine

import (
	"context"
	"fmt"

	"attendbot/internal/registry"
	"attendbot/internal/timetable"
	logx "attendbot/pkg/logx"
)

// correctDrift reconciles the stored timetable with the time range the actor
// observed on the attendance page. The rewrite is idempotent: when the stored
// range already matches, nothing is written and nobody is notified. Drift
// correction is best-effort and never affects the attempt outcome.
func (e *Engine) correctDrift(ctx context.Context, acct registry.Account, course, observed string) {
	if observed == "" || acct.ScheduleFile == "" {
		return
	}
	if _, _, err := timetable.ParseTimeRange(observed); err != nil {
		e.log.Warn("drift: actor reported an unparseable time range",
			logx.String("account", acct.Username),
			logx.String("range", observed))
		return
	}
	old, changed, err := timetable.RewriteTime(acct.ScheduleFile, course, observed)
	if err != nil {
		e.log.Warn("drift: timetable rewrite failed",
			logx.String("account", acct.Username),
			logx.String("course", course),
			logx.Err(err))
		return
	}
	if !changed {
		return
	}
	e.log.Info("drift: timetable corrected",
		logx.String("account", acct.Username),
		logx.String("course", course),
		logx.String("old", old),
		logx.String("new", observed))
	e.notifier.Notify(ctx, acct.ChatID, fmt.Sprintf(
		"⏰ Schedule updated for %s: %s → %s (matched against the attendance page).",
		course, old, observed))
}
