package engine

import (
	"context"
	"time"

	"attendbot/internal/flagstore"
	logx "attendbot/pkg/logx"
)

// collectStale removes success and retry flags whose embedded date is not
// today, so day-scoped state never leaks into the next day. Pause flags carry
// no date and are never touched. Runs at the start of every pass; individual
// delete failures are logged and skipped so one bad key cannot wedge the GC.
func (e *Engine) collectStale(ctx context.Context, today time.Time) int {
	stamp := today.Format(flagstore.DateLayout)
	removed := 0
	for _, prefix := range []string{"success_", "retry_"} {
		keys, err := e.flags.ListByPrefix(ctx, prefix)
		if err != nil {
			e.log.Warn("flag gc: list failed", logx.String("prefix", prefix), logx.Err(err))
			continue
		}
		for _, key := range keys {
			date := flagstore.KeyDate(key)
			if date == "" || date == stamp {
				continue
			}
			if err := e.flags.Delete(ctx, key); err != nil {
				e.log.Warn("flag gc: delete failed", logx.String("key", key), logx.Err(err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		e.log.Info("flag gc: removed stale flags", logx.Int("count", removed))
	}
	return removed
}
