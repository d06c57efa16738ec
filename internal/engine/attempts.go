package engine

import (
	"context"
	"fmt"
	"time"

	"attendbot/internal/flagstore"
)

// Attempts tracks per-account-course-day attempt state through durable flags.
// No attempt counter is stored anywhere else: the flag set IS the state, so a
// restart mid-day resumes exactly where the previous process left off.
type Attempts struct {
	flags flagstore.Store
	max   int
}

// Current derives the attempt number to run next by probing retry flags from
// the highest attempt downward. Flag n present means attempt n already failed,
// so the next run is n+1. A result greater than max means the budget is
// exhausted for the day.
func (a *Attempts) Current(ctx context.Context, account, course string, day time.Time) (int, error) {
	for n := a.max; n >= 1; n-- {
		ok, err := a.flags.Exists(ctx, flagstore.RetryKey(account, course, day, n))
		if err != nil {
			return 0, fmt.Errorf("probe retry flag %d: %w", n, err)
		}
		if ok {
			return n + 1, nil
		}
	}
	return 1, nil
}

// Exhausted reports whether the day's attempt budget is spent.
func (a *Attempts) Exhausted(ctx context.Context, account, course string, day time.Time) (bool, error) {
	n, err := a.Current(ctx, account, course, day)
	if err != nil {
		return false, err
	}
	return n > a.max, nil
}

// HasSucceeded reports whether a success flag exists for the day.
func (a *Attempts) HasSucceeded(ctx context.Context, account, course string, day time.Time) (bool, error) {
	return a.flags.Exists(ctx, flagstore.SuccessKey(account, course, day))
}

// RecordSuccess writes the success flag and clears every retry flag for the
// day so a later pass in the same window resolves a clean state.
func (a *Attempts) RecordSuccess(ctx context.Context, account, course string, day time.Time) error {
	if err := a.flags.Create(ctx, flagstore.SuccessKey(account, course, day)); err != nil {
		return fmt.Errorf("write success flag: %w", err)
	}
	for n := 1; n <= a.max; n++ {
		if err := a.flags.Delete(ctx, flagstore.RetryKey(account, course, day, n)); err != nil {
			return fmt.Errorf("clear retry flag %d: %w", n, err)
		}
	}
	return nil
}

// RecordFailure marks attempt n as failed. Only the latest retry flag is
// kept: writing flag n removes flag n-1, so the store holds at most one
// retry flag per account-course-day.
func (a *Attempts) RecordFailure(ctx context.Context, account, course string, day time.Time, attempt int) error {
	if err := a.flags.Create(ctx, flagstore.RetryKey(account, course, day, attempt)); err != nil {
		return fmt.Errorf("write retry flag %d: %w", attempt, err)
	}
	if attempt > 1 {
		if err := a.flags.Delete(ctx, flagstore.RetryKey(account, course, day, attempt-1)); err != nil {
			return fmt.Errorf("drop retry flag %d: %w", attempt-1, err)
		}
	}
	return nil
}
