package engine

import (
	"context"
	"fmt"
	"strings"

	"attendbot/internal/flagstore"
)

// Pauses manages the two pause kinds. An indefinite pause suppresses every
// attempt for the account until cleared. A once-pause targets one course and
// is consumed the first time the engine observes it.
type Pauses struct {
	flags flagstore.Store
}

// PauseKind reports which pause, if any, suppressed an attempt.
type PauseKind int

const (
	PauseNone PauseKind = iota
	PauseIndefinite
	PauseOnce
)

// ShouldSkip is called by the engine right before dispatch. The indefinite
// pause is checked first and observing it has no side effect; only when no
// indefinite pause exists is the once-pause consulted, and a matching
// once-pause is deleted as part of the observation.
func (p *Pauses) ShouldSkip(ctx context.Context, account, course string) (PauseKind, error) {
	paused, err := p.flags.Exists(ctx, flagstore.PauseUserKey(account))
	if err != nil {
		return PauseNone, fmt.Errorf("check pause flag: %w", err)
	}
	if paused {
		return PauseIndefinite, nil
	}
	key := flagstore.PauseOnceKey(account, course)
	once, err := p.flags.Exists(ctx, key)
	if err != nil {
		return PauseNone, fmt.Errorf("check once-pause flag: %w", err)
	}
	if !once {
		return PauseNone, nil
	}
	if err := p.flags.Delete(ctx, key); err != nil {
		return PauseNone, fmt.Errorf("consume once-pause flag: %w", err)
	}
	return PauseOnce, nil
}

// SetIndefinite pauses every attempt for the account.
func (p *Pauses) SetIndefinite(ctx context.Context, account string) error {
	return p.flags.Create(ctx, flagstore.PauseUserKey(account))
}

// ClearIndefinite resumes the account. Clearing an unpaused account is a no-op.
func (p *Pauses) ClearIndefinite(ctx context.Context, account string) error {
	return p.flags.Delete(ctx, flagstore.PauseUserKey(account))
}

// IsIndefinite reports whether the account carries an indefinite pause.
func (p *Pauses) IsIndefinite(ctx context.Context, account string) (bool, error) {
	return p.flags.Exists(ctx, flagstore.PauseUserKey(account))
}

// SetOnce skips the next observed occurrence of one course.
func (p *Pauses) SetOnce(ctx context.Context, account, course string) error {
	return p.flags.Create(ctx, flagstore.PauseOnceKey(account, course))
}

// OnceCourses lists the course tokens with a pending once-pause, in the
// whitespace-collapsed form used in flag keys.
func (p *Pauses) OnceCourses(ctx context.Context, account string) ([]string, error) {
	prefix := flagstore.PauseOncePrefix(account)
	keys, err := p.flags.ListByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	courses := make([]string, 0, len(keys))
	for _, k := range keys {
		courses = append(courses, strings.TrimPrefix(k, prefix))
	}
	return courses, nil
}

// ClearAll removes the indefinite pause and every pending once-pause. Used
// when an account is deleted.
func (p *Pauses) ClearAll(ctx context.Context, account string) error {
	if err := p.flags.Delete(ctx, flagstore.PauseUserKey(account)); err != nil {
		return err
	}
	keys, err := p.flags.ListByPrefix(ctx, flagstore.PauseOncePrefix(account))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := p.flags.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
