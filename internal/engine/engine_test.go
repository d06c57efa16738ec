package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"attendbot/internal/flagstore"
	"attendbot/internal/registry"
	logx "attendbot/pkg/logx"
)

type fakeActor struct {
	mu    sync.Mutex
	calls int
	fn    func(acct registry.Account, course string) (Outcome, error)
}

func (a *fakeActor) Attempt(_ context.Context, acct registry.Account, course string) (Outcome, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.fn(acct, course)
}

func (a *fakeActor) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Notify(_ context.Context, chatID int64, text string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, fmt.Sprintf("%d|%s", chatID, text))
	n.mu.Unlock()
}

func (n *fakeNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type memRoster struct {
	accounts []registry.Account
	err      error
}

func (r *memRoster) Snapshot() ([]registry.Account, error) { return r.accounts, r.err }

// passClock is a fixed Monday 09:05, five minutes into the test session.
var passClock = time.Date(2024, 5, 6, 9, 5, 0, 0, time.UTC)

func writeSchedule(t *testing.T, rows string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedule_alice.csv")
	content := "CourseName,Day,Time\n" + rows
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestEngine(t *testing.T, actor Actor) (*Engine, *fakeNotifier, flagstore.Store) {
	t.Helper()
	return newTestEngineCfg(t, actor, Config{Stagger: time.Millisecond})
}

func newTestEngineCfg(t *testing.T, actor Actor, cfg Config) (*Engine, *fakeNotifier, flagstore.Store) {
	t.Helper()
	store, err := flagstore.Open(flagstore.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	roster := &memRoster{accounts: []registry.Account{{
		Username:     "alice",
		Password:     "secret",
		ChatID:       42,
		ScheduleFile: writeSchedule(t, "Math,Senin,09:00 - 10:40\n"),
	}}}
	notifier := &fakeNotifier{}
	e := New(cfg, store, roster, actor, notifier, logx.Nop())
	e.SetClock(func() time.Time { return passClock })
	return e, notifier, store
}

func TestAttemptsProbeDescending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := flagstore.Open(flagstore.Config{Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	a := &Attempts{flags: store, max: 3}
	day := passClock

	n, err := a.Current(ctx, "alice", "Math", day)
	if err != nil || n != 1 {
		t.Fatalf("fresh state: got %d, %v; want 1", n, err)
	}

	if err := a.RecordFailure(ctx, "alice", "Math", day, 1); err != nil {
		t.Fatal(err)
	}
	if n, _ = a.Current(ctx, "alice", "Math", day); n != 2 {
		t.Fatalf("after attempt 1 failed: got %d, want 2", n)
	}

	if err := a.RecordFailure(ctx, "alice", "Math", day, 2); err != nil {
		t.Fatal(err)
	}
	// Flag 1 must be gone: only the latest retry flag is kept.
	ok, _ := store.Exists(ctx, flagstore.RetryKey("alice", "Math", day, 1))
	if ok {
		t.Error("retry flag 1 still present after recording attempt 2")
	}

	if err := a.RecordFailure(ctx, "alice", "Math", day, 3); err != nil {
		t.Fatal(err)
	}
	exhausted, err := a.Exhausted(ctx, "alice", "Math", day)
	if err != nil || !exhausted {
		t.Fatalf("after 3 failures: exhausted=%v, err=%v; want true", exhausted, err)
	}
}

func TestRecordSuccessClearsRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := flagstore.Open(flagstore.Config{Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	a := &Attempts{flags: store, max: 3}
	day := passClock

	if err := a.RecordFailure(ctx, "alice", "Math", day, 2); err != nil {
		t.Fatal(err)
	}
	if err := a.RecordSuccess(ctx, "alice", "Math", day); err != nil {
		t.Fatal(err)
	}
	done, err := a.HasSucceeded(ctx, "alice", "Math", day)
	if err != nil || !done {
		t.Fatalf("HasSucceeded = %v, %v; want true", done, err)
	}
	keys, err := store.ListByPrefix(ctx, "retry_")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("retry flags remain after success: %v", keys)
	}
}

func TestPausePrecedence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := flagstore.Open(flagstore.Config{Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	p := &Pauses{flags: store}

	// Both pauses set: the indefinite one wins and the once-pause survives.
	if err := p.SetIndefinite(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := p.SetOnce(ctx, "alice", "Math"); err != nil {
		t.Fatal(err)
	}
	kind, err := p.ShouldSkip(ctx, "alice", "Math")
	if err != nil || kind != PauseIndefinite {
		t.Fatalf("ShouldSkip = %v, %v; want PauseIndefinite", kind, err)
	}
	if ok, _ := store.Exists(ctx, flagstore.PauseOnceKey("alice", "Math")); !ok {
		t.Error("once-pause was consumed while an indefinite pause was active")
	}

	// Indefinite cleared: the once-pause fires exactly once.
	if err := p.ClearIndefinite(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	kind, err = p.ShouldSkip(ctx, "alice", "Math")
	if err != nil || kind != PauseOnce {
		t.Fatalf("ShouldSkip = %v, %v; want PauseOnce", kind, err)
	}
	kind, err = p.ShouldSkip(ctx, "alice", "Math")
	if err != nil || kind != PauseNone {
		t.Fatalf("second ShouldSkip = %v, %v; want PauseNone", kind, err)
	}
}

func TestPauseOnceIsCourseScoped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := flagstore.Open(flagstore.Config{Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	p := &Pauses{flags: store}

	if err := p.SetOnce(ctx, "alice", "Math"); err != nil {
		t.Fatal(err)
	}
	kind, err := p.ShouldSkip(ctx, "alice", "Physics")
	if err != nil || kind != PauseNone {
		t.Fatalf("ShouldSkip for other course = %v, %v; want PauseNone", kind, err)
	}
	if ok, _ := store.Exists(ctx, flagstore.PauseOnceKey("alice", "Math")); !ok {
		t.Error("once-pause for Math consumed by a Physics check")
	}
}

func TestCollectStaleKeepsTodayAndPauses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	actor := &fakeActor{fn: func(registry.Account, string) (Outcome, error) {
		return Outcome{Status: OutcomeSuccess}, nil
	}}
	e, _, store := newTestEngine(t, actor)

	yesterday := passClock.AddDate(0, 0, -1)
	for _, key := range []string{
		flagstore.SuccessKey("alice", "Math", yesterday),
		flagstore.RetryKey("alice", "Math", yesterday, 2),
		flagstore.SuccessKey("alice", "Math", passClock),
		flagstore.PauseUserKey("bob"),
	} {
		if err := store.Create(ctx, key); err != nil {
			t.Fatal(err)
		}
	}

	removed := e.collectStale(ctx, passClock)
	if removed != 2 {
		t.Fatalf("removed %d flags, want 2", removed)
	}
	for key, want := range map[string]bool{
		flagstore.SuccessKey("alice", "Math", yesterday): false,
		flagstore.RetryKey("alice", "Math", yesterday, 2): false,
		flagstore.SuccessKey("alice", "Math", passClock):  true,
		flagstore.PauseUserKey("bob"):                     true,
	} {
		got, err := store.Exists(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("key %q: exists=%v, want %v", key, got, want)
		}
	}
}

func TestRunPassSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	actor := &fakeActor{fn: func(registry.Account, string) (Outcome, error) {
		return Outcome{Status: OutcomeSuccess}, nil
	}}
	e, notifier, store := newTestEngine(t, actor)

	report := e.RunPass(ctx)
	if report.Dispatch != 1 || report.Succeeded != 1 {
		t.Fatalf("report = %+v; want 1 dispatched, 1 succeeded", report)
	}
	ok, err := store.Exists(ctx, flagstore.SuccessKey("alice", "Math", passClock))
	if err != nil || !ok {
		t.Fatalf("success flag missing: %v, %v", ok, err)
	}
	msgs := notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "✅") {
		t.Fatalf("notifications = %v; want one success message", msgs)
	}

	// Second pass inside the same window: the success flag suppresses a
	// duplicate attempt.
	report = e.RunPass(ctx)
	if report.Dispatch != 0 {
		t.Fatalf("second pass dispatched %d jobs, want 0", report.Dispatch)
	}
	if actor.callCount() != 1 {
		t.Fatalf("actor called %d times, want 1", actor.callCount())
	}
}

func TestRunPassRetrySequenceNotifications(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	actor := &fakeActor{fn: func(registry.Account, string) (Outcome, error) {
		return Outcome{Status: OutcomeRetriable, Reason: "button not found"}, nil
	}}
	e, notifier, store := newTestEngine(t, actor)

	// Three passes exhaust the budget. Attempt 1 and attempt 3 notify,
	// attempt 2 is silent.
	for i := 0; i < 3; i++ {
		e.RunPass(ctx)
	}
	msgs := notifier.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d notifications %v, want 2", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "attempt 1/3") {
		t.Errorf("first notification %q lacks attempt 1/3", msgs[0])
	}
	if !strings.Contains(msgs[1], "Gave up") {
		t.Errorf("final notification %q is not the give-up message", msgs[1])
	}

	// Only the latest retry flag survives.
	keys, err := store.ListByPrefix(ctx, "retry_")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || !strings.HasSuffix(keys[0], "_attempt_3") {
		t.Fatalf("retry flags = %v; want only attempt 3", keys)
	}

	// A fourth pass dispatches nothing.
	report := e.RunPass(ctx)
	if report.Dispatch != 0 {
		t.Fatalf("exhausted account still dispatched: %+v", report)
	}
	if actor.callCount() != 3 {
		t.Fatalf("actor called %d times, want 3", actor.callCount())
	}
}

func TestRunPassSingleAttemptBudgetReportsGiveUp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	actor := &fakeActor{fn: func(registry.Account, string) (Outcome, error) {
		return Outcome{Status: OutcomeRetriable, Reason: "button not found"}, nil
	}}
	e, notifier, _ := newTestEngineCfg(t, actor, Config{Stagger: time.Millisecond, MaxAttempts: 1})

	// A budget of one means the first failure is also the last. The user
	// must hear "gave up", not a retry promise.
	e.RunPass(ctx)
	msgs := notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Gave up") {
		t.Fatalf("notifications = %v; want one give-up message", msgs)
	}

	if report := e.RunPass(ctx); report.Dispatch != 0 {
		t.Fatalf("exhausted account still dispatched: %+v", report)
	}
}

func TestRunPassLoginRejectedWritesNoRetryFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	actor := &fakeActor{fn: func(registry.Account, string) (Outcome, error) {
		return Outcome{Status: OutcomeLoginRejected}, nil
	}}
	e, notifier, store := newTestEngine(t, actor)

	e.RunPass(ctx)
	keys, err := store.ListByPrefix(ctx, "retry_")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("login rejection wrote retry flags: %v", keys)
	}
	msgs := notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Login failed") {
		t.Fatalf("notifications = %v; want one login-failed message", msgs)
	}
}

func TestRunPassActorErrorIsRetriable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	actor := &fakeActor{fn: func(registry.Account, string) (Outcome, error) {
		return Outcome{}, errors.New("net: connection refused")
	}}
	e, _, store := newTestEngine(t, actor)

	e.RunPass(ctx)
	ok, err := store.Exists(ctx, flagstore.RetryKey("alice", "Math", passClock, 1))
	if err != nil || !ok {
		t.Fatalf("retry flag 1 after actor error: %v, %v; want present", ok, err)
	}
}

func TestRunPassActorPanicIsIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	actor := &fakeActor{fn: func(registry.Account, string) (Outcome, error) {
		panic("chrome went away")
	}}
	e, _, store := newTestEngine(t, actor)

	report := e.RunPass(ctx)
	if report.Failed != 1 {
		t.Fatalf("report = %+v; want 1 failed", report)
	}
	ok, err := store.Exists(ctx, flagstore.RetryKey("alice", "Math", passClock, 1))
	if err != nil || !ok {
		t.Fatalf("retry flag 1 after panic: %v, %v; want present", ok, err)
	}
}

func TestRunPassOncePauseConsumedAndNotified(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	actor := &fakeActor{fn: func(registry.Account, string) (Outcome, error) {
		return Outcome{Status: OutcomeSuccess}, nil
	}}
	e, notifier, _ := newTestEngine(t, actor)

	if err := e.Pauses().SetOnce(ctx, "alice", "Math"); err != nil {
		t.Fatal(err)
	}
	report := e.RunPass(ctx)
	if report.Dispatch != 0 || report.Skipped != 1 {
		t.Fatalf("report = %+v; want the once-paused account skipped", report)
	}
	msgs := notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Skipped Math") {
		t.Fatalf("notifications = %v; want one skip message", msgs)
	}

	// Pause consumed: the next pass attends normally.
	report = e.RunPass(ctx)
	if report.Succeeded != 1 {
		t.Fatalf("second pass report = %+v; want 1 succeeded", report)
	}
}

func TestRunPassIndefinitePauseNotifiesAndSticks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	actor := &fakeActor{fn: func(registry.Account, string) (Outcome, error) {
		return Outcome{Status: OutcomeSuccess}, nil
	}}
	e, notifier, _ := newTestEngine(t, actor)

	if err := e.Pauses().SetIndefinite(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if report := e.RunPass(ctx); report.Dispatch != 0 {
			t.Fatalf("paused account dispatched on pass %d", i+1)
		}
	}
	// Every paused observation of an active session sends a skip notice.
	msgs := notifier.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d notifications %v, want one skip notice per pass", len(msgs), msgs)
	}
	for _, m := range msgs {
		if !strings.Contains(m, "Skipped attendance for Math") || !strings.Contains(m, "paused") {
			t.Errorf("notification %q is not a paused-skip notice", m)
		}
	}

	if err := e.Pauses().ClearIndefinite(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if report := e.RunPass(ctx); report.Succeeded != 1 {
		t.Fatal("resume did not restore attendance")
	}
}

func TestRunPassDriftCorrection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	actor := &fakeActor{fn: func(registry.Account, string) (Outcome, error) {
		return Outcome{Status: OutcomeSuccess, ObservedTime: "09:10 - 10:50"}, nil
	}}
	e, notifier, _ := newTestEngine(t, actor)

	e.RunPass(ctx)
	msgs := notifier.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d notifications %v, want drift + success", len(msgs), msgs)
	}
	var sawDrift bool
	for _, m := range msgs {
		if strings.Contains(m, "09:00 - 10:40") && strings.Contains(m, "09:10 - 10:50") {
			sawDrift = true
		}
	}
	if !sawDrift {
		t.Errorf("no drift notification in %v", msgs)
	}
}

func TestRunPassNoSessionOutsideWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	actor := &fakeActor{fn: func(registry.Account, string) (Outcome, error) {
		t.Error("actor invoked with no active session")
		return Outcome{}, nil
	}}
	e, _, _ := newTestEngine(t, actor)
	// 09:21 is past the 15 minute window of the 09:00 session.
	e.SetClock(func() time.Time { return time.Date(2024, 5, 6, 9, 21, 0, 0, time.UTC) })

	if report := e.RunPass(ctx); report.Dispatch != 0 {
		t.Fatalf("report = %+v; want nothing dispatched", report)
	}
}
