package bot

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"attendbot/internal/engine"
	"attendbot/internal/flagstore"
	"attendbot/internal/registry"
	kit "attendbot/internal/transport"
	"attendbot/internal/vision"
	logx "attendbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	texts []string
	docs  []string // document names
	files map[string][]byte
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.texts = append(a.texts, text)
	a.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (a *fakeAdapter) SendDocument(_ context.Context, _ kit.ChatTarget, name string, _ []byte, _ string, _ *kit.SendOptions) error {
	a.mu.Lock()
	a.docs = append(a.docs, name)
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) EditMarkup(context.Context, kit.MessageRef, any) error { return nil }
func (a *fakeAdapter) AnswerCallback(context.Context, string, string) error  { return nil }

func (a *fakeAdapter) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	if data, ok := a.files[fileID]; ok {
		return data, nil
	}
	return nil, errors.New("unknown file")
}

func (a *fakeAdapter) lastText(t *testing.T) string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.texts) == 0 {
		t.Fatal("no messages sent")
	}
	return a.texts[len(a.texts)-1]
}

type nopActor struct{}

func (nopActor) Attempt(context.Context, registry.Account, string) (engine.Outcome, error) {
	return engine.Outcome{Status: engine.OutcomeSuccess}, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, int64, string) {}

func newTestBot(t *testing.T) (*Service, *fakeAdapter, flagstore.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := flagstore.Open(flagstore.Config{Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	reg := registry.New(dir+"/accounts.yaml", dir+"/schedules", logx.Nop())
	eng := engine.New(engine.Config{}, store, reg, nopActor{}, nopNotifier{}, logx.Nop())
	ad := &fakeAdapter{files: map[string][]byte{}}
	vis := vision.New(vision.Config{}, logx.Nop())
	s := New(Config{OwnerChatID: 99}, ad, reg, eng, store, vis, logx.Nop())
	return s, ad, store
}

func msg(chatID int64, text string) *kit.Message {
	return &kit.Message{ChatID: chatID, FromID: chatID, Text: text}
}

func linkAccount(t *testing.T, s *Service, chatID int64, username string) {
	t.Helper()
	ctx := context.Background()
	s.handleMessage(ctx, msg(chatID, "/setup"))
	s.handleMessage(ctx, msg(chatID, username))
	s.handleMessage(ctx, msg(chatID, "hunter2"))
}

func TestSetupFlow(t *testing.T) {
	t.Parallel()
	s, ad, _ := newTestBot(t)
	ctx := context.Background()

	linkAccount(t, s, 7, "alice")
	acct, err := s.accounts.FindByChat(7)
	if err != nil {
		t.Fatalf("account not created: %v", err)
	}
	if acct.Username != "alice" || acct.Password != "hunter2" {
		t.Errorf("stored %q/%q, want alice/hunter2", acct.Username, acct.Password)
	}

	// A second /setup must refuse while credentials exist.
	s.handleMessage(ctx, msg(7, "/setup"))
	if got := ad.lastText(t); !strings.Contains(got, "already saved") {
		t.Errorf("duplicate setup reply = %q", got)
	}
}

func TestCancelAbortsSetup(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestBot(t)
	ctx := context.Background()

	s.handleMessage(ctx, msg(7, "/setup"))
	s.handleMessage(ctx, msg(7, "/cancel"))
	// The next plain message must not be treated as a username.
	s.handleMessage(ctx, msg(7, "alice"))
	if _, err := s.accounts.FindByChat(7); err == nil {
		t.Fatal("account created from a cancelled conversation")
	}
}

func TestPauseMutualExclusion(t *testing.T) {
	t.Parallel()
	s, ad, _ := newTestBot(t)
	ctx := context.Background()
	linkAccount(t, s, 7, "alice")

	s.handleMessage(ctx, msg(7, "/pause"))
	if got := ad.lastText(t); !strings.Contains(got, "paused indefinitely") {
		t.Fatalf("pause reply = %q", got)
	}

	// pauseonce while indefinitely paused must be refused.
	s.handleMessage(ctx, msg(7, "/pauseonce"))
	if got := ad.lastText(t); !strings.Contains(got, "/resume") {
		t.Errorf("pauseonce while paused reply = %q", got)
	}

	// pause again must be refused too.
	s.handleMessage(ctx, msg(7, "/pause"))
	if got := ad.lastText(t); !strings.Contains(got, "already paused") {
		t.Errorf("double pause reply = %q", got)
	}

	s.handleMessage(ctx, msg(7, "/resume"))
	paused, err := s.eng.Pauses().IsIndefinite(ctx, "alice")
	if err != nil || paused {
		t.Fatalf("after /resume: paused=%v err=%v", paused, err)
	}
}

func TestPauseOncePicksNextClass(t *testing.T) {
	t.Parallel()
	s, ad, _ := newTestBot(t)
	ctx := context.Background()
	linkAccount(t, s, 7, "alice")

	acct, err := s.accounts.FindByChat(7)
	if err != nil {
		t.Fatal(err)
	}
	csv := "CourseName,Day,Time\nKalkulus,Senin,09:00 - 10:40\nFisika,Senin,13:00 - 14:40\n"
	if err := os.WriteFile(acct.ScheduleFile, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	// 10:00: Kalkulus already started, Fisika is next.
	s.SetClock(func() time.Time { return time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC) })

	s.handleMessage(ctx, msg(7, "/pauseonce"))
	if got := ad.lastText(t); !strings.Contains(got, "Fisika") {
		t.Fatalf("pauseonce reply = %q, want Fisika", got)
	}
	once, err := s.eng.Pauses().OnceCourses(ctx, "alice")
	if err != nil || len(once) != 1 || once[0] != "Fisika" {
		t.Fatalf("once-pauses = %v, %v; want [Fisika]", once, err)
	}
}

func TestDeleteClearsEverything(t *testing.T) {
	t.Parallel()
	s, ad, store := newTestBot(t)
	ctx := context.Background()
	linkAccount(t, s, 7, "alice")

	day := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	for _, key := range []string{
		flagstore.SuccessKey("alice", "Math", day),
		flagstore.RetryKey("alice", "Math", day, 1),
		flagstore.PauseUserKey("alice"),
	} {
		if err := store.Create(ctx, key); err != nil {
			t.Fatal(err)
		}
	}

	s.handleMessage(ctx, msg(7, "/delete"))
	if got := ad.lastText(t); !strings.Contains(got, "deleted") {
		t.Fatalf("delete reply = %q", got)
	}
	if _, err := s.accounts.FindByChat(7); err == nil {
		t.Error("account survived /delete")
	}
	for _, prefix := range []string{"success_", "retry_", "pause_"} {
		keys, err := store.ListByPrefix(ctx, prefix)
		if err != nil {
			t.Fatal(err)
		}
		if len(keys) != 0 {
			t.Errorf("flags with prefix %q survived: %v", prefix, keys)
		}
	}
}

func TestCSVUploadSavesSchedule(t *testing.T) {
	t.Parallel()
	s, ad, _ := newTestBot(t)
	ctx := context.Background()
	linkAccount(t, s, 7, "alice")

	// Press the Upload CSV button, then send the document.
	s.handleCallback(ctx, &kit.Callback{ID: "cb1", ChatID: 7, Data: cbUploadCSV})

	csv := "CourseName,Day,Time\nKalkulus,Senin,09:00 - 10:40\n"
	ad.files["f1"] = []byte(csv)
	s.handleDocument(ctx, &kit.Message{ChatID: 7, FileID: "f1", FileName: "jadwal.csv"})

	acct, err := s.accounts.FindByChat(7)
	if err != nil {
		t.Fatal(err)
	}
	saved, err := os.ReadFile(acct.ScheduleFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(saved) != csv {
		t.Errorf("saved %q, want %q", saved, csv)
	}
}

func TestCSVUploadRejectsBadHeader(t *testing.T) {
	t.Parallel()
	s, ad, _ := newTestBot(t)
	ctx := context.Background()
	linkAccount(t, s, 7, "alice")

	s.handleCallback(ctx, &kit.Callback{ID: "cb1", ChatID: 7, Data: cbUploadCSV})
	ad.files["f1"] = []byte("Kalkulus,Senin,09:00 - 10:40\n")
	s.handleDocument(ctx, &kit.Message{ChatID: 7, FileID: "f1", FileName: "jadwal.csv"})

	if got := ad.lastText(t); !strings.Contains(got, "header") {
		t.Errorf("bad header reply = %q", got)
	}
}

func TestDocumentIgnoredWithoutUploadRequest(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestBot(t)
	ctx := context.Background()
	linkAccount(t, s, 7, "alice")

	ad := s.adapter.(*fakeAdapter)
	ad.files["f1"] = []byte("CourseName,Day,Time\nKalkulus,Senin,09:00 - 10:40\n")
	before := len(ad.texts)
	s.handleDocument(ctx, &kit.Message{ChatID: 7, FileID: "f1", FileName: "jadwal.csv"})
	if len(ad.texts) != before {
		t.Error("unsolicited document produced a reply")
	}
}

func TestStatusIsOwnerOnly(t *testing.T) {
	t.Parallel()
	s, ad, _ := newTestBot(t)
	ctx := context.Background()

	s.handleMessage(ctx, msg(7, "/status"))
	if got := ad.lastText(t); !strings.Contains(got, "/help") {
		t.Errorf("non-owner /status reply = %q", got)
	}

	s.handleMessage(ctx, msg(99, "/status"))
	if got := ad.lastText(t); !strings.Contains(got, "no pass has run") {
		t.Errorf("owner /status reply = %q", got)
	}
}
