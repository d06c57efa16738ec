package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "attendbot/pkg/logx"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "accounts.yaml"), filepath.Join(dir, "schedules"), logx.Nop())
}

func TestAddFindDelete(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	acct, err := r.Add("alice", "s3cret", 1001)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if acct.ScheduleFile == "" {
		t.Fatal("Add did not assign a schedule file")
	}
	if _, err := os.Stat(acct.ScheduleFile); err != nil {
		t.Fatalf("schedule file not provisioned: %v", err)
	}

	got, err := r.FindByChat(1001)
	if err != nil {
		t.Fatalf("FindByChat: %v", err)
	}
	if got.Username != "alice" || got.Password != "s3cret" {
		t.Fatalf("FindByChat = %+v", got)
	}

	// Snapshot survives a fresh Registry on the same file.
	r2 := New(r.path, r.scheduleDir, logx.Nop())
	accounts, err := r2.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Username != "alice" {
		t.Fatalf("Snapshot = %+v", accounts)
	}

	deleted, err := r.DeleteByChat(1001)
	if err != nil {
		t.Fatalf("DeleteByChat: %v", err)
	}
	if deleted.Username != "alice" {
		t.Fatalf("DeleteByChat = %+v", deleted)
	}
	if _, err := os.Stat(acct.ScheduleFile); !os.IsNotExist(err) {
		t.Fatalf("schedule file not removed: %v", err)
	}
	if _, err := r.FindByChat(1001); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByChat after delete: %v, want ErrNotFound", err)
	}
}

func TestAddRejectsDuplicates(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	if _, err := r.Add("alice", "pw", 1001); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := r.Add("bob", "pw", 1001); err == nil {
		t.Fatal("expected error for duplicate chat")
	}
	if _, err := r.Add("alice", "pw", 1002); err == nil {
		t.Fatal("expected error for duplicate username")
	}
}

func TestSnapshotAbsentFile(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)
	accounts, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("Snapshot = %+v, want empty", accounts)
	}
}
