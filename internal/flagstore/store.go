package flagstore

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "attendbot/pkg/logx"
)

var ErrDisabled = errors.New("flag store disabled")

// Store is a namespaced, presence-only key/value store. A key either exists or
// it does not; there are no values.
//
// Contract relied on by the engine:
//   - Create of an already-existing key is a safe no-op.
//   - Delete of an already-absent key is a safe no-op.
//
// Both matter because two near-simultaneous evaluation passes may race on the
// same key.
type Store interface {
	Create(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Config configures the flag store.
//
// Driver values:
//   - "file": presence-only <key>.flag files under Path (a directory)
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store. The file driver is the default when
// Driver is empty, matching the on-disk layout the command layer also reads.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown flags driver: " + cfg.Driver)
	}
}
