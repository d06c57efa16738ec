package flagstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	logx "attendbot/pkg/logx"
)

const flagExt = ".flag"

// fileStore keeps one empty <key>.flag file per key under a directory.
//
// This is the layout the original deployment used, so existing flag
// directories keep working and operators can clear state with rm.
type fileStore struct {
	dir string
	log logx.Logger
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("flags.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{dir: dir, log: log}, nil
}

func (s *fileStore) path(key string) string {
	return filepath.Join(s.dir, key+flagExt)
}

func (s *fileStore) Create(ctx context.Context, key string) error {
	_ = ctx
	if key == "" {
		return nil
	}
	f, err := os.OpenFile(s.path(key), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (s *fileStore) Exists(ctx context.Context, key string) (bool, error) {
	_ = ctx
	if key == "" {
		return false, nil
	}
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	if key == "" {
		return nil
	}
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *fileStore) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	_ = ctx
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, flagExt) {
			continue
		}
		key := strings.TrimSuffix(name, flagExt)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *fileStore) Close() error { return nil }
