// Package registry persists the linked accounts: site credentials, the chat
// to notify, and the path of the account's timetable file.
//
// The engine only ever sees read-only snapshots; all writes go through the
// command layer.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	yaml "go.yaml.in/yaml/v3"

	logx "attendbot/pkg/logx"
)

var ErrNotFound = errors.New("account not found")

// Account is one linked user.
//
// Username doubles as the account key inside flag names, so it must be stable
// and filesystem-safe (site usernames are).
type Account struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	ChatID       int64  `yaml:"chat_id"`
	ScheduleFile string `yaml:"schedule_file"`
}

// Key returns the account key used in flag names.
func (a Account) Key() string { return a.Username }

type fileDoc struct {
	Accounts []Account `yaml:"accounts"`
}

// Registry is a YAML-file-backed account store.
type Registry struct {
	path        string
	scheduleDir string
	log         logx.Logger

	mu sync.Mutex
}

func New(path, scheduleDir string, log logx.Logger) *Registry {
	if strings.TrimSpace(path) == "" {
		path = "./accounts.yaml"
	}
	if strings.TrimSpace(scheduleDir) == "" {
		scheduleDir = "./schedules"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{path: path, scheduleDir: scheduleDir, log: log}
}

// Snapshot returns all accounts. An absent registry file is an empty registry,
// not an error.
func (r *Registry) Snapshot() ([]Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

func (r *Registry) loadLocked() ([]Account, error) {
	b, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", r.path, err)
	}
	return doc.Accounts, nil
}

func (r *Registry) saveLocked(accounts []Account) error {
	b, err := yaml.Marshal(fileDoc{Accounts: accounts})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// FindByChat returns the account linked to a chat.
func (r *Registry) FindByChat(chatID int64) (Account, error) {
	accounts, err := r.Snapshot()
	if err != nil {
		return Account{}, err
	}
	for _, a := range accounts {
		if a.ChatID == chatID {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}

// Add links a new account and provisions its (empty) timetable file.
// A chat can hold at most one account.
func (r *Registry) Add(username, password string, chatID int64) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.loadLocked()
	if err != nil {
		return Account{}, err
	}
	for _, a := range accounts {
		if a.ChatID == chatID {
			return Account{}, fmt.Errorf("chat %d already has account %q", chatID, a.Username)
		}
		if a.Username == username {
			return Account{}, fmt.Errorf("account %q already linked", username)
		}
	}

	if err := os.MkdirAll(r.scheduleDir, 0o755); err != nil {
		return Account{}, err
	}
	schedulePath := filepath.Join(r.scheduleDir, "schedule_"+username+".csv")
	if _, err := os.Stat(schedulePath); os.IsNotExist(err) {
		if err := os.WriteFile(schedulePath, nil, 0o644); err != nil {
			return Account{}, err
		}
	}

	acct := Account{Username: username, Password: password, ChatID: chatID, ScheduleFile: schedulePath}
	accounts = append(accounts, acct)
	if err := r.saveLocked(accounts); err != nil {
		return Account{}, err
	}
	r.log.Info("account linked", logx.String("account", username))
	return acct, nil
}

// DeleteByChat unlinks the account of a chat and removes its timetable file.
// Flag cleanup is the caller's job (it owns the flag store).
func (r *Registry) DeleteByChat(chatID int64) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.loadLocked()
	if err != nil {
		return Account{}, err
	}
	idx := -1
	for i, a := range accounts {
		if a.ChatID == chatID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Account{}, ErrNotFound
	}
	acct := accounts[idx]
	accounts = append(accounts[:idx], accounts[idx+1:]...)
	if err := r.saveLocked(accounts); err != nil {
		return Account{}, err
	}
	if acct.ScheduleFile != "" {
		if err := os.Remove(acct.ScheduleFile); err != nil && !os.IsNotExist(err) {
			r.log.Warn("could not remove timetable file", logx.String("path", acct.ScheduleFile), logx.Err(err))
		}
	}
	r.log.Info("account unlinked", logx.String("account", acct.Username))
	return acct, nil
}
