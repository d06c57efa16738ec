package bot

import (
	"sync"
	"time"

	kit "attendbot/internal/transport"
)

type convState int

const (
	stateNone convState = iota
	stateAwaitUsername
	stateAwaitPassword
	stateAwaitImage
	stateAwaitCSV
)

// session is per-chat conversation state. Abandoned sessions expire so a
// half-finished /setup does not swallow unrelated messages forever.
type session struct {
	state      convState
	username   string // gathered during /setup
	pendingCSV string // parsed schedule awaiting Save/Cancel
	menuRef    kit.MessageRef
	touched    time.Time
}

const sessionTTL = 10 * time.Minute

type sessionStore struct {
	mu sync.Mutex
	m  map[int64]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{m: map[int64]*session{}}
}

// get returns the live session for a chat, pruning it when expired.
func (s *sessionStore) get(chatID int64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[chatID]
	if !ok {
		return nil
	}
	if time.Since(sess.touched) > sessionTTL {
		delete(s.m, chatID)
		return nil
	}
	sess.touched = time.Now()
	return sess
}

func (s *sessionStore) put(chatID int64, sess *session) {
	sess.touched = time.Now()
	s.mu.Lock()
	s.m[chatID] = sess
	s.mu.Unlock()
}

func (s *sessionStore) clear(chatID int64) {
	s.mu.Lock()
	delete(s.m, chatID)
	s.mu.Unlock()
}
