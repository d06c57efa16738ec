// Package notify is the async user-notification pipeline: a bounded queue in
// front of a small worker pool, with a shared rate limit and per-send retry.
// Delivery is best-effort; the engine never blocks on Telegram.
package notify

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "attendbot/internal/transport"
	logx "attendbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notify service stopped")
)

type Config struct {
	Workers       int           // default 2
	QueueSize     int           // default 256
	RatePerSec    int           // default 3, shared across workers
	RetryMax      int           // extra attempts after the first, default 2
	RetryBase     time.Duration // default 500ms
	RetryMaxDelay time.Duration // default 10s
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// Service is safe for concurrent use.
type Service struct {
	cfg     Config
	log     logx.Logger
	adapter kit.Adapter
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     chan kit.Notification
	accepting bool
	workerWG  sync.WaitGroup
	enqueueWG sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		log:     log,
		adapter: adapter,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan kit.Notification, s.cfg.QueueSize)
	s.accepting = true
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.workerLoop(ctx, q)
		}()
	}
}

// Stop blocks intake, drains the queue, and waits for workers until ctx
// expires.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q := s.queue
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.enqueueWG.Wait()
		close(q)
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}

// Notify satisfies the engine's notifier contract: enqueue a plain-text
// message for a chat. A full queue or a stopped service drops the message
// with a log line, never an error back to the caller.
func (s *Service) Notify(ctx context.Context, chatID int64, text string) {
	err := s.Enqueue(ctx, kit.Notification{Target: kit.ChatTarget{ChatID: chatID}, Text: text})
	if err != nil {
		s.log.Warn("notification dropped", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// Enqueue queues one notification for delivery.
func (s *Service) Enqueue(ctx context.Context, n kit.Notification) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if n.Text == "" {
		return nil
	}
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.enqueueWG.Add(1)
	s.mu.Unlock()
	defer s.enqueueWG.Done()

	select {
	case q <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

// Snapshot returns recently delivered messages, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan kit.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, n)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, n kit.Notification) {
	maxAttempts := 1 + s.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.adapter.SendText(callCtx, n.Target, n.Text, n.Options)
		cancel()
		if err == nil {
			s.appendHistory(n.Text)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed",
			logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(s.retryDelay(attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}
	s.log.Warn("notification delivery failed",
		logx.Int64("chat_id", n.Target.ChatID), logx.Err(lastErr))
}

// retryDelay is exponential backoff with 0.7..1.3 jitter, capped.
func (s *Service) retryDelay(attempt int) time.Duration {
	d := s.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.RetryMaxDelay {
			d = s.cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > s.cfg.RetryMaxDelay {
		d = s.cfg.RetryMaxDelay
	}
	return d
}
