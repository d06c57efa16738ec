// Package bot is the Telegram front end: account linking, schedule
// management, and pause controls, driven by the transport adapter's update
// stream.
package bot

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"attendbot/internal/engine"
	"attendbot/internal/flagstore"
	"attendbot/internal/registry"
	kit "attendbot/internal/transport"
	"attendbot/internal/vision"
	logx "attendbot/pkg/logx"
)

type Config struct {
	// OwnerChatID unlocks operational commands like /status.
	OwnerChatID int64
}

type Service struct {
	cfg      Config
	log      logx.Logger
	adapter  kit.Adapter
	accounts *registry.Registry
	eng      *engine.Engine
	flags    flagstore.Store
	vision   *vision.Client

	sessions *sessionStore

	// now is swappable for tests; the trigger's timezone is applied by the
	// app wiring.
	now func() time.Time

	wg sync.WaitGroup
}

func New(cfg Config, adapter kit.Adapter, accounts *registry.Registry, eng *engine.Engine, flags flagstore.Store, vis *vision.Client, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		adapter:  adapter,
		accounts: accounts,
		eng:      eng,
		flags:    flags,
		vision:   vis,
		sessions: newSessionStore(),
		now:      time.Now,
	}
}

// SetClock overrides the time source used for next-class resolution.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Run consumes the adapter's update stream until ctx is canceled or the
// channel closes. Each update is handled on its own goroutine so a slow
// image-parse call does not stall other chats.
func (s *Service) Run(ctx context.Context, updates <-chan kit.Update) {
	s.log.Info("bot dispatcher started")
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("bot dispatcher stopped")
			return
		case up, ok := <-updates:
			if !ok {
				s.wg.Wait()
				s.log.Info("bot dispatcher stopped (updates closed)")
				return
			}
			s.wg.Add(1)
			go func(up kit.Update) {
				defer s.wg.Done()
				defer func() {
					if r := recover(); r != nil {
						s.log.Error("panic in update handler",
							logx.Any("panic", r),
							logx.String("stack", string(debug.Stack())))
					}
				}()
				s.handle(ctx, up)
			}(up)
		}
	}
}

func (s *Service) handle(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		s.handleMessage(ctx, up.Message)
	case kit.UpdatePhoto:
		s.handlePhoto(ctx, up.Message)
	case kit.UpdateDocument:
		s.handleDocument(ctx, up.Message)
	case kit.UpdateCallback:
		s.handleCallback(ctx, up.Callback)
	}
}

func (s *Service) handleMessage(ctx context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		s.handleCommand(ctx, msg, text)
		return
	}
	// Non-command text only matters mid-conversation.
	if sess := s.sessions.get(msg.ChatID); sess != nil {
		s.continueConversation(ctx, msg, sess, text)
	}
}

func (s *Service) handleCommand(ctx context.Context, msg *kit.Message, text string) {
	fields := strings.Fields(text)
	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}

	log := s.log.With(logx.Int64("chat_id", msg.ChatID), logx.String("cmd", cmd))
	log.Debug("command received")

	switch cmd {
	case "start", "help":
		s.cmdHelp(ctx, msg)
	case "setup":
		s.cmdSetup(ctx, msg)
	case "mystatus":
		s.cmdMyStatus(ctx, msg)
	case "pause":
		s.cmdPause(ctx, msg)
	case "resume":
		s.cmdResume(ctx, msg)
	case "pauseonce":
		s.cmdPauseOnce(ctx, msg)
	case "delete":
		s.cmdDelete(ctx, msg)
	case "schedule":
		s.cmdSchedule(ctx, msg)
	case "cancel":
		s.cmdCancel(ctx, msg)
	case "status":
		s.cmdStatus(ctx, msg)
	default:
		s.reply(ctx, msg.ChatID, "🤔 I don't know that one. Try /help.")
	}
}

func (s *Service) reply(ctx context.Context, chatID int64, text string) {
	s.sendOpt(ctx, chatID, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

func (s *Service) sendOpt(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) {
	if _, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		s.log.Warn("send failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// MenuCommands is the Telegram / autocomplete list.
func MenuCommands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "help", Description: "show available commands"},
		{Command: "setup", Description: "link your SPADA account"},
		{Command: "mystatus", Description: "show linked user and pause state"},
		{Command: "pause", Description: "pause attendance indefinitely"},
		{Command: "resume", Description: "resume attendance"},
		{Command: "pauseonce", Description: "skip your next class only"},
		{Command: "schedule", Description: "manage your class schedule"},
		{Command: "delete", Description: "remove credentials and schedule"},
		{Command: "cancel", Description: "cancel the current action"},
	}
}
