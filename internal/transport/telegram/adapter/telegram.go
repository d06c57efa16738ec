package adapter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "attendbot/internal/transport"
	logx "attendbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool
	stopWG  sync.WaitGroup

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged on Stop to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Photo == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdatePhoto,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Caption,
				FileID:       m.Photo.FileID,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnDocument, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Document == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateDocument,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Caption,
				FileID:       m.Document.FileID,
				FileName:     m.Document.FileName,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				// telebot prefixes unique callbacks with \f.
				Data: strings.TrimPrefix(cb.Data, "\f"),
			},
		})
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.runMu.Unlock()

	// Telebot's Start() is a long-running loop; stop it when ctx is cancelled.
	a.stopWG.Add(2)
	go func() {
		defer a.stopWG.Done()
		<-ctx.Done()
		a.bot.Stop()
	}()
	go func() {
		defer a.stopWG.Done()
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
	}

	// telebot Stop is expected to be fast; run it async just in case.
	go a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.stopWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("telegram stop timed out", logx.Err(ctx.Err()))
	}
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks safe to send to Telegram,
// preferring newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chunks := splitTelegramText(text, telegramTextLimit)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return first, ctx.Err()
			default:
			}
		}

		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}
		// Attach markup only to the first message.
		if i == 0 && opt.ReplyMarkup != nil {
			if rm, ok := opt.ReplyMarkup.(*tele.ReplyMarkup); ok {
				sendOpt.ReplyMarkup = rm
			}
		}

		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, name string, data []byte, caption string, opt *kit.SendOptions) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	doc := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(data)),
		FileName: name,
		Caption:  caption,
	}
	sendOpt := &tele.SendOptions{}
	if opt != nil {
		sendOpt.ParseMode = opt.ParseMode
		if rm, ok := opt.ReplyMarkup.(*tele.ReplyMarkup); ok {
			sendOpt.ReplyMarkup = rm
		}
	}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, doc, sendOpt)
	return err
}

func (a *Adapter) EditMarkup(ctx context.Context, ref kit.MessageRef, markup any) error {
	_ = ctx
	stored := tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	}
	rm, _ := markup.(*tele.ReplyMarkup)
	_, err := a.bot.EditReplyMarkup(stored, rm)
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	_ = ctx
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func (a *Adapter) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	rc, err := a.bot.File(&tele.File{FileID: fileID})
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	_ = ctx
	tc := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		tc = append(tc, tele.Command{Text: c.Command, Description: c.Description})
	}
	return a.bot.SetCommands(tc)
}
