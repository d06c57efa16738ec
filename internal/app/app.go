// Package app wires configuration, logging, transport, the attendance engine,
// and the Telegram front end into one runnable unit.
package app

import (
	"context"
	"fmt"
	"time"

	"attendbot/internal/actor/spada"
	"attendbot/internal/bot"
	"attendbot/internal/config"
	"attendbot/internal/engine"
	"attendbot/internal/flagstore"
	"attendbot/internal/notify"
	"attendbot/internal/registry"
	kit "attendbot/internal/transport"
	teleadapter "attendbot/internal/transport/telegram/adapter"
	"attendbot/internal/trigger"
	"attendbot/internal/vision"
	logx "attendbot/pkg/logx"
)

type App struct {
	cfgm   *config.Manager
	logsvc *logx.Service
	log    logx.Logger

	adapter  *teleadapter.Adapter
	flags    flagstore.Store
	accounts *registry.Registry
	notifier *notify.Service
	eng      *engine.Engine
	trig     *trigger.Service
	bot      *bot.Service

	attendanceOn bool
	updates      chan kit.Update
}

// nopNotifier satisfies the engine when the notifier section is disabled.
type nopNotifier struct{ log logx.Logger }

func (n nopNotifier) Notify(_ context.Context, chatID int64, text string) {
	n.log.Debug("notification suppressed (notifier disabled)", logx.Int64("chat_id", chatID), logx.String("text", text))
}

func New(configPath string) (*App, error) {
	cfgm := config.NewManager(configPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	pollTimeout, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}

	// The adapter bootstraps on a console logger; everything after it logs
	// through the full sink stack, which needs the adapter for the Telegram
	// sink.
	boot := logx.NewConsole(cfg.Logging.Level)
	adapter, err := teleadapter.New(teleadapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, boot)
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	logsvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, adapter)
	logsvc.SetTelegramTarget(cfg.Telegram.OwnerChatID)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, logsvc: logsvc, log: log, adapter: adapter}
	if err := a.build(cfg); err != nil {
		logsvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	log := a.log

	busyTimeout, err := config.Duration("flags.busy_timeout", cfg.Flags.BusyTimeout, 0)
	if err != nil {
		return err
	}
	flagPath := cfg.Flags.Path
	if flagPath == "" {
		flagPath = "./flags"
	}
	flags, err := flagstore.Open(flagstore.Config{
		Driver:      cfg.Flags.Driver,
		Path:        flagPath,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "flags")))
	if err != nil {
		return fmt.Errorf("flag store: %w", err)
	}
	a.flags = flags

	a.accounts = registry.New(cfg.Accounts.Path, cfg.Accounts.ScheduleDir, log.With(logx.String("comp", "registry")))

	// Notifier defaults to enabled when the section is omitted.
	notifierOn := cfg.Notifier == nil || cfg.Notifier.Enabled
	var engineNotifier engine.Notifier = nopNotifier{log: log}
	if notifierOn {
		ncfg := notify.Config{}
		if n := cfg.Notifier; n != nil {
			retryBase, err := config.Duration("notifier.retry_base", n.RetryBase, 0)
			if err != nil {
				return err
			}
			retryMaxDelay, err := config.Duration("notifier.retry_max_delay", n.RetryMaxDelay, 0)
			if err != nil {
				return err
			}
			ncfg = notify.Config{
				Workers:       n.Workers,
				QueueSize:     n.QueueSize,
				RatePerSec:    n.RatePerSec,
				RetryMax:      n.RetryMax,
				RetryBase:     retryBase,
				RetryMaxDelay: retryMaxDelay,
			}
		}
		a.notifier = notify.New(ncfg, a.adapter, log.With(logx.String("comp", "notify")))
		engineNotifier = a.notifier
	}

	actorTimeout, err := config.Duration("actor.timeout", cfg.Actor.Timeout, 90*time.Second)
	if err != nil {
		return err
	}
	headless := cfg.Actor.Headless == nil || *cfg.Actor.Headless
	actor := spada.New(spada.Config{
		LoginURL:   cfg.Actor.LoginURL,
		ChromePath: cfg.Actor.ChromePath,
		Headless:   headless,
		Timeout:    actorTimeout,
	}, log.With(logx.String("comp", "actor")))

	window, err := config.Duration("attendance.session_window", cfg.Attendance.SessionWindow, 15*time.Minute)
	if err != nil {
		return err
	}
	stagger, err := config.Duration("attendance.stagger", cfg.Attendance.Stagger, 2*time.Second)
	if err != nil {
		return err
	}
	a.eng = engine.New(engine.Config{
		Window:      window,
		MaxAttempts: cfg.Attendance.MaxAttempts,
		Concurrency: cfg.Attendance.Concurrency,
		Stagger:     stagger,
	}, flags, a.accounts, actor, engineNotifier, log.With(logx.String("comp", "engine")))

	passInterval, err := config.Duration("attendance.pass_interval", cfg.Attendance.PassInterval, time.Minute)
	if err != nil {
		return err
	}
	a.attendanceOn = cfg.Attendance.Enabled
	a.trig = trigger.New(trigger.Config{
		Interval:   passInterval,
		Timezone:   cfg.Attendance.Timezone,
		RunOnStart: true,
	}, func(ctx context.Context) { a.eng.RunPass(ctx) }, log.With(logx.String("comp", "trigger")))

	// Session resolution and next-class lookups run on the configured zone's
	// wall clock.
	loc := a.trig.Location()
	localNow := func() time.Time { return time.Now().In(loc) }
	a.eng.SetClock(localNow)

	vis := vision.New(vision.Config{
		APIKey: cfg.Vision.APIKey,
		Model:  cfg.Vision.Model,
	}, log.With(logx.String("comp", "vision")))

	a.bot = bot.New(bot.Config{OwnerChatID: cfg.Telegram.OwnerChatID},
		a.adapter, a.accounts, a.eng, flags, vis, log.With(logx.String("comp", "bot")))
	a.bot.SetClock(localNow)

	return nil
}

// Run starts everything and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	if a.notifier != nil {
		a.notifier.Start(ctx)
	}

	a.updates = make(chan kit.Update, 256)
	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return fmt.Errorf("start telegram adapter: %w", err)
	}

	// Best-effort / autocomplete menu.
	if up, ok := any(a.adapter).(kit.CommandMenuUpdater); ok {
		mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := up.UpdateMenuCommands(mctx, bot.MenuCommands()); err != nil {
			a.log.Debug("menu update failed", logx.Err(err))
		}
		cancel()
	}

	if a.attendanceOn {
		if err := a.trig.Start(ctx); err != nil {
			return err
		}
	} else {
		a.log.Warn("attendance passes disabled by config; bot commands still work")
	}

	// Hot-reload: only logging changes apply in place; everything else needs
	// a restart.
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)
	go func() {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()
	go func() {
		for cfg := range sub {
			a.logsvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
				Telegram: logx.TelegramConfig{
					Enabled:    cfg.Logging.Telegram.Enabled,
					MinLevel:   cfg.Logging.Telegram.MinLevel,
					RatePerSec: cfg.Logging.Telegram.RatePerSec,
				},
			})
			a.logsvc.SetTelegramTarget(cfg.Telegram.OwnerChatID)
			a.log.Info("logging configuration reloaded")
		}
	}()

	a.log.Info("attendbot started")
	a.bot.Run(ctx, a.updates) // blocks until ctx done

	return nil
}

// Shutdown stops services in dependency order.
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.trig.Stop(ctx)
	if a.notifier != nil {
		a.notifier.Stop(ctx)
	}
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	if err := a.flags.Close(); err != nil {
		a.log.Warn("flag store close", logx.Err(err))
	}
	a.log.Info("attendbot stopped")
	a.logsvc.Close()
}
