// Package app assembles the bot: config, logging, transport, storage,
// task service, scheduler and intake, with ordered startup and bounded
// shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/t1modo/NotiTron/internal/config"
	"github.com/t1modo/NotiTron/internal/eventbus"
	"github.com/t1modo/NotiTron/internal/intake"
	"github.com/t1modo/NotiTron/internal/notify"
	"github.com/t1modo/NotiTron/internal/runtime/supervisor"
	"github.com/t1modo/NotiTron/internal/scheduler"
	"github.com/t1modo/NotiTron/internal/storage"
	"github.com/t1modo/NotiTron/internal/task"
	kit "github.com/t1modo/NotiTron/internal/transport"
	"github.com/t1modo/NotiTron/internal/transport/discord"
	"github.com/t1modo/NotiTron/pkg/logx"
)

const (
	updateChanSize = 256
	stopTimeout    = 15 * time.Second
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus      eventbus.Bus
	adapter  *discord.Adapter
	store    task.Store
	svc      *task.Service
	notifier *notify.Notifier
	sched    *scheduler.Service
	router   *intake.Router

	sup      *supervisor.Supervisor
	updates  chan kit.Update
	stopOnce sync.Once
}

// New loads the config and constructs every component. Nothing is running
// yet; Start kicks it off.
func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	mgr.SetValidator(validateConfig)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// The Discord log sink needs a sender before the adapter exists, so it
	// gets a late-bound one.
	sender := &lateSender{}
	logSvc, log := logx.New(logxConfig(cfg.Logging), sender)
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	adapter, err := discord.New(discord.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
	}, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("discord adapter: %w", err)
	}
	sender.set(adapter)

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New()
	svc := task.NewService(store, bus, log)
	notifier := notify.New(adapter, notify.Config{RatePerSec: 1, Burst: 3}, log)

	grace, err := config.ParseDurationOrDefault("scheduler.grace_window", cfg.Scheduler.GraceWindow, 0)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	sched, err := scheduler.New(store, notifier, bus, scheduler.Config{
		Enabled:     cfg.Scheduler.Enabled,
		Timezone:    cfg.Scheduler.Timezone,
		GraceWindow: grace,
	}, log)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	router := intake.NewRouter(svc, adapter, intake.Config{
		GuildID:      cfg.Discord.GuildID,
		OfferedHours: cfg.Reminders.OfferedHours,
		Location:     sched.Location(),
	}, log)

	return &App{
		cfgMgr:   mgr,
		logSvc:   logSvc,
		log:      log.With(logx.String("comp", "app")),
		bus:      bus,
		adapter:  adapter,
		store:    store,
		svc:      svc,
		notifier: notifier,
		sched:    sched,
		router:   router,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(false),
	)
	a.updates = make(chan kit.Update, updateChanSize)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start discord adapter: %w", err)
	}

	a.sup.Go0("intake.dispatch", func(ctx context.Context) {
		a.router.DispatchLoop(ctx, a.updates)
	})

	if err := a.sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	a.sup.GoRestart("config.watch", a.cfgMgr.Watch, time.Second, 30*time.Second)
	a.startReloadLoop()
	a.startBusObserver()

	a.log.Info("app started")
	return nil
}

// startReloadLoop applies hot-reloadable settings when the config file
// changes. Token, guild and storage changes need a restart.
func (a *App) startReloadLoop() {
	ch := a.cfgMgr.Subscribe(4)
	a.sup.Go0("config.reload", func(ctx context.Context) {
		defer a.cfgMgr.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-ch:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logxConfig(cfg.Logging))

	grace, err := config.ParseDurationOrDefault("scheduler.grace_window", cfg.Scheduler.GraceWindow, 0)
	if err != nil {
		a.log.Error("reload: bad grace window, keeping current", logx.Err(err))
	} else {
		a.sched.Apply(scheduler.Config{
			Enabled:     cfg.Scheduler.Enabled,
			Timezone:    cfg.Scheduler.Timezone,
			GraceWindow: grace,
		})
	}
	a.log.Info("config reloaded")
}

// startBusObserver logs lifecycle events at debug. Keeps the bus exercised
// even with no external consumers attached.
func (a *App) startBusObserver() {
	ch, unsub := a.bus.Subscribe(32)
	a.sup.Go0("bus.observe", func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
			}
		}
	})
}

// Stop shuts components down in reverse start order. Every step shares one
// bounded deadline; a stuck step is logged and the shutdown moves on.
func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	a.stopOnce.Do(func() {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, stopTimeout)
			defer cancel()
		}

		steps := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"scheduler", a.sched.Stop},
			{"discord", a.adapter.Stop},
			{"supervisor", func(c context.Context) error {
				if a.sup == nil {
					return nil
				}
				a.sup.Cancel()
				return a.sup.Wait(c)
			}},
			{"store", func(context.Context) error { return a.store.Close() }},
		}
		for _, st := range steps {
			if err := st.fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step failed", logx.String("step", st.name), logx.Err(err))
				if firstErr == nil {
					firstErr = fmt.Errorf("stop %s: %w", st.name, err)
				}
			}
		}

		a.log.Info("app stopped")
		_ = a.logSvc.Close()
	})
	return firstErr
}

// Wait blocks until the app's root context winds down (signal or fatal
// component error).
func (a *App) Wait() error {
	if a.sup == nil {
		return errors.New("app not started")
	}
	<-a.sup.Context().Done()
	return a.sup.Err()
}

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    c.Discord.Enabled,
			ChannelID:  c.Discord.ChannelID,
			MinLevel:   c.Discord.MinLevel,
			RatePerSec: c.Discord.RatePerSec,
		},
	}
}

func validateConfig(_ context.Context, cfg *config.Config) error {
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		return errors.New("discord.token is required")
	}
	if strings.TrimSpace(cfg.Discord.GuildID) == "" {
		return errors.New("discord.guild_id is required")
	}
	if _, err := config.ParseDurationOrDefault("scheduler.grace_window", cfg.Scheduler.GraceWindow, 0); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0); err != nil {
		return err
	}
	if tz := cfg.Scheduler.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	for _, h := range cfg.Reminders.OfferedHours {
		if h <= 0 {
			return fmt.Errorf("reminders.offered_hours: %d is not a positive hour count", h)
		}
	}
	return nil
}

// lateSender satisfies logx.ChannelSender before the adapter exists; sends
// are dropped until set.
type lateSender struct {
	mu      sync.RWMutex
	adapter *discord.Adapter
}

func (s *lateSender) set(a *discord.Adapter) {
	s.mu.Lock()
	s.adapter = a
	s.mu.Unlock()
}

func (s *lateSender) SendToChannel(ctx context.Context, channelID, text string) error {
	s.mu.RLock()
	a := s.adapter
	s.mu.RUnlock()
	if a == nil {
		return nil
	}
	return a.SendText(ctx, channelID, text)
}
