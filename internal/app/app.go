// Package app builds every component once from the configuration and hands
// them out explicitly.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"letterdesk/internal/account"
	"letterdesk/internal/config"
	"letterdesk/internal/events"
	"letterdesk/internal/jobs"
	"letterdesk/internal/ledger"
	"letterdesk/internal/mqhandler"
	"letterdesk/internal/notify"
	"letterdesk/internal/reminder"
	"letterdesk/internal/repository"
	"letterdesk/internal/rowstore"
	"letterdesk/internal/service"
	"letterdesk/internal/util"
	"letterdesk/pkg/backoff"
	"letterdesk/pkg/circuitbreaker"
	"letterdesk/pkg/db"
	"letterdesk/pkg/mq"
	redisclient "letterdesk/pkg/redis"
)

const ledgerDedupTTL = 24 * time.Hour

type App struct {
	Config *config.Config
	Logger *zap.Logger

	Redis *redis.Client
	DB    *pgxpool.Pool

	Store     *rowstore.Client
	Accounts  *account.Directory
	Jobs      *jobs.Queue
	Ledger    *ledger.Ledger
	Reminders *reminder.Scheduler
	Notifier  *notify.Router

	// Events holds the handlers; Bus is where publishers send.
	Events *events.Router
	Bus    events.Bus

	Profiles *repository.ProfileRepository
	Auth     *service.AuthService
	Letters  *service.LetterService

	closers []func()
}

// Options tweaks construction for tests.
type Options struct {
	// Backend replaces the configured row-store backend.
	Backend rowstore.Backend
	Now     func() time.Time
}

// New wires the application. Anything it opened is released by Close, also
// when New fails halfway.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	loc := cfg.Location()

	a.Redis = redisclient.NewRedisClient(cfg.Redis)
	if a.Redis != nil {
		a.closers = append(a.closers, func() { _ = a.Redis.Close() })
		if err := redisclient.Ping(ctx, a.Redis); err != nil {
			return nil, err
		}
	}

	backend := opts.Backend
	if backend == nil {
		backend, err = newBackend(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	perTable := map[string]time.Duration{
		cfg.Store.Tables.Accounts:  cfg.Store.CacheTTL.Accounts,
		cfg.Store.Tables.Jobs:      cfg.Store.CacheTTL.Jobs,
		cfg.Store.Tables.Ledger:    cfg.Store.CacheTTL.Ledger,
		cfg.Store.Tables.Reminders: cfg.Store.CacheTTL.Reminders,
	}
	a.Store = rowstore.NewClient(rowstore.Options{
		Backend:   backend,
		Executor:  backoff.New(cfg.Backoff, logger),
		Cache:     rowstore.NewSnapshotCache(cfg.Store.CacheTTL.Default, perTable, now),
		Gate:      newGate(cfg.Store.Gate, a.Redis),
		Locker:    newLocker(a.Redis),
		Logger:    logger,
		HandleTTL: cfg.Store.HandleTTL,
		Now:       now,
	})

	a.Notifier, err = newNotifier(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Accounts = account.NewDirectory(a.Store, account.Options{
		Table:       cfg.Store.Tables.Accounts,
		Plans:       plans(cfg),
		Pepper:      cfg.Auth.Pepper,
		BcryptCost:  cfg.Auth.BcryptCost,
		DefaultPlan: cfg.Auth.DefaultPlan,
		Location:    loc,
		Notifier:    a.Notifier,
		Logger:      logger,
	})
	a.Jobs = jobs.NewQueue(a.Store, jobs.Options{
		Table:         cfg.Store.Tables.Jobs,
		Location:      loc,
		ListCacheTTL:  cfg.Jobs.ListCacheTTL,
		FirstSMSAfter: cfg.Jobs.FirstSMSAfter,
		Logger:        logger,
	})
	a.Ledger = ledger.New(a.Store, ledger.Options{
		Table:    cfg.Store.Tables.Ledger,
		Location: loc,
		Logger:   logger,
	})

	cadence := make([]reminder.Step, 0, len(cfg.Reminders.Cadence))
	for _, s := range cfg.Reminders.Cadence {
		cadence = append(cadence, reminder.Step{Topic: s.Topic, After: s.After})
	}
	a.Reminders = reminder.NewScheduler(a.Store, reminder.Options{
		Table:      cfg.Store.Tables.Reminders,
		Cadence:    cadence,
		StaleAfter: cfg.Reminders.StaleAfter,
		BatchSize:  cfg.Reminders.BatchSize,
		Claims:     util.NewDeduper(a.Redis, cfg.Reminders.StaleAfter),
		Jobs:       a.Jobs,
		Notifier:   a.Notifier,
		Location:   loc,
		Logger:     logger,
	})

	a.Events = events.NewRouter(logger)
	ledgerHandler := mqhandler.NewGenerationRecordedLedgerHandler(a.Ledger, util.NewDeduper(a.Redis, ledgerDedupTTL), logger)
	reminderHandler := mqhandler.NewJobEnqueuedReminderHandler(a.Reminders, logger)
	a.Events.Register(events.KeyGenerationRecorded, ledgerHandler.Handle)
	a.Events.Register(events.KeyJobEnqueued, reminderHandler.Handle)

	if cfg.MQ.URL != "" {
		pub, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		a.Bus = pub
	} else {
		a.Bus = events.NewLocalBus(a.Events, logger)
	}

	if cfg.DB.Host != "" {
		a.DB, err = db.NewConnection(ctx, cfg.DB, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.DB.Close)
		a.Profiles = repository.NewProfileRepository(a.DB)
		if err := a.Profiles.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure profiles table: %w", err)
		}
	}

	a.Auth = service.NewAuthService(a.Accounts, cfg.JWT.Secret, time.Duration(cfg.JWT.TTLHours)*time.Hour, cfg.Auth.AdminEmails)
	a.Letters = service.NewLetterService(a.Accounts, a.Jobs, a.Ledger, a.Bus, logger)
	return a, nil
}

// Schemas lists every table the application owns.
func (a *App) Schemas() []rowstore.Schema {
	return []rowstore.Schema{
		a.Accounts.Schema(),
		a.Jobs.Schema(),
		a.Ledger.Schema(),
		a.Reminders.Schema(),
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newBackend(ctx context.Context, cfg *config.Config) (rowstore.Backend, error) {
	if cfg.Store.Backend == "memory" {
		return rowstore.NewMemoryBackend(), nil
	}
	return rowstore.NewSheetsBackend(ctx, cfg.Sheets)
}

func newGate(cfg config.GateConfig, rdb *redis.Client) rowstore.FetchGate {
	switch cfg.Mode {
	case "none":
		return rowstore.NopGate{}
	case "redis":
		return rowstore.NewRedisGate(rdb, cfg.MinInterval)
	case "file":
		return rowstore.NewFileGate(gateDir(cfg), cfg.MinInterval)
	}
	if rdb != nil {
		return rowstore.NewRedisGate(rdb, cfg.MinInterval)
	}
	return rowstore.NewFileGate(gateDir(cfg), cfg.MinInterval)
}

func gateDir(cfg config.GateConfig) string {
	if cfg.Dir != "" {
		return cfg.Dir
	}
	return os.TempDir()
}

func newLocker(rdb *redis.Client) rowstore.Locker {
	if rdb != nil {
		return rowstore.NewRedisLocker(rdb)
	}
	return rowstore.NewLocalLocker()
}

func newNotifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*notify.Router, error) {
	logNotifier := notify.NewLogNotifier(logger)
	r := notify.NewRouter(logger).Handle(notify.ChannelSMS, logNotifier, circuitbreaker.DefaultConfig())

	if cfg.SES.From == "" {
		return r.Handle(notify.ChannelEmail, logNotifier, circuitbreaker.DefaultConfig()), nil
	}
	ses, err := notify.NewSESNotifier(ctx, cfg.SES, logger)
	if err != nil {
		return nil, err
	}
	return r.Handle(notify.ChannelEmail, ses, circuitbreaker.DefaultConfig()), nil
}

func plans(cfg *config.Config) account.Plans {
	limits := make(map[string]account.Limits, len(cfg.Plans))
	for name, p := range cfg.Plans {
		limits[name] = account.Limits{Daily: p.Daily, Monthly: p.Monthly}
	}
	return account.NewPlans(limits, cfg.Auth.DefaultPlan)
}
