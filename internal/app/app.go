// Package app assembles the stores, the dialog engine, and the
// Telegram runtime into one runnable application.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"log/slog"

	"github.com/m3rciful/edubot/core/bootstrap"
	"github.com/m3rciful/edubot/core/logger"
	coretelegram "github.com/m3rciful/edubot/core/telegram"
	"github.com/m3rciful/edubot/core/telegram/router"
	"github.com/m3rciful/edubot/core/telegram/state"
	"github.com/m3rciful/edubot/internal/activity"
	"github.com/m3rciful/edubot/internal/arena"
	"github.com/m3rciful/edubot/internal/catalog"
	"github.com/m3rciful/edubot/internal/dialog"
	"github.com/m3rciful/edubot/internal/ledger"
	"github.com/m3rciful/edubot/internal/notify"
	"github.com/m3rciful/edubot/internal/report"
	"github.com/m3rciful/edubot/internal/sched"
	"github.com/m3rciful/edubot/internal/snapshot"
)

// App holds the assembled application.
type App struct {
	cfg *Config
	db  *sqlx.DB

	ledger   *ledger.Ledger
	catalog  *catalog.Store
	arena    *arena.Registry
	activity *activity.Store

	committer *snapshot.PostgresCommitter
	notifier  *notify.TelegramNotifier
	reporter  *report.Reporter
	engine    *dialog.Engine
	handlers  *dialog.Handlers
	fsm       state.Manager

	jobs *sched.Jobs
}

// Bootstrap initializes logging, the database, and the stores, and
// restores the last committed snapshot.
func Bootstrap(cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}

	res, err := bootstrap.Run(bootstrap.Options{
		Config:   &cfg.Core,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, db: res.DB}

	a.activity = activity.NewStore()
	a.ledger = ledger.New(ledger.WithActivityEnsure(func(userID int64) {
		a.activity.Ensure(userID)
	}))
	a.catalog = catalog.NewStore()
	a.arena = arena.NewRegistry()

	stores := snapshot.Stores{
		Ledger:   a.ledger,
		Catalog:  a.catalog,
		Arena:    a.arena,
		Activity: a.activity,
	}
	a.committer = snapshot.NewPostgresCommitter(res.DB, stores)

	loadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.committer.Load(loadCtx); err != nil {
		return nil, fmt.Errorf("app: snapshot restore failed: %w", err)
	}

	a.notifier = notify.NewTelegram()
	a.reporter = report.New(a.ledger, a.catalog, a.arena, a.activity)
	a.fsm = state.NewMemoryManager()

	a.engine = &dialog.Engine{
		AdminID:   cfg.Core.Telegram.AdminID,
		Ledger:    a.ledger,
		Catalog:   a.catalog,
		Arena:     a.arena,
		Activity:  a.activity,
		Committer: a.committer,
		Notifier:  a.notifier,
		Artifacts: catalog.DirArtifacts{Dir: cfg.App.ArtifactsDir},
	}
	a.handlers = &dialog.Handlers{
		Engine:   a.engine,
		Reporter: a.reporter,
		FSM:      a.fsm,
	}

	return a, nil
}

// TelegramRunOptions builds the bot runtime: registry, routes, and the
// lifecycle hooks that start and stop the periodic jobs.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()
	a.handlers.Register(reg)

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: a.cfg.Core.Telegram.AdminID,
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{
		NotFound: a.handlers.UnknownCallback(),
	}))
	routes = append(routes, router.TextRoutes(a.fsm, reg, router.TextOptions{
		UnknownText:     a.handlers.UnknownText(),
		UnknownDocument: a.handlers.UnknownDocument(),
	})...)

	opts := coretelegram.RunOptions{
		Config:      &a.cfg.Core,
		Registry:    reg,
		Middlewares: coretelegram.DefaultMiddlewares(&a.cfg.Core, nil),
		Routes:      routes,
	}

	opts.OnStart = func(ctx context.Context, rt coretelegram.Runtime) error {
		a.notifier.Bind(rt.Bot)
		jobs, err := sched.Start(a.committer, a.arena, sched.Options{
			AutosaveEvery:  time.Duration(a.cfg.App.AutosaveMinutes) * time.Minute,
			SweepEvery:     time.Duration(a.cfg.App.DuelSweepMinutes) * time.Minute,
			DuelStaleAfter: time.Duration(a.cfg.App.DuelStaleMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("app: scheduler start failed: %w", err)
		}
		a.jobs = jobs
		return nil
	}

	opts.OnStop = func(ctx context.Context, rt coretelegram.Runtime) error {
		if err := a.jobs.Stop(); err != nil {
			logger.L.With("component", "app").Warn("scheduler stop failed",
				slog.String("event", "shutdown"),
				slog.String("err", err.Error()),
			)
		}
		commitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.committer.Commit(commitCtx); err != nil {
			logger.L.With("component", "app").Error("final commit failed",
				slog.String("event", "shutdown"),
				slog.String("err", err.Error()),
			)
		}
		if a.db != nil {
			_ = a.db.Close()
		}
		return nil
	}

	return opts, nil
}
