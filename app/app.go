// Package app wires the engine's components from configuration. Both
// binaries build on it so they share one store and wallet setup.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	rgs "github.com/Ashenafi-pixel/gamecrafter-round-engine"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/clock"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/config"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/gamemath"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/ledger"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/metrics"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/modifier"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/operator"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/oracle"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/platform"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/server"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/settlement"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/wallet"
)

// Wallet is what the engine needs from a wallet backend plus balance reads.
type Wallet interface {
	wallet.Gateway
	server.BalanceReader
}

type App struct {
	Config   *config.Config
	Clock    *clock.Clock
	Store    round.Store
	GameMath *gamemath.Store
	Games    *games.Registry
	Wallet   Wallet
	Profiles modifier.ProfileSource
	Resolver *modifier.Resolver
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Oracle   *oracle.Oracle
	Ledger   *ledger.Ledger
	Engine   *settlement.Engine
	Log      *slog.Logger
}

// Build opens the configured store and assembles every component.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	c, err := clock.New(cfg.Interval(), cfg.Reveal(), cfg.Location())
	if err != nil {
		return nil, fmt.Errorf("app.Build: %w", err)
	}
	store, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	math := gamemath.NewStore(cfg.Store.DataDir, log)
	reg, err := Registry(cfg, math)
	if err != nil {
		store.Close()
		return nil, err
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("app.Build: %w", err)
	}

	var w Wallet
	if cfg.Wallet.OperatorEndpoint != "" {
		w = operator.NewClient(cfg.Wallet.OperatorEndpoint, cfg.Wallet.OperatorSecret, cfg.Wallet.RequestsPerSec, log)
		log.Info("wallet: operator", "endpoint", cfg.Wallet.OperatorEndpoint)
	} else {
		w = wallet.NewMemory(cfg.Wallet.InitialBalance)
		log.Warn("wallet: in-memory, balances reset on restart", "initial", cfg.Wallet.InitialBalance)
	}

	var profiles modifier.ProfileSource = modifier.NewMemorySource()
	if cfg.Platform.URL != "" {
		profiles = platform.NewClient(cfg.Platform.URL, cfg.Platform.Token)
	}
	profiles = modifier.Fallback{Source: profiles}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	resolver := modifier.NewResolver(catalog, decimal.NewFromFloat(cfg.Modifier.Ceiling))
	o := oracle.New(store, reg, m, log)
	return &App{
		Config:   cfg,
		Clock:    c,
		Store:    store,
		GameMath: math,
		Games:    reg,
		Wallet:   w,
		Profiles: profiles,
		Resolver: resolver,
		Metrics:  m,
		Registry: promReg,
		Oracle:   o,
		Ledger: ledger.New(ledger.Deps{
			Store: store, Clock: c, Games: reg, Wallet: w,
			Resolver: resolver, Profiles: profiles, Metrics: m, Log: log,
			MaxStake: cfg.Round.MaxStake,
		}),
		Engine: settlement.New(settlement.Deps{
			Store: store, Clock: c, Games: reg, Oracle: o, Wallet: w,
			Resolver: resolver, Profiles: profiles, Metrics: m, Log: log,
		}),
		Log: log,
	}, nil
}

// Server builds the HTTP server over the app.
func (a *App) Server() *server.Server {
	return server.New(server.Deps{
		Config:   a.Config,
		Clock:    a.Clock,
		Games:    a.Games,
		Oracle:   a.Oracle,
		Ledger:   a.Ledger,
		Engine:   a.Engine,
		Balances: a.Wallet,
		Gatherer: a.Registry,
		Log:      a.Log,
	})
}

func (a *App) Close() error { return a.Store.Close() }

// OpenStore returns the round store for cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (round.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return round.NewMemStore(cfg.Store.DataDir, log), nil
	case "sqlite":
		db, err := rgs.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return sqlStore(ctx, db, round.DialectSQLite, log)
	case "postgres":
		var (
			db  *sql.DB
			err error
		)
		if os.Getenv("DATABASE_URL") == cfg.Store.DatabaseURL {
			db, err = rgs.GetDB()
		} else {
			db, err = rgs.OpenPostgres(cfg.Store.DatabaseURL)
		}
		if err != nil {
			return nil, err
		}
		if db == nil {
			return nil, fmt.Errorf("app.OpenStore: DATABASE_URL is not set; cannot connect to DB")
		}
		return sqlStore(ctx, db, round.DialectPostgres, log)
	}
	return nil, fmt.Errorf("app.OpenStore: unknown driver %q", cfg.Store.Driver)
}

func sqlStore(ctx context.Context, db *sql.DB, d round.Dialect, log *slog.Logger) (round.Store, error) {
	s, err := round.NewSQLStore(ctx, db, d, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Registry registers the enabled built-in games with configured payout overrides.
func Registry(cfg *config.Config, math *gamemath.Store) (*games.Registry, error) {
	reg := games.NewRegistry()
	for _, t := range games.Builtin(math) {
		if !cfg.GameEnabled(t.ID()) {
			continue
		}
		if o := cfg.Games.Payouts[t.ID()]; len(o) > 0 {
			var err error
			if t, err = t.WithPayouts(o); err != nil {
				return nil, fmt.Errorf("app.Registry: %w", err)
			}
		}
		reg.Register(t)
	}
	if len(reg.List()) == 0 {
		return nil, fmt.Errorf("app.Registry: no games enabled")
	}
	return reg, nil
}

// Announce materializes every enabled game's result as each reveal window
// opens, so result listings do not wait on a participant session.
func (a *App) Announce(ctx context.Context) error {
	t := clock.NewTicker(a.Clock, a.Config.Tick(), nil)
	go t.Run(ctx)
	for ev := range t.Events() {
		if !ev.PhaseChanged || !ev.Info.InReveal {
			continue
		}
		for _, v := range a.Games.List() {
			if _, err := a.Oracle.Get(ctx, v.ID(), ev.Info.RevealRoundID, true); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.Log.Warn("announce: materialize failed", "game", v.ID(), "round", ev.Info.RevealRoundID, "err", err)
			}
		}
	}
	return nil
}
