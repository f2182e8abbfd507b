// Package app wires the execution engine's collaborators from configuration
// and runs the long-lived services.
package app

import (
	"context"
	"fmt"

	"tradesentry/internal/broker/kite"
	tscfg "tradesentry/internal/config"
	"tradesentry/internal/engine"
	"tradesentry/internal/instrument"
	"tradesentry/internal/logger"
	"tradesentry/internal/notifier"
	"tradesentry/internal/order"
	"tradesentry/internal/risk"
	"tradesentry/internal/session"
	"tradesentry/internal/store/gormstore"
	"tradesentry/internal/store/journal"
	opshttp "tradesentry/internal/transport/http/ops"

	"golang.org/x/sync/errgroup"
)

// App owns the assembled object graph: broker client, order manager, engine,
// stores and the ops HTTP server.
type App struct {
	cfg     *tscfg.Config
	engine  *engine.Engine
	insts   *instrument.Registry
	trades  *gormstore.Store
	journal *journal.Journal
	opsHTTP *opshttp.Server
}

// NewApp builds the application from configuration without starting it.
func NewApp(cfg *tscfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	adapter, err := kite.NewClient(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("broker client: %w", err)
	}

	jr, err := journal.Open(cfg.Store.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("order journal: %w", err)
	}
	trades, err := gormstore.New(cfg.Store.TradesPath)
	if err != nil {
		jr.Close()
		return nil, fmt.Errorf("trade ledger: %w", err)
	}

	insts, err := instrument.NewRegistry(cfg.Instruments.Path)
	if err != nil {
		logger.Warnf("instrument registry unavailable, prices will not be tick-rounded: %v", err)
		insts = nil
	}

	var notify notifier.TextNotifier = notifier.Nop{}
	if tg := cfg.Notify.Telegram; tg.Enabled {
		notify = notifier.NewTelegram(tg.BotToken, tg.ChatID)
	}

	orders := order.NewManager(adapter, jr)
	sess := session.New()
	eng, err := engine.New(engine.Params{
		Adapter:     adapter,
		Orders:      orders,
		Session:     sess,
		Instruments: insts,
		Risk:        risk.NewEngine(cfg.Risk.MaxDailyLoss),
		History:     trades,
		Journal:     jr,
		Notifier:    notify,
		Execution:   cfg.Execution,
		Broker:      cfg.Broker,
	})
	if err != nil {
		trades.Close()
		jr.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}

	srv, err := opshttp.NewServer(opshttp.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Engine:  eng,
		Trades:  trades,
		Journal: jr,
	})
	if err != nil {
		trades.Close()
		jr.Close()
		return nil, fmt.Errorf("ops server: %w", err)
	}

	return &App{
		cfg:     cfg,
		engine:  eng,
		insts:   insts,
		trades:  trades,
		journal: jr,
		opsHTTP: srv,
	}, nil
}

// Run serves until ctx ends, then releases the stores.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.opsHTTP.Start(ctx); err != nil {
			return fmt.Errorf("ops http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.runStopMonitor(ctx)
	})

	logger.Infof("tradesentry running: broker=%s http=%s", a.cfg.Broker.APIURL, a.cfg.App.HTTPAddr)
	return group.Wait()
}

// Engine exposes the engine instance for embedding callers and tests.
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

func (a *App) close() {
	if a.insts != nil {
		a.insts.Close()
	}
	if a.trades != nil {
		if err := a.trades.Close(); err != nil {
			logger.Warnf("closing trade ledger: %v", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("closing journal: %v", err)
		}
	}
}
