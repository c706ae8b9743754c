package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BikeshR/menorepo-sub007/internal/api"
	"github.com/BikeshR/menorepo-sub007/internal/audit"
	"github.com/BikeshR/menorepo-sub007/internal/breaker"
	"github.com/BikeshR/menorepo-sub007/internal/events"
	"github.com/BikeshR/menorepo-sub007/internal/logger"
	"github.com/BikeshR/menorepo-sub007/internal/market"
	"github.com/BikeshR/menorepo-sub007/internal/monitor"
	"github.com/BikeshR/menorepo-sub007/internal/order"
	"github.com/BikeshR/menorepo-sub007/internal/risk"
	"github.com/BikeshR/menorepo-sub007/internal/signals"
	"github.com/BikeshR/menorepo-sub007/internal/state"
	"github.com/BikeshR/menorepo-sub007/pkg/config"
	"github.com/BikeshR/menorepo-sub007/pkg/db"
)

var buildVersion = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Errorw("trading core exited with error", "error", err)
		_ = lg.Sync()
		os.Exit(1)
	}
	lg.Info("trading core stopped")
}

func run(ctx context.Context, cfg *config.Config, lg *logger.Logger) error {
	log := lg.SugaredLogger

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	sink, closeSink, err := openAuditSink(cfg, database)
	if err != nil {
		return err
	}
	defer closeSink()
	auditLog := audit.NewLogger(sink, audit.WithLogger(log))
	if err := auditLog.Init(ctx); err != nil {
		return fmt.Errorf("audit init: %w", err)
	}

	bus := events.NewBus(events.Config{BufferSize: cfg.BusBufferSize})
	defer bus.Close()

	portfolio := state.NewManager(database, cfg.InitialCapital, state.WithLogger(log))
	if err := portfolio.Load(ctx); err != nil {
		return fmt.Errorf("load portfolio: %w", err)
	}
	riskMgr, err := risk.NewManager(risk.Limits{
		MaxPositionSize:  cfg.RiskMaxPositionSize,
		MaxDailyLoss:     cfg.RiskMaxDailyLoss,
		MaxConcentration: cfg.RiskMaxConcentration,
	}, portfolio, risk.WithLogger(log))
	if err != nil {
		return fmt.Errorf("risk limits: %w", err)
	}

	breakers := breaker.NewSet(breaker.Settings{
		MaxFailures:   uint32(cfg.BreakerMaxFailures),
		Timeout:       cfg.BreakerTimeout,
		MaxRequests:   uint32(cfg.BreakerMaxRequests),
		OnStateChange: audit.BreakerHook(auditLog, bus, log),
	})

	paper := order.NewPaperBroker(order.PaperConfig{
		SlippageBps: cfg.PaperSlippageBps,
		FeeRate:     cfg.PaperFeeRate,
		Latency:     cfg.PaperLatency,
	}, portfolio, log)
	engine, err := order.NewEngine(order.Deps{
		Bus:       bus,
		Risk:      riskMgr,
		Audit:     auditLog,
		Breaker:   breakers.Get("execution"),
		Broker:    paper,
		Store:     order.NewDBStore(database),
		Portfolio: portfolio,
	}, order.Config{ExecutionTimeout: cfg.ExecutionTimeout}, order.WithLogger(log))
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := engine.Recover(ctx); err != nil {
		return fmt.Errorf("recover orders: %w", err)
	}

	converter, err := signals.New(engine, signals.Config{
		Enabled:         cfg.SignalsEnabled,
		MinConfidence:   cfg.SignalsMinConfidence,
		DefaultQuantity: cfg.SignalsDefaultQty,
		LimitOrders:     cfg.SignalsLimitOrders,
		AuditDiscards:   cfg.SignalsAuditDiscards,
		Workers:         cfg.SignalsWorkers,
	}, signals.WithLogger(log), signals.WithAuditor(auditLog), signals.WithBus(bus))
	if err != nil {
		return fmt.Errorf("signal converter: %w", err)
	}

	var pwHash, jwtSecret string
	if cfg.OperatorPassword != "" {
		jwtSecret = cfg.JWTSecret
		if pwHash, err = api.HashPassword(cfg.OperatorPassword); err != nil {
			return fmt.Errorf("hash operator password: %w", err)
		}
	} else {
		log.Warn("OPERATOR_PASSWORD not set; operator endpoints are unavailable")
	}
	server := api.NewServer(api.Deps{
		Bus:       bus,
		Engine:    engine,
		Breakers:  breakers,
		Gate:      converter,
		Risk:      riskMgr,
		Portfolio: portfolio,
		Audit:     auditLog,
	}, api.Options{
		JWTSecret:            jwtSecret,
		OperatorPasswordHash: pwHash,
		Meta: api.SystemMeta{
			Mode:    cfg.ExecutionMode,
			Symbols: cfg.Symbols,
			Version: buildVersion,
		},
	}, log)

	// Subscribe before any producer starts so nothing is missed.
	subscribe := func(k events.Kind) *events.Subscription {
		sub, err := bus.Subscribe(k)
		if err != nil {
			panic(err)
		}
		return sub
	}
	marksSub := subscribe(events.KindMarketData)
	matchSub := subscribe(events.KindMarketData)
	stratSub := subscribe(events.KindMarketData)
	signalSub := subscribe(events.KindSignal)
	systemSub := subscribe(events.KindSystem)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { portfolio.Run(gctx, marksSub); return nil })
	g.Go(func() error { paper.Run(gctx, matchSub, engine); return nil })
	g.Go(func() error { converter.Run(gctx, signalSub); return nil })
	g.Go(func() error {
		mon := &monitor.Monitor{
			Sinks:    []monitor.AlertSink{monitor.LogSink{Log: log}},
			MinLevel: events.LevelWarn,
			Log:      log,
		}
		mon.Run(gctx, systemSub)
		return nil
	})
	g.Go(func() error {
		cross := &market.Crossover{ID: "ma_cross", FastPeriod: 5, SlowPeriod: 20, Bus: bus, Log: log}
		cross.Run(gctx, stratSub)
		return nil
	})
	if cfg.UseMockFeed {
		g.Go(func() error {
			feed := &market.MockFeed{
				Bus:      bus,
				Symbols:  cfg.Symbols,
				Interval: cfg.MockFeedPeriod,
				Seed:     cfg.MockFeedSeed,
				Log:      log,
			}
			feed.Run(gctx)
			return nil
		})
	} else {
		log.Warn("mock feed disabled; no market data source is configured")
	}
	g.Go(func() error { return expireAtDayChange(gctx, engine, log) })
	if cfg.RuntimeConfigPath != "" {
		g.Go(func() error {
			apply := func(rt *config.Runtime) { applyRuntime(rt, riskMgr, converter, lg) }
			if rt, err := config.LoadRuntime(cfg.RuntimeConfigPath); err == nil {
				apply(rt)
			} else if !errors.Is(err, os.ErrNotExist) {
				log.Warnw("runtime config not applied", "path", cfg.RuntimeConfigPath, "error", err)
			}
			return config.WatchRuntime(gctx, cfg.RuntimeConfigPath, apply, func(err error) {
				log.Warnw("runtime config reload failed", "path", cfg.RuntimeConfigPath, "error", err)
			})
		})
	}
	g.Go(func() error { return server.Run(gctx, ":"+cfg.Port) })

	// Drain the engine once shutdown starts, while the rest winds down.
	g.Go(func() error {
		<-gctx.Done()
		log.Infow("shutting down", "grace", cfg.ShutdownGrace)
		graceCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := engine.Shutdown(graceCtx); err != nil {
			log.Warnw("engine shutdown forced", "error", err)
		}
		return nil
	})

	log.Infow("trading core started",
		"mode", cfg.ExecutionMode,
		"symbols", cfg.Symbols,
		"port", cfg.Port,
		"version", buildVersion,
	)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func openAuditSink(cfg *config.Config, database *db.Database) (audit.Sink, func(), error) {
	switch cfg.AuditSink {
	case "sqlite":
		return audit.NewSQLSink(database), func() {}, nil
	default:
		bolt, err := audit.OpenBolt(cfg.AuditPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit log: %w", err)
		}
		return bolt, func() { _ = bolt.Close() }, nil
	}
}

// applyRuntime pushes a reloaded overlay into the running components.
func applyRuntime(rt *config.Runtime, rm *risk.Manager, conv *signals.Converter, lg *logger.Logger) {
	log := lg.SugaredLogger
	if r := rt.Risk; r != nil {
		limits := risk.Limits{
			MaxPositionSize:  r.MaxPositionSize,
			MaxDailyLoss:     r.MaxDailyLoss,
			MaxConcentration: r.MaxConcentration,
		}
		if err := rm.UpdateLimits(limits); err != nil {
			log.Warnw("runtime risk limits rejected", "error", err)
		}
	}
	if s := rt.Signals; s != nil {
		if s.MinConfidence != nil {
			if err := conv.SetMinConfidence(*s.MinConfidence); err != nil {
				log.Warnw("runtime min_confidence rejected", "error", err)
			}
		}
		if s.DefaultQuantity != nil {
			if err := conv.SetDefaultQuantity(*s.DefaultQuantity); err != nil {
				log.Warnw("runtime default_quantity rejected", "error", err)
			}
		}
		if s.Enabled != nil {
			conv.SetEnabled(*s.Enabled)
		}
	}
	if rt.LogLevel != "" && !lg.SetLevel(rt.LogLevel) {
		log.Warnw("runtime log level rejected", "level", rt.LogLevel)
	}
	log.Infow("runtime config applied", "risk", rm.Limits(), "signals", conv.Stats())
}

// expireAtDayChange cancels resting DAY orders at every UTC midnight.
func expireAtDayChange(ctx context.Context, engine *order.Engine, log *zap.SugaredLogger) error {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		t := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		n, err := engine.ExpireDayOrders(ctx)
		if err != nil {
			log.Warnw("day order expiry incomplete", "expired", n, "error", err)
			continue
		}
		if n > 0 {
			log.Infow("day orders expired", "count", n)
		}
	}
}
