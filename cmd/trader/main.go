package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mscrnt/Robo-Trader/internal/broker"
	"github.com/mscrnt/Robo-Trader/internal/config"
	"github.com/mscrnt/Robo-Trader/internal/database"
	"github.com/mscrnt/Robo-Trader/internal/killswitch"
	"github.com/mscrnt/Robo-Trader/internal/logger"
	"github.com/mscrnt/Robo-Trader/internal/pipeline"
	"github.com/mscrnt/Robo-Trader/internal/provider"
	"github.com/mscrnt/Robo-Trader/internal/reporter"
	"github.com/mscrnt/Robo-Trader/internal/risk"
	"github.com/mscrnt/Robo-Trader/internal/signals"
	"github.com/mscrnt/Robo-Trader/internal/store"
	"github.com/mscrnt/Robo-Trader/internal/watchlist"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "run a single pipeline pass and exit")
	dryRun := flag.Bool("dry-run", false, "build and persist plans but never submit orders")
	force := flag.Bool("force", false, "skip the circuit breaker check for this run")
	cancelOrders := flag.Bool("cancel-orders", false, "cancel all open orders and exit")
	flag.Parse()

	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.String("mode", cfg.Trading.Mode))

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")
	st := store.New(db)

	// Shared kill-switch store. Without redis configured every process
	// keeps its own flag, which is fine for a single-instance deployment.
	var kill killswitch.Store
	if cfg.Redis.Addr != "" {
		kill = killswitch.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
		log.Info("Using redis kill switch", zap.String("addr", cfg.Redis.Addr))
	} else {
		kill = killswitch.NewMemory()
		log.Warn("Redis not configured, kill switch is process-local")
	}

	// Initialize brokerage client
	brk, err := broker.NewRestClient(&cfg.Broker, cfg.Trading.Mode, log)
	if err != nil {
		log.Fatal("Failed to initialize broker client", zap.Error(err))
	}
	log.Info("Broker client ready", zap.String("mode", brk.Mode()))

	if *cancelOrders {
		n, err := broker.CancelOpenOrders(context.Background(), brk, st, log)
		if err != nil {
			log.Fatal("Failed to cancel open orders", zap.Error(err))
		}
		log.Info("Open orders canceled", zap.Int("count", n))
		return
	}

	// Market data, signals, risk
	chain := provider.NewChainFromConfig(cfg.Providers, st, log)
	engine := signals.NewEngine(cfg.Factors, st, log)
	riskMgr := risk.NewManager(cfg.Risk, st, log)
	watch := watchlist.NewRefresher(watchlist.NewStoredBuilder(st), st, cfg.Trading.MaxWatchlist, log)
	reports := reporter.New(log)

	orch := pipeline.NewOrchestrator(&cfg, log, st, brk, chain, engine, riskMgr, kill, watch, reports)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	opts := pipeline.RunOptions{Force: *force, DryRun: *dryRun}

	if *once {
		result := orch.Run(ctx, opts)
		log.Info("Run finished",
			zap.String("status", string(result.Status)),
			zap.String("reason", result.Reason),
			zap.Int("orders", result.Orders),
			zap.Bool("executed", result.Executed))
		if result.Status == pipeline.StatusError {
			log.Error("Run failed", zap.String("error", result.Error))
			os.Exit(1)
		}
		return
	}

	interval := time.Duration(cfg.Trading.TickInterval) * time.Minute
	log.Info("Starting scheduler loop", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// The first pass fires immediately. Force only applies to that pass;
	// recurring runs always honor the breaker.
	result := orch.Run(ctx, opts)
	log.Info("Run finished", zap.String("status", string(result.Status)))
	opts.Force = false

	for {
		select {
		case <-ctx.Done():
			log.Info("Trader has been shut down.")
			return
		case <-ticker.C:
			result := orch.Run(ctx, opts)
			log.Info("Run finished",
				zap.String("status", string(result.Status)),
				zap.String("reason", result.Reason),
				zap.Int("orders", result.Orders),
				zap.Bool("executed", result.Executed))
		}
	}
}
