package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/takotako/lending-indexer/pkg/chain"
	"github.com/takotako/lending-indexer/pkg/config"
	"github.com/takotako/lending-indexer/pkg/entity"
	"github.com/takotako/lending-indexer/pkg/indexer"
	"github.com/takotako/lending-indexer/pkg/pgutil"
	"github.com/takotako/lending-indexer/pkg/store"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting lending protocol indexer",
		zap.String("protocol", cfg.Protocol.Slug),
		zap.String("network", cfg.Protocol.Network))

	// Initialize database
	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	entityStore := store.NewPG(db)

	// Initialize EVM client
	chainClient, err := chain.NewClient(cfg.Ethereum.RPCURL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to EVM node", zap.Error(err))
	}
	defer chainClient.Close()

	poller := chain.NewPoller(chainClient, &cfg.Ethereum, logger)
	registry := indexer.NewRegistry(entityStore, chainClient, cfg.Protocol, logger)
	handlers := indexer.NewHandlers(entityStore, registry, poller, logger)
	accruer := indexer.NewAccruer(entityStore, chainClient, registry, cfg.Accrual.BatchSize, logger)
	engine := indexer.NewEngine(handlers, accruer, entityStore, cfg.Protocol.Network, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Re-register auxiliary token subscriptions for markets indexed before
	// this restart.
	if err := watchKnownTokens(ctx, entityStore, registry, poller); err != nil {
		logger.Fatal("Failed to restore token subscriptions", zap.Error(err))
	}

	fromBlock, err := resumeBlock(ctx, entityStore, cfg)
	if err != nil {
		logger.Fatal("Failed to load chain cursor", zap.Error(err))
	}
	logger.Info("Resuming from block", zap.Int64("block", fromBlock))

	events, errs := poller.Stream(ctx, fromBlock)

	engineErr := make(chan error, 1)
	go func() {
		engineErr <- engine.Run(ctx, events, errs)
	}()

	// Setup HTTP server for health and metrics
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled", zap.Int("port", cfg.Monitoring.MetricsPort))
	}

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("address", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal or engine failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, gracefully shutting down...")
	case err := <-engineErr:
		if err != nil && err != context.Canceled {
			logger.Error("Engine stopped", zap.Error(err))
			exitCode = 1
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Indexer stopped")
	os.Exit(exitCode)
}

// watchKnownTokens re-subscribes the poller to the auxiliary tokens of
// every market already present in the store.
func watchKnownTokens(ctx context.Context, entityStore indexer.EntityStore, registry *indexer.Registry, poller *chain.Poller) error {
	protocol, err := entityStore.Protocol(ctx, registry.ProtocolID())
	if err != nil {
		return err
	}
	if protocol == nil {
		return nil
	}

	for _, marketID := range protocol.MarketIDs {
		market, err := entityStore.Market(ctx, marketID)
		if err != nil {
			return err
		}
		if market == nil {
			continue
		}
		if market.OutputToken != "" {
			poller.WatchToken(common.HexToAddress(market.OutputToken), entity.SideLender)
		}
		if market.VToken != "" {
			poller.WatchToken(common.HexToAddress(market.VToken), entity.SideBorrower)
		}
		if market.SToken != "" {
			poller.WatchToken(common.HexToAddress(market.SToken), entity.SideBorrower)
		}
	}
	return nil
}

// resumeBlock picks the first block to poll: one past the durable cursor,
// or the configured start block on a fresh database.
func resumeBlock(ctx context.Context, entityStore indexer.EntityStore, cfg *config.Config) (int64, error) {
	cursor, err := entityStore.ChainCursor(ctx, cfg.Protocol.Network)
	if err != nil {
		return 0, err
	}
	from := cfg.Ethereum.StartBlock
	if cursor != nil && cursor.LastBlock+1 > from {
		from = cursor.LastBlock + 1
	}
	return from, nil
}
