package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"tradegate/internal/api"
	"tradegate/internal/broker"
	"tradegate/internal/compliance"
	"tradegate/internal/config"
	"tradegate/internal/engine"
	"tradegate/internal/events"
	"tradegate/internal/jobs"
	"tradegate/internal/marketdata"
	"tradegate/internal/refdata"
	"tradegate/internal/store"
	"tradegate/internal/surveillance"
	"tradegate/internal/util"
)

func main() {
	cfgPath := "config/tradegate.yaml"
	if p := os.Getenv("TRADEGATE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	cal, err := util.NewTradingCalendar(cfg.Calendar.Timezone, cfg.Calendar.Holidays)
	if err != nil {
		return fmt.Errorf("calendar: %w", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	archive := store.NewParquetArchive(cfg.Storage.DataDir)

	// Quotes and asset lookups come from Alpaca whenever credentials are
	// configured; paper mode only swaps the router for the simulator.
	var (
		quotes marketdata.Provider
		assets refdata.AssetSource
		router broker.Router
	)
	if cfg.Alpaca.Enabled() {
		quotes = marketdata.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.RateLimitPerMin, logger)
		assets = refdata.NewAlpacaAssets(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.RateLimitPerMin)
	} else {
		quotes = marketdata.NewStaticProvider()
	}
	if cfg.Trading.PaperMode {
		router = broker.NewSimulatorBroker()
	} else {
		router = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	}
	logger.Info("routing configured", "router", router.Name(), "paper", cfg.Trading.PaperMode,
		"alpaca", cfg.Alpaca.Enabled())

	disp := events.NewDispatcher(1024, logger)
	gate := compliance.NewGate(compliance.RatesFromConfig(cfg.Compliance), cal)
	breaker := compliance.NewCircuitBreaker(cfg.Compliance.CircuitBreakerLevels, cfg.Compliance.CircuitBreakerHalt, cal)

	eng := engine.NewEngine(engine.Deps{
		Store:    st,
		Risk:     engine.NewRiskManager(gate, breaker, quotes, cal, cfg.Compliance.PDTWindowDays, logger),
		Router:   router,
		Resolver: refdata.NewResolver(st, assets, logger),
		Events:   disp,
		Calendar: cal,
		Trading:  cfg.Trading,
		Log:      logger,
	})
	surv := surveillance.NewEngine(st, cal, surveillance.ParamsFromConfig(cfg.Surveillance), disp, logger)

	srv := api.NewServer(eng, surv, st, disp, logger)
	srv.SetArchive(archive)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	api.NewEventStreamServer(disp, logger).RegisterGRPC(grpcServer)
	grpcAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", grpcAddr, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", grpcAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		return srv.Hub().Run(gctx)
	})
	g.Go(func() error {
		return jobs.RunAll(gctx, logger,
			jobs.NewSurveillanceJob(surv, cfg.Surveillance.ScanInterval, logger),
			jobs.NewCloseJob(eng, jobs.NewArchiver(st, archive, cal, logger), cal, logger),
		)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		grpcServer.Stop()
		return nil
	})

	return g.Wait()
}
