package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"estatecrm/internal/handler"
	"estatecrm/internal/httpserver"
	"estatecrm/internal/service/analytics"
	"estatecrm/internal/service/deal"
	"estatecrm/internal/service/history"
	"estatecrm/internal/service/overdue"
	"estatecrm/internal/service/pipeline"
	"estatecrm/pkg/circuitbreaker"
	"estatecrm/pkg/mq"
	"estatecrm/pkg/otel"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	var (
		withScanner bool
		seed        bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the outbox dispatcher and overdue scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configDir)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServe(a, withScanner, seed)
		},
	}
	cmd.Flags().BoolVar(&withScanner, "scanner", true, "Run the overdue scanner in-process")
	cmd.Flags().BoolVar(&seed, "seed", false, "Create the default pipelines before serving")
	return cmd
}

func runServe(a *app, withScanner, seed bool) error {
	log := a.logger
	cfg := a.cfg

	log.Info("Starting estatecrm...",
		zap.String("storage", cfg.Storage.Mode),
		zap.String("port", cfg.Server.Port),
	)

	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName: cfg.OTel.ServiceName,
		Endpoint:    cfg.OTel.Endpoint,
		Enabled:     cfg.OTel.Enabled,
		SampleRatio: cfg.OTel.SampleRatio,
	}, log)
	if err != nil {
		log.Warn("Failed to init OpenTelemetry, continuing without export", zap.Error(err))
		shutdownTracing = func() {}
	}
	defer shutdownTracing()

	ctx, stop := signalContext()
	defer stop()

	pipelines := pipeline.NewService(a.store, a.store, a.locker, time.Now, log)
	deals := deal.NewService(a.store, time.Now, log)
	hist := history.NewService(a.store, log)
	stats := analytics.NewService(a.store, time.Now, log)

	if seed {
		results := pipelines.InitializeDefaults(ctx)
		logSeedResults(log, results)
	}

	opts := httpserver.Options{JWTSecret: cfg.JWT.Secret}
	if a.db != nil {
		opts.DB = a.db
	}

	// outbox -> MQ
	var publisher *mq.Publisher
	if a.outbox != nil && cfg.MQ.URL != "" {
		publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts.MQ = publisher

		breakerCfg := circuitbreaker.DefaultConfig()
		breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
			log.Warn("Outbox breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		dispatcher := outboxDispatcher(a, publisher).WithBreaker(circuitbreaker.NewCircuitBreaker(breakerCfg))
		go dispatcher.Start(ctx)
	} else if a.outbox != nil {
		log.Warn("MQ not configured, outbox events stay pending until a dispatcher runs")
	}

	if withScanner {
		scanner := overdue.NewScanner(a.store, a.events, a.dedup, cfg.Scanner.Interval, time.Now, log)
		go scanner.Start(ctx)
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpserver.NewRouter(httpserver.Handlers{
		Pipelines: handler.NewPipelineHandler(pipelines, log),
		Stages:    handler.NewStageHandler(pipelines, log),
		Deals:     handler.NewDealHandler(deals, hist, log),
		Analytics: handler.NewAnalyticsHandler(stats, log),
		History:   handler.NewHistoryHandler(hist, log),
		Directory: handler.NewDirectoryHandler(a.store, log),
	}, opts, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("HTTP server failed", zap.Error(err))
		return err
	}

	log.Info("Shutting down estatecrm gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	log.Info("HTTP server stopped")
	return nil
}
