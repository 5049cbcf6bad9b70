package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/internal/tracer"
	"github.com/copperlabs/engine/internal/version"
	"github.com/copperlabs/engine/pkg/distributionQueue"
	"github.com/copperlabs/engine/pkg/rpcServer"
	"github.com/copperlabs/engine/pkg/runtime"
	"github.com/copperlabs/engine/pkg/service/miningDataService"
	"github.com/copperlabs/engine/pkg/shutdown"
	"github.com/copperlabs/engine/pkg/workers"
	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine: snapshots, tiers, buybacks, distributions and the HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		initRunCmd(cmd)
		cfg := config.NewConfig()

		if err := cfg.ValidateEngineConfig(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}

		tracer.StartTracer(cfg.DataDogConfig.EnableTracing, cfg.Environment)
		defer tracer.StopTracer()

		if cfg.SentryDsn != "" {
			if err := sentry.Init(sentry.ClientOptions{
				Dsn:              cfg.SentryDsn,
				Environment:      cfg.Environment,
				Release:          version.GetVersion(),
				TracesSampleRate: 0.1,
			}); err != nil {
				log.Fatalf("Failed to initialize sentry: %v", err)
			}
			defer sentry.Flush(2 * time.Second)
		}

		b, err := setupBase(cfg, true)
		if err != nil {
			log.Fatalf("Failed to setup engine: %v", err)
		}
		defer b.Close()
		l := b.logger

		l.Sugar().Infow("copper engine",
			zap.String("version", version.GetVersion()),
			zap.String("commit", version.GetCommit()),
			zap.String("environment", cfg.Environment),
		)

		if err := runtime.NewEngineRuntime(b.grm, l).ValidateAndUpdateVersion(version.GetVersion()); err != nil {
			l.Sugar().Fatalw("Failed to validate engine version", zap.Error(err))
		}

		e, err := setupEngine(b)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup engine components", zap.Error(err))
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dq := distributionQueue.NewDistributionQueue(e.distribution, l)
		go dq.Process(ctx)

		dataSvc := miningDataService.NewMiningDataService(b.store, e.twab, e.tracker, e.buyback, b.clock, l,
			miningDataService.WithMinBalanceUsd(cfg.DistributionConfig.MinBalanceUsd),
		)

		rpc := rpcServer.NewRpcServer(&rpcServer.RpcServerConfig{
			HttpPort:                 cfg.RpcConfig.HttpPort,
			CorsOrigins:              cfg.RpcConfig.CorsOrigins,
			RequestsPerMinute:        cfg.RpcConfig.RequestsPerMinute,
			WebhookRequestsPerMinute: cfg.RpcConfig.WebhookRequestsPerMinute,
			WebhookSecret:            cfg.HeliusConfig.WebhookSecret,
			MaxWsConnectionsPerIp:    rpcServer.DefaultMaxWsConnectionsPerIp,
		}, dataSvc, e.detector, b, b.eventBus, b.metrics, l)

		rpcChannel := make(chan bool, 1)
		if err := rpc.Start(ctx, rpcChannel); err != nil {
			l.Sugar().Fatalw("Failed to start RPC server", zap.Error(err))
		}

		if cfg.PrometheusConfig.Enabled && cfg.PrometheusConfig.Port != cfg.RpcConfig.HttpPort {
			go serveMetrics(ctx, cfg.PrometheusConfig.Port, b.metrics.PrometheusHandler(), l)
		}

		jobs := &workers.EngineJobs{
			Snapshots:     e.snapshots,
			Distributions: dq,
			Tiers:         e.streaks,
			Logger:        l,
		}
		if e.canBuyback {
			jobs.Buybacks = e.buyback
		}
		scheduler := workers.NewScheduler(b.clock, b.metrics, l)
		scheduler.Add(jobs.Build()...)
		scheduler.Start(ctx)

		gracefulShutdown := shutdown.CreateGracefulShutdownChannel()

		done := make(chan bool)
		go func() {
			scheduler.Wait()
			dq.Close()
			b.metrics.Flush()
			done <- true
		}()

		shutdown.ListenForShutdown(gracefulShutdown, done, func() {
			l.Sugar().Info("Shutting down...")
			rpcChannel <- true
			cancel()
		}, 30*time.Second, l)
	},
}

// serveMetrics exposes the prometheus handler on its own port.
func serveMetrics(ctx context.Context, port int, h http.Handler, l *zap.Logger) {
	if h == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	l.Sugar().Infow("Serving prometheus metrics", zap.Int("port", port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Sugar().Errorw("Metrics server failed", zap.Error(err))
	}
}

func initRunCmd(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(f.Name); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}
