package rpcServer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/copperlabs/engine/internal/version"
	"github.com/copperlabs/engine/pkg/eventBus/eventBusTypes"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/metrics/metricsTypes"
	"github.com/copperlabs/engine/pkg/sellDetector"
	"github.com/copperlabs/engine/pkg/service/baseDataService"
	"github.com/copperlabs/engine/pkg/service/miningDataService"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// DataService is the read side of the API. Implemented by
// *miningDataService.MiningDataService.
type DataService interface {
	GetGlobalStats(ctx context.Context) (*miningDataService.GlobalStats, error)
	GetUserStats(ctx context.Context, wallet string) (*miningDataService.UserStats, error)
	GetUserHistory(ctx context.Context, wallet string, p *baseDataService.Pagination) (*miningDataService.UserHistory, error)
	GetLeaderboard(ctx context.Context, p *baseDataService.Pagination) (*miningDataService.Leaderboard, error)
	GetPool(ctx context.Context) (*miningDataService.PoolInfo, error)
	ListBuybacks(ctx context.Context, p *baseDataService.Pagination) (*miningDataService.Page[*miningDataService.BuybackEntry], error)
	ListDistributions(ctx context.Context, p *baseDataService.Pagination) (*miningDataService.Page[*miningDataService.DistributionEntry], error)
	InvalidateLeaderboard()
}

// TransactionHandler consumes decoded webhook batches. Implemented by
// *sellDetector.Detector.
type TransactionHandler interface {
	HandleTransactions(ctx context.Context, txs []*sellDetector.EnhancedTransaction) *sellDetector.BatchResult
}

// HealthChecker reports whether backing services are reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type RpcServerConfig struct {
	HttpPort                 int
	CorsOrigins              []string
	RequestsPerMinute        int
	WebhookRequestsPerMinute int
	WebhookSecret            string
	MaxWsConnectionsPerIp    int
}

type RpcServer struct {
	Logger         *zap.Logger
	config         *RpcServerConfig
	dataService    DataService
	transactions   TransactionHandler
	health         HealthChecker
	eventBus       eventBusTypes.IEventBus
	metricsSink    *metrics.MetricsSink
	hub            *Hub
	apiLimiter     *RateLimiter
	webhookLimiter *RateLimiter
}

// NewRpcServer wires the HTTP API. transactions and health may be nil: the
// webhook then answers 503 and the health check skips the dependency ping.
func NewRpcServer(
	config *RpcServerConfig,
	dataService DataService,
	transactions TransactionHandler,
	health HealthChecker,
	eb eventBusTypes.IEventBus,
	ms *metrics.MetricsSink,
	l *zap.Logger,
) *RpcServer {
	return &RpcServer{
		Logger:         l,
		config:         config,
		dataService:    dataService,
		transactions:   transactions,
		health:         health,
		eventBus:       eb,
		metricsSink:    ms,
		hub:            NewHub(dataService, config.MaxWsConnectionsPerIp, config.CorsOrigins, ms, l),
		apiLimiter:     NewRateLimiter(config.RequestsPerMinute),
		webhookLimiter: NewRateLimiter(config.WebhookRequestsPerMinute),
	}
}

func (rpc *RpcServer) Hub() *Hub {
	return rpc.hub
}

// Router builds the chi route tree. /metrics is mounted only when a
// prometheus client is configured.
func (rpc *RpcServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rpc.metricsMiddleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: rpc.config.CorsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", sellDetector.SignatureHeader},
		MaxAge:         600,
	}).Handler)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(rpc.apiLimiter))
			r.Get("/health", rpc.handleHealth)
			r.Get("/stats", rpc.handleStats)
			r.Get("/user/{wallet}", rpc.handleUser)
			r.Get("/user/{wallet}/history", rpc.handleUserHistory)
			r.Get("/leaderboard", rpc.handleLeaderboard)
			r.Get("/pool", rpc.handlePool)
			r.Get("/buybacks", rpc.handleBuybacks)
			r.Get("/distributions", rpc.handleDistributions)
			r.Get("/webhook/helius/status", rpc.handleWebhookStatus)
		})
		r.With(RateLimitMiddleware(rpc.webhookLimiter)).Post("/webhook/helius", rpc.handleHeliusWebhook)
	})
	r.Get("/ws", rpc.hub.ServeWs)

	if h := rpc.metricsSink.PrometheusHandler(); h != nil {
		r.Handle("/metrics", h)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	return r
}

// Start serves HTTP until shutdown receives a value or ctx is done. It returns
// once the listener goroutine has been launched.
func (rpc *RpcServer) Start(ctx context.Context, shutdown <-chan bool) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", rpc.config.HttpPort),
		Handler:           rpc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubCtx, cancelHub := context.WithCancel(ctx)
	go rpc.hub.Run(hubCtx, rpc.eventBus)
	go rpc.sweepLimiters(hubCtx)

	go func() {
		rpc.Logger.Sugar().Infow("Starting HTTP server", zap.Int("port", rpc.config.HttpPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rpc.Logger.Sugar().Errorw("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		select {
		case <-shutdown:
		case <-ctx.Done():
		}
		rpc.Logger.Sugar().Infow("Stopping HTTP server")
		cancelHub()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			rpc.Logger.Sugar().Errorw("Failed to shut down HTTP server", zap.Error(err))
		}
	}()
	return nil
}

func (rpc *RpcServer) sweepLimiters(ctx context.Context) {
	ticker := time.NewTicker(limiterIdleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cutoff := now.Add(-limiterIdleTimeout)
			rpc.apiLimiter.Sweep(cutoff)
			rpc.webhookLimiter.Sweep(cutoff)
		}
	}
}

func (rpc *RpcServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			pattern = rctx.RoutePattern()
		}
		if pattern == "" {
			pattern = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := []metricsTypes.MetricsLabel{
			{Name: "method", Value: r.Method},
			{Name: "pattern", Value: pattern},
			{Name: "status_code", Value: strconv.Itoa(status)},
		}
		_ = rpc.metricsSink.Incr(metricsTypes.Metric_Incr_HttpRequest, labels, 1)
		_ = rpc.metricsSink.Timing(metricsTypes.Metric_Timing_HttpDuration, time.Since(start), labels)
	})
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type RateLimitError struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, &ErrorResponse{Error: code, Message: message})
}

// internalError logs err and answers with a generic 500 so storage or
// upstream details never reach clients.
func (rpc *RpcServer) internalError(w http.ResponseWriter, r *http.Request, err error) {
	rpc.Logger.Sugar().Errorw("Request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func healthResponse(status string) *HealthResponse {
	return &HealthResponse{
		Status:  status,
		Service: "copper-engine",
		Version: version.GetVersion(),
		Commit:  version.GetCommit(),
	}
}
