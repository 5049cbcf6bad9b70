package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/buyback"
	"github.com/copperlabs/engine/pkg/clients/coingecko"
	"github.com/copperlabs/engine/pkg/clients/helius"
	"github.com/copperlabs/engine/pkg/clients/jupiter"
	"github.com/copperlabs/engine/pkg/clients/solanaRpc"
	"github.com/copperlabs/engine/pkg/distribution"
	"github.com/copperlabs/engine/pkg/eventBus"
	"github.com/copperlabs/engine/pkg/logger"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/postgres"
	"github.com/copperlabs/engine/pkg/priceFeed"
	"github.com/copperlabs/engine/pkg/rewardPool"
	"github.com/copperlabs/engine/pkg/sellDetector"
	"github.com/copperlabs/engine/pkg/snapshotScheduler"
	pgStorage "github.com/copperlabs/engine/pkg/storage/postgres"
	"github.com/copperlabs/engine/pkg/streaks"
	"github.com/copperlabs/engine/pkg/twab"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const clientTimeout = 15 * time.Second

// base holds what every command needs: logging, metrics and the database.
type base struct {
	cfg      *config.Config
	logger   *zap.Logger
	clock    clockwork.Clock
	eventBus *eventBus.EventBus
	metrics  *metrics.MetricsSink
	db       *sql.DB
	grm      *gorm.DB
	store    *pgStorage.PostgresStore
}

func setupBase(cfg *config.Config, withMetrics bool) (*base, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return nil, err
	}

	sink := metrics.NewNoopMetricsSink()
	if withMetrics {
		clients, err := metrics.InitMetricsSinksFromConfig(cfg, l)
		if err != nil {
			return nil, fmt.Errorf("failed to setup metrics clients: %w", err)
		}
		sink, err = metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, clients)
		if err != nil {
			return nil, fmt.Errorf("failed to setup metrics sink: %w", err)
		}
	}

	db, grm, err := postgres.SetupDatabase(cfg, false, l)
	if err != nil {
		return nil, err
	}

	return &base{
		cfg:      cfg,
		logger:   l,
		clock:    clockwork.NewRealClock(),
		eventBus: eventBus.NewEventBus(l),
		metrics:  sink,
		db:       db,
		grm:      grm,
		store:    pgStorage.NewPostgresStore(grm, l, cfg),
	}, nil
}

func (b *base) Close() {
	if b.db != nil {
		_ = b.db.Close()
	}
	_ = b.logger.Sync()
}

// Ping lets the HTTP health check reach the database.
func (b *base) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// engine is the fully wired set of components. Signing components are nil
// when their key is not configured.
type engine struct {
	*base

	helius       *helius.Client
	jupiter      *jupiter.Client
	solana       *solanaRpc.Client
	prices       *priceFeed.Feed
	tracker      *rewardPool.Tracker
	twab         *twab.Calculator
	streaks      *streaks.Engine
	buyback      *buyback.Executor
	detector     *sellDetector.Detector
	snapshots    *snapshotScheduler.Scheduler
	distribution *distribution.Engine
	payer        *solanaRpc.TokenPayer
	canBuyback   bool
}

func setupEngine(b *base) (*engine, error) {
	cfg := b.cfg
	l := b.logger

	e := &engine{base: b}

	e.helius = helius.NewClient(&helius.HeliusClientConfig{
		RpcUrl:  cfg.HeliusConfig.RpcUrl,
		ApiKey:  cfg.HeliusConfig.ApiKey,
		Timeout: clientTimeout,
	}, l)
	e.jupiter = jupiter.NewClient(&jupiter.JupiterClientConfig{
		QuoteUrl:    cfg.JupiterConfig.QuoteUrl,
		SwapUrl:     cfg.JupiterConfig.SwapUrl,
		PriceUrl:    cfg.JupiterConfig.PriceUrl,
		SlippageBps: cfg.JupiterConfig.SlippageBps,
		Timeout:     clientTimeout,
	}, l)
	cg := coingecko.NewClient(cfg.CoingeckoConfig.ApiKey, cfg.CoingeckoConfig.BaseUrl, l)

	sol, err := solanaRpc.NewClient(&solanaRpc.SolanaClientConfig{
		RpcUrl:    cfg.SolanaConfig.RpcUrl,
		TokenMint: cfg.SolanaConfig.TokenMint,
		Decimals:  config.CopperDecimals,
	}, l)
	if err != nil {
		return nil, fmt.Errorf("failed to create solana client: %w", err)
	}
	e.solana = sol

	e.prices = priceFeed.NewFeed([]priceFeed.Source{
		priceFeed.NewJupiterSource(e.jupiter),
		priceFeed.NewCoingeckoSource(cg),
	}, &priceFeed.FeedConfig{}, b.clock, b.metrics, l)

	e.tracker = rewardPool.NewTracker(b.store, e.prices.ForMint(cfg.SolanaConfig.TokenMint), rewardPool.TriggerConfigFromConfig(cfg), b.clock, b.eventBus, b.metrics, l)
	e.twab = twab.NewCalculator(b.store, cfg.TwabConfig.Window, sol, l)
	e.streaks = streaks.NewEngine(b.store, b.clock, b.eventBus, b.metrics, l)

	var venue buyback.SwapVenue
	if cfg.SolanaConfig.BuybackWalletKey != "" {
		signer, err := solanaRpc.ParsePrivateKey(cfg.SolanaConfig.BuybackWalletKey)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", config.SolanaBuybackWalletKey, err)
		}
		venue = buyback.NewJupiterVenue(e.jupiter, sol, signer, cfg.SolanaConfig.TokenMint, l)
		e.canBuyback = true
	} else {
		l.Sugar().Warnw("No buyback wallet configured, buybacks are disabled")
	}
	e.buyback = buyback.NewExecutor(b.store, venue, e.tracker, &cfg.BuybackConfig, b.clock, b.metrics, l)

	e.detector = sellDetector.NewDetector(
		sellDetector.NewParser(cfg.SolanaConfig.TokenMint, cfg.SolanaConfig.CreatorWallet),
		e.streaks,
		e.buyback,
		b.clock,
		b.metrics,
		l,
	)

	e.snapshots = snapshotScheduler.NewScheduler(
		b.store,
		snapshotScheduler.NewHeliusHolderSource(e.helius, cfg.SolanaConfig.TokenMint),
		sol,
		e.streaks,
		&cfg.SnapshotConfig,
		b.clock,
		b.eventBus,
		b.metrics,
		l,
		snapshotScheduler.WithSupplySource(sol),
	)

	var payer distribution.Payer
	if cfg.SolanaConfig.PoolWalletKey != "" {
		signer, err := solanaRpc.ParsePrivateKey(cfg.SolanaConfig.PoolWalletKey)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", config.SolanaPoolWalletKey, err)
		}
		e.payer = solanaRpc.NewTokenPayer(sol, signer)
		payer = e.payer
		l.Sugar().Infow("Payouts enabled", zap.String("poolWallet", e.payer.Wallet()))
	} else {
		l.Sugar().Warnw("No pool wallet configured, payouts are left pending")
	}
	e.distribution = distribution.NewEngine(b.store, e.twab, e.tracker, payer, distribution.EngineConfigFromConfig(cfg), b.clock, b.eventBus, b.metrics, l)

	return e, nil
}
