// Package priceFeed resolves USD token prices from an ordered list of
// sources and keeps the last good value for a short while so a brief outage
// of every source does not stall the engine.
package priceFeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/clients/coingecko"
	"github.com/copperlabs/engine/pkg/clients/jupiter"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/metrics/metricsTypes"
	"github.com/copperlabs/engine/pkg/retry"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultCacheTTL = 60 * time.Second
	DefaultStaleTTL = 300 * time.Second

	sourceCache = "stale_cache"
)

var ErrPriceUnavailable = errors.New("price unavailable from every source")

// Source returns the USD price of one whole token.
type Source interface {
	Name() string
	PriceUsd(ctx context.Context, mint string) (decimal.Decimal, error)
}

type cachedPrice struct {
	price  decimal.Decimal
	at     time.Time
	source string
}

type FeedConfig struct {
	CacheTTL time.Duration
	StaleTTL time.Duration
	Retry    retry.Config
}

type Feed struct {
	sources     []Source
	config      *FeedConfig
	clock       clockwork.Clock
	metricsSink *metrics.MetricsSink
	logger      *zap.Logger

	mu    sync.Mutex
	cache map[string]*cachedPrice
}

func NewFeed(sources []Source, cfg *FeedConfig, clock clockwork.Clock, ms *metrics.MetricsSink, l *zap.Logger) *Feed {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.StaleTTL == 0 {
		cfg.StaleTTL = DefaultStaleTTL
	}
	return &Feed{
		sources:     sources,
		config:      cfg,
		clock:       clock,
		metricsSink: ms,
		logger:      l,
		cache:       make(map[string]*cachedPrice),
	}
}

func (f *Feed) cached(mint string) *cachedPrice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache[mint]
}

func (f *Feed) store(mint string, p *cachedPrice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[mint] = p
}

func (f *Feed) countSource(name string) {
	_ = f.metricsSink.Incr(metricsTypes.Metric_Incr_PriceSource, []metricsTypes.MetricsLabel{
		{Name: "source", Value: name},
	}, 1)
}

// PriceUsd returns a fresh cached price, else the first source that answers,
// else a cached price no older than the stale TTL. When nothing is usable the
// error is transient.
func (f *Feed) PriceUsd(ctx context.Context, mint string) (decimal.Decimal, error) {
	now := f.clock.Now()
	cached := f.cached(mint)
	if cached != nil && now.Sub(cached.at) < f.config.CacheTTL {
		return cached.price, nil
	}

	var errs []error
	for _, src := range f.sources {
		price, err := retry.DoWithResult(ctx, f.config.Retry, func() (decimal.Decimal, error) {
			return src.PriceUsd(ctx, mint)
		})
		if err == nil && price.IsPositive() {
			f.store(mint, &cachedPrice{price: price, at: now, source: src.Name()})
			f.countSource(src.Name())
			return price, nil
		}
		if err == nil {
			err = fmt.Errorf("non-positive price %s", price)
		}
		f.logger.Sugar().Warnw("Price source failed",
			zap.String("source", src.Name()),
			zap.String("mint", mint),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
	}

	if cached != nil && now.Sub(cached.at) < f.config.StaleTTL {
		f.logger.Sugar().Warnw("Using stale cached price",
			zap.String("source", cached.source),
			zap.Duration("age", now.Sub(cached.at)),
		)
		f.countSource(sourceCache)
		return cached.price, nil
	}
	return decimal.Zero, retry.Transient(fmt.Errorf("%w: %w", ErrPriceUnavailable, errors.Join(errs...)))
}

type jupiterSource struct {
	client *jupiter.Client
}

func NewJupiterSource(c *jupiter.Client) Source {
	return &jupiterSource{client: c}
}

func (s *jupiterSource) Name() string { return "jupiter" }

func (s *jupiterSource) PriceUsd(ctx context.Context, mint string) (decimal.Decimal, error) {
	return s.client.GetPrice(ctx, mint)
}

type coingeckoSource struct {
	client *coingecko.Client
}

func NewCoingeckoSource(c *coingecko.Client) Source {
	return &coingeckoSource{client: c}
}

func (s *coingeckoSource) Name() string { return "coingecko" }

func (s *coingeckoSource) PriceUsd(ctx context.Context, mint string) (decimal.Decimal, error) {
	if mint == config.SolMint {
		return s.client.GetCoinPriceUsd(ctx, "solana")
	}
	return s.client.GetTokenPriceUsd(ctx, coingecko.PlatformSolana, mint)
}

// TokenPrice binds a feed to one mint.
type TokenPrice struct {
	feed *Feed
	mint string
}

func (f *Feed) ForMint(mint string) *TokenPrice {
	return &TokenPrice{feed: f, mint: mint}
}

func (t *TokenPrice) PriceUsd(ctx context.Context) (decimal.Decimal, error) {
	return t.feed.PriceUsd(ctx, t.mint)
}
