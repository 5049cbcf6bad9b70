// Package snapshotScheduler captures holder balances at unpredictable times.
// Each hourly trial succeeds with a fixed probability so a snapshot cannot be
// anticipated and gamed by moving tokens around it.
package snapshotScheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/eventBus/eventBusTypes"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/metrics/metricsTypes"
	"github.com/copperlabs/engine/pkg/retry"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize    = 100
	DefaultConcurrency  = 4
	DefaultFetchTimeout = 30 * time.Second
)

// HolderSource lists every wallet currently holding the token.
type HolderSource interface {
	Holders(ctx context.Context) ([]string, error)
}

// BalanceSource reads raw token balances for a set of wallets.
type BalanceSource interface {
	GetBalances(ctx context.Context, wallets []string, at time.Time) (map[string]uint64, error)
}

type SupplySource interface {
	GetTokenSupply(ctx context.Context) (uint64, error)
}

type StreakObserver interface {
	ObserveMany(ctx context.Context, wallets []string) (int, error)
}

type Store interface {
	storage.SnapshotStore
	storage.StreakStore
	storage.ExclusionStore
	storage.StatsStore
}

type Scheduler struct {
	store       Store
	holders     HolderSource
	balances    BalanceSource
	supply      SupplySource
	streaks     StreakObserver
	config      *config.SnapshotConfig
	retry       retry.Config
	clock       clockwork.Clock
	eventBus    eventBusTypes.IEventBus
	metricsSink *metrics.MetricsSink
	logger      *zap.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

type SchedulerOption func(*Scheduler)

func WithRand(r *rand.Rand) SchedulerOption {
	return func(s *Scheduler) { s.rand = r }
}

func WithRetry(cfg retry.Config) SchedulerOption {
	return func(s *Scheduler) { s.retry = cfg }
}

// WithSupplySource sets where the total supply recorded on each snapshot
// comes from. Without one the supply is stored as 0.
func WithSupplySource(src SupplySource) SchedulerOption {
	return func(s *Scheduler) { s.supply = src }
}

func NewScheduler(
	store Store,
	holders HolderSource,
	balances BalanceSource,
	streaks StreakObserver,
	cfg *config.SnapshotConfig,
	clock clockwork.Clock,
	eb eventBusTypes.IEventBus,
	ms *metrics.MetricsSink,
	l *zap.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	s := &Scheduler{
		store:       store,
		holders:     holders,
		balances:    balances,
		streaks:     streaks,
		config:      cfg,
		retry:       retry.DefaultConfig(),
		clock:       clock,
		eventBus:    eb,
		metricsSink: ms,
		logger:      l,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewSource(clock.Now().UnixNano()))
	}
	return s
}

// ShouldTakeSnapshot runs one Bernoulli trial.
func (s *Scheduler) ShouldTakeSnapshot() bool {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rand.Float64() < s.config.Probability
}

// Tick runs the hourly trial and takes a snapshot when it succeeds. A failed
// snapshot is logged and skipped; the next trial is independent.
func (s *Scheduler) Tick(ctx context.Context) (*storage.Snapshot, error) {
	taken := s.ShouldTakeSnapshot()
	_ = s.metricsSink.Incr(metricsTypes.Metric_Incr_SnapshotTrial, []metricsTypes.MetricsLabel{
		{Name: "taken", Value: strconv.FormatBool(taken)},
	}, 1)
	if !taken {
		s.logger.Sugar().Debugw("Snapshot trial skipped")
		return nil, nil
	}
	snapshot, err := s.TakeSnapshot(ctx)
	if err != nil {
		s.logger.Sugar().Errorw("Snapshot failed, skipping this hour", zap.Error(err))
		return nil, err
	}
	return snapshot, nil
}

// TrackedWallets is every current holder plus every wallet with a streak,
// minus excluded wallets, sorted.
func (s *Scheduler) TrackedWallets(ctx context.Context) ([]string, error) {
	holders, err := retry.DoWithResult(ctx, s.retry, func() ([]string, error) {
		return s.holders.Holders(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list holders: %w", err)
	}
	streaks, err := s.store.ListHoldStreaks(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list hold streaks: %w", err)
	}
	excluded, err := s.store.ListExcludedWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list excluded wallets: %w", err)
	}

	skip := make(map[string]struct{}, len(excluded))
	for _, e := range excluded {
		skip[e.Wallet] = struct{}{}
	}
	wallets := make([]string, 0, len(holders)+len(streaks))
	wallets = append(wallets, holders...)
	for _, st := range streaks {
		wallets = append(wallets, st.Wallet)
	}
	wallets = utils.Filter(wallets, func(w string) bool {
		_, excluded := skip[w]
		return !excluded && w != ""
	})
	return utils.SortedUnique(wallets), nil
}

// fetchBalances reads every wallet's balance in batches. Any batch failing
// after retries fails the whole fetch.
func (s *Scheduler) fetchBalances(ctx context.Context, wallets []string, at time.Time) (map[string]uint64, error) {
	batches := utils.Chunk(wallets, s.config.BatchSize)
	results := make([]map[string]uint64, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			res, err := retry.DoWithResult(gctx, s.retry, func() (map[string]uint64, error) {
				callCtx, cancel := context.WithTimeout(gctx, s.config.FetchTimeout)
				defer cancel()
				return s.balances.GetBalances(callCtx, batch, at)
			})
			if err != nil {
				return fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]uint64, len(wallets))
	for _, res := range results {
		for w, b := range res {
			out[w] = b
		}
	}
	return out, nil
}

// TakeSnapshot captures the balances of every tracked wallet. Nothing is
// persisted unless every balance was read.
func (s *Scheduler) TakeSnapshot(ctx context.Context) (*storage.Snapshot, error) {
	start := s.clock.Now()
	snapshot, err := s.takeSnapshot(ctx, start)
	_ = s.metricsSink.Timing(metricsTypes.Metric_Timing_SnapshotDuration, s.clock.Since(start), []metricsTypes.MetricsLabel{
		{Name: "hasError", Value: strconv.FormatBool(err != nil)},
	})
	if err != nil {
		_ = s.metricsSink.Incr(metricsTypes.Metric_Incr_SnapshotFetchFailed, nil, 1)
		return nil, err
	}
	return snapshot, nil
}

func (s *Scheduler) takeSnapshot(ctx context.Context, at time.Time) (*storage.Snapshot, error) {
	wallets, err := s.TrackedWallets(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Sugar().Infow("Taking snapshot", zap.Int("trackedWallets", len(wallets)))

	fetched, err := s.fetchBalances(ctx, wallets, at)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}

	var supply uint64
	if s.supply != nil {
		supply, err = retry.DoWithResult(ctx, s.retry, func() (uint64, error) {
			return s.supply.GetTokenSupply(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch token supply: %w", err)
		}
	}

	balances := make([]*storage.Balance, 0, len(fetched))
	holders := make([]string, 0, len(fetched))
	for _, w := range wallets {
		if b := fetched[w]; b > 0 {
			balances = append(balances, &storage.Balance{Wallet: w, Balance: b})
			holders = append(holders, w)
		}
	}

	snapshot, err := s.store.InsertSnapshot(ctx, &storage.Snapshot{
		Timestamp:    at,
		TotalHolders: uint64(len(holders)),
		TotalSupply:  supply,
		CreatedAt:    s.clock.Now(),
	}, balances)
	if err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}

	s.afterCommit(ctx, snapshot, holders)
	return snapshot, nil
}

func (s *Scheduler) afterCommit(ctx context.Context, snapshot *storage.Snapshot, holders []string) {
	created, err := s.streaks.ObserveMany(ctx, holders)
	if err != nil {
		s.logger.Sugar().Warnw("Failed to observe holders", zap.Error(err))
	}
	if _, err := s.store.RefreshSystemStats(ctx, s.clock.Now()); err != nil {
		s.logger.Sugar().Warnw("Failed to refresh system stats", zap.Error(err))
	}
	_ = s.metricsSink.Gauge(metricsTypes.Metric_Gauge_TotalHolders, float64(snapshot.TotalHolders), nil)

	s.eventBus.Publish(&eventBusTypes.Event{
		Name: eventBusTypes.Event_SnapshotTaken,
		Data: &eventBusTypes.SnapshotTakenData{
			SnapshotId:   snapshot.Id,
			Timestamp:    snapshot.Timestamp,
			TotalHolders: snapshot.TotalHolders,
			TotalSupply:  snapshot.TotalSupply,
		},
	})
	s.eventBus.Publish(&eventBusTypes.Event{
		Name: eventBusTypes.Event_LeaderboardUpdated,
		Data: &eventBusTypes.LeaderboardUpdatedData{Reason: "snapshot", UpdatedAt: snapshot.Timestamp},
	})

	s.logger.Sugar().Infow("Snapshot taken",
		zap.Uint64("snapshotId", snapshot.Id),
		zap.Uint64("holders", snapshot.TotalHolders),
		zap.Int("newStreaks", created),
	)
}

// SweepRetention removes snapshots older than the retention period.
func (s *Scheduler) SweepRetention(ctx context.Context) (int64, error) {
	if s.config.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().Add(-time.Duration(s.config.RetentionDays) * 24 * time.Hour)
	deleted, err := s.store.DeleteSnapshotsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep snapshots: %w", err)
	}
	if deleted > 0 {
		s.logger.Sugar().Infow("Swept old snapshots", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}
