// Package buyback turns creator fee income into COPPER for the reward pool:
// pending creator rewards are split, the buyback share is swapped SOL to
// COPPER, and the buyback is recorded together with the rewards it consumed.
package buyback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/metrics/metricsTypes"
	"github.com/copperlabs/engine/pkg/rewardPool"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrAlreadyRunning = errors.New("buyback already in progress")

const swapTimeout = 2 * time.Minute

type Split struct {
	Total   decimal.Decimal
	Buyback decimal.Decimal
	Team    decimal.Decimal
}

// CalculateSplit divides total SOL into the buyback share and the team
// remainder. The two parts always add up to total.
func CalculateSplit(total, share decimal.Decimal) Split {
	buyback := total.Mul(share).Truncate(config.SolDecimals)
	return Split{
		Total:   total,
		Buyback: buyback,
		Team:    total.Sub(buyback),
	}
}

type SwapResult struct {
	TxSignature    string
	SolSpent       decimal.Decimal
	CopperReceived uint64
}

// SwapVenue converts SOL into COPPER.
type SwapVenue interface {
	Swap(ctx context.Context, sol decimal.Decimal) (*SwapResult, error)
}

// PoolPublisher is notified after a buyback grows the pool.
type PoolPublisher interface {
	Publish(ctx context.Context) (*rewardPool.Status, error)
}

type Store interface {
	storage.RewardStore
	storage.StatsStore
}

type Result struct {
	RewardsConsumed int
	Split           Split
	Buyback         *storage.Buyback
}

type Executor struct {
	store       Store
	venue       SwapVenue
	pool        PoolPublisher
	config      *config.BuybackConfig
	clock       clockwork.Clock
	metricsSink *metrics.MetricsSink
	logger      *zap.Logger

	running sync.Mutex
}

func NewExecutor(
	store Store,
	venue SwapVenue,
	pool PoolPublisher,
	cfg *config.BuybackConfig,
	clock clockwork.Clock,
	ms *metrics.MetricsSink,
	l *zap.Logger,
) *Executor {
	return &Executor{
		store:       store,
		venue:       venue,
		pool:        pool,
		config:      cfg,
		clock:       clock,
		metricsSink: ms,
		logger:      l,
	}
}

// RecordCreatorReward stores an incoming creator fee. A reward whose
// transaction signature was already recorded returns nil without error.
func (e *Executor) RecordCreatorReward(ctx context.Context, reward *storage.CreatorReward) (*storage.CreatorReward, error) {
	if reward.ReceivedAt.IsZero() {
		reward.ReceivedAt = e.clock.Now()
	}
	created, err := e.store.InsertCreatorReward(ctx, reward)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			e.logger.Sugar().Debugw("Creator reward already recorded", zap.Stringp("txSignature", reward.TxSignature))
			return nil, nil
		}
		return nil, err
	}
	e.logger.Sugar().Infow("Recorded creator reward",
		zap.String("amountSol", created.AmountSol.String()),
		zap.String("source", created.Source),
	)
	_ = e.metricsSink.Incr(metricsTypes.Metric_Incr_CreatorReward, []metricsTypes.MetricsLabel{
		{Name: "source", Value: created.Source},
	}, 1)
	return created, nil
}

// PendingSol sums the unprocessed creator rewards.
func (e *Executor) PendingSol(ctx context.Context) (decimal.Decimal, int, error) {
	rewards, err := e.store.ListUnprocessedCreatorRewards(ctx)
	if err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	for _, r := range rewards {
		total = total.Add(r.AmountSol)
	}
	return total, len(rewards), nil
}

// ProcessPendingRewards swaps the buyback share of every unprocessed creator
// reward. A failed swap leaves the rewards unprocessed for the next run. It
// returns nil when there was nothing to do.
func (e *Executor) ProcessPendingRewards(ctx context.Context) (res *Result, err error) {
	if !e.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Unlock()

	start := e.clock.Now()
	defer func() {
		if res == nil && err == nil {
			return
		}
		_ = e.metricsSink.Timing(metricsTypes.Metric_Timing_BuybackDuration, e.clock.Since(start), []metricsTypes.MetricsLabel{
			{Name: "hasError", Value: strconv.FormatBool(err != nil)},
		})
		status := "success"
		if err != nil {
			status = "failed"
		}
		_ = e.metricsSink.Incr(metricsTypes.Metric_Incr_Buyback, []metricsTypes.MetricsLabel{
			{Name: "status", Value: status},
		}, 1)
	}()

	rewards, err := e.store.ListUnprocessedCreatorRewards(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list creator rewards: %w", err)
	}
	if len(rewards) == 0 {
		e.logger.Sugar().Debugw("No pending creator rewards")
		return nil, nil
	}
	total := decimal.Zero
	ids := make([]uint64, 0, len(rewards))
	for _, r := range rewards {
		total = total.Add(r.AmountSol)
		ids = append(ids, r.Id)
	}
	split := CalculateSplit(total, e.config.Share)
	if !split.Buyback.IsPositive() || split.Buyback.LessThan(e.config.MinSol) {
		e.logger.Sugar().Infow("Pending buyback below minimum, waiting for more rewards",
			zap.String("buybackSol", split.Buyback.String()),
			zap.String("minSol", e.config.MinSol.String()),
		)
		return nil, nil
	}

	e.logger.Sugar().Infow("Processing creator rewards",
		zap.Int("rewards", len(rewards)),
		zap.String("totalSol", split.Total.String()),
		zap.String("buybackSol", split.Buyback.String()),
		zap.String("teamSol", split.Team.String()),
	)

	swapCtx, cancel := context.WithTimeout(ctx, swapTimeout)
	defer cancel()
	swap, err := e.venue.Swap(swapCtx, split.Buyback)
	if err != nil {
		return nil, fmt.Errorf("swap failed: %w", err)
	}

	now := e.clock.Now()
	b := &storage.Buyback{
		TxSignature:   swap.TxSignature,
		SolAmount:     swap.SolSpent,
		CopperAmount:  swap.CopperReceived,
		PricePerToken: PricePerToken(swap.SolSpent, swap.CopperReceived),
		ExecutedAt:    now,
	}
	recorded, err := e.store.RecordBuyback(ctx, b, ids, now)
	if err != nil {
		e.logger.Sugar().Errorw("Swap executed but buyback could not be recorded",
			zap.String("txSignature", swap.TxSignature),
			zap.Uint64("copperReceived", swap.CopperReceived),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to record buyback %s: %w", swap.TxSignature, err)
	}

	if _, err := e.store.RefreshSystemStats(ctx, now); err != nil {
		e.logger.Sugar().Warnw("Failed to refresh system stats", zap.Error(err))
	}
	if e.pool != nil {
		if _, err := e.pool.Publish(ctx); err != nil {
			e.logger.Sugar().Warnw("Failed to publish pool update", zap.Error(err))
		}
	}

	e.logger.Sugar().Infow("Buyback recorded",
		zap.String("txSignature", recorded.TxSignature),
		zap.String("solSpent", recorded.SolAmount.String()),
		zap.Uint64("copperReceived", recorded.CopperAmount),
	)
	return &Result{RewardsConsumed: len(rewards), Split: split, Buyback: recorded}, nil
}

// PricePerToken is SOL paid per whole COPPER.
func PricePerToken(sol decimal.Decimal, copper uint64) decimal.Decimal {
	if copper == 0 {
		return decimal.Zero
	}
	return sol.DivRound(utils.ToUiAmount(copper, config.CopperDecimals), 12)
}
