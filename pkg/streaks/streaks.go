// Package streaks maintains per-wallet holding streaks and the tier they
// earn. Tiers rise only with elapsed time; a sell drops one tier and rewinds
// the streak so the wallet sits exactly at the new tier's threshold.
package streaks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/copperlabs/engine/pkg/eventBus/eventBusTypes"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/metrics/metricsTypes"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/tiers"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	ChangeReason_Advance = "advance"
	ChangeReason_Sell    = "sell"
)

// SellDetected is a confirmed sell handed over by the sell detector.
type SellDetected struct {
	Wallet      string
	TxSignature string
	Amount      uint64
	Timestamp   time.Time
}

type SellOutcome struct {
	Streak   *storage.HoldStreak
	FromTier int
	// Applied is false when the transaction had already been processed or
	// the wallet has no streak.
	Applied bool
	// Untracked is set when the seller had no streak to demote.
	Untracked bool
}

type StreakInfo struct {
	Wallet      string
	Tier        tiers.Tier
	StreakStart *time.Time
	StreakHours float64
	NextTier    *tiers.Tier
	HoursToNext *float64
	LastSellAt  *time.Time
}

type Engine struct {
	store       storage.StreakStore
	clock       clockwork.Clock
	eventBus    eventBusTypes.IEventBus
	metricsSink *metrics.MetricsSink
	logger      *zap.Logger
	locks       *keyedMutex
}

func NewEngine(
	store storage.StreakStore,
	clock clockwork.Clock,
	eb eventBusTypes.IEventBus,
	ms *metrics.MetricsSink,
	l *zap.Logger,
) *Engine {
	return &Engine{
		store:       store,
		clock:       clock,
		eventBus:    eb,
		metricsSink: ms,
		logger:      l,
		locks:       newKeyedMutex(),
	}
}

func (e *Engine) publishTierChange(wallet string, from, to int, reason string, at time.Time) {
	e.logger.Sugar().Infow("Tier changed",
		zap.String("wallet", wallet),
		zap.Int("from", from),
		zap.Int("to", to),
		zap.String("reason", reason),
	)
	_ = e.metricsSink.Incr(metricsTypes.Metric_Incr_TierChanged, []metricsTypes.MetricsLabel{
		{Name: "reason", Value: reason},
		{Name: "to_tier", Value: strconv.Itoa(to)},
	}, 1)
	e.eventBus.Publish(&eventBusTypes.Event{
		Name: eventBusTypes.Event_TierChanged,
		Data: &eventBusTypes.TierChangedData{Wallet: wallet, FromTier: from, ToTier: to, Reason: reason, At: at},
	})
}

// Observe creates a tier 1 streak starting now for a wallet seen holding for
// the first time. Existing streaks are left untouched.
func (e *Engine) Observe(ctx context.Context, wallet string) (*storage.HoldStreak, error) {
	unlock := e.locks.Lock(wallet)
	defer unlock()

	now := e.clock.Now()
	return e.store.MutateHoldStreak(ctx, wallet, func(current *storage.HoldStreak) (*storage.HoldStreak, error) {
		if current != nil {
			return nil, nil
		}
		return &storage.HoldStreak{
			Wallet:      wallet,
			StreakStart: now,
			CurrentTier: tiers.MinTier,
			UpdatedAt:   now,
		}, nil
	})
}

// ObserveMany calls Observe for each wallet that has no streak yet.
func (e *Engine) ObserveMany(ctx context.Context, wallets []string) (int, error) {
	existing, err := e.store.ListHoldStreaks(ctx, wallets)
	if err != nil {
		return 0, fmt.Errorf("failed to list hold streaks: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		known[s.Wallet] = struct{}{}
	}
	created := 0
	for _, w := range wallets {
		if _, ok := known[w]; ok {
			continue
		}
		if _, err := e.Observe(ctx, w); err != nil {
			return created, fmt.Errorf("failed to observe wallet %s: %w", w, err)
		}
		created++
	}
	return created, nil
}

// Advance recomputes the wallet's tier from its elapsed streak.
func (e *Engine) Advance(ctx context.Context, wallet string) (*storage.HoldStreak, error) {
	unlock := e.locks.Lock(wallet)
	defer unlock()

	now := e.clock.Now()
	from := 0
	streak, err := e.store.MutateHoldStreak(ctx, wallet, func(current *storage.HoldStreak) (*storage.HoldStreak, error) {
		if current == nil {
			return nil, nil
		}
		from = current.CurrentTier
		earned := tiers.ForStreak(current.StreakStart, now).Tier
		if earned == current.CurrentTier {
			return nil, nil
		}
		current.CurrentTier = earned
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return nil, err
	}
	if streak != nil && from != 0 && streak.CurrentTier != from {
		e.publishTierChange(wallet, from, streak.CurrentTier, ChangeReason_Advance, now)
	}
	return streak, nil
}

// AdvanceAll runs Advance over every streak and returns how many changed.
func (e *Engine) AdvanceAll(ctx context.Context) (int, error) {
	all, err := e.store.ListHoldStreaks(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to list hold streaks: %w", err)
	}
	changed := 0
	var errs []error
	for _, s := range all {
		updated, err := e.Advance(ctx, s.Wallet)
		if err != nil {
			errs = append(errs, fmt.Errorf("wallet %s: %w", s.Wallet, err))
			continue
		}
		if updated != nil && updated.CurrentTier != s.CurrentTier {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

// ProcessSell drops the wallet one tier and rewinds its streak to that tier's
// threshold. A transaction signature is applied at most once per wallet. The
// sell is recorded but changes nothing for a wallet without a streak.
func (e *Engine) ProcessSell(ctx context.Context, sell *SellDetected) (*SellOutcome, error) {
	unlock := e.locks.Lock(sell.Wallet)
	defer unlock()

	now := e.clock.Now()
	from := tiers.MinTier
	event := &storage.SellEvent{
		TxSignature: sell.TxSignature,
		Wallet:      sell.Wallet,
		TokenAmount: sell.Amount,
		DetectedAt:  now,
	}
	streak, err := e.store.RecordSell(ctx, event, func(current *storage.HoldStreak) (*storage.HoldStreak, error) {
		if current == nil {
			return nil, nil
		}
		from = current.CurrentTier
		demoted := tiers.Demote(from)
		lastSell := now
		return &storage.HoldStreak{
			Wallet:      sell.Wallet,
			StreakStart: now.Add(-demoted.MinDuration()),
			CurrentTier: demoted.Tier,
			LastSellAt:  &lastSell,
			UpdatedAt:   now,
		}, nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			e.logger.Sugar().Debugw("Sell already processed", zap.String("txSignature", sell.TxSignature))
			current, gerr := e.store.GetHoldStreak(ctx, sell.Wallet)
			if gerr != nil {
				return nil, gerr
			}
			return &SellOutcome{Streak: current, FromTier: tierOf(current), Untracked: current == nil}, nil
		}
		return nil, err
	}
	if streak == nil {
		e.logger.Sugar().Warnw("Sell from a wallet without a streak, ignored",
			zap.String("wallet", sell.Wallet),
			zap.String("txSignature", sell.TxSignature),
			zap.Uint64("amount", sell.Amount),
		)
		return &SellOutcome{FromTier: tiers.MinTier, Untracked: true}, nil
	}

	e.logger.Sugar().Infow("Sell applied to streak",
		zap.String("wallet", sell.Wallet),
		zap.String("txSignature", sell.TxSignature),
		zap.Uint64("amount", sell.Amount),
		zap.Int("fromTier", from),
		zap.Int("toTier", streak.CurrentTier),
	)
	e.eventBus.Publish(&eventBusTypes.Event{
		Name: eventBusTypes.Event_SellDetected,
		Data: &eventBusTypes.SellDetectedData{
			Wallet:      sell.Wallet,
			TxSignature: sell.TxSignature,
			Amount:      sell.Amount,
			NewTier:     streak.CurrentTier,
			DetectedAt:  now,
		},
	})
	if streak.CurrentTier != from {
		e.publishTierChange(sell.Wallet, from, streak.CurrentTier, ChangeReason_Sell, now)
	}
	return &SellOutcome{Streak: streak, FromTier: from, Applied: true}, nil
}

func tierOf(s *storage.HoldStreak) int {
	if s == nil {
		return tiers.MinTier
	}
	return s.CurrentTier
}

// Info describes the wallet's current streak for display. Wallets without a
// streak are reported at tier 1 with no elapsed time.
func (e *Engine) Info(ctx context.Context, wallet string) (*StreakInfo, error) {
	streak, err := e.store.GetHoldStreak(ctx, wallet)
	if err != nil {
		return nil, err
	}
	return Describe(wallet, streak, e.clock.Now()), nil
}

// Describe builds StreakInfo for an already loaded streak.
func Describe(wallet string, streak *storage.HoldStreak, now time.Time) *StreakInfo {
	info := &StreakInfo{Wallet: wallet}
	var elapsed time.Duration
	if streak != nil {
		start := streak.StreakStart
		info.StreakStart = &start
		info.LastSellAt = streak.LastSellAt
		elapsed = now.Sub(streak.StreakStart)
		if elapsed < 0 {
			elapsed = 0
		}
	}
	info.Tier = tiers.MustGet(tierOf(streak))
	info.StreakHours = elapsed.Hours()
	if next, ok := tiers.Next(info.Tier.Tier); ok {
		info.NextTier = &next
		hours, _ := tiers.HoursToNext(info.Tier.Tier, elapsed)
		info.HoursToNext = &hours
	}
	return info
}
