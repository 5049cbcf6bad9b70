package miningDataService

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/distribution"
	"github.com/copperlabs/engine/pkg/rewardPool"
	"github.com/copperlabs/engine/pkg/service/baseDataService"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/streaks"
	"github.com/copperlabs/engine/pkg/tiers"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultLeaderboardTTL = 30 * time.Second

var hundred = decimal.NewFromInt(100)

type TwabSource interface {
	All(ctx context.Context, wallets []string, now time.Time) (map[string]decimal.Decimal, error)
}

type PoolStatusSource interface {
	Status(ctx context.Context) (*rewardPool.Status, error)
}

type PendingRewardsSource interface {
	PendingSol(ctx context.Context) (decimal.Decimal, int, error)
}

func copper(raw uint64) decimal.Decimal {
	return utils.ToUiAmount(raw, config.CopperDecimals)
}

func copperDec(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(-config.CopperDecimals)
}

// ranking is the full leaderboard with the pending share of the current pool
// for every wallet.
type ranking struct {
	snapshotId uint64
	builtAt    time.Time
	allocs     []*distribution.Allocation
	rank       map[string]int
	total      decimal.Decimal
}

type MiningDataService struct {
	baseDataService.BaseDataService
	twab    TwabSource
	pool    PoolStatusSource
	pending PendingRewardsSource
	clock   clockwork.Clock
	logger  *zap.Logger
	ttl     time.Duration
	// minBalanceUsd mirrors the distribution's eligibility floor.
	minBalanceUsd decimal.Decimal

	mu     sync.Mutex
	cached *ranking
}

type MiningDataServiceOption func(*MiningDataService)

// WithMinBalanceUsd leaves wallets worth less than minUsd out of the ranking,
// the same way a distribution does.
func WithMinBalanceUsd(minUsd decimal.Decimal) MiningDataServiceOption {
	return func(s *MiningDataService) { s.minBalanceUsd = minUsd }
}

// NewMiningDataService builds the read side of the engine. pending may be nil.
func NewMiningDataService(
	store storage.Store,
	twab TwabSource,
	pool PoolStatusSource,
	pending PendingRewardsSource,
	clock clockwork.Clock,
	logger *zap.Logger,
	opts ...MiningDataServiceOption,
) *MiningDataService {
	s := &MiningDataService{
		BaseDataService: baseDataService.BaseDataService{Store: store},
		twab:            twab,
		pool:            pool,
		pending:         pending,
		clock:           clock,
		logger:          logger,
		ttl:             DefaultLeaderboardTTL,
		minBalanceUsd:   decimal.Zero,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// dropSmallHolders removes balances below the minimum at the current price.
func (s *MiningDataService) dropSmallHolders(ctx context.Context, balances map[string]uint64) error {
	if !s.minBalanceUsd.IsPositive() || len(balances) == 0 {
		return nil
	}
	st, err := s.pool.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to load price for the minimum balance: %w", err)
	}
	for w, bal := range balances {
		if !distribution.MeetsMinBalance(bal, st.PriceUsd, s.minBalanceUsd) {
			delete(balances, w)
		}
	}
	return nil
}

// InvalidateLeaderboard drops the cached ranking so the next read rebuilds it.
func (s *MiningDataService) InvalidateLeaderboard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

func (s *MiningDataService) getRanking(ctx context.Context) (*ranking, error) {
	now := s.clock.Now()
	snapshot, balances, err := s.GetHolderBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load holder balances: %w", err)
	}
	var snapshotId uint64
	if snapshot != nil {
		snapshotId = snapshot.Id
	}

	s.mu.Lock()
	cached := s.cached
	s.mu.Unlock()
	if cached != nil && cached.snapshotId == snapshotId && now.Sub(cached.builtAt) < s.ttl {
		return cached, nil
	}

	r := &ranking{snapshotId: snapshotId, builtAt: now, rank: map[string]int{}, total: decimal.Zero}
	if err := s.dropSmallHolders(ctx, balances); err != nil {
		return nil, err
	}
	if len(balances) == 0 {
		s.storeRanking(r)
		return r, nil
	}

	wallets := make([]string, 0, len(balances))
	for w := range balances {
		wallets = append(wallets, w)
	}
	wallets = utils.SortedUnique(wallets)
	twabs, err := s.twab.All(ctx, wallets, now)
	if err != nil {
		return nil, fmt.Errorf("failed to compute twab: %w", err)
	}
	held, err := s.Store.ListHoldStreaks(ctx, wallets)
	if err != nil {
		return nil, fmt.Errorf("failed to load hold streaks: %w", err)
	}
	tierOf := make(map[string]int, len(held))
	for _, st := range held {
		tierOf[st.Wallet] = st.CurrentTier
	}

	for _, w := range wallets {
		twab := twabs[w]
		if !twab.IsPositive() {
			continue
		}
		tier, ok := tierOf[w]
		if !ok {
			tier = tiers.MinTier
		}
		mult := tiers.Multiplier(tier)
		r.allocs = append(r.allocs, &distribution.Allocation{
			Wallet:     w,
			Balance:    balances[w],
			Twab:       twab,
			Tier:       tier,
			Multiplier: mult,
			HashPower:  twab.Mul(mult),
		})
	}

	ledger, err := s.Store.GetPoolLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pool ledger: %w", err)
	}
	if !distribution.Allocate(ledger.Balance(), r.allocs) {
		distribution.SortAllocations(r.allocs)
	}
	r.total = distribution.TotalHashPower(r.allocs)
	for i, a := range r.allocs {
		r.rank[a.Wallet] = i + 1
	}
	s.storeRanking(r)
	return r, nil
}

func (s *MiningDataService) storeRanking(r *ranking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = r
}

func (s *MiningDataService) GetGlobalStats(ctx context.Context) (*GlobalStats, error) {
	stats, err := s.Store.GetSystemStats(ctx)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats, err = s.Store.RefreshSystemStats(ctx, s.clock.Now())
		if err != nil {
			return nil, err
		}
	}
	return &GlobalStats{
		TotalHolders:       stats.TotalHolders,
		TotalVolume24h:     copper(stats.TotalVolume24h),
		TotalBuybacksSol:   stats.TotalBuybacksSol,
		TotalDistributed:   copper(stats.TotalDistributed),
		LastSnapshotAt:     stats.LastSnapshotAt,
		LastDistributionAt: stats.LastDistributionAt,
	}, nil
}

func (s *MiningDataService) isExcluded(ctx context.Context, wallet string) (bool, error) {
	excluded, err := s.Store.ListExcludedWallets(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range excluded {
		if e.Wallet == wallet {
			return true, nil
		}
	}
	return false, nil
}

func (s *MiningDataService) GetUserStats(ctx context.Context, wallet string) (*UserStats, error) {
	now := s.clock.Now()
	out := &UserStats{
		Wallet:                wallet,
		Balance:               decimal.Zero,
		Twab:                  decimal.Zero,
		HashPower:             decimal.Zero,
		PendingRewardEstimate: decimal.Zero,
	}

	snapshot, err := s.GetLatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		rows, err := s.Store.ListBalancesForSnapshots(ctx, []uint64{snapshot.Id}, []string{wallet})
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out.Balance = copper(r.Balance)
		}
	}

	streak, err := s.Store.GetHoldStreak(ctx, wallet)
	if err != nil {
		return nil, err
	}
	info := streaks.Describe(wallet, streak, now)
	out.Tier = NewTierInfo(info.Tier)
	out.StreakHours = info.StreakHours
	out.LastSellAt = info.LastSellAt
	if info.NextTier != nil {
		out.NextTier = NewTierInfo(*info.NextTier)
		out.HoursToNextTier = info.HoursToNext
	}

	excluded, err := s.isExcluded(ctx, wallet)
	if err != nil {
		return nil, err
	}
	out.IsExcluded = excluded

	twabs, err := s.twab.All(ctx, []string{wallet}, now)
	if err != nil {
		return nil, fmt.Errorf("failed to compute twab: %w", err)
	}
	out.Twab = copperDec(twabs[wallet])
	if !excluded {
		out.HashPower = copperDec(twabs[wallet].Mul(info.Tier.Multiplier))
	}

	r, err := s.getRanking(ctx)
	if err != nil {
		return nil, err
	}
	if rank, ok := r.rank[wallet]; ok {
		out.Rank = &rank
		out.PendingRewardEstimate = copper(r.allocs[rank-1].Amount)
	}
	return out, nil
}

func (s *MiningDataService) GetUserHistory(ctx context.Context, wallet string, p *baseDataService.Pagination) (*UserHistory, error) {
	page := p.ToPage()
	points, err := s.Store.ListWalletBalanceHistory(ctx, wallet, page)
	if err != nil {
		return nil, err
	}
	rewards, err := s.Store.ListWalletRewards(ctx, wallet, page)
	if err != nil {
		return nil, err
	}
	out := &UserHistory{
		Wallet:   wallet,
		Balances: make([]*BalancePoint, 0, len(points)),
		Rewards:  make([]*RewardEntry, 0, len(rewards)),
	}
	for _, pt := range points {
		out.Balances = append(out.Balances, &BalancePoint{
			SnapshotId: pt.SnapshotId,
			Timestamp:  pt.Timestamp,
			Balance:    copper(pt.Balance),
		})
	}
	for _, r := range rewards {
		out.Rewards = append(out.Rewards, &RewardEntry{
			DistributionId: r.DistributionId,
			ExecutedAt:     r.ExecutedAt,
			Twab:           copperDec(r.Twab),
			Multiplier:     r.Multiplier,
			HashPower:      copperDec(r.HashPower),
			Amount:         copper(r.AmountReceived),
			TxSignature:    r.TxSignature,
		})
	}
	return out, nil
}

func (s *MiningDataService) GetLeaderboard(ctx context.Context, p *baseDataService.Pagination) (*Leaderboard, error) {
	page := p.ToPage()
	r, err := s.getRanking(ctx)
	if err != nil {
		return nil, err
	}
	out := &Leaderboard{
		Entries:        make([]*LeaderboardEntry, 0, page.Limit),
		Total:          len(r.allocs),
		TotalHashPower: copperDec(r.total),
		UpdatedAt:      r.builtAt,
	}
	for i := page.Offset; i < len(r.allocs) && len(out.Entries) < page.Limit; i++ {
		a := r.allocs[i]
		share := decimal.Zero
		if r.total.IsPositive() {
			share = a.HashPower.Div(r.total).Mul(hundred).Round(4)
		}
		out.Entries = append(out.Entries, &LeaderboardEntry{
			Rank:         i + 1,
			Wallet:       a.Wallet,
			Balance:      copper(a.Balance),
			Twab:         copperDec(a.Twab),
			Tier:         NewTierInfo(tiers.MustGet(a.Tier)),
			HashPower:    copperDec(a.HashPower),
			SharePercent: share,
		})
	}
	return out, nil
}

func (s *MiningDataService) GetPool(ctx context.Context) (*PoolInfo, error) {
	st, err := s.pool.Status(ctx)
	if err != nil {
		return nil, err
	}
	out := &PoolInfo{
		PoolAmount:            copper(st.PoolAmount),
		PoolValueUsd:          st.PoolValueUsd.Round(2),
		PriceUsd:              st.PriceUsd,
		ThresholdUsd:          st.ThresholdUsd,
		ProgressPercent:       st.ProgressPercent,
		ThresholdMet:          st.Evaluation.ThresholdMet,
		TimeMet:               st.Evaluation.TimeMet,
		Ready:                 st.Evaluation.Ready,
		TriggerType:           st.Evaluation.TriggerType,
		HoursSinceLast:        st.Evaluation.HoursSince,
		LastDistributionAt:    st.LastDistributionAt,
		NextTimeTriggerAt:     st.NextTimeTriggerAt,
		PendingCreatorRewards: decimal.Zero,
	}
	if s.pending != nil {
		sol, _, err := s.pending.PendingSol(ctx)
		if err != nil {
			s.logger.Sugar().Warnw("Failed to sum pending creator rewards", zap.Error(err))
		} else {
			out.PendingCreatorRewards = sol
		}
	}
	return out, nil
}

func (s *MiningDataService) ListBuybacks(ctx context.Context, p *baseDataService.Pagination) (*Page[*BuybackEntry], error) {
	page := p.ToPage()
	rows, total, err := s.Store.ListBuybacks(ctx, page)
	if err != nil {
		return nil, err
	}
	items := utils.Map(rows, func(b *storage.Buyback, i uint64) *BuybackEntry {
		return &BuybackEntry{
			Id:            b.Id,
			TxSignature:   b.TxSignature,
			SolAmount:     b.SolAmount,
			CopperAmount:  copper(b.CopperAmount),
			PricePerToken: b.PricePerToken,
			ExecutedAt:    b.ExecutedAt,
		}
	})
	return &Page[*BuybackEntry]{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

func (s *MiningDataService) ListDistributions(ctx context.Context, p *baseDataService.Pagination) (*Page[*DistributionEntry], error) {
	page := p.ToPage()
	rows, total, err := s.Store.ListDistributions(ctx, page)
	if err != nil {
		return nil, err
	}
	items := utils.Map(rows, func(d *storage.Distribution, i uint64) *DistributionEntry {
		return &DistributionEntry{
			Id:             d.Id,
			PoolAmount:     copper(d.PoolAmount),
			PoolValueUsd:   d.PoolValueUsd,
			TotalHashPower: copperDec(d.TotalHashpower),
			RecipientCount: d.RecipientCount,
			TriggerType:    d.TriggerType,
			ExecutedAt:     d.ExecutedAt,
		}
	})
	return &Page[*DistributionEntry]{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}
