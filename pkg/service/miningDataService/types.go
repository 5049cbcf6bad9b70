package miningDataService

import (
	"time"

	"github.com/copperlabs/engine/pkg/tiers"
	"github.com/shopspring/decimal"
)

type TierInfo struct {
	Tier       int             `json:"tier"`
	Name       string          `json:"name"`
	Emoji      string          `json:"emoji"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

func NewTierInfo(t tiers.Tier) *TierInfo {
	return &TierInfo{Tier: t.Tier, Name: t.Name, Emoji: t.Emoji, Multiplier: t.Multiplier}
}

// Token amounts are whole-token decimals; raw amounts are never exposed.

type GlobalStats struct {
	TotalHolders       uint64          `json:"total_holders"`
	TotalVolume24h     decimal.Decimal `json:"total_volume_24h"`
	TotalBuybacksSol   decimal.Decimal `json:"total_buybacks_sol"`
	TotalDistributed   decimal.Decimal `json:"total_distributed"`
	LastSnapshotAt     *time.Time      `json:"last_snapshot_at"`
	LastDistributionAt *time.Time      `json:"last_distribution_at"`
}

type UserStats struct {
	Wallet                string          `json:"wallet"`
	Balance               decimal.Decimal `json:"balance"`
	Twab                  decimal.Decimal `json:"twab"`
	Tier                  *TierInfo       `json:"tier"`
	HashPower             decimal.Decimal `json:"hash_power"`
	StreakHours           float64         `json:"streak_hours"`
	NextTier              *TierInfo       `json:"next_tier"`
	HoursToNextTier       *float64        `json:"hours_to_next_tier"`
	Rank                  *int            `json:"rank"`
	PendingRewardEstimate decimal.Decimal `json:"pending_reward_estimate"`
	LastSellAt            *time.Time      `json:"last_sell_at"`
	IsExcluded            bool            `json:"is_excluded"`
}

type BalancePoint struct {
	SnapshotId uint64          `json:"snapshot_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Balance    decimal.Decimal `json:"balance"`
}

type RewardEntry struct {
	DistributionId uint64          `json:"distribution_id"`
	ExecutedAt     time.Time       `json:"executed_at"`
	Twab           decimal.Decimal `json:"twab"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	HashPower      decimal.Decimal `json:"hash_power"`
	Amount         decimal.Decimal `json:"amount"`
	TxSignature    *string         `json:"tx_signature"`
}

type UserHistory struct {
	Wallet   string          `json:"wallet"`
	Balances []*BalancePoint `json:"balances"`
	Rewards  []*RewardEntry  `json:"rewards"`
}

type LeaderboardEntry struct {
	Rank         int             `json:"rank"`
	Wallet       string          `json:"wallet"`
	Balance      decimal.Decimal `json:"balance"`
	Twab         decimal.Decimal `json:"twab"`
	Tier         *TierInfo       `json:"tier"`
	HashPower    decimal.Decimal `json:"hash_power"`
	SharePercent decimal.Decimal `json:"share_percent"`
}

type Leaderboard struct {
	Entries        []*LeaderboardEntry `json:"entries"`
	Total          int                 `json:"total"`
	TotalHashPower decimal.Decimal     `json:"total_hash_power"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type PoolInfo struct {
	PoolAmount            decimal.Decimal `json:"pool_amount"`
	PoolValueUsd          decimal.Decimal `json:"pool_value_usd"`
	PriceUsd              decimal.Decimal `json:"price_usd"`
	ThresholdUsd          decimal.Decimal `json:"threshold_usd"`
	ProgressPercent       decimal.Decimal `json:"progress_percent"`
	ThresholdMet          bool            `json:"threshold_met"`
	TimeMet               bool            `json:"time_met"`
	Ready                 bool            `json:"ready"`
	TriggerType           string          `json:"trigger_type,omitempty"`
	HoursSinceLast        *float64        `json:"hours_since_last"`
	LastDistributionAt    *time.Time      `json:"last_distribution_at"`
	NextTimeTriggerAt     *time.Time      `json:"next_time_trigger_at"`
	PendingCreatorRewards decimal.Decimal `json:"pending_creator_rewards_sol"`
}

type BuybackEntry struct {
	Id            uint64          `json:"id"`
	TxSignature   string          `json:"tx_signature"`
	SolAmount     decimal.Decimal `json:"sol_amount"`
	CopperAmount  decimal.Decimal `json:"copper_amount"`
	PricePerToken decimal.Decimal `json:"price_per_token"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

type DistributionEntry struct {
	Id             uint64          `json:"id"`
	PoolAmount     decimal.Decimal `json:"pool_amount"`
	PoolValueUsd   decimal.Decimal `json:"pool_value_usd"`
	TotalHashPower decimal.Decimal `json:"total_hash_power"`
	RecipientCount int             `json:"recipient_count"`
	TriggerType    string          `json:"trigger_type"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}
