package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CreatorRewardSource_PumpFun  = "pumpfun"
	CreatorRewardSource_PumpSwap = "pumpswap"

	TriggerType_Threshold = "threshold"
	TriggerType_Time      = "time"
)

// Snapshot is a point in time capture of tracked wallet balances.
type Snapshot struct {
	Id           uint64 `gorm:"type:serial;primaryKey"`
	Timestamp    time.Time
	TotalHolders uint64
	TotalSupply  uint64
	CreatedAt    time.Time
}

func (Snapshot) TableName() string { return "snapshots" }

// Balance is one wallet's raw token balance at a snapshot.
type Balance struct {
	Id         uint64 `gorm:"type:serial;primaryKey"`
	SnapshotId uint64
	Wallet     string
	Balance    uint64
}

func (Balance) TableName() string { return "balances" }

type HoldStreak struct {
	Wallet      string `gorm:"primaryKey"`
	StreakStart time.Time
	CurrentTier int
	LastSellAt  *time.Time
	UpdatedAt   time.Time
}

func (HoldStreak) TableName() string { return "hold_streaks" }

// SellEvent records every sell applied to a streak, keyed by transaction
// signature and wallet so redelivered events are applied once.
type SellEvent struct {
	Id          uint64 `gorm:"type:serial;primaryKey"`
	TxSignature string
	Wallet      string
	TokenAmount uint64
	DetectedAt  time.Time
}

func (SellEvent) TableName() string { return "sell_events" }

type CreatorReward struct {
	Id          uint64          `gorm:"type:serial;primaryKey"`
	AmountSol   decimal.Decimal `gorm:"type:numeric"`
	Source      string
	TxSignature *string
	ReceivedAt  time.Time
	Processed   bool
	ProcessedAt *time.Time
}

func (CreatorReward) TableName() string { return "creator_rewards" }

type Buyback struct {
	Id            uint64 `gorm:"type:serial;primaryKey"`
	TxSignature   string
	SolAmount     decimal.Decimal `gorm:"type:numeric"`
	CopperAmount  uint64
	PricePerToken decimal.Decimal `gorm:"type:numeric"`
	ExecutedAt    time.Time
}

func (Buyback) TableName() string { return "buybacks" }

type Distribution struct {
	Id             uint64 `gorm:"type:serial;primaryKey"`
	PoolAmount     uint64
	PoolValueUsd   decimal.Decimal `gorm:"type:numeric"`
	TotalHashpower decimal.Decimal `gorm:"type:numeric"`
	RecipientCount int
	TriggerType    string
	ExecutedAt     time.Time
}

func (Distribution) TableName() string { return "distributions" }

type DistributionRecipient struct {
	Id              uint64 `gorm:"type:serial;primaryKey"`
	DistributionId  uint64
	Wallet          string
	Twab            decimal.Decimal `gorm:"type:numeric"`
	Multiplier      decimal.Decimal `gorm:"type:numeric"`
	HashPower       decimal.Decimal `gorm:"type:numeric"`
	AmountReceived  uint64
	TxSignature     *string
	PayoutAttempts  int
	LastPayoutError *string
	PaidAt          *time.Time
	// PendingSignature is a signed transfer that may have reached the
	// network. It must be resolved on chain before another transfer is sent.
	PendingSignature       *string
	PendingLastValidHeight uint64
}

func (DistributionRecipient) TableName() string { return "distribution_recipients" }

type ExcludedWallet struct {
	Wallet  string `gorm:"primaryKey"`
	Reason  string
	AddedAt time.Time
}

func (ExcludedWallet) TableName() string { return "excluded_wallets" }

type DistributionLock struct {
	Id       int `gorm:"primaryKey"`
	LockedAt *time.Time
	LockedBy *string
}

func (DistributionLock) TableName() string { return "distribution_lock" }

// SystemStats is a derived cache rebuilt by RefreshSystemStats.
type SystemStats struct {
	Id                 int `gorm:"primaryKey"`
	TotalHolders       uint64
	TotalVolume24h     uint64          `gorm:"column:total_volume_24h"`
	TotalBuybacksSol   decimal.Decimal `gorm:"type:numeric"`
	TotalDistributed   uint64
	LastSnapshotAt     *time.Time
	LastDistributionAt *time.Time
	UpdatedAt          time.Time
}

func (SystemStats) TableName() string { return "system_stats" }

// PoolLedger aggregates the buyback and distribution history the reward pool
// balance is derived from.
type PoolLedger struct {
	TotalBoughtCopper      uint64
	TotalDistributedCopper uint64
	FirstBuybackAt         *time.Time
	LastDistributionAt     *time.Time
}

// Balance returns the undistributed pool amount.
func (p *PoolLedger) Balance() uint64 {
	if p.TotalDistributedCopper >= p.TotalBoughtCopper {
		return 0
	}
	return p.TotalBoughtCopper - p.TotalDistributedCopper
}

// WalletBalancePoint is a wallet's balance joined with its snapshot time.
type WalletBalancePoint struct {
	SnapshotId uint64
	Timestamp  time.Time
	Balance    uint64
}

// WalletReward is a distribution recipient row joined with its
// distribution's execution time.
type WalletReward struct {
	DistributionId uint64
	ExecutedAt     time.Time
	Twab           decimal.Decimal
	Multiplier     decimal.Decimal
	HashPower      decimal.Decimal
	AmountReceived uint64
	TxSignature    *string
}

type Page struct {
	Limit  int
	Offset int
}
