// Package storage defines the persisted entities of the mining engine and the
// store interfaces the engines depend on. Implementations live in the
// postgres and memory subpackages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicate            = errors.New("duplicate")
	ErrNegativeBalance      = errors.New("negative balance")
	ErrInvalidTier          = errors.New("tier out of range")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidSource        = errors.New("invalid creator reward source")
	ErrInvalidTrigger       = errors.New("invalid trigger type")
	ErrUnbalancedPayout     = errors.New("recipient amounts do not sum to pool amount")
	ErrAlreadyProcessed     = errors.New("creator reward already processed")
	ErrRecipientAlreadyPaid = errors.New("recipient already paid")
)

// StreakMutation receives the current streak (nil when the wallet has none)
// and returns the state to persist, or nil to leave the row untouched.
type StreakMutation func(current *HoldStreak) (*HoldStreak, error)

type SnapshotStore interface {
	// InsertSnapshot writes the snapshot header and every balance in one
	// transaction.
	InsertSnapshot(ctx context.Context, snapshot *Snapshot, balances []*Balance) (*Snapshot, error)
	GetLatestSnapshot(ctx context.Context) (*Snapshot, error)
	GetSnapshotAtOrBefore(ctx context.Context, t time.Time) (*Snapshot, error)
	// ListSnapshotsBetween returns snapshots with start < timestamp <= end
	// ordered by timestamp ascending.
	ListSnapshotsBetween(ctx context.Context, start, end time.Time) ([]*Snapshot, error)
	// ListBalancesForSnapshots returns balances for the given snapshots,
	// restricted to wallets when it is non-empty.
	ListBalancesForSnapshots(ctx context.Context, snapshotIds []uint64, wallets []string) ([]*Balance, error)
	ListWalletBalanceHistory(ctx context.Context, wallet string, page Page) ([]*WalletBalancePoint, error)
	DeleteSnapshotsBefore(ctx context.Context, t time.Time) (int64, error)
}

type StreakStore interface {
	GetHoldStreak(ctx context.Context, wallet string) (*HoldStreak, error)
	// ListHoldStreaks returns the streaks for wallets, or all streaks when
	// wallets is empty.
	ListHoldStreaks(ctx context.Context, wallets []string) ([]*HoldStreak, error)
	// MutateHoldStreak applies fn while holding the wallet's row lock.
	MutateHoldStreak(ctx context.Context, wallet string, fn StreakMutation) (*HoldStreak, error)
	// RecordSell stores the sell event and applies fn in the same
	// transaction. A repeated transaction signature and wallet pair returns
	// ErrDuplicate and leaves the streak untouched.
	RecordSell(ctx context.Context, event *SellEvent, fn StreakMutation) (*HoldStreak, error)
}

type ExclusionStore interface {
	ListExcludedWallets(ctx context.Context) ([]*ExcludedWallet, error)
	AddExcludedWallet(ctx context.Context, wallet *ExcludedWallet) error
	RemoveExcludedWallet(ctx context.Context, wallet string) (bool, error)
}

type RewardStore interface {
	InsertCreatorReward(ctx context.Context, reward *CreatorReward) (*CreatorReward, error)
	ListUnprocessedCreatorRewards(ctx context.Context) ([]*CreatorReward, error)
	// RecordBuyback inserts the buyback and marks the consumed creator
	// rewards processed in one transaction.
	RecordBuyback(ctx context.Context, buyback *Buyback, rewardIds []uint64, processedAt time.Time) (*Buyback, error)
	ListBuybacks(ctx context.Context, page Page) ([]*Buyback, int64, error)
	GetPoolLedger(ctx context.Context) (*PoolLedger, error)
}

type DistributionStore interface {
	// TryAcquireDistributionLock never blocks. A lock older than staleAfter
	// is treated as abandoned and taken over.
	TryAcquireDistributionLock(ctx context.Context, holder string, now time.Time, staleAfter time.Duration) (bool, error)
	// RenewDistributionLock moves locked_at to now while holder still owns
	// the lock, and reports false once it has been taken over.
	RenewDistributionLock(ctx context.Context, holder string, now time.Time) (bool, error)
	ReleaseDistributionLock(ctx context.Context, holder string) error
	GetDistributionLock(ctx context.Context) (*DistributionLock, error)

	InsertDistribution(ctx context.Context, distribution *Distribution, recipients []*DistributionRecipient) (*Distribution, error)
	GetLatestDistribution(ctx context.Context) (*Distribution, error)
	GetDistribution(ctx context.Context, id uint64) (*Distribution, error)
	ListDistributions(ctx context.Context, page Page) ([]*Distribution, int64, error)
	ListDistributionRecipients(ctx context.Context, distributionId uint64) ([]*DistributionRecipient, error)
	ListWalletRewards(ctx context.Context, wallet string, page Page) ([]*WalletReward, error)
	// ListUnpaidRecipients returns unpaid rows under maxAttempts, plus every
	// unpaid row with a pending signature regardless of attempts.
	ListUnpaidRecipients(ctx context.Context, maxAttempts int, limit int) ([]*DistributionRecipient, error)
	// ClaimRecipientPayout records a signed transfer on an unpaid recipient
	// with no pending signature. It reports false when the row was claimed
	// or paid already.
	ClaimRecipientPayout(ctx context.Context, recipientId uint64, signature string, lastValidBlockHeight uint64) (bool, error)
	// ReleaseRecipientPayout clears a pending signature that can no longer
	// land.
	ReleaseRecipientPayout(ctx context.Context, recipientId uint64, signature string) error
	// MarkRecipientPaid also clears any pending signature.
	MarkRecipientPaid(ctx context.Context, recipientId uint64, txSignature string, paidAt time.Time) error
	MarkRecipientPayoutFailed(ctx context.Context, recipientId uint64, reason string) error
}

type StatsStore interface {
	// RefreshSystemStats recomputes the aggregate row from the source tables.
	RefreshSystemStats(ctx context.Context, now time.Time) (*SystemStats, error)
	GetSystemStats(ctx context.Context) (*SystemStats, error)
}

// Store is implemented by every backend.
type Store interface {
	SnapshotStore
	StreakStore
	ExclusionStore
	RewardStore
	DistributionStore
	StatsStore
}

// ValidateSnapshotBalances rejects duplicate wallets within a snapshot.
func ValidateSnapshotBalances(balances []*Balance) error {
	seen := make(map[string]struct{}, len(balances))
	for _, b := range balances {
		if b.Wallet == "" {
			return fmt.Errorf("balance with empty wallet")
		}
		if _, ok := seen[b.Wallet]; ok {
			return fmt.Errorf("wallet %s appears twice in snapshot: %w", b.Wallet, ErrDuplicate)
		}
		seen[b.Wallet] = struct{}{}
	}
	return nil
}

func ValidateHoldStreak(s *HoldStreak) error {
	if s.CurrentTier < 1 || s.CurrentTier > 6 {
		return fmt.Errorf("wallet %s tier %d: %w", s.Wallet, s.CurrentTier, ErrInvalidTier)
	}
	return nil
}

func ValidateCreatorReward(r *CreatorReward) error {
	if !r.AmountSol.IsPositive() {
		return ErrInvalidAmount
	}
	if r.Source != CreatorRewardSource_PumpFun && r.Source != CreatorRewardSource_PumpSwap {
		return fmt.Errorf("%q: %w", r.Source, ErrInvalidSource)
	}
	return nil
}

// ValidateDistribution enforces the invariants of a payout cycle before it is
// written: positive pool, positive hash power, one row per wallet, and
// recipient amounts that add up to the pool exactly.
func ValidateDistribution(d *Distribution, recipients []*DistributionRecipient) error {
	if d.PoolAmount == 0 {
		return fmt.Errorf("pool amount: %w", ErrInvalidAmount)
	}
	if !d.TotalHashpower.IsPositive() {
		return fmt.Errorf("total hashpower: %w", ErrInvalidAmount)
	}
	if d.TriggerType != TriggerType_Threshold && d.TriggerType != TriggerType_Time {
		return fmt.Errorf("%q: %w", d.TriggerType, ErrInvalidTrigger)
	}
	if len(recipients) == 0 || d.RecipientCount != len(recipients) {
		return fmt.Errorf("recipient count %d does not match %d rows", d.RecipientCount, len(recipients))
	}
	seen := make(map[string]struct{}, len(recipients))
	var sum uint64
	hashpower := decimal.Zero
	for _, r := range recipients {
		if _, ok := seen[r.Wallet]; ok {
			return fmt.Errorf("wallet %s appears twice: %w", r.Wallet, ErrDuplicate)
		}
		seen[r.Wallet] = struct{}{}
		sum += r.AmountReceived
		hashpower = hashpower.Add(r.HashPower)
	}
	if sum != d.PoolAmount {
		return fmt.Errorf("%d != %d: %w", sum, d.PoolAmount, ErrUnbalancedPayout)
	}
	if !hashpower.Equal(d.TotalHashpower) {
		return fmt.Errorf("recipient hashpower %s != total %s", hashpower, d.TotalHashpower)
	}
	return nil
}

func ValidateBuyback(b *Buyback) error {
	if b.TxSignature == "" {
		return fmt.Errorf("buyback without tx signature")
	}
	if !b.SolAmount.IsPositive() || b.CopperAmount == 0 {
		return ErrInvalidAmount
	}
	return nil
}

// NormalizePage clamps limit to [1, 100] and offset to >= 0.
func NormalizePage(p Page) Page {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
