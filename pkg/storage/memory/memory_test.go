package memory

import (
	"context"
	"testing"
	"time"

	"github.com/copperlabs/engine/pkg/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func Test_MemoryStore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Snapshots", func(t *testing.T) {
		s := NewStore()
		for i, bal := range []uint64{100, 200, 300} {
			_, err := s.InsertSnapshot(ctx, &storage.Snapshot{Timestamp: base.Add(time.Duration(i) * time.Hour), TotalHolders: 1}, []*storage.Balance{
				{Wallet: "alice", Balance: bal},
			})
			assert.Nil(t, err)
		}

		_, err := s.InsertSnapshot(ctx, &storage.Snapshot{Timestamp: base.Add(10 * time.Hour)}, []*storage.Balance{
			{Wallet: "alice", Balance: 1},
			{Wallet: "alice", Balance: 2},
		})
		assert.ErrorIs(t, err, storage.ErrDuplicate)

		latest, err := s.GetLatestSnapshot(ctx)
		assert.Nil(t, err)
		assert.Equal(t, base.Add(2*time.Hour), latest.Timestamp)

		before, err := s.GetSnapshotAtOrBefore(ctx, base.Add(90*time.Minute))
		assert.Nil(t, err)
		assert.Equal(t, base.Add(time.Hour), before.Timestamp)

		between, err := s.ListSnapshotsBetween(ctx, base, base.Add(2*time.Hour))
		assert.Nil(t, err)
		assert.Len(t, between, 2)

		history, err := s.ListWalletBalanceHistory(ctx, "alice", storage.Page{Limit: 2})
		assert.Nil(t, err)
		assert.Len(t, history, 2)
		assert.Equal(t, uint64(300), history[0].Balance)

		deleted, err := s.DeleteSnapshotsBefore(ctx, base.Add(time.Hour))
		assert.Nil(t, err)
		assert.Equal(t, int64(1), deleted)
	})

	t.Run("RecordSell is idempotent per signature", func(t *testing.T) {
		s := NewStore()
		mutation := func(current *storage.HoldStreak) (*storage.HoldStreak, error) {
			return &storage.HoldStreak{StreakStart: base, CurrentTier: 1}, nil
		}
		ev := &storage.SellEvent{TxSignature: "sig", Wallet: "alice", TokenAmount: 5, DetectedAt: base}

		streak, err := s.RecordSell(ctx, ev, mutation)
		assert.Nil(t, err)
		assert.Equal(t, "alice", streak.Wallet)

		_, err = s.RecordSell(ctx, ev, mutation)
		assert.ErrorIs(t, err, storage.ErrDuplicate)

		other := &storage.SellEvent{TxSignature: "sig", Wallet: "bob", TokenAmount: 3, DetectedAt: base}
		streak, err = s.RecordSell(ctx, other, mutation)
		assert.Nil(t, err)
		assert.Equal(t, "bob", streak.Wallet)

		_, err = s.RecordSell(ctx, other, mutation)
		assert.ErrorIs(t, err, storage.ErrDuplicate)
	})

	t.Run("Invalid tier is rejected", func(t *testing.T) {
		s := NewStore()
		_, err := s.MutateHoldStreak(ctx, "alice", func(current *storage.HoldStreak) (*storage.HoldStreak, error) {
			return &storage.HoldStreak{StreakStart: base, CurrentTier: 7}, nil
		})
		assert.ErrorIs(t, err, storage.ErrInvalidTier)
	})

	t.Run("RecordBuyback consumes rewards once", func(t *testing.T) {
		s := NewStore()
		reward, err := s.InsertCreatorReward(ctx, &storage.CreatorReward{AmountSol: decimal.NewFromInt(1), Source: storage.CreatorRewardSource_PumpFun, ReceivedAt: base})
		assert.Nil(t, err)

		_, err = s.RecordBuyback(ctx, &storage.Buyback{TxSignature: "b1", SolAmount: decimal.RequireFromString("0.8"), CopperAmount: 1000, ExecutedAt: base}, []uint64{reward.Id}, base)
		assert.Nil(t, err)

		pending, err := s.ListUnprocessedCreatorRewards(ctx)
		assert.Nil(t, err)
		assert.Len(t, pending, 0)

		_, err = s.RecordBuyback(ctx, &storage.Buyback{TxSignature: "b2", SolAmount: decimal.RequireFromString("0.8"), CopperAmount: 1000, ExecutedAt: base}, []uint64{reward.Id}, base)
		assert.ErrorIs(t, err, storage.ErrAlreadyProcessed)

		ledger, err := s.GetPoolLedger(ctx)
		assert.Nil(t, err)
		assert.Equal(t, uint64(1000), ledger.Balance())
	})

	t.Run("Distribution lock", func(t *testing.T) {
		s := NewStore()
		ok, err := s.TryAcquireDistributionLock(ctx, "a", base, time.Minute)
		assert.Nil(t, err)
		assert.True(t, ok)

		ok, err = s.TryAcquireDistributionLock(ctx, "b", base.Add(30*time.Second), time.Minute)
		assert.Nil(t, err)
		assert.False(t, ok)

		ok, err = s.TryAcquireDistributionLock(ctx, "b", base.Add(2*time.Minute), time.Minute)
		assert.Nil(t, err)
		assert.True(t, ok)

		assert.Nil(t, s.ReleaseDistributionLock(ctx, "a"))
		lock, _ := s.GetDistributionLock(ctx)
		assert.Equal(t, "b", *lock.LockedBy)

		assert.Nil(t, s.ReleaseDistributionLock(ctx, "b"))
		lock, _ = s.GetDistributionLock(ctx)
		assert.Nil(t, lock.LockedAt)
	})

	t.Run("Only the holder renews the lock", func(t *testing.T) {
		s := NewStore()
		ok, err := s.TryAcquireDistributionLock(ctx, "a", base, time.Minute)
		assert.Nil(t, err)
		assert.True(t, ok)

		renewed, err := s.RenewDistributionLock(ctx, "a", base.Add(50*time.Second))
		assert.Nil(t, err)
		assert.True(t, renewed)

		ok, err = s.TryAcquireDistributionLock(ctx, "b", base.Add(90*time.Second), time.Minute)
		assert.Nil(t, err)
		assert.False(t, ok)

		renewed, err = s.RenewDistributionLock(ctx, "b", base.Add(90*time.Second))
		assert.Nil(t, err)
		assert.False(t, renewed)
	})

	t.Run("Payout claims", func(t *testing.T) {
		s := NewStore()
		d, err := s.InsertDistribution(ctx, &storage.Distribution{
			PoolAmount:     100,
			TotalHashpower: decimal.NewFromInt(1),
			RecipientCount: 1,
			TriggerType:    storage.TriggerType_Time,
			ExecutedAt:     base,
		}, []*storage.DistributionRecipient{
			{Wallet: "alice", HashPower: decimal.NewFromInt(1), AmountReceived: 100},
		})
		assert.Nil(t, err)

		unpaid, err := s.ListUnpaidRecipients(ctx, 3, 0)
		assert.Nil(t, err)
		assert.Len(t, unpaid, 1)
		id := unpaid[0].Id

		claimed, err := s.ClaimRecipientPayout(ctx, id, "sig-1", 1000)
		assert.Nil(t, err)
		assert.True(t, claimed)

		claimed, err = s.ClaimRecipientPayout(ctx, id, "sig-2", 1000)
		assert.Nil(t, err)
		assert.False(t, claimed)

		for i := 0; i < 3; i++ {
			assert.Nil(t, s.MarkRecipientPayoutFailed(ctx, id, "rpc down"))
		}
		unpaid, err = s.ListUnpaidRecipients(ctx, 3, 0)
		assert.Nil(t, err)
		assert.Len(t, unpaid, 1)
		assert.Equal(t, "sig-1", *unpaid[0].PendingSignature)
		assert.Equal(t, uint64(1000), unpaid[0].PendingLastValidHeight)

		assert.Nil(t, s.ReleaseRecipientPayout(ctx, id, "sig-2"))
		unpaid, _ = s.ListUnpaidRecipients(ctx, 3, 0)
		assert.Len(t, unpaid, 1)

		assert.Nil(t, s.ReleaseRecipientPayout(ctx, id, "sig-1"))
		unpaid, _ = s.ListUnpaidRecipients(ctx, 3, 0)
		assert.Len(t, unpaid, 0)

		claimed, err = s.ClaimRecipientPayout(ctx, id, "sig-3", 2000)
		assert.Nil(t, err)
		assert.True(t, claimed)
		assert.Nil(t, s.MarkRecipientPaid(ctx, id, "sig-3", base))

		rows, err := s.ListDistributionRecipients(ctx, d.Id)
		assert.Nil(t, err)
		assert.Nil(t, rows[0].PendingSignature)
		assert.Equal(t, "sig-3", *rows[0].TxSignature)

		claimed, err = s.ClaimRecipientPayout(ctx, id, "sig-4", 2000)
		assert.Nil(t, err)
		assert.False(t, claimed)
	})

	t.Run("Distribution payouts", func(t *testing.T) {
		s := NewStore()
		recipients := []*storage.DistributionRecipient{
			{Wallet: "alice", HashPower: decimal.NewFromInt(3), AmountReceived: 75},
			{Wallet: "bob", HashPower: decimal.NewFromInt(1), AmountReceived: 25},
		}
		d, err := s.InsertDistribution(ctx, &storage.Distribution{
			PoolAmount:     100,
			TotalHashpower: decimal.NewFromInt(4),
			RecipientCount: 2,
			TriggerType:    storage.TriggerType_Time,
			ExecutedAt:     base,
		}, recipients)
		assert.Nil(t, err)
		assert.Equal(t, d.Id, recipients[0].DistributionId)

		unpaid, err := s.ListUnpaidRecipients(ctx, 3, 0)
		assert.Nil(t, err)
		assert.Len(t, unpaid, 2)

		assert.Nil(t, s.MarkRecipientPaid(ctx, unpaid[0].Id, "p1", base))
		assert.ErrorIs(t, s.MarkRecipientPaid(ctx, unpaid[0].Id, "p2", base), storage.ErrRecipientAlreadyPaid)
		for i := 0; i < 3; i++ {
			assert.Nil(t, s.MarkRecipientPayoutFailed(ctx, unpaid[1].Id, "rpc down"))
		}

		unpaid, err = s.ListUnpaidRecipients(ctx, 3, 0)
		assert.Nil(t, err)
		assert.Len(t, unpaid, 0)

		rewards, err := s.ListWalletRewards(ctx, "alice", storage.Page{})
		assert.Nil(t, err)
		assert.Len(t, rewards, 1)
		assert.Equal(t, uint64(75), rewards[0].AmountReceived)

		_, err = s.InsertDistribution(ctx, &storage.Distribution{
			PoolAmount:     101,
			TotalHashpower: decimal.NewFromInt(4),
			RecipientCount: 2,
			TriggerType:    storage.TriggerType_Time,
			ExecutedAt:     base,
		}, []*storage.DistributionRecipient{
			{Wallet: "alice", HashPower: decimal.NewFromInt(3), AmountReceived: 75},
			{Wallet: "bob", HashPower: decimal.NewFromInt(1), AmountReceived: 25},
		})
		assert.ErrorIs(t, err, storage.ErrUnbalancedPayout)
	})
}
