package distribution

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/copperlabs/engine/pkg/clients/solanaRpc"
	"github.com/copperlabs/engine/pkg/eventBus"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/retry"
	"github.com/copperlabs/engine/pkg/rewardPool"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/storage/memory"
	"github.com/copperlabs/engine/pkg/twab"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func hp(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func Test_Allocate(t *testing.T) {
	t.Run("Remainder goes to the highest hash power", func(t *testing.T) {
		allocs := []*Allocation{
			{Wallet: "a", HashPower: hp("1")},
			{Wallet: "b", HashPower: hp("1")},
			{Wallet: "c", HashPower: hp("1")},
		}
		require.True(t, Allocate(100, allocs))
		// ties break to the smallest wallet
		assert.Equal(t, "a", allocs[0].Wallet)
		assert.Equal(t, uint64(34), allocs[0].Amount)
		assert.Equal(t, uint64(33), allocs[1].Amount)
		assert.Equal(t, uint64(33), allocs[2].Amount)
	})

	t.Run("Zero hash power allocates nothing", func(t *testing.T) {
		allocs := []*Allocation{{Wallet: "a", HashPower: decimal.Zero}}
		assert.False(t, Allocate(100, allocs))
		assert.Equal(t, uint64(0), allocs[0].Amount)
	})

	t.Run("Sum is exact and shares are proportional", func(t *testing.T) {
		r := rand.New(rand.NewSource(42))
		for round := 0; round < 200; round++ {
			pool := uint64(r.Int63n(1_000_000_000_000)) + 1
			n := r.Intn(50) + 1
			allocs := make([]*Allocation, 0, n)
			for i := 0; i < n; i++ {
				twab := decimal.NewFromInt(r.Int63n(10_000_000_000) + 1)
				mult := []string{"1", "1.25", "1.5", "2.5", "3.5", "5"}[r.Intn(6)]
				allocs = append(allocs, &Allocation{
					Wallet:    fmt.Sprintf("w%03d", i),
					HashPower: twab.Mul(hp(mult)),
				})
			}
			require.True(t, Allocate(pool, allocs))

			total := TotalHashPower(allocs)
			var sum uint64
			for i, a := range allocs {
				sum += a.Amount
				exact := decimal.NewFromInt(int64(pool)).Mul(a.HashPower).Div(total)
				diff := decimal.NewFromInt(int64(a.Amount)).Sub(exact).Abs()
				if i == 0 {
					// the top recipient also absorbs up to n-1 units of remainder
					assert.True(t, diff.LessThan(decimal.NewFromInt(int64(n))), "round %d", round)
				} else {
					assert.True(t, diff.LessThan(decimal.NewFromInt(1)), "round %d", round)
				}
			}
			assert.Equal(t, pool, sum, "round %d", round)
		}
	})
}

type fixedPrice struct{ price decimal.Decimal }

func (f *fixedPrice) PriceUsd(ctx context.Context) (decimal.Decimal, error) { return f.price, nil }

// fakePayer keeps an on-chain ledger of landed transfers so tests can tell
// what actually moved from what the engine recorded.
type fakePayer struct {
	mu      sync.Mutex
	paid    map[string]uint64
	landed  map[string]bool
	nonce   int
	failFor map[string]bool
	// unconfirmed transfers land but confirmation times out
	unconfirmed map[string]bool
	// dropped transfers are signed and claimed but never land
	dropped map[string]bool
	expired bool
	onPay   func(wallet string)
	started chan struct{}
	release chan struct{}
}

func newFakePayer() *fakePayer {
	return &fakePayer{
		paid:        map[string]uint64{},
		landed:      map[string]bool{},
		failFor:     map[string]bool{},
		unconfirmed: map[string]bool{},
		dropped:     map[string]bool{},
	}
}

func (f *fakePayer) Pay(ctx context.Context, wallet string, amount uint64, onSigned solanaRpc.SignedFunc) (string, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
		<-f.release
	}
	if f.onPay != nil {
		f.onPay(wallet)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[wallet] {
		return "", errors.New("blockhash not found")
	}
	f.nonce++
	sig := fmt.Sprintf("sig-%s-%d", wallet, f.nonce)
	if err := onSigned(sig, 1000); err != nil {
		return "", err
	}
	if f.dropped[wallet] {
		delete(f.dropped, wallet)
		return "", fmt.Errorf("sendTransaction %s: timeout", sig)
	}
	f.paid[wallet] += amount
	f.landed[sig] = true
	if f.unconfirmed[wallet] {
		delete(f.unconfirmed, wallet)
		return "", fmt.Errorf("%s after 30 polls: %w", sig, solanaRpc.ErrUnconfirmed)
	}
	return sig, nil
}

func (f *fakePayer) TransferState(ctx context.Context, signature string, lastValidBlockHeight uint64) (solanaRpc.TransferState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.landed[signature] {
		return solanaRpc.TransferLanded, nil
	}
	if f.expired {
		return solanaRpc.TransferExpired, nil
	}
	return solanaRpc.TransferPending, nil
}

func (f *fakePayer) total() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum uint64
	for _, v := range f.paid {
		sum += v
	}
	return sum
}

func recipientFor(t *testing.T, store *memory.Store, distributionId uint64, wallet string) *storage.DistributionRecipient {
	recipients, err := store.ListDistributionRecipients(context.Background(), distributionId)
	require.Nil(t, err)
	for _, r := range recipients {
		if r.Wallet == wallet {
			return r
		}
	}
	t.Fatalf("no recipient %s in distribution %d", wallet, distributionId)
	return nil
}

type harness struct {
	store  *memory.Store
	engine *Engine
	payer  *fakePayer
	clock  *clockwork.FakeClock
}

// newHarness seeds a pool of 1.000001 COPPER worth $300 held by alice
// (tier 1), bob (tier 4) and an excluded treasury wallet.
func newHarness(t *testing.T) *harness {
	ctx := context.Background()
	l := zap.NewNop()
	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(t0)
	eb := eventBus.NewEventBus(l)
	ms := metrics.NewNoopMetricsSink()

	_, err := store.InsertSnapshot(ctx, &storage.Snapshot{Timestamp: t0.Add(-time.Hour), TotalHolders: 3}, []*storage.Balance{
		{Wallet: "alice", Balance: 1_000_000_000},
		{Wallet: "bob", Balance: 3_000_000_000},
		{Wallet: "treasury", Balance: 50_000_000_000},
	})
	require.Nil(t, err)
	require.Nil(t, store.AddExcludedWallet(ctx, &storage.ExcludedWallet{Wallet: "treasury", Reason: "team", AddedAt: t0}))
	_, err = store.MutateHoldStreak(ctx, "bob", func(*storage.HoldStreak) (*storage.HoldStreak, error) {
		return &storage.HoldStreak{Wallet: "bob", StreakStart: t0.Add(-80 * time.Hour), CurrentTier: 4, UpdatedAt: t0}, nil
	})
	require.Nil(t, err)

	reward, err := store.InsertCreatorReward(ctx, &storage.CreatorReward{AmountSol: decimal.NewFromInt(1), Source: storage.CreatorRewardSource_PumpFun, ReceivedAt: t0})
	require.Nil(t, err)
	_, err = store.RecordBuyback(ctx, &storage.Buyback{
		TxSignature:  "buy-1",
		SolAmount:    hp("0.8"),
		CopperAmount: 1_000_001,
		ExecutedAt:   t0.Add(-2 * time.Hour),
	}, []uint64{reward.Id}, t0)
	require.Nil(t, err)

	tracker := rewardPool.NewTracker(store, &fixedPrice{price: decimal.NewFromInt(300)},
		&rewardPool.TriggerConfig{ThresholdUsd: decimal.NewFromInt(250), MaxInterval: 24 * time.Hour},
		clock, eb, ms, l)
	calc := twab.NewCalculator(store, 24*time.Hour, nil, l)
	payer := newFakePayer()
	engine := NewEngine(store, calc, tracker, payer, &EngineConfig{
		LockStaleAfter: 30 * time.Minute,
		PayoutAttempts: 3,
		PayoutRetry:    retry.Config{MaxAttempts: 1},
	}, clock, eb, ms, l)
	return &harness{store: store, engine: engine, payer: payer, clock: clock}
}

func Test_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("Pays by hash power and never pays excluded wallets", func(t *testing.T) {
		h := newHarness(t)
		res, err := h.engine.ExecuteIfReady(ctx)
		require.Nil(t, err)
		require.NotNil(t, res)

		assert.Equal(t, storage.TriggerType_Threshold, res.Distribution.TriggerType)
		assert.Equal(t, uint64(1_000_001), res.Distribution.PoolAmount)
		assert.True(t, res.Distribution.TotalHashpower.Equal(hp("8500000000")), res.Distribution.TotalHashpower.String())

		// bob: 3000 COPPER x 2.5, alice: 1000 COPPER x 1
		assert.Equal(t, uint64(882_354), h.payer.paid["bob"])
		assert.Equal(t, uint64(117_647), h.payer.paid["alice"])
		_, paidTreasury := h.payer.paid["treasury"]
		assert.False(t, paidTreasury)
		assert.Equal(t, 2, res.Payouts.Paid)

		recipients, err := h.store.ListDistributionRecipients(ctx, res.Distribution.Id)
		require.Nil(t, err)
		require.Len(t, recipients, 2)
		for _, r := range recipients {
			assert.NotEqual(t, "treasury", r.Wallet)
			require.NotNil(t, r.TxSignature)
		}

		ledger, err := h.store.GetPoolLedger(ctx)
		require.Nil(t, err)
		assert.Equal(t, uint64(0), ledger.Balance())

		lock, err := h.store.GetDistributionLock(ctx)
		require.Nil(t, err)
		assert.Nil(t, lock.LockedBy)

		_, err = h.engine.ExecuteIfReady(ctx)
		assert.ErrorIs(t, err, ErrNotReady)
	})

	t.Run("Concurrent attempts commit exactly one distribution", func(t *testing.T) {
		h := newHarness(t)
		h.payer.started = make(chan struct{}, 1)
		h.payer.release = make(chan struct{})

		done := make(chan error, 1)
		go func() {
			_, err := h.engine.ExecuteIfReady(ctx)
			done <- err
		}()
		<-h.payer.started

		_, err := h.engine.ExecuteIfReady(ctx)
		assert.ErrorIs(t, err, ErrLockHeld)

		close(h.payer.release)
		require.Nil(t, <-done)

		_, total, err := h.store.ListDistributions(ctx, storage.Page{Limit: 10})
		require.Nil(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("Zero hash power aborts without writing", func(t *testing.T) {
		h := newHarness(t)
		for _, w := range []string{"alice", "bob"} {
			require.Nil(t, h.store.AddExcludedWallet(ctx, &storage.ExcludedWallet{Wallet: w, Reason: "test", AddedAt: t0}))
		}
		_, err := h.engine.ExecuteIfReady(ctx)
		assert.ErrorIs(t, err, ErrNoEligibleRecipients)

		_, total, err := h.store.ListDistributions(ctx, storage.Page{Limit: 10})
		require.Nil(t, err)
		assert.Equal(t, int64(0), total)

		lock, err := h.store.GetDistributionLock(ctx)
		require.Nil(t, err)
		assert.Nil(t, lock.LockedBy)
	})

	t.Run("Failed payouts stay pending and are retried from persisted rows", func(t *testing.T) {
		h := newHarness(t)
		h.payer.failFor["alice"] = true

		res, err := h.engine.ExecuteIfReady(ctx)
		require.Nil(t, err)
		assert.Equal(t, 1, res.Payouts.Paid)
		assert.Equal(t, 1, res.Payouts.Failed)

		pending, err := h.store.ListUnpaidRecipients(ctx, 3, 10)
		require.Nil(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "alice", pending[0].Wallet)
		assert.Nil(t, pending[0].TxSignature)

		h.payer.failFor["alice"] = false
		calls := 0
		summary, err := h.engine.RetryPendingPayouts(ctx, 0, func(done, total int) { calls++ })
		require.Nil(t, err)
		assert.Equal(t, 1, summary.Paid)
		assert.Equal(t, 1, calls)
		assert.Equal(t, uint64(117_647), h.payer.paid["alice"])

		pending, err = h.store.ListUnpaidRecipients(ctx, 3, 10)
		require.Nil(t, err)
		assert.Empty(t, pending)
	})

	t.Run("A landed but unconfirmed transfer is recorded, not sent twice", func(t *testing.T) {
		h := newHarness(t)
		h.payer.unconfirmed["alice"] = true

		res, err := h.engine.ExecuteIfReady(ctx)
		require.Nil(t, err)
		assert.Equal(t, 1, res.Payouts.Paid)
		assert.Equal(t, 1, res.Payouts.Failed)

		alice := recipientFor(t, h.store, res.Distribution.Id, "alice")
		assert.Nil(t, alice.TxSignature)
		require.NotNil(t, alice.PendingSignature)
		assert.Equal(t, uint64(1000), alice.PendingLastValidHeight)
		sent := *alice.PendingSignature

		summary, err := h.engine.RetryPendingPayouts(ctx, 0, nil)
		require.Nil(t, err)
		assert.Equal(t, 1, summary.Paid)

		assert.Equal(t, uint64(117_647), h.payer.paid["alice"])
		assert.Equal(t, res.Distribution.PoolAmount, h.payer.total())

		alice = recipientFor(t, h.store, res.Distribution.Id, "alice")
		require.NotNil(t, alice.TxSignature)
		assert.Equal(t, sent, *alice.TxSignature)
		assert.Nil(t, alice.PendingSignature)

		pending, err := h.store.ListUnpaidRecipients(ctx, 3, 10)
		require.Nil(t, err)
		assert.Empty(t, pending)
	})

	t.Run("A dropped transfer is resent only after its blockhash expires", func(t *testing.T) {
		h := newHarness(t)
		h.payer.dropped["alice"] = true

		res, err := h.engine.ExecuteIfReady(ctx)
		require.Nil(t, err)
		assert.Equal(t, 1, res.Payouts.Failed)

		summary, err := h.engine.RetryPendingPayouts(ctx, 0, nil)
		require.Nil(t, err)
		assert.Equal(t, 1, summary.InFlight)
		assert.Equal(t, uint64(0), h.payer.paid["alice"])

		h.payer.expired = true
		summary, err = h.engine.RetryPendingPayouts(ctx, 0, nil)
		require.Nil(t, err)
		assert.Equal(t, 1, summary.Paid)
		assert.Equal(t, uint64(117_647), h.payer.paid["alice"])
		assert.Equal(t, res.Distribution.PoolAmount, h.payer.total())
	})

	t.Run("A recipient claimed elsewhere is not paid", func(t *testing.T) {
		h := newHarness(t)
		h.payer.failFor["alice"] = true
		res, err := h.engine.ExecuteIfReady(ctx)
		require.Nil(t, err)

		alice := recipientFor(t, h.store, res.Distribution.Id, "alice")
		claimed, err := h.store.ClaimRecipientPayout(ctx, alice.Id, "sig-other-process", 1000)
		require.Nil(t, err)
		require.True(t, claimed)

		h.payer.failFor["alice"] = false
		summary, err := h.engine.RetryPendingPayouts(ctx, 0, nil)
		require.Nil(t, err)
		assert.Equal(t, 1, summary.InFlight)
		assert.Equal(t, uint64(0), h.payer.paid["alice"])
	})

	t.Run("Long payout runs keep the lease fresh", func(t *testing.T) {
		h := newHarness(t)
		takenOver := false
		h.payer.onPay = func(wallet string) {
			// each confirmation takes 20 minutes; two of them outlast the stale window
			h.clock.Advance(20 * time.Minute)
			ok, err := h.store.TryAcquireDistributionLock(ctx, "other-instance", h.clock.Now(), 30*time.Minute)
			require.Nil(t, err)
			takenOver = takenOver || ok
		}

		res, err := h.engine.ExecuteIfReady(ctx)
		require.Nil(t, err)
		assert.Equal(t, 2, res.Payouts.Paid)
		assert.False(t, takenOver)
	})

	t.Run("Payouts stop once the lease is taken over", func(t *testing.T) {
		h := newHarness(t)
		h.payer.onPay = func(wallet string) {
			h.clock.Advance(31 * time.Minute)
			_, err := h.store.TryAcquireDistributionLock(ctx, "other-instance", h.clock.Now(), 30*time.Minute)
			require.Nil(t, err)
		}

		res, err := h.engine.ExecuteIfReady(ctx)
		require.Nil(t, err)
		assert.Equal(t, 1, res.Payouts.Attempted)
		assert.Equal(t, 1, res.Payouts.Paid)

		lock, err := h.store.GetDistributionLock(ctx)
		require.Nil(t, err)
		require.NotNil(t, lock.LockedBy)
		assert.Equal(t, "other-instance", *lock.LockedBy)
	})
}

func Test_Preview(t *testing.T) {
	h := newHarness(t)
	plan, err := h.engine.Preview(context.Background())
	require.Nil(t, err)
	require.Len(t, plan.Allocations, 2)
	assert.Equal(t, "bob", plan.Allocations[0].Wallet)
	assert.Equal(t, 4, plan.Allocations[0].Tier)
	assert.True(t, plan.Allocations[0].Multiplier.Equal(hp("2.5")))
	assert.True(t, plan.Evaluation.Ready)
	assert.Empty(t, h.payer.paid)

	_, total, err := h.store.ListDistributions(context.Background(), storage.Page{Limit: 10})
	require.Nil(t, err)
	assert.Equal(t, int64(0), total)
}
