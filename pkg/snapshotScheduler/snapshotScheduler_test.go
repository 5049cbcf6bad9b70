package snapshotScheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/eventBus"
	"github.com/copperlabs/engine/pkg/eventBus/eventBusTypes"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/retry"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/storage/memory"
	"github.com/copperlabs/engine/pkg/streaks"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeHolders struct {
	wallets []string
	err     error
}

func (f *fakeHolders) Holders(ctx context.Context) ([]string, error) {
	return f.wallets, f.err
}

type fakeBalances struct {
	mu       sync.Mutex
	balances map[string]uint64
	failOn   string
	calls    int
}

func (f *fakeBalances) GetBalances(ctx context.Context, wallets []string, at time.Time) (map[string]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make(map[string]uint64, len(wallets))
	for _, w := range wallets {
		if w == f.failOn {
			return nil, errors.New("rpc unavailable")
		}
		out[w] = f.balances[w]
	}
	return out, nil
}

type fixedSupply uint64

func (f fixedSupply) GetTokenSupply(ctx context.Context) (uint64, error) { return uint64(f), nil }

type harness struct {
	store     *memory.Store
	balances  *fakeBalances
	holders   *fakeHolders
	scheduler *Scheduler
	consumer  *eventBusTypes.Consumer
	clock     *clockwork.FakeClock
}

func newHarness(t *testing.T, probability float64) *harness {
	ctx := context.Background()
	l := zap.NewNop()
	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(t0)
	eb := eventBus.NewEventBus(l)
	consumer := eventBus.NewConsumer(ctx, "test", 32)
	eb.Subscribe(consumer)
	ms := metrics.NewNoopMetricsSink()

	h := &harness{
		store:   store,
		clock:   clock,
		holders: &fakeHolders{wallets: []string{"alice", "bob", "treasury"}},
		balances: &fakeBalances{balances: map[string]uint64{
			"alice":    1_000,
			"bob":      2_000,
			"treasury": 9_000_000,
			"carol":    0,
		}},
		consumer: consumer,
	}
	engine := streaks.NewEngine(store, clock, eb, ms, l)
	h.scheduler = NewScheduler(store, h.holders, h.balances, engine,
		&config.SnapshotConfig{Probability: probability, BatchSize: 1, Concurrency: 2, RetentionDays: 30},
		clock, eb, ms, l,
		WithRand(rand.New(rand.NewSource(7))),
		WithRetry(retry.Config{MaxAttempts: 1}),
		WithSupplySource(fixedSupply(1_000_000_000)),
	)

	require.Nil(t, store.AddExcludedWallet(ctx, &storage.ExcludedWallet{Wallet: "treasury", Reason: "team", AddedAt: t0}))
	return h
}

func Test_ShouldTakeSnapshot(t *testing.T) {
	t.Run("Frequency follows the probability", func(t *testing.T) {
		h := newHarness(t, 0.2)
		taken := 0
		const trials = 20_000
		for i := 0; i < trials; i++ {
			if h.scheduler.ShouldTakeSnapshot() {
				taken++
			}
		}
		ratio := float64(taken) / trials
		assert.InDelta(t, 0.2, ratio, 0.02)
	})
	t.Run("Zero never fires", func(t *testing.T) {
		h := newHarness(t, 0)
		for i := 0; i < 1000; i++ {
			assert.False(t, h.scheduler.ShouldTakeSnapshot())
		}
	})
}

func Test_TakeSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("Captures tracked wallets and skips excluded ones", func(t *testing.T) {
		h := newHarness(t, 1)
		// carol has a streak but no longer appears as a holder
		_, err := h.store.MutateHoldStreak(ctx, "carol", func(*storage.HoldStreak) (*storage.HoldStreak, error) {
			return &storage.HoldStreak{Wallet: "carol", StreakStart: t0.Add(-time.Hour), CurrentTier: 1, UpdatedAt: t0}, nil
		})
		require.Nil(t, err)

		wallets, err := h.scheduler.TrackedWallets(ctx)
		require.Nil(t, err)
		assert.Equal(t, []string{"alice", "bob", "carol"}, wallets)

		snap, err := h.scheduler.Tick(ctx)
		require.Nil(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, uint64(2), snap.TotalHolders)
		assert.Equal(t, uint64(1_000_000_000), snap.TotalSupply)
		assert.Equal(t, 3, h.balances.calls)

		rows, err := h.store.ListBalancesForSnapshots(ctx, []uint64{snap.Id}, nil)
		require.Nil(t, err)
		got := map[string]uint64{}
		for _, r := range rows {
			got[r.Wallet] = r.Balance
		}
		assert.Equal(t, map[string]uint64{"alice": 1_000, "bob": 2_000}, got)

		st, err := h.store.GetHoldStreak(ctx, "alice")
		require.Nil(t, err)
		require.NotNil(t, st)
		assert.Equal(t, 1, st.CurrentTier)

		stats, err := h.store.GetSystemStats(ctx)
		require.Nil(t, err)
		assert.Equal(t, uint64(2), stats.TotalHolders)

		names := []eventBusTypes.EventName{}
		for len(h.consumer.Channel) > 0 {
			names = append(names, (<-h.consumer.Channel).Name)
		}
		assert.Contains(t, names, eventBusTypes.Event_SnapshotTaken)
		assert.Contains(t, names, eventBusTypes.Event_LeaderboardUpdated)
	})

	t.Run("A failed batch persists nothing", func(t *testing.T) {
		h := newHarness(t, 1)
		h.balances.failOn = "bob"

		snap, err := h.scheduler.TakeSnapshot(ctx)
		assert.Nil(t, snap)
		assert.NotNil(t, err)

		latest, err := h.store.GetLatestSnapshot(ctx)
		assert.Nil(t, latest)
		assert.True(t, err == nil || errors.Is(err, storage.ErrNotFound))

		st, err := h.store.GetHoldStreak(ctx, "alice")
		require.Nil(t, err)
		assert.Nil(t, st)
	})

	t.Run("Holder discovery failure is an error", func(t *testing.T) {
		h := newHarness(t, 1)
		h.holders.err = errors.New("das down")
		_, err := h.scheduler.Tick(ctx)
		assert.NotNil(t, err)
	})

	t.Run("Skipped trial does nothing", func(t *testing.T) {
		h := newHarness(t, 0)
		snap, err := h.scheduler.Tick(ctx)
		assert.Nil(t, err)
		assert.Nil(t, snap)
		assert.Equal(t, 0, h.balances.calls)
	})
}

func Test_SweepRetention(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1)

	_, err := h.store.InsertSnapshot(ctx, &storage.Snapshot{Timestamp: t0.Add(-31 * 24 * time.Hour)}, nil)
	require.Nil(t, err)
	recent, err := h.store.InsertSnapshot(ctx, &storage.Snapshot{Timestamp: t0.Add(-time.Hour)}, nil)
	require.Nil(t, err)

	deleted, err := h.scheduler.SweepRetention(ctx)
	require.Nil(t, err)
	assert.Equal(t, int64(1), deleted)

	latest, err := h.store.GetLatestSnapshot(ctx)
	require.Nil(t, err)
	assert.Equal(t, recent.Id, latest.Id)
}
