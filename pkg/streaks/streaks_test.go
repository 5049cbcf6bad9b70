package streaks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/copperlabs/engine/pkg/eventBus"
	"github.com/copperlabs/engine/pkg/eventBus/eventBusTypes"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/storage/memory"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func setup() (*Engine, *memory.Store, *clockwork.FakeClock, *eventBusTypes.Consumer) {
	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	eb := eventBus.NewEventBus(zap.NewNop())
	consumer := eventBus.NewConsumer(context.Background(), "test", 64)
	eb.Subscribe(consumer)
	return NewEngine(store, clock, eb, metrics.NewNoopMetricsSink(), zap.NewNop()), store, clock, consumer
}

func drain(c *eventBusTypes.Consumer) []*eventBusTypes.Event {
	out := make([]*eventBusTypes.Event, 0)
	for {
		select {
		case ev := <-c.Channel:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func Test_Observe(t *testing.T) {
	ctx := context.Background()
	engine, _, clock, _ := setup()

	s, err := engine.Observe(ctx, "alice")
	assert.Nil(t, err)
	assert.Equal(t, 1, s.CurrentTier)
	assert.True(t, s.StreakStart.Equal(clock.Now()))

	clock.Advance(time.Hour)
	again, err := engine.Observe(ctx, "alice")
	assert.Nil(t, err)
	assert.True(t, again.StreakStart.Equal(s.StreakStart), "existing streaks are not reset")

	created, err := engine.ObserveMany(ctx, []string{"alice", "bob", "carol"})
	assert.Nil(t, err)
	assert.Equal(t, 2, created)
}

func Test_Advance(t *testing.T) {
	ctx := context.Background()
	engine, store, clock, consumer := setup()

	_, _ = engine.Observe(ctx, "alice")

	clock.Advance(71 * time.Hour)
	_, err := engine.AdvanceAll(ctx)
	assert.Nil(t, err)
	s, _ := store.GetHoldStreak(ctx, "alice")
	assert.Equal(t, 3, s.CurrentTier)

	clock.Advance(time.Hour)
	changed, err := engine.AdvanceAll(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 1, changed)
	s, _ = store.GetHoldStreak(ctx, "alice")
	assert.Equal(t, 4, s.CurrentTier, "72h exactly reaches Industrial")

	changed, err = engine.AdvanceAll(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 0, changed, "advancing is idempotent")

	events := drain(consumer)
	assert.Len(t, events, 2)
	last := events[len(events)-1].Data.(*eventBusTypes.TierChangedData)
	assert.Equal(t, 3, last.FromTier)
	assert.Equal(t, 4, last.ToTier)
}

func Test_ProcessSell(t *testing.T) {
	ctx := context.Background()

	t.Run("Drops one tier and rewinds the streak", func(t *testing.T) {
		engine, _, clock, consumer := setup()
		_, _ = engine.Observe(ctx, "alice")
		clock.Advance(100 * time.Hour)
		_, _ = engine.Advance(ctx, "alice")
		drain(consumer)

		out, err := engine.ProcessSell(ctx, &SellDetected{Wallet: "alice", TxSignature: "sig-1", Amount: 500})
		assert.Nil(t, err)
		assert.True(t, out.Applied)
		assert.Equal(t, 4, out.FromTier)
		assert.Equal(t, 3, out.Streak.CurrentTier)
		assert.True(t, out.Streak.StreakStart.Equal(clock.Now().Add(-12*time.Hour)))
		assert.True(t, out.Streak.LastSellAt.Equal(clock.Now()))

		events := drain(consumer)
		assert.Len(t, events, 2)
		assert.Equal(t, eventBusTypes.Event_SellDetected, events[0].Name)
		assert.Equal(t, eventBusTypes.Event_TierChanged, events[1].Name)
	})

	t.Run("Is idempotent per transaction", func(t *testing.T) {
		engine, _, clock, _ := setup()
		_, _ = engine.Observe(ctx, "alice")
		clock.Advance(200 * time.Hour)
		_, _ = engine.Advance(ctx, "alice")

		first, err := engine.ProcessSell(ctx, &SellDetected{Wallet: "alice", TxSignature: "sig-1", Amount: 1})
		assert.Nil(t, err)
		assert.Equal(t, 4, first.Streak.CurrentTier)

		second, err := engine.ProcessSell(ctx, &SellDetected{Wallet: "alice", TxSignature: "sig-1", Amount: 1})
		assert.Nil(t, err)
		assert.False(t, second.Applied)
		assert.Equal(t, 4, second.Streak.CurrentTier)
	})

	t.Run("Tier 1 stays at tier 1", func(t *testing.T) {
		engine, _, clock, _ := setup()
		_, _ = engine.Observe(ctx, "new")
		clock.Advance(2 * time.Hour)

		out, err := engine.ProcessSell(ctx, &SellDetected{Wallet: "new", TxSignature: "sig-2", Amount: 1})
		assert.Nil(t, err)
		assert.True(t, out.Applied)
		assert.Equal(t, 1, out.Streak.CurrentTier)
		assert.True(t, out.Streak.StreakStart.Equal(clock.Now()))
	})

	t.Run("Wallets without a streak are ignored", func(t *testing.T) {
		engine, store, _, consumer := setup()

		out, err := engine.ProcessSell(ctx, &SellDetected{Wallet: "pool", TxSignature: "sig-3", Amount: 1})
		assert.Nil(t, err)
		assert.False(t, out.Applied)
		assert.True(t, out.Untracked)
		assert.Nil(t, out.Streak)

		s, _ := store.GetHoldStreak(ctx, "pool")
		assert.Nil(t, s)
		assert.Len(t, drain(consumer), 0)

		again, err := engine.ProcessSell(ctx, &SellDetected{Wallet: "pool", TxSignature: "sig-3", Amount: 1})
		assert.Nil(t, err)
		assert.False(t, again.Applied)
		assert.True(t, again.Untracked)
	})

	t.Run("Concurrent sells on one wallet each drop a tier", func(t *testing.T) {
		engine, store, clock, _ := setup()
		_, _ = engine.Observe(ctx, "alice")
		clock.Advance(800 * time.Hour)
		_, _ = engine.Advance(ctx, "alice")

		var wg sync.WaitGroup
		for _, sig := range []string{"a", "b", "c"} {
			wg.Add(1)
			go func(sig string) {
				defer wg.Done()
				_, _ = engine.ProcessSell(ctx, &SellDetected{Wallet: "alice", TxSignature: sig, Amount: 1})
			}(sig)
		}
		wg.Wait()

		s, _ := store.GetHoldStreak(ctx, "alice")
		assert.Equal(t, 3, s.CurrentTier)
		assert.Equal(t, 0, engine.locks.size())
	})
}

func Test_Describe(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	info := Describe("nobody", nil, now)
	assert.Equal(t, 1, info.Tier.Tier)
	assert.Equal(t, 2, info.NextTier.Tier)
	assert.Equal(t, float64(6), *info.HoursToNext)

	diamond := Describe("whale", &storage.HoldStreak{Wallet: "whale", StreakStart: now.Add(-1000 * time.Hour), CurrentTier: 6}, now)
	assert.Equal(t, "Diamond Hands", diamond.Tier.Name)
	assert.Nil(t, diamond.NextTier)
	assert.Nil(t, diamond.HoursToNext)
	assert.Equal(t, float64(1000), diamond.StreakHours)
}
