package eventBus

import (
	"context"
	"testing"

	"github.com/copperlabs/engine/pkg/eventBus/eventBusTypes"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func Test_EventBus(t *testing.T) {
	t.Run("Delivers to every subscriber", func(t *testing.T) {
		eb := NewEventBus(zap.NewNop())
		a := NewConsumer(context.Background(), "a", 1)
		b := NewConsumer(context.Background(), "b", 1)
		eb.Subscribe(a)
		eb.Subscribe(b)

		eb.Emit(eventBusTypes.Event_SnapshotTaken, &eventBusTypes.SnapshotTakenData{SnapshotId: 7})

		for _, c := range []*eventBusTypes.Consumer{a, b} {
			ev := <-c.Channel
			assert.Equal(t, eventBusTypes.Event_SnapshotTaken, ev.Name)
			assert.Equal(t, uint64(7), ev.Data.(*eventBusTypes.SnapshotTakenData).SnapshotId)
		}
	})
	t.Run("Full consumers do not block publishing", func(t *testing.T) {
		eb := NewEventBus(zap.NewNop())
		c := NewConsumer(context.Background(), "slow", 1)
		eb.Subscribe(c)

		eb.Emit(eventBusTypes.Event_PoolUpdated, nil)
		eb.Emit(eventBusTypes.Event_PoolUpdated, nil)

		assert.Len(t, c.Channel, 1)
	})
	t.Run("Cancelled consumers are removed", func(t *testing.T) {
		eb := NewEventBus(zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		eb.Subscribe(NewConsumer(ctx, "gone", 1))
		eb.Subscribe(NewConsumer(context.Background(), "live", 1))
		cancel()

		eb.Emit(eventBusTypes.Event_TierChanged, nil)

		assert.Equal(t, 1, eb.ConsumerCount())
	})
}
