// Package eventBus fans engine events out to in-process subscribers such as
// the websocket hub. Delivery is best effort: a subscriber that is not
// keeping up misses events rather than stalling the publisher.
package eventBus

import (
	"context"

	"github.com/copperlabs/engine/pkg/eventBus/eventBusTypes"
	"go.uber.org/zap"
)

type EventBus struct {
	consumers *eventBusTypes.ConsumerList
	logger    *zap.Logger
}

func NewEventBus(l *zap.Logger) *EventBus {
	return &EventBus{
		consumers: eventBusTypes.NewConsumerList(),
		logger:    l,
	}
}

// NewConsumer builds a consumer with a buffered channel bound to ctx.
func NewConsumer(ctx context.Context, id string, buffer int) *eventBusTypes.Consumer {
	return &eventBusTypes.Consumer{
		Id:      eventBusTypes.ConsumerId(id),
		Context: ctx,
		Channel: make(chan *eventBusTypes.Event, buffer),
	}
}

func (eb *EventBus) Subscribe(consumer *eventBusTypes.Consumer) {
	eb.consumers.Add(consumer)
	eb.logger.Sugar().Debugw("Subscribed consumer", zap.String("consumerId", string(consumer.Id)))
}

func (eb *EventBus) Unsubscribe(consumer *eventBusTypes.Consumer) {
	eb.consumers.Remove(consumer)
	eb.logger.Sugar().Debugw("Unsubscribed consumer", zap.String("consumerId", string(consumer.Id)))
}

// Publish offers the event to every consumer without blocking. Consumers
// whose context is done are dropped from the list.
func (eb *EventBus) Publish(event *eventBusTypes.Event) {
	eb.logger.Sugar().Debugw("Publishing event", zap.String("eventName", event.Name.String()))
	for _, consumer := range eb.consumers.GetAll() {
		if consumer.Context != nil && consumer.Context.Err() != nil {
			eb.Unsubscribe(consumer)
			continue
		}
		if consumer.Channel == nil {
			continue
		}
		select {
		case consumer.Channel <- event:
		default:
			eb.logger.Sugar().Debugw("Consumer channel is full, dropping event",
				zap.String("consumerId", string(consumer.Id)),
				zap.String("eventName", event.Name.String()),
			)
		}
	}
}

// Emit is shorthand for publishing a named payload.
func (eb *EventBus) Emit(name eventBusTypes.EventName, data any) {
	eb.Publish(&eventBusTypes.Event{Name: name, Data: data})
}

func (eb *EventBus) ConsumerCount() int {
	return eb.consumers.Len()
}
