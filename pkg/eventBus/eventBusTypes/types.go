// Package eventBusTypes defines the types and interfaces used by the eventBus package.
// It provides the core data structures for implementing a publish-subscribe pattern.
package eventBusTypes

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// EventName is a string type that identifies different types of events.
type EventName string

// String returns the string representation of the EventName.
func (en *EventName) String() string {
	return string(*en)
}

// Event names published by the engine. They double as the message types
// pushed to websocket clients.
var (
	// Event_PoolUpdated is emitted whenever the reward pool balance or its USD
	// valuation changes.
	Event_PoolUpdated EventName = "pool:updated"
	// Event_DistributionExecuted is emitted after a distribution has been
	// committed.
	Event_DistributionExecuted EventName = "distribution:executed"
	// Event_LeaderboardUpdated is emitted when balances or tiers change in a
	// way that can reorder the leaderboard.
	Event_LeaderboardUpdated EventName = "leaderboard:updated"
	// Event_SnapshotTaken is emitted after a snapshot has been committed.
	Event_SnapshotTaken EventName = "snapshot:taken"
	// Event_TierChanged is emitted for every tier promotion or demotion.
	Event_TierChanged EventName = "tier:changed"
	// Event_SellDetected is emitted after a sell has been applied to a streak.
	Event_SellDetected EventName = "sell:detected"
)

// Event represents a message that is published to the event bus.
// It contains a name that identifies the type of event and arbitrary data.
type Event struct {
	// Name identifies the type of event
	Name EventName
	// Data contains the event payload, which can be of any type
	Data any
}

// ConsumerId is a string type that uniquely identifies an event consumer.
type ConsumerId string

// Consumer represents a subscriber to the event bus.
// It has a unique ID, a context for cancellation, and a channel for receiving events.
type Consumer struct {
	// Id uniquely identifies the consumer
	Id ConsumerId
	// Context can be used to signal cancellation
	Context context.Context
	// Channel receives events from the event bus
	Channel chan *Event
}

// ConsumerList is a thread-safe collection of consumers.
type ConsumerList struct {
	mu        sync.Mutex
	consumers []*Consumer
}

// NewConsumerList creates a new empty ConsumerList.
func NewConsumerList() *ConsumerList {
	return &ConsumerList{
		consumers: make([]*Consumer, 0),
	}
}

// Add adds a consumer to the list in a thread-safe manner.
func (cl *ConsumerList) Add(consumer *Consumer) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.consumers = append(cl.consumers, consumer)
}

// Remove removes a consumer from the list, identified by its ID.
func (cl *ConsumerList) Remove(consumer *Consumer) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for i, c := range cl.consumers {
		if c.Id == consumer.Id {
			cl.consumers = append(cl.consumers[:i], cl.consumers[i+1:]...)
			break
		}
	}
}

// GetAll returns a copy of all consumers in the list.
func (cl *ConsumerList) GetAll() []*Consumer {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	out := make([]*Consumer, len(cl.consumers))
	copy(out, cl.consumers)
	return out
}

// Len returns the number of registered consumers.
func (cl *ConsumerList) Len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.consumers)
}

// IEventBus defines the interface for an event bus.
type IEventBus interface {
	// Subscribe registers a consumer to receive events
	Subscribe(consumer *Consumer)
	// Unsubscribe removes a consumer from the event bus
	Unsubscribe(consumer *Consumer)
	// Publish sends an event to all subscribed consumers
	Publish(event *Event)
}

// PoolUpdatedData is the payload of Event_PoolUpdated.
type PoolUpdatedData struct {
	PoolAmount      uint64          `json:"pool_amount"`
	PoolValueUsd    decimal.Decimal `json:"pool_value_usd"`
	ThresholdUsd    decimal.Decimal `json:"threshold_usd"`
	ProgressPercent decimal.Decimal `json:"progress_percent"`
}

// DistributionExecutedData is the payload of Event_DistributionExecuted.
type DistributionExecutedData struct {
	DistributionId uint64          `json:"distribution_id"`
	PoolAmount     uint64          `json:"pool_amount"`
	PoolValueUsd   decimal.Decimal `json:"pool_value_usd"`
	RecipientCount int             `json:"recipient_count"`
	TriggerType    string          `json:"trigger_type"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

// LeaderboardUpdatedData is the payload of Event_LeaderboardUpdated.
type LeaderboardUpdatedData struct {
	Reason    string    `json:"reason"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SnapshotTakenData is the payload of Event_SnapshotTaken.
type SnapshotTakenData struct {
	SnapshotId   uint64    `json:"snapshot_id"`
	Timestamp    time.Time `json:"timestamp"`
	TotalHolders uint64    `json:"total_holders"`
	TotalSupply  uint64    `json:"total_supply"`
}

// TierChangedData is the payload of Event_TierChanged.
type TierChangedData struct {
	Wallet   string    `json:"wallet"`
	FromTier int       `json:"from_tier"`
	ToTier   int       `json:"to_tier"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// SellDetectedData is the payload of Event_SellDetected.
type SellDetectedData struct {
	Wallet      string    `json:"wallet"`
	TxSignature string    `json:"tx_signature"`
	Amount      uint64    `json:"amount"`
	NewTier     int       `json:"new_tier"`
	DetectedAt  time.Time `json:"detected_at"`
}
