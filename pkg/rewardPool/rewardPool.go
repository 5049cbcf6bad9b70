// Package rewardPool tracks the undistributed COPPER bought back into the
// reward pool and decides when a distribution is due.
package rewardPool

import (
	"context"
	"fmt"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/eventBus/eventBusTypes"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/metrics/metricsTypes"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

type TriggerConfig struct {
	ThresholdUsd decimal.Decimal
	MaxInterval  time.Duration
}

func TriggerConfigFromConfig(cfg *config.Config) *TriggerConfig {
	return &TriggerConfig{
		ThresholdUsd: cfg.DistributionConfig.ThresholdUsd,
		MaxInterval:  cfg.DistributionConfig.MaxInterval,
	}
}

// Input is everything Evaluate looks at.
type Input struct {
	PoolValueUsd decimal.Decimal
	// LastDistributionAt is nil before the first distribution, in which
	// case elapsed time is measured from FirstBuybackAt.
	LastDistributionAt *time.Time
	FirstBuybackAt     *time.Time
	Now                time.Time
}

type Evaluation struct {
	ThresholdMet bool
	TimeMet      bool
	Ready        bool
	// TriggerType is set when Ready. Threshold wins when both are met.
	TriggerType string
	// HoursSince is nil when there is no reference point yet.
	HoursSince *float64
}

// Evaluate applies the distribution trigger rules. It is pure.
func Evaluate(in Input, cfg *TriggerConfig) *Evaluation {
	ev := &Evaluation{}
	ev.ThresholdMet = in.PoolValueUsd.GreaterThanOrEqual(cfg.ThresholdUsd)

	ref := in.LastDistributionAt
	if ref == nil {
		ref = in.FirstBuybackAt
	}
	if ref != nil {
		elapsed := in.Now.Sub(*ref)
		hours := elapsed.Hours()
		ev.HoursSince = &hours
		ev.TimeMet = elapsed >= cfg.MaxInterval
	}

	ev.Ready = ev.ThresholdMet || ev.TimeMet
	switch {
	case ev.ThresholdMet:
		ev.TriggerType = storage.TriggerType_Threshold
	case ev.TimeMet:
		ev.TriggerType = storage.TriggerType_Time
	}
	return ev
}

// PriceSource quotes one whole COPPER in USD.
type PriceSource interface {
	PriceUsd(ctx context.Context) (decimal.Decimal, error)
}

type Status struct {
	PoolAmount         uint64
	PoolValueUsd       decimal.Decimal
	PriceUsd           decimal.Decimal
	ThresholdUsd       decimal.Decimal
	ProgressPercent    decimal.Decimal
	LastDistributionAt *time.Time
	NextTimeTriggerAt  *time.Time
	Evaluation         *Evaluation
}

type Tracker struct {
	store       storage.RewardStore
	price       PriceSource
	config      *TriggerConfig
	clock       clockwork.Clock
	eventBus    eventBusTypes.IEventBus
	metricsSink *metrics.MetricsSink
	logger      *zap.Logger
}

func NewTracker(
	store storage.RewardStore,
	price PriceSource,
	cfg *TriggerConfig,
	clock clockwork.Clock,
	eb eventBusTypes.IEventBus,
	ms *metrics.MetricsSink,
	l *zap.Logger,
) *Tracker {
	return &Tracker{
		store:       store,
		price:       price,
		config:      cfg,
		clock:       clock,
		eventBus:    eb,
		metricsSink: ms,
		logger:      l,
	}
}

func (t *Tracker) Config() *TriggerConfig {
	return t.config
}

// ValueUsd converts a raw COPPER amount to USD.
func ValueUsd(amount uint64, priceUsd decimal.Decimal) decimal.Decimal {
	return utils.ToUiAmount(amount, config.CopperDecimals).Mul(priceUsd)
}

// Status reads the pool ledger and the current price and evaluates the
// trigger. A price failure is returned as is, never as "not ready".
func (t *Tracker) Status(ctx context.Context) (*Status, error) {
	ledger, err := t.store.GetPoolLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool ledger: %w", err)
	}
	price, err := t.price.PriceUsd(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to price pool: %w", err)
	}

	now := t.clock.Now()
	amount := ledger.Balance()
	value := ValueUsd(amount, price)
	st := &Status{
		PoolAmount:         amount,
		PoolValueUsd:       value,
		PriceUsd:           price,
		ThresholdUsd:       t.config.ThresholdUsd,
		ProgressPercent:    progress(value, t.config.ThresholdUsd),
		LastDistributionAt: ledger.LastDistributionAt,
		Evaluation: Evaluate(Input{
			PoolValueUsd:       value,
			LastDistributionAt: ledger.LastDistributionAt,
			FirstBuybackAt:     ledger.FirstBuybackAt,
			Now:                now,
		}, t.config),
	}
	ref := ledger.LastDistributionAt
	if ref == nil {
		ref = ledger.FirstBuybackAt
	}
	if ref != nil {
		next := ref.Add(t.config.MaxInterval)
		st.NextTimeTriggerAt = &next
	}

	_ = t.metricsSink.Gauge(metricsTypes.Metric_Gauge_PoolAmount, float64(amount), nil)
	_ = t.metricsSink.Gauge(metricsTypes.Metric_Gauge_PoolValueUsd, value.InexactFloat64(), nil)
	return st, nil
}

func progress(value, threshold decimal.Decimal) decimal.Decimal {
	if !threshold.IsPositive() {
		return hundred
	}
	p := value.Div(threshold).Mul(hundred)
	if p.GreaterThan(hundred) {
		p = hundred
	}
	return p.Round(2)
}

// Publish computes the status and announces it on the event bus.
func (t *Tracker) Publish(ctx context.Context) (*Status, error) {
	st, err := t.Status(ctx)
	if err != nil {
		return nil, err
	}
	t.eventBus.Publish(&eventBusTypes.Event{
		Name: eventBusTypes.Event_PoolUpdated,
		Data: &eventBusTypes.PoolUpdatedData{
			PoolAmount:      st.PoolAmount,
			PoolValueUsd:    st.PoolValueUsd,
			ThresholdUsd:    st.ThresholdUsd,
			ProgressPercent: st.ProgressPercent,
		},
	})
	return st, nil
}
