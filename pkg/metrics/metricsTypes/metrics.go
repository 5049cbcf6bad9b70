package metricsTypes

import "time"

type IMetricsClient interface {
	Incr(name string, labels []MetricsLabel, value float64) error
	Gauge(name string, value float64, labels []MetricsLabel) error
	Timing(name string, value time.Duration, labels []MetricsLabel) error
	Flush()
}

type MetricsLabel struct {
	Name  string
	Value string
}

type MetricsType string

var (
	MetricsType_Incr   MetricsType = "incr"
	MetricsType_Gauge  MetricsType = "gauge"
	MetricsType_Timing MetricsType = "timing"
)

type MetricsTypeConfig struct {
	Name   string
	Labels []string
}

var (
	Metric_Incr_SnapshotTrial        = "snapshot.trial"
	Metric_Incr_SnapshotFetchFailed  = "snapshot.fetch.failed"
	Metric_Incr_SellDetected         = "sell.detected"
	Metric_Incr_SellAmbiguous        = "sell.ambiguous"
	Metric_Incr_WebhookReceived      = "webhook.received"
	Metric_Incr_TierChanged          = "tier.changed"
	Metric_Incr_DistributionExecuted = "distribution.executed"
	Metric_Incr_DistributionSkipped  = "distribution.skipped"
	Metric_Incr_Payout               = "distribution.payout"
	Metric_Incr_Buyback              = "buyback.executed"
	Metric_Incr_CreatorReward        = "buyback.creator_reward"
	Metric_Incr_PriceSource          = "price.source"
	Metric_Incr_HttpRequest          = "rpc.http.request"
	Metric_Incr_WorkerRun            = "worker.run"

	Metric_Gauge_PoolAmount    = "pool.amount"
	Metric_Gauge_PoolValueUsd  = "pool.value_usd"
	Metric_Gauge_TotalHolders  = "snapshot.holders"
	Metric_Gauge_WsConnections = "rpc.ws.connections"

	Metric_Timing_SnapshotDuration     = "snapshot.duration"
	Metric_Timing_DistributionDuration = "distribution.duration"
	Metric_Timing_BuybackDuration      = "buyback.duration"
	Metric_Timing_HttpDuration         = "rpc.http.duration"
)

var MetricTypes = map[MetricsType][]MetricsTypeConfig{
	MetricsType_Incr: {
		MetricsTypeConfig{
			Name:   Metric_Incr_SnapshotTrial,
			Labels: []string{"outcome"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_SnapshotFetchFailed,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_SellDetected,
			Labels: []string{"counterparty"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_SellAmbiguous,
			Labels: []string{"counterparty"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_WebhookReceived,
			Labels: []string{"status"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_TierChanged,
			Labels: []string{"reason", "to_tier"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_DistributionExecuted,
			Labels: []string{"trigger"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_DistributionSkipped,
			Labels: []string{"reason"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_Payout,
			Labels: []string{"status"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_Buyback,
			Labels: []string{"status"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_CreatorReward,
			Labels: []string{"source"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_PriceSource,
			Labels: []string{"source"},
		},
		MetricsTypeConfig{
			Name: Metric_Incr_HttpRequest,
			Labels: []string{
				"method",
				"pattern",
				"status_code",
			},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_WorkerRun,
			Labels: []string{"job", "status"},
		},
	},
	MetricsType_Gauge: {
		MetricsTypeConfig{
			Name:   Metric_Gauge_PoolAmount,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_PoolValueUsd,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_TotalHolders,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_WsConnections,
			Labels: []string{},
		},
	},
	MetricsType_Timing: {
		MetricsTypeConfig{
			Name:   Metric_Timing_SnapshotDuration,
			Labels: []string{"hasError"},
		},
		MetricsTypeConfig{
			Name:   Metric_Timing_DistributionDuration,
			Labels: []string{"trigger", "hasError"},
		},
		MetricsTypeConfig{
			Name:   Metric_Timing_BuybackDuration,
			Labels: []string{"hasError"},
		},
		MetricsTypeConfig{
			Name: Metric_Timing_HttpDuration,
			Labels: []string{
				"method",
				"pattern",
				"status_code",
			},
		},
	},
}
