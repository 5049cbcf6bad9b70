package workers

import (
	"context"
	"errors"
	"time"

	"github.com/copperlabs/engine/pkg/buyback"
	"github.com/copperlabs/engine/pkg/distribution"
	"github.com/copperlabs/engine/pkg/distributionQueue"
	"github.com/copperlabs/engine/pkg/storage"
	"go.uber.org/zap"
)

const (
	SnapshotInterval     = time.Hour
	DistributionInterval = 5 * time.Minute
	BuybackInterval      = 10 * time.Minute
	TierAdvanceInterval  = time.Hour
	RetentionInterval    = 24 * time.Hour
	PayoutRetryInterval  = 15 * time.Minute

	DefaultPayoutRetryLimit = 500
)

type SnapshotTaker interface {
	Tick(ctx context.Context) (*storage.Snapshot, error)
	SweepRetention(ctx context.Context) (int64, error)
}

type DistributionRequester interface {
	EnqueueAndWait(ctx context.Context, data distributionQueue.RequestData) (*distributionQueue.ResponseData, error)
}

type BuybackProcessor interface {
	ProcessPendingRewards(ctx context.Context) (*buyback.Result, error)
}

type TierAdvancer interface {
	AdvanceAll(ctx context.Context) (int, error)
}

// EngineJobs builds the standard job set. Any nil dependency leaves its job
// out, which lets read-only deployments run without signing keys.
type EngineJobs struct {
	Snapshots     SnapshotTaker
	Distributions DistributionRequester
	Buybacks      BuybackProcessor
	Tiers         TierAdvancer
	Logger        *zap.Logger
}

func (e *EngineJobs) Build() []*Job {
	jobs := make([]*Job, 0, 6)
	if e.Snapshots != nil {
		jobs = append(jobs,
			&Job{Name: "snapshot", Interval: SnapshotInterval, Run: e.snapshot},
			&Job{Name: "retention", Interval: RetentionInterval, Run: e.retention},
		)
	}
	if e.Distributions != nil {
		jobs = append(jobs,
			&Job{Name: "distribution", Interval: DistributionInterval, Run: e.distribution},
			&Job{Name: "payout-retry", Interval: PayoutRetryInterval, Run: e.payoutRetry},
		)
	}
	if e.Buybacks != nil {
		jobs = append(jobs, &Job{Name: "buyback", Interval: BuybackInterval, Run: e.buyback})
	}
	if e.Tiers != nil {
		jobs = append(jobs, &Job{Name: "tier-advance", Interval: TierAdvanceInterval, RunOnStart: true, Run: e.advance})
	}
	return jobs
}

func (e *EngineJobs) snapshot(ctx context.Context) error {
	snapshot, err := e.Snapshots.Tick(ctx)
	if err != nil {
		return err
	}
	if snapshot != nil {
		e.Logger.Sugar().Infow("Snapshot taken",
			zap.Uint64("snapshotId", snapshot.Id),
			zap.Uint64("holders", snapshot.TotalHolders),
		)
	}
	return nil
}

func (e *EngineJobs) retention(ctx context.Context) error {
	deleted, err := e.Snapshots.SweepRetention(ctx)
	if err != nil {
		return err
	}
	e.Logger.Sugar().Infow("Swept old snapshots", zap.Int64("deleted", deleted))
	return nil
}

// distribution treats an unmet trigger, an empty pool, a pool with no
// eligible recipients and a held lock as a normal outcome of the check.
func (e *EngineJobs) distribution(ctx context.Context) error {
	res, err := e.Distributions.EnqueueAndWait(ctx, distributionQueue.RequestData{
		Type: distributionQueue.RequestType_ExecuteIfReady,
	})
	switch {
	case errors.Is(err, distribution.ErrNotReady),
		errors.Is(err, distribution.ErrEmptyPool),
		errors.Is(err, distribution.ErrNoEligibleRecipients),
		errors.Is(err, distribution.ErrLockHeld):
		return nil
	case err != nil:
		return err
	}
	if res != nil && res.Result != nil {
		d := res.Result.Distribution
		e.Logger.Sugar().Infow("Distribution executed",
			zap.Uint64("distributionId", d.Id),
			zap.String("trigger", d.TriggerType),
			zap.Int("recipients", d.RecipientCount),
		)
	}
	return nil
}

func (e *EngineJobs) payoutRetry(ctx context.Context) error {
	res, err := e.Distributions.EnqueueAndWait(ctx, distributionQueue.RequestData{
		Type:        distributionQueue.RequestType_RetryPayouts,
		PayoutLimit: DefaultPayoutRetryLimit,
	})
	if errors.Is(err, distribution.ErrLockHeld) {
		return nil
	}
	if err != nil {
		return err
	}
	if res != nil && res.Payouts != nil && res.Payouts.Attempted > 0 {
		e.Logger.Sugar().Infow("Retried pending payouts",
			zap.Int("attempted", res.Payouts.Attempted),
			zap.Int("paid", res.Payouts.Paid),
			zap.Int("failed", res.Payouts.Failed),
			zap.Int("inFlight", res.Payouts.InFlight),
		)
	}
	return nil
}

func (e *EngineJobs) buyback(ctx context.Context) error {
	res, err := e.Buybacks.ProcessPendingRewards(ctx)
	if errors.Is(err, buyback.ErrAlreadyRunning) {
		return nil
	}
	if err != nil {
		return err
	}
	if res != nil && res.Buyback != nil {
		e.Logger.Sugar().Infow("Buyback executed",
			zap.String("txSignature", res.Buyback.TxSignature),
			zap.Int("rewardsConsumed", res.RewardsConsumed),
		)
	}
	return nil
}

func (e *EngineJobs) advance(ctx context.Context) error {
	changed, err := e.Tiers.AdvanceAll(ctx)
	if err != nil {
		return err
	}
	if changed > 0 {
		e.Logger.Sugar().Infow("Advanced tiers", zap.Int("changed", changed))
	}
	return nil
}
