// Package distribution pays the reward pool out to eligible holders in
// proportion to their hash power: time-weighted balance times tier
// multiplier.
//
// A distribution runs under a single database lease so only one cycle is in
// flight across every process. The lease is renewed before every payout. The
// allocation is committed before any token moves; payouts then proceed per
// recipient and unpaid recipients are retried later from the persisted rows
// without recomputing anything.
//
// Every transfer is claimed on its recipient row with its signature before it
// is submitted. A claimed recipient is only paid again once the chain shows
// the earlier transfer failed or can no longer land.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/clients/solanaRpc"
	"github.com/copperlabs/engine/pkg/eventBus/eventBusTypes"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/metrics/metricsTypes"
	"github.com/copperlabs/engine/pkg/retry"
	"github.com/copperlabs/engine/pkg/rewardPool"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/tiers"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrLockHeld             = errors.New("distribution already in progress")
	ErrLockLost             = errors.New("distribution lock taken over")
	ErrNotReady             = errors.New("distribution trigger not met")
	ErrEmptyPool            = errors.New("reward pool is empty")
	ErrNoEligibleRecipients = errors.New("no eligible recipients")
	ErrPayoutClaimed        = errors.New("recipient payout already claimed")
)

const defaultPayoutBatch = 500

// TwabSource computes time-weighted average balances for wallets at now.
type TwabSource interface {
	All(ctx context.Context, wallets []string, now time.Time) (map[string]decimal.Decimal, error)
}

type PoolTracker interface {
	Status(ctx context.Context) (*rewardPool.Status, error)
	Publish(ctx context.Context) (*rewardPool.Status, error)
}

// Payer moves tokens to a recipient and returns the confirmed signature.
// onSigned is called with the transfer's signature before it is submitted;
// an error from it aborts the transfer.
type Payer interface {
	Pay(ctx context.Context, wallet string, amount uint64, onSigned solanaRpc.SignedFunc) (string, error)
	TransferState(ctx context.Context, signature string, lastValidBlockHeight uint64) (solanaRpc.TransferState, error)
}

type EngineConfig struct {
	MinBalanceUsd  decimal.Decimal
	LockStaleAfter time.Duration
	PayoutAttempts int
	PayoutRetry    retry.Config
}

func EngineConfigFromConfig(cfg *config.Config) *EngineConfig {
	return &EngineConfig{
		MinBalanceUsd:  cfg.DistributionConfig.MinBalanceUsd,
		LockStaleAfter: cfg.DistributionConfig.LockStaleAfter,
		PayoutAttempts: cfg.DistributionConfig.PayoutAttempts,
		PayoutRetry:    retry.DefaultConfig(),
	}
}

// Plan is a computed, not yet persisted, distribution.
type Plan struct {
	At             time.Time
	SnapshotId     uint64
	PoolAmount     uint64
	PoolValueUsd   decimal.Decimal
	PriceUsd       decimal.Decimal
	TotalHashPower decimal.Decimal
	Allocations    []*Allocation
	Evaluation     *rewardPool.Evaluation
}

type PayoutSummary struct {
	Attempted int
	Paid      int
	Failed    int
	// InFlight counts recipients whose earlier transfer is still unresolved
	// on chain.
	InFlight int
}

func (s *PayoutSummary) add(o payOutcome) {
	switch o {
	case payPaid:
		s.Paid++
	case payInFlight:
		s.InFlight++
	default:
		s.Failed++
	}
}

type payOutcome int

const (
	payFailed payOutcome = iota
	payPaid
	payInFlight
)

type Result struct {
	Distribution *storage.Distribution
	Recipients   []*storage.DistributionRecipient
	Payouts      *PayoutSummary
}

type Engine struct {
	store       storage.Store
	twab        TwabSource
	pool        PoolTracker
	payer       Payer
	config      *EngineConfig
	clock       clockwork.Clock
	eventBus    eventBusTypes.IEventBus
	metricsSink *metrics.MetricsSink
	logger      *zap.Logger
}

// NewEngine builds a distribution engine. payer may be nil, in which case
// recipients are persisted unpaid and left for RetryPendingPayouts.
func NewEngine(
	store storage.Store,
	twab TwabSource,
	pool PoolTracker,
	payer Payer,
	cfg *EngineConfig,
	clock clockwork.Clock,
	eb eventBusTypes.IEventBus,
	ms *metrics.MetricsSink,
	l *zap.Logger,
) *Engine {
	return &Engine{
		store:       store,
		twab:        twab,
		pool:        pool,
		payer:       payer,
		config:      cfg,
		clock:       clock,
		eventBus:    eb,
		metricsSink: ms,
		logger:      l,
	}
}

func (e *Engine) skipped(reason string) {
	_ = e.metricsSink.Incr(metricsTypes.Metric_Incr_DistributionSkipped, []metricsTypes.MetricsLabel{
		{Name: "reason", Value: reason},
	}, 1)
}

// withLock runs fn while holding the distribution lease. fn calls renew to
// keep the lease fresh; renew returns ErrLockLost once another holder has
// taken it over. The lease is released even when fn fails or ctx is
// cancelled.
func (e *Engine) withLock(ctx context.Context, fn func(renew func() error) error) error {
	holder := uuid.New().String()
	acquired, err := e.store.TryAcquireDistributionLock(ctx, holder, e.clock.Now(), e.config.LockStaleAfter)
	if err != nil {
		return fmt.Errorf("failed to acquire distribution lock: %w", err)
	}
	if !acquired {
		e.logger.Sugar().Debugw("Distribution lock held elsewhere")
		return ErrLockHeld
	}
	defer func() {
		if err := e.store.ReleaseDistributionLock(context.WithoutCancel(ctx), holder); err != nil {
			e.logger.Sugar().Errorw("Failed to release distribution lock",
				zap.String("holder", holder),
				zap.Error(err),
			)
		}
	}()
	renew := func() error {
		ok, err := e.store.RenewDistributionLock(ctx, holder, e.clock.Now())
		if err != nil {
			return fmt.Errorf("failed to renew distribution lock: %w", err)
		}
		if !ok {
			return ErrLockLost
		}
		return nil
	}
	return fn(renew)
}

// MeetsMinBalance reports whether balance is worth at least minUsd at
// priceUsd. A zero or negative minimum admits every balance.
func MeetsMinBalance(balance uint64, priceUsd, minUsd decimal.Decimal) bool {
	if !minUsd.IsPositive() {
		return true
	}
	return !rewardPool.ValueUsd(balance, priceUsd).LessThan(minUsd)
}

// eligible returns the latest snapshot's positive balances minus excluded
// wallets and wallets worth less than the configured minimum.
func (e *Engine) eligible(ctx context.Context, priceUsd decimal.Decimal) (uint64, map[string]uint64, error) {
	snapshot, err := e.store.GetLatestSnapshot(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	if snapshot == nil {
		return 0, nil, nil
	}
	balances, err := e.store.ListBalancesForSnapshots(ctx, []uint64{snapshot.Id}, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load snapshot balances: %w", err)
	}
	excluded, err := e.store.ListExcludedWallets(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load excluded wallets: %w", err)
	}
	skip := make(map[string]struct{}, len(excluded))
	for _, x := range excluded {
		skip[x.Wallet] = struct{}{}
	}

	out := make(map[string]uint64, len(balances))
	for _, b := range balances {
		if b.Balance == 0 {
			continue
		}
		if _, ok := skip[b.Wallet]; ok {
			continue
		}
		if !MeetsMinBalance(b.Balance, priceUsd, e.config.MinBalanceUsd) {
			continue
		}
		out[b.Wallet] = b.Balance
	}
	return snapshot.Id, out, nil
}

// plan computes hash power for every eligible wallet and allocates the pool.
func (e *Engine) plan(ctx context.Context, status *rewardPool.Status, now time.Time) (*Plan, error) {
	snapshotId, balances, err := e.eligible(ctx, status.PriceUsd)
	if err != nil {
		return nil, err
	}
	p := &Plan{
		At:           now,
		SnapshotId:   snapshotId,
		PoolAmount:   status.PoolAmount,
		PoolValueUsd: status.PoolValueUsd,
		PriceUsd:     status.PriceUsd,
		Evaluation:   status.Evaluation,
		Allocations:  make([]*Allocation, 0, len(balances)),
	}
	if len(balances) == 0 {
		return p, nil
	}

	wallets := make([]string, 0, len(balances))
	for w := range balances {
		wallets = append(wallets, w)
	}
	wallets = utils.SortedUnique(wallets)

	twabs, err := e.twab.All(ctx, wallets, now)
	if err != nil {
		return nil, fmt.Errorf("failed to compute twab: %w", err)
	}
	streaks, err := e.store.ListHoldStreaks(ctx, wallets)
	if err != nil {
		return nil, fmt.Errorf("failed to load hold streaks: %w", err)
	}
	tierOf := make(map[string]int, len(streaks))
	for _, s := range streaks {
		tierOf[s.Wallet] = s.CurrentTier
	}

	for _, w := range wallets {
		twab := twabs[w]
		if !twab.IsPositive() {
			continue
		}
		tier, ok := tierOf[w]
		if !ok {
			tier = tiers.MinTier
		}
		mult := tiers.Multiplier(tier)
		p.Allocations = append(p.Allocations, &Allocation{
			Wallet:     w,
			Balance:    balances[w],
			Twab:       twab,
			Tier:       tier,
			Multiplier: mult,
			HashPower:  twab.Mul(mult),
		})
	}
	p.TotalHashPower = TotalHashPower(p.Allocations)
	if p.TotalHashPower.IsPositive() {
		Allocate(p.PoolAmount, p.Allocations)
	}
	return p, nil
}

// Preview computes what a distribution would pay right now without
// persisting or paying anything.
func (e *Engine) Preview(ctx context.Context) (*Plan, error) {
	status, err := e.pool.Status(ctx)
	if err != nil {
		return nil, err
	}
	return e.plan(ctx, status, e.clock.Now())
}

// ExecuteIfReady runs a distribution when the pool trigger is met.
func (e *Engine) ExecuteIfReady(ctx context.Context) (*Result, error) {
	return e.execute(ctx, false)
}

// ForceExecute runs a distribution regardless of the trigger. It is recorded
// as time triggered unless the threshold is met.
func (e *Engine) ForceExecute(ctx context.Context) (*Result, error) {
	return e.execute(ctx, true)
}

func (e *Engine) execute(ctx context.Context, force bool) (*Result, error) {
	var res *Result
	start := e.clock.Now()
	err := e.withLock(ctx, func(renew func() error) error {
		var err error
		res, err = e.run(ctx, force, renew)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrLockHeld):
			e.skipped("lock_held")
		case errors.Is(err, ErrNotReady):
			e.skipped("not_ready")
		case errors.Is(err, ErrEmptyPool):
			e.skipped("empty_pool")
		case errors.Is(err, ErrNoEligibleRecipients):
			e.skipped("no_recipients")
		default:
			_ = e.metricsSink.Timing(metricsTypes.Metric_Timing_DistributionDuration, e.clock.Since(start), []metricsTypes.MetricsLabel{
				{Name: "hasError", Value: "true"},
			})
		}
		return nil, err
	}
	_ = e.metricsSink.Timing(metricsTypes.Metric_Timing_DistributionDuration, e.clock.Since(start), []metricsTypes.MetricsLabel{
		{Name: "hasError", Value: "false"},
	})
	return res, nil
}

func (e *Engine) run(ctx context.Context, force bool, renew func() error) (*Result, error) {
	status, err := e.pool.Status(ctx)
	if err != nil {
		return nil, err
	}
	ev := status.Evaluation
	if !ev.Ready && !force {
		return nil, ErrNotReady
	}
	if status.PoolAmount == 0 {
		return nil, ErrEmptyPool
	}
	trigger := ev.TriggerType
	if trigger == "" {
		trigger = storage.TriggerType_Time
	}

	now := e.clock.Now()
	plan, err := e.plan(ctx, status, now)
	if err != nil {
		return nil, err
	}
	if len(plan.Allocations) == 0 || !plan.TotalHashPower.IsPositive() {
		e.logger.Sugar().Warnw("No eligible recipients, pool carries over",
			zap.Uint64("poolAmount", plan.PoolAmount),
		)
		return nil, ErrNoEligibleRecipients
	}

	recipients := make([]*storage.DistributionRecipient, 0, len(plan.Allocations))
	for _, a := range plan.Allocations {
		recipients = append(recipients, &storage.DistributionRecipient{
			Wallet:         a.Wallet,
			Twab:           a.Twab,
			Multiplier:     a.Multiplier,
			HashPower:      a.HashPower,
			AmountReceived: a.Amount,
		})
	}
	dist, err := e.store.InsertDistribution(ctx, &storage.Distribution{
		PoolAmount:     plan.PoolAmount,
		PoolValueUsd:   plan.PoolValueUsd,
		TotalHashpower: plan.TotalHashPower,
		RecipientCount: len(recipients),
		TriggerType:    trigger,
		ExecutedAt:     now,
	}, recipients)
	if err != nil {
		return nil, fmt.Errorf("failed to persist distribution: %w", err)
	}

	e.logger.Sugar().Infow("Distribution committed",
		zap.Uint64("distributionId", dist.Id),
		zap.Uint64("poolAmount", dist.PoolAmount),
		zap.String("poolValueUsd", dist.PoolValueUsd.String()),
		zap.Int("recipients", dist.RecipientCount),
		zap.String("trigger", dist.TriggerType),
	)
	_ = e.metricsSink.Incr(metricsTypes.Metric_Incr_DistributionExecuted, []metricsTypes.MetricsLabel{
		{Name: "trigger", Value: trigger},
	}, 1)
	e.afterCommit(ctx, dist)

	summary, err := e.payAll(ctx, recipients, renew)
	if err != nil {
		// committed; what is left unpaid goes through RetryPendingPayouts
		e.logger.Sugar().Errorw("Payouts stopped",
			zap.Uint64("distributionId", dist.Id),
			zap.Int("attempted", summary.Attempted),
			zap.Error(err),
		)
	}
	return &Result{Distribution: dist, Recipients: recipients, Payouts: summary}, nil
}

func (e *Engine) afterCommit(ctx context.Context, dist *storage.Distribution) {
	if _, err := e.store.RefreshSystemStats(ctx, e.clock.Now()); err != nil {
		e.logger.Sugar().Warnw("Failed to refresh system stats", zap.Error(err))
	}
	e.eventBus.Publish(&eventBusTypes.Event{
		Name: eventBusTypes.Event_DistributionExecuted,
		Data: &eventBusTypes.DistributionExecutedData{
			DistributionId: dist.Id,
			PoolAmount:     dist.PoolAmount,
			PoolValueUsd:   dist.PoolValueUsd,
			RecipientCount: dist.RecipientCount,
			TriggerType:    dist.TriggerType,
			ExecutedAt:     dist.ExecutedAt,
		},
	})
	if _, err := e.pool.Publish(ctx); err != nil {
		e.logger.Sugar().Warnw("Failed to publish pool update", zap.Error(err))
	}
}

// payAll attempts every unpaid recipient once, with retries on transient
// errors. Failures are recorded and left for RetryPendingPayouts. It stops
// when the lease cannot be renewed.
func (e *Engine) payAll(ctx context.Context, recipients []*storage.DistributionRecipient, renew func() error) (*PayoutSummary, error) {
	summary := &PayoutSummary{}
	if e.payer == nil {
		e.logger.Sugar().Warnw("No payer configured, recipients left pending", zap.Int("recipients", len(recipients)))
		return summary, nil
	}
	for _, r := range recipients {
		if r.TxSignature != nil || r.AmountReceived == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := renew(); err != nil {
			return summary, err
		}
		summary.Attempted++
		summary.add(e.pay(ctx, r))
	}
	return summary, nil
}

// pay settles one recipient. A recipient holding a pending signature is
// reconciled against the chain first and only sent a new transfer when the
// earlier one failed or expired.
func (e *Engine) pay(ctx context.Context, r *storage.DistributionRecipient) payOutcome {
	if r.PendingSignature != nil {
		outcome, resend := e.reconcile(ctx, r)
		if !resend {
			return outcome
		}
		if e.config.PayoutAttempts > 0 && r.PayoutAttempts >= e.config.PayoutAttempts {
			return payFailed
		}
	}

	sig, err := retry.DoWithResult(ctx, e.config.PayoutRetry, func() (string, error) {
		sig, err := e.payer.Pay(ctx, r.Wallet, r.AmountReceived, func(signature string, lastValidBlockHeight uint64) error {
			claimed, err := e.store.ClaimRecipientPayout(ctx, r.Id, signature, lastValidBlockHeight)
			if err != nil {
				return fmt.Errorf("failed to claim payout: %w", err)
			}
			if !claimed {
				return ErrPayoutClaimed
			}
			r.PendingSignature = &signature
			r.PendingLastValidHeight = lastValidBlockHeight
			return nil
		})
		if err != nil && r.PendingSignature != nil {
			// the transfer may be on its way; it is reconciled, never resent
			return "", retry.Permanent(fmt.Errorf("transfer %s unresolved: %w", *r.PendingSignature, err))
		}
		return sig, err
	})
	if errors.Is(err, ErrPayoutClaimed) {
		e.logger.Sugar().Warnw("Payout claimed by another process",
			zap.Uint64("recipientId", r.Id),
			zap.String("wallet", r.Wallet),
		)
		return payInFlight
	}
	if err != nil {
		e.recordFailure(ctx, r, err)
		return payFailed
	}
	if e.markPaid(ctx, r, sig) {
		return payPaid
	}
	return payFailed
}

// reconcile resolves a pending signature. It returns resend=true when the
// earlier transfer can no longer land and its claim was released.
func (e *Engine) reconcile(ctx context.Context, r *storage.DistributionRecipient) (payOutcome, bool) {
	sig := *r.PendingSignature
	state, err := e.payer.TransferState(ctx, sig, r.PendingLastValidHeight)
	if err != nil {
		e.logger.Sugar().Warnw("Failed to look up pending payout",
			zap.Uint64("recipientId", r.Id),
			zap.String("signature", sig),
			zap.Error(err),
		)
		return payInFlight, false
	}
	switch state {
	case solanaRpc.TransferLanded:
		if e.markPaid(ctx, r, sig) {
			return payPaid, false
		}
		return payFailed, false
	case solanaRpc.TransferPending:
		e.logger.Sugar().Debugw("Payout still in flight",
			zap.Uint64("recipientId", r.Id),
			zap.String("signature", sig),
		)
		return payInFlight, false
	}

	if err := e.store.ReleaseRecipientPayout(context.WithoutCancel(ctx), r.Id, sig); err != nil {
		e.logger.Sugar().Errorw("Failed to release payout claim",
			zap.Uint64("recipientId", r.Id),
			zap.String("signature", sig),
			zap.Error(err),
		)
		return payFailed, false
	}
	e.logger.Sugar().Infow("Earlier payout did not land, sending again",
		zap.Uint64("recipientId", r.Id),
		zap.String("signature", sig),
		zap.String("state", state.String()),
	)
	r.PendingSignature = nil
	r.PendingLastValidHeight = 0
	return payFailed, true
}

func (e *Engine) recordFailure(ctx context.Context, r *storage.DistributionRecipient, err error) {
	_ = e.metricsSink.Incr(metricsTypes.Metric_Incr_Payout, []metricsTypes.MetricsLabel{
		{Name: "status", Value: "failed"},
	}, 1)
	e.logger.Sugar().Errorw("Payout failed",
		zap.Uint64("distributionId", r.DistributionId),
		zap.String("wallet", r.Wallet),
		zap.Uint64("amount", r.AmountReceived),
		zap.Bool("pending", r.PendingSignature != nil),
		zap.Error(err),
	)
	if markErr := e.store.MarkRecipientPayoutFailed(context.WithoutCancel(ctx), r.Id, err.Error()); markErr != nil {
		e.logger.Sugar().Errorw("Failed to record payout failure", zap.Uint64("recipientId", r.Id), zap.Error(markErr))
	}
	r.PayoutAttempts++
}

func (e *Engine) markPaid(ctx context.Context, r *storage.DistributionRecipient, sig string) bool {
	now := e.clock.Now()
	if err := e.store.MarkRecipientPaid(context.WithoutCancel(ctx), r.Id, sig, now); err != nil {
		// tokens moved; the signature is in the log for manual reconciliation
		_ = e.metricsSink.Incr(metricsTypes.Metric_Incr_Payout, []metricsTypes.MetricsLabel{
			{Name: "status", Value: "unrecorded"},
		}, 1)
		e.logger.Sugar().Errorw("Payout sent but not recorded",
			zap.Uint64("recipientId", r.Id),
			zap.String("signature", sig),
			zap.Error(err),
		)
		return false
	}
	_ = e.metricsSink.Incr(metricsTypes.Metric_Incr_Payout, []metricsTypes.MetricsLabel{
		{Name: "status", Value: "paid"},
	}, 1)
	r.TxSignature = &sig
	r.PaidAt = &now
	r.PayoutAttempts++
	r.PendingSignature = nil
	r.PendingLastValidHeight = 0
	e.logger.Sugar().Debugw("Payout confirmed",
		zap.String("wallet", r.Wallet),
		zap.Uint64("amount", r.AmountReceived),
		zap.String("signature", sig),
	)
	return true
}

// RetryPendingPayouts pays recipients of committed distributions that are
// still unpaid and under the attempt limit, and resolves transfers left in
// flight. It takes the distribution lock.
func (e *Engine) RetryPendingPayouts(ctx context.Context, limit int, progress func(done, total int)) (*PayoutSummary, error) {
	if e.payer == nil {
		return nil, fmt.Errorf("no payer configured")
	}
	if limit <= 0 {
		limit = defaultPayoutBatch
	}
	summary := &PayoutSummary{}
	err := e.withLock(ctx, func(renew func() error) error {
		pending, err := e.store.ListUnpaidRecipients(ctx, e.config.PayoutAttempts, limit)
		if err != nil {
			return fmt.Errorf("failed to list unpaid recipients: %w", err)
		}
		for i, r := range pending {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if r.AmountReceived > 0 {
				if err := renew(); err != nil {
					return err
				}
				summary.Attempted++
				summary.add(e.pay(ctx, r))
			}
			if progress != nil {
				progress(i+1, len(pending))
			}
		}
		return nil
	})
	if err != nil {
		return summary, err
	}
	if summary.Attempted > 0 {
		e.logger.Sugar().Infow("Retried pending payouts",
			zap.Int("attempted", summary.Attempted),
			zap.Int("paid", summary.Paid),
			zap.Int("failed", summary.Failed),
			zap.Int("inFlight", summary.InFlight),
		)
	}
	return summary, nil
}
