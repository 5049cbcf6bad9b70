// Package sellDetector decides which on-chain COPPER movements are sells and
// hands them to the streak engine. When the counterparty of an outgoing
// transfer cannot be determined the event is not treated as a sell.
package sellDetector

import (
	"context"
	"errors"
	"fmt"

	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/metrics/metricsTypes"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/streaks"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrAmbiguous = errors.New("counterparty could not be classified")

// Classify reports whether ev is a sell: COPPER leaving the wallet into a
// liquidity pool or swap program in exchange for SOL or USDC. Outgoing
// transfers with an unknown counterparty return ErrAmbiguous.
func Classify(ev *TransactionEvent) (bool, error) {
	if ev == nil || ev.Direction != Direction_Out || ev.Amount == 0 {
		return false, nil
	}
	switch ev.CounterpartyType {
	case Counterparty_LiquidityPool, Counterparty_SwapProgram:
		if ev.QuoteMint != "" && !isQuoteMint(ev.QuoteMint) {
			return false, nil
		}
		return true, nil
	case Counterparty_Wallet:
		return false, nil
	default:
		return false, ErrAmbiguous
	}
}

// SellHandler applies confirmed sells. Implemented by *streaks.Engine.
type SellHandler interface {
	ProcessSell(ctx context.Context, sell *streaks.SellDetected) (*streaks.SellOutcome, error)
}

// CreatorRewardRecorder persists creator fee receipts. Implemented by the
// buyback executor, which returns nil for an already recorded signature.
type CreatorRewardRecorder interface {
	RecordCreatorReward(ctx context.Context, reward *storage.CreatorReward) (*storage.CreatorReward, error)
}

type Detector struct {
	parser      *Parser
	sells       SellHandler
	rewards     CreatorRewardRecorder
	clock       clockwork.Clock
	metricsSink *metrics.MetricsSink
	logger      *zap.Logger
}

// NewDetector wires the detector. rewards may be nil, in which case creator
// fees seen in webhook payloads are ignored.
func NewDetector(
	parser *Parser,
	sells SellHandler,
	rewards CreatorRewardRecorder,
	clock clockwork.Clock,
	ms *metrics.MetricsSink,
	l *zap.Logger,
) *Detector {
	return &Detector{
		parser:      parser,
		sells:       sells,
		rewards:     rewards,
		clock:       clock,
		metricsSink: ms,
		logger:      l,
	}
}

// HandleEvent classifies ev and forwards sells. It returns the streak outcome
// for a sell and nil otherwise.
func (d *Detector) HandleEvent(ctx context.Context, ev *TransactionEvent) (*streaks.SellOutcome, error) {
	isSell, err := Classify(ev)
	if err != nil {
		if errors.Is(err, ErrAmbiguous) {
			d.logger.Sugar().Warnw("Ambiguous outgoing transfer, not treated as a sell",
				zap.String("wallet", ev.Wallet),
				zap.String("txSignature", ev.TxSignature),
				zap.String("counterparty", string(ev.CounterpartyType)),
				zap.Uint64("amount", ev.Amount),
			)
			_ = d.metricsSink.Incr(metricsTypes.Metric_Incr_SellAmbiguous, []metricsTypes.MetricsLabel{
				{Name: "counterparty", Value: string(ev.CounterpartyType)},
			}, 1)
		}
		return nil, err
	}
	if !isSell {
		return nil, nil
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = d.clock.Now()
	}
	outcome, err := d.sells.ProcessSell(ctx, &streaks.SellDetected{
		Wallet:      ev.Wallet,
		TxSignature: ev.TxSignature,
		Amount:      ev.Amount,
		Timestamp:   ts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process sell %s: %w", ev.TxSignature, err)
	}
	if outcome.Applied {
		_ = d.metricsSink.Incr(metricsTypes.Metric_Incr_SellDetected, []metricsTypes.MetricsLabel{
			{Name: "counterparty", Value: string(ev.CounterpartyType)},
		}, 1)
	}
	return outcome, nil
}

// HandleTransactions processes a webhook batch. A failing transaction is
// counted and logged without stopping the rest of the batch.
func (d *Detector) HandleTransactions(ctx context.Context, txs []*EnhancedTransaction) *BatchResult {
	res := &BatchResult{Transactions: len(txs)}
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		recorded, err := d.handleCreatorReward(ctx, tx)
		if err != nil {
			res.Errors++
		} else if recorded {
			res.CreatorRewards++
		}

		for _, ev := range d.parser.Events(tx) {
			outcome, err := d.HandleEvent(ctx, ev)
			switch {
			case errors.Is(err, ErrAmbiguous):
				res.Ambiguous++
			case err != nil:
				d.logger.Sugar().Errorw("Failed to handle transaction event",
					zap.String("txSignature", ev.TxSignature),
					zap.String("wallet", ev.Wallet),
					zap.Error(err),
				)
				res.Errors++
			case outcome == nil:
			case outcome.Applied:
				res.Sells++
			case outcome.Untracked:
				res.Untracked++
			default:
				res.Duplicates++
			}
		}
	}
	return res
}

func (d *Detector) handleCreatorReward(ctx context.Context, tx *EnhancedTransaction) (bool, error) {
	if d.rewards == nil {
		return false, nil
	}
	reward := d.parser.CreatorReward(tx)
	if reward == nil {
		return false, nil
	}
	if reward.ReceivedAt.Unix() == 0 {
		reward.ReceivedAt = d.clock.Now()
	}
	recorded, err := d.rewards.RecordCreatorReward(ctx, reward)
	if err != nil {
		d.logger.Sugar().Errorw("Failed to record creator reward",
			zap.String("txSignature", tx.Signature),
			zap.Error(err),
		)
		return false, err
	}
	return recorded != nil, nil
}
