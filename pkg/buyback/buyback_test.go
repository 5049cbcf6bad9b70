package buyback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/clients/jupiter"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/storage/memory"
	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeVenue struct {
	calls  []decimal.Decimal
	out    uint64
	err    error
	sigSeq int
}

func (f *fakeVenue) Swap(ctx context.Context, sol decimal.Decimal) (*SwapResult, error) {
	f.calls = append(f.calls, sol)
	if f.err != nil {
		return nil, f.err
	}
	f.sigSeq++
	return &SwapResult{
		TxSignature:    "swap-" + string(rune('a'+f.sigSeq)),
		SolSpent:       sol,
		CopperReceived: f.out,
	}, nil
}

func sig(s string) *string { return &s }

func newExecutor(venue SwapVenue) (*Executor, *memory.Store) {
	store := memory.NewStore()
	cfg := &config.BuybackConfig{
		Share:  decimal.RequireFromString("0.8"),
		MinSol: decimal.RequireFromString("0.01"),
	}
	clock := clockwork.NewFakeClockAt(t0)
	return NewExecutor(store, venue, nil, cfg, clock, metrics.NewNoopMetricsSink(), zap.NewNop()), store
}

func Test_CalculateSplit(t *testing.T) {
	split := CalculateSplit(decimal.RequireFromString("1.5"), decimal.RequireFromString("0.8"))
	assert.True(t, split.Buyback.Equal(decimal.RequireFromString("1.2")))
	assert.True(t, split.Team.Equal(decimal.RequireFromString("0.3")))

	odd := CalculateSplit(decimal.RequireFromString("0.000000001"), decimal.RequireFromString("0.8"))
	assert.True(t, odd.Buyback.IsZero())
	assert.True(t, odd.Team.Equal(odd.Total))
}

func Test_PricePerToken(t *testing.T) {
	// 1 SOL for 250,000 COPPER
	p := PricePerToken(decimal.NewFromInt(1), 250_000_000_000)
	assert.True(t, p.Equal(decimal.RequireFromString("0.000004")), p.String())
	assert.True(t, PricePerToken(decimal.NewFromInt(1), 0).IsZero())
}

func Test_RecordCreatorReward(t *testing.T) {
	ctx := context.Background()
	exec, store := newExecutor(&fakeVenue{})

	created, err := exec.RecordCreatorReward(ctx, &storage.CreatorReward{
		AmountSol:   decimal.RequireFromString("0.5"),
		Source:      storage.CreatorRewardSource_PumpFun,
		TxSignature: sig("fee-1"),
	})
	require.Nil(t, err)
	require.NotNil(t, created)
	assert.Equal(t, t0, created.ReceivedAt)

	dup, err := exec.RecordCreatorReward(ctx, &storage.CreatorReward{
		AmountSol:   decimal.RequireFromString("0.5"),
		Source:      storage.CreatorRewardSource_PumpFun,
		TxSignature: sig("fee-1"),
	})
	assert.Nil(t, err)
	assert.Nil(t, dup)

	_, err = exec.RecordCreatorReward(ctx, &storage.CreatorReward{
		AmountSol: decimal.RequireFromString("0.5"),
		Source:    "raydium",
	})
	assert.ErrorIs(t, err, storage.ErrInvalidSource)

	pending, err := store.ListUnprocessedCreatorRewards(ctx)
	require.Nil(t, err)
	assert.Len(t, pending, 1)
}

func Test_ProcessPendingRewards(t *testing.T) {
	ctx := context.Background()

	t.Run("Nothing pending is a no-op", func(t *testing.T) {
		venue := &fakeVenue{out: 1}
		exec, _ := newExecutor(venue)
		res, err := exec.ProcessPendingRewards(ctx)
		assert.Nil(t, err)
		assert.Nil(t, res)
		assert.Empty(t, venue.calls)
	})

	t.Run("Swaps the buyback share and consumes every reward", func(t *testing.T) {
		venue := &fakeVenue{out: 300_000_000_000}
		exec, store := newExecutor(venue)
		for _, s := range []string{"fee-1", "fee-2"} {
			_, err := exec.RecordCreatorReward(ctx, &storage.CreatorReward{
				AmountSol:   decimal.RequireFromString("0.75"),
				Source:      storage.CreatorRewardSource_PumpSwap,
				TxSignature: sig(s),
			})
			require.Nil(t, err)
		}

		res, err := exec.ProcessPendingRewards(ctx)
		require.Nil(t, err)
		require.NotNil(t, res)
		assert.Equal(t, 2, res.RewardsConsumed)
		require.Len(t, venue.calls, 1)
		assert.True(t, venue.calls[0].Equal(decimal.RequireFromString("1.2")))
		assert.True(t, res.Split.Team.Equal(decimal.RequireFromString("0.3")))
		assert.Equal(t, uint64(300_000_000_000), res.Buyback.CopperAmount)
		assert.True(t, res.Buyback.PricePerToken.Equal(decimal.RequireFromString("0.000004")))

		pending, err := store.ListUnprocessedCreatorRewards(ctx)
		require.Nil(t, err)
		assert.Empty(t, pending)

		ledger, err := store.GetPoolLedger(ctx)
		require.Nil(t, err)
		assert.Equal(t, uint64(300_000_000_000), ledger.Balance())

		stats, err := store.GetSystemStats(ctx)
		require.Nil(t, err)
		assert.True(t, stats.TotalBuybacksSol.Equal(decimal.RequireFromString("1.2")))
	})

	t.Run("Below the minimum waits", func(t *testing.T) {
		venue := &fakeVenue{out: 1}
		exec, _ := newExecutor(venue)
		_, err := exec.RecordCreatorReward(ctx, &storage.CreatorReward{
			AmountSol: decimal.RequireFromString("0.01"),
			Source:    storage.CreatorRewardSource_PumpFun,
		})
		require.Nil(t, err)

		res, err := exec.ProcessPendingRewards(ctx)
		assert.Nil(t, err)
		assert.Nil(t, res)
		assert.Empty(t, venue.calls)
	})

	t.Run("Failed swaps leave rewards pending", func(t *testing.T) {
		venue := &fakeVenue{err: errors.New("slippage exceeded")}
		exec, store := newExecutor(venue)
		_, err := exec.RecordCreatorReward(ctx, &storage.CreatorReward{
			AmountSol: decimal.NewFromInt(1),
			Source:    storage.CreatorRewardSource_PumpFun,
		})
		require.Nil(t, err)

		res, err := exec.ProcessPendingRewards(ctx)
		assert.Nil(t, res)
		assert.NotNil(t, err)

		pending, err := store.ListUnprocessedCreatorRewards(ctx)
		require.Nil(t, err)
		assert.Len(t, pending, 1)

		total, n, err := exec.PendingSol(ctx)
		require.Nil(t, err)
		assert.Equal(t, 1, n)
		assert.True(t, total.Equal(decimal.NewFromInt(1)))
	})
}

type fakeQuoter struct {
	quoteCalls int
	amount     uint64
}

func (f *fakeQuoter) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64) (*jupiter.Quote, error) {
	f.quoteCalls++
	f.amount = amount
	return &jupiter.Quote{InputMint: inputMint, OutputMint: outputMint, InAmount: "1", OutAmount: "42000000"}, nil
}

func (f *fakeQuoter) GetSwapTransaction(ctx context.Context, quote *jupiter.Quote, userPublicKey string) (*jupiter.SwapResponse, error) {
	return &jupiter.SwapResponse{SwapTransaction: "dHg="}, nil
}

type fakeSender struct {
	sent []string
}

func (f *fakeSender) SignAndSendEncoded(ctx context.Context, txBase64 string, signer solana.PrivateKey) (string, error) {
	f.sent = append(f.sent, txBase64)
	return "confirmed-sig", nil
}

func Test_JupiterVenue(t *testing.T) {
	signer, err := solana.NewRandomPrivateKey()
	require.Nil(t, err)
	quoter := &fakeQuoter{}
	sender := &fakeSender{}
	venue := NewJupiterVenue(quoter, sender, signer, "CopperMint", zap.NewNop())

	res, err := venue.Swap(context.Background(), decimal.RequireFromString("1.2"))
	require.Nil(t, err)
	assert.Equal(t, uint64(1_200_000_000), quoter.amount)
	assert.Equal(t, []string{"dHg="}, sender.sent)
	assert.Equal(t, "confirmed-sig", res.TxSignature)
	assert.Equal(t, uint64(42_000_000), res.CopperReceived)
	assert.True(t, res.SolSpent.Equal(decimal.RequireFromString("1.2")))

	_, err = venue.Swap(context.Background(), decimal.Zero)
	assert.NotNil(t, err)
}
