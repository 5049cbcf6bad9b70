package sellDetector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/eventBus"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/storage/memory"
	"github.com/copperlabs/engine/pkg/streaks"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testMint    = "CoPPeRmint1111111111111111111111111111111111"
	creator     = "CreatorWa11et111111111111111111111111111111"
	seller      = "Se11erWa11et11111111111111111111111111111111"
	poolAccount = "Poo1Authority111111111111111111111111111111"
)

func Test_Classify(t *testing.T) {
	tests := []struct {
		name    string
		ev      *TransactionEvent
		sell    bool
		wantErr error
	}{
		{"pool swap for SOL", &TransactionEvent{Direction: Direction_Out, CounterpartyType: Counterparty_LiquidityPool, QuoteMint: config.SolMint, Amount: 10}, true, nil},
		{"swap program for USDC", &TransactionEvent{Direction: Direction_Out, CounterpartyType: Counterparty_SwapProgram, QuoteMint: config.UsdcMint, Amount: 10}, true, nil},
		{"swap for another token", &TransactionEvent{Direction: Direction_Out, CounterpartyType: Counterparty_SwapProgram, QuoteMint: "BonkMint", Amount: 10}, false, nil},
		{"wallet transfer", &TransactionEvent{Direction: Direction_Out, CounterpartyType: Counterparty_Wallet, Amount: 10}, false, nil},
		{"buy", &TransactionEvent{Direction: Direction_In, CounterpartyType: Counterparty_LiquidityPool, QuoteMint: config.SolMint, Amount: 10}, false, nil},
		{"zero amount", &TransactionEvent{Direction: Direction_Out, CounterpartyType: Counterparty_LiquidityPool, Amount: 0}, false, nil},
		{"unknown counterparty", &TransactionEvent{Direction: Direction_Out, CounterpartyType: Counterparty_Unknown, Amount: 10}, false, ErrAmbiguous},
		{"unset counterparty", &TransactionEvent{Direction: Direction_Out, Amount: 10}, false, ErrAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sell, err := Classify(tt.ev)
			assert.Equal(t, tt.sell, sell)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func swapTx(sig string) *EnhancedTransaction {
	return &EnhancedTransaction{
		Signature: sig,
		Type:      TxType_Swap,
		Source:    "RAYDIUM",
		FeePayer:  seller,
		Timestamp: 1735689600,
		TokenTransfers: []*TokenTransfer{
			{FromUserAccount: seller, ToUserAccount: poolAccount, Mint: testMint, TokenAmount: decimal.RequireFromString("1500.25")},
		},
		NativeTransfers: []*NativeTransfer{
			{FromUserAccount: poolAccount, ToUserAccount: seller, Amount: 250_000_000},
		},
	}
}

func buyTx(sig string, buyer string) *EnhancedTransaction {
	return &EnhancedTransaction{
		Signature: sig,
		Type:      TxType_Swap,
		Source:    "RAYDIUM",
		FeePayer:  buyer,
		Timestamp: 1735689600,
		TokenTransfers: []*TokenTransfer{
			{FromUserAccount: poolAccount, ToUserAccount: buyer, Mint: testMint, TokenAmount: decimal.NewFromInt(4000)},
		},
		NativeTransfers: []*NativeTransfer{
			{FromUserAccount: buyer, ToUserAccount: poolAccount, Amount: 500_000_000},
		},
		Events: &TransactionEvents{Swap: &SwapEvent{ProgramInfo: &ProgramInfo{Source: "RAYDIUM", Account: poolAccount}}},
	}
}

func Test_ParserEvents(t *testing.T) {
	p := NewParser(testMint, creator)

	t.Run("COPPER out with SOL back in a swap is a pool sell", func(t *testing.T) {
		events := p.Events(swapTx("sig-1"))
		require.Len(t, events, 1)

		out := events[0]
		assert.Equal(t, seller, out.Wallet)
		assert.Equal(t, Direction_Out, out.Direction)
		assert.Equal(t, Counterparty_LiquidityPool, out.CounterpartyType)
		assert.Equal(t, config.SolMint, out.QuoteMint)
		assert.Equal(t, uint64(1_500_250_000), out.Amount)
		assert.Equal(t, time.Unix(1735689600, 0).UTC(), out.Timestamp)
	})

	t.Run("A buy reports only the buyer's incoming leg", func(t *testing.T) {
		events := p.Events(buyTx("sig-buy", "BuyerWa11et111111111111111111111111111111111"))
		require.Len(t, events, 1)
		assert.Equal(t, "BuyerWa11et111111111111111111111111111111111", events[0].Wallet)
		assert.Equal(t, Direction_In, events[0].Direction)
		assert.Equal(t, config.SolMint, events[0].QuoteMint)

		sell, err := Classify(events[0])
		assert.False(t, sell)
		assert.Nil(t, err)
	})

	t.Run("A relayed swap is attributed through the venue account", func(t *testing.T) {
		tx := swapTx("sig-relay")
		tx.FeePayer = "Re1ayer111111111111111111111111111111111111"
		tx.Events = &TransactionEvents{Swap: &SwapEvent{ProgramInfo: &ProgramInfo{Account: poolAccount}}}

		events := p.Events(tx)
		require.Len(t, events, 1)
		assert.Equal(t, seller, events[0].Wallet)
		assert.Equal(t, Counterparty_LiquidityPool, events[0].CounterpartyType)
	})

	t.Run("A swap without an identifiable trader never yields a sell", func(t *testing.T) {
		tx := buyTx("sig-anon", "BuyerWa11et111111111111111111111111111111111")
		tx.FeePayer = ""
		tx.Events = nil

		events := p.Events(tx)
		require.Len(t, events, 2)
		for _, ev := range events {
			sell, _ := Classify(ev)
			assert.False(t, sell)
			if ev.Direction == Direction_Out {
				assert.Equal(t, poolAccount, ev.Wallet)
				assert.Equal(t, Counterparty_Unknown, ev.CounterpartyType)
			}
		}
	})

	t.Run("Wallet to wallet transfer", func(t *testing.T) {
		events := p.Events(&EnhancedTransaction{
			Signature: "sig-2",
			Type:      TxType_Transfer,
			TokenTransfers: []*TokenTransfer{
				{FromUserAccount: seller, ToUserAccount: "friend", Mint: testMint, TokenAmount: decimal.NewFromInt(5)},
			},
		})
		require.Len(t, events, 2)
		for _, ev := range events {
			assert.Equal(t, Counterparty_Wallet, ev.CounterpartyType)
			sell, err := Classify(ev)
			assert.False(t, sell)
			assert.Nil(t, err)
		}
	})

	t.Run("Value returned outside a known venue is ambiguous", func(t *testing.T) {
		tx := swapTx("sig-3")
		tx.Type = "UNKNOWN"
		tx.Source = "SYSTEM_PROGRAM"
		events := p.Events(tx)
		for _, ev := range events {
			if ev.Wallet == seller {
				assert.Equal(t, Counterparty_Unknown, ev.CounterpartyType)
			}
		}
	})

	t.Run("Other mints are ignored", func(t *testing.T) {
		events := p.Events(&EnhancedTransaction{
			Signature: "sig-4",
			Type:      TxType_Transfer,
			TokenTransfers: []*TokenTransfer{
				{FromUserAccount: seller, ToUserAccount: "friend", Mint: config.UsdcMint, TokenAmount: decimal.NewFromInt(5)},
			},
		})
		assert.Len(t, events, 0)
	})
}

func Test_ParserCreatorReward(t *testing.T) {
	p := NewParser(testMint, creator)

	reward := p.CreatorReward(&EnhancedTransaction{
		Signature: "fee-1",
		Source:    Source_PumpAmm,
		Timestamp: 1735689600,
		NativeTransfers: []*NativeTransfer{
			{FromUserAccount: "pumpVault", ToUserAccount: creator, Amount: 1_500_000_000},
			{FromUserAccount: "pumpVault", ToUserAccount: "someoneElse", Amount: 7},
		},
	})
	require.NotNil(t, reward)
	assert.Equal(t, storage.CreatorRewardSource_PumpSwap, reward.Source)
	assert.True(t, reward.AmountSol.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, "fee-1", *reward.TxSignature)

	assert.Nil(t, p.CreatorReward(&EnhancedTransaction{
		Source:          "JUPITER",
		NativeTransfers: []*NativeTransfer{{FromUserAccount: "x", ToUserAccount: creator, Amount: 10}},
	}))
	assert.Nil(t, NewParser(testMint, "").CreatorReward(&EnhancedTransaction{Source: Source_PumpFun}))
}

type fakeRewards struct {
	recorded []*storage.CreatorReward
}

func (f *fakeRewards) RecordCreatorReward(ctx context.Context, r *storage.CreatorReward) (*storage.CreatorReward, error) {
	f.recorded = append(f.recorded, r)
	return r, nil
}

func setup() (*Detector, *memory.Store, *fakeRewards, *clockwork.FakeClock) {
	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	l := zap.NewNop()
	ms := metrics.NewNoopMetricsSink()
	engine := streaks.NewEngine(store, clock, eventBus.NewEventBus(l), ms, l)
	rewards := &fakeRewards{}
	return NewDetector(NewParser(testMint, creator), engine, rewards, clock, ms, l), store, rewards, clock
}

func Test_Detector(t *testing.T) {
	ctx := context.Background()

	t.Run("Sell drops a tier once per signature", func(t *testing.T) {
		d, store, _, clock := setup()
		_, err := store.MutateHoldStreak(ctx, seller, func(*storage.HoldStreak) (*storage.HoldStreak, error) {
			return &storage.HoldStreak{Wallet: seller, StreakStart: clock.Now().Add(-80 * time.Hour), CurrentTier: 4, UpdatedAt: clock.Now()}, nil
		})
		require.Nil(t, err)

		res := d.HandleTransactions(ctx, []*EnhancedTransaction{swapTx("sig-1"), swapTx("sig-1")})
		assert.Equal(t, 2, res.Transactions)
		assert.Equal(t, 1, res.Sells)
		assert.Equal(t, 1, res.Duplicates)
		assert.Equal(t, 0, res.Errors)

		s, _ := store.GetHoldStreak(ctx, seller)
		assert.Equal(t, 3, s.CurrentTier)
	})

	t.Run("Buys do not touch the venue's streak", func(t *testing.T) {
		d, store, _, clock := setup()
		buyer := "BuyerWa11et111111111111111111111111111111111"
		_, err := store.MutateHoldStreak(ctx, poolAccount, func(*storage.HoldStreak) (*storage.HoldStreak, error) {
			return &storage.HoldStreak{Wallet: poolAccount, StreakStart: clock.Now().Add(-80 * time.Hour), CurrentTier: 4, UpdatedAt: clock.Now()}, nil
		})
		require.Nil(t, err)

		res := d.HandleTransactions(ctx, []*EnhancedTransaction{buyTx("buy-1", buyer)})
		assert.Equal(t, 0, res.Sells)
		assert.Equal(t, 0, res.Ambiguous)
		assert.Equal(t, 0, res.Errors)

		s, _ := store.GetHoldStreak(ctx, poolAccount)
		assert.Equal(t, 4, s.CurrentTier)
		b, _ := store.GetHoldStreak(ctx, buyer)
		assert.Nil(t, b)
	})

	t.Run("Sells from wallets without a streak are counted as untracked", func(t *testing.T) {
		d, store, _, _ := setup()

		res := d.HandleTransactions(ctx, []*EnhancedTransaction{swapTx("sig-u")})
		assert.Equal(t, 0, res.Sells)
		assert.Equal(t, 1, res.Untracked)
		assert.Equal(t, 0, res.Duplicates)

		s, _ := store.GetHoldStreak(ctx, seller)
		assert.Nil(t, s)
	})

	t.Run("Ambiguous events leave the streak alone", func(t *testing.T) {
		d, store, _, _ := setup()
		outcome, err := d.HandleEvent(ctx, &TransactionEvent{
			Wallet:           seller,
			TxSignature:      "sig-x",
			Direction:        Direction_Out,
			CounterpartyType: Counterparty_Unknown,
			Amount:           100,
		})
		assert.ErrorIs(t, err, ErrAmbiguous)
		assert.Nil(t, outcome)
		s, _ := store.GetHoldStreak(ctx, seller)
		assert.Nil(t, s)
	})

	t.Run("Creator fees are recorded", func(t *testing.T) {
		d, _, rewards, _ := setup()
		res := d.HandleTransactions(ctx, []*EnhancedTransaction{{
			Signature:       "fee-1",
			Source:          Source_PumpFun,
			Timestamp:       1735689600,
			NativeTransfers: []*NativeTransfer{{FromUserAccount: "curve", ToUserAccount: creator, Amount: 2_000_000_000}},
		}})
		assert.Equal(t, 1, res.CreatorRewards)
		require.Len(t, rewards.recorded, 1)
		assert.Equal(t, storage.CreatorRewardSource_PumpFun, rewards.recorded[0].Source)
	})
}

func Test_Webhook(t *testing.T) {
	body := []byte(`[{"signature":"abc","type":"SWAP","source":"RAYDIUM","timestamp":1735689600,` +
		`"tokenTransfers":[{"fromUserAccount":"a","toUserAccount":"b","mint":"m","tokenAmount":12.5}],` +
		`"nativeTransfers":[{"fromUserAccount":"b","toUserAccount":"a","amount":1000}]}]`)

	t.Run("Signatures", func(t *testing.T) {
		sig := Sign(body, "secret")
		assert.Nil(t, VerifySignature(body, sig, "secret"))
		assert.ErrorIs(t, VerifySignature(body, sig, "other"), ErrInvalidSignature)
		assert.ErrorIs(t, VerifySignature(body, "", "secret"), ErrInvalidSignature)
		assert.ErrorIs(t, VerifySignature(body, sig, ""), ErrWebhookNotConfigured)
		assert.ErrorIs(t, VerifySignature(append(body, ' '), sig, "secret"), ErrInvalidSignature)
	})

	t.Run("Decodes arrays and single objects", func(t *testing.T) {
		txs, err := DecodeBatch(body)
		require.Nil(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, "abc", txs[0].Signature)
		assert.True(t, txs[0].TokenTransfers[0].TokenAmount.Equal(decimal.RequireFromString("12.5")))
		assert.Equal(t, uint64(1000), txs[0].NativeTransfers[0].Amount)

		single, err := DecodeBatch([]byte(`{"signature":"one"}`))
		require.Nil(t, err)
		assert.Equal(t, "one", single[0].Signature)

		_, err = DecodeBatch([]byte(`not json`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("Rejects oversized batches", func(t *testing.T) {
		payload := "["
		for i := 0; i <= MaxBatchSize; i++ {
			if i > 0 {
				payload += ","
			}
			payload += fmt.Sprintf(`{"signature":"s%d"}`, i)
		}
		payload += "]"
		_, err := DecodeBatch([]byte(payload))
		assert.ErrorIs(t, err, ErrBatchTooLarge)
	})
}
