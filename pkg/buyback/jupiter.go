package buyback

import (
	"context"
	"fmt"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/clients/jupiter"
	"github.com/copperlabs/engine/pkg/retry"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SwapQuoter interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64) (*jupiter.Quote, error)
	GetSwapTransaction(ctx context.Context, quote *jupiter.Quote, userPublicKey string) (*jupiter.SwapResponse, error)
}

type TransactionSender interface {
	SignAndSendEncoded(ctx context.Context, txBase64 string, signer solana.PrivateKey) (string, error)
}

// JupiterVenue routes SOL to COPPER through the Jupiter aggregator and signs
// with the buyback wallet.
type JupiterVenue struct {
	quoter    SwapQuoter
	sender    TransactionSender
	signer    solana.PrivateKey
	tokenMint string
	retry     retry.Config
	logger    *zap.Logger
}

func NewJupiterVenue(quoter SwapQuoter, sender TransactionSender, signer solana.PrivateKey, tokenMint string, l *zap.Logger) *JupiterVenue {
	return &JupiterVenue{
		quoter:    quoter,
		sender:    sender,
		signer:    signer,
		tokenMint: tokenMint,
		retry:     retry.DefaultConfig(),
		logger:    l,
	}
}

// Swap quotes and builds the route with retries but submits the transaction
// once. The received amount is the quoted output.
func (v *JupiterVenue) Swap(ctx context.Context, sol decimal.Decimal) (*SwapResult, error) {
	lamports := utils.FromUiAmount(sol, config.SolDecimals)
	if lamports == 0 {
		return nil, fmt.Errorf("swap amount rounds to zero lamports")
	}

	quote, err := retry.DoWithResult(ctx, v.retry, func() (*jupiter.Quote, error) {
		return v.quoter.GetQuote(ctx, config.SolMint, v.tokenMint, lamports)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	out, err := quote.OutAmountRaw()
	if err != nil {
		return nil, fmt.Errorf("invalid quote output %q: %w", quote.OutAmount, err)
	}

	owner := v.signer.PublicKey().String()
	swap, err := retry.DoWithResult(ctx, v.retry, func() (*jupiter.SwapResponse, error) {
		return v.quoter.GetSwapTransaction(ctx, quote, owner)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build swap transaction: %w", err)
	}

	sig, err := v.sender.SignAndSendEncoded(ctx, swap.SwapTransaction, v.signer)
	if err != nil {
		return nil, fmt.Errorf("failed to send swap transaction: %w", err)
	}
	v.logger.Sugar().Infow("Swap confirmed",
		zap.String("signature", sig),
		zap.Uint64("lamports", lamports),
		zap.Uint64("copperOut", out),
		zap.String("priceImpactPct", quote.PriceImpactPct),
	)
	return &SwapResult{
		TxSignature:    sig,
		SolSpent:       utils.ToUiAmount(lamports, config.SolDecimals),
		CopperReceived: out,
	}, nil
}
