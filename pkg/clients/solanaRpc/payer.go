package solanaRpc

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// TokenPayer pays COPPER out of a single funded wallet.
type TokenPayer struct {
	client *Client
	signer solana.PrivateKey
}

func NewTokenPayer(client *Client, signer solana.PrivateKey) *TokenPayer {
	return &TokenPayer{client: client, signer: signer}
}

func (p *TokenPayer) Wallet() string {
	return p.signer.PublicKey().String()
}

// Pay transfers amount to wallet and returns the confirmed signature.
// onSigned runs before the transfer is submitted.
func (p *TokenPayer) Pay(ctx context.Context, wallet string, amount uint64, onSigned SignedFunc) (string, error) {
	return p.client.TransferTokens(ctx, p.signer, wallet, amount, onSigned)
}

func (p *TokenPayer) TransferState(ctx context.Context, signature string, lastValidBlockHeight uint64) (TransferState, error) {
	return p.client.SignatureState(ctx, signature, lastValidBlockHeight)
}
