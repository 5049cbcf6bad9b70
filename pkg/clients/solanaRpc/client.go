// Package solanaRpc wraps the solana-go RPC client with the handful of token
// operations the engine needs: balance reads, SPL payouts and submitting
// pre-built swap transactions.
package solanaRpc

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/copperlabs/engine/pkg/retry"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	// getMultipleAccounts accepts at most 100 keys.
	maxAccountsPerCall = 100

	// SPL token account layout: mint(32) owner(32) amount(8)
	tokenAmountOffset = 64
)

var (
	ErrTransactionFailed = errors.New("transaction failed on chain")
	ErrUnconfirmed       = errors.New("transaction not confirmed")
)

// SignedFunc receives a transaction's signature and the last block height
// its blockhash is valid for, after signing and before it is submitted. An
// error aborts the submission.
type SignedFunc func(signature string, lastValidBlockHeight uint64) error

// TransferState is what the chain knows about a submitted signature.
type TransferState int

const (
	// TransferPending: not confirmed yet, and it may still land.
	TransferPending TransferState = iota
	TransferLanded
	// TransferFailed: included in a block with an error, nothing moved.
	TransferFailed
	// TransferExpired: unknown to the cluster and its blockhash has expired,
	// so it can never land.
	TransferExpired
)

func (s TransferState) String() string {
	switch s {
	case TransferLanded:
		return "landed"
	case TransferFailed:
		return "failed"
	case TransferExpired:
		return "expired"
	default:
		return "pending"
	}
}

// RPC is the subset of *rpc.Client used here.
type RPC interface {
	GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)
	GetTokenSupply(ctx context.Context, tokenMint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
}

type SolanaClientConfig struct {
	RpcUrl    string
	TokenMint string
	Decimals  uint8
	// ConfirmPolls and ConfirmInterval bound how long a sent transaction is
	// waited on.
	ConfirmPolls    int
	ConfirmInterval time.Duration
}

type Client struct {
	rpc    RPC
	mint   solana.PublicKey
	config *SolanaClientConfig
	logger *zap.Logger
}

func NewClient(cfg *SolanaClientConfig, l *zap.Logger) (*Client, error) {
	return NewClientWithRPC(rpc.New(cfg.RpcUrl), cfg, l)
}

func NewClientWithRPC(r RPC, cfg *SolanaClientConfig, l *zap.Logger) (*Client, error) {
	mint, err := solana.PublicKeyFromBase58(cfg.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint %q: %w", cfg.TokenMint, err)
	}
	if cfg.ConfirmPolls == 0 {
		cfg.ConfirmPolls = 30
	}
	if cfg.ConfirmInterval == 0 {
		cfg.ConfirmInterval = time.Second
	}
	return &Client{rpc: r, mint: mint, config: cfg, logger: l}, nil
}

func (c *Client) Mint() solana.PublicKey {
	return c.mint
}

func (c *Client) tokenAccount(owner solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, c.mint)
	return ata, err
}

// GetBalances reads the associated token account balance of every wallet.
// Wallets without a token account hold 0. The chain only exposes current
// state, so at is informational.
func (c *Client) GetBalances(ctx context.Context, wallets []string, at time.Time) (map[string]uint64, error) {
	out := make(map[string]uint64, len(wallets))
	for _, chunk := range utils.Chunk(wallets, maxAccountsPerCall) {
		atas := make([]solana.PublicKey, 0, len(chunk))
		for _, w := range chunk {
			owner, err := solana.PublicKeyFromBase58(w)
			if err != nil {
				return nil, fmt.Errorf("invalid wallet %q: %w", w, err)
			}
			ata, err := c.tokenAccount(owner)
			if err != nil {
				return nil, fmt.Errorf("failed to derive token account for %s: %w", w, err)
			}
			atas = append(atas, ata)
		}

		res, err := c.rpc.GetMultipleAccounts(ctx, atas...)
		if err != nil {
			return nil, retry.Transient(fmt.Errorf("getMultipleAccounts: %w", err))
		}
		if len(res.Value) != len(chunk) {
			return nil, fmt.Errorf("getMultipleAccounts returned %d accounts for %d keys", len(res.Value), len(chunk))
		}
		for i, acct := range res.Value {
			out[chunk[i]] = tokenAmount(acct)
		}
	}
	c.logger.Sugar().Debugw("Read token balances",
		zap.Int("wallets", len(wallets)),
		zap.Time("at", at),
	)
	return out, nil
}

func tokenAmount(acct *rpc.Account) uint64 {
	if acct == nil || acct.Data == nil {
		return 0
	}
	data := acct.Data.GetBinary()
	if len(data) < tokenAmountOffset+8 {
		return 0
	}
	return binary.LittleEndian.Uint64(data[tokenAmountOffset : tokenAmountOffset+8])
}

// GetBalance returns one wallet's token balance.
func (c *Client) GetBalance(ctx context.Context, wallet string) (uint64, error) {
	res, err := c.GetBalances(ctx, []string{wallet}, time.Now())
	if err != nil {
		return 0, err
	}
	return res[wallet], nil
}

func (c *Client) GetTokenSupply(ctx context.Context) (uint64, error) {
	res, err := c.rpc.GetTokenSupply(ctx, c.mint, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, retry.Transient(fmt.Errorf("getTokenSupply: %w", err))
	}
	if res.Value == nil {
		return 0, nil
	}
	return strconv.ParseUint(res.Value.Amount, 10, 64)
}

// GetSolBalance returns the lamports held by wallet.
func (c *Client) GetSolBalance(ctx context.Context, wallet solana.PublicKey) (uint64, error) {
	res, err := c.rpc.GetBalance(ctx, wallet, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, retry.Transient(fmt.Errorf("getBalance: %w", err))
	}
	return res.Value, nil
}

// TransferTokens sends amount of the mint from signer's token account to
// recipient, creating the recipient's token account when missing. onSigned,
// when set, is called with the signature before the transfer is submitted.
func (c *Client) TransferTokens(ctx context.Context, signer solana.PrivateKey, recipient string, amount uint64, onSigned SignedFunc) (string, error) {
	to, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}
	from := signer.PublicKey()
	sourceAta, err := c.tokenAccount(from)
	if err != nil {
		return "", err
	}
	destAta, err := c.tokenAccount(to)
	if err != nil {
		return "", err
	}

	instructions := make([]solana.Instruction, 0, 2)
	if _, err := c.rpc.GetAccountInfo(ctx, destAta); err != nil {
		if !errors.Is(err, rpc.ErrNotFound) {
			return "", retry.Transient(fmt.Errorf("getAccountInfo: %w", err))
		}
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(from, to, c.mint).Build())
	}
	instructions = append(instructions, token.NewTransferCheckedInstruction(
		amount,
		c.config.Decimals,
		sourceAta,
		c.mint,
		destAta,
		from,
		[]solana.PublicKey{},
	).Build())

	latest, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", retry.Transient(fmt.Errorf("getLatestBlockhash: %w", err))
	}
	tx, err := solana.NewTransaction(instructions, latest.Value.Blockhash, solana.TransactionPayer(from))
	if err != nil {
		return "", fmt.Errorf("failed to build transfer: %w", err)
	}
	return c.signAndSend(ctx, tx, signer, latest.Value.LastValidBlockHeight, onSigned)
}

// SignAndSendEncoded signs a base64 encoded transaction built elsewhere (a
// Jupiter swap) and submits it.
func (c *Client) SignAndSendEncoded(ctx context.Context, txBase64 string, signer solana.PrivateKey) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("failed to decode transaction: %w", err)
	}
	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse transaction: %w", err)
	}
	return c.signAndSend(ctx, tx, signer, 0, nil)
}

func (c *Client) signAndSend(ctx context.Context, tx *solana.Transaction, signer solana.PrivateKey, lastValidBlockHeight uint64, onSigned SignedFunc) (string, error) {
	signerKey := signer.PublicKey()
	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(signerKey) {
			return &signer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if len(tx.Signatures) == 0 {
		return "", fmt.Errorf("transaction has no signatures")
	}
	// the fee payer signature is the transaction id
	sig := tx.Signatures[0]
	if onSigned != nil {
		if err := onSigned(sig.String(), lastValidBlockHeight); err != nil {
			return "", err
		}
	}

	if _, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	}); err != nil {
		return "", retry.Transient(fmt.Errorf("sendTransaction %s: %w", sig, err))
	}
	c.logger.Sugar().Infow("Sent transaction", zap.String("signature", sig.String()))

	if err := c.waitForConfirmation(ctx, sig); err != nil {
		return "", err
	}
	return sig.String(), nil
}

func (c *Client) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	for i := 0; i < c.config.ConfirmPolls; i++ {
		res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && res != nil && len(res.Value) > 0 && res.Value[0] != nil {
			status := res.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%s: %v: %w", sig, status.Err, ErrTransactionFailed)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.ConfirmInterval):
		}
	}
	// not transient: resending could land the transfer twice
	return fmt.Errorf("%s after %d polls: %w", sig, c.config.ConfirmPolls, ErrUnconfirmed)
}

// SignatureState looks a previously submitted signature up. A signature the
// cluster has never seen is expired once the block height passes
// lastValidBlockHeight, and pending until then.
func (c *Client) SignatureState(ctx context.Context, signature string, lastValidBlockHeight uint64) (TransferState, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return TransferPending, fmt.Errorf("invalid signature %q: %w", signature, err)
	}
	res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return TransferPending, retry.Transient(fmt.Errorf("getSignatureStatuses: %w", err))
	}
	if res != nil && len(res.Value) > 0 && res.Value[0] != nil {
		status := res.Value[0]
		if status.Err != nil {
			return TransferFailed, nil
		}
		if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			return TransferLanded, nil
		}
		return TransferPending, nil
	}

	height, err := c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return TransferPending, retry.Transient(fmt.Errorf("getBlockHeight: %w", err))
	}
	if height > lastValidBlockHeight {
		return TransferExpired, nil
	}
	return TransferPending, nil
}

// ParsePrivateKey decodes a base58 secret key.
func ParsePrivateKey(key string) (solana.PrivateKey, error) {
	if key == "" {
		return nil, fmt.Errorf("private key is not configured")
	}
	pk, err := solana.PrivateKeyFromBase58(key)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return pk, nil
}
