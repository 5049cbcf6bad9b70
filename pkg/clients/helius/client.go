// Package helius is a JSON-RPC client for the Helius DAS and token endpoints
// used to discover COPPER holders.
package helius

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/copperlabs/engine/pkg/retry"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultRpcUrl = "https://mainnet.helius-rpc.com"

	tokenAccountsPageSize = 1000
	maxTokenAccountPages  = 100
)

type HeliusClientConfig struct {
	RpcUrl  string
	ApiKey  string
	Timeout time.Duration
}

type Client struct {
	httpClient *http.Client
	config     *HeliusClientConfig
	logger     *zap.Logger
}

type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("helius rpc error %d: %s", e.Code, e.Message)
}

type RPCResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error,omitempty"`
}

// TokenAccount is one holder of the mint as reported by getTokenAccounts.
type TokenAccount struct {
	Address string `json:"address"`
	Owner   string `json:"owner"`
	Amount  uint64 `json:"amount"`
}

type tokenAccountsResult struct {
	Total         int             `json:"total"`
	Limit         int             `json:"limit"`
	Page          int             `json:"page"`
	TokenAccounts []*TokenAccount `json:"token_accounts"`
}

type tokenSupplyResult struct {
	Value struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"value"`
}

func NewClient(cfg *HeliusClientConfig, l *zap.Logger) *Client {
	if cfg.RpcUrl == "" {
		cfg.RpcUrl = DefaultRpcUrl
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		config:     cfg,
		logger:     l,
	}
}

func (c *Client) endpoint() string {
	if c.config.ApiKey == "" {
		return c.config.RpcUrl
	}
	return fmt.Sprintf("%s/?api-key=%s", c.config.RpcUrl, c.config.ApiKey)
}

// Call performs one JSON-RPC request and returns the raw result. Transport
// failures and retryable status codes come back as transient errors.
func (c *Client) Call(ctx context.Context, req *RPCRequest) (json.RawMessage, error) {
	req.JSONRPC = "2.0"
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Sugar().Debugw("Making Helius request",
		zap.String("method", req.Method),
		zap.String("id", req.ID),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, retry.Transient(errors.Wrap(err, "failed to make request"))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transient(errors.Wrap(err, "failed to read response body"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// GetTokenAccounts pages through every non-zero holder of mint.
func (c *Client) GetTokenAccounts(ctx context.Context, mint string) ([]*TokenAccount, error) {
	if mint == "" {
		return nil, fmt.Errorf("token mint is not configured")
	}
	holders := make([]*TokenAccount, 0)
	for page := 1; page <= maxTokenAccountPages; page++ {
		raw, err := c.Call(ctx, &RPCRequest{
			ID:     fmt.Sprintf("copper-snapshot-%d", page),
			Method: "getTokenAccounts",
			Params: map[string]any{
				"mint":  mint,
				"page":  page,
				"limit": tokenAccountsPageSize,
				"displayOptions": map[string]any{
					"showZeroBalance": false,
				},
			},
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch token accounts page %d", page)
		}
		var result tokenAccountsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, errors.Wrap(err, "failed to decode token accounts")
		}
		for _, a := range result.TokenAccounts {
			if a.Owner != "" && a.Amount > 0 {
				holders = append(holders, a)
			}
		}
		if len(result.TokenAccounts) < tokenAccountsPageSize {
			break
		}
	}
	c.logger.Sugar().Infow("Fetched token holders",
		zap.Int("count", len(holders)),
		zap.String("mint", mint),
	)
	return holders, nil
}

// GetTokenSupply returns the raw supply of mint.
func (c *Client) GetTokenSupply(ctx context.Context, mint string) (uint64, error) {
	raw, err := c.Call(ctx, &RPCRequest{
		ID:     "copper-supply",
		Method: "getTokenSupply",
		Params: []any{mint},
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to fetch token supply")
	}
	var result tokenSupplyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, errors.Wrap(err, "failed to decode token supply")
	}
	if result.Value.Amount == "" {
		return 0, nil
	}
	supply, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "invalid token supply amount")
	}
	return supply, nil
}

// HolderBalances collapses token accounts into one balance per owner.
func HolderBalances(accounts []*TokenAccount) map[string]uint64 {
	out := make(map[string]uint64, len(accounts))
	for _, a := range accounts {
		out[a.Owner] += a.Amount
	}
	return out
}
