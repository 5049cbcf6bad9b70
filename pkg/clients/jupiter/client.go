// Package jupiter talks to the Jupiter swap aggregator: quotes, serialized
// swap transactions and token prices.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/copperlabs/engine/pkg/retry"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultQuoteUrl = "https://api.jup.ag/swap/v1/quote"
	DefaultSwapUrl  = "https://api.jup.ag/swap/v1/swap"
	DefaultPriceUrl = "https://api.jup.ag/price/v2"
)

var ErrNoPrice = errors.New("no price returned for mint")

type JupiterClientConfig struct {
	QuoteUrl    string
	SwapUrl     string
	PriceUrl    string
	SlippageBps int
	Timeout     time.Duration
}

type Client struct {
	httpClient *http.Client
	config     *JupiterClientConfig
	logger     *zap.Logger
}

// Quote is a swap route. Raw keeps the exact response so it can be handed
// back to the swap endpoint untouched.
type Quote struct {
	InputMint      string `json:"inputMint"`
	InAmount       string `json:"inAmount"`
	OutputMint     string `json:"outputMint"`
	OutAmount      string `json:"outAmount"`
	SlippageBps    int    `json:"slippageBps"`
	PriceImpactPct string `json:"priceImpactPct"`

	Raw json.RawMessage `json:"-"`
}

// OutAmountRaw parses OutAmount as smallest units.
func (q *Quote) OutAmountRaw() (uint64, error) {
	return strconv.ParseUint(q.OutAmount, 10, 64)
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports string          `json:"prioritizationFeeLamports"`
}

type SwapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	Error                string `json:"error,omitempty"`
}

type priceResponse struct {
	Data map[string]*struct {
		Id    string           `json:"id"`
		Price *decimal.Decimal `json:"price"`
	} `json:"data"`
}

func NewClient(cfg *JupiterClientConfig, l *zap.Logger) *Client {
	if cfg.QuoteUrl == "" {
		cfg.QuoteUrl = DefaultQuoteUrl
	}
	if cfg.SwapUrl == "" {
		cfg.SwapUrl = DefaultSwapUrl
	}
	if cfg.PriceUrl == "" {
		cfg.PriceUrl = DefaultPriceUrl
	}
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = 100
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		config:     cfg,
		logger:     l,
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retry.Transient(errors.Wrap(err, "failed to make request"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transient(errors.Wrap(err, "failed to read response body"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// GetQuote asks for the best route swapping amount (smallest units of
// inputMint) into outputMint.
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64) (*Quote, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(c.config.SlippageBps))
	q.Set("onlyDirectRoutes", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.QuoteUrl+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	c.logger.Sugar().Debugw("Requesting Jupiter quote",
		zap.String("inputMint", inputMint),
		zap.String("outputMint", outputMint),
		zap.Uint64("amount", amount),
	)

	body, err := c.do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get quote")
	}
	quote := &Quote{}
	if err := json.Unmarshal(body, quote); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal quote")
	}
	if quote.OutAmount == "" {
		return nil, fmt.Errorf("quote has no output amount")
	}
	quote.Raw = json.RawMessage(body)
	return quote, nil
}

// GetSwapTransaction returns the base64 encoded, unsigned swap transaction
// for quote with userPublicKey as the fee payer.
func (c *Client) GetSwapTransaction(ctx context.Context, quote *Quote, userPublicKey string) (*SwapResponse, error) {
	payload, err := json.Marshal(&swapRequest{
		QuoteResponse:             quote.Raw,
		UserPublicKey:             userPublicKey,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: "auto",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal swap request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.SwapUrl, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get swap transaction")
	}
	swap := &SwapResponse{}
	if err := json.Unmarshal(body, swap); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal swap response")
	}
	if swap.Error != "" {
		return nil, fmt.Errorf("swap error: %s", swap.Error)
	}
	if swap.SwapTransaction == "" {
		return nil, fmt.Errorf("no swapTransaction in response")
	}
	return swap, nil
}

// GetPrice returns the USD price of one whole token of mint.
func (c *Client) GetPrice(ctx context.Context, mint string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.PriceUrl+"?ids="+url.QueryEscape(mint), nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to create request")
	}
	body, err := c.do(req)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to get price")
	}
	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to unmarshal price")
	}
	entry, ok := resp.Data[mint]
	if !ok || entry == nil || entry.Price == nil || !entry.Price.IsPositive() {
		return decimal.Zero, ErrNoPrice
	}
	return *entry.Price, nil
}
