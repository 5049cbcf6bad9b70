package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/copperlabs/engine/pkg/retry"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	ProBaseUrl    = "https://pro-api.coingecko.com/api/v3"
	PublicBaseUrl = "https://api.coingecko.com/api/v3"

	PlatformSolana = "solana"
)

var ErrNoPrice = errors.New("no price returned")

type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	logger     *zap.Logger
}

// NewClient builds a client against the pro API when an api key is given and
// the public API otherwise. baseURL overrides both.
func NewClient(apiKey string, baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = PublicBaseUrl
		if apiKey != "" {
			baseURL = ProBaseUrl
		}
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Add(k, v)
	}
	req.URL.RawQuery = q.Encode()

	req.Header.Set("accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	c.logger.Sugar().Debugw("Making CoinGecko request",
		zap.String("path", path),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Transient(errors.Wrap(err, "failed to make request"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Transient(errors.Wrap(err, "failed to read response body"))
	}
	if resp.StatusCode != http.StatusOK {
		return &retry.StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to unmarshal response")
	}
	return nil
}

// GetTokenPriceUsd returns the USD price of the token at address on platform.
func (c *Client) GetTokenPriceUsd(ctx context.Context, platform, address string) (decimal.Decimal, error) {
	var res map[string]map[string]decimal.Decimal
	err := c.get(ctx, fmt.Sprintf("/simple/token_price/%s", platform), map[string]string{
		"contract_addresses": address,
		"vs_currencies":      "usd",
	}, &res)
	if err != nil {
		return decimal.Zero, err
	}
	// coingecko lowercases EVM addresses but keeps base58 ones as given
	for k, prices := range res {
		if strings.EqualFold(k, address) {
			if p, ok := prices["usd"]; ok && p.IsPositive() {
				return p, nil
			}
		}
	}
	return decimal.Zero, ErrNoPrice
}

// GetCoinPriceUsd returns the USD price of a coin by its coingecko id.
func (c *Client) GetCoinPriceUsd(ctx context.Context, coinID string) (decimal.Decimal, error) {
	var res map[string]map[string]decimal.Decimal
	err := c.get(ctx, "/simple/price", map[string]string{
		"ids":           coinID,
		"vs_currencies": "usd",
	}, &res)
	if err != nil {
		return decimal.Zero, err
	}
	if p, ok := res[coinID]["usd"]; ok && p.IsPositive() {
		return p, nil
	}
	return decimal.Zero, ErrNoPrice
}
