package jupiter

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	solMint    = "So11111111111111111111111111111111111111112"
	copperMint = "CoPPeRmint1111111111111111111111111111111111"
)

func Test_JupiterClient(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	client := NewClient(&JupiterClientConfig{}, zap.NewNop())
	ctx := context.Background()

	quoteBody := `{"inputMint":"` + solMint + `","inAmount":"800000000","outputMint":"` + copperMint +
		`","outAmount":"123456789","slippageBps":100,"priceImpactPct":"0.01","routePlan":[]}`

	t.Run("Quote then swap passes the quote back untouched", func(t *testing.T) {
		httpmock.RegisterResponder("GET", DefaultQuoteUrl, func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "800000000", req.URL.Query().Get("amount"))
			assert.Equal(t, "100", req.URL.Query().Get("slippageBps"))
			return httpmock.NewStringResponse(200, quoteBody), nil
		})
		httpmock.RegisterResponder("POST", DefaultSwapUrl, func(req *http.Request) (*http.Response, error) {
			var body map[string]json.RawMessage
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			assert.JSONEq(t, quoteBody, string(body["quoteResponse"]))
			assert.Equal(t, `"BuybackWa11et"`, string(body["userPublicKey"]))
			return httpmock.NewStringResponse(200, `{"swapTransaction":"AQID","lastValidBlockHeight":42}`), nil
		})

		quote, err := client.GetQuote(ctx, solMint, copperMint, 800_000_000)
		require.Nil(t, err)
		out, err := quote.OutAmountRaw()
		require.Nil(t, err)
		assert.Equal(t, uint64(123456789), out)

		swap, err := client.GetSwapTransaction(ctx, quote, "BuybackWa11et")
		require.Nil(t, err)
		assert.Equal(t, "AQID", swap.SwapTransaction)
		assert.Equal(t, uint64(42), swap.LastValidBlockHeight)
	})

	t.Run("Swap errors surface", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder("POST", DefaultSwapUrl, httpmock.NewStringResponder(200, `{"error":"route expired"}`))
		_, err := client.GetSwapTransaction(ctx, &Quote{Raw: json.RawMessage(quoteBody)}, "w")
		require.NotNil(t, err)
		assert.Contains(t, err.Error(), "route expired")
	})

	t.Run("Price", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder("GET", DefaultPriceUrl,
			httpmock.NewStringResponder(200, `{"data":{"`+copperMint+`":{"id":"`+copperMint+`","type":"derivedPrice","price":"0.0042"}}}`))

		price, err := client.GetPrice(ctx, copperMint)
		require.Nil(t, err)
		assert.True(t, price.Equal(decimal.RequireFromString("0.0042")))

		_, err = client.GetPrice(ctx, "other")
		assert.ErrorIs(t, err, ErrNoPrice)
	})
}
