package helius

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/copperlabs/engine/pkg/retry"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testUrl = "https://helius.test"

func pageOf(start, n int) string {
	accounts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		accounts = append(accounts, fmt.Sprintf(`{"address":"acct%d","owner":"owner%d","amount":%d}`, start+i, (start+i)%1000, 10))
	}
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":"x","result":{"token_accounts":[%s]}}`, strings.Join(accounts, ","))
}

func Test_HeliusClient(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	client := NewClient(&HeliusClientConfig{RpcUrl: testUrl}, zap.NewNop())
	ctx := context.Background()

	t.Run("getTokenAccounts pages until a short page", func(t *testing.T) {
		pages := make([]int, 0)
		httpmock.RegisterResponder("POST", testUrl, func(req *http.Request) (*http.Response, error) {
			var body struct {
				Method string `json:"method"`
				Params struct {
					Page  int    `json:"page"`
					Mint  string `json:"mint"`
					Limit int    `json:"limit"`
				} `json:"params"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			pages = append(pages, body.Params.Page)
			if body.Params.Page == 1 {
				return httpmock.NewStringResponse(200, pageOf(0, 1000)), nil
			}
			return httpmock.NewStringResponse(200, pageOf(1000, 3)), nil
		})

		accounts, err := client.GetTokenAccounts(ctx, "mint")
		require.Nil(t, err)
		assert.Equal(t, []int{1, 2}, pages)
		assert.Len(t, accounts, 1003)

		byOwner := HolderBalances(accounts)
		assert.Equal(t, uint64(20), byOwner["owner0"])
		assert.Equal(t, uint64(10), byOwner["owner999"])
	})

	t.Run("getTokenSupply", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder("POST", testUrl,
			httpmock.NewStringResponder(200, `{"jsonrpc":"2.0","id":"copper-supply","result":{"value":{"amount":"1000000000000000","decimals":6}}}`))

		supply, err := client.GetTokenSupply(ctx, "mint")
		require.Nil(t, err)
		assert.Equal(t, uint64(1_000_000_000_000_000), supply)
	})

	t.Run("RPC errors are returned", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder("POST", testUrl,
			httpmock.NewStringResponder(200, `{"jsonrpc":"2.0","id":"x","error":{"code":-32602,"message":"invalid mint"}}`))

		_, err := client.GetTokenSupply(ctx, "mint")
		require.NotNil(t, err)
		assert.Contains(t, err.Error(), "invalid mint")
		assert.False(t, retry.IsRetryable(err))
	})

	t.Run("Rate limiting is transient", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder("POST", testUrl, httpmock.NewStringResponder(429, `slow down`))

		_, err := client.GetTokenAccounts(ctx, "mint")
		require.NotNil(t, err)
		assert.True(t, retry.IsRetryable(err))
	})
}
