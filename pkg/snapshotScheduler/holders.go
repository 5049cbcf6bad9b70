package snapshotScheduler

import (
	"context"
	"sort"

	"github.com/copperlabs/engine/pkg/clients/helius"
)

type heliusHolders struct {
	client *helius.Client
	mint   string
}

// NewHeliusHolderSource discovers holders with the DAS getTokenAccounts call.
func NewHeliusHolderSource(client *helius.Client, mint string) HolderSource {
	return &heliusHolders{client: client, mint: mint}
}

func (h *heliusHolders) Holders(ctx context.Context) ([]string, error) {
	accounts, err := h.client.GetTokenAccounts(ctx, h.mint)
	if err != nil {
		return nil, err
	}
	balances := helius.HolderBalances(accounts)
	out := make([]string, 0, len(balances))
	for owner := range balances {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out, nil
}
