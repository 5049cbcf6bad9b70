package baseDataService

import (
	"context"
	"errors"

	"github.com/copperlabs/engine/pkg/storage"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ToPage clamps the pagination to the store's limits.
func (p *Pagination) ToPage() storage.Page {
	if p == nil {
		return storage.NormalizePage(storage.Page{})
	}
	return storage.NormalizePage(storage.Page{Limit: p.Limit, Offset: p.Offset})
}

type BaseDataService struct {
	Store storage.Store
}

// GetLatestSnapshot returns nil when no snapshot has been taken yet.
func (b *BaseDataService) GetLatestSnapshot(ctx context.Context) (*storage.Snapshot, error) {
	snapshot, err := b.Store.GetLatestSnapshot(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return snapshot, nil
}

// GetHolderBalances returns the positive balances of the latest snapshot
// without excluded wallets.
func (b *BaseDataService) GetHolderBalances(ctx context.Context) (*storage.Snapshot, map[string]uint64, error) {
	snapshot, err := b.GetLatestSnapshot(ctx)
	if err != nil || snapshot == nil {
		return nil, map[string]uint64{}, err
	}
	balances, err := b.Store.ListBalancesForSnapshots(ctx, []uint64{snapshot.Id}, nil)
	if err != nil {
		return nil, nil, err
	}
	excluded, err := b.Store.ListExcludedWallets(ctx)
	if err != nil {
		return nil, nil, err
	}
	skip := make(map[string]struct{}, len(excluded))
	for _, e := range excluded {
		skip[e.Wallet] = struct{}{}
	}
	out := make(map[string]uint64, len(balances))
	for _, bal := range balances {
		if _, ok := skip[bal.Wallet]; ok || bal.Balance == 0 {
			continue
		}
		out[bal.Wallet] = bal.Balance
	}
	return snapshot, out, nil
}
