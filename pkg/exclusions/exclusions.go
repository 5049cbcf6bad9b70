// Package exclusions loads wallet exclusion lists from YAML and applies them
// to the store. Excluded wallets (pools, exchanges, the team) never receive
// hash power.
package exclusions

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Entry struct {
	Wallet string `yaml:"wallet"`
	Reason string `yaml:"reason"`
}

// File is the on-disk format:
//
//	wallets:
//	  - wallet: <base58 address>
//	    reason: raydium pool
type File struct {
	Wallets []*Entry `yaml:"wallets"`
}

// Parse decodes and validates an exclusion file. Every invalid address is
// reported, not only the first.
func Parse(r io.Reader) ([]*Entry, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return []*Entry{}, nil
		}
		return nil, errors.Wrap(err, "failed to decode exclusion file")
	}

	var invalid []string
	seen := make(map[string]struct{}, len(f.Wallets))
	entries := make([]*Entry, 0, len(f.Wallets))
	for i, e := range f.Wallets {
		if e == nil || !utils.IsValidWalletAddress(e.Wallet) {
			invalid = append(invalid, fmt.Sprintf("entry %d", i))
			continue
		}
		if _, ok := seen[e.Wallet]; ok {
			continue
		}
		seen[e.Wallet] = struct{}{}
		entries = append(entries, e)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid wallet address in %v", invalid)
	}
	return entries, nil
}

func LoadFile(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	return Parse(f)
}

// Import upserts entries. Existing wallets keep their AddedAt and take the
// new reason.
func Import(ctx context.Context, store storage.ExclusionStore, entries []*Entry, clock clockwork.Clock, l *zap.Logger) (int, error) {
	now := clock.Now().UTC()
	for i, e := range entries {
		err := store.AddExcludedWallet(ctx, &storage.ExcludedWallet{
			Wallet:  e.Wallet,
			Reason:  e.Reason,
			AddedAt: now,
		})
		if err != nil {
			return i, errors.Wrapf(err, "failed to exclude %s", e.Wallet)
		}
	}
	l.Sugar().Infow("Imported excluded wallets", zap.Int("count", len(entries)))
	return len(entries), nil
}

// Export writes the current exclusion list in the same format Parse reads.
func Export(ctx context.Context, store storage.ExclusionStore, w io.Writer) error {
	wallets, err := store.ListExcludedWallets(ctx)
	if err != nil {
		return err
	}
	f := File{Wallets: make([]*Entry, 0, len(wallets))}
	for _, ew := range wallets {
		f.Wallets = append(f.Wallets, &Entry{Wallet: ew.Wallet, Reason: ew.Reason})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&f); err != nil {
		return err
	}
	return enc.Close()
}
