// Package twab computes time-weighted average balances from persisted
// snapshots. Every value it returns can be recomputed from the balances table
// alone.
package twab

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const resultPrecision = 6

type Point struct {
	Timestamp time.Time
	Balance   uint64
}

// Compute returns the time-weighted average of points over
// [windowStart, windowEnd]. Points must be in ascending time order; the first
// may precede windowStart and is then carried into the window. Each balance
// holds until the next point and the last one until windowEnd. When the first
// point falls inside the window its balance is applied from windowStart.
func Compute(points []Point, windowStart, windowEnd time.Time) decimal.Decimal {
	if len(points) == 0 {
		return decimal.Zero
	}
	if len(points) == 1 {
		return utils.DecimalFromUint64(points[0].Balance)
	}
	total := windowEnd.Sub(windowStart)
	if total <= 0 {
		return utils.DecimalFromUint64(points[len(points)-1].Balance)
	}

	weighted := decimal.Zero
	for i, p := range points {
		segStart := p.Timestamp
		if i == 0 || segStart.Before(windowStart) {
			segStart = windowStart
		}
		segEnd := windowEnd
		if i+1 < len(points) && points[i+1].Timestamp.Before(windowEnd) {
			segEnd = points[i+1].Timestamp
		}
		if !segEnd.After(segStart) {
			continue
		}
		held := decimal.NewFromInt(int64(segEnd.Sub(segStart)))
		weighted = weighted.Add(utils.DecimalFromUint64(p.Balance).Mul(held))
	}
	return weighted.DivRound(decimal.NewFromInt(int64(total)), resultPrecision)
}

// CurrentBalanceReader supplies the live balance used when no snapshot covers
// the window.
type CurrentBalanceReader interface {
	GetBalance(ctx context.Context, wallet string) (uint64, error)
}

type Calculator struct {
	store    storage.SnapshotStore
	window   time.Duration
	fallback CurrentBalanceReader
	logger   *zap.Logger
}

// NewCalculator builds a calculator over the trailing window. fallback may be
// nil, in which case wallets without snapshots in range get 0.
func NewCalculator(store storage.SnapshotStore, window time.Duration, fallback CurrentBalanceReader, l *zap.Logger) *Calculator {
	return &Calculator{
		store:    store,
		window:   window,
		fallback: fallback,
		logger:   l,
	}
}

func (c *Calculator) Window() time.Duration {
	return c.window
}

// timeline returns the carry-in snapshot (if any) followed by every snapshot
// inside (now - window, now].
func (c *Calculator) timeline(ctx context.Context, now time.Time) ([]*storage.Snapshot, error) {
	start := now.Add(-c.window)
	carry, err := c.store.GetSnapshotAtOrBefore(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to load carry-in snapshot: %w", err)
	}
	inWindow, err := c.store.ListSnapshotsBetween(ctx, start, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load window snapshots: %w", err)
	}
	if carry == nil {
		return inWindow, nil
	}
	return append([]*storage.Snapshot{carry}, inWindow...), nil
}

func (c *Calculator) pointsByWallet(ctx context.Context, snapshots []*storage.Snapshot, wallets []string) (map[string][]Point, error) {
	ids := make([]uint64, 0, len(snapshots))
	for _, s := range snapshots {
		ids = append(ids, s.Id)
	}
	balances, err := c.store.ListBalancesForSnapshots(ctx, ids, wallets)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}

	held := make(map[uint64]map[string]uint64, len(snapshots))
	seen := make(map[string]struct{})
	for _, b := range balances {
		if held[b.SnapshotId] == nil {
			held[b.SnapshotId] = make(map[string]uint64)
		}
		held[b.SnapshotId][b.Wallet] = b.Balance
		seen[b.Wallet] = struct{}{}
	}
	if len(wallets) == 0 {
		for w := range seen {
			wallets = append(wallets, w)
		}
		sort.Strings(wallets)
	}

	out := make(map[string][]Point, len(wallets))
	for _, w := range wallets {
		points := make([]Point, 0, len(snapshots))
		for _, s := range snapshots {
			// absent from a snapshot means nothing was held at that time
			points = append(points, Point{Timestamp: s.Timestamp, Balance: held[s.Id][w]})
		}
		out[w] = points
	}
	return out, nil
}

// Twab returns the wallet's time-weighted average balance over the window
// ending at now.
func (c *Calculator) Twab(ctx context.Context, wallet string, now time.Time) (decimal.Decimal, error) {
	result, err := c.All(ctx, []string{wallet}, now)
	if err != nil {
		return decimal.Zero, err
	}
	return result[wallet], nil
}

// All computes TWABs for wallets, or for every wallet with a balance in the
// window when wallets is empty.
func (c *Calculator) All(ctx context.Context, wallets []string, now time.Time) (map[string]decimal.Decimal, error) {
	snapshots, err := c.timeline(ctx, now)
	if err != nil {
		return nil, err
	}

	result := make(map[string]decimal.Decimal, len(wallets))
	if len(snapshots) == 0 {
		for _, w := range wallets {
			result[w] = c.fallbackBalance(ctx, w)
		}
		return result, nil
	}

	points, err := c.pointsByWallet(ctx, snapshots, wallets)
	if err != nil {
		return nil, err
	}
	start := now.Add(-c.window)
	for w, p := range points {
		result[w] = Compute(p, start, now)
	}
	return result, nil
}

func (c *Calculator) fallbackBalance(ctx context.Context, wallet string) decimal.Decimal {
	if c.fallback == nil {
		return decimal.Zero
	}
	bal, err := c.fallback.GetBalance(ctx, wallet)
	if err != nil {
		c.logger.Sugar().Warnw("Failed to read current balance for TWAB fallback",
			zap.String("wallet", wallet),
			zap.Error(err),
		)
		return decimal.Zero
	}
	return utils.DecimalFromUint64(bal)
}
