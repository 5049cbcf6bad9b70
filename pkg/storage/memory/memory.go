// Package memory is an in-process implementation of storage.Store. It keeps
// the same atomicity guarantees as the postgres store by holding a single
// mutex for every operation, and is used by tests and the preview tooling.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/copperlabs/engine/pkg/storage"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu sync.Mutex

	nextId uint64

	snapshots  []*storage.Snapshot
	balances   map[uint64][]*storage.Balance
	streaks    map[string]*storage.HoldStreak
	sellEvents map[string]*storage.SellEvent
	excluded   map[string]*storage.ExcludedWallet
	rewards    []*storage.CreatorReward
	buybacks   []*storage.Buyback

	distributions []*storage.Distribution
	recipients    []*storage.DistributionRecipient

	lock  storage.DistributionLock
	stats *storage.SystemStats
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		balances:   make(map[uint64][]*storage.Balance),
		streaks:    make(map[string]*storage.HoldStreak),
		sellEvents: make(map[string]*storage.SellEvent),
		excluded:   make(map[string]*storage.ExcludedWallet),
		lock:       storage.DistributionLock{Id: 1},
	}
}

func (s *Store) id() uint64 {
	s.nextId++
	return s.nextId
}

func copyOf[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func paginate[T any](l []T, page storage.Page) []T {
	page = storage.NormalizePage(page)
	if page.Offset >= len(l) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(l) {
		end = len(l)
	}
	return l[page.Offset:end]
}

// Snapshots

func (s *Store) InsertSnapshot(ctx context.Context, snapshot *storage.Snapshot, balances []*storage.Balance) (*storage.Snapshot, error) {
	if err := storage.ValidateSnapshotBalances(balances); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := copyOf(snapshot)
	snap.Id = s.id()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = snap.Timestamp
	}
	rows := make([]*storage.Balance, 0, len(balances))
	for _, b := range balances {
		row := copyOf(b)
		row.Id = s.id()
		row.SnapshotId = snap.Id
		rows = append(rows, row)
	}
	s.snapshots = append(s.snapshots, snap)
	sort.SliceStable(s.snapshots, func(i, j int) bool {
		if s.snapshots[i].Timestamp.Equal(s.snapshots[j].Timestamp) {
			return s.snapshots[i].Id < s.snapshots[j].Id
		}
		return s.snapshots[i].Timestamp.Before(s.snapshots[j].Timestamp)
	})
	s.balances[snap.Id] = rows
	return copyOf(snap), nil
}

func (s *Store) GetLatestSnapshot(ctx context.Context) (*storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return nil, nil
	}
	return copyOf(s.snapshots[len(s.snapshots)-1]), nil
}

func (s *Store) GetSnapshotAtOrBefore(ctx context.Context, t time.Time) (*storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *storage.Snapshot
	for _, snap := range s.snapshots {
		if snap.Timestamp.After(t) {
			break
		}
		found = snap
	}
	return copyOf(found), nil
}

func (s *Store) ListSnapshotsBetween(ctx context.Context, start, end time.Time) ([]*storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.Snapshot, 0)
	for _, snap := range s.snapshots {
		if snap.Timestamp.After(start) && !snap.Timestamp.After(end) {
			out = append(out, copyOf(snap))
		}
	}
	return out, nil
}

func (s *Store) ListBalancesForSnapshots(ctx context.Context, snapshotIds []uint64, wallets []string) ([]*storage.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.Balance, 0)
	for _, id := range snapshotIds {
		for _, b := range s.balances[id] {
			if len(wallets) > 0 && !slices.Contains(wallets, b.Wallet) {
				continue
			}
			out = append(out, copyOf(b))
		}
	}
	return out, nil
}

func (s *Store) ListWalletBalanceHistory(ctx context.Context, wallet string, page storage.Page) ([]*storage.WalletBalancePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	points := make([]*storage.WalletBalancePoint, 0)
	for i := len(s.snapshots) - 1; i >= 0; i-- {
		snap := s.snapshots[i]
		for _, b := range s.balances[snap.Id] {
			if b.Wallet == wallet {
				points = append(points, &storage.WalletBalancePoint{
					SnapshotId: snap.Id,
					Timestamp:  snap.Timestamp,
					Balance:    b.Balance,
				})
			}
		}
	}
	return paginate(points, page), nil
}

func (s *Store) DeleteSnapshotsBefore(ctx context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]*storage.Snapshot, 0, len(s.snapshots))
	var deleted int64
	for _, snap := range s.snapshots {
		if snap.Timestamp.Before(t) {
			delete(s.balances, snap.Id)
			deleted++
			continue
		}
		kept = append(kept, snap)
	}
	s.snapshots = kept
	return deleted, nil
}

// Streaks

func (s *Store) GetHoldStreak(ctx context.Context, wallet string) (*storage.HoldStreak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyOf(s.streaks[wallet]), nil
}

func (s *Store) ListHoldStreaks(ctx context.Context, wallets []string) ([]*storage.HoldStreak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.HoldStreak, 0)
	if len(wallets) == 0 {
		for _, st := range s.streaks {
			out = append(out, copyOf(st))
		}
	} else {
		for _, w := range wallets {
			if st, ok := s.streaks[w]; ok {
				out = append(out, copyOf(st))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out, nil
}

func (s *Store) applyStreakMutation(wallet string, fn storage.StreakMutation) (*storage.HoldStreak, error) {
	current := copyOf(s.streaks[wallet])
	next, err := fn(copyOf(current))
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}
	next.Wallet = wallet
	if err := storage.ValidateHoldStreak(next); err != nil {
		return nil, err
	}
	s.streaks[wallet] = copyOf(next)
	return next, nil
}

func (s *Store) MutateHoldStreak(ctx context.Context, wallet string, fn storage.StreakMutation) (*storage.HoldStreak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyStreakMutation(wallet, fn)
}

func (s *Store) RecordSell(ctx context.Context, event *storage.SellEvent, fn storage.StreakMutation) (*storage.HoldStreak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sellEventKey(event)
	if _, ok := s.sellEvents[key]; ok {
		return nil, fmt.Errorf("sell event %s for %s: %w", event.TxSignature, event.Wallet, storage.ErrDuplicate)
	}
	streak, err := s.applyStreakMutation(event.Wallet, fn)
	if err != nil {
		return nil, err
	}
	ev := copyOf(event)
	ev.Id = s.id()
	s.sellEvents[key] = ev
	return streak, nil
}

func sellEventKey(ev *storage.SellEvent) string {
	return ev.TxSignature + "/" + ev.Wallet
}

// Exclusions

func (s *Store) ListExcludedWallets(ctx context.Context) ([]*storage.ExcludedWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.ExcludedWallet, 0, len(s.excluded))
	for _, w := range s.excluded {
		out = append(out, copyOf(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out, nil
}

func (s *Store) AddExcludedWallet(ctx context.Context, wallet *storage.ExcludedWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.excluded[wallet.Wallet]; ok {
		existing.Reason = wallet.Reason
		return nil
	}
	s.excluded[wallet.Wallet] = copyOf(wallet)
	return nil
}

func (s *Store) RemoveExcludedWallet(ctx context.Context, wallet string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.excluded[wallet]; !ok {
		return false, nil
	}
	delete(s.excluded, wallet)
	return true, nil
}

// Creator rewards and buybacks

func (s *Store) InsertCreatorReward(ctx context.Context, reward *storage.CreatorReward) (*storage.CreatorReward, error) {
	if err := storage.ValidateCreatorReward(reward); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if reward.TxSignature != nil {
		for _, r := range s.rewards {
			if r.TxSignature != nil && *r.TxSignature == *reward.TxSignature {
				return nil, fmt.Errorf("creator reward %s: %w", *reward.TxSignature, storage.ErrDuplicate)
			}
		}
	}
	r := copyOf(reward)
	r.Id = s.id()
	s.rewards = append(s.rewards, r)
	return copyOf(r), nil
}

func (s *Store) ListUnprocessedCreatorRewards(ctx context.Context) ([]*storage.CreatorReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.CreatorReward, 0)
	for _, r := range s.rewards {
		if !r.Processed {
			out = append(out, copyOf(r))
		}
	}
	return out, nil
}

func (s *Store) RecordBuyback(ctx context.Context, buyback *storage.Buyback, rewardIds []uint64, processedAt time.Time) (*storage.Buyback, error) {
	if err := storage.ValidateBuyback(buyback); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buybacks {
		if b.TxSignature == buyback.TxSignature {
			return nil, fmt.Errorf("buyback %s: %w", buyback.TxSignature, storage.ErrDuplicate)
		}
	}
	consumed := make([]*storage.CreatorReward, 0, len(rewardIds))
	for _, id := range rewardIds {
		idx := slices.IndexFunc(s.rewards, func(r *storage.CreatorReward) bool { return r.Id == id })
		if idx < 0 {
			return nil, fmt.Errorf("creator reward %d: %w", id, storage.ErrNotFound)
		}
		if s.rewards[idx].Processed {
			return nil, fmt.Errorf("creator reward %d: %w", id, storage.ErrAlreadyProcessed)
		}
		consumed = append(consumed, s.rewards[idx])
	}
	b := copyOf(buyback)
	b.Id = s.id()
	s.buybacks = append(s.buybacks, b)
	for _, r := range consumed {
		r.Processed = true
		at := processedAt
		r.ProcessedAt = &at
	}
	return copyOf(b), nil
}

func (s *Store) ListBuybacks(ctx context.Context, page storage.Page) ([]*storage.Buyback, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := make([]*storage.Buyback, 0, len(s.buybacks))
	for _, b := range s.buybacks {
		sorted = append(sorted, copyOf(b))
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ExecutedAt.After(sorted[j].ExecutedAt) })
	return paginate(sorted, page), int64(len(sorted)), nil
}

func (s *Store) GetPoolLedger(ctx context.Context) (*storage.PoolLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := &storage.PoolLedger{}
	for _, b := range s.buybacks {
		ledger.TotalBoughtCopper += b.CopperAmount
		if ledger.FirstBuybackAt == nil || b.ExecutedAt.Before(*ledger.FirstBuybackAt) {
			at := b.ExecutedAt
			ledger.FirstBuybackAt = &at
		}
	}
	for _, d := range s.distributions {
		ledger.TotalDistributedCopper += d.PoolAmount
		if ledger.LastDistributionAt == nil || d.ExecutedAt.After(*ledger.LastDistributionAt) {
			at := d.ExecutedAt
			ledger.LastDistributionAt = &at
		}
	}
	return ledger, nil
}

// Distributions

func (s *Store) TryAcquireDistributionLock(ctx context.Context, holder string, now time.Time, staleAfter time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock.LockedAt != nil {
		if staleAfter <= 0 || now.Sub(*s.lock.LockedAt) < staleAfter {
			return false, nil
		}
	}
	at := now
	h := holder
	s.lock.LockedAt = &at
	s.lock.LockedBy = &h
	return true, nil
}

func (s *Store) RenewDistributionLock(ctx context.Context, holder string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock.LockedBy == nil || *s.lock.LockedBy != holder {
		return false, nil
	}
	at := now
	s.lock.LockedAt = &at
	return true, nil
}

func (s *Store) ReleaseDistributionLock(ctx context.Context, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock.LockedBy != nil && *s.lock.LockedBy == holder {
		s.lock.LockedAt = nil
		s.lock.LockedBy = nil
	}
	return nil
}

func (s *Store) GetDistributionLock(ctx context.Context) (*storage.DistributionLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lock
	return &l, nil
}

func (s *Store) InsertDistribution(ctx context.Context, distribution *storage.Distribution, recipients []*storage.DistributionRecipient) (*storage.Distribution, error) {
	if err := storage.ValidateDistribution(distribution, recipients); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := copyOf(distribution)
	d.Id = s.id()
	for _, r := range recipients {
		row := copyOf(r)
		row.Id = s.id()
		row.DistributionId = d.Id
		r.Id = row.Id
		r.DistributionId = d.Id
		s.recipients = append(s.recipients, row)
	}
	s.distributions = append(s.distributions, d)
	return copyOf(d), nil
}

func (s *Store) GetLatestDistribution(ctx context.Context) (*storage.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *storage.Distribution
	for _, d := range s.distributions {
		if latest == nil || !d.ExecutedAt.Before(latest.ExecutedAt) {
			latest = d
		}
	}
	return copyOf(latest), nil
}

func (s *Store) GetDistribution(ctx context.Context, id uint64) (*storage.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.distributions {
		if d.Id == id {
			return copyOf(d), nil
		}
	}
	return nil, nil
}

func (s *Store) ListDistributions(ctx context.Context, page storage.Page) ([]*storage.Distribution, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := make([]*storage.Distribution, 0, len(s.distributions))
	for _, d := range s.distributions {
		sorted = append(sorted, copyOf(d))
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ExecutedAt.After(sorted[j].ExecutedAt) })
	return paginate(sorted, page), int64(len(sorted)), nil
}

func (s *Store) ListDistributionRecipients(ctx context.Context, distributionId uint64) ([]*storage.DistributionRecipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.DistributionRecipient, 0)
	for _, r := range s.recipients {
		if r.DistributionId == distributionId {
			out = append(out, copyOf(r))
		}
	}
	return out, nil
}

func (s *Store) ListWalletRewards(ctx context.Context, wallet string, page storage.Page) ([]*storage.WalletReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	executedAt := make(map[uint64]time.Time, len(s.distributions))
	for _, d := range s.distributions {
		executedAt[d.Id] = d.ExecutedAt
	}
	out := make([]*storage.WalletReward, 0)
	for _, r := range s.recipients {
		if r.Wallet != wallet {
			continue
		}
		out = append(out, &storage.WalletReward{
			DistributionId: r.DistributionId,
			ExecutedAt:     executedAt[r.DistributionId],
			Twab:           r.Twab,
			Multiplier:     r.Multiplier,
			HashPower:      r.HashPower,
			AmountReceived: r.AmountReceived,
			TxSignature:    copyOf(r.TxSignature),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	return paginate(out, page), nil
}

func (s *Store) ListUnpaidRecipients(ctx context.Context, maxAttempts int, limit int) ([]*storage.DistributionRecipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.DistributionRecipient, 0)
	for _, r := range s.recipients {
		if r.TxSignature != nil {
			continue
		}
		if maxAttempts > 0 && r.PayoutAttempts >= maxAttempts && r.PendingSignature == nil {
			continue
		}
		out = append(out, copyOf(r))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) findRecipient(id uint64) (*storage.DistributionRecipient, error) {
	for _, r := range s.recipients {
		if r.Id == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("recipient %d: %w", id, storage.ErrNotFound)
}

func (s *Store) MarkRecipientPaid(ctx context.Context, recipientId uint64, txSignature string, paidAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.findRecipient(recipientId)
	if err != nil {
		return err
	}
	if r.TxSignature != nil {
		return fmt.Errorf("recipient %d: %w", recipientId, storage.ErrRecipientAlreadyPaid)
	}
	sig := txSignature
	at := paidAt
	r.TxSignature = &sig
	r.PaidAt = &at
	r.PayoutAttempts++
	r.LastPayoutError = nil
	r.PendingSignature = nil
	r.PendingLastValidHeight = 0
	return nil
}

func (s *Store) ClaimRecipientPayout(ctx context.Context, recipientId uint64, signature string, lastValidBlockHeight uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.findRecipient(recipientId)
	if err != nil {
		return false, err
	}
	if r.TxSignature != nil || r.PendingSignature != nil {
		return false, nil
	}
	sig := signature
	r.PendingSignature = &sig
	r.PendingLastValidHeight = lastValidBlockHeight
	return true, nil
}

func (s *Store) ReleaseRecipientPayout(ctx context.Context, recipientId uint64, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.findRecipient(recipientId)
	if err != nil {
		return err
	}
	if r.PendingSignature != nil && *r.PendingSignature == signature {
		r.PendingSignature = nil
		r.PendingLastValidHeight = 0
	}
	return nil
}

func (s *Store) MarkRecipientPayoutFailed(ctx context.Context, recipientId uint64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.findRecipient(recipientId)
	if err != nil {
		return err
	}
	msg := reason
	r.PayoutAttempts++
	r.LastPayoutError = &msg
	return nil
}

// Stats

func (s *Store) RefreshSystemStats(ctx context.Context, now time.Time) (*storage.SystemStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &storage.SystemStats{
		Id:               1,
		TotalBuybacksSol: decimal.Zero,
		UpdatedAt:        now,
	}
	if len(s.snapshots) > 0 {
		latest := s.snapshots[len(s.snapshots)-1]
		stats.TotalHolders = latest.TotalHolders
		at := latest.Timestamp
		stats.LastSnapshotAt = &at
	}
	dayAgo := now.Add(-24 * time.Hour)
	for _, ev := range s.sellEvents {
		if ev.DetectedAt.After(dayAgo) {
			stats.TotalVolume24h += ev.TokenAmount
		}
	}
	for _, b := range s.buybacks {
		stats.TotalBuybacksSol = stats.TotalBuybacksSol.Add(b.SolAmount)
		if b.ExecutedAt.After(dayAgo) {
			stats.TotalVolume24h += b.CopperAmount
		}
	}
	for _, d := range s.distributions {
		stats.TotalDistributed += d.PoolAmount
		if stats.LastDistributionAt == nil || d.ExecutedAt.After(*stats.LastDistributionAt) {
			at := d.ExecutedAt
			stats.LastDistributionAt = &at
		}
	}
	s.stats = stats
	return copyOf(stats), nil
}

func (s *Store) GetSystemStats(ctx context.Context) (*storage.SystemStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyOf(s.stats), nil
}
