package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/postgres/helpers"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	insertBatchSize = 1000
	walletInChunk   = 5000
)

type PostgresStore struct {
	Db           *gorm.DB
	Logger       *zap.Logger
	GlobalConfig *config.Config
}

var _ storage.Store = (*PostgresStore)(nil)

func NewPostgresStore(db *gorm.DB, l *zap.Logger, cfg *config.Config) *PostgresStore {
	return &PostgresStore{
		Db:           db,
		Logger:       l,
		GlobalConfig: cfg,
	}
}

// first loads a single row, returning nil when nothing matches.
func first[T any](q *gorm.DB) (*T, error) {
	var row T
	res := q.First(&row)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, res.Error
	}
	return &row, nil
}

func paged(q *gorm.DB, page storage.Page) *gorm.DB {
	page = storage.NormalizePage(page)
	return q.Limit(page.Limit).Offset(page.Offset)
}

// Snapshots

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snapshot *storage.Snapshot, balances []*storage.Balance) (*storage.Snapshot, error) {
	if err := storage.ValidateSnapshotBalances(balances); err != nil {
		return nil, err
	}
	return helpers.WrapTxAndCommit(ctx, func(tx *gorm.DB) (*storage.Snapshot, error) {
		snap := &storage.Snapshot{
			Timestamp:    snapshot.Timestamp,
			TotalHolders: snapshot.TotalHolders,
			TotalSupply:  snapshot.TotalSupply,
			CreatedAt:    snapshot.CreatedAt,
		}
		if res := tx.Clauses(clause.Returning{}).Create(snap); res.Error != nil {
			return nil, fmt.Errorf("failed to insert snapshot: %w", res.Error)
		}
		if len(balances) == 0 {
			return snap, nil
		}
		rows := utils.Map(balances, func(b *storage.Balance, i uint64) *storage.Balance {
			return &storage.Balance{SnapshotId: snap.Id, Wallet: b.Wallet, Balance: b.Balance}
		})
		if res := tx.CreateInBatches(rows, insertBatchSize); res.Error != nil {
			return nil, fmt.Errorf("failed to insert %d balances for snapshot %d: %w", len(rows), snap.Id, res.Error)
		}
		return snap, nil
	}, s.Db, nil)
}

func (s *PostgresStore) GetLatestSnapshot(ctx context.Context) (*storage.Snapshot, error) {
	return first[storage.Snapshot](s.Db.WithContext(ctx).Order("timestamp desc, id desc"))
}

func (s *PostgresStore) GetSnapshotAtOrBefore(ctx context.Context, t time.Time) (*storage.Snapshot, error) {
	return first[storage.Snapshot](s.Db.WithContext(ctx).Where("timestamp <= ?", t).Order("timestamp desc, id desc"))
}

func (s *PostgresStore) ListSnapshotsBetween(ctx context.Context, start, end time.Time) ([]*storage.Snapshot, error) {
	snapshots := make([]*storage.Snapshot, 0)
	res := s.Db.WithContext(ctx).
		Where("timestamp > ? and timestamp <= ?", start, end).
		Order("timestamp asc, id asc").
		Find(&snapshots)
	if res.Error != nil {
		return nil, res.Error
	}
	return snapshots, nil
}

func (s *PostgresStore) ListBalancesForSnapshots(ctx context.Context, snapshotIds []uint64, wallets []string) ([]*storage.Balance, error) {
	balances := make([]*storage.Balance, 0)
	if len(snapshotIds) == 0 {
		return balances, nil
	}
	if len(wallets) == 0 {
		res := s.Db.WithContext(ctx).Where("snapshot_id in ?", snapshotIds).Order("snapshot_id asc, wallet asc").Find(&balances)
		return balances, res.Error
	}
	for _, chunk := range utils.Chunk(wallets, walletInChunk) {
		rows := make([]*storage.Balance, 0)
		res := s.Db.WithContext(ctx).
			Where("snapshot_id in ? and wallet in ?", snapshotIds, chunk).
			Order("snapshot_id asc, wallet asc").
			Find(&rows)
		if res.Error != nil {
			return nil, res.Error
		}
		balances = append(balances, rows...)
	}
	return balances, nil
}

func (s *PostgresStore) ListWalletBalanceHistory(ctx context.Context, wallet string, page storage.Page) ([]*storage.WalletBalancePoint, error) {
	points := make([]*storage.WalletBalancePoint, 0)
	q := s.Db.WithContext(ctx).
		Table("balances as b").
		Select("s.id as snapshot_id, s.timestamp as timestamp, b.balance as balance").
		Joins("join snapshots as s on s.id = b.snapshot_id").
		Where("b.wallet = ?", wallet).
		Order("s.timestamp desc")
	if res := paged(q, page).Scan(&points); res.Error != nil {
		return nil, res.Error
	}
	return points, nil
}

func (s *PostgresStore) DeleteSnapshotsBefore(ctx context.Context, t time.Time) (int64, error) {
	res := s.Db.WithContext(ctx).Where("timestamp < ?", t).Delete(&storage.Snapshot{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// Streaks

func (s *PostgresStore) GetHoldStreak(ctx context.Context, wallet string) (*storage.HoldStreak, error) {
	return first[storage.HoldStreak](s.Db.WithContext(ctx).Where("wallet = ?", wallet))
}

func (s *PostgresStore) ListHoldStreaks(ctx context.Context, wallets []string) ([]*storage.HoldStreak, error) {
	streaks := make([]*storage.HoldStreak, 0)
	if len(wallets) == 0 {
		res := s.Db.WithContext(ctx).Order("wallet asc").Find(&streaks)
		return streaks, res.Error
	}
	for _, chunk := range utils.Chunk(wallets, walletInChunk) {
		rows := make([]*storage.HoldStreak, 0)
		if res := s.Db.WithContext(ctx).Where("wallet in ?", chunk).Order("wallet asc").Find(&rows); res.Error != nil {
			return nil, res.Error
		}
		streaks = append(streaks, rows...)
	}
	return streaks, nil
}

// mutateStreakInTx locks the wallet's row, hands it to fn and upserts the
// result.
func mutateStreakInTx(tx *gorm.DB, wallet string, fn storage.StreakMutation) (*storage.HoldStreak, error) {
	current, err := first[storage.HoldStreak](tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("wallet = ?", wallet))
	if err != nil {
		return nil, fmt.Errorf("failed to lock hold streak for %s: %w", wallet, err)
	}
	var input *storage.HoldStreak
	if current != nil {
		c := *current
		input = &c
	}
	next, err := fn(input)
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
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet"}},
		DoUpdates: clause.AssignmentColumns([]string{"streak_start", "current_tier", "last_sell_at", "updated_at"}),
	}).Create(next)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to upsert hold streak for %s: %w", wallet, res.Error)
	}
	return next, nil
}

func (s *PostgresStore) MutateHoldStreak(ctx context.Context, wallet string, fn storage.StreakMutation) (*storage.HoldStreak, error) {
	return helpers.WrapTxAndCommit(ctx, func(tx *gorm.DB) (*storage.HoldStreak, error) {
		return mutateStreakInTx(tx, wallet, fn)
	}, s.Db, nil)
}

func (s *PostgresStore) RecordSell(ctx context.Context, event *storage.SellEvent, fn storage.StreakMutation) (*storage.HoldStreak, error) {
	return helpers.WrapTxAndCommit(ctx, func(tx *gorm.DB) (*storage.HoldStreak, error) {
		ev := &storage.SellEvent{
			TxSignature: event.TxSignature,
			Wallet:      event.Wallet,
			TokenAmount: event.TokenAmount,
			DetectedAt:  event.DetectedAt,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_signature"}, {Name: "wallet"}},
			DoNothing: true,
		}).Create(ev)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to insert sell event %s: %w", event.TxSignature, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("sell event %s for %s: %w", event.TxSignature, event.Wallet, storage.ErrDuplicate)
		}
		return mutateStreakInTx(tx, event.Wallet, fn)
	}, s.Db, nil)
}

// Exclusions

func (s *PostgresStore) ListExcludedWallets(ctx context.Context) ([]*storage.ExcludedWallet, error) {
	wallets := make([]*storage.ExcludedWallet, 0)
	res := s.Db.WithContext(ctx).Order("wallet asc").Find(&wallets)
	return wallets, res.Error
}

func (s *PostgresStore) AddExcludedWallet(ctx context.Context, wallet *storage.ExcludedWallet) error {
	res := s.Db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason"}),
	}).Create(wallet)
	return res.Error
}

func (s *PostgresStore) RemoveExcludedWallet(ctx context.Context, wallet string) (bool, error) {
	res := s.Db.WithContext(ctx).Where("wallet = ?", wallet).Delete(&storage.ExcludedWallet{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Creator rewards and buybacks

func (s *PostgresStore) InsertCreatorReward(ctx context.Context, reward *storage.CreatorReward) (*storage.CreatorReward, error) {
	if err := storage.ValidateCreatorReward(reward); err != nil {
		return nil, err
	}
	row := *reward
	row.Id = 0
	res := s.Db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to insert creator reward: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("creator reward %v: %w", reward.TxSignature, storage.ErrDuplicate)
	}
	return &row, nil
}

func (s *PostgresStore) ListUnprocessedCreatorRewards(ctx context.Context) ([]*storage.CreatorReward, error) {
	rewards := make([]*storage.CreatorReward, 0)
	res := s.Db.WithContext(ctx).Where("processed = false").Order("received_at asc, id asc").Find(&rewards)
	return rewards, res.Error
}

func (s *PostgresStore) RecordBuyback(ctx context.Context, buyback *storage.Buyback, rewardIds []uint64, processedAt time.Time) (*storage.Buyback, error) {
	if err := storage.ValidateBuyback(buyback); err != nil {
		return nil, err
	}
	return helpers.WrapTxAndCommit(ctx, func(tx *gorm.DB) (*storage.Buyback, error) {
		if len(rewardIds) > 0 {
			rewards := make([]*storage.CreatorReward, 0)
			res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id in ?", rewardIds).Find(&rewards)
			if res.Error != nil {
				return nil, res.Error
			}
			if len(rewards) != len(rewardIds) {
				return nil, fmt.Errorf("found %d of %d creator rewards: %w", len(rewards), len(rewardIds), storage.ErrNotFound)
			}
			for _, r := range rewards {
				if r.Processed {
					return nil, fmt.Errorf("creator reward %d: %w", r.Id, storage.ErrAlreadyProcessed)
				}
			}
		}

		row := *buyback
		row.Id = 0
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_signature"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to insert buyback: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("buyback %s: %w", buyback.TxSignature, storage.ErrDuplicate)
		}

		if len(rewardIds) > 0 {
			res = tx.Model(&storage.CreatorReward{}).
				Where("id in ?", rewardIds).
				Updates(map[string]interface{}{"processed": true, "processed_at": processedAt})
			if res.Error != nil {
				return nil, fmt.Errorf("failed to mark creator rewards processed: %w", res.Error)
			}
		}
		return &row, nil
	}, s.Db, nil)
}

func (s *PostgresStore) ListBuybacks(ctx context.Context, page storage.Page) ([]*storage.Buyback, int64, error) {
	var total int64
	if res := s.Db.WithContext(ctx).Model(&storage.Buyback{}).Count(&total); res.Error != nil {
		return nil, 0, res.Error
	}
	buybacks := make([]*storage.Buyback, 0)
	res := paged(s.Db.WithContext(ctx).Order("executed_at desc, id desc"), page).Find(&buybacks)
	if res.Error != nil {
		return nil, 0, res.Error
	}
	return buybacks, total, nil
}

func (s *PostgresStore) GetPoolLedger(ctx context.Context) (*storage.PoolLedger, error) {
	query := `
		select
			coalesce((select sum(copper_amount) from buybacks), 0)::bigint as total_bought_copper,
			coalesce((select sum(pool_amount) from distributions), 0)::bigint as total_distributed_copper,
			(select min(executed_at) from buybacks) as first_buyback_at,
			(select max(executed_at) from distributions) as last_distribution_at
	`
	ledger := &storage.PoolLedger{}
	if res := s.Db.WithContext(ctx).Raw(query).Scan(ledger); res.Error != nil {
		return nil, res.Error
	}
	return ledger, nil
}

// Distributions

func (s *PostgresStore) TryAcquireDistributionLock(ctx context.Context, holder string, now time.Time, staleAfter time.Duration) (bool, error) {
	q := s.Db.WithContext(ctx).Model(&storage.DistributionLock{})
	if staleAfter > 0 {
		q = q.Where("id = 1 and (locked_at is null or locked_at <= ?)", now.Add(-staleAfter))
	} else {
		q = q.Where("id = 1 and locked_at is null")
	}
	res := q.Updates(map[string]interface{}{"locked_at": now, "locked_by": holder})
	if res.Error != nil {
		return false, fmt.Errorf("failed to acquire distribution lock: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *PostgresStore) RenewDistributionLock(ctx context.Context, holder string, now time.Time) (bool, error) {
	res := s.Db.WithContext(ctx).Model(&storage.DistributionLock{}).
		Where("id = 1 and locked_by = ?", holder).
		Update("locked_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("failed to renew distribution lock: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *PostgresStore) ReleaseDistributionLock(ctx context.Context, holder string) error {
	res := s.Db.WithContext(ctx).Model(&storage.DistributionLock{}).
		Where("id = 1 and locked_by = ?", holder).
		Updates(map[string]interface{}{"locked_at": nil, "locked_by": nil})
	return res.Error
}

func (s *PostgresStore) GetDistributionLock(ctx context.Context) (*storage.DistributionLock, error) {
	lock, err := first[storage.DistributionLock](s.Db.WithContext(ctx).Where("id = 1"))
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return &storage.DistributionLock{Id: 1}, nil
	}
	return lock, nil
}

func (s *PostgresStore) InsertDistribution(ctx context.Context, distribution *storage.Distribution, recipients []*storage.DistributionRecipient) (*storage.Distribution, error) {
	if err := storage.ValidateDistribution(distribution, recipients); err != nil {
		return nil, err
	}
	return helpers.WrapTxAndCommit(ctx, func(tx *gorm.DB) (*storage.Distribution, error) {
		d := *distribution
		d.Id = 0
		if res := tx.Clauses(clause.Returning{}).Create(&d); res.Error != nil {
			return nil, fmt.Errorf("failed to insert distribution: %w", res.Error)
		}
		for _, r := range recipients {
			r.Id = 0
			r.DistributionId = d.Id
		}
		if res := tx.CreateInBatches(recipients, insertBatchSize); res.Error != nil {
			return nil, fmt.Errorf("failed to insert %d recipients for distribution %d: %w", len(recipients), d.Id, res.Error)
		}
		return &d, nil
	}, s.Db, nil)
}

func (s *PostgresStore) GetLatestDistribution(ctx context.Context) (*storage.Distribution, error) {
	return first[storage.Distribution](s.Db.WithContext(ctx).Order("executed_at desc, id desc"))
}

func (s *PostgresStore) GetDistribution(ctx context.Context, id uint64) (*storage.Distribution, error) {
	return first[storage.Distribution](s.Db.WithContext(ctx).Where("id = ?", id))
}

func (s *PostgresStore) ListDistributions(ctx context.Context, page storage.Page) ([]*storage.Distribution, int64, error) {
	var total int64
	if res := s.Db.WithContext(ctx).Model(&storage.Distribution{}).Count(&total); res.Error != nil {
		return nil, 0, res.Error
	}
	distributions := make([]*storage.Distribution, 0)
	res := paged(s.Db.WithContext(ctx).Order("executed_at desc, id desc"), page).Find(&distributions)
	if res.Error != nil {
		return nil, 0, res.Error
	}
	return distributions, total, nil
}

func (s *PostgresStore) ListDistributionRecipients(ctx context.Context, distributionId uint64) ([]*storage.DistributionRecipient, error) {
	recipients := make([]*storage.DistributionRecipient, 0)
	res := s.Db.WithContext(ctx).Where("distribution_id = ?", distributionId).Order("id asc").Find(&recipients)
	return recipients, res.Error
}

func (s *PostgresStore) ListWalletRewards(ctx context.Context, wallet string, page storage.Page) ([]*storage.WalletReward, error) {
	rewards := make([]*storage.WalletReward, 0)
	q := s.Db.WithContext(ctx).
		Table("distribution_recipients as r").
		Select(`r.distribution_id as distribution_id,
			d.executed_at as executed_at,
			r.twab as twab,
			r.multiplier as multiplier,
			r.hash_power as hash_power,
			r.amount_received as amount_received,
			r.tx_signature as tx_signature`).
		Joins("join distributions as d on d.id = r.distribution_id").
		Where("r.wallet = ?", wallet).
		Order("d.executed_at desc")
	if res := paged(q, page).Scan(&rewards); res.Error != nil {
		return nil, res.Error
	}
	return rewards, nil
}

func (s *PostgresStore) ListUnpaidRecipients(ctx context.Context, maxAttempts int, limit int) ([]*storage.DistributionRecipient, error) {
	recipients := make([]*storage.DistributionRecipient, 0)
	q := s.Db.WithContext(ctx).Where("tx_signature is null")
	if maxAttempts > 0 {
		q = q.Where("(payout_attempts < ? or pending_signature is not null)", maxAttempts)
	}
	q = q.Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	res := q.Find(&recipients)
	return recipients, res.Error
}

func (s *PostgresStore) recipientExists(ctx context.Context, id uint64) (bool, error) {
	var count int64
	res := s.Db.WithContext(ctx).Model(&storage.DistributionRecipient{}).Where("id = ?", id).Count(&count)
	return count > 0, res.Error
}

func (s *PostgresStore) MarkRecipientPaid(ctx context.Context, recipientId uint64, txSignature string, paidAt time.Time) error {
	res := s.Db.WithContext(ctx).Model(&storage.DistributionRecipient{}).
		Where("id = ? and tx_signature is null", recipientId).
		Updates(map[string]interface{}{
			"tx_signature":              txSignature,
			"paid_at":                   paidAt,
			"payout_attempts":           gorm.Expr("payout_attempts + 1"),
			"last_payout_error":         nil,
			"pending_signature":         nil,
			"pending_last_valid_height": 0,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark recipient %d paid: %w", recipientId, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	exists, err := s.recipientExists(ctx, recipientId)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("recipient %d: %w", recipientId, storage.ErrNotFound)
	}
	return fmt.Errorf("recipient %d: %w", recipientId, storage.ErrRecipientAlreadyPaid)
}

func (s *PostgresStore) ClaimRecipientPayout(ctx context.Context, recipientId uint64, signature string, lastValidBlockHeight uint64) (bool, error) {
	res := s.Db.WithContext(ctx).Model(&storage.DistributionRecipient{}).
		Where("id = ? and tx_signature is null and pending_signature is null", recipientId).
		Updates(map[string]interface{}{
			"pending_signature":         signature,
			"pending_last_valid_height": lastValidBlockHeight,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim payout for recipient %d: %w", recipientId, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	exists, err := s.recipientExists(ctx, recipientId)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("recipient %d: %w", recipientId, storage.ErrNotFound)
	}
	return false, nil
}

func (s *PostgresStore) ReleaseRecipientPayout(ctx context.Context, recipientId uint64, signature string) error {
	res := s.Db.WithContext(ctx).Model(&storage.DistributionRecipient{}).
		Where("id = ? and tx_signature is null and pending_signature = ?", recipientId, signature).
		Updates(map[string]interface{}{
			"pending_signature":         nil,
			"pending_last_valid_height": 0,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to release payout claim for recipient %d: %w", recipientId, res.Error)
	}
	return nil
}

func (s *PostgresStore) MarkRecipientPayoutFailed(ctx context.Context, recipientId uint64, reason string) error {
	res := s.Db.WithContext(ctx).Model(&storage.DistributionRecipient{}).
		Where("id = ?", recipientId).
		Updates(map[string]interface{}{
			"payout_attempts":   gorm.Expr("payout_attempts + 1"),
			"last_payout_error": reason,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record payout failure for recipient %d: %w", recipientId, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("recipient %d: %w", recipientId, storage.ErrNotFound)
	}
	return nil
}

// Stats

func (s *PostgresStore) RefreshSystemStats(ctx context.Context, now time.Time) (*storage.SystemStats, error) {
	query := `
		insert into system_stats (id, total_holders, total_volume_24h, total_buybacks_sol, total_distributed, last_snapshot_at, last_distribution_at, updated_at)
		select
			1,
			coalesce((select total_holders from snapshots order by timestamp desc, id desc limit 1), 0),
			(coalesce((select sum(token_amount) from sell_events where detected_at > @dayAgo), 0)
				+ coalesce((select sum(copper_amount) from buybacks where executed_at > @dayAgo), 0))::bigint,
			coalesce((select sum(sol_amount) from buybacks), 0),
			coalesce((select sum(pool_amount) from distributions), 0)::bigint,
			(select max(timestamp) from snapshots),
			(select max(executed_at) from distributions),
			@now
		on conflict (id) do update set
			total_holders = excluded.total_holders,
			total_volume_24h = excluded.total_volume_24h,
			total_buybacks_sol = excluded.total_buybacks_sol,
			total_distributed = excluded.total_distributed,
			last_snapshot_at = excluded.last_snapshot_at,
			last_distribution_at = excluded.last_distribution_at,
			updated_at = excluded.updated_at
	`
	res := s.Db.WithContext(ctx).Exec(query,
		sql.Named("dayAgo", now.Add(-24*time.Hour)),
		sql.Named("now", now),
	)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to refresh system stats: %w", res.Error)
	}
	return s.GetSystemStats(ctx)
}

func (s *PostgresStore) GetSystemStats(ctx context.Context) (*storage.SystemStats, error) {
	return first[storage.SystemStats](s.Db.WithContext(ctx).Where("id = 1"))
}
