package _202501150900_initialSchema

import (
	"database/sql"

	"github.com/copperlabs/engine/internal/config"
	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB, cfg *config.Config) error {
	queries := []string{
		`create table if not exists snapshots (
			id serial primary key,
			timestamp timestamp with time zone not null,
			total_holders bigint not null default 0,
			total_supply bigint not null default 0,
			created_at timestamp with time zone not null default current_timestamp
		)`,
		`create index if not exists idx_snapshots_timestamp on snapshots (timestamp)`,
		`create table if not exists balances (
			id serial primary key,
			snapshot_id integer not null references snapshots (id) on delete cascade,
			wallet varchar(44) not null,
			balance bigint not null check (balance >= 0),
			unique (snapshot_id, wallet)
		)`,
		`create index if not exists idx_balances_wallet_snapshot on balances (wallet, snapshot_id)`,
		`create table if not exists hold_streaks (
			wallet varchar(44) primary key,
			streak_start timestamp with time zone not null,
			current_tier integer not null check (current_tier between 1 and 6),
			last_sell_at timestamp with time zone,
			updated_at timestamp with time zone not null default current_timestamp
		)`,
		`create table if not exists creator_rewards (
			id serial primary key,
			amount_sol numeric not null check (amount_sol > 0),
			source varchar(16) not null check (source in ('pumpfun', 'pumpswap')),
			tx_signature varchar(128) unique,
			received_at timestamp with time zone not null,
			processed boolean not null default false
		)`,
		`create index if not exists idx_creator_rewards_unprocessed on creator_rewards (received_at) where processed = false`,
		`create table if not exists buybacks (
			id serial primary key,
			tx_signature varchar(128) not null unique,
			sol_amount numeric not null check (sol_amount > 0),
			copper_amount bigint not null check (copper_amount > 0),
			price_per_token numeric not null,
			executed_at timestamp with time zone not null
		)`,
		`create index if not exists idx_buybacks_executed_at on buybacks (executed_at)`,
		`create table if not exists distributions (
			id serial primary key,
			pool_amount bigint not null check (pool_amount > 0),
			pool_value_usd numeric not null,
			total_hashpower numeric not null check (total_hashpower > 0),
			recipient_count integer not null,
			trigger_type varchar(16) not null check (trigger_type in ('threshold', 'time')),
			executed_at timestamp with time zone not null
		)`,
		`create index if not exists idx_distributions_executed_at on distributions (executed_at)`,
		`create table if not exists distribution_recipients (
			id serial primary key,
			distribution_id integer not null references distributions (id) on delete cascade,
			wallet varchar(44) not null,
			twab numeric not null,
			multiplier numeric not null,
			hash_power numeric not null,
			amount_received bigint not null,
			tx_signature varchar(128),
			unique (distribution_id, wallet)
		)`,
		`create index if not exists idx_distribution_recipients_wallet on distribution_recipients (wallet)`,
		`create table if not exists excluded_wallets (
			wallet varchar(44) primary key,
			reason text not null default '',
			added_at timestamp with time zone not null default current_timestamp
		)`,
		`create table if not exists distribution_lock (
			id integer primary key check (id = 1),
			locked_at timestamp with time zone,
			locked_by text
		)`,
		`insert into distribution_lock (id) values (1) on conflict do nothing`,
		`create table if not exists system_stats (
			id integer primary key check (id = 1),
			total_holders bigint not null default 0,
			total_volume_24h bigint not null default 0,
			total_buybacks_sol numeric not null default 0,
			total_distributed bigint not null default 0,
			last_snapshot_at timestamp with time zone,
			last_distribution_at timestamp with time zone,
			updated_at timestamp with time zone not null default current_timestamp
		)`,
		`insert into system_stats (id) values (1) on conflict do nothing`,
	}

	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202501150900_initialSchema"
}
