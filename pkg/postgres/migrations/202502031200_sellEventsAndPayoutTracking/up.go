package _202502031200_sellEventsAndPayoutTracking

import (
	"database/sql"

	"github.com/copperlabs/engine/internal/config"
	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB, cfg *config.Config) error {
	queries := []string{
		`create table if not exists sell_events (
			id serial primary key,
			tx_signature varchar(128) not null unique,
			wallet varchar(44) not null,
			token_amount bigint not null default 0,
			detected_at timestamp with time zone not null
		)`,
		`create index if not exists idx_sell_events_detected_at on sell_events (detected_at)`,
		`alter table creator_rewards add column if not exists processed_at timestamp with time zone`,
		`alter table distribution_recipients add column if not exists payout_attempts integer not null default 0`,
		`alter table distribution_recipients add column if not exists last_payout_error text`,
		`alter table distribution_recipients add column if not exists paid_at timestamp with time zone`,
		`create index if not exists idx_distribution_recipients_unpaid on distribution_recipients (id) where tx_signature is null`,
	}
	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202502031200_sellEventsAndPayoutTracking"
}
