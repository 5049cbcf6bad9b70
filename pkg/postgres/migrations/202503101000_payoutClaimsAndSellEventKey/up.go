package _202503101000_payoutClaimsAndSellEventKey

import (
	"database/sql"

	"github.com/copperlabs/engine/internal/config"
	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB, cfg *config.Config) error {
	queries := []string{
		`alter table distribution_recipients add column if not exists pending_signature varchar(128)`,
		`alter table distribution_recipients add column if not exists pending_last_valid_height bigint not null default 0`,
		`create index if not exists idx_distribution_recipients_pending on distribution_recipients (id) where pending_signature is not null and tx_signature is null`,
		// one transaction can carry sells from several wallets
		`alter table sell_events drop constraint if exists sell_events_tx_signature_key`,
		`create unique index if not exists uniq_sell_events_tx_signature_wallet on sell_events (tx_signature, wallet)`,
	}
	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202503101000_payoutClaimsAndSellEventKey"
}
