package _202501171100_engineVersions

import (
	"database/sql"

	"github.com/copperlabs/engine/internal/config"
	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB, cfg *config.Config) error {
	query := `
		create table if not exists engine_versions (
			id serial primary key,
			version text not null,
			created_at timestamp with time zone default current_timestamp
		)
	`
	res := grm.Exec(query)
	return res.Error
}

func (m *Migration) GetName() string {
	return "202501171100_engineVersions"
}
