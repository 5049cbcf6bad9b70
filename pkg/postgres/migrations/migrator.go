package migrations

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/copperlabs/engine/internal/config"
	_202501150900_initialSchema "github.com/copperlabs/engine/pkg/postgres/migrations/202501150900_initialSchema"
	_202501171100_engineVersions "github.com/copperlabs/engine/pkg/postgres/migrations/202501171100_engineVersions"
	_202502031200_sellEventsAndPayoutTracking "github.com/copperlabs/engine/pkg/postgres/migrations/202502031200_sellEventsAndPayoutTracking"
	_202503101000_payoutClaimsAndSellEventKey "github.com/copperlabs/engine/pkg/postgres/migrations/202503101000_payoutClaimsAndSellEventKey"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Migration interface {
	Up(db *sql.DB, grm *gorm.DB, cfg *config.Config) error
	GetName() string
}

type Migrator struct {
	Db           *sql.DB
	GDb          *gorm.DB
	Logger       *zap.Logger
	globalConfig *config.Config
}

func NewMigrator(db *sql.DB, gDb *gorm.DB, l *zap.Logger, cfg *config.Config) *Migrator {
	gDb.Exec(`
		create table if not exists migrations (
			name text primary key,
			created_at timestamp with time zone default current_timestamp,
			updated_at timestamp with time zone default null
		)`)
	return &Migrator{
		Db:           db,
		GDb:          gDb,
		Logger:       l,
		globalConfig: cfg,
	}
}

// Migrations returns every migration in the order it must be applied.
func Migrations() []Migration {
	return []Migration{
		&_202501150900_initialSchema.Migration{},
		&_202501171100_engineVersions.Migration{},
		&_202502031200_sellEventsAndPayoutTracking.Migration{},
		&_202503101000_payoutClaimsAndSellEventKey.Migration{},
	}
}

func (m *Migrator) MigrateAll() error {
	for _, migration := range Migrations() {
		if err := m.Migrate(migration); err != nil {
			return err
		}
	}
	return nil
}

type MigrationRecord struct {
	Name      string `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt *time.Time
}

func (MigrationRecord) TableName() string { return "migrations" }

func (m *Migrator) Migrate(migration Migration) error {
	name := migration.GetName()

	var count int64
	if res := m.GDb.Model(&MigrationRecord{}).Where("name = ?", name).Count(&count); res.Error != nil {
		return fmt.Errorf("failed to check migration %s: %w", name, res.Error)
	}
	if count > 0 {
		m.Logger.Sugar().Debugw("Migration already run", "name", name)
		return nil
	}

	m.Logger.Sugar().Infow("Running migration", "name", name)
	if err := migration.Up(m.Db, m.GDb, m.globalConfig); err != nil {
		m.Logger.Sugar().Errorw("Failed to run migration", "name", name, "error", err)
		return fmt.Errorf("migration %s failed: %w", name, err)
	}

	if res := m.GDb.Create(&MigrationRecord{Name: name, CreatedAt: time.Now()}); res.Error != nil {
		return fmt.Errorf("failed to record migration %s: %w", name, res.Error)
	}
	return nil
}
