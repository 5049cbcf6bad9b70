package runtime

import (
	"os"
	"testing"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/internal/tests"
	"github.com/copperlabs/engine/pkg/logger"
	"github.com/copperlabs/engine/pkg/postgres"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setup(t *testing.T) (
	string,
	*gorm.DB,
	*zap.Logger,
	*config.Config,
	error,
) {
	cfg := config.NewConfig()
	cfg.Debug = os.Getenv(config.Debug) == "true"
	cfg.DatabaseConfig = *tests.StartPostgresContainer(t)

	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})

	dbname, _, grm, err := postgres.GetTestPostgresDatabase(cfg.DatabaseConfig, cfg, l)
	if err != nil {
		return dbname, nil, nil, nil, err
	}

	return dbname, grm, l, cfg, nil
}

func Test_EngineRuntime(t *testing.T) {
	dbName, grm, l, cfg, err := setup(t)
	if err != nil {
		t.Fatal(err)
	}

	rtime := NewEngineRuntime(grm, l)

	t.Run("Should insert a new version when there isnt one", func(t *testing.T) {
		err := rtime.ValidateAndUpdateVersion("v1.0.0")
		assert.Nil(t, err)

		last, err := rtime.GetRecentlyLaunchedVersion()
		assert.Nil(t, err)
		assert.Equal(t, "v1.0.0", last.Version)
	})
	t.Run("Should fail due to the version being older", func(t *testing.T) {
		err := rtime.ValidateAndUpdateVersion("v0.1.0")
		assert.ErrorIs(t, err, ErrVersionDowngrade)
	})
	t.Run("Should ignore an unknown version", func(t *testing.T) {
		assert.Nil(t, rtime.ValidateAndUpdateVersion("unknown"))
	})
	t.Run("Should reject garbage", func(t *testing.T) {
		assert.NotNil(t, rtime.ValidateAndUpdateVersion("1.2"))
		assert.NotNil(t, rtime.ValidateAndUpdateVersion(""))
	})
	t.Run("Should accept upgrades", func(t *testing.T) {
		for _, v := range []string{"v1.1.0", "v1.1.1", "v2.0.0", "v2.0.0+abc123", "v2.0.1-rc.1", "v2.0.1-rc.1+abc123"} {
			assert.Nil(t, rtime.ValidateAndUpdateVersion(v), v)
		}
		last, err := rtime.GetRecentlyLaunchedVersion()
		assert.Nil(t, err)
		assert.Equal(t, "v2.0.1-rc.1", last.Version)
	})

	t.Cleanup(func() {
		postgres.TeardownTestDatabase(dbName, cfg, grm, l)
	})
}
