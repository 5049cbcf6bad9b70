package tests

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/copperlabs/engine/internal/config"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func GetConfig() *config.Config {
	return config.NewConfig()
}

func ReplaceEnv(newValues map[string]string, previousValues *map[string]string) {
	for k, v := range newValues {
		(*previousValues)[k] = os.Getenv(k)
		os.Setenv(k, v)
	}
}

func RestoreEnv(previousValues map[string]string) {
	for k, v := range previousValues {
		os.Setenv(k, v)
	}
}

func GenerateTestDbName() (string, error) {
	return fmt.Sprintf("copper_test_%s", strings.ReplaceAll(uuid.NewString(), "-", "")), nil
}

// StartPostgresContainer boots a throwaway postgres and returns the database
// settings pointing at it. The test is skipped when no container runtime is
// reachable.
func StartPostgresContainer(t *testing.T) *config.DatabaseConfig {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("copper"),
		tcpostgres.WithUsername("copper"),
		tcpostgres.WithPassword("copper"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	return &config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "copper",
		Password: "copper",
		DbName:   "copper",
		SSLMode:  "disable",
	}
}
