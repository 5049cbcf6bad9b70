package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/copperlabs/engine/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Balance snapshot maintenance",
}

var takeSnapshotCmd = &cobra.Command{
	Use:   "take",
	Short: "Take a balance snapshot now, skipping the random trial",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.NewConfig()
		e := mustSetupEngine(cfg)
		defer e.Close()

		snapshot, err := e.snapshots.TakeSnapshot(context.Background())
		if err != nil {
			e.logger.Sugar().Fatalw("Failed to take snapshot", zap.Error(err))
		}
		fmt.Printf("Snapshot %d at %s: %d holders\n", snapshot.Id, snapshot.Timestamp.UTC().Format("2006-01-02 15:04:05"), snapshot.TotalHolders)
	},
}

var sweepSnapshotsCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete snapshots older than the retention period",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.NewConfig()
		e := mustSetupEngine(cfg)
		defer e.Close()

		deleted, err := e.snapshots.SweepRetention(context.Background())
		if err != nil {
			e.logger.Sugar().Fatalw("Failed to sweep snapshots", zap.Error(err))
		}
		fmt.Printf("Deleted %d snapshots\n", deleted)
	},
}

func init() {
	snapshotCmd.AddCommand(takeSnapshotCmd)
	snapshotCmd.AddCommand(sweepSnapshotsCmd)
}

func mustSetupEngine(cfg *config.Config) *engine {
	b, err := setupBase(cfg, false)
	if err != nil {
		log.Fatalf("Failed to setup engine: %v", err)
	}
	e, err := setupEngine(b)
	if err != nil {
		b.logger.Sugar().Fatalw("Failed to setup engine components", zap.Error(err))
	}
	return e
}
