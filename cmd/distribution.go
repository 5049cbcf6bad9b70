package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/distribution"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/workers"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var distributionCmd = &cobra.Command{
	Use:   "distribution",
	Short: "Inspect and run reward distributions",
}

var distributionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the reward pool and trigger state",
	Run: func(cmd *cobra.Command, args []string) {
		e := mustSetupEngine(config.NewConfig())
		defer e.Close()

		status, err := e.tracker.Status(context.Background())
		if err != nil {
			e.logger.Sugar().Fatalw("Failed to read pool status", zap.Error(err))
		}
		printJSON(status)
	},
}

var distributionPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Compute the allocation a distribution would make now, without paying",
	Run: func(cmd *cobra.Command, args []string) {
		e := mustSetupEngine(config.NewConfig())
		defer e.Close()

		plan, err := e.distribution.Preview(context.Background())
		if err != nil {
			e.logger.Sugar().Fatalw("Failed to preview distribution", zap.Error(err))
		}
		printJSON(plan)
	},
}

var distributionExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Run a distribution if the trigger is met, or unconditionally with --force",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		e := mustSetupEngine(config.NewConfig())
		defer e.Close()
		ctx := context.Background()

		var res *distribution.Result
		var err error
		if force {
			res, err = e.distribution.ForceExecute(ctx)
		} else {
			res, err = e.distribution.ExecuteIfReady(ctx)
		}
		if errors.Is(err, distribution.ErrNotReady) {
			fmt.Println("Distribution trigger not met")
			return
		}
		if err != nil {
			e.logger.Sugar().Fatalw("Failed to execute distribution", zap.Error(err))
		}
		d := res.Distribution
		fmt.Printf("Distribution %d (%s): %d recipients, %d raw tokens\n", d.Id, d.TriggerType, d.RecipientCount, d.PoolAmount)
		if res.Payouts != nil {
			fmt.Printf("Payouts: %d attempted, %d paid, %d failed, %d in flight\n", res.Payouts.Attempted, res.Payouts.Paid, res.Payouts.Failed, res.Payouts.InFlight)
		}
	},
}

var distributionExportCmd = &cobra.Command{
	Use:   "export [distribution-id]",
	Short: "Write the recipients of a distribution as CSV (latest when no id is given)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.Flags().GetString("output")

		cfg := config.NewConfig()
		b, err := setupBase(cfg, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to setup engine: %v\n", err)
			os.Exit(1)
		}
		defer b.Close()
		ctx := context.Background()

		var d *storage.Distribution
		if len(args) == 1 {
			id, perr := strconv.ParseUint(args[0], 10, 64)
			if perr != nil {
				b.logger.Sugar().Fatalw("Invalid distribution id", zap.String("id", args[0]))
			}
			d, err = b.store.GetDistribution(ctx, id)
		} else {
			d, err = b.store.GetLatestDistribution(ctx)
		}
		if err != nil {
			b.logger.Sugar().Fatalw("Failed to load distribution", zap.Error(err))
		}
		if d == nil {
			b.logger.Sugar().Fatalw("Distribution not found")
		}

		recipients, err := b.store.ListDistributionRecipients(ctx, d.Id)
		if err != nil {
			b.logger.Sugar().Fatalw("Failed to load recipients", zap.Error(err))
		}

		out := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				b.logger.Sugar().Fatalw("Failed to create output file", zap.Error(err))
			}
			defer f.Close()
			out = f
		}
		if err := distribution.ExportRecipientsCSV(out, recipients); err != nil {
			b.logger.Sugar().Fatalw("Failed to write CSV", zap.Error(err))
		}
		if output != "" {
			fmt.Printf("Wrote %d recipients of distribution %d to %s\n", len(recipients), d.Id, output)
		}
	},
}

var distributionRetryCmd = &cobra.Command{
	Use:   "retry-payouts",
	Short: "Retry unpaid recipients of committed distributions",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		e := mustSetupEngine(config.NewConfig())
		defer e.Close()
		if e.payer == nil {
			e.logger.Sugar().Fatalw("Retrying payouts requires a pool wallet key", zap.String("flag", config.SolanaPoolWalletKey))
		}

		var bar *progressbar.ProgressBar
		summary, err := e.distribution.RetryPendingPayouts(context.Background(), limit, func(done, total int) {
			if bar == nil {
				bar = progressbar.Default(int64(total), "retrying payouts")
			}
			_ = bar.Set(done)
		})
		if bar != nil {
			_ = bar.Finish()
			fmt.Println()
		}
		if err != nil {
			e.logger.Sugar().Fatalw("Failed to retry payouts", zap.Error(err))
		}
		fmt.Printf("Payouts: %d attempted, %d paid, %d failed, %d in flight\n", summary.Attempted, summary.Paid, summary.Failed, summary.InFlight)
	},
}

func init() {
	distributionExecuteCmd.Flags().Bool("force", false, "Ignore the threshold and time triggers")
	distributionExportCmd.Flags().StringP("output", "o", "", "File to write; stdout when empty")
	distributionRetryCmd.Flags().Int("limit", workers.DefaultPayoutRetryLimit, "Maximum recipients to retry")

	distributionCmd.AddCommand(distributionStatusCmd)
	distributionCmd.AddCommand(distributionPreviewCmd)
	distributionCmd.AddCommand(distributionExecuteCmd)
	distributionCmd.AddCommand(distributionExportCmd)
	distributionCmd.AddCommand(distributionRetryCmd)
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
