package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/pkg/exclusions"
	"github.com/copperlabs/engine/pkg/storage"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var excludedCmd = &cobra.Command{
	Use:   "excluded",
	Short: "Manage wallets excluded from rewards",
}

var excludedListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the exclusion list as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		b := mustSetupBase()
		defer b.Close()

		if err := exclusions.Export(context.Background(), b.store, os.Stdout); err != nil {
			b.logger.Sugar().Fatalw("Failed to list excluded wallets", zap.Error(err))
		}
	},
}

var excludedAddCmd = &cobra.Command{
	Use:   "add <wallet>",
	Short: "Exclude a wallet from rewards",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		wallet := args[0]
		if !utils.IsValidWalletAddress(wallet) {
			log.Fatalf("Invalid wallet address %q", wallet)
		}

		b := mustSetupBase()
		defer b.Close()

		err := b.store.AddExcludedWallet(context.Background(), &storage.ExcludedWallet{
			Wallet:  wallet,
			Reason:  reason,
			AddedAt: b.clock.Now().UTC(),
		})
		if err != nil {
			b.logger.Sugar().Fatalw("Failed to exclude wallet", zap.Error(err))
		}
		fmt.Printf("Excluded %s\n", wallet)
	},
}

var excludedRemoveCmd = &cobra.Command{
	Use:   "remove <wallet>",
	Short: "Make a wallet eligible for rewards again",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		b := mustSetupBase()
		defer b.Close()

		removed, err := b.store.RemoveExcludedWallet(context.Background(), args[0])
		if err != nil {
			b.logger.Sugar().Fatalw("Failed to remove excluded wallet", zap.Error(err))
		}
		if !removed {
			fmt.Printf("%s was not excluded\n", args[0])
			return
		}
		fmt.Printf("Removed %s from the exclusion list\n", args[0])
	},
}

var excludedImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Upsert every wallet listed in a YAML exclusion file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := exclusions.LoadFile(args[0])
		if err != nil {
			log.Fatalf("Failed to load %s: %v", args[0], err)
		}

		b := mustSetupBase()
		defer b.Close()

		n, err := exclusions.Import(context.Background(), b.store, entries, b.clock, b.logger)
		if err != nil {
			b.logger.Sugar().Fatalw("Failed to import excluded wallets", zap.Int("imported", n), zap.Error(err))
		}
		fmt.Printf("Imported %d excluded wallets\n", n)
	},
}

func init() {
	excludedAddCmd.Flags().String("reason", "", "Why the wallet is excluded, e.g. \"raydium pool\"")

	excludedCmd.AddCommand(excludedListCmd)
	excludedCmd.AddCommand(excludedAddCmd)
	excludedCmd.AddCommand(excludedRemoveCmd)
	excludedCmd.AddCommand(excludedImportCmd)
}

func mustSetupBase() *base {
	b, err := setupBase(config.NewConfig(), false)
	if err != nil {
		log.Fatalf("Failed to setup engine: %v", err)
	}
	return b
}
