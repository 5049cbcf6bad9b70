package cmd

import (
	"os"
	"strings"

	"github.com/copperlabs/engine/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "copper",
	Short: "The COPPER engine rewards long term holders with a share of creator fees",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() { config.LoadDotEnv() })
	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(config.Debug, false, `"true" or "false"`)
	rootCmd.PersistentFlags().String(config.Environment, "development", `Deployment environment, used to tag traces and errors`)

	rootCmd.PersistentFlags().String(config.DatabaseHost, "localhost", `PostgreSQL host`)
	rootCmd.PersistentFlags().Int(config.DatabasePort, 5432, `PostgreSQL port`)
	rootCmd.PersistentFlags().String(config.DatabaseUser, "copper", `PostgreSQL username`)
	rootCmd.PersistentFlags().String(config.DatabasePassword, "", `PostgreSQL password`)
	rootCmd.PersistentFlags().String(config.DatabaseDbName, "copper", `PostgreSQL database name`)
	rootCmd.PersistentFlags().String(config.DatabaseSchemaName, "", `PostgreSQL schema name (default "public")`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLMode, "disable", `PostgreSQL sslmode`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLCert, "", `Path to the client certificate`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLKey, "", `Path to the client key`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLRootCert, "", `Path to the root certificate`)

	rootCmd.PersistentFlags().String(config.SolanaRpcUrl, "https://api.mainnet-beta.solana.com", `Solana JSON-RPC url`)
	rootCmd.PersistentFlags().String(config.SolanaTokenMint, "", `COPPER token mint address`)
	rootCmd.PersistentFlags().String(config.SolanaPoolWalletKey, "", `Base58 private key of the reward pool wallet`)
	rootCmd.PersistentFlags().String(config.SolanaBuybackWalletKey, "", `Base58 private key of the wallet that executes buybacks`)
	rootCmd.PersistentFlags().String(config.SolanaCreatorWallet, "", `Wallet that receives creator fees`)

	rootCmd.PersistentFlags().String(config.HeliusApiKey, "", `Helius API key`)
	rootCmd.PersistentFlags().String(config.HeliusRpcUrl, "https://mainnet.helius-rpc.com", `Helius RPC url`)
	rootCmd.PersistentFlags().String(config.HeliusWebhookSecret, "", `Shared secret used to verify Helius webhook signatures`)

	rootCmd.PersistentFlags().String(config.JupiterQuoteUrl, "https://quote-api.jup.ag/v6/quote", `Jupiter quote endpoint`)
	rootCmd.PersistentFlags().String(config.JupiterSwapUrl, "https://quote-api.jup.ag/v6/swap", `Jupiter swap endpoint`)
	rootCmd.PersistentFlags().String(config.JupiterPriceUrl, "https://api.jup.ag/price/v2", `Jupiter price endpoint`)
	rootCmd.PersistentFlags().Int(config.JupiterSlippageBps, 100, `Maximum buyback slippage in basis points`)

	rootCmd.PersistentFlags().String(config.CoingeckoApiKey, "", `CoinGecko API key (optional)`)
	rootCmd.PersistentFlags().String(config.CoingeckoBaseUrl, "https://api.coingecko.com/api/v3", `CoinGecko API url`)

	rootCmd.PersistentFlags().Float64(config.SnapshotProbability, 0.2, `Chance that an hourly trial takes a snapshot`)
	rootCmd.PersistentFlags().Int(config.SnapshotConcurrency, 8, `Concurrent balance fetches while snapshotting`)
	rootCmd.PersistentFlags().Int(config.SnapshotBatchSize, 100, `Wallets per balance fetch`)
	rootCmd.PersistentFlags().Int(config.SnapshotRetentionDays, 7, `Days of snapshots to keep`)
	rootCmd.PersistentFlags().Int(config.SnapshotFetchTimeout, 30, `Timeout for one balance batch`)

	rootCmd.PersistentFlags().Int(config.TwabWindowHours, 24, `TWAB window in hours`)

	rootCmd.PersistentFlags().String(config.DistributionThresholdUsd, "250", `Pool value in USD that triggers a distribution`)
	rootCmd.PersistentFlags().Int(config.DistributionMaxHours, 24, `Hours after which a distribution runs regardless of pool value`)
	rootCmd.PersistentFlags().String(config.DistributionMinBalanceUsd, "50", `Minimum holding in USD to receive rewards`)
	rootCmd.PersistentFlags().Int(config.DistributionLockStaleMinutes, 30, `Minutes after which a distribution lock is considered abandoned`)
	rootCmd.PersistentFlags().Int(config.DistributionPayoutAttempts, 5, `Payout attempts per recipient before giving up`)

	rootCmd.PersistentFlags().String(config.BuybackShare, "0.8", `Share of creator fees used for buybacks`)
	rootCmd.PersistentFlags().String(config.BuybackMinSol, "0.1", `Minimum pending SOL before a buyback runs`)

	rootCmd.PersistentFlags().Int(config.RpcHttpPort, 8080, `http rpc port`)
	rootCmd.PersistentFlags().String(config.RpcCorsOrigins, "*", `Comma separated list of allowed CORS origins`)
	rootCmd.PersistentFlags().Int(config.RpcRequestsPerMinute, 120, `Requests per minute per client IP on the public API`)
	rootCmd.PersistentFlags().Int(config.RpcWebhookPerMinute, 600, `Requests per minute per client IP on the webhook`)

	rootCmd.PersistentFlags().Bool(config.DataDogStatsdEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().String(config.DataDogStatsdUrl, "", `e.g. "localhost:8125"`)
	rootCmd.PersistentFlags().Float64(config.DataDogStatsdSampleRate, 1.0, `Sample rate for statsd metrics`)
	rootCmd.PersistentFlags().Bool(config.DataDogApmEnabled, false, `Enable Datadog APM tracing`)

	rootCmd.PersistentFlags().Bool(config.PrometheusEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().Int(config.PrometheusPort, 2112, `The port to run the prometheus server on`)

	rootCmd.PersistentFlags().String(config.SentryDsn, "", `Sentry DSN; errors are only reported when set`)

	// setup sub commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runVersionCmd)
	rootCmd.AddCommand(runDatabaseCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(distributionCmd)
	rootCmd.AddCommand(excludedCmd)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	viper.SetEnvPrefix(config.ENV_PREFIX)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.AutomaticEnv()
}
