package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "COPPER"

const (
	CopperDecimals = 6
	SolDecimals    = 9
	LamportsPerSol = 1_000_000_000

	SolMint  = "So11111111111111111111111111111111111111112"
	UsdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Config keys. Flags are registered in kebab-case and looked up in viper
// through KebabToSnakeCase.
const (
	Debug       = "debug"
	Environment = "environment"

	DatabaseHost        = "database.host"
	DatabasePort        = "database.port"
	DatabaseUser        = "database.user"
	DatabasePassword    = "database.password"
	DatabaseDbName      = "database.db_name"
	DatabaseSchemaName  = "database.schema_name"
	DatabaseSSLMode     = "database.ssl_mode"
	DatabaseSSLCert     = "database.ssl_cert"
	DatabaseSSLKey      = "database.ssl_key"
	DatabaseSSLRootCert = "database.ssl_root_cert"

	SolanaRpcUrl           = "solana.rpc-url"
	SolanaTokenMint        = "solana.token-mint"
	SolanaPoolWalletKey    = "solana.pool-wallet-key"
	SolanaBuybackWalletKey = "solana.buyback-wallet-key"
	SolanaCreatorWallet    = "solana.creator-wallet"

	HeliusApiKey        = "helius.api-key"
	HeliusRpcUrl        = "helius.rpc-url"
	HeliusWebhookSecret = "helius.webhook-secret"

	JupiterQuoteUrl    = "jupiter.quote-url"
	JupiterSwapUrl     = "jupiter.swap-url"
	JupiterPriceUrl    = "jupiter.price-url"
	JupiterSlippageBps = "jupiter.slippage-bps"

	CoingeckoApiKey  = "coingecko.api-key"
	CoingeckoBaseUrl = "coingecko.base-url"

	SnapshotProbability   = "snapshot.probability"
	SnapshotConcurrency   = "snapshot.concurrency"
	SnapshotBatchSize     = "snapshot.batch-size"
	SnapshotRetentionDays = "snapshot.retention-days"
	SnapshotFetchTimeout  = "snapshot.fetch-timeout-seconds"

	TwabWindowHours = "twab.window-hours"

	DistributionThresholdUsd     = "distribution.threshold-usd"
	DistributionMaxHours         = "distribution.max-hours"
	DistributionMinBalanceUsd    = "distribution.min-balance-usd"
	DistributionLockStaleMinutes = "distribution.lock-stale-minutes"
	DistributionPayoutAttempts   = "distribution.payout-attempts"

	BuybackShare  = "buyback.share"
	BuybackMinSol = "buyback.min-sol"

	RpcHttpPort          = "rpc.http-port"
	RpcCorsOrigins       = "rpc.cors-origins"
	RpcRequestsPerMinute = "rpc.requests-per-minute"
	RpcWebhookPerMinute  = "rpc.webhook-requests-per-minute"

	PrometheusEnabled = "prometheus.enabled"
	PrometheusPort    = "prometheus.port"

	DataDogStatsdEnabled    = "datadog.statsd.enabled"
	DataDogStatsdUrl        = "datadog.statsd.url"
	DataDogStatsdSampleRate = "datadog.statsd.sample_rate"
	DataDogApmEnabled       = "datadog.apm.enabled"

	SentryDsn = "sentry.dsn"
)

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DbName      string
	SchemaName  string
	SSLMode     string
	SSLCert     string
	SSLKey      string
	SSLRootCert string
}

type SolanaConfig struct {
	RpcUrl           string
	TokenMint        string
	PoolWalletKey    string
	BuybackWalletKey string
	CreatorWallet    string
}

type HeliusConfig struct {
	ApiKey        string
	RpcUrl        string
	WebhookSecret string
}

type JupiterConfig struct {
	QuoteUrl    string
	SwapUrl     string
	PriceUrl    string
	SlippageBps int
}

type CoingeckoConfig struct {
	ApiKey  string
	BaseUrl string
}

type SnapshotConfig struct {
	// Probability is the chance an hourly trial captures a snapshot.
	// 0.2 gives an expected 4.8 snapshots per day.
	Probability   float64
	Concurrency   int
	BatchSize     int
	RetentionDays int
	FetchTimeout  time.Duration
}

type TwabConfig struct {
	Window time.Duration
}

type DistributionConfig struct {
	ThresholdUsd   decimal.Decimal
	MaxInterval    time.Duration
	MinBalanceUsd  decimal.Decimal
	LockStaleAfter time.Duration
	PayoutAttempts int
}

type BuybackConfig struct {
	Share  decimal.Decimal
	MinSol decimal.Decimal
}

type RpcConfig struct {
	HttpPort                 int
	CorsOrigins              []string
	RequestsPerMinute        int
	WebhookRequestsPerMinute int
}

type PrometheusConfig struct {
	Enabled bool
	Port    int
}

type StatsdConfig struct {
	Enabled    bool
	Url        string
	SampleRate float64
}

type DataDogConfig struct {
	StatsdConfig  StatsdConfig
	EnableTracing bool
}

type Config struct {
	Debug       bool
	Environment string

	DatabaseConfig     DatabaseConfig
	SolanaConfig       SolanaConfig
	HeliusConfig       HeliusConfig
	JupiterConfig      JupiterConfig
	CoingeckoConfig    CoingeckoConfig
	SnapshotConfig     SnapshotConfig
	TwabConfig         TwabConfig
	DistributionConfig DistributionConfig
	BuybackConfig      BuybackConfig
	RpcConfig          RpcConfig
	PrometheusConfig   PrometheusConfig
	DataDogConfig      DataDogConfig
	SentryDsn          string
}

func KebabToSnakeCase(str string) string {
	return strings.ReplaceAll(str, "-", "_")
}

func normalizeFlagName(name string) string {
	return KebabToSnakeCase(name)
}

// LoadDotEnv reads a .env file from the working directory if one exists.
// Values already present in the environment win.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	_ = godotenv.Load(paths...)
}

func parseListEnvVar(envVar string) []string {
	if envVar == "" {
		return []string{}
	}
	l := make([]string, 0)
	for _, s := range strings.Split(envVar, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			l = append(l, s)
		}
	}
	return l
}

func decimalFromViper(key string) decimal.Decimal {
	d, err := decimal.NewFromString(viper.GetString(normalizeFlagName(key)))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func NewConfig() *Config {
	return &Config{
		Debug:       viper.GetBool(normalizeFlagName(Debug)),
		Environment: viper.GetString(normalizeFlagName(Environment)),

		DatabaseConfig: DatabaseConfig{
			Host:        viper.GetString(normalizeFlagName(DatabaseHost)),
			Port:        viper.GetInt(normalizeFlagName(DatabasePort)),
			User:        viper.GetString(normalizeFlagName(DatabaseUser)),
			Password:    viper.GetString(normalizeFlagName(DatabasePassword)),
			DbName:      viper.GetString(normalizeFlagName(DatabaseDbName)),
			SchemaName:  viper.GetString(normalizeFlagName(DatabaseSchemaName)),
			SSLMode:     viper.GetString(normalizeFlagName(DatabaseSSLMode)),
			SSLCert:     viper.GetString(normalizeFlagName(DatabaseSSLCert)),
			SSLKey:      viper.GetString(normalizeFlagName(DatabaseSSLKey)),
			SSLRootCert: viper.GetString(normalizeFlagName(DatabaseSSLRootCert)),
		},

		SolanaConfig: SolanaConfig{
			RpcUrl:           viper.GetString(normalizeFlagName(SolanaRpcUrl)),
			TokenMint:        viper.GetString(normalizeFlagName(SolanaTokenMint)),
			PoolWalletKey:    viper.GetString(normalizeFlagName(SolanaPoolWalletKey)),
			BuybackWalletKey: viper.GetString(normalizeFlagName(SolanaBuybackWalletKey)),
			CreatorWallet:    viper.GetString(normalizeFlagName(SolanaCreatorWallet)),
		},

		HeliusConfig: HeliusConfig{
			ApiKey:        viper.GetString(normalizeFlagName(HeliusApiKey)),
			RpcUrl:        viper.GetString(normalizeFlagName(HeliusRpcUrl)),
			WebhookSecret: viper.GetString(normalizeFlagName(HeliusWebhookSecret)),
		},

		JupiterConfig: JupiterConfig{
			QuoteUrl:    viper.GetString(normalizeFlagName(JupiterQuoteUrl)),
			SwapUrl:     viper.GetString(normalizeFlagName(JupiterSwapUrl)),
			PriceUrl:    viper.GetString(normalizeFlagName(JupiterPriceUrl)),
			SlippageBps: viper.GetInt(normalizeFlagName(JupiterSlippageBps)),
		},

		CoingeckoConfig: CoingeckoConfig{
			ApiKey:  viper.GetString(normalizeFlagName(CoingeckoApiKey)),
			BaseUrl: viper.GetString(normalizeFlagName(CoingeckoBaseUrl)),
		},

		SnapshotConfig: SnapshotConfig{
			Probability:   viper.GetFloat64(normalizeFlagName(SnapshotProbability)),
			Concurrency:   viper.GetInt(normalizeFlagName(SnapshotConcurrency)),
			BatchSize:     viper.GetInt(normalizeFlagName(SnapshotBatchSize)),
			RetentionDays: viper.GetInt(normalizeFlagName(SnapshotRetentionDays)),
			FetchTimeout:  time.Duration(viper.GetInt(normalizeFlagName(SnapshotFetchTimeout))) * time.Second,
		},

		TwabConfig: TwabConfig{
			Window: time.Duration(viper.GetInt(normalizeFlagName(TwabWindowHours))) * time.Hour,
		},

		DistributionConfig: DistributionConfig{
			ThresholdUsd:   decimalFromViper(DistributionThresholdUsd),
			MaxInterval:    time.Duration(viper.GetInt(normalizeFlagName(DistributionMaxHours))) * time.Hour,
			MinBalanceUsd:  decimalFromViper(DistributionMinBalanceUsd),
			LockStaleAfter: time.Duration(viper.GetInt(normalizeFlagName(DistributionLockStaleMinutes))) * time.Minute,
			PayoutAttempts: viper.GetInt(normalizeFlagName(DistributionPayoutAttempts)),
		},

		BuybackConfig: BuybackConfig{
			Share:  decimalFromViper(BuybackShare),
			MinSol: decimalFromViper(BuybackMinSol),
		},

		RpcConfig: RpcConfig{
			HttpPort:                 viper.GetInt(normalizeFlagName(RpcHttpPort)),
			CorsOrigins:              parseListEnvVar(viper.GetString(normalizeFlagName(RpcCorsOrigins))),
			RequestsPerMinute:        viper.GetInt(normalizeFlagName(RpcRequestsPerMinute)),
			WebhookRequestsPerMinute: viper.GetInt(normalizeFlagName(RpcWebhookPerMinute)),
		},

		PrometheusConfig: PrometheusConfig{
			Enabled: viper.GetBool(normalizeFlagName(PrometheusEnabled)),
			Port:    viper.GetInt(normalizeFlagName(PrometheusPort)),
		},

		DataDogConfig: DataDogConfig{
			StatsdConfig: StatsdConfig{
				Enabled:    viper.GetBool(normalizeFlagName(DataDogStatsdEnabled)),
				Url:        viper.GetString(normalizeFlagName(DataDogStatsdUrl)),
				SampleRate: viper.GetFloat64(normalizeFlagName(DataDogStatsdSampleRate)),
			},
			EnableTracing: viper.GetBool(normalizeFlagName(DataDogApmEnabled)),
		},

		SentryDsn: viper.GetString(normalizeFlagName(SentryDsn)),
	}
}

// ValidateEngineConfig checks the settings the long running engine cannot
// start without.
func (c *Config) ValidateEngineConfig() error {
	var errs []error
	if c.SolanaConfig.TokenMint == "" {
		errs = append(errs, fmt.Errorf("%s is required", SolanaTokenMint))
	}
	if c.HeliusConfig.WebhookSecret == "" {
		errs = append(errs, fmt.Errorf("%s is required", HeliusWebhookSecret))
	}
	if c.SnapshotConfig.Probability <= 0 || c.SnapshotConfig.Probability > 1 {
		errs = append(errs, fmt.Errorf("%s must be in (0, 1], got %v", SnapshotProbability, c.SnapshotConfig.Probability))
	}
	if c.TwabConfig.Window <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", TwabWindowHours))
	}
	if c.SnapshotConfig.RetentionDays > 0 && time.Duration(c.SnapshotConfig.RetentionDays)*24*time.Hour <= c.TwabConfig.Window {
		errs = append(errs, fmt.Errorf("%s must cover more than the TWAB window", SnapshotRetentionDays))
	}
	if c.BuybackConfig.Share.LessThan(decimal.Zero) || c.BuybackConfig.Share.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("%s must be between 0 and 1", BuybackShare))
	}
	return errors.Join(errs...)
}

// GetRetentionCutoff returns the timestamp before which snapshots may be swept.
func (c *Config) GetRetentionCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(c.SnapshotConfig.RetentionDays) * 24 * time.Hour)
}
