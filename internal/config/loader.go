package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DeploymentConfig represents a deployments.json file written by the
// contract deployment scripts.
type DeploymentConfig struct {
	ChainID   int64           `json:"chainId"`
	Deployer  string          `json:"deployer"`
	Contracts ContractsConfig `json:"contracts"`
}

// Load merges the TOML file at path (skipped when path is empty) over the
// defaults, loads .env if present, applies DIASPORE_* overrides and fills
// contract addresses missing from both from DIASPORE_DEPLOYMENTS_PATH. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if deployments := os.Getenv("DIASPORE_DEPLOYMENTS_PATH"); deployments != "" {
		dep, err := loadDeployments(deployments)
		if err != nil {
			return nil, fmt.Errorf("config: load deployments: %w", err)
		}
		mergeContracts(&cfg.Contracts, dep.Contracts)
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Backend, "DIASPORE_BACKEND")

	setStr(&cfg.Chain.RPCURL, "DIASPORE_CHAIN_RPC_URL")
	setStr(&cfg.Chain.PrivateKey, "DIASPORE_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.DefaultGasPrice, "DIASPORE_CHAIN_DEFAULT_GAS_PRICE")
	setDuration(&cfg.Chain.ReceiptInterval, "DIASPORE_CHAIN_RECEIPT_INTERVAL")
	setDuration(&cfg.Chain.RPCTimeout, "DIASPORE_CHAIN_RPC_TIMEOUT")

	setStr(&cfg.Contracts.Registry, "DIASPORE_CONTRACTS_REGISTRY")
	setStr(&cfg.Contracts.LoanManager, "DIASPORE_CONTRACTS_LOAN_MANAGER")
	setStr(&cfg.Contracts.DebtEngine, "DIASPORE_CONTRACTS_DEBT_ENGINE")
	setStr(&cfg.Contracts.InstallmentsModel, "DIASPORE_CONTRACTS_INSTALLMENTS_MODEL")
	setStr(&cfg.Contracts.Token, "DIASPORE_CONTRACTS_TOKEN")
	setStr(&cfg.Contracts.Oracle, "DIASPORE_CONTRACTS_ORACLE")

	setStr(&cfg.Relay.URL, "DIASPORE_RELAY_URL")
	setStr(&cfg.Relay.WalletFactory, "DIASPORE_RELAY_WALLET_FACTORY")
	setStr(&cfg.Relay.InitCodeHash, "DIASPORE_RELAY_INIT_CODE_HASH")
	setDuration(&cfg.Relay.Timeout, "DIASPORE_RELAY_TIMEOUT")
	setDuration(&cfg.Relay.PollInterval, "DIASPORE_RELAY_POLL_INTERVAL")
	setInt(&cfg.Relay.MaxAttempts, "DIASPORE_RELAY_MAX_ATTEMPTS")
	setBool(&cfg.Relay.Fake, "DIASPORE_RELAY_FAKE")

	setStr(&cfg.Lending.Currency, "DIASPORE_LENDING_CURRENCY")
	setDuration(&cfg.Lending.SettleTimeout, "DIASPORE_LENDING_SETTLE_TIMEOUT")

	setStr(&cfg.Rates.URL, "DIASPORE_RATES_URL")
	setDuration(&cfg.Rates.TTL, "DIASPORE_RATES_TTL")
	setDuration(&cfg.Rates.Timeout, "DIASPORE_RATES_TIMEOUT")
	setStr(&cfg.Rates.Cache, "DIASPORE_RATES_CACHE")

	setStr(&cfg.RNode.URL, "DIASPORE_RNODE_URL")
	setDuration(&cfg.RNode.Timeout, "DIASPORE_RNODE_TIMEOUT")

	setStr(&cfg.Postgres.DSN, "DIASPORE_POSTGRES_DSN")

	setStr(&cfg.Redis.Addr, "DIASPORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DIASPORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DIASPORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DIASPORE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "DIASPORE_REDIS_TLS_ENABLED")

	setInt(&cfg.Server.Port, "DIASPORE_SERVER_PORT")
	setStr(&cfg.Server.HMACSecret, "DIASPORE_SERVER_HMAC_SECRET")
	setDuration(&cfg.Server.ClockSkew, "DIASPORE_SERVER_CLOCK_SKEW")
	setDuration(&cfg.Server.IdempotencyWindow, "DIASPORE_SERVER_IDEMPOTENCY_WINDOW")
	setStr(&cfg.Server.IdempotencyStore, "DIASPORE_SERVER_IDEMPOTENCY_STORE")
	setStr(&cfg.Server.IdempotencyPath, "DIASPORE_SERVER_IDEMPOTENCY_PATH")

	setStr(&cfg.Log.Level, "DIASPORE_LOG_LEVEL")
	setBool(&cfg.Log.Development, "DIASPORE_LOG_DEVELOPMENT")
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeContracts fills empty addresses in dst from src.
func mergeContracts(dst *ContractsConfig, src ContractsConfig) {
	fill := func(d *string, s string) {
		if *d == "" {
			*d = s
		}
	}
	fill(&dst.Registry, src.Registry)
	fill(&dst.LoanManager, src.LoanManager)
	fill(&dst.DebtEngine, src.DebtEngine)
	fill(&dst.InstallmentsModel, src.InstallmentsModel)
	fill(&dst.Token, src.Token)
	fill(&dst.Oracle, src.Oracle)
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
