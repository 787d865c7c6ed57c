// Package config defines the diaspore configuration tree, its defaults and
// validation.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"diaspore/internal/chain"
	"diaspore/internal/contracts"
	"diaspore/internal/lending"
)

// Config is the root configuration. Fields come from a TOML file and are then
// overridden by DIASPORE_* environment variables.
type Config struct {
	Backend   string          `toml:"backend"`
	Chain     ChainConfig     `toml:"chain"`
	Contracts ContractsConfig `toml:"contracts"`
	Relay     RelayConfig     `toml:"relay"`
	Lending   LendingConfig   `toml:"lending"`
	Rates     RatesConfig     `toml:"rates"`
	RNode     RNodeConfig     `toml:"rnode"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
}

// ChainConfig holds the node endpoint and the signing key.
type ChainConfig struct {
	RPCURL     string `toml:"rpc_url"`
	PrivateKey string `toml:"private_key"`
	// DefaultGasPrice in wei, decimal. Empty means ask the node.
	DefaultGasPrice string   `toml:"default_gas_price"`
	ReceiptInterval duration `toml:"receipt_interval"`
	RPCTimeout      duration `toml:"rpc_timeout"`
}

// ContractsConfig holds explicit contract addresses. Empty entries are
// resolved through the registry.
type ContractsConfig struct {
	Registry          string `toml:"registry" json:"Registry"`
	LoanManager       string `toml:"loan_manager" json:"LoanManager"`
	DebtEngine        string `toml:"debt_engine" json:"DebtEngine"`
	InstallmentsModel string `toml:"installments_model" json:"InstallmentsModel"`
	Token             string `toml:"token" json:"Token"`
	Oracle            string `toml:"oracle" json:"Oracle"`
}

// RelayConfig configures the meta-transaction backend.
type RelayConfig struct {
	URL           string   `toml:"url"`
	WalletFactory string   `toml:"wallet_factory"`
	InitCodeHash  string   `toml:"init_code_hash"`
	Timeout       duration `toml:"timeout"`
	PollInterval  duration `toml:"poll_interval"`
	MaxAttempts   int      `toml:"max_attempts"`
	Fake          bool     `toml:"fake"`
}

type LendingConfig struct {
	Currency      string   `toml:"currency"`
	SettleTimeout duration `toml:"settle_timeout"`
}

type RatesConfig struct {
	URL     string   `toml:"url"`
	TTL     duration `toml:"ttl"`
	Timeout duration `toml:"timeout"`
	// Cache is "memory" or "redis".
	Cache string `toml:"cache"`
}

type RNodeConfig struct {
	URL     string   `toml:"url"`
	Timeout duration `toml:"timeout"`
}

// PostgresConfig enables the Postgres journal and idempotency store when the
// DSN is set.
type PostgresConfig struct {
	DSN string `toml:"dsn"`
}

// RedisConfig enables Redis backed caches when Addr is set.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

type ServerConfig struct {
	Port              int      `toml:"port"`
	HMACSecret        string   `toml:"hmac_secret"`
	ClockSkew         duration `toml:"clock_skew"`
	IdempotencyWindow duration `toml:"idempotency_window"`
	// IdempotencyStore is one of memory, file, postgres, redis.
	IdempotencyStore string   `toml:"idempotency_store"`
	IdempotencyPath  string   `toml:"idempotency_path"`
	ShutdownTimeout  duration `toml:"shutdown_timeout"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with every optional field filled in.
func Defaults() Config {
	return Config{
		Backend: string(lending.BackendWeb3),
		Chain: ChainConfig{
			RPCURL:          "http://127.0.0.1:8545",
			ReceiptInterval: duration{time.Second},
			RPCTimeout:      duration{10 * time.Second},
		},
		Relay: RelayConfig{
			Timeout:      duration{15 * time.Second},
			PollInterval: duration{time.Second},
			MaxAttempts:  640,
		},
		Lending: LendingConfig{
			Currency: lending.DefaultCurrency,
		},
		Rates: RatesConfig{
			URL:     "https://oracle.ripio.com/rate/",
			TTL:     duration{30 * time.Second},
			Timeout: duration{10 * time.Second},
			Cache:   "memory",
		},
		RNode: RNodeConfig{
			URL:     "https://diaspore-ropsten-rnode.rcn.loans/",
			Timeout: duration{10 * time.Second},
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
		},
		Server: ServerConfig{
			Port:              3000,
			ClockSkew:         duration{60 * time.Second},
			IdempotencyWindow: duration{24 * time.Hour},
			IdempotencyStore:  "memory",
			ShutdownTimeout:   duration{10 * time.Second},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validIdempotencyStores = map[string]bool{"memory": true, "file": true, "postgres": true, "redis": true}

// Validate reports every problem found, not only the first.
func (c *Config) Validate() error {
	var errs []string

	backend := lending.BackendKind(strings.ToLower(c.Backend))
	if backend != lending.BackendWeb3 && backend != lending.BackendRelay {
		errs = append(errs, fmt.Sprintf("unknown backend %q (valid: web3, relay)", c.Backend))
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("unknown log level %q (valid: debug, info, warn, error)", c.Log.Level))
	}

	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.DefaultGasPrice != "" {
		if _, ok := new(big.Int).SetString(c.Chain.DefaultGasPrice, 10); !ok {
			errs = append(errs, fmt.Sprintf("chain: default_gas_price %q is not a decimal integer", c.Chain.DefaultGasPrice))
		}
	}
	// both backends sign: web3 its transactions, relay its intents
	if c.Chain.PrivateKey == "" {
		errs = append(errs, "chain: private_key is required")
	} else if _, err := chain.ParsePrivateKey(c.Chain.PrivateKey); err != nil {
		errs = append(errs, fmt.Sprintf("chain: private_key: %v", err))
	}
	if c.Chain.ReceiptInterval.Duration <= 0 {
		errs = append(errs, "chain: receipt_interval must be positive")
	}

	for name, addr := range map[string]string{
		"registry":           c.Contracts.Registry,
		"loan_manager":       c.Contracts.LoanManager,
		"debt_engine":        c.Contracts.DebtEngine,
		"installments_model": c.Contracts.InstallmentsModel,
		"token":              c.Contracts.Token,
		"oracle":             c.Contracts.Oracle,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("contracts: %s %q is not an address", name, addr))
		}
	}

	if backend == lending.BackendRelay {
		if !common.IsHexAddress(c.Relay.WalletFactory) {
			errs = append(errs, "relay: wallet_factory must be an address")
		}
		if len(strings.TrimPrefix(c.Relay.InitCodeHash, "0x")) != 64 {
			errs = append(errs, "relay: init_code_hash must be 32 bytes of hex")
		}
		if c.Relay.URL == "" && !c.Relay.Fake {
			errs = append(errs, "relay: url must be set unless fake is enabled")
		}
		if c.Relay.PollInterval.Duration <= 0 {
			errs = append(errs, "relay: poll_interval must be positive")
		}
		if c.Relay.MaxAttempts < 1 {
			errs = append(errs, "relay: max_attempts must be >= 1")
		}
	}

	if c.Lending.Currency == "" {
		errs = append(errs, "lending: currency must not be empty")
	}
	if c.Lending.SettleTimeout.Duration < 0 {
		errs = append(errs, "lending: settle_timeout must not be negative")
	}

	if c.Rates.URL == "" {
		errs = append(errs, "rates: url must not be empty")
	}
	switch c.Rates.Cache {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "rates: cache \"redis\" requires redis.addr")
		}
	default:
		errs = append(errs, fmt.Sprintf("rates: unknown cache %q (valid: memory, redis)", c.Rates.Cache))
	}
	if c.RNode.URL == "" {
		errs = append(errs, "rnode: url must not be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ClockSkew.Duration <= 0 {
		errs = append(errs, "server: clock_skew must be positive")
	}
	if c.Server.IdempotencyWindow.Duration <= 0 {
		errs = append(errs, "server: idempotency_window must be positive")
	}
	if !validIdempotencyStores[c.Server.IdempotencyStore] {
		errs = append(errs, fmt.Sprintf("server: unknown idempotency_store %q (valid: memory, file, postgres, redis)", c.Server.IdempotencyStore))
	}
	switch c.Server.IdempotencyStore {
	case "file":
		if c.Server.IdempotencyPath == "" {
			errs = append(errs, "server: idempotency_path is required for the file store")
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			errs = append(errs, "server: idempotency_store \"postgres\" requires postgres.dsn")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "server: idempotency_store \"redis\" requires redis.addr")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %d problem(s):\n  - %s", len(errs), strings.Join(errs, "\n  - "))
	}
	return nil
}

// LendingConfig maps the configuration onto the backend factory input.
func (c *Config) LendingConfig() lending.Config {
	var gasPrice *big.Int
	if c.Chain.DefaultGasPrice != "" {
		gasPrice, _ = new(big.Int).SetString(c.Chain.DefaultGasPrice, 10)
	}
	return lending.Config{
		Backend:         lending.BackendKind(strings.ToLower(c.Backend)),
		PrivateKey:      c.Chain.PrivateKey,
		DefaultGasPrice: gasPrice,
		ReceiptInterval: c.Chain.ReceiptInterval.Duration,
		Contracts: contracts.FactoryConfig{
			Registry:          c.Contracts.Registry,
			LoanManager:       c.Contracts.LoanManager,
			DebtEngine:        c.Contracts.DebtEngine,
			InstallmentsModel: c.Contracts.InstallmentsModel,
			Token:             c.Contracts.Token,
			Oracle:            c.Contracts.Oracle,
		},
		Relay: lending.RelayConfig{
			URL:          c.Relay.URL,
			Factory:      c.Relay.WalletFactory,
			InitCodeHash: c.Relay.InitCodeHash,
			Timeout:      c.Relay.Timeout.Duration,
			PollInterval: c.Relay.PollInterval.Duration,
			MaxAttempts:  c.Relay.MaxAttempts,
			Fake:         c.Relay.Fake,
		},
	}
}
