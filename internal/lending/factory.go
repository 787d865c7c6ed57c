package lending

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"diaspore/internal/chain"
	"diaspore/internal/contracts"
	"diaspore/internal/relay"
	"diaspore/internal/settlement"
)

// Config selects and configures a backend.
type Config struct {
	Backend         BackendKind
	PrivateKey      string
	DefaultGasPrice *big.Int
	ReceiptInterval time.Duration
	Contracts       contracts.FactoryConfig
	Relay           RelayConfig
}

type RelayConfig struct {
	URL          string
	Factory      string
	InitCodeHash string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxAttempts  int
	// Fake settles intents in memory instead of calling a relayer.
	Fake bool
}

// New resolves the contracts and builds the configured backend. Deps.Chain
// is required; Deps.Contracts is filled in when nil.
func New(ctx context.Context, cfg Config, d Deps) (API, error) {
	if d.Chain == nil {
		return nil, fmt.Errorf("lending: chain backend is required")
	}
	if d.Contracts == nil {
		set, err := buildContracts(ctx, d, cfg.Contracts)
		if err != nil {
			return nil, err
		}
		d.Contracts = set
	}

	switch cfg.Backend {
	case BackendWeb3, "":
		opts, err := chain.NewTransactor(ctx, d.Chain, chain.TransactorConfig{
			PrivateKeyHex:   cfg.PrivateKey,
			DefaultGasPrice: cfg.DefaultGasPrice,
		})
		if err != nil {
			return nil, err
		}
		return NewWeb3API(d, opts, cfg.ReceiptInterval)
	case BackendRelay:
		wallet, relayer, err := relayParts(cfg, d)
		if err != nil {
			return nil, err
		}
		poller := settlement.Default()
		if cfg.Relay.PollInterval > 0 {
			poller.Interval = cfg.Relay.PollInterval
		}
		if cfg.Relay.MaxAttempts > 0 {
			poller.MaxAttempts = cfg.Relay.MaxAttempts
		}
		return NewRelayAPI(d, wallet, relayer, poller)
	}
	return nil, fmt.Errorf("lending: unknown backend %q", cfg.Backend)
}

func buildContracts(ctx context.Context, d Deps, fc contracts.FactoryConfig) (*contracts.Set, error) {
	var registry common.Address
	if fc.Registry == "" {
		network, err := d.Chain.NetworkID(ctx)
		if err != nil {
			return nil, fmt.Errorf("lending: network id: %w", err)
		}
		if !allExplicit(fc) {
			registry, err = contracts.DefaultRegistry(network.Int64())
			if err != nil {
				return nil, err
			}
		}
	}
	factory, err := contracts.NewFactory(d.Chain, fc, registry, d.Logger)
	if err != nil {
		return nil, err
	}
	return factory.Build(ctx)
}

func allExplicit(fc contracts.FactoryConfig) bool {
	return fc.LoanManager != "" && fc.DebtEngine != "" && fc.InstallmentsModel != "" && fc.Token != ""
}

func relayParts(cfg Config, d Deps) (*relay.Wallet, relay.Relayer, error) {
	rc := cfg.Relay
	if !common.IsHexAddress(rc.Factory) {
		return nil, nil, fmt.Errorf("lending: relay wallet factory %q is not an address", rc.Factory)
	}
	initCode := strings.TrimPrefix(rc.InitCodeHash, "0x")
	if len(initCode) != 64 {
		return nil, nil, fmt.Errorf("lending: relay init code hash must be 32 bytes")
	}
	walletCfg := relay.Config{
		Factory:      common.HexToAddress(rc.Factory),
		InitCodeHash: common.HexToHash(initCode),
	}
	wallet, err := relay.NewWallet(cfg.PrivateKey, walletCfg)
	if err != nil {
		return nil, nil, err
	}
	if rc.Fake {
		return wallet, relay.NewFakeRelayer(walletCfg), nil
	}
	if rc.URL == "" {
		return nil, nil, fmt.Errorf("lending: relayer url is required")
	}
	return wallet, relay.NewClient(rc.URL, rc.Timeout, d.Logger), nil
}
