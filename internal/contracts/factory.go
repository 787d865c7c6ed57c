package contracts

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultRegistries are the known registry deployments per network id.
var defaultRegistries = map[int64]string{
	1: "",
	3: "0xbfdb9397842776dbf3c0e3160e941d1542ab0365",
}

// DefaultRegistry returns the registry deployed on networkID.
func DefaultRegistry(networkID int64) (common.Address, error) {
	raw, ok := defaultRegistries[networkID]
	if !ok {
		return common.Address{}, fmt.Errorf("no registry known for network %d", networkID)
	}
	if raw == "" {
		return common.Address{}, fmt.Errorf("network %d has no registry deployed, configure contract addresses explicitly", networkID)
	}
	return common.HexToAddress(raw), nil
}

// Addresses of the protocol contracts.
type Addresses struct {
	LoanManager       common.Address
	DebtEngine        common.Address
	InstallmentsModel common.Address
	Token             common.Address
	Oracle            common.Address
}

// FactoryConfig holds hex addresses. Empty entries are resolved through the
// registry.
type FactoryConfig struct {
	Registry          string
	LoanManager       string
	DebtEngine        string
	InstallmentsModel string
	Token             string
	Oracle            string
}

// Factory builds contract wrappers, resolving addresses lazily.
type Factory struct {
	backend   bind.ContractBackend
	registry  common.Address
	overrides map[string]common.Address
	log       *zap.Logger

	mu       sync.Mutex
	resolved *Addresses
}

// NewFactory validates cfg. registry is used when cfg.Registry is empty.
func NewFactory(backend bind.ContractBackend, cfg FactoryConfig, registry common.Address, log *zap.Logger) (*Factory, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Factory{
		backend:   backend,
		registry:  registry,
		overrides: make(map[string]common.Address),
		log:       log,
	}
	if cfg.Registry != "" {
		addr, err := parseAddress("registry", cfg.Registry)
		if err != nil {
			return nil, err
		}
		f.registry = addr
	}
	for key, raw := range map[string]string{
		LoanManagerKey:       cfg.LoanManager,
		DebtEngineKey:        cfg.DebtEngine,
		InstallmentsModelKey: cfg.InstallmentsModel,
		TokenKey:             cfg.Token,
		OracleKey:            cfg.Oracle,
	} {
		if raw == "" {
			continue
		}
		addr, err := parseAddress(key, raw)
		if err != nil {
			return nil, err
		}
		f.overrides[key] = addr
	}
	return f, nil
}

func parseAddress(name, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: %w: %q", name, ErrInvalidAddress, raw)
	}
	return common.HexToAddress(raw), nil
}

// Addresses resolves every contract address. Successful resolutions are
// cached; failures are retried on the next call.
func (f *Factory) Addresses(ctx context.Context) (Addresses, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved != nil {
		return *f.resolved, nil
	}

	keys := []string{LoanManagerKey, DebtEngineKey, InstallmentsModelKey, TokenKey, OracleKey}
	found := make([]common.Address, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		if addr, ok := f.overrides[key]; ok {
			found[i] = addr
			continue
		}
		if f.registry == (common.Address{}) {
			if key == OracleKey {
				// Token denominated loans need no oracle.
				continue
			}
			return Addresses{}, fmt.Errorf("%s: no address configured and no registry", key)
		}
		g.Go(func() error {
			addr, err := NewRegistry(f.registry, f.backend).GetAddress(gctx, key)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", key, err)
			}
			found[i] = addr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Addresses{}, err
	}

	out := Addresses{
		LoanManager:       found[0],
		DebtEngine:        found[1],
		InstallmentsModel: found[2],
		Token:             found[3],
		Oracle:            found[4],
	}
	for i, addr := range found[:4] {
		if addr == (common.Address{}) {
			return Addresses{}, fmt.Errorf("%s: registry returned the zero address", keys[i])
		}
	}
	f.log.Debug("contracts resolved",
		zap.Stringer("loan_manager", out.LoanManager),
		zap.Stringer("debt_engine", out.DebtEngine),
		zap.Stringer("installments_model", out.InstallmentsModel),
		zap.Stringer("token", out.Token),
		zap.Stringer("oracle", out.Oracle),
	)
	f.resolved = &out
	return out, nil
}

// Set is the full collection of bound wrappers.
type Set struct {
	Addresses         Addresses
	LoanManager       *LoanManager
	DebtEngine        *DebtEngine
	InstallmentsModel *InstallmentsModel
	Token             *Token
}

// Build resolves addresses and binds every wrapper.
func (f *Factory) Build(ctx context.Context) (*Set, error) {
	addrs, err := f.Addresses(ctx)
	if err != nil {
		return nil, err
	}
	return &Set{
		Addresses:         addrs,
		LoanManager:       NewLoanManager(addrs.LoanManager, f.backend),
		DebtEngine:        NewDebtEngine(addrs.DebtEngine, f.backend),
		InstallmentsModel: NewInstallmentsModel(addrs.InstallmentsModel, f.backend),
		Token:             NewToken(addrs.Token, f.backend),
	}, nil
}
