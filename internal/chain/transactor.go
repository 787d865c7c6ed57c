package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

// TransactorConfig configures the keyed signer for direct transactions.
type TransactorConfig struct {
	PrivateKeyHex   string
	DefaultGasPrice *big.Int
}

// NewTransactor builds a keyed transactor for the backend's chain id. A nil
// DefaultGasPrice lets the node suggest one per transaction.
func NewTransactor(ctx context.Context, b Backend, cfg TransactorConfig) (*bind.TransactOpts, error) {
	if cfg.PrivateKeyHex == "" {
		return nil, ErrReadOnly
	}
	pk, err := ParsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := b.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.GasLimit = 0 // let node estimate
	opts.Nonce = nil
	if cfg.DefaultGasPrice != nil && cfg.DefaultGasPrice.Sign() > 0 {
		opts.GasPrice = new(big.Int).Set(cfg.DefaultGasPrice)
	}
	return opts, nil
}

// WithContext copies opts so concurrent operations never share a context.
func WithContext(ctx context.Context, opts *bind.TransactOpts) *bind.TransactOpts {
	cp := *opts
	cp.Context = ctx
	return &cp
}
