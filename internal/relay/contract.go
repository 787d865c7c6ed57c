package relay

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract sends calls to one contract through the relay wallet.
type Contract struct {
	address common.Address
	abi     abi.ABI
	wallet  *Wallet
	relayer Relayer
}

func NewContract(address common.Address, contractABI abi.ABI, wallet *Wallet, relayer Relayer) *Contract {
	return &Contract{address: address, abi: contractABI, wallet: wallet, relayer: relayer}
}

func (c *Contract) Address() common.Address { return c.address }

// Invoke packs method with args and relays it.
func (c *Contract) Invoke(ctx context.Context, method string, args ...interface{}) (common.Hash, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("relay: pack %s: %w", method, err)
	}
	return c.InvokeData(ctx, data)
}

// InvokeData relays prepacked call data.
func (c *Contract) InvokeData(ctx context.Context, data []byte) (common.Hash, error) {
	intent, err := NewIntentBuilder().WithCall(c.address, data).Build()
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := c.wallet.Sign(intent)
	if err != nil {
		return common.Hash{}, err
	}
	return c.relayer.Relay(ctx, signed)
}
