package contracts

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Registry maps well-known contract keys to deployed addresses.
type Registry struct {
	*contract
}

func NewRegistry(address common.Address, backend bind.ContractBackend) *Registry {
	return &Registry{newContract("Registry", address, RegistryParsed, backend)}
}

// GetAddress resolves key. An unregistered key yields the zero address.
func (r *Registry) GetAddress(ctx context.Context, key string) (common.Address, error) {
	out, err := r.call(ctx, "getAddress", key)
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(out[0]), nil
}
