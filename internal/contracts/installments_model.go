package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// InstallmentsTerms describe an installments loan. Duration and TimeUnit are
// in seconds.
type InstallmentsTerms struct {
	Cuota        *big.Int
	InterestRate *big.Int
	Installments uint32
	Duration     uint64
	TimeUnit     uint32
}

// InstallmentsModel encodes and validates loan data for installment loans.
type InstallmentsModel struct {
	*contract
}

func NewInstallmentsModel(address common.Address, backend bind.ContractBackend) *InstallmentsModel {
	return &InstallmentsModel{newContract("InstallmentsModel", address, InstallmentsModelParsed, backend)}
}

// EncodeData asks the model to encode terms into opaque loan data.
func (m *InstallmentsModel) EncodeData(ctx context.Context, t InstallmentsTerms) ([]byte, error) {
	out, err := m.call(ctx, "encodeData",
		orZero(t.Cuota),
		orZero(t.InterestRate),
		new(big.Int).SetUint64(uint64(t.Installments)),
		new(big.Int).SetUint64(t.Duration),
		t.TimeUnit,
	)
	if err != nil {
		return nil, err
	}
	return asBytes(out[0]), nil
}

func (m *InstallmentsModel) Validate(ctx context.Context, data []byte) (bool, error) {
	out, err := m.call(ctx, "validate", orEmpty(data))
	if err != nil {
		return false, err
	}
	return asBool(out[0]), nil
}

func (m *InstallmentsModel) Create(opts *bind.TransactOpts, id common.Hash, data []byte) (*types.Transaction, error) {
	return m.transact(opts, "create", [32]byte(id), orEmpty(data))
}
