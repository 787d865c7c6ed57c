package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// DebtPaid is emitted by pay and payToken.
type DebtPaid struct {
	Id              [32]byte
	Sender          common.Address
	Origin          common.Address
	Requested       *big.Int
	RequestedTokens *big.Int
	Paid            *big.Int
	Tokens          *big.Int
	Raw             types.Log
}

func (e *DebtPaid) setRaw(l types.Log) { e.Raw = l }

// DebtWithdrawn is emitted by every withdraw variant.
type DebtWithdrawn struct {
	Id     [32]byte
	Sender common.Address
	To     common.Address
	Amount *big.Int
	Raw    types.Log
}

func (e *DebtWithdrawn) setRaw(l types.Log) { e.Raw = l }

// DebtEngine wraps the debt ledger: payments and lender withdrawals.
type DebtEngine struct {
	*contract
}

func NewDebtEngine(address common.Address, backend bind.ContractBackend) *DebtEngine {
	return &DebtEngine{newContract("DebtEngine", address, DebtEngineParsed, backend)}
}

// Pay repays amount, denominated in the loan currency.
func (d *DebtEngine) Pay(opts *bind.TransactOpts, id common.Hash, amount *big.Int, origin common.Address, oracleData []byte) (*types.Transaction, error) {
	return d.transact(opts, "pay", [32]byte(id), orZero(amount), origin, orEmpty(oracleData))
}

// PayToken repays amount, denominated in protocol tokens.
func (d *DebtEngine) PayToken(opts *bind.TransactOpts, id common.Hash, amount *big.Int, origin common.Address, oracleData []byte) (*types.Transaction, error) {
	return d.transact(opts, "payToken", [32]byte(id), orZero(amount), origin, orEmpty(oracleData))
}

func (d *DebtEngine) Withdraw(opts *bind.TransactOpts, id common.Hash, to common.Address) (*types.Transaction, error) {
	return d.transact(opts, "withdraw", [32]byte(id), to)
}

func (d *DebtEngine) WithdrawPartial(opts *bind.TransactOpts, id common.Hash, to common.Address, amount *big.Int) (*types.Transaction, error) {
	return d.transact(opts, "withdrawPartial", [32]byte(id), to, orZero(amount))
}

func (d *DebtEngine) WithdrawBatch(opts *bind.TransactOpts, ids []common.Hash, to common.Address) (*types.Transaction, error) {
	return d.transact(opts, "withdrawBatch", hashes(ids), to)
}

func (d *DebtEngine) PackPay(id common.Hash, amount *big.Int, origin common.Address, oracleData []byte) ([]byte, error) {
	return d.pack("pay", [32]byte(id), orZero(amount), origin, orEmpty(oracleData))
}

func (d *DebtEngine) PackPayToken(id common.Hash, amount *big.Int, origin common.Address, oracleData []byte) ([]byte, error) {
	return d.pack("payToken", [32]byte(id), orZero(amount), origin, orEmpty(oracleData))
}

func (d *DebtEngine) PackWithdraw(id common.Hash, to common.Address) ([]byte, error) {
	return d.pack("withdraw", [32]byte(id), to)
}

func (d *DebtEngine) PackWithdrawPartial(id common.Hash, to common.Address, amount *big.Int) ([]byte, error) {
	return d.pack("withdrawPartial", [32]byte(id), to, orZero(amount))
}

func (d *DebtEngine) PackWithdrawBatch(ids []common.Hash, to common.Address) ([]byte, error) {
	return d.pack("withdrawBatch", hashes(ids), to)
}

func (d *DebtEngine) ParsePaid(log types.Log) (*DebtPaid, error) {
	return decodeLog[DebtPaid](d.contract, "Paid", log)
}

func (d *DebtEngine) ParseWithdrawn(log types.Log) (*DebtWithdrawn, error) {
	return decodeLog[DebtWithdrawn](d.contract, "Withdrawn", log)
}

func (d *DebtEngine) PaidIn(receipt *types.Receipt, id common.Hash) (*DebtPaid, error) {
	return findInReceipt[DebtPaid](d.contract, "Paid", receipt, id)
}

func (d *DebtEngine) WithdrawnIn(receipt *types.Receipt, id common.Hash) (*DebtWithdrawn, error) {
	return findInReceipt[DebtWithdrawn](d.contract, "Withdrawn", receipt, id)
}

func (d *DebtEngine) FilterPaid(ctx context.Context, opts *bind.FilterOpts, ids ...common.Hash) ([]*DebtPaid, error) {
	return filterEvents[DebtPaid](ctx, d.contract, "Paid", opts, hashRule(ids))
}

func (d *DebtEngine) FilterWithdrawn(ctx context.Context, opts *bind.FilterOpts, ids ...common.Hash) ([]*DebtWithdrawn, error) {
	return filterEvents[DebtWithdrawn](ctx, d.contract, "Withdrawn", opts, hashRule(ids))
}

func (d *DebtEngine) WatchPaid(ctx context.Context, sink chan<- *DebtPaid, ids ...common.Hash) (event.Subscription, error) {
	return watchEvents[DebtPaid](ctx, d.contract, "Paid", sink, hashRule(ids))
}

func (d *DebtEngine) WatchWithdrawn(ctx context.Context, sink chan<- *DebtWithdrawn, ids ...common.Hash) (event.Subscription, error) {
	return watchEvents[DebtWithdrawn](ctx, d.contract, "Withdrawn", sink, hashRule(ids))
}

func hashes(ids []common.Hash) [][32]byte {
	out := make([][32]byte, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
