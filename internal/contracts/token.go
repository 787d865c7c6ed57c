package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

type TokenTransfer struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Raw   types.Log
}

func (e *TokenTransfer) setRaw(l types.Log) { e.Raw = l }

type TokenApproval struct {
	Owner   common.Address
	Spender common.Address
	Value   *big.Int
	Raw     types.Log
}

func (e *TokenApproval) setRaw(l types.Log) { e.Raw = l }

// Token is the ERC20 the protocol lends and repays in.
type Token struct {
	*contract
}

func NewToken(address common.Address, backend bind.ContractBackend) *Token {
	return &Token{newContract("Token", address, TokenParsed, backend)}
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := t.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return asBig(out[0]), nil
}

func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := t.call(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asBig(out[0]), nil
}

func (t *Token) Approve(opts *bind.TransactOpts, spender common.Address, value *big.Int) (*types.Transaction, error) {
	return t.transact(opts, "approve", spender, orZero(value))
}

func (t *Token) IncreaseApproval(opts *bind.TransactOpts, spender common.Address, added *big.Int) (*types.Transaction, error) {
	return t.transact(opts, "increaseApproval", spender, orZero(added))
}

func (t *Token) Transfer(opts *bind.TransactOpts, to common.Address, value *big.Int) (*types.Transaction, error) {
	return t.transact(opts, "transfer", to, orZero(value))
}

func (t *Token) PackApprove(spender common.Address, value *big.Int) ([]byte, error) {
	return t.pack("approve", spender, orZero(value))
}

func (t *Token) PackTransfer(to common.Address, value *big.Int) ([]byte, error) {
	return t.pack("transfer", to, orZero(value))
}

func (t *Token) ParseTransfer(log types.Log) (*TokenTransfer, error) {
	return decodeLog[TokenTransfer](t.contract, "Transfer", log)
}

func (t *Token) ParseApproval(log types.Log) (*TokenApproval, error) {
	return decodeLog[TokenApproval](t.contract, "Approval", log)
}

// ApprovalIn finds the Approval emitted for owner in a mined receipt.
func (t *Token) ApprovalIn(receipt *types.Receipt, owner common.Address) (*TokenApproval, error) {
	return findInReceipt[TokenApproval](t.contract, "Approval", receipt, common.BytesToHash(owner.Bytes()))
}

func (t *Token) FilterApproval(ctx context.Context, opts *bind.FilterOpts, owners []common.Address, spenders []common.Address) ([]*TokenApproval, error) {
	return filterEvents[TokenApproval](ctx, t.contract, "Approval", opts, addressRule(owners), addressRule(spenders))
}

func (t *Token) FilterTransfer(ctx context.Context, opts *bind.FilterOpts, from []common.Address, to []common.Address) ([]*TokenTransfer, error) {
	return filterEvents[TokenTransfer](ctx, t.contract, "Transfer", opts, addressRule(from), addressRule(to))
}

func (t *Token) WatchTransfer(ctx context.Context, sink chan<- *TokenTransfer, from []common.Address, to []common.Address) (event.Subscription, error) {
	return watchEvents[TokenTransfer](ctx, t.contract, "Transfer", sink, addressRule(from), addressRule(to))
}

func addressRule(addrs []common.Address) []interface{} {
	rule := make([]interface{}, 0, len(addrs))
	for _, a := range addrs {
		rule = append(rule, a)
	}
	return rule
}
