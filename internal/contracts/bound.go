package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

var (
	ErrInvalidAddress = errors.New("invalid contract address")
	ErrEventNotFound  = errors.New("event not found in receipt")
)

// contract is the shared plumbing of every wrapper: a bound contract plus the
// parsed ABI used to pack relay call data and decode logs.
type contract struct {
	name     string
	address  common.Address
	abi      abi.ABI
	bound    *bind.BoundContract
	filterer bind.ContractFilterer
}

func newContract(name string, address common.Address, parsed abi.ABI, backend bind.ContractBackend) *contract {
	return &contract{
		name:     name,
		address:  address,
		abi:      parsed,
		bound:    bind.NewBoundContract(address, parsed, backend, backend, backend),
		filterer: backend,
	}
}

// Address returns the deployed address.
func (c *contract) Address() common.Address { return c.address }

// ABI returns the parsed interface.
func (c *contract) ABI() abi.ABI { return c.abi }

func (c *contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s.%s: %w", c.name, method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s.%s: empty result", c.name, method)
	}
	return out, nil
}

func (c *contract) transact(opts *bind.TransactOpts, method string, args ...interface{}) (*types.Transaction, error) {
	tx, err := c.bound.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s tx: %w", c.name, method, err)
	}
	return tx, nil
}

// pack returns the call data for method, as relayed by intents.
func (c *contract) pack(method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s pack: %w", c.name, method, err)
	}
	return data, nil
}

// loggedEvent is implemented by the decoded event structs.
type loggedEvent[T any] interface {
	*T
	setRaw(types.Log)
}

func decodeLog[T any, P loggedEvent[T]](c *contract, name string, log types.Log) (P, error) {
	out := P(new(T))
	if err := c.bound.UnpackLog(out, name, log); err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", c.name, name, err)
	}
	out.setRaw(log)
	return out, nil
}

// findInReceipt returns the first name event emitted by this contract in the
// receipt whose first indexed topic equals topic (zero hash matches any).
func findInReceipt[T any, P loggedEvent[T]](c *contract, name string, receipt *types.Receipt, topic common.Hash) (P, error) {
	ev, ok := c.abi.Events[name]
	if !ok {
		return nil, fmt.Errorf("%s: unknown event %s", c.name, name)
	}
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.address || len(l.Topics) == 0 || l.Topics[0] != ev.ID {
			continue
		}
		if topic != (common.Hash{}) && (len(l.Topics) < 2 || l.Topics[1] != topic) {
			continue
		}
		return decodeLog[T, P](c, name, *l)
	}
	return nil, fmt.Errorf("%s %s: %w", c.name, name, ErrEventNotFound)
}

func filterEvents[T any, P loggedEvent[T]](ctx context.Context, c *contract, name string, opts *bind.FilterOpts, query ...[]interface{}) ([]P, error) {
	ev, ok := c.abi.Events[name]
	if !ok {
		return nil, fmt.Errorf("%s: unknown event %s", c.name, name)
	}
	topics, err := abi.MakeTopics(query...)
	if err != nil {
		return nil, fmt.Errorf("%s: topics for %s: %w", c.name, name, err)
	}
	q := ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics:    append([][]common.Hash{{ev.ID}}, topics...),
	}
	if opts != nil {
		q.FromBlock = new(big.Int).SetUint64(opts.Start)
		if opts.End != nil {
			q.ToBlock = new(big.Int).SetUint64(*opts.End)
		}
	}

	logs, err := c.filterer.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: filter %s: %w", c.name, name, err)
	}
	out := make([]P, 0, len(logs))
	for _, l := range logs {
		decoded, err := decodeLog[T, P](c, name, l)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

func watchEvents[T any, P loggedEvent[T]](ctx context.Context, c *contract, name string, sink chan<- P, query ...[]interface{}) (event.Subscription, error) {
	logs, sub, err := c.bound.WatchLogs(&bind.WatchOpts{Context: ctx}, name, query...)
	if err != nil {
		return nil, fmt.Errorf("%s: watch %s: %w", c.name, name, err)
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case l := <-logs:
				decoded, err := decodeLog[T, P](c, name, l)
				if err != nil {
					return err
				}
				select {
				case sink <- decoded:
				case err := <-sub.Err():
					return err
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func hashRule(ids []common.Hash) []interface{} {
	rule := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		rule = append(rule, [32]byte(id))
	}
	return rule
}

func asAddress(v interface{}) common.Address {
	return *abi.ConvertType(v, new(common.Address)).(*common.Address)
}

func asBig(v interface{}) *big.Int {
	return *abi.ConvertType(v, new(*big.Int)).(**big.Int)
}

func asBool(v interface{}) bool {
	return *abi.ConvertType(v, new(bool)).(*bool)
}

func asBytes(v interface{}) []byte {
	return *abi.ConvertType(v, new([]byte)).(*[]byte)
}

func asHash(v interface{}) common.Hash {
	return common.Hash(*abi.ConvertType(v, new([32]byte)).(*[32]byte))
}
