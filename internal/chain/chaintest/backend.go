// Package chaintest provides an in-memory chain.Backend for tests of the
// contract wrappers and the lending backends.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// CallHandler answers an eth_call with the unpacked method arguments and
// returns the values to pack as outputs.
type CallHandler func(args []interface{}) ([]interface{}, error)

// SendHook is invoked for every transaction sent. It returns the logs the
// mined receipt should carry and whether the transaction succeeded.
type SendHook func(tx *types.Transaction, method *abi.Method, args []interface{}) ([]*types.Log, bool)

type handler struct {
	method *abi.Method
	fn     CallHandler
}

// Backend is a single-node fake chain. Transactions are mined instantly.
type Backend struct {
	mu sync.Mutex

	ChainIDValue   *big.Int
	NetworkIDValue *big.Int
	GasPrice       *big.Int

	handlers  map[common.Address]map[[4]byte]handler
	abis      map[common.Address]abi.ABI
	hooks     map[common.Address]SendHook
	balances  map[common.Address]*big.Int
	nonces    map[common.Address]uint64
	receipts  map[common.Hash]*types.Receipt
	sent      []*types.Transaction
	logs      []types.Log
	block     uint64
	subs      []*logSub
	HideUntil int // receipts stay unknown for this many lookups
	lookups   map[common.Hash]int
}

type logSub struct {
	query ethereum.FilterQuery
	ch    chan<- types.Log
	quit  chan struct{}
}

// New returns an empty backend on chain id 3.
func New() *Backend {
	return &Backend{
		ChainIDValue:   big.NewInt(3),
		NetworkIDValue: big.NewInt(3),
		GasPrice:       big.NewInt(1_000_000_000),
		handlers:       make(map[common.Address]map[[4]byte]handler),
		abis:           make(map[common.Address]abi.ABI),
		hooks:          make(map[common.Address]SendHook),
		balances:       make(map[common.Address]*big.Int),
		nonces:         make(map[common.Address]uint64),
		receipts:       make(map[common.Hash]*types.Receipt),
		lookups:        make(map[common.Hash]int),
		block:          1,
	}
}

// Deploy registers a contract ABI at address so calls and sends can be decoded.
func (b *Backend) Deploy(address common.Address, contractABI abi.ABI) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.abis[address] = contractABI
	if _, ok := b.handlers[address]; !ok {
		b.handlers[address] = make(map[[4]byte]handler)
	}
}

// HandleCall answers calls of method on the contract at address.
func (b *Backend) HandleCall(address common.Address, method string, fn CallHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parsed, ok := b.abis[address]
	if !ok {
		panic(fmt.Sprintf("chaintest: no contract deployed at %s", address.Hex()))
	}
	m, ok := parsed.Methods[method]
	if !ok {
		panic(fmt.Sprintf("chaintest: unknown method %s", method))
	}
	var sel [4]byte
	copy(sel[:], m.ID)
	b.handlers[address][sel] = handler{method: &m, fn: fn}
}

// OnSend installs the hook run for transactions to address.
func (b *Backend) OnSend(address common.Address, hook SendHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[address] = hook
}

func (b *Backend) SetBalance(account common.Address, wei *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[account] = new(big.Int).Set(wei)
}

// Sent returns the transactions sent so far.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.Transaction, len(b.sent))
	copy(out, b.sent)
	return out
}

// DecodeSent unpacks the call data of a sent transaction.
func (b *Backend) DecodeSent(tx *types.Transaction) (*abi.Method, []interface{}, error) {
	b.mu.Lock()
	parsed, ok := b.abis[*tx.To()]
	b.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("chaintest: unknown contract %s", tx.To().Hex())
	}
	return decode(parsed, tx.Data())
}

func decode(parsed abi.ABI, data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("chaintest: short call data")
	}
	m, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return m, args, nil
}

func (b *Backend) CodeAt(_ context.Context, contract common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.abis[contract]; ok {
		return []byte{0x60}, nil
	}
	return nil, nil
}

func (b *Backend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return b.CodeAt(ctx, account, nil)
}

func (b *Backend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if call.To == nil {
		return nil, errors.New("chaintest: call without target")
	}
	if len(call.Data) < 4 {
		return nil, errors.New("chaintest: short call data")
	}
	var sel [4]byte
	copy(sel[:], call.Data[:4])

	b.mu.Lock()
	h, ok := b.handlers[*call.To][sel]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("chaintest: no handler for %x on %s", sel, call.To.Hex())
	}
	args, err := h.method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	outs, err := h.fn(args)
	if err != nil {
		return nil, err
	}
	return h.method.Outputs.Pack(outs...)
}

func (b *Backend) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(b.block)}, nil
}

func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 150_000, nil
}

// SendTransaction mines tx immediately and records its receipt.
func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	signer := types.LatestSignerForChainID(b.ChainIDValue)
	from, err := types.Sender(signer, tx)
	if err != nil {
		return fmt.Errorf("chaintest: recover sender: %w", err)
	}

	b.mu.Lock()
	to := *tx.To()
	hook := b.hooks[to]
	parsed, known := b.abis[to]
	b.mu.Unlock()

	var (
		method *abi.Method
		args   []interface{}
	)
	if known {
		method, args, _ = decode(parsed, tx.Data())
	}

	var logs []*types.Log
	ok := true
	if hook != nil {
		logs, ok = hook(tx, method, args)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonces[from]++
	b.block++
	receipt := &types.Receipt{
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(b.block),
		GasUsed:     21_000,
		Status:      types.ReceiptStatusSuccessful,
	}
	if !ok {
		receipt.Status = types.ReceiptStatusFailed
		logs = nil
	}
	for i, l := range logs {
		l.TxHash = tx.Hash()
		l.BlockNumber = b.block
		l.Index = uint(i)
		if l.Address == (common.Address{}) {
			l.Address = to
		}
		receipt.Logs = append(receipt.Logs, l)
		b.logs = append(b.logs, *l)
		b.publish(*l)
	}
	b.receipts[tx.Hash()] = receipt
	b.sent = append(b.sent, tx)
	return nil
}

func (b *Backend) publish(l types.Log) {
	for _, s := range b.subs {
		if !matches(s.query, l) {
			continue
		}
		go func(s *logSub) {
			select {
			case s.ch <- l:
			case <-s.quit:
			}
		}(s)
	}
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lookups[hash] < b.HideUntil {
		b.lookups[hash]++
		return nil, ethereum.NotFound
	}
	r, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *Backend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Log
	for _, l := range b.logs {
		if matches(q, l) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (b *Backend) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	s := &logSub{query: q, ch: ch, quit: make(chan struct{})}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		close(s.quit)
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, other := range b.subs {
			if other == s {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		return nil
	}), nil
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.ChainIDValue), nil
}

func (b *Backend) NetworkID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.NetworkIDValue), nil
}

func (b *Backend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.block, nil
}

func matches(q ethereum.FilterQuery, l types.Log) bool {
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, alternatives := range q.Topics {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		hit := false
		for _, t := range alternatives {
			if t == l.Topics[i] {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// EventLog builds a log for the named event. indexed are the topic values
// after the signature; data are the non-indexed arguments in ABI order.
func EventLog(contractABI abi.ABI, name string, address common.Address, indexed []common.Hash, data ...interface{}) *types.Log {
	ev, ok := contractABI.Events[name]
	if !ok {
		panic("chaintest: unknown event " + name)
	}
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		panic("chaintest: pack event " + name + ": " + err.Error())
	}
	topics := append([]common.Hash{ev.ID}, indexed...)
	return &types.Log{Address: address, Topics: topics, Data: packed}
}
