package contracts

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"diaspore/internal/chain"
	"diaspore/internal/chain/chaintest"
)

var (
	loanManagerAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	debtEngineAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	modelAddr       = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	tokenAddr       = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	oracleAddr      = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	registryAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a6")
)

func newTransactor(t *testing.T, b *chaintest.Backend) *bind.TransactOpts {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	opts, err := chain.NewTransactor(context.Background(), b, chain.TransactorConfig{
		PrivateKeyHex: hex.EncodeToString(crypto.FromECDSA(key)),
	})
	require.NoError(t, err)
	return opts
}

func waitReceipt(t *testing.T, b *chaintest.Backend, tx *types.Transaction) *types.Receipt {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := chain.WaitForReceipt(ctx, b, tx.Hash(), time.Millisecond)
	require.NoError(t, err)
	return r
}

func TestLoanManagerCalls(t *testing.T) {
	b := chaintest.New()
	b.Deploy(loanManagerAddr, LoanManagerParsed)
	id := common.HexToHash("0x01")
	borrower := common.HexToAddress("0xb0")

	b.HandleCall(loanManagerAddr, "getBorrower", func(args []interface{}) ([]interface{}, error) {
		require.Equal(t, [32]byte(id), args[0])
		return []interface{}{borrower}, nil
	})
	b.HandleCall(loanManagerAddr, "getOracle", func([]interface{}) ([]interface{}, error) {
		return []interface{}{oracleAddr}, nil
	})
	b.HandleCall(loanManagerAddr, "getApproved", func([]interface{}) ([]interface{}, error) {
		return []interface{}{true}, nil
	})
	b.HandleCall(loanManagerAddr, "getStatus", func([]interface{}) ([]interface{}, error) {
		return []interface{}{big.NewInt(int64(StatusOngoing))}, nil
	})
	b.HandleCall(loanManagerAddr, "getLoanData", func([]interface{}) ([]interface{}, error) {
		return []interface{}{[]byte{0xca, 0xfe}}, nil
	})

	lm := NewLoanManager(loanManagerAddr, b)
	ctx := context.Background()

	got, err := lm.Borrower(ctx, id)
	require.NoError(t, err)
	require.Equal(t, borrower, got)

	oracle, err := lm.Oracle(ctx, id)
	require.NoError(t, err)
	require.Equal(t, oracleAddr, oracle)

	approved, err := lm.Approved(ctx, id)
	require.NoError(t, err)
	require.True(t, approved)

	status, err := lm.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusOngoing, status)

	data, err := lm.LoanData(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte{0xca, 0xfe}, data)

	_, err = lm.Creator(ctx, id)
	require.Error(t, err)
}

func TestCalcIDPassesCreator(t *testing.T) {
	b := chaintest.New()
	b.Deploy(loanManagerAddr, LoanManagerParsed)
	creator := common.HexToAddress("0xc0")
	want := crypto.Keccak256Hash([]byte("loan"))

	b.HandleCall(loanManagerAddr, "calcId", func(args []interface{}) ([]interface{}, error) {
		require.Len(t, args, 8)
		require.Equal(t, creator, args[2])
		require.Equal(t, uint64(99), args[6])
		return []interface{}{[32]byte(want)}, nil
	})

	p := RequestLoanParams{
		Amount:     big.NewInt(1000),
		Model:      modelAddr,
		Oracle:     oracleAddr,
		Borrower:   common.HexToAddress("0xb0"),
		Salt:       big.NewInt(7),
		Expiration: 99,
		LoanData:   []byte{1},
	}
	id, err := NewLoanManager(loanManagerAddr, b).CalcID(context.Background(), p.IDParams(creator))
	require.NoError(t, err)
	require.Equal(t, want, id)
}

func TestRequestLoanEmitsRequested(t *testing.T) {
	b := chaintest.New()
	b.Deploy(loanManagerAddr, LoanManagerParsed)
	id := crypto.Keccak256Hash([]byte("request"))
	opts := newTransactor(t, b)

	b.OnSend(loanManagerAddr, func(tx *types.Transaction, m *abi.Method, args []interface{}) ([]*types.Log, bool) {
		require.Equal(t, "requestLoan", m.Name)
		return []*types.Log{chaintest.EventLog(LoanManagerParsed, "Requested", loanManagerAddr,
			[]common.Hash{id},
			args[0], args[1], opts.From, args[2], args[3], args[4], args[6], new(big.Int).SetUint64(args[5].(uint64)),
		)}, true
	})

	lm := NewLoanManager(loanManagerAddr, b)
	tx, err := lm.RequestLoan(opts, RequestLoanParams{
		Amount:     big.NewInt(500),
		Model:      modelAddr,
		Oracle:     oracleAddr,
		Borrower:   opts.From,
		Salt:       big.NewInt(1),
		Expiration: 1_700_000_000,
		LoanData:   []byte{0xaa},
	})
	require.NoError(t, err)

	ev, err := lm.RequestedIn(waitReceipt(t, b, tx), id)
	require.NoError(t, err)
	require.Equal(t, [32]byte(id), ev.Id)
	require.Equal(t, int64(500), ev.Amount.Int64())
	require.Equal(t, opts.From, ev.Creator)
	require.Equal(t, modelAddr, ev.Model)
	require.Equal(t, []byte{0xaa}, ev.LoanData)
	require.Equal(t, uint64(1_700_000_000), ev.Expiration.Uint64())
	require.Equal(t, tx.Hash(), ev.Raw.TxHash)

	_, err = lm.RequestedIn(waitReceipt(t, b, tx), common.HexToHash("0x02"))
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestLendAndFilter(t *testing.T) {
	b := chaintest.New()
	b.Deploy(loanManagerAddr, LoanManagerParsed)
	opts := newTransactor(t, b)
	ids := []common.Hash{common.HexToHash("0x0a"), common.HexToHash("0x0b")}

	b.OnSend(loanManagerAddr, func(tx *types.Transaction, m *abi.Method, args []interface{}) ([]*types.Log, bool) {
		id := common.Hash(args[0].([32]byte))
		return []*types.Log{chaintest.EventLog(LoanManagerParsed, "Lent", loanManagerAddr,
			[]common.Hash{id}, opts.From, big.NewInt(10))}, true
	})

	lm := NewLoanManager(loanManagerAddr, b)
	for _, id := range ids {
		_, err := lm.Lend(chain.WithContext(context.Background(), opts), LendRequestParams{ID: id})
		require.NoError(t, err)
	}

	all, err := lm.FilterLent(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	one, err := lm.FilterLent(context.Background(), &bind.FilterOpts{Start: 0}, ids[1])
	require.NoError(t, err)
	require.Len(t, one, 1)
	require.Equal(t, [32]byte(ids[1]), one[0].Id)
	require.Equal(t, opts.From, one[0].Lender)
}

func TestRevertedTransactionHasNoEvent(t *testing.T) {
	b := chaintest.New()
	b.Deploy(loanManagerAddr, LoanManagerParsed)
	opts := newTransactor(t, b)
	b.OnSend(loanManagerAddr, func(*types.Transaction, *abi.Method, []interface{}) ([]*types.Log, bool) {
		return nil, false
	})

	lm := NewLoanManager(loanManagerAddr, b)
	tx, err := lm.Cancel(opts, common.HexToHash("0x01"))
	require.NoError(t, err)

	r := waitReceipt(t, b, tx)
	require.Equal(t, types.ReceiptStatusFailed, r.Status)
	_, err = lm.CanceledIn(r, common.HexToHash("0x01"))
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestWatchApproved(t *testing.T) {
	b := chaintest.New()
	b.Deploy(loanManagerAddr, LoanManagerParsed)
	opts := newTransactor(t, b)
	id := common.HexToHash("0x0c")
	b.OnSend(loanManagerAddr, func(tx *types.Transaction, m *abi.Method, args []interface{}) ([]*types.Log, bool) {
		return []*types.Log{chaintest.EventLog(LoanManagerParsed, "Approved", loanManagerAddr, []common.Hash{common.Hash(args[0].([32]byte))})}, true
	})

	lm := NewLoanManager(loanManagerAddr, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := make(chan *LoanApproved, 1)
	sub, err := lm.WatchApproved(ctx, sink, id)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = lm.ApproveRequest(opts, id)
	require.NoError(t, err)

	select {
	case ev := <-sink:
		require.Equal(t, [32]byte(id), ev.Id)
	case err := <-sub.Err():
		t.Fatalf("subscription failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("no Approved event")
	}
}

func TestDebtEnginePayAndWithdraw(t *testing.T) {
	b := chaintest.New()
	b.Deploy(debtEngineAddr, DebtEngineParsed)
	opts := newTransactor(t, b)
	id := common.HexToHash("0x0d")

	b.OnSend(debtEngineAddr, func(tx *types.Transaction, m *abi.Method, args []interface{}) ([]*types.Log, bool) {
		switch m.Name {
		case "pay":
			loan := []common.Hash{common.Hash(args[0].([32]byte))}
			amount := args[1].(*big.Int)
			return []*types.Log{chaintest.EventLog(DebtEngineParsed, "Paid", debtEngineAddr, loan,
				opts.From, args[2], amount, big.NewInt(0), amount, big.NewInt(3))}, true
		case "withdrawPartial":
			loan := []common.Hash{common.Hash(args[0].([32]byte))}
			return []*types.Log{chaintest.EventLog(DebtEngineParsed, "Withdrawn", debtEngineAddr, loan,
				opts.From, args[1], args[2])}, true
		case "withdrawBatch":
			ids := args[0].([][32]byte)
			return nil, len(ids) > 0
		}
		return nil, false
	})

	de := NewDebtEngine(debtEngineAddr, b)
	tx, err := de.Pay(opts, id, big.NewInt(42), opts.From, nil)
	require.NoError(t, err)
	paid, err := de.PaidIn(waitReceipt(t, b, tx), id)
	require.NoError(t, err)
	require.Equal(t, int64(42), paid.Paid.Int64())
	require.Equal(t, int64(3), paid.Tokens.Int64())
	require.Equal(t, opts.From, paid.Origin)

	to := common.HexToAddress("0xdd")
	tx, err = de.WithdrawPartial(opts, id, to, big.NewInt(5))
	require.NoError(t, err)
	w, err := de.WithdrawnIn(waitReceipt(t, b, tx), id)
	require.NoError(t, err)
	require.Equal(t, to, w.To)
	require.Equal(t, int64(5), w.Amount.Int64())

	tx, err = de.WithdrawBatch(opts, []common.Hash{id}, to)
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, waitReceipt(t, b, tx).Status)
	m, args, err := b.DecodeSent(tx)
	require.NoError(t, err)
	require.Equal(t, "withdrawBatch", m.Name)
	require.Equal(t, [][32]byte{id}, args[0])
	require.Equal(t, to, args[1])

	tx, err = de.WithdrawBatch(opts, nil, to)
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusFailed, waitReceipt(t, b, tx).Status)
}

func TestPackMatchesTransactionData(t *testing.T) {
	b := chaintest.New()
	b.Deploy(debtEngineAddr, DebtEngineParsed)
	opts := newTransactor(t, b)
	de := NewDebtEngine(debtEngineAddr, b)
	id := common.HexToHash("0x0e")

	packed, err := de.PackPay(id, big.NewInt(1), opts.From, []byte{1, 2})
	require.NoError(t, err)
	tx, err := de.Pay(opts, id, big.NewInt(1), opts.From, []byte{1, 2})
	require.NoError(t, err)
	require.Equal(t, packed, tx.Data())
}

func TestInstallmentsModel(t *testing.T) {
	b := chaintest.New()
	b.Deploy(modelAddr, InstallmentsModelParsed)
	b.HandleCall(modelAddr, "encodeData", func(args []interface{}) ([]interface{}, error) {
		require.Equal(t, uint32(86400), args[4])
		require.Equal(t, int64(12), args[2].(*big.Int).Int64())
		return []interface{}{[]byte{0x01, 0x02}}, nil
	})
	b.HandleCall(modelAddr, "validate", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{len(args[0].([]byte)) == 2}, nil
	})

	m := NewInstallmentsModel(modelAddr, b)
	data, err := m.EncodeData(context.Background(), InstallmentsTerms{
		Cuota:        big.NewInt(100),
		InterestRate: big.NewInt(2000),
		Installments: 12,
		Duration:     30 * 86400,
		TimeUnit:     86400,
	})
	require.NoError(t, err)
	ok, err := m.Validate(context.Background(), data)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Validate(context.Background(), []byte{1})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTokenApproval(t *testing.T) {
	b := chaintest.New()
	b.Deploy(tokenAddr, TokenParsed)
	opts := newTransactor(t, b)
	b.HandleCall(tokenAddr, "balanceOf", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{big.NewInt(77)}, nil
	})
	b.OnSend(tokenAddr, func(tx *types.Transaction, m *abi.Method, args []interface{}) ([]*types.Log, bool) {
		spender := args[0].(common.Address)
		return []*types.Log{chaintest.EventLog(TokenParsed, "Approval", tokenAddr,
			[]common.Hash{common.BytesToHash(opts.From.Bytes()), common.BytesToHash(spender.Bytes())}, args[1])}, true
	})

	tok := NewToken(tokenAddr, b)
	bal, err := tok.BalanceOf(context.Background(), opts.From)
	require.NoError(t, err)
	require.Equal(t, int64(77), bal.Int64())

	tx, err := tok.Approve(opts, debtEngineAddr, big.NewInt(1000))
	require.NoError(t, err)
	ev, err := tok.ApprovalIn(waitReceipt(t, b, tx), opts.From)
	require.NoError(t, err)
	require.Equal(t, opts.From, ev.Owner)
	require.Equal(t, debtEngineAddr, ev.Spender)
	require.Equal(t, int64(1000), ev.Value.Int64())

	found, err := tok.FilterApproval(context.Background(), nil, []common.Address{opts.From}, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func registryBackend(calls *atomic.Int32) *chaintest.Backend {
	b := chaintest.New()
	b.Deploy(registryAddr, RegistryParsed)
	byKey := map[string]common.Address{
		LoanManagerKey:       loanManagerAddr,
		DebtEngineKey:        debtEngineAddr,
		InstallmentsModelKey: modelAddr,
		TokenKey:             tokenAddr,
		OracleKey:            oracleAddr,
	}
	b.HandleCall(registryAddr, "getAddress", func(args []interface{}) ([]interface{}, error) {
		calls.Add(1)
		return []interface{}{byKey[args[0].(string)]}, nil
	})
	return b
}

func TestFactoryResolvesThroughRegistryOnce(t *testing.T) {
	var calls atomic.Int32
	b := registryBackend(&calls)

	f, err := NewFactory(b, FactoryConfig{}, registryAddr, nil)
	require.NoError(t, err)

	set, err := f.Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, loanManagerAddr, set.LoanManager.Address())
	require.Equal(t, debtEngineAddr, set.DebtEngine.Address())
	require.Equal(t, modelAddr, set.InstallmentsModel.Address())
	require.Equal(t, tokenAddr, set.Token.Address())
	require.Equal(t, oracleAddr, set.Addresses.Oracle)
	require.Equal(t, int32(5), calls.Load())

	_, err = f.Addresses(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(5), calls.Load())
}

func TestFactoryOverridesSkipRegistry(t *testing.T) {
	var calls atomic.Int32
	b := registryBackend(&calls)
	override := common.HexToAddress("0x00000000000000000000000000000000000000f1")

	f, err := NewFactory(b, FactoryConfig{
		Registry:    registryAddr.Hex(),
		LoanManager: override.Hex(),
	}, common.Address{}, nil)
	require.NoError(t, err)

	addrs, err := f.Addresses(context.Background())
	require.NoError(t, err)
	require.Equal(t, override, addrs.LoanManager)
	require.Equal(t, debtEngineAddr, addrs.DebtEngine)
	require.Equal(t, int32(4), calls.Load())
}

func TestFactoryRejectsInvalidAddress(t *testing.T) {
	_, err := NewFactory(chaintest.New(), FactoryConfig{DebtEngine: "0x123"}, registryAddr, nil)
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestFactoryWithoutRegistry(t *testing.T) {
	f, err := NewFactory(chaintest.New(), FactoryConfig{LoanManager: loanManagerAddr.Hex()}, common.Address{}, nil)
	require.NoError(t, err)
	_, err = f.Addresses(context.Background())
	require.ErrorContains(t, err, "no registry")
}

func TestDefaultRegistry(t *testing.T) {
	addr, err := DefaultRegistry(chain.Ropsten)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xbfdb9397842776dbf3c0e3160e941d1542ab0365"), addr)

	_, err = DefaultRegistry(chain.Mainnet)
	require.ErrorContains(t, err, "no registry deployed")

	_, err = DefaultRegistry(1337)
	require.ErrorContains(t, err, "no registry known")
}
