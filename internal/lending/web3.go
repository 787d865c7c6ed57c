package lending

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"diaspore/internal/chain"
)

// Web3API sends every operation as a transaction signed by a local key and
// settles it once the receipt carries the expected event.
type Web3API struct {
	*core
	opts            *bind.TransactOpts
	receiptInterval time.Duration

	// sendMu serializes nonce assignment.
	sendMu sync.Mutex
}

var _ API = (*Web3API)(nil)

// NewWeb3API binds the transactor. receiptInterval defaults to
// chain.DefaultReceiptInterval.
func NewWeb3API(d Deps, opts *bind.TransactOpts, receiptInterval time.Duration) (*Web3API, error) {
	if opts == nil {
		return nil, chain.ErrReadOnly
	}
	c, err := newCore(BackendWeb3, d)
	if err != nil {
		return nil, err
	}
	if receiptInterval <= 0 {
		receiptInterval = chain.DefaultReceiptInterval
	}
	return &Web3API{core: c, opts: opts, receiptInterval: receiptInterval}, nil
}

// Account is the signing key's address.
func (w *Web3API) Account(context.Context) (common.Address, error) {
	return w.opts.From, nil
}

func (w *Web3API) Balance(ctx context.Context, address *common.Address) (*big.Int, error) {
	if address == nil {
		return w.balance(ctx, w.opts.From)
	}
	return w.balance(ctx, *address)
}

type sendFunc func(*bind.TransactOpts) (*types.Transaction, error)
type decodeFunc func(*types.Receipt) (interface{}, error)

func (w *Web3API) send(ctx context.Context, op Operation, loanID common.Hash, cb Callback, send sendFunc, decode decodeFunc) (*Submission, error) {
	w.sendMu.Lock()
	tx, err := send(chain.WithContext(ctx, w.opts))
	w.sendMu.Unlock()
	if err != nil {
		return nil, w.submitFailed(op, fmt.Errorf("%s: %w", op, err))
	}
	w.log.Debug("transaction sent", zap.String("operation", string(op)), zap.Stringer("tx", tx.Hash()), zap.Uint64("nonce", tx.Nonce()))

	return w.track(op, loanID, tx.Hash(), cb, func(ctx context.Context) (*Settlement, error) {
		receipt, err := chain.WaitForReceipt(ctx, w.chain, tx.Hash(), w.receiptInterval)
		if err != nil {
			return nil, err
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return nil, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
		}
		ev, err := decode(receipt)
		if err != nil {
			return nil, err
		}
		res := &Settlement{TxHash: receipt.TxHash, Status: "mined", Event: ev}
		if receipt.BlockNumber != nil {
			res.Block = receipt.BlockNumber.Uint64()
		}
		return res, nil
	})
}

// Request computes the loan id from the request terms, sends requestLoan
// and settles on the Requested event.
func (w *Web3API) Request(ctx context.Context, p RequestParams) (*Submission, error) {
	params, err := w.requestLoanParams(ctx, p, w.opts.From)
	if err != nil {
		return nil, w.submitFailed(OpRequest, err)
	}
	id, err := w.set.LoanManager.CalcID(ctx, params.IDParams(w.opts.From))
	if err != nil {
		return nil, w.submitFailed(OpRequest, err)
	}
	lm := w.set.LoanManager
	return w.send(ctx, OpRequest, id, p.Callback,
		func(o *bind.TransactOpts) (*types.Transaction, error) { return lm.RequestLoan(o, params) },
		func(r *types.Receipt) (interface{}, error) { return lm.RequestedIn(r, id) },
	)
}

func (w *Web3API) ApproveRequest(ctx context.Context, p LoanParams) (*Submission, error) {
	lm := w.set.LoanManager
	return w.send(ctx, OpApproveRequest, p.ID, p.Callback,
		func(o *bind.TransactOpts) (*types.Transaction, error) { return lm.ApproveRequest(o, p.ID) },
		func(r *types.Receipt) (interface{}, error) { return lm.ApprovedIn(r, p.ID) },
	)
}

func (w *Web3API) Lend(ctx context.Context, p LendParams) (*Submission, error) {
	oracleData, err := w.oracleData(ctx, p.ID)
	if err != nil {
		return nil, w.submitFailed(OpLend, err)
	}
	lm := w.set.LoanManager
	params := lendRequest(p, oracleData)
	return w.send(ctx, OpLend, p.ID, p.Callback,
		func(o *bind.TransactOpts) (*types.Transaction, error) { return lm.Lend(o, params) },
		func(r *types.Receipt) (interface{}, error) { return lm.LentIn(r, p.ID) },
	)
}

func (w *Web3API) Pay(ctx context.Context, p PayParams) (*Submission, error) {
	return w.pay(ctx, OpPay, p)
}

func (w *Web3API) PayToken(ctx context.Context, p PayParams) (*Submission, error) {
	return w.pay(ctx, OpPayToken, p)
}

func (w *Web3API) pay(ctx context.Context, op Operation, p PayParams) (*Submission, error) {
	amount, err := w.payAmount(ctx, p.ID, p.Amount)
	if err != nil {
		return nil, w.submitFailed(op, err)
	}
	oracleData, err := w.oracleData(ctx, p.ID)
	if err != nil {
		return nil, w.submitFailed(op, err)
	}
	origin := p.Origin
	if origin == (common.Address{}) {
		origin = w.opts.From
	}
	de := w.set.DebtEngine
	return w.send(ctx, op, p.ID, p.Callback,
		func(o *bind.TransactOpts) (*types.Transaction, error) {
			if op == OpPayToken {
				return de.PayToken(o, p.ID, amount, origin, oracleData)
			}
			return de.Pay(o, p.ID, amount, origin, oracleData)
		},
		func(r *types.Receipt) (interface{}, error) { return de.PaidIn(r, p.ID) },
	)
}

func (w *Web3API) Withdraw(ctx context.Context, p WithdrawParams) (*Submission, error) {
	to := w.orAccount(p.To)
	de := w.set.DebtEngine
	return w.send(ctx, OpWithdraw, p.ID, p.Callback,
		func(o *bind.TransactOpts) (*types.Transaction, error) { return de.Withdraw(o, p.ID, to) },
		func(r *types.Receipt) (interface{}, error) { return de.WithdrawnIn(r, p.ID) },
	)
}

func (w *Web3API) WithdrawPartial(ctx context.Context, p WithdrawPartialParams) (*Submission, error) {
	to := w.orAccount(p.To)
	de := w.set.DebtEngine
	return w.send(ctx, OpWithdrawPartial, p.ID, p.Callback,
		func(o *bind.TransactOpts) (*types.Transaction, error) { return de.WithdrawPartial(o, p.ID, to, p.Amount) },
		func(r *types.Receipt) (interface{}, error) { return de.WithdrawnIn(r, p.ID) },
	)
}

func (w *Web3API) Cancel(ctx context.Context, p LoanParams) (*Submission, error) {
	lm := w.set.LoanManager
	return w.send(ctx, OpCancel, p.ID, p.Callback,
		func(o *bind.TransactOpts) (*types.Transaction, error) { return lm.Cancel(o, p.ID) },
		func(r *types.Receipt) (interface{}, error) { return lm.CanceledIn(r, p.ID) },
	)
}

func (w *Web3API) ApproveToken(ctx context.Context, p ApproveTokenParams) (*Submission, error) {
	spender := p.Spender
	if spender == (common.Address{}) {
		spender = w.set.Addresses.LoanManager
	}
	tok := w.set.Token
	owner := w.opts.From
	return w.send(ctx, OpApproveToken, common.Hash{}, p.Callback,
		func(o *bind.TransactOpts) (*types.Transaction, error) { return tok.Approve(o, spender, p.Amount) },
		func(r *types.Receipt) (interface{}, error) { return tok.ApprovalIn(r, owner) },
	)
}

func (w *Web3API) orAccount(addr common.Address) common.Address {
	if addr == (common.Address{}) {
		return w.opts.From
	}
	return addr
}
