package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"diaspore/internal/contracts"
	"diaspore/internal/relay"
	"diaspore/internal/settlement"
)

// RelayAPI wraps every operation into an intent executed by the relay
// wallet and settles it when the relayer reports it settling.
type RelayAPI struct {
	*core
	wallet  *relay.Wallet
	relayer relay.Relayer
	poller  settlement.Poller

	loanManager *relay.Contract
	debtEngine  *relay.Contract
	token       *relay.Contract
}

var _ API = (*RelayAPI)(nil)

func NewRelayAPI(d Deps, wallet *relay.Wallet, relayer relay.Relayer, poller settlement.Poller) (*RelayAPI, error) {
	if wallet == nil || relayer == nil {
		return nil, errors.New("lending: relay backend needs a wallet and a relayer")
	}
	c, err := newCore(BackendRelay, d)
	if err != nil {
		return nil, err
	}
	if poller.OnRetry == nil {
		poller.OnRetry = func(attempt int, err error) {
			c.log.Debug("relayer status retry", zap.Int("attempt", attempt), zap.Error(err))
		}
	}
	set := d.Contracts
	return &RelayAPI{
		core:        c,
		wallet:      wallet,
		relayer:     relayer,
		poller:      poller,
		loanManager: relay.NewContract(set.Addresses.LoanManager, contracts.LoanManagerParsed, wallet, relayer),
		debtEngine:  relay.NewContract(set.Addresses.DebtEngine, contracts.DebtEngineParsed, wallet, relayer),
		token:       relay.NewContract(set.Addresses.Token, contracts.TokenParsed, wallet, relayer),
	}, nil
}

// Account is the relay wallet address, the msg.sender of every intent.
func (r *RelayAPI) Account(context.Context) (common.Address, error) {
	return r.wallet.Address(), nil
}

func (r *RelayAPI) Balance(ctx context.Context, address *common.Address) (*big.Int, error) {
	if address == nil {
		return r.balance(ctx, r.wallet.Address())
	}
	return r.balance(ctx, *address)
}

// Status reports the relayer's view of an intent.
func (r *RelayAPI) Status(ctx context.Context, intentID common.Hash) (relay.StatusCode, error) {
	st, err := r.relayer.Status(ctx, intentID)
	if err != nil {
		return "", err
	}
	return st.Code, nil
}

func (r *RelayAPI) submit(ctx context.Context, op Operation, loanID common.Hash, cb Callback, target *relay.Contract, data []byte, err error) (*Submission, error) {
	if err != nil {
		return nil, r.submitFailed(op, err)
	}
	id, err := target.InvokeData(ctx, data)
	if err != nil {
		return nil, r.submitFailed(op, fmt.Errorf("%s: %w", op, err))
	}
	return r.track(op, loanID, id, cb, func(ctx context.Context) (*Settlement, error) {
		return r.await(ctx, id)
	})
}

func (r *RelayAPI) await(ctx context.Context, id common.Hash) (*Settlement, error) {
	var last relay.Status
	err := r.poller.Until(ctx, func(ctx context.Context) (bool, error) {
		st, err := r.relayer.Status(ctx, id)
		switch {
		case errors.Is(err, relay.ErrRejected):
			return false, settlement.Permanent(err)
		case err != nil:
			return false, err
		case st.Code.Failed():
			msg := string(st.Code)
			if st.Error != "" {
				msg += ": " + st.Error
			}
			return false, settlement.Permanent(fmt.Errorf("%w: %s", ErrIntentFailed, msg))
		}
		last = st
		return st.Code.Settled(), nil
	})
	if err != nil {
		return nil, err
	}
	res := &Settlement{Status: string(last.Code)}
	if last.Receipt != nil {
		res.TxHash = last.Receipt.TxHash
		res.Block = last.Receipt.Block
	}
	return res, nil
}

// Request computes the loan id with the relay wallet as creator.
func (r *RelayAPI) Request(ctx context.Context, p RequestParams) (*Submission, error) {
	creator := r.wallet.Address()
	params, err := r.requestLoanParams(ctx, p, creator)
	if err != nil {
		return nil, r.submitFailed(OpRequest, err)
	}
	id, err := r.set.LoanManager.CalcID(ctx, params.IDParams(creator))
	if err != nil {
		return nil, r.submitFailed(OpRequest, err)
	}
	data, err := r.set.LoanManager.PackRequestLoan(params)
	return r.submit(ctx, OpRequest, id, p.Callback, r.loanManager, data, err)
}

func (r *RelayAPI) ApproveRequest(ctx context.Context, p LoanParams) (*Submission, error) {
	data, err := r.set.LoanManager.PackApproveRequest(p.ID)
	return r.submit(ctx, OpApproveRequest, p.ID, p.Callback, r.loanManager, data, err)
}

func (r *RelayAPI) Lend(ctx context.Context, p LendParams) (*Submission, error) {
	oracleData, err := r.oracleData(ctx, p.ID)
	if err != nil {
		return nil, r.submitFailed(OpLend, err)
	}
	data, err := r.set.LoanManager.PackLend(lendRequest(p, oracleData))
	return r.submit(ctx, OpLend, p.ID, p.Callback, r.loanManager, data, err)
}

func (r *RelayAPI) Pay(ctx context.Context, p PayParams) (*Submission, error) {
	return r.pay(ctx, OpPay, p)
}

func (r *RelayAPI) PayToken(ctx context.Context, p PayParams) (*Submission, error) {
	return r.pay(ctx, OpPayToken, p)
}

func (r *RelayAPI) pay(ctx context.Context, op Operation, p PayParams) (*Submission, error) {
	amount, err := r.payAmount(ctx, p.ID, p.Amount)
	if err != nil {
		return nil, r.submitFailed(op, err)
	}
	oracleData, err := r.oracleData(ctx, p.ID)
	if err != nil {
		return nil, r.submitFailed(op, err)
	}
	origin := r.orAccount(p.Origin)

	var data []byte
	if op == OpPayToken {
		data, err = r.set.DebtEngine.PackPayToken(p.ID, amount, origin, oracleData)
	} else {
		data, err = r.set.DebtEngine.PackPay(p.ID, amount, origin, oracleData)
	}
	return r.submit(ctx, op, p.ID, p.Callback, r.debtEngine, data, err)
}

func (r *RelayAPI) Withdraw(ctx context.Context, p WithdrawParams) (*Submission, error) {
	data, err := r.set.DebtEngine.PackWithdraw(p.ID, r.orAccount(p.To))
	return r.submit(ctx, OpWithdraw, p.ID, p.Callback, r.debtEngine, data, err)
}

func (r *RelayAPI) WithdrawPartial(ctx context.Context, p WithdrawPartialParams) (*Submission, error) {
	data, err := r.set.DebtEngine.PackWithdrawPartial(p.ID, r.orAccount(p.To), p.Amount)
	return r.submit(ctx, OpWithdrawPartial, p.ID, p.Callback, r.debtEngine, data, err)
}

func (r *RelayAPI) Cancel(ctx context.Context, p LoanParams) (*Submission, error) {
	data, err := r.set.LoanManager.PackCancel(p.ID)
	return r.submit(ctx, OpCancel, p.ID, p.Callback, r.loanManager, data, err)
}

func (r *RelayAPI) ApproveToken(ctx context.Context, p ApproveTokenParams) (*Submission, error) {
	spender := p.Spender
	if spender == (common.Address{}) {
		spender = r.set.Addresses.LoanManager
	}
	data, err := r.set.Token.PackApprove(spender, p.Amount)
	return r.submit(ctx, OpApproveToken, common.Hash{}, p.Callback, r.token, data, err)
}

func (r *RelayAPI) orAccount(addr common.Address) common.Address {
	if addr == (common.Address{}) {
		return r.wallet.Address()
	}
	return addr
}
