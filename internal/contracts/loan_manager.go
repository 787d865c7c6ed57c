package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Loan status values reported by getStatus.
const (
	StatusRequest uint64 = 0
	StatusOngoing uint64 = 1
	StatusPaid    uint64 = 2
	StatusError   uint64 = 4
)

// RequestLoanParams are the arguments of requestLoan.
type RequestLoanParams struct {
	Amount     *big.Int
	Model      common.Address
	Oracle     common.Address
	Borrower   common.Address
	Salt       *big.Int
	Expiration uint64
	LoanData   []byte
}

// IDParams computes the matching calcId arguments for a given creator.
func (p RequestLoanParams) IDParams(creator common.Address) GetIDParams {
	return GetIDParams{
		Amount:     p.Amount,
		Borrower:   p.Borrower,
		Creator:    creator,
		Model:      p.Model,
		Oracle:     p.Oracle,
		Salt:       p.Salt,
		Expiration: p.Expiration,
		Data:       p.LoanData,
	}
}

// GetIDParams are the arguments of calcId.
type GetIDParams struct {
	Amount     *big.Int
	Borrower   common.Address
	Creator    common.Address
	Model      common.Address
	Oracle     common.Address
	Salt       *big.Int
	Expiration uint64
	Data       []byte
}

// LendRequestParams are the arguments of lend.
type LendRequestParams struct {
	ID            common.Hash
	OracleData    []byte
	Cosigner      common.Address
	CosignerLimit *big.Int
	CosignerData  []byte
}

func (p LendRequestParams) args() []interface{} {
	limit := p.CosignerLimit
	if limit == nil {
		limit = new(big.Int)
	}
	oracleData := p.OracleData
	if oracleData == nil {
		oracleData = []byte{}
	}
	cosignerData := p.CosignerData
	if cosignerData == nil {
		cosignerData = []byte{}
	}
	return []interface{}{[32]byte(p.ID), oracleData, p.Cosigner, limit, cosignerData}
}

func (p RequestLoanParams) args() []interface{} {
	return []interface{}{orZero(p.Amount), p.Model, p.Oracle, p.Borrower, orZero(p.Salt), p.Expiration, orEmpty(p.LoanData)}
}

func (p GetIDParams) args() []interface{} {
	return []interface{}{orZero(p.Amount), p.Borrower, p.Creator, p.Model, p.Oracle, orZero(p.Salt), p.Expiration, orEmpty(p.Data)}
}

// LoanRequested is emitted by requestLoan.
type LoanRequested struct {
	Id         [32]byte
	Amount     *big.Int
	Model      common.Address
	Creator    common.Address
	Oracle     common.Address
	Borrower   common.Address
	Salt       *big.Int
	LoanData   []byte
	Expiration *big.Int
	Raw        types.Log
}

func (e *LoanRequested) setRaw(l types.Log) { e.Raw = l }

// LoanApproved is emitted once the borrower approved the request.
type LoanApproved struct {
	Id  [32]byte
	Raw types.Log
}

func (e *LoanApproved) setRaw(l types.Log) { e.Raw = l }

// LoanLent is emitted by lend.
type LoanLent struct {
	Id     [32]byte
	Lender common.Address
	Tokens *big.Int
	Raw    types.Log
}

func (e *LoanLent) setRaw(l types.Log) { e.Raw = l }

// LoanCanceled is emitted by cancel.
type LoanCanceled struct {
	Id       [32]byte
	Canceler common.Address
	Raw      types.Log
}

func (e *LoanCanceled) setRaw(l types.Log) { e.Raw = l }

// LoanManager wraps the loan request book.
type LoanManager struct {
	*contract
}

// NewLoanManager binds the loan manager at address.
func NewLoanManager(address common.Address, backend bind.ContractBackend) *LoanManager {
	return &LoanManager{newContract("LoanManager", address, LoanManagerParsed, backend)}
}

func (m *LoanManager) addressOf(ctx context.Context, method string, id common.Hash) (common.Address, error) {
	out, err := m.call(ctx, method, [32]byte(id))
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(out[0]), nil
}

func (m *LoanManager) bigOf(ctx context.Context, method string, id common.Hash) (*big.Int, error) {
	out, err := m.call(ctx, method, [32]byte(id))
	if err != nil {
		return nil, err
	}
	return asBig(out[0]), nil
}

func (m *LoanManager) Borrower(ctx context.Context, id common.Hash) (common.Address, error) {
	return m.addressOf(ctx, "getBorrower", id)
}

func (m *LoanManager) Creator(ctx context.Context, id common.Hash) (common.Address, error) {
	return m.addressOf(ctx, "getCreator", id)
}

// Oracle returns the loan's oracle, zero when the loan is denominated in tokens.
func (m *LoanManager) Oracle(ctx context.Context, id common.Hash) (common.Address, error) {
	return m.addressOf(ctx, "getOracle", id)
}

func (m *LoanManager) Currency(ctx context.Context, id common.Hash) (common.Hash, error) {
	out, err := m.call(ctx, "getCurrency", [32]byte(id))
	if err != nil {
		return common.Hash{}, err
	}
	return asHash(out[0]), nil
}

func (m *LoanManager) Amount(ctx context.Context, id common.Hash) (*big.Int, error) {
	return m.bigOf(ctx, "getAmount", id)
}

func (m *LoanManager) ExpirationRequest(ctx context.Context, id common.Hash) (*big.Int, error) {
	return m.bigOf(ctx, "getExpirationRequest", id)
}

func (m *LoanManager) Approved(ctx context.Context, id common.Hash) (bool, error) {
	out, err := m.call(ctx, "getApproved", [32]byte(id))
	if err != nil {
		return false, err
	}
	return asBool(out[0]), nil
}

func (m *LoanManager) DueTime(ctx context.Context, id common.Hash) (*big.Int, error) {
	return m.bigOf(ctx, "getDueTime", id)
}

func (m *LoanManager) ClosingObligation(ctx context.Context, id common.Hash) (*big.Int, error) {
	return m.bigOf(ctx, "getClosingObligation", id)
}

func (m *LoanManager) LoanData(ctx context.Context, id common.Hash) ([]byte, error) {
	out, err := m.call(ctx, "getLoanData", [32]byte(id))
	if err != nil {
		return nil, err
	}
	return asBytes(out[0]), nil
}

func (m *LoanManager) Status(ctx context.Context, id common.Hash) (uint64, error) {
	v, err := m.bigOf(ctx, "getStatus", id)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// CalcID returns the id the loan manager will assign to a request.
func (m *LoanManager) CalcID(ctx context.Context, p GetIDParams) (common.Hash, error) {
	out, err := m.call(ctx, "calcId", p.args()...)
	if err != nil {
		return common.Hash{}, err
	}
	return asHash(out[0]), nil
}

func (m *LoanManager) RequestLoan(opts *bind.TransactOpts, p RequestLoanParams) (*types.Transaction, error) {
	return m.transact(opts, "requestLoan", p.args()...)
}

func (m *LoanManager) ApproveRequest(opts *bind.TransactOpts, id common.Hash) (*types.Transaction, error) {
	return m.transact(opts, "approveRequest", [32]byte(id))
}

func (m *LoanManager) RegisterApproveRequest(opts *bind.TransactOpts, id common.Hash, signature []byte) (*types.Transaction, error) {
	return m.transact(opts, "registerApproveRequest", [32]byte(id), orEmpty(signature))
}

func (m *LoanManager) Lend(opts *bind.TransactOpts, p LendRequestParams) (*types.Transaction, error) {
	return m.transact(opts, "lend", p.args()...)
}

func (m *LoanManager) Cancel(opts *bind.TransactOpts, id common.Hash) (*types.Transaction, error) {
	return m.transact(opts, "cancel", [32]byte(id))
}

// PackRequestLoan returns requestLoan call data.
func (m *LoanManager) PackRequestLoan(p RequestLoanParams) ([]byte, error) {
	return m.pack("requestLoan", p.args()...)
}

func (m *LoanManager) PackApproveRequest(id common.Hash) ([]byte, error) {
	return m.pack("approveRequest", [32]byte(id))
}

func (m *LoanManager) PackLend(p LendRequestParams) ([]byte, error) {
	return m.pack("lend", p.args()...)
}

func (m *LoanManager) PackCancel(id common.Hash) ([]byte, error) {
	return m.pack("cancel", [32]byte(id))
}

func (m *LoanManager) ParseRequested(log types.Log) (*LoanRequested, error) {
	return decodeLog[LoanRequested](m.contract, "Requested", log)
}

func (m *LoanManager) ParseApproved(log types.Log) (*LoanApproved, error) {
	return decodeLog[LoanApproved](m.contract, "Approved", log)
}

func (m *LoanManager) ParseLent(log types.Log) (*LoanLent, error) {
	return decodeLog[LoanLent](m.contract, "Lent", log)
}

func (m *LoanManager) ParseCanceled(log types.Log) (*LoanCanceled, error) {
	return decodeLog[LoanCanceled](m.contract, "Canceled", log)
}

// RequestedIn finds the Requested event for id in a mined receipt.
func (m *LoanManager) RequestedIn(receipt *types.Receipt, id common.Hash) (*LoanRequested, error) {
	return findInReceipt[LoanRequested](m.contract, "Requested", receipt, id)
}

func (m *LoanManager) ApprovedIn(receipt *types.Receipt, id common.Hash) (*LoanApproved, error) {
	return findInReceipt[LoanApproved](m.contract, "Approved", receipt, id)
}

func (m *LoanManager) LentIn(receipt *types.Receipt, id common.Hash) (*LoanLent, error) {
	return findInReceipt[LoanLent](m.contract, "Lent", receipt, id)
}

func (m *LoanManager) CanceledIn(receipt *types.Receipt, id common.Hash) (*LoanCanceled, error) {
	return findInReceipt[LoanCanceled](m.contract, "Canceled", receipt, id)
}

func (m *LoanManager) FilterRequested(ctx context.Context, opts *bind.FilterOpts, ids ...common.Hash) ([]*LoanRequested, error) {
	return filterEvents[LoanRequested](ctx, m.contract, "Requested", opts, hashRule(ids))
}

func (m *LoanManager) FilterApproved(ctx context.Context, opts *bind.FilterOpts, ids ...common.Hash) ([]*LoanApproved, error) {
	return filterEvents[LoanApproved](ctx, m.contract, "Approved", opts, hashRule(ids))
}

func (m *LoanManager) FilterLent(ctx context.Context, opts *bind.FilterOpts, ids ...common.Hash) ([]*LoanLent, error) {
	return filterEvents[LoanLent](ctx, m.contract, "Lent", opts, hashRule(ids))
}

func (m *LoanManager) FilterCanceled(ctx context.Context, opts *bind.FilterOpts, ids ...common.Hash) ([]*LoanCanceled, error) {
	return filterEvents[LoanCanceled](ctx, m.contract, "Canceled", opts, hashRule(ids))
}

// WatchRequested streams Requested events until ctx ends or the
// subscription is dropped. An empty id list matches every loan.
func (m *LoanManager) WatchRequested(ctx context.Context, sink chan<- *LoanRequested, ids ...common.Hash) (event.Subscription, error) {
	return watchEvents[LoanRequested](ctx, m.contract, "Requested", sink, hashRule(ids))
}

func (m *LoanManager) WatchApproved(ctx context.Context, sink chan<- *LoanApproved, ids ...common.Hash) (event.Subscription, error) {
	return watchEvents[LoanApproved](ctx, m.contract, "Approved", sink, hashRule(ids))
}

func (m *LoanManager) WatchLent(ctx context.Context, sink chan<- *LoanLent, ids ...common.Hash) (event.Subscription, error) {
	return watchEvents[LoanLent](ctx, m.contract, "Lent", sink, hashRule(ids))
}

func (m *LoanManager) WatchCanceled(ctx context.Context, sink chan<- *LoanCanceled, ids ...common.Hash) (event.Subscription, error) {
	return watchEvents[LoanCanceled](ctx, m.contract, "Canceled", sink, hashRule(ids))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func orEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
