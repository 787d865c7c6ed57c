// Package lending exposes the lending protocol operations behind one API,
// served either by direct transactions or by relayed intents.
package lending

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidLoanData = errors.New("lending: the request loan data is invalid")
	ErrReverted        = errors.New("lending: transaction reverted")
	ErrIntentFailed    = errors.New("lending: intent failed")
	ErrClosed          = errors.New("lending: api closed")
)

// DefaultCurrency is the oracle currency used for payments and lending.
const DefaultCurrency = "ARS"

// BackendKind names how operations reach the chain.
type BackendKind string

const (
	BackendWeb3  BackendKind = "web3"
	BackendRelay BackendKind = "relay"
)

// Operation names a state-changing call.
type Operation string

const (
	OpRequest         Operation = "request"
	OpApproveRequest  Operation = "approve_request"
	OpLend            Operation = "lend"
	OpPay             Operation = "pay"
	OpPayToken        Operation = "pay_token"
	OpWithdraw        Operation = "withdraw"
	OpWithdrawPartial Operation = "withdraw_partial"
	OpCancel          Operation = "cancel"
	OpApproveToken    Operation = "approve_token"
)

// Callback receives the outcome of a submission exactly once.
type Callback func(*Settlement, error)

// RequestParams describe a new installments loan request. Zero Borrower
// means the API account.
type RequestParams struct {
	Amount       *big.Int
	Borrower     common.Address
	Salt         *big.Int
	Expiration   uint64
	Cuota        *big.Int
	InterestRate *big.Int
	Installments uint32
	Duration     uint64
	TimeUnit     uint32
	Callback     Callback
}

// LoanParams identify a loan for approve and cancel.
type LoanParams struct {
	ID       common.Hash
	Callback Callback
}

type LendParams struct {
	ID            common.Hash
	Cosigner      common.Address
	CosignerLimit *big.Int
	CosignerData  []byte
	Callback      Callback
}

// PayParams repay a loan. A nil Amount pays the next obligation; a zero
// Origin means the API account.
type PayParams struct {
	ID       common.Hash
	Amount   *big.Int
	Origin   common.Address
	Callback Callback
}

// WithdrawParams collect lender funds. A zero To means the API account.
type WithdrawParams struct {
	ID       common.Hash
	To       common.Address
	Callback Callback
}

type WithdrawPartialParams struct {
	ID       common.Hash
	To       common.Address
	Amount   *big.Int
	Callback Callback
}

// ApproveTokenParams allow Spender to pull protocol tokens. A zero Spender
// means the loan manager.
type ApproveTokenParams struct {
	Spender  common.Address
	Amount   *big.Int
	Callback Callback
}

// API is implemented by Web3API and RelayAPI.
type API interface {
	Request(ctx context.Context, p RequestParams) (*Submission, error)
	ApproveRequest(ctx context.Context, p LoanParams) (*Submission, error)
	Lend(ctx context.Context, p LendParams) (*Submission, error)
	Pay(ctx context.Context, p PayParams) (*Submission, error)
	PayToken(ctx context.Context, p PayParams) (*Submission, error)
	Withdraw(ctx context.Context, p WithdrawParams) (*Submission, error)
	WithdrawPartial(ctx context.Context, p WithdrawPartialParams) (*Submission, error)
	Cancel(ctx context.Context, p LoanParams) (*Submission, error)
	ApproveToken(ctx context.Context, p ApproveTokenParams) (*Submission, error)

	Account(ctx context.Context) (common.Address, error)
	Balance(ctx context.Context, address *common.Address) (*big.Int, error)
	IsTestnet(ctx context.Context) (bool, error)
	Kind() BackendKind
	Close() error
}

// OracleSource provides oracle payloads by currency.
type OracleSource interface {
	OracleData(ctx context.Context, currency string) ([]byte, error)
}

// ObligationSource provides the next amount due on a loan.
type ObligationSource interface {
	NextObligation(ctx context.Context, id common.Hash) (*big.Int, error)
}
