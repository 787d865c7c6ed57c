package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"diaspore/internal/lending"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// Amounts are decimal or 0x-prefixed hex strings so they survive JSON
// clients without 256-bit integers.
type loanRequestBody struct {
	Amount       string `json:"amount"`
	Borrower     string `json:"borrower"`
	Salt         string `json:"salt"`
	Expiration   uint64 `json:"expiration"`
	Cuota        string `json:"cuota"`
	InterestRate string `json:"interestRate"`
	Installments uint32 `json:"installments"`
	Duration     uint64 `json:"duration"`
	TimeUnit     uint32 `json:"timeUnit"`
}

type lendBody struct {
	Cosigner      string `json:"cosigner"`
	CosignerLimit string `json:"cosignerLimit"`
	CosignerData  string `json:"cosignerData"`
}

type payBody struct {
	Amount string `json:"amount"`
	Origin string `json:"origin"`
	// Token pays an amount expressed in tokens instead of loan currency.
	Token bool `json:"token"`
}

type withdrawBody struct {
	To string `json:"to"`
	// Amount turns the call into a partial withdrawal.
	Amount string `json:"amount"`
}

type approveTokenBody struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (s *Server) handleRequest(r *http.Request) (*lending.Submission, error) {
	var body loanRequestBody
	if err := decodeBody(r, &body, true); err != nil {
		return nil, err
	}
	amount, err := parseUint("amount", body.Amount, 128)
	if err != nil {
		return nil, err
	}
	cuota, err := parseUint("cuota", body.Cuota, 128)
	if err != nil {
		return nil, err
	}
	rate, err := parseBig("interestRate", body.InterestRate, true)
	if err != nil {
		return nil, err
	}
	salt, err := parseBig("salt", body.Salt, false)
	if err != nil {
		return nil, err
	}
	borrower, err := parseAddress("borrower", body.Borrower)
	if err != nil {
		return nil, err
	}
	if body.Installments == 0 {
		return nil, badRequest("installments must be positive")
	}
	if body.Duration == 0 {
		return nil, badRequest("duration must be positive")
	}
	return s.api.Request(r.Context(), lending.RequestParams{
		Amount:       amount,
		Borrower:     borrower,
		Salt:         salt,
		Expiration:   body.Expiration,
		Cuota:        cuota,
		InterestRate: rate,
		Installments: body.Installments,
		Duration:     body.Duration,
		TimeUnit:     body.TimeUnit,
	})
}

func (s *Server) handleApprove(r *http.Request) (*lending.Submission, error) {
	id, err := loanID(r)
	if err != nil {
		return nil, err
	}
	return s.api.ApproveRequest(r.Context(), lending.LoanParams{ID: id})
}

func (s *Server) handleCancel(r *http.Request) (*lending.Submission, error) {
	id, err := loanID(r)
	if err != nil {
		return nil, err
	}
	return s.api.Cancel(r.Context(), lending.LoanParams{ID: id})
}

func (s *Server) handleLend(r *http.Request) (*lending.Submission, error) {
	id, err := loanID(r)
	if err != nil {
		return nil, err
	}
	var body lendBody
	if err := decodeBody(r, &body, false); err != nil {
		return nil, err
	}
	cosigner, err := parseAddress("cosigner", body.Cosigner)
	if err != nil {
		return nil, err
	}
	limit, err := parseBig("cosignerLimit", body.CosignerLimit, false)
	if err != nil {
		return nil, err
	}
	var data []byte
	if body.CosignerData != "" {
		if data, err = hexutil.Decode(body.CosignerData); err != nil {
			return nil, badRequest("cosignerData: %v", err)
		}
	}
	return s.api.Lend(r.Context(), lending.LendParams{
		ID:            id,
		Cosigner:      cosigner,
		CosignerLimit: limit,
		CosignerData:  data,
	})
}

func (s *Server) handlePay(r *http.Request) (*lending.Submission, error) {
	id, err := loanID(r)
	if err != nil {
		return nil, err
	}
	var body payBody
	if err := decodeBody(r, &body, false); err != nil {
		return nil, err
	}
	amount, err := parseBig("amount", body.Amount, false)
	if err != nil {
		return nil, err
	}
	origin, err := parseAddress("origin", body.Origin)
	if err != nil {
		return nil, err
	}
	p := lending.PayParams{ID: id, Amount: amount, Origin: origin}
	if body.Token {
		return s.api.PayToken(r.Context(), p)
	}
	return s.api.Pay(r.Context(), p)
}

func (s *Server) handleWithdraw(r *http.Request) (*lending.Submission, error) {
	id, err := loanID(r)
	if err != nil {
		return nil, err
	}
	var body withdrawBody
	if err := decodeBody(r, &body, false); err != nil {
		return nil, err
	}
	to, err := parseAddress("to", body.To)
	if err != nil {
		return nil, err
	}
	amount, err := parseBig("amount", body.Amount, false)
	if err != nil {
		return nil, err
	}
	if amount != nil {
		return s.api.WithdrawPartial(r.Context(), lending.WithdrawPartialParams{ID: id, To: to, Amount: amount})
	}
	return s.api.Withdraw(r.Context(), lending.WithdrawParams{ID: id, To: to})
}

func (s *Server) handleApproveToken(r *http.Request) (*lending.Submission, error) {
	var body approveTokenBody
	if err := decodeBody(r, &body, true); err != nil {
		return nil, err
	}
	spender, err := parseAddress("spender", body.Spender)
	if err != nil {
		return nil, err
	}
	amount, err := parseBig("amount", body.Amount, true)
	if err != nil {
		return nil, err
	}
	return s.api.ApproveToken(r.Context(), lending.ApproveTokenParams{Spender: spender, Amount: amount})
}

// decodeBody reads a JSON body into v. An empty body is accepted unless
// required.
func decodeBody(r *http.Request, v interface{}, required bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && !required {
			return nil
		}
		return badRequest("invalid json payload: %v", err)
	}
	return nil
}

func loanID(r *http.Request) (common.Hash, error) {
	return parseHash("loan id", r.PathValue("id"))
}

func parseHash(field, v string) (common.Hash, error) {
	raw, err := hexutil.Decode(v)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, badRequest("%s must be 32 bytes of 0x-prefixed hex", field)
	}
	return common.BytesToHash(raw), nil
}

// parseAddress returns the zero address for an empty value.
func parseAddress(field, v string) (common.Address, error) {
	if v == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, badRequest("%s %q is not an address", field, v)
	}
	return common.HexToAddress(v), nil
}

// parseBig returns nil for an empty optional value.
func parseBig(field, v string, required bool) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		if required {
			return nil, badRequest("%s is required", field)
		}
		return nil, nil
	}
	n, ok := math.ParseBig256(v)
	if !ok || n.Sign() < 0 {
		return nil, badRequest("%s %q is not an unsigned 256-bit integer", field, v)
	}
	return n, nil
}

// parseUint is a required parseBig that also rejects values wider than
// the contract parameter.
func parseUint(field, v string, bits int) (*big.Int, error) {
	n, err := parseBig(field, v, true)
	if err != nil {
		return nil, err
	}
	if n.BitLen() > bits {
		return nil, badRequest("%s %q exceeds uint%d", field, v, bits)
	}
	return n, nil
}

func isZero(h common.Hash) bool {
	return h == common.Hash{}
}
