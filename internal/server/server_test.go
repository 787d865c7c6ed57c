package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"diaspore/internal/hmacauth"
	"diaspore/internal/idempotency"
	"diaspore/internal/journal"
	"diaspore/internal/lending"
)

var (
	account = common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	loan    = crypto.Keccak256Hash([]byte("loan-1"))
)

// fakeAPI records the parameters of every call and settles submissions
// immediately, with fail when set.
type fakeAPI struct {
	mu     sync.Mutex
	calls  []string
	params []interface{}
	err    error
	fail   error
	seq    int
}

func (f *fakeAPI) submit(op lending.Operation, id common.Hash, p interface{}) (*lending.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, string(op))
	f.params = append(f.params, p)
	if f.err != nil {
		return nil, f.err
	}
	f.seq++
	ref := crypto.Keccak256Hash([]byte{byte(f.seq)})
	sub := lending.NewSubmission(lending.BackendWeb3, op, id, ref)
	if f.fail != nil {
		sub.Complete(nil, f.fail)
	} else {
		sub.Complete(&lending.Settlement{Operation: op, LoanID: id, Reference: ref, TxHash: ref, Block: 7, Status: "mined"}, nil)
	}
	return sub, nil
}

func (f *fakeAPI) lastCall() (string, interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return "", nil
	}
	return f.calls[len(f.calls)-1], f.params[len(f.params)-1]
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) Request(_ context.Context, p lending.RequestParams) (*lending.Submission, error) {
	return f.submit(lending.OpRequest, loan, p)
}
func (f *fakeAPI) ApproveRequest(_ context.Context, p lending.LoanParams) (*lending.Submission, error) {
	return f.submit(lending.OpApproveRequest, p.ID, p)
}
func (f *fakeAPI) Lend(_ context.Context, p lending.LendParams) (*lending.Submission, error) {
	return f.submit(lending.OpLend, p.ID, p)
}
func (f *fakeAPI) Pay(_ context.Context, p lending.PayParams) (*lending.Submission, error) {
	return f.submit(lending.OpPay, p.ID, p)
}
func (f *fakeAPI) PayToken(_ context.Context, p lending.PayParams) (*lending.Submission, error) {
	return f.submit(lending.OpPayToken, p.ID, p)
}
func (f *fakeAPI) Withdraw(_ context.Context, p lending.WithdrawParams) (*lending.Submission, error) {
	return f.submit(lending.OpWithdraw, p.ID, p)
}
func (f *fakeAPI) WithdrawPartial(_ context.Context, p lending.WithdrawPartialParams) (*lending.Submission, error) {
	return f.submit(lending.OpWithdrawPartial, p.ID, p)
}
func (f *fakeAPI) Cancel(_ context.Context, p lending.LoanParams) (*lending.Submission, error) {
	return f.submit(lending.OpCancel, p.ID, p)
}
func (f *fakeAPI) ApproveToken(_ context.Context, p lending.ApproveTokenParams) (*lending.Submission, error) {
	return f.submit(lending.OpApproveToken, common.Hash{}, p)
}
func (f *fakeAPI) Account(context.Context) (common.Address, error) { return account, nil }
func (f *fakeAPI) Balance(context.Context, *common.Address) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}
func (f *fakeAPI) IsTestnet(context.Context) (bool, error) { return true, nil }
func (f *fakeAPI) Kind() lending.BackendKind               { return lending.BackendWeb3 }
func (f *fakeAPI) Close() error                            { return nil }

type pingStore struct {
	*journal.MemoryStore
	err error
}

func (p pingStore) Ping(context.Context) error { return p.err }

type fixture struct {
	api     *fakeAPI
	journal *journal.MemoryStore
	store   *idempotency.MemoryStore
	handler http.Handler
	secret  string
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	f := &fixture{
		api:     &fakeAPI{},
		journal: journal.NewMemoryStore(),
		store:   idempotency.NewMemoryStore(),
		secret:  secret,
	}
	s := NewServer(Options{
		HMACSecret:        secret,
		ClockSkew:         time.Minute,
		IdempotencyWindow: time.Hour,
		Registry:          prometheus.NewRegistry(),
	}, f.api, f.journal, f.store)
	f.handler = s.Handler()
	return f
}

func (f *fixture) post(t *testing.T, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	if f.secret != "" {
		hmacauth.SignRequest(req, f.secret, time.Now(), []byte(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) submissionResponse {
	t.Helper()
	var resp submissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRequestLoan(t *testing.T) {
	f := newFixture(t, "")
	rec := f.post(t, "/api/v1/loans", "k1", `{
  "amount": "1000",
  "borrower": "0x00000000000000000000000000000000000000b1",
  "expiration": 1900000000,
  "cuota": "110",
  "interestRate": "0x10",
  "installments": 12,
  "duration": 2592000,
  "timeUnit": 86400
}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	require.Equal(t, "request", resp.Operation)
	require.Equal(t, "submitted", resp.Status)
	require.Equal(t, loan.Hex(), resp.LoanID)

	op, params := f.api.lastCall()
	require.Equal(t, "request", op)
	p := params.(lending.RequestParams)
	require.Equal(t, "1000", p.Amount.String())
	require.Equal(t, "16", p.InterestRate.String())
	require.Nil(t, p.Salt)
	require.Equal(t, uint32(12), p.Installments)
	require.Equal(t, common.HexToAddress("0xb1"), p.Borrower)
}

func TestRequestLoanValidation(t *testing.T) {
	f := newFixture(t, "")

	cases := map[string]string{
		"missing amount":      `{"cuota":"1","interestRate":"1","installments":1,"duration":1}`,
		"negative amount":     `{"amount":"-5","cuota":"1","interestRate":"1","installments":1,"duration":1}`,
		"amount over uint128": `{"amount":"340282366920938463463374607431768211456","cuota":"1","interestRate":"1","installments":1,"duration":1}`,
		"cuota over uint128":  `{"amount":"5","cuota":"0x100000000000000000000000000000000","interestRate":"1","installments":1,"duration":1}`,
		"bad borrower":        `{"amount":"5","borrower":"0x12","cuota":"1","interestRate":"1","installments":1,"duration":1}`,
		"no installments":     `{"amount":"5","cuota":"1","interestRate":"1","duration":1}`,
		"unknown field":       `{"amount":"5","cuota":"1","interestRate":"1","installments":1,"duration":1,"extra":true}`,
		"empty body":          ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.post(t, "/api/v1/loans", "key-"+name, body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	require.Zero(t, f.api.callCount())
}

func TestRequestLoanAmountBounds(t *testing.T) {
	f := newFixture(t, "")

	rec := f.post(t, "/api/v1/loans", "wide", `{"amount":"0x100000000000000000000000000000000","cuota":"1","interestRate":"1","installments":1,"duration":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "amount")
	require.Contains(t, rec.Body.String(), "exceeds uint128")
	require.Zero(t, f.api.callCount())

	// the largest uint128 still reaches the backend
	rec = f.post(t, "/api/v1/loans", "max", `{"amount":"0xffffffffffffffffffffffffffffffff","cuota":"1","interestRate":"1","installments":1,"duration":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	_, params := f.api.lastCall()
	require.Equal(t, 128, params.(lending.RequestParams).Amount.BitLen())
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	f := newFixture(t, "")
	path := "/api/v1/loans/" + loan.Hex() + "/approve"

	first := f.post(t, path, "same", "")
	require.Equal(t, http.StatusAccepted, first.Code)
	second := f.post(t, path, "same", "")
	require.Equal(t, http.StatusAccepted, second.Code)
	require.Equal(t, first.Body.String(), second.Body.String())
	require.Equal(t, 1, f.api.callCount())

	// the same key on another route is a different request
	cancel := f.post(t, "/api/v1/loans/"+loan.Hex()+"/cancel", "same", "")
	require.Equal(t, http.StatusAccepted, cancel.Code)
	require.Equal(t, 2, f.api.callCount())
}

func TestMissingIdempotencyKey(t *testing.T) {
	f := newFixture(t, "")
	rec := f.post(t, "/api/v1/loans/"+loan.Hex()+"/approve", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, f.api.callCount())
}

func TestWaitReturnsSettlement(t *testing.T) {
	f := newFixture(t, "")
	rec := f.post(t, "/api/v1/loans/"+loan.Hex()+"/lend?wait=true", "lend-1", `{"cosignerData":"0x0102"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	require.Equal(t, "settled", resp.Status)
	require.Equal(t, uint64(7), resp.Block)
	require.NotEmpty(t, resp.TxHash)

	_, params := f.api.lastCall()
	p := params.(lending.LendParams)
	require.Equal(t, []byte{0x01, 0x02}, p.CosignerData)
	require.Nil(t, p.CosignerLimit)
}

func TestWaitReportsFailure(t *testing.T) {
	f := newFixture(t, "")
	f.api.fail = lending.ErrReverted
	rec := f.post(t, "/api/v1/loans/"+loan.Hex()+"/cancel?wait=true", "c-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	require.Equal(t, "failed", resp.Status)
	require.Contains(t, resp.Error, "reverted")
}

func TestPayRoutes(t *testing.T) {
	f := newFixture(t, "")

	rec := f.post(t, "/api/v1/loans/"+loan.Hex()+"/pay", "p-1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	op, params := f.api.lastCall()
	require.Equal(t, "pay", op)
	require.Nil(t, params.(lending.PayParams).Amount)

	rec = f.post(t, "/api/v1/loans/"+loan.Hex()+"/pay", "p-2", `{"amount":"250","token":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	op, params = f.api.lastCall()
	require.Equal(t, "pay_token", op)
	require.Equal(t, "250", params.(lending.PayParams).Amount.String())
}

func TestWithdrawRoutes(t *testing.T) {
	f := newFixture(t, "")
	to := "0x00000000000000000000000000000000000000c1"

	rec := f.post(t, "/api/v1/loans/"+loan.Hex()+"/withdraw", "w-1", `{"to":"`+to+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	op, params := f.api.lastCall()
	require.Equal(t, "withdraw", op)
	require.Equal(t, common.HexToAddress(to), params.(lending.WithdrawParams).To)

	rec = f.post(t, "/api/v1/loans/"+loan.Hex()+"/withdraw", "w-2", `{"amount":"5"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	op, _ = f.api.lastCall()
	require.Equal(t, "withdraw_partial", op)
}

func TestApproveToken(t *testing.T) {
	f := newFixture(t, "")
	rec := f.post(t, "/api/v1/token/approve", "t-1", `{"amount":"1000000000000000000000"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode(t, rec)
	require.Empty(t, resp.LoanID)

	_, params := f.api.lastCall()
	p := params.(lending.ApproveTokenParams)
	require.Equal(t, common.Address{}, p.Spender)
	require.Equal(t, "1000000000000000000000", p.Amount.String())
}

func TestBadLoanID(t *testing.T) {
	f := newFixture(t, "")
	rec := f.post(t, "/api/v1/loans/0x1234/approve", "b-1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmissionErrorStatuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{lending.ErrInvalidLoanData, http.StatusUnprocessableEntity},
		{lending.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("node unreachable"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		f := newFixture(t, "")
		f.api.err = tc.err
		rec := f.post(t, "/api/v1/loans/"+loan.Hex()+"/approve", "e", "")
		require.Equal(t, tc.want, rec.Code, tc.err.Error())

		// failures are not remembered, a retry reaches the API again
		f.api.err = nil
		rec = f.post(t, "/api/v1/loans/"+loan.Hex()+"/approve", "e", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
}

func TestHMACRequiredWhenConfigured(t *testing.T) {
	f := newFixture(t, "gateway-secret")

	rec := f.post(t, "/api/v1/loans/"+loan.Hex()+"/approve", "h-1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/loans/"+loan.Hex()+"/approve", bytes.NewReader(nil))
	req.Header.Set(idempotencyHeader, "h-2")
	unsigned := httptest.NewRecorder()
	f.handler.ServeHTTP(unsigned, req)
	require.Equal(t, http.StatusUnauthorized, unsigned.Code)
	require.Equal(t, 1, f.api.callCount())

	// reads stay open
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/account").Code)
}

func TestOperationLookups(t *testing.T) {
	f := newFixture(t, "")
	ref := crypto.Keccak256Hash([]byte("tx"))
	now := time.Now()
	require.NoError(t, f.journal.Put(context.Background(), journal.Record{
		Reference: ref.Hex(), Backend: "web3", Operation: "pay", LoanID: loan.Hex(),
		Status: journal.StatusSettled, CreatedAt: now, UpdatedAt: now,
	}))

	rec := f.get(t, "/api/v1/operations/"+ref.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	var got journal.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, journal.StatusSettled, got.Status)

	rec = f.get(t, "/api/v1/operations/"+crypto.Keccak256Hash([]byte("other")).Hex())
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.get(t, "/api/v1/loans/"+loan.Hex()+"/operations")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []journal.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = f.get(t, "/api/v1/loans/"+ref.Hex()+"/operations")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestAccount(t *testing.T) {
	f := newFixture(t, "")
	rec := f.get(t, "/api/v1/account")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"address":"`+account.Hex()+`","backend":"web3","balance":"1000000","testnet":true}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHealth(t *testing.T) {
	api := &fakeAPI{}
	broken := pingStore{MemoryStore: journal.NewMemoryStore(), err: errors.New("connection refused")}

	s := NewServer(Options{
		RPCHealth: func(context.Context) error { return nil },
	}, api, broken, idempotency.NewMemoryStore())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Connected bool   `json:"connected"`
			Error     string `json:"error"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "degraded", body.Status)
	require.True(t, body.Checks["rpc"].Connected)
	require.False(t, body.Checks["journal"].Connected)
	require.Equal(t, "connection refused", body.Checks["journal"].Error)
}

func TestMetricsExposeGatewayCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	api := &fakeAPI{}
	s := NewServer(Options{Registry: reg}, api, journal.NewMemoryStore(), idempotency.NewMemoryStore())
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/loans/"+loan.Hex()+"/approve", nil)
	req.Header.Set(idempotencyHeader, "m-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `diaspore_gateway_requests_total{route="approve",status="202"} 1`)
	require.Contains(t, rec.Body.String(), "diaspore_gateway_request_duration_seconds")
}
