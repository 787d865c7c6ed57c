package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"diaspore/internal/hmacauth"
	"diaspore/internal/idempotency"
	"diaspore/internal/journal"
	"diaspore/internal/lending"
	"diaspore/internal/relay"
)

const idempotencyHeader = "X-Idempotency-Key"

// Options configure the gateway.
type Options struct {
	Port              int
	HMACSecret        string
	ClockSkew         time.Duration
	IdempotencyWindow time.Duration
	// Registry is shared with the lending metrics so /metrics serves both.
	Registry *prometheus.Registry
	Logger   *zap.Logger
	// RPCHealth reports node reachability on /health.
	RPCHealth func(context.Context) error
}

// Server exposes a lending.API over HTTP.
type Server struct {
	api        lending.API
	journal    journal.Store
	store      idempotency.Store
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *metricsRegistry
	log        *zap.Logger
	window     time.Duration
	now        func() time.Time
	checks     []healthCheck

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

type healthCheck struct {
	name string
	fn   func(context.Context) error
}

func NewServer(opts Options, api lending.API, jr journal.Store, store idempotency.Store) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	window := opts.IdempotencyWindow
	if window <= 0 {
		window = 24 * time.Hour
	}

	s := &Server{
		api:     api,
		journal: jr,
		store:   store,
		hmac: &hmacauth.Verifier{
			Secret:  opts.HMACSecret,
			MaxSkew: opts.ClockSkew,
			Logger:  log,
		},
		metrics:  newMetricsRegistry(opts.Registry),
		log:      log,
		window:   window,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}

	if opts.RPCHealth != nil {
		s.checks = append(s.checks, healthCheck{"rpc", opts.RPCHealth})
	}
	if checker, ok := jr.(interface{ Ping(context.Context) error }); ok {
		s.checks = append(s.checks, healthCheck{"journal", checker.Ping})
	}
	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.checks = append(s.checks, healthCheck{"idempotency", checker.Ping})
	}

	mux := http.NewServeMux()
	s.post(mux, "request", "/api/v1/loans", s.handleRequest)
	s.post(mux, "approve", "/api/v1/loans/{id}/approve", s.handleApprove)
	s.post(mux, "lend", "/api/v1/loans/{id}/lend", s.handleLend)
	s.post(mux, "pay", "/api/v1/loans/{id}/pay", s.handlePay)
	s.post(mux, "withdraw", "/api/v1/loans/{id}/withdraw", s.handleWithdraw)
	s.post(mux, "cancel", "/api/v1/loans/{id}/cancel", s.handleCancel)
	s.post(mux, "approve_token", "/api/v1/token/approve", s.handleApproveToken)
	s.get(mux, "loan_operations", "/api/v1/loans/{id}/operations", s.handleLoanOperations)
	s.get(mux, "operation", "/api/v1/operations/{ref}", s.handleOperation)
	s.get(mux, "account", "/api/v1/account", s.handleAccount)
	mux.Handle("GET /api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(opts.Port),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.log.Info("api listening", zap.String("addr", s.httpServer.Addr), zap.String("backend", string(s.api.Kind())))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// submitFunc parses the request and starts one lending operation.
type submitFunc func(r *http.Request) (*lending.Submission, error)

func (s *Server) post(mux *http.ServeMux, route, path string, submit submitFunc) {
	mux.Handle("POST "+path, s.instrument(route, s.hmac.Middleware(s.idempotent(route, submit))))
}

func (s *Server) get(mux *http.ServeMux, route, path string, h http.HandlerFunc) {
	mux.Handle("GET "+path, s.instrument(route, h))
}

type submissionResponse struct {
	Operation string `json:"operation"`
	Backend   string `json:"backend"`
	LoanID    string `json:"loanId,omitempty"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	TxHash    string `json:"txHash,omitempty"`
	Block     uint64 `json:"block,omitempty"`
	Error     string `json:"error,omitempty"`
}

// idempotent answers a repeated X-Idempotency-Key with the stored response
// and otherwise runs submit once, optionally waiting for settlement when
// the request carries ?wait=true.
func (s *Server) idempotent(route string, submit submitFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if key == "" {
			writeError(w, http.StatusBadRequest, "missing "+idempotencyHeader+" header")
			return
		}
		scoped := idempotency.Scoped(route, key)
		ctx := r.Context()

		existing, err := s.store.Get(ctx, scoped)
		if err != nil {
			s.log.Warn("idempotency lookup failed", zap.String("route", route), zap.Error(err))
		}
		if existing != nil {
			s.metrics.incReplay(route)
			writeRaw(w, existing.StatusCode, existing.Response)
			return
		}

		if !s.acquire(scoped) {
			writeError(w, http.StatusConflict, "a request with this idempotency key is in progress")
			return
		}
		defer s.release(scoped)

		sub, err := submit(r)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}

		status, resp := http.StatusAccepted, pendingResponse(sub)
		if r.URL.Query().Get("wait") == "true" {
			res, werr := sub.Wait(ctx)
			if ctx.Err() == nil {
				status, resp = http.StatusOK, settledResponse(sub, res, werr)
			}
		}

		body, _ := json.Marshal(resp)
		// the submission happened, so remember it even if the client left
		saveCtx := context.WithoutCancel(ctx)
		if err := s.store.Save(saveCtx, scoped, idempotency.NewRecord(status, body, s.now(), s.window)); err != nil {
			s.log.Warn("idempotency save failed", zap.String("route", route), zap.Error(err))
		}
		writeRaw(w, status, body)
	})
}

func (s *Server) acquire(key string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Server) release(key string) {
	s.inflightMu.Lock()
	delete(s.inflight, key)
	s.inflightMu.Unlock()
}

func pendingResponse(sub *lending.Submission) submissionResponse {
	resp := submissionResponse{
		Operation: string(sub.Operation),
		Backend:   string(sub.Backend),
		Reference: sub.Reference.Hex(),
		Status:    string(journal.StatusSubmitted),
	}
	if !isZero(sub.LoanID) {
		resp.LoanID = sub.LoanID.Hex()
	}
	return resp
}

func settledResponse(sub *lending.Submission, res *lending.Settlement, err error) submissionResponse {
	resp := pendingResponse(sub)
	if err != nil {
		resp.Status = string(journal.StatusFailed)
		resp.Error = err.Error()
		return resp
	}
	resp.Status = string(journal.StatusSettled)
	if res != nil {
		resp.TxHash = res.TxHash.Hex()
		resp.Block = res.Block
		if !isZero(res.LoanID) {
			resp.LoanID = res.LoanID.Hex()
		}
	}
	return resp
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	ref, err := parseHash("reference", r.PathValue("ref"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.journal.Get(r.Context(), ref.Hex())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleLoanOperations(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.journal.ByLoan(r.Context(), id.Hex())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []journal.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := s.api.Account(ctx)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	balance, err := s.api.Balance(ctx, &account)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	testnet, err := s.api.IsTestnet(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Address string `json:"address"`
		Backend string `json:"backend"`
		Balance string `json:"balance"`
		Testnet bool   `json:"testnet"`
	}{
		Address: account.Hex(),
		Backend: string(s.api.Kind()),
		Balance: balance.String(),
		Testnet: testnet,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	type checkInfo struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}
	checks := make(map[string]checkInfo, len(s.checks))

	for _, c := range s.checks {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.fn(checkCtx)
		cancel()
		info := checkInfo{Connected: err == nil, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}
		if err != nil {
			info.Error = err.Error()
			overallHealthy = false
		}
		checks[c.name] = info
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status  string               `json:"status"`
		Backend string               `json:"backend"`
		Checks  map[string]checkInfo `json:"checks"`
	}{
		Status:  status,
		Backend: string(s.api.Kind()),
		Checks:  checks,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// instrument counts, times and logs every request on route.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		took := time.Since(start)
		s.metrics.incRequest(route, strconv.Itoa(rec.status))
		s.metrics.observe(route, took.Seconds())
		if rec.status == http.StatusUnauthorized {
			s.metrics.authFailures.Inc()
		}
		s.log.Debug("request",
			zap.String("route", route),
			zap.String("method", r.Method),
			zap.Int("status", rec.status),
			zap.Duration("took", took),
			zap.String("request_id", r.Header.Get("X-Request-Id")),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{msg})
}

// statusFor maps submission errors onto HTTP statuses. Anything not
// recognised is treated as an upstream failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrInvalidLoanData), errors.Is(err, relay.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lending.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
