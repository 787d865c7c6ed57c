package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"diaspore/internal/chain"
	"diaspore/internal/contracts"
	"diaspore/internal/journal"
	"diaspore/internal/settlement"
)

// Deps are the collaborators shared by both backends.
type Deps struct {
	Chain       chain.Backend
	Contracts   *contracts.Set
	Rates       OracleSource
	Obligations ObligationSource
	Journal     journal.Store
	Metrics     *Metrics
	Logger      *zap.Logger
	Currency    string
	// SettleTimeout bounds every background wait. Zero means no bound
	// other than the backend's own policy.
	SettleTimeout time.Duration
}

// core holds the behavior common to both backends: parameter building,
// oracle data, balances and settlement tracking.
type core struct {
	kind        BackendKind
	chain       chain.Backend
	set         *contracts.Set
	rates       OracleSource
	obligations ObligationSource
	journal     journal.Store
	metrics     *Metrics
	log         *zap.Logger
	currency    string
	timeout     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	now    func() time.Time
}

func newCore(kind BackendKind, d Deps) (*core, error) {
	if d.Chain == nil {
		return nil, errors.New("lending: chain backend is required")
	}
	if d.Contracts == nil {
		return nil, errors.New("lending: contracts are required")
	}
	if d.Journal == nil {
		d.Journal = journal.NewMemoryStore()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Currency == "" {
		d.Currency = DefaultCurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &core{
		kind:        kind,
		chain:       d.Chain,
		set:         d.Contracts,
		rates:       d.Rates,
		obligations: d.Obligations,
		journal:     d.Journal,
		metrics:     d.Metrics,
		log:         d.Logger.With(zap.String("backend", string(kind))),
		currency:    d.Currency,
		timeout:     d.SettleTimeout,
		ctx:         ctx,
		cancel:      cancel,
		now:         time.Now,
	}, nil
}

func (c *core) Kind() BackendKind { return c.kind }

// requestLoanParams encodes the installment terms with the model and checks
// the model accepts them.
func (c *core) requestLoanParams(ctx context.Context, p RequestParams, account common.Address) (contracts.RequestLoanParams, error) {
	data, err := c.set.InstallmentsModel.EncodeData(ctx, contracts.InstallmentsTerms{
		Cuota:        p.Cuota,
		InterestRate: p.InterestRate,
		Installments: p.Installments,
		Duration:     p.Duration,
		TimeUnit:     p.TimeUnit,
	})
	if err != nil {
		return contracts.RequestLoanParams{}, err
	}
	valid, err := c.set.InstallmentsModel.Validate(ctx, data)
	if err != nil {
		return contracts.RequestLoanParams{}, err
	}
	if !valid {
		return contracts.RequestLoanParams{}, ErrInvalidLoanData
	}

	borrower := p.Borrower
	if borrower == (common.Address{}) {
		borrower = account
	}
	return contracts.RequestLoanParams{
		Amount:     p.Amount,
		Model:      c.set.Addresses.InstallmentsModel,
		Oracle:     c.set.Addresses.Oracle,
		Borrower:   borrower,
		Salt:       p.Salt,
		Expiration: p.Expiration,
		LoanData:   data,
	}, nil
}

// oracleData returns the rate payload for loans priced through an oracle
// and empty data for loans denominated in tokens.
func (c *core) oracleData(ctx context.Context, id common.Hash) ([]byte, error) {
	oracle, err := c.set.LoanManager.Oracle(ctx, id)
	if err != nil {
		return nil, err
	}
	if oracle == (common.Address{}) {
		return []byte{}, nil
	}
	if c.rates == nil {
		return nil, fmt.Errorf("lending: loan %s needs oracle data but no rate feed is configured", id.Hex())
	}
	return c.rates.OracleData(ctx, c.currency)
}

func (c *core) payAmount(ctx context.Context, id common.Hash, amount *big.Int) (*big.Int, error) {
	if amount != nil {
		return amount, nil
	}
	if c.obligations == nil {
		return nil, errors.New("lending: no amount given and no debt info service configured")
	}
	return c.obligations.NextObligation(ctx, id)
}

func (c *core) balance(ctx context.Context, address common.Address) (*big.Int, error) {
	return c.chain.BalanceAt(ctx, address, nil)
}

func (c *core) IsTestnet(ctx context.Context) (bool, error) {
	id, err := c.chain.NetworkID(ctx)
	if err != nil {
		return false, err
	}
	return id.Int64() != chain.Mainnet, nil
}

// track journals the submission and settles it in the background with wait.
func (c *core) track(op Operation, loanID, ref common.Hash, cb Callback, wait func(ctx context.Context) (*Settlement, error)) (*Submission, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()

	sub := newSubmission(c.kind, op, loanID, ref)
	started := c.now()
	c.record(sub, journal.StatusSubmitted, nil, started)
	c.metrics.submitted(c.kind, op, nil)
	c.log.Info("operation submitted",
		zap.String("operation", string(op)),
		zap.Stringer("loan_id", loanID),
		zap.Stringer("reference", ref),
	)

	go func() {
		defer c.wg.Done()
		ctx := c.ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		res, err := wait(ctx)
		if res != nil {
			res.Operation, res.Backend, res.Reference = op, c.kind, ref
			if res.LoanID == (common.Hash{}) {
				res.LoanID = loanID
			}
		}
		c.settle(sub, res, err, started, cb)
	}()
	return sub, nil
}

func (c *core) settle(sub *Submission, res *Settlement, err error, started time.Time, cb Callback) {
	if !sub.finish(res, err) {
		return
	}
	status, metric := journal.StatusSettled, "settled"
	abandoned := false
	switch {
	case errors.Is(err, settlement.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		status, metric = journal.StatusFailed, "timeout"
	case errors.Is(err, context.Canceled) && c.ctx.Err() != nil:
		// Close stopped the wait, not the chain: the operation may still
		// settle, so the record stays submitted.
		metric, abandoned = "canceled", true
	case err != nil:
		status, metric = journal.StatusFailed, "failed"
	}
	if !abandoned {
		c.record(sub, status, err, started)
	}
	c.metrics.settled(c.kind, sub.Operation, metric, c.now().Sub(started))

	fields := []zap.Field{
		zap.String("operation", string(sub.Operation)),
		zap.Stringer("loan_id", sub.LoanID),
		zap.Stringer("reference", sub.Reference),
		zap.String("status", metric),
	}
	switch {
	case abandoned:
		c.log.Info("wait stopped before settlement", fields...)
	case err != nil:
		c.log.Warn("operation failed", append(fields, zap.Error(err))...)
	default:
		c.log.Info("operation settled", fields...)
	}
	if cb != nil {
		cb(res, err)
	}
}

func (c *core) record(sub *Submission, status journal.Status, cause error, created time.Time) {
	rec := journal.Record{
		Reference: sub.Reference.Hex(),
		Backend:   string(c.kind),
		Operation: string(sub.Operation),
		Status:    status,
		CreatedAt: created,
		UpdatedAt: c.now(),
	}
	if sub.LoanID != (common.Hash{}) {
		rec.LoanID = sub.LoanID.Hex()
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	// A detached context keeps the journal write alive after Close.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.journal.Put(ctx, rec); err != nil {
		c.log.Warn("journal write failed", zap.String("reference", rec.Reference), zap.Error(err))
	}
}

// submitFailed counts a call rejected before it reached the chain.
func (c *core) submitFailed(op Operation, err error) error {
	c.metrics.submitted(c.kind, op, err)
	return err
}

// Close cancels every pending wait and blocks until their callbacks ran.
func (c *core) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
	return nil
}

func lendRequest(p LendParams, oracleData []byte) contracts.LendRequestParams {
	limit := p.CosignerLimit
	if limit == nil {
		limit = new(big.Int)
	}
	return contracts.LendRequestParams{
		ID:            p.ID,
		OracleData:    oracleData,
		Cosigner:      p.Cosigner,
		CosignerLimit: limit,
		CosignerData:  p.CosignerData,
	}
}
