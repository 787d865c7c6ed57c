package lending

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Settlement is the outcome of a settled submission.
type Settlement struct {
	Operation Operation
	Backend   BackendKind
	LoanID    common.Hash
	Reference common.Hash
	TxHash    common.Hash
	Block     uint64
	// Status is "mined" for transactions and the relayer status for intents.
	Status string
	// Event is the decoded contract event, when the backend observed one.
	Event interface{}
}

// Submission tracks one state-changing call until it settles.
type Submission struct {
	Operation Operation
	Backend   BackendKind
	LoanID    common.Hash
	// Reference is the transaction hash or the intent id.
	Reference common.Hash

	done   chan struct{}
	once   sync.Once
	result *Settlement
	err    error
}

func newSubmission(kind BackendKind, op Operation, loanID, ref common.Hash) *Submission {
	return &Submission{
		Operation: op,
		Backend:   kind,
		LoanID:    loanID,
		Reference: ref,
		done:      make(chan struct{}),
	}
}

// Done is closed once the outcome is known.
func (s *Submission) Done() <-chan struct{} { return s.done }

// Wait blocks until the submission settles or ctx ends.
func (s *Submission) Wait(ctx context.Context) (*Settlement, error) {
	select {
	case <-s.done:
		return s.result, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Submission) finish(res *Settlement, err error) bool {
	first := false
	s.once.Do(func() {
		s.result, s.err = res, err
		close(s.done)
		first = true
	})
	return first
}

// NewSubmission starts a pending submission for API implementations outside
// this package. Complete settles it.
func NewSubmission(kind BackendKind, op Operation, loanID, ref common.Hash) *Submission {
	return newSubmission(kind, op, loanID, ref)
}

// Complete records the outcome. Only the first call has an effect; it
// reports whether this call was the one that settled the submission.
func (s *Submission) Complete(res *Settlement, err error) bool {
	return s.finish(res, err)
}
