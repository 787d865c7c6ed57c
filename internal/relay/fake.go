package relay

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultSchedule is the status progression a FakeRelayer reports.
var DefaultSchedule = []StatusCode{StatusPending, StatusSettling, StatusCompleted}

// FakeRelayer is an in-memory relayer. It accepts intents from wallets of
// one factory deployment. Each Status call advances the intent one step
// along Schedule and then stays on the last step.
type FakeRelayer struct {
	Schedule []StatusCode
	// Outcome, when set, is reported for every intent relayed afterwards.
	Outcome StatusCode

	wallets Config
	mu      sync.Mutex
	intents map[common.Hash]*fakeIntent
	order   []common.Hash
}

type fakeIntent struct {
	signed SignedIntent
	step   int
	forced StatusCode
}

func NewFakeRelayer(wallets Config) *FakeRelayer {
	return &FakeRelayer{
		Schedule: DefaultSchedule,
		wallets:  wallets,
		intents:  make(map[common.Hash]*fakeIntent),
	}
}

func (f *FakeRelayer) Relay(_ context.Context, intent SignedIntent) (common.Hash, error) {
	if err := intent.VerifyWallet(f.wallets); err != nil {
		return common.Hash{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.intents[intent.ID]; !ok {
		f.order = append(f.order, intent.ID)
	}
	f.intents[intent.ID] = &fakeIntent{signed: intent, forced: f.Outcome}
	return intent.ID, nil
}

func (f *FakeRelayer) Status(_ context.Context, id common.Hash) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[id]
	if !ok {
		return Status{}, ErrNotFound
	}
	code := in.forced
	if code == "" {
		schedule := f.Schedule
		if len(schedule) == 0 {
			schedule = DefaultSchedule
		}
		idx := in.step
		if idx >= len(schedule) {
			idx = len(schedule) - 1
		}
		code = schedule[idx]
		in.step++
	}
	st := Status{Code: code}
	if code.Settled() {
		st.Receipt = &Receipt{TxHash: crypto.Keccak256Hash(id.Bytes()), Success: true}
	}
	return st, nil
}

// Force pins the status reported for id.
func (f *FakeRelayer) Force(id common.Hash, code StatusCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in, ok := f.intents[id]; ok {
		in.forced = code
	}
}

// Intents returns the relayed intents in arrival order.
func (f *FakeRelayer) Intents() []SignedIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SignedIntent, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.intents[id].signed)
	}
	return out
}
