// Package relay builds, signs and relays meta-transaction intents. A relay
// wallet is a contract deployed per signer; the relayer executes intents on
// its behalf and reports their settlement status.
package relay

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Intent defaults.
var (
	DefaultMaxGasPrice = big.NewInt(9_999_999_999)
	DefaultExpiration  = 365 * 24 * time.Hour
)

var ErrMissingTarget = errors.New("relay: intent has no target")

// Intent is one call the relay wallet should perform.
type Intent struct {
	To           common.Address
	Value        *big.Int
	Data         []byte
	Dependencies []common.Hash
	Salt         common.Hash
	MinGasLimit  *big.Int
	MaxGasPrice  *big.Int
	Expiration   int64
}

var idArguments = mustArguments("address", "bytes32", "address", "uint256", "bytes32", "uint256", "uint256", "bytes32", "uint256")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic("relay: abi type " + t + ": " + err.Error())
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// ID is the hash the wallet signs and the relayer tracks. It binds the
// intent to the wallet executing it.
func (i Intent) ID(wallet common.Address) common.Hash {
	var deps []byte
	for _, d := range i.Dependencies {
		deps = append(deps, d.Bytes()...)
	}
	packed, err := idArguments.Pack(
		wallet,
		crypto.Keccak256Hash(deps),
		i.To,
		nonNil(i.Value),
		crypto.Keccak256Hash(i.Data),
		nonNil(i.MinGasLimit),
		nonNil(i.MaxGasPrice),
		i.Salt,
		big.NewInt(i.Expiration),
	)
	if err != nil {
		// Every argument has a fixed static type.
		panic("relay: pack intent id: " + err.Error())
	}
	return crypto.Keccak256Hash(packed)
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// IntentBuilder assembles an Intent, filling the defaults the relayer
// expects.
type IntentBuilder struct {
	intent Intent
	now    func() time.Time
	err    error
}

func NewIntentBuilder() *IntentBuilder {
	return &IntentBuilder{now: time.Now}
}

// WithCall sets the target contract and call data.
func (b *IntentBuilder) WithCall(to common.Address, data []byte) *IntentBuilder {
	b.intent.To = to
	b.intent.Data = append([]byte(nil), data...)
	return b
}

func (b *IntentBuilder) WithValue(v *big.Int) *IntentBuilder {
	b.intent.Value = v
	return b
}

func (b *IntentBuilder) WithDependencies(ids ...common.Hash) *IntentBuilder {
	b.intent.Dependencies = append(b.intent.Dependencies, ids...)
	return b
}

func (b *IntentBuilder) WithSalt(salt common.Hash) *IntentBuilder {
	b.intent.Salt = salt
	return b
}

func (b *IntentBuilder) WithMinGasLimit(v *big.Int) *IntentBuilder {
	b.intent.MinGasLimit = v
	return b
}

func (b *IntentBuilder) WithMaxGasPrice(v *big.Int) *IntentBuilder {
	b.intent.MaxGasPrice = v
	return b
}

// WithExpiration sets an absolute unix expiration.
func (b *IntentBuilder) WithExpiration(unix int64) *IntentBuilder {
	b.intent.Expiration = unix
	return b
}

func (b *IntentBuilder) WithClock(now func() time.Time) *IntentBuilder {
	b.now = now
	return b
}

// Build validates the intent and applies defaults: zero value, a random
// salt, the default max gas price and a one year expiration.
func (b *IntentBuilder) Build() (Intent, error) {
	if b.err != nil {
		return Intent{}, b.err
	}
	out := b.intent
	if out.To == (common.Address{}) {
		return Intent{}, ErrMissingTarget
	}
	if out.Value == nil {
		out.Value = new(big.Int)
	}
	if out.MinGasLimit == nil {
		out.MinGasLimit = new(big.Int)
	}
	if out.MaxGasPrice == nil {
		out.MaxGasPrice = new(big.Int).Set(DefaultMaxGasPrice)
	}
	if out.Salt == (common.Hash{}) {
		if _, err := rand.Read(out.Salt[:]); err != nil {
			return Intent{}, fmt.Errorf("relay: random salt: %w", err)
		}
	}
	if out.Expiration == 0 {
		out.Expiration = b.now().Add(DefaultExpiration).Unix()
	}
	if out.Data == nil {
		out.Data = []byte{}
	}
	return out, nil
}
