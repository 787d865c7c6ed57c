package relay

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"diaspore/internal/chain"
)

var (
	ErrBadSignature   = errors.New("relay: signature does not match signer")
	ErrWalletMismatch = errors.New("relay: wallet is not the signer's wallet")
)

// Config locates the wallet factory deployment.
type Config struct {
	Factory      common.Address
	InitCodeHash common.Hash
}

// WalletAddress is the CREATE2 address of signer's relay wallet.
func (c Config) WalletAddress(signer common.Address) common.Address {
	salt := common.BytesToHash(signer.Bytes())
	return crypto.CreateAddress2(c.Factory, salt, c.InitCodeHash.Bytes())
}

// Wallet signs intents for one signer key.
type Wallet struct {
	key     *ecdsa.PrivateKey
	signer  common.Address
	address common.Address
}

func NewWallet(privateKeyHex string, cfg Config) (*Wallet, error) {
	if cfg.Factory == (common.Address{}) {
		return nil, errors.New("relay: wallet factory address is required")
	}
	key, err := chain.ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)
	return &Wallet{key: key, signer: signer, address: cfg.WalletAddress(signer)}, nil
}

// Address is the wallet contract address, the on-chain sender of intents.
func (w *Wallet) Address() common.Address { return w.address }

// Signer is the EOA controlling the wallet.
func (w *Wallet) Signer() common.Address { return w.signer }

// Sign computes the intent id and signs it.
func (w *Wallet) Sign(in Intent) (SignedIntent, error) {
	id := in.ID(w.address)
	sig, err := crypto.Sign(id.Bytes(), w.key)
	if err != nil {
		return SignedIntent{}, fmt.Errorf("relay: sign intent: %w", err)
	}
	// go-ethereum returns v in {0,1}; the wallet contract ecrecovers with {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return SignedIntent{Intent: in, ID: id, Wallet: w.address, Signer: w.signer, Signature: sig}, nil
}

// SignedIntent is what gets sent to the relayer.
type SignedIntent struct {
	Intent
	ID        common.Hash
	Wallet    common.Address
	Signer    common.Address
	Signature []byte
}

// Verify recomputes the id and checks the signature recovers Signer. It
// cannot tell whether Wallet belongs to Signer; VerifyWallet does that when
// the factory deployment is known.
func (s SignedIntent) Verify() error {
	if s.ID != s.Intent.ID(s.Wallet) {
		return fmt.Errorf("relay: intent id mismatch")
	}
	if len(s.Signature) != crypto.SignatureLength {
		return ErrBadSignature
	}
	sig := append([]byte(nil), s.Signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(s.ID.Bytes(), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != s.Signer {
		return ErrBadSignature
	}
	return nil
}

// VerifyWallet runs Verify and checks Wallet is the CREATE2 wallet of
// Signer under cfg.
func (s SignedIntent) VerifyWallet(cfg Config) error {
	if err := s.Verify(); err != nil {
		return err
	}
	if want := cfg.WalletAddress(s.Signer); s.Wallet != want {
		return fmt.Errorf("%w: got %s, want %s", ErrWalletMismatch, s.Wallet.Hex(), want.Hex())
	}
	return nil
}

type wireIntent struct {
	ID           common.Hash    `json:"id"`
	Wallet       common.Address `json:"wallet"`
	Signer       common.Address `json:"signer"`
	To           common.Address `json:"to"`
	Value        *hexutil.Big   `json:"value"`
	Data         hexutil.Bytes  `json:"data"`
	Dependencies []common.Hash  `json:"dependencies"`
	Salt         common.Hash    `json:"salt"`
	MinGasLimit  *hexutil.Big   `json:"minGasLimit"`
	MaxGasPrice  *hexutil.Big   `json:"maxGasPrice"`
	Expiration   int64          `json:"expiration"`
	Signature    hexutil.Bytes  `json:"signature"`
}

func (s SignedIntent) MarshalJSON() ([]byte, error) {
	deps := s.Dependencies
	if deps == nil {
		deps = []common.Hash{}
	}
	return json.Marshal(wireIntent{
		ID:           s.ID,
		Wallet:       s.Wallet,
		Signer:       s.Signer,
		To:           s.To,
		Value:        (*hexutil.Big)(nonNil(s.Value)),
		Data:         s.Data,
		Dependencies: deps,
		Salt:         s.Salt,
		MinGasLimit:  (*hexutil.Big)(nonNil(s.MinGasLimit)),
		MaxGasPrice:  (*hexutil.Big)(nonNil(s.MaxGasPrice)),
		Expiration:   s.Expiration,
		Signature:    s.Signature,
	})
}

func (s *SignedIntent) UnmarshalJSON(raw []byte) error {
	var w wireIntent
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	*s = SignedIntent{
		Intent: Intent{
			To:           w.To,
			Value:        (*big.Int)(w.Value),
			Data:         w.Data,
			Dependencies: w.Dependencies,
			Salt:         w.Salt,
			MinGasLimit:  (*big.Int)(w.MinGasLimit),
			MaxGasPrice:  (*big.Int)(w.MaxGasPrice),
			Expiration:   w.Expiration,
		},
		ID:        w.ID,
		Wallet:    w.Wallet,
		Signer:    w.Signer,
		Signature: w.Signature,
	}
	return nil
}
