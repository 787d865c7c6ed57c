package relay

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// StatusCode is the relayer's view of an intent.
type StatusCode string

const (
	StatusPending   StatusCode = "pending"
	StatusSettling  StatusCode = "settling"
	StatusCompleted StatusCode = "completed"
	StatusCanceled  StatusCode = "canceled"
	StatusError     StatusCode = "error"
)

func ParseStatusCode(s string) (StatusCode, error) {
	switch c := StatusCode(s); c {
	case StatusPending, StatusSettling, StatusCompleted, StatusCanceled, StatusError:
		return c, nil
	}
	return "", fmt.Errorf("relay: unknown status %q", s)
}

// Settled reports whether the intent reached the chain.
func (c StatusCode) Settled() bool {
	return c == StatusSettling || c == StatusCompleted
}

// Failed reports a terminal failure.
func (c StatusCode) Failed() bool {
	return c == StatusCanceled || c == StatusError
}

func (c StatusCode) String() string { return string(c) }

// Receipt is the on-chain execution of a settled intent.
type Receipt struct {
	TxHash  common.Hash `json:"tx"`
	Block   uint64      `json:"block"`
	Success bool        `json:"success"`
}

// Status is one relayer status report.
type Status struct {
	Code    StatusCode `json:"code"`
	Receipt *Receipt   `json:"receipt,omitempty"`
	Error   string     `json:"error,omitempty"`
}
