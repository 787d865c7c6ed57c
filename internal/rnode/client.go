// Package rnode queries the debt info service for loan obligations.
package rnode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const DefaultURL = "https://diaspore-ropsten-rnode.rcn.loans/"

var ErrNoObligation = errors.New("rnode: loan has no next obligation")

// Client reads loan state from an rnode.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}, log: log}
}

type loanInfo struct {
	NextObligation json.RawMessage `json:"next_obligation"`
}

// NextObligation returns the amount due on the loan's next installment.
func (c *Client) NextObligation(ctx context.Context, id common.Hash) (*big.Int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+id.Hex(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rnode: fetch %s: %w", id.Hex(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rnode: loan %s: unexpected status %d", id.Hex(), resp.StatusCode)
	}

	var info loanInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("rnode: decode loan %s: %w", id.Hex(), err)
	}
	amount, err := parseAmount(info.NextObligation)
	if err != nil {
		return nil, fmt.Errorf("rnode: loan %s: %w", id.Hex(), err)
	}
	c.log.Debug("next obligation", zap.Stringer("loan_id", id), zap.Stringer("amount", amount))
	return amount, nil
}

// parseAmount accepts a JSON number or a numeric string, decimal or 0x hex.
func parseAmount(raw json.RawMessage) (*big.Int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, ErrNoObligation
	}
	s = strings.Trim(s, `"`)
	if !strings.HasPrefix(s, "0x") && strings.ContainsAny(s, ".eE") {
		f, ok := new(big.Float).SetString(s)
		if !ok {
			return nil, fmt.Errorf("invalid amount %q", s)
		}
		v, _ := f.Int(nil)
		return v, nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
