package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("relay: intent not found")
	ErrRejected = errors.New("relay: intent rejected")
)

// Relayer accepts signed intents and reports their status.
type Relayer interface {
	Relay(ctx context.Context, intent SignedIntent) (common.Hash, error)
	Status(ctx context.Context, id common.Hash) (Status, error)
}

// Client talks to a relayer over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Relay posts the intent to /relay and returns the id the relayer tracks.
func (c *Client) Relay(ctx context.Context, intent SignedIntent) (common.Hash, error) {
	body, err := json.Marshal(intent)
	if err != nil {
		return common.Hash{}, fmt.Errorf("relay: encode intent: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/relay", bytes.NewReader(body))
	if err != nil {
		return common.Hash{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		ID common.Hash `json:"id"`
	}
	if err := c.do(req, &out); err != nil {
		return common.Hash{}, err
	}
	if out.ID == (common.Hash{}) {
		out.ID = intent.ID
	}
	c.log.Debug("intent relayed", zap.Stringer("intent_id", out.ID), zap.Stringer("to", intent.To))
	return out.ID, nil
}

// Status fetches /status/<id>.
func (c *Client) Status(ctx context.Context, id common.Hash) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/"+id.Hex(), nil)
	if err != nil {
		return Status{}, err
	}
	var out Status
	if err := c.do(req, &out); err != nil {
		return Status{}, err
	}
	if _, err := ParseStatusCode(string(out.Code)); err != nil {
		return Status{}, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("relay: read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(raw)))
	case resp.StatusCode >= 300:
		return fmt.Errorf("relay: unexpected status %d", resp.StatusCode)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("relay: decode response: %w", err)
	}
	return nil
}
