// Package rates fetches signed oracle payloads from the rate feed.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

const (
	DefaultURL = "https://oracle.ripio.com/rate/"
	DefaultTTL = 30 * time.Second
)

// Config for the rate feed client.
type Config struct {
	URL     string
	TTL     time.Duration
	Timeout time.Duration
}

type entry struct {
	Currency string `json:"currency"`
	Data     string `json:"data"`
}

// Client reads the rate feed, caching results per currency.
type Client struct {
	url   string
	ttl   time.Duration
	http  *http.Client
	cache Cache
	log   *zap.Logger
}

func NewClient(cfg Config, cache Cache, log *zap.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		url:   cfg.URL,
		ttl:   cfg.TTL,
		http:  &http.Client{Timeout: cfg.Timeout},
		cache: cache,
		log:   log,
	}
}

// CurrencyHex is the bytes32 encoding of an ASCII currency code, right
// padded with zeros.
func CurrencyHex(currency string) string {
	return hexutil.Encode(common.RightPadBytes([]byte(currency), 32))
}

// OracleData returns the payload for currency. A currency missing from the
// feed yields empty data.
func (c *Client) OracleData(ctx context.Context, currency string) ([]byte, error) {
	raw, hit, err := c.cache.Get(ctx, currency)
	if err != nil {
		c.log.Warn("rates cache read failed", zap.String("currency", currency), zap.Error(err))
	}
	if !hit {
		raw, err = c.fetch(ctx, currency)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(ctx, currency, raw, c.ttl); err != nil {
			c.log.Warn("rates cache write failed", zap.String("currency", currency), zap.Error(err))
		}
	}
	if raw == "" {
		return []byte{}, nil
	}
	data, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("rates: bad payload for %s: %w", currency, err)
	}
	return data, nil
}

func (c *Client) fetch(ctx context.Context, currency string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("rates: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rates: unexpected status %d", resp.StatusCode)
	}

	var feed []entry
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return "", fmt.Errorf("rates: decode feed: %w", err)
	}
	want := CurrencyHex(currency)
	data := "0x"
	for _, e := range feed {
		if strings.EqualFold(e.Currency, want) {
			data = e.Data
		}
	}
	c.log.Debug("rate fetched", zap.String("currency", currency), zap.Bool("found", data != "0x"))
	return data, nil
}
