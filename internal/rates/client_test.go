package rates

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func feedServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintf(w, `[{"currency":%q,"data":"0xdeadbeef"},{"currency":%q,"data":"0x01"}]`,
			CurrencyHex("ARS"), CurrencyHex("USD"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCurrencyHex(t *testing.T) {
	require.Equal(t, "0x4152530000000000000000000000000000000000000000000000000000000000", CurrencyHex("ARS"))
}

func TestOracleDataFindsCurrency(t *testing.T) {
	var hits atomic.Int32
	srv := feedServer(t, &hits)
	c := NewClient(Config{URL: srv.URL}, nil, nil)

	data, err := c.OracleData(context.Background(), "ARS")
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data)

	data, err = c.OracleData(context.Background(), "ARS")
	require.NoError(t, err)
	require.Len(t, data, 4)
	require.Equal(t, int32(1), hits.Load())
}

func TestOracleDataMissingCurrencyIsEmpty(t *testing.T) {
	var hits atomic.Int32
	srv := feedServer(t, &hits)
	c := NewClient(Config{URL: srv.URL}, nil, nil)

	data, err := c.OracleData(context.Background(), "BTC")
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestOracleDataFeedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(Config{URL: srv.URL}, nil, nil).OracleData(context.Background(), "ARS")
	require.ErrorContains(t, err, "unexpected status 502")
}

func TestMemoryCacheExpires(t *testing.T) {
	now := time.Unix(100, 0)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ARS", "0x01", time.Second))
	v, ok, err := c.Get(ctx, "ARS")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0x01", v)

	now = now.Add(2 * time.Second)
	_, ok, err = c.Get(ctx, "ARS")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	c := NewRedisCache(rdb)
	c.prefix = fmt.Sprintf("diaspore:test:%d:", time.Now().UnixNano())

	_, ok, err := c.Get(ctx, "ARS")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "ARS", "0xabcd", time.Minute))
	v, ok, err := c.Get(ctx, "ARS")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0xabcd", v)
}
