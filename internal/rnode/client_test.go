package rnode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestNextObligation(t *testing.T) {
	id := common.HexToHash("0x1234")
	bodies := map[string]string{
		"number": `{"next_obligation": 1500000000000000000000}`,
		"string": `{"next_obligation": "250"}`,
		"float":  `{"next_obligation": 1.5e3}`,
		"null":   `{"next_obligation": null}`,
	}
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, id.Hex()) {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, 0, nil)
	ctx := context.Background()

	body = bodies["number"]
	v, err := c.NextObligation(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "1500000000000000000000", v.String())

	body = bodies["string"]
	v, err = c.NextObligation(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(250), v.Int64())

	body = bodies["float"]
	v, err = c.NextObligation(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(1500), v.Int64())

	body = bodies["null"]
	_, err = c.NextObligation(ctx, id)
	require.ErrorIs(t, err, ErrNoObligation)

	_, err = c.NextObligation(ctx, common.HexToHash("0x99"))
	require.ErrorContains(t, err, "unexpected status 404")
}
