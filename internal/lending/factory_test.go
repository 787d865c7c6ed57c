package lending

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"diaspore/internal/chain"
	"diaspore/internal/contracts"
)

func explicitContracts() contracts.FactoryConfig {
	return contracts.FactoryConfig{
		LoanManager:       loanManager.Hex(),
		DebtEngine:        debtEngine.Hex(),
		InstallmentsModel: model.Hex(),
		Token:             token.Hex(),
	}
}

func TestNewSelectsBackend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.deps()
	d.Contracts = nil

	api, err := New(ctx, Config{Backend: BackendWeb3, PrivateKey: testKey, Contracts: explicitContracts()}, d)
	require.NoError(t, err)
	require.Equal(t, BackendWeb3, api.Kind())
	require.NoError(t, api.Close())

	api, err = New(ctx, Config{
		Backend:    BackendRelay,
		PrivateKey: testKey,
		Contracts:  explicitContracts(),
		Relay: RelayConfig{
			Factory:      relayFactory.Hex(),
			InitCodeHash: relayInitCode.Hex(),
			Fake:         true,
		},
	}, d)
	require.NoError(t, err)
	require.Equal(t, BackendRelay, api.Kind())
	require.NoError(t, api.Close())
}

func TestNewErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.deps()

	_, err := New(ctx, Config{Backend: BackendWeb3}, d)
	require.ErrorIs(t, err, chain.ErrReadOnly)

	_, err = New(ctx, Config{Backend: "carrier-pigeon", PrivateKey: testKey}, d)
	require.ErrorContains(t, err, "unknown backend")

	_, err = New(ctx, Config{Backend: BackendRelay, PrivateKey: testKey, Relay: RelayConfig{Factory: "nope"}}, d)
	require.ErrorContains(t, err, "not an address")

	_, err = New(ctx, Config{Backend: BackendRelay, PrivateKey: testKey, Relay: RelayConfig{
		Factory:      relayFactory.Hex(),
		InitCodeHash: relayInitCode.Hex(),
	}}, d)
	require.ErrorContains(t, err, "relayer url is required")

	d.Contracts = nil
	h.b.NetworkIDValue = big.NewInt(chain.Mainnet)
	_, err = New(ctx, Config{Backend: BackendWeb3, PrivateKey: testKey}, d)
	require.ErrorContains(t, err, "no registry deployed")
}
