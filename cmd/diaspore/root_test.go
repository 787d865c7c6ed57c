package main

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestParseHelpers(t *testing.T) {
	id, err := parseLoanID("0x" + common.Bytes2Hex(bytes.Repeat([]byte{0xab}, 32)))
	require.NoError(t, err)
	require.Equal(t, byte(0xab), id[31])

	_, err = parseLoanID("0x1234")
	require.Error(t, err)

	addr, err := parseAddress("to", "")
	require.NoError(t, err)
	require.Equal(t, common.Address{}, addr)
	_, err = parseAddress("to", "nope")
	require.Error(t, err)

	n, err := parseAmount("amount", "0x10")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(16), n)
	n, err = parseAmount("amount", " 1000 ")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), n)
	n, err = parseAmount("amount", "")
	require.NoError(t, err)
	require.Nil(t, n)
	_, err = parseAmount("amount", "-5")
	require.Error(t, err)
}

func TestCommandsRejectBadInput(t *testing.T) {
	err := run(t, "approve", "0x12")
	require.ErrorContains(t, err, "32 bytes")

	err = run(t, "request", "--amount", "100")
	require.ErrorContains(t, err, "required")

	err = run(t, "pay", "0x"+common.Bytes2Hex(make([]byte, 32)), "--amount", "abc")
	require.ErrorContains(t, err, "unsigned 256-bit")

	err = run(t, "approve-token", "--spender", "0x01")
	require.ErrorContains(t, err, "not an address")

	err = run(t, "request", "--amount", "0x100000000000000000000000000000000", "--cuota", "1", "--interest-rate", "1")
	require.ErrorContains(t, err, "uint128")
	reqAmount, reqCuota, reqInterestRate = "", "", ""
}

func TestBackendOverrideIsValidated(t *testing.T) {
	backendFlag = "carrier-pigeon"
	defer func() { backendFlag = "" }()
	_, err := loadConfig()
	require.Error(t, err)
}
