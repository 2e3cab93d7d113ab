package tron

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testContract    = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	testContractHex = "41a614f803b6fd780986a42c78ec9c7f77e6ded13c"
)

func TestToHexAddress(t *testing.T) {
	hexAddr, err := ToHexAddress(testContract)
	require.NoError(t, err)
	assert.Equal(t, testContractHex, hexAddr)
}

func TestFromHexAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "41 prefixed", in: testContractHex, want: testContract},
		{name: "evm style", in: "0xa614f803b6fd780986a42c78ec9c7f77e6ded13c", want: testContract},
		{name: "repeated bytes", in: "41" + "1111111111111111111111111111111111111111", want: "TBXSw8fM4jpQkGc6zZjsVABFpVN7UvXPdV"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromHexAddress(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInvalidAddresses(t *testing.T) {
	tests := []string{
		"",
		"0x1234",
		"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6u", // checksum mismatch
		"9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
	}

	for _, addr := range tests {
		assert.False(t, IsValidAddress(addr), addr)
	}

	_, err := FromHexAddress("42a614f803b6fd780986a42c78ec9c7f77e6ded13c")
	assert.Error(t, err)
}

func TestEVMAddressRoundTrip(t *testing.T) {
	addr, err := evmAddress(testContract)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xa614f803b6fd780986a42c78ec9c7f77e6ded13c"), addr)
	assert.Equal(t, testContract, fromEVMAddress(addr))
}
