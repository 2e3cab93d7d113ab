package evm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrivateKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestKeyProvider(t *testing.T, confirm ConfirmFunc) *KeystoreProvider {
	t.Helper()
	p, err := NewKeyProviderFromHex(testPrivateKeyHex, confirm)
	require.NoError(t, err)
	return p
}

func requireProviderCode(t *testing.T, err error, code int) {
	t.Helper()
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, code, pe.Code)
}

func TestKeystoreProviderAccounts(t *testing.T) {
	p := newTestKeyProvider(t, nil)

	raw, err := p.Request(context.Background(), "eth_requestAccounts")
	require.NoError(t, err)

	var accounts []string
	require.NoError(t, json.Unmarshal(raw, &accounts))
	assert.Equal(t, []string{p.Address().Hex()}, accounts)
}

func TestKeystoreProviderSwitchAndAddChain(t *testing.T) {
	p := newTestKeyProvider(t, nil)
	ctx := context.Background()

	_, err := p.Request(ctx, "wallet_switchEthereumChain", SwitchChainParams{ChainID: "0x38"})
	requireProviderCode(t, err, CodeUnrecognizedChain)

	_, err = p.Request(ctx, "wallet_addEthereumChain", AddChainParams{ChainID: "0x38", ChainName: "BNB Chain", RPCURLs: []string{"https://bsc-dataseed.bnbchain.org"}})
	require.NoError(t, err)

	_, err = p.Request(ctx, "wallet_switchEthereumChain", SwitchChainParams{ChainID: "0x38"})
	require.NoError(t, err)

	raw, err := p.Request(ctx, "eth_chainId")
	require.NoError(t, err)
	assert.JSONEq(t, `"0x38"`, string(raw))
}

func TestKeystoreProviderAddChainRequiresRPC(t *testing.T) {
	p := newTestKeyProvider(t, nil)

	_, err := p.Request(context.Background(), "wallet_addEthereumChain", AddChainParams{ChainID: "0x1"})
	requireProviderCode(t, err, CodeInternalRPCFailure)
}

func TestKeystoreProviderRequiresConfirmation(t *testing.T) {
	tests := []struct {
		name    string
		confirm ConfirmFunc
	}{
		{name: "no handler", confirm: nil},
		{name: "declined", confirm: func(ctx context.Context, networkID int64, tx TxRequest) (bool, error) { return false, nil }},
		{name: "handler error", confirm: func(ctx context.Context, networkID int64, tx TxRequest) (bool, error) {
			return false, errors.New("prompt closed")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestKeyProvider(t, tt.confirm)
			p.AddChain(8453, "http://127.0.0.1:1")
			_, err := p.Request(context.Background(), "wallet_switchEthereumChain", SwitchChainParams{ChainID: "0x2105"})
			require.NoError(t, err)

			_, err = p.Request(context.Background(), "eth_sendTransaction", TxRequest{From: p.Address().Hex(), To: testFeeCollector, Value: "0x1"})
			requireProviderCode(t, err, CodeUserRejected)
			assert.ErrorIs(t, classifyProviderError(err), chains.ErrTransactionRejected)
		})
	}
}

func TestKeystoreProviderRejectsForeignAccount(t *testing.T) {
	p := newTestKeyProvider(t, nil)

	_, err := p.Request(context.Background(), "eth_sendTransaction", TxRequest{From: testAccount})
	requireProviderCode(t, err, CodeUnauthorized)
}

func TestKeystoreProviderNoChainSelected(t *testing.T) {
	p := newTestKeyProvider(t, func(ctx context.Context, networkID int64, tx TxRequest) (bool, error) { return true, nil })

	_, err := p.Request(context.Background(), "eth_sendTransaction", TxRequest{From: p.Address().Hex()})
	requireProviderCode(t, err, CodeDisconnected)
}

func TestKeystoreProviderUnsupportedMethod(t *testing.T) {
	p := newTestKeyProvider(t, nil)

	_, err := p.Request(context.Background(), "personal_sign", "0x00")
	requireProviderCode(t, err, CodeUnsupportedMethod)
}

func TestNewKeystoreProviderFromV3JSON(t *testing.T) {
	key, err := crypto.HexToECDSA(testPrivateKeyHex[2:])
	require.NoError(t, err)

	id, err := uuid.NewRandom()
	require.NoError(t, err)
	keyJSON, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}, "secret", keystore.LightScryptN, keystore.LightScryptP)
	require.NoError(t, err)

	p, err := NewKeystoreProvider(keyJSON, "secret", nil)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), p.Address())

	_, err = NewKeystoreProvider(keyJSON, "wrong", nil)
	assert.Error(t, err)
}

func TestAdapterConnectsThroughKeystoreProvider(t *testing.T) {
	p := newTestKeyProvider(t, nil)
	a, _ := newTestAdapter(t, baseDescriptor(t, "", ""), p, nil)

	addr, err := a.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p.Address().Hex(), addr)

	raw, err := p.Request(context.Background(), "eth_chainId")
	require.NoError(t, err)
	assert.JSONEq(t, `"0x2105"`, string(raw))
}
