package tron

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrivateKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var testRawData = []byte{0x0a, 0x02, 0x4e, 0x3b, 0x22, 0x08, 0x1f, 0x5c, 0x6e, 0x7a, 0x40, 0xb0}

func testTransaction() Transaction {
	digest := sha256.Sum256(testRawData)
	return Transaction{
		Visible:    true,
		TxID:       hex.EncodeToString(digest[:]),
		RawData:    json.RawMessage(`{"ref_block_bytes":"4e3b"}`),
		RawDataHex: hex.EncodeToString(testRawData),
	}
}

type fakeNode struct {
	mu        sync.Mutex
	requests  map[string][]map[string]any
	signer    string
	broadcast *Transaction
	apiKeys   []string
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	n := &fakeNode{requests: make(map[string][]map[string]any)}
	server := httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(server.Close)
	return n, server
}

func (n *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.requests[r.URL.Path] = append(n.requests[r.URL.Path], body)
	n.apiKeys = append(n.apiKeys, r.Header.Get("TRON-PRO-API-KEY"))

	enc := json.NewEncoder(w)
	tx := testTransaction()

	switch r.URL.Path {
	case "/wallet/triggersmartcontract", "/wallet/createtransaction":
		if r.URL.Path == "/wallet/createtransaction" {
			enc.Encode(tx)
			return
		}
		enc.Encode(map[string]any{"result": map[string]any{"result": true}, "transaction": tx})

	case "/wallet/triggerconstantcontract":
		out, _ := marketplaceABI.Methods["isApprovedForAll"].Outputs.Pack(true)
		enc.Encode(map[string]any{"result": map[string]any{"result": true}, "constant_result": []string{hex.EncodeToString(out)}})

	case "/wallet/broadcasttransaction":
		raw, _ := json.Marshal(body)
		var signed Transaction
		json.Unmarshal(raw, &signed)
		n.broadcast = &signed
		if len(signed.Signature) == 1 {
			n.signer, _ = RecoverSigner(&signed, signed.Signature[0])
		}
		enc.Encode(map[string]any{"result": true, "txid": signed.TxID})

	case "/wallet/getaccount":
		enc.Encode(map[string]any{"address": body["address"], "balance": 5_000_000})

	case "/wallet/gettransactioninfobyid":
		enc.Encode(TransactionInfo{ID: body["value"].(string), BlockNumber: 77})

	default:
		http.NotFound(w, r)
	}
}

func approveAll(ctx context.Context, tx *Transaction) (bool, error) {
	return true, nil
}

func newTestKeyWallet(t *testing.T, url string, confirm ConfirmFunc, opts ...NodeOption) *KeyWallet {
	t.Helper()
	w, err := NewKeyWalletFromHex(testPrivateKeyHex, url, confirm, opts...)
	require.NoError(t, err)
	return w
}

func TestKeyWalletAddress(t *testing.T) {
	w := newTestKeyWallet(t, "http://127.0.0.1:1", nil)
	key, err := crypto.HexToECDSA(testPrivateKeyHex[2:])
	require.NoError(t, err)

	assert.True(t, IsValidAddress(w.Address()))
	evm, err := evmAddress(w.Address())
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), evm)

	resp, err := w.RequestAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Code)
	assert.True(t, w.Client().Ready())
	assert.Equal(t, w.Address(), w.Client().DefaultAddress())
}

func TestKeyWalletSignTransaction(t *testing.T) {
	w := newTestKeyWallet(t, "http://127.0.0.1:1", approveAll)
	tx := testTransaction()

	require.NoError(t, w.SignTransaction(context.Background(), &tx))
	require.Len(t, tx.Signature, 1)

	signer, err := RecoverSigner(&tx, tx.Signature[0])
	require.NoError(t, err)
	assert.Equal(t, w.Address(), signer)
}

func TestKeyWalletRequiresConfirmation(t *testing.T) {
	tests := []struct {
		name    string
		confirm ConfirmFunc
	}{
		{name: "no handler"},
		{name: "declined", confirm: func(ctx context.Context, tx *Transaction) (bool, error) { return false, nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestKeyWallet(t, "http://127.0.0.1:1", tt.confirm)
			tx := testTransaction()

			err := w.SignTransaction(context.Background(), &tx)
			assert.ErrorIs(t, err, chains.ErrTransactionRejected)
			assert.Empty(t, tx.Signature)
		})
	}
}

func TestKeyWalletRejectsMismatchedTxID(t *testing.T) {
	w := newTestKeyWallet(t, "http://127.0.0.1:1", approveAll)
	tx := testTransaction()
	tx.TxID = "00"

	assert.Error(t, w.SignTransaction(context.Background(), &tx))
}

func TestNewNodeClientRequiresHTTPS(t *testing.T) {
	_, err := NewNodeClient("http://api.trongrid.io", nil)
	assert.Error(t, err)
}

func TestNodeClientSend(t *testing.T) {
	node, server := newFakeNode(t)
	w := newTestKeyWallet(t, server.URL, approveAll, WithAPIKey("secret"))

	txID, err := w.Client().Send(context.Background(), ContractCall{
		Contract:  testContract,
		Method:    "buyAgent(uint256)",
		Parameter: []byte{0x01},
		CallValue: 2_500_000,
	})
	require.NoError(t, err)
	assert.Equal(t, testTransaction().TxID, txID)

	trigger := node.requests["/wallet/triggersmartcontract"]
	require.Len(t, trigger, 1)
	assert.Equal(t, w.Address(), trigger[0]["owner_address"])
	assert.Equal(t, testContract, trigger[0]["contract_address"])
	assert.Equal(t, "buyAgent(uint256)", trigger[0]["function_selector"])
	assert.Equal(t, "01", trigger[0]["parameter"])
	assert.EqualValues(t, 2_500_000, trigger[0]["call_value"])
	assert.EqualValues(t, 100_000_000, trigger[0]["fee_limit"])
	assert.Equal(t, true, trigger[0]["visible"])

	assert.Equal(t, w.Address(), node.signer)
	assert.Equal(t, []string{"secret", "secret"}, node.apiKeys)
}

func TestNodeClientCall(t *testing.T) {
	_, server := newFakeNode(t)
	w := newTestKeyWallet(t, server.URL, nil)

	out, err := w.Client().Call(context.Background(), ContractCall{Contract: testContract, Method: "isApprovedForAll(address,address)"})
	require.NoError(t, err)

	approved, err := decodeBool("isApprovedForAll", out)
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestNodeClientSendTrx(t *testing.T) {
	node, server := newFakeNode(t)
	w := newTestKeyWallet(t, server.URL, approveAll)

	res, err := w.Client().SendTrx(context.Background(), testContract, 1_000_000)
	require.NoError(t, err)
	assert.True(t, res.Result)
	assert.Equal(t, testTransaction().TxID, res.TxID)

	create := node.requests["/wallet/createtransaction"]
	require.Len(t, create, 1)
	assert.Equal(t, testContract, create[0]["to_address"])
	assert.EqualValues(t, 1_000_000, create[0]["amount"])
	assert.Equal(t, w.Address(), node.signer)
}

func TestNodeClientSendTrxDeclined(t *testing.T) {
	node, server := newFakeNode(t)
	w := newTestKeyWallet(t, server.URL, nil)

	_, err := w.Client().SendTrx(context.Background(), testContract, 1_000_000)
	assert.ErrorIs(t, err, chains.ErrTransactionRejected)
	assert.Empty(t, node.requests["/wallet/broadcasttransaction"])
}

func TestNodeClientReads(t *testing.T) {
	_, server := newFakeNode(t)
	w := newTestKeyWallet(t, server.URL, nil)
	ctx := context.Background()

	balance, err := w.Client().GetBalance(ctx, w.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), balance)

	info, err := w.Client().GetTransactionInfo(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", info.ID)
	assert.Equal(t, int64(77), info.BlockNumber)
}

func TestAdapterWithKeyWallet(t *testing.T) {
	node, server := newFakeNode(t)
	w := newTestKeyWallet(t, server.URL, approveAll)

	a := newTestAdapter(t, tronDescriptor(t, testContract, testFeeCollector), w)
	addr, err := a.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, w.Address(), addr)

	out, err := a.ListAgent(context.Background(), "5", "10")
	require.NoError(t, err)
	assert.Equal(t, testTransaction().TxID, out.TxHash)

	// approved on chain, so only the listing is triggered
	require.Len(t, node.requests["/wallet/triggersmartcontract"], 1)
	assert.Equal(t, "listAgent(uint256,uint256)", node.requests["/wallet/triggersmartcontract"][0]["function_selector"])
}
