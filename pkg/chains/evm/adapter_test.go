package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccount      = "0x1111111111111111111111111111111111111111"
	testContract     = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testFeeCollector = "0x2222222222222222222222222222222222222222"
)

// fakeProvider records EIP-1193 requests and behaves like a wallet extension
type fakeProvider struct {
	mu       sync.Mutex
	methods  []string
	known    map[string]bool
	accounts []string
	switchFn func() error
	sendErr  error
	sent     []TxRequest
}

func newFakeProvider(knownChains ...string) *fakeProvider {
	known := make(map[string]bool)
	for _, c := range knownChains {
		known[c] = true
	}
	return &fakeProvider{known: known, accounts: []string{testAccount}}
}

func (f *fakeProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.methods = append(f.methods, method)

	switch method {
	case "wallet_switchEthereumChain":
		if f.switchFn != nil {
			if err := f.switchFn(); err != nil {
				return nil, err
			}
		}
		var p SwitchChainParams
		if err := decodeParam(params[0], &p); err != nil {
			return nil, err
		}
		if !f.known[p.ChainID] {
			return nil, &ProviderError{Code: CodeUnrecognizedChain, Message: "unknown chain"}
		}
		return json.RawMessage("null"), nil
	case "wallet_addEthereumChain":
		var p AddChainParams
		if err := decodeParam(params[0], &p); err != nil {
			return nil, err
		}
		f.known[p.ChainID] = true
		return json.RawMessage("null"), nil
	case "eth_requestAccounts":
		return json.Marshal(f.accounts)
	case "eth_sendTransaction":
		if f.sendErr != nil {
			return nil, f.sendErr
		}
		var tx TxRequest
		if err := decodeParam(params[0], &tx); err != nil {
			return nil, err
		}
		f.sent = append(f.sent, tx)
		return json.Marshal(common.BigToHash(big.NewInt(int64(len(f.sent)))).Hex())
	}
	return nil, &ProviderError{Code: CodeUnsupportedMethod, Message: method}
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.methods)
}

func (f *fakeProvider) sentTxs() []TxRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TxRequest(nil), f.sent...)
}

// fakeBackend serves balances, contract calls and receipts from memory
type fakeBackend struct {
	mu         sync.Mutex
	balance    *big.Int
	approved   bool
	owner      common.Address
	pending    int
	receiptFor func(hash common.Hash) *ethtypes.Receipt
	calls      []ethereum.CallMsg
	closed     bool
}

func (b *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if b.balance == nil {
		return new(big.Int), nil
	}
	return b.balance, nil
}

func (b *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, msg)
	switch {
	case bytes.HasPrefix(msg.Data, marketplaceABI.Methods["isApprovedForAll"].ID):
		return marketplaceABI.Methods["isApprovedForAll"].Outputs.Pack(b.approved)
	case bytes.HasPrefix(msg.Data, marketplaceABI.Methods["ownerOf"].ID):
		return marketplaceABI.Methods["ownerOf"].Outputs.Pack(b.owner)
	}
	return nil, errors.New("execution reverted")
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending > 0 {
		b.pending--
		return nil, ethereum.NotFound
	}
	if b.receiptFor != nil {
		return b.receiptFor(txHash), nil
	}
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, TxHash: txHash, BlockNumber: big.NewInt(1)}, nil
}

func (b *fakeBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *fakeBackend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type dialRecorder struct {
	backends  []*fakeBackend
	endpoints [][]string
	next      func() *fakeBackend
}

func (d *dialRecorder) dial(ctx context.Context, endpoints []string) (Backend, error) {
	b := &fakeBackend{}
	if d.next != nil {
		b = d.next()
	}
	d.backends = append(d.backends, b)
	d.endpoints = append(d.endpoints, endpoints)
	return b, nil
}

func baseDescriptor(t *testing.T, contract, feeCollector string) chains.ChainDescriptor {
	t.Helper()
	d, err := chains.DefaultRegistry().Get(chains.Base)
	require.NoError(t, err)
	d.ContractAddress = contract
	d.FeeCollector = feeCollector
	return d
}

const baseChainHex = "0x2105"

func newTestAdapter(t *testing.T, desc chains.ChainDescriptor, provider Provider, backend *fakeBackend) (*Adapter, *dialRecorder) {
	t.Helper()
	rec := &dialRecorder{}
	if backend != nil {
		rec.next = func() *fakeBackend { return backend }
	}
	a, err := NewAdapter(desc, provider, WithDialer(rec.dial), WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	return a, rec
}

func connectedAdapter(t *testing.T, desc chains.ChainDescriptor, backend *fakeBackend) (*Adapter, *fakeProvider) {
	t.Helper()
	provider := newFakeProvider(baseChainHex)
	a, _ := newTestAdapter(t, desc, provider, backend)
	_, err := a.Connect(context.Background())
	require.NoError(t, err)
	return a, provider
}

func selector(t *testing.T, tx TxRequest) []byte {
	t.Helper()
	data, err := hexutil.Decode(tx.Data)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 4)
	return data[:4]
}

func TestNewAdapterRejectsNonEVMChain(t *testing.T) {
	sol, err := chains.DefaultRegistry().Get(chains.Solana)
	require.NoError(t, err)

	_, err = NewAdapter(sol, newFakeProvider())
	assert.ErrorIs(t, err, chains.ErrUnsupportedChain)
}

func TestConnectWalletNotFound(t *testing.T) {
	a, rec := newTestAdapter(t, baseDescriptor(t, "", ""), nil, nil)

	_, err := a.Connect(context.Background())
	assert.ErrorIs(t, err, chains.ErrWalletNotFound)
	assert.Empty(t, a.Address())
	assert.Empty(t, rec.backends)
}

func TestConnectAddsUnknownChain(t *testing.T) {
	provider := newFakeProvider()
	a, rec := newTestAdapter(t, baseDescriptor(t, "", ""), provider, nil)

	addr, err := a.Connect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(testAccount).Hex(), addr)
	assert.Equal(t, addr, a.Address())
	assert.Equal(t, []string{
		"wallet_switchEthereumChain",
		"wallet_addEthereumChain",
		"wallet_switchEthereumChain",
		"eth_requestAccounts",
	}, provider.methods)
	require.Len(t, rec.endpoints, 1)
	assert.Equal(t, "https://mainnet.base.org", rec.endpoints[0][0])
}

func TestConnectKnownChainSkipsAdd(t *testing.T) {
	provider := newFakeProvider(baseChainHex)
	a, _ := newTestAdapter(t, baseDescriptor(t, "", ""), provider, nil)

	_, err := a.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"wallet_switchEthereumChain", "eth_requestAccounts"}, provider.methods)
}

func TestConnectSwitchRejected(t *testing.T) {
	provider := newFakeProvider(baseChainHex)
	provider.switchFn = func() error {
		return &ProviderError{Code: CodeUserRejected, Message: "user rejected"}
	}
	a, rec := newTestAdapter(t, baseDescriptor(t, "", ""), provider, nil)

	_, err := a.Connect(context.Background())
	assert.ErrorIs(t, err, chains.ErrWalletConnectionFailed)
	assert.Empty(t, a.Address())
	assert.Empty(t, rec.backends)
}

func TestConnectNoAccounts(t *testing.T) {
	provider := newFakeProvider(baseChainHex)
	provider.accounts = nil
	a, _ := newTestAdapter(t, baseDescriptor(t, "", ""), provider, nil)

	_, err := a.Connect(context.Background())
	assert.ErrorIs(t, err, chains.ErrWalletConnectionFailed)
}

func TestReconnectResetsState(t *testing.T) {
	provider := newFakeProvider(baseChainHex)
	a, rec := newTestAdapter(t, baseDescriptor(t, "", ""), provider, nil)

	first, err := a.Connect(context.Background())
	require.NoError(t, err)
	second, err := a.Connect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, rec.backends, 2)
	assert.True(t, rec.backends[0].isClosed(), "previous backend is released on reconnect")
	assert.False(t, rec.backends[1].isClosed())

	a.Close()
	assert.True(t, rec.backends[1].isClosed())
	assert.Empty(t, a.Address())
}

func TestContractNotDeployedNeverTouchesWallet(t *testing.T) {
	ops := map[string]func(a *Adapter) error{
		"mintAgent": func(a *Adapter) error {
			_, err := a.MintAgent(context.Background(), chains.MintRequest{Name: "agent"})
			return err
		},
		"listAgent": func(a *Adapter) error {
			_, err := a.ListAgent(context.Background(), "1", "0.5")
			return err
		},
		"buyAgent": func(a *Adapter) error {
			_, err := a.BuyAgent(context.Background(), "1", "0.5")
			return err
		},
		"delistAgent": func(a *Adapter) error {
			_, err := a.DelistAgent(context.Background(), "1")
			return err
		},
	}

	for name, op := range ops {
		t.Run(name+"/disconnected", func(t *testing.T) {
			provider := newFakeProvider(baseChainHex)
			a, _ := newTestAdapter(t, baseDescriptor(t, "", testFeeCollector), provider, nil)

			assert.ErrorIs(t, op(a), chains.ErrContractNotDeployed)
			assert.Zero(t, provider.callCount())
		})
		t.Run(name+"/connected", func(t *testing.T) {
			backend := &fakeBackend{}
			a, provider := connectedAdapter(t, baseDescriptor(t, "", testFeeCollector), backend)
			before := provider.callCount()

			assert.ErrorIs(t, op(a), chains.ErrContractNotDeployed)
			assert.Equal(t, before, provider.callCount())
			assert.Empty(t, backend.calls)
		})
	}
}

func TestOperationsRequireConnect(t *testing.T) {
	provider := newFakeProvider(baseChainHex)
	a, _ := newTestAdapter(t, baseDescriptor(t, testContract, testFeeCollector), provider, nil)

	_, err := a.MintAgent(context.Background(), chains.MintRequest{Name: "agent"})
	assert.ErrorIs(t, err, chains.ErrNotConnected)
	_, err = a.SendPayment(context.Background(), "1")
	assert.ErrorIs(t, err, chains.ErrNotConnected)
	_, err = a.GetNativeBalance(context.Background())
	assert.ErrorIs(t, err, chains.ErrNotConnected)
	assert.Zero(t, provider.callCount())
}

func TestMintAgentDecodesTokenID(t *testing.T) {
	contract := common.HexToAddress(testContract)
	backend := &fakeBackend{
		receiptFor: func(hash common.Hash) *ethtypes.Receipt {
			return &ethtypes.Receipt{
				Status: ethtypes.ReceiptStatusSuccessful,
				TxHash: hash,
				Logs: []*ethtypes.Log{
					{Address: common.HexToAddress(testFeeCollector), Topics: []common.Hash{common.HexToHash("0x01")}},
					{
						Address: contract,
						Topics: []common.Hash{
							marketplaceABI.Events["AgentMinted"].ID,
							common.BigToHash(big.NewInt(42)),
							common.BytesToHash(common.HexToAddress(testAccount).Bytes()),
						},
					},
				},
			}
		},
	}
	a, provider := connectedAdapter(t, baseDescriptor(t, testContract, ""), backend)

	out, err := a.MintAgent(context.Background(), chains.MintRequest{
		Name:         "Research Agent",
		Description:  "summarizes papers",
		Capabilities: []string{"search", "summarize"},
		ModelType:    "gpt",
		TokenURI:     "ipfs://agent",
	})
	require.NoError(t, err)

	assert.Equal(t, "42", out.TokenID)
	assert.Equal(t, chains.Base, out.Chain)
	assert.NotEmpty(t, out.TxHash)

	sent := provider.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, contract.Hex(), sent[0].To)
	assert.Empty(t, sent[0].Value)
	assert.Equal(t, marketplaceABI.Methods["mintAgent"].ID, selector(t, sent[0]))
}

func TestMintAgentMissingEvent(t *testing.T) {
	a, _ := connectedAdapter(t, baseDescriptor(t, testContract, ""), &fakeBackend{})

	_, err := a.MintAgent(context.Background(), chains.MintRequest{Name: "agent"})
	require.Error(t, err)

	var opErr *chains.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.NotEmpty(t, opErr.TxHash)
}

func TestListAgentApproval(t *testing.T) {
	tests := []struct {
		name      string
		approved  bool
		selectors [][]byte
	}{
		{
			name:     "approves before listing",
			approved: false,
			selectors: [][]byte{
				marketplaceABI.Methods["setApprovalForAll"].ID,
				marketplaceABI.Methods["listAgent"].ID,
			},
		},
		{
			name:      "skips redundant approval",
			approved:  true,
			selectors: [][]byte{marketplaceABI.Methods["listAgent"].ID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{approved: tt.approved}
			a, provider := connectedAdapter(t, baseDescriptor(t, testContract, ""), backend)

			out, err := a.ListAgent(context.Background(), "7", "1.25")
			require.NoError(t, err)
			assert.NotEmpty(t, out.TxHash)

			sent := provider.sentTxs()
			require.Len(t, sent, len(tt.selectors))
			for i, sel := range tt.selectors {
				assert.Equal(t, sel, selector(t, sent[i]))
			}

			require.Len(t, backend.calls, 1)
			assert.Equal(t, common.HexToAddress(testAccount), backend.calls[0].From)

			args, err := marketplaceABI.Methods["listAgent"].Inputs.Unpack(hexutil.MustDecode(sent[len(sent)-1].Data)[4:])
			require.NoError(t, err)
			assert.Equal(t, "7", args[0].(*big.Int).String())
			assert.Equal(t, "1250000000000000000", args[1].(*big.Int).String())
		})
	}
}

func TestBuyAgentAttachesExactValue(t *testing.T) {
	a, provider := connectedAdapter(t, baseDescriptor(t, testContract, ""), &fakeBackend{})

	out, err := a.BuyAgent(context.Background(), "3", "0.85")
	require.NoError(t, err)
	assert.NotEmpty(t, out.TxHash)

	sent := provider.sentTxs()
	require.Len(t, sent, 1)
	expected, _ := new(big.Int).SetString("850000000000000000", 10)
	assert.Equal(t, hexutil.EncodeBig(expected), sent[0].Value)
	assert.Equal(t, marketplaceABI.Methods["buyAgent"].ID, selector(t, sent[0]))
}

func soldReceipt(t *testing.T, tokenID int64, buyer string, price *big.Int) func(common.Hash) *ethtypes.Receipt {
	t.Helper()
	data, err := marketplaceABI.Events["AgentSold"].Inputs.NonIndexed().Pack(price)
	require.NoError(t, err)

	return func(hash common.Hash) *ethtypes.Receipt {
		return &ethtypes.Receipt{
			Status: ethtypes.ReceiptStatusSuccessful,
			TxHash: hash,
			Logs: []*ethtypes.Log{{
				Address: common.HexToAddress(testContract),
				Topics: []common.Hash{
					marketplaceABI.Events["AgentSold"].ID,
					common.BigToHash(big.NewInt(tokenID)),
					common.BytesToHash(common.HexToAddress(testFeeCollector).Bytes()),
					common.BytesToHash(common.HexToAddress(buyer).Bytes()),
				},
				Data: data,
			}},
		}
	}
}

func TestBuyAgentChecksSaleEvent(t *testing.T) {
	paid, _ := new(big.Int).SetString("850000000000000000", 10)

	tests := []struct {
		name    string
		tokenID int64
		buyer   string
		price   *big.Int
		wantErr string
	}{
		{name: "matching sale", tokenID: 3, buyer: testAccount, price: paid},
		{name: "other token", tokenID: 4, buyer: testAccount, price: paid, wantErr: "sale event is for token 4"},
		{name: "other buyer", tokenID: 3, buyer: testFeeCollector, price: paid, wantErr: "sale event buyer"},
		{name: "other price", tokenID: 3, buyer: testAccount, price: big.NewInt(1), wantErr: "sale event price 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{receiptFor: soldReceipt(t, tt.tokenID, tt.buyer, tt.price)}
			a, _ := connectedAdapter(t, baseDescriptor(t, testContract, ""), backend)

			out, err := a.BuyAgent(context.Background(), "3", "0.85")
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.NotEmpty(t, out.TxHash)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			var opErr *chains.OperationError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, "buyAgent", opErr.Op)
			assert.NotEmpty(t, opErr.TxHash)
		})
	}
}

func TestSoldEvent(t *testing.T) {
	receipt := soldReceipt(t, 7, testAccount, big.NewInt(1000))(common.HexToHash("0xaa"))

	sale, err := SoldEvent(receipt, common.HexToAddress(testContract))
	require.NoError(t, err)
	assert.Equal(t, int64(7), sale.TokenID.Int64())
	assert.Equal(t, common.HexToAddress(testFeeCollector), sale.Seller)
	assert.Equal(t, common.HexToAddress(testAccount), sale.Buyer)
	assert.Equal(t, int64(1000), sale.Price.Int64())

	_, err = SoldEvent(receipt, common.HexToAddress(testFeeCollector))
	assert.Error(t, err)
}

func TestBuyAgentRejectsImpreciseAmount(t *testing.T) {
	a, provider := connectedAdapter(t, baseDescriptor(t, testContract, ""), &fakeBackend{})
	before := provider.callCount()

	_, err := a.BuyAgent(context.Background(), "3", "0.0000000000000000001")
	assert.ErrorIs(t, err, chains.ErrInvalidAmount)
	assert.Equal(t, before, provider.callCount())
}

func TestRevertedTransaction(t *testing.T) {
	backend := &fakeBackend{
		receiptFor: func(hash common.Hash) *ethtypes.Receipt {
			return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed, TxHash: hash}
		},
	}
	a, _ := connectedAdapter(t, baseDescriptor(t, testContract, ""), backend)

	_, err := a.DelistAgent(context.Background(), "9")
	assert.ErrorIs(t, err, chains.ErrTransactionReverted)

	var opErr *chains.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "delistAgent", opErr.Op)
	assert.NotEmpty(t, opErr.TxHash)
}

func TestUserRejectedTransaction(t *testing.T) {
	a, provider := connectedAdapter(t, baseDescriptor(t, testContract, ""), &fakeBackend{})
	provider.sendErr = &ProviderError{Code: CodeUserRejected, Message: "User denied transaction signature."}

	_, err := a.BuyAgent(context.Background(), "1", "1")
	assert.ErrorIs(t, err, chains.ErrTransactionRejected)
	assert.Contains(t, err.Error(), "User denied transaction signature.")
}

func TestSendPayment(t *testing.T) {
	a, provider := connectedAdapter(t, baseDescriptor(t, "", testFeeCollector), &fakeBackend{})

	out, err := a.SendPayment(context.Background(), "0.01")
	require.NoError(t, err)
	assert.NotEmpty(t, out.TxHash)

	sent := provider.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, common.HexToAddress(testFeeCollector).Hex(), sent[0].To)
	assert.Equal(t, hexutil.EncodeBig(big.NewInt(10_000_000_000_000_000)), sent[0].Value)
	assert.Empty(t, sent[0].Data)
}

func TestSendPaymentWithoutFeeCollector(t *testing.T) {
	a, _ := connectedAdapter(t, baseDescriptor(t, "", ""), &fakeBackend{})

	_, err := a.SendPayment(context.Background(), "0.01")
	assert.ErrorIs(t, err, chains.ErrFeeCollectorNotConfigured)
}

func TestGetNativeBalance(t *testing.T) {
	balance, _ := new(big.Int).SetString("1500000000000000000", 10)
	a, _ := connectedAdapter(t, baseDescriptor(t, "", ""), &fakeBackend{balance: balance})

	got, err := a.GetNativeBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.5", got)
}

func TestGetTransactionReceiptWithoutWallet(t *testing.T) {
	a, rec := newTestAdapter(t, baseDescriptor(t, "", ""), nil, nil)

	receipt, err := a.GetTransactionReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.True(t, receipt.IsSuccessful())

	require.Len(t, rec.backends, 1)
	assert.True(t, rec.backends[0].isClosed(), "temporary read-only backend is released")
}

func TestOwnerOf(t *testing.T) {
	owner := common.HexToAddress(testFeeCollector)
	a, _ := newTestAdapter(t, baseDescriptor(t, testContract, ""), nil, &fakeBackend{owner: owner})

	got, err := a.OwnerOf(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, owner.Hex(), got)
}

func TestWaitMinedPollsUntilIncluded(t *testing.T) {
	backend := &fakeBackend{pending: 3}

	receipt, err := waitMined(context.Background(), backend, common.HexToHash("0x01"), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x01"), receipt.TxHash)
	assert.Zero(t, backend.pending)
}

func TestWaitMinedHonoursContext(t *testing.T) {
	backend := &fakeBackend{pending: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := waitMined(ctx, backend, common.HexToHash("0x01"), time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
