package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/sigweihq/agentpay/pkg/constants"
	"github.com/sigweihq/agentpay/pkg/metrics"
)

// Adapter drives marketplace operations on one EVM chain through an EIP-1193 provider
type Adapter struct {
	desc         chains.ChainDescriptor
	provider     Provider
	dial         DialFunc
	logger       *slog.Logger
	metrics      metrics.Recorder
	pollInterval time.Duration

	mu        sync.Mutex
	connected bool
	address   common.Address
	backend   Backend
}

// Option configures an Adapter
type Option func(*Adapter)

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(a *Adapter) {
		a.metrics = r
	}
}

// WithDialer replaces the function used to open read backends
func WithDialer(d DialFunc) Option {
	return func(a *Adapter) {
		a.dial = d
	}
}

// WithPollInterval sets the interval between receipt lookups while awaiting inclusion
func WithPollInterval(d time.Duration) Option {
	return func(a *Adapter) {
		a.pollInterval = d
	}
}

// NewAdapter creates an adapter for an EVM chain. A nil provider means no wallet is installed.
func NewAdapter(desc chains.ChainDescriptor, provider Provider, opts ...Option) (*Adapter, error) {
	if desc.Family() != chains.FamilyEVM {
		return nil, fmt.Errorf("%w: %s is not an EVM chain", chains.ErrUnsupportedChain, desc.ID)
	}

	a := &Adapter{
		desc:         desc,
		provider:     provider,
		dial:         DialBackend,
		logger:       slog.Default(),
		metrics:      metrics.NoopRecorder{},
		pollInterval: constants.ReceiptPollInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

var _ chains.Marketplace = (*Adapter)(nil)

func (a *Adapter) Chain() chains.ChainID {
	return a.desc.ID
}

func (a *Adapter) Address() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return ""
	}
	return a.address.Hex()
}

// Connect switches the wallet to this chain (adding it when unknown), requests accounts and dials the chain
func (a *Adapter) Connect(ctx context.Context) (string, error) {
	start := time.Now()
	addr, err := a.connect(ctx)
	metrics.Track(a.metrics, "connect", string(a.desc.ID), start, err)
	if err != nil {
		return "", chains.WrapOp(a.desc.ID, "connect", "", err)
	}
	return addr, nil
}

func (a *Adapter) connect(ctx context.Context) (string, error) {
	if a.provider == nil {
		return "", chains.ErrWalletNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.resetLocked()

	if err := a.switchChain(ctx); err != nil {
		return "", err
	}

	raw, err := a.provider.Request(ctx, "eth_requestAccounts")
	if err != nil {
		return "", fmt.Errorf("%w: %v", chains.ErrWalletConnectionFailed, err)
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return "", fmt.Errorf("%w: malformed eth_requestAccounts response: %v", chains.ErrWalletConnectionFailed, err)
	}
	if len(accounts) == 0 || !common.IsHexAddress(accounts[0]) {
		return "", fmt.Errorf("%w: wallet returned no accounts", chains.ErrWalletConnectionFailed)
	}

	backend, err := a.dial(ctx, a.desc.RPCEndpoints())
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s RPC: %w", a.desc.Name, err)
	}

	a.backend = backend
	a.address = common.HexToAddress(accounts[0])
	a.connected = true

	a.logger.Info("evm wallet connected", "chain", a.desc.ID, "address", a.address.Hex())
	return a.address.Hex(), nil
}

func (a *Adapter) switchChain(ctx context.Context) error {
	switchParams := SwitchChainParams{ChainID: hexutil.EncodeBig(big.NewInt(a.desc.NetworkID))}

	_, err := a.provider.Request(ctx, "wallet_switchEthereumChain", switchParams)
	if err == nil {
		return nil
	}
	if providerErrorCode(err) != CodeUnrecognizedChain {
		return fmt.Errorf("%w: switch to %s: %v", chains.ErrWalletConnectionFailed, a.desc.Name, err)
	}

	a.logger.Info("wallet does not know chain, requesting add", "chain", a.desc.ID, "networkId", a.desc.NetworkID)

	addParams := AddChainParams{
		ChainID:   switchParams.ChainID,
		ChainName: a.desc.Name,
		NativeCurrency: AddChainCurrency{
			Name:     a.desc.Currency.Name,
			Symbol:   a.desc.Currency.Symbol,
			Decimals: a.desc.Currency.Decimals,
		},
		RPCURLs: a.desc.RPCEndpoints(),
	}
	if a.desc.ExplorerURL != "" {
		addParams.BlockExplorerURLs = []string{a.desc.ExplorerURL}
	}

	if _, err := a.provider.Request(ctx, "wallet_addEthereumChain", addParams); err != nil {
		return fmt.Errorf("%w: add %s: %v", chains.ErrWalletConnectionFailed, a.desc.Name, err)
	}
	if _, err := a.provider.Request(ctx, "wallet_switchEthereumChain", switchParams); err != nil {
		return fmt.Errorf("%w: switch to %s: %v", chains.ErrWalletConnectionFailed, a.desc.Name, err)
	}
	return nil
}

// Close releases the chain connection and returns the adapter to the disconnected state
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.resetLocked()
}

func (a *Adapter) resetLocked() {
	if a.backend != nil {
		a.backend.Close()
	}
	a.backend = nil
	a.address = common.Address{}
	a.connected = false
}

type signerState struct {
	address common.Address
	backend Backend
}

func (a *Adapter) signer() (signerState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return signerState{}, chains.ErrNotConnected
	}
	return signerState{address: a.address, backend: a.backend}, nil
}

func (a *Adapter) contract() (common.Address, error) {
	if !a.desc.HasContract() {
		return common.Address{}, fmt.Errorf("%w: %s", chains.ErrContractNotDeployed, a.desc.Name)
	}
	return common.HexToAddress(a.desc.ContractAddress), nil
}

// MintAgent mints an agent NFT and returns the token id decoded from the AgentMinted event
func (a *Adapter) MintAgent(ctx context.Context, req chains.MintRequest) (*chains.TransactionOutcome, error) {
	start := time.Now()
	out, err := a.mintAgent(ctx, req)
	metrics.Track(a.metrics, "mintAgent", string(a.desc.ID), start, err)
	return out, err
}

func (a *Adapter) mintAgent(ctx context.Context, req chains.MintRequest) (*chains.TransactionOutcome, error) {
	contract, err := a.contract()
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "mintAgent", "", err)
	}
	s, err := a.signer()
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "mintAgent", "", err)
	}

	capabilities := req.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	data, err := marketplaceABI.Pack("mintAgent", req.Name, req.Description, capabilities, req.ModelType, req.TokenURI)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "mintAgent", "", fmt.Errorf("failed to pack mintAgent: %w", err))
	}

	hash, receipt, err := a.submit(ctx, s, &contract, nil, data)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "mintAgent", hash, err)
	}

	tokenID, err := MintedTokenID(receipt, contract)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "mintAgent", hash, err)
	}

	a.logger.Info("agent minted", "chain", a.desc.ID, "txHash", hash, "tokenId", tokenID.String())
	return &chains.TransactionOutcome{Chain: a.desc.ID, TxHash: hash, TokenID: tokenID.String()}, nil
}

// ListAgent approves the marketplace as operator when needed, then lists the token at price
func (a *Adapter) ListAgent(ctx context.Context, tokenID, price string) (*chains.TransactionOutcome, error) {
	start := time.Now()
	out, err := a.listAgent(ctx, tokenID, price)
	metrics.Track(a.metrics, "listAgent", string(a.desc.ID), start, err)
	return out, err
}

func (a *Adapter) listAgent(ctx context.Context, tokenID, price string) (*chains.TransactionOutcome, error) {
	contract, err := a.contract()
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "listAgent", "", err)
	}
	id, value, err := a.parseTokenAndPrice(tokenID, price)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "listAgent", "", err)
	}
	s, err := a.signer()
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "listAgent", "", err)
	}

	approved, err := a.isApprovedForAll(ctx, s, contract)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "listAgent", "", err)
	}
	if !approved {
		data, err := marketplaceABI.Pack("setApprovalForAll", contract, true)
		if err != nil {
			return nil, chains.WrapOp(a.desc.ID, "listAgent", "", fmt.Errorf("failed to pack setApprovalForAll: %w", err))
		}
		hash, _, err := a.submit(ctx, s, &contract, nil, data)
		if err != nil {
			return nil, chains.WrapOp(a.desc.ID, "setApprovalForAll", hash, err)
		}
		a.logger.Info("marketplace approved as operator", "chain", a.desc.ID, "txHash", hash)
	}

	data, err := marketplaceABI.Pack("listAgent", id, value)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "listAgent", "", fmt.Errorf("failed to pack listAgent: %w", err))
	}
	hash, _, err := a.submit(ctx, s, &contract, nil, data)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "listAgent", hash, err)
	}

	a.logger.Info("agent listed", "chain", a.desc.ID, "txHash", hash, "tokenId", tokenID, "price", price)
	return &chains.TransactionOutcome{Chain: a.desc.ID, TxHash: hash}, nil
}

func (a *Adapter) isApprovedForAll(ctx context.Context, s signerState, contract common.Address) (bool, error) {
	data, err := marketplaceABI.Pack("isApprovedForAll", s.address, contract)
	if err != nil {
		return false, fmt.Errorf("failed to pack isApprovedForAll: %w", err)
	}

	result, err := s.backend.CallContract(ctx, ethereum.CallMsg{From: s.address, To: &contract, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("isApprovedForAll call failed: %w", err)
	}

	var approved bool
	if err := marketplaceABI.UnpackIntoInterface(&approved, "isApprovedForAll", result); err != nil {
		return false, fmt.Errorf("failed to decode isApprovedForAll result: %w", err)
	}
	return approved, nil
}

// BuyAgent pays exactly price to the marketplace to buy the token. When the receipt carries
// an AgentSold event for the token, its buyer and price must match the purchase.
func (a *Adapter) BuyAgent(ctx context.Context, tokenID, price string) (*chains.TransactionOutcome, error) {
	start := time.Now()
	out, err := a.buyAgent(ctx, tokenID, price)
	metrics.Track(a.metrics, "buyAgent", string(a.desc.ID), start, err)
	return out, err
}

func (a *Adapter) buyAgent(ctx context.Context, tokenID, price string) (*chains.TransactionOutcome, error) {
	out, receipt, err := a.contractCall(ctx, "buyAgent", tokenID, price)
	if err != nil {
		return nil, err
	}

	contract, _ := a.contract()
	sale, err := SoldEvent(receipt, contract)
	if err != nil {
		a.logger.Warn("purchase receipt has no sale event", "chain", a.desc.ID, "txHash", out.TxHash, "tokenId", tokenID)
		return out, nil
	}

	id, value, _ := a.parseTokenAndPrice(tokenID, price)
	buyer := common.HexToAddress(a.Address())
	switch {
	case sale.TokenID.Cmp(id) != 0:
		err = fmt.Errorf("sale event is for token %s, expected %s", sale.TokenID, id)
	case sale.Buyer != buyer:
		err = fmt.Errorf("sale event buyer %s does not match %s", sale.Buyer.Hex(), buyer.Hex())
	case sale.Price == nil || sale.Price.Cmp(value) != 0:
		err = fmt.Errorf("sale event price %v does not match paid %s", sale.Price, value)
	}
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "buyAgent", out.TxHash, err)
	}

	a.logger.Info("agent purchased", "chain", a.desc.ID, "txHash", out.TxHash, "tokenId", tokenID, "seller", sale.Seller.Hex())
	return out, nil
}

// DelistAgent removes the token's listing
func (a *Adapter) DelistAgent(ctx context.Context, tokenID string) (*chains.TransactionOutcome, error) {
	start := time.Now()
	out, _, err := a.contractCall(ctx, "delistAgent", tokenID, "")
	metrics.Track(a.metrics, "delistAgent", string(a.desc.ID), start, err)
	return out, err
}

// contractCall submits a single-token marketplace call; price is attached as value when set
func (a *Adapter) contractCall(ctx context.Context, method, tokenID, price string) (*chains.TransactionOutcome, *ethtypes.Receipt, error) {
	contract, err := a.contract()
	if err != nil {
		return nil, nil, chains.WrapOp(a.desc.ID, method, "", err)
	}

	id, err := ParseTokenID(tokenID)
	if err != nil {
		return nil, nil, chains.WrapOp(a.desc.ID, method, "", err)
	}
	var value *big.Int
	if price != "" {
		if value, err = chains.ToBaseUnits(price, a.desc.Currency.Decimals); err != nil {
			return nil, nil, chains.WrapOp(a.desc.ID, method, "", err)
		}
	}

	s, err := a.signer()
	if err != nil {
		return nil, nil, chains.WrapOp(a.desc.ID, method, "", err)
	}

	data, err := marketplaceABI.Pack(method, id)
	if err != nil {
		return nil, nil, chains.WrapOp(a.desc.ID, method, "", fmt.Errorf("failed to pack %s: %w", method, err))
	}

	hash, receipt, err := a.submit(ctx, s, &contract, value, data)
	if err != nil {
		return nil, nil, chains.WrapOp(a.desc.ID, method, hash, err)
	}

	a.logger.Info("marketplace call confirmed", "chain", a.desc.ID, "method", method, "txHash", hash, "tokenId", tokenID)
	return &chains.TransactionOutcome{Chain: a.desc.ID, TxHash: hash}, receipt, nil
}

// SendPayment transfers amount of native currency to the chain's fee collector
func (a *Adapter) SendPayment(ctx context.Context, amount string) (*chains.TransactionOutcome, error) {
	start := time.Now()
	out, err := a.sendPayment(ctx, amount)
	metrics.Track(a.metrics, "sendPayment", string(a.desc.ID), start, err)
	return out, err
}

func (a *Adapter) sendPayment(ctx context.Context, amount string) (*chains.TransactionOutcome, error) {
	if a.desc.FeeCollector == "" {
		return nil, chains.WrapOp(a.desc.ID, "sendPayment", "", chains.ErrFeeCollectorNotConfigured)
	}
	value, err := chains.ToBaseUnits(amount, a.desc.Currency.Decimals)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "sendPayment", "", err)
	}
	s, err := a.signer()
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "sendPayment", "", err)
	}

	to := common.HexToAddress(a.desc.FeeCollector)
	hash, _, err := a.submit(ctx, s, &to, value, nil)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "sendPayment", hash, err)
	}

	a.logger.Info("payment sent", "chain", a.desc.ID, "txHash", hash, "amount", amount)
	return &chains.TransactionOutcome{Chain: a.desc.ID, TxHash: hash}, nil
}

// submit sends a transaction through the wallet and waits for a successful receipt
func (a *Adapter) submit(ctx context.Context, s signerState, to *common.Address, value *big.Int, data []byte) (string, *ethtypes.Receipt, error) {
	req := TxRequest{From: s.address.Hex()}
	if to != nil {
		req.To = to.Hex()
	}
	if value != nil && value.Sign() > 0 {
		req.Value = hexutil.EncodeBig(value)
	}
	if len(data) > 0 {
		req.Data = hexutil.Encode(data)
	}

	raw, err := a.provider.Request(ctx, "eth_sendTransaction", req)
	if err != nil {
		return "", nil, classifyProviderError(err)
	}

	var hashHex string
	if err := json.Unmarshal(raw, &hashHex); err != nil {
		return "", nil, fmt.Errorf("malformed eth_sendTransaction response: %w", err)
	}
	hash := common.HexToHash(hashHex)

	a.logger.Debug("transaction submitted, awaiting receipt", "chain", a.desc.ID, "txHash", hash.Hex())

	receipt, err := waitMined(ctx, s.backend, hash, a.pollInterval)
	if err != nil {
		return hash.Hex(), nil, fmt.Errorf("failed waiting for receipt: %w", err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return hash.Hex(), receipt, chains.ErrTransactionReverted
	}
	return hash.Hex(), receipt, nil
}

func (a *Adapter) parseTokenAndPrice(tokenID, price string) (*big.Int, *big.Int, error) {
	id, err := ParseTokenID(tokenID)
	if err != nil {
		return nil, nil, err
	}
	value, err := chains.ToBaseUnits(price, a.desc.Currency.Decimals)
	if err != nil {
		return nil, nil, err
	}
	return id, value, nil
}

// GetNativeBalance returns the connected account balance in major units
func (a *Adapter) GetNativeBalance(ctx context.Context) (string, error) {
	s, err := a.signer()
	if err != nil {
		return "", chains.WrapOp(a.desc.ID, "getNativeBalance", "", err)
	}

	balance, err := s.backend.BalanceAt(ctx, s.address, nil)
	if err != nil {
		return "", chains.WrapOp(a.desc.ID, "getNativeBalance", "", err)
	}
	return chains.FromBaseUnits(balance, a.desc.Currency.Decimals), nil
}

// GetTransactionReceipt looks up a receipt without requiring a connected wallet
func (a *Adapter) GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	backend, release, err := a.readBackend(ctx)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "getTransactionReceipt", txHash, err)
	}
	defer release()

	receipt, err := backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "getTransactionReceipt", txHash, err)
	}
	return NewReceipt(receipt), nil
}

// OwnerOf returns the current owner of a marketplace token
func (a *Adapter) OwnerOf(ctx context.Context, tokenID string) (string, error) {
	contract, err := a.contract()
	if err != nil {
		return "", chains.WrapOp(a.desc.ID, "ownerOf", "", err)
	}
	id, err := ParseTokenID(tokenID)
	if err != nil {
		return "", chains.WrapOp(a.desc.ID, "ownerOf", "", err)
	}

	backend, release, err := a.readBackend(ctx)
	if err != nil {
		return "", chains.WrapOp(a.desc.ID, "ownerOf", "", err)
	}
	defer release()

	data, err := marketplaceABI.Pack("ownerOf", id)
	if err != nil {
		return "", chains.WrapOp(a.desc.ID, "ownerOf", "", err)
	}
	result, err := backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return "", chains.WrapOp(a.desc.ID, "ownerOf", "", err)
	}

	var owner common.Address
	if err := marketplaceABI.UnpackIntoInterface(&owner, "ownerOf", result); err != nil {
		return "", chains.WrapOp(a.desc.ID, "ownerOf", "", fmt.Errorf("failed to decode ownerOf result: %w", err))
	}
	return owner.Hex(), nil
}

// readBackend returns the connected backend, or dials a temporary read-only one
func (a *Adapter) readBackend(ctx context.Context) (Backend, func(), error) {
	a.mu.Lock()
	backend := a.backend
	a.mu.Unlock()

	if backend != nil {
		return backend, func() {}, nil
	}

	backend, err := a.dial(ctx, a.desc.RPCEndpoints())
	if err != nil {
		return nil, nil, err
	}
	return backend, backend.Close, nil
}

// IsNotFound reports whether err means a receipt is not yet available
func IsNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}
