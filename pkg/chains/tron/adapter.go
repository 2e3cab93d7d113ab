package tron

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/sigweihq/agentpay/pkg/chains/evm"
	"github.com/sigweihq/agentpay/pkg/constants"
	"github.com/sigweihq/agentpay/pkg/metrics"
)

// Adapter drives marketplace operations on TRON through a Wallet
type Adapter struct {
	desc        chains.ChainDescriptor
	wallet      Wallet
	logger      *slog.Logger
	metrics     metrics.Recorder
	settleDelay time.Duration
	feeLimit    int64

	mu        sync.Mutex
	connected bool
	address   string
	client    Client
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

// WithSettleDelay sets how long MintAgent waits before reading the transaction info
func WithSettleDelay(d time.Duration) Option {
	return func(a *Adapter) {
		a.settleDelay = d
	}
}

// WithFeeLimit sets the energy fee limit in sun attached to contract calls
func WithFeeLimit(sun int64) Option {
	return func(a *Adapter) {
		a.feeLimit = sun
	}
}

// NewAdapter creates the TRON adapter. A nil wallet means no wallet is installed.
func NewAdapter(desc chains.ChainDescriptor, wallet Wallet, opts ...Option) (*Adapter, error) {
	if desc.Family() != chains.FamilyTron {
		return nil, fmt.Errorf("%w: %s is not a TRON chain", chains.ErrUnsupportedChain, desc.ID)
	}

	a := &Adapter{
		desc:        desc,
		wallet:      wallet,
		logger:      slog.Default(),
		metrics:     metrics.NoopRecorder{},
		settleDelay: constants.TronSettleDelay,
		feeLimit:    constants.TronDefaultFeeLimit,
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
	return a.address
}

// Connect requests account access and binds the wallet's chain client
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
	if a.wallet == nil {
		return "", chains.ErrWalletNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.resetLocked()

	resp, err := a.wallet.RequestAccounts(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", chains.ErrWalletConnectionFailed, err)
	}
	if resp == nil || resp.Code != 200 {
		msg := "no response"
		if resp != nil {
			msg = fmt.Sprintf("code %d: %s", resp.Code, resp.Message)
		}
		return "", fmt.Errorf("%w: %s", chains.ErrWalletConnectionFailed, msg)
	}

	client := a.wallet.Client()
	if client == nil || !client.Ready() {
		return "", chains.ErrChainClientNotReady
	}
	addr := client.DefaultAddress()
	if !IsValidAddress(addr) {
		return "", fmt.Errorf("%w: wallet has no default address", chains.ErrChainClientNotReady)
	}

	a.client = client
	a.address = addr
	a.connected = true

	a.logger.Info("tron wallet connected", "chain", a.desc.ID, "address", addr)
	return addr, nil
}

// Close returns the adapter to the disconnected state
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.resetLocked()
}

func (a *Adapter) resetLocked() {
	a.client = nil
	a.address = ""
	a.connected = false
}

type signerState struct {
	address string
	client  Client
}

func (a *Adapter) signer() (signerState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return signerState{}, chains.ErrNotConnected
	}
	return signerState{address: a.address, client: a.client}, nil
}

func (a *Adapter) contract() (string, error) {
	if !a.desc.HasContract() {
		return "", fmt.Errorf("%w: %s", chains.ErrContractNotDeployed, a.desc.Name)
	}
	return a.desc.ContractAddress, nil
}

func (a *Adapter) send(ctx context.Context, s signerState, contract string, value *big.Int, method string, args ...any) (string, error) {
	sig, params, err := encodeCall(method, args...)
	if err != nil {
		return "", err
	}
	call := ContractCall{Contract: contract, Method: sig, Parameter: params, FeeLimit: a.feeLimit}
	if value != nil {
		call.CallValue = value.Int64()
	}

	txID, err := s.client.Send(ctx, call)
	if err != nil {
		return txID, err
	}
	a.logger.Debug("contract call broadcast", "chain", a.desc.ID, "method", sig, "txHash", txID)
	return txID, nil
}

// MintAgent mints an agent and reads the token id from the transaction info after the settle delay.
// The token id is "0" when it cannot be decoded.
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

	txID, err := a.send(ctx, s, contract, nil, "mintAgent", req.Name, req.Description, req.ModelType, req.TokenURI)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "mintAgent", txID, err)
	}

	if err := sleep(ctx, a.settleDelay); err != nil {
		return nil, chains.WrapOp(a.desc.ID, "mintAgent", txID, err)
	}

	tokenID := "0"
	info, err := s.client.GetTransactionInfo(ctx, txID)
	switch {
	case err != nil:
		a.logger.Warn("failed to read mint transaction info, token id unknown", "chain", a.desc.ID, "txHash", txID, "error", err)
	case info.Failed():
		return nil, chains.WrapOp(a.desc.ID, "mintAgent", txID,
			fmt.Errorf("%w: %s", chains.ErrTransactionReverted, decodeMessage(info.ResMessage)))
	default:
		if id, ok := MintedTokenID(info); ok {
			tokenID = id.String()
		} else {
			a.logger.Warn("mint transaction info has no token id", "chain", a.desc.ID, "txHash", txID)
		}
	}

	a.logger.Info("agent minted", "chain", a.desc.ID, "txHash", txID, "tokenId", tokenID)
	return &chains.TransactionOutcome{Chain: a.desc.ID, TxHash: txID, TokenID: tokenID}, nil
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
	id, err := evm.ParseTokenID(tokenID)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "listAgent", "", err)
	}
	value, err := a.toSun(price)
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
		operator, err := evmAddress(contract)
		if err != nil {
			return nil, chains.WrapOp(a.desc.ID, "listAgent", "", err)
		}
		txID, err := a.send(ctx, s, contract, nil, "setApprovalForAll", operator, true)
		if err != nil {
			return nil, chains.WrapOp(a.desc.ID, "setApprovalForAll", txID, err)
		}
		a.logger.Info("marketplace approved as operator", "chain", a.desc.ID, "txHash", txID)
	}

	txID, err := a.send(ctx, s, contract, nil, "listAgent", id, value)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "listAgent", txID, err)
	}

	a.logger.Info("agent listed", "chain", a.desc.ID, "txHash", txID, "tokenId", tokenID, "price", price)
	return &chains.TransactionOutcome{Chain: a.desc.ID, TxHash: txID}, nil
}

func (a *Adapter) isApprovedForAll(ctx context.Context, s signerState, contract string) (bool, error) {
	owner, err := evmAddress(s.address)
	if err != nil {
		return false, err
	}
	operator, err := evmAddress(contract)
	if err != nil {
		return false, err
	}
	sig, params, err := encodeCall("isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}

	result, err := s.client.Call(ctx, ContractCall{Contract: contract, Method: sig, Parameter: params})
	if err != nil {
		return false, fmt.Errorf("isApprovedForAll call failed: %w", err)
	}
	return decodeBool("isApprovedForAll", result)
}

// BuyAgent calls buyAgent with price attached as call value
func (a *Adapter) BuyAgent(ctx context.Context, tokenID, price string) (*chains.TransactionOutcome, error) {
	start := time.Now()
	out, err := a.tokenCall(ctx, "buyAgent", tokenID, price)
	metrics.Track(a.metrics, "buyAgent", string(a.desc.ID), start, err)
	return out, err
}

// DelistAgent removes the token's listing
func (a *Adapter) DelistAgent(ctx context.Context, tokenID string) (*chains.TransactionOutcome, error) {
	start := time.Now()
	out, err := a.tokenCall(ctx, "delistAgent", tokenID, "")
	metrics.Track(a.metrics, "delistAgent", string(a.desc.ID), start, err)
	return out, err
}

func (a *Adapter) tokenCall(ctx context.Context, method, tokenID, price string) (*chains.TransactionOutcome, error) {
	contract, err := a.contract()
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, method, "", err)
	}
	id, err := evm.ParseTokenID(tokenID)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, method, "", err)
	}
	var value *big.Int
	if price != "" {
		if value, err = a.toSun(price); err != nil {
			return nil, chains.WrapOp(a.desc.ID, method, "", err)
		}
	}
	s, err := a.signer()
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, method, "", err)
	}

	txID, err := a.send(ctx, s, contract, value, method, id)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, method, txID, err)
	}

	a.logger.Info("marketplace call broadcast", "chain", a.desc.ID, "method", method, "txHash", txID, "tokenId", tokenID)
	return &chains.TransactionOutcome{Chain: a.desc.ID, TxHash: txID}, nil
}

// SendPayment transfers amount TRX to the fee collector
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
	value, err := a.toSun(amount)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "sendPayment", "", err)
	}
	s, err := a.signer()
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "sendPayment", "", err)
	}

	res, err := s.client.SendTrx(ctx, a.desc.FeeCollector, value.Int64())
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "sendPayment", "", err)
	}
	if !res.Result {
		cause := chains.ErrPaymentFailed
		if res.Message != "" {
			cause = fmt.Errorf("%w: %s", chains.ErrPaymentFailed, res.Message)
		}
		return nil, chains.WrapOp(a.desc.ID, "sendPayment", res.TxID, cause)
	}

	a.logger.Info("payment sent", "chain", a.desc.ID, "txHash", res.TxID, "amount", amount)
	return &chains.TransactionOutcome{Chain: a.desc.ID, TxHash: res.TxID}, nil
}

// GetNativeBalance returns the connected account balance in TRX
func (a *Adapter) GetNativeBalance(ctx context.Context) (string, error) {
	s, err := a.signer()
	if err != nil {
		return "", chains.WrapOp(a.desc.ID, "getNativeBalance", "", err)
	}

	sun, err := s.client.GetBalance(ctx, s.address)
	if err != nil {
		return "", chains.WrapOp(a.desc.ID, "getNativeBalance", "", err)
	}
	return chains.FromBaseUnits(big.NewInt(sun), a.desc.Currency.Decimals), nil
}

// GetTransactionInfo returns the node's record of txID
func (a *Adapter) GetTransactionInfo(ctx context.Context, txID string) (*TransactionInfo, error) {
	s, err := a.signer()
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "getTransactionInfo", txID, err)
	}

	info, err := s.client.GetTransactionInfo(ctx, txID)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "getTransactionInfo", txID, err)
	}
	return info, nil
}

func (a *Adapter) toSun(amount string) (*big.Int, error) {
	value, err := chains.ToBaseUnits(amount, a.desc.Currency.Decimals)
	if err != nil {
		return nil, err
	}
	if !value.IsInt64() {
		return nil, fmt.Errorf("%w: %s TRX overflows sun", chains.ErrInvalidAmount, amount)
	}
	return value, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
