package svm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/sigweihq/agentpay/pkg/constants"
	"github.com/sigweihq/agentpay/pkg/metrics"
	"github.com/sigweihq/agentpay/pkg/utils"
)

// StatusUnknown is reported when a signature has no known confirmation status
const StatusUnknown = "unknown"

// Adapter drives Solana payments through a Wallet
type Adapter struct {
	desc         chains.ChainDescriptor
	wallet       Wallet
	dial         DialFunc
	logger       *slog.Logger
	metrics      metrics.Recorder
	pollInterval time.Duration

	rpcMu sync.Mutex
	rpc   RPCClient

	mu        sync.Mutex
	connected bool
	publicKey solana.PublicKey
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

// WithRPCClient uses c instead of dialing the descriptor endpoints
func WithRPCClient(c RPCClient) Option {
	return func(a *Adapter) {
		a.rpc = c
	}
}

// WithDialer replaces the endpoint dialer used on first RPC access
func WithDialer(d DialFunc) Option {
	return func(a *Adapter) {
		a.dial = d
	}
}

// WithPollInterval sets the interval between signature status lookups
func WithPollInterval(d time.Duration) Option {
	return func(a *Adapter) {
		a.pollInterval = d
	}
}

// NewAdapter creates the Solana adapter. A nil wallet means no wallet is installed.
func NewAdapter(desc chains.ChainDescriptor, wallet Wallet, opts ...Option) (*Adapter, error) {
	if desc.Family() != chains.FamilySolana {
		return nil, fmt.Errorf("%w: %s is not a Solana chain", chains.ErrUnsupportedChain, desc.ID)
	}

	a := &Adapter{
		desc:         desc,
		wallet:       wallet,
		logger:       slog.Default(),
		metrics:      metrics.NoopRecorder{},
		dial:         dialRPC,
		pollInterval: constants.SignaturePollInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

var _ chains.Adapter = (*Adapter)(nil)

func (a *Adapter) Chain() chains.ChainID {
	return a.desc.ID
}

func (a *Adapter) Address() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return ""
	}
	return a.publicKey.String()
}

// Connect asks the wallet for its public key
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
	if a.wallet == nil || a.wallet.Kind() != chains.WalletPhantom {
		return "", chains.ErrWalletNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.connected = false
	a.publicKey = solana.PublicKey{}

	pk, err := a.wallet.Connect(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", chains.ErrWalletConnectionFailed, err)
	}
	if pk == (solana.PublicKey{}) {
		return "", fmt.Errorf("%w: wallet returned an empty public key", chains.ErrWalletConnectionFailed)
	}

	a.publicKey = pk
	a.connected = true

	a.logger.Info("solana wallet connected", "chain", a.desc.ID, "address", pk.String())
	return pk.String(), nil
}

// Close returns the adapter to the disconnected state
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.connected = false
	a.publicKey = solana.PublicKey{}
}

// client returns the RPC client, dialing the first healthy descriptor endpoint on first use
func (a *Adapter) client(ctx context.Context) (RPCClient, error) {
	a.rpcMu.Lock()
	defer a.rpcMu.Unlock()

	if a.rpc != nil {
		return a.rpc, nil
	}
	c, err := a.dial(ctx, a.desc.RPCEndpoints())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", a.desc.Name, err)
	}
	a.rpc = c
	return c, nil
}

func (a *Adapter) signer() (solana.PublicKey, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return solana.PublicKey{}, chains.ErrNotConnected
	}
	return a.publicKey, nil
}

func (a *Adapter) platform() (solana.PublicKey, error) {
	if a.desc.FeeCollector == "" {
		return solana.PublicKey{}, chains.ErrFeeCollectorNotConfigured
	}
	pk, err := solana.PublicKeyFromBase58(a.desc.FeeCollector)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid platform wallet %q: %w", a.desc.FeeCollector, err)
	}
	return pk, nil
}

// MintAgent registers an agent by paying the registration fee to the platform wallet.
// No token is minted; the returned TokenID is the fee transaction signature.
func (a *Adapter) MintAgent(ctx context.Context, req chains.MintRequest) (*chains.TransactionOutcome, error) {
	start := time.Now()
	out, err := a.mintAgent(ctx, req)
	metrics.Track(a.metrics, "mintAgent", string(a.desc.ID), start, err)
	return out, err
}

func (a *Adapter) mintAgent(ctx context.Context, req chains.MintRequest) (*chains.TransactionOutcome, error) {
	sig, err := a.payPlatform(ctx, constants.SolanaRegistrationFee)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "mintAgent", sig, err)
	}

	a.logger.Info("agent registration fee paid", "chain", a.desc.ID, "txHash", sig, "name", req.Name)
	return &chains.TransactionOutcome{Chain: a.desc.ID, TxHash: sig, TokenID: sig}, nil
}

// BuyAgent pays seller and platform in a single transaction.
// feePercent is the platform share as a fraction, e.g. 0.025 for 2.5%.
func (a *Adapter) BuyAgent(ctx context.Context, seller, price string, feePercent float64) (*chains.TransactionOutcome, error) {
	start := time.Now()
	out, err := a.buyAgent(ctx, seller, price, feePercent)
	metrics.Track(a.metrics, "buyAgent", string(a.desc.ID), start, err)
	return out, err
}

func (a *Adapter) buyAgent(ctx context.Context, seller, price string, feePercent float64) (*chains.TransactionOutcome, error) {
	sellerKey, err := solana.PublicKeyFromBase58(seller)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "buyAgent", "", fmt.Errorf("invalid seller address %q: %w", seller, err))
	}
	platform, err := a.platform()
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "buyAgent", "", err)
	}
	split, err := SplitPayment(price, feePercent)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "buyAgent", "", err)
	}
	from, err := a.signer()
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "buyAgent", "", err)
	}

	instructions := []solana.Instruction{
		system.NewTransferInstruction(split.Seller, from, sellerKey).Build(),
		system.NewTransferInstruction(split.Platform, from, platform).Build(),
	}
	sig, err := a.sendAndConfirm(ctx, from, instructions)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "buyAgent", sig, err)
	}

	a.logger.Info("agent purchased", "chain", a.desc.ID, "txHash", sig, "seller", seller,
		"sellerLamports", split.Seller, "platformLamports", split.Platform)
	return &chains.TransactionOutcome{Chain: a.desc.ID, TxHash: sig}, nil
}

// SendPayment transfers amount SOL to the platform wallet
func (a *Adapter) SendPayment(ctx context.Context, amount string) (*chains.TransactionOutcome, error) {
	start := time.Now()
	sig, err := a.payPlatform(ctx, amount)
	metrics.Track(a.metrics, "sendPayment", string(a.desc.ID), start, err)
	if err != nil {
		return nil, chains.WrapOp(a.desc.ID, "sendPayment", sig, err)
	}

	a.logger.Info("payment sent", "chain", a.desc.ID, "txHash", sig, "amount", amount)
	return &chains.TransactionOutcome{Chain: a.desc.ID, TxHash: sig}, nil
}

func (a *Adapter) payPlatform(ctx context.Context, amount string) (string, error) {
	platform, err := a.platform()
	if err != nil {
		return "", err
	}
	lamports, err := SOLToLamports(amount)
	if err != nil {
		return "", err
	}
	from, err := a.signer()
	if err != nil {
		return "", err
	}

	return a.sendAndConfirm(ctx, from, []solana.Instruction{
		system.NewTransferInstruction(lamports, from, platform).Build(),
	})
}

// sendAndConfirm builds a transaction paid by from, has the wallet sign it, submits it and waits for confirmation
func (a *Adapter) sendAndConfirm(ctx context.Context, from solana.PublicKey, instructions []solana.Instruction) (string, error) {
	client, err := a.client(ctx)
	if err != nil {
		return "", err
	}

	latest, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, latest.Value.Blockhash, solana.TransactionPayer(from))
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}

	raw, err := a.wallet.SignTransaction(ctx, tx)
	if err != nil {
		if errors.Is(err, chains.ErrTransactionRejected) {
			return "", err
		}
		return "", fmt.Errorf("wallet failed to sign transaction: %w", err)
	}
	if err := verifySigned(raw, from); err != nil {
		return "", err
	}

	sig, err := client.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	a.logger.Debug("transaction submitted, awaiting confirmation", "chain", a.desc.ID, "txHash", sig.String())

	if err := a.awaitConfirmation(ctx, client, sig); err != nil {
		return sig.String(), err
	}
	return sig.String(), nil
}

// verifySigned decodes the wallet's wire bytes and checks the fee payer signed them
func verifySigned(raw []byte, feePayer solana.PublicKey) error {
	signed, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return fmt.Errorf("wallet returned an undecodable transaction: %w", err)
	}
	if utils.ExtractFeePayerFromSolanaTransaction(signed) != feePayer.String() {
		return fmt.Errorf("wallet changed the fee payer to %s", utils.ExtractFeePayerFromSolanaTransaction(signed))
	}
	if len(signed.Signatures) == 0 || signed.Signatures[0] == (solana.Signature{}) {
		return fmt.Errorf("wallet returned a transaction without the fee payer signature")
	}
	return nil
}

func (a *Adapter) awaitConfirmation(ctx context.Context, client RPCClient, sig solana.Signature) error {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		out, err := client.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			a.logger.Debug("signature status lookup failed", "chain", a.desc.ID, "txHash", sig.String(), "error", err)
		} else if out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: %v", chains.ErrTransactionReverted, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetNativeBalance returns the connected account balance in SOL
func (a *Adapter) GetNativeBalance(ctx context.Context) (string, error) {
	pk, err := a.signer()
	if err != nil {
		return "", chains.WrapOp(a.desc.ID, "getNativeBalance", "", err)
	}

	client, err := a.client(ctx)
	if err != nil {
		return "", chains.WrapOp(a.desc.ID, "getNativeBalance", "", err)
	}
	out, err := client.GetBalance(ctx, pk, rpc.CommitmentConfirmed)
	if err != nil {
		return "", chains.WrapOp(a.desc.ID, "getNativeBalance", "", err)
	}
	return chains.FromBaseUnits(new(big.Int).SetUint64(out.Value), a.desc.Currency.Decimals), nil
}

// GetTransactionStatus returns the signature's confirmation status, or StatusUnknown
func (a *Adapter) GetTransactionStatus(ctx context.Context, signature string) string {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return StatusUnknown
	}

	client, err := a.client(ctx)
	if err != nil {
		a.logger.Warn("signature status lookup failed", "chain", a.desc.ID, "txHash", signature, "error", err)
		return StatusUnknown
	}
	out, err := client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		a.logger.Warn("signature status lookup failed", "chain", a.desc.ID, "txHash", signature, "error", err)
		return StatusUnknown
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil || out.Value[0].ConfirmationStatus == "" {
		return StatusUnknown
	}
	return string(out.Value[0].ConfirmationStatus)
}
