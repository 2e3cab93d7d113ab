package chains

import (
	"errors"
	"fmt"
)

var (
	// ErrWalletNotFound is returned when the wallet for a chain family is absent
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrChainClientNotReady is returned when a wallet is present but its chain client is not initialized
	ErrChainClientNotReady = errors.New("wallet chain client not ready")

	// ErrWalletConnectionFailed is returned when a wallet reports a non-success connection result
	ErrWalletConnectionFailed = errors.New("wallet connection failed")

	// ErrContractNotDeployed is returned when a chain has no marketplace contract configured
	ErrContractNotDeployed = errors.New("marketplace contract not deployed on this chain")

	// ErrFeeCollectorNotConfigured is returned when a chain has no platform fee collection address
	ErrFeeCollectorNotConfigured = errors.New("fee collector not configured on this chain")

	ErrUnsupportedChain    = errors.New("unsupported chain")
	ErrTransactionRejected = errors.New("transaction rejected by wallet")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrPaymentFailed       = errors.New("payment failed")
	ErrNotConnected        = errors.New("wallet not connected")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrConnectInProgress   = errors.New("another connect is in progress")
)

// OperationError wraps a failed adapter operation with its chain and transaction context
type OperationError struct {
	Chain  ChainID
	Op     string
	TxHash string
	Err    error
}

func (e *OperationError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%s %s failed (tx %s): %v", e.Chain, e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Chain, e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// WrapOp wraps err in an OperationError, returning nil when err is nil
func WrapOp(chain ChainID, op, txHash string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Chain: chain, Op: op, TxHash: txHash, Err: err}
}

// IsTransactionFailure reports whether err means the user declined signing or the chain rejected the transaction
func IsTransactionFailure(err error) bool {
	return errors.Is(err, ErrTransactionRejected) || errors.Is(err, ErrTransactionReverted)
}
