package evm

import (
	"errors"
	"fmt"

	"github.com/sigweihq/agentpay/pkg/chains"
)

// EIP-1193 provider error codes
const (
	CodeUserRejected       = 4001
	CodeUnauthorized       = 4100
	CodeUnsupportedMethod  = 4200
	CodeDisconnected       = 4900
	CodeUnrecognizedChain  = 4902
	CodeInternalRPCFailure = -32603
)

// ProviderError is an error reported by an EIP-1193 provider
type ProviderError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// providerErrorCode returns the EIP-1193 code carried by err, or 0
func providerErrorCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}

// classifyProviderError maps a user rejection to chains.ErrTransactionRejected and leaves other errors untouched
func classifyProviderError(err error) error {
	if providerErrorCode(err) == CodeUserRejected {
		return fmt.Errorf("%w: %v", chains.ErrTransactionRejected, err)
	}
	return err
}

// RPCError represents an RPC-related error
type RPCError struct {
	Endpoint string
	Err      error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error on %s: %v", e.Endpoint, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}
