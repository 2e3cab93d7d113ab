package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sigweihq/agentpay/pkg/constants"
)

// Backend is the read side of an EVM chain used by the adapter
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	Close()
}

// DialFunc opens a Backend against one of the given endpoints
type DialFunc func(ctx context.Context, endpoints []string) (Backend, error)

type rpcBackend struct {
	*ethclient.Client
	endpoint string
}

// TransactionReceipt tolerates the non-standard log fields some L2 nodes return
func (b *rpcBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	receipt, err := patchedTransactionReceipt(ctx, b.Client, txHash)
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		return nil, &RPCError{Endpoint: b.endpoint, Err: err}
	}
	return receipt, err
}

// DialBackend connects to the first healthy endpoint.
// Uses random start position for load balancing across RPC endpoints.
func DialBackend(ctx context.Context, endpoints []string) (Backend, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("no RPC endpoints configured")
	}

	startIdx := rand.Intn(len(endpoints))
	var lastErr error

	for i := 0; i < len(endpoints); i++ {
		if i > 0 {
			delay := time.Duration(i*constants.DelayBetweenRPCCalls) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		endpoint := endpoints[(startIdx+i)%len(endpoints)]

		client, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			lastErr = &RPCError{Endpoint: endpoint, Err: err}
			continue
		}

		if err := probe(ctx, client); err != nil {
			client.Close()
			lastErr = &RPCError{Endpoint: endpoint, Err: err}
			continue
		}

		return &rpcBackend{Client: client, endpoint: endpoint}, nil
	}

	return nil, fmt.Errorf("all RPC endpoints failed: %w", lastErr)
}

// probe performs a simple health check on an RPC endpoint
func probe(ctx context.Context, client *ethclient.Client) error {
	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	_, err := client.BlockNumber(ctx)
	return err
}

// waitMined polls for the receipt of txHash until it is available or ctx is done
func waitMined(ctx context.Context, backend Backend, txHash common.Hash, interval time.Duration) (*ethtypes.Receipt, error) {
	receipt, err := backend.TransactionReceipt(ctx, txHash)
	if err == nil {
		return receipt, nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := backend.TransactionReceipt(ctx, txHash)
			if err == nil {
				return receipt, nil
			}
			// Transaction not yet mined, continue waiting
		}
	}
}

// patchedTransactionReceipt gets a transaction receipt with Base-specific fixes
func patchedTransactionReceipt(ctx context.Context, client *ethclient.Client, txHash common.Hash) (*ethtypes.Receipt, error) {
	var raw json.RawMessage
	err := client.Client().CallContext(ctx, &raw, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	return decodeReceipt(raw)
}

func decodeReceipt(raw json.RawMessage) (*ethtypes.Receipt, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ethereum.NotFound
	}

	cleaned, err := stripBlockTimestampFromLogs(raw)
	if err != nil {
		return nil, err
	}

	var receipt ethtypes.Receipt
	if err := json.Unmarshal(cleaned, &receipt); err != nil {
		return nil, err
	}

	return &receipt, nil
}

// stripBlockTimestampFromLogs removes the blockTimestamp field from transaction logs
func stripBlockTimestampFromLogs(raw json.RawMessage) ([]byte, error) {
	var receiptMap map[string]interface{}
	if err := json.Unmarshal(raw, &receiptMap); err != nil {
		return nil, err
	}

	logs, ok := receiptMap["logs"].([]interface{})
	if ok {
		for _, log := range logs {
			logMap, ok := log.(map[string]interface{})
			if ok {
				delete(logMap, "blockTimestamp")
			}
		}
	}

	return json.Marshal(receiptMap)
}

// Receipt is a transaction receipt returned by receipt lookups
type Receipt struct {
	receipt *ethtypes.Receipt
}

// NewReceipt creates a new receipt wrapper
func NewReceipt(receipt *ethtypes.Receipt) *Receipt {
	return &Receipt{receipt: receipt}
}

func (r *Receipt) IsSuccessful() bool {
	return r.receipt.Status == ethtypes.ReceiptStatusSuccessful
}

func (r *Receipt) TxHash() string {
	return r.receipt.TxHash.Hex()
}

func (r *Receipt) BlockNumber() *big.Int {
	return r.receipt.BlockNumber
}

// GetUnderlyingReceipt returns the underlying go-ethereum receipt
func (r *Receipt) GetUnderlyingReceipt() *ethtypes.Receipt {
	return r.receipt
}
