package svm

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sigweihq/agentpay/pkg/constants"
)

// RPCClient is the subset of the Solana JSON-RPC API the adapter uses
type RPCClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendRawTransactionWithOpts(ctx context.Context, rawTx []byte, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

var _ RPCClient = (*rpc.Client)(nil)

// DialFunc returns a client for one of the given endpoints
type DialFunc func(ctx context.Context, endpoints []string) (RPCClient, error)

func dialRPC(ctx context.Context, endpoints []string) (RPCClient, error) {
	c, err := DialRPC(ctx, endpoints)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DialRPC returns a client for the first healthy endpoint, starting at a random position for load balancing
func DialRPC(ctx context.Context, endpoints []string) (*rpc.Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured")
	}

	startIdx := rand.Intn(len(endpoints))
	var lastErr error

	for attempt := 0; attempt < len(endpoints); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(constants.DelayBetweenRPCCalls) * time.Millisecond):
			}
		}

		endpoint := endpoints[(startIdx+attempt)%len(endpoints)]
		client := rpc.New(endpoint)
		if err := probe(ctx, client); err != nil {
			lastErr = fmt.Errorf("%s: %w", endpoint, err)
			continue
		}
		return client, nil
	}

	return nil, fmt.Errorf("all %d RPC endpoints failed: %w", len(endpoints), lastErr)
}

func probe(ctx context.Context, client *rpc.Client) error {
	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	health, err := client.GetHealth(ctx)
	if err != nil {
		return err
	}
	if health != "ok" {
		return fmt.Errorf("node reports %q", health)
	}
	return nil
}
