package session

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/sigweihq/agentpay/pkg/chains/evm"
	"github.com/sigweihq/agentpay/pkg/chains/svm"
	"github.com/sigweihq/agentpay/pkg/chains/tron"
	"github.com/sigweihq/agentpay/pkg/metrics"
)

// AdapterFactory builds the adapter for a chain
type AdapterFactory func(desc chains.ChainDescriptor) (ChainAdapter, error)

// Wallets holds one wallet per family. A nil field means that wallet is not installed.
type Wallets struct {
	EVM    evm.Provider
	Solana svm.Wallet
	Tron   tron.Wallet
}

// NewAdapterFactory returns a factory wiring each family's adapter to its wallet
func NewAdapterFactory(wallets Wallets, logger *slog.Logger, recorder metrics.Recorder) AdapterFactory {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	return func(desc chains.ChainDescriptor) (ChainAdapter, error) {
		switch desc.Family() {
		case chains.FamilyEVM:
			var provider evm.Provider
			if !isNil(wallets.EVM) {
				provider = wallets.EVM
			}
			a, err := evm.NewAdapter(desc, provider, evm.WithLogger(logger), evm.WithMetrics(recorder))
			if err != nil {
				return nil, err
			}
			return a, nil
		case chains.FamilySolana:
			var wallet svm.Wallet
			if !isNil(wallets.Solana) {
				wallet = wallets.Solana
			}
			a, err := svm.NewAdapter(desc, wallet, svm.WithLogger(logger), svm.WithMetrics(recorder))
			if err != nil {
				return nil, err
			}
			return a, nil
		case chains.FamilyTron:
			var wallet tron.Wallet
			if !isNil(wallets.Tron) {
				wallet = wallets.Tron
			}
			a, err := tron.NewAdapter(desc, wallet, tron.WithLogger(logger), tron.WithMetrics(recorder))
			if err != nil {
				return nil, err
			}
			return a, nil
		default:
			return nil, fmt.Errorf("%w: %s", chains.ErrUnsupportedChain, desc.ID)
		}
	}
}

// isNil catches interfaces holding a typed nil pointer, which adapters would otherwise treat as installed
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Func, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
