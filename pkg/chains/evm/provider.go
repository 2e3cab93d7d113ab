package evm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Provider is an EIP-1193 wallet provider.
// Browser extensions, WalletConnect bridges and KeystoreProvider all satisfy it.
type Provider interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// AddChainParams is the wallet_addEthereumChain request payload (EIP-3085)
type AddChainParams struct {
	ChainID           string           `json:"chainId"`
	ChainName         string           `json:"chainName"`
	NativeCurrency    AddChainCurrency `json:"nativeCurrency"`
	RPCURLs           []string         `json:"rpcUrls"`
	BlockExplorerURLs []string         `json:"blockExplorerUrls,omitempty"`
}

type AddChainCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// SwitchChainParams is the wallet_switchEthereumChain request payload (EIP-3326)
type SwitchChainParams struct {
	ChainID string `json:"chainId"`
}

// TxRequest is the eth_sendTransaction request payload
type TxRequest struct {
	From  string `json:"from"`
	To    string `json:"to,omitempty"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
}

// decodeParam re-decodes a loosely typed request parameter into out
func decodeParam(param any, out any) error {
	raw, err := json.Marshal(param)
	if err != nil {
		return fmt.Errorf("failed to encode request parameter: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode request parameter: %w", err)
	}
	return nil
}
