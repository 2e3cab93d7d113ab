package chains

import (
	"context"
	"fmt"
	"strings"

	"github.com/sigweihq/agentpay/pkg/constants"
)

// ChainID identifies one of the supported marketplace chains
type ChainID string

const (
	Ethereum ChainID = constants.ChainEthereum
	Base     ChainID = constants.ChainBase
	BNB      ChainID = constants.ChainBNB
	Solana   ChainID = constants.ChainSolana
	Tron     ChainID = constants.ChainTron
)

// AllChains lists every supported chain in display order
var AllChains = []ChainID{Ethereum, Base, BNB, Solana, Tron}

var chainAliases = map[string]ChainID{
	"eth":      Ethereum,
	"ethereum": Ethereum,
	"base":     Base,
	"bnb":      BNB,
	"bsc":      BNB,
	"sol":      Solana,
	"solana":   Solana,
	"tron":     Tron,
	"trx":      Tron,
}

// ParseChainID normalizes a user supplied chain name into a ChainID
func ParseChainID(s string) (ChainID, error) {
	id, ok := chainAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChain, s)
	}
	return id, nil
}

func (c ChainID) String() string {
	return string(c)
}

// Family returns the transaction model family of the chain
func (c ChainID) Family() Family {
	switch c {
	case Ethereum, Base, BNB:
		return FamilyEVM
	case Solana:
		return FamilySolana
	case Tron:
		return FamilyTron
	default:
		return ""
	}
}

// Family groups chains sharing a transaction model and wallet handshake
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
	FamilyTron   Family = "tron"
)

// WalletKind returns the wallet family that backs sessions on this chain family
func (f Family) WalletKind() WalletKind {
	switch f {
	case FamilyEVM:
		return WalletMetaMask
	case FamilySolana:
		return WalletPhantom
	case FamilyTron:
		return WalletTronLink
	default:
		return ""
	}
}

// WalletKind tags which wallet family is behind a session
type WalletKind string

const (
	WalletMetaMask WalletKind = "metamask"
	WalletPhantom  WalletKind = "phantom"
	WalletTronLink WalletKind = "tronlink"
)

// NativeCurrency describes a chain's native coin
type NativeCurrency struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Symbol   string `json:"symbol" yaml:"symbol" validate:"required"`
	Decimals int32  `json:"decimals" yaml:"decimals" validate:"min=0,max=18"`
}

// ChainDescriptor holds the network parameters of a supported chain
type ChainDescriptor struct {
	ID              ChainID        `json:"id" yaml:"id" validate:"required,oneof=eth base bnb sol tron"`
	Name            string         `json:"name" yaml:"name" validate:"required"`
	NetworkID       int64          `json:"networkId,omitempty" yaml:"networkId"`
	Currency        NativeCurrency `json:"nativeCurrency" yaml:"nativeCurrency"`
	RPCURL          string         `json:"rpcUrl" yaml:"rpcUrl" validate:"required,url"`
	FallbackRPCURLs []string       `json:"fallbackRpcUrls,omitempty" yaml:"fallbackRpcUrls" validate:"dive,url"`
	ExplorerURL     string         `json:"explorerUrl" yaml:"explorerUrl" validate:"omitempty,url"`
	ContractAddress string         `json:"contractAddress,omitempty" yaml:"contractAddress"`
	FeeCollector    string         `json:"feeCollector,omitempty" yaml:"feeCollector"`
}

// Family returns the descriptor's chain family
func (d ChainDescriptor) Family() Family {
	return d.ID.Family()
}

// HasContract reports whether the marketplace contract is deployed on this chain
func (d ChainDescriptor) HasContract() bool {
	return d.ContractAddress != ""
}

// RPCEndpoints returns the primary RPC URL followed by any fallbacks
func (d ChainDescriptor) RPCEndpoints() []string {
	endpoints := make([]string, 0, 1+len(d.FallbackRPCURLs))
	endpoints = append(endpoints, d.RPCURL)
	return append(endpoints, d.FallbackRPCURLs...)
}

// ExplorerTxURL returns the explorer link for a transaction
func (d ChainDescriptor) ExplorerTxURL(txHash string) string {
	if d.ExplorerURL == "" {
		return ""
	}
	if d.ID == Tron {
		return fmt.Sprintf("%s/#/transaction/%s", d.ExplorerURL, txHash)
	}
	return fmt.Sprintf("%s/tx/%s", d.ExplorerURL, txHash)
}

// TransactionOutcome is the result of a paid operation
type TransactionOutcome struct {
	Chain   ChainID `json:"chain"`
	TxHash  string  `json:"txHash"`
	TokenID string  `json:"tokenId,omitempty"` // only set by mint operations
}

// MintRequest carries the metadata of an agent being minted
type MintRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities,omitempty"`
	ModelType    string   `json:"modelType"`
	TokenURI     string   `json:"tokenUri"`
}

// Adapter is the operation set every chain adapter provides
type Adapter interface {
	// Chain returns the chain this adapter serves
	Chain() ChainID

	// Connect performs the wallet handshake and returns the active address
	Connect(ctx context.Context) (string, error)

	// Address returns the connected address, empty before Connect succeeds
	Address() string

	// GetNativeBalance returns the connected address balance in major units
	GetNativeBalance(ctx context.Context) (string, error)

	// SendPayment transfers native currency to the platform fee collector
	SendPayment(ctx context.Context, amount string) (*TransactionOutcome, error)
}

// Marketplace is implemented by adapters backed by a deployed marketplace contract
type Marketplace interface {
	Adapter

	MintAgent(ctx context.Context, req MintRequest) (*TransactionOutcome, error)
	ListAgent(ctx context.Context, tokenID, price string) (*TransactionOutcome, error)
	BuyAgent(ctx context.Context, tokenID, price string) (*TransactionOutcome, error)
}
