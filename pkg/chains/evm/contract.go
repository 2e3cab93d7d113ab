package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// MarketplaceABI is the interface of the agent marketplace contract deployed on EVM chains
const MarketplaceABI = `[
{"inputs":[{"internalType":"string","name":"name","type":"string"},{"internalType":"string","name":"description","type":"string"},{"internalType":"string[]","name":"capabilities","type":"string[]"},{"internalType":"string","name":"modelType","type":"string"},{"internalType":"string","name":"tokenURI","type":"string"}],"name":"mintAgent","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"},{"internalType":"uint256","name":"price","type":"uint256"}],"name":"listAgent","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"delistAgent","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"buyAgent","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"address","name":"operator","type":"address"}],"name":"isApprovedForAll","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"operator","type":"address"},{"internalType":"bool","name":"approved","type":"bool"}],"name":"setApprovalForAll","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"},{"indexed":true,"internalType":"address","name":"creator","type":"address"},{"indexed":false,"internalType":"string","name":"name","type":"string"}],"name":"AgentMinted","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"},{"indexed":true,"internalType":"address","name":"seller","type":"address"},{"indexed":false,"internalType":"uint256","name":"price","type":"uint256"}],"name":"AgentListed","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"},{"indexed":true,"internalType":"address","name":"seller","type":"address"},{"indexed":true,"internalType":"address","name":"buyer","type":"address"},{"indexed":false,"internalType":"uint256","name":"price","type":"uint256"}],"name":"AgentSold","type":"event"}
]`

var marketplaceABI = mustParseABI(MarketplaceABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse contract ABI: %v", err))
	}
	return parsed
}

// ParseTokenID parses a decimal token id
func ParseTokenID(tokenID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(tokenID), 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}
	return id, nil
}

// MintedTokenID extracts the token id from the AgentMinted event emitted by contract
func MintedTokenID(receipt *ethtypes.Receipt, contract common.Address) (*big.Int, error) {
	eventID := marketplaceABI.Events["AgentMinted"].ID
	for _, log := range receipt.Logs {
		if log.Address != contract || len(log.Topics) < 2 || log.Topics[0] != eventID {
			continue
		}
		return log.Topics[1].Big(), nil
	}
	return nil, fmt.Errorf("no AgentMinted event found in receipt")
}

// SaleEvent is a decoded AgentSold log
type SaleEvent struct {
	TokenID *big.Int
	Seller  common.Address
	Buyer   common.Address
	Price   *big.Int
}

// SoldEvent extracts the AgentSold event emitted by contract
func SoldEvent(receipt *ethtypes.Receipt, contract common.Address) (*SaleEvent, error) {
	event := marketplaceABI.Events["AgentSold"]
	for _, log := range receipt.Logs {
		if log.Address != contract || len(log.Topics) < 4 || log.Topics[0] != event.ID {
			continue
		}
		values, err := event.Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode AgentSold data: %w", err)
		}
		price, _ := values[0].(*big.Int)
		return &SaleEvent{
			TokenID: log.Topics[1].Big(),
			Seller:  common.BytesToAddress(log.Topics[2].Bytes()),
			Buyer:   common.BytesToAddress(log.Topics[3].Bytes()),
			Price:   price,
		}, nil
	}
	return nil, fmt.Errorf("no AgentSold event found in receipt")
}
