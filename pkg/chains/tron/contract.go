package tron

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// MarketplaceABI is the interface of the agent marketplace contract deployed on TRON
const MarketplaceABI = `[
{"inputs":[{"name":"name","type":"string"},{"name":"description","type":"string"},{"name":"modelType","type":"string"},{"name":"tokenURI","type":"string"}],"name":"mintAgent","outputs":[{"name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"tokenId","type":"uint256"},{"name":"price","type":"uint256"}],"name":"listAgent","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"delistAgent","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"buyAgent","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"name":"isApprovedForAll","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"name":"setApprovalForAll","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"anonymous":false,"inputs":[{"indexed":true,"name":"tokenId","type":"uint256"},{"indexed":true,"name":"creator","type":"address"},{"indexed":false,"name":"name","type":"string"}],"name":"AgentMinted","type":"event"}
]`

var marketplaceABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(MarketplaceABI))
	if err != nil {
		panic(fmt.Sprintf("failed to parse contract ABI: %v", err))
	}
	return parsed
}()

// encodeCall returns the canonical method signature and the ABI encoded arguments without the selector,
// which is how the full node's triggersmartcontract expects them
func encodeCall(method string, args ...any) (string, []byte, error) {
	m, ok := marketplaceABI.Methods[method]
	if !ok {
		return "", nil, fmt.Errorf("unknown contract method %s", method)
	}
	packed, err := marketplaceABI.Pack(method, args...)
	if err != nil {
		return "", nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return m.Sig, packed[len(m.ID):], nil
}

func decodeBool(method string, result []byte) (bool, error) {
	var out bool
	if err := marketplaceABI.UnpackIntoInterface(&out, method, result); err != nil {
		return false, fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return out, nil
}

// MintedTokenID reads the token id from the second topic of the first log.
// It reports false when the info carries no decodable topic.
func MintedTokenID(info *TransactionInfo) (*big.Int, bool) {
	if info == nil || len(info.Log) == 0 || len(info.Log[0].Topics) < 2 {
		return nil, false
	}
	topic := strings.TrimPrefix(info.Log[0].Topics[1], "0x")
	if topic == "" || len(topic) > 64 {
		return nil, false
	}
	id, ok := new(big.Int).SetString(topic, 16)
	if !ok {
		return nil, false
	}
	return id, true
}
