package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ConfirmFunc asks the key holder to approve a transaction before it is signed.
// Returning false rejects the transaction with EIP-1193 code 4001.
type ConfirmFunc func(ctx context.Context, networkID int64, tx TxRequest) (bool, error)

// KeystoreProvider is an EIP-1193 provider backed by a local secp256k1 key.
// It only knows chains added through wallet_addEthereumChain or AddChain.
type KeystoreProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	confirm ConfirmFunc

	mu      sync.Mutex
	current int64
	known   map[int64][]string
	clients map[int64]*ethclient.Client
}

// NewKeystoreProvider decrypts a V3 keystore JSON document
func NewKeystoreProvider(keyJSON []byte, passphrase string, confirm ConfirmFunc) (*KeystoreProvider, error) {
	key, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore: %w", err)
	}
	return NewKeyProvider(key.PrivateKey, confirm), nil
}

// NewKeyProviderFromHex creates a provider from a hex encoded private key
func NewKeyProviderFromHex(privateKeyHex string, confirm ConfirmFunc) (*KeystoreProvider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeyProvider(key, confirm), nil
}

func NewKeyProvider(key *ecdsa.PrivateKey, confirm ConfirmFunc) *KeystoreProvider {
	return &KeystoreProvider{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		confirm: confirm,
		known:   make(map[int64][]string),
		clients: make(map[int64]*ethclient.Client),
	}
}

// AddChain preconfigures a chain so switching to it does not require wallet_addEthereumChain
func (p *KeystoreProvider) AddChain(networkID int64, rpcURLs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.known[networkID] = append([]string(nil), rpcURLs...)
}

func (p *KeystoreProvider) Address() common.Address {
	return p.address
}

// Request implements Provider
func (p *KeystoreProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	switch method {
	case "eth_requestAccounts", "eth_accounts":
		return json.Marshal([]string{p.address.Hex()})

	case "eth_chainId":
		p.mu.Lock()
		current := p.current
		p.mu.Unlock()
		return json.Marshal(hexutil.EncodeBig(big.NewInt(current)))

	case "wallet_switchEthereumChain":
		var req SwitchChainParams
		if err := p.firstParam(params, &req); err != nil {
			return nil, err
		}
		id, err := parseChainID(req.ChainID)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.known[id]; !ok {
			return nil, &ProviderError{Code: CodeUnrecognizedChain, Message: fmt.Sprintf("unrecognized chain id %s", req.ChainID)}
		}
		p.current = id
		return json.RawMessage("null"), nil

	case "wallet_addEthereumChain":
		var req AddChainParams
		if err := p.firstParam(params, &req); err != nil {
			return nil, err
		}
		id, err := parseChainID(req.ChainID)
		if err != nil {
			return nil, err
		}
		if len(req.RPCURLs) == 0 {
			return nil, &ProviderError{Code: CodeInternalRPCFailure, Message: "rpcUrls must not be empty"}
		}
		p.AddChain(id, req.RPCURLs...)
		return json.RawMessage("null"), nil

	case "eth_sendTransaction":
		var req TxRequest
		if err := p.firstParam(params, &req); err != nil {
			return nil, err
		}
		hash, err := p.sendTransaction(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(hash.Hex())

	default:
		return nil, &ProviderError{Code: CodeUnsupportedMethod, Message: fmt.Sprintf("method %s not supported", method)}
	}
}

func (p *KeystoreProvider) sendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	if !strings.EqualFold(req.From, p.address.Hex()) {
		return common.Hash{}, &ProviderError{Code: CodeUnauthorized, Message: fmt.Sprintf("unknown account %s", req.From)}
	}

	p.mu.Lock()
	networkID := p.current
	p.mu.Unlock()
	if networkID == 0 {
		return common.Hash{}, &ProviderError{Code: CodeDisconnected, Message: "no chain selected"}
	}

	if p.confirm == nil {
		return common.Hash{}, &ProviderError{Code: CodeUserRejected, Message: "no confirmation handler configured"}
	}
	ok, err := p.confirm(ctx, networkID, req)
	if err != nil {
		return common.Hash{}, &ProviderError{Code: CodeUserRejected, Message: err.Error()}
	}
	if !ok {
		return common.Hash{}, &ProviderError{Code: CodeUserRejected, Message: "user rejected the request"}
	}

	client, err := p.client(ctx, networkID)
	if err != nil {
		return common.Hash{}, err
	}

	msg := ethereum.CallMsg{From: p.address}
	if req.To != "" {
		to := common.HexToAddress(req.To)
		msg.To = &to
	}
	if req.Value != "" {
		if msg.Value, err = hexutil.DecodeBig(req.Value); err != nil {
			return common.Hash{}, fmt.Errorf("invalid value: %w", err)
		}
	} else {
		msg.Value = new(big.Int)
	}
	if req.Data != "" {
		if msg.Data, err = hexutil.Decode(req.Data); err != nil {
			return common.Hash{}, fmt.Errorf("invalid data: %w", err)
		}
	}

	nonce, err := client.PendingNonceAt(ctx, p.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}
	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas tip: %w", err)
	}
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get latest header: %w", err)
	}
	gas, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}

	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))
	chainID := big.NewInt(networkID)

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        msg.To,
		Value:     msg.Value,
		Data:      msg.Data,
	})

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), p.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed.Hash(), nil
}

func (p *KeystoreProvider) client(ctx context.Context, networkID int64) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[networkID]; ok {
		return c, nil
	}

	lastErr := fmt.Errorf("chain %d has no RPC endpoints", networkID)
	for _, url := range p.known[networkID] {
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			lastErr = &RPCError{Endpoint: url, Err: err}
			continue
		}
		p.clients[networkID] = c
		return c, nil
	}
	return nil, lastErr
}

// Close releases all dialed RPC clients
func (p *KeystoreProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, c := range p.clients {
		c.Close()
		delete(p.clients, id)
	}
}

func (p *KeystoreProvider) firstParam(params []any, out any) error {
	if len(params) == 0 {
		return &ProviderError{Code: CodeInternalRPCFailure, Message: "missing request parameter"}
	}
	return decodeParam(params[0], out)
}

func parseChainID(hexID string) (int64, error) {
	id, err := hexutil.DecodeBig(hexID)
	if err != nil || !id.IsInt64() {
		return 0, &ProviderError{Code: CodeInternalRPCFailure, Message: fmt.Sprintf("invalid chain id %q", hexID)}
	}
	return id.Int64(), nil
}
