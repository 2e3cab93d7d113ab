package tron

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sigweihq/agentpay/pkg/chains"
)

// ConfirmFunc asks the key holder to approve a transaction before it is signed
type ConfirmFunc func(ctx context.Context, tx *Transaction) (bool, error)

// KeyWallet is a Wallet backed by a local secp256k1 key and a full node
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address string
	confirm ConfirmFunc
	client  *NodeClient
}

var (
	_ Wallet = (*KeyWallet)(nil)
	_ Signer = (*KeyWallet)(nil)
)

// NewKeyWallet creates a wallet that signs with key and talks to the full node at nodeURL
func NewKeyWallet(key *ecdsa.PrivateKey, nodeURL string, confirm ConfirmFunc, opts ...NodeOption) (*KeyWallet, error) {
	w := &KeyWallet{
		key:     key,
		address: fromEVMAddress(crypto.PubkeyToAddress(key.PublicKey)),
		confirm: confirm,
	}
	client, err := NewNodeClient(nodeURL, w, opts...)
	if err != nil {
		return nil, err
	}
	w.client = client
	return w, nil
}

// NewKeyWalletFromHex creates a wallet from a hex encoded private key
func NewKeyWalletFromHex(privateKeyHex, nodeURL string, confirm ConfirmFunc, opts ...NodeOption) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeyWallet(key, nodeURL, confirm, opts...)
}

func (w *KeyWallet) Address() string {
	return w.address
}

func (w *KeyWallet) RequestAccounts(ctx context.Context) (*AccountsResponse, error) {
	return &AccountsResponse{Code: 200, Message: "ok"}, nil
}

func (w *KeyWallet) Client() Client {
	return w.client
}

// SignTransaction appends a signature over sha256(raw_data) after the confirmation hook approves
func (w *KeyWallet) SignTransaction(ctx context.Context, tx *Transaction) error {
	raw, err := hex.DecodeString(tx.RawDataHex)
	if err != nil || len(raw) == 0 {
		return fmt.Errorf("transaction has no raw_data_hex")
	}
	digest := sha256.Sum256(raw)
	if tx.TxID != "" && !strings.EqualFold(tx.TxID, hex.EncodeToString(digest[:])) {
		return fmt.Errorf("transaction id %s does not match raw data", tx.TxID)
	}

	if w.confirm == nil {
		return fmt.Errorf("%w: no confirmation handler configured", chains.ErrTransactionRejected)
	}
	ok, err := w.confirm(ctx, tx)
	if err != nil {
		return fmt.Errorf("%w: %v", chains.ErrTransactionRejected, err)
	}
	if !ok {
		return chains.ErrTransactionRejected
	}

	sig, err := crypto.Sign(digest[:], w.key)
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	tx.TxID = hex.EncodeToString(digest[:])
	tx.Signature = append(tx.Signature, hex.EncodeToString(sig))
	return nil
}

// RecoverSigner returns the base58 address that produced signature over the transaction's raw data
func RecoverSigner(tx *Transaction, signature string) (string, error) {
	raw, err := hex.DecodeString(tx.RawDataHex)
	if err != nil {
		return "", fmt.Errorf("invalid raw_data_hex: %w", err)
	}
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("invalid signature")
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	digest := sha256.Sum256(raw)
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", err)
	}
	return fromEVMAddress(crypto.PubkeyToAddress(*pub)), nil
}
