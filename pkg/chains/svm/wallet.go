package svm

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/sigweihq/agentpay/pkg/utils"
)

// Wallet is the Solana wallet capability the adapter drives
type Wallet interface {
	Kind() chains.WalletKind

	// Connect asks the wallet for its public key
	Connect(ctx context.Context) (solana.PublicKey, error)

	// SignTransaction signs tx and returns its wire encoding
	SignTransaction(ctx context.Context, tx *solana.Transaction) ([]byte, error)
}

// ConfirmFunc asks the key holder to approve a transaction before it is signed
type ConfirmFunc func(ctx context.Context, tx *solana.Transaction) (bool, error)

// KeypairWallet signs with a local ed25519 key after explicit approval
type KeypairWallet struct {
	key     solana.PrivateKey
	confirm ConfirmFunc
}

var _ Wallet = (*KeypairWallet)(nil)

func NewKeypairWallet(key solana.PrivateKey, confirm ConfirmFunc) *KeypairWallet {
	return &KeypairWallet{key: key, confirm: confirm}
}

// NewKeypairWalletFromString accepts a hex seed, hex key or base58 keypair export
func NewKeypairWalletFromString(key string, confirm ConfirmFunc) (*KeypairWallet, error) {
	privateKey, err := utils.ParseSolanaPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return NewKeypairWallet(privateKey, confirm), nil
}

func (w *KeypairWallet) Kind() chains.WalletKind {
	return chains.WalletPhantom
}

func (w *KeypairWallet) PublicKey() solana.PublicKey {
	return w.key.PublicKey()
}

func (w *KeypairWallet) Connect(ctx context.Context) (solana.PublicKey, error) {
	return w.key.PublicKey(), nil
}

func (w *KeypairWallet) SignTransaction(ctx context.Context, tx *solana.Transaction) ([]byte, error) {
	if w.confirm == nil {
		return nil, fmt.Errorf("%w: no confirmation handler configured", chains.ErrTransactionRejected)
	}
	ok, err := w.confirm(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chains.ErrTransactionRejected, err)
	}
	if !ok {
		return nil, chains.ErrTransactionRejected
	}

	owner := w.key.PublicKey()
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(owner) {
			return &w.key
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return raw, nil
}
