package session

import (
	"context"

	"github.com/sigweihq/agentpay/pkg/chains"
)

// Session is a snapshot of the active wallet connection
type Session struct {
	Connected  bool              `json:"connected"`
	Connecting bool              `json:"connecting"`
	Address    string            `json:"address,omitempty"`
	Chain      chains.ChainID    `json:"chain,omitempty"` // desired chain while disconnected
	Kind       chains.WalletKind `json:"kind,omitempty"`
	LastError  string            `json:"lastError,omitempty"`
}

// Persisted is what survives a restart. It never carries secrets.
type Persisted struct {
	Chain   chains.ChainID `json:"chain"`
	Address string         `json:"address"`
}

// Store persists the last active session
type Store interface {
	// Load returns nil without error when nothing is stored
	Load(ctx context.Context) (*Persisted, error)
	Save(ctx context.Context, p Persisted) error
	Clear(ctx context.Context) error
}

// ChainAdapter is what the controller needs from a chain adapter
type ChainAdapter interface {
	chains.Adapter

	// Close returns the adapter to the disconnected state
	Close()
}
