package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/sigweihq/agentpay/pkg/chains/evm"
	"github.com/sigweihq/agentpay/pkg/chains/svm"
	"github.com/sigweihq/agentpay/pkg/chains/tron"
	"golang.org/x/sync/singleflight"
)

// Controller owns the wallet session: which chain is active, which address is connected,
// and the adapter serving each chain
type Controller struct {
	registry *chains.Registry
	factory  AdapterFactory
	store    Store
	logger   *slog.Logger

	group singleflight.Group

	mu       sync.Mutex
	session  Session
	pending  chains.ChainID // chain of the in-flight connect
	waiters  int            // callers attached to the in-flight connect
	epoch    uint64         // bumped by Disconnect
	adapters map[chains.ChainID]ChainAdapter
}

// Option configures a Controller
type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithStore sets where the session is persisted; the default keeps it in memory
func WithStore(s Store) Option {
	return func(c *Controller) {
		c.store = s
	}
}

func NewController(registry *chains.Registry, factory AdapterFactory, opts ...Option) *Controller {
	c := &Controller{
		registry: registry,
		factory:  factory,
		store:    NewMemoryStore(),
		logger:   slog.Default(),
		adapters: make(map[chains.ChainID]ChainAdapter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns a snapshot of the current session
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session
}

// Connect connects the wallet of chain's family and makes chain the active chain.
// Concurrent calls for the same chain share one attempt; a call for another chain
// while one is pending fails with chains.ErrConnectInProgress.
func (c *Controller) Connect(ctx context.Context, chain chains.ChainID) (Session, error) {
	c.mu.Lock()
	if c.pending != "" && c.pending != chain {
		pending, snap := c.pending, c.session
		c.mu.Unlock()
		return snap, fmt.Errorf("%w: %s", chains.ErrConnectInProgress, pending)
	}
	c.pending = chain
	c.waiters++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.waiters--
		if c.waiters == 0 {
			c.pending = ""
		}
		c.mu.Unlock()
	}()

	v, err, shared := c.group.Do(string(chain), func() (any, error) {
		return c.connect(ctx, chain)
	})
	if shared {
		c.logger.Debug("joined in-flight connect", "chain", chain)
	}
	return v.(Session), err
}

func (c *Controller) connect(ctx context.Context, chain chains.ChainID) (Session, error) {
	c.mu.Lock()
	prev := c.session
	prev.Connecting = false
	epoch := c.epoch
	c.session.Connecting = true
	c.session.LastError = ""
	c.mu.Unlock()

	desc, err := c.registry.Get(chain)
	if err != nil {
		return c.rollback(ctx, prev, epoch, chain, err, false)
	}
	adapter, err := c.adapterFor(desc)
	if err != nil {
		return c.rollback(ctx, prev, epoch, chain, err, false)
	}
	addr, err := adapter.Connect(ctx)
	if err != nil {
		return c.rollback(ctx, prev, epoch, chain, err, true)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		snap := c.session
		c.mu.Unlock()

		adapter.Close()
		c.logger.Info("discarding connect finished after disconnect", "chain", chain)
		return snap, fmt.Errorf("%w: %s session was disconnected while connecting", chains.ErrNotConnected, chain)
	}
	c.session = Session{
		Connected: true,
		Address:   addr,
		Chain:     chain,
		Kind:      desc.Family().WalletKind(),
	}
	snap := c.session
	c.mu.Unlock()

	if err := c.store.Save(ctx, Persisted{Chain: chain, Address: addr}); err != nil {
		c.logger.Warn("failed to persist wallet session", "chain", chain, "error", err)
	}

	c.logger.Info("wallet session connected", "chain", chain, "address", addr, "kind", snap.Kind)
	return snap, nil
}

// rollback restores the session held before a failed connect and records the failure.
// When the failed attempt went through the wallet serving the session, that wallet has
// already reset or switched networks, so the session drops to disconnected instead.
func (c *Controller) rollback(ctx context.Context, prev Session, epoch uint64, chain chains.ChainID, cause error, walletUsed bool) (Session, error) {
	var (
		stale   ChainAdapter
		dropped bool
	)

	c.mu.Lock()
	switch {
	case c.epoch != epoch:
		// disconnected meanwhile; keep the reset session
	case walletUsed && prev.Connected && prev.Chain.Family() == chain.Family():
		stale, dropped = c.adapters[prev.Chain], true
		c.session = Session{Chain: prev.Chain}
	default:
		c.session = prev
	}
	c.session.Connecting = false
	c.session.LastError = cause.Error()
	snap := c.session
	c.mu.Unlock()

	if dropped {
		if stale != nil {
			stale.Close()
		}
		c.clearStored(ctx)
		c.logger.Warn("wallet session dropped after failed reconnect", "chain", prev.Chain)
	}

	c.logger.Warn("wallet connect failed", "chain", chain, "error", cause)
	return snap, cause
}

// adapterFor returns the cached adapter for desc, creating it on first use
func (c *Controller) adapterFor(desc chains.ChainDescriptor) (ChainAdapter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a, ok := c.adapters[desc.ID]; ok {
		return a, nil
	}
	a, err := c.factory(desc)
	if err != nil {
		return nil, err
	}
	c.adapters[desc.ID] = a
	return a, nil
}

// Disconnect resets the session and clears persisted storage. Wallet-side permissions are left alone.
// A connect still in flight is discarded when it completes.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.session = Session{}
	c.epoch++
	adapters := make([]ChainAdapter, 0, len(c.adapters))
	for _, a := range c.adapters {
		adapters = append(adapters, a)
	}
	c.mu.Unlock()

	for _, a := range adapters {
		a.Close()
	}

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear stored session: %w", err)
	}
	c.logger.Info("wallet session disconnected")
	return nil
}

// SwitchChain makes chain the active chain. While disconnected it only records the desired chain;
// while connected it runs a full connect against the new chain.
func (c *Controller) SwitchChain(ctx context.Context, chain chains.ChainID) (Session, error) {
	if !c.registry.IsSupported(chain) {
		return c.Session(), fmt.Errorf("%w: %s", chains.ErrUnsupportedChain, chain)
	}

	c.mu.Lock()
	if !c.session.Connected {
		if c.pending != "" && c.pending != chain {
			pending, snap := c.pending, c.session
			c.mu.Unlock()
			return snap, fmt.Errorf("%w: %s", chains.ErrConnectInProgress, pending)
		}
		c.session.Chain = chain
		c.session.Kind = ""
		snap := c.session
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	return c.Connect(ctx, chain)
}

// Restore silently reconnects the persisted session. A failed reconnect clears the stored
// session instead of reporting an error.
func (c *Controller) Restore(ctx context.Context) Session {
	p, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("failed to load stored session", "error", err)
		c.clearStored(ctx)
		return c.Session()
	}
	if p == nil {
		return c.Session()
	}

	chain, err := chains.ParseChainID(string(p.Chain))
	if err != nil {
		c.logger.Warn("stored session names an unknown chain", "chain", p.Chain)
		c.clearStored(ctx)
		return c.Session()
	}

	snap, err := c.Connect(ctx, chain)
	if err != nil {
		c.logger.Info("stored session could not be restored", "chain", chain, "error", err)
		c.clearStored(ctx)
		return snap
	}
	if snap.Address != p.Address {
		c.logger.Info("restored session resolved a different address", "chain", chain, "stored", p.Address, "address", snap.Address)
	}
	return snap
}

func (c *Controller) clearStored(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("failed to clear stored session", "error", err)
	}
}

// ActiveAdapter returns the adapter for the session's chain, creating it if needed
func (c *Controller) ActiveAdapter() (ChainAdapter, error) {
	chain := c.Session().Chain
	if chain == "" {
		return nil, chains.ErrNotConnected
	}
	desc, err := c.registry.Get(chain)
	if err != nil {
		return nil, err
	}
	return c.adapterFor(desc)
}

// Marketplace returns the active adapter when its chain supports contract-backed listings
func (c *Controller) Marketplace() (chains.Marketplace, error) {
	a, err := c.ActiveAdapter()
	if err != nil {
		return nil, err
	}
	m, ok := a.(chains.Marketplace)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no marketplace contract interface", chains.ErrUnsupportedChain, a.Chain())
	}
	return m, nil
}

// EVM returns the active adapter when the session is on an EVM chain
func (c *Controller) EVM() (*evm.Adapter, error) {
	return activeAs[*evm.Adapter](c, chains.FamilyEVM)
}

// Solana returns the active adapter when the session is on Solana
func (c *Controller) Solana() (*svm.Adapter, error) {
	return activeAs[*svm.Adapter](c, chains.FamilySolana)
}

// Tron returns the active adapter when the session is on TRON
func (c *Controller) Tron() (*tron.Adapter, error) {
	return activeAs[*tron.Adapter](c, chains.FamilyTron)
}

func activeAs[T ChainAdapter](c *Controller, family chains.Family) (T, error) {
	var zero T

	a, err := c.ActiveAdapter()
	if err != nil {
		return zero, err
	}
	if a.Chain().Family() != family {
		return zero, fmt.Errorf("%w: active chain %s is not %s", chains.ErrUnsupportedChain, a.Chain(), family)
	}
	typed, ok := a.(T)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected adapter %T for %s", chains.ErrUnsupportedChain, a, a.Chain())
	}
	return typed, nil
}
