package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/sigweihq/agentpay/pkg/config"
	"github.com/sigweihq/agentpay/pkg/metrics"
	"github.com/sigweihq/agentpay/pkg/session"
	"github.com/sigweihq/agentpay/pkg/settlement"
	"github.com/spf13/cobra"
)

// app holds everything a command needs, built once per invocation
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *chains.Registry
	controller *session.Controller
	backend    *settlement.Client // nil when no backend URL is configured
	gatherer   *prometheus.Registry
	closers    []func()
}

type appKey struct{}

// NewRootCmd builds the agentpay command tree
func NewRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "agentpay",
		Short: "Multi-chain wallet session and payments for the agent marketplace",
		Long: `agentpay connects a wallet on Ethereum, Base, BNB Chain, Solana or TRON,
keeps the session across invocations, and runs marketplace payments:
platform fees, agent minting, listing and purchases.

Every state-changing transaction asks for confirmation unless
wallet.auto_confirm is set.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.agentpay/config.yaml)")

	root.AddCommand(
		newConnectCmd(),
		newDisconnectCmd(),
		newSwitchCmd(),
		newStatusCmd(),
		newBalanceCmd(),
		newPayCmd(),
		newMintCmd(),
		newListCmd(),
		newBuyCmd(),
		newDelistCmd(),
		newRentCmd(),
		newBidCmd(),
		newTxCmd(),
	)
	return root
}

// Execute runs the CLI with ctx as the root context
func Execute(ctx context.Context) error {
	return run(ctx, NewRootCmd())
}

// run executes root and releases what the executed command opened, whether or not it failed
func run(ctx context.Context, root *cobra.Command) error {
	cmd, err := root.ExecuteContextC(ctx)
	if a := appFrom(cmd); a != nil {
		a.close()
	}
	return err
}

func newApp(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: cfg.NewLogger(cmd.ErrOrStderr())}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	a.registry = registry

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		a.gatherer = prometheus.NewRegistry()
		pr, err := metrics.NewPrometheusRecorder(a.gatherer)
		if err != nil {
			return nil, err
		}
		recorder = pr
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	prompt := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr(), cfg.Wallet.AutoConfirm)
	wallets, err := loadWallets(cfg.Wallet, registry, prompt)
	if err != nil {
		return nil, err
	}
	factory := session.NewAdapterFactory(wallets, a.logger, recorder)
	a.controller = session.NewController(registry, factory, session.WithLogger(a.logger), session.WithStore(store))

	if cfg.Backend.URL != "" {
		opts := []settlement.Option{settlement.WithLogger(a.logger)}
		if cfg.Backend.Token != "" {
			opts = append(opts, settlement.WithToken(cfg.Backend.Token))
		}
		backend, err := settlement.NewClient(cfg.Backend.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("invalid backend: %w", err)
		}
		a.backend = backend
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (session.Store, error) {
	switch a.cfg.Session.Store {
	case config.StoreMemory:
		return session.NewMemoryStore(), nil
	case config.StoreRedis:
		rc := a.cfg.Session.Redis
		store, err := session.NewRedisStore(ctx, session.RedisConfig{
			Address:   rc.Address,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
			TTL:       rc.TTL,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		return store, nil
	default:
		return session.NewFileStore(a.cfg.Session.Path)
	}
}

func (a *app) close() {
	if a.gatherer != nil {
		if err := prometheus.WriteToTextfile(a.cfg.Metrics.Textfile, a.gatherer); err != nil {
			a.logger.Warn("failed to write metrics", "path", a.cfg.Metrics.Textfile, "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func appFrom(cmd *cobra.Command) *app {
	if cmd == nil || cmd.Context() == nil {
		return nil
	}
	a, _ := cmd.Context().Value(appKey{}).(*app)
	return a
}

// restored returns the app after silently reconnecting the stored session
func restored(cmd *cobra.Command) *app {
	a := appFrom(cmd)
	a.controller.Restore(cmd.Context())
	return a
}
