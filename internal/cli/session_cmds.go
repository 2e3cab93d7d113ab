package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/sigweihq/agentpay/pkg/session"
	"github.com/spf13/cobra"
)

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <chain>",
		Short: "Connect the wallet for a chain",
		Long: `Connect the wallet of the chain's family and make the chain active.

Chains: eth, base, bnb, sol, tron (aliases such as ethereum, solana and bsc work too).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := chains.ParseChainID(args[0])
			if err != nil {
				return err
			}
			a := appFrom(cmd)
			s, err := a.controller.Connect(cmd.Context(), chain)
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), a, s)
			return nil
		},
	}
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the current wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appFrom(cmd).controller.Disconnect(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Disconnected")
			return nil
		},
	}
}

func newSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <chain>",
		Short: "Switch the active chain",
		Long:  `Switch the active chain. While connected this reconnects on the new chain; otherwise it only records the choice.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := chains.ParseChainID(args[0])
			if err != nil {
				return err
			}
			a := restored(cmd)
			s, err := a.controller.SwitchChain(cmd.Context(), chain)
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), a, s)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := restored(cmd)
			s := a.controller.Session()

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			printSession(cmd.OutOrStdout(), a, s)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print the session as JSON")
	return cmd
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the native balance of the connected address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := restored(cmd)
			adapter, desc, err := a.connected()
			if err != nil {
				return err
			}
			balance, err := adapter.GetNativeBalance(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", balance, desc.Currency.Symbol)
			return nil
		},
	}
}

// connected returns the active adapter, failing unless a wallet is connected
func (a *app) connected() (session.ChainAdapter, chains.ChainDescriptor, error) {
	s := a.controller.Session()
	if !s.Connected {
		return nil, chains.ChainDescriptor{}, fmt.Errorf("%w: run agentpay connect <chain> first", chains.ErrNotConnected)
	}
	adapter, err := a.controller.ActiveAdapter()
	if err != nil {
		return nil, chains.ChainDescriptor{}, err
	}
	desc, err := a.registry.Get(s.Chain)
	if err != nil {
		return nil, chains.ChainDescriptor{}, err
	}
	return adapter, desc, nil
}

func printSession(w io.Writer, a *app, s session.Session) {
	name := string(s.Chain)
	if desc, err := a.registry.Get(s.Chain); err == nil {
		name = desc.Name
	}

	switch {
	case s.Connected:
		fmt.Fprintf(w, "Connected: %s\n", s.Address)
		fmt.Fprintf(w, "Chain:     %s\n", name)
		fmt.Fprintf(w, "Wallet:    %s\n", s.Kind)
	case s.Chain != "":
		fmt.Fprintf(w, "Not connected (chain: %s)\n", name)
	default:
		fmt.Fprintln(w, "Not connected")
	}
	if s.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", s.LastError)
	}
}
