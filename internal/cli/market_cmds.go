package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/sigweihq/agentpay/pkg/chains/evm"
	"github.com/sigweihq/agentpay/pkg/constants"
	"github.com/sigweihq/agentpay/pkg/settlement"
	"github.com/sigweihq/agentpay/pkg/types"
	"github.com/spf13/cobra"
)

type minter interface {
	MintAgent(ctx context.Context, req chains.MintRequest) (*chains.TransactionOutcome, error)
}

type delister interface {
	DelistAgent(ctx context.Context, tokenID string) (*chains.TransactionOutcome, error)
}

var errBackendRequired = errors.New("backend.url must be configured for this command")

func newPayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay <amount>",
		Short: "Pay the platform fee collector in native currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := restored(cmd)
			adapter, desc, err := a.connected()
			if err != nil {
				return err
			}
			outcome, err := adapter.SendPayment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), desc, outcome)
			return nil
		},
	}
}

func newMintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint an agent on the active chain",
		Long: `Mint an agent token. EVM chains and TRON call the marketplace contract;
Solana records creation with a registration fee payment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := restored(cmd)
			adapter, desc, err := a.connected()
			if err != nil {
				return err
			}
			m, ok := adapter.(minter)
			if !ok {
				return fmt.Errorf("%w: %s cannot mint agents", chains.ErrUnsupportedChain, desc.ID)
			}

			req := chains.MintRequest{}
			req.Name, _ = cmd.Flags().GetString("name")
			req.Description, _ = cmd.Flags().GetString("description")
			req.Capabilities, _ = cmd.Flags().GetStringSlice("capability")
			req.ModelType, _ = cmd.Flags().GetString("model-type")
			req.TokenURI, _ = cmd.Flags().GetString("token-uri")

			outcome, err := m.MintAgent(cmd.Context(), req)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), desc, outcome)

			if a.backend == nil {
				return nil
			}
			reg := settlement.AgentFromMint(outcome, adapter.Address(), req)
			if _, err := a.backend.RegisterAgent(cmd.Context(), reg); err != nil {
				return settled(outcome, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Registered with marketplace")
			return nil
		},
	}
	cmd.Flags().String("name", "", "Agent name")
	cmd.Flags().String("description", "", "Agent description")
	cmd.Flags().StringSlice("capability", nil, "Agent capability (repeatable)")
	cmd.Flags().String("model-type", "", "Underlying model type")
	cmd.Flags().String("token-uri", "", "Metadata URI")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <token-id> <price>",
		Short: "List an agent for sale",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := restored(cmd)
			if _, _, err := a.connected(); err != nil {
				return err
			}
			market, err := a.controller.Marketplace()
			if err != nil {
				return err
			}
			desc, err := a.registry.Get(market.Chain())
			if err != nil {
				return err
			}

			tokenID, price := args[0], args[1]
			outcome, err := market.ListAgent(cmd.Context(), tokenID, price)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), desc, outcome)

			if a.backend == nil {
				return nil
			}
			listing, err := a.backend.RecordListing(cmd.Context(), settlement.ListingFromOutcome(outcome, tokenID, price, market.Address()))
			if err != nil {
				return settled(outcome, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Listing:     %s\n", listing.ID)
			return nil
		},
	}
}

func newBuyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buy <token-id|seller> <price>",
		Short: "Buy a listed agent",
		Long: `Buy a listed agent at price.

On EVM chains and TRON the first argument is the token id and the marketplace
contract settles the sale. On Solana it is the seller's address: one
transaction pays the seller and the platform fee share.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := restored(cmd)
			adapter, desc, err := a.connected()
			if err != nil {
				return err
			}

			var outcome *chains.TransactionOutcome
			if desc.Family() == chains.FamilySolana {
				sol, err := a.controller.Solana()
				if err != nil {
					return err
				}
				feePercent, _ := cmd.Flags().GetFloat64("fee-percent")
				if outcome, err = sol.BuyAgent(cmd.Context(), args[0], args[1], feePercent); err != nil {
					return err
				}
			} else {
				market, err := a.controller.Marketplace()
				if err != nil {
					return err
				}
				if outcome, err = market.BuyAgent(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
			}
			printOutcome(cmd.OutOrStdout(), desc, outcome)

			listingID, _ := cmd.Flags().GetString("listing-id")
			if a.backend == nil || listingID == "" {
				return nil
			}
			if _, err := a.backend.RecordPurchase(cmd.Context(), listingID, types.PurchaseRecord{Buyer: adapter.Address(), TxHash: outcome.TxHash}); err != nil {
				return settled(outcome, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Purchase recorded")
			return nil
		},
	}
	cmd.Flags().String("listing-id", "", "Marketplace listing to mark as sold")
	cmd.Flags().Float64("fee-percent", constants.PlatformFeePercent, "Platform share of a Solana purchase, as a fraction")
	return cmd
}

func newDelistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delist <token-id>",
		Short: "Remove an agent listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := restored(cmd)
			adapter, desc, err := a.connected()
			if err != nil {
				return err
			}
			d, ok := adapter.(delister)
			if !ok {
				return fmt.Errorf("%w: %s has no marketplace contract", chains.ErrUnsupportedChain, desc.ID)
			}
			outcome, err := d.DelistAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), desc, outcome)

			listingID, _ := cmd.Flags().GetString("listing-id")
			if a.backend == nil || listingID == "" {
				return nil
			}
			if err := a.backend.Delist(cmd.Context(), listingID, types.DelistRecord{TxHash: outcome.TxHash}); err != nil {
				return settled(outcome, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Listing removed")
			return nil
		},
	}
	cmd.Flags().String("listing-id", "", "Marketplace listing to remove")
	return cmd
}

func newRentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rent <listing-id> <amount>",
		Short: "Pay for and start an agent rental",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := restored(cmd)
			if a.backend == nil {
				return errBackendRequired
			}
			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				return fmt.Errorf("--days must be positive, got %d", days)
			}
			adapter, desc, err := a.connected()
			if err != nil {
				return err
			}

			outcome, err := adapter.SendPayment(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), desc, outcome)

			rental, err := a.backend.CreateRental(cmd.Context(), types.RentalRecord{
				ListingID:    args[0],
				Renter:       adapter.Address(),
				DurationDays: days,
				TxHash:       outcome.TxHash,
			})
			if err != nil {
				return settled(outcome, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rental:      %s\n", rental.ID)
			return nil
		},
	}
	cmd.Flags().Int("days", 1, "Rental duration in days")
	return cmd
}

func newBidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bid <auction-id> <amount>",
		Short: "Pay and record an auction bid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := restored(cmd)
			if a.backend == nil {
				return errBackendRequired
			}
			adapter, desc, err := a.connected()
			if err != nil {
				return err
			}

			outcome, err := adapter.SendPayment(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), desc, outcome)

			bid, err := a.backend.RecordBid(cmd.Context(), args[0], types.BidRecord{
				Bidder: adapter.Address(),
				Amount: args[1],
				TxHash: outcome.TxHash,
			})
			if err != nil {
				return settled(outcome, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bid:         %s\n", bid.ID)
			return nil
		},
	}
}

func newTxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tx <hash>",
		Short: "Look up a transaction on the active chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := restored(cmd)
			ctx, hash, out := cmd.Context(), args[0], cmd.OutOrStdout()

			adapter, err := a.controller.ActiveAdapter()
			if err != nil {
				return err
			}
			switch adapter.Chain().Family() {
			case chains.FamilyEVM:
				e, err := a.controller.EVM()
				if err != nil {
					return err
				}
				receipt, err := e.GetTransactionReceipt(ctx, hash)
				if evm.IsNotFound(err) {
					fmt.Fprintln(out, "Status: pending")
					return nil
				}
				if err != nil {
					return err
				}
				status := "failed"
				if receipt.IsSuccessful() {
					status = "success"
				}
				fmt.Fprintf(out, "Status: %s\nBlock:  %s\n", status, receipt.BlockNumber())
			case chains.FamilySolana:
				s, err := a.controller.Solana()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Status: %s\n", s.GetTransactionStatus(ctx, hash))
			case chains.FamilyTron:
				t, err := a.controller.Tron()
				if err != nil {
					return err
				}
				info, err := t.GetTransactionInfo(ctx, hash)
				if err != nil {
					return err
				}
				switch {
				case !info.Found():
					fmt.Fprintln(out, "Status: pending")
				case info.Failed():
					fmt.Fprintf(out, "Status: failed\nReason: %s\n", info.ResMessage)
				default:
					fmt.Fprintf(out, "Status: success\nBlock:  %d\n", info.BlockNumber)
				}
			}
			return nil
		},
	}
}

// settled reports a backend failure without losing the confirmed transaction
func settled(outcome *chains.TransactionOutcome, err error) error {
	return fmt.Errorf("transaction %s succeeded but marketplace settlement failed: %w", outcome.TxHash, err)
}

func printOutcome(w io.Writer, desc chains.ChainDescriptor, outcome *chains.TransactionOutcome) {
	fmt.Fprintf(w, "Transaction: %s\n", outcome.TxHash)
	if outcome.TokenID != "" {
		fmt.Fprintf(w, "Token:       %s\n", outcome.TokenID)
	}
	if link := desc.ExplorerTxURL(outcome.TxHash); link != "" {
		fmt.Fprintf(w, "Explorer:    %s\n", link)
	}
}
