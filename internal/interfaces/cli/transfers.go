package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"github.com/vipm/backend/internal/interfaces/http/dto"
)

type transferFilter struct {
	membershipID    string
	productID       string
	authorizationID string
}

func newTransfersCommand(opts *RootOptions, load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "Inspect and register legacy membership transfers",
	}
	cmd.AddCommand(newTransfersGetCommand(opts, load))
	cmd.AddCommand(newTransfersRegisterCommand(opts, load))
	return cmd
}

func newTransfersGetCommand(opts *RootOptions, load Loader) *cobra.Command {
	var f transferFilter
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show the transfers of a membership",
		Long: `List the transfers recorded for a membership, newest first. With both
--product and --authorization only the latest matching transfer is shown.

Examples:
  vipmctl transfers get --membership 7A1B2C3D4E5F
  vipmctl transfers get --membership 7A1B2C3D4E5F --product PRD-1 --authorization AUT-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, load, func(ctx context.Context, rt *Runtime) error {
				transfers, err := findTransfers(ctx, rt.Transfers, f)
				if err != nil {
					if errors.Is(err, fulfillment.ErrTransferNotFound) {
						return WrapExitError(ExitFailure, "no transfer found", err)
					}
					return WrapExitError(ExitCommandError, "failed to read transfers", err)
				}
				return printTransfers(newPrinter(cmd, opts), transfers)
			})
		},
	}
	cmd.Flags().StringVarP(&f.membershipID, "membership", "m", "", "legacy membership id (required)")
	_ = cmd.MarkFlagRequired("membership")
	cmd.Flags().StringVar(&f.productID, "product", "", "only transfers of this product")
	cmd.Flags().StringVar(&f.authorizationID, "authorization", "", "only transfers of this authorization")
	return cmd
}

func newTransfersRegisterCommand(opts *RootOptions, load Loader) *cobra.Command {
	var (
		f        transferFilter
		sellerID string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Record a membership to migrate",
		Long: `Record a pending transfer for a legacy membership. The next
process-transfers run submits it to the vendor. A membership whose latest
transfer has not failed is rejected.

Examples:
  vipmctl transfers register --product PRD-1 --authorization AUT-1 --seller SEL-1 --membership 7A1B2C3D4E5F`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, load, func(ctx context.Context, rt *Runtime) error {
				transfer, err := rt.Reconciler.Register(ctx, f.productID, f.authorizationID, sellerID, f.membershipID)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to register transfer", err)
				}
				return printTransfers(newPrinter(cmd, opts), []*fulfillment.Transfer{transfer})
			})
		},
	}
	cmd.Flags().StringVar(&f.productID, "product", "", "product id (required)")
	cmd.Flags().StringVar(&f.authorizationID, "authorization", "", "authorization id (required)")
	cmd.Flags().StringVar(&sellerID, "seller", "", "platform seller id (required)")
	cmd.Flags().StringVarP(&f.membershipID, "membership", "m", "", "legacy membership id (required)")
	for _, name := range []string{"product", "authorization", "seller", "membership"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func findTransfers(ctx context.Context, transfers fulfillment.TransferReader, f transferFilter) ([]*fulfillment.Transfer, error) {
	if f.productID != "" && f.authorizationID != "" {
		t, err := transfers.FindByMembership(ctx, f.productID, f.authorizationID, f.membershipID)
		if err != nil {
			return nil, err
		}
		return []*fulfillment.Transfer{t}, nil
	}

	all, err := transfers.ListByMembership(ctx, f.membershipID)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, t := range all {
		if f.productID != "" && t.ProductID != f.productID {
			continue
		}
		if f.authorizationID != "" && t.AuthorizationID != f.authorizationID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func printTransfers(p *printer, transfers []*fulfillment.Transfer) error {
	resp := dto.NewTransferResponses(transfers)
	return p.print(resp, func(w io.Writer) {
		fmt.Fprintln(w, "ID\tPRODUCT\tAUTHORIZATION\tMEMBERSHIP\tSTATUS\tCUSTOMER\tRETRIES\tUPDATED")
		for _, t := range resp {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				t.ID, t.ProductID, t.AuthorizationID, t.MembershipID, t.Status,
				dash(t.CustomerID), t.RetryCount, t.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	})
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
