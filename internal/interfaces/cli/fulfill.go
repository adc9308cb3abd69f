package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vipm/backend/internal/interfaces/http/dto"
	"github.com/vipm/backend/internal/interfaces/http/middleware"
)

func newFulfillCommand(opts *RootOptions, load Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "fulfill <order-id>",
		Short: "Run one fulfillment invocation for an order",
		Long: `Load the order from the platform and advance it by one invocation,
exactly as a queued job would.

Examples:
  vipmctl fulfill PR-1234-5678-9012
  vipmctl fulfill PR-1234-5678-9012 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID := args[0]
			if !middleware.ValidOrderID(orderID) {
				return WrapExitError(ExitCommandError, "invalid order id", fmt.Errorf("%q", orderID))
			}
			return withRuntime(cmd, opts, load, func(ctx context.Context, rt *Runtime) error {
				result, err := rt.Fulfiller.FulfillByID(ctx, orderID)
				if err != nil {
					return WrapExitError(ExitFailure, "fulfillment failed", err)
				}
				resp := dto.NewResultResponse(result)
				return newPrinter(cmd, opts).print(resp, func(w io.Writer) {
					fmt.Fprintf(w, "order\t%s\n", resp.OrderID)
					fmt.Fprintf(w, "type\t%s\n", resp.OrderType)
					fmt.Fprintf(w, "outcome\t%s\n", resp.Outcome)
					if resp.Reason != "" {
						fmt.Fprintf(w, "reason\t%s\n", resp.Reason)
					}
					if resp.VendorOrderID != "" {
						fmt.Fprintf(w, "vendor order\t%s\n", resp.VendorOrderID)
					}
				})
			})
		},
	}
}
