package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	app "github.com/vipm/backend/internal/application/fulfillment"
)

// productReport is one product's line of a reconcile pass
type productReport struct {
	ProductID string `json:"product_id"`
	app.ReconcileReport
	Error string `json:"error,omitempty"`
}

type reconcileStep func(rt *Runtime) func(ctx context.Context, productID string) (*app.ReconcileReport, error)

func newProcessTransfersCommand(opts *RootOptions, load Loader) *cobra.Command {
	return newReconcileCommand(opts, load, &cobra.Command{
		Use:   "process-transfers",
		Short: "Submit pending legacy membership transfers to the vendor",
		Long: `Submit every pending transfer of the selected products to the vendor.
Products default to fulfillment.product_ids of the configuration.

Examples:
  vipmctl process-transfers
  vipmctl process-transfers --product PRD-1111-1111`,
	}, func(rt *Runtime) func(context.Context, string) (*app.ReconcileReport, error) {
		return rt.Reconciler.StartPending
	})
}

func newCheckRunningTransfersCommand(opts *RootOptions, load Loader) *cobra.Command {
	return newReconcileCommand(opts, load, &cobra.Command{
		Use:   "check-running-transfers",
		Short: "Check submitted transfers and synchronize finished ones",
		Long: `Poll the vendor for every running transfer of the selected products.
Processed transfers are synchronized to the platform; transfers that keep
running past the retry limit are failed.

Examples:
  vipmctl check-running-transfers
  vipmctl check-running-transfers --product PRD-1111-1111 --format json`,
	}, func(rt *Runtime) func(context.Context, string) (*app.ReconcileReport, error) {
		return rt.Reconciler.CheckRunning
	})
}

func newReconcileCommand(opts *RootOptions, load Loader, cmd *cobra.Command, step reconcileStep) *cobra.Command {
	var products []string
	cmd.Args = cobra.NoArgs
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, opts, load, func(ctx context.Context, rt *Runtime) error {
			ids := products
			if len(ids) == 0 {
				ids = rt.ProductIDs
			}
			if len(ids) == 0 {
				return WrapExitError(ExitCommandError, "no products selected",
					errors.New("pass --product or set fulfillment.product_ids"))
			}

			run := step(rt)
			reports := make([]productReport, 0, len(ids))
			failed := false
			for _, productID := range ids {
				line := productReport{ProductID: productID}
				report, err := run(ctx, productID)
				if err != nil {
					line.Error = err.Error()
					failed = true
				} else {
					line.ReconcileReport = *report
					failed = failed || report.Errors > 0
				}
				reports = append(reports, line)
			}

			if err := newPrinter(cmd, opts).print(reports, func(w io.Writer) {
				fmt.Fprintln(w, "PRODUCT\tCHECKED\tSTARTED\tRESCHEDULED\tRUNNING\tSYNCHRONIZED\tFAILED\tERRORS")
				for _, r := range reports {
					if r.Error != "" {
						fmt.Fprintf(w, "%s\terror: %s\n", r.ProductID, r.Error)
						continue
					}
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n", r.ProductID,
						r.Checked, r.Started, r.Rescheduled, r.StillRunning, r.Synchronized, r.Failed, r.Errors)
				}
			}); err != nil {
				return err
			}
			if failed {
				return &ExitError{Code: ExitFailure, Message: "some transfers could not be reconciled"}
			}
			return nil
		})
	}
	cmd.Flags().StringSliceVarP(&products, "product", "p", nil, "product id to reconcile (repeatable)")
	return cmd
}
