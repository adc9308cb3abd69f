// Package cli implements vipmctl, the operator command line of the
// fulfillment service.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	app "github.com/vipm/backend/internal/application/fulfillment"
	"github.com/vipm/backend/internal/domain/fulfillment"
)

// ValidFormats are the accepted --format values
var ValidFormats = []string{"text", "json"}

// RootOptions holds the global flags
type RootOptions struct {
	ConfigPath string
	Format     string
	LogLevel   string
}

// Fulfiller runs one fulfillment invocation for an order
type Fulfiller interface {
	FulfillByID(ctx context.Context, orderID string) (app.Result, error)
}

// Reconciler advances legacy membership transfers
type Reconciler interface {
	Register(ctx context.Context, productID, authorizationID, sellerID, membershipID string) (*fulfillment.Transfer, error)
	StartPending(ctx context.Context, productID string) (*app.ReconcileReport, error)
	CheckRunning(ctx context.Context, productID string) (*app.ReconcileReport, error)
}

// Runtime is what the commands operate on
type Runtime struct {
	Fulfiller  Fulfiller
	Reconciler Reconciler
	Transfers  fulfillment.TransferReader
	ProductIDs []string
	Close      func() error
}

// Loader builds the runtime from the global flags
type Loader func(ctx context.Context, opts *RootOptions) (*Runtime, error)

// NewRootCommand creates the vipmctl root command
func NewRootCommand(load Loader) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "vipmctl",
		Short: "Operate the VIPM fulfillment service",
		Long: `vipmctl runs fulfillment and legacy membership migration steps by hand,
against the same database, vendor and platform as the service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config.toml")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(newFulfillCommand(opts, load))
	cmd.AddCommand(newProcessTransfersCommand(opts, load))
	cmd.AddCommand(newCheckRunningTransfersCommand(opts, load))
	cmd.AddCommand(newTransfersCommand(opts, load))

	return cmd
}

// withRuntime loads the runtime, runs fn and releases the runtime
func withRuntime(cmd *cobra.Command, opts *RootOptions, load Loader, fn func(ctx context.Context, rt *Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := load(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	if rt.Close != nil {
		defer func() {
			_ = rt.Close()
		}()
	}
	return fn(ctx, rt)
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
