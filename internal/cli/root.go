// Package cli implements posctl, the operator tool for a point of sale's
// local order queue.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/localqueue"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

// RemoteFunc connects to the remote order store. The returned func releases
// the connection.
type RemoteFunc func(ctx context.Context) (orders.RemoteStore, func(), error)

type RootOptions struct {
	Verbose   bool
	Format    string // "text" | "json" | "yaml"
	QueuePath string

	Remote RemoteFunc
}

var ValidFormats = []string{"text", "json", "yaml"}

func NewRootCommand(queuePath string, remote RemoteFunc) *cobra.Command {
	opts := &RootOptions{Remote: remote}

	cmd := &cobra.Command{
		Use:   "posctl",
		Short: "Inspect and drain the point of sale order queue",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.QueuePath, "queue", queuePath, "path of the local queue file")

	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewMenuCommand(opts))
	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) openQueue() (*localqueue.Queue, error) {
	q, err := localqueue.Open(o.QueuePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open queue", err)
	}
	return q, nil
}
