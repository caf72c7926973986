package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/syncer"
)

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push every staged order to the remote store now",
		Long: `Runs one drain in creation order, ignoring retry backoff. Stops at the
first connectivity failure; entries that fail for other reasons stay queued.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.Remote == nil {
				return NewExitError(ExitCommandError, "no remote store configured")
			}
			q, err := rootOpts.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			store, release, err := rootOpts.Remote(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "connect remote store", err)
			}
			defer release()

			f := rootOpts.formatter(cmd)
			m := syncer.New(store, q, syncer.Config{})
			events, stop := m.Subscribe(64)
			rep, err := m.SyncNow(cmd.Context())
			stop()
			for ev := range events {
				f.VerboseLog("%s client_id=%s order_id=%s reason=%s", ev.Type, ev.ClientID, ev.OrderID, ev.Reason)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "sync", err)
			}
			if err := f.Render(rep, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "synced=%d failed=%d skipped=%d remaining=%d\n", rep.Synced, rep.Failed, rep.Skipped, rep.Remaining)
				return err
			}); err != nil {
				return err
			}
			if rep.Remaining > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d entries still queued", rep.Remaining))
			}
			return nil
		},
	}
}
