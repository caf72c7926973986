package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/localqueue"
)

func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect orders staged while offline",
	}

	var restaurant string
	list := &cobra.Command{
		Use:          "list",
		Short:        "List staged orders in creation order",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := rootOpts.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			entries, err := q.List(cmd.Context(), restaurant)
			if err != nil {
				return WrapExitError(ExitCommandError, "list queue", err)
			}
			return rootOpts.formatter(cmd).Render(entries, func(w io.Writer) error {
				return writeEntries(w, entries)
			})
		},
	}
	list.Flags().StringVar(&restaurant, "restaurant", "", "only entries of this restaurant")

	show := &cobra.Command{
		Use:          "show <client_id>",
		Short:        "Show one staged order",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := rootOpts.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			e, err := q.Get(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "show "+args[0], err)
			}
			return rootOpts.formatter(cmd).Render(e, func(w io.Writer) error {
				return writeEntry(w, e)
			})
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func writeEntries(w io.Writer, entries []localqueue.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tCLIENT_ID\tRESTAURANT\tSTATE\tATTEMPTS\tNEXT_ATTEMPT\tITEMS\tTOTAL")
	failed := 0
	for _, e := range entries {
		if e.State == localqueue.StateFailed {
			failed++
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			e.Seq, e.ClientID, e.RestaurantID, e.State, e.Attempts,
			nextAttempt(e), len(e.Payload.Items), money(e.Payload.Total()))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d entries (%d failed)\n", len(entries), failed)
	return err
}

func writeEntry(w io.Writer, e localqueue.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "client_id:\t%s\n", e.ClientID)
	fmt.Fprintf(tw, "restaurant:\t%s\n", e.RestaurantID)
	fmt.Fprintf(tw, "type:\t%s\n", e.Payload.Type)
	fmt.Fprintf(tw, "state:\t%s\n", e.State)
	fmt.Fprintf(tw, "attempts:\t%d\n", e.Attempts)
	fmt.Fprintf(tw, "next_attempt:\t%s\n", nextAttempt(e))
	if e.LastError != "" {
		fmt.Fprintf(tw, "last_error:\t%s\n", e.LastError)
	}
	fmt.Fprintf(tw, "created:\t%s\n", e.CreatedAt.UTC().Format(time.RFC3339))
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, it := range e.Payload.Items {
		if _, err := fmt.Fprintf(w, "  %dx %s @ %s\n", it.Quantity, it.MenuItemID, money(it.PriceCents)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "total: %s\n", money(e.Payload.Total()))
	return err
}

func nextAttempt(e localqueue.Entry) string {
	if e.NextAttemptAt == nil {
		return "-"
	}
	return e.NextAttemptAt.UTC().Format(time.RFC3339)
}

func money(cents int) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
