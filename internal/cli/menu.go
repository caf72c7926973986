package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/menu"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

type MenuSummary struct {
	RestaurantID string                    `json:"restaurant_id" yaml:"restaurant_id"`
	Items        int                       `json:"items" yaml:"items"`
	Departments  map[orders.Department]int `json:"departments" yaml:"departments"`
}

func NewMenuCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "menu",
		Short: "Work with menu directory exports",
	}
	cmd.AddCommand(&cobra.Command{
		Use:          "check <file>",
		Short:        "Validate a YAML menu export",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := menu.LoadFile(args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "invalid menu "+args[0], err)
			}
			sum := MenuSummary{RestaurantID: f.RestaurantID, Items: len(f.Items), Departments: map[orders.Department]int{}}
			for _, it := range f.Items {
				sum.Departments[it.Department]++
			}
			return rootOpts.formatter(cmd).Render(sum, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "menu ok: restaurant=%s items=%d kitchen=%d bar=%d\n",
					sum.RestaurantID, sum.Items, sum.Departments[orders.DeptKitchen], sum.Departments[orders.DeptBar])
				return err
			})
		},
	})
	return cmd
}
