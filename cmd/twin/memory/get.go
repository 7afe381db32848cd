package memorycmder

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/pkg/memory"
)

func newGetCmd() *cobra.Command {
	flags := &storeFlags{}

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Recall a memory by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withDriver(cmd, func(ctx context.Context, d memory.Driver) error {
				rec, err := d.Retrieve(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}

	flags.register(cmd)

	return cmd
}
