package memorycmder

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/pkg/memory"
)

func newDeleteCmd() *cobra.Command {
	flags := &storeFlags{}

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withDriver(cmd, func(ctx context.Context, d memory.Driver) error {
				if err := d.Delete(ctx, id); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"id": id.String(), "status": "deleted"})
			})
		},
	}

	flags.register(cmd)

	return cmd
}
