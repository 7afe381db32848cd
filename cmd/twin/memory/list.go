package memorycmder

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/pkg/memory"
)

func newListCmd() *cobra.Command {
	var (
		flags  storeFlags
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDriver(cmd, func(ctx context.Context, d memory.Driver) error {
				page, err := d.ListPaginated(ctx, limit, offset)
				if err != nil {
					return err
				}
				if page.Records == nil {
					page.Records = []*memory.Record{}
				}
				return printJSON(cmd.OutOrStdout(), page)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of records to skip")
	flags.register(cmd)

	return cmd
}
