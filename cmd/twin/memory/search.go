package memorycmder

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/pkg/memory"
)

const searchLongDesc string = `Search memories by similarity.

Returns at most --limit records ordered from most to least similar to the
given embedding by cosine distance.`

func newSearchCmd() *cobra.Command {
	var (
		flags     storeFlags
		embedding string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search memories by similarity",
		Long:  searchLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query, err := parseEmbedding(embedding)
			if err != nil {
				return err
			}
			return withDriver(cmd, func(ctx context.Context, d memory.Driver) error {
				records, err := d.Search(ctx, query, limit)
				if err != nil {
					return err
				}
				if records == nil {
					records = []*memory.Record{}
				}
				return printJSON(cmd.OutOrStdout(), records)
			})
		},
	}

	cmd.Flags().StringVar(&embedding, "embedding", "", `Query vector, e.g. "[0.1,0.2]"`)
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	flags.register(cmd)

	return cmd
}
