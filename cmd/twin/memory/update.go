package memorycmder

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/pkg/memory"
)

func newUpdateCmd() *cobra.Command {
	var (
		flags     storeFlags
		content   string
		embedding string
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace the content and embedding of a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			vec, err := parseEmbedding(embedding)
			if err != nil {
				return err
			}
			return withDriver(cmd, func(ctx context.Context, d memory.Driver) error {
				if err := d.Update(ctx, id, content, vec); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"id": id.String(), "status": "updated"})
			})
		},
	}

	cmd.Flags().StringVar(&content, "content", "", "New content")
	cmd.Flags().StringVar(&embedding, "embedding", "", `New embedding, e.g. "[0.1,0.2]"`)
	flags.register(cmd)

	return cmd
}
