package memorycmder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/pkg/memory"
)

type storeCommander struct {
	storeFlags

	kind      string
	content   string
	embedding string
	metadata  string
}

const storeLongDesc string = `Store a new memory.

The content is sanitized and the metadata validated before anything is
written. Prints the assigned id.

Kinds: conversation, knowledge, experience, skill, preference.`

func newStoreCmd() *cobra.Command {
	cmder := &storeCommander{}

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store a new memory",
		Long:  storeLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := cmder.record()
			if err != nil {
				return err
			}
			return withDriver(cmd, func(ctx context.Context, d memory.Driver) error {
				id, err := d.Store(ctx, rec)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"id": id.String()})
			})
		},
	}

	cmd.Flags().StringVar(&cmder.kind, "kind", string(memory.KindKnowledge), "Memory kind")
	cmd.Flags().StringVar(&cmder.content, "content", "", "Memory content")
	cmd.Flags().StringVar(&cmder.embedding, "embedding", "", `Embedding vector, e.g. "[0.1,0.2]"`)
	cmd.Flags().StringVar(&cmder.metadata, "metadata", "", "Metadata as a JSON object")
	cmder.register(cmd)

	return cmd
}

func (c *storeCommander) record() (*memory.Record, error) {
	kind, err := memory.ParseKind(c.kind)
	if err != nil {
		return nil, err
	}

	embedding, err := parseEmbedding(c.embedding)
	if err != nil {
		return nil, err
	}

	var metadata map[string]any
	if c.metadata != "" {
		if err := json.Unmarshal([]byte(c.metadata), &metadata); err != nil {
			return nil, fmt.Errorf("parsing --metadata: %w", err)
		}
	}

	return &memory.Record{
		Kind:      kind,
		Content:   c.content,
		Embedding: embedding,
		Metadata:  metadata,
	}, nil
}
