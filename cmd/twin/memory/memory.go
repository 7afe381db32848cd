// Package memorycmder provides the memory command for storing, recalling and
// searching memory records from the terminal. Every subcommand prints JSON on
// stdout.
package memorycmder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/cmd/twin/cmdutil"
	"github.com/papercomputeco/twin/pkg/config"
	"github.com/papercomputeco/twin/pkg/memory"
	memoryutils "github.com/papercomputeco/twin/pkg/memory/utils"
)

const memoryLongDesc string = `Store, recall and search memories.

Each subcommand builds the configured store stack, including its cache tiers,
runs one operation and prints the result as JSON. Embeddings are given in
bracketed form, for example --embedding "[0.1,0.2,0.3]", and must match the
configured vector dimension.

Examples:
  twin memory store --kind knowledge --content "Go uses goroutines" --embedding "[...]"
  twin memory get 6f1c2f0e-2b8e-4a53-9b0c-0c1e0a7d3f11
  twin memory search --embedding "[...]" --limit 5
  twin memory list --limit 20 --offset 40`

const memoryShortDesc string = "Store, recall and search memories"

var flagKeys = []string{
	config.FlagProvider,
	config.FlagSQLite,
	config.FlagDimension,
}

// storeFlags are the store selection flags every subcommand accepts.
type storeFlags struct {
	provider   string
	sqlitePath string
	dimension  int
}

func (f *storeFlags) register(cmd *cobra.Command) {
	config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &f.provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &f.sqlitePath)
	config.AddIntFlag(cmd, config.Flags, config.FlagDimension, &f.dimension)
}

func NewMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: memoryShortDesc,
		Long:  memoryLongDesc,
	}

	cmd.AddCommand(newStoreCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newDeleteCmd())

	return cmd
}

// withDriver builds the store stack, runs fn against its driver and closes
// the stack, flushing pending invalidations.
func withDriver(cmd *cobra.Command, fn func(ctx context.Context, d memory.Driver) error) (err error) {
	env, err := cmdutil.Load(cmd, flagKeys, os.Stderr)
	if err != nil {
		return err
	}

	stack, err := memoryutils.NewStack(cmd.Context(), &memoryutils.NewStackOpts{
		Config:    env.Config,
		Secrets:   env.Secrets,
		ConfigDir: env.ConfigDir,
		Logger:    env.Logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stack.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(cmd.Context(), stack.Driver)
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid memory id %q: %w", s, err)
	}
	return id, nil
}

func parseEmbedding(s string) ([]float32, error) {
	if s == "" {
		return nil, errors.New("--embedding is required")
	}
	return memory.ParseVector(s)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
