// Package twincmder
package twincmder

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/cmd/twin/cmdutil"
	configcmder "github.com/papercomputeco/twin/cmd/twin/config"
	healthcmder "github.com/papercomputeco/twin/cmd/twin/health"
	memorycmder "github.com/papercomputeco/twin/cmd/twin/memory"
	migratecmder "github.com/papercomputeco/twin/cmd/twin/migrate"
	servecmder "github.com/papercomputeco/twin/cmd/twin/serve"
	versioncmder "github.com/papercomputeco/twin/cmd/version"
)

const twinLongDesc string = `Twin is the memory store behind your digital twin.

Memories are typed pieces of content paired with embedding vectors, stored in
PostgreSQL (pgvector) or SQLite (sqlite-vec) and fronted by a two-tier cache.

Commands:
  twin serve      Run the memory API server
  twin health     Check pool and cache health
  twin migrate    Create the memory schema
  twin memory     Store, recall and search memories
  twin config     Manage persistent configuration`

const twinShortDesc string = "Twin - memory persistence for AI assistants"

func NewTwinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "twin",
		Short:         twinShortDesc,
		Long:          twinLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Global flags
	cmd.PersistentFlags().BoolP(cmdutil.FlagDebug, "d", false, "Enable debug logging")
	cmd.PersistentFlags().String(cmdutil.FlagConfigDir, "", "Override the .twin/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(healthcmder.NewHealthCmd())
	cmd.AddCommand(migratecmder.NewMigrateCmd())
	cmd.AddCommand(memorycmder.NewMemoryCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
