// Package migratecmder provides the migrate command that creates the memory
// schema in the configured store.
package migratecmder

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/cmd/twin/cmdutil"
	"github.com/papercomputeco/twin/pkg/cliui"
	"github.com/papercomputeco/twin/pkg/config"
	"github.com/papercomputeco/twin/pkg/logger"
	"github.com/papercomputeco/twin/pkg/memory"
	memoryutils "github.com/papercomputeco/twin/pkg/memory/utils"
	"github.com/papercomputeco/twin/pkg/pool"
)

type MigrateCommander struct {
	provider   string
	sqlitePath string
	dimension  int
}

var flagKeys = []string{
	config.FlagProvider,
	config.FlagSQLite,
	config.FlagDimension,
}

const migrateLongDesc string = `Create the memory schema.

Connects to the configured store and creates the memories table, its vector
index and supporting indexes when they do not exist. Running it against an
existing schema is a no-op, but a schema created with a different vector
dimension is reported as an error.`

const migrateShortDesc string = "Create the memory schema"

func NewMigrateCmd() *cobra.Command {
	cmder := &MigrateCommander{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: migrateShortDesc,
		Long:  migrateLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Load(cmd, flagKeys, os.Stderr)
			if err != nil {
				return err
			}
			return cmder.run(cmd.Context(), cmd, env)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &cmder.provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddIntFlag(cmd, config.Flags, config.FlagDimension, &cmder.dimension)

	return cmd
}

func (c *MigrateCommander) run(ctx context.Context, cmd *cobra.Command, env *cmdutil.Env) error {
	cfg := env.Config
	if err := cfg.Validate(env.Secrets); err != nil {
		return err
	}

	// Spinner output would interleave with log lines.
	log := logger.Nop()
	w := cmd.OutOrStdout()
	fmt.Fprintln(w)

	var pools *pool.Pools
	err := cliui.Step(w, "Opening connection pools", func() error {
		var err error
		pools, err = memoryutils.NewPools(ctx, cfg, env.Secrets, log)
		return err
	})
	if err != nil {
		return err
	}
	defer pools.Close()

	sqlitePath := ""
	if cfg.Store.Provider == config.ProviderSQLite {
		sqlitePath, err = memoryutils.SQLitePath(cfg, env.ConfigDir)
		if err != nil {
			return err
		}
	}

	var driver memory.Driver
	msg := fmt.Sprintf("Creating %s schema (dimension %d)", cfg.Store.Provider, cfg.Store.VectorDimension)
	err = cliui.Step(w, msg, func() error {
		var err error
		driver, err = memoryutils.NewDriver(ctx, &memoryutils.NewDriverOpts{
			ProviderType: cfg.Store.Provider,
			Dimension:    cfg.Store.VectorDimension,
			SQLitePath:   sqlitePath,
			Source:       pools,
			Logger:       log,
		})
		return err
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	return driver.Close()
}
