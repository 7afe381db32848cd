// Package configcmder provides the config command for managing persistent
// twin configuration stored in the .twin/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/cmd/twin/cmdutil"
	"github.com/papercomputeco/twin/pkg/cliui"
	"github.com/papercomputeco/twin/pkg/config"
)

const configLongDesc string = `Manage persistent twin configuration.

Configuration is stored as config.toml in the .twin/ directory and provides
default values for command flags. TWIN_* environment variables override the
file, and CLI flags override both. Passwords are never stored here; set
TWIN_SQL_PASSWORD and TWIN_KV_PASSWORD in the environment or in .twin/.env.

Keys use dotted notation matching the TOML section structure, for example:
  store.provider, store.vector_dimension, store.sqlite_path,
  pools.sql.host, pools.sql.max_connections, pools.kv.url,
  cache.remote_url, cache.invalidation, cache.memory_capacity,
  events.provider, events.brokers, logging.level, logging.format

Use subcommands to get, set, or list configuration values:
  twin config set <key> <value>    Set a configuration value
  twin config get <key>            Get a configuration value
  twin config list                 List all configuration values

Examples:
  twin config set store.provider postgres
  twin config set cache.invalidation delayed
  twin config get store.provider
  twin config list`

const configShortDesc string = "Manage persistent twin configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func configDirFlag(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString(cmdutil.FlagConfigDir)
	return dir
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func checkKey(key string) error {
	if !config.IsValidConfigKey(key) {
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
			key, strings.Join(config.ValidConfigKeys(), ", "))
	}
	return nil
}

func openConfiger(w io.Writer, configDir string) (*config.Configer, error) {
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
	} else {
		fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
	}

	return cfger, nil
}
