package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --provider
// on both "twin serve" and "twin migrate").
type Flag struct {
	// Name is the long flag name (e.g. "provider").
	Name string

	// Shorthand is the one-letter short flag (e.g. "p"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "store.provider").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddIntFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagListen       = "listen"
	FlagProvider     = "provider"
	FlagSQLite       = "sqlite"
	FlagDimension    = "dimension"
	FlagSQLHost      = "sql-host"
	FlagSQLPort      = "sql-port"
	FlagSQLDatabase  = "sql-database"
	FlagSQLUser      = "sql-user"
	FlagKVURL        = "kv-url"
	FlagCacheURL     = "cache-url"
	FlagInvalidation = "invalidation"
	FlagEvents       = "events"
	FlagLogLevel     = "log-level"
	FlagLogFormat    = "log-format"
)

// Flags is the flag registry shared by every twin command.
var Flags = FlagSet{
	FlagListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "Address for the memory API server to listen on",
	},
	FlagProvider: {
		Name:        "provider",
		Shorthand:   "p",
		ViperKey:    "store.provider",
		Description: "Memory store provider (postgres, sqlite, inmemory)",
	},
	FlagSQLite: {
		Name:        "sqlite",
		Shorthand:   "s",
		ViperKey:    "store.sqlite_path",
		Description: "Path to the SQLite database file",
	},
	FlagDimension: {
		Name:        "dimension",
		ViperKey:    "store.vector_dimension",
		Description: "Embedding vector dimension",
	},
	FlagSQLHost: {
		Name:        "sql-host",
		ViperKey:    "pools.sql.host",
		Description: "PostgreSQL host",
	},
	FlagSQLPort: {
		Name:        "sql-port",
		ViperKey:    "pools.sql.port",
		Description: "PostgreSQL port",
	},
	FlagSQLDatabase: {
		Name:        "sql-database",
		ViperKey:    "pools.sql.database",
		Description: "PostgreSQL database name",
	},
	FlagSQLUser: {
		Name:        "sql-user",
		ViperKey:    "pools.sql.user",
		Description: "PostgreSQL user",
	},
	FlagKVURL: {
		Name:        "kv-url",
		ViperKey:    "pools.kv.url",
		Description: "KV server URL (kv:// or kvs://)",
	},
	FlagCacheURL: {
		Name:        "cache-url",
		ViperKey:    "cache.remote_url",
		Description: "Remote cache tier URL (kv:// or kvs://)",
	},
	FlagInvalidation: {
		Name:        "invalidation",
		ViperKey:    "cache.invalidation",
		Description: "Cache invalidation strategy (immediate, delayed, adaptive, manual)",
	},
	FlagEvents: {
		Name:        "events",
		ViperKey:    "events.provider",
		Description: "Memory event publisher (nop, kafka)",
	},
	FlagLogLevel: {
		Name:        "log-level",
		ViperKey:    "logging.level",
		Description: "Log level (trace, debug, info, warn, error)",
	},
	FlagLogFormat: {
		Name:        "log-format",
		ViperKey:    "logging.format",
		Description: "Log format (text, json, pretty)",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddIntFlag registers an int flag on cmd from the given FlagSet.
func AddIntFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *int) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultInt(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().IntVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().IntVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultInt returns the default int value for a viper key from NewDefaultConfig.
func defaultInt(viperKey string) int {
	v := viper.New()
	setViperDefaults(v)
	return v.GetInt(viperKey)
}
