package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/twin/pkg/dotdir"
)

// envAliases are the short environment names that predate the generic
// TWIN_<SECTION>_<KEY> form.
var envAliases = map[string]string{
	"pools.sql.host":            "TWIN_SQL_HOST",
	"pools.sql.port":            "TWIN_SQL_PORT",
	"pools.sql.user":            "TWIN_SQL_USER",
	"pools.sql.database":        "TWIN_SQL_DB",
	"pools.sql.max_connections": "TWIN_SQL_MAX_CONNECTIONS",
	"pools.kv.max_connections":  "TWIN_KV_MAX_CONNECTIONS",
	"cache.remote_url":          "TWIN_CACHE_URL",
}

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the TWIN_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (TWIN_SQL_HOST, TWIN_API_LISTEN, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: TWIN_POOLS_SQL_HOST, TWIN_STORE_PROVIDER, etc.
	v.SetEnvPrefix("TWIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envAliases {
		if err := v.BindEnv(key, "TWIN_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)
	for _, key := range orderedKeys {
		v.SetDefault(key, configKeys[key].get(d))
	}
}

// FromViper resolves every config key through v's precedence chain.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()

	for _, key := range orderedKeys {
		info := configKeys[key]

		var raw string
		if info.kind == kindList {
			raw = listValue(v.Get(key))
		} else {
			raw = v.GetString(key)
		}

		if err := info.set(cfg, raw); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// listValue flattens a list from the file or a comma separated string from
// the environment into the comma separated form listKey parses.
func listValue(raw any) string {
	switch val := raw.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, ",")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	}
	return ""
}
