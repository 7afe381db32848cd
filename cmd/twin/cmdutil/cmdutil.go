// Package cmdutil resolves the configuration, secrets and logger shared by
// twin commands.
package cmdutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/pkg/config"
	"github.com/papercomputeco/twin/pkg/logger"
)

const (
	FlagConfigDir = "config-dir"
	FlagDebug     = "debug"
)

// Env is everything a command needs to build the store stack.
type Env struct {
	Config    *config.Config
	Secrets   config.Secrets
	ConfigDir string
	Logger    *slog.Logger

	debug bool
}

// TeeJSON adds a JSON copy of every log record, at the same level, to w.
func (e *Env) TeeJSON(w io.Writer) error {
	level, err := logLevel(e.Config, e.debug)
	if err != nil {
		return err
	}
	e.Logger = logger.Multi(e.Logger, logger.New(
		logger.WithLevel(level),
		logger.WithJSON(true),
		logger.WithWriter(w),
	))
	return nil
}

// Load resolves config.toml, environment overrides and the flags named by
// flagKeys (already registered on cmd), then loads secrets and builds a
// logger writing to every w.
func Load(cmd *cobra.Command, flagKeys []string, w ...io.Writer) (*Env, error) {
	configDir, _ := cmd.Flags().GetString(FlagConfigDir)
	debug, _ := cmd.Flags().GetBool(FlagDebug)

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, err
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys)

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	secrets, err := config.LoadSecrets(cfger.Dir())
	if err != nil {
		return nil, err
	}

	log, err := NewLogger(cfg, debug, w...)
	if err != nil {
		return nil, err
	}

	return &Env{
		Config:    cfg,
		Secrets:   secrets,
		ConfigDir: cfger.Dir(),
		Logger:    log,
		debug:     debug,
	}, nil
}

// NewLogger builds the logger described by the logging section. debug
// lowers the level to Debug unless the configured level is already lower.
// Without writers it logs to stderr so command output on stdout stays clean.
func NewLogger(cfg *config.Config, debug bool, w ...io.Writer) (*slog.Logger, error) {
	level, err := logLevel(cfg, debug)
	if err != nil {
		return nil, err
	}
	if len(w) == 0 {
		w = []io.Writer{os.Stderr}
	}

	return logger.New(
		logger.WithLevel(level),
		logger.WithJSON(cfg.Logging.Format == config.FormatJSON),
		logger.WithPretty(cfg.Logging.Format == config.FormatPretty),
		logger.WithWriters(w...),
	), nil
}

func logLevel(cfg *config.Config, debug bool) (slog.Level, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return 0, err
	}
	if debug && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	return level, nil
}
