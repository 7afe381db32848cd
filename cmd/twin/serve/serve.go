// Package servecmder provides the serve command that runs the memory API.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/api"
	"github.com/papercomputeco/twin/cmd/twin/cmdutil"
	"github.com/papercomputeco/twin/pkg/config"
	memoryutils "github.com/papercomputeco/twin/pkg/memory/utils"
)

const shutdownTimeout = 10 * time.Second

type ServeCommander struct {
	listen       string
	provider     string
	sqlitePath   string
	dimension    int
	kvURL        string
	cacheURL     string
	invalidation string
	events       string
	logFile      string
}

// flagKeys are the registry flags serve binds into the config chain.
var flagKeys = []string{
	config.FlagListen,
	config.FlagProvider,
	config.FlagSQLite,
	config.FlagDimension,
	config.FlagKVURL,
	config.FlagCacheURL,
	config.FlagInvalidation,
	config.FlagEvents,
}

const serveLongDesc string = `Run the twin memory API server.

The store stack is built from config.toml, TWIN_* environment variables and
the flags below, in increasing order of precedence. The server shuts down
gracefully on SIGINT or SIGTERM, flushing pending cache invalidations.`

const serveShortDesc string = "Run the memory API server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Load(cmd, flagKeys, os.Stderr)
			if err != nil {
				return err
			}

			if cmder.logFile != "" {
				f, err := os.OpenFile(cmder.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
				if err != nil {
					return fmt.Errorf("opening log file: %w", err)
				}
				defer f.Close()

				if err := env.TeeJSON(f); err != nil {
					return err
				}
			}

			return cmder.run(cmd.Context(), env)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &cmder.provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddIntFlag(cmd, config.Flags, config.FlagDimension, &cmder.dimension)
	config.AddStringFlag(cmd, config.Flags, config.FlagKVURL, &cmder.kvURL)
	config.AddStringFlag(cmd, config.Flags, config.FlagCacheURL, &cmder.cacheURL)
	config.AddStringFlag(cmd, config.Flags, config.FlagInvalidation, &cmder.invalidation)
	config.AddStringFlag(cmd, config.Flags, config.FlagEvents, &cmder.events)
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also append JSON logs to this file")

	return cmd
}

func (c *ServeCommander) run(ctx context.Context, env *cmdutil.Env) error {
	stack, err := memoryutils.NewStack(ctx, &memoryutils.NewStackOpts{
		Config:    env.Config,
		Secrets:   env.Secrets,
		ConfigDir: env.ConfigDir,
		Logger:    env.Logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			env.Logger.Error("closing memory store", "error", err)
		}
	}()

	server := api.NewServer(api.Config{ListenAddr: env.Config.API.Listen}, stack.Driver, stack, env.Logger)

	// Channel to capture errors from the server goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		env.Logger.Info("received signal, shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}
