// Package healthcmder provides the health command that probes the SQL pool,
// the KV pool and the cache tiers.
package healthcmder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/cmd/twin/cmdutil"
	"github.com/papercomputeco/twin/pkg/cliui"
	"github.com/papercomputeco/twin/pkg/config"
	memoryutils "github.com/papercomputeco/twin/pkg/memory/utils"
	"github.com/papercomputeco/twin/pkg/pool"
	"github.com/papercomputeco/twin/pkg/utils"
)

const maxDetailLen = 96

// ErrUnhealthy is returned when any configured component fails its probe.
var ErrUnhealthy = errors.New("memory store is unhealthy")

type HealthCommander struct {
	jsonOutput bool

	provider string
	kvURL    string
}

var flagKeys = []string{
	config.FlagProvider,
	config.FlagKVURL,
}

const healthLongDesc string = `Check the health of the memory store.

Builds the configured store stack and probes each component: the SQL pool
runs SELECT 1, the KV pool sends PING, and the cache reports whether its
remote tier is configured and currently attempted. Components that are not
configured are shown but never count as unhealthy.

Exits non-zero when any configured component is unhealthy.`

const healthShortDesc string = "Check pool and cache health"

func NewHealthCmd() *cobra.Command {
	cmder := &HealthCommander{}

	cmd := &cobra.Command{
		Use:   "health",
		Short: healthShortDesc,
		Long:  healthLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			defer stack.Close()

			return cmder.report(cmd.OutOrStdout(), stack.Health(cmd.Context()))
		},
	}

	cmd.Flags().BoolVar(&cmder.jsonOutput, "json", false, "Print the report as JSON")
	config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &cmder.provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagKVURL, &cmder.kvURL)

	return cmd
}

func (c *HealthCommander) report(w io.Writer, h memoryutils.Health) error {
	if c.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(h); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w)
		fmt.Fprintln(w, cliui.Status("sql", h.SQL.Configured, h.SQL.Healthy, poolDetail(h.SQL)))
		fmt.Fprintln(w, cliui.Status("kv", h.KV.Configured, h.KV.Healthy, poolDetail(h.KV)))
		fmt.Fprintln(w, cliui.Status("cache", true, cacheHealthy(h.Cache), cacheDetail(h.Cache)))
		fmt.Fprintln(w)
	}

	if !h.Healthy() {
		return ErrUnhealthy
	}
	return nil
}

func poolDetail(s pool.PoolStatus) string {
	if s.Error != "" {
		return utils.Truncate(s.Error, maxDetailLen)
	}
	if s.Saturated {
		return fmt.Sprintf("saturated, all %d connections in use", s.Max)
	}
	return fmt.Sprintf("%d/%d available, %d open, %s",
		s.Available, s.Max, s.Total, cliui.FormatDuration(s.Latency))
}

func cacheHealthy(s memoryutils.CacheStatus) bool {
	return !s.RemoteConfigured || s.RemoteAvailable
}

func cacheDetail(s memoryutils.CacheStatus) string {
	switch {
	case !s.RemoteConfigured:
		return "local only"
	case s.RemoteAvailable:
		return "local + remote"
	default:
		return "remote skipped, serving from local"
	}
}
