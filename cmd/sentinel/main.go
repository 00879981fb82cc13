// SPDX-License-Identifier: Apache-2.0

// Package main implements the sentinel CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studybuddy/sentinel/pkg/config"
	"github.com/studybuddy/sentinel/pkg/runtime"
	"github.com/studybuddy/sentinel/pkg/telemetry"
)

var version = "dev"

type globalFlags struct {
	ConfigPath string
	Profile    string
	Sets       []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Sentinel - error handling and health monitoring for the Study Buddy pipeline",
		Long: `Sentinel classifies pipeline failures, correlates them across layers,
retries and falls back, watches event rates and reports system health.

Configuration is read from defaults, the --config file, SENTINEL_*
environment variables and --set overrides, in that order.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&flags.Profile, "profile", "", "config profile (loads config.<profile>.yaml)")
	rootCmd.PersistentFlags().StringArrayVar(&flags.Sets, "set", nil, "override config key=value (repeatable)")

	rootCmd.AddCommand(serveCmd(flags))
	rootCmd.AddCommand(reportCmd(flags))
	rootCmd.AddCommand(simulateCmd(flags))
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.LoadWithOverrides(f.ConfigPath, f.Profile, f.Sets)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// newRuntime builds an unstarted runtime for one-shot commands. Logs go to
// stderr so command output stays parseable.
func newRuntime(cmd *cobra.Command, cfg *config.Config) (*runtime.Runtime, error) {
	logger := telemetry.ConfigureSlog(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	rt, err := runtime.New(cfg, runtime.WithLogger(logger), runtime.WithVersion(version))
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	return rt, nil
}
