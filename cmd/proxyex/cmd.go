// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ava-labs/proxyex/app"
	"github.com/ava-labs/proxyex/config"
	"github.com/ava-labs/proxyex/version"
)

const stdinPath = "-"

var errMissingInput = errors.New("an input file is required")

func NewRootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:           "proxyex",
		Short:         "Detects storage collisions between proxies and their implementations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.AddFlags(c.PersistentFlags())
	c.AddCommand(
		replayCommand(),
		regressionCommand(),
		importCommand(),
		filterCommand(),
		analyzeCommand(),
		versionCommand(),
	)
	return c
}

// runApp builds the configuration from the flags of [c], opens the app and
// calls [f] until it returns or the process is signaled.
func runApp(c *cobra.Command, f func(context.Context, *app.App) error) error {
	v, err := config.BuildViper(c.Flags())
	if err != nil {
		return err
	}
	cfg, err := config.BuildConfig(v)
	if err != nil {
		return err
	}

	return app.Run(c.Context(), func(ctx context.Context) error {
		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		err = f(ctx, a)
		if closeErr := a.Close(); err == nil {
			err = closeErr
		}
		return err
	})
}

func replayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replays the invocations of every proxy and records storage collisions",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runApp(c, func(ctx context.Context, a *app.App) error {
				return a.Replay(ctx)
			})
		},
	}
}

func regressionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "regression",
		Short: "Replays invocations with later implementations and records the differences",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runApp(c, func(ctx context.Context, a *app.App) error {
				return a.Regression(ctx)
			})
		},
	}
}

func importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Imports newline delimited proxy invocation records",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if args[0] == "" {
				return errMissingInput
			}
			var r io.Reader = c.InOrStdin()
			if args[0] != stdinPath {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return runApp(c, func(ctx context.Context, a *app.App) error {
				stats, err := a.Import(ctx, r)
				if err != nil {
					return err
				}
				a.Log().Info("imported proxies",
					zap.String("input", args[0]),
					zap.Int("imported", stats.Imported),
					zap.Int("existing", stats.Existing),
					zap.Int("skipped", stats.Skipped),
				)
				return nil
			})
		},
	}
}

func filterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "regression-filter",
		Short: "Records the slots missed and added by each regression",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runApp(c, func(ctx context.Context, a *app.App) error {
				kept, err := a.FilterRegressions(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "%d regressions changed their slot set\n", kept)
				return nil
			})
		},
	}
}

func analyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Records which code wrote each conflicting slot of the problematic proxies",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runApp(c, func(ctx context.Context, a *app.App) error {
				reports, err := a.Analyze(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "%d proxies analyzed\n", reports)
				return nil
			})
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints version details",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			fmt.Fprintln(c.OutOrStdout(), version.String())
			return nil
		},
	}
}
