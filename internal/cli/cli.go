// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the feedkeeper command line.
package cli // import "feedkeeper.app/internal/cli"

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"feedkeeper.app/internal/cli/logger"
	"feedkeeper.app/internal/config"
	"feedkeeper.app/internal/logging"
	"feedkeeper.app/internal/storage"
	"feedkeeper.app/internal/version"
)

var (
	flagConfigFile string
	flagDebugMode  bool

	logCloser io.Closer
)

var Cmd = cobra.Command{
	Use:     "feedkeeper",
	Short:   "feedkeeper fetches feeds and their favicons in the background.",
	Version: version.Version,

	PersistentPreRunE: persistentPreRunE,

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := NewDaemon().Run(); err != nil {
			slog.Error("daemon exited with error", slog.Any("error", err))
			return err
		}
		return nil
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

var configDumpCmd = cobra.Command{
	Use:   "config-dump",
	Short: "Print parsed configuration values",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), config.Opts)
	},
}

var migrateCmd = cobra.Command{
	Use:   "migrate",
	Short: "Run SQL migrations",
	Args:  cobra.ExactArgs(0),

	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd.Context(),
			func(ctx context.Context, store *storage.Storage) error {
				return store.Migrate(ctx)
			})
	},
}

func init() {
	Cmd.PersistentFlags().StringVarP(&flagConfigFile, "config-file", "c", "",
		"Path to .env configuration file")
	Cmd.PersistentFlags().BoolVarP(&flagDebugMode, "debug", "d", false,
		"Show debug logs")

	Cmd.AddCommand(&addFeedCmd)
	Cmd.AddCommand(&configDumpCmd)
	Cmd.AddCommand(&enqueueCmd)
	Cmd.AddCommand(&healthCmd)
	Cmd.AddCommand(&infoCmd)
	Cmd.AddCommand(&jobsCmd)
	Cmd.AddCommand(&migrateCmd)
	Cmd.AddCommand(&refreshFeedsCmd)
	Cmd.AddCommand(&runOnceCmd)
}

func persistentPreRunE(cmd *cobra.Command, args []string) error {
	// Don't show usage on app errors.
	// https://github.com/spf13/cobra/issues/340#issuecomment-378726225
	cmd.SilenceUsage = true

	if err := config.Load(flagConfigFile); err != nil {
		return err
	} else if flagDebugMode {
		config.Opts.SetLogLevel("debug")
	}

	closer, err := logger.Initialize(logger.Settings{
		File:     config.Opts.LogFile(),
		Format:   config.Opts.LogFormat(),
		Level:    config.Opts.LogLevel(),
		DateTime: config.Opts.LogDateTime(),
	})
	if err != nil {
		return err
	}
	logCloser = closer
	return nil
}

func withStorage(ctx context.Context,
	fn func(ctx context.Context, store *storage.Storage) error,
) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := makeStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close(ctx)
	return fn(ctx, store)
}

func makeStorage(ctx context.Context) (*storage.Storage, error) {
	if config.Opts.IsDefaultDatabaseURL() {
		logging.FromContext(ctx).Info("The default value for DATABASE_URL is used")
	}

	store, err := storage.New(ctx,
		config.Opts.DatabaseURL(),
		config.Opts.DatabaseMaxConns(),
		config.Opts.DatabaseMinConns(),
		config.Opts.DatabaseConnectionLifetime())
	if err != nil {
		return nil, err
	}

	if err := store.Ping(ctx); err != nil {
		store.Close(ctx)
		return nil, err
	}
	return store, nil
}

func Execute() {
	if err := Cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
