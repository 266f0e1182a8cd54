package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/accountd/account"
	"github.com/opd-ai/accountd/api"
	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/config"
	"github.com/opd-ai/accountd/crypto"
	"github.com/opd-ai/accountd/factory"
)

func newRootCommand() *cobra.Command {
	cfg := config.Default()

	root := &cobra.Command{
		Use:           "accountd",
		Short:         "Peer-to-peer account service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(cmd); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "accountd:", err)
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "run",
					"error":    err.Error(),
				}).Error("accountd stopped with an error")
				return err
			}
			return nil
		},
	}
	cfg.BindFlags(root)
	root.AddCommand(versionCommand())
	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "accountd", config.Version)
		},
	}
}

// run wires the service together and blocks until ctx is done.
func run(ctx context.Context, cfg config.Config) (err error) {
	paths, err := cfg.Paths()
	if err != nil {
		return err
	}
	if err := paths.Ensure(); err != nil {
		return err
	}

	logFile, err := setupLogging(cfg, paths)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, logFile.Close()) }()

	if err := paths.CleanTempFiles(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"error":    err.Error(),
		}).Warn("Failed to clean temporary files")
	}

	backendCfg, err := cfg.BackendConfig(paths, os.LookupEnv)
	if err != nil {
		return err
	}

	store, err := crypto.OpenOrCreate(paths.StorageRoot, account.DefaultStoreFilename)
	if err != nil {
		return err
	}

	bundle, err := backend.New(ctx, factory.NewBackendFactory(), store, backendCfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, bundle.Close()) }()

	metrics := api.NewMetrics()
	opts := cfg.ManagerOptions(paths)
	opts.Bundle = bundle
	opts.Store = store
	opts.Observer = resetObserver{Metrics: metrics, log: logFile}
	manager := account.New(opts)

	server := api.NewServer(cfg.Listen, manager, metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.WithFields(logrus.Fields{
			"function": "run",
		}).Info("Shutting down")
		return paths.CleanTempFiles()
	})
	return g.Wait()
}
