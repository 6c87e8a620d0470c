// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command edgeproxy-worker runs a single proxy worker process: it loads
// a bootstrap YAML config, opens its control-channel unix socket, and
// serves HTTP/HTTPS/TCP listeners until told to stop (spec §6).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"

	"github.com/edgeproxy/edgeproxy/internal/logging"
	"github.com/edgeproxy/edgeproxy/internal/proxyapp"
	"github.com/edgeproxy/edgeproxy/internal/workerconfig"
)

var version = "dev"

func main() {
	logger := logging.Named("bootstrap")

	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	defer undo()
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	_, err = memlimit.SetGoMemLimitWithOpts(
		memlimit.WithLogger(slog.New(zapslog.NewHandler(logger.Core()))),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)
	if err != nil {
		logger.Warn("failed to set GOMEMLIMIT", zap.Error(err))
	}

	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "edgeproxy-worker",
		Short: "Run an edgeproxy worker process",
	}
	root.AddCommand(runCommand(), versionCommand())
	return root
}

func runCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/edgeproxy/worker.yaml", "path to the worker's bootstrap config")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the worker's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func runWorker(configPath string) error {
	cfg, err := workerconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("edgeproxy-worker: %w", err)
	}

	app, err := proxyapp.Provision(cfg)
	if err != nil {
		return fmt.Errorf("edgeproxy-worker: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		_ = app.Stop()
	}()

	if err := app.Start(); err != nil {
		return fmt.Errorf("edgeproxy-worker: %w", err)
	}
	return nil
}
