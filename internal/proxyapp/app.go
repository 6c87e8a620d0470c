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

// Package proxyapp wires a worker.Server, its control channel, and its
// bootstrap config together into the Provision/Start/Stop lifecycle a
// process entrypoint drives, mirroring how cmd/caddy's commandfuncs.go
// separates "build the thing" from "run the thing" so both the CLI and a
// future admin-API-driven reload can share it.
package proxyapp

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/edgeproxy/edgeproxy/internal/logging"
	"github.com/edgeproxy/edgeproxy/internal/worker"
	"github.com/edgeproxy/edgeproxy/internal/workerconfig"
)

// App owns one worker.Server and its control channel for the lifetime of
// a process.
type App struct {
	cfg workerconfig.Config
	log *zap.Logger

	server  *worker.Server
	control *worker.ControlChannel
}

// Provision loads cfg's logging setup and constructs the worker.Server
// and its control channel, but does not yet accept connections or resume
// any saved state -- that's Start's job, so a caller can inspect errors
// from each phase independently (spec §6: "a worker that fails to load
// its saved state should still be diagnosable from its logs").
func Provision(cfg workerconfig.Config) (*App, error) {
	if err := logging.Configure(cfg.ToLoggingConfig()); err != nil {
		return nil, fmt.Errorf("proxyapp: configuring logging: %w", err)
	}
	log := logging.Named("proxyapp")

	server := worker.NewServer(cfg.Buffers.Count, cfg.Buffers.Size, cfg.WorkerID)

	cc, err := worker.NewControlChannel(server, cfg.ControlSocket)
	if err != nil {
		return nil, fmt.Errorf("proxyapp: provisioning control channel: %w", err)
	}

	return &App{cfg: cfg, log: log, server: server, control: cc}, nil
}

// Start resumes any saved state and begins serving the control channel;
// it returns once the control channel's listener is closed (by Stop) or
// fails.
func (a *App) Start() error {
	if a.cfg.SaveStatePath != "" {
		if err := a.server.LoadState(a.cfg.SaveStatePath); err != nil {
			a.log.Warn("failed to resume saved state, starting empty", zap.Error(err))
		} else {
			a.log.Info("resumed saved state", zap.String("path", a.cfg.SaveStatePath))
		}
	}

	a.log.Info("control channel listening", zap.String("worker_id", a.cfg.WorkerID))
	return a.control.Serve()
}

// Stop persists current configuration (if SaveStatePath is set) and
// closes the control channel, unblocking Start.
func (a *App) Stop() error {
	if a.cfg.SaveStatePath != "" {
		if err := a.server.SaveState(a.cfg.SaveStatePath); err != nil {
			a.log.Warn("failed to save state on shutdown", zap.Error(err))
		}
	}
	return a.control.Close()
}

// Server exposes the underlying worker.Server, for an entrypoint that
// needs direct access (e.g. a CLI "status" subcommand dialing in-process
// rather than over the control socket).
func (a *App) Server() *worker.Server { return a.server }
