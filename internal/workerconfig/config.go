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

// Package workerconfig loads the bootstrap YAML file an edgeproxy-worker
// process reads before it ever opens its control channel (spec §6): the
// control socket's own address, buffer pool sizing, and the logging setup
// needed to report a bad config before anything else exists to report it
// through.
package workerconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edgeproxy/edgeproxy/internal/logging"
)

// Config is the worker's bootstrap file, analogous to a Caddyfile's
// global options block but scoped to process-level knobs the control
// channel can't configure because they're needed before it exists.
type Config struct {
	// WorkerID identifies this process in logs and metrics labels.
	WorkerID string `yaml:"worker_id"`

	// ControlSocket is the "path|octal-bits" address
	// control.SplitUnixSocketPermissionsBits parses, e.g.
	// "/run/edgeproxy/worker-0.sock|0600".
	ControlSocket string `yaml:"control_socket"`

	// SaveStatePath, if set, is loaded at startup (mirroring -resume)
	// and written when the app stops. A SaveState control message always
	// writes to the path it carries.
	SaveStatePath string `yaml:"save_state_path,omitempty"`

	Buffers BufferConfig `yaml:"buffers"`
	Logging LoggingConfig `yaml:"logging"`
}

// BufferConfig sizes the worker's fixed buffer.Pool (spec §4.2): Count
// buffers of Size bytes each, shared by every session the worker
// handles concurrently.
type BufferConfig struct {
	Count int `yaml:"count"`
	Size  int `yaml:"size"`
}

// LoggingConfig mirrors logging.Config in YAML form.
type LoggingConfig struct {
	Level string           `yaml:"level"`
	File  *LoggingFileConfig `yaml:"file,omitempty"`
}

type LoggingFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Defaults fills in the knobs a minimal config may omit, the way a
// freshly generated Caddyfile relies on Caddy's own module defaults.
func Defaults() Config {
	return Config{
		WorkerID:      "worker-0",
		ControlSocket: "/run/edgeproxy/worker.sock|0600",
		Buffers:       BufferConfig{Count: 4096, Size: 16 * 1024},
		Logging:       LoggingConfig{Level: "info"},
	}
}

// Load reads and validates path, filling in Defaults() for any field the
// file leaves zero.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("workerconfig: reading %s: %w", path, err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("workerconfig: parsing %s: %w", path, err)
	}
	if cfg.Buffers.Count <= 0 || cfg.Buffers.Size <= 0 {
		return Config{}, fmt.Errorf("workerconfig: buffers.count and buffers.size must both be positive")
	}
	if cfg.ControlSocket == "" {
		return Config{}, fmt.Errorf("workerconfig: control_socket is required")
	}
	return cfg, nil
}

// ToLoggingConfig converts to the logging package's own Config type.
func (c Config) ToLoggingConfig() logging.Config {
	lc := logging.Config{Level: c.Logging.Level}
	if c.Logging.File != nil {
		lc.File = &logging.FileTarget{
			Path:       c.Logging.File.Path,
			MaxSizeMB:  c.Logging.File.MaxSizeMB,
			MaxBackups: c.Logging.File.MaxBackups,
			MaxAgeDays: c.Logging.File.MaxAgeDays,
			Compress:   c.Logging.File.Compress,
		}
	}
	return lc
}
