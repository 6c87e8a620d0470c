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

// Package logging sets up the worker's structured logger: a named,
// level-adjustable zap.Logger writing to stderr by default or to a
// rotated file when configured, mirroring logging.go's
// Logging/CustomLog/openLogs story but scoped to this proxy's needs.
package logging

import (
	"fmt"
	"os"
	"sync"

	"github.com/DeRuina/timberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileTarget configures rotation for a log written to disk, using
// timberjack the same way it's wired elsewhere for rotated file output.
type FileTarget struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config mirrors the handful of knobs spec §6's Logging control message
// exposes: a level, and an optional file target.
type Config struct {
	Level string // "debug"|"info"|"warn"|"error"
	File  *FileTarget
}

var (
	mu      sync.RWMutex
	core    zap.AtomicLevel
	base    *zap.Logger
)

func init() {
	core = zap.NewAtomicLevel()
	b, _ := buildLogger(core, nil)
	base = b.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, StartupBuffer)
	}))
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func buildLogger(level zap.AtomicLevel, file *FileTarget) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var ws zapcore.WriteSyncer
	if file != nil {
		ws = zapcore.AddSync(&timberjack.Logger{
			Filename:   file.Path,
			MaxSize:    orDefault(file.MaxSizeMB, 100),
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   file.Compress,
		})
	} else {
		ws = zapcore.Lock(zapcore.AddSync(os.Stderr))
	}

	enc := zapcore.NewJSONEncoder(encoderCfg)
	c := zapcore.NewCore(enc, ws, level)
	return zap.New(c, zap.AddCaller()), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Configure replaces the process-wide base logger according to cfg. Safe
// to call again at runtime in response to a Logging control message
// (spec §6).
func Configure(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	core.SetLevel(parseLevel(cfg.Level))
	l, err := buildLogger(core, cfg.File)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	base = l
	StartupBuffer.FlushTo(base)
	return nil
}

// Named returns a logger scoped to component, the same pattern
// logging.go's Log()/module-scoped loggers follow for per-subsystem
// structured fields.
func Named(component string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(component)
}
