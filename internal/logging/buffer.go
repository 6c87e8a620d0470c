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

package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BufferCore is a zapcore.Core that buffers log entries in memory instead
// of writing them, used during worker startup before Configure has run:
// entries logged while parsing the bootstrap config are held here and
// flushed once the real sinks (stderr or a rotated file) are wired up, so
// nothing an early failure logs is lost.
type BufferCore struct {
	mu      sync.Mutex
	entries []zapcore.Entry
	fields  [][]zapcore.Field
	level   zapcore.LevelEnabler
}

// NewBufferCore returns a BufferCore that accepts entries level permits.
func NewBufferCore(level zapcore.LevelEnabler) *BufferCore {
	return &BufferCore{level: level}
}

func (c *BufferCore) Enabled(lvl zapcore.Level) bool { return c.level.Enabled(lvl) }

func (c *BufferCore) With(fields []zapcore.Field) zapcore.Core { return c }

func (c *BufferCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *BufferCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	c.fields = append(c.fields, fields)
	return nil
}

func (c *BufferCore) Sync() error { return nil }

// FlushTo replays every buffered entry through logger and discards the
// buffer, so it is safe to call FlushTo exactly once after Configure
// installs the real sinks.
func (c *BufferCore) FlushTo(logger *zap.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, entry := range c.entries {
		logger.WithOptions().Check(entry.Level, entry.Message).Write(c.fields[i]...)
	}
	c.entries = nil
	c.fields = nil
}

var _ zapcore.Core = (*BufferCore)(nil)

// StartupBuffer is installed by init and receives everything logged
// before the first call to Configure.
var StartupBuffer = NewBufferCore(zap.NewAtomicLevelAt(zapcore.DebugLevel))
