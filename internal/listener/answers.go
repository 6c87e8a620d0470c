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

package listener

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/edgeproxy/edgeproxy/internal/filesystems"
)

// LoadAnswers reads each canned error-page body out of fsys, leaving any
// file that doesn't exist at its current (e.g. compiled-in default)
// value, grounded on filesystems.FileSystemMap's pluggable fs.FS
// abstraction: operators can supply an in-memory or embedded fs.FS of
// custom error pages instead of the OS filesystem.
func (d *DefaultAnswers) LoadAnswers(fsys fs.FS) error {
	slots := map[string]*[]byte{
		"400.html": &d.BadRequest400,
		"404.html": &d.NotFound404,
		"408.html": &d.Timeout408,
		"413.html": &d.TooLarge413,
		"503.html": &d.Unavailable503,
		"504.html": &d.GatewayTimeout504,
	}
	for name, dst := range slots {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("listener: loading answer page %s: %w", name, err)
		}
		*dst = body
	}
	return nil
}

// LoadAnswersFromMap resolves fsKey (e.g. a per-listener custom answers
// directory registered at startup) against fm and loads the answer pages
// from it, falling back to fm's default (OS) filesystem if fsKey is
// unregistered.
func (d *DefaultAnswers) LoadAnswersFromMap(fm *filesystems.FileSystemMap, fsKey string) error {
	fsys, ok := fm.Get(fsKey)
	if !ok {
		fsys = fm.Default()
	}
	return d.LoadAnswers(fsys)
}
