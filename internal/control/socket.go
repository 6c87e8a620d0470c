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

package control

import (
	"fmt"
	"io/fs"
	"strconv"
	"strings"
)

// SplitUnixSocketPermissionsBits takes the control channel's unix socket
// address in the "path|bits" format (e.g. /run/edgeproxy.sock|0222) and
// splits it into the socket path and the permission bits the listener
// should chmod it to after binding. Colons aren't used as the separator
// since a path can itself carry a drive letter on Windows. Permission
// bits default to 0200 (owner write-only) when omitted, matching the
// control channel's own default of "writable only by the process that
// bound it."
func SplitUnixSocketPermissionsBits(addr string) (path string, mode fs.FileMode, err error) {
	parts := strings.SplitN(addr, "|", 2)
	if len(parts) != 2 {
		return addr, 0o200, nil
	}

	bits, err := strconv.ParseUint(parts[1], 8, 32)
	if err != nil {
		return "", 0, fmt.Errorf("control: parsing permission bits in %q: %w", addr, err)
	}
	mode = fs.FileMode(bits)

	if mode.String()[2] != 'w' {
		return "", 0, fmt.Errorf("control: socket %q must grant owner write permission, got %s", addr, mode.String()[1:4])
	}
	return parts[0], mode, nil
}
