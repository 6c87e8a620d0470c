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

package worker

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/edgeproxy/edgeproxy/internal/control"
)

// mutatingKinds names every control.Kind that changes configuration, so
// the control channel knows which Requests belong in the SaveState replay
// log (spec §6). Status/query/stop/save-load messages are intentionally
// excluded: they either read state or are already handled by SaveState/
// LoadState's own bookkeeping.
var mutatingKinds = map[control.Kind]bool{
	control.KindAddCluster:          true,
	control.KindRemoveCluster:       true,
	control.KindAddBackend:          true,
	control.KindRemoveBackend:       true,
	control.KindAddHTTPFrontend:     true,
	control.KindRemoveHTTPFrontend:  true,
	control.KindAddCertificate:      true,
	control.KindRemoveCertificate:   true,
	control.KindReplaceCertificate:  true,
	control.KindAddListener:         true,
	control.KindRemoveListener:      true,
	control.KindActivateListener:    true,
	control.KindDeactivateListener:  true,
	control.KindConfigureMetrics:    true,
	control.KindLogging:             true,
}

// ControlChannel serves control.Request/control.Response messages over a
// unix socket as newline-delimited JSON, dispatching each one against a
// Server and keeping its replay log current (spec §6: "the control
// channel is a unix socket carrying NDJSON request/response pairs").
type ControlChannel struct {
	server *Server
	path   string
	ln     net.Listener
	log    *zap.Logger
}

// NewControlChannel binds addr -- a "path|octal-bits" string parsed by
// control.SplitUnixSocketPermissionsBits -- and chmods the socket file to
// the requested permissions before returning.
func NewControlChannel(server *Server, addr string) (*ControlChannel, error) {
	path, mode, err := control.SplitUnixSocketPermissionsBits(addr)
	if err != nil {
		return nil, fmt.Errorf("worker: control channel address: %w", err)
	}
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("worker: binding control channel: %w", err)
	}
	if err := os.Chmod(path, mode); err != nil {
		ln.Close()
		return nil, fmt.Errorf("worker: setting control channel permissions: %w", err)
	}
	return &ControlChannel{server: server, path: path, ln: ln, log: server.log.Named("control")}, nil
}

// Serve accepts control connections until the listener is closed (by
// Close), handling each one in its own goroutine. Requests within a
// single connection are processed strictly in arrival order, honoring
// spec §5's FIFO guarantee for control messages; concurrent connections
// are not ordered relative to each other.
func (cc *ControlChannel) Serve() error {
	for {
		conn, err := cc.ln.Accept()
		if err != nil {
			return err
		}
		go cc.handle(conn)
	}
}

func (cc *ControlChannel) handle(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req control.Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := control.Dispatch(cc.server, req)
		if resp.Status == control.StatusOK && mutatingKinds[req.Kind] {
			cc.server.recordRequest(req)
		}
		if err := enc.Encode(resp); err != nil {
			cc.log.Debug("writing control response failed", zap.Error(err))
			return
		}
	}
}

// Close stops accepting new control connections and removes the socket
// file.
func (cc *ControlChannel) Close() error {
	err := cc.ln.Close()
	os.Remove(cc.path)
	return err
}
