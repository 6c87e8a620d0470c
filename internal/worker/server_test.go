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
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgeproxy/edgeproxy/internal/control"
	"github.com/edgeproxy/edgeproxy/internal/session"
)

func mustRequest(t *testing.T, kind control.Kind, payload any) control.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return control.Request{ID: "t-" + string(kind), Kind: kind, Payload: raw}
}

func TestServerControlLifecycle(t *testing.T) {
	s := NewServer(4, 4096, "edge-test")

	resp := control.Dispatch(s, mustRequest(t, control.KindAddCluster, control.AddClusterPayload{
		ClusterID:       "web",
		SelectionPolicy: "round_robin",
		StickyName:      "EDGE_STICKY",
	}))
	require.Equal(t, control.StatusOK, resp.Status)

	resp = control.Dispatch(s, mustRequest(t, control.KindAddBackend, control.AddBackendPayload{
		ClusterID: "web",
		BackendID: "web-1",
		Address:   "127.0.0.1:9",
		Weight:    1,
	}))
	require.Equal(t, control.StatusOK, resp.Status)

	resp = control.Dispatch(s, mustRequest(t, control.KindAddHTTPFrontend, control.AddHTTPFrontendPayload{
		Hostname:  "example.com",
		PathKind:  "prefix",
		Path:      "/",
		ClusterID: "web",
	}))
	require.Equal(t, control.StatusOK, resp.Status)

	clusterID, ok := s.router.Lookup("example.com", "/anything", "GET")
	require.True(t, ok)
	require.Equal(t, "web", clusterID)

	// Unknown cluster/backend references surface as dispatch errors.
	resp = control.Dispatch(s, mustRequest(t, control.KindAddBackend, control.AddBackendPayload{
		ClusterID: "does-not-exist",
		BackendID: "x",
		Address:   "127.0.0.1:9",
	}))
	require.Equal(t, control.StatusError, resp.Status)

	statusResp := control.Dispatch(s, control.Request{ID: "status", Kind: control.KindStatus})
	require.Equal(t, control.StatusOK, statusResp.Status)
}

func TestServerSaveAndLoadStateRoundTrip(t *testing.T) {
	s := NewServer(4, 4096, "edge-test")
	cc, err := NewControlChannel(s, filepath.Join(t.TempDir(), "ctl.sock")+"|0600")
	require.NoError(t, err)
	defer cc.Close()

	addCluster := mustRequest(t, control.KindAddCluster, control.AddClusterPayload{
		ClusterID: "web", SelectionPolicy: "round_robin",
	})
	require.Equal(t, control.StatusOK, control.Dispatch(s, addCluster).Status)
	s.recordRequest(addCluster)

	addBackend := mustRequest(t, control.KindAddBackend, control.AddBackendPayload{
		ClusterID: "web", BackendID: "web-1", Address: "127.0.0.1:9",
	})
	require.Equal(t, control.StatusOK, control.Dispatch(s, addBackend).Status)
	s.recordRequest(addBackend)

	statePath := filepath.Join(t.TempDir(), "state.ndjson")
	require.NoError(t, s.SaveState(statePath))

	replayed := NewServer(4, 4096, "edge-test-replay")
	require.NoError(t, replayed.LoadState(statePath))

	_, ok := replayed.clusters.Get("web")
	require.True(t, ok)
}

func TestRemoveListenerRefusedWhileActive(t *testing.T) {
	s := NewServer(4, 4096, "edge-test")

	require.NoError(t, s.AddListener(control.AddListenerPayload{
		ListenerID: "ln1", Protocol: "http", Address: "127.0.0.1:0",
	}))
	require.NoError(t, s.ActivateListener(control.ListenerTogglePayload{ListenerID: "ln1"}))

	err := s.RemoveListener(control.ListenerTogglePayload{ListenerID: "ln1"})
	require.Error(t, err, "an active listener must refuse removal")

	require.NoError(t, s.DeactivateListener(control.ListenerTogglePayload{ListenerID: "ln1"}))
	require.NoError(t, s.RemoveListener(control.ListenerTogglePayload{ListenerID: "ln1"}))
}

func TestServerRegisterReleaseSession(t *testing.T) {
	s := NewServer(4, 4096, "edge-test")

	clientSide, frontend := net.Pipe()
	defer clientSide.Close()
	defer frontend.Close()

	sess := session.New(frontend, nil, nil, session.DefaultTimeouts())
	require.Equal(t, 0, s.slab.Len())

	tok := s.registerSession(sess)
	require.Equal(t, 1, s.slab.Len())

	got, ok := s.slab.Get(tok)
	require.True(t, ok)
	require.Same(t, sess, got)

	s.releaseSession(tok)
	require.Equal(t, 0, s.slab.Len())
}
