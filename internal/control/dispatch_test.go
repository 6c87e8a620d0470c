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
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	addedClusters []AddClusterPayload
	softStopped   bool
}

func (f *fakeTarget) AddCluster(p AddClusterPayload) error {
	f.addedClusters = append(f.addedClusters, p)
	return nil
}
func (f *fakeTarget) RemoveCluster(string) error                  { return nil }
func (f *fakeTarget) AddBackend(AddBackendPayload) error          { return nil }
func (f *fakeTarget) RemoveBackend(RemoveBackendPayload) error    { return nil }
func (f *fakeTarget) AddHTTPFrontend(AddHTTPFrontendPayload) error { return nil }
func (f *fakeTarget) RemoveHTTPFrontend(RemoveHTTPFrontendPayload) error { return nil }
func (f *fakeTarget) AddCertificate(AddCertificatePayload) (string, error) {
	return "deadbeef", nil
}
func (f *fakeTarget) RemoveCertificate(RemoveCertificatePayload) error { return nil }
func (f *fakeTarget) ReplaceCertificate(ReplaceCertificatePayload) (string, error) {
	return "newfp", nil
}
func (f *fakeTarget) AddListener(AddListenerPayload) error           { return nil }
func (f *fakeTarget) RemoveListener(ListenerTogglePayload) error     { return nil }
func (f *fakeTarget) ActivateListener(ListenerTogglePayload) error   { return nil }
func (f *fakeTarget) DeactivateListener(ListenerTogglePayload) error { return nil }
func (f *fakeTarget) QueryClusterByDomain(p QueryClusterByDomainPayload) (string, bool) {
	if p.Hostname == "example.com" {
		return "checkout", true
	}
	return "", false
}
func (f *fakeTarget) ConfigureMetrics(ConfigureMetricsPayload) error { return nil }
func (f *fakeTarget) SetLogLevel(LoggingPayload) error               { return nil }
func (f *fakeTarget) Status() map[string]any                        { return map[string]any{"ok": true} }
func (f *fakeTarget) SoftStop() error {
	f.softStopped = true
	return nil
}
func (f *fakeTarget) HardStop() error { return errors.New("refused") }
func (f *fakeTarget) SaveState(string) error { return nil }
func (f *fakeTarget) LoadState(string) error { return nil }

func TestDispatchAddCluster(t *testing.T) {
	f := &fakeTarget{}
	payload, _ := json.Marshal(AddClusterPayload{ClusterID: "checkout", SelectionPolicy: "round_robin"})

	resp := Dispatch(f, Request{ID: "1", Kind: KindAddCluster, Payload: payload})
	require.Equal(t, StatusOK, resp.Status)
	require.Len(t, f.addedClusters, 1)
	require.Equal(t, "checkout", f.addedClusters[0].ClusterID)
}

func TestDispatchMissingPayloadErrors(t *testing.T) {
	f := &fakeTarget{}
	resp := Dispatch(f, Request{ID: "2", Kind: KindAddCluster})
	require.Equal(t, StatusError, resp.Status)
	require.NotEmpty(t, resp.Error)
}

func TestDispatchQueryClusterByDomain(t *testing.T) {
	f := &fakeTarget{}
	payload, _ := json.Marshal(QueryClusterByDomainPayload{Hostname: "example.com"})
	resp := Dispatch(f, Request{ID: "3", Kind: KindQueryClusterByDomain, Payload: payload})
	require.Equal(t, StatusOK, resp.Status)

	var data map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Equal(t, "checkout", data["cluster_id"])
	require.Equal(t, true, data["found"])
}

func TestDispatchHardStopPropagatesError(t *testing.T) {
	f := &fakeTarget{}
	resp := Dispatch(f, Request{ID: "4", Kind: KindHardStop})
	require.Equal(t, StatusError, resp.Status)
	require.Equal(t, "refused", resp.Error)
}

func TestDispatchUnknownKind(t *testing.T) {
	f := &fakeTarget{}
	resp := Dispatch(f, Request{ID: "5", Kind: Kind("Bogus")})
	require.Equal(t, StatusError, resp.Status)
}

func TestDispatchSoftStop(t *testing.T) {
	f := &fakeTarget{}
	resp := Dispatch(f, Request{ID: "6", Kind: KindSoftStop})
	require.Equal(t, StatusOK, resp.Status)
	require.True(t, f.softStopped)
}
