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
	"fmt"
)

// Target is the set of operations a worker exposes to the control
// channel; internal/worker.Server implements it. Keeping this as an
// interface (rather than importing internal/worker directly, which would
// create an import cycle) mirrors Caddy's App-interface pattern in
// modules/caddyhttp/app.go, where the app exposes a narrow surface to its
// host rather than the host reaching into app internals.
type Target interface {
	AddCluster(AddClusterPayload) error
	RemoveCluster(clusterID string) error
	AddBackend(AddBackendPayload) error
	RemoveBackend(RemoveBackendPayload) error
	AddHTTPFrontend(AddHTTPFrontendPayload) error
	RemoveHTTPFrontend(RemoveHTTPFrontendPayload) error
	AddCertificate(AddCertificatePayload) (fingerprint string, err error)
	RemoveCertificate(RemoveCertificatePayload) error
	ReplaceCertificate(ReplaceCertificatePayload) (fingerprint string, err error)
	AddListener(AddListenerPayload) error
	RemoveListener(ListenerTogglePayload) error
	ActivateListener(ListenerTogglePayload) error
	DeactivateListener(ListenerTogglePayload) error
	QueryClusterByDomain(QueryClusterByDomainPayload) (clusterID string, ok bool)
	ConfigureMetrics(ConfigureMetricsPayload) error
	SetLogLevel(LoggingPayload) error
	Status() map[string]any
	SoftStop() error
	HardStop() error
	SaveState(path string) error
	LoadState(path string) error
}

// Dispatch processes one Request against target and returns the Response
// to send back, in the order Requests are handed to it (spec §5's FIFO
// guarantee is the caller's responsibility: Dispatch itself does not
// reorder or buffer).
func Dispatch(target Target, req Request) Response {
	switch req.Kind {
	case KindAddCluster:
		return dispatchVoid(req, target.AddCluster)
	case KindRemoveCluster:
		var p struct {
			ClusterID string `json:"cluster_id"`
		}
		if err := unmarshal(req, &p); err != nil {
			return Err(req.ID, err)
		}
		if err := target.RemoveCluster(p.ClusterID); err != nil {
			return Err(req.ID, err)
		}
		return OK(req.ID, nil)
	case KindAddBackend:
		return dispatchVoid(req, target.AddBackend)
	case KindRemoveBackend:
		return dispatchVoid(req, target.RemoveBackend)
	case KindAddHTTPFrontend:
		return dispatchVoid(req, target.AddHTTPFrontend)
	case KindRemoveHTTPFrontend:
		return dispatchVoid(req, target.RemoveHTTPFrontend)
	case KindAddCertificate:
		var p AddCertificatePayload
		if err := unmarshal(req, &p); err != nil {
			return Err(req.ID, err)
		}
		fp, err := target.AddCertificate(p)
		if err != nil {
			return Err(req.ID, err)
		}
		return OK(req.ID, map[string]string{"fingerprint": fp})
	case KindRemoveCertificate:
		return dispatchVoid(req, target.RemoveCertificate)
	case KindReplaceCertificate:
		var p ReplaceCertificatePayload
		if err := unmarshal(req, &p); err != nil {
			return Err(req.ID, err)
		}
		fp, err := target.ReplaceCertificate(p)
		if err != nil {
			return Err(req.ID, err)
		}
		return OK(req.ID, map[string]string{"fingerprint": fp})
	case KindAddListener:
		return dispatchVoid(req, target.AddListener)
	case KindRemoveListener:
		return dispatchVoid(req, target.RemoveListener)
	case KindActivateListener:
		return dispatchVoid(req, target.ActivateListener)
	case KindDeactivateListener:
		return dispatchVoid(req, target.DeactivateListener)
	case KindQueryClusterByDomain:
		var p QueryClusterByDomainPayload
		if err := unmarshal(req, &p); err != nil {
			return Err(req.ID, err)
		}
		clusterID, ok := target.QueryClusterByDomain(p)
		return OK(req.ID, map[string]any{"cluster_id": clusterID, "found": ok})
	case KindConfigureMetrics:
		return dispatchVoid(req, target.ConfigureMetrics)
	case KindLogging:
		return dispatchVoid(req, target.SetLogLevel)
	case KindStatus, KindCountRequests:
		return OK(req.ID, target.Status())
	case KindSoftStop:
		if err := target.SoftStop(); err != nil {
			return Err(req.ID, err)
		}
		return OK(req.ID, nil)
	case KindHardStop:
		if err := target.HardStop(); err != nil {
			return Err(req.ID, err)
		}
		return OK(req.ID, nil)
	case KindSaveState:
		var p SaveStatePayload
		if err := unmarshal(req, &p); err != nil {
			return Err(req.ID, err)
		}
		if err := target.SaveState(p.Path); err != nil {
			return Err(req.ID, err)
		}
		return OK(req.ID, nil)
	case KindLoadState:
		var p LoadStatePayload
		if err := unmarshal(req, &p); err != nil {
			return Err(req.ID, err)
		}
		if err := target.LoadState(p.Path); err != nil {
			return Err(req.ID, err)
		}
		return OK(req.ID, nil)
	default:
		return Err(req.ID, fmt.Errorf("control: unknown request kind %q", req.Kind))
	}
}

func unmarshal(req Request, v any) error {
	if len(req.Payload) == 0 {
		return fmt.Errorf("control: %s requires a payload", req.Kind)
	}
	return json.Unmarshal(req.Payload, v)
}

// dispatchVoid is a small generic helper for the common case of
// "unmarshal payload, call a void-or-error method, wrap the result".
func dispatchVoid[P any](req Request, fn func(P) error) Response {
	var p P
	if err := unmarshal(req, &p); err != nil {
		return Err(req.ID, err)
	}
	if err := fn(p); err != nil {
		return Err(req.ID, err)
	}
	return OK(req.ID, nil)
}
