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

// Package control implements the control-channel message taxonomy and
// dispatch that lets a worker be reconfigured without a restart (spec §6).
// Grounded on original_source/bin/src/ctl/request_builder.rs's
// RequestType variants (AddBackend, AddCertificate, SoftStop, Status, ...).
package control

import "encoding/json"

// Kind names one control message type, mirroring RequestType's variants.
type Kind string

const (
	KindAddCluster        Kind = "AddCluster"
	KindRemoveCluster      Kind = "RemoveCluster"
	KindAddBackend        Kind = "AddBackend"
	KindRemoveBackend     Kind = "RemoveBackend"
	KindAddHTTPFrontend   Kind = "AddHttpFrontend"
	KindRemoveHTTPFrontend Kind = "RemoveHttpFrontend"
	KindAddCertificate    Kind = "AddCertificate"
	KindRemoveCertificate Kind = "RemoveCertificate"
	KindReplaceCertificate Kind = "ReplaceCertificate"
	KindAddListener       Kind = "AddListener"
	KindRemoveListener    Kind = "RemoveListener"
	KindActivateListener  Kind = "ActivateListener"
	KindDeactivateListener Kind = "DeactivateListener"
	KindQueryClusterByDomain Kind = "QueryClusterByDomain"
	KindConfigureMetrics  Kind = "ConfigureMetrics"
	KindLogging           Kind = "Logging"
	KindStatus            Kind = "Status"
	KindCountRequests     Kind = "CountRequests"
	KindSoftStop          Kind = "SoftStop"
	KindHardStop          Kind = "HardStop"
	KindSaveState         Kind = "SaveState"
	KindLoadState         Kind = "LoadState"
)

// Request is one control-channel message: an id the worker's Response
// echoes back, a Kind, and a kind-specific JSON payload (spec §6:
// "{id, status, data?}").
type Request struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Status is the outcome of processing a Request.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Response is returned for every Request, in FIFO order relative to the
// requests that produced them (spec §5: "Control-channel messages are
// processed in FIFO order between reactor ticks").
type Response struct {
	ID     string          `json:"id"`
	Status Status          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func OK(id string, data any) Response {
	r := Response{ID: id, Status: StatusOK}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			r.Data = raw
		}
	}
	return r
}

func Err(id string, err error) Response {
	return Response{ID: id, Status: StatusError, Error: err.Error()}
}

// AddClusterPayload configures a new cluster: its id, selection policy
// name, and sticky-session switch (spec §3, §4.4). A non-empty StickyName
// turns on the sticky Set-Cookie in responses; the cookie name itself is
// the listener's StickyName.
type AddClusterPayload struct {
	ClusterID      string `json:"cluster_id"`
	SelectionPolicy string `json:"selection_policy"` // "round_robin"|"random"|"least_loaded"|"weighted_round_robin"
	StickyName     string `json:"sticky_name,omitempty"`
}

// AddBackendPayload adds one backend to an existing cluster (mirrors
// RequestType::AddBackend { cluster_id, address, sticky_id, backup, ... }).
type AddBackendPayload struct {
	ClusterID string `json:"cluster_id"`
	BackendID string `json:"backend_id"`
	Address   string `json:"address"`
	Weight    int    `json:"weight,omitempty"`
	Backup    bool   `json:"backup,omitempty"`
}

// RemoveBackendPayload identifies a backend to remove from a cluster.
type RemoveBackendPayload struct {
	ClusterID string `json:"cluster_id"`
	BackendID string `json:"backend_id"`
}

// AddHTTPFrontendPayload registers one routing rule (spec §3's Frontend).
type AddHTTPFrontendPayload struct {
	Hostname  string `json:"hostname"`
	PathKind  string `json:"path_kind"` // "prefix"|"regex"|"equals"
	Path      string `json:"path"`
	Method    string `json:"method,omitempty"`
	ClusterID string `json:"cluster_id"`
}

// RemoveHTTPFrontendPayload identifies a routing rule to remove.
type RemoveHTTPFrontendPayload struct {
	Hostname string `json:"hostname"`
	PathKind string `json:"path_kind"`
	Path     string `json:"path"`
	Method   string `json:"method,omitempty"`
}

// AddCertificatePayload carries PEM-encoded certificate material and the
// hostnames it should resolve for (spec §5).
type AddCertificatePayload struct {
	CertificatePEM string   `json:"certificate_pem"`
	PrivateKeyPEM  string   `json:"private_key_pem"`
	Names          []string `json:"names"`
}

// RemoveCertificatePayload identifies a certificate by fingerprint hex.
type RemoveCertificatePayload struct {
	Fingerprint string `json:"fingerprint"`
}

// ReplaceCertificatePayload mirrors original_source's ReplaceCertificate:
// an old fingerprint plus a new certificate to install in its place.
type ReplaceCertificatePayload struct {
	OldFingerprint string   `json:"old_fingerprint"`
	CertificatePEM string   `json:"certificate_pem"`
	PrivateKeyPEM  string   `json:"private_key_pem"`
	Names          []string `json:"names"`
}

// AddListenerPayload configures a new bound listener (spec §4.6).
type AddListenerPayload struct {
	ListenerID    string `json:"listener_id"`
	Protocol      string `json:"protocol"` // "http"|"https"|"tcp"
	Address       string `json:"address"`
	ProxyProtocol bool   `json:"proxy_protocol,omitempty"`
	// ClusterID names the single cluster a "tcp" listener splices every
	// accepted connection to; ignored for "http"/"https" listeners, which
	// resolve a cluster per request through the routing table instead.
	ClusterID string `json:"cluster_id,omitempty"`
	// StickyName is the sticky-session cookie name this listener rewrites
	// and appends, shared by every cluster it routes to.
	StickyName string `json:"sticky_name,omitempty"`
}

// ListenerTogglePayload names a listener for Activate/Deactivate/Remove.
type ListenerTogglePayload struct {
	ListenerID string `json:"listener_id"`
}

// QueryClusterByDomainPayload asks which cluster a hostname currently
// resolves to, for debugging and the CLI's "query" subcommand.
type QueryClusterByDomainPayload struct {
	Hostname string `json:"hostname"`
}

// ConfigureMetricsPayload toggles or clears metrics collection, mirroring
// MetricsConfiguration::{Enabled,Disabled,Clear}.
type ConfigureMetricsPayload struct {
	Mode string `json:"mode"` // "enabled"|"disabled"|"clear"
}

// LoggingPayload adjusts the worker's log level at runtime.
type LoggingPayload struct {
	Level string `json:"level"`
}

// SaveStatePayload / LoadStatePayload name the file the worker's current
// configuration is persisted to or restored from, as newline-delimited
// JSON (spec §6).
type SaveStatePayload struct {
	Path string `json:"path"`
}

type LoadStatePayload struct {
	Path string `json:"path"`
}
