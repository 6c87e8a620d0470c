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

// Package metrics wraps a prometheus registry with the per-cluster and
// per-backend counters the control channel's ConfigureMetrics message
// can enable, disable, or clear (spec §6).
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SanitizeCode normalizes a status code for use as a metric label; 0 (no
// response ever sent, e.g. a connection reset before any bytes went out)
// is folded into "200" the way Caddy's own metrics package treats a
// never-written status.
func SanitizeCode(s int) string {
	switch s {
	case 0, 200:
		return "200"
	default:
		return strconv.Itoa(s)
	}
}

// Only support the list of "regular" HTTP methods, see
// https://developer.mozilla.org/en-US/docs/Web/HTTP/Methods
var methodMap = map[string]string{
	"GET": http.MethodGet, "get": http.MethodGet,
	"HEAD": http.MethodHead, "head": http.MethodHead,
	"PUT": http.MethodPut, "put": http.MethodPut,
	"POST": http.MethodPost, "post": http.MethodPost,
	"DELETE": http.MethodDelete, "delete": http.MethodDelete,
	"CONNECT": http.MethodConnect, "connect": http.MethodConnect,
	"OPTIONS": http.MethodOptions, "options": http.MethodOptions,
	"TRACE": http.MethodTrace, "trace": http.MethodTrace,
	"PATCH": http.MethodPatch, "patch": http.MethodPatch,
}

// SanitizeMethod sanitizes the method for use as a metric label. This helps
// prevent high cardinality on the method label. The name is always upper case.
func SanitizeMethod(m string) string {
	if m, ok := methodMap[m]; ok {
		return m
	}
	return "OTHER"
}

// Mode mirrors Caddy's metrics on/off toggle
// (modules/metrics/metrics_test.go's DisableOpenMetrics option),
// generalized to the control channel's enabled/disabled/clear message.
type Mode int

const (
	ModeEnabled Mode = iota
	ModeDisabled
)

// Collector owns the prometheus registry and the proxy-specific metric
// vectors, gated by Mode so a disabled collector is a cheap no-op rather
// than an allocate-then-discard cycle.
type Collector struct {
	mu   sync.RWMutex
	mode Mode

	registry *prometheus.Registry

	backendUp       *prometheus.GaugeVec
	requestsTotal   *prometheus.CounterVec
	backendErrors   *prometheus.CounterVec
	clusterActive   *prometheus.GaugeVec
	acceptTotal     prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		mode:     ModeEnabled,
		registry: reg,
		backendUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "edgeproxy",
			Name:      "backend_up",
			Help:      "Whether a backend is currently available (1) or down (0).",
		}, []string{"cluster", "backend"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgeproxy",
			Name:      "requests_total",
			Help:      "Total requests forwarded to a backend, labeled by method and response status.",
		}, []string{"cluster", "backend", "method", "status"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgeproxy",
			Name:      "backend_errors_total",
			Help:      "Total connection errors to a backend.",
		}, []string{"cluster", "backend"}),
		clusterActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "edgeproxy",
			Name:      "cluster_active_connections",
			Help:      "Active connections per cluster.",
		}, []string{"cluster"}),
		acceptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgeproxy",
			Name:      "accept_total",
			Help:      "Total connections accepted across all listeners.",
		}),
	}
	reg.MustRegister(c.backendUp, c.requestsTotal, c.backendErrors, c.clusterActive, c.acceptTotal)
	return c
}

// Registry exposes the underlying prometheus.Registry for an HTTP
// /metrics handler to serve.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
}

func (c *Collector) enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode == ModeEnabled
}

// Clear resets the labeled vectors (backend_up, requests_total,
// backend_errors_total, cluster_active_connections) without disabling
// collection, mirroring a MetricsConfiguration::Clear control message.
// accept_total is a plain counter and is not reset.
func (c *Collector) Clear() {
	c.backendUp.Reset()
	c.requestsTotal.Reset()
	c.backendErrors.Reset()
	c.clusterActive.Reset()
}

func (c *Collector) BackendUp(cluster, backend string, up bool) {
	if !c.enabled() {
		return
	}
	v := 0.0
	if up {
		v = 1.0
	}
	c.backendUp.WithLabelValues(cluster, backend).Set(v)
}

// ObserveRequest records one completed request, with method and status
// run through SanitizeMethod/SanitizeCode to bound label cardinality.
func (c *Collector) ObserveRequest(cluster, backend, method string, status int) {
	if !c.enabled() {
		return
	}
	c.requestsTotal.WithLabelValues(cluster, backend, SanitizeMethod(method), SanitizeCode(status)).Inc()
}

func (c *Collector) ObserveBackendError(cluster, backend string) {
	if !c.enabled() {
		return
	}
	c.backendErrors.WithLabelValues(cluster, backend).Inc()
}

func (c *Collector) SetClusterActive(cluster string, n float64) {
	if !c.enabled() {
		return
	}
	c.clusterActive.WithLabelValues(cluster).Set(n)
}

func (c *Collector) ObserveAccept() {
	if !c.enabled() {
		return
	}
	c.acceptTotal.Inc()
}
