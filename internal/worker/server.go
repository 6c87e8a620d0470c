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
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/edgeproxy/edgeproxy/internal/backend"
	"github.com/edgeproxy/edgeproxy/internal/buffer"
	"github.com/edgeproxy/edgeproxy/internal/certs"
	"github.com/edgeproxy/edgeproxy/internal/control"
	"github.com/edgeproxy/edgeproxy/internal/listener"
	"github.com/edgeproxy/edgeproxy/internal/logging"
	"github.com/edgeproxy/edgeproxy/internal/metrics"
	"github.com/edgeproxy/edgeproxy/internal/router"
	"github.com/edgeproxy/edgeproxy/internal/session"
)

// Server is one worker process's top-level state: the shared routing
// table and cluster map every listener dispatches into, the certificate
// resolver TLS listeners consult, the session slab and timer wheel, and
// the counters exposed through Status (spec §5).
//
// Production HTTP sessions run goroutine-per-connection over Go's own
// runtime netpoller rather than being driven by-hand through a reactor.
// The epoll Reactor (reactor_linux.go) is tested infrastructure that no
// production path registers fds with; the control channel is an ordinary
// net.Listener.
type Server struct {
	log *zap.Logger

	router   *router.Router
	clusters *backend.Map
	certs    *certs.Resolver
	metrics  *metrics.Collector

	slab   *Slab
	slabMu sync.Mutex
	timers *TimerWheel

	mu        sync.RWMutex
	listeners map[string]*listener.Listener
	cancels   map[string]func() // stops a listener's accept loop goroutine

	requestLog   []control.Request // replay log for SaveState/LoadState
	requestLogMu sync.Mutex

	stopping bool

	// bufPool lends the fixed-size front/back buffer.Queue pair each HTTP
	// session pumps bytes through (spec §5's BufferPool).
	bufPool *buffer.Pool

	// ServerName identifies this worker in the synthesized Forwarded
	// header's by= parameter (spec §4.2).
	ServerName string
	// ForwardedFix, when true, retains a client's existing
	// Forwarded/X-Forwarded-*/Sozu-Id headers instead of stripping them
	// before inserting this worker's own block (spec §4.2).
	ForwardedFix bool
}

// NewServer constructs a Server with an empty routing table and no
// listeners configured; the control channel populates it via
// AddCluster/AddBackend/AddHTTPFrontend/AddListener calls (spec §6).
// bufCount/bufSize size the shared front/back buffer pool every HTTP
// session checks its two buffers out of.
func NewServer(bufCount, bufSize int, serverName string) *Server {
	return &Server{
		log:        logging.Named("worker"),
		router:     router.New(),
		clusters:   backend.NewMap(),
		certs:      certs.NewResolver(),
		metrics:    metrics.NewCollector(),
		slab:       NewSlab(),
		timers:     NewTimerWheel(),
		listeners:  make(map[string]*listener.Listener),
		cancels:    make(map[string]func()),
		bufPool:    buffer.NewPool(bufCount, bufSize),
		ServerName: serverName,
	}
}

// registerSession allocates tok's slot in the slab for the lifetime of
// one accepted connection, so Status/Len reflect concurrently-handled
// sessions even though they run goroutine-per-connection rather than
// through the reactor's own loop.
func (s *Server) registerSession(sess *session.Session) Token {
	s.slabMu.Lock()
	defer s.slabMu.Unlock()
	return s.slab.Allocate(sess)
}

// releaseSession frees tok once its connection's goroutine returns.
func (s *Server) releaseSession(tok Token) {
	s.slabMu.Lock()
	defer s.slabMu.Unlock()
	s.slab.Release(tok)
}

// recordRequest appends req to the replay log SaveState persists, for
// every control message that mutates configuration.
func (s *Server) recordRequest(req control.Request) {
	s.requestLogMu.Lock()
	defer s.requestLogMu.Unlock()
	s.requestLog = append(s.requestLog, req)
}

func selectionPolicyFor(name string) backend.Selection {
	switch name {
	case "random":
		return &backend.RandomSelection{}
	case "least_loaded":
		return &backend.LeastConnSelection{}
	case "weighted_round_robin":
		return &backend.WeightedRoundRobinSelection{}
	default:
		return &backend.RoundRobinSelection{}
	}
}

// AddCluster implements control.Target.
func (s *Server) AddCluster(p control.AddClusterPayload) error {
	sink := func(ev backend.Event) {
		s.metrics.BackendUp(ev.ClusterID, ev.BackendID, ev.Up)
		s.log.Info("backend availability changed",
			zap.String("cluster", ev.ClusterID), zap.String("backend", ev.BackendID), zap.Bool("up", ev.Up))
	}
	c := backend.NewCluster(p.ClusterID, selectionPolicyFor(p.SelectionPolicy), sink)
	c.StickyName = p.StickyName
	s.clusters.Add(c)
	return nil
}

// RemoveCluster implements control.Target.
func (s *Server) RemoveCluster(clusterID string) error {
	s.clusters.Remove(clusterID)
	return nil
}

// AddBackend implements control.Target.
func (s *Server) AddBackend(p control.AddBackendPayload) error {
	c, ok := s.clusters.Get(p.ClusterID)
	if !ok {
		return fmt.Errorf("worker: unknown cluster %q", p.ClusterID)
	}
	b := backend.NewBackend(p.BackendID, p.Address, p.Weight)
	b.Backup = p.Backup
	c.AddBackend(b)
	return nil
}

// RemoveBackend implements control.Target.
func (s *Server) RemoveBackend(p control.RemoveBackendPayload) error {
	c, ok := s.clusters.Get(p.ClusterID)
	if !ok {
		return fmt.Errorf("worker: unknown cluster %q", p.ClusterID)
	}
	c.RemoveBackend(p.BackendID)
	return nil
}

func pathKindFrom(name string) (router.PathRuleKind, error) {
	switch name {
	case "", "prefix":
		return router.PathPrefix, nil
	case "regex":
		return router.PathRegex, nil
	case "equals":
		return router.PathEquals, nil
	default:
		return 0, fmt.Errorf("worker: unknown path kind %q", name)
	}
}

// AddHTTPFrontend implements control.Target.
func (s *Server) AddHTTPFrontend(p control.AddHTTPFrontendPayload) error {
	kind, err := pathKindFrom(p.PathKind)
	if err != nil {
		return err
	}
	return s.router.Insert(p.Hostname, router.Rule{
		PathKind:  kind,
		Path:      p.Path,
		Method:    p.Method,
		ClusterID: p.ClusterID,
	})
}

// RemoveHTTPFrontend implements control.Target.
func (s *Server) RemoveHTTPFrontend(p control.RemoveHTTPFrontendPayload) error {
	kind, err := pathKindFrom(p.PathKind)
	if err != nil {
		return err
	}
	s.router.Remove(p.Hostname, kind, p.Path, p.Method)
	return nil
}

// AddCertificate implements control.Target.
func (s *Server) AddCertificate(p control.AddCertificatePayload) (string, error) {
	cert, err := tls.X509KeyPair([]byte(p.CertificatePEM), []byte(p.PrivateKeyPEM))
	if err != nil {
		return "", fmt.Errorf("worker: parsing certificate: %w", err)
	}
	fp := s.certs.Add(&cert, p.Names)
	return fp.String(), nil
}

// RemoveCertificate implements control.Target.
func (s *Server) RemoveCertificate(p control.RemoveCertificatePayload) error {
	fp, err := fingerprintFromHex(p.Fingerprint)
	if err != nil {
		return err
	}
	s.certs.Remove(fp)
	return nil
}

// ReplaceCertificate implements control.Target.
func (s *Server) ReplaceCertificate(p control.ReplaceCertificatePayload) (string, error) {
	oldFP, err := fingerprintFromHex(p.OldFingerprint)
	if err != nil {
		return "", err
	}
	cert, err := tls.X509KeyPair([]byte(p.CertificatePEM), []byte(p.PrivateKeyPEM))
	if err != nil {
		return "", fmt.Errorf("worker: parsing certificate: %w", err)
	}
	newFP := s.certs.Replace(oldFP, &cert, p.Names)
	return newFP.String(), nil
}

func fingerprintFromHex(s string) (certs.Fingerprint, error) {
	var fp certs.Fingerprint
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(fp) {
		return fp, fmt.Errorf("worker: malformed fingerprint %q", s)
	}
	copy(fp[:], raw)
	return fp, nil
}

// AddListener implements control.Target.
func (s *Server) AddListener(p control.AddListenerPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.listeners[p.ListenerID]; exists {
		return fmt.Errorf("worker: listener %q already configured", p.ListenerID)
	}

	var proto listener.Protocol
	switch p.Protocol {
	case "http":
		proto = listener.ProtoHTTP
	case "https":
		proto = listener.ProtoHTTPS
	case "tcp":
		proto = listener.ProtoTCP
	default:
		return fmt.Errorf("worker: unknown listener protocol %q", p.Protocol)
	}

	ln, err := listener.New(p.ListenerID, proto, p.Address, s.router)
	if err != nil {
		return fmt.Errorf("worker: binding listener %q: %w", p.ListenerID, err)
	}
	ln.ProxyProtocol = p.ProxyProtocol
	ln.TCPClusterID = p.ClusterID
	ln.StickyName = p.StickyName
	if proto == listener.ProtoHTTPS {
		ln.TLS = &tls.Config{GetCertificate: s.certs.GetCertificate}
	}
	s.listeners[p.ListenerID] = ln
	return nil
}

// RemoveListener implements control.Target.
func (s *Server) RemoveListener(p control.ListenerTogglePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ln, ok := s.listeners[p.ListenerID]
	if !ok {
		return fmt.Errorf("worker: unknown listener %q", p.ListenerID)
	}
	if ln.State() == listener.StateActive {
		return fmt.Errorf("worker: listener %q is active, deactivate before removing", p.ListenerID)
	}
	if cancel, ok := s.cancels[p.ListenerID]; ok {
		cancel()
		delete(s.cancels, p.ListenerID)
	}
	delete(s.listeners, p.ListenerID)
	return ln.Close()
}

// ActivateListener implements control.Target: it flips the listener's
// state to Active and, the first time, starts its accept loop goroutine.
func (s *Server) ActivateListener(p control.ListenerTogglePayload) error {
	s.mu.Lock()
	ln, ok := s.listeners[p.ListenerID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("worker: unknown listener %q", p.ListenerID)
	}
	_, alreadyRunning := s.cancels[p.ListenerID]
	if !alreadyRunning {
		s.cancels[p.ListenerID] = s.startAcceptLoop(ln)
	}
	s.mu.Unlock()

	ln.Activate()
	return nil
}

// DeactivateListener implements control.Target: connections already
// accepted finish normally; no new ones are taken until reactivated
// (spec §6), and the bound socket is left open.
func (s *Server) DeactivateListener(p control.ListenerTogglePayload) error {
	s.mu.RLock()
	ln, ok := s.listeners[p.ListenerID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("worker: unknown listener %q", p.ListenerID)
	}
	ln.Deactivate()
	return nil
}

// QueryClusterByDomain implements control.Target.
func (s *Server) QueryClusterByDomain(p control.QueryClusterByDomainPayload) (string, bool) {
	return s.router.Lookup(p.Hostname, "/", "")
}

// ConfigureMetrics implements control.Target.
func (s *Server) ConfigureMetrics(p control.ConfigureMetricsPayload) error {
	switch p.Mode {
	case "enabled":
		s.metrics.SetMode(metrics.ModeEnabled)
	case "disabled":
		s.metrics.SetMode(metrics.ModeDisabled)
	case "clear":
		s.metrics.Clear()
	default:
		return fmt.Errorf("worker: unknown metrics mode %q", p.Mode)
	}
	return nil
}

// SetLogLevel implements control.Target.
func (s *Server) SetLogLevel(p control.LoggingPayload) error {
	return logging.Configure(logging.Config{Level: p.Level})
}

// Status implements control.Target, reporting the handful of gauges the
// control channel's Status/CountRequests messages surface (spec §6).
func (s *Server) Status() map[string]any {
	s.mu.RLock()
	listenerCount := len(s.listeners)
	s.mu.RUnlock()
	inUse := s.bufPool.Capacity() - s.bufPool.Available()
	bufBytes := inUse * s.bufPool.BufferSize()
	return map[string]any{
		"sessions":    s.slab.Len(),
		"listeners":   listenerCount,
		"names":       certs.SummarizeNames(s.certs.RegisteredNames(), 20),
		"buffer_pool": humanize.Bytes(uint64(bufBytes)),
	}
}

// SoftStop implements control.Target: stop accepting new connections on
// every listener, but let sessions already in flight finish on their own
// (spec §6's graceful-shutdown message).
func (s *Server) SoftStop() error {
	s.mu.Lock()
	s.stopping = true
	lns := make([]*listener.Listener, 0, len(s.listeners))
	for _, ln := range s.listeners {
		lns = append(lns, ln)
	}
	s.mu.Unlock()
	for _, ln := range lns {
		ln.Deactivate()
	}
	return nil
}

// HardStop implements control.Target: stop accepting immediately and close
// every listener socket, abandoning in-flight sessions.
func (s *Server) HardStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	var first error
	for id, ln := range s.listeners {
		if err := ln.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.listeners, id)
	}
	return first
}

// SaveState implements control.Target, writing every mutating control
// message applied so far to path as newline-delimited JSON behind a YAML
// manifest header (spec §6; internal/control/state.go does the actual
// encoding).
func (s *Server) SaveState(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("worker: saving state: %w", err)
	}
	defer f.Close()

	s.requestLogMu.Lock()
	reqs := append([]control.Request(nil), s.requestLog...)
	s.requestLogMu.Unlock()

	return control.WriteState(f, reqs, time.Now())
}

// LoadState implements control.Target, replaying a file written by
// SaveState through Dispatch in order.
func (s *Server) LoadState(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("worker: loading state: %w", err)
	}
	defer f.Close()

	reqs, err := control.ReadState(f)
	if err != nil {
		return fmt.Errorf("worker: loading state: %w", err)
	}
	for _, req := range reqs {
		resp := control.Dispatch(s, req)
		if resp.Status == control.StatusError {
			return fmt.Errorf("worker: replaying %s: %s", req.Kind, resp.Error)
		}
		s.recordRequest(req)
	}
	return nil
}
