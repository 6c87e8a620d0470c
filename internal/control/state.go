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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const stateSeparator = "---\n"

// StateManifest is the YAML header written at the top of a saved-state
// file, ended by a "---" line: a version marker and timestamp, so LoadState can
// refuse to replay a file from an incompatible worker version. The body
// beneath it is newline-delimited JSON Requests that replay the exact
// sequence of AddCluster/AddBackend/AddHttpFrontend/AddCertificate/
// AddListener/ActivateListener calls needed to reconstruct the running
// configuration (spec §6: "persisted state as newline-delimited JSON").
type StateManifest struct {
	Version   int       `yaml:"version"`
	SavedAt   time.Time `yaml:"saved_at"`
}

const stateVersion = 1

// WriteState serializes the given Requests to w as a YAML manifest, a
// "---" separator line, then one JSON object per line.
func WriteState(w io.Writer, reqs []Request, savedAt time.Time) error {
	manifest, err := yaml.Marshal(StateManifest{Version: stateVersion, SavedAt: savedAt})
	if err != nil {
		return err
	}
	if _, err := w.Write(manifest); err != nil {
		return err
	}
	if _, err := io.WriteString(w, stateSeparator); err != nil {
		return err
	}
	enc := json.NewEncoder(w) // json.Encoder.Encode appends one "\n" per call
	for _, req := range reqs {
		if err := enc.Encode(req); err != nil {
			return err
		}
	}
	return nil
}

// ReadState parses a file written by WriteState back into its ordered
// list of Requests, to be replayed one at a time through Dispatch. The
// whole file is read into memory first and split at the "---" manifest
// separator, rather than chaining a yaml.Decoder directly into a raw byte
// reader, since a streaming YAML decoder may buffer past the document
// boundary and swallow the NDJSON body that follows it.
func ReadState(r io.Reader) ([]Request, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	header, body, ok := bytes.Cut(raw, []byte(stateSeparator))
	if !ok {
		return nil, fmt.Errorf("control: state file missing %q manifest separator", strings.TrimSpace(stateSeparator))
	}

	var manifest StateManifest
	if err := yaml.Unmarshal(header, &manifest); err != nil {
		return nil, fmt.Errorf("control: reading state manifest: %w", err)
	}
	if manifest.Version != stateVersion {
		return nil, fmt.Errorf("control: unsupported state version %d", manifest.Version)
	}

	var reqs []Request
	dec := json.NewDecoder(bytes.NewReader(body))
	for {
		var req Request
		err := dec.Decode(&req)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
