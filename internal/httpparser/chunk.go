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

package httpparser

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/edgeproxy/edgeproxy/internal/buffer"
)

// stepChunk advances the three-state Chunk sub-machine by exactly one
// unit of work against view (spec §4.2: "parsed incrementally by a
// three-state Chunk sub-machine"). It never rewrites chunk framing: size
// lines, trailers, and the terminating CRLFs are always emitted as Slice
// edits, verbatim.
//
// It returns the chunk sub-machine's new state; the input bytes it
// consumes are applied to q via Advance. If view does not contain a
// complete unit of work, it returns (same state, NeedMore).
func stepChunk(q *buffer.Queue, view []byte, cs ChunkState) (ChunkState, error) {
	switch cs.Kind {
	case ChunkInitial:
		lineLen, ok := findLine(view)
		if !ok {
			return cs, NeedMore
		}
		sizeLine := bytes.TrimSpace(view[:lineLen-len(crlf)])
		// strip chunk extensions, if any ("1a;foo=bar")
		if semi := bytes.IndexByte(sizeLine, ';'); semi >= 0 {
			sizeLine = sizeLine[:semi]
		}
		size, err := strconv.ParseUint(string(sizeLine), 16, 63)
		if err != nil {
			return ChunkState{Kind: ChunkError}, fmt.Errorf("httpparser: invalid chunk size: %w", err)
		}
		q.Advance(lineLen)
		if size == 0 {
			return ChunkState{Kind: ChunkCopyingLastHeader}, nil
		}
		return ChunkState{Kind: ChunkCopying, Remaining: int64(size) + int64(len(crlf))}, nil

	case ChunkCopying:
		// Remaining counts the chunk body plus its trailing CRLF.
		bodyRemaining := cs.Remaining - int64(len(crlf))
		if bodyRemaining > 0 {
			n := int64(len(view))
			if n > bodyRemaining {
				n = bodyRemaining
			}
			if n == 0 {
				return cs, NeedMore
			}
			q.Advance(int(n))
			cs.Remaining -= n
			return cs, nil
		}
		// only the trailing CRLF remains
		if len(view) < len(crlf) {
			return cs, NeedMore
		}
		q.Advance(len(crlf))
		return ChunkState{Kind: ChunkInitial}, nil

	case ChunkCopyingLastHeader:
		// trailer headers (possibly none) followed by the final blank line
		lineLen, ok := findLine(view)
		if !ok {
			return cs, NeedMore
		}
		q.Advance(lineLen)
		if lineLen == len(crlf) {
			return ChunkState{Kind: ChunkEnded}, nil
		}
		return cs, nil

	default:
		return cs, fmt.Errorf("httpparser: stepChunk called in terminal state %d", cs.Kind)
	}
}
