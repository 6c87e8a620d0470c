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

package buffer

// EditKind identifies which operation an Edit performs against the input
// view while producing the output view.
type EditKind uint8

const (
	// EditSlice copies N bytes verbatim from the input cursor.
	EditSlice EditKind = iota
	// EditInsert injects bytes that did not come from the input (e.g. a
	// synthesized Forwarded/X-Forwarded-* block).
	EditInsert
	// EditDelete skips N input bytes without copying them to the output.
	EditDelete
)

// Edit is one entry in the lazy edit list a parser records against a
// buffer view. The writer walks edits in order; untouched regions are
// never copied (spec §4.1).
type Edit struct {
	Kind   EditKind
	N      int    // byte count for EditSlice / EditDelete
	Insert []byte // payload for EditInsert
}

// Slice records a verbatim copy of n bytes from the input cursor.
func Slice(n int) Edit { return Edit{Kind: EditSlice, N: n} }

// Delete records that n input bytes are skipped, never reaching the
// output view.
func Delete(n int) Edit { return Edit{Kind: EditDelete, N: n} }

// Insert records literal bytes injected into the output view, independent
// of the input cursor.
func Insert(b []byte) Edit { return Edit{Kind: EditInsert, Insert: b} }

// Queue wraps one pool buffer and exposes two logical cursors over it: an
// input (parse) cursor consumed by the HTTP parser, and an output (write)
// cursor consumed by the writer, plus the ordered edit list connecting
// them (spec §4.1).
type Queue struct {
	buf []byte

	// parsePos is how far the parser has consumed input; inputEnd is how
	// much data has actually arrived from the socket.
	parsePos int
	inputEnd int

	// startParsingPos marks where the *current* parse call began, so the
	// invariant startParsingPos <= parsePos <= inputEnd can be checked.
	startParsingPos int

	// outputPos is how far the writer has drained the output view.
	outputPos int

	edits []Edit
}

// NewQueue wraps buf (normally checked out from a Pool) in a fresh Queue.
func NewQueue(buf []byte) *Queue {
	return &Queue{buf: buf}
}

// Buffer returns the backing slice at its full pool capacity, so callers
// can Release it back to the pool once the queue is no longer needed.
func (q *Queue) Buffer() []byte { return q.buf }

// InputSpace returns the unwritten tail of the buffer, i.e. where a socket
// read should land its bytes.
func (q *Queue) InputSpace() []byte { return q.buf[q.inputEnd:] }

// Fill records that n bytes were read into InputSpace().
func (q *Queue) Fill(n int) { q.inputEnd += n }

// BeginParse marks the start of a new parse call, establishing the
// invariant startParsingPos <= parsePos <= inputEnd.
func (q *Queue) BeginParse() { q.startParsingPos = q.parsePos }

// InputView returns the bytes available to the parser: from the current
// parse position to the end of data received so far.
func (q *Queue) InputView() []byte { return q.buf[q.parsePos:q.inputEnd] }

// Advance moves the parse cursor forward by n bytes and records a Slice
// edit, equivalent to the literal "Advance" the parser emits for bytes it
// passes through unmodified (spec §4.2).
func (q *Queue) Advance(n int) {
	q.parsePos += n
	q.edits = append(q.edits, Slice(n))
}

// ApplyEdit records an edit against the queue and advances the parse
// cursor for Slice/Delete kinds (Insert does not consume input).
func (q *Queue) ApplyEdit(e Edit) {
	switch e.Kind {
	case EditSlice, EditDelete:
		q.parsePos += e.N
	}
	q.edits = append(q.edits, e)
}

// Edits returns the recorded edit list, in order.
func (q *Queue) Edits() []Edit { return q.edits }

// ParsedLen reports how many input bytes have been consumed by the parser
// so far.
func (q *Queue) ParsedLen() int { return q.parsePos }

// UnparsedLen reports how many bytes have arrived but not yet been
// consumed by the parser.
func (q *Queue) UnparsedLen() int { return q.inputEnd - q.parsePos }

// FreeSpace reports how much room is left in the buffer for new input.
func (q *Queue) FreeSpace() int { return len(q.buf) - q.inputEnd }

// Full reports whether the buffer has no room left for further reads,
// e.g. for synthesizing a 413 when request headers don't fit in one
// buffer (spec §4.7).
func (q *Queue) Full() bool { return q.FreeSpace() == 0 }

// Write walks the edit list starting at the current output cursor and
// writes the resulting bytes to w. It returns the number of edits
// written. Once every edit is written it clears the edit list and moves
// the output cursor past them; if w fails, it returns the count written
// so far and leaves the edit list and the output cursor unchanged.
//
// Write never re-copies an untouched region: EditSlice edits reference
// the backing buffer directly via io-less slicing, matching the
// edit-list-faithfulness property (spec §8).
func (q *Queue) Write(w func([]byte) (int, error)) (drained int, err error) {
	pos := q.outputStart()
	for i := 0; i < len(q.edits); i++ {
		e := q.edits[i]
		switch e.Kind {
		case EditSlice:
			if _, err = w(q.buf[pos : pos+e.N]); err != nil {
				return drained, err
			}
			pos += e.N
		case EditDelete:
			pos += e.N
		case EditInsert:
			if _, err = w(e.Insert); err != nil {
				return drained, err
			}
		}
		drained++
	}
	q.outputPos = pos
	q.edits = q.edits[:0]
	return drained, nil
}

// outputStart computes the input-buffer offset the output cursor should
// resume writing from: the position immediately after the last drained
// Slice/Delete edit. We track this implicitly via outputPos, seeded at 0.
func (q *Queue) outputStart() int { return q.outputPos }

// CanRestartParsing is true exactly when the output view has been fully
// drained, i.e. there is no pending edit left unwritten (spec §4.1).
func (q *Queue) CanRestartParsing() bool { return len(q.edits) == 0 }

// Compact slides unconsumed input to the start of the buffer so that
// FreeSpace grows again; only safe to call once CanRestartParsing is true
// and the parser is between requests (pipelining).
func (q *Queue) Compact() {
	remaining := q.inputEnd - q.parsePos
	if remaining > 0 {
		copy(q.buf[0:], q.buf[q.parsePos:q.inputEnd])
	}
	q.parsePos = 0
	q.inputEnd = remaining
	q.startParsingPos = 0
	q.outputPos = 0
}

// Reset clears all cursors and the edit list, e.g. as part of
// Session.reset() for keep-alive reuse without pipelined bytes (spec
// §4.7, "Keep-alive reset").
func (q *Queue) Reset() {
	q.parsePos = 0
	q.inputEnd = 0
	q.startParsingPos = 0
	q.outputPos = 0
	q.edits = q.edits[:0]
}
