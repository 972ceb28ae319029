// seehuhn.de/go/pdfcore - the object graph and persistence core for PDF files
// Copyright (C) 2025  Jochen Voss <voss@seehuhn.de>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package pdfcore

import "strings"

// State is a set of flags describing the life cycle of an indirect object.
type State uint8

// These are the flags which make up a [State].
const (
	// StateFree marks an unused object number.
	StateFree State = 1 << iota

	// StateReading is set while the object is being resolved.
	StateReading

	// StateModified marks objects which are new, or which changed since
	// the document was opened.
	StateModified

	// StateFlushed marks objects which have been written to the output.
	// The in-memory copy of a flushed object is discarded.
	StateFlushed

	// StateMustWrite marks objects which are scheduled to be written.
	StateMustWrite
)

func (s State) String() string {
	var parts []string
	for i, name := range []string{"FREE", "READING", "MODIFIED", "FLUSHED", "MUST_WRITE"} {
		if s&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// EntryKind describes where the value of an object currently lives.
type EntryKind uint8

// These are the possible values of [EntryKind].
const (
	// KindMaterialized means that the object is held in memory.
	KindMaterialized EntryKind = iota

	// KindOnDisk means that the object is still in the source file,
	// either at a byte offset or inside an object stream.
	KindOnDisk

	// KindFree means that the object number is on the free chain.
	KindFree
)

// An Entry is the registry record for one object number.
type Entry struct {
	number uint32
	gen    uint16
	state  State
	kind   EntryKind

	obj Object

	// location in the source file
	pos      int64
	inStream uint32
	index    int

	// next object number on the free chain, 0 terminates the chain
	nextFree uint32

	fromSource bool

	// internal is set for object streams and cross-reference streams.
	// These are rebuilt when a file is written and never copied.
	internal bool

	out outLocation
}

// outLocation records where an object was written in the output.
type outLocation struct {
	written bool
	pos     int64
	stream  uint32
	index   int
}

// Number returns the object number.
func (e *Entry) Number() uint32 {
	return e.number
}

// Generation returns the current generation number.
func (e *Entry) Generation() uint16 {
	return e.gen
}

// Reference returns a reference to the current generation of the object.
func (e *Entry) Reference() Reference {
	return NewReference(e.number, e.gen)
}

// Kind returns where the object value lives.
func (e *Entry) Kind() EntryKind {
	if e.IsFree() {
		return KindFree
	}
	return e.kind
}

// IsFree reports whether the object number is unused.
func (e *Entry) IsFree() bool {
	return e.state&StateFree != 0
}

// NextFree returns the next object number on the free chain.
func (e *Entry) NextFree() uint32 {
	return e.nextFree
}

// CheckState reports whether all flags in s are set.
func (e *Entry) CheckState(s State) bool {
	return e.state&s == s
}

// SetState sets the flags in s.
func (e *Entry) SetState(s State) {
	e.state |= s
}

// ClearState clears the flags in s.
func (e *Entry) ClearState(s State) {
	e.state &^= s
}

// State returns all flags of the entry.
func (e *Entry) State() State {
	return e.state
}
