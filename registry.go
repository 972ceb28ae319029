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

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"weak"
)

// Registry is the table of all indirect objects of one document.
//
// Each object number maps to an [Entry], which holds the object in memory,
// records where to find it in the source file, or marks the number as free.
// Free numbers form a chain starting at object 0.
//
// A Registry is not safe for concurrent use.
type Registry struct {
	entries []*Entry

	// ident maps the identity of composite objects (maps and stream
	// pointers) to the object number holding them.
	ident map[uintptr]uint32

	// Composite objects which have been flushed explicitly.  Dicts are
	// kept alive, so that their address cannot be reused; streams are
	// tracked through weak pointers.
	flushedDicts   map[uintptr]pinnedDict
	flushedStreams map[weak.Pointer[Stream]]uint32

	src *Reader
	w   *Writer

	log      *slog.Logger
	maxDepth int

	freedInSession bool
}

// NewRegistry creates the object table for a document.  If src is not nil,
// the table is populated from the cross-reference information of src and
// objects are loaded lazily on first use.
func NewRegistry(src *Reader, opt *ReaderOptions) *Registry {
	reg := &Registry{
		ident:    make(map[uintptr]uint32),
		src:      src,
		log:      opt.logger(),
		maxDepth: DefaultMaxIndirection,
	}
	if opt != nil && opt.MaxIndirection > 0 {
		reg.maxDepth = opt.MaxIndirection
	}

	zero := &Entry{gen: 65535, state: StateFree, kind: KindFree, pos: -1}
	reg.entries = []*Entry{zero}
	if src == nil {
		return reg
	}

	var maxNum uint32
	for num := range src.xref {
		maxNum = max(maxNum, num)
	}
	reg.entries = make([]*Entry, maxNum+1)
	reg.entries[0] = zero
	for num, x := range src.xref {
		if num == 0 {
			zero.nextFree = x.NextFree
			continue
		}
		e := &Entry{
			number:     num,
			gen:        x.Generation,
			fromSource: true,
			internal:   src.internal[num],
			pos:        -1,
		}
		switch {
		case x.Free:
			e.state = StateFree
			e.kind = KindFree
			e.nextFree = x.NextFree
		case x.InStream != 0:
			e.kind = KindOnDisk
			e.inStream = x.InStream.Number()
			e.index = int(x.Pos)
		default:
			e.kind = KindOnDisk
			e.pos = x.Pos
		}
		reg.entries[num] = e
	}
	return reg
}

// Size returns one more than the highest object number in use or
// allocated.
func (reg *Registry) Size() int {
	return len(reg.entries)
}

// Entry returns the registry entry for the given object number,
// or nil if the number has never been used.
func (reg *Registry) Entry(number uint32) *Entry {
	if int64(number) >= int64(len(reg.entries)) {
		return nil
	}
	return reg.entries[number]
}

// lookup returns the entry for ref, or nil if ref does not point to an
// object in use.
func (reg *Registry) lookup(ref Reference) *Entry {
	e := reg.Entry(ref.Number())
	if e == nil || e.IsFree() || e.gen != ref.Generation() {
		return nil
	}
	return e
}

// Alloc allocates a new object number.  Free numbers are only reused if
// the attached writer allows this, and never in append mode.
func (reg *Registry) Alloc() Reference {
	if reg.w != nil && reg.w.reuseFree() {
		if e := reg.popFree(); e != nil {
			return e.Reference()
		}
	}

	e := &Entry{
		number: uint32(len(reg.entries)),
		state:  StateModified,
		pos:    -1,
	}
	reg.entries = append(reg.entries, e)
	return e.Reference()
}

// CreateNextIndirectReference is the same as [Registry.Alloc].
func (reg *Registry) CreateNextIndirectReference() Reference {
	return reg.Alloc()
}

// allocInternal allocates a number for an object which only exists in the
// output file.  Internal numbers are never taken from the free chain.
func (reg *Registry) allocInternal() *Entry {
	e := &Entry{
		number:   uint32(len(reg.entries)),
		state:    StateModified,
		internal: true,
		pos:      -1,
	}
	reg.entries = append(reg.entries, e)
	return e
}

// popFree takes the first reusable number off the free chain.
func (reg *Registry) popFree() *Entry {
	prev := reg.entries[0]
	for steps := 0; prev.nextFree != 0 && steps < len(reg.entries); steps++ {
		e := reg.Entry(prev.nextFree)
		if e == nil || !e.IsFree() {
			// the chain is damaged beyond this point
			prev.nextFree = 0
			return nil
		}
		if e.gen < 65535 {
			prev.nextFree = e.nextFree
			*e = Entry{
				number: e.number,
				gen:    e.gen,
				state:  StateModified,
				pos:    -1,
			}
			return e
		}
		prev = e
	}
	return nil
}

// MakeIndirect turns obj into an indirect object and returns a reference
// to it.  If obj is already stored in the registry, the existing reference
// is returned.  References are returned unchanged.
//
// Arrays have no identity in Go, so every call with an Array allocates a
// new object.
func (reg *Registry) MakeIndirect(obj Object) (Reference, error) {
	if ref, ok := obj.(Reference); ok {
		return ref, nil
	}
	if key, ok := identity(obj); ok {
		if num, ok := reg.ident[key]; ok {
			return reg.entries[num].Reference(), nil
		}
	}
	if num, ok := reg.flushedAs(obj); ok {
		return 0, &FlushedObjectError{Ref: reg.refFor(num), Op: "make indirect"}
	}

	ref := reg.Alloc()
	err := reg.Put(ref, obj)
	if err != nil {
		return 0, err
	}
	return ref, nil
}

// Put stores obj as the value of the indirect object ref.
// The object is marked as modified.
func (reg *Registry) Put(ref Reference, obj Object) error {
	e := reg.Entry(ref.Number())
	if e == nil || e.gen != ref.Generation() {
		return &ReferenceError{Ref: ref, Err: errors.New("unknown object")}
	}
	if e.CheckState(StateFlushed) {
		return &FlushedObjectError{Ref: ref, Op: "put"}
	}
	if e.IsFree() {
		return &ReferenceError{Ref: ref, Err: errors.New("object is free")}
	}
	if num, ok := reg.flushedAs(obj); ok {
		return &FlushedObjectError{Ref: reg.refFor(num), Op: "put"}
	}

	reg.forget(e)
	e.obj = obj
	e.kind = KindMaterialized
	e.SetState(StateModified)
	if key, ok := identity(obj); ok {
		reg.ident[key] = e.number
	}
	return nil
}

// Get returns the value stored for ref, without following further
// references.  Objects are loaded from the source file as needed.
func (reg *Registry) Get(ref Reference) (Object, error) {
	e := reg.lookup(ref)
	if e == nil {
		return nil, nil
	}
	if e.CheckState(StateFlushed) {
		return nil, &FlushedObjectError{Ref: ref, Op: "get"}
	}
	if e.kind == KindOnDisk {
		if e.CheckState(StateReading) {
			return nil, &ReferenceError{Ref: ref, Err: ErrCircularReference}
		}
		e.SetState(StateReading)
		err := reg.load(e)
		e.ClearState(StateReading)
		if err != nil {
			return nil, err
		}
	}
	return e.obj, nil
}

// GetPdfObject returns the value of the object with the given number,
// whatever its generation.  Free and unknown numbers give nil.
func (reg *Registry) GetPdfObject(number uint32) (Object, error) {
	e := reg.Entry(number)
	if e == nil || e.IsFree() {
		return nil, nil
	}
	return reg.Resolve(e.Reference())
}

// Resolve follows references until a direct object is found.
//
// Chains of references are followed iteratively.  Every object on the
// chain is marked as being read while the chain is followed, so that
// cycles are detected.  Chains longer than the configured limit are
// reported in the same way as cycles.  References to free or unknown
// objects resolve to nil.
func (reg *Registry) Resolve(obj Object) (Object, error) {
	ref, ok := obj.(Reference)
	if !ok {
		return obj, nil
	}
	orig := ref

	var marked []*Entry
	defer func() {
		for _, e := range marked {
			e.ClearState(StateReading)
		}
	}()

	for depth := 0; ; depth++ {
		if depth >= reg.maxDepth {
			reg.log.Warn("reference chain too long",
				slog.String("ref", orig.String()),
				slog.Int("limit", reg.maxDepth))
			return nil, &ReferenceError{Ref: orig, Err: ErrCircularReference}
		}

		e := reg.lookup(ref)
		if e == nil {
			reg.log.Debug("dangling reference", slog.String("ref", ref.String()))
			return nil, nil
		}
		if e.CheckState(StateReading) {
			reg.log.Warn("circular reference", slog.String("ref", ref.String()))
			return nil, &ReferenceError{Ref: ref, Err: ErrCircularReference}
		}
		if e.CheckState(StateFlushed) {
			return nil, &FlushedObjectError{Ref: ref, Op: "resolve"}
		}

		e.SetState(StateReading)
		marked = append(marked, e)

		if e.kind == KindOnDisk {
			err := reg.load(e)
			if err != nil {
				return nil, err
			}
		}

		next, isRef := e.obj.(Reference)
		if !isRef {
			return e.obj, nil
		}
		ref = next
	}
}

// load reads the value of e from the source file.
func (reg *Registry) load(e *Entry) error {
	var obj Object
	var err error
	if e.inStream != 0 {
		obj, err = reg.loadFromStream(e)
	} else {
		var ref Reference
		obj, ref, err = reg.src.parseAt(e.pos, reg.getInt)
		if err == nil && ref.Number() != e.number {
			err = &MalformedFileError{
				Pos: e.pos,
				Err: fmt.Errorf("expected object %d but found %s", e.number, ref),
			}
		}
	}
	if err != nil {
		return err
	}

	e.obj = obj
	e.kind = KindMaterialized
	if key, ok := identity(obj); ok {
		reg.ident[key] = e.number
	}
	if stm, ok := obj.(*Stream); ok {
		if tp := stm.Dict["Type"]; tp == Name("ObjStm") || tp == Name("XRef") {
			e.internal = true
		}
	}
	return nil
}

func (reg *Registry) loadFromStream(e *Entry) (Object, error) {
	containerRef := NewReference(e.inStream, 0)
	container := reg.lookup(containerRef)
	if container == nil {
		return nil, &MalformedFileError{
			Err: fmt.Errorf("object stream %d for object %d not found", e.inStream, e.number),
		}
	}
	container.internal = true

	stm, ok := reg.src.objStms.Get(containerRef)
	if !ok {
		obj, err := reg.Resolve(containerRef)
		if err != nil {
			return nil, err
		}
		stream, ok := obj.(*Stream)
		if !ok {
			return nil, &MalformedFileError{
				Pos: container.pos,
				Err: errors.New("wrong type for object stream"),
			}
		}
		stm, err = reg.src.decodeObjStm(reg, stream, container.pos)
		if err != nil {
			return nil, err
		}
		reg.src.objStms.Put(containerRef, stm)
	}
	return stm.get(e.number, e.index)
}

// getInt is used by the scanner to find the length of streams.
func (reg *Registry) getInt(obj Object) (Integer, error) {
	val, err := reg.Resolve(obj)
	if err != nil {
		return 0, err
	}
	x, ok := val.(Integer)
	if !ok {
		return 0, fmt.Errorf("expected Integer but got %T", val)
	}
	return x, nil
}

// Free releases the object ref.  Its number is added to the free chain,
// with the generation number incremented for reuse.  Other objects which
// still refer to ref are not changed; such references resolve to nil from
// now on.  Freeing a flushed object is allowed.
func (reg *Registry) Free(ref Reference) error {
	e := reg.lookup(ref)
	if e == nil || e.number == 0 {
		return nil
	}
	if e.CheckState(StateReading) {
		return &ReferenceError{Ref: ref, Err: errors.New("cannot free an object while it is being read")}
	}

	reg.forget(e)
	e.obj = nil
	e.state = StateFree
	e.kind = KindFree
	e.out = outLocation{}
	if e.gen < 65535 {
		e.gen++
	}
	zero := reg.entries[0]
	e.nextFree = zero.nextFree
	zero.nextFree = e.number
	reg.freedInSession = true
	return nil
}

// SetModified marks ref as changed, so that it is written in append mode.
func (reg *Registry) SetModified(ref Reference) error {
	e := reg.lookup(ref)
	if e == nil {
		return &ReferenceError{Ref: ref, Err: errors.New("unknown object")}
	}
	if e.CheckState(StateFlushed) {
		return &FlushedObjectError{Ref: ref, Op: "modify"}
	}
	e.SetState(StateModified)
	return nil
}

// MarkModified is the same as [Registry.SetModified].
func (reg *Registry) MarkModified(ref Reference) error {
	return reg.SetModified(ref)
}

// IsFlushed reports whether ref has been written and dropped from memory.
func (reg *Registry) IsFlushed(ref Reference) bool {
	e := reg.lookup(ref)
	return e != nil && e.CheckState(StateFlushed)
}

// IsFree reports whether the object number of ref is currently unused.
func (reg *Registry) IsFree(ref Reference) bool {
	e := reg.Entry(ref.Number())
	return e == nil || e.IsFree()
}

// Flush writes ref to the output and drops the in-memory copy.  After this
// the object can no longer be read or modified.
func (reg *Registry) Flush(ref Reference) error {
	e := reg.lookup(ref)
	if e == nil {
		return nil
	}
	if e.CheckState(StateReading) {
		return &ReferenceError{Ref: ref, Err: ErrFlushReading}
	}
	if e.CheckState(StateFlushed) {
		return nil
	}
	if reg.w == nil {
		return errNoWriter
	}
	obj := e.obj
	err := reg.w.flushEntry(e)
	if err != nil {
		return err
	}
	reg.markFlushed(e.number, obj)
	return nil
}

// forget removes the identity record for the current value of e.
func (reg *Registry) forget(e *Entry) {
	if key, ok := identity(e.obj); ok && reg.ident[key] == e.number {
		delete(reg.ident, key)
	}
}

// CheckFreeChain verifies that the free chain starting at object 0 is
// finite and only visits free entries.
func (reg *Registry) CheckFreeChain() error {
	seen := make(map[uint32]bool)
	num := reg.entries[0].nextFree
	for num != 0 {
		if seen[num] {
			return fmt.Errorf("free chain: object %d visited twice", num)
		}
		seen[num] = true
		e := reg.Entry(num)
		if e == nil || !e.IsFree() {
			return fmt.Errorf("free chain: object %d is not free", num)
		}
		num = e.nextFree
	}
	return nil
}

type pinnedDict struct {
	number uint32
	dict   Dict
}

// markFlushed records that obj has been flushed as object number, so
// that the same Dict or Stream cannot be stored again under a different
// number.
func (reg *Registry) markFlushed(number uint32, obj Object) {
	switch x := obj.(type) {
	case Dict:
		if x == nil {
			return
		}
		if reg.flushedDicts == nil {
			reg.flushedDicts = make(map[uintptr]pinnedDict)
		}
		reg.flushedDicts[reflect.ValueOf(x).Pointer()] = pinnedDict{number: number, dict: x}
	case *Stream:
		if x == nil {
			return
		}
		if reg.flushedStreams == nil {
			reg.flushedStreams = make(map[weak.Pointer[Stream]]uint32)
		}
		reg.flushedStreams[weak.Make(x)] = number
	}
}

// flushedAs returns the number under which obj was flushed.
func (reg *Registry) flushedAs(obj Object) (uint32, bool) {
	switch x := obj.(type) {
	case Dict:
		if x == nil {
			return 0, false
		}
		p, ok := reg.flushedDicts[reflect.ValueOf(x).Pointer()]
		return p.number, ok
	case *Stream:
		if x == nil {
			return 0, false
		}
		num, ok := reg.flushedStreams[weak.Make(x)]
		return num, ok
	}
	return 0, false
}

func (reg *Registry) refFor(number uint32) Reference {
	if e := reg.Entry(number); e != nil {
		return e.Reference()
	}
	return NewReference(number, 0)
}

// identity returns a key which identifies composite objects.
// Dicts are identified by their map, streams by their pointer.
func identity(obj Object) (uintptr, bool) {
	switch x := obj.(type) {
	case Dict:
		if x == nil {
			return 0, false
		}
		return reflect.ValueOf(x).Pointer(), true
	case *Stream:
		if x == nil {
			return 0, false
		}
		return reflect.ValueOf(x).Pointer(), true
	}
	return 0, false
}
