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

// lruCache keeps the most recently used values, indexed by reference.
// This is used to hold decoded object streams.
type lruCache[V any] struct {
	capacity    int
	entries     map[Reference]*cacheEntry[V]
	first, last *cacheEntry[V]
}

type cacheEntry[V any] struct {
	prev, next *cacheEntry[V]
	key        Reference
	val        V
}

func newCache[V any](capacity int) *lruCache[V] {
	return &lruCache[V]{
		capacity: capacity,
		entries:  make(map[Reference]*cacheEntry[V], capacity),
	}
}

// Put adds a value to the cache, evicting the least recently used entry
// if the cache is full.
func (l *lruCache[V]) Put(key Reference, val V) {
	if l.capacity <= 0 {
		return
	}

	if ent, ok := l.entries[key]; ok {
		ent.val = val
		l.moveToFront(ent)
		return
	}

	ent := &cacheEntry[V]{
		key: key,
		val: val,
	}
	l.entries[key] = ent
	l.moveToFront(ent)

	if len(l.entries) > l.capacity {
		l.removeLast()
	}
}

// Get returns the value for key and marks it as recently used.
func (l *lruCache[V]) Get(key Reference) (V, bool) {
	ent, ok := l.entries[key]
	if !ok {
		var zero V
		return zero, false
	}

	l.moveToFront(ent)
	return ent.val, true
}

func (l *lruCache[V]) unlink(ent *cacheEntry[V]) {
	if ent.prev != nil {
		ent.prev.next = ent.next
	} else {
		l.first = ent.next
	}
	if ent.next != nil {
		ent.next.prev = ent.prev
	} else {
		l.last = ent.prev
	}
	ent.prev = nil
	ent.next = nil
}

func (l *lruCache[V]) moveToFront(ent *cacheEntry[V]) {
	if ent == l.first {
		return
	}
	if ent.prev != nil || ent == l.last {
		l.unlink(ent)
	}

	ent.next = l.first
	if l.first != nil {
		l.first.prev = ent
	}
	l.first = ent
	if l.last == nil {
		l.last = ent
	}
}

func (l *lruCache[V]) removeLast() {
	if l.last == nil {
		return
	}
	ent := l.last
	l.unlink(ent)
	delete(l.entries, ent.key)
}
