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
	"bytes"
	"errors"
	"io"
)

// A Copier is used to copy objects from one PDF file to another. The Copier
// keeps track of the objects that have already been copied and ensures that
// each object is copied only once.
//
// Indirect objects are allocated in the target file as needed, and references
// are translated accordingly.  Referenced objects are copied from a work
// list, so that long chains of references do not lead to deep recursion.
type Copier struct {
	trans   map[Reference]Reference
	r       Getter
	w       Putter
	pending []Reference
}

// NewCopier creates a new Copier.
func NewCopier(w Putter, r Getter) *Copier {
	return &Copier{
		trans: make(map[Reference]Reference),
		w:     w,
		r:     r,
	}
}

// Copy copies an object from the source file to the target file, including
// all objects reachable from it.
//
// The returned object has the same type as the input object.
func (c *Copier) Copy(obj Object) (Object, error) {
	res, err := c.copyDirect(obj)
	if err != nil {
		return nil, err
	}
	err = c.drain()
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CopyDict copies a dictionary from the source file to the target file.
func (c *Copier) CopyDict(obj Dict) (Dict, error) {
	res, err := c.Copy(obj)
	if err != nil {
		return nil, err
	}
	dict, _ := res.(Dict)
	return dict, nil
}

// CopyReference copies the object ref from the source file to the target
// file and returns the reference in the target file.
//
// Chains of references are shortened: the returned reference always
// points to a direct object.  Reference cycles are copied as null.
func (c *Copier) CopyReference(ref Reference) (Reference, error) {
	newRef := c.translate(ref)
	err := c.drain()
	if err != nil {
		return 0, err
	}
	return newRef, nil
}

// Redirect replaces an indirect object in the old file with one in the new
// file.  References to origRef will be translated to newRef, and the
// object origRef will not be copied.
func (c *Copier) Redirect(origRef, newRef Reference) {
	c.trans[origRef] = newRef
}

// translate returns the target reference for ref, allocating a new object
// number and scheduling the object for copying if necessary.
func (c *Copier) translate(ref Reference) Reference {
	newRef, ok := c.trans[ref]
	if ok {
		return newRef
	}
	newRef = c.w.Alloc()
	c.trans[ref] = newRef
	c.pending = append(c.pending, ref)
	return newRef
}

func (c *Copier) drain() error {
	for len(c.pending) > 0 {
		ref := c.pending[len(c.pending)-1]
		c.pending = c.pending[:len(c.pending)-1]

		val, err := c.r.Resolve(ref)
		if errors.Is(err, ErrCircularReference) {
			val = nil
		} else if err != nil {
			return err
		}

		copied, err := c.copyDirect(val)
		if err != nil {
			return err
		}
		err = c.w.Put(c.trans[ref], copied)
		if err != nil {
			return err
		}
	}
	return nil
}

// copyDirect copies the direct parts of obj.  References are translated
// without following them.
func (c *Copier) copyDirect(obj Object) (Object, error) {
	switch x := obj.(type) {
	case Dict:
		res := make(Dict, len(x))
		for key, val := range x {
			if val == nil {
				continue
			}
			repl, err := c.copyDirect(val)
			if err != nil {
				return nil, err
			}
			res[key] = repl
		}
		return res, nil
	case Array:
		res := make(Array, len(x))
		for i, val := range x {
			repl, err := c.copyDirect(val)
			if err != nil {
				return nil, err
			}
			res[i] = repl
		}
		return res, nil
	case *Stream:
		dict, err := c.copyDirect(x.Dict)
		if err != nil {
			return nil, err
		}
		res := &Stream{
			Dict:        dict.(Dict),
			Compression: x.Compression,
		}
		switch {
		case x.isRaw():
			res.raw = io.NewSectionReader(x.raw, 0, x.raw.Size())
			res.R = res.raw
		case x.R != nil:
			// A plain reader can only be consumed once.  Buffer the data
			// and give both streams their own reader.
			buf, err := io.ReadAll(x.R)
			if err != nil {
				return nil, err
			}
			x.R = bytes.NewReader(buf)
			res.R = bytes.NewReader(buf)
		}
		return res, nil
	case Reference:
		return c.translate(x), nil
	case String:
		return append(String(nil), x...), nil
	default:
		return obj, nil
	}
}
