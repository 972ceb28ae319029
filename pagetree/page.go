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
package pagetree

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/maps"
	"seehuhn.de/go/geom/rect"

	"seehuhn.de/go/pdfcore"
)

// inheritable lists the page attributes which can be set on intermediate
// nodes of the page tree.
var inheritable = []pdfcore.Name{"Resources", "MediaBox", "CropBox", "Rotate"}

// Page is a page in a page tree.
//
// For every page dictionary there is at most one Page object per tree,
// so that pages can be compared using ==.
type Page struct {
	tree *Tree
	ref  pdfcore.Reference
}

// Ref returns the reference to the page dictionary.
func (p *Page) Ref() pdfcore.Reference {
	return p.ref
}

// Dict returns the page dictionary.  This fails if the page has been
// flushed.
func (p *Page) Dict() (pdfcore.Dict, error) {
	return pdfcore.GetDict(p.tree.store, p.ref)
}

// IsFlushed reports whether the page has been written to the output.
func (p *Page) IsFlushed() bool {
	return p.tree.store.IsFlushed(p.ref)
}

// Index returns the page number of p, starting from 1.
func (p *Page) Index() (int, error) {
	return p.tree.indexOf(p.ref)
}

// Inherited returns the value of the attribute key for the page.  If the
// page dictionary has no such entry, the value is taken from the nearest
// ancestor in the page tree which has one.
func (p *Page) Inherited(key pdfcore.Name) (pdfcore.Object, error) {
	return p.tree.inherited(p.ref, key)
}

// MediaBox returns the media box of the page, taking inheritance into
// account.  If no media box is set, nil is returned.
func (p *Page) MediaBox() (*rect.Rect, error) {
	obj, err := p.Inherited("MediaBox")
	if err != nil {
		return nil, err
	}
	return GetBox(p.tree.store, obj)
}

// Standalone returns a copy of the page dictionary which does not depend
// on the page tree.  Inherited attributes are copied into the dictionary
// and the Parent entry is left out.
func (p *Page) Standalone() (pdfcore.Dict, error) {
	return p.tree.standalone(p.ref)
}

func (t *Tree) standalone(ref pdfcore.Reference) (pdfcore.Dict, error) {
	dict, err := pdfcore.GetDict(t.store, ref)
	if err != nil {
		return nil, err
	}
	res := maps.Clone(dict)
	if res == nil {
		res = pdfcore.Dict{}
	}
	for _, key := range inheritable {
		if _, ok := res[key]; ok {
			continue
		}
		val, err := t.inherited(ref, key)
		if err != nil {
			return nil, err
		}
		if val != nil {
			res[key] = val
		}
	}
	delete(res, "Parent")
	return res, nil
}

// NewPage returns a new page dictionary with the given media box.
func NewPage(mediaBox rect.Rect) pdfcore.Dict {
	return pdfcore.Dict{
		"Type":     pdfcore.Name("Page"),
		"MediaBox": BoxToArray(mediaBox),
	}
}

func (t *Tree) inherited(ref pdfcore.Reference, key pdfcore.Name) (pdfcore.Object, error) {
	dict, err := pdfcore.GetDict(t.store, ref)
	if err != nil {
		return nil, err
	}
	if val, ok := dict[key]; ok {
		return val, nil
	}

	node, ok := t.parentOf[ref]
	if !ok {
		node, _ = dict["Parent"].(pdfcore.Reference)
	}
	seen := make(map[pdfcore.Reference]bool)
	for node != 0 && !seen[node] {
		seen[node] = true
		nodeDict, err := t.getNode(node)
		if err != nil {
			return nil, err
		}
		if val, ok := nodeDict[key]; ok {
			return val, nil
		}
		if node == t.root {
			break
		}
		node, _ = nodeDict["Parent"].(pdfcore.Reference)
	}
	return nil, nil
}

var errNoBox = errors.New("not a rectangle")

// GetBox reads a page box, like MediaBox or CropBox.  If obj is null,
// nil is returned.
func GetBox(r pdfcore.Getter, obj pdfcore.Object) (*rect.Rect, error) {
	a, err := pdfcore.GetArray(r, obj)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, nil
	}
	if len(a) != 4 {
		return nil, fmt.Errorf("box %s: %w", pdfcore.Format(a), errNoBox)
	}

	var v [4]float64
	for i, x := range a {
		v[i], err = pdfcore.GetNumber(r, x)
		if err != nil {
			return nil, err
		}
	}
	return &rect.Rect{
		LLx: math.Min(v[0], v[2]),
		LLy: math.Min(v[1], v[3]),
		URx: math.Max(v[0], v[2]),
		URy: math.Max(v[1], v[3]),
	}, nil
}

// BoxToArray converts a rectangle to a PDF array.  Coordinates are
// rounded to two decimal places.
func BoxToArray(box rect.Rect) pdfcore.Array {
	res := make(pdfcore.Array, 4)
	for i, x := range []float64{box.LLx, box.LLy, box.URx, box.URy} {
		x = math.Round(100*x) / 100
		if n := pdfcore.Integer(x); float64(n) == x {
			res[i] = n
		} else {
			res[i] = pdfcore.Real(x)
		}
	}
	return res
}
