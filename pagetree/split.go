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
	"log/slog"

	"golang.org/x/exp/slices"

	"seehuhn.de/go/pdfcore"
)

// maybeSplit splits node in two if it has more than maxKids children.
// The root node is never replaced: if the root is split, its children
// move into two new nodes below the root.
func (t *Tree) maybeSplit(node pdfcore.Reference) error {
	dict, kids, err := t.kidsOf(node)
	if err != nil {
		return err
	}
	if len(kids) <= t.maxKids {
		return nil
	}
	mid := len(kids) / 2

	moved := kids[mid:]
	if node == t.root {
		moved = kids
	}
	for _, kid := range moved {
		if ref, ok := kid.(pdfcore.Reference); ok && t.store.IsFlushed(ref) {
			// The Parent entry of a flushed page cannot be changed.
			t.log.Debug("page tree node not split",
				slog.String("node", node.String()),
				slog.Int("kids", len(kids)))
			return nil
		}
	}

	if node == t.root {
		return t.splitRoot(dict, kids, mid)
	}
	return t.splitNode(node, dict, kids, mid)
}

func (t *Tree) splitNode(node pdfcore.Reference, dict pdfcore.Dict, kids pdfcore.Array, mid int) error {
	parent, ok := dict["Parent"].(pdfcore.Reference)
	if !ok {
		return errInvalidPageTree
	}

	high, err := t.newNode(parent, node, slices.Clone(kids[mid:]))
	if err != nil {
		return err
	}
	highCount, err := t.countKids(node, kids[mid:])
	if err != nil {
		return err
	}
	count, err := pdfcore.GetInt(t.store, dict["Count"])
	if err != nil {
		return err
	}
	dict["Kids"] = slices.Clip(kids[:mid])
	dict["Count"] = count - pdfcore.Integer(highCount)
	err = t.store.Put(node, dict)
	if err != nil {
		return err
	}
	err = t.reparent(node, kids[mid:], high)
	if err != nil {
		return err
	}
	t.retarget(node, mid, node, high)

	parentDict, parentKids, err := t.kidsOf(parent)
	if err != nil {
		return err
	}
	pos := slices.Index(parentKids, pdfcore.Object(node))
	if pos < 0 {
		return errInvalidPageTree
	}
	parentDict["Kids"] = slices.Insert(parentKids, pos+1, pdfcore.Object(high))
	err = t.store.Put(parent, parentDict)
	if err != nil {
		return err
	}
	t.shiftKids(parent, pos+1, nil, 1)

	return t.maybeSplit(parent)
}

func (t *Tree) splitRoot(dict pdfcore.Dict, kids pdfcore.Array, mid int) error {
	low, err := t.newNode(t.root, t.root, slices.Clone(kids[:mid]))
	if err != nil {
		return err
	}
	high, err := t.newNode(t.root, t.root, slices.Clone(kids[mid:]))
	if err != nil {
		return err
	}

	dict["Kids"] = pdfcore.Array{low, high}
	err = t.store.Put(t.root, dict)
	if err != nil {
		return err
	}
	err = t.reparent(t.root, kids[:mid], low)
	if err != nil {
		return err
	}
	err = t.reparent(t.root, kids[mid:], high)
	if err != nil {
		return err
	}
	t.retarget(t.root, mid, low, high)
	return nil
}

// newNode allocates an intermediate node with the given children, which
// are currently children of old.
func (t *Tree) newNode(parent, old pdfcore.Reference, kids pdfcore.Array) (pdfcore.Reference, error) {
	count, err := t.countKids(old, kids)
	if err != nil {
		return 0, err
	}
	ref, err := t.store.MakeIndirect(pdfcore.Dict{
		"Type":   pdfcore.Name("Pages"),
		"Parent": parent,
		"Kids":   kids,
		"Count":  pdfcore.Integer(count),
	})
	if err != nil {
		return 0, err
	}
	t.nodes[ref] = true
	return ref, nil
}

// countKids returns the number of pages below the given children of node.
func (t *Tree) countKids(node pdfcore.Reference, kids pdfcore.Array) (int, error) {
	total := 0
	for _, kid := range kids {
		ref, ok := kid.(pdfcore.Reference)
		if !ok {
			continue
		}
		if t.parentOf[ref] == node {
			total++
			continue
		}
		dict, err := pdfcore.GetDict(t.store, ref)
		if err != nil {
			return 0, err
		}
		count, err := pdfcore.GetInt(t.store, dict["Count"])
		if err != nil {
			return 0, err
		}
		total += int(count)
	}
	return total, nil
}

// reparent sets the Parent entry of kids, which are children of old,
// to newParent.
func (t *Tree) reparent(old pdfcore.Reference, kids pdfcore.Array, newParent pdfcore.Reference) error {
	for _, kid := range kids {
		ref, ok := kid.(pdfcore.Reference)
		if !ok {
			continue
		}
		dict, err := pdfcore.GetDict(t.store, ref)
		if err != nil {
			return err
		}
		if dict == nil {
			continue
		}
		dict["Parent"] = newParent
		err = t.store.Put(ref, dict)
		if err != nil {
			return err
		}
		if t.parentOf[ref] == old {
			t.parentOf[ref] = newParent
		}
	}
	return nil
}

// retarget moves the spans of node to the nodes which took over its
// children: low for the children before mid, high for the rest.  A span
// which crosses mid is split.
func (t *Tree) retarget(node pdfcore.Reference, mid int, low, high pdfcore.Reference) {
	for j := 0; j < len(t.spans); j++ {
		s := t.spans[j]
		if s.node != node || !s.expanded {
			continue
		}
		switch {
		case s.kidStart+s.count <= mid:
			s.node = low
		case s.kidStart >= mid:
			s.node = high
			s.kidStart -= mid
		default:
			rest := &span{
				node:     high,
				kidStart: 0,
				count:    s.kidStart + s.count - mid,
				expanded: true,
			}
			s.node = low
			s.count -= rest.count
			rest.from = s.from + s.count
			t.spans = slices.Insert(t.spans, j+1, rest)
			j++
		}
	}
}
