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
	"log/slog"

	"golang.org/x/exp/slices"

	"seehuhn.de/go/pdfcore"
)

type kidKind int

const (
	kindInvalid kidKind = iota
	kindPage
	kindNode
)

// expand replaces the unexpanded span j by spans for the children of its
// node.  Intermediate nodes below are not read.
//
// If the Count of the node does not match the counts of its children,
// the Count values are corrected.
func (t *Tree) expand(j int) error {
	s := t.spans[j]
	_, kids, err := t.kidsOf(s.node)
	if err != nil {
		return err
	}

	var repl []*span
	var run *span
	pos := s.from
	for k, kid := range kids {
		ref, isRef := kid.(pdfcore.Reference)
		kind := kindInvalid
		var count int
		if isRef {
			kind, count, err = t.classify(ref)
			if err != nil {
				return err
			}
		}

		switch kind {
		case kindPage:
			if run == nil {
				run = &span{node: s.node, kidStart: k, from: pos, expanded: true}
				repl = append(repl, run)
			}
			run.count++
			pos++
			t.parentOf[ref] = s.node
		case kindNode:
			run = nil
			if count > 0 {
				repl = append(repl, &span{node: ref, from: pos, count: count})
				pos += count
			}
		default:
			run = nil
			t.log.Warn("ignoring invalid page tree entry",
				slog.String("node", s.node.String()),
				slog.Int("kid", k))
		}
	}

	t.spans = slices.Replace(t.spans, j, j+1, repl...)

	total := pos - s.from
	if delta := total - s.count; delta != 0 {
		t.log.Warn("wrong page count in page tree",
			slog.String("node", s.node.String()),
			slog.Int("count", s.count),
			slog.Int("found", total))
		for _, later := range t.spans[j+len(repl):] {
			later.from += delta
		}
		t.numPages += delta
		return t.addCount(s.node, delta)
	}
	return nil
}

// expandAll reads the complete page tree.
func (t *Tree) expandAll() error {
	for j := 0; j < len(t.spans); {
		if t.spans[j].expanded {
			j++
			continue
		}
		err := t.expand(j)
		if err != nil {
			return err
		}
	}
	return nil
}

// classify determines whether a child in the page tree is a page or an
// intermediate node.  For intermediate nodes, the page count is returned.
func (t *Tree) classify(ref pdfcore.Reference) (kidKind, int, error) {
	if t.store.IsFlushed(ref) {
		// only pages are flushed while the tree is in use
		return kindPage, 1, nil
	}

	dict, err := pdfcore.GetDict(t.store, ref)
	var malformed *pdfcore.MalformedFileError
	if errors.As(err, &malformed) {
		return kindInvalid, 0, nil
	} else if err != nil {
		return kindInvalid, 0, err
	}
	if dict == nil {
		return kindInvalid, 0, nil
	}

	tp, _ := pdfcore.GetName(t.store, dict["Type"])
	isNode := tp == "Pages" || tp == "" && dict["Kids"] != nil
	if !isNode {
		return kindPage, 1, nil
	}

	if t.nodes[ref] {
		t.log.Warn("loop in page tree", slog.String("node", ref.String()))
		return kindInvalid, 0, nil
	}
	count, err := pdfcore.GetInt(t.store, dict["Count"])
	if err != nil || count < 0 {
		return kindInvalid, 0, nil
	}
	t.nodes[ref] = true
	return kindNode, int(count), nil
}
