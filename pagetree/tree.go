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

// Package pagetree maintains the page tree of a PDF document.
//
// A [Tree] keeps a flat index of the page tree: one span for every run of
// consecutive page objects in the Kids array of a Pages node.  Each span
// caches the index of its first page and the number of pages, so that
// pages can be found by binary search.  Trees read from a file are
// expanded lazily, a subtree is only visited when one of its pages is
// accessed.
//
// All objects are accessed through a [pdfcore.Store], the tree holds no
// pointers into the object graph.  Parent nodes are found by following
// the Parent references of the page tree nodes.
package pagetree

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/exp/slices"

	"seehuhn.de/go/pdfcore"
)

// DefaultMaxKids is the default value for [Options.MaxKids].
const DefaultMaxKids = 128

var (
	// ErrFlushedPage is returned when a page which has already been
	// written to the output is added to the tree.
	ErrFlushedPage = fmt.Errorf("cannot insert a flushed page: %w", pdfcore.ErrFlushed)

	errInvalidPageTree = errors.New("invalid page tree")
)

// Options control the shape of a page tree.
type Options struct {
	// MaxKids is the maximal number of children of a page tree node.
	// Nodes with more children are split in two.  Values smaller than 2
	// select [DefaultMaxKids].
	MaxKids int

	// Logger receives warnings about damaged page trees.
	// If this is nil, [slog.Default] is used.
	Logger *slog.Logger
}

// Tree is the page tree of a document.
//
// A Tree is not safe for concurrent use.
type Tree struct {
	store   pdfcore.Store
	root    pdfcore.Reference
	maxKids int
	log     *slog.Logger

	// spans is the flat index, in page order
	spans    []*span
	numPages int

	parentOf map[pdfcore.Reference]pdfcore.Reference
	nodes    map[pdfcore.Reference]bool
	pages    map[pdfcore.Reference]*Page
}

// A span is a run of pages in the page tree.
//
// If expanded is set, the span covers the page objects
// Kids[kidStart:kidStart+count] of the Pages node node.  Otherwise, the
// span covers all pages below node, which has not been read yet.
type span struct {
	node     pdfcore.Reference
	kidStart int
	from     int
	count    int
	expanded bool
}

func newTree(store pdfcore.Store, root pdfcore.Reference, opt *Options) *Tree {
	t := &Tree{
		store:    store,
		root:     root,
		maxKids:  DefaultMaxKids,
		log:      slog.Default(),
		parentOf: make(map[pdfcore.Reference]pdfcore.Reference),
		nodes:    map[pdfcore.Reference]bool{root: true},
		pages:    make(map[pdfcore.Reference]*Page),
	}
	if opt != nil {
		if opt.MaxKids >= 2 {
			t.maxKids = opt.MaxKids
		}
		if opt.Logger != nil {
			t.log = opt.Logger
		}
	}
	return t
}

// New creates an empty page tree.  The root node is allocated in store.
func New(store pdfcore.Store, opt *Options) (*Tree, error) {
	root, err := store.MakeIndirect(pdfcore.Dict{
		"Type":  pdfcore.Name("Pages"),
		"Kids":  pdfcore.Array{},
		"Count": pdfcore.Integer(0),
	})
	if err != nil {
		return nil, err
	}
	return newTree(store, root, opt), nil
}

// Open gives access to an existing page tree, with root node root.
func Open(store pdfcore.Store, root pdfcore.Reference, opt *Options) (*Tree, error) {
	t := newTree(store, root, opt)

	dict, err := t.getNode(root)
	if err != nil {
		return nil, err
	}
	count, err := pdfcore.GetInt(store, dict["Count"])
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("page count %d: %w", count, errInvalidPageTree)
	}

	t.numPages = int(count)
	t.spans = []*span{{node: root, count: int(count)}}
	err = t.expand(0)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Root returns the reference to the root node of the tree.
// The root never changes.
func (t *Tree) Root() pdfcore.Reference {
	return t.root
}

// NumberOfPages returns the number of pages in the tree.
func (t *Tree) NumberOfPages() int {
	return t.numPages
}

// GetPage returns page i.  Pages are numbered starting with 1.
// Repeated calls for the same page return the same *Page.
func (t *Tree) GetPage(i int) (*Page, error) {
	if i < 1 || i > t.numPages {
		return nil, fmt.Errorf("page %d out of range 1...%d", i, t.numPages)
	}
	ref, _, err := t.pageAt(i - 1)
	if err != nil {
		return nil, err
	}
	return t.wrap(ref), nil
}

// PageOf returns the page with the given page dictionary.
func (t *Tree) PageOf(ref pdfcore.Reference) (*Page, error) {
	if _, ok := t.parentOf[ref]; !ok {
		err := t.expandAll()
		if err != nil {
			return nil, err
		}
		if _, ok := t.parentOf[ref]; !ok {
			return nil, fmt.Errorf("%s is not in the page tree", ref)
		}
	}
	return t.wrap(ref), nil
}

// Append adds a page at the end of the document.
func (t *Tree) Append(page pdfcore.Object) (*Page, error) {
	return t.AddPage(t.numPages+1, page)
}

// AddPage inserts a page, so that it becomes page i of the document.
// The page can be given as a page dictionary or as a reference to one.
// The Parent entry of the page is set.
//
// Pages which have been flushed cannot be added; in this case an error
// wrapping [ErrFlushedPage] is returned.
func (t *Tree) AddPage(i int, page pdfcore.Object) (*Page, error) {
	if i < 1 || i > t.numPages+1 {
		return nil, fmt.Errorf("page position %d out of range 1...%d", i, t.numPages+1)
	}

	var ref pdfcore.Reference
	switch p := page.(type) {
	case pdfcore.Reference:
		ref = p
	case pdfcore.Dict:
		var err error
		ref, err = t.store.MakeIndirect(p)
		if errors.Is(err, pdfcore.ErrFlushed) {
			return nil, fmt.Errorf("%w: %w", ErrFlushedPage, err)
		} else if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid page object %s", pdfcore.Format(page))
	}
	if t.store.IsFlushed(ref) {
		return nil, fmt.Errorf("page %s: %w", ref, ErrFlushedPage)
	}
	if _, inTree := t.parentOf[ref]; inTree {
		return nil, fmt.Errorf("page %s is already in the page tree", ref)
	}
	pageDict, err := pdfcore.GetDict(t.store, ref)
	if err != nil {
		return nil, err
	}
	if pageDict == nil {
		return nil, fmt.Errorf("%s is not a page", ref)
	}

	// find the position in the tree
	idx := i - 1
	var s *span
	var j, k int
	switch {
	case t.numPages == 0:
		_, kids, err := t.kidsOf(t.root)
		if err != nil {
			return nil, err
		}
		s = &span{node: t.root, kidStart: len(kids), expanded: true}
		t.spans = append(t.spans, s)
		j = len(t.spans) - 1
		k = len(kids)
	case idx < t.numPages:
		j, err = t.locate(idx)
		if err != nil {
			return nil, err
		}
		s = t.spans[j]
		k = s.kidStart + idx - s.from
	default:
		j, err = t.locate(idx - 1)
		if err != nil {
			return nil, err
		}
		s = t.spans[j]
		k = s.kidStart + s.count
	}

	node := s.node
	nodeDict, kids, err := t.kidsOf(node)
	if err != nil {
		return nil, err
	}
	nodeDict["Kids"] = slices.Insert(kids, k, pdfcore.Object(ref))
	err = t.store.Put(node, nodeDict)
	if err != nil {
		return nil, err
	}

	if pageDict["Type"] == nil {
		pageDict["Type"] = pdfcore.Name("Page")
	}
	pageDict["Parent"] = node
	err = t.store.Put(ref, pageDict)
	if err != nil {
		return nil, err
	}

	s.count++
	for _, later := range t.spans[j+1:] {
		later.from++
	}
	t.shiftKids(node, k, s, 1)
	t.numPages++
	t.parentOf[ref] = node

	err = t.addCount(node, 1)
	if err != nil {
		return nil, err
	}
	err = t.maybeSplit(node)
	if err != nil {
		return nil, err
	}
	return t.wrap(ref), nil
}

// RemovePage removes page i from the tree and returns it.
//
// If the page has been flushed already, its object is freed.  Otherwise,
// the inherited attributes are copied into the page dictionary and the
// Parent entry is removed, so that the page can be added again, for
// example at a different position.
func (t *Tree) RemovePage(i int) (*Page, error) {
	if i < 1 || i > t.numPages {
		return nil, fmt.Errorf("page %d out of range 1...%d", i, t.numPages)
	}
	idx := i - 1
	ref, j, err := t.pageAt(idx)
	if err != nil {
		return nil, err
	}
	s := t.spans[j]
	node := s.node
	k := s.kidStart + idx - s.from

	flushed := t.store.IsFlushed(ref)
	var pageDict pdfcore.Dict
	if !flushed {
		pageDict, err = t.standalone(ref)
		if err != nil {
			return nil, err
		}
	}

	nodeDict, kids, err := t.kidsOf(node)
	if err != nil {
		return nil, err
	}
	kids = slices.Delete(kids, k, k+1)
	nodeDict["Kids"] = kids
	err = t.store.Put(node, nodeDict)
	if err != nil {
		return nil, err
	}

	s.count--
	for _, later := range t.spans[j+1:] {
		later.from--
	}
	if s.count == 0 {
		t.spans = slices.Delete(t.spans, j, j+1)
	}
	t.shiftKids(node, k, s, -1)
	t.numPages--
	delete(t.parentOf, ref)

	err = t.addCount(node, -1)
	if err != nil {
		return nil, err
	}

	page := t.wrap(ref)
	if flushed {
		delete(t.pages, ref)
		err = t.store.Free(ref)
	} else {
		err = t.store.Put(ref, pageDict)
	}
	if err != nil {
		return nil, err
	}

	if len(kids) == 0 && node != t.root {
		err = t.removeEmptyNode(node)
		if err != nil {
			return nil, err
		}
	}
	return page, nil
}

// RemovePageRef removes the page with the given page dictionary.
// See [Tree.RemovePage] for details.
func (t *Tree) RemovePageRef(ref pdfcore.Reference) (*Page, error) {
	if _, err := t.PageOf(ref); err != nil {
		return nil, err
	}
	i, err := t.indexOf(ref)
	if err != nil {
		return nil, err
	}
	return t.RemovePage(i)
}

// MovePage moves page from to position to.  After the move, the page is
// page number to of the document.
func (t *Tree) MovePage(from, to int) error {
	if to < 1 || to > t.numPages {
		return fmt.Errorf("page position %d out of range 1...%d", to, t.numPages)
	}
	if from == to {
		return nil
	}
	if from < 1 || from > t.numPages {
		return fmt.Errorf("page %d out of range 1...%d", from, t.numPages)
	}
	ref, _, err := t.pageAt(from - 1)
	if err != nil {
		return err
	}
	if t.store.IsFlushed(ref) {
		return fmt.Errorf("page %s: %w", ref, ErrFlushedPage)
	}

	_, err = t.RemovePage(from)
	if err != nil {
		return err
	}
	_, err = t.AddPage(to, ref)
	return err
}

// CheckIndex verifies the internal page index.  The spans must cover the
// pages 1, ..., n without gaps or overlaps, where n is the number of
// pages, and every span must fit inside the Kids array of its node.
func (t *Tree) CheckIndex() error {
	from := 0
	for j, s := range t.spans {
		if s.from != from {
			return fmt.Errorf("span %d starts at %d, expected %d", j, s.from, from)
		}
		if s.count <= 0 {
			return fmt.Errorf("span %d is empty", j)
		}
		if s.expanded {
			_, kids, err := t.kidsOf(s.node)
			if err != nil {
				return err
			}
			if s.kidStart < 0 || s.kidStart+s.count > len(kids) {
				return fmt.Errorf("span %d exceeds the Kids of %s", j, s.node)
			}
			for _, kid := range kids[s.kidStart : s.kidStart+s.count] {
				ref, _ := kid.(pdfcore.Reference)
				if t.parentOf[ref] != s.node {
					return fmt.Errorf("span %d: wrong parent for %s", j, pdfcore.Format(kid))
				}
			}
		}
		from += s.count
	}
	if from != t.numPages {
		return fmt.Errorf("index covers %d pages, expected %d", from, t.numPages)
	}

	root, err := t.getNode(t.root)
	if err != nil {
		return err
	}
	count, err := pdfcore.GetInt(t.store, root["Count"])
	if err != nil {
		return err
	}
	if int(count) != t.numPages {
		return fmt.Errorf("root /Count is %d, expected %d", count, t.numPages)
	}
	return nil
}

// locate returns the index of the span containing page idx (0-based).
// Spans are expanded as needed.
func (t *Tree) locate(idx int) (int, error) {
	for {
		j := sort.Search(len(t.spans), func(j int) bool {
			return t.spans[j].from > idx
		}) - 1
		if j < 0 || idx >= t.spans[j].from+t.spans[j].count {
			return -1, fmt.Errorf("page %d not found: %w", idx+1, errInvalidPageTree)
		}
		if t.spans[j].expanded {
			return j, nil
		}
		err := t.expand(j)
		if err != nil {
			return -1, err
		}
	}
}

// pageAt returns the page object for page idx (0-based), together with
// the index of its span.
func (t *Tree) pageAt(idx int) (pdfcore.Reference, int, error) {
	j, err := t.locate(idx)
	if err != nil {
		return 0, -1, err
	}
	s := t.spans[j]
	_, kids, err := t.kidsOf(s.node)
	if err != nil {
		return 0, -1, err
	}
	k := s.kidStart + idx - s.from
	if k >= len(kids) {
		return 0, -1, fmt.Errorf("%s: %w", s.node, errInvalidPageTree)
	}
	ref, ok := kids[k].(pdfcore.Reference)
	if !ok {
		return 0, -1, fmt.Errorf("%s: %w", s.node, errInvalidPageTree)
	}
	return ref, j, nil
}

// indexOf returns the page number of a page in the tree.
func (t *Tree) indexOf(ref pdfcore.Reference) (int, error) {
	node, ok := t.parentOf[ref]
	if !ok {
		return 0, fmt.Errorf("%s is not in the page tree", ref)
	}
	_, kids, err := t.kidsOf(node)
	if err != nil {
		return 0, err
	}
	k := slices.Index(kids, pdfcore.Object(ref))
	for _, s := range t.spans {
		if s.node == node && s.expanded && s.kidStart <= k && k < s.kidStart+s.count {
			return s.from + k - s.kidStart + 1, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", ref, errInvalidPageTree)
}

func (t *Tree) wrap(ref pdfcore.Reference) *Page {
	p, ok := t.pages[ref]
	if !ok {
		p = &Page{tree: t, ref: ref}
		t.pages[ref] = p
	}
	return p
}

// shiftKids adjusts the kidStart values of the spans of node which start
// after position k in the Kids array.  The span skip, where the change
// happened, is not modified.
func (t *Tree) shiftKids(node pdfcore.Reference, k int, skip *span, delta int) {
	for _, s := range t.spans {
		if s != skip && s.node == node && s.expanded && s.kidStart >= k {
			s.kidStart += delta
		}
	}
}

func (t *Tree) getNode(ref pdfcore.Reference) (pdfcore.Dict, error) {
	dict, err := pdfcore.GetDict(t.store, ref)
	if err != nil {
		return nil, err
	}
	if dict == nil {
		return nil, fmt.Errorf("missing node %s: %w", ref, errInvalidPageTree)
	}
	return dict, nil
}

func (t *Tree) kidsOf(ref pdfcore.Reference) (pdfcore.Dict, pdfcore.Array, error) {
	dict, err := t.getNode(ref)
	if err != nil {
		return nil, nil, err
	}
	kids, err := pdfcore.GetArray(t.store, dict["Kids"])
	if err != nil {
		return nil, nil, err
	}
	return dict, kids, nil
}

// addCount adds delta to the Count entry of node and of all its
// ancestors.
func (t *Tree) addCount(node pdfcore.Reference, delta int) error {
	seen := make(map[pdfcore.Reference]bool)
	for {
		if seen[node] {
			return fmt.Errorf("loop at %s: %w", node, errInvalidPageTree)
		}
		seen[node] = true

		dict, err := t.getNode(node)
		if err != nil {
			return err
		}
		count, err := pdfcore.GetInt(t.store, dict["Count"])
		if err != nil {
			return err
		}
		dict["Count"] = count + pdfcore.Integer(delta)
		err = t.store.Put(node, dict)
		if err != nil {
			return err
		}

		if node == t.root {
			return nil
		}
		parent, ok := dict["Parent"].(pdfcore.Reference)
		if !ok {
			return fmt.Errorf("%s has no parent: %w", node, errInvalidPageTree)
		}
		node = parent
	}
}

// removeEmptyNode removes a node without children from its parent, and
// frees it.  Parents which become empty are removed as well.
func (t *Tree) removeEmptyNode(node pdfcore.Reference) error {
	for node != t.root {
		dict, err := t.getNode(node)
		if err != nil {
			return err
		}
		parent, ok := dict["Parent"].(pdfcore.Reference)
		if !ok {
			return fmt.Errorf("%s has no parent: %w", node, errInvalidPageTree)
		}
		parentDict, kids, err := t.kidsOf(parent)
		if err != nil {
			return err
		}
		pos := slices.Index(kids, pdfcore.Object(node))
		if pos < 0 {
			return fmt.Errorf("%s is not a child of %s: %w", node, parent, errInvalidPageTree)
		}
		kids = slices.Delete(kids, pos, pos+1)
		parentDict["Kids"] = kids
		err = t.store.Put(parent, parentDict)
		if err != nil {
			return err
		}
		t.shiftKids(parent, pos, nil, -1)
		t.mergeSpans(parent, pos)

		delete(t.nodes, node)
		err = t.store.Free(node)
		if err != nil {
			return err
		}

		if len(kids) > 0 {
			break
		}
		node = parent
	}
	return nil
}

// mergeSpans joins two spans of node which meet at position pos of the
// Kids array.
func (t *Tree) mergeSpans(node pdfcore.Reference, pos int) {
	for j := 0; j+1 < len(t.spans); j++ {
		a, b := t.spans[j], t.spans[j+1]
		if a.node == node && b.node == node && a.expanded && b.expanded &&
			a.kidStart+a.count == pos && b.kidStart == pos {
			a.count += b.count
			t.spans = slices.Delete(t.spans, j+1, j+2)
			return
		}
	}
}
