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
package pagetree_test

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seehuhn.de/go/geom/rect"

	"seehuhn.de/go/pdfcore"
	"seehuhn.de/go/pdfcore/pagetree"
)

func newPage(tag int) pdfcore.Dict {
	return pdfcore.Dict{
		"Type": pdfcore.Name("Page"),
		"Tag":  pdfcore.Integer(tag),
	}
}

func pageTag(t *testing.T, tree *pagetree.Tree, i int) int {
	t.Helper()
	p, err := tree.GetPage(i)
	require.NoError(t, err)
	dict, err := p.Dict()
	require.NoError(t, err)
	tag, ok := dict["Tag"].(pdfcore.Integer)
	require.True(t, ok, "page %d has no tag", i)
	return int(tag)
}

func checkTags(t *testing.T, tree *pagetree.Tree, want []int) {
	t.Helper()
	require.NoError(t, tree.CheckIndex())
	require.Equal(t, len(want), tree.NumberOfPages())
	for i, tag := range want {
		assert.Equal(t, tag, pageTag(t, tree, i+1), "page %d", i+1)
	}
}

func TestReverseInsert(t *testing.T) {
	for _, maxKids := range []int{2, 3, 10, pagetree.DefaultMaxKids} {
		reg := pdfcore.NewRegistry(nil, nil)
		tree, err := pagetree.New(reg, &pagetree.Options{MaxKids: maxKids})
		require.NoError(t, err)
		root := tree.Root()

		const n = 111
		for tag := n; tag >= 1; tag-- {
			_, err := tree.AddPage(1, newPage(tag))
			require.NoError(t, err)
			require.NoError(t, tree.CheckIndex())
		}
		assert.Equal(t, root, tree.Root())

		want := make([]int, n)
		for i := range want {
			want[i] = i + 1
		}
		checkTags(t, tree, want)
	}
}

func TestRandomOperations(t *testing.T) {
	for _, maxKids := range []int{3, 8, pagetree.DefaultMaxKids} {
		rng := rand.New(rand.NewSource(int64(maxKids)))
		reg := pdfcore.NewRegistry(nil, nil)
		tree, err := pagetree.New(reg, &pagetree.Options{MaxKids: maxKids})
		require.NoError(t, err)

		var model []int
		nextTag := 1
		for step := range 500 {
			n := len(model)
			switch op := rng.Intn(4); {
			case op <= 1 || n == 0:
				pos := rng.Intn(n+1) + 1
				_, err := tree.AddPage(pos, newPage(nextTag))
				require.NoError(t, err)
				model = append(model[:pos-1], append([]int{nextTag}, model[pos-1:]...)...)
				nextTag++
			case op == 2:
				pos := rng.Intn(n) + 1
				p, err := tree.RemovePage(pos)
				require.NoError(t, err)
				dict, err := p.Dict()
				require.NoError(t, err)
				assert.Equal(t, pdfcore.Integer(model[pos-1]), dict["Tag"])
				assert.Nil(t, dict["Parent"])
				model = append(model[:pos-1], model[pos:]...)
			default:
				from := rng.Intn(n) + 1
				to := rng.Intn(n) + 1
				require.NoError(t, tree.MovePage(from, to))
				tag := model[from-1]
				model = append(model[:from-1], model[from:]...)
				model = append(model[:to-1], append([]int{tag}, model[to-1:]...)...)
			}

			require.NoError(t, tree.CheckIndex(), "step %d", step)
			require.Equal(t, len(model), tree.NumberOfPages())
		}
		checkTags(t, tree, model)
	}
}

func TestRemoveAll(t *testing.T) {
	reg := pdfcore.NewRegistry(nil, nil)
	tree, err := pagetree.New(reg, &pagetree.Options{MaxKids: 3})
	require.NoError(t, err)
	for i := range 30 {
		_, err := tree.Append(newPage(i + 1))
		require.NoError(t, err)
	}
	for tree.NumberOfPages() > 0 {
		_, err := tree.RemovePage(tree.NumberOfPages()/2 + 1)
		require.NoError(t, err)
		require.NoError(t, tree.CheckIndex())
	}

	root, err := pdfcore.GetDict(reg, tree.Root())
	require.NoError(t, err)
	assert.Empty(t, root["Kids"])
	assert.Equal(t, pdfcore.Integer(0), root["Count"])

	// the tree can be used again
	_, err = tree.Append(newPage(1))
	require.NoError(t, err)
	checkTags(t, tree, []int{1})
}

func TestFlushedPages(t *testing.T) {
	reg := pdfcore.NewRegistry(nil, nil)
	_, err := pdfcore.NewWriter(&bytes.Buffer{}, reg, nil)
	require.NoError(t, err)
	tree, err := pagetree.New(reg, &pagetree.Options{MaxKids: 4})
	require.NoError(t, err)

	var refs []pdfcore.Reference
	for i := range 10 {
		p, err := tree.Append(newPage(i + 1))
		require.NoError(t, err)
		refs = append(refs, p.Ref())
	}

	// flushed pages stay in the tree
	require.NoError(t, reg.Flush(refs[3]))
	p4, err := tree.GetPage(4)
	require.NoError(t, err)
	assert.True(t, p4.IsFlushed())
	assert.Equal(t, refs[3], p4.Ref())

	// adding a flushed page fails
	_, err = tree.AddPage(1, refs[3])
	assert.ErrorIs(t, err, pagetree.ErrFlushedPage)
	assert.ErrorIs(t, err, pdfcore.ErrFlushed)

	extra, err := reg.MakeIndirect(newPage(99))
	require.NoError(t, err)
	require.NoError(t, reg.Flush(extra))
	_, err = tree.AddPage(1, extra)
	assert.True(t, errors.Is(err, pagetree.ErrFlushedPage))
	assert.Equal(t, 10, tree.NumberOfPages())

	// the same holds if the flushed page is given as a dictionary
	dict := newPage(100)
	p, err := tree.Append(dict)
	require.NoError(t, err)
	require.NoError(t, reg.Flush(p.Ref()))
	_, err = tree.AddPage(1, dict)
	assert.ErrorIs(t, err, pagetree.ErrFlushedPage)
	assert.ErrorIs(t, err, pdfcore.ErrFlushed)
	_, err = reg.MakeIndirect(dict)
	assert.ErrorIs(t, err, pdfcore.ErrFlushed)
	assert.Equal(t, 11, tree.NumberOfPages())
	_, err = tree.RemovePage(11)
	require.NoError(t, err)

	// moving a flushed page fails, without changing the tree
	err = tree.MovePage(4, 1)
	assert.ErrorIs(t, err, pagetree.ErrFlushedPage)
	require.NoError(t, tree.CheckIndex())
	assert.Equal(t, 1, pageTag(t, tree, 1))

	// removing a flushed page frees the object
	removed, err := tree.RemovePage(4)
	require.NoError(t, err)
	assert.Equal(t, refs[3], removed.Ref())
	assert.True(t, reg.IsFree(refs[3]))
	require.NoError(t, tree.CheckIndex())
	checkTags(t, tree, []int{1, 2, 3, 5, 6, 7, 8, 9, 10})
}

func TestPageIdentity(t *testing.T) {
	reg := pdfcore.NewRegistry(nil, nil)
	tree, err := pagetree.New(reg, &pagetree.Options{MaxKids: 4})
	require.NoError(t, err)
	for i := range 20 {
		_, err := tree.Append(newPage(i + 1))
		require.NoError(t, err)
	}

	for i := 1; i <= 20; i++ {
		p, err := tree.GetPage(i)
		require.NoError(t, err)
		q, err := tree.PageOf(p.Ref())
		require.NoError(t, err)
		assert.Same(t, p, q)

		idx, err := q.Index()
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}

	p7, err := tree.GetPage(7)
	require.NoError(t, err)
	removed, err := tree.RemovePageRef(p7.Ref())
	require.NoError(t, err)
	assert.Same(t, p7, removed)
	_, err = p7.Index()
	assert.Error(t, err)

	added, err := tree.AddPage(1, p7.Ref())
	require.NoError(t, err)
	assert.Same(t, p7, added)
	idx, err := p7.Index()
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = tree.AddPage(2, p7.Ref())
	assert.Error(t, err, "page is already in the tree")
}

func TestInheritance(t *testing.T) {
	reg := pdfcore.NewRegistry(nil, nil)
	tree, err := pagetree.New(reg, &pagetree.Options{MaxKids: 2})
	require.NoError(t, err)

	root, err := pdfcore.GetDict(reg, tree.Root())
	require.NoError(t, err)
	root["MediaBox"] = pagetree.BoxToArray(rect.Rect{URx: 595, URy: 842})
	root["Rotate"] = pdfcore.Integer(90)

	for i := range 7 {
		_, err := tree.Append(newPage(i + 1))
		require.NoError(t, err)
	}
	own, err := tree.Append(pagetree.NewPage(rect.Rect{URx: 100, URy: 200.5}))
	require.NoError(t, err)

	p, err := tree.GetPage(5)
	require.NoError(t, err)
	box, err := p.MediaBox()
	require.NoError(t, err)
	require.NotNil(t, box)
	assert.Equal(t, rect.Rect{URx: 595, URy: 842}, *box)
	rot, err := p.Inherited("Rotate")
	require.NoError(t, err)
	assert.Equal(t, pdfcore.Integer(90), rot)

	box, err = own.MediaBox()
	require.NoError(t, err)
	assert.Equal(t, rect.Rect{URx: 100, URy: 200.5}, *box)

	// removed pages keep their inherited attributes
	removed, err := tree.RemovePage(5)
	require.NoError(t, err)
	dict, err := removed.Dict()
	require.NoError(t, err)
	assert.Equal(t, pdfcore.Integer(90), dict["Rotate"])
	assert.NotNil(t, dict["MediaBox"])
	assert.Nil(t, dict["Resources"])
}

// buildSourceTree creates a page tree with nested nodes, the way it
// could be found in a PDF file.
func buildSourceTree(t *testing.T, reg *pdfcore.Registry, wrongCount bool) pdfcore.Reference {
	t.Helper()

	root := reg.Alloc()
	var rootKids pdfcore.Array
	tag := 1
	total := 0
	for range 3 {
		node := reg.Alloc()
		var kids pdfcore.Array
		for range 4 {
			ref, err := reg.MakeIndirect(pdfcore.Dict{
				"Type":   pdfcore.Name("Page"),
				"Parent": node,
				"Tag":    pdfcore.Integer(tag),
			})
			require.NoError(t, err)
			kids = append(kids, ref)
			tag++
		}
		require.NoError(t, reg.Put(node, pdfcore.Dict{
			"Type":   pdfcore.Name("Pages"),
			"Parent": root,
			"Kids":   kids,
			"Count":  pdfcore.Integer(len(kids)),
		}))
		rootKids = append(rootKids, node)
		total += len(kids)

		// a page directly below the root, between the nodes
		ref, err := reg.MakeIndirect(pdfcore.Dict{
			"Type":   pdfcore.Name("Page"),
			"Parent": root,
			"Tag":    pdfcore.Integer(tag),
		})
		require.NoError(t, err)
		rootKids = append(rootKids, ref)
		tag++
		total++
	}
	if wrongCount {
		total += 5
	}
	require.NoError(t, reg.Put(root, pdfcore.Dict{
		"Type":  pdfcore.Name("Pages"),
		"Kids":  rootKids,
		"Count": pdfcore.Integer(total),
	}))
	return root
}

func TestOpen(t *testing.T) {
	for _, wrongCount := range []bool{false, true} {
		reg := pdfcore.NewRegistry(nil, nil)
		root := buildSourceTree(t, reg, wrongCount)

		tree, err := pagetree.Open(reg, root, &pagetree.Options{MaxKids: 5})
		require.NoError(t, err)

		assert.Equal(t, 8, pageTag(t, tree, 8))
		want := make([]int, 15)
		for i := range want {
			want[i] = i + 1
		}
		checkTags(t, tree, want)

		_, err = tree.AddPage(3, newPage(100))
		require.NoError(t, err)
		want = append(want[:2], append([]int{100}, want[2:]...)...)
		_, err = tree.RemovePage(10)
		require.NoError(t, err)
		want = append(want[:9], want[10:]...)
		checkTags(t, tree, want)
	}
}

func TestPageOfUnvisited(t *testing.T) {
	reg := pdfcore.NewRegistry(nil, nil)
	root := buildSourceTree(t, reg, false)
	tree, err := pagetree.Open(reg, root, nil)
	require.NoError(t, err)

	// find the page with tag 13, without visiting it first
	rootDict, err := pdfcore.GetDict(reg, root)
	require.NoError(t, err)
	node, err := pdfcore.GetDict(reg, rootDict["Kids"].(pdfcore.Array)[4])
	require.NoError(t, err)
	ref := node["Kids"].(pdfcore.Array)[2].(pdfcore.Reference)

	p, err := tree.PageOf(ref)
	require.NoError(t, err)
	idx, err := p.Index()
	require.NoError(t, err)
	assert.Equal(t, 13, idx)

	_, err = tree.PageOf(pdfcore.NewReference(9999, 0))
	assert.Error(t, err)
}
