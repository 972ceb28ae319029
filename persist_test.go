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
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContent = "0 0 m 100 100 l S\n"

// writeTestFile writes a small document with a catalog, an information
// dictionary and a content stream.
func writeTestFile(t *testing.T, opt *WriterOptions) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	reg := NewRegistry(nil, nil)
	_, err := NewWriter(buf, reg, opt)
	require.NoError(t, err)

	content, err := reg.MakeIndirect(&Stream{
		Dict: Dict{},
		R:    strings.NewReader(testContent),
	})
	require.NoError(t, err)
	catalog, err := reg.MakeIndirect(Dict{
		"Type":    Name("Catalog"),
		"Content": content,
		"Numbers": Array{Integer(1), Real(2.5), Bool(true)},
	})
	require.NoError(t, err)
	info, err := reg.MakeIndirect(Dict{
		"Title": TextString("Test Document"),
	})
	require.NoError(t, err)

	err = reg.w.Close(Dict{"Root": catalog, "Info": info})
	require.NoError(t, err)
	return buf.Bytes()
}

func openTestFile(t *testing.T, data []byte) (*Reader, *Registry) {
	t.Helper()
	r, err := NewReader(bytes.NewReader(data), int64(len(data)), nil)
	require.NoError(t, err)
	return r, NewRegistry(r, nil)
}

func checkTestFile(t *testing.T, data []byte) {
	t.Helper()

	r, reg := openTestFile(t, data)
	assert.False(t, r.XRefRebuilt())
	assert.False(t, r.XRefFixed())
	require.NoError(t, reg.CheckFreeChain())

	catalog, err := GetDict(reg, r.Trailer()["Root"])
	require.NoError(t, err)
	assert.Equal(t, Name("Catalog"), catalog["Type"])
	if d := cmp.Diff(Array{Integer(1), Real(2.5), Bool(true)}, catalog["Numbers"]); d != "" {
		t.Errorf("Numbers: %s", d)
	}

	stm, err := GetStream(reg, catalog["Content"])
	require.NoError(t, err)
	require.NotNil(t, stm)
	body, err := DecodeStream(reg, stm)
	require.NoError(t, err)
	content, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, testContent, string(content))

	info, err := GetDict(reg, r.Trailer()["Info"])
	require.NoError(t, err)
	title, err := GetString(reg, info["Title"])
	require.NoError(t, err)
	assert.Equal(t, "Test Document", title.AsTextString())

	id, err := GetArray(reg, r.Trailer()["ID"])
	require.NoError(t, err)
	assert.Len(t, id, 2)
}

func TestRoundTripNewFile(t *testing.T) {
	cases := []struct {
		name string
		opt  *WriterOptions
	}{
		{"default", nil},
		{"uncompressed", &WriterOptions{Compression: CompressionNone}},
		{"best", &WriterOptions{Compression: CompressionBest}},
		{"xref-stream", &WriterOptions{XRefStream: true}},
		{"object-streams", &WriterOptions{FullCompression: true}},
		{"object-streams-plain", &WriterOptions{FullCompression: true, Compression: CompressionNone}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data := writeTestFile(t, c.opt)
			assert.True(t, bytes.HasPrefix(data, []byte("%PDF-1.")))
			assert.True(t, bytes.HasSuffix(data, []byte("%%EOF\n")))
			checkTestFile(t, data)

			r, _ := openTestFile(t, data)
			usesStream := c.opt != nil && (c.opt.XRefStream || c.opt.FullCompression)
			assert.Equal(t, usesStream, r.UsesXRefStream())
		})
	}
}

func TestObjectStreamsUsed(t *testing.T) {
	data := writeTestFile(t, &WriterOptions{FullCompression: true, Compression: CompressionNone})
	assert.Contains(t, string(data), "/Type /ObjStm")
	assert.NotContains(t, string(data), "/Type /Catalog\n>>\nendobj")
}

func TestFullRewrite(t *testing.T) {
	orig := writeTestFile(t, nil)
	_, reg := openTestFile(t, orig)

	buf := &bytes.Buffer{}
	w, err := NewWriter(buf, reg, &WriterOptions{FullCompression: true})
	require.NoError(t, err)
	assert.Equal(t, ModeFullRewrite, w.Mode())

	err = w.Close(Dict{"Root": reg.src.Trailer()["Root"], "Info": reg.src.Trailer()["Info"]})
	require.NoError(t, err)
	checkTestFile(t, buf.Bytes())
}

func TestAppendNoChange(t *testing.T) {
	orig := writeTestFile(t, nil)
	r, reg := openTestFile(t, orig)

	// reading objects does not count as a change
	_, err := GetDict(reg, r.Trailer()["Root"])
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	w, err := NewWriter(buf, reg, &WriterOptions{Append: true})
	require.NoError(t, err)
	err = w.Close(Dict{"Root": r.Trailer()["Root"], "Info": r.Trailer()["Info"]})
	require.NoError(t, err)

	assert.Equal(t, orig, buf.Bytes())
}

func TestAppendModified(t *testing.T) {
	for _, xrefStream := range []bool{false, true} {
		orig := writeTestFile(t, &WriterOptions{XRefStream: xrefStream})
		r, reg := openTestFile(t, orig)

		infoRef := r.Trailer()["Info"].(Reference)
		require.NoError(t, reg.Put(infoRef, Dict{"Title": TextString("Changed")}))
		extra, err := reg.MakeIndirect(Dict{"Extra": Integer(7)})
		require.NoError(t, err)
		catalog, err := GetDict(reg, r.Trailer()["Root"])
		require.NoError(t, err)
		catalog["Extra"] = extra
		require.NoError(t, reg.SetModified(r.Trailer()["Root"].(Reference)))

		buf := &bytes.Buffer{}
		w, err := NewWriter(buf, reg, &WriterOptions{Append: true})
		require.NoError(t, err)
		err = w.Close(Dict{"Root": r.Trailer()["Root"], "Info": infoRef})
		require.NoError(t, err)

		out := buf.Bytes()
		require.True(t, bytes.HasPrefix(out, orig), "original bytes must be kept")

		r2, reg2 := openTestFile(t, out)
		assert.False(t, r2.XRefRebuilt())
		assert.False(t, r2.XRefFixed())
		assert.Equal(t, xrefStream, r2.UsesXRefStream())
		assert.Contains(t, string(out[len(orig):]), fmt.Sprintf("/Prev %d", r.StartXRef()))

		info, err := GetDict(reg2, r2.Trailer()["Info"])
		require.NoError(t, err)
		title, err := GetString(reg2, info["Title"])
		require.NoError(t, err)
		assert.Equal(t, "Changed", title.AsTextString())

		cat2, err := GetDict(reg2, r2.Trailer()["Root"])
		require.NoError(t, err)
		extraDict, err := GetDict(reg2, cat2["Extra"])
		require.NoError(t, err)
		assert.Equal(t, Integer(7), extraDict["Extra"])

		// unchanged objects are still found in the original part
		stm, err := GetStream(reg2, cat2["Content"])
		require.NoError(t, err)
		assert.NotNil(t, stm)

		// the first element of the file identifier is kept
		id1, _ := GetArray(reg, r.Trailer()["ID"])
		id2, _ := GetArray(reg2, r2.Trailer()["ID"])
		require.Len(t, id2, 2)
		assert.Equal(t, id1[0], id2[0])
	}
}

func TestAppendFree(t *testing.T) {
	orig := writeTestFile(t, nil)
	r, reg := openTestFile(t, orig)

	catalog, err := GetDict(reg, r.Trailer()["Root"])
	require.NoError(t, err)
	contentRef := catalog["Content"].(Reference)
	delete(catalog, "Content")
	require.NoError(t, reg.SetModified(r.Trailer()["Root"].(Reference)))
	require.NoError(t, reg.Free(contentRef))

	buf := &bytes.Buffer{}
	w, err := NewWriter(buf, reg, &WriterOptions{Append: true})
	require.NoError(t, err)
	require.NoError(t, w.Close(Dict{"Root": r.Trailer()["Root"]}))

	r2, reg2 := openTestFile(t, buf.Bytes())
	assert.False(t, r2.XRefFixed())
	require.NoError(t, reg2.CheckFreeChain())
	assert.True(t, reg2.IsFree(contentRef))
	e := reg2.Entry(contentRef.Number())
	require.NotNil(t, e)
	assert.Equal(t, contentRef.Generation()+1, e.Generation())

	val, err := reg2.Resolve(contentRef)
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestUnusedObjects(t *testing.T) {
	for _, keep := range []bool{false, true} {
		buf := &bytes.Buffer{}
		reg := NewRegistry(nil, nil)
		w, err := NewWriter(buf, reg, &WriterOptions{KeepUnused: keep})
		require.NoError(t, err)

		catalog, err := reg.MakeIndirect(Dict{"Type": Name("Catalog")})
		require.NoError(t, err)
		unused, err := reg.MakeIndirect(Dict{"Unused": Bool(true)})
		require.NoError(t, err)
		require.NoError(t, w.Close(Dict{"Root": catalog}))

		_, reg2 := openTestFile(t, buf.Bytes())
		val, err := reg2.Resolve(unused)
		require.NoError(t, err)
		if keep {
			assert.Equal(t, Dict{"Unused": Bool(true)}, val)
		} else {
			assert.Nil(t, val)
		}
	}
}

func TestDanglingReferenceWrittenAsNull(t *testing.T) {
	buf := &bytes.Buffer{}
	reg := NewRegistry(nil, nil)
	w, err := NewWriter(buf, reg, nil)
	require.NoError(t, err)

	gone, err := reg.MakeIndirect(Dict{})
	require.NoError(t, err)
	catalog, err := reg.MakeIndirect(Dict{"Type": Name("Catalog"), "Gone": gone})
	require.NoError(t, err)
	require.NoError(t, reg.Free(gone))
	require.NoError(t, w.Close(Dict{"Root": catalog}))

	assert.Contains(t, buf.String(), "/Gone null")
}

func TestFlushBeforeClose(t *testing.T) {
	buf := &bytes.Buffer{}
	reg := NewRegistry(nil, nil)
	w, err := NewWriter(buf, reg, nil)
	require.NoError(t, err)

	var kids Array
	for i := range 10 {
		ref, err := reg.MakeIndirect(Dict{"Index": Integer(i)})
		require.NoError(t, err)
		require.NoError(t, reg.Flush(ref))
		kids = append(kids, ref)
	}
	catalog, err := reg.MakeIndirect(Dict{"Type": Name("Catalog"), "Kids": kids})
	require.NoError(t, err)
	require.NoError(t, w.Close(Dict{"Root": catalog}))
	assert.ErrorIs(t, w.Close(Dict{"Root": catalog}), errClosed)

	_, reg2 := openTestFile(t, buf.Bytes())
	for i, ref := range kids {
		d, err := GetDict(reg2, ref)
		require.NoError(t, err)
		assert.Equal(t, Integer(i), d["Index"])
	}
}

func TestWriterVersion(t *testing.T) {
	reg := NewRegistry(nil, nil)
	w, err := NewWriter(&bytes.Buffer{}, reg, &WriterOptions{Version: V1_2, XRefStream: true})
	require.NoError(t, err)
	assert.Equal(t, V1_5, w.Version(), "cross-reference streams need PDF 1.5")

	_, err = NewWriter(&bytes.Buffer{}, NewRegistry(nil, nil), &WriterOptions{Append: true})
	assert.Error(t, err)

	_, err = NewWriter(&bytes.Buffer{}, reg, nil)
	assert.Error(t, err, "second writer")
}

// rawStreamData returns the encoded data of the stream obj.
func rawStreamData(t *testing.T, reg *Registry, obj Object) (Dict, []byte) {
	t.Helper()
	stm, err := GetStream(reg, obj)
	require.NoError(t, err)
	require.NotNil(t, stm)
	data, err := io.ReadAll(stm.data())
	require.NoError(t, err)
	return stm.Dict, data
}

func TestStreamCompressionOverride(t *testing.T) {
	plainText := strings.Repeat("stored without compression ", 20)
	packedText := strings.Repeat("compressed with the document level ", 20)

	buf := &bytes.Buffer{}
	reg := NewRegistry(nil, nil)
	w, err := NewWriter(buf, reg, &WriterOptions{Compression: CompressionBest})
	require.NoError(t, err)
	plain, err := reg.MakeIndirect(&Stream{
		Dict:        Dict{},
		R:           strings.NewReader(plainText),
		Compression: CompressionNone,
	})
	require.NoError(t, err)
	packed, err := reg.MakeIndirect(&Stream{
		Dict: Dict{},
		R:    strings.NewReader(packedText),
	})
	require.NoError(t, err)
	catalog, err := reg.MakeIndirect(Dict{
		"Type":   Name("Catalog"),
		"Plain":  plain,
		"Packed": packed,
	})
	require.NoError(t, err)
	require.NoError(t, w.Close(Dict{"Root": catalog}))

	out := buf.String()
	assert.Contains(t, out, plainText)
	assert.NotContains(t, out, packedText)

	_, reg2 := openTestFile(t, buf.Bytes())
	dict, data := rawStreamData(t, reg2, plain)
	assert.Nil(t, dict["Filter"])
	assert.Equal(t, plainText, string(data))

	dict, data = rawStreamData(t, reg2, packed)
	assert.Equal(t, Name("FlateDecode"), dict["Filter"])
	assert.Less(t, len(data), len(packedText))
}

func TestFilteredStreamPassThrough(t *testing.T) {
	jpeg := "\xff\xd8\xff\xe0 not really a JPEG \xff\xd9"

	buf := &bytes.Buffer{}
	reg := NewRegistry(nil, nil)
	w, err := NewWriter(buf, reg, &WriterOptions{Compression: CompressionSpeed})
	require.NoError(t, err)
	content, err := reg.MakeIndirect(&Stream{
		Dict: Dict{},
		R:    strings.NewReader(strings.Repeat(testContent, 50)),
	})
	require.NoError(t, err)
	image, err := reg.MakeIndirect(&Stream{
		Dict: Dict{"Filter": Name("DCTDecode")},
		R:    strings.NewReader(jpeg),
	})
	require.NoError(t, err)
	catalog, err := reg.MakeIndirect(Dict{
		"Type":    Name("Catalog"),
		"Content": content,
		"Image":   image,
	})
	require.NoError(t, err)
	require.NoError(t, w.Close(Dict{"Root": catalog}))
	orig := buf.Bytes()

	_, src := openTestFile(t, orig)
	origContentDict, origContent := rawStreamData(t, src, content)
	require.Equal(t, Name("FlateDecode"), origContentDict["Filter"])
	_, origImage := rawStreamData(t, src, image)
	require.Equal(t, jpeg, string(origImage))

	// A different compression level must not affect streams which are
	// already filtered.
	out := &bytes.Buffer{}
	w2, err := NewWriter(out, src, &WriterOptions{Compression: CompressionBest})
	require.NoError(t, err)
	require.Equal(t, ModeFullRewrite, w2.Mode())
	require.NoError(t, w2.Close(Dict{"Root": catalog}))

	_, reg2 := openTestFile(t, out.Bytes())
	dict, data := rawStreamData(t, reg2, content)
	assert.Equal(t, Name("FlateDecode"), dict["Filter"])
	assert.True(t, bytes.Equal(origContent, data), "content stream was re-encoded")
	dict, data = rawStreamData(t, reg2, image)
	assert.Equal(t, Name("DCTDecode"), dict["Filter"])
	assert.Equal(t, jpeg, string(data))
}
