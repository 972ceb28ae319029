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
	"strings"
	"testing"
)

func TestFlateRoundTrip(t *testing.T) {
	for _, in := range []string{"", "12345", strings.Repeat("abc", 1000)} {
		for _, level := range []CompressionLevel{CompressionSpeed, CompressionDefault, CompressionBest} {
			enc, err := encodeFlate([]byte(in), level)
			if err != nil {
				t.Fatal(err)
			}

			for _, name := range []Name{"FlateDecode", "Fl"} {
				stm := &Stream{
					Dict: Dict{"Filter": name},
					R:    bytes.NewReader(enc),
				}
				r, err := DecodeStream(nil, stm)
				if err != nil {
					t.Fatal(err)
				}
				out, err := io.ReadAll(r)
				if err != nil {
					t.Fatal(err)
				}
				if string(out) != in {
					t.Errorf("wrong result for %d bytes at level %d", len(in), level)
				}
			}
		}
	}
}

func TestXRefRowsRoundTrip(t *testing.T) {
	rows := []byte("\x01\x00\x10\x00\x01\x00\x20\x00\x01\x00\x30\x00\x02\x00\x05\x01")
	enc, err := encodeXRefRows(rows, 4, CompressionDefault)
	if err != nil {
		t.Fatal(err)
	}

	// the parameters are given indirectly, to exercise reference resolution
	reg := NewRegistry(nil, nil)
	parms, err := reg.MakeIndirect(Dict{"Predictor": Integer(12), "Columns": Integer(4)})
	if err != nil {
		t.Fatal(err)
	}
	stm := &Stream{
		Dict: Dict{
			"Filter":      Array{Name("FlateDecode")},
			"DecodeParms": Array{parms},
		},
		R: bytes.NewReader(enc),
	}
	r, err := DecodeStream(reg, stm)
	if err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, rows) {
		t.Errorf("wrong result: %x", out)
	}
}

func TestNoFilter(t *testing.T) {
	stm := &Stream{Dict: Dict{}, R: strings.NewReader("plain")}
	r, err := DecodeStream(nil, stm)
	if err != nil {
		t.Fatal(err)
	}
	out, _ := io.ReadAll(r)
	if string(out) != "plain" {
		t.Errorf("got %q", out)
	}
}

func TestUnsupportedFilter(t *testing.T) {
	for _, filter := range []Object{
		Name("DCTDecode"),
		Array{Name("ASCII85Decode"), Name("FlateDecode")},
	} {
		stm := &Stream{
			Dict: Dict{"Filter": filter},
			R:    strings.NewReader("xxx"),
		}
		_, err := DecodeStream(nil, stm)
		if !errors.Is(err, ErrUnsupportedFilter) {
			t.Errorf("%s: expected ErrUnsupportedFilter, got %v", Format(filter), err)
		}
	}
}

func TestTIFFPredictor(t *testing.T) {
	stm := &Stream{
		Dict: Dict{
			"Filter":      Name("FlateDecode"),
			"DecodeParms": Dict{"Predictor": Integer(2)},
		},
		R: strings.NewReader("xxx"),
	}
	_, err := DecodeStream(nil, stm)
	if !errors.Is(err, ErrUnsupportedFilter) {
		t.Errorf("expected ErrUnsupportedFilter, got %v", err)
	}
}

func TestUnsupportedFilterPassThrough(t *testing.T) {
	buf := &bytes.Buffer{}
	reg := NewRegistry(nil, nil)
	w, err := NewWriter(buf, reg, &WriterOptions{Recompress: true})
	if err != nil {
		t.Fatal(err)
	}
	img, err := reg.MakeIndirect(&Stream{
		Dict: Dict{"Filter": Name("DCTDecode")},
		R:    strings.NewReader("\xff\xd8 not really a JPEG"),
	})
	if err != nil {
		t.Fatal(err)
	}
	catalog, err := reg.MakeIndirect(Dict{"Type": Name("Catalog"), "Image": img})
	if err != nil {
		t.Fatal(err)
	}
	err = w.Close(Dict{"Root": catalog})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "stream\n\xff\xd8 not really a JPEG\nendstream") {
		t.Error("stream data was changed")
	}
}
