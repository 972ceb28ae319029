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

	"github.com/google/go-cmp/cmp"
)

func testScanner(contents string) *scanner {
	r := strings.NewReader(contents)
	s := newScanner(r, func(o Object) (Integer, error) {
		x, ok := o.(Integer)
		if !ok {
			return 0, errors.New("not an integer")
		}
		return x, nil
	})
	s.file = r
	return s
}

func TestRefill(t *testing.T) {
	n := scannerBufSize + 2
	buf := make([]byte, n)
	s := newScanner(bytes.NewReader(buf), nil)

	for _, inc := range []int{0, 1, scannerBufSize, 1} {
		s.pos += inc
		err := s.refill()
		total := int(s.total) + s.pos
		expectUsed := min(scannerBufSize, n-total)
		if err != nil || s.pos != 0 || s.used != expectUsed {
			t.Errorf("%d: s.pos = %d, s.used = %d, err = %v",
				total, s.pos, s.used, err)
		}
	}
}

func TestReadObject(t *testing.T) {
	cases := []struct {
		in  string
		val Object
		ok  bool
	}{
		{"null", nil, true},

		{"true", Bool(true), true},
		{"false", Bool(false), true},
		{"TRUE", nil, false},

		{"0", Integer(0), true},
		{"+1", Integer(1), true},
		{"-12", Integer(-12), true},
		{"999999999999999999", Integer(999999999999999999), true},

		{".5", Real(.5), true},
		{"-.5", Real(-.5), true},
		{"+0.5", Real(.5), true},
		{".", Real(0), true},

		{"/a", Name("a"), true},
		{"/A;Name_With-Various***Characters?", Name("A;Name_With-Various***Characters?"), true},
		{"/1.2", Name("1.2"), true},
		{"/A#42", Name("AB"), true},
		{"/F#23#20minor", Name("F# minor"), true},
		{"/", Name(""), true},

		{`()`, String(nil), true},
		{`(he(ll)o)`, String("he(ll)o"), true},
		{`(he\)ll\(o)`, String("he)ll(o"), true},
		{"(hello\r)", String("hello\n"), true},
		{"(hello\r\n)", String("hello\n"), true},
		{"(hell\\\r\no)", String("hello"), true},
		{`(h\145llo)`, String("hello"), true},
		{`(\0612)`, String("12"), true},

		{"<>", String(nil), true},
		{"<68 65 6C 6C 6F>", String("hello"), true},
		{"<68656C7>", String("help"), true},

		{"[1 2 3]", Array{Integer(1), Integer(2), Integer(3)}, true},
		{"[1 2 3 R 4]", Array{Integer(1), NewReference(2, 3), Integer(4)}, true},

		{"<< /key 12 /val /23 >>", Dict{
			"key": Integer(12),
			"val": Name("23"),
		}, true},
		{"<< /key1 1 /key2 2 2 R /key3 null >>", Dict{
			"key1": Integer(1),
			"key2": NewReference(2, 2),
		}, true},

		{"fals", nil, false},
		{"abc", nil, false},
	}

	for _, test := range cases {
		for _, suffix := range []string{">>", " 1\n"} {
			body := test.in + suffix
			s := testScanner(body)

			val, err := s.ReadObject()
			if test.ok {
				if err != nil {
					t.Errorf("%q: unexpected error %q", body, err)
					continue
				}
				if d := cmp.Diff(test.val, val); d != "" {
					t.Errorf("%q: wrong value (-want +got):\n%s", body, d)
				}
			} else if !isMalformed(err) {
				t.Errorf("%q: wrong error %v", body, err)
			}
		}
	}
}

func TestReadStream(t *testing.T) {
	body := "<< /Length 5 >>\nstream\nhello\nendstream"
	s := testScanner(body)
	obj, err := s.ReadObject()
	if err != nil {
		t.Fatal(err)
	}
	stm, ok := obj.(*Stream)
	if !ok {
		t.Fatalf("wrong type %T", obj)
	}
	if !stm.isRaw() {
		t.Error("stream from file should refer to the file data")
	}

	// every read starts at the beginning of the stream data
	for range 2 {
		data, err := io.ReadAll(stm.data())
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "hello" {
			t.Errorf("wrong stream data %q", data)
		}
	}

	s = newScanner(strings.NewReader(body), nil)
	_, err = s.ReadObject()
	if !isMalformed(err) {
		t.Errorf("stream without a file: wrong error %v", err)
	}
}

func TestSkipWhiteSpace(t *testing.T) {
	cases := []string{
		"",
		" ",
		"                ",
		"\r",
		"\n",
		"% comment\r\n",
		" % comment\r\n % comment\r\n % comment\r\n   ",
	}

	for _, test := range cases {
		for _, suffix := range []string{">>", "x y\n"} {
			body := test + suffix
			s := testScanner(body)

			err := s.SkipWhiteSpace()
			if err != nil {
				t.Errorf("%q: unexpected error: %s", body, err)
			}
			if pos := s.currentPos(); pos != int64(len(test)) {
				t.Errorf("%q: wrong position %d", body, pos)
			}
		}
	}
}

func TestReadHeaderVersion(t *testing.T) {
	s := newScanner(strings.NewReader("%PDF-1.7\n1 0 obj\n"), nil)
	version, err := s.readHeaderVersion()
	if err != nil {
		t.Errorf("unexpected error %q", err)
	}
	if version != V1_7 {
		t.Errorf("wrong version: expected %s, got %s", V1_7, version)
	}

	for _, in := range []string{"", "%PEF-1.7\n", "%PDF-0.1\n", "%PDF-1.9\n"} {
		s = newScanner(strings.NewReader(in), nil)
		_, err = s.readHeaderVersion()
		if err == nil {
			t.Errorf("%q: missing error", in)
		}
	}
}

func TestReadIndirectObject(t *testing.T) {
	cases := []struct {
		in  string
		ref Reference
		val Object
	}{
		{"1 0 obj\n42\nendobj\n", NewReference(1, 0), Integer(42)},
		{"  7 2 obj [/a /b] endobj", NewReference(7, 2), Array{Name("a"), Name("b")}},
		{"3 0 obj 5 0 R endobj", NewReference(3, 0), NewReference(5, 0)},
		{"4 0 obj (missing endobj)", NewReference(4, 0), String("missing endobj")},
	}
	for _, test := range cases {
		s := testScanner(test.in)
		val, ref, err := s.ReadIndirectObject()
		if err != nil {
			t.Errorf("%q: %v", test.in, err)
			continue
		}
		if ref != test.ref {
			t.Errorf("%q: wrong reference %s", test.in, ref)
		}
		if d := cmp.Diff(test.val, val); d != "" {
			t.Errorf("%q: wrong value (-want +got):\n%s", test.in, d)
		}
	}
}

// TestFormatRoundTrip checks that writing and re-reading an object gives
// the same serialization.
func TestFormatRoundTrip(t *testing.T) {
	cases := []string{
		"0 ",
		"<0d>",
		"-0.",
		"//",
		"/#23",
		"<<>>0",
		"(a\\\\b)",
		"[1 2 R /x (y) <</z [true false null]>>]",
	}
	for _, in := range cases {
		s := testScanner(in)
		obj1, err := s.ReadObject()
		if err != nil {
			continue
		}
		out1 := Format(obj1)

		s = testScanner(out1)
		obj2, err := s.ReadObject()
		if err != nil {
			t.Errorf("%q -> %q: %v", in, out1, err)
			continue
		}
		out2 := Format(obj2)
		if out1 != out2 {
			t.Errorf("%q -> %q -> %q", in, out1, out2)
		}
	}
}
