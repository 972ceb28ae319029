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

package predict

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// encodePNG applies the PNG filter with the given tag to every row.
func encodePNG(data []byte, rowLen, bpp int, tag byte) []byte {
	var res []byte
	prev := make([]byte, rowLen)
	for len(data) > 0 {
		row := data[:min(rowLen, len(data))]
		data = data[len(row):]
		res = append(res, tag)
		for i, x := range row {
			var left, upLeft byte
			if i >= bpp {
				left = row[i-bpp]
				upLeft = prev[i-bpp]
			}
			up := prev[i]
			var pred byte
			switch tag {
			case 1:
				pred = left
			case 2:
				pred = up
			case 3:
				pred = byte((int(left) + int(up)) / 2)
			case 4:
				pred = paeth(left, up, upLeft)
			}
			res = append(res, x-pred)
		}
		copy(prev, row)
	}
	return res
}

func TestPNGDecode(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	data := make([]byte, 6*20)
	rng.Read(data)

	p := &Params{Predictor: 15, Colors: 3, BitsPerComponent: 8, Columns: 2}
	for tag := byte(0); tag <= 4; tag++ {
		encoded := encodePNG(data, 6, 3, tag)
		r, err := NewReader(bytes.NewReader(encoded), p)
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatal(err)
		}
		if d := cmp.Diff(data, got); d != "" {
			t.Errorf("tag %d: %s", tag, d)
		}
	}
}

func TestInvalidTag(t *testing.T) {
	p := &Params{Predictor: 12, Colors: 1, BitsPerComponent: 8, Columns: 2}
	r, err := NewReader(bytes.NewReader([]byte{7, 1, 2}), p)
	if err != nil {
		t.Fatal(err)
	}
	_, err = io.ReadAll(r)
	if err == nil {
		t.Error("invalid filter type not detected")
	}
}

func TestUpWriter(t *testing.T) {
	for _, n := range []int{0, 1, 4, 5, 17, 1000} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i * i)
		}

		buf := &bytes.Buffer{}
		w := NewUpWriter(buf, 5)
		// write in odd-sized pieces
		for i := 0; i < len(data); i += 3 {
			_, err := w.Write(data[i:min(i+3, len(data))])
			if err != nil {
				t.Fatal(err)
			}
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}

		if d := cmp.Diff(encodePNG(data, 5, 1, 2), buf.Bytes(), cmp.Comparer(bytes.Equal)); d != "" {
			t.Errorf("n=%d: %s", n, d)
		}

		r, err := NewReader(buf, &Params{Predictor: 12, Colors: 1, BitsPerComponent: 8, Columns: 5})
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("n=%d: round trip failed", n)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		p  Params
		ok bool
	}{
		{Params{Predictor: 1}, true},
		{Params{Predictor: 2, Colors: 1, BitsPerComponent: 8, Columns: 1}, false},
		{Params{Predictor: 10, Colors: 1, BitsPerComponent: 8, Columns: 1}, true},
		{Params{Predictor: 12, Colors: 0, BitsPerComponent: 8, Columns: 1}, false},
		{Params{Predictor: 12, Colors: 1, BitsPerComponent: 3, Columns: 1}, false},
		{Params{Predictor: 12, Colors: 1, BitsPerComponent: 8, Columns: 0}, false},
		{Params{Predictor: 15, Colors: 4, BitsPerComponent: 16, Columns: 100}, true},
	}
	for i, c := range cases {
		err := c.p.Validate()
		if (err == nil) != c.ok {
			t.Errorf("%d: %v: unexpected result %v", i, c.p, err)
		}
	}
}
