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

// Package predict implements the PNG predictors used together with the
// FlateDecode filter.  Cross-reference streams are usually written with
// the PNG Up predictor, so that rows which differ only in their offsets
// compress well.
package predict

import (
	"errors"
	"fmt"
	"io"
)

const maxColumns = 1 << 20

// Params describes the row layout of predicted data.
type Params struct {
	// Predictor selects the algorithm.  1 means no prediction, 10 to 15
	// select the PNG predictors.
	Predictor int

	// Colors is the number of components per sample.
	Colors int

	// BitsPerComponent is 1, 2, 4, 8 or 16.
	BitsPerComponent int

	// Columns is the number of samples per row.
	Columns int
}

// Validate checks that the parameters describe a supported layout.
func (p *Params) Validate() error {
	switch {
	case p.Predictor == 1:
		return nil
	case p.Predictor < 10 || p.Predictor > 15:
		return fmt.Errorf("unsupported predictor %d", p.Predictor)
	case p.Colors < 1 || p.Colors > 256:
		return errors.New("invalid Colors value")
	}
	switch p.BitsPerComponent {
	case 1, 2, 4, 8, 16:
	default:
		return fmt.Errorf("invalid BitsPerComponent %d", p.BitsPerComponent)
	}
	if p.Columns < 1 || p.Columns > maxColumns {
		return errors.New("invalid Columns value")
	}
	return nil
}

func (p *Params) bytesPerRow() int {
	return (p.Colors*p.BitsPerComponent*p.Columns + 7) / 8
}

func (p *Params) bytesPerPixel() int {
	return (p.Colors*p.BitsPerComponent + 7) / 8
}

// NewReader returns a reader which undoes the prediction applied to the
// data from r.  For predictor 1, r is returned unchanged.
func NewReader(r io.Reader, p *Params) (io.Reader, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Predictor == 1 {
		return r, nil
	}
	n := p.bytesPerRow()
	return &reader{
		r:    r,
		bpp:  p.bytesPerPixel(),
		in:   make([]byte, n+1),
		prev: make([]byte, n),
		cur:  make([]byte, n),
	}, nil
}

type reader struct {
	r    io.Reader
	bpp  int
	in   []byte
	prev []byte
	cur  []byte
	pend []byte
	err  error
}

func (r *reader) Read(buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		if len(r.pend) > 0 {
			k := copy(buf[n:], r.pend)
			r.pend = r.pend[k:]
			n += k
			continue
		}
		if r.err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, r.err
		}

		k, err := io.ReadFull(r.r, r.in)
		if err == io.ErrUnexpectedEOF {
			// a short last row is decoded as far as it goes
			err = io.EOF
		}
		if k > 1 {
			row, decErr := r.decodeRow(r.in[0], r.in[1:k])
			if decErr != nil {
				err = decErr
			}
			r.pend = row
		}
		r.err = err
	}
	return n, nil
}

func (r *reader) decodeRow(tag byte, data []byte) ([]byte, error) {
	cur := r.cur[:len(data)]
	bpp := r.bpp
	for i, x := range data {
		var left, up, upLeft byte
		if i >= bpp {
			left = cur[i-bpp]
			upLeft = r.prev[i-bpp]
		}
		up = r.prev[i]

		var pred byte
		switch tag {
		case 0:
		case 1:
			pred = left
		case 2:
			pred = up
		case 3:
			pred = byte((int(left) + int(up)) / 2)
		case 4:
			pred = paeth(left, up, upLeft)
		default:
			return nil, fmt.Errorf("invalid PNG filter type %d", tag)
		}
		cur[i] = x + pred
	}
	r.prev, r.cur = r.cur, r.prev
	return r.prev[:len(data)], nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// NewUpWriter returns a writer which applies the PNG Up predictor to
// rows of the given length.  Close must be called to flush a final
// partial row; it does not close w.
func NewUpWriter(w io.Writer, rowLen int) io.WriteCloser {
	return &upWriter{
		w:    w,
		prev: make([]byte, rowLen),
		row:  make([]byte, 0, rowLen),
		out:  make([]byte, rowLen+1),
	}
}

type upWriter struct {
	w    io.Writer
	prev []byte
	row  []byte
	out  []byte
}

func (u *upWriter) Write(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		k := min(len(p), cap(u.row)-len(u.row))
		u.row = append(u.row, p[:k]...)
		p = p[k:]
		n += k
		if len(u.row) == cap(u.row) {
			if err := u.flushRow(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (u *upWriter) flushRow() error {
	u.out[0] = 2
	for i, x := range u.row {
		u.out[i+1] = x - u.prev[i]
	}
	_, err := u.w.Write(u.out[:len(u.row)+1])
	copy(u.prev, u.row)
	u.row = u.row[:0]
	return err
}

func (u *upWriter) Close() error {
	if len(u.row) == 0 {
		return nil
	}
	return u.flushRow()
}
