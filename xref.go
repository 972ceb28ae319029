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
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/bits"
	"strconv"

	"golang.org/x/exp/slices"
)

// xRefEntry is one entry of a cross-reference section, as read from a file.
type xRefEntry struct {
	// InStream is set for objects stored in an object stream.  In this case
	// Pos is the index within the stream.
	InStream Reference

	Pos        int64
	Generation uint16

	Free     bool
	NextFree uint32
}

func (r *Reader) findXRef() (int64, error) {
	pos, err := r.lastOccurence("startxref")
	if err != nil {
		return 0, err
	}
	s := r.scannerAt(pos+9, nil)
	err = s.SkipWhiteSpace()
	if err != nil {
		return 0, err
	}
	xRefPos, err := s.ReadInteger()
	if err != nil {
		return 0, err
	}

	if xRefPos <= 0 || int64(xRefPos) >= r.size {
		return 0, &MalformedFileError{
			Pos: s.currentPos(),
			Err: errors.New("invalid xref position"),
		}
	}

	return int64(xRefPos), nil
}

// lastOccurence finds the last occurence of pat in the file, reading
// backwards in chunks of 1 KiB.
func (r *Reader) lastOccurence(pat string) (int64, error) {
	const chunkSize = 1024

	buf := make([]byte, chunkSize)
	k := int64(len(pat))
	pos := r.size
	for pos >= k {
		start := max(pos-chunkSize, 0)
		n, err := r.data.ReadAt(buf[:pos-start], start)
		if err != nil && err != io.EOF {
			return 0, err
		}

		idx := bytes.LastIndex(buf[:n], []byte(pat))
		if idx >= 0 {
			return start + int64(idx), nil
		}

		if start == 0 {
			break
		}
		pos = start + k - 1
	}
	return 0, &MalformedFileError{
		Err: errors.New("startxref not found"),
	}
}

// readXRef reads all cross-reference sections of the file, starting with
// the most recent one and following the Prev links.  For each object
// number, the first entry found is kept.
func (r *Reader) readXRef() (map[uint32]*xRefEntry, Dict, error) {
	start, err := r.findXRef()
	if err != nil {
		return nil, nil, err
	}
	r.startXRef = start

	xref := make(map[uint32]*xRefEntry)
	trailer := Dict{}
	first := true
	seen := make(map[int64]bool)
	for {
		// avoid xref loops
		if seen[start] {
			r.log.Warn("loop in /Prev chain", slog.Int64("pos", start))
			break
		}
		seen[start] = true

		s := r.scannerAt(start, nil)
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, nil, err
		}
		buf, err := s.Peek(4)
		if err != nil {
			return nil, nil, err
		}

		section := make(map[uint32]*xRefEntry)
		var dict Dict
		if bytes.Equal(buf, []byte("xref")) {
			dict, err = readXRefTable(section, s)
			if err != nil {
				return nil, nil, err
			}

			// In hybrid files, the entries from the xref stream take
			// precedence over free entries from the table.
			if xRefStm, ok := dict["XRefStm"]; ok {
				zStart, ok := xRefStm.(Integer)
				if !ok || zStart <= 0 || int64(zStart) >= r.size {
					return nil, nil, &MalformedFileError{
						Pos: start,
						Err: errors.New("invalid /XRefStm"),
					}
				}
				hidden := make(map[uint32]*xRefEntry)
				_, num, err := readXRefStream(hidden, r.scannerAt(int64(zStart), nil))
				if err != nil {
					return nil, nil, err
				}
				r.internal[num] = true
				for n, e := range hidden {
					if old, ok := section[n]; !ok || old.Free {
						section[n] = e
					}
				}
			}
		} else {
			var num uint32
			dict, num, err = readXRefStream(section, s)
			if err != nil {
				return nil, nil, err
			}
			r.internal[num] = true
			if first {
				r.usesXRefStream = true
			}
		}

		for n, e := range section {
			if _, ok := xref[n]; !ok {
				xref[n] = e
			}
			if e.InStream != 0 {
				r.internal[e.InStream.Number()] = true
			}
		}

		if first {
			for _, key := range trailerKeys {
				if val, ok := dict[key]; ok {
					trailer[key] = val
				}
			}
			first = false
		}

		prev := dict["Prev"]
		if prev == nil {
			break
		}
		prevStart, ok := prev.(Integer)
		if !ok || prevStart <= 0 || int64(prevStart) >= r.size {
			return nil, nil, &MalformedFileError{
				Pos: start,
				Err: fmt.Errorf("invalid /Prev value %s", Format(prev)),
			}
		}
		start = int64(prevStart)
	}

	return xref, trailer, nil
}

func readXRefTable(xref map[uint32]*xRefEntry, s *scanner) (Dict, error) {
	err := s.SkipString("xref")
	if err != nil {
		return nil, err
	}
	err = s.SkipWhiteSpace()
	if err != nil {
		return nil, err
	}

	for {
		buf, err := s.Peek(1)
		if err != nil {
			return nil, err
		}
		if len(buf) == 0 || buf[0] < '0' || buf[0] > '9' {
			break
		}

		start, err := s.ReadInteger()
		if err != nil {
			return nil, err
		}
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}
		length, err := s.ReadInteger()
		if err != nil {
			return nil, err
		}
		if start < 0 || length < 0 || start+length > math.MaxUint32 {
			return nil, &MalformedFileError{
				Pos: s.currentPos(),
				Err: fmt.Errorf("invalid xref subsection %d %d", start, length),
			}
		}
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}

		err = decodeXRefSection(xref, s, uint32(start), uint32(start+length))
		if err != nil {
			return nil, err
		}
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}
	}

	err = s.SkipString("trailer")
	if err != nil {
		return nil, err
	}
	err = s.SkipWhiteSpace()
	if err != nil {
		return nil, err
	}
	buf, err := s.Peek(2)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(buf, []byte("<<")) {
		return nil, &MalformedFileError{
			Pos: s.currentPos(),
			Err: errors.New("trailer dictionary not found"),
		}
	}
	obj, err := s.ReadObject()
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(Dict)
	if !ok {
		return nil, &MalformedFileError{
			Pos: s.currentPos(),
			Err: errors.New("invalid trailer"),
		}
	}
	return dict, nil
}

func decodeXRefSection(xref map[uint32]*xRefEntry, s *scanner, start, end uint32) error {
	for i := start; i < end; i++ {
		buf, err := s.Peek(20)
		if err != nil {
			return err
		}
		if len(buf) < 20 {
			return &MalformedFileError{
				Pos: s.currentPos(),
				Err: io.ErrUnexpectedEOF,
			}
		}

		a, err := strconv.ParseInt(string(buf[:10]), 10, 64)
		if err != nil {
			return &MalformedFileError{Pos: s.currentPos(), Err: err}
		}
		c := buf[17]
		b, err := strconv.ParseUint(string(buf[11:16]), 10, 16)
		if err != nil {
			// fix a common error in some PDF files
			if bytes.HasPrefix(buf, []byte("0000000000 65536 ")) {
				b = 65535
				c = 'f'
			} else {
				return &MalformedFileError{Pos: s.currentPos(), Err: err}
			}
		}

		if _, seen := xref[i]; !seen {
			switch c {
			case 'f':
				xref[i] = &xRefEntry{
					Free:       true,
					NextFree:   uint32(a),
					Generation: uint16(b),
				}
			case 'n':
				xref[i] = &xRefEntry{
					Pos:        a,
					Generation: uint16(b),
				}
			default:
				return &MalformedFileError{
					Pos: s.currentPos(),
					Err: errors.New("malformed xref table"),
				}
			}
		}

		// Lines should be 20 bytes long, but some writers use a one-byte
		// line ending.
		s.pos += 18
		err = s.SkipWhiteSpace()
		if err != nil {
			return err
		}
	}
	return nil
}

// readXRefStream reads a cross-reference stream.  It returns the stream
// dictionary and the object number of the stream.
func readXRefStream(xref map[uint32]*xRefEntry, s *scanner) (Dict, uint32, error) {
	obj, ref, err := s.ReadIndirectObject()
	if err != nil {
		return nil, 0, err
	}
	stream, ok := obj.(*Stream)
	if !ok {
		return nil, 0, &MalformedFileError{
			Pos: s.currentPos(),
			Err: errors.New("invalid xref stream"),
		}
	}
	dict := stream.Dict

	w, ss, err := checkXRefStreamDict(dict)
	if err != nil {
		return nil, 0, err
	}
	decoded, err := DecodeStream(nil, stream)
	if err != nil {
		return nil, 0, &MalformedFileError{Pos: s.currentPos(), Err: err}
	}
	err = decodeXRefStream(xref, decoded, w, ss)
	if err != nil {
		return nil, 0, err
	}

	return dict, ref.Number(), nil
}

type xRefSubSection struct {
	Start, Size uint32
}

func checkXRefStreamDict(dict Dict) ([]int, []xRefSubSection, error) {
	size, ok := dict["Size"].(Integer)
	if !ok || size < 0 || size > math.MaxUint32 {
		return nil, nil, &MalformedFileError{Err: errors.New("invalid /Size in xref stream")}
	}
	W, ok := dict["W"].(Array)
	if !ok || len(W) < 3 {
		return nil, nil, &MalformedFileError{Err: errors.New("invalid /W in xref stream")}
	}
	var w []int
	for i, Wi := range W {
		wi, ok := Wi.(Integer)
		if !ok || i < 3 && (wi < 0 || wi > 8) || wi < 0 {
			return nil, nil, &MalformedFileError{Err: errors.New("invalid /W in xref stream")}
		}
		w = append(w, int(wi))
	}

	var ss []xRefSubSection
	switch index := dict["Index"].(type) {
	case nil:
		ss = append(ss, xRefSubSection{0, uint32(size)})
	case Array:
		if len(index)%2 != 0 {
			return nil, nil, &MalformedFileError{Err: errors.New("invalid /Index in xref stream")}
		}
		for i := 0; i < len(index); i += 2 {
			start, ok1 := index[i].(Integer)
			n, ok2 := index[i+1].(Integer)
			if !ok1 || !ok2 || start < 0 || n < 0 || start+n > math.MaxUint32 {
				return nil, nil, &MalformedFileError{Err: errors.New("invalid /Index in xref stream")}
			}
			ss = append(ss, xRefSubSection{uint32(start), uint32(n)})
		}
	default:
		return nil, nil, &MalformedFileError{Err: errors.New("invalid /Index in xref stream")}
	}
	return w, ss, nil
}

func decodeXRefStream(xref map[uint32]*xRefEntry, r io.Reader, w []int, ss []xRefSubSection) error {
	wTotal := 0
	for _, wi := range w {
		wTotal += wi
	}
	buf := make([]byte, wTotal)

	w0 := w[0]
	w1 := w[1]
	w2 := w[2]
	for _, sec := range ss {
		for k := range sec.Size {
			i := sec.Start + k
			_, err := io.ReadFull(r, buf)
			if err != nil {
				return &MalformedFileError{Err: fmt.Errorf("xref stream: %w", err)}
			}

			if xref[i] != nil {
				continue
			}

			tp := decodeInt(buf[:w0])
			if w0 == 0 {
				tp = 1
			}
			a := decodeInt(buf[w0 : w0+w1])
			b := decodeInt(buf[w0+w1 : w0+w1+w2])
			switch tp {
			case 0:
				// a = next free object, b = generation for reuse
				xref[i] = &xRefEntry{
					Free:       true,
					NextFree:   uint32(a),
					Generation: uint16(b),
				}
			case 1:
				// a = byte offset, b = generation
				xref[i] = &xRefEntry{
					Pos:        int64(a),
					Generation: uint16(b),
				}
			case 2:
				// a = object stream number, b = index within the stream
				xref[i] = &xRefEntry{
					InStream: NewReference(uint32(a), 0),
					Pos:      int64(b),
				}
			default:
				// unknown types are treated as references to null
			}
		}
	}
	return nil
}

func decodeInt(buf []byte) (res uint64) {
	for _, x := range buf {
		res = res<<8 | uint64(x)
	}
	return res
}

// xRefRow is one entry of a cross-reference section to be written.
type xRefRow struct {
	number uint32
	tp     byte
	f2     uint64
	f3     uint64
}

// subSections groups rows with consecutive object numbers.
// The rows must be sorted by object number.
func subSections(rows []xRefRow) [][]xRefRow {
	var res [][]xRefRow
	start := 0
	for i := 1; i <= len(rows); i++ {
		if i == len(rows) || rows[i].number != rows[i-1].number+1 {
			res = append(res, rows[start:i])
			start = i
		}
	}
	return res
}

func sortRows(rows []xRefRow) {
	slices.SortFunc(rows, func(a, b xRefRow) int {
		switch {
		case a.number < b.number:
			return -1
		case a.number > b.number:
			return 1
		default:
			return 0
		}
	})
}

// writeXRefTable writes a classic cross-reference table, followed by the
// trailer.
func writeXRefTable(w io.Writer, rows []xRefRow, trailer Dict) error {
	sortRows(rows)

	_, err := io.WriteString(w, "xref\n")
	if err != nil {
		return err
	}
	for _, sec := range subSections(rows) {
		_, err = fmt.Fprintf(w, "%d %d\n", sec[0].number, len(sec))
		if err != nil {
			return err
		}
		for _, row := range sec {
			switch row.tp {
			case 0:
				_, err = fmt.Fprintf(w, "%010d %05d f\r\n", row.f2, row.f3)
			case 1:
				_, err = fmt.Fprintf(w, "%010d %05d n\r\n", row.f2, row.f3)
			default:
				err = fmt.Errorf("object %d: compressed objects need an xref stream", row.number)
			}
			if err != nil {
				return err
			}
		}
	}

	_, err = io.WriteString(w, "trailer\n")
	if err != nil {
		return err
	}
	err = trailer.PDF(w)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// xRefStreamData encodes the rows of a cross-reference stream.  The rows
// must be sorted.  The function returns the field widths, the Index array
// and the packed rows.
func xRefStreamData(rows []xRefRow) (Array, Array, []byte) {
	var max2, max3 uint64
	for _, row := range rows {
		max2 = max(max2, row.f2)
		max3 = max(max3, row.f3)
	}
	w2 := (bits.Len64(max2) + 7) / 8
	w3 := max((bits.Len64(max3)+7)/8, 1)

	var index Array
	for _, sec := range subSections(rows) {
		index = append(index, Integer(sec[0].number), Integer(len(sec)))
	}

	data := make([]byte, 0, len(rows)*(1+w2+w3))
	for _, row := range rows {
		data = append(data, row.tp)
		data = appendInt(data, row.f2, w2)
		data = appendInt(data, row.f3, w3)
	}
	return Array{Integer(1), Integer(w2), Integer(w3)}, index, data
}

func appendInt(data []byte, x uint64, w int) []byte {
	for i := w - 1; i >= 0; i-- {
		data = append(data, byte(x>>(i*8)))
	}
	return data
}
