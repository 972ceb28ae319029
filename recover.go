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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	scanChunkSize = 1 << 20
	scanOverlap   = 64
)

var (
	objHeaderRE = regexp.MustCompile(`(\d{1,10})[ \t\r\n\f\x00]+(\d{1,5})[ \t\r\n\f\x00]+obj\b`)
	trailerRE   = regexp.MustCompile(`trailer[ \t\r\n\f\x00]*<<`)
)

// scannedObject records where an object header was found in the file.
type scannedObject struct {
	pos int64
	gen uint16
}

// scanFile searches the whole file for object headers ("N G obj") and
// trailer dictionaries.  If an object number occurs more than once, the
// last definition wins.
func (r *Reader) scanFile() (map[uint32]scannedObject, []int64, error) {
	objects := make(map[uint32]scannedObject)
	var trailers []int64

	buf := make([]byte, scanChunkSize+scanOverlap+1)
	for start := int64(0); start < r.size; start += scanChunkSize {
		from := max(start-1, 0)
		end := min(start+scanChunkSize+scanOverlap, r.size)
		n, err := r.data.ReadAt(buf[:end-from], from)
		if err != nil && err != io.EOF {
			return nil, nil, err
		}
		chunk := buf[:n]
		inChunk := func(pos int64) bool {
			return pos >= start && pos < start+scanChunkSize
		}

		for _, m := range objHeaderRE.FindAllSubmatchIndex(chunk, -1) {
			pos := from + int64(m[0])
			if !inChunk(pos) {
				continue
			}
			num, err1 := strconv.ParseUint(string(chunk[m[2]:m[3]]), 10, 32)
			gen, err2 := strconv.ParseUint(string(chunk[m[4]:m[5]]), 10, 16)
			if err1 != nil || err2 != nil {
				continue
			}
			objects[uint32(num)] = scannedObject{pos: pos, gen: uint16(gen)}
		}
		for _, m := range trailerRE.FindAllIndex(chunk, -1) {
			pos := from + int64(m[0])
			if inChunk(pos) {
				trailers = append(trailers, from+int64(m[1])-2)
			}
		}
	}
	return objects, trailers, nil
}

// rebuildXRef reconstructs the cross-reference information by scanning
// the whole file.
func (r *Reader) rebuildXRef() (map[uint32]*xRefEntry, Dict, error) {
	objects, trailers, err := r.scanFile()
	if err != nil {
		return nil, nil, err
	}
	if len(objects) == 0 {
		return nil, nil, &MalformedFileError{Err: errors.New("no objects found")}
	}

	xref := make(map[uint32]*xRefEntry, len(objects)+1)
	for num, obj := range objects {
		xref[num] = &xRefEntry{Pos: obj.pos, Generation: obj.gen}
	}
	xref[0] = &xRefEntry{Free: true, Generation: 65535}

	var trailer Dict
	for _, pos := range trailers {
		obj, err := r.scannerAt(pos, nil).ReadObject()
		if err != nil {
			continue
		}
		if dict, ok := obj.(Dict); ok && dict["Root"] != nil {
			trailer = dict
		}
	}

	getInt := func(obj Object) (Integer, error) {
		if ref, ok := obj.(Reference); ok {
			loc, found := objects[ref.Number()]
			if !found {
				return 0, errors.New("stream length not found")
			}
			val, _, err := r.parseAt(loc.pos, nil)
			if err != nil {
				return 0, err
			}
			obj = val
		}
		x, ok := obj.(Integer)
		if !ok {
			return 0, errors.New("invalid stream length")
		}
		return x, nil
	}

	// Parse all objects, to find object streams, cross-reference streams
	// and the document catalog.
	var catalog, xrefTrailer Dict
	var catalogRef Reference
	nums := maps.Keys(objects)
	slices.Sort(nums)
	for _, num := range nums {
		obj, ref, err := r.parseAt(objects[num].pos, getInt)
		if err != nil {
			r.log.Debug("skipping unreadable object",
				slog.Uint64("number", uint64(num)),
				slog.Any("err", err))
			continue
		}

		switch obj := obj.(type) {
		case *Stream:
			switch obj.Dict["Type"] {
			case Name("XRef"):
				r.internal[num] = true
				if obj.Dict["Root"] != nil {
					xrefTrailer = obj.Dict
				}
			case Name("ObjStm"):
				r.internal[num] = true
				stm, err := r.decodeObjStm(nil, obj, objects[num].pos)
				if err != nil {
					r.log.Debug("skipping unreadable object stream",
						slog.Uint64("number", uint64(num)),
						slog.Any("err", err))
					continue
				}
				for idx, member := range stm.members() {
					if _, seen := xref[member]; seen {
						continue
					}
					xref[member] = &xRefEntry{
						InStream: NewReference(num, 0),
						Pos:      int64(idx),
					}
					if catalog == nil {
						m, err := stm.get(member, idx)
						if d, ok := m.(Dict); err == nil && ok && d["Type"] == Name("Catalog") {
							catalog = d
							catalogRef = NewReference(member, 0)
						}
					}
				}
			}
		case Dict:
			if obj["Type"] == Name("Catalog") {
				catalog = obj
				catalogRef = ref
			}
		}
	}

	if trailer == nil && xrefTrailer != nil {
		trailer = xrefTrailer
	}
	res := Dict{}
	for _, key := range trailerKeys {
		if val, ok := trailer[key]; ok {
			res[key] = val
		}
	}
	if _, ok := res["Root"].(Reference); !ok {
		if catalog == nil {
			return nil, nil, &MalformedFileError{
				Err: errors.New("document catalog not found"),
			}
		}
		res["Root"] = catalogRef
	}

	r.log.Warn("cross-reference table rebuilt",
		slog.Int("objects", len(xref)-1),
		slog.String("root", fmt.Sprint(res["Root"])))
	return xref, res, nil
}

// checkFreeChain verifies the free chain and repairs it if necessary.
// The catalog and the information dictionary are restored if the
// cross-reference information marks them as free.
func (r *Reader) checkFreeChain() error {
	var objects map[uint32]scannedObject
	for _, key := range []Name{"Root", "Info"} {
		ref, ok := r.trailer[key].(Reference)
		if !ok {
			continue
		}
		if e := r.xref[ref.Number()]; e != nil && !e.Free {
			continue
		}
		if objects == nil {
			var err error
			objects, _, err = r.scanFile()
			if err != nil {
				return err
			}
		}
		loc, found := objects[ref.Number()]
		if !found {
			continue
		}
		r.log.Warn("free entry is still in use",
			slog.String("key", string(key)),
			slog.String("ref", ref.String()),
			slog.Int64("pos", loc.pos))
		r.xref[ref.Number()] = &xRefEntry{Pos: loc.pos, Generation: loc.gen}
		r.fixed = true
	}

	if r.freeChainValid() {
		return nil
	}

	var free []uint32
	for num, e := range r.xref {
		if num != 0 && e.Free {
			free = append(free, num)
		}
	}
	slices.Sort(free)
	zero := r.xref[0]
	if zero == nil || !zero.Free {
		zero = &xRefEntry{Free: true, Generation: 65535}
		r.xref[0] = zero
	}
	prev := zero
	for _, num := range free {
		prev.NextFree = num
		prev = r.xref[num]
	}
	prev.NextFree = 0

	r.log.Warn("free chain rebuilt", slog.Int("free", len(free)))
	r.fixed = true
	return nil
}

func (r *Reader) freeChainValid() bool {
	zero := r.xref[0]
	if zero == nil || !zero.Free {
		return false
	}

	numFree := 0
	pointedTo := make(map[uint32]bool)
	for _, e := range r.xref {
		if !e.Free {
			continue
		}
		numFree++
		if pointedTo[e.NextFree] {
			return false
		}
		pointedTo[e.NextFree] = true
	}

	visited := 1
	for num := zero.NextFree; num != 0; {
		e := r.xref[num]
		if e == nil || !e.Free || visited >= numFree {
			return false
		}
		visited++
		num = e.NextFree
	}
	return visited == numFree
}
