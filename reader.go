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
	"strconv"
)

// trailerKeys lists the trailer entries which describe the document, as
// opposed to the entries which describe a cross-reference section.
var trailerKeys = []Name{"Root", "Info", "ID", "Encrypt"}

// Reader gives access to the bytes of an existing PDF file.
//
// The Reader locates the objects of the file using the cross-reference
// information.  Objects are parsed on demand, through a [Registry] created
// with [NewRegistry].  If the cross-reference information is damaged, it
// is reconstructed by scanning the whole file.
type Reader struct {
	data io.ReaderAt
	size int64
	log  *slog.Logger

	version   Version
	xref      map[uint32]*xRefEntry
	internal  map[uint32]bool
	trailer   Dict
	startXRef int64

	usesXRefStream bool
	rebuilt        bool
	fixed          bool

	objStms *lruCache[*objStm]
}

// NewReader prepares data for reading.  The cross-reference information
// is read immediately, objects are read when they are first used.
//
// Errors from data are returned unchanged.  Documents which use the
// security handler are rejected with [ErrEncrypted].
func NewReader(data io.ReaderAt, size int64, opt *ReaderOptions) (*Reader, error) {
	cacheSize := defaultObjStmCacheSize
	if opt != nil && opt.ObjStmCacheSize > 0 {
		cacheSize = opt.ObjStmCacheSize
	}
	r := &Reader{
		data:     data,
		size:     size,
		log:      opt.logger(),
		internal: make(map[uint32]bool),
		objStms:  newCache[*objStm](cacheSize),
	}

	s := r.scannerAt(0, nil)
	version, err := s.readHeaderVersion()
	if isMalformed(err) {
		r.log.Warn("PDF header not found, assuming PDF 1.7", slog.Any("err", err))
		version = V1_7
	} else if err != nil {
		return nil, err
	}
	r.version = version

	xref, trailer, err := r.readXRef()
	if err == nil && trailer["Root"] == nil {
		err = &MalformedFileError{Err: errors.New("trailer has no /Root")}
	}
	if err != nil {
		if !recoverable(err) {
			return nil, err
		}
		r.log.Warn("cross-reference information damaged, rebuilding",
			slog.Any("err", err))
		xref, trailer, err = r.rebuildXRef()
		if err != nil {
			return nil, err
		}
		r.rebuilt = true
		r.startXRef = 0
		r.usesXRefStream = false
	}
	r.xref = xref
	r.trailer = trailer

	if r.trailer["Encrypt"] != nil {
		return nil, ErrEncrypted
	}

	err = r.checkFreeChain()
	if err != nil {
		return nil, err
	}

	return r, nil
}

// recoverable reports whether err indicates damaged input, as opposed to a
// failure of the underlying file.
func recoverable(err error) bool {
	var numErr *strconv.NumError
	return isMalformed(err) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.As(err, &numErr)
}

// Version returns the PDF version from the file header.
func (r *Reader) Version() Version {
	return r.version
}

// Size returns the length of the file in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// Trailer returns the trailer dictionary.  Only the keys Root, Info, ID and
// Encrypt are kept.
func (r *Reader) Trailer() Dict {
	return r.trailer
}

// StartXRef returns the byte offset of the most recent cross-reference
// section.  This is 0 if the cross-reference information was rebuilt.
func (r *Reader) StartXRef() int64 {
	return r.startXRef
}

// UsesXRefStream reports whether the most recent cross-reference section
// is a cross-reference stream.
func (r *Reader) UsesXRefStream() bool {
	return r.usesXRefStream
}

// XRefRebuilt reports whether the cross-reference information was
// reconstructed by scanning the file.
func (r *Reader) XRefRebuilt() bool {
	return r.rebuilt
}

// XRefFixed reports whether inconsistencies in the free chain were
// repaired.
func (r *Reader) XRefFixed() bool {
	return r.fixed
}

// CopyTo writes the complete file contents to w.
func (r *Reader) CopyTo(w io.Writer) (int64, error) {
	return io.Copy(w, io.NewSectionReader(r.data, 0, r.size))
}

// lastByte returns the final byte of the file.
func (r *Reader) lastByte() (byte, error) {
	if r.size == 0 {
		return 0, nil
	}
	var buf [1]byte
	_, err := r.data.ReadAt(buf[:], r.size-1)
	if err != nil && err != io.EOF {
		return 0, err
	}
	return buf[0], nil
}

func (r *Reader) scannerAt(pos int64, getInt func(Object) (Integer, error)) *scanner {
	s := newScanner(io.NewSectionReader(r.data, pos, r.size-pos), getInt)
	s.file = r.data
	s.base = pos
	return s
}

// parseAt reads the indirect object starting at byte offset pos.
func (r *Reader) parseAt(pos int64, getInt func(Object) (Integer, error)) (Object, Reference, error) {
	if pos < 0 || pos >= r.size {
		return nil, 0, &MalformedFileError{
			Pos: pos,
			Err: errors.New("object offset out of range"),
		}
	}
	s := r.scannerAt(pos, getInt)
	return s.ReadIndirectObject()
}

// objStm holds the decoded contents of an object stream.
type objStm struct {
	data    []byte
	numbers []uint32
	offsets []int
}

// decodeObjStm decodes an object stream.  The registry is used to
// resolve indirect filter parameters.
func (r *Reader) decodeObjStm(g Getter, stream *Stream, errPos int64) (*objStm, error) {
	N, ok := stream.Dict["N"].(Integer)
	if !ok || N < 0 || N > 100000 {
		return nil, &MalformedFileError{
			Pos: errPos,
			Err: errors.New("no valid /N for ObjStm"),
		}
	}
	first, ok := stream.Dict["First"].(Integer)
	if !ok || first < 0 {
		return nil, &MalformedFileError{
			Pos: errPos,
			Err: errors.New("no valid /First for ObjStm"),
		}
	}

	decoded, err := DecodeStream(g, stream)
	if err != nil {
		return nil, &MalformedFileError{Pos: errPos, Err: err}
	}
	data, err := io.ReadAll(decoded)
	if err != nil {
		return nil, &MalformedFileError{Pos: errPos, Err: err}
	}
	if int(first) > len(data) {
		return nil, &MalformedFileError{
			Pos: errPos,
			Err: errors.New("ObjStm too short"),
		}
	}

	n := int(N)
	res := &objStm{
		data:    data,
		numbers: make([]uint32, n),
		offsets: make([]int, n),
	}
	s := newScanner(bytes.NewReader(data[:first]), nil)
	for i := range n {
		err := s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}
		no, err := s.ReadInteger()
		if err != nil {
			return nil, &MalformedFileError{Pos: errPos, Err: err}
		}
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}
		offs, err := s.ReadInteger()
		if err != nil {
			return nil, &MalformedFileError{Pos: errPos, Err: err}
		}
		if no < 0 || offs < 0 || int(first)+int(offs) > len(data) {
			return nil, &MalformedFileError{
				Pos: errPos,
				Err: fmt.Errorf("invalid ObjStm index entry %d %d", no, offs),
			}
		}
		res.numbers[i] = uint32(no)
		res.offsets[i] = int(first) + int(offs)
	}
	return res, nil
}

// get returns the object with the given number.  The index from the
// cross-reference table is tried first.
func (stm *objStm) get(number uint32, index int) (Object, error) {
	if index < 0 || index >= len(stm.numbers) || stm.numbers[index] != number {
		index = -1
		for i, no := range stm.numbers {
			if no == number {
				index = i
				break
			}
		}
		if index < 0 {
			return nil, &MalformedFileError{
				Err: fmt.Errorf("object %d missing from object stream", number),
			}
		}
	}

	start := stm.offsets[index]
	end := len(stm.data)
	for _, offs := range stm.offsets {
		if offs > start && offs < end {
			end = offs
		}
	}
	s := newScanner(bytes.NewReader(stm.data[start:end]), nil)
	err := s.SkipWhiteSpace()
	if err != nil {
		return nil, err
	}
	obj, err := s.ReadObject()
	if err != nil {
		return nil, err
	}

	// A lone reference is allowed as the value of an object.
	if a, ok := obj.(Integer); ok {
		err = s.SkipWhiteSpace()
		if err != nil {
			return nil, err
		}
		buf, _ := s.Peek(1)
		if len(buf) > 0 && buf[0] >= '0' && buf[0] <= '9' {
			b, err := s.ReadInteger()
			if err != nil {
				return nil, err
			}
			err = s.SkipWhiteSpace()
			if err != nil {
				return nil, err
			}
			err = s.SkipString("R")
			if err != nil {
				return nil, err
			}
			return makeReference(a, b)
		}
	}
	return obj, nil
}

// members lists the objects stored in the stream.
func (stm *objStm) members() []uint32 {
	return stm.numbers
}
