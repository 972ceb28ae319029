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
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
)

// Close writes all objects which have not been written yet, followed by
// the cross-reference information and the trailer.  The trailer should
// contain the Root entry and optionally Info.  Other trailer entries are
// generated.
//
// In append mode, if nothing has changed since the source file was
// opened, the output is an exact copy of the source file.
//
// If the output implements [io.Closer], it is closed.  If Close fails,
// the contents of the output are undefined.
func (pdf *Writer) Close(trailer Dict) error {
	if pdf.closed {
		return errClosed
	}

	if pdf.mode == ModeAppend && !pdf.started && !pdf.hasChanges() {
		pdf.started = true
		pdf.closed = true
		_, err := pdf.src.CopyTo(pdf.w)
		if err != nil {
			return err
		}
		pdf.log.Debug("no changes, source copied unchanged")
		return pdf.closeOutput()
	}

	err := pdf.start()
	if err != nil {
		return err
	}

	for _, key := range []Name{"Root", "Info"} {
		if ref, ok := trailer[key].(Reference); ok {
			pdf.onRef(ref)
		}
	}
	for _, e := range pdf.reg.entries {
		if e == nil || e.number == 0 || e.IsFree() || e.internal {
			continue
		}
		switch {
		case pdf.mode == ModeAppend && e.fromSource && e.CheckState(StateModified):
			pdf.onRef(e.Reference())
		case pdf.opt.KeepUnused:
			pdf.onRef(e.Reference())
		}
	}

	for len(pdf.queue) > 0 {
		num := pdf.queue[0]
		pdf.queue = pdf.queue[1:]

		e := pdf.reg.entries[num]
		if e.IsFree() || e.out.written || e.CheckState(StateFlushed) {
			e.ClearState(StateMustWrite)
			continue
		}
		err = pdf.flushEntry(e)
		if err != nil {
			return err
		}
	}
	err = pdf.writeBatch()
	if err != nil {
		return err
	}
	pdf.closed = true

	rebuilt := pdf.mode == ModeAppend && pdf.src.XRefRebuilt()
	if rebuilt {
		for _, e := range pdf.reg.entries {
			if e != nil && e.fromSource && e.inStream != 0 {
				pdf.opt.XRefStream = true
				break
			}
		}
	}

	var xrefNum uint32
	if pdf.opt.XRefStream {
		if pdf.mode == ModeAppend {
			xrefNum = pdf.reg.allocInternal().number
		} else {
			xrefNum = pdf.maxWritten() + 1
		}
	}

	var rows []xRefRow
	var size uint32
	if pdf.mode == ModeAppend {
		if xrefNum == 0 {
			size = uint32(pdf.reg.Size())
		} else {
			size = xrefNum + 1
		}
		rows = pdf.appendRows(size, xrefNum, rebuilt)
	} else {
		if xrefNum == 0 {
			size = pdf.maxWritten() + 1
		} else {
			size = xrefNum + 1
		}
		rows = pdf.fullRows(size, xrefNum)
	}
	linkFreeRows(rows)

	t := Dict{
		"Size": Integer(size),
	}
	for _, key := range []Name{"Root", "Info"} {
		if val, ok := trailer[key]; ok {
			t[key] = val
		}
	}
	t["ID"] = pdf.fileID(trailer)
	if pdf.mode == ModeAppend && !rebuilt {
		t["Prev"] = Integer(pdf.src.StartXRef())
	}

	xRefPos := pdf.w.pos
	if pdf.opt.XRefStream {
		err = pdf.writeXRefStream(rows, xrefNum, t)
	} else {
		err = writeXRefTable(pdf.w, rows, t)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(pdf.w, "startxref\n%d\n%%%%EOF\n", xRefPos)
	if err != nil {
		return err
	}

	pdf.log.Debug("document written",
		slog.String("mode", pdf.mode.String()),
		slog.Int64("size", pdf.w.pos),
		slog.Uint64("objects", uint64(size)))

	return pdf.closeOutput()
}

func (pdf *Writer) closeOutput() error {
	if closer, ok := pdf.out.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// hasChanges reports whether any object was added, changed or freed
// since the source file was opened.
func (pdf *Writer) hasChanges() bool {
	if pdf.reg.freedInSession {
		return true
	}
	for _, e := range pdf.reg.entries {
		if e != nil && !e.IsFree() && e.CheckState(StateModified) {
			return true
		}
	}
	return false
}

func (pdf *Writer) maxWritten() uint32 {
	var res uint32
	for _, e := range pdf.reg.entries {
		if e != nil && e.out.written {
			res = max(res, e.number)
		}
	}
	return res
}

func writtenRow(e *Entry) xRefRow {
	if e.out.stream != 0 {
		return xRefRow{number: e.number, tp: 2, f2: uint64(e.out.stream), f3: uint64(e.out.index)}
	}
	return xRefRow{number: e.number, tp: 1, f2: uint64(e.out.pos), f3: uint64(e.gen)}
}

func freeRow(num uint32, e *Entry) xRefRow {
	var gen uint16
	if e != nil {
		gen = e.gen
	}
	return xRefRow{number: num, tp: 0, f3: uint64(gen)}
}

// fullRows lists the cross-reference entries for a complete file.
func (pdf *Writer) fullRows(size, xrefNum uint32) []xRefRow {
	rows := make([]xRefRow, 0, size)
	rows = append(rows, xRefRow{number: 0, tp: 0, f3: 65535})
	for num := uint32(1); num < size; num++ {
		if num == xrefNum {
			continue
		}
		e := pdf.reg.Entry(num)
		if e != nil && e.out.written {
			rows = append(rows, writtenRow(e))
		} else {
			rows = append(rows, freeRow(num, e))
		}
	}
	return rows
}

// appendRows lists the cross-reference entries for an incremental update:
// the objects written in this session, all free entries, and object 0.
// If the source cross-reference information had to be rebuilt, the
// unchanged objects are listed as well, since there is no previous
// section to link to.
func (pdf *Writer) appendRows(size, xrefNum uint32, all bool) []xRefRow {
	rows := []xRefRow{{number: 0, tp: 0, f3: 65535}}
	for num := uint32(1); num < size; num++ {
		if num == xrefNum {
			continue
		}
		e := pdf.reg.Entry(num)
		switch {
		case e != nil && e.out.written:
			rows = append(rows, writtenRow(e))
		case e != nil && e.fromSource && !e.IsFree():
			if !all {
				continue
			}
			if e.inStream != 0 {
				rows = append(rows, xRefRow{number: num, tp: 2, f2: uint64(e.inStream), f3: uint64(e.index)})
			} else {
				rows = append(rows, xRefRow{number: num, tp: 1, f2: uint64(e.pos), f3: uint64(e.gen)})
			}
		default:
			rows = append(rows, freeRow(num, e))
		}
	}
	return rows
}

// linkFreeRows links the free entries into a chain, in increasing order
// of object number, starting at object 0.
func linkFreeRows(rows []xRefRow) {
	sortRows(rows)
	var prev *xRefRow
	for i := range rows {
		if rows[i].tp != 0 {
			continue
		}
		if prev != nil {
			prev.f2 = uint64(rows[i].number)
		}
		prev = &rows[i]
	}
	if prev != nil {
		prev.f2 = 0
	}
}

// fileID returns the file identifier.  The first element is kept from
// the source file, if there is one.  The second element is derived from
// the trailer contents and the file size.
func (pdf *Writer) fileID(trailer Dict) Array {
	if len(pdf.opt.ID) == 2 {
		return Array{String(pdf.opt.ID[0]), String(pdf.opt.ID[1])}
	}

	h := md5.New()
	fmt.Fprintf(h, "%d\n", pdf.w.pos)
	for _, key := range []Name{"Root", "Info"} {
		_ = writeObject(h, trailer[key])
	}

	var first String
	if pdf.src != nil {
		old, _ := GetArray(pdf.reg, pdf.src.Trailer()["ID"])
		if len(old) == 2 {
			first, _ = GetString(pdf.reg, old[0])
			h.Write(first)
		}
	}
	sum := h.Sum(nil)
	if first == nil {
		first = String(sum)
	}
	return Array{first, String(sum)}
}

// writeXRefStream writes the cross-reference stream, which also holds the
// trailer entries.  The stream lists itself as its last entry.
func (pdf *Writer) writeXRefStream(rows []xRefRow, xrefNum uint32, trailer Dict) error {
	pos := pdf.w.pos
	rows = append(rows, xRefRow{number: xrefNum, tp: 1, f2: uint64(pos)})
	sortRows(rows)

	W, index, data := xRefStreamData(rows)
	dict := Dict{
		"Type": Name("XRef"),
		"W":    W,
	}
	for key, val := range trailer {
		dict[key] = val
	}
	if len(index) != 2 || index[0] != Integer(0) || index[1] != trailer["Size"] {
		dict["Index"] = index
	}

	if pdf.opt.Compression != CompressionNone {
		rowLen := 0
		for _, w := range W {
			rowLen += int(w.(Integer))
		}
		compressed, err := encodeXRefRows(data, rowLen, pdf.opt.Compression)
		if err != nil {
			return err
		}
		data = compressed
		dict["Filter"] = Name("FlateDecode")
		dict["DecodeParms"] = Dict{
			"Predictor": Integer(12),
			"Columns":   Integer(rowLen),
		}
	}
	dict["Length"] = Integer(len(data))

	stm := &Stream{Dict: dict, R: bytes.NewReader(data)}
	return pdf.writeIndirect(NewReference(xrefNum, 0), stm)
}
