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

	"golang.org/x/exp/maps"
)

// WriteMode describes how the output file relates to the source file.
type WriteMode int

// These are the possible write modes.
const (
	// ModeNewFile writes a document which has no source file.
	ModeNewFile WriteMode = iota

	// ModeFullRewrite writes all reachable objects of the source file to
	// a new file.  Object numbers are kept.
	ModeFullRewrite

	// ModeAppend copies the source file and appends an incremental
	// update.
	ModeAppend
)

func (m WriteMode) String() string {
	switch m {
	case ModeNewFile:
		return "new file"
	case ModeFullRewrite:
		return "full rewrite"
	case ModeAppend:
		return "append"
	default:
		return fmt.Sprintf("pdfcore.WriteMode(%d)", int(m))
	}
}

// objStmSize is the maximal number of objects in one object stream.
const objStmSize = 100

// Writer serializes the objects of a [Registry].
//
// Objects can be written early using [Registry.Flush].  All remaining
// objects are written when [Writer.Close] is called.
type Writer struct {
	w    *posWriter
	out  io.Writer
	reg  *Registry
	src  *Reader
	opt  WriterOptions
	mode WriteMode
	log  *slog.Logger

	version Version
	started bool
	closed  bool

	queue []uint32

	// objects collected for the next object stream
	batch    *Entry
	batchBuf *bytes.Buffer
	batchIdx []batchItem
}

type batchItem struct {
	number uint32
	offset int
}

// NewWriter attaches a writer to reg.  The output goes to w.  If reg has
// a source file, the file is either rewritten or, if opt.Append is set,
// extended by an incremental update.
func NewWriter(w io.Writer, reg *Registry, opt *WriterOptions) (*Writer, error) {
	if opt == nil {
		opt = &WriterOptions{}
	}
	if reg.w != nil {
		return nil, errors.New("registry already has a writer")
	}

	pdf := &Writer{
		out: w,
		reg: reg,
		src: reg.src,
		opt: *opt,
		log: opt.Logger,
	}
	if pdf.log == nil {
		pdf.log = reg.log
	}
	pdf.w = &posWriter{w: w, onRef: pdf.onRef}

	switch {
	case reg.src == nil && opt.Append:
		return nil, errors.New("append mode needs a source file")
	case reg.src == nil:
		pdf.mode = ModeNewFile
	case opt.Append:
		pdf.mode = ModeAppend
	default:
		pdf.mode = ModeFullRewrite
	}

	if pdf.opt.FullCompression {
		pdf.opt.XRefStream = true
	}
	if pdf.mode == ModeAppend && reg.src.UsesXRefStream() {
		pdf.opt.XRefStream = true
	}
	if pdf.opt.Compression == CompressionInherit {
		pdf.opt.Compression = CompressionDefault
	}

	ver := pdf.opt.Version
	if ver == 0 {
		if reg.src != nil {
			ver = reg.src.Version()
		} else {
			ver = V1_7
		}
	}
	if pdf.opt.XRefStream && !ver.hasCompressedXRef() && pdf.mode != ModeAppend {
		ver = V1_5
	}
	if _, err := ver.ToString(); err != nil {
		return nil, err
	}
	pdf.version = ver

	reg.w = pdf
	return pdf, nil
}

// Mode returns the write mode.
func (pdf *Writer) Mode() WriteMode {
	return pdf.mode
}

// Version returns the PDF version of the output.
func (pdf *Writer) Version() Version {
	return pdf.version
}

func (pdf *Writer) reuseFree() bool {
	return pdf.opt.ReuseFreeNumbers && pdf.mode != ModeAppend
}

// start writes the beginning of the output file: either the PDF header,
// or a copy of the source file in append mode.
func (pdf *Writer) start() error {
	if pdf.started {
		return nil
	}
	pdf.started = true

	if pdf.mode == ModeAppend {
		_, err := pdf.src.CopyTo(pdf.w)
		if err != nil {
			return err
		}
		last, err := pdf.src.lastByte()
		if err != nil {
			return err
		}
		if last != '\n' && last != '\r' {
			_, err = io.WriteString(pdf.w, "\n")
		}
		return err
	}

	verString, err := pdf.version.ToString()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(pdf.w, "%%PDF-%s\n%%\x80\x80\x80\x80\n", verString)
	return err
}

// onRef is called for every reference written to the output.  It
// schedules the target object for writing and reports whether the
// reference points to an object which will be present in the file.
func (pdf *Writer) onRef(ref Reference) bool {
	e := pdf.reg.lookup(ref)
	if e == nil || e.internal {
		pdf.log.Debug("reference to missing object written as null",
			slog.String("ref", ref.String()))
		return false
	}
	if e.out.written || e.CheckState(StateFlushed) || e.CheckState(StateMustWrite) {
		return true
	}
	if pdf.mode == ModeAppend && e.fromSource && !e.CheckState(StateModified) {
		return true
	}
	e.SetState(StateMustWrite)
	pdf.queue = append(pdf.queue, e.number)
	return true
}

// flushEntry writes e to the output and drops the in-memory copy.
func (pdf *Writer) flushEntry(e *Entry) error {
	if pdf.closed {
		return errClosed
	}
	err := pdf.start()
	if err != nil {
		return err
	}

	if pdf.mode == ModeAppend && e.fromSource && !e.CheckState(StateModified) {
		// The object is unchanged and stays at its old location.
		pdf.drop(e)
		return nil
	}

	if e.kind == KindOnDisk {
		e.SetState(StateReading)
		err := pdf.reg.load(e)
		e.ClearState(StateReading)
		if err != nil {
			return err
		}
	}
	obj := e.obj

	if stm, isStream := obj.(*Stream); isStream {
		obj, err = pdf.prepareStream(stm)
		if err != nil {
			return err
		}
	} else if pdf.opt.FullCompression && e.gen == 0 {
		err = pdf.addToBatch(e, obj)
		if err != nil {
			return err
		}
		pdf.drop(e)
		return nil
	}

	pos := pdf.w.pos
	err = pdf.writeIndirect(e.Reference(), obj)
	if err != nil {
		return err
	}
	e.out = outLocation{written: true, pos: pos}
	pdf.drop(e)
	return nil
}

// drop marks e as flushed and releases the in-memory copy.
func (pdf *Writer) drop(e *Entry) {
	pdf.reg.forget(e)
	e.obj = nil
	e.kind = KindMaterialized
	e.ClearState(StateMustWrite)
	e.SetState(StateFlushed)
}

func (pdf *Writer) writeIndirect(ref Reference, obj Object) error {
	_, err := fmt.Fprintf(pdf.w, "%d %d obj\n", ref.Number(), ref.Generation())
	if err != nil {
		return err
	}
	err = writeObject(pdf.w, obj)
	if err != nil {
		return err
	}
	_, err = io.WriteString(pdf.w, "\nendobj\n")
	return err
}

// prepareStream returns a copy of stm with the stream data in its final,
// encoded form and with a direct Length entry.
func (pdf *Writer) prepareStream(stm *Stream) (*Stream, error) {
	level := stm.Compression
	if level == CompressionInherit {
		level = pdf.opt.Compression
	}

	dict := maps.Clone(stm.Dict)
	if dict == nil {
		dict = Dict{}
	}

	filters, err := streamFilters(pdf.reg, dict)
	if err != nil {
		return nil, err
	}
	canDecode := len(filters) > 0
	for _, fi := range filters {
		if !fi.supported() {
			canDecode = false
		}
	}

	if len(filters) > 0 && !(pdf.opt.Recompress && canDecode) {
		// pass through the data unchanged
		if stm.isRaw() {
			dict["Length"] = Integer(stm.raw.Size())
			return &Stream{Dict: dict, R: stm.data()}, nil
		}
		data, err := io.ReadAll(stm.data())
		if err != nil {
			return nil, err
		}
		dict["Length"] = Integer(len(data))
		return &Stream{Dict: dict, R: bytes.NewReader(data)}, nil
	}

	var plain []byte
	if len(filters) > 0 {
		r, err := DecodeStream(pdf.reg, stm)
		if err != nil {
			return nil, err
		}
		plain, err = io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		delete(dict, "Filter")
		delete(dict, "DecodeParms")
	} else if stm.isRaw() && (level == CompressionNone || !pdf.opt.Recompress) {
		dict["Length"] = Integer(stm.raw.Size())
		return &Stream{Dict: dict, R: stm.data()}, nil
	} else {
		plain, err = io.ReadAll(stm.data())
		if err != nil {
			return nil, err
		}
	}

	data := plain
	if level != CompressionNone {
		data, err = encodeFlate(plain, level)
		if err != nil {
			return nil, err
		}
		dict["Filter"] = Name("FlateDecode")
	}
	dict["Length"] = Integer(len(data))
	return &Stream{Dict: dict, R: bytes.NewReader(data)}, nil
}

// addToBatch serializes obj into the current object stream.
func (pdf *Writer) addToBatch(e *Entry, obj Object) error {
	if pdf.batch == nil {
		pdf.batch = pdf.reg.allocInternal()
		pdf.batchBuf = &bytes.Buffer{}
		pdf.batchIdx = pdf.batchIdx[:0]
	}

	offset := pdf.batchBuf.Len()
	pw := &posWriter{w: pdf.batchBuf, onRef: pdf.onRef}
	err := writeObject(pw, obj)
	if err != nil {
		return err
	}
	pdf.batchBuf.WriteByte('\n')

	e.out = outLocation{
		written: true,
		stream:  pdf.batch.number,
		index:   len(pdf.batchIdx),
	}
	pdf.batchIdx = append(pdf.batchIdx, batchItem{number: e.number, offset: offset})

	if len(pdf.batchIdx) >= objStmSize {
		return pdf.writeBatch()
	}
	return nil
}

// writeBatch writes the current object stream to the output.
func (pdf *Writer) writeBatch() error {
	if pdf.batch == nil {
		return nil
	}

	head := &bytes.Buffer{}
	for i, item := range pdf.batchIdx {
		if i > 0 {
			head.WriteByte(' ')
		}
		fmt.Fprintf(head, "%d %d", item.number, item.offset)
	}
	head.WriteByte('\n')

	stm := &Stream{
		Dict: Dict{
			"Type":  Name("ObjStm"),
			"N":     Integer(len(pdf.batchIdx)),
			"First": Integer(head.Len()),
		},
		R: io.MultiReader(head, pdf.batchBuf),
	}
	prepared, err := pdf.prepareStream(stm)
	if err != nil {
		return err
	}

	e := pdf.batch
	pos := pdf.w.pos
	err = pdf.writeIndirect(e.Reference(), prepared)
	if err != nil {
		return err
	}
	e.out = outLocation{written: true, pos: pos}
	e.SetState(StateFlushed)

	pdf.batch = nil
	pdf.batchBuf = nil
	return nil
}

// posWriter keeps track of the number of bytes written.  If onRef is
// set, it is called for every reference written.
type posWriter struct {
	w     io.Writer
	pos   int64
	onRef func(Reference) bool
}

func (w *posWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.pos += int64(n)
	return n, err
}
