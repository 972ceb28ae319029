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
	"strconv"
)

var (
	// ErrCircularReference is reported when resolving an indirect reference
	// runs into a cycle, or when a chain of references exceeds the
	// configured depth.
	ErrCircularReference = errors.New("circular or unbounded reference")

	// ErrFlushed is reported when an object is used after it has been
	// written to the output and dropped from memory.
	ErrFlushed = errors.New("object has been flushed")

	// ErrFlushReading is reported when an object is flushed while it is
	// still being resolved.
	ErrFlushReading = errors.New("cannot flush an object while it is being read")

	// ErrEncrypted is reported when a document uses the security handler.
	ErrEncrypted = errors.New("encrypted documents are not supported")

	errVersion  = errors.New("unsupported PDF version")
	errNoWriter = errors.New("no output attached")
	errClosed   = errors.New("writer is closed")
)

// MalformedFileError indicates that the PDF file could not be parsed.
type MalformedFileError struct {
	Pos int64
	Err error
}

func (err *MalformedFileError) Error() string {
	middle := ""
	if err.Err != nil {
		middle = ": " + err.Err.Error()
	}
	tail := ""
	if err.Pos > 0 {
		tail = " (at byte " + strconv.FormatInt(err.Pos, 10) + ")"
	}
	return "not a valid PDF file" + middle + tail
}

func (err *MalformedFileError) Unwrap() error {
	return err.Err
}

// ReferenceError records which reference caused a resolution failure.
type ReferenceError struct {
	Ref Reference
	Err error
}

func (err *ReferenceError) Error() string {
	return err.Ref.String() + ": " + err.Err.Error()
}

func (err *ReferenceError) Unwrap() error {
	return err.Err
}

// FlushedObjectError is returned when an operation tries to read or modify
// an object which has already been flushed.
type FlushedObjectError struct {
	Ref Reference
	Op  string
}

func (err *FlushedObjectError) Error() string {
	return err.Op + " " + err.Ref.String() + ": " + ErrFlushed.Error()
}

func (err *FlushedObjectError) Unwrap() error {
	return ErrFlushed
}

func isMalformed(err error) bool {
	var e *MalformedFileError
	return errors.As(err, &e)
}
