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
// Package memfile provides an in-memory file.  It is used by tests, and
// for documents which are read and written without touching the disk.
package memfile

import (
	"errors"
	"io"
)

// MemFile is an in-memory file.
//
// This type implements [io.ReadWriteSeeker], [io.ReaderAt] and
// [io.Closer].  Writes after Close fail, reads are still possible.
type MemFile struct {
	// Data are the file contents.
	Data []byte

	// Offset is the current file offset.
	Offset int64

	closed bool
}

// New creates an empty file.
func New() *MemFile {
	return &MemFile{}
}

// FromBytes creates a file with the given contents.  The slice is used
// directly, without copying.
func FromBytes(data []byte) *MemFile {
	return &MemFile{Data: data}
}

// Write writes data at the current offset.  Writing beyond the end of
// the file fills the gap with zeros.
func (f *MemFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, errClosed
	}
	if gap := f.Offset - int64(len(f.Data)); gap > 0 {
		f.Data = append(f.Data, make([]byte, gap)...)
	}

	n := copy(f.Data[f.Offset:], p)
	if n < len(p) {
		f.Data = append(f.Data, p[n:]...)
	}
	f.Offset += int64(len(p))
	return len(p), nil
}

// Read reads data from the current offset.
func (f *MemFile) Read(p []byte) (int, error) {
	if f.Offset >= int64(len(f.Data)) {
		return 0, io.EOF
	}
	n := copy(p, f.Data[f.Offset:])
	f.Offset += int64(n)
	return n, nil
}

// ReadAt reads data from the given offset, without changing the current
// offset.
func (f *MemFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errInvalidOffset
	}
	if off >= int64(len(f.Data)) {
		return 0, io.EOF
	}
	n := copy(p, f.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek sets the offset for the next Read or Write.
func (f *MemFile) Seek(offset int64, whence int) (int64, error) {
	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = f.Offset + offset
	case io.SeekEnd:
		newOffset = int64(len(f.Data)) + offset
	default:
		return 0, errInvalidWhence
	}

	if newOffset < 0 {
		return 0, errInvalidOffset
	}

	f.Offset = newOffset
	return newOffset, nil
}

// Size returns the length of the file.
func (f *MemFile) Size() int64 {
	return int64(len(f.Data))
}

// Close marks the file as closed.  The contents stay available.
func (f *MemFile) Close() error {
	f.closed = true
	return nil
}

// IsClosed reports whether Close has been called.
func (f *MemFile) IsClosed() bool {
	return f.closed
}

var (
	errInvalidWhence = errors.New("invalid whence")
	errInvalidOffset = errors.New("invalid offset")
	errClosed        = errors.New("file is closed")
)
