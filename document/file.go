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


package document

import (
	"os"
	"path/filepath"
)

// OpenFile opens the named PDF file read-only.
//
// On Linux and FreeBSD the file is mapped into memory.  The file must not
// be changed while the document is open.
func OpenFile(name string, opt *Options) (*Document, error) {
	src, size, release, err := openSource(name)
	if err != nil {
		return nil, err
	}
	doc, err := Open(src, size, nil, opt)
	if err != nil {
		release()
		return nil, err
	}
	doc.release = append(doc.release, func(error) error {
		return release()
	})
	return doc, nil
}

// CreateFile creates a new PDF file.  The file is written and synced to
// disk when [Document.Close] is called.
func CreateFile(name string, opt *Options) (*Document, error) {
	fd, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	out := &syncedFile{File: fd}
	doc, err := Create(out, opt)
	if err != nil {
		fd.Close()
		return nil, err
	}
	// The writer normally closes the file, except after errors.
	doc.release = append(doc.release, func(error) error {
		return out.Close()
	})
	return doc, nil
}

// UpdateFile opens the named PDF file for editing.  When
// [Document.Close] is called, the changes are written to a temporary file
// in the same directory, which then replaces the original file.  If
// opt.Writer.Append is set, the changes are appended to the original
// contents as an incremental update.
func UpdateFile(name string, opt *Options) (*Document, error) {
	src, size, release, err := openSource(name)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*")
	if err != nil {
		release()
		return nil, err
	}
	abort := func() {
		tmp.Close()
		os.Remove(tmp.Name())
		release()
	}

	doc, err := Open(src, size, &syncedFile{File: tmp}, opt)
	if err != nil {
		abort()
		return nil, err
	}
	doc.release = append(doc.release, func(writeErr error) error {
		if writeErr != nil {
			abort()
			return nil
		}
		err := release()
		if err != nil {
			os.Remove(tmp.Name())
			return err
		}
		if fi, err := os.Stat(name); err == nil {
			_ = os.Chmod(tmp.Name(), fi.Mode().Perm())
		}
		return os.Rename(tmp.Name(), name)
	})
	return doc, nil
}

// syncedFile flushes the file contents to disk before closing.
type syncedFile struct {
	*os.File
	closed bool
}

func (f *syncedFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	err := syncData(f.File)
	if err != nil {
		f.File.Close()
		return err
	}
	return f.File.Close()
}
