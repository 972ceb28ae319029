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


//go:build linux || freebsd

package document

import (
	"bytes"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// openSource maps the named file into memory.  Empty files, and files too
// large for the address space, are read through the file descriptor.
func openSource(name string) (io.ReaderAt, int64, func() error, error) {
	fd, err := os.Open(name)
	if err != nil {
		return nil, 0, nil, err
	}
	fi, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, 0, nil, err
	}
	size := fi.Size()
	if size == 0 || int64(int(size)) != size {
		return fd, size, fd.Close, nil
	}

	data, err := unix.Mmap(int(fd.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	fd.Close()
	if err != nil {
		return nil, 0, nil, err
	}
	// Objects are read in xref order, not file order.
	_ = unix.Madvise(data, unix.MADV_RANDOM)

	release := func() error {
		if data == nil {
			return nil
		}
		err := unix.Munmap(data)
		data = nil
		return err
	}
	return bytes.NewReader(data), size, release, nil
}
