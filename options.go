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
	"compress/zlib"
	"log/slog"
)

// DefaultMaxIndirection is the default limit for the length of reference
// chains, see [ReaderOptions.MaxIndirection].
const DefaultMaxIndirection = 1024

const defaultObjStmCacheSize = 16

// ReaderOptions control how a PDF file is read.
type ReaderOptions struct {
	// Logger receives messages about recoverable problems in the input.
	// If this is nil, [slog.Default] is used.
	Logger *slog.Logger

	// MaxIndirection is the maximal number of references followed when
	// resolving a single object.  Zero means [DefaultMaxIndirection].
	MaxIndirection int

	// ObjStmCacheSize is the number of decoded object streams kept in
	// memory.  Zero selects a small default.
	ObjStmCacheSize int
}

func (opt *ReaderOptions) logger() *slog.Logger {
	if opt != nil && opt.Logger != nil {
		return opt.Logger
	}
	return slog.Default()
}

// CompressionLevel selects how stream data is compressed when written.
type CompressionLevel int

// Compression levels.  CompressionInherit, the zero value, means "use the
// level configured one level up": a stream inherits the document level, and
// a document defaults to CompressionDefault.
const (
	CompressionInherit CompressionLevel = iota
	CompressionNone
	CompressionSpeed
	CompressionDefault
	CompressionBest
)

func (c CompressionLevel) zlibLevel() int {
	switch c {
	case CompressionSpeed:
		return zlib.BestSpeed
	case CompressionBest:
		return zlib.BestCompression
	default:
		return zlib.DefaultCompression
	}
}

// WriterOptions control how a document is written.
type WriterOptions struct {
	// Version is the PDF version of the output.  If this is zero, the
	// version of the source file is kept, or PDF 1.7 is used for new files.
	Version Version

	// ID, if set, is used as the file identifier.  It must contain two
	// byte strings.  Otherwise an identifier is generated.
	ID [][]byte

	// Compression is the document-wide compression level for streams.
	Compression CompressionLevel

	// FullCompression packs non-stream objects into object streams.  This
	// implies XRefStream.
	FullCompression bool

	// XRefStream selects a cross-reference stream instead of a classic
	// cross-reference table.
	XRefStream bool

	// Append selects an incremental update: the source file is copied
	// unchanged and only new and modified objects are appended.
	Append bool

	// KeepUnused writes objects which are not reachable from the
	// document catalog or the information dictionary.
	KeepUnused bool

	// ReuseFreeNumbers allows new objects to take over the numbers of
	// freed objects.  This is never done in append mode.
	ReuseFreeNumbers bool

	// Recompress decodes and re-encodes streams which are already
	// compressed.  By default such streams are copied unchanged.
	Recompress bool

	// Logger receives diagnostic messages.  If this is nil,
	// [slog.Default] is used.
	Logger *slog.Logger
}
