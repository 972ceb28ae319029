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

// Package pdfcore models a PDF file as a graph of objects connected by
// indirect references, and writes this graph back to a file.
//
// The objects of a document live in a [Registry].  For existing files, a
// [Reader] locates objects using the cross-reference information, and the
// registry loads each object the first time it is resolved:
//
//	r, err := pdfcore.NewReader(file, size, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	reg := pdfcore.NewRegistry(r, nil)
//	catalog, err := pdfcore.GetDict(reg, r.Trailer()["Root"])
//
// A [Writer] serializes the registry.  Depending on the options, the
// output is a new file, a complete rewrite of the source file, or an
// incremental update appended to the source file:
//
//	w, err := pdfcore.NewWriter(out, reg, &pdfcore.WriterOptions{Append: true})
//	...
//	err = w.Close(pdfcore.Dict{"Root": root})
//
// The page tree is maintained by the pagetree package.  Most users will
// want to use the document package, which combines the registry, the page
// tree and the writer into a single editing session.
package pdfcore
