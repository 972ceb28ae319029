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


// Package document ties the parts of pdfcore together into an editing
// session for a single PDF file.
//
// A [Document] owns the object registry, the page tree and, if the
// document is written, the [pdfcore.Writer].  Documents are created with
// [Create] or [CreateFile], existing files are opened with [Open],
// [OpenFile] or [UpdateFile].  All changes are written when
// [Document.Close] is called.
//
// A Document is not safe for concurrent use.
package document

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/text/language"

	"seehuhn.de/go/pdfcore"
	"seehuhn.de/go/pdfcore/pagetree"
)

// Options control how a document is read and written.
// A nil pointer for any of the fields selects the defaults.
type Options struct {
	Reader   *pdfcore.ReaderOptions
	Writer   *pdfcore.WriterOptions
	PageTree *pagetree.Options
}

// Document is an editing session for a PDF file.
type Document struct {
	// Registry holds the objects of the document.
	Registry *pdfcore.Registry

	// Reader gives access to the source file.  This is nil for new
	// documents.
	Reader *pdfcore.Reader

	// Writer serializes the document.  This is nil for documents opened
	// read-only.
	Writer *pdfcore.Writer

	// Pages is the page tree of the document.
	Pages *pagetree.Tree

	catalog pdfcore.Reference
	info    pdfcore.Reference
	version pdfcore.Version
	log     *slog.Logger

	copiers map[*Document]*pdfcore.Copier
	release []func(writeErr error) error
	closed  bool
}

// Create starts a new, empty document.  The document is written to w
// when [Document.Close] is called.
func Create(w io.Writer, opt *Options) (*Document, error) {
	if opt == nil {
		opt = &Options{}
	}
	reg := pdfcore.NewRegistry(nil, opt.Reader)
	out, err := pdfcore.NewWriter(w, reg, opt.Writer)
	if err != nil {
		return nil, err
	}

	tree, err := pagetree.New(reg, pageTreeOptions(opt))
	if err != nil {
		return nil, err
	}
	catalog, err := reg.MakeIndirect(pdfcore.Dict{
		"Type":  pdfcore.Name("Catalog"),
		"Pages": tree.Root(),
	})
	if err != nil {
		return nil, err
	}

	return &Document{
		Registry: reg,
		Writer:   out,
		Pages:    tree,
		catalog:  catalog,
		version:  out.Version(),
		log:      logger(opt),
	}, nil
}

// Open reads an existing PDF file.
//
// If w is nil, the document is opened read-only.  Otherwise the document
// is written to w when [Document.Close] is called, either as a complete
// rewrite or, if opt.Writer.Append is set, as an incremental update of
// the source file.
func Open(src io.ReaderAt, size int64, w io.Writer, opt *Options) (*Document, error) {
	if opt == nil {
		opt = &Options{}
	}
	log := logger(opt)

	r, err := pdfcore.NewReader(src, size, opt.Reader)
	if err != nil {
		return nil, err
	}
	reg := pdfcore.NewRegistry(r, opt.Reader)

	trailer := r.Trailer()
	catalogRef, ok := trailer["Root"].(pdfcore.Reference)
	if !ok {
		return nil, &pdfcore.MalformedFileError{
			Err: errors.New("document catalog is not an indirect object"),
		}
	}
	catalog, err := pdfcore.GetDict(reg, catalogRef)
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		return nil, &pdfcore.MalformedFileError{
			Err: fmt.Errorf("document catalog %s is missing", catalogRef),
		}
	}
	pagesRef, ok := catalog["Pages"].(pdfcore.Reference)
	if !ok {
		return nil, &pdfcore.MalformedFileError{
			Err: errors.New("page tree root is not an indirect object"),
		}
	}
	tree, err := pagetree.Open(reg, pagesRef, pageTreeOptions(opt))
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Registry: reg,
		Reader:   r,
		Pages:    tree,
		catalog:  catalogRef,
		version:  r.Version(),
		log:      log,
	}
	doc.info, _ = trailer["Info"].(pdfcore.Reference)

	// The catalog can override the version from the file header.
	if name, _ := pdfcore.GetName(reg, catalog["Version"]); name != "" {
		v, err := pdfcore.ParseVersion(string(name))
		if err != nil {
			log.Warn("ignoring invalid catalog version",
				slog.String("version", string(name)))
		} else if v > doc.version {
			log.Debug("catalog overrides header version",
				slog.String("header", doc.version.String()),
				slog.String("catalog", v.String()))
			doc.version = v
		}
	}

	if w != nil {
		wOpt := pdfcore.WriterOptions{}
		if opt.Writer != nil {
			wOpt = *opt.Writer
		}
		if wOpt.Version == 0 && !wOpt.Append {
			wOpt.Version = doc.version
		}
		doc.Writer, err = pdfcore.NewWriter(w, reg, &wOpt)
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func logger(opt *Options) *slog.Logger {
	if opt.Reader != nil && opt.Reader.Logger != nil {
		return opt.Reader.Logger
	}
	return slog.Default()
}

func pageTreeOptions(opt *Options) *pagetree.Options {
	res := pagetree.Options{}
	if opt.PageTree != nil {
		res = *opt.PageTree
	}
	if res.Logger == nil {
		res.Logger = logger(opt)
	}
	return &res
}

// Version returns the PDF version of the document.  For documents read
// from a file, the /Version entry of the catalog takes precedence over
// the file header if it names a later version.
func (doc *Document) Version() pdfcore.Version {
	return doc.version
}

// CatalogRef returns the reference to the document catalog.
func (doc *Document) CatalogRef() pdfcore.Reference {
	return doc.catalog
}

// Catalog returns the document catalog.
//
// Changes to the returned dictionary must be announced using
// [Document.SetCatalog].
func (doc *Document) Catalog() (pdfcore.Dict, error) {
	return pdfcore.GetDict(doc.Registry, doc.catalog)
}

// SetCatalog replaces the document catalog.  The Pages entry is always
// set to the root of the page tree.
func (doc *Document) SetCatalog(catalog pdfcore.Dict) error {
	catalog["Type"] = pdfcore.Name("Catalog")
	catalog["Pages"] = doc.Pages.Root()
	return doc.Registry.Put(doc.catalog, catalog)
}

// Info returns the document information dictionary, or nil if the
// document has none.
func (doc *Document) Info() (pdfcore.Dict, error) {
	if doc.info == 0 {
		return nil, nil
	}
	return pdfcore.GetDict(doc.Registry, doc.info)
}

// SetInfo sets the document information dictionary.
func (doc *Document) SetInfo(info pdfcore.Dict) error {
	if doc.info == 0 {
		ref, err := doc.Registry.MakeIndirect(info)
		if err != nil {
			return err
		}
		doc.info = ref
		return nil
	}
	return doc.Registry.Put(doc.info, info)
}

// ID returns the file identifier of the source file.  The result is nil
// for new documents and for files without an identifier.
func (doc *Document) ID() [][]byte {
	if doc.Reader == nil {
		return nil
	}
	a, _ := pdfcore.GetArray(doc.Registry, doc.Reader.Trailer()["ID"])
	if len(a) != 2 {
		return nil
	}
	var res [][]byte
	for _, obj := range a {
		s, err := pdfcore.GetString(doc.Registry, obj)
		if err != nil || s == nil {
			return nil
		}
		res = append(res, []byte(s))
	}
	return res
}

// Lang returns the natural language of the document, as given by the
// /Lang entry of the catalog.  If the entry is missing, [language.Und] is
// returned.
func (doc *Document) Lang() (language.Tag, error) {
	catalog, err := doc.Catalog()
	if err != nil {
		return language.Und, err
	}
	s, err := pdfcore.GetString(doc.Registry, catalog["Lang"])
	if err != nil || s == nil {
		return language.Und, err
	}
	return language.Parse(s.AsTextString())
}

// SetLang sets the natural language of the document.  If lang is
// [language.Und], the /Lang entry is removed.
func (doc *Document) SetLang(lang language.Tag) error {
	catalog, err := doc.Catalog()
	if err != nil {
		return err
	}
	if lang == language.Und {
		if _, ok := catalog["Lang"]; !ok {
			return nil
		}
		delete(catalog, "Lang")
	} else {
		catalog["Lang"] = pdfcore.TextString(lang.String())
	}
	return doc.Registry.Put(doc.catalog, catalog)
}

// NumObjects returns one more than the highest object number in use.
// New objects are counted even if they are not reachable from the
// catalog.
func (doc *Document) NumObjects() int {
	return doc.Registry.Size()
}

// CopyPage copies page i of src to the end of doc and returns the new
// page.
//
// Inherited attributes are stored in the copied page dictionary, and
// all objects reachable from the page are copied.  Objects shared between
// several copied pages of the same source document are copied only once.
// The source document must not be closed before doc is closed.
func (doc *Document) CopyPage(src *Document, i int) (*pagetree.Page, error) {
	page, err := src.Pages.GetPage(i)
	if err != nil {
		return nil, err
	}
	dict, err := page.Standalone()
	if err != nil {
		return nil, err
	}

	if doc.copiers == nil {
		doc.copiers = make(map[*Document]*pdfcore.Copier)
	}
	c := doc.copiers[src]
	if c == nil {
		c = pdfcore.NewCopier(doc.Registry, src.Registry)
		doc.copiers[src] = c
	}

	// References back to the page, for example from annotations, must
	// point to the copy.
	ref := doc.Registry.Alloc()
	c.Redirect(page.Ref(), ref)
	copied, err := c.CopyDict(dict)
	if err != nil {
		return nil, err
	}
	err = doc.Registry.Put(ref, copied)
	if err != nil {
		return nil, err
	}
	return doc.Pages.Append(ref)
}

// Close ends the session.  If the document has a writer, all changes are
// written to the output.
func (doc *Document) Close() error {
	if doc.closed {
		return errors.New("document already closed")
	}
	doc.closed = true

	var err error
	if doc.Writer != nil {
		trailer := pdfcore.Dict{"Root": doc.catalog}
		if doc.info != 0 {
			trailer["Info"] = doc.info
		}
		err = doc.Writer.Close(trailer)
	}
	for _, fn := range doc.release {
		err2 := fn(err)
		if err == nil {
			err = err2
		}
	}
	return err
}
