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

	"golang.org/x/text/encoding/unicode"
)

var (
	utf16BE = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)
	utf8BOM = []byte{0xEF, 0xBB, 0xBF}
)

// AsTextString interprets x as a PDF "text string" and returns
// the corresponding utf-8 encoded string.
func (x String) AsTextString() string {
	switch {
	case len(x) >= 2 && x[0] == 0xFE && x[1] == 0xFF:
		res, err := utf16BE.NewDecoder().Bytes(x)
		if err == nil {
			return string(res)
		}
	case bytes.HasPrefix(x, utf8BOM):
		return string(x[3:])
	}
	return pdfDocDecode(x)
}

// TextString creates a String object using the "text string" encoding,
// i.e. using either UTF-16BE encoding (with a BOM) or PdfDocEncoding.
func TextString(s string) String {
	if buf, ok := pdfDocEncode(s); ok {
		return buf
	}
	res, err := utf16BE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// invalid utf-8 in s
		return String(s)
	}
	return String(res)
}

func pdfDocDecode(s String) string {
	plain := true
	for _, c := range s {
		if c >= 0x80 || pdfDocRunes[c] != rune(c) {
			plain = false
			break
		}
	}
	if plain {
		return string(s)
	}

	r := make([]rune, len(s))
	for i, c := range s {
		r[i] = pdfDocRunes[c]
	}
	return string(r)
}

func pdfDocEncode(s string) (String, bool) {
	res := make([]byte, 0, len(s))
	for _, r := range s {
		c, ok := pdfDocBytes[r]
		if !ok {
			return nil, false
		}
		res = append(res, c)
	}
	return res, true
}

// pdfDocRunes maps PDFDocEncoding bytes to unicode.  Undefined codes map
// to U+FFFD.
var pdfDocRunes [256]rune

var pdfDocBytes map[rune]byte

func init() {
	for i := range pdfDocRunes {
		pdfDocRunes[i] = rune(i)
	}
	for i := 0x18; i < 0x20; i++ {
		pdfDocRunes[i] = []rune("˘ˇˆ˙˝˛˚˜")[i-0x18]
	}
	high := []rune("•†‡…—–ƒ⁄‹›−‰„“”‘’‚™ﬁﬂŁŒŠŸŽıłœšž�€")
	for i, r := range high {
		pdfDocRunes[0x80+i] = r
	}
	pdfDocRunes[0x7F] = 0xFFFD
	pdfDocRunes[0xAD] = 0xFFFD

	pdfDocBytes = make(map[rune]byte, 256)
	for i, r := range pdfDocRunes {
		if r == 0xFFFD {
			continue
		}
		if i < 0x20 && i != '\t' && i != '\n' && i != '\r' && i < 0x18 {
			continue
		}
		pdfDocBytes[r] = byte(i)
	}
}
