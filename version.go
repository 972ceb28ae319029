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
	"fmt"
	"strconv"

	"golang.org/x/exp/slices"
)

// Version is the version of the PDF format used by a file.
type Version int

// PDF versions supported by this library.
const (
	_ Version = iota
	V1_0
	V1_1
	V1_2
	V1_3
	V1_4
	V1_5
	V1_6
	V1_7
	V2_0
)

// versionNames holds the header strings, indexed by Version.
var versionNames = []string{"", "1.0", "1.1", "1.2", "1.3", "1.4", "1.5", "1.6", "1.7", "2.0"}

// ParseVersion parses a version string like "1.7", as found in the file
// header or in the /Version entry of the document catalog.
func ParseVersion(verString string) (Version, error) {
	idx := slices.Index(versionNames, verString)
	if idx <= 0 {
		return 0, fmt.Errorf("%q: %w", verString, errVersion)
	}
	return Version(idx), nil
}

// ToString returns the string representation of ver, e.g. "1.7".
// If ver does not correspond to a supported PDF version, an error is
// returned.
func (ver Version) ToString() (string, error) {
	if ver <= 0 || int(ver) >= len(versionNames) {
		return "", errVersion
	}
	return versionNames[ver], nil
}

func (ver Version) String() string {
	s, err := ver.ToString()
	if err != nil {
		return "pdfcore.Version(" + strconv.Itoa(int(ver)) + ")"
	}
	return s
}

// hasCompressedXRef reports whether ver allows cross-reference streams and
// object streams.
func (ver Version) hasCompressedXRef() bool {
	return ver >= V1_5
}
