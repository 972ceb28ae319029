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
	"testing"
)

func TestParseVersion(t *testing.T) {
	for ver := V1_0; ver <= V2_0; ver++ {
		s, err := ver.ToString()
		if err != nil {
			t.Fatal(err)
		}
		parsed, err := ParseVersion(s)
		if err != nil {
			t.Fatal(err)
		}
		if parsed != ver {
			t.Errorf("%q parsed as %d, not %d", s, int(parsed), int(ver))
		}
	}

	for _, bad := range []string{"", "0.9", "1.8", "2.1", "1.10", " 1.7", "1.7\n"} {
		_, err := ParseVersion(bad)
		if !errors.Is(err, errVersion) {
			t.Errorf("%q: expected errVersion, got %v", bad, err)
		}
	}
}

func TestVersionString(t *testing.T) {
	cases := []struct {
		ver  Version
		want string
	}{
		{V1_0, "1.0"},
		{V1_7, "1.7"},
		{V2_0, "2.0"},
		{0, "pdfcore.Version(0)"},
		{V2_0 + 1, "pdfcore.Version(10)"},
	}
	for _, c := range cases {
		if got := c.ver.String(); got != c.want {
			t.Errorf("%d: got %q, want %q", int(c.ver), got, c.want)
		}
	}

	if V1_4.hasCompressedXRef() || !V1_5.hasCompressedXRef() {
		t.Error("wrong cut-off for cross-reference streams")
	}
}
