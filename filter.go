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
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"seehuhn.de/go/pdfcore/internal/predict"
)

// ErrUnsupportedFilter is returned by [DecodeStream] for filters other
// than FlateDecode.
var ErrUnsupportedFilter = errors.New("unsupported filter")

// filterInfo is one step of the filter pipeline of a stream.
type filterInfo struct {
	Name  Name
	Parms Dict
}

// supported reports whether the filter can be decoded.
func (fi filterInfo) supported() bool {
	if fi.Name != "FlateDecode" && fi.Name != "Fl" {
		return false
	}
	pred := getIntDefault(fi.Parms, "Predictor", 1)
	return pred == 1 || pred >= 10 && pred <= 15
}

// streamFilters returns the filters of a stream, in the order in which
// they have to be applied for decoding.
func streamFilters(r Getter, dict Dict) ([]filterInfo, error) {
	filter, err := resolve(r, dict["Filter"])
	if err != nil {
		return nil, err
	}
	parms, err := resolve(r, dict["DecodeParms"])
	if err != nil {
		return nil, err
	}

	var res []filterInfo
	switch f := filter.(type) {
	case nil:
		return nil, nil
	case Name:
		pDict, err := asDict(r, parms)
		if err != nil {
			return nil, err
		}
		res = append(res, filterInfo{Name: f, Parms: pDict})
	case Array:
		pArray, _ := parms.(Array)
		for i, fi := range f {
			fi, err := resolve(r, fi)
			if err != nil {
				return nil, err
			}
			name, ok := fi.(Name)
			if !ok {
				return nil, fmt.Errorf("invalid filter %s", Format(fi))
			}
			var pDict Dict
			if i < len(pArray) {
				pDict, err = asDict(r, pArray[i])
				if err != nil {
					return nil, err
				}
			}
			res = append(res, filterInfo{Name: name, Parms: pDict})
		}
	default:
		return nil, fmt.Errorf("invalid /Filter %s", Format(filter))
	}
	return res, nil
}

func resolve(r Getter, obj Object) (Object, error) {
	if r == nil {
		if _, isRef := obj.(Reference); isRef {
			return nil, nil
		}
		return obj, nil
	}
	return r.Resolve(obj)
}

func asDict(r Getter, obj Object) (Dict, error) {
	obj, err := resolve(r, obj)
	if err != nil {
		return nil, err
	}
	dict, _ := obj.(Dict)
	return dict, nil
}

// DecodeStream returns a reader for the decoded data of a stream.
// Only the FlateDecode filter is supported, optionally combined with a
// PNG predictor.  References in the filter parameters are resolved
// using r, which can be nil if the parameters are direct objects.
func DecodeStream(r Getter, x *Stream) (io.Reader, error) {
	filters, err := streamFilters(r, x.Dict)
	if err != nil {
		return nil, err
	}

	res := x.data()
	for _, fi := range filters {
		res, err = applyFilter(res, fi)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func applyFilter(r io.Reader, fi filterInfo) (io.Reader, error) {
	switch fi.Name {
	case "FlateDecode", "Fl":
		pred := getIntDefault(fi.Parms, "Predictor", 1)
		if !fi.supported() {
			return nil, fmt.Errorf("%w: predictor %d", ErrUnsupportedFilter, pred)
		}
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, err
		}
		p := &predict.Params{
			Predictor:        pred,
			Colors:           getIntDefault(fi.Parms, "Colors", 1),
			BitsPerComponent: getIntDefault(fi.Parms, "BitsPerComponent", 8),
			Columns:          getIntDefault(fi.Parms, "Columns", 1),
		}
		return predict.NewReader(zr, p)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedFilter, fi.Name)
	}
}

func getIntDefault(dict Dict, key Name, def int) int {
	if x, ok := dict[key].(Integer); ok {
		return int(x)
	}
	return def
}

// encodeFlate compresses data for a FlateDecode stream.
func encodeFlate(data []byte, level CompressionLevel) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw, err := zlib.NewWriterLevel(buf, level.zlibLevel())
	if err != nil {
		return nil, err
	}
	_, err = zw.Write(data)
	if err != nil {
		return nil, err
	}
	err = zw.Close()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeXRefRows compresses the rows of a cross-reference stream using
// the PNG Up predictor.
func encodeXRefRows(rows []byte, rowLen int, level CompressionLevel) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw, err := zlib.NewWriterLevel(buf, level.zlibLevel())
	if err != nil {
		return nil, err
	}
	pw := predict.NewUpWriter(zw, rowLen)
	_, err = pw.Write(rows)
	if err != nil {
		return nil, err
	}
	err = pw.Close()
	if err != nil {
		return nil, err
	}
	err = zw.Close()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
