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
	"fmt"
	"log/slog"
)

// Getter resolves references to indirect objects.
type Getter interface {
	Resolve(obj Object) (Object, error)
}

// Putter stores indirect objects.
type Putter interface {
	Alloc() Reference
	Put(ref Reference, obj Object) error
}

// Store combines read and write access to the indirect objects of a
// document.  [*Registry] implements this interface.
type Store interface {
	Getter
	Putter
	MakeIndirect(obj Object) (Reference, error)
	Free(ref Reference) error
	IsFlushed(ref Reference) bool
}

var _ Store = (*Registry)(nil)

type logged interface {
	logger() *slog.Logger
}

func (reg *Registry) logger() *slog.Logger {
	return reg.log
}

func resolveAndCast[T Object](r Getter, obj Object) (x T, err error) {
	obj, err = r.Resolve(obj)
	if errors.Is(err, ErrCircularReference) {
		log := slog.Default()
		if l, ok := r.(logged); ok {
			log = l.logger()
		}
		log.Warn("reference cycle replaced by null", slog.Any("err", err))
		return x, nil
	} else if err != nil {
		return x, err
	}

	if obj == nil {
		return x, nil
	}

	x, isCorrectType := obj.(T)
	if isCorrectType {
		return x, nil
	}

	return x, &MalformedFileError{
		Err: fmt.Errorf("expected %T but got %T", x, obj),
	}
}

// Helper functions for getting objects of a specific type.  Each of these
// functions resolves references before converting the object to the
// desired type.  If the object is null, or if resolving runs into a
// reference cycle, the zero value is returned without error.  If the
// object is of the wrong type, an error is returned.
//
// The signature of these functions is
//
//	func GetT(r Getter, obj Object) (x T, err error)
//
// where T is the type of the object to be returned.
var (
	GetArray  = resolveAndCast[Array]
	GetBool   = resolveAndCast[Bool]
	GetDict   = resolveAndCast[Dict]
	GetInt    = resolveAndCast[Integer]
	GetName   = resolveAndCast[Name]
	GetReal   = resolveAndCast[Real]
	GetStream = resolveAndCast[*Stream]
	GetString = resolveAndCast[String]
)

// GetNumber resolves obj and returns its value as a float64.
// Both integers and reals are accepted.
func GetNumber(r Getter, obj Object) (float64, error) {
	obj, err := resolveAndCast[Object](r, obj)
	if err != nil {
		return 0, err
	}
	switch x := obj.(type) {
	case Integer:
		return float64(x), nil
	case Real:
		return float64(x), nil
	case nil:
		return 0, nil
	default:
		return 0, &MalformedFileError{
			Err: fmt.Errorf("expected number but got %T", obj),
		}
	}
}
