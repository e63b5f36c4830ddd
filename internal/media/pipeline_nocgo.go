// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !cgo

package media

import "errors"

// ErrCGORequired is returned when graph realization is attempted in a
// build without CGO; the go-gst bindings need it.
var ErrCGORequired = errors.New("media graphs require a CGO build")

// NewGraph always fails without CGO. Components accept a Factory, so
// non-CGO builds and tests run against fakes instead.
func NewGraph(desc Description) (Graph, error) {
	return nil, ErrCGORequired
}
