// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// PDF version handling and linearization probing.

package pdx

import (
	"fmt"
	"io"
)

// A Version is the format version declared in a file's header.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// knownVersions lists the versions defined by the format. Files declaring
// anything else are still analyzed; the unknown version is just reported.
var knownVersions = []Version{
	{1, 0}, {1, 1}, {1, 2}, {1, 3}, {1, 4}, {1, 5}, {1, 6}, {1, 7},
	{2, 0},
}

// Known reports whether v is a version the format defines.
func (v Version) Known() bool {
	for _, kv := range knownVersions {
		if kv == v {
			return true
		}
	}
	return false
}

// parseVersion extracts the version from a header beginning with the
// %PDF- signature (or PDF- when the leading % was lost).
func parseVersion(data []byte) (Version, error) {
	i := 0
	if len(data) > 0 && data[i] == '%' {
		i++
	}
	if len(data) < i+7 || string(data[i:i+4]) != "PDF-" {
		return Version{}, fmt.Errorf("no version in header")
	}
	i += 4
	if data[i] < '0' || data[i] > '9' || data[i+1] != '.' || data[i+2] < '0' || data[i+2] > '9' {
		return Version{}, fmt.Errorf("malformed version %q", data[i:i+3])
	}
	return Version{Major: int(data[i] - '0'), Minor: int(data[i+2] - '0')}, nil
}

// Linearized reports whether the file carries a linearization dictionary
// as its first object. Linearized ("fast web view") files place the first
// page's data up front; the probe only confirms the marker, it does not
// validate the hint tables.
func (d *Document) Linearized() bool {
	b := newBuffer(io.NewSectionReader(d.f, 0, d.end), 0)
	defer putLexBuffer(b)
	b.allowEOF = true

	tok1 := b.readToken()
	tok2 := b.readToken()
	tok3 := b.readToken()
	if _, ok := tok1.(int64); !ok {
		return false
	}
	if _, ok := tok2.(int64); !ok {
		return false
	}
	if kw, ok := tok3.(keyword); !ok || kw != "obj" {
		return false
	}
	obj := b.readObject()
	hdr, ok := obj.(dict)
	if !ok {
		if strm, sok := obj.(stream); sok {
			hdr = strm.hdr
		} else {
			return false
		}
	}
	_, lin := hdr["Linearized"]
	return lin
}
