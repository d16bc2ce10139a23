// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdx

import (
	"strconv"
	"strings"
	"time"
)

// Metadata is the document information extracted from the Info
// dictionary and the catalog.
type Metadata struct {
	Title        string            `json:"title,omitempty"`
	Author       string            `json:"author,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	Keywords     []string          `json:"keywords,omitempty"`
	Creator      string            `json:"creator,omitempty"`
	Producer     string            `json:"producer,omitempty"`
	CreationDate time.Time         `json:"creation_date,omitempty"`
	ModDate      time.Time         `json:"mod_date,omitempty"`
	Trapped      string            `json:"trapped,omitempty"`
	HasXMP       bool              `json:"has_xmp,omitempty"`
	Custom       map[string]string `json:"custom,omitempty"`
}

// Metadata extracts document information. A file without an Info
// dictionary yields a zero Metadata, not an error.
func (d *Document) Metadata() Metadata {
	meta := Metadata{}

	info := d.Trailer().Key("Info")
	if info.Kind() != Null {
		meta.Title = info.Key("Title").Text()
		meta.Author = info.Key("Author").Text()
		meta.Subject = info.Key("Subject").Text()
		meta.Creator = info.Key("Creator").Text()
		meta.Producer = info.Key("Producer").Text()
		meta.Trapped = info.Key("Trapped").Name()

		if kw := info.Key("Keywords").Text(); kw != "" {
			for _, k := range strings.FieldsFunc(kw, func(r rune) bool { return r == ',' || r == ';' }) {
				if k = strings.TrimSpace(k); k != "" {
					meta.Keywords = append(meta.Keywords, k)
				}
			}
		}

		meta.CreationDate = parsePDFDate(info.Key("CreationDate"))
		meta.ModDate = parsePDFDate(info.Key("ModDate"))

		standard := map[string]bool{
			"Title": true, "Author": true, "Subject": true, "Keywords": true,
			"Creator": true, "Producer": true, "CreationDate": true,
			"ModDate": true, "Trapped": true,
		}
		for _, key := range info.Keys() {
			if !standard[key] {
				if meta.Custom == nil {
					meta.Custom = make(map[string]string)
				}
				meta.Custom[key] = info.Key(key).Text()
			}
		}
	}

	if d.Trailer().Key("Root").Key("Metadata").Kind() == Stream {
		meta.HasXMP = true
	}
	return meta
}

// PageCount returns the page count declared by the page tree root, or 0
// when the catalog is missing or damaged.
func (d *Document) PageCount() int {
	return int(d.Trailer().Key("Root").Key("Pages").Key("Count").Int64())
}

// parsePDFDate parses the D:YYYYMMDDHHmmSSOHH'mm' date format. Trailing
// components are optional; a date shorter than D:YYYY is rejected.
func parsePDFDate(v Value) time.Time {
	s := v.RawString()
	s = strings.TrimPrefix(s, "D:")
	if len(s) < 4 {
		return time.Time{}
	}

	read := func(start, width, dflt int) int {
		if len(s) < start+width {
			return dflt
		}
		n, err := strconv.Atoi(s[start : start+width])
		if err != nil {
			return dflt
		}
		return n
	}

	year := read(0, 4, 0)
	if year == 0 {
		return time.Time{}
	}
	month := read(4, 2, 1)
	day := read(6, 2, 1)
	hour := read(8, 2, 0)
	minute := read(10, 2, 0)
	second := read(12, 2, 0)
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}
	}

	loc := time.UTC
	if len(s) > 14 {
		if l := parsePDFTimezone(s[14:]); l != nil {
			loc = l
		}
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc)
}

// parsePDFTimezone parses the O HH'mm' timezone suffix ("Z", "+08'00'").
func parsePDFTimezone(s string) *time.Location {
	if s == "" || s == "Z" {
		return time.UTC
	}
	if len(s) < 3 || (s[0] != '+' && s[0] != '-') {
		return nil
	}
	hours, err := strconv.Atoi(s[1:3])
	if err != nil {
		return nil
	}
	minutes := 0
	if len(s) >= 6 && s[3] == '\'' {
		if m, err := strconv.Atoi(s[4:6]); err == nil {
			minutes = m
		}
	}
	offset := hours*3600 + minutes*60
	if s[0] == '-' {
		offset = -offset
	}
	return time.FixedZone(s, offset)
}
