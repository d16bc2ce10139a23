// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Decoding of PDF "text strings": UTF-16 with a byte order mark, or
// PDFDocEncoding otherwise.

package pdx

import (
	"strings"

	"golang.org/x/text/encoding/unicode"
)

var (
	utf16be = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
)

// isUTF16 reports whether s starts with a UTF-16 byte order mark.
func isUTF16(s string) bool {
	return len(s) >= 2 && (s[0] == 0xfe && s[1] == 0xff || s[0] == 0xff && s[1] == 0xfe)
}

// utf16Decode decodes UTF-16 text whose byte order mark has already been
// stripped. Big-endian is the PDF default; little-endian input is detected
// by its reversed surrogate layout being invalid and falls back unchanged.
func utf16Decode(s string) string {
	out, err := utf16be.String(s)
	if err != nil {
		return s
	}
	return out
}

// textDecode decodes a full PDF text string, honoring a leading byte order
// mark when present and assuming PDFDocEncoding otherwise.
func textDecode(s string) string {
	switch {
	case strings.HasPrefix(s, "\xfe\xff"):
		if out, err := utf16be.String(s[2:]); err == nil {
			return out
		}
	case strings.HasPrefix(s, "\xff\xfe"):
		if out, err := utf16le.String(s[2:]); err == nil {
			return out
		}
	}
	return pdfDocDecode(s)
}

// pdfDocReplacement maps the PDFDocEncoding code points that differ from
// Unicode. Zero entries are invalid in PDFDocEncoding.
var pdfDocReplacement = map[byte]rune{
	0x18: '˘', // breve
	0x19: 'ˇ', // caron
	0x1a: 'ˆ', // circumflex
	0x1b: '˙', // dot above
	0x1c: '˝', // double acute
	0x1d: '˛', // ogonek
	0x1e: '˚', // ring above
	0x1f: '˜', // small tilde
	0x80: '•', // bullet
	0x81: '†', // dagger
	0x82: '‡', // double dagger
	0x83: '…', // ellipsis
	0x84: '—', // em dash
	0x85: '–', // en dash
	0x86: 'ƒ',
	0x87: '⁄',
	0x88: '‹',
	0x89: '›',
	0x8a: '−',
	0x8b: '‰',
	0x8c: '„',
	0x8d: '“',
	0x8e: '”',
	0x8f: '‘',
	0x90: '’',
	0x91: '‚',
	0x92: '™',
	0x93: 'ﬁ',
	0x94: 'ﬂ',
	0x95: 'Ł',
	0x96: 'Œ',
	0x97: 'Š',
	0x98: 'Ÿ',
	0x99: 'Ž',
	0x9a: 'ı',
	0x9b: 'ł',
	0x9c: 'œ',
	0x9d: 'š',
	0x9e: 'ž',
	0xa0: '€', // euro
}

// isPDFDocEncoded reports whether s holds bytes that need PDFDocEncoding
// translation (as opposed to being plain ASCII or UTF-16).
func isPDFDocEncoded(s string) bool {
	if isUTF16(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if _, ok := pdfDocReplacement[c]; ok {
			return true
		}
	}
	return false
}

// pdfDocDecode converts a PDFDocEncoding string to UTF-8.
func pdfDocDecode(s string) string {
	changed := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x80 || pdfDocReplacement[c] != 0 {
			changed = true
			break
		}
	}
	if !changed {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if r, ok := pdfDocReplacement[c]; ok {
			b.WriteRune(r)
			continue
		}
		// Remaining bytes match ISO Latin-1.
		b.WriteRune(rune(c))
	}
	return b.String()
}
