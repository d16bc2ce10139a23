// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdx

import (
	"io"
	"reflect"
	"strings"
	"testing"
)

func tokensOf(src string) []token {
	b := newBuffer(strings.NewReader(src), 0)
	defer putLexBuffer(b)
	b.allowEOF = true
	var out []token
	for {
		tok := b.readToken()
		if tok == io.EOF {
			return out
		}
		out = append(out, tok)
	}
}

func TestReadToken(t *testing.T) {
	tests := []struct {
		src  string
		want []token
	}{
		{"true false", []token{true, false}},
		{"0 42 -17 +9", []token{int64(0), int64(42), int64(-17), int64(9)}},
		{"3.14 -.5 4.", []token{3.14, -0.5, 4.0}},
		{"/Name /A#42 /", []token{name("Name"), name("AB"), name("")}},
		{"(hello) (a\\(b\\)c)", []token{"hello", "a(b)c"}},
		{"(octal \\101) (nl\\nend)", []token{"octal A", "nl\nend"}},
		{"(nested (paren) ok)", []token{"nested (paren) ok"}},
		{"<48656C6C6F>", []token{"Hello"}},
		{"<48 65 6C>", []token{"Hel"}},
		{"<484>", []token{"H@"}}, // odd digit padded with zero
		{"<< /K 1 >>", []token{keyword("<<"), name("K"), int64(1), keyword(">>")}},
		{"[ 1 2 ]", []token{keyword("["), int64(1), int64(2), keyword("]")}},
		{"% comment\n42", []token{int64(42)}},
		{"obj endobj stream R", []token{keyword("obj"), keyword("endobj"), keyword("stream"), keyword("R")}},
	}
	for _, tt := range tests {
		if got := tokensOf(tt.src); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("tokensOf(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestReadObject(t *testing.T) {
	tests := []struct {
		src  string
		want object
	}{
		{"null", nil},
		{"true", true},
		{"42", int64(42)},
		{"(str)", "str"},
		{"/N", name("N")},
		{"[1 2 3]", array{int64(1), int64(2), int64(3)}},
		{"<< /A 1 /B (two) >>", dict{"A": int64(1), "B": "two"}},
		{"<< /Nested << /X [4 5] >> >>", dict{"Nested": dict{"X": array{int64(4), int64(5)}}}},
		{"[ /A [ /B ] ]", array{name("A"), array{name("B")}}},
	}
	for _, tt := range tests {
		b := newBuffer(strings.NewReader(tt.src), 0)
		b.allowEOF = true
		got := b.readObject()
		putLexBuffer(b)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("readObject(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestReadObjectIndirect(t *testing.T) {
	b := newBuffer(strings.NewReader("7 0 obj << /K 3 0 R >> endobj"), 0)
	defer putLexBuffer(b)
	b.allowEOF = true
	b.allowObjptr = true

	def, ok := b.readObject().(objdef)
	if !ok {
		t.Fatal("expected objdef")
	}
	if def.ptr != (objptr{7, 0}) {
		t.Errorf("ptr = %v, want {7 0}", def.ptr)
	}
	d, ok := def.obj.(dict)
	if !ok {
		t.Fatalf("object is %T, want dict", def.obj)
	}
	if d["K"] != (objptr{3, 0}) {
		t.Errorf("K = %v, want reference to 3 0", d["K"])
	}
}

func TestReadObjectStream(t *testing.T) {
	b := newBuffer(strings.NewReader("5 0 obj << /Length 4 >> stream\nDATA\nendstream endobj"), 0)
	defer putLexBuffer(b)
	b.allowEOF = true
	b.allowObjptr = true
	b.allowStream = true

	def, ok := b.readObject().(objdef)
	if !ok {
		t.Fatal("expected objdef")
	}
	strm, ok := def.obj.(stream)
	if !ok {
		t.Fatalf("object is %T, want stream", def.obj)
	}
	if strm.hdr["Length"] != int64(4) {
		t.Errorf("Length = %v, want 4", strm.hdr["Length"])
	}
	if want := int64(len("5 0 obj << /Length 4 >> stream\n")); strm.offset != want {
		t.Errorf("stream offset = %d, want %d", strm.offset, want)
	}
}

func TestLexErrorsRecorded(t *testing.T) {
	tests := []struct {
		src  string
		want string // substring of the recorded message
	}{
		{"(never closed", "unterminated string"},
		{"<48ZZ>", "invalid hex pair"},
		{"<< 42 /K >>", "dictionary key is not a name"},
	}
	for _, tt := range tests {
		b := newBuffer(strings.NewReader(tt.src), 0)
		b.allowEOF = true
		b.readObject()
		errs := b.lexErrs
		putLexBuffer(b)
		if len(errs) == 0 {
			t.Errorf("readObject(%q) recorded no lex errors, want %q", tt.src, tt.want)
			continue
		}
		found := false
		for _, e := range errs {
			if strings.Contains(e.msg, tt.want) {
				found = true
			}
		}
		if !found {
			t.Errorf("readObject(%q) errors %v, want one containing %q", tt.src, errs, tt.want)
		}
	}
}

func TestMissingEndobjTolerated(t *testing.T) {
	b := newBuffer(strings.NewReader("1 0 obj (payload) 2 0 obj (next) endobj"), 0)
	defer putLexBuffer(b)
	b.allowEOF = true
	b.allowObjptr = true

	def, ok := b.readObject().(objdef)
	if !ok || def.obj != "payload" {
		t.Fatalf("first object = %#v, want payload objdef", def)
	}
	if len(b.lexErrs) == 0 {
		t.Error("missing endobj not recorded")
	}
	def2, ok := b.readObject().(objdef)
	if !ok || def2.obj != "next" {
		t.Fatalf("second object = %#v, want next objdef", def2)
	}
}
