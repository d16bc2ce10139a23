// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdx

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"sort"
	"testing"
)

// pdfBuilder assembles small well-formed PDF files for tests. Object
// offsets are recorded as objects are written so the cross-reference
// table comes out correct.
type pdfBuilder struct {
	buf     bytes.Buffer
	offsets map[int]int64
}

func newPDF(version string) *pdfBuilder {
	b := &pdfBuilder{offsets: make(map[int]int64)}
	fmt.Fprintf(&b.buf, "%%PDF-%s\n%%\xe2\xe3\xcf\xd3\n", version)
	return b
}

func (b *pdfBuilder) add(id int, body string) {
	b.offsets[id] = int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", id, body)
}

func (b *pdfBuilder) addStream(id int, hdr string, data []byte) {
	b.offsets[id] = int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nstream\n", id, hdr)
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
}

// writeXref emits a cross-reference table covering object 0 and every
// object in offsets, and returns the table's byte offset.
func (b *pdfBuilder) writeXref(offsets map[int]int64) int64 {
	xrefOff := int64(b.buf.Len())
	ids := make([]int, 0, len(offsets))
	for id := range offsets {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	b.buf.WriteString("xref\n")
	fmt.Fprintf(&b.buf, "0 1\n%010d %05d f \n", 0, 65535)
	// One subsection per contiguous run.
	for i := 0; i < len(ids); {
		j := i
		for j+1 < len(ids) && ids[j+1] == ids[j]+1 {
			j++
		}
		fmt.Fprintf(&b.buf, "%d %d\n", ids[i], j-i+1)
		for _, id := range ids[i : j+1] {
			fmt.Fprintf(&b.buf, "%010d %05d n \n", offsets[id], 0)
		}
		i = j + 1
	}
	return xrefOff
}

// writeTrailer emits the trailer dictionary, startxref, and %%EOF.
func (b *pdfBuilder) writeTrailer(trailer string, xrefOff int64) {
	fmt.Fprintf(&b.buf, "trailer\n%s\nstartxref\n%d\n%%%%EOF\n", trailer, xrefOff)
}

// finish writes an xref over every added object plus a standard trailer
// with the given root, and returns the file bytes.
func (b *pdfBuilder) finish(root int) []byte {
	return b.finishTrailer(fmt.Sprintf("<< /Size %d /Root %d 0 R >>", b.size(), root))
}

func (b *pdfBuilder) finishTrailer(trailer string) []byte {
	xrefOff := b.writeXref(b.offsets)
	b.writeTrailer(trailer, xrefOff)
	return b.buf.Bytes()
}

func (b *pdfBuilder) size() int {
	max := 0
	for id := range b.offsets {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// minimalPDF is a one-page document with an Info dictionary.
func minimalPDF() []byte {
	b := newPDF("1.4")
	b.add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>")
	content := "BT /F1 12 Tf 72 720 Td (Hello world) Tj ET"
	b.addStream(4, fmt.Sprintf("<< /Length %d >>", len(content)), []byte(content))
	b.add(5, "<< /Title (Test Document) /Author (Jane Roe) /Producer (pdx-test) >>")
	xrefOff := b.writeXref(b.offsets)
	b.writeTrailer(fmt.Sprintf("<< /Size %d /Root 1 0 R /Info 5 0 R >>", b.size()), xrefOff)
	return b.buf.Bytes()
}

func openBytes(t *testing.T, data []byte, opts *Options) *Document {
	t.Helper()
	d, err := NewDocument(bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		t.Fatalf("NewDocument: %v", err)
	}
	return d
}

func flateCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("compress close: %v", err)
	}
	return buf.Bytes()
}

func hasAnomaly(anoms []Anomaly, code AnomalyCode) bool {
	for _, a := range anoms {
		if a.Code == code {
			return true
		}
	}
	return false
}

func countAnomalies(anoms []Anomaly, code AnomalyCode) int {
	n := 0
	for _, a := range anoms {
		if a.Code == code {
			n++
		}
	}
	return n
}
