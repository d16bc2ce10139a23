// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Recovery of cross-reference data from damaged files: locating
// misplaced xref sections, rebuilding the table by scanning for object
// definitions, and recovering or synthesizing a trailer.

package pdx

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxRecoveryRead caps how much of a file is loaded for whole-file
// recovery scans.
const maxRecoveryRead = 200 << 20

// recoverXref runs the recovery strategy chain after the normal
// startxref path failed. Each successful strategy leaves an anomaly
// describing how far the file had deviated from its declared structure.
func (d *Document) recoverXref(cause error) error {
	d.opts.Sink.Debugf("xref recovery: %v", cause)
	d.opts.Sink.Stage("xref-recovery")

	if d.end > maxRecoveryRead {
		return wrapError("recover", fmt.Errorf("%w: file too large to recover", ErrCrossReference))
	}
	data := make([]byte, d.end)
	if _, err := d.f.ReadAt(data, 0); err != nil && err != io.EOF {
		return wrapError("recover", err)
	}

	// Discard any partial audit state from the failed primary attempt.
	d.revisions = nil
	d.shadows = make(map[uint32]shadowInfo)

	if err := d.searchXref(data); err == nil {
		d.anomalies.add(AnomalyStartxrefFallback, SeveritySuspicious, ObjectID{},
			"cross-reference data located by whole-file search: %v", cause)
		return nil
	}

	if err := d.rebuildXref(data); err == nil {
		d.rebuilt = true
		d.anomalies.add(AnomalyXrefReconstructed, SeveritySuspicious, ObjectID{},
			"cross-reference table rebuilt by scanning for object definitions: %v", cause)
		return nil
	}

	return wrapError("recover", fmt.Errorf("%w: all recovery strategies failed: %v", ErrCrossReference, cause))
}

// searchXref looks for the last cross-reference stream or table anywhere
// in the file, for files whose startxref points at garbage.
func (d *Document) searchXref(data []byte) error {
	if err := d.searchXrefStream(data); err == nil {
		return nil
	}
	return d.searchXrefTable(data)
}

// findXrefStreamPositions returns every position of a /Type ... /XRef
// marker, tolerating arbitrary whitespace between the two names.
func findXrefStreamPositions(data []byte) []int {
	var positions []int
	const needle = "/Type"
	start := 0
	for {
		idx := bytes.Index(data[start:], []byte(needle))
		if idx < 0 {
			break
		}
		idx += start
		j := idx + len(needle)
		for j < len(data) && isSpace(data[j]) {
			j++
		}
		if j < len(data) && bytes.HasPrefix(data[j:], []byte("/XRef")) {
			positions = append(positions, idx)
		}
		start = idx + 1
	}
	return positions
}

func (d *Document) searchXrefStream(data []byte) error {
	positions := findXrefStreamPositions(data)
	if len(positions) == 0 {
		return fmt.Errorf("no xref stream marker found")
	}

	var lastErr error
	for i := len(positions) - 1; i >= 0; i-- {
		objStart := findObjectStart(data, positions[i])
		if objStart < 0 {
			lastErr = fmt.Errorf("no object definition before xref stream marker")
			continue
		}
		d.revisions = nil
		d.shadows = make(map[uint32]shadowInfo)
		b := newBuffer(io.NewSectionReader(d.f, int64(objStart), d.end-int64(objStart)), int64(objStart))
		table, trailerptr, trailer, err := readXrefStream(d, b, int64(objStart))
		putLexBuffer(b)
		if err != nil {
			lastErr = err
			continue
		}
		d.xref = table
		d.trailer = trailer
		d.trailerptr = trailerptr
		return nil
	}
	return lastErr
}

func (d *Document) searchXrefTable(data []byte) error {
	patterns := [][]byte{
		[]byte("\nxref\n"),
		[]byte("\nxref\r"),
		[]byte("\rxref\n"),
		[]byte("\rxref\r"),
	}
	lastMatch := -1
	for _, pattern := range patterns {
		if idx := lastIndex(data, pattern); idx > lastMatch {
			lastMatch = idx
		}
	}
	if lastMatch < 0 {
		return fmt.Errorf("no xref table found")
	}

	xrefStart := int64(lastMatch + 1)
	b := newBuffer(io.NewSectionReader(d.f, xrefStart, d.end-xrefStart), xrefStart)
	if tok := b.readToken(); tok != keyword("xref") {
		putLexBuffer(b)
		return fmt.Errorf("expected xref keyword at offset %d, got %v", xrefStart, tok)
	}
	table, trailerptr, trailer, err := readXrefTable(d, b, xrefStart)
	putLexBuffer(b)
	if err != nil {
		return err
	}
	d.xref = table
	d.trailer = trailer
	d.trailerptr = trailerptr
	return nil
}

// findObjectStart searches backward from pos for the start of the
// enclosing "N G obj" line. Returns -1 when none is found nearby.
func findObjectStart(data []byte, pos int) int {
	searchStart := pos - 2048
	if searchStart < 0 {
		searchStart = 0
	}
	area := data[searchStart:pos]

	best := -1
	for _, p := range [][]byte{[]byte(" obj"), []byte("\nobj"), []byte("\robj")} {
		if idx := lastIndex(area, p); idx > best {
			best = idx
		}
	}
	if best < 0 {
		return -1
	}
	lineStart := best
	for lineStart > 0 && area[lineStart-1] != '\n' && area[lineStart-1] != '\r' {
		lineStart--
	}
	for lineStart < pos-searchStart && (area[lineStart] == ' ' || area[lineStart] == '\t') {
		lineStart++
	}
	if lineStart < len(area) && area[lineStart] >= '0' && area[lineStart] <= '9' {
		return searchStart + lineStart
	}
	return -1
}

// rebuildXref reconstructs the cross-reference table by scanning the
// whole file for "N G obj" definitions. When the same object number is
// defined more than once, the last definition wins: a later offset is
// the newer incremental revision, which is the body a pristine xref
// chain would have served. The superseded definition is recorded; the
// duplicates are themselves evidence of incremental edits whose xref
// chain was destroyed.
func (d *Document) rebuildXref(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty file")
	}
	entries := make(map[uint32]xref)
	window := scanWindow()
	search := 0
	for search < len(data) {
		limit := search + window
		if limit > len(data) {
			limit = len(data)
		}
		idx := bytes.Index(data[search:limit], []byte(" obj"))
		if idx < 0 {
			if limit == len(data) {
				break
			}
			// Step, keeping overlap for a marker split across windows.
			search = limit - len(" obj")
			continue
		}
		pos := search + idx
		lineStart := pos
		for lineStart > 0 && data[lineStart-1] != '\n' && data[lineStart-1] != '\r' {
			lineStart--
		}
		fields := strings.Fields(string(data[lineStart:pos]))
		if len(fields) >= 2 {
			id64, err1 := strconv.ParseUint(fields[len(fields)-2], 10, 32)
			gen64, err2 := strconv.ParseUint(fields[len(fields)-1], 10, 16)
			if err1 == nil && err2 == nil {
				ptr := objptr{uint32(id64), uint16(gen64)}
				if prev, ok := entries[ptr.id]; ok {
					d.anomalies.add(AnomalyDuplicateObject, SeveritySuspicious, ptr.public(),
						"object defined again at offset %d; superseded definition at offset %d remains in file", lineStart, prev.offset)
				}
				entries[ptr.id] = xref{ptr: ptr, offset: int64(lineStart)}
			}
		}
		search = pos + len(" obj")
	}
	if len(entries) == 0 {
		return fmt.Errorf("no object definitions found in %d bytes", len(data))
	}

	var maxID uint32
	for id := range entries {
		if id > maxID {
			maxID = id
		}
	}
	table := make([]xref, maxID+1)
	for id, entry := range entries {
		table[id] = entry
	}
	d.xref = table
	return d.recoverTrailer(data)
}

// recoverTrailer finds trailer data for a rebuilt table: the trailer
// keyword, then an xref stream header, then a synthesized minimal
// trailer pointing at a located catalog object.
func (d *Document) recoverTrailer(data []byte) error {
	if idx := lastIndex(data, []byte("trailer")); idx >= 0 {
		b := newBuffer(bytes.NewReader(data[idx:]), int64(idx))
		b.allowEOF = true
		if tok := b.readToken(); tok == keyword("trailer") {
			obj := b.readObject()
			putLexBuffer(b)
			if t, ok := obj.(dict); ok {
				d.trailer = t
				d.trailerptr = objptr{}
				return nil
			}
		} else {
			putLexBuffer(b)
		}
	}

	if err := d.recoverXrefStreamTrailer(data); err == nil {
		return nil
	}

	if rootRef := findRootObject(data); rootRef != (objptr{}) {
		d.trailer = dict{
			"Size": int64(len(d.xref)),
			"Root": rootRef,
		}
		d.trailerptr = objptr{}
		d.anomalies.add(AnomalyTrailerSynthesized, SeveritySuspicious, ObjectID{},
			"no trailer in file; synthesized one from catalog object %d %d", rootRef.id, rootRef.gen)
		return nil
	}

	return fmt.Errorf("no trailer recoverable from %d bytes", len(data))
}

// recoverXrefStreamTrailer uses an xref stream's header dictionary as
// the trailer for files written with cross-reference streams.
func (d *Document) recoverXrefStreamTrailer(data []byte) error {
	candidates := findXrefStreamPositions(data)
	if len(candidates) == 0 {
		return fmt.Errorf("no xref stream found")
	}

	for i := len(candidates) - 1; i >= 0; i-- {
		objStart := findObjectStart(data, candidates[i])
		if objStart < 0 {
			continue
		}
		b := newBuffer(bytes.NewReader(data[objStart:]), int64(objStart))
		b.allowEOF = true
		obj := b.readObject()
		putLexBuffer(b)

		def, ok := obj.(objdef)
		if !ok {
			continue
		}
		strm, ok := def.obj.(stream)
		if !ok || strm.hdr["Type"] != name("XRef") {
			continue
		}

		trailer := make(dict)
		for _, key := range []name{"Size", "Root", "Info", "ID", "Encrypt", "Prev"} {
			if val := strm.hdr[key]; val != nil {
				trailer[key] = val
			}
		}
		if trailer["Size"] == nil || trailer["Root"] == nil {
			continue
		}
		d.trailer = trailer
		d.trailerptr = def.ptr
		return nil
	}
	return fmt.Errorf("no usable xref stream header")
}

// findRootObject searches for the document catalog.
func findRootObject(data []byte) objptr {
	for _, pattern := range [][]byte{[]byte("/Type/Catalog"), []byte("/Type /Catalog")} {
		idx := bytes.Index(data, pattern)
		if idx < 0 {
			continue
		}
		searchStart := idx - 200
		if searchStart < 0 {
			searchStart = 0
		}
		area := data[searchStart:idx]
		objIdx := lastIndex(area, []byte(" obj"))
		if objIdx < 0 {
			continue
		}
		lineStart := objIdx
		for lineStart > 0 && area[lineStart-1] != '\n' && area[lineStart-1] != '\r' {
			lineStart--
		}
		fields := strings.Fields(string(area[lineStart:objIdx]))
		if len(fields) >= 2 {
			if id, err := strconv.ParseUint(fields[len(fields)-2], 10, 32); err == nil {
				if gen, err := strconv.ParseUint(fields[len(fields)-1], 10, 16); err == nil {
					return objptr{uint32(id), uint16(gen)}
				}
			}
		}
	}
	return objptr{}
}

// IntegrityStatus is the result of a quick structural probe, cheaper
// than a full analysis and usable for triage before one.
type IntegrityStatus struct {
	IsValid          bool
	IsTruncated      bool
	HasValidHeader   bool
	HasValidEOF      bool
	HasStartxref     bool
	HasXref          bool
	HasTrailer       bool
	EstimatedObjects int
	Issues           []string
}

// CheckIntegrity probes the structural landmarks of a PDF file without
// building the object graph.
func CheckIntegrity(f io.ReaderAt, size int64) *IntegrityStatus {
	status := &IntegrityStatus{IsValid: true}

	if size < 20 {
		status.IsValid = false
		status.Issues = append(status.Issues, "file too small to be a valid PDF")
		return status
	}

	headerLen := int64(1024)
	if size < headerLen {
		headerLen = size
	}
	header := make([]byte, headerLen)
	f.ReadAt(header, 0)

	if idx := bytes.Index(header, []byte("%PDF-")); idx >= 0 {
		status.HasValidHeader = true
		if idx > 0 {
			status.Issues = append(status.Issues, fmt.Sprintf("header found at offset %d", idx))
		}
	} else {
		status.IsValid = false
		status.Issues = append(status.Issues, "missing PDF header")
		return status
	}

	endChunk := int64(4096)
	if size < endChunk {
		endChunk = size
	}
	tail := make([]byte, endChunk)
	f.ReadAt(tail, size-endChunk)

	if bytes.Contains(tail, []byte("%%EOF")) {
		status.HasValidEOF = true
	} else {
		status.IsTruncated = true
		status.Issues = append(status.Issues, "missing %%EOF marker (file may be truncated)")
	}

	if pos, _ := parseStartxref(tail); pos >= 0 {
		status.HasStartxref = true
	} else {
		status.Issues = append(status.Issues, "missing startxref marker")
	}

	if bytes.Contains(tail, []byte("xref")) ||
		bytes.Contains(tail, []byte("/Type /XRef")) ||
		bytes.Contains(tail, []byte("/Type/XRef")) {
		status.HasXref = true
	} else {
		status.Issues = append(status.Issues, "xref table or stream not found near end of file")
	}

	if bytes.Contains(tail, []byte("trailer")) || status.HasXref {
		status.HasTrailer = true
	} else {
		status.Issues = append(status.Issues, "trailer not found")
	}

	sampleSize := int64(512 * 1024)
	if size < sampleSize {
		sampleSize = size
	}
	sample := make([]byte, sampleSize)
	f.ReadAt(sample, 0)
	objCount := bytes.Count(sample, []byte(" obj"))
	if size > sampleSize {
		objCount = int(float64(objCount) * float64(size) / float64(sampleSize))
	}
	status.EstimatedObjects = objCount

	if !status.HasStartxref && !status.HasXref {
		status.IsValid = len(status.Issues) < 3
	}
	return status
}

// parseStartxref finds the last startxref marker in buf that sits on its
// own line and is followed by an integer, returning its position and the
// integer. Returns pos -1 when none qualifies.
func parseStartxref(buf []byte) (pos int, xrefOffset int64) {
	searchBuf := buf
	for {
		idx := lastIndex(searchBuf, []byte("startxref"))
		if idx < 0 {
			return -1, -1
		}
		if idx != 0 && searchBuf[idx-1] != '\n' && searchBuf[idx-1] != '\r' {
			searchBuf = searchBuf[:idx]
			continue
		}
		numStart := idx + len("startxref")
		for numStart < len(searchBuf) && isSpace(searchBuf[numStart]) {
			numStart++
		}
		numEnd := numStart
		for numEnd < len(searchBuf) && searchBuf[numEnd] >= '0' && searchBuf[numEnd] <= '9' {
			numEnd++
		}
		if numEnd > numStart {
			if offset, err := strconv.ParseInt(string(searchBuf[numStart:numEnd]), 10, 64); err == nil {
				return idx, offset
			}
		}
		searchBuf = searchBuf[:idx]
	}
}
