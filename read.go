// Copyright 2014 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pdx implements structural and forensic analysis of PDF files.
//
// # Overview
//
// A PDF file is a graph of objects tied together by a cross-reference
// table. This package opens that structure without rendering anything:
// it locates the cross-reference data (recovering it by brute force when
// the file is damaged), resolves indirect objects lazily, decodes stream
// content, and classifies what it finds. Every inconsistency the parser
// works around is recorded as an Anomaly rather than silently repaired,
// so the output doubles as a forensic record of how the file deviates
// from its own declared structure.
//
// Specifically, a document is a data structure built from Values, each of
// which has one of the following Kinds:
//
//	Null, for the null object.
//	Integer, for an integer.
//	Real, for a floating-point number.
//	Bool, for a boolean value.
//	Name, for a name constant (as in /Helvetica).
//	String, for a string constant.
//	Dict, for a dictionary of name-value pairs.
//	Array, for an array of values.
//	Stream, for an opaque data stream and associated header dictionary.
//	Reference, for an unresolved indirect reference.
//
// The accessors on Value return a view of the data as the given type.
// When there is no appropriate view, the accessor returns a zero result,
// which makes it possible to traverse a damaged file quickly without
// error checking at every step.
package pdx

import (
	"bytes"
	"container/list"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// A Document is a single PDF file open for structural analysis.
// It is safe for concurrent use once NewDocument returns.
type Document struct {
	f          io.ReaderAt
	closer     io.Closer
	end        int64
	version    Version
	xref       []xref
	trailer    dict
	trailerptr objptr
	revisions  []Revision
	rebuilt    bool
	anomalies  *anomalyLog
	opts       Options

	cacheMu   sync.Mutex
	objCache  map[objptr]*list.Element
	cacheList *list.List
	cacheCap  int

	// Offsets of objects inside object streams, keyed by stream id.
	objStreamCache   map[uint32]map[int64]int64
	objStreamCacheMu sync.RWMutex

	// Shadowed cross-reference entries found while walking the Prev chain.
	shadows map[uint32]shadowInfo
}

type xref struct {
	ptr      objptr
	inStream bool
	stream   objptr
	offset   int64
}

// freePtr marks a cross-reference entry freed by a newer revision.
var freePtr = objptr{0, 65535}

type shadowInfo struct {
	liveOffset int64
	oldOffset  int64
	freed      bool
}

// A Revision records one cross-reference section encountered while
// following the Prev chain, newest first. Incremental updates leave
// every earlier revision intact in the file, which makes the chain an
// audit trail: an object redefined in a later revision still has its
// old body on disk.
type Revision struct {
	Offset  int64 // file offset of the xref section
	Stream  bool  // cross-reference stream rather than a table
	Trailer Value
}

type cacheEntry struct {
	key   objptr
	value object
}

func (d *Document) getCachedObject(ptr objptr) (object, bool) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	elem, ok := d.objCache[ptr]
	if !ok || elem == nil {
		return nil, false
	}
	d.cacheList.MoveToFront(elem)
	if entry, ok := elem.Value.(cacheEntry); ok {
		return entry.value, true
	}
	return nil, false
}

func (d *Document) storeCachedObject(ptr objptr, obj object) {
	if ptr.id == 0 || obj == nil {
		return
	}
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if d.cacheList == nil {
		d.cacheList = list.New()
	}
	if d.objCache == nil {
		d.objCache = make(map[objptr]*list.Element)
	}
	if elem, ok := d.objCache[ptr]; ok {
		elem.Value = cacheEntry{key: ptr, value: obj}
		d.cacheList.MoveToFront(elem)
		return
	}
	elem := d.cacheList.PushFront(cacheEntry{key: ptr, value: obj})
	d.objCache[ptr] = elem
	if d.cacheCap > 0 && d.cacheList.Len() > d.cacheCap {
		d.evictOldest()
	}
}

func (d *Document) evictOldest() {
	back := d.cacheList.Back()
	if back == nil {
		return
	}
	d.cacheList.Remove(back)
	if entry, ok := back.Value.(cacheEntry); ok {
		delete(d.objCache, entry.key)
	}
}

// Close releases resources held by the Document. If the underlying
// ReaderAt implements io.Closer, it is closed as well.
func (d *Document) Close() error {
	d.cacheMu.Lock()
	d.objCache = nil
	if d.cacheList != nil {
		d.cacheList.Init()
	}
	d.cacheMu.Unlock()
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

// Open opens the named file for analysis.
func Open(file string, opts *Options) (*Document, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	d, err := NewDocument(f, fi.Size(), opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	d.closer = f
	return d, nil
}

// lastIndex is a replacement for bytes.LastIndex that avoids the
// Rabin-Karp overhead for the short patterns used here.
func lastIndex(s, sep []byte) int {
	n := len(sep)
	if n == 0 {
		return len(s)
	}
	if n > len(s) {
		return -1
	}
	if n <= 32 {
		first := sep[0]
		last := sep[n-1]
		for i := len(s) - n; i >= 0; i-- {
			if s[i] == first && s[i+n-1] == last {
				match := true
				for j := 1; j < n-1; j++ {
					if s[i+j] != sep[j] {
						match = false
						break
					}
				}
				if match {
					return i
				}
			}
		}
		return -1
	}
	return bytes.LastIndex(s, sep)
}

// NewDocument opens the data in f with the given total size for analysis.
// Structural damage short of a missing object graph is tolerated and
// recorded; NewDocument fails only when no usable cross-reference data
// can be located or rebuilt.
func NewDocument(f io.ReaderAt, size int64, opts *Options) (*Document, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.normalize()

	if o.Limits.MaxFileBytes > 0 && size > o.Limits.MaxFileBytes {
		return nil, wrapError("open", fmt.Errorf("%w: file size %d exceeds limit %d", ErrTooLarge, size, o.Limits.MaxFileBytes))
	}

	d := &Document{
		f:              f,
		end:            size,
		anomalies:      newAnomalyLog(o.Sink),
		opts:           o,
		cacheCap:       o.CacheCapacity,
		objStreamCache: make(map[uint32]map[int64]int64),
		shadows:        make(map[uint32]shadowInfo),
	}

	if err := d.readHeader(); err != nil {
		return nil, err
	}
	if err := d.findXref(); err != nil {
		return nil, err
	}
	d.finishShadows()
	return d, nil
}

// readHeader locates the %PDF- signature and parses the version.
// The signature is searched for in the first few KB because some
// generators prepend junk; a displaced header is an anomaly, not an error.
func (d *Document) readHeader() error {
	const headerSearchLimit = 4096
	probe := int64(headerSearchLimit)
	if d.end < probe {
		probe = d.end
	}
	if probe < 8 {
		return wrapError("header", fmt.Errorf("%w: file too small", ErrNotPDF))
	}

	buf := make([]byte, probe)
	n, _ := d.f.ReadAt(buf, 0)
	buf = buf[:n]

	sigIdx := bytes.Index(buf, []byte("%PDF-"))
	if sigIdx < 0 {
		// Tolerate a header that lost its leading %.
		sigIdx = bytes.Index(buf, []byte("PDF-"))
		if sigIdx < 0 {
			return wrapError("header", fmt.Errorf("%w: no %%PDF- signature in first %d bytes", ErrNotPDF, probe))
		}
		d.anomalies.add(AnomalyHeaderDisplaced, SeverityInfo, ObjectID{},
			"header signature missing leading %% at offset %d", sigIdx)
		sigIdx--
		if sigIdx < 0 {
			sigIdx = 0
		}
	} else if sigIdx > 0 {
		d.anomalies.add(AnomalyHeaderDisplaced, SeverityInfo, ObjectID{},
			"%d bytes of data before header signature", sigIdx)
	}

	v, err := parseVersion(buf[sigIdx:])
	if err != nil {
		// An unreadable version is not fatal; assume the baseline.
		d.anomalies.add(AnomalyHeaderDisplaced, SeverityInfo, ObjectID{},
			"unreadable version in header: %v", err)
		v = Version{1, 4}
	}
	d.version = v
	return nil
}

// findXref locates the startxref pointer and reads the cross-reference
// data, falling through a chain of recovery strategies as each one fails.
func (d *Document) findXref() error {
	const endChunk = 1024
	readLen := int64(endChunk)
	if d.end < readLen {
		readLen = d.end
	}
	buf := make([]byte, readLen)
	n, _ := d.f.ReadAt(buf, d.end-readLen)
	buf = buf[:n]
	bufStart := d.end - int64(len(buf))

	if lastIndex(buf, []byte("%%EOF")) < 0 {
		d.anomalies.add(AnomalyMissingEOF, SeverityInfo, ObjectID{}, "no %%%%EOF marker in final %d bytes", len(buf))
	}

	pos := int64(-1)
	if i := findLastLine(buf, "startxref"); i >= 0 {
		pos = bufStart + int64(i)
	}
	if pos < 0 && d.end > endChunk {
		// Larger tail chunk; some files carry appended data after %%EOF.
		chunk := int64(10 * 1024)
		if d.end < chunk {
			chunk = d.end
		}
		big := make([]byte, chunk)
		n, _ := d.f.ReadAt(big, d.end-chunk)
		if i := findLastLine(big[:n], "startxref"); i >= 0 {
			pos = d.end - chunk + int64(i)
			d.anomalies.add(AnomalyStartxrefFallback, SeverityInfo, ObjectID{},
				"startxref found %d bytes before end of file", d.end-pos)
		}
	}
	if pos < 0 {
		if i := searchBackwardForStartxref(d.f, d.end); i >= 0 {
			pos = i
			d.anomalies.add(AnomalyStartxrefFallback, SeveritySuspicious, ObjectID{},
				"startxref located only by whole-file backward search at offset %d", pos)
		}
	}

	if pos < 0 {
		// No startxref at all. Go straight to reconstruction.
		return d.recoverXref(fmt.Errorf("%w: missing startxref", ErrCrossReference))
	}

	b := newBuffer(io.NewSectionReader(d.f, pos, d.end-pos), pos)
	if b.readToken() != keyword("startxref") {
		putLexBuffer(b)
		return d.recoverXref(fmt.Errorf("%w: missing startxref", ErrCrossReference))
	}
	startxref, ok := b.readToken().(int64)
	putLexBuffer(b)
	if !ok {
		return d.recoverXref(fmt.Errorf("%w: startxref not followed by integer", ErrCrossReference))
	}
	if startxref < 0 || startxref >= d.end {
		d.anomalies.add(AnomalyOffsetOutOfBounds, SeveritySuspicious, ObjectID{},
			"startxref offset %d outside file of %d bytes", startxref, d.end)
		return d.recoverXref(fmt.Errorf("%w: startxref offset %d out of range", ErrCrossReference, startxref))
	}

	b = newBuffer(io.NewSectionReader(d.f, startxref, d.end-startxref), startxref)
	table, trailerptr, trailer, err := readXref(d, b)
	if err != nil {
		return d.recoverXref(err)
	}
	d.xref = table
	d.trailer = trailer
	d.trailerptr = trailerptr
	return nil
}

// Trailer returns the document's trailer dictionary. For rebuilt files
// this may be a recovered or synthesized trailer.
func (d *Document) Trailer() Value {
	return Value{d, d.trailerptr, d.trailer}
}

// Version returns the version declared in the file header.
func (d *Document) Version() Version {
	return d.version
}

// Rebuilt reports whether the cross-reference table had to be
// reconstructed by scanning the file for object definitions.
func (d *Document) Rebuilt() bool {
	return d.rebuilt
}

// Anomalies returns the structural anomalies recorded so far, in
// observation order.
func (d *Document) Anomalies() []Anomaly {
	return d.anomalies.all()
}

// Object returns the live object with the given id, or a null Value
// when the id is free, shadowed, or out of range.
func (d *Document) Object(id ObjectID) Value {
	return d.resolve(objptr{}, id.ptr())
}

// Revisions returns the cross-reference sections found in the file,
// newest first. A well-formed single-revision file has exactly one.
func (d *Document) Revisions() []Revision {
	out := make([]Revision, len(d.revisions))
	copy(out, d.revisions)
	return out
}

// liveObjects returns the pointers of all objects reachable through the
// active cross-reference table, in ascending id order.
func (d *Document) liveObjects() []objptr {
	var out []objptr
	for _, x := range d.xref {
		if x.ptr == (objptr{}) || x.ptr == freePtr {
			continue
		}
		if !x.inStream && x.offset == 0 {
			continue
		}
		out = append(out, x.ptr)
	}
	return out
}

func (d *Document) addRevision(offset int64, isStream bool, trailer dict) {
	d.revisions = append(d.revisions, Revision{
		Offset:  offset,
		Stream:  isStream,
		Trailer: Value{d, objptr{}, trailer},
	})
}

// noteShadow records that an older revision's entry for id was superseded.
func (d *Document) noteShadow(id uint32, live xref, oldOffset int64) {
	if _, ok := d.shadows[id]; ok {
		return
	}
	d.shadows[id] = shadowInfo{
		liveOffset: live.offset,
		oldOffset:  oldOffset,
		freed:      live.ptr == freePtr,
	}
}

// finishShadows converts recorded shadow entries into anomalies. An
// object redefined across revisions still has its old body in the file,
// which is the classic incremental-update tampering pattern.
func (d *Document) finishShadows() {
	for id, s := range d.shadows {
		if s.freed {
			d.anomalies.add(AnomalyRevisionShadowed, SeveritySuspicious, ObjectID{Number: id},
				"object deleted by newer revision; body at offset %d remains in file", s.oldOffset)
			continue
		}
		d.anomalies.add(AnomalyRevisionShadowed, SeveritySuspicious, ObjectID{Number: id},
			"object redefined by newer revision; superseded body at offset %d remains in file", s.oldOffset)
	}
}

func readXref(d *Document, b *buffer) (xr []xref, trailerptr objptr, trailer dict, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = wrapError("xref", fmt.Errorf("%w: %v", ErrCrossReference, rec))
		}
	}()
	defer putLexBuffer(b)
	offset := b.readOffset()

	tok := b.readToken()
	if tok == keyword("xref") {
		return readXrefTable(d, b, offset)
	}
	if _, ok := tok.(int64); ok {
		b.unreadToken(tok)
		return readXrefStream(d, b, offset)
	}
	return nil, objptr{}, nil, wrapError("xref",
		fmt.Errorf("%w: no cross-reference data at offset %d, found %T", ErrCrossReference, offset, tok))
}

func readXrefStream(d *Document, b *buffer, offset int64) ([]xref, objptr, dict, error) {
	obj1 := b.readObject()
	obj, ok := obj1.(objdef)
	if !ok {
		return nil, objptr{}, nil, wrapError("xref",
			fmt.Errorf("%w: expected xref stream object, found %T", ErrCrossReference, obj1))
	}
	strmptr := obj.ptr
	strm, ok := obj.obj.(stream)
	if !ok {
		return nil, objptr{}, nil, wrapError("xref",
			fmt.Errorf("%w: object %d %d is not a stream", ErrCrossReference, obj.ptr.id, obj.ptr.gen))
	}
	if strm.hdr["Type"] != name("XRef") {
		return nil, objptr{}, nil, wrapError("xref",
			fmt.Errorf("%w: stream at offset %d does not have type XRef", ErrCrossReference, offset))
	}
	size, ok := strm.hdr["Size"].(int64)
	if !ok {
		return nil, objptr{}, nil, wrapError("xref", fmt.Errorf("%w: xref stream missing Size", ErrCrossReference))
	}
	table := make([]xref, size)
	table, err := readXrefStreamData(d, strm, table, size)
	if err != nil {
		return nil, objptr{}, nil, wrapError("xref", err)
	}
	d.addRevision(offset, true, strm.hdr)

	seenPrev := map[int64]struct{}{offset: {}}
	for prevoff := strm.hdr["Prev"]; prevoff != nil; {
		off, ok := prevoff.(int64)
		if !ok {
			return nil, objptr{}, nil, wrapError("xref", fmt.Errorf("%w: Prev is not an integer", ErrCrossReference))
		}
		if off < 0 || off >= d.end {
			return nil, objptr{}, nil, wrapError("xref", fmt.Errorf("%w: Prev offset %d out of range", ErrCrossReference, off))
		}
		if _, seen := seenPrev[off]; seen {
			return nil, objptr{}, nil, wrapError("xref",
				fmt.Errorf("%w: Prev chain contains cycle at offset %d", ErrCyclicReference, off))
		}
		seenPrev[off] = struct{}{}
		pb := newBuffer(io.NewSectionReader(d.f, off, d.end-off), off)
		obj1 := pb.readObject()
		obj, ok := obj1.(objdef)
		putLexBuffer(pb)
		if !ok {
			return nil, objptr{}, nil, wrapError("xref",
				fmt.Errorf("%w: Prev at %d is not an xref stream", ErrCrossReference, off))
		}
		prevstrm, ok := obj.obj.(stream)
		if !ok || prevstrm.hdr["Type"] != name("XRef") {
			return nil, objptr{}, nil, wrapError("xref",
				fmt.Errorf("%w: Prev at %d is not an xref stream", ErrCrossReference, off))
		}
		prevoff = prevstrm.hdr["Prev"]
		psize, _ := prevstrm.hdr["Size"].(int64)
		if psize > size {
			psize = size
		}
		if table, err = readXrefStreamData(d, prevstrm, table, psize); err != nil {
			return nil, objptr{}, nil, wrapError("xref", err)
		}
		d.addRevision(off, true, prevstrm.hdr)
	}

	return table, strmptr, strm.hdr, nil
}

func readXrefStreamData(d *Document, strm stream, table []xref, size int64) ([]xref, error) {
	index, _ := strm.hdr["Index"].(array)
	if index == nil {
		index = array{int64(0), size}
	}
	if len(index)%2 != 0 {
		return nil, fmt.Errorf("%w: invalid Index array %v", ErrCrossReference, objfmt(index))
	}
	ww, ok := strm.hdr["W"].(array)
	if !ok {
		return nil, fmt.Errorf("%w: xref stream missing W array", ErrCrossReference)
	}
	var w []int
	for _, x := range ww {
		i, ok := x.(int64)
		if !ok || int64(int(i)) != i {
			return nil, fmt.Errorf("%w: invalid W array %v", ErrCrossReference, objfmt(ww))
		}
		w = append(w, int(i))
	}
	if len(w) < 3 {
		return nil, fmt.Errorf("%w: invalid W array %v", ErrCrossReference, objfmt(ww))
	}

	v := Value{d, objptr{}, strm}
	wtotal := 0
	for _, wid := range w {
		wtotal += wid
	}
	buf := make([]byte, wtotal)
	data := v.Reader()
	defer data.Close()
	for len(index) > 0 {
		start, ok1 := index[0].(int64)
		n, ok2 := index[1].(int64)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: malformed Index pair %v %v", ErrCrossReference, objfmt(index[0]), objfmt(index[1]))
		}
		index = index[2:]
		for i := 0; i < int(n); i++ {
			if _, err := io.ReadFull(data, buf); err != nil {
				return nil, fmt.Errorf("%w: reading xref stream: %v", ErrCrossReference, err)
			}
			v1 := decodeInt(buf[0:w[0]])
			if w[0] == 0 {
				v1 = 1
			}
			v2 := decodeInt(buf[w[0] : w[0]+w[1]])
			v3 := decodeInt(buf[w[0]+w[1] : w[0]+w[1]+w[2]])
			x := int(start) + i
			for len(table) <= x {
				table = append(table, xref{})
			}
			var entry xref
			switch v1 {
			case 0:
				entry = xref{ptr: freePtr}
			case 1:
				entry = xref{ptr: objptr{uint32(x), uint16(v3)}, offset: int64(v2)}
			case 2:
				// Compressed object inside an object stream: v2 is the
				// stream's object number, v3 the index within it.
				entry = xref{ptr: objptr{uint32(x), 0}, inStream: true, stream: objptr{uint32(v2), 0}, offset: int64(v3)}
			default:
				continue
			}
			if table[x].ptr != (objptr{}) {
				// A newer section already claimed this id.
				if entry.ptr != (objptr{}) && entry.ptr != freePtr && !entry.inStream {
					d.noteShadow(uint32(x), table[x], entry.offset)
				}
				continue
			}
			table[x] = entry
		}
	}
	return table, nil
}

func decodeInt(b []byte) int {
	x := 0
	for _, c := range b {
		x = x<<8 | int(c)
	}
	return x
}

func readXrefTable(d *Document, b *buffer, offset int64) ([]xref, objptr, dict, error) {
	var table []xref

	table, err := readXrefTableData(d, b, table)
	if err != nil {
		return nil, objptr{}, nil, wrapError("xref", err)
	}
	trailer, ok := b.readObject().(dict)
	if !ok {
		return nil, objptr{}, nil, wrapError("xref",
			fmt.Errorf("%w: xref table not followed by trailer dictionary", ErrCrossReference))
	}
	d.addRevision(offset, false, trailer)

	// Hybrid files keep a parallel xref stream for 1.5-aware readers.
	if xrefStmOffset, ok := trailer["XRefStm"].(int64); ok {
		if xrefStmOffset < 0 || xrefStmOffset >= d.end {
			d.anomalies.add(AnomalyOffsetOutOfBounds, SeveritySuspicious, ObjectID{},
				"XRefStm offset %d outside file", xrefStmOffset)
		} else {
			b2 := newBuffer(io.NewSectionReader(d.f, xrefStmOffset, d.end-xrefStmOffset), xrefStmOffset)
			stmTable, _, _, err := readXrefStream(d, b2, xrefStmOffset)
			putLexBuffer(b2)
			if err != nil {
				return nil, objptr{}, nil, wrapError("xref",
					fmt.Errorf("%w: processing XRefStm at %d: %v", ErrCrossReference, xrefStmOffset, err))
			}
			if len(stmTable) > len(table) {
				newTable := make([]xref, len(stmTable))
				copy(newTable, table)
				table = newTable
			}
			for i, x := range stmTable {
				if x.ptr != (objptr{}) {
					table[i] = x
				}
			}
		}
	}

	seenPrev := map[int64]struct{}{offset: {}}
	for prevoff := trailer["Prev"]; prevoff != nil; {
		off, ok := prevoff.(int64)
		if !ok {
			return nil, objptr{}, nil, wrapError("xref", fmt.Errorf("%w: Prev is not an integer", ErrCrossReference))
		}
		if off < 0 || off >= d.end {
			return nil, objptr{}, nil, wrapError("xref", fmt.Errorf("%w: Prev offset %d out of range", ErrCrossReference, off))
		}
		if _, seen := seenPrev[off]; seen {
			return nil, objptr{}, nil, wrapError("xref",
				fmt.Errorf("%w: Prev chain contains cycle at offset %d", ErrCyclicReference, off))
		}
		seenPrev[off] = struct{}{}
		pb := newBuffer(io.NewSectionReader(d.f, off, d.end-off), off)
		tok := pb.readToken()
		if tok != keyword("xref") {
			putLexBuffer(pb)
			return nil, objptr{}, nil, wrapError("xref",
				fmt.Errorf("%w: Prev at %d does not point to an xref table", ErrCrossReference, off))
		}
		table, err = readXrefTableData(d, pb, table)
		if err != nil {
			putLexBuffer(pb)
			return nil, objptr{}, nil, wrapError("xref", err)
		}
		prevTrailer, ok := pb.readObject().(dict)
		putLexBuffer(pb)
		if !ok {
			return nil, objptr{}, nil, wrapError("xref",
				fmt.Errorf("%w: Prev xref table not followed by trailer dictionary", ErrCrossReference))
		}
		d.addRevision(off, false, prevTrailer)
		prevoff = prevTrailer["Prev"]
	}

	size, ok := trailer["Size"].(int64)
	if !ok {
		return nil, objptr{}, nil, wrapError("xref", fmt.Errorf("%w: trailer missing Size entry", ErrCrossReference))
	}
	if size < int64(len(table)) {
		table = table[:size]
	}
	return table, objptr{}, trailer, nil
}

func readXrefTableData(d *Document, b *buffer, table []xref) ([]xref, error) {
	for {
		tok := b.readToken()
		if tok == keyword("trailer") {
			break
		}
		start, ok1 := tok.(int64)
		n, ok2 := b.readToken().(int64)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: malformed xref table subsection header", ErrCrossReference)
		}
		for i := 0; i < int(n); i++ {
			off, ok1 := b.readToken().(int64)
			gen, ok2 := b.readToken().(int64)
			alloc, ok3 := b.readToken().(keyword)
			if !ok1 || !ok2 || !ok3 || alloc != keyword("f") && alloc != keyword("n") {
				return nil, fmt.Errorf("%w: malformed xref table entry", ErrCrossReference)
			}
			x := int(start) + i
			for len(table) <= x {
				table = append(table, xref{})
			}
			if alloc == "f" {
				if table[x].ptr == (objptr{}) {
					table[x] = xref{ptr: freePtr}
				}
				continue
			}
			if table[x].ptr != (objptr{}) {
				if int64(off) != table[x].offset {
					d.noteShadow(uint32(x), table[x], int64(off))
				}
				continue
			}
			table[x] = xref{ptr: objptr{uint32(x), uint16(gen)}, offset: int64(off)}
		}
	}
	return table, nil
}

// findLastLine finds the last occurrence of s that starts at the
// beginning of a line and is followed by a line ending.
func findLastLine(buf []byte, s string) int {
	if len(s) == 0 || len(buf) < len(s) {
		return -1
	}
	bs := []byte(s)
	slen := len(bs)
	firstByte := bs[0]
	for i := len(buf) - slen; i >= 1; i-- {
		if buf[i] != firstByte {
			continue
		}
		if buf[i-1] != '\n' && buf[i-1] != '\r' {
			continue
		}
		match := true
		for j := 1; j < slen; j++ {
			if buf[i+j] != bs[j] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		afterPos := i + slen
		if afterPos >= len(buf) || buf[afterPos] == '\n' || buf[afterPos] == '\r' {
			return i
		}
	}
	return -1
}

// searchBackwardForStartxref scans the file from the end for a startxref
// marker, tolerating trailing garbage after the last %%EOF.
func searchBackwardForStartxref(f io.ReaderAt, size int64) int64 {
	if size < 4096 {
		buf := make([]byte, size)
		n, err := f.ReadAt(buf, 0)
		if err != nil && err != io.EOF {
			return -1
		}
		if idx := lastIndex(buf[:n], []byte("startxref")); idx >= 0 {
			return int64(idx)
		}
		return -1
	}

	const chunkSize = 4096
	var searchBuf []byte
	for offset := size - chunkSize; offset >= 0; offset -= chunkSize / 2 {
		readSize := chunkSize
		if offset+int64(readSize) > size {
			readSize = int(size - offset)
		}
		chunk := make([]byte, readSize)
		n, err := f.ReadAt(chunk, offset)
		if err != nil && err != io.EOF {
			return -1
		}
		searchBuf = append(chunk[:n:n], searchBuf...)
		if idx := lastIndex(searchBuf, []byte("startxref")); idx >= 0 {
			return offset + int64(idx)
		}
		if offset == 0 {
			break
		}
		if len(searchBuf) > chunkSize*2 {
			searchBuf = searchBuf[:chunkSize]
		}
	}
	return -1
}

// resolve follows x when it is an indirect reference, loading the
// referenced object through the cross-reference table. Non-reference
// values are wrapped as-is. Damage encountered along the way is recorded
// and yields a null Value.
func (d *Document) resolve(parent objptr, x interface{}) Value {
	if ptr, ok := x.(objptr); ok {
		if obj, ok := d.getCachedObject(ptr); ok {
			return Value{d, ptr, obj}
		}
		if ptr.id >= uint32(len(d.xref)) {
			return Value{}
		}
		xr := d.xref[ptr.id]
		if xr.ptr == freePtr {
			return Value{}
		}
		if xr.ptr != ptr || !xr.inStream && xr.offset == 0 {
			return Value{}
		}
		if !xr.inStream && (xr.offset < 0 || xr.offset >= d.end) {
			d.anomalies.add(AnomalyOffsetOutOfBounds, SeveritySuspicious, ptr.public(),
				"cross-reference offset %d outside file of %d bytes", xr.offset, d.end)
			return Value{}
		}
		if xr.inStream {
			v := d.resolveInStream(ptr, xr)
			if v.IsNull() {
				return v
			}
			x = v.data
		} else {
			b := newBuffer(io.NewSectionReader(d.f, xr.offset, d.end-xr.offset), xr.offset)
			obj := b.readObject()
			d.flushLexErrs(b, ptr.public())
			def, ok := obj.(objdef)
			if !ok {
				putLexBuffer(b)
				d.anomalies.add(AnomalyMalformedObject, SeveritySuspicious, ptr.public(),
					"no object definition at cross-reference offset %d", xr.offset)
				return Value{}
			}
			if def.ptr != ptr {
				// Use what we found; an inconsistent table is common in
				// incrementally damaged files.
				d.anomalies.add(AnomalyObjectIDMismatch, SeveritySuspicious, ptr.public(),
					"offset %d holds object %d %d", xr.offset, def.ptr.id, def.ptr.gen)
			}
			x = def.obj
			d.storeCachedObject(ptr, x)
			putLexBuffer(b)
		}
		parent = ptr
	}

	switch x := x.(type) {
	case nil, bool, int64, float64, name, dict, array, stream, string, objptr:
		return Value{d, parent, x}
	default:
		return Value{}
	}
}

// resolveInStream loads a compressed object out of its object stream,
// following Extends chains when the id is not in the first stream.
func (d *Document) resolveInStream(ptr objptr, xr xref) Value {
	strm := d.resolve(objptr{}, xr.stream)
	currentStreamID := xr.stream.id
	for {
		if strm.Kind() != Stream || strm.Key("Type").Name() != "ObjStm" {
			d.anomalies.add(AnomalyMalformedObject, SeveritySuspicious, ptr.public(),
				"cross-reference points into object %d which is not an object stream", currentStreamID)
			return Value{}
		}
		n := int(strm.Key("N").Int64())
		first := strm.Key("First").Int64()
		if first == 0 {
			d.anomalies.add(AnomalyMalformedObject, SeveritySuspicious, ptr.public(),
				"object stream %d missing First entry", currentStreamID)
			return Value{}
		}

		var offset int64
		found := false
		if currentStreamID != 0 {
			d.objStreamCacheMu.RLock()
			cache, populated := d.objStreamCache[currentStreamID]
			d.objStreamCacheMu.RUnlock()
			if !populated {
				cache = make(map[int64]int64, n)
				b := newBuffer(strm.Reader(), 0)
				b.allowEOF = true
				for i := 0; i < n; i++ {
					id, _ := b.readToken().(int64)
					off, _ := b.readToken().(int64)
					cache[id] = first + off
				}
				putLexBuffer(b)
				d.objStreamCacheMu.Lock()
				d.objStreamCache[currentStreamID] = cache
				d.objStreamCacheMu.Unlock()
			}
			offset, found = cache[int64(ptr.id)]
		} else {
			b := newBuffer(strm.Reader(), 0)
			b.allowEOF = true
			for i := 0; i < n; i++ {
				id, _ := b.readToken().(int64)
				off, _ := b.readToken().(int64)
				if uint32(id) == ptr.id {
					offset = first + off
					found = true
					break
				}
			}
			putLexBuffer(b)
		}

		if found {
			b := newBuffer(strm.Reader(), 0)
			b.allowEOF = true
			b.seekForward(offset)
			obj := b.readObject()
			d.flushLexErrs(b, ptr.public())
			d.storeCachedObject(ptr, obj)
			putLexBuffer(b)
			return Value{d, ptr, obj}
		}

		ext := strm.Key("Extends")
		if ext.Kind() != Stream {
			d.anomalies.add(AnomalyDanglingReference, SeveritySuspicious, ptr.public(),
				"object %d not present in object stream %d", ptr.id, xr.stream.id)
			return Value{}
		}
		strm = ext
		currentStreamID = 0
	}
}

// flushLexErrs converts malformed-token signals accumulated on b into
// anomalies attributed to the object being read.
func (d *Document) flushLexErrs(b *buffer, id ObjectID) {
	for _, e := range b.lexErrs {
		d.anomalies.add(AnomalyLexError, SeverityInfo, id, "%s", e.Error())
	}
	if b.readErr != nil {
		d.anomalies.add(AnomalyFileTruncated, SeveritySuspicious, id, "%v", b.readErr)
		b.readErr = nil
	}
	b.lexErrs = nil
}

// checkContext returns the context's error, if any. Long loops call it
// between iterations so analysis can be cancelled.
func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
