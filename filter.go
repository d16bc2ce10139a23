// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Stream content access: raw extents, filter chains, and the individual
// filter decoders.

package pdx

import (
	"bufio"
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"encoding/ascii85"
	"fmt"
	"io"

	"golang.org/x/image/ccitt"
)

type errorReadCloser struct {
	err error
}

func (e *errorReadCloser) Read([]byte) (int, error) {
	return 0, e.err
}

func (e *errorReadCloser) Close() error {
	return e.err
}

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

// capReader returns ErrTooLarge once more than n bytes have been read,
// instead of silently truncating like io.LimitReader.
type capReader struct {
	r io.Reader
	n int64
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.n <= 0 {
		return 0, wrapError("decode", fmt.Errorf("%w: decoded stream exceeds limit", ErrTooLarge))
	}
	if int64(len(p)) > c.n {
		p = p[:c.n]
	}
	n, err := c.r.Read(p)
	c.n -= int64(n)
	return n, err
}

// RawReader returns the stream's bytes exactly as stored in the file,
// before any filters are applied. The extent comes from the Length entry
// when it checks out against the endstream keyword, and from scanning
// for endstream when it does not.
func (v Value) RawReader() io.ReadCloser {
	x, ok := v.data.(stream)
	if !ok {
		return &errorReadCloser{wrapError("stream", fmt.Errorf("%w: not a stream", ErrMalformedObject))}
	}
	length := v.d.streamExtent(v, x)
	if length < 0 {
		return &errorReadCloser{wrapObjectError("stream", x.ptr.public(), fmt.Errorf("%w: cannot determine stream extent", ErrMalformedObject))}
	}
	return nopCloser{io.NewSectionReader(v.d.f, x.offset, length)}
}

// Reader returns the decoded data contained in the stream v, applying
// the declared filter chain in order. If v.Kind() != Stream, Reader
// returns a ReadCloser that responds to all reads with an error.
// A filter that cannot be applied yields an error reader and a recorded
// DecodeFailure anomaly naming the failing chain index.
func (v Value) Reader() io.ReadCloser {
	x, ok := v.data.(stream)
	if !ok {
		return &errorReadCloser{wrapError("stream", fmt.Errorf("%w: not a stream", ErrMalformedObject))}
	}
	raw := v.RawReader()
	if _, bad := raw.(*errorReadCloser); bad {
		return raw
	}
	var rd io.Reader = raw

	filter := v.Key("Filter")
	param := v.Key("DecodeParms")
	switch filter.Kind() {
	default:
		v.d.anomalies.add(AnomalyDecodeFailure, SeveritySuspicious, x.ptr.public(),
			"Filter entry has kind %v", filter.Kind())
		return &errorReadCloser{wrapObjectError("decode", x.ptr.public(), fmt.Errorf("%w: bad Filter entry", ErrDecode))}
	case Null:
		// unfiltered
	case Name:
		var err error
		rd, err = applyFilter(rd, filter.Name(), param)
		if err != nil {
			v.d.anomalies.add(AnomalyDecodeFailure, SeveritySuspicious, x.ptr.public(),
				"filter %s: %v", filter.Name(), err)
			return &errorReadCloser{wrapObjectError("decode", x.ptr.public(), fmt.Errorf("%w: filter %s: %v", ErrDecode, filter.Name(), err))}
		}
	case Array:
		for i := 0; i < filter.Len(); i++ {
			fname := filter.Index(i).Name()
			var err error
			rd, err = applyFilter(rd, fname, param.Index(i))
			if err != nil {
				v.d.anomalies.add(AnomalyDecodeFailure, SeveritySuspicious, x.ptr.public(),
					"filter chain index %d (%s): %v", i, fname, err)
				return &errorReadCloser{wrapObjectError("decode", x.ptr.public(),
					fmt.Errorf("%w: filter chain index %d (%s): %v", ErrDecode, i, fname, err))}
			}
		}
	}

	if max := v.d.opts.Limits.MaxStreamBytes; max > 0 {
		rd = &capReader{r: rd, n: max}
	}
	return nopCloser{rd}
}

// streamExtent determines how many bytes at x.offset belong to the
// stream. The declared Length wins when the data at offset+Length is
// followed by the endstream keyword; otherwise the file is scanned and
// the mismatch recorded.
func (d *Document) streamExtent(v Value, x stream) int64 {
	declared := v.Key("Length").Int64()
	if declared > 0 && x.offset+declared <= d.end && d.verifyEndstream(x.offset+declared) {
		return declared
	}

	scanned := d.scanEndstream(x.offset)
	if scanned >= 0 {
		if declared != scanned {
			d.anomalies.add(AnomalyStreamLengthBad, SeveritySuspicious, x.ptr.public(),
				"declared Length %d but endstream found after %d bytes", declared, scanned)
		}
		return scanned
	}

	// No endstream anywhere. Fall back to the declared length clipped to
	// the file, or to end of file.
	if declared > 0 {
		if x.offset+declared > d.end {
			declared = d.end - x.offset
		}
		d.anomalies.add(AnomalyFileTruncated, SeveritySuspicious, x.ptr.public(),
			"stream has no endstream keyword; using %d bytes", declared)
		return declared
	}
	d.anomalies.add(AnomalyFileTruncated, SeveritySuspicious, x.ptr.public(),
		"stream has neither Length nor endstream; using remainder of file")
	return d.end - x.offset
}

// verifyEndstream reports whether the endstream keyword follows offset,
// allowing the usual EOL bytes in between.
func (d *Document) verifyEndstream(offset int64) bool {
	var buf [16]byte
	n, _ := d.f.ReadAt(buf[:], offset)
	s := buf[:n]
	i := 0
	for i < len(s) && (s[i] == '\r' || s[i] == '\n' || s[i] == ' ') {
		i++
	}
	return bytes.HasPrefix(s[i:], []byte("endstream"))
}

// scanEndstream searches forward from offset for the endstream keyword
// and returns the stream length implied by its position, trimming one
// trailing EOL. Returns -1 when no endstream is found.
func (d *Document) scanEndstream(offset int64) int64 {
	const chunkSize = 64 << 10
	needle := []byte("endstream")
	pos := offset
	var carry []byte
	bufp := getByteBuffer()
	defer putByteBuffer(bufp)
	for pos < d.end {
		n := int64(chunkSize)
		if pos+n > d.end {
			n = d.end - pos
		}
		need := len(carry) + int(n)
		if cap(*bufp) < need {
			*bufp = make([]byte, 0, need)
		}
		chunk := (*bufp)[:need]
		copy(chunk, carry)
		m, err := d.f.ReadAt(chunk[len(carry):], pos)
		chunk = chunk[:len(carry)+m]
		if idx := bytes.Index(chunk, needle); idx >= 0 {
			length := pos - int64(len(carry)) + int64(idx) - offset
			// The keyword is preceded by an EOL that is not stream data.
			end := offset + length
			if length > 0 && d.byteAt(end-1) == '\n' {
				length--
				if length > 0 && d.byteAt(end-2) == '\r' {
					length--
				}
			} else if length > 0 && d.byteAt(end-1) == '\r' {
				length--
			}
			if length < 0 {
				length = 0
			}
			return length
		}
		if err != nil && m == 0 {
			break
		}
		pos += n
		// Keep a tail so a keyword split across chunks is still found.
		if len(chunk) >= len(needle)-1 {
			carry = append(carry[:0], chunk[len(chunk)-(len(needle)-1):]...)
		} else {
			carry = append(carry[:0], chunk...)
		}
	}
	return -1
}

func (d *Document) byteAt(offset int64) byte {
	if offset < 0 || offset >= d.end {
		return 0
	}
	var b [1]byte
	d.f.ReadAt(b[:], offset)
	return b[0]
}

func applyFilter(rd io.Reader, filterName string, param Value) (io.Reader, error) {
	switch filterName {
	default:
		return nil, fmt.Errorf("unknown filter %q", filterName)
	case "FlateDecode", "Fl":
		zr, err := zlib.NewReader(rd)
		if err != nil {
			return nil, fmt.Errorf("zlib: %v", err)
		}
		return applyPredictor(zr, param), nil
	case "LZWDecode", "LZW":
		early := param.Key("EarlyChange")
		if early.Kind() != Null && early.Int64() != 1 {
			return nil, fmt.Errorf("unsupported EarlyChange %d", early.Int64())
		}
		return applyPredictor(lzw.NewReader(rd, lzw.MSB, 8), param), nil
	case "ASCIIHexDecode", "AHx":
		return newASCIIHexDecoder(rd), nil
	case "ASCII85Decode", "A85":
		return ascii85.NewDecoder(newAlphaReader(rd)), nil
	case "RunLengthDecode", "RL":
		return newRunLengthReader(rd), nil
	case "CCITTFaxDecode", "CCF":
		return newCCITTFaxReader(rd, param), nil
	case "DCTDecode", "DCT":
		// JPEG data is passed through; consumers understand the encoding.
		return rd, nil
	case "JPXDecode":
		// JPEG2000 data is passed through.
		return rd, nil
	case "Crypt":
		// Identity crypt filter only; encrypted content stays opaque.
		return rd, nil
	}
}

// newCCITTFaxReader builds a Group 3/4 fax decoder from the PDF decode
// parameters. K selects the subformat, BlackIs1 maps to Invert, and an
// absent Rows entry means the height is detected from the data.
func newCCITTFaxReader(rd io.Reader, param Value) io.Reader {
	columns := 1728
	if c := param.Key("Columns").Int64(); c > 0 {
		columns = int(c)
	}
	rows := int(param.Key("Rows").Int64())
	if rows <= 0 {
		rows = ccitt.AutoDetectHeight
	}
	sf := ccitt.Group3
	if param.Key("K").Int64() < 0 {
		sf = ccitt.Group4
	}
	opts := &ccitt.Options{Invert: param.Key("BlackIs1").Bool(), Align: param.Key("EncodedByteAlign").Bool()}
	return ccitt.NewReader(rd, ccitt.MSB, sf, columns, rows, opts)
}

func applyPredictor(rd io.Reader, param Value) io.Reader {
	if param.Kind() != Dict {
		return rd
	}
	pred := param.Key("Predictor")
	if pred.Kind() == Null {
		return rd
	}
	switch pred.Int64() {
	case 1, 2:
		return rd
	case 10, 11, 12, 13, 14, 15:
		// PNG predictors carry a per-row filter tag, so they all decode
		// the same way; only Up (2) rows are expected in practice.
		columns := param.Key("Columns").Int64()
		if columns <= 0 {
			columns = 1
		}
		colors := param.Key("Colors").Int64()
		if colors <= 0 {
			colors = 1
		}
		bpc := param.Key("BitsPerComponent").Int64()
		if bpc <= 0 {
			bpc = 8
		}
		rowLen := (columns*colors*bpc + 7) / 8
		return &pngUpReader{r: rd, hist: make([]byte, 1+rowLen), tmp: make([]byte, 1+rowLen)}
	default:
		return rd
	}
}

type pngUpReader struct {
	r    io.Reader
	hist []byte
	tmp  []byte
	pend []byte
}

func (r *pngUpReader) Read(b []byte) (int, error) {
	n := 0
	for len(b) > 0 {
		if len(r.pend) > 0 {
			m := copy(b, r.pend)
			n += m
			b = b[m:]
			r.pend = r.pend[m:]
			continue
		}
		_, err := io.ReadFull(r.r, r.tmp)
		if err != nil {
			return n, err
		}
		switch r.tmp[0] {
		case 0:
			copy(r.hist[1:], r.tmp[1:])
		case 2:
			for i := 1; i < len(r.tmp); i++ {
				r.hist[i] += r.tmp[i]
			}
		default:
			return n, fmt.Errorf("unsupported PNG row filter %d", r.tmp[0])
		}
		r.pend = r.hist[1:]
	}
	return n, nil
}

type runLengthReader struct {
	r   *bufio.Reader
	buf []byte
	eod bool
}

func newRunLengthReader(rd io.Reader) io.Reader {
	return &runLengthReader{r: bufio.NewReader(rd)}
}

func (r *runLengthReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := 0
	for len(p) > 0 {
		if len(r.buf) == 0 {
			if r.eod {
				break
			}
			if err := r.fill(); err != nil {
				if err == io.EOF {
					break
				}
				return n, err
			}
		}
		m := copy(p, r.buf)
		n += m
		p = p[m:]
		r.buf = r.buf[m:]
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (r *runLengthReader) fill() error {
	b, err := r.r.ReadByte()
	if err != nil {
		return err
	}
	if b == 128 {
		r.eod = true
		return io.EOF
	}
	if b <= 127 {
		count := int(b) + 1
		r.buf = make([]byte, count)
		_, err := io.ReadFull(r.r, r.buf)
		return err
	}
	count := 257 - int(b)
	val, err := r.r.ReadByte()
	if err != nil {
		return err
	}
	r.buf = bytes.Repeat([]byte{val}, count)
	return nil
}

// hexTable maps ASCII bytes to hex nibble values, -1 for non-hex.
var hexTable = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for c := '0'; c <= '9'; c++ {
		t[c] = int8(c - '0')
	}
	for c := 'a'; c <= 'f'; c++ {
		t[c] = int8(c-'a') + 10
	}
	for c := 'A'; c <= 'F'; c++ {
		t[c] = int8(c-'A') + 10
	}
	return t
}()

// asciiHexDecoder decodes ASCIIHexDecode filter data. An odd number of
// digits before the > terminator implies a trailing zero nibble.
type asciiHexDecoder struct {
	r       *bufio.Reader
	err     error
	endSeen bool
}

func newASCIIHexDecoder(rd io.Reader) io.Reader {
	return &asciiHexDecoder{r: bufio.NewReader(rd)}
}

func (d *asciiHexDecoder) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if d.endSeen {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) {
		h1, stop := d.nextNibble()
		if stop {
			break
		}
		h2, stop := d.nextNibble()
		if stop {
			// Odd digit count: final digit is followed by an implied 0.
			p[n] = byte(h1 << 4)
			n++
			break
		}
		p[n] = byte(h1<<4 | h2)
		n++
	}
	if n == 0 {
		if d.err != nil && d.err != io.EOF {
			return 0, d.err
		}
		return 0, io.EOF
	}
	return n, nil
}

// nextNibble returns the next hex digit, skipping whitespace and invalid
// bytes. stop is true at the > terminator or on a read error.
func (d *asciiHexDecoder) nextNibble() (int8, bool) {
	for {
		c, err := d.r.ReadByte()
		if err != nil {
			d.err = err
			d.endSeen = true
			return -1, true
		}
		if c == '>' {
			d.endSeen = true
			d.err = io.EOF
			return -1, true
		}
		if h := hexTable[c]; h >= 0 {
			return h, false
		}
	}
}

// alphaReader passes through only the bytes the ascii85 alphabet uses,
// stopping at the ~> terminator. The stock decoder rejects the PDF
// convention of arbitrary whitespace inside the data.
type alphaReader struct {
	r    io.Reader
	done bool
}

func newAlphaReader(rd io.Reader) io.Reader {
	return &alphaReader{r: rd}
}

func (a *alphaReader) Read(p []byte) (int, error) {
	if a.done {
		return 0, io.EOF
	}
	buf := make([]byte, len(p))
	n, err := a.r.Read(buf)
	out := 0
	for i := 0; i < n; i++ {
		c := buf[i]
		if c == '~' {
			a.done = true
			break
		}
		if (c >= '!' && c <= 'u') || c == 'z' {
			p[out] = c
			out++
		}
	}
	if out == 0 && err == nil && !a.done {
		// All input was whitespace; try again rather than returning 0.
		return a.Read(p)
	}
	if a.done {
		err = nil
	}
	return out, err
}
