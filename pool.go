// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdx

import "sync"

// Pool of lexer buffers. Parsing touches a buffer per object lookup, so
// recycling them keeps steady-state allocation flat during a full-graph walk.
var lexBufferPool = sync.Pool{
	New: func() interface{} {
		return &buffer{
			buf:         make([]byte, 0, 65536), // 64KB capacity
			tmp:         make([]byte, 0, 256),   // 256B for tokens
			unread:      make([]token, 0, 16),
			allowObjptr: true,
			allowStream: true,
		}
	},
}

// getLexBuffer retrieves a lexer buffer from the pool.
func getLexBuffer() *buffer {
	return lexBufferPool.Get().(*buffer)
}

// putLexBuffer returns a lexer buffer to the pool after resetting it.
func putLexBuffer(b *buffer) {
	b.r = nil
	b.buf = b.buf[:0]
	b.pos = 0
	b.offset = 0
	b.tmp = b.tmp[:0]
	b.unread = b.unread[:0]
	b.allowEOF = false
	b.allowObjptr = true
	b.allowStream = true
	b.eof = false
	b.readErr = nil
	b.lexErrs = nil
	b.objptr = objptr{}
	lexBufferPool.Put(b)
}

// Pool for byte buffers used when materializing stream content.
var byteBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, 4096)
		return &buf
	},
}

func getByteBuffer() *[]byte {
	return byteBufferPool.Get().(*[]byte)
}

func putByteBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	byteBufferPool.Put(buf)
}
