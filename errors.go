// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdx

import (
	"errors"
	"fmt"
)

// AnalyzeError is an error that occurred while analyzing a PDF.
// It carries the operation that failed and, when known, the object involved.
type AnalyzeError struct {
	Op     string // Operation that failed (e.g., "read xref", "decode stream")
	Object ObjectID
	Err    error // Underlying error
}

func (e *AnalyzeError) Error() string {
	if e.Object.Number != 0 {
		return fmt.Sprintf("pdx: %s: object %d %d: %v", e.Op, e.Object.Number, e.Object.Generation, e.Err)
	}
	return fmt.Sprintf("pdx: %s: %v", e.Op, e.Err)
}

func (e *AnalyzeError) Unwrap() error {
	return e.Err
}

// Error taxonomy. Object- and stream-scoped errors degrade to anomaly records;
// document-scoped errors abort the analysis.
var (
	// ErrLex indicates a malformed token in the byte stream.
	ErrLex = errors.New("malformed token")

	// ErrMalformedObject indicates a structural break inside an indirect object,
	// such as a missing endobj or endstream beyond the recovery window.
	ErrMalformedObject = errors.New("malformed object")

	// ErrCrossReference indicates the trailer/xref chain is unusable.
	// Brute-force reconstruction is attempted before this becomes fatal.
	ErrCrossReference = errors.New("unusable cross-reference structure")

	// ErrDecode indicates a stream filter failure. Object-scoped, never fatal.
	ErrDecode = errors.New("stream decode failure")

	// ErrCyclicReference indicates an indirect reference cycle. The cycle is
	// broken by substituting null; the error only surfaces as an anomaly.
	ErrCyclicReference = errors.New("cyclic object reference")

	// ErrNotPDF indicates the input does not carry a recognizable PDF header.
	ErrNotPDF = errors.New("not a PDF file")

	// ErrTooLarge indicates an input exceeded a configured parse limit.
	ErrTooLarge = errors.New("input exceeds configured limit")
)

// wrapError wraps an error with operation context.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &AnalyzeError{Op: op, Err: err}
}

// wrapObjectError wraps an error with operation and object context.
func wrapObjectError(op string, id ObjectID, err error) error {
	if err == nil {
		return nil
	}
	return &AnalyzeError{Op: op, Object: id, Err: err}
}
