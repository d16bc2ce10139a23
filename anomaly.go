// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdx

import (
	"fmt"
	"sync"
)

// Severity ranks how strongly an anomaly suggests anti-forensic intent.
type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuspicious
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeveritySuspicious:
		return "Suspicious"
	case SeverityCritical:
		return "Critical"
	}
	return "Info"
}

// AnomalyCode identifies a class of structural inconsistency.
type AnomalyCode string

// Anomaly codes raised across the analysis pipeline. Every recovered error
// becomes one of these; nothing is silently dropped.
const (
	AnomalyHeaderDisplaced     AnomalyCode = "header-displaced"
	AnomalyMissingEOF          AnomalyCode = "missing-eof"
	AnomalyStartxrefFallback   AnomalyCode = "startxref-fallback"
	AnomalyXrefReconstructed   AnomalyCode = "xref-reconstructed"
	AnomalyTrailerSynthesized  AnomalyCode = "trailer-synthesized"
	AnomalyOffsetOutOfBounds   AnomalyCode = "offset-out-of-bounds"
	AnomalyObjectIDMismatch    AnomalyCode = "object-id-mismatch"
	AnomalyLexError            AnomalyCode = "malformed-token"
	AnomalyMalformedObject     AnomalyCode = "malformed-object"
	AnomalyStreamLengthBad     AnomalyCode = "stream-length-mismatch"
	AnomalyDecodeFailure       AnomalyCode = "stream-decode-failure"
	AnomalyCyclicReference     AnomalyCode = "cyclic-reference"
	AnomalyDanglingReference   AnomalyCode = "dangling-reference"
	AnomalyUnreachableObject   AnomalyCode = "unreachable-object"
	AnomalyRevisionShadowed    AnomalyCode = "revision-shadowed-object"
	AnomalyDuplicateObject     AnomalyCode = "duplicate-object"
	AnomalyAutoExecScript      AnomalyCode = "auto-executing-script"
	AnomalyEmbeddedJavaScript  AnomalyCode = "embedded-javascript"
	AnomalyDisguisedFile       AnomalyCode = "disguised-embedded-file"
	AnomalyWeakEncryption      AnomalyCode = "weak-encryption"
	AnomalyActionDepthExceeded AnomalyCode = "action-depth-exceeded"
	AnomalyFileTruncated       AnomalyCode = "file-truncated"
)

// An Anomaly is one recovered inconsistency, tied to an object when known.
type Anomaly struct {
	Code     AnomalyCode `json:"code"`
	Severity Severity    `json:"severity"`
	Object   ObjectID    `json:"object,omitempty"`
	Detail   string      `json:"detail"`
}

func (a Anomaly) String() string {
	if a.Object.Number != 0 {
		return fmt.Sprintf("[%s] %s (object %s): %s", a.Severity, a.Code, a.Object, a.Detail)
	}
	return fmt.Sprintf("[%s] %s: %s", a.Severity, a.Code, a.Detail)
}

// anomalyLog collects anomalies in observation order. It is safe for
// concurrent use by the classification workers.
type anomalyLog struct {
	mu   sync.Mutex
	list []Anomaly
	sink EventSink
}

func newAnomalyLog(sink EventSink) *anomalyLog {
	if sink == nil {
		sink = NopSink{}
	}
	return &anomalyLog{sink: sink}
}

func (l *anomalyLog) add(code AnomalyCode, sev Severity, id ObjectID, format string, args ...interface{}) {
	a := Anomaly{
		Code:     code,
		Severity: sev,
		Object:   id,
		Detail:   fmt.Sprintf(format, args...),
	}
	l.mu.Lock()
	l.list = append(l.list, a)
	l.mu.Unlock()
	l.sink.Anomaly(a)
}

func (l *anomalyLog) all() []Anomaly {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Anomaly, len(l.list))
	copy(out, l.list)
	return out
}

func (l *anomalyLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.list)
}
