// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdx

import (
	"fmt"
	"log/slog"
)

// An EventSink receives analysis events as they happen, before the final
// result is assembled. Implementations must be safe for concurrent use.
type EventSink interface {
	// Anomaly is called once per recorded anomaly.
	Anomaly(a Anomaly)
	// Stage marks entry into a named phase of the pipeline.
	Stage(name string)
	// Debugf reports low-level diagnostics.
	Debugf(format string, args ...interface{})
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Anomaly(Anomaly)               {}
func (NopSink) Stage(string)                  {}
func (NopSink) Debugf(string, ...interface{}) {}

// SlogSink forwards events to a structured logger.
type SlogSink struct {
	L *slog.Logger
}

// NewSlogSink returns a sink writing to l, or to slog.Default when l is nil.
func NewSlogSink(l *slog.Logger) SlogSink {
	if l == nil {
		l = slog.Default()
	}
	return SlogSink{L: l}
}

func (s SlogSink) Anomaly(a Anomaly) {
	s.L.Warn("anomaly",
		"code", string(a.Code),
		"severity", a.Severity.String(),
		"object", a.Object.String(),
		"detail", a.Detail,
	)
}

func (s SlogSink) Stage(name string) {
	s.L.Info("stage", "name", name)
}

func (s SlogSink) Debugf(format string, args ...interface{}) {
	s.L.Debug(fmt.Sprintf(format, args...))
}
