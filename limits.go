// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdx

import "runtime"

// A SecurityLevel controls how aggressively the classifier escalates
// anomaly severities. The structural findings are identical at every
// level; only the reported severity changes.
type SecurityLevel int

const (
	// SecurityNormal reports severities at their baseline.
	SecurityNormal SecurityLevel = iota
	// SecurityStrict escalates Info-level script and revision findings
	// to Suspicious.
	SecurityStrict
	// SecurityParanoid additionally escalates Suspicious structural
	// findings to Critical.
	SecurityParanoid
)

func (l SecurityLevel) String() string {
	switch l {
	case SecurityStrict:
		return "strict"
	case SecurityParanoid:
		return "paranoid"
	}
	return "normal"
}

// ParseLimits bounds resource use while parsing hostile input. A zero
// field means the corresponding default applies.
type ParseLimits struct {
	MaxFileBytes   int64 // reject files larger than this
	MaxObjects     int   // stop classifying past this many objects
	MaxStreamBytes int64 // cap on decoded bytes per stream
}

// Options configures how a Document is opened and analyzed.
type Options struct {
	// Depth bounds action-chain traversal during script detection,
	// clamped to [1, 5].
	Depth int

	// Workers is the number of goroutines classifying objects in
	// parallel. Defaults to NumCPU, capped at 8.
	Workers int

	SecurityLevel SecurityLevel

	Limits ParseLimits

	// Sink receives anomalies and progress events as they happen.
	// Defaults to a silent sink.
	Sink EventSink

	// CacheCapacity bounds the resolved-object LRU cache. Without a
	// bound the cache can reach gigabytes during batch processing.
	CacheCapacity int
}

const (
	defaultDepth          = 3
	maxDepth              = 5
	defaultWorkerCap      = 8
	defaultCacheCapacity  = 2000
	defaultMaxObjects     = 500_000
	defaultMaxStreamBytes = 64 << 20
	defaultMaxFileBytes   = 512 << 20
)

func (o *Options) normalize() {
	if o.Depth <= 0 {
		o.Depth = defaultDepth
	}
	if o.Depth > maxDepth {
		o.Depth = maxDepth
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
		if o.Workers > defaultWorkerCap {
			o.Workers = defaultWorkerCap
		}
	}
	if o.Sink == nil {
		o.Sink = NopSink{}
	}
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = defaultCacheCapacity
	}
	if o.Limits.MaxObjects <= 0 {
		o.Limits.MaxObjects = defaultMaxObjects
	}
	if o.Limits.MaxStreamBytes <= 0 {
		o.Limits.MaxStreamBytes = defaultMaxStreamBytes
	}
	if o.Limits.MaxFileBytes <= 0 {
		o.Limits.MaxFileBytes = defaultMaxFileBytes
	}
}

// escalate applies the security level's severity policy to a baseline.
func (l SecurityLevel) escalate(code AnomalyCode, sev Severity) Severity {
	switch l {
	case SecurityStrict:
		if sev == SeverityInfo {
			switch code {
			case AnomalyEmbeddedJavaScript, AnomalyRevisionShadowed, AnomalyStartxrefFallback:
				return SeveritySuspicious
			}
		}
	case SecurityParanoid:
		if sev == SeverityInfo {
			return SeveritySuspicious
		}
		if sev == SeveritySuspicious {
			switch code {
			case AnomalyXrefReconstructed, AnomalyAutoExecScript, AnomalyRevisionShadowed, AnomalyDisguisedFile:
				return SeverityCritical
			}
		}
	}
	return sev
}
