// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdx

// SchemaVersion identifies the layout of AnalysisResult. Consumers
// comparing stored results across tool versions should check it first.
const SchemaVersion = 1

// AnalysisResult is the complete output of analyzing one file.
type AnalysisResult struct {
	SchemaVersion int    `json:"schema_version"`
	Version       string `json:"pdf_version"`
	Linearized    bool   `json:"linearized,omitempty"`
	Rebuilt       bool   `json:"rebuilt,omitempty"`
	PageCount     int    `json:"page_count"`
	Revisions     int    `json:"revisions"`

	Metadata   Metadata          `json:"metadata"`
	Encryption EncryptionSummary `json:"encryption"`

	Objects ObjectInventory `json:"objects"`
	Digests []ObjectDigest  `json:"digests,omitempty"`

	JavaScript    []ScriptFinding    `json:"javascript,omitempty"`
	Images        []ImageInfo        `json:"images,omitempty"`
	EmbeddedFiles []EmbeddedFileInfo `json:"embedded_files,omitempty"`

	// Fingerprint is a SHA-256 over every live object's digest in id
	// order. Two files with identical object content produce the same
	// fingerprint regardless of how their xref data was laid out.
	Fingerprint string `json:"fingerprint"`

	Anomalies []Anomaly `json:"anomalies,omitempty"`
}

// ObjectInventory counts the live objects by category.
type ObjectInventory struct {
	Total       int            `json:"total"`
	Reachable   int            `json:"reachable"`
	Unreachable int            `json:"unreachable"`
	Streams     int            `json:"streams"`
	ByType      map[string]int `json:"by_type,omitempty"`
}

// An ObjectDigest records one object's identity hash. Stream objects
// are hashed over their raw stored bytes; everything else over the
// canonical serialization with sorted dictionary keys.
type ObjectDigest struct {
	ID     ObjectID `json:"id"`
	Kind   string   `json:"kind"`
	Type   string   `json:"type,omitempty"`
	SHA256 string   `json:"sha256"`
	Size   int64    `json:"size,omitempty"` // raw stream bytes, 0 for non-streams
}

// A ScriptFinding is one JavaScript payload located through the action
// graph. AutoExec findings run without user interaction.
type ScriptFinding struct {
	Object   ObjectID `json:"object"`
	Trigger  string   `json:"trigger"` // OpenAction, AA/<event>, Names, Annotation
	AutoExec bool     `json:"auto_exec"`
	Source   string   `json:"source"` // string or stream
	SHA256   string   `json:"sha256,omitempty"`
	Preview  string   `json:"preview,omitempty"`
}

// ImageInfo describes one image XObject. Probed fields come from
// decoding the actual image header and may disagree with the declared
// dictionary entries.
type ImageInfo struct {
	Object           ObjectID `json:"object"`
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	BitsPerComponent int      `json:"bits_per_component,omitempty"`
	ColorSpace       string   `json:"color_space,omitempty"`
	Filter           string   `json:"filter,omitempty"`
	ProbedFormat     string   `json:"probed_format,omitempty"`
	ProbedWidth      int      `json:"probed_width,omitempty"`
	ProbedHeight     int      `json:"probed_height,omitempty"`
}

// EmbeddedFileInfo describes one embedded file attachment.
type EmbeddedFileInfo struct {
	Object      ObjectID `json:"object"`
	Name        string   `json:"name,omitempty"`
	Subtype     string   `json:"subtype,omitempty"` // declared MIME type
	Size        int64    `json:"size,omitempty"`
	SHA256      string   `json:"sha256,omitempty"`
	SniffedType string   `json:"sniffed_type,omitempty"`
	// Disguised is set when the sniffed content type contradicts the
	// declared file extension.
	Disguised bool `json:"disguised,omitempty"`
}
