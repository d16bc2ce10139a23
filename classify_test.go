// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdx

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"testing"
)

func TestAnalyzeMinimal(t *testing.T) {
	d := openBytes(t, minimalPDF(), nil)
	defer d.Close()

	res, err := d.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.SchemaVersion != SchemaVersion {
		t.Errorf("SchemaVersion = %d", res.SchemaVersion)
	}
	if res.Version != "1.4" {
		t.Errorf("Version = %q", res.Version)
	}
	if res.PageCount != 1 || res.Revisions != 1 || res.Rebuilt {
		t.Errorf("PageCount=%d Revisions=%d Rebuilt=%v", res.PageCount, res.Revisions, res.Rebuilt)
	}
	if res.Objects.Total != 5 || res.Objects.Reachable != 5 || res.Objects.Unreachable != 0 {
		t.Errorf("inventory = %+v", res.Objects)
	}
	if res.Objects.Streams != 1 {
		t.Errorf("Streams = %d, want 1", res.Objects.Streams)
	}
	if res.Objects.ByType["Catalog"] != 1 || res.Objects.ByType["Page"] != 1 {
		t.Errorf("ByType = %v", res.Objects.ByType)
	}
	if len(res.Fingerprint) != 64 {
		t.Errorf("Fingerprint = %q", res.Fingerprint)
	}
	if len(res.JavaScript) != 0 {
		t.Errorf("JavaScript findings = %v", res.JavaScript)
	}
	if res.Encryption.Encrypted {
		t.Error("Encrypted = true")
	}
	if len(res.Anomalies) != 0 {
		t.Errorf("anomalies = %v", res.Anomalies)
	}
}

func TestFingerprintStableAcrossXrefDamage(t *testing.T) {
	intact := minimalPDF()
	damaged := bytes.Replace(intact, []byte("\nxref\n"), []byte("\nxrEF\n"), 1)

	d1 := openBytes(t, intact, nil)
	defer d1.Close()
	d2 := openBytes(t, damaged, nil)
	defer d2.Close()

	r1, err := d1.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze intact: %v", err)
	}
	r2, err := d2.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze damaged: %v", err)
	}
	if !r2.Rebuilt {
		t.Fatal("damaged file not rebuilt")
	}
	if r1.Fingerprint != r2.Fingerprint {
		t.Errorf("fingerprint changed with xref damage:\n  intact  %s\n  rebuilt %s", r1.Fingerprint, r2.Fingerprint)
	}
}

func TestFingerprintChangesWithContent(t *testing.T) {
	b := newPDF("1.4")
	b.add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.add(3, "(original)")
	d1 := openBytes(t, b.finish(1), nil)
	defer d1.Close()

	b2 := newPDF("1.4")
	b2.add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b2.add(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b2.add(3, "(tampered)")
	d2 := openBytes(t, b2.finish(1), nil)
	defer d2.Close()

	r1, err := d1.Analyze(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	r2, err := d2.Analyze(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r1.Fingerprint == r2.Fingerprint {
		t.Error("fingerprint identical for different object content")
	}
}

func openActionPDF() []byte {
	b := newPDF("1.4")
	b.add(1, "<< /Type /Catalog /Pages 2 0 R /OpenAction 4 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add(3, "<< /Type /Page /Parent 2 0 R >>")
	b.add(4, "<< /S /JavaScript /JS (app.alert(1)) >>")
	return b.finish(1)
}

func TestOpenActionJavaScript(t *testing.T) {
	d := openBytes(t, openActionPDF(), nil)
	defer d.Close()

	res, err := d.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.JavaScript) != 1 {
		t.Fatalf("JavaScript findings = %d, want 1", len(res.JavaScript))
	}
	f := res.JavaScript[0]
	if f.Trigger != "OpenAction" || !f.AutoExec || f.Source != "string" {
		t.Errorf("finding = %+v", f)
	}
	if f.Preview != "app.alert(1)" {
		t.Errorf("Preview = %q", f.Preview)
	}
	if f.Object.Number != 4 {
		t.Errorf("Object = %v, want 4", f.Object)
	}
	found := false
	for _, a := range res.Anomalies {
		if a.Code == AnomalyAutoExecScript && a.Severity == SeveritySuspicious {
			found = true
		}
	}
	if !found {
		t.Errorf("missing AutoExecScript anomaly, have %v", res.Anomalies)
	}
}

func TestAnnotationJavaScript(t *testing.T) {
	b := newPDF("1.4")
	b.add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add(3, "<< /Type /Page /Parent 2 0 R /Annots [4 0 R] >>")
	b.add(4, "<< /Type /Annot /Subtype /Link /A << /S /JavaScript /JS (this.print()) >> >>")
	d := openBytes(t, b.finish(1), nil)
	defer d.Close()

	res, err := d.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.JavaScript) != 1 {
		t.Fatalf("JavaScript findings = %d, want 1", len(res.JavaScript))
	}
	f := res.JavaScript[0]
	if f.Trigger != "Annotation" || f.AutoExec {
		t.Errorf("finding = %+v", f)
	}
	if !hasAnomaly(res.Anomalies, AnomalyEmbeddedJavaScript) {
		t.Errorf("missing EmbeddedJavaScript anomaly, have %v", res.Anomalies)
	}
	if hasAnomaly(res.Anomalies, AnomalyAutoExecScript) {
		t.Error("annotation action flagged as auto-executing")
	}
}

func TestNamesTreeJavaScript(t *testing.T) {
	b := newPDF("1.4")
	b.add(1, "<< /Type /Catalog /Pages 2 0 R /Names << /JavaScript 4 0 R >> >>")
	b.add(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add(3, "<< /Type /Page /Parent 2 0 R >>")
	b.add(4, "<< /Names [(init) 5 0 R] >>")
	b.add(5, "<< /S /JavaScript /JS (console.println(2)) >>")
	d := openBytes(t, b.finish(1), nil)
	defer d.Close()

	res, err := d.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.JavaScript) != 1 {
		t.Fatalf("JavaScript findings = %d, want 1", len(res.JavaScript))
	}
	if f := res.JavaScript[0]; f.Trigger != "Names" || f.AutoExec {
		t.Errorf("finding = %+v", f)
	}
}

func TestActionNextChainDepth(t *testing.T) {
	// A Next chain longer than the traversal depth: the tail must be
	// reported as truncated, not followed forever.
	b := newPDF("1.4")
	b.add(1, "<< /Type /Catalog /Pages 2 0 R /OpenAction 3 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.add(3, "<< /S /GoTo /Next 4 0 R >>")
	b.add(4, "<< /S /GoTo /Next 5 0 R >>")
	b.add(5, "<< /S /JavaScript /JS (deep()) >>")
	opts := &Options{Depth: 2}
	d := openBytes(t, b.finish(1), opts)
	defer d.Close()

	res, err := d.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.JavaScript) != 0 {
		t.Errorf("script beyond depth limit was reported: %v", res.JavaScript)
	}
	if !hasAnomaly(res.Anomalies, AnomalyActionDepthExceeded) {
		t.Errorf("missing ActionDepthExceeded anomaly, have %v", res.Anomalies)
	}
}

func TestSeverityEscalation(t *testing.T) {
	base := openActionPDF()

	for _, tt := range []struct {
		level SecurityLevel
		want  Severity
	}{
		{SecurityNormal, SeveritySuspicious},
		{SecurityParanoid, SeverityCritical},
	} {
		d := openBytes(t, base, &Options{SecurityLevel: tt.level})
		res, err := d.Analyze(context.Background())
		if err != nil {
			t.Fatalf("Analyze at %v: %v", tt.level, err)
		}
		var got Severity
		for _, a := range res.Anomalies {
			if a.Code == AnomalyAutoExecScript {
				got = a.Severity
			}
		}
		if got != tt.want {
			t.Errorf("level %v: AutoExecScript severity = %v, want %v", tt.level, got, tt.want)
		}
		d.Close()
	}
}

func TestImageInventory(t *testing.T) {
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, image.NewRGBA(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatal(err)
	}
	pngBytes := pngBuf.Bytes()

	b := newPDF("1.4")
	b.add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.addStream(3, fmt.Sprintf(
		"<< /Type /XObject /Subtype /Image /Width 3 /Height 2 /BitsPerComponent 8 /ColorSpace /DeviceRGB /Length %d >>",
		len(pngBytes)), pngBytes)
	d := openBytes(t, b.finish(1), nil)
	defer d.Close()

	res, err := d.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Images) != 1 {
		t.Fatalf("Images = %d, want 1", len(res.Images))
	}
	img := res.Images[0]
	if img.Width != 3 || img.Height != 2 || img.ColorSpace != "DeviceRGB" {
		t.Errorf("declared fields = %+v", img)
	}
	if img.ProbedFormat != "png" || img.ProbedWidth != 3 || img.ProbedHeight != 2 {
		t.Errorf("probe = %+v", img)
	}
}

func TestEmbeddedFileDisguised(t *testing.T) {
	payload := []byte("%PDF-1.7\nnot really a text file\n%%EOF")

	b := newPDF("1.4")
	b.add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.add(3, "<< /Type /Filespec /F (notes.txt) /EF << /F 4 0 R >> >>")
	b.addStream(4, fmt.Sprintf("<< /Type /EmbeddedFile /Length %d >>", len(payload)), payload)
	d := openBytes(t, b.finish(1), nil)
	defer d.Close()

	res, err := d.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.EmbeddedFiles) != 1 {
		t.Fatalf("EmbeddedFiles = %d, want 1", len(res.EmbeddedFiles))
	}
	ef := res.EmbeddedFiles[0]
	if ef.Name != "notes.txt" {
		t.Errorf("Name = %q", ef.Name)
	}
	if ef.SniffedType != "application/pdf" {
		t.Errorf("SniffedType = %q", ef.SniffedType)
	}
	if !ef.Disguised {
		t.Error("Disguised = false for a PDF posing as .txt")
	}
	if ef.Size != int64(len(payload)) {
		t.Errorf("Size = %d, want %d", ef.Size, len(payload))
	}
	if !hasAnomaly(res.Anomalies, AnomalyDisguisedFile) {
		t.Errorf("missing DisguisedFile anomaly, have %v", res.Anomalies)
	}
}

func TestEncryptionSummary(t *testing.T) {
	b := newPDF("1.4")
	b.add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.add(3, "<< /Filter /Standard /V 1 /R 2 /Length 40 /P -44 >>")
	data := b.finishTrailer(fmt.Sprintf("<< /Size %d /Root 1 0 R /Encrypt 3 0 R >>", b.size()))
	d := openBytes(t, data, nil)
	defer d.Close()

	enc := d.Encryption()
	if !enc.Encrypted {
		t.Fatal("Encrypted = false")
	}
	if enc.Filter != "Standard" || enc.V != 1 || enc.KeyBits != 40 {
		t.Errorf("summary = %+v", enc)
	}
	hasPrint := false
	for _, p := range enc.Permissions {
		if p == "print" {
			hasPrint = true
		}
		if p == "modify" {
			t.Error("modify permission reported although bit 4 is clear")
		}
	}
	if !hasPrint {
		t.Errorf("print permission missing: %v", enc.Permissions)
	}
	if !hasAnomaly(d.Anomalies(), AnomalyWeakEncryption) {
		t.Errorf("missing WeakEncryption anomaly, have %v", d.Anomalies())
	}
}

func TestSniffContent(t *testing.T) {
	tests := []struct {
		head string
		want string
	}{
		{"%PDF-1.7 blah", "application/pdf"},
		{"\x89PNG\r\n\x1a\n0000000", "image/png"},
		{"plain old text content", "text/plain"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sniffContent([]byte(tt.head)); got != tt.want {
			t.Errorf("sniffContent(%q) = %q, want %q", tt.head, got, tt.want)
		}
	}
}

func TestFingerprintOrderIndependent(t *testing.T) {
	digests := []ObjectDigest{
		{ID: ObjectID{Number: 2}, SHA256: strings.Repeat("b", 64)},
		{ID: ObjectID{Number: 1}, SHA256: strings.Repeat("a", 64)},
	}
	reversed := []ObjectDigest{digests[1], digests[0]}
	if fingerprint(digests) != fingerprint(reversed) {
		t.Error("fingerprint depends on digest slice order")
	}
}
