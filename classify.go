// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The forensic classifier: per-object digests, script detection through
// the action graph, image and embedded-file inventories, and the final
// result assembly.

package pdx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/tiff"
)

// Analyze runs the full pipeline: graph construction, parallel object
// classification, script detection, and result assembly.
func (d *Document) Analyze(ctx context.Context) (*AnalysisResult, error) {
	graph, err := d.BuildGraph(ctx)
	if err != nil {
		return nil, err
	}

	d.opts.Sink.Stage("classify")
	objects := graph.Objects()
	digests := make([]ObjectDigest, len(objects))
	images := make([][]ImageInfo, len(objects))
	embedded := make([][]EmbeddedFileInfo, len(objects))

	// Fan out over a bounded worker pool. Each index is written by
	// exactly one goroutine, so the slices need no locking.
	var wg sync.WaitGroup
	var ctxErr error
	var errOnce sync.Once
	sem := make(chan struct{}, d.opts.Workers)
	for i, id := range objects {
		wg.Add(1)
		go func(i int, id ObjectID) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errOnce.Do(func() { ctxErr = ctx.Err() })
				return
			}
			v := d.resolve(objptr{}, id.ptr())
			digests[i] = d.digestObject(id, v)
			if img, ok := d.classifyImage(id, v); ok {
				images[i] = []ImageInfo{img}
			}
			if ef, ok := d.classifyEmbeddedFile(id, v); ok {
				embedded[i] = []EmbeddedFileInfo{ef}
			}
		}(i, id)
	}
	wg.Wait()
	if ctxErr != nil {
		return nil, wrapError("classify", ctxErr)
	}

	scripts := d.detectScripts(graph)

	res := &AnalysisResult{
		SchemaVersion: SchemaVersion,
		Version:       d.version.String(),
		Linearized:    d.Linearized(),
		Rebuilt:       d.rebuilt,
		PageCount:     d.PageCount(),
		Revisions:     len(d.revisions),
		Metadata:      d.Metadata(),
		Encryption:    d.Encryption(),
		Digests:       digests,
		JavaScript:    scripts,
	}
	for _, imgs := range images {
		res.Images = append(res.Images, imgs...)
	}
	for _, efs := range embedded {
		res.EmbeddedFiles = append(res.EmbeddedFiles, efs...)
	}

	res.Objects = d.inventory(graph, digests)
	res.Fingerprint = fingerprint(digests)

	// Severity escalation happens once, over the final list, so the
	// structural findings themselves are level-independent.
	anomalies := d.anomalies.all()
	for i := range anomalies {
		anomalies[i].Severity = d.opts.SecurityLevel.escalate(anomalies[i].Code, anomalies[i].Severity)
	}
	res.Anomalies = anomalies
	return res, nil
}

func (d *Document) inventory(graph *ObjectGraph, digests []ObjectDigest) ObjectInventory {
	inv := ObjectInventory{
		Total:  len(digests),
		ByType: make(map[string]int),
	}
	for _, dg := range digests {
		if dg.Kind == "Stream" || dg.Size > 0 {
			inv.Streams++
		}
		typ := dg.Type
		if typ == "" {
			typ = "(untyped)"
		}
		inv.ByType[typ]++
		if graph.Reachable(dg.ID) {
			inv.Reachable++
		} else {
			inv.Unreachable++
		}
	}
	return inv
}

// fingerprint folds every object digest, in id order, into one hash.
func fingerprint(digests []ObjectDigest) string {
	sorted := make([]ObjectDigest, len(digests))
	copy(sorted, digests)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ID.Number != sorted[j].ID.Number {
			return sorted[i].ID.Number < sorted[j].ID.Number
		}
		return sorted[i].ID.Generation < sorted[j].ID.Generation
	})
	h := sha256.New()
	for _, dg := range sorted {
		fmt.Fprintf(h, "%d %d %s\n", dg.ID.Number, dg.ID.Generation, dg.SHA256)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// digestObject hashes one object: raw stored bytes for streams, the
// canonical serialization for everything else.
func (d *Document) digestObject(id ObjectID, v Value) ObjectDigest {
	dg := ObjectDigest{ID: id, Kind: v.Kind().String()}
	switch x := v.data.(type) {
	case stream:
		dg.Type = nameOf(x.hdr["Type"])
		h := sha256.New()
		r := v.RawReader()
		n, err := io.Copy(h, r)
		r.Close()
		if err != nil {
			d.anomalies.add(AnomalyDecodeFailure, SeverityInfo, id, "hashing raw stream: %v", err)
		}
		// The header participates too, or swapping headers between
		// identical stream bodies would go unnoticed.
		io.WriteString(h, objfmt(x.hdr))
		dg.SHA256 = hex.EncodeToString(h.Sum(nil))
		dg.Size = n
	case dict:
		dg.Type = nameOf(x["Type"])
		sum := sha256.Sum256([]byte(objfmt(v.data)))
		dg.SHA256 = hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256([]byte(objfmt(v.data)))
		dg.SHA256 = hex.EncodeToString(sum[:])
	}
	return dg
}

// classifyImage recognizes image XObjects and probes their actual
// encoded header where a decoder is available.
func (d *Document) classifyImage(id ObjectID, v Value) (ImageInfo, bool) {
	x, ok := v.data.(stream)
	if !ok {
		return ImageInfo{}, false
	}
	if nameOf(x.hdr["Subtype"]) != "Image" {
		return ImageInfo{}, false
	}
	img := ImageInfo{
		Object:           id,
		Width:            int(v.Key("Width").Int64()),
		Height:           int(v.Key("Height").Int64()),
		BitsPerComponent: int(v.Key("BitsPerComponent").Int64()),
		ColorSpace:       colorSpaceName(v.Key("ColorSpace")),
		Filter:           filterNames(v.Key("Filter")),
	}

	// DCTDecode passes JPEG through untouched, so the stock decoder can
	// read its header. Unfiltered streams might be anything; try the
	// registered formats and then TIFF.
	switch {
	case strings.Contains(img.Filter, "DCTDecode"):
		r := v.Reader()
		if cfg, format, err := image.DecodeConfig(r); err == nil {
			img.ProbedFormat = format
			img.ProbedWidth = cfg.Width
			img.ProbedHeight = cfg.Height
		}
		r.Close()
	case img.Filter == "":
		r := v.Reader()
		if cfg, format, err := image.DecodeConfig(r); err == nil {
			img.ProbedFormat = format
			img.ProbedWidth = cfg.Width
			img.ProbedHeight = cfg.Height
		} else {
			r.Close()
			r = v.Reader()
			if cfg, err := tiff.DecodeConfig(r); err == nil {
				img.ProbedFormat = "tiff"
				img.ProbedWidth = cfg.Width
				img.ProbedHeight = cfg.Height
			}
		}
		r.Close()
	}
	return img, true
}

func colorSpaceName(v Value) string {
	switch v.Kind() {
	case Name:
		return v.Name()
	case Array:
		if v.Len() > 0 {
			return v.Index(0).Name()
		}
	}
	return ""
}

func filterNames(v Value) string {
	switch v.Kind() {
	case Name:
		return v.Name()
	case Array:
		var names []string
		for i := 0; i < v.Len(); i++ {
			names = append(names, v.Index(i).Name())
		}
		return strings.Join(names, "+")
	}
	return ""
}

// extensionTypes maps file extensions to the content-type prefix their
// content should sniff as.
var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".xml":  "text/xml",
	".html": "text/html",
	".zip":  "application/zip",
	".docx": "application/zip",
	".xlsx": "application/zip",
	".exe":  "application/vnd.microsoft.portable-executable",
}

// classifyEmbeddedFile recognizes file specifications with embedded
// content, hashes the content, and sniffs it for extension spoofing.
func (d *Document) classifyEmbeddedFile(id ObjectID, v Value) (EmbeddedFileInfo, bool) {
	dv, ok := v.data.(dict)
	if !ok || nameOf(dv["Type"]) != "Filespec" {
		return EmbeddedFileInfo{}, false
	}
	ef := v.Key("EF")
	if ef.Kind() != Dict {
		return EmbeddedFileInfo{}, false
	}
	fileStream := ef.Key("F")
	if fileStream.Kind() != Stream {
		fileStream = ef.Key("UF")
	}
	if fileStream.Kind() != Stream {
		return EmbeddedFileInfo{}, false
	}

	info := EmbeddedFileInfo{Object: id}
	info.Name = v.Key("UF").Text()
	if info.Name == "" {
		info.Name = v.Key("F").Text()
	}
	info.Subtype = fileStream.Key("Subtype").Name()
	info.Size = fileStream.Key("Params").Key("Size").Int64()

	r := fileStream.Reader()
	h := sha256.New()
	head := make([]byte, 512)
	n, _ := io.ReadFull(r, head)
	head = head[:n]
	h.Write(head)
	copied, _ := io.Copy(h, r)
	r.Close()
	info.SHA256 = hex.EncodeToString(h.Sum(nil))
	if info.Size == 0 {
		info.Size = int64(n) + copied
	}

	info.SniffedType = sniffContent(head)

	if ext := strings.ToLower(path.Ext(info.Name)); ext != "" {
		if want, known := extensionTypes[ext]; known && info.SniffedType != "" {
			if !strings.HasPrefix(info.SniffedType, want) {
				info.Disguised = true
				d.anomalies.add(AnomalyDisguisedFile, SeveritySuspicious, id,
					"embedded file %q sniffs as %s", info.Name, info.SniffedType)
			}
		}
	}
	return info, true
}

// sniffContent identifies content by its magic bytes. The stock sniffer
// does not know PDF signatures, so those are checked first.
func sniffContent(head []byte) string {
	if len(head) == 0 {
		return ""
	}
	if len(head) >= 5 && string(head[:5]) == "%PDF-" {
		return "application/pdf"
	}
	t := http.DetectContentType(head)
	if i := strings.Index(t, ";"); i >= 0 {
		t = t[:i]
	}
	return t
}

// detectScripts walks the action graph looking for JavaScript. Only
// structural traversal is used: an OpenAction entry, AA event
// dictionaries, the Names tree, and annotation actions. Raw byte
// scanning would flag /JS inside content text, so it is deliberately
// not done here.
func (d *Document) detectScripts(graph *ObjectGraph) []ScriptFinding {
	d.opts.Sink.Stage("scripts")
	var findings []ScriptFinding
	seen := make(map[ObjectID]bool)

	root := d.Trailer().Key("Root")

	// OpenAction runs when the document opens.
	if oa := root.Key("OpenAction"); oa.Kind() == Dict {
		findings = d.walkAction(oa, "OpenAction", true, d.opts.Depth, seen, findings)
	}

	// Document-level additional actions (WillClose, WillSave, ...).
	if aa := root.Key("AA"); aa.Kind() == Dict {
		for _, event := range aa.Keys() {
			findings = d.walkAction(aa.Key(event), "AA/"+event, true, d.opts.Depth, seen, findings)
		}
	}

	// The Names tree holds document scripts addressable by name.
	njs := root.Key("Names").Key("JavaScript")
	if njs.Kind() == Dict {
		findings = d.walkNameTree(njs, seen, findings, d.opts.Depth)
	}

	// Page and annotation actions. The graph already enumerates every
	// live object, which avoids walking the page tree separately.
	for _, id := range graph.Objects() {
		v := d.resolve(objptr{}, id.ptr())
		dv, ok := v.data.(dict)
		if !ok {
			if s, sok := v.data.(stream); sok {
				dv = s.hdr
			} else {
				continue
			}
		}
		typ := nameOf(dv["Type"])
		if aa, ok := dv["AA"]; ok {
			aav := d.resolve(id.ptr(), aa)
			auto := typ == "Page" || typ == "Catalog"
			for _, event := range aav.Keys() {
				findings = d.walkAction(aav.Key(event), "AA/"+event, auto, d.opts.Depth, seen, findings)
			}
		}
		if typ == "Annot" {
			if a, ok := dv["A"]; ok {
				findings = d.walkAction(d.resolve(id.ptr(), a), "Annotation", false, d.opts.Depth, seen, findings)
			}
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Object.Number != findings[j].Object.Number {
			return findings[i].Object.Number < findings[j].Object.Number
		}
		return findings[i].Trigger < findings[j].Trigger
	})
	return findings
}

// walkAction inspects one action dictionary and follows its Next chain
// up to the configured depth.
func (d *Document) walkAction(action Value, trigger string, autoExec bool, depth int, seen map[ObjectID]bool, findings []ScriptFinding) []ScriptFinding {
	if action.Kind() != Dict {
		return findings
	}
	if depth <= 0 {
		d.anomalies.add(AnomalyActionDepthExceeded, SeverityInfo, action.ID(),
			"action chain from %s truncated at depth limit", trigger)
		return findings
	}
	if id := action.ID(); id != (ObjectID{}) {
		if seen[id] {
			return findings
		}
		seen[id] = true
	}

	if action.Key("S").Name() == "JavaScript" {
		if f, ok := d.scriptFinding(action, trigger, autoExec); ok {
			findings = append(findings, f)
		}
	}

	next := action.RawKey("Next")
	switch next.Kind() {
	case Dict, Reference:
		findings = d.walkAction(next.Resolve(), trigger, autoExec, depth-1, seen, findings)
	case Array:
		for i := 0; i < next.Len(); i++ {
			findings = d.walkAction(next.Index(i), trigger, autoExec, depth-1, seen, findings)
		}
	}
	return findings
}

// walkNameTree visits the JavaScript name tree's leaves.
func (d *Document) walkNameTree(node Value, seen map[ObjectID]bool, findings []ScriptFinding, depth int) []ScriptFinding {
	if node.Kind() != Dict {
		return findings
	}
	if depth <= 0 {
		d.anomalies.add(AnomalyActionDepthExceeded, SeverityInfo, node.ID(),
			"name tree deeper than traversal limit")
		return findings
	}
	if id := node.ID(); id != (ObjectID{}) {
		if seen[id] {
			return findings
		}
		seen[id] = true
	}
	names := node.Key("Names")
	for i := 1; i < names.Len(); i += 2 {
		findings = d.walkAction(names.Index(i), "Names", false, d.opts.Depth, seen, findings)
	}
	kids := node.Key("Kids")
	for i := 0; i < kids.Len(); i++ {
		findings = d.walkNameTree(kids.Index(i), seen, findings, depth-1)
	}
	return findings
}

const scriptPreviewLen = 128

// scriptFinding materializes one JavaScript action's payload.
func (d *Document) scriptFinding(action Value, trigger string, autoExec bool) (ScriptFinding, bool) {
	f := ScriptFinding{
		Object:   action.ID(),
		Trigger:  trigger,
		AutoExec: autoExec,
	}
	js := action.Key("JS")
	var payload []byte
	switch js.Kind() {
	case String:
		f.Source = "string"
		payload = []byte(js.RawString())
	case Stream:
		f.Source = "stream"
		r := js.Reader()
		payload, _ = io.ReadAll(r)
		r.Close()
		if f.Object == (ObjectID{}) {
			f.Object = js.ID()
		}
	default:
		return ScriptFinding{}, false
	}

	sum := sha256.Sum256(payload)
	f.SHA256 = hex.EncodeToString(sum[:])
	preview := payload
	if len(preview) > scriptPreviewLen {
		preview = preview[:scriptPreviewLen]
	}
	f.Preview = string(preview)

	if autoExec {
		d.anomalies.add(AnomalyAutoExecScript, SeveritySuspicious, f.Object,
			"JavaScript runs automatically via %s", trigger)
	} else {
		d.anomalies.add(AnomalyEmbeddedJavaScript, SeverityInfo, f.Object,
			"JavaScript reachable via %s", trigger)
	}
	return f, true
}
