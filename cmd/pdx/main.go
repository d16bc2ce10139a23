// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pdx analyzes the structure of PDF files for forensic review.
//
// Usage:
//
//	pdx [options] analyze file.pdf   full analysis, JSON on stdout
//	pdx [options] check file.pdf     quick landmark check, no parsing
//	pdx [options] dump file.pdf N    hex dump of object N's stream
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/midbel/hexdump"

	"github.com/pdxtool/pdx"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("pdx: ")

	level := flag.String("level", "normal", "Severity policy: normal, strict, paranoid")
	depth := flag.Int("depth", 0, "Action chain traversal depth (1-5, 0 for default)")
	workers := flag.Int("workers", 0, "Concurrent classification workers (0 for default)")
	digests := flag.Bool("digests", false, "Include per-object digests in analyze output")
	raw := flag.Bool("raw", false, "Dump the stored bytes instead of the decoded stream")
	verbose := flag.Bool("v", false, "Log parser stages and anomalies to stderr")
	flag.Parse()

	if flag.NArg() < 2 {
		usage()
	}
	cmd, file := flag.Arg(0), flag.Arg(1)

	opts := &pdx.Options{
		Depth:   *depth,
		Workers: *workers,
	}
	switch strings.ToLower(*level) {
	case "normal", "":
		opts.SecurityLevel = pdx.SecurityNormal
	case "strict":
		opts.SecurityLevel = pdx.SecurityStrict
	case "paranoid":
		opts.SecurityLevel = pdx.SecurityParanoid
	default:
		log.Fatalf("unknown level %q", *level)
	}
	if *verbose {
		opts.Sink = pdx.NewSlogSink(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	}

	switch cmd {
	case "analyze":
		analyze(file, opts, *digests)
	case "check":
		check(file)
	case "dump":
		if flag.NArg() < 3 {
			usage()
		}
		id, err := strconv.ParseUint(flag.Arg(2), 10, 32)
		if err != nil {
			log.Fatalf("bad object number %q", flag.Arg(2))
		}
		dump(file, opts, uint32(id), *raw)
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: pdx [options] analyze|check|dump file.pdf [object]")
	flag.PrintDefaults()
	os.Exit(2)
}

func analyze(file string, opts *pdx.Options, digests bool) {
	doc, err := pdx.Open(file, opts)
	if err != nil {
		log.Fatalf("open %s: %v", file, err)
	}
	defer doc.Close()

	res, err := doc.Analyze(context.Background())
	if err != nil {
		log.Fatalf("analyze %s: %v", file, err)
	}
	if !digests {
		res.Digests = nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatalf("encode result: %v", err)
	}
}

func check(file string) {
	f, err := os.Open(file)
	if err != nil {
		log.Fatalf("open %s: %v", file, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		log.Fatalf("stat %s: %v", file, err)
	}

	status := pdx.CheckIntegrity(f, fi.Size())
	fmt.Printf("valid:      %v\n", status.IsValid)
	fmt.Printf("truncated:  %v\n", status.IsTruncated)
	fmt.Printf("header:     %v\n", status.HasValidHeader)
	fmt.Printf("eof:        %v\n", status.HasValidEOF)
	fmt.Printf("startxref:  %v\n", status.HasStartxref)
	fmt.Printf("xref:       %v\n", status.HasXref)
	fmt.Printf("trailer:    %v\n", status.HasTrailer)
	fmt.Printf("objects:    ~%d\n", status.EstimatedObjects)
	for _, issue := range status.Issues {
		fmt.Printf("issue:      %s\n", issue)
	}
	if !status.IsValid {
		os.Exit(1)
	}
}

func dump(file string, opts *pdx.Options, id uint32, raw bool) {
	doc, err := pdx.Open(file, opts)
	if err != nil {
		log.Fatalf("open %s: %v", file, err)
	}
	defer doc.Close()

	v := doc.Object(pdx.ObjectID{Number: id})
	if v.IsNull() {
		log.Fatalf("object %d: not present", id)
	}
	fmt.Printf("%d 0 obj %v\n", id, v)
	if v.Kind() != pdx.Stream {
		return
	}

	var rd io.ReadCloser
	if raw {
		rd = v.RawReader()
	} else {
		rd = v.Reader()
	}
	defer rd.Close()
	body, err := io.ReadAll(rd)
	if err != nil {
		log.Fatalf("object %d: read stream: %v", id, err)
	}
	fmt.Println(hexdump.Dump(body))
}
