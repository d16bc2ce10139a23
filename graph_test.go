// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdx

import (
	"context"
	"testing"
)

func TestBuildGraphMinimal(t *testing.T) {
	d := openBytes(t, minimalPDF(), nil)
	defer d.Close()

	g, err := d.BuildGraph(context.Background())
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	if got := len(g.Objects()); got != 5 {
		t.Errorf("Objects = %d, want 5", got)
	}
	for _, id := range g.Objects() {
		if !g.Reachable(id) {
			t.Errorf("object %v unreachable in a fully connected file", id)
		}
	}
	if got := g.TypeOf(ObjectID{Number: 1}); got != "Catalog" {
		t.Errorf("TypeOf(1) = %q, want Catalog", got)
	}
	if !g.IsStream(ObjectID{Number: 4}) {
		t.Error("IsStream(4) = false")
	}
	if cycles := g.Cycles(); len(cycles) != 0 {
		t.Errorf("Cycles = %v, want none", cycles)
	}
}

func TestGraphUnreachableObject(t *testing.T) {
	b := newPDF("1.4")
	b.add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.add(3, "(orphan payload nothing references)")
	d := openBytes(t, b.finish(1), nil)
	defer d.Close()

	g, err := d.BuildGraph(context.Background())
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	unreach := g.Unreachable()
	if len(unreach) != 1 || unreach[0].Number != 3 {
		t.Errorf("Unreachable = %v, want [3]", unreach)
	}
	if !hasAnomaly(d.Anomalies(), AnomalyUnreachableObject) {
		t.Errorf("missing UnreachableObject anomaly, have %v", d.Anomalies())
	}
}

func TestGraphDanglingReference(t *testing.T) {
	b := newPDF("1.4")
	b.add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [9 0 R] /Count 1 >>")
	d := openBytes(t, b.finish(1), nil)
	defer d.Close()

	if _, err := d.BuildGraph(context.Background()); err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	if !hasAnomaly(d.Anomalies(), AnomalyDanglingReference) {
		t.Errorf("missing DanglingReference anomaly, have %v", d.Anomalies())
	}
}

func TestGraphCycleOneAnomalyPerComponent(t *testing.T) {
	b := newPDF("1.4")
	b.add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	// 2 -> 3 -> 4 -> 2 is one cycle; each member must not get its own
	// anomaly.
	b.add(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add(3, "<< /Type /Page /Parent 2 0 R /Annots [4 0 R] >>")
	b.add(4, "<< /Ref 2 0 R >>")
	d := openBytes(t, b.finish(1), nil)
	defer d.Close()

	g, err := d.BuildGraph(context.Background())
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	if got := len(g.Cycles()); got != 1 {
		t.Fatalf("Cycles = %d, want 1", got)
	}
	if n := countAnomalies(d.Anomalies(), AnomalyCyclicReference); n != 1 {
		t.Errorf("CyclicReference anomalies = %d, want 1", n)
	}
}

func TestGraphSelfLoop(t *testing.T) {
	b := newPDF("1.4")
	b.add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [] /Count 0 /Self 2 0 R >>")
	d := openBytes(t, b.finish(1), nil)
	defer d.Close()

	g, err := d.BuildGraph(context.Background())
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	if got := len(g.Cycles()); got != 1 {
		t.Errorf("Cycles = %d, want 1 for a self-loop", got)
	}
}

func TestGraphContextCancel(t *testing.T) {
	d := openBytes(t, minimalPDF(), nil)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.BuildGraph(ctx); err == nil {
		t.Error("BuildGraph with canceled context returned no error")
	}
}

func TestGraphMaxObjects(t *testing.T) {
	opts := &Options{Limits: ParseLimits{MaxObjects: 2}}
	d := openBytes(t, minimalPDF(), opts)
	defer d.Close()

	if _, err := d.BuildGraph(context.Background()); err == nil {
		t.Error("BuildGraph over MaxObjects returned no error")
	}
}
