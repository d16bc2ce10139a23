// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The object graph: which objects reference which, what is reachable
// from the trailer, and where the reference structure loops or dangles.

package pdx

import (
	"context"
	"fmt"
	"sort"
)

// An ObjectGraph is the reference structure of a document's live
// objects. It is built once and then read-only.
type ObjectGraph struct {
	d         *Document
	nodes     map[uint32]*graphNode
	order     []uint32 // ascending object numbers
	reachable map[uint32]bool
	cycles    [][]ObjectID
}

type graphNode struct {
	id       ObjectID
	typ      string   // /Type name when the object is a dict or stream
	subtype  string   // /Subtype name when present
	isStream bool
	refs     []uint32 // outgoing references, deduped and sorted
}

// BuildGraph resolves every live object and assembles the reference
// graph. Dangling references, cycles, and unreachable objects are
// recorded as anomalies while building.
func (d *Document) BuildGraph(ctx context.Context) (*ObjectGraph, error) {
	d.opts.Sink.Stage("graph")
	g := &ObjectGraph{
		d:         d,
		nodes:     make(map[uint32]*graphNode),
		reachable: make(map[uint32]bool),
	}

	live := d.liveObjects()
	if max := d.opts.Limits.MaxObjects; max > 0 && len(live) > max {
		return nil, wrapError("graph", fmt.Errorf("%w: %d objects exceeds limit %d", ErrTooLarge, len(live), max))
	}

	for _, ptr := range live {
		if err := checkContext(ctx); err != nil {
			return nil, wrapError("graph", err)
		}
		v := d.resolve(objptr{}, ptr)
		if v.IsNull() {
			// resolve already recorded why.
			continue
		}
		node := &graphNode{id: ptr.public()}
		switch x := v.data.(type) {
		case dict:
			node.typ = nameOf(x["Type"])
			node.subtype = nameOf(x["Subtype"])
		case stream:
			node.isStream = true
			node.typ = nameOf(x.hdr["Type"])
			node.subtype = nameOf(x.hdr["Subtype"])
		}
		node.refs = collectRefs(v.data)
		g.nodes[ptr.id] = node
		g.order = append(g.order, ptr.id)
	}
	sort.Slice(g.order, func(i, j int) bool { return g.order[i] < g.order[j] })

	g.checkDangling()
	g.markReachable()
	g.findCycles()
	g.reportUnreachable()
	return g, nil
}

func nameOf(x object) string {
	n, _ := x.(name)
	return string(n)
}

// collectRefs walks a direct object's structure and gathers the object
// numbers it references.
func collectRefs(x object) []uint32 {
	seen := make(map[uint32]bool)
	var walk func(x object)
	walk = func(x object) {
		switch x := x.(type) {
		case objptr:
			seen[x.id] = true
		case dict:
			for _, v := range x {
				walk(v)
			}
		case array:
			for _, v := range x {
				walk(v)
			}
		case stream:
			walk(x.hdr)
		}
	}
	walk(x)
	if len(seen) == 0 {
		return nil
	}
	refs := make([]uint32, 0, len(seen))
	for id := range seen {
		refs = append(refs, id)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

func (g *ObjectGraph) checkDangling() {
	for _, id := range g.order {
		node := g.nodes[id]
		for _, ref := range node.refs {
			if _, ok := g.nodes[ref]; !ok {
				g.d.anomalies.add(AnomalyDanglingReference, SeverityInfo, node.id,
					"references object %d which has no live definition", ref)
			}
		}
	}
}

// markReachable flood-fills from every reference in the trailer. The
// catalog is the usual root; Info, Encrypt, and ID references count too.
func (g *ObjectGraph) markReachable() {
	var queue []uint32
	for _, root := range collectRefs(g.d.trailer) {
		if _, ok := g.nodes[root]; ok && !g.reachable[root] {
			g.reachable[root] = true
			queue = append(queue, root)
		}
	}
	// The trailer itself may live in an xref stream object.
	if tp := g.d.trailerptr; tp != (objptr{}) {
		if _, ok := g.nodes[tp.id]; ok && !g.reachable[tp.id] {
			g.reachable[tp.id] = true
			queue = append(queue, tp.id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, ref := range g.nodes[id].refs {
			if _, ok := g.nodes[ref]; ok && !g.reachable[ref] {
				g.reachable[ref] = true
				queue = append(queue, ref)
			}
		}
	}
}

// findCycles locates the strongly connected components of the reference
// graph using an iterative Tarjan walk and records one anomaly per
// component that actually loops. Parent back-pointers make small cycles
// routine in well-formed files, so a cycle alone is informational.
func (g *ObjectGraph) findCycles() {
	index := make(map[uint32]int)
	lowlink := make(map[uint32]int)
	onStack := make(map[uint32]bool)
	var stack []uint32
	next := 0

	type frame struct {
		id uint32
		ri int // next ref index to visit
	}

	var visit func(start uint32)
	visit = func(start uint32) {
		frames := []frame{{id: start}}
		index[start] = next
		lowlink[start] = next
		next++
		stack = append(stack, start)
		onStack[start] = true

		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			node := g.nodes[f.id]
			advanced := false
			for f.ri < len(node.refs) {
				ref := node.refs[f.ri]
				f.ri++
				if _, ok := g.nodes[ref]; !ok {
					continue
				}
				if _, seen := index[ref]; !seen {
					index[ref] = next
					lowlink[ref] = next
					next++
					stack = append(stack, ref)
					onStack[ref] = true
					frames = append(frames, frame{id: ref})
					advanced = true
					break
				}
				if onStack[ref] && index[ref] < lowlink[f.id] {
					lowlink[f.id] = index[ref]
				}
			}
			if advanced {
				continue
			}
			// f is finished.
			if lowlink[f.id] == index[f.id] {
				var comp []uint32
				for {
					top := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[top] = false
					comp = append(comp, top)
					if top == f.id {
						break
					}
				}
				g.noteComponent(comp)
			}
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := &frames[len(frames)-1]
				if lowlink[f.id] < lowlink[parent.id] {
					lowlink[parent.id] = lowlink[f.id]
				}
			}
		}
	}

	for _, id := range g.order {
		if _, seen := index[id]; !seen {
			visit(id)
		}
	}
}

// noteComponent records a component as a cycle when it has more than one
// node, or one node that references itself.
func (g *ObjectGraph) noteComponent(comp []uint32) {
	if len(comp) == 1 {
		self := false
		for _, ref := range g.nodes[comp[0]].refs {
			if ref == comp[0] {
				self = true
				break
			}
		}
		if !self {
			return
		}
	}
	sort.Slice(comp, func(i, j int) bool { return comp[i] < comp[j] })
	ids := make([]ObjectID, len(comp))
	for i, id := range comp {
		ids[i] = g.nodes[id].id
	}
	g.cycles = append(g.cycles, ids)
	g.d.anomalies.add(AnomalyCyclicReference, SeverityInfo, ids[0],
		"reference cycle of %d objects starting at %s", len(ids), ids[0])
}

func (g *ObjectGraph) reportUnreachable() {
	n := 0
	for _, id := range g.order {
		if !g.reachable[id] {
			n++
		}
	}
	if n > 0 {
		g.d.anomalies.add(AnomalyUnreachableObject, SeverityInfo, ObjectID{},
			"%d of %d live objects unreachable from the trailer", n, len(g.order))
	}
}

// Objects returns the ids of all live objects in the graph, ascending.
func (g *ObjectGraph) Objects() []ObjectID {
	out := make([]ObjectID, len(g.order))
	for i, id := range g.order {
		out[i] = g.nodes[id].id
	}
	return out
}

// Reachable reports whether the object is reachable from the trailer.
func (g *ObjectGraph) Reachable(id ObjectID) bool {
	return g.reachable[id.Number]
}

// Unreachable returns the ids of live objects the trailer cannot reach,
// ascending.
func (g *ObjectGraph) Unreachable() []ObjectID {
	var out []ObjectID
	for _, id := range g.order {
		if !g.reachable[id] {
			out = append(out, g.nodes[id].id)
		}
	}
	return out
}

// Refs returns the object numbers referenced by the given object.
func (g *ObjectGraph) Refs(id ObjectID) []uint32 {
	node, ok := g.nodes[id.Number]
	if !ok {
		return nil
	}
	out := make([]uint32, len(node.refs))
	copy(out, node.refs)
	return out
}

// Cycles returns the distinct reference cycles found, each as a sorted
// id list.
func (g *ObjectGraph) Cycles() [][]ObjectID {
	out := make([][]ObjectID, len(g.cycles))
	for i, c := range g.cycles {
		cc := make([]ObjectID, len(c))
		copy(cc, c)
		out[i] = cc
	}
	return out
}

// TypeOf returns the declared /Type name of the object, or "".
func (g *ObjectGraph) TypeOf(id ObjectID) string {
	node, ok := g.nodes[id.Number]
	if !ok {
		return ""
	}
	return node.typ
}

// IsStream reports whether the object is a stream.
func (g *ObjectGraph) IsStream(id ObjectID) bool {
	node, ok := g.nodes[id.Number]
	return ok && node.isStream
}
