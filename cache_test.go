// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheDoMemoizes(t *testing.T) {
	c := NewResultCache(4, time.Minute)
	calls := 0
	analyze := func(context.Context) (*AnalysisResult, error) {
		calls++
		return &AnalysisResult{Fingerprint: "abc"}, nil
	}

	ctx := context.Background()
	r1, err := c.Do(ctx, "k", analyze)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	r2, err := c.Do(ctx, "k", analyze)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("analyze ran %d times, want 1", calls)
	}
	if r1 != r2 {
		t.Error("second Do returned a different result")
	}
	stats := c.Stats()
	if stats.Size != 1 {
		t.Errorf("Size = %d, want 1", stats.Size)
	}
}

func TestCacheDoConcurrent(t *testing.T) {
	c := NewResultCache(4, time.Minute)
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	analyze := func(context.Context) (*AnalysisResult, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return &AnalysisResult{Fingerprint: "x"}, nil
	}

	var wg sync.WaitGroup
	results := make([]*AnalysisResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.Do(context.Background(), "same", analyze)
			if err != nil {
				t.Errorf("Do: %v", err)
			}
			results[i] = r
		}(i)
		if i == 0 {
			<-started
		}
	}
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("analyze ran %d times for one key, want 1", n)
	}
	if results[0] != results[1] {
		t.Error("concurrent callers got different results")
	}
}

func TestCacheErrorNotCached(t *testing.T) {
	c := NewResultCache(4, time.Minute)
	calls := 0
	boom := errors.New("parse failed")
	analyze := func(context.Context) (*AnalysisResult, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return &AnalysisResult{}, nil
	}

	ctx := context.Background()
	if _, err := c.Do(ctx, "k", analyze); !errors.Is(err, boom) {
		t.Fatalf("first Do err = %v, want %v", err, boom)
	}
	if _, err := c.Do(ctx, "k", analyze); err != nil {
		t.Fatalf("second Do err = %v", err)
	}
	if calls != 2 {
		t.Errorf("analyze ran %d times, want 2 (errors must not be cached)", calls)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewResultCache(4, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	res := &AnalysisResult{Fingerprint: "ttl"}
	c.store("k", res)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry missing immediately after store")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("entry still served after TTL expiry")
	}
	if c.Stats().Size != 0 {
		t.Errorf("expired entry not removed: size %d", c.Stats().Size)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewResultCache(2, 0)
	c.store("a", &AnalysisResult{})
	c.store("b", &AnalysisResult{})
	// Touch a so b becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a missing")
	}
	c.store("c", &AnalysisResult{})

	if _, ok := c.Get("b"); ok {
		t.Error("b survived eviction although it was least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a evicted although recently used")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c missing after insert")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewResultCache(4, 0)
	c.store("k", &AnalysisResult{})
	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Error("entry served after Invalidate")
	}
}

func TestCacheStats(t *testing.T) {
	c := NewResultCache(4, 0)
	c.Get("missing")
	c.store("k", &AnalysisResult{})
	c.Get("k")
	c.Get("k")

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 2 hits 1 miss", stats)
	}
}
