package docstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestWatchDeliversInitialAndChangedSnapshots(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.Create(ctx, "items/i1", map[string]any{"workspaceId": "w1", "title": "milk"}); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var snapshots [][]Document
	got := make(chan int, 16)

	stop := Watch(ctx, m, Query{Collection: "items"}.Where("workspaceId", OpEqual, "w1"),
		5*time.Millisecond,
		func(docs []Document) {
			mu.Lock()
			snapshots = append(snapshots, docs)
			n := len(snapshots)
			mu.Unlock()
			got <- n
		}, nil)
	defer stop()

	waitFor := func(n int) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case k := <-got:
				if k >= n {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for snapshot %d", n)
			}
		}
	}

	waitFor(1)
	if _, err := m.Create(ctx, "items/i2", map[string]any{"workspaceId": "w1", "title": "eggs"}); err != nil {
		t.Fatal(err)
	}
	waitFor(2)

	mu.Lock()
	defer mu.Unlock()
	if len(snapshots[0]) != 1 || len(snapshots[len(snapshots)-1]) != 2 {
		t.Fatalf("unexpected snapshot sizes: first=%d last=%d", len(snapshots[0]), len(snapshots[len(snapshots)-1]))
	}
}

func TestWatchStopsDelivering(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	stop := Watch(ctx, m, Query{Collection: "items"}, 5*time.Millisecond,
		func([]Document) {
			mu.Lock()
			count++
			mu.Unlock()
		}, nil)

	time.Sleep(20 * time.Millisecond)
	stop()
	stop() // stopping twice is fine

	mu.Lock()
	before := count
	mu.Unlock()
	if _, err := m.Create(ctx, "items/i1", map[string]any{"title": "bread"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	after := count
	mu.Unlock()
	if after != before {
		t.Fatalf("callback ran after stop: before=%d after=%d", before, after)
	}
}
