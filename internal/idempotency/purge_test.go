package idempotency

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type countingPurger struct {
	calls atomic.Int32
}

func (c *countingPurger) Purge(context.Context, time.Time) (int64, error) {
	c.calls.Add(1)
	return 1, nil
}

func TestPurgeInterval(t *testing.T) {
	cases := []struct {
		window time.Duration
		want   time.Duration
	}{
		{0, time.Minute},
		{2 * time.Minute, time.Minute},
		{20 * time.Minute, 5 * time.Minute},
		{24 * time.Hour, time.Hour},
	}
	for _, tc := range cases {
		if got := PurgeInterval(tc.window); got != tc.want {
			t.Fatalf("PurgeInterval(%s) = %s, want %s", tc.window, got, tc.want)
		}
	}
}

func TestRunPurgerStopsWithContext(t *testing.T) {
	p := &countingPurger{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunPurger(ctx, p, time.Millisecond, nil)
	}()

	deadline := time.Now().Add(time.Second)
	for p.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("purger ran %d times", p.calls.Load())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("purger did not stop")
	}
}

func TestMemoryStorePurge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	_ = store.Save(ctx, Scoped("pay", "old"), NewRecord(202, []byte("old"), now.Add(-2*time.Hour), time.Hour))
	_ = store.Save(ctx, Scoped("pay", "new"), NewRecord(202, []byte("new"), now, time.Hour))

	n, err := store.Purge(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("purge = %d, %v", n, err)
	}
	if got, _ := store.Get(ctx, Scoped("pay", "new")); got == nil {
		t.Fatalf("live record purged")
	}
}

func TestFileStorePurgePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idem.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	now := time.Now()
	_ = store.Save(ctx, "old", NewRecord(202, []byte("old"), now.Add(-time.Minute), 30*time.Second))
	_ = store.Save(ctx, "new", NewRecord(202, []byte("new"), now, time.Hour))

	// nothing has expired yet at this instant
	if n, err := store.Purge(ctx, now.Add(-time.Minute)); err != nil || n != 0 {
		t.Fatalf("early purge = %d, %v", n, err)
	}
	if n, err := store.Purge(ctx, now); err != nil || n != 1 {
		t.Fatalf("purge = %d, %v", n, err)
	}

	// read the raw file: loading through NewFileStore would drop the expired entry anyway
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var onDisk map[string]Record
	if err := json.Unmarshal(blob, &onDisk); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := onDisk["old"]; ok || len(onDisk) != 1 {
		t.Fatalf("file holds %d records: %v", len(onDisk), onDisk)
	}
}
