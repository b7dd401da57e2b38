package duraref

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/unkn0wn-root/duraref/store/sqlite"
)

// End-to-end over the real SQLite store: two independent connections on one
// database directory stand in for two processes.

func TestSQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db1, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	defer db1.Close()
	db2, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open second store: %v", err)
	}
	defer db2.Close()

	r1, err := Open[point](ctx, Options[point]{Store: db1, Key: "job", Default: point{Count: 0}})
	if err != nil {
		t.Fatalf("Open handle: %v", err)
	}
	r2, err := Open[point](ctx, Options[point]{Store: db2, Key: "job", Default: point{Count: 0}})
	if err != nil {
		t.Fatalf("Open second handle: %v", err)
	}

	// Write through one connection, read through the other.
	if _, err := r1.Swap(ctx, func(p point) point { p.Count++; return p }); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if got, err := r2.Deref(ctx); err != nil || got.Count != 1 {
		t.Fatalf("Deref across connections: got=%+v err=%v", got, err)
	}

	ok, err := r2.CompareAndSet(ctx, point{Count: 1}, point{Count: 2})
	if err != nil || !ok {
		t.Fatalf("CompareAndSet across connections: ok=%v err=%v", ok, err)
	}
	if got, err := r1.Deref(ctx); err != nil || got.Count != 2 {
		t.Fatalf("Deref after foreign CompareAndSet: got=%+v err=%v", got, err)
	}

	keys, err := db1.List(ctx)
	if err != nil || len(keys) != 1 || keys[0] != "job" {
		t.Fatalf("List: keys=%v err=%v", keys, err)
	}

	// Removal is discovered lazily by both handles; a fresh handle recreates.
	if err := db2.Remove(ctx, "job"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r1.Deref(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Deref after remove: %v, want ErrNotFound", err)
	}

	fresh, err := Open[point](ctx, Options[point]{Store: db1, Key: "job", Default: point{Count: 100}})
	if err != nil {
		t.Fatalf("reopen after remove: %v", err)
	}
	if got, err := fresh.Deref(ctx); err != nil || got.Count != 100 {
		t.Fatalf("recreated record: got=%+v err=%v", got, err)
	}
	if got, err := r1.Deref(ctx); err != nil || got.Count != 100 {
		t.Fatalf("old handle after recreate: got=%+v err=%v", got, err)
	}
}

func TestSQLiteConcurrentIncrements(t *testing.T) {
	const (
		actorsPerConn = 4
		swaps         = 10
	)
	ctx := context.Background()
	dir := t.TempDir()

	db1, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	defer db1.Close()
	db2, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open second store: %v", err)
	}
	defer db2.Close()

	r1, err := Open[int](ctx, Options[int]{Store: db1, Key: "n", Default: 0})
	if err != nil {
		t.Fatalf("Open handle: %v", err)
	}
	r2, err := Open[int](ctx, Options[int]{Store: db2, Key: "n", Default: 0})
	if err != nil {
		t.Fatalf("Open second handle: %v", err)
	}

	var wg sync.WaitGroup
	for _, r := range []Ref[int]{r1, r2} {
		for i := 0; i < actorsPerConn; i++ {
			wg.Add(1)
			go func(r Ref[int]) {
				defer wg.Done()
				for j := 0; j < swaps; j++ {
					if _, err := r.Swap(ctx, func(v int) int { return v + 1 }); err != nil {
						t.Errorf("Swap: %v", err)
						return
					}
				}
			}(r)
		}
	}
	wg.Wait()

	want := 2 * actorsPerConn * swaps
	if got, err := r1.Deref(ctx); err != nil || got != want {
		t.Fatalf("final value = %d (err=%v), want %d", got, err, want)
	}
}

func TestSQLiteValueMetaAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	r, err := Open[int](ctx, Options[int]{Store: db, Key: "tagged", Default: 0})
	if err != nil {
		t.Fatalf("Open handle: %v", err)
	}
	if _, err := r.ResetWithMeta(ctx, 9, Meta{"schema": "v2"}); err != nil {
		t.Fatalf("ResetWithMeta: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer db2.Close()
	r2, err := Open[int](ctx, Options[int]{Store: db2, Key: "tagged", Default: 0})
	if err != nil {
		t.Fatalf("reopen handle: %v", err)
	}
	meta, err := r2.DerefMeta(ctx)
	if err != nil || meta["schema"] != "v2" {
		t.Fatalf("meta after restart = %v (err=%v), want schema=v2", meta, err)
	}
	if got, _ := r2.Deref(ctx); got != 9 {
		t.Fatalf("value after restart = %d, want 9", got)
	}
}
