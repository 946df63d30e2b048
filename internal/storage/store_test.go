package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCursorUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertCursor(ctx, "src1", 10, "hashA"); err != nil {
		t.Fatalf("upsert cursor: %v", err)
	}
	h, hash, ok, err := store.GetCursor(ctx, "src1")
	if err != nil || !ok {
		t.Fatalf("get cursor failed err=%v ok=%v", err, ok)
	}
	if h != 10 || hash != "hashA" {
		t.Fatalf("unexpected cursor: %d %s", h, hash)
	}

	if err := store.UpsertCursor(ctx, "src1", 20, "hashB"); err != nil {
		t.Fatalf("upsert cursor update: %v", err)
	}
	h, hash, ok, err = store.GetCursor(ctx, "src1")
	if err != nil || !ok || h != 20 || hash != "hashB" {
		t.Fatalf("cursor not updated: %d %s err=%v ok=%v", h, hash, err, ok)
	}

	if _, _, ok, err := store.GetCursor(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected no cursor, ok=%v err=%v", ok, err)
	}
	if err := store.UpsertCursor(ctx, "", 1, "x"); err == nil {
		t.Fatalf("expected error for empty source id")
	}
}

func TestCheckpointStoresAndPrunesHashes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var blocks []BlockHash
	for n := uint64(1); n <= 10; n++ {
		blocks = append(blocks, BlockHash{Number: n, Hash: fmt.Sprintf("h%d", n)})
	}
	if err := store.Checkpoint(ctx, "src1", 10, "hk", blocks, 4); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	h, hash, ok, err := store.GetCursor(ctx, "src1")
	if err != nil || !ok || h != 10 || hash != "hk" {
		t.Fatalf("cursor not advanced: %d %s ok=%v err=%v", h, hash, ok, err)
	}
	got, err := store.BlockHashes(ctx, "src1", 0, 100)
	if err != nil {
		t.Fatalf("block hashes: %v", err)
	}
	if len(got) != 5 || got[0].Number != 6 || got[4].Number != 10 {
		t.Fatalf("expected blocks 6..10 after pruning, got %+v", got)
	}
	if _, ok, _ := store.GetBlockHash(ctx, "src1", 3); ok {
		t.Fatalf("block 3 should be pruned")
	}
	if hash, ok, err := store.GetBlockHash(ctx, "src1", 8); err != nil || !ok || hash != blocks[7].Hash {
		t.Fatalf("unexpected hash for 8: %s ok=%v err=%v", hash, ok, err)
	}
}

func TestRewindForgetsHashesAbove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	blocks := []BlockHash{{1, "a"}, {2, "b"}, {3, "c"}}
	if err := store.Checkpoint(ctx, "src1", 3, "c", blocks, 0); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if err := store.Rewind(ctx, "src1", 1, "a"); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	h, hash, _, _ := store.GetCursor(ctx, "src1")
	if h != 1 || hash != "a" {
		t.Fatalf("cursor not rewound: %d %s", h, hash)
	}
	got, _ := store.BlockHashes(ctx, "src1", 0, 10)
	if len(got) != 1 || got[0].Hash != "a" {
		t.Fatalf("expected only block 1 to remain, got %+v", got)
	}
}

func TestDedupeTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.MarkDedupe(ctx, "k1", now.Add(1*time.Second)); err != nil {
		t.Fatalf("mark dedupe: %v", err)
	}
	dup, err := store.IsDuplicate(ctx, "k1", now)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Fatalf("expected duplicate before expiry")
	}

	later := now.Add(2 * time.Second)
	dup, err = store.IsDuplicate(ctx, "k1", later)
	if err != nil {
		t.Fatalf("is duplicate later: %v", err)
	}
	if dup {
		t.Fatalf("expected non-duplicate after expiry")
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	store.Close()
	if err := store.Ping(ctx); err == nil {
		t.Fatalf("expected ping to fail after close")
	}
}
