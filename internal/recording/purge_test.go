package recording

import (
	"os"
	"testing"

	"github.com/vegerot/dayflow/internal/db"
	"github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/timeline"
)

func TestPurgeNoopUnderQuota(t *testing.T) {
	store, database, cfg := testStore(t)
	cfg.StorageQuotaBytes = 1 << 20

	path := writeChunkFile(t, cfg.RecordingsDir, "a.mp4", 100)
	mustInsertCompleted(t, database, "a", 100, 115)
	_ = path

	if err := store.PurgeIfNeeded(); err != nil {
		t.Fatalf("PurgeIfNeeded failed: %v", err)
	}

	if _, err := db.GetChunk(database, "a"); err != nil {
		t.Errorf("chunk evicted while under quota: %v", err)
	}
}

func TestPurgeEvictsOldestFirst(t *testing.T) {
	store, database, cfg := testStore(t)
	cfg.StorageQuotaBytes = 150 // three 100-byte files put us well over

	paths := map[string]string{}
	for i, id := range []string{"oldest", "middle", "newest"} {
		paths[id] = writeChunkFile(t, cfg.RecordingsDir, id+".mp4", 100)
		err := db.InsertChunk(database, &timeline.Chunk{
			ID: id, StartTS: int64(100 + i*100), EndTS: int64(115 + i*100),
			FilePath: paths[id], Status: timeline.ChunkCompleted,
		})
		if err != nil {
			t.Fatalf("InsertChunk(%s): %v", id, err)
		}
	}

	cfg.EvictionBatchSize = 1
	if err := store.PurgeIfNeeded(); err != nil {
		t.Fatalf("PurgeIfNeeded failed: %v", err)
	}

	if _, err := db.GetChunk(database, "oldest"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("oldest chunk should be evicted, got %v", err)
	}
	if _, err := os.Stat(paths["oldest"]); !os.IsNotExist(err) {
		t.Errorf("oldest file should be removed, stat = %v", err)
	}
	for _, id := range []string{"middle", "newest"} {
		if _, err := db.GetChunk(database, id); err != nil {
			t.Errorf("chunk %s should survive a bounded pass: %v", id, err)
		}
	}
}

func TestPurgeBoundedPerPass(t *testing.T) {
	store, database, cfg := testStore(t)
	cfg.StorageQuotaBytes = 1
	cfg.EvictionBatchSize = 2

	for i, id := range []string{"a", "b", "c", "d"} {
		path := writeChunkFile(t, cfg.RecordingsDir, id+".mp4", 100)
		err := db.InsertChunk(database, &timeline.Chunk{
			ID: id, StartTS: int64(100 + i*100), EndTS: int64(115 + i*100),
			FilePath: path, Status: timeline.ChunkCompleted,
		})
		if err != nil {
			t.Fatalf("InsertChunk(%s): %v", id, err)
		}
	}

	if err := store.PurgeIfNeeded(); err != nil {
		t.Fatalf("PurgeIfNeeded failed: %v", err)
	}

	remaining, err := db.CountChunks(database, nil)
	if err != nil {
		t.Fatalf("CountChunks failed: %v", err)
	}
	if remaining != 2 {
		t.Errorf("remaining chunks = %d, want 2 (bounded eviction)", remaining)
	}
}

// Purge never deletes a chunk that belongs to any persisted batch, even
// when that chunk is the oldest by start time.
func TestPurgeSkipsBatchedChunks(t *testing.T) {
	store, database, cfg := testStore(t)
	cfg.StorageQuotaBytes = 1

	oldPath := writeChunkFile(t, cfg.RecordingsDir, "batched.mp4", 100)
	err := db.InsertChunk(database, &timeline.Chunk{
		ID: "batched", StartTS: 100, EndTS: 115,
		FilePath: oldPath, Status: timeline.ChunkCompleted,
	})
	if err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}

	freePath := writeChunkFile(t, cfg.RecordingsDir, "free.mp4", 100)
	err = db.InsertChunk(database, &timeline.Chunk{
		ID: "free", StartTS: 200, EndTS: 215,
		FilePath: freePath, Status: timeline.ChunkCompleted,
	})
	if err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}

	batch := &timeline.Batch{ID: "b1", StartTS: 100, EndTS: 115, Status: timeline.BatchPending, CreatedAt: 1}
	if err := db.InsertBatch(database, batch, []string{"batched"}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	if err := store.PurgeIfNeeded(); err != nil {
		t.Fatalf("PurgeIfNeeded failed: %v", err)
	}

	if _, err := db.GetChunk(database, "batched"); err != nil {
		t.Errorf("batched chunk must never be evicted: %v", err)
	}
	if _, err := os.Stat(oldPath); err != nil {
		t.Errorf("batched chunk file must survive: %v", err)
	}
	if _, err := db.GetChunk(database, "free"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("unreferenced chunk should be evicted, got %v", err)
	}
}

func TestPurgeMissingRecordingsDir(t *testing.T) {
	store, _, cfg := testStore(t)
	cfg.RecordingsDir = cfg.RecordingsDir + "-missing"

	// A missing root counts as zero allocation, not an error.
	if err := store.PurgeIfNeeded(); err != nil {
		t.Fatalf("PurgeIfNeeded on missing dir failed: %v", err)
	}
}
