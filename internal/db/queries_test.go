package db

import (
	"database/sql"
	"testing"

	"github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/timeline"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func insertTestChunk(t *testing.T, database *sql.DB, id string, start, end int64, status timeline.ChunkStatus) {
	t.Helper()
	err := InsertChunk(database, &timeline.Chunk{
		ID:       id,
		StartTS:  start,
		EndTS:    end,
		FilePath: "/tmp/" + id + ".mp4",
		Status:   status,
	})
	if err != nil {
		t.Fatalf("InsertChunk(%s) failed: %v", id, err)
	}
}

func TestChunkLifecycle(t *testing.T) {
	database := testDB(t)

	insertTestChunk(t, database, "c1", 100, 130, timeline.ChunkRecording)

	if err := CompleteChunk(database, "c1", 115); err != nil {
		t.Fatalf("CompleteChunk failed: %v", err)
	}

	c, err := GetChunk(database, "c1")
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if c.Status != timeline.ChunkCompleted {
		t.Errorf("status = %s, want completed", c.Status)
	}
	if c.EndTS != 115 {
		t.Errorf("end_ts = %d, want true end 115", c.EndTS)
	}

	// Completing twice is a no-op conflict: the chunk is immutable once completed.
	if err := CompleteChunk(database, "c1", 999); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second CompleteChunk = %v, want NOT_FOUND", err)
	}
}

func TestListUnprocessedChunks(t *testing.T) {
	database := testDB(t)

	insertTestChunk(t, database, "old", 100, 115, timeline.ChunkCompleted)
	insertTestChunk(t, database, "recent", 200, 215, timeline.ChunkCompleted)
	insertTestChunk(t, database, "live", 300, 330, timeline.ChunkRecording)
	insertTestChunk(t, database, "ancient", 1, 10, timeline.ChunkCompleted)

	// cutoff 250 excludes nothing completed before then; lookback start 50
	// excludes the ancient chunk.
	chunks, err := ListUnprocessedChunks(database, 250, 50)
	if err != nil {
		t.Fatalf("ListUnprocessedChunks failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].ID != "old" || chunks[1].ID != "recent" {
		t.Errorf("order = [%s %s], want [old recent]", chunks[0].ID, chunks[1].ID)
	}

	// A chunk claimed by a batch is no longer unprocessed.
	batch := &timeline.Batch{ID: "b1", StartTS: 100, EndTS: 115, Status: timeline.BatchPending, CreatedAt: 1}
	if err := InsertBatch(database, batch, []string{"old"}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	chunks, err = ListUnprocessedChunks(database, 250, 50)
	if err != nil {
		t.Fatalf("ListUnprocessedChunks failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != "recent" {
		t.Errorf("got %v, want only recent", chunks)
	}
}

func TestInsertBatchRejectsClaimedChunk(t *testing.T) {
	database := testDB(t)

	insertTestChunk(t, database, "c1", 100, 115, timeline.ChunkCompleted)

	b1 := &timeline.Batch{ID: "b1", StartTS: 100, EndTS: 115, Status: timeline.BatchPending, CreatedAt: 1}
	if err := InsertBatch(database, b1, []string{"c1"}); err != nil {
		t.Fatalf("first InsertBatch failed: %v", err)
	}

	b2 := &timeline.Batch{ID: "b2", StartTS: 100, EndTS: 115, Status: timeline.BatchPending, CreatedAt: 1}
	err := InsertBatch(database, b2, []string{"c1"})
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("overlapping InsertBatch = %v, want CONFLICT", err)
	}

	// The failed insert must not leave a partial batch behind.
	if _, err := GetBatch(database, "b2"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetBatch(b2) = %v, want NOT_FOUND", err)
	}
}

func TestInsertBatchRejectsMissingChunk(t *testing.T) {
	database := testDB(t)

	b := &timeline.Batch{ID: "b1", StartTS: 0, EndTS: 10, Status: timeline.BatchPending, CreatedAt: 1}
	err := InsertBatch(database, b, []string{"ghost"})
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("InsertBatch with missing chunk = %v, want CONFLICT", err)
	}
}

func TestClaimBatchOptimistic(t *testing.T) {
	database := testDB(t)

	insertTestChunk(t, database, "c1", 100, 115, timeline.ChunkCompleted)
	b := &timeline.Batch{ID: "b1", StartTS: 100, EndTS: 115, Status: timeline.BatchPending, CreatedAt: 1}
	if err := InsertBatch(database, b, []string{"c1"}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	if err := ClaimBatch(database, "b1", timeline.BatchPending, timeline.BatchProcessing); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	// A second claimer loses.
	err := ClaimBatch(database, "b1", timeline.BatchPending, timeline.BatchProcessing)
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("second claim = %v, want CONFLICT", err)
	}

	reason := "provider exploded"
	if err := FinishBatch(database, "b1", timeline.BatchFailed, &reason); err != nil {
		t.Fatalf("FinishBatch failed: %v", err)
	}

	got, err := GetBatch(database, "b1")
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if got.Status != timeline.BatchFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.FailureReason == nil || *got.FailureReason != reason {
		t.Errorf("failure_reason = %v, want %q", got.FailureReason, reason)
	}
}

func TestResetBatchesClearsFailure(t *testing.T) {
	database := testDB(t)

	insertTestChunk(t, database, "c1", 100, 115, timeline.ChunkCompleted)
	b := &timeline.Batch{ID: "b1", StartTS: 100, EndTS: 115, Status: timeline.BatchPending, CreatedAt: 1}
	if err := InsertBatch(database, b, []string{"c1"}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	reason := "boom"
	if err := FinishBatch(database, "b1", timeline.BatchFailed, &reason); err != nil {
		t.Fatalf("FinishBatch failed: %v", err)
	}

	if err := ResetBatches(database, []string{"b1"}); err != nil {
		t.Fatalf("ResetBatches failed: %v", err)
	}

	got, err := GetBatch(database, "b1")
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if got.Status != timeline.BatchPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.FailureReason != nil {
		t.Errorf("failure_reason = %v, want nil", got.FailureReason)
	}
}

func TestBatchDeleteCascadesJoinRows(t *testing.T) {
	database := testDB(t)

	insertTestChunk(t, database, "c1", 100, 115, timeline.ChunkCompleted)
	b := &timeline.Batch{ID: "b1", StartTS: 100, EndTS: 115, Status: timeline.BatchPending, CreatedAt: 1}
	if err := InsertBatch(database, b, []string{"c1"}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	// Reprocessing resets batches rather than deleting them, so there is
	// no delete helper; the cascade is a schema-level contract that keeps
	// any manual cleanup from stranding join rows.
	if _, err := database.Exec(`DELETE FROM analysis_batches WHERE id = ?`, "b1"); err != nil {
		t.Fatalf("delete batch: %v", err)
	}

	var count int
	if err := database.QueryRow(`SELECT COUNT(*) FROM batch_chunks`).Scan(&count); err != nil {
		t.Fatalf("count join rows: %v", err)
	}
	if count != 0 {
		t.Errorf("join rows = %d after batch delete, want 0", count)
	}

	// The chunk itself survives; only the membership is gone.
	if _, err := GetChunk(database, "c1"); err != nil {
		t.Errorf("chunk should survive batch delete: %v", err)
	}
}

func TestJoinedChunkDeleteRestricted(t *testing.T) {
	database := testDB(t)

	insertTestChunk(t, database, "c1", 100, 115, timeline.ChunkCompleted)
	b := &timeline.Batch{ID: "b1", StartTS: 100, EndTS: 115, Status: timeline.BatchPending, CreatedAt: 1}
	if err := InsertBatch(database, b, []string{"c1"}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	// RESTRICT on the join table protects referenced chunks at the SQL level.
	if err := DeleteChunk(database, "c1"); err == nil {
		t.Error("DeleteChunk of a joined chunk should fail")
	}
}

func TestObservationsRoundTrip(t *testing.T) {
	database := testDB(t)

	for i, id := range []string{"o1", "o2"} {
		err := InsertObservation(database, &timeline.Observation{
			ID:          id,
			BatchID:     "b1",
			StartTS:     int64(100 + i*10),
			EndTS:       int64(105 + i*10),
			Observation: "coding in editor",
			CreatedAt:   1,
		})
		if err != nil {
			t.Fatalf("InsertObservation failed: %v", err)
		}
	}

	obs, err := ListObservationsForBatch(database, "b1")
	if err != nil {
		t.Fatalf("ListObservationsForBatch failed: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("got %d observations, want 2", len(obs))
	}

	deleted, err := DeleteObservationsForBatches(database, []string{"b1"})
	if err != nil {
		t.Fatalf("DeleteObservationsForBatches failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
}

func TestCardsRoundTrip(t *testing.T) {
	database := testDB(t)

	err := InsertCard(database, &timeline.Card{
		ID:          "card1",
		BatchID:     "b1",
		StartTS:     1000,
		EndTS:       1900,
		Title:       "Morning coding",
		Description: "Worked on the **scheduler**",
		Category:    "Work",
		CreatedAt:   1,
	})
	if err != nil {
		t.Fatalf("InsertCard failed: %v", err)
	}

	if err := AttachTimelapse(database, "card1", "/derived/card1.mp4"); err != nil {
		t.Fatalf("AttachTimelapse failed: %v", err)
	}

	cards, err := ListCardsInRange(database, 900, 2000)
	if err != nil {
		t.Fatalf("ListCardsInRange failed: %v", err)
	}
	if len(cards) != 1 {
		t.Fatalf("got %d cards, want 1", len(cards))
	}
	if cards[0].TimelapsePath == nil || *cards[0].TimelapsePath != "/derived/card1.mp4" {
		t.Errorf("timelapse_path = %v, want attached path", cards[0].TimelapsePath)
	}

	// Range query excludes cards outside the window.
	cards, err = ListCardsInRange(database, 2000, 3000)
	if err != nil {
		t.Fatalf("ListCardsInRange failed: %v", err)
	}
	if len(cards) != 0 {
		t.Errorf("got %d cards outside range, want 0", len(cards))
	}
}

func TestLLMCallAudit(t *testing.T) {
	database := testDB(t)

	batchID := "b1"
	response := `{"observations": []}`
	err := InsertLLMCall(database, &timeline.LLMCall{
		ID:              "call1",
		BatchID:         &batchID,
		Provider:        "gemini",
		Operation:       "transcribe",
		RequestPayload:  `{"prompt": "..."}`,
		ResponsePayload: &response,
		Status:          "success",
		Attempt:         1,
		CreatedAt:       1,
	})
	if err != nil {
		t.Fatalf("InsertLLMCall failed: %v", err)
	}

	calls, err := ListLLMCallsForBatch(database, "b1")
	if err != nil {
		t.Fatalf("ListLLMCallsForBatch failed: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Operation != "transcribe" || calls[0].Status != "success" {
		t.Errorf("call = %+v, want transcribe/success", calls[0])
	}
}
