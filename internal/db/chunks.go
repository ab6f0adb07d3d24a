package db

import (
	"database/sql"

	"github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/timeline"
)

// InsertChunk stores a new chunk row.
func InsertChunk(db *sql.DB, c *timeline.Chunk) error {
	query := `
		INSERT INTO chunks (id, start_ts, end_ts, file_path, status, uploaded)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := db.Exec(query, c.ID, c.StartTS, c.EndTS, c.FilePath, c.Status, boolToInt(c.Uploaded))
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetChunk retrieves a chunk by ID.
func GetChunk(db *sql.DB, id string) (*timeline.Chunk, error) {
	row := db.QueryRow(`
		SELECT id, start_ts, end_ts, file_path, status, uploaded
		FROM chunks WHERE id = ?
	`, id)

	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// CompleteChunk overwrites the estimated end time with the true one and
// flips the chunk to completed status.
func CompleteChunk(db *sql.DB, id string, endTS int64) error {
	result, err := db.Exec(`
		UPDATE chunks SET end_ts = ?, status = ?
		WHERE id = ? AND status = ?
	`, endTS, timeline.ChunkCompleted, id, timeline.ChunkRecording)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// DeleteChunk removes a chunk row. The DB delete is authoritative; file
// removal happens afterward, best effort, at the caller.
func DeleteChunk(db *sql.DB, id string) error {
	result, err := db.Exec(`DELETE FROM chunks WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// MarkChunkUploaded records that a chunk's file reached the provider.
func MarkChunkUploaded(db *sql.DB, id string) error {
	_, err := db.Exec(`UPDATE chunks SET uploaded = 1 WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListUnprocessedChunks returns completed chunks not referenced by any
// batch, ending at or before cutoff and starting within the lookback
// window, ordered by start time.
func ListUnprocessedChunks(db *sql.DB, cutoff, lookbackStart int64) ([]timeline.Chunk, error) {
	rows, err := db.Query(`
		SELECT id, start_ts, end_ts, file_path, status, uploaded
		FROM chunks
		WHERE status = ?
		  AND end_ts <= ?
		  AND start_ts >= ?
		  AND id NOT IN (SELECT chunk_id FROM batch_chunks)
		ORDER BY start_ts ASC
	`, timeline.ChunkCompleted, cutoff, lookbackStart)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

// ListChunksForBatch returns a batch's chunks ordered by start time.
func ListChunksForBatch(db *sql.DB, batchID string) ([]timeline.Chunk, error) {
	rows, err := db.Query(`
		SELECT c.id, c.start_ts, c.end_ts, c.file_path, c.status, c.uploaded
		FROM chunks c
		JOIN batch_chunks bc ON bc.chunk_id = c.id
		WHERE bc.batch_id = ?
		ORDER BY c.start_ts ASC
	`, batchID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

// EvictableChunk pairs a chunk ID with its file path for the purge pass.
type EvictableChunk struct {
	ID       string
	FilePath string
}

// ListEvictableChunks selects the oldest chunks not referenced by any
// batch, bounded by limit. Runs inside the caller's eviction transaction
// so the referential check and the delete see the same state.
func ListEvictableChunks(tx *sql.Tx, limit int) ([]EvictableChunk, error) {
	rows, err := tx.Query(`
		SELECT id, file_path FROM chunks
		WHERE status IN (?, ?)
		  AND id NOT IN (SELECT chunk_id FROM batch_chunks)
		ORDER BY start_ts ASC
		LIMIT ?
	`, timeline.ChunkCompleted, timeline.ChunkRecording, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var result []EvictableChunk
	for rows.Next() {
		var e EvictableChunk
		if err := rows.Scan(&e.ID, &e.FilePath); err != nil {
			return nil, errors.NewInternal(err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return result, nil
}

// DeleteChunkTx removes a chunk row inside the eviction transaction.
func DeleteChunkTx(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`DELETE FROM chunks WHERE id = ?`, id); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// CountChunks returns the number of chunk rows, optionally by status.
func CountChunks(db *sql.DB, status *timeline.ChunkStatus) (int, error) {
	var (
		count int
		err   error
	)
	if status != nil {
		err = db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE status = ?`, *status).Scan(&count)
	} else {
		err = db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&count)
	}
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return count, nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner) (*timeline.Chunk, error) {
	var (
		c        timeline.Chunk
		uploaded int
	)
	if err := row.Scan(&c.ID, &c.StartTS, &c.EndTS, &c.FilePath, &c.Status, &uploaded); err != nil {
		return nil, err
	}
	c.Uploaded = uploaded != 0
	return &c, nil
}

func collectChunks(rows *sql.Rows) ([]timeline.Chunk, error) {
	var chunks []timeline.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		chunks = append(chunks, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return chunks, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
