package db

import (
	"database/sql"
	"strings"

	"github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/timeline"
)

// InsertBatch stores a batch and its chunk memberships in one transaction.
// Fails with CONFLICT if any chunk is already claimed by another batch,
// keeping batch chunk sets non-overlapping.
func InsertBatch(db *sql.DB, b *timeline.Batch, chunkIDs []string) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO analysis_batches (id, start_ts, end_ts, status, failure_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.StartTS, b.EndTS, b.Status, toNullString(b.FailureReason), b.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}

	for _, chunkID := range chunkIDs {
		// The chunk must still exist: eviction may have raced the
		// builder between fetch and save.
		var exists int
		err = tx.QueryRow(`SELECT 1 FROM chunks WHERE id = ?`, chunkID).Scan(&exists)
		if err == sql.ErrNoRows {
			return errors.NewConflict("chunk " + chunkID + " no longer exists")
		}
		if err != nil {
			return errors.NewInternal(err)
		}

		var claimed int
		err = tx.QueryRow(`SELECT 1 FROM batch_chunks WHERE chunk_id = ? LIMIT 1`, chunkID).Scan(&claimed)
		if err == nil {
			return errors.NewConflict("chunk " + chunkID + " already belongs to a batch")
		}
		if err != sql.ErrNoRows {
			return errors.NewInternal(err)
		}

		if _, err := tx.Exec(`
			INSERT INTO batch_chunks (batch_id, chunk_id) VALUES (?, ?)
		`, b.ID, chunkID); err != nil {
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetBatch retrieves a batch by ID.
func GetBatch(db *sql.DB, id string) (*timeline.Batch, error) {
	row := db.QueryRow(`
		SELECT id, start_ts, end_ts, status, failure_reason, created_at
		FROM analysis_batches WHERE id = ?
	`, id)

	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return b, nil
}

// ClaimBatch atomically moves a batch from an expected status to a new
// one. Returns CONFLICT if the batch is not in the expected status, which
// is how the scheduler and reprocessor avoid double-running a batch.
func ClaimBatch(db *sql.DB, id string, from, to timeline.BatchStatus) error {
	result, err := db.Exec(`
		UPDATE analysis_batches SET status = ?, failure_reason = NULL
		WHERE id = ? AND status = ?
	`, to, id, from)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewConflict("batch " + id + " is not in status " + string(from))
	}
	return nil
}

// FinishBatch sets a batch's terminal status and optional failure reason.
func FinishBatch(db *sql.DB, id string, status timeline.BatchStatus, reason *string) error {
	result, err := db.Exec(`
		UPDATE analysis_batches SET status = ?, failure_reason = ?
		WHERE id = ?
	`, status, toNullString(reason), id)
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

// ResetBatches flips the given batches back to pending and clears any
// failure reason, ahead of reprocessing.
func ResetBatches(db *sql.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE analysis_batches SET status = ?, failure_reason = NULL
		WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, timeline.BatchPending)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := db.Exec(query, args...); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListBatchesInRange returns batches whose span overlaps [start, end),
// ordered by start time.
func ListBatchesInRange(db *sql.DB, start, end int64) ([]timeline.Batch, error) {
	rows, err := db.Query(`
		SELECT id, start_ts, end_ts, status, failure_reason, created_at
		FROM analysis_batches
		WHERE start_ts < ? AND end_ts > ?
		ORDER BY start_ts ASC
	`, end, start)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectBatches(rows)
}

// ListBatchesByStatus returns batches in a given status, oldest first.
func ListBatchesByStatus(db *sql.DB, status timeline.BatchStatus) ([]timeline.Batch, error) {
	rows, err := db.Query(`
		SELECT id, start_ts, end_ts, status, failure_reason, created_at
		FROM analysis_batches
		WHERE status = ?
		ORDER BY start_ts ASC
	`, status)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectBatches(rows)
}

func scanBatch(row scanner) (*timeline.Batch, error) {
	var (
		b      timeline.Batch
		reason sql.NullString
	)
	if err := row.Scan(&b.ID, &b.StartTS, &b.EndTS, &b.Status, &reason, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.FailureReason = fromNullString(reason)
	return &b, nil
}

func collectBatches(rows *sql.Rows) ([]timeline.Batch, error) {
	var batches []timeline.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		batches = append(batches, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return batches, nil
}

// placeholders builds "?, ?, ..." for IN clauses.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
