package db

import (
	"database/sql"

	"github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/timeline"
)

// InsertObservation stores a single observation row.
func InsertObservation(db *sql.DB, o *timeline.Observation) error {
	_, err := db.Exec(`
		INSERT INTO observations (id, batch_id, start_ts, end_ts, observation, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, o.ID, o.BatchID, o.StartTS, o.EndTS, o.Observation, o.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListObservationsForBatch returns a batch's observations in time order.
func ListObservationsForBatch(db *sql.DB, batchID string) ([]timeline.Observation, error) {
	rows, err := db.Query(`
		SELECT id, batch_id, start_ts, end_ts, observation, created_at
		FROM observations
		WHERE batch_id = ?
		ORDER BY start_ts ASC
	`, batchID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var obs []timeline.Observation
	for rows.Next() {
		var o timeline.Observation
		if err := rows.Scan(&o.ID, &o.BatchID, &o.StartTS, &o.EndTS, &o.Observation, &o.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return obs, nil
}

// DeleteObservationsForBatches removes all observations for the given
// batch IDs. Returns the number of rows deleted.
func DeleteObservationsForBatches(db *sql.DB, batchIDs []string) (int, error) {
	if len(batchIDs) == 0 {
		return 0, nil
	}
	query := `DELETE FROM observations WHERE batch_id IN (` + placeholders(len(batchIDs)) + `)`
	args := make([]any, len(batchIDs))
	for i, id := range batchIDs {
		args[i] = id
	}
	result, err := db.Exec(query, args...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}
