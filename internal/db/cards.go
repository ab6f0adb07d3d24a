package db

import (
	"database/sql"

	"github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/timeline"
)

// InsertCard stores a timeline card.
func InsertCard(db *sql.DB, c *timeline.Card) error {
	_, err := db.Exec(`
		INSERT INTO timeline_cards (
			id, batch_id, start_ts, end_ts, title, description,
			category, metadata, timelapse_path, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.BatchID, c.StartTS, c.EndTS, c.Title, c.Description,
		c.Category, toNullString(c.Metadata), toNullString(c.TimelapsePath), c.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// AttachTimelapse sets a card's timelapse path after async generation.
func AttachTimelapse(db *sql.DB, cardID, path string) error {
	result, err := db.Exec(`
		UPDATE timeline_cards SET timelapse_path = ? WHERE id = ?
	`, path, cardID)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(cardID)
	}
	return nil
}

// ListCardsInRange returns cards overlapping [start, end) in time order.
func ListCardsInRange(db *sql.DB, start, end int64) ([]timeline.Card, error) {
	rows, err := db.Query(`
		SELECT id, batch_id, start_ts, end_ts, title, description,
			category, metadata, timelapse_path, created_at
		FROM timeline_cards
		WHERE start_ts < ? AND end_ts > ?
		ORDER BY start_ts ASC
	`, end, start)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectCards(rows)
}

// ListCardsForBatches returns cards belonging to the given batch IDs.
func ListCardsForBatches(db *sql.DB, batchIDs []string) ([]timeline.Card, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, batch_id, start_ts, end_ts, title, description,
			category, metadata, timelapse_path, created_at
		FROM timeline_cards
		WHERE batch_id IN (` + placeholders(len(batchIDs)) + `)
		ORDER BY start_ts ASC`
	args := make([]any, len(batchIDs))
	for i, id := range batchIDs {
		args[i] = id
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectCards(rows)
}

// DeleteCardsForBatches removes cards for the given batch IDs.
// Returns the number of rows deleted. Timelapse files belonging to the
// cards are the caller's responsibility, collected before the delete.
func DeleteCardsForBatches(db *sql.DB, batchIDs []string) (int, error) {
	if len(batchIDs) == 0 {
		return 0, nil
	}
	query := `DELETE FROM timeline_cards WHERE batch_id IN (` + placeholders(len(batchIDs)) + `)`
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

func scanCard(row scanner) (*timeline.Card, error) {
	var (
		c         timeline.Card
		metadata  sql.NullString
		timelapse sql.NullString
	)
	if err := row.Scan(&c.ID, &c.BatchID, &c.StartTS, &c.EndTS, &c.Title,
		&c.Description, &c.Category, &metadata, &timelapse, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Metadata = fromNullString(metadata)
	c.TimelapsePath = fromNullString(timelapse)
	return &c, nil
}

func collectCards(rows *sql.Rows) ([]timeline.Card, error) {
	var cards []timeline.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		cards = append(cards, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return cards, nil
}
