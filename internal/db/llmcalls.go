package db

import (
	"database/sql"

	"github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/timeline"
)

// InsertLLMCall appends one audit row for a provider call attempt.
// Rows are write-once: nothing ever updates or retries them.
func InsertLLMCall(db *sql.DB, call *timeline.LLMCall) error {
	_, err := db.Exec(`
		INSERT INTO llm_requests (
			id, batch_id, provider, operation, request_payload,
			response_payload, status, attempt, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, call.ID, toNullString(call.BatchID), call.Provider, call.Operation,
		call.RequestPayload, toNullString(call.ResponsePayload),
		call.Status, call.Attempt, call.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListLLMCallsForBatch returns a batch's audit rows in insertion order.
func ListLLMCallsForBatch(db *sql.DB, batchID string) ([]timeline.LLMCall, error) {
	rows, err := db.Query(`
		SELECT id, batch_id, provider, operation, request_payload,
			response_payload, status, attempt, created_at
		FROM llm_requests
		WHERE batch_id = ?
		ORDER BY created_at ASC, id ASC
	`, batchID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var calls []timeline.LLMCall
	for rows.Next() {
		var (
			call     timeline.LLMCall
			batch    sql.NullString
			response sql.NullString
		)
		if err := rows.Scan(&call.ID, &batch, &call.Provider, &call.Operation,
			&call.RequestPayload, &response, &call.Status, &call.Attempt, &call.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		call.BatchID = fromNullString(batch)
		call.ResponsePayload = fromNullString(response)
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return calls, nil
}
