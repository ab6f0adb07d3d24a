package analysis

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	"github.com/vegerot/dayflow/internal/config"
	"github.com/vegerot/dayflow/internal/db"
	apperrors "github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/timeline"
)

// Reprocessor re-runs analysis over already-processed batches, cleaning
// up prior results first so no stale card or observation survives next
// to regenerated ones.
type Reprocessor struct {
	database  *sql.DB
	cfg       *config.Config
	scheduler *Scheduler
}

func NewReprocessor(database *sql.DB, cfg *config.Config, scheduler *Scheduler) *Reprocessor {
	return &Reprocessor{database: database, cfg: cfg, scheduler: scheduler}
}

// BatchResult is the per-batch outcome of a reprocess run.
type BatchResult struct {
	BatchID string               `json:"batch_id"`
	Status  timeline.BatchStatus `json:"status"`
	Seconds float64              `json:"seconds"`
}

// Summary reports what a reprocess run removed and produced.
type Summary struct {
	BatchCount          int           `json:"batch_count"`
	CardsRemoved        int           `json:"cards_removed"`
	ObservationsRemoved int           `json:"observations_removed"`
	Results             []BatchResult `json:"results"`
}

// Progress is called after each batch finishes. May be nil.
type Progress func(result BatchResult)

// ReprocessDay re-runs every batch overlapping the given logical day
// (formatted 2006-01-02, with the configured day boundary).
func (r *Reprocessor) ReprocessDay(ctx context.Context, day string, progress Progress) (*Summary, error) {
	start, end, err := timeline.DayRange(day, r.cfg.DayBoundaryHour)
	if err != nil {
		return nil, apperrors.NewInvalidRequest(err.Error())
	}

	batches, err := db.ListBatchesInRange(r.database, start, end)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(batches))
	for _, b := range batches {
		// A batch still processing belongs to the scheduler; skip it
		// rather than yank its state out from under a live run.
		if b.Status == timeline.BatchProcessing {
			continue
		}
		ids = append(ids, b.ID)
	}
	return r.ReprocessBatches(ctx, ids, progress)
}

// ReprocessBatches re-runs the given batches: prior cards and
// observations are deleted, derived timelapse files removed, statuses
// reset to pending, then each batch is executed sequentially.
func (r *Reprocessor) ReprocessBatches(ctx context.Context, batchIDs []string, progress Progress) (*Summary, error) {
	summary := &Summary{BatchCount: len(batchIDs)}
	if len(batchIDs) == 0 {
		return summary, nil
	}

	for _, id := range batchIDs {
		if _, err := db.GetBatch(r.database, id); err != nil {
			return nil, err
		}
	}

	// Collect timelapse paths before the cards referencing them go away.
	staleCards, err := db.ListCardsForBatches(r.database, batchIDs)
	if err != nil {
		return nil, err
	}
	timelapses := map[string]bool{}
	for _, c := range staleCards {
		if c.TimelapsePath != nil {
			timelapses[*c.TimelapsePath] = true
		}
	}

	cardsRemoved, err := db.DeleteCardsForBatches(r.database, batchIDs)
	if err != nil {
		return nil, err
	}
	summary.CardsRemoved = cardsRemoved

	observationsRemoved, err := db.DeleteObservationsForBatches(r.database, batchIDs)
	if err != nil {
		return nil, err
	}
	summary.ObservationsRemoved = observationsRemoved

	for path := range timelapses {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("analysis: remove stale timelapse %s: %v", path, err)
		}
	}

	if err := db.ResetBatches(r.database, batchIDs); err != nil {
		return nil, err
	}

	for _, id := range batchIDs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		started := time.Now()
		status := r.scheduler.ExecuteBatch(ctx, id)
		result := BatchResult{
			BatchID: id,
			Status:  status,
			Seconds: time.Since(started).Seconds(),
		}
		summary.Results = append(summary.Results, result)
		if progress != nil {
			progress(result)
		}
	}
	return summary, nil
}
