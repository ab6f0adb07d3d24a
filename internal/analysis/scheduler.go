// Package analysis drives batches through their lifecycle: forming them
// from unprocessed chunks, running the provider's two-call analysis, and
// persisting observations, cards, and the audit trail. One batch failing
// never stops the others.
package analysis

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vegerot/dayflow/internal/batching"
	"github.com/vegerot/dayflow/internal/config"
	"github.com/vegerot/dayflow/internal/db"
	apperrors "github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/provider"
	"github.com/vegerot/dayflow/internal/recording"
	"github.com/vegerot/dayflow/internal/timeline"
)

// Stitcher produces batch video artifacts. Satisfied by
// timelapse.Encoder; stubbed in tests.
type Stitcher interface {
	Stitch(ctx context.Context, chunkPaths []string, outPath string) error
	Timelapse(ctx context.Context, inPath, outPath string) error
}

// Scheduler runs the periodic analysis pass.
type Scheduler struct {
	database *sql.DB
	cfg      *config.Config
	provider provider.Provider
	store    *recording.Store
	stitcher Stitcher

	running atomic.Bool
	now     func() int64
}

func NewScheduler(database *sql.DB, cfg *config.Config, p provider.Provider, store *recording.Store, stitcher Stitcher) *Scheduler {
	return &Scheduler{
		database: database,
		cfg:      cfg,
		provider: p,
		store:    store,
		stitcher: stitcher,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// Start runs analysis passes at the configured interval until ctx is
// cancelled. The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	interval := time.Duration(s.cfg.AnalysisIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			log.Printf("analysis: pass failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce forms new batches from unprocessed chunks and executes every
// pending batch sequentially. At most one pass runs at a time; an
// overlapping call returns immediately.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	defer s.running.Store(false)

	now := s.now()
	if err := s.formBatches(now); err != nil {
		return err
	}

	pending, err := db.ListBatchesByStatus(s.database, timeline.BatchPending)
	if err != nil {
		return err
	}
	for _, b := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.ExecuteBatch(ctx, b.ID)
	}
	return nil
}

// formBatches groups unprocessed chunks into pending batches.
func (s *Scheduler) formBatches(now int64) error {
	chunks, err := s.store.FetchUnprocessed(now)
	if err != nil {
		return err
	}

	drafts := batching.Build(chunks, now, batching.Params{
		MaxGapSeconds: int64(s.cfg.MaxGapSeconds),
		TargetSeconds: int64(s.cfg.TargetBatchSeconds),
		MinSeconds:    int64(s.cfg.MinBatchSeconds),
	})

	for _, draft := range drafts {
		id, err := generateULID()
		if err != nil {
			return err
		}
		batch := &timeline.Batch{
			ID:        id,
			StartTS:   draft.StartTS,
			EndTS:     draft.EndTS,
			Status:    timeline.BatchPending,
			CreatedAt: now,
		}
		err = db.InsertBatch(s.database, batch, draft.ChunkIDs())
		if apperrors.Is(err, apperrors.ErrConflict) {
			// Another pass or an eviction raced us; the chunks will be
			// picked up again next pass if still eligible.
			log.Printf("analysis: skip batch over [%d, %d): %v", draft.StartTS, draft.EndTS, err)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ExecuteBatch runs one batch through analysis. The batch always lands
// in a terminal status: completed, failed with a reason, failed_empty,
// or skipped_short. Returns the terminal status.
func (s *Scheduler) ExecuteBatch(ctx context.Context, batchID string) timeline.BatchStatus {
	err := db.ClaimBatch(s.database, batchID, timeline.BatchPending, timeline.BatchProcessing)
	if apperrors.Is(err, apperrors.ErrConflict) {
		// Someone else holds it; not our batch to run.
		b, getErr := db.GetBatch(s.database, batchID)
		if getErr != nil {
			return timeline.BatchFailed
		}
		return b.Status
	}
	if err != nil {
		return s.fail(batchID, err)
	}

	chunks, err := db.ListChunksForBatch(s.database, batchID)
	if err != nil {
		return s.fail(batchID, err)
	}
	if len(chunks) == 0 {
		// Eviction raced batch formation and emptied the batch.
		s.finish(batchID, timeline.BatchFailedEmpty, nil)
		return timeline.BatchFailedEmpty
	}

	var total int64
	paths := make([]string, 0, len(chunks))
	for _, c := range chunks {
		total += c.Duration()
		paths = append(paths, c.FilePath)
	}
	if total < int64(s.cfg.MinBatchSeconds) {
		s.finish(batchID, timeline.BatchSkippedShort, nil)
		return timeline.BatchSkippedShort
	}

	videoPath := filepath.Join(s.cfg.DerivedDir, "batches", batchID+".mp4")
	if err := os.MkdirAll(filepath.Dir(videoPath), 0700); err != nil {
		return s.fail(batchID, err)
	}
	if err := s.stitcher.Stitch(ctx, paths, videoPath); err != nil {
		return s.fail(batchID, err)
	}
	defer os.Remove(videoPath)

	batchStart := chunks[0].StartTS

	observations, callLogs, err := s.provider.Transcribe(ctx, videoPath)
	s.persistCallLogs(batchID, callLogs)
	if err != nil {
		return s.fail(batchID, err)
	}

	// The stitched video carrying these chunks reached the provider.
	for _, c := range chunks {
		if err := db.MarkChunkUploaded(s.database, c.ID); err != nil {
			log.Printf("analysis: mark chunk %s uploaded: %v", c.ID, err)
		}
	}

	for _, o := range observations {
		id, err := generateULID()
		if err != nil {
			return s.fail(batchID, err)
		}
		// Model timestamps can drift past the end of the footage; clamp
		// before converting so persisted rows stay inside the batch span.
		relStart, relEnd := clampSpan(o.StartSeconds, o.EndSeconds, total)
		record := &timeline.Observation{
			ID:          id,
			BatchID:     batchID,
			StartTS:     timeline.ToAbsolute(batchStart, relStart),
			EndTS:       timeline.ToAbsolute(batchStart, relEnd),
			Observation: o.Description,
			CreatedAt:   s.now(),
		}
		if err := db.InsertObservation(s.database, record); err != nil {
			return s.fail(batchID, err)
		}
	}

	pctx, err := s.priorContext(batchStart)
	if err != nil {
		return s.fail(batchID, err)
	}

	cards, callLogs, err := s.provider.SynthesizeCards(ctx, observations, pctx)
	s.persistCallLogs(batchID, callLogs)
	if err != nil {
		return s.fail(batchID, err)
	}

	cardIDs := make([]string, 0, len(cards))
	for _, c := range cards {
		id, err := generateULID()
		if err != nil {
			return s.fail(batchID, err)
		}
		relStart, relEnd := clampSpan(c.StartSeconds, c.EndSeconds, total)
		record := &timeline.Card{
			ID:          id,
			BatchID:     batchID,
			StartTS:     timeline.ToAbsolute(batchStart, relStart),
			EndTS:       timeline.ToAbsolute(batchStart, relEnd),
			Title:       c.Title,
			Description: c.Description,
			Category:    c.Category,
			CreatedAt:   s.now(),
		}
		if err := db.InsertCard(s.database, record); err != nil {
			return s.fail(batchID, err)
		}
		cardIDs = append(cardIDs, id)
	}

	s.finish(batchID, timeline.BatchCompleted, nil)

	// The timelapse is a nicety: its failure never affects the batch.
	s.deriveTimelapse(ctx, batchID, paths, cardIDs)

	return timeline.BatchCompleted
}

// priorContext gathers earlier cards from the same logical day so
// synthesis can continue activities instead of restarting them.
func (s *Scheduler) priorContext(batchStart int64) (provider.Context, error) {
	day := timeline.LogicalDay(batchStart, s.cfg.DayBoundaryHour)
	dayStart, _, err := timeline.DayRange(day, s.cfg.DayBoundaryHour)
	if err != nil {
		return provider.Context{}, err
	}

	prior, err := db.ListCardsInRange(s.database, dayStart, batchStart)
	if err != nil {
		return provider.Context{}, err
	}

	titles := make([]string, 0, len(prior))
	for _, c := range prior {
		titles = append(titles, c.Title)
	}
	return provider.Context{
		PriorCards: titles,
		Categories: s.cfg.Categories,
	}, nil
}

// deriveTimelapse re-stitches the batch, speeds it up, and attaches the
// artifact to the batch's cards. Failures are logged only.
func (s *Scheduler) deriveTimelapse(ctx context.Context, batchID string, chunkPaths, cardIDs []string) {
	if len(cardIDs) == 0 {
		return
	}

	dir := filepath.Join(s.cfg.DerivedDir, "timelapses")
	if err := os.MkdirAll(dir, 0700); err != nil {
		log.Printf("analysis: timelapse dir for batch %s: %v", batchID, err)
		return
	}

	full := filepath.Join(dir, batchID+"-full.mp4")
	if err := s.stitcher.Stitch(ctx, chunkPaths, full); err != nil {
		log.Printf("analysis: timelapse stitch for batch %s: %v", batchID, err)
		return
	}
	defer os.Remove(full)

	out := filepath.Join(dir, batchID+".mp4")
	if err := s.stitcher.Timelapse(ctx, full, out); err != nil {
		log.Printf("analysis: timelapse encode for batch %s: %v", batchID, err)
		return
	}

	for _, cardID := range cardIDs {
		if err := db.AttachTimelapse(s.database, cardID, out); err != nil {
			log.Printf("analysis: attach timelapse to card %s: %v", cardID, err)
		}
	}
}

func (s *Scheduler) persistCallLogs(batchID string, callLogs []provider.CallLog) {
	for _, cl := range callLogs {
		id, err := generateULID()
		if err != nil {
			log.Printf("analysis: call log id: %v", err)
			continue
		}
		response := cl.ResponsePayload
		record := &timeline.LLMCall{
			ID:             id,
			BatchID:        &batchID,
			Provider:       s.provider.Name(),
			Operation:      cl.Operation,
			RequestPayload: cl.RequestPayload,
			Status:         cl.Status,
			Attempt:        cl.Attempt,
			CreatedAt:      s.now(),
		}
		if response != "" {
			record.ResponsePayload = &response
		}
		if err := db.InsertLLMCall(s.database, record); err != nil {
			// Audit writes never fail the batch.
			log.Printf("analysis: persist call log for batch %s: %v", batchID, err)
		}
	}
}

func (s *Scheduler) fail(batchID string, cause error) timeline.BatchStatus {
	reason := cause.Error()
	s.finish(batchID, timeline.BatchFailed, &reason)
	return timeline.BatchFailed
}

func (s *Scheduler) finish(batchID string, status timeline.BatchStatus, reason *string) {
	if err := db.FinishBatch(s.database, batchID, status, reason); err != nil {
		log.Printf("analysis: finish batch %s as %s: %v", batchID, status, err)
	}
}

// clampSpan bounds a video-relative [start, end] pair to [0, max].
func clampSpan(start, end, max int64) (int64, int64) {
	if start < 0 {
		start = 0
	}
	if start > max {
		start = max
	}
	if end > max {
		end = max
	}
	if end < start {
		end = start
	}
	return start, end
}

func generateULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}
