package web

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/vegerot/dayflow/internal/config"
	"github.com/vegerot/dayflow/internal/db"
	"github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/timeline"
)

// Handlers contains HTTP route handlers for the debug UI.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	renderer *Renderer
}

// HandleTimeline handles GET /timeline, the day's activity cards.
func (h *Handlers) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	day, start, end, err := h.resolveDay(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	cards, err := db.ListCardsInRange(h.db, start, end)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	views := make([]CardView, 0, len(cards))
	var covered int64
	for _, c := range cards {
		views = append(views, CardView{
			Card:         c,
			RenderedHTML: renderMarkdown(c.Description),
		})
		covered += c.EndTS - c.StartTS
	}

	h.renderer.renderPage(w, r, "timeline", TimelinePageData{
		PageData: PageData{
			Title:   "Timeline " + day,
			Version: h.renderer.version,
			Nav:     "timeline",
		},
		Day:      day,
		PrevDay:  shiftDay(day, -1),
		NextDay:  shiftDay(day, 1),
		Cards:    views,
		Coverage: formatSpan(0, covered),
	})
}

// HandleBatches handles GET /batches, batch statuses for a day.
func (h *Handlers) HandleBatches(w http.ResponseWriter, r *http.Request) {
	day, start, end, err := h.resolveDay(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	batches, err := db.ListBatchesInRange(h.db, start, end)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	rows := make([]BatchRow, 0, len(batches))
	for _, b := range batches {
		chunks, err := db.ListChunksForBatch(h.db, b.ID)
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		rows = append(rows, BatchRow{Batch: b, ChunkCount: len(chunks)})
	}

	h.renderer.renderPage(w, r, "batches", BatchesPageData{
		PageData: PageData{
			Title:   "Batches " + day,
			Version: h.renderer.version,
			Nav:     "batches",
		},
		Day:     day,
		PrevDay: shiftDay(day, -1),
		NextDay: shiftDay(day, 1),
		Batches: rows,
	})
}

// HandleBatchDetail handles GET /batches/{id}: one batch's chunks,
// observations, cards, and provider call audit trail.
func (h *Handlers) HandleBatchDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("batch ID is required"))
		return
	}

	batch, err := db.GetBatch(h.db, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	chunks, err := db.ListChunksForBatch(h.db, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	observations, err := db.ListObservationsForBatch(h.db, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	cards, err := db.ListCardsForBatches(h.db, []string{id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	calls, err := db.ListLLMCallsForBatch(h.db, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	views := make([]CardView, 0, len(cards))
	for _, c := range cards {
		views = append(views, CardView{Card: c, RenderedHTML: renderMarkdown(c.Description)})
	}

	h.renderer.renderPage(w, r, "batch", BatchDetailPageData{
		PageData: PageData{
			Title:   "Batch " + id,
			Version: h.renderer.version,
			Nav:     "batches",
		},
		Batch:        batch,
		Chunks:       chunks,
		Observations: observations,
		Cards:        views,
		Calls:        calls,
	})
}

// resolveDay reads the day query parameter, defaulting to the current
// logical day, and returns its absolute time range.
func (h *Handlers) resolveDay(r *http.Request) (string, int64, int64, error) {
	day := r.URL.Query().Get("day")
	if day == "" {
		day = timeline.LogicalDay(time.Now().Unix(), h.cfg.DayBoundaryHour)
	}

	start, end, err := timeline.DayRange(day, h.cfg.DayBoundaryHour)
	if err != nil {
		return "", 0, 0, errors.NewInvalidRequest("day must be formatted 2006-01-02")
	}
	return day, start, end, nil
}

// shiftDay moves a 2006-01-02 day string by delta days.
func shiftDay(day string, delta int) string {
	t, err := time.ParseInLocation("2006-01-02", day, time.Local)
	if err != nil {
		return day
	}
	return t.AddDate(0, 0, delta).Format("2006-01-02")
}
