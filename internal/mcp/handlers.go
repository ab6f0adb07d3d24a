package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vegerot/dayflow/internal/config"
	"github.com/vegerot/dayflow/internal/db"
	"github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/timeline"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db      *sql.DB
	cfg     *config.Config
	factory ReprocessorFactory
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config, factory ReprocessorFactory) *Handlers {
	return &Handlers{db: db, cfg: cfg, factory: factory}
}

// Request types for each tool

// CardsRequest represents the arguments for timeline_cards.
type CardsRequest struct {
	Day string `json:"day,omitempty"`
}

// BatchStatusRequest represents the arguments for batch_status.
type BatchStatusRequest struct {
	Day    string `json:"day,omitempty"`
	Status string `json:"status,omitempty"`
}

// BatchDetailRequest represents the arguments for batch_detail.
type BatchDetailRequest struct {
	BatchID string `json:"batch_id"`
}

// ReprocessDayRequest represents the arguments for reprocess_day.
type ReprocessDayRequest struct {
	Day string `json:"day"`
}

// ReprocessBatchesRequest represents the arguments for reprocess_batches.
type ReprocessBatchesRequest struct {
	BatchIDs []string `json:"batch_ids"`
}

// Response item shapes

type cardItem struct {
	ID            string  `json:"id"`
	BatchID       string  `json:"batch_id"`
	StartTS       int64   `json:"start_ts"`
	EndTS         int64   `json:"end_ts"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	TimelapsePath *string `json:"timelapse_path,omitempty"`
}

type batchItem struct {
	ID            string  `json:"id"`
	StartTS       int64   `json:"start_ts"`
	EndTS         int64   `json:"end_ts"`
	Status        string  `json:"status"`
	FailureReason *string `json:"failure_reason,omitempty"`
	ChunkCount    int     `json:"chunk_count"`
}

type observationItem struct {
	StartTS     int64  `json:"start_ts"`
	EndTS       int64  `json:"end_ts"`
	Observation string `json:"observation"`
}

type chunkItem struct {
	ID       string `json:"id"`
	StartTS  int64  `json:"start_ts"`
	EndTS    int64  `json:"end_ts"`
	FilePath string `json:"file_path"`
	Status   string `json:"status"`
}

type callItem struct {
	Provider  string `json:"provider"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
	Attempt   int    `json:"attempt"`
	CreatedAt int64  `json:"created_at"`
}

// Handler implementations

// HandleCards handles the timeline_cards tool call.
func (h *Handlers) HandleCards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CardsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	day, start, end, err := h.resolveDay(input.Day)
	if err != nil {
		return errorResult(err), nil
	}

	cards, err := db.ListCardsInRange(h.db, start, end)
	if err != nil {
		return errorResult(err), nil
	}

	items := make([]cardItem, 0, len(cards))
	for _, c := range cards {
		items = append(items, cardItem{
			ID: c.ID, BatchID: c.BatchID,
			StartTS: c.StartTS, EndTS: c.EndTS,
			Title: c.Title, Description: c.Description, Category: c.Category,
			TimelapsePath: c.TimelapsePath,
		})
	}

	return successResult(map[string]any{"day": day, "cards": items})
}

// HandleBatchStatus handles the batch_status tool call.
func (h *Handlers) HandleBatchStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BatchStatusRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	day, start, end, err := h.resolveDay(input.Day)
	if err != nil {
		return errorResult(err), nil
	}

	batches, err := db.ListBatchesInRange(h.db, start, end)
	if err != nil {
		return errorResult(err), nil
	}

	items := make([]batchItem, 0, len(batches))
	for _, b := range batches {
		if input.Status != "" && string(b.Status) != input.Status {
			continue
		}
		chunks, err := db.ListChunksForBatch(h.db, b.ID)
		if err != nil {
			return errorResult(err), nil
		}
		items = append(items, batchItem{
			ID: b.ID, StartTS: b.StartTS, EndTS: b.EndTS,
			Status: string(b.Status), FailureReason: b.FailureReason,
			ChunkCount: len(chunks),
		})
	}

	return successResult(map[string]any{"day": day, "batches": items})
}

// HandleBatchDetail handles the batch_detail tool call.
func (h *Handlers) HandleBatchDetail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BatchDetailRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.BatchID == "" {
		return errorResult(errors.NewInvalidRequest("batch_id is required")), nil
	}

	batch, err := db.GetBatch(h.db, input.BatchID)
	if err != nil {
		return errorResult(err), nil
	}

	chunks, err := db.ListChunksForBatch(h.db, batch.ID)
	if err != nil {
		return errorResult(err), nil
	}
	observations, err := db.ListObservationsForBatch(h.db, batch.ID)
	if err != nil {
		return errorResult(err), nil
	}
	cards, err := db.ListCardsForBatches(h.db, []string{batch.ID})
	if err != nil {
		return errorResult(err), nil
	}
	calls, err := db.ListLLMCallsForBatch(h.db, batch.ID)
	if err != nil {
		return errorResult(err), nil
	}

	chunkItems := make([]chunkItem, 0, len(chunks))
	for _, c := range chunks {
		chunkItems = append(chunkItems, chunkItem{
			ID: c.ID, StartTS: c.StartTS, EndTS: c.EndTS,
			FilePath: c.FilePath, Status: string(c.Status),
		})
	}
	observationItems := make([]observationItem, 0, len(observations))
	for _, o := range observations {
		observationItems = append(observationItems, observationItem{
			StartTS: o.StartTS, EndTS: o.EndTS, Observation: o.Observation,
		})
	}
	cardItems := make([]cardItem, 0, len(cards))
	for _, c := range cards {
		cardItems = append(cardItems, cardItem{
			ID: c.ID, BatchID: c.BatchID,
			StartTS: c.StartTS, EndTS: c.EndTS,
			Title: c.Title, Description: c.Description, Category: c.Category,
			TimelapsePath: c.TimelapsePath,
		})
	}
	callItems := make([]callItem, 0, len(calls))
	for _, c := range calls {
		callItems = append(callItems, callItem{
			Provider: c.Provider, Operation: c.Operation,
			Status: c.Status, Attempt: c.Attempt, CreatedAt: c.CreatedAt,
		})
	}

	return successResult(map[string]any{
		"batch": batchItem{
			ID: batch.ID, StartTS: batch.StartTS, EndTS: batch.EndTS,
			Status: string(batch.Status), FailureReason: batch.FailureReason,
			ChunkCount: len(chunks),
		},
		"chunks":       chunkItems,
		"observations": observationItems,
		"cards":        cardItems,
		"calls":        callItems,
	})
}

// HandleChunkInventory handles the chunk_inventory tool call.
func (h *Handlers) HandleChunkInventory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts := map[string]int{}
	for _, status := range []timeline.ChunkStatus{timeline.ChunkRecording, timeline.ChunkCompleted, timeline.ChunkFailed} {
		s := status
		n, err := db.CountChunks(h.db, &s)
		if err != nil {
			return errorResult(err), nil
		}
		counts[string(status)] = n
	}

	used, err := dirSize(h.cfg.RecordingsDir)
	if err != nil {
		return errorResult(errors.NewStorage(err)), nil
	}

	return successResult(map[string]any{
		"chunks_by_status":  counts,
		"disk_used_bytes":   used,
		"quota_bytes":       h.cfg.StorageQuotaBytes,
		"recordings_dir":    h.cfg.RecordingsDir,
		"quota_utilization": float64(used) / float64(h.cfg.StorageQuotaBytes),
	})
}

// HandleReprocessDay handles the reprocess_day tool call.
func (h *Handlers) HandleReprocessDay(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReprocessDayRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Day == "" {
		return errorResult(errors.NewInvalidRequest("day is required")), nil
	}

	rep, err := h.factory()
	if err != nil {
		return errorResult(err), nil
	}

	summary, err := rep.ReprocessDay(ctx, input.Day, nil)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(summary)
}

// HandleReprocessBatches handles the reprocess_batches tool call.
func (h *Handlers) HandleReprocessBatches(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReprocessBatchesRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if len(input.BatchIDs) == 0 {
		return errorResult(errors.NewInvalidRequest("batch_ids is required")), nil
	}

	rep, err := h.factory()
	if err != nil {
		return errorResult(err), nil
	}

	summary, err := rep.ReprocessBatches(ctx, input.BatchIDs, nil)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(summary)
}

// resolveDay defaults an empty day to the current logical day and
// returns its absolute range.
func (h *Handlers) resolveDay(day string) (string, int64, int64, error) {
	if day == "" {
		day = timeline.LogicalDay(time.Now().Unix(), h.cfg.DayBoundaryHour)
	}
	start, end, err := timeline.DayRange(day, h.cfg.DayBoundaryHour)
	if err != nil {
		return "", 0, 0, errors.NewInvalidRequest("day must be formatted 2006-01-02")
	}
	return day, start, end, nil
}

// dirSize sums regular file sizes under root; a missing root counts as 0.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return 0, nil
		}
		return 0, err
	}
	return total, nil
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if pErr, ok := err.(*errors.PipelineError); ok {
		errorObj := map[string]any{
			"code":    pErr.Code,
			"message": pErr.Message,
			"status":  pErr.Status,
		}
		if pErr.Code != errors.ErrInternal && pErr.Details != nil {
			errorObj["details"] = pErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
