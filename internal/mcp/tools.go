package mcp

import "github.com/mark3labs/mcp-go/mcp"

var cardsToolDef = mcp.NewTool("timeline_cards",
	mcp.WithDescription("List the activity cards for a logical day, newest data first. Defaults to today."),
	mcp.WithString("day", mcp.Description("Logical day formatted 2006-01-02")),
)

var batchStatusToolDef = mcp.NewTool("batch_status",
	mcp.WithDescription("List analysis batches for a logical day with their status and failure reasons."),
	mcp.WithString("day", mcp.Description("Logical day formatted 2006-01-02")),
	mcp.WithString("status", mcp.Description("Filter: pending, processing, completed, failed, failed_empty, or skipped_short")),
)

var batchDetailToolDef = mcp.NewTool("batch_detail",
	mcp.WithDescription("Inspect one batch: its chunks, observations, cards, and provider call audit trail."),
	mcp.WithString("batch_id", mcp.Required(), mcp.Description("Batch ID")),
)

var chunkInventoryToolDef = mcp.NewTool("chunk_inventory",
	mcp.WithDescription("Report chunk counts by status and recordings disk usage against the storage quota."),
)

var reprocessDayToolDef = mcp.NewTool("reprocess_day",
	mcp.WithDescription("Re-run analysis for every batch of a logical day. Prior cards and observations are replaced."),
	mcp.WithString("day", mcp.Required(), mcp.Description("Logical day formatted 2006-01-02")),
)

var reprocessBatchesToolDef = mcp.NewTool("reprocess_batches",
	mcp.WithDescription("Re-run analysis for specific batches. Prior cards and observations are replaced."),
	mcp.WithArray("batch_ids", mcp.Required(), mcp.Description("Batch IDs to reprocess"),
		mcp.Items(map[string]any{"type": "string"})),
)
