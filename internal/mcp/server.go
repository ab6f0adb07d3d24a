// Package mcp exposes the timeline over the Model Context Protocol:
// inspection tools for cards, batches, and chunks, plus reprocessing.
package mcp

import (
	"database/sql"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vegerot/dayflow/internal/analysis"
	"github.com/vegerot/dayflow/internal/config"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"timeline_cards": {
		def:     cardsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCards },
	},
	"batch_status": {
		def:     batchStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBatchStatus },
	},
	"batch_detail": {
		def:     batchDetailToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBatchDetail },
	},
	"chunk_inventory": {
		def:     chunkInventoryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleChunkInventory },
	},
	"reprocess_day": {
		def:     reprocessDayToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReprocessDay },
	},
	"reprocess_batches": {
		def:     reprocessBatchesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReprocessBatches },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ReprocessorFactory builds a Reprocessor on demand. Kept lazy so the
// inspection tools work without provider credentials configured.
type ReprocessorFactory func() (*analysis.Reprocessor, error)

// NewServer creates a new MCP server with Dayflow tools registered.
func NewServer(db *sql.DB, cfg *config.Config, version string, factory ReprocessorFactory) *server.MCPServer {
	s := server.NewMCPServer(
		"dayflow",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, factory)

	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, version string, factory ReprocessorFactory) error {
	s := NewServer(db, cfg, version, factory)
	return server.ServeStdio(s)
}
