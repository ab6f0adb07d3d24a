package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vegerot/dayflow/internal/analysis"
	"github.com/vegerot/dayflow/internal/config"
	"github.com/vegerot/dayflow/internal/db"
	"github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/mcp"
	"github.com/vegerot/dayflow/internal/provider"
	"github.com/vegerot/dayflow/internal/recording"
	"github.com/vegerot/dayflow/internal/timelapse"
	"github.com/vegerot/dayflow/internal/timeline"
	"github.com/vegerot/dayflow/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(database *sql.DB, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "dayflow",
		Usage:   "Screen recording analysis pipeline",
		Version: Version,
		Commands: []*cli.Command{
			runCmd(database, cfg),
			ingestCmd(database, cfg),
			completeCmd(database, cfg),
			failCmd(database, cfg),
			statusCmd(database, cfg),
			reprocessCmd(database, cfg),
			serveCmd(database, cfg),
			mcpCmd(database, cfg),
			depsCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// buildPipeline wires the provider, encoder, and store into a scheduler.
func buildPipeline(database *sql.DB, cfg *config.Config) (*analysis.Scheduler, error) {
	p, err := provider.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	encoder, err := timelapse.NewEncoder(cfg.TimelapseSpeed)
	if err != nil {
		return nil, err
	}
	store := recording.NewStore(database, cfg)
	return analysis.NewScheduler(database, cfg, p, store, encoder), nil
}

// runCmd creates the run command.
func runCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the analysis scheduler until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run a single analysis pass and exit"},
		},
		Action: func(c *cli.Context) error {
			scheduler, err := buildPipeline(database, cfg)
			if err != nil {
				return outputError(err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if c.Bool("once") {
				if err := scheduler.RunOnce(ctx); err != nil {
					return outputError(err)
				}
				return nil
			}

			if err := scheduler.Start(ctx); err != nil && err != context.Canceled {
				return outputError(err)
			}
			return nil
		},
	}
}

// ingestCmd creates the ingest command.
func ingestCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Register a recording chunk that has started",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "Chunk file path"},
			&cli.Int64Flag{Name: "start", Aliases: []string{"s"}, Usage: "Start unix timestamp (default: now)"},
			&cli.Int64Flag{Name: "duration", Aliases: []string{"d"}, Value: 60, Usage: "Estimated duration in seconds"},
		},
		Action: func(c *cli.Context) error {
			start := c.Int64("start")
			if start == 0 {
				start = nowUnix()
			}
			store := recording.NewStore(database, cfg)
			output, err := store.Register(recording.RegisterInput{
				StartTS:          start,
				FilePath:         c.String("file"),
				EstimatedSeconds: c.Int64("duration"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// completeCmd creates the complete command.
func completeCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "complete",
		Usage:     "Mark a recording chunk as completed",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "end", Aliases: []string{"e"}, Usage: "End unix timestamp (default: now)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("chunk id is required"))
			}
			end := c.Int64("end")
			if end == 0 {
				end = nowUnix()
			}
			store := recording.NewStore(database, cfg)
			if err := store.MarkCompleted(c.Args().First(), end); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"id": c.Args().First(), "status": "completed"})
		},
	}
}

// failCmd creates the fail command.
func failCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "fail",
		Usage:     "Discard a recording chunk that failed mid-write",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("chunk id is required"))
			}
			store := recording.NewStore(database, cfg)
			if err := store.MarkFailed(c.Args().First()); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"id": c.Args().First(), "status": "discarded"})
		},
	}
}

// statusCmd creates the status command.
func statusCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show chunk counts and batch statuses",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "day", Usage: "Logical day 2006-01-02 (default: today)"},
		},
		Action: func(c *cli.Context) error {
			chunks := map[string]int{}
			for _, status := range []timeline.ChunkStatus{timeline.ChunkRecording, timeline.ChunkCompleted, timeline.ChunkFailed} {
				s := status
				n, err := db.CountChunks(database, &s)
				if err != nil {
					return outputError(err)
				}
				chunks[string(status)] = n
			}

			day := c.String("day")
			if day == "" {
				day = timeline.LogicalDay(nowUnix(), cfg.DayBoundaryHour)
			}
			start, end, err := timeline.DayRange(day, cfg.DayBoundaryHour)
			if err != nil {
				return outputError(errors.NewInvalidRequest("day must be formatted 2006-01-02"))
			}

			batches, err := db.ListBatchesInRange(database, start, end)
			if err != nil {
				return outputError(err)
			}
			byStatus := map[string]int{}
			for _, b := range batches {
				byStatus[string(b.Status)]++
			}

			return outputJSON(map[string]any{
				"day":               day,
				"chunks_by_status":  chunks,
				"batches_by_status": byStatus,
				"batch_count":       len(batches),
			})
		},
	}
}

// reprocessCmd creates the reprocess command.
func reprocessCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "reprocess",
		Usage:     "Re-run analysis for a day or specific batches",
		ArgsUsage: "[batch-id ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "day", Usage: "Reprocess every batch of a logical day (2006-01-02)"},
		},
		Action: func(c *cli.Context) error {
			if c.String("day") == "" && c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("pass --day or at least one batch id"))
			}
			if c.String("day") != "" && c.NArg() > 0 {
				return outputError(errors.NewInvalidRequest("pass either --day or batch ids, not both"))
			}

			scheduler, err := buildPipeline(database, cfg)
			if err != nil {
				return outputError(err)
			}
			rep := analysis.NewReprocessor(database, cfg, scheduler)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			progress := func(result analysis.BatchResult) {
				fmt.Fprintf(os.Stderr, "batch %s: %s (%.1fs)\n", result.BatchID, result.Status, result.Seconds)
			}

			var summary *analysis.Summary
			if day := c.String("day"); day != "" {
				summary, err = rep.ReprocessDay(ctx, day, progress)
			} else {
				summary, err = rep.ReprocessBatches(ctx, c.Args().Slice(), progress)
			}
			if err != nil {
				return outputError(err)
			}
			return outputJSON(summary)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the debug web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 7823, Usage: "Port"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(database, cfg, Version, c.String("bind"), c.Int("port"))
			return web.Run(srv)
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP tools over stdio",
		Action: func(c *cli.Context) error {
			factory := func() (*analysis.Reprocessor, error) {
				scheduler, err := buildPipeline(database, cfg)
				if err != nil {
					return nil, err
				}
				return analysis.NewReprocessor(database, cfg, scheduler), nil
			}
			return mcp.Run(database, cfg, Version, factory)
		},
	}
}

// depsCmd creates the deps command.
func depsCmd() *cli.Command {
	return &cli.Command{
		Name:  "deps",
		Usage: "Check external binary dependencies",
		Action: func(c *cli.Context) error {
			return outputJSON(timelapse.DependencyStatus())
		},
	}
}

// Helper functions

func nowUnix() int64 {
	return time.Now().Unix()
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if pErr, ok := err.(*errors.PipelineError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", pErr.Code, pErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
