package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vegerot/dayflow/internal/config"
	"github.com/vegerot/dayflow/internal/db"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	baseDir := os.Getenv("DAYFLOW_HOME")
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
			os.Exit(1)
		}
		baseDir = filepath.Join(homeDir, ".dayflow")
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	db.ConfigurePool(database, cfg)

	app := newCLIApp(database, cfg)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
