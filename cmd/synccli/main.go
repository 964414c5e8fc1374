// Command synccli is the thin CLI collaborator for the sync engine: it
// parses flags, wires a stdlib signal context for Ctrl-C, loads and
// validates the config file, runs one sync, prints a summary, and maps the
// outcome to an exit code. Flag parsing keeps the stdlib flag package
// rather than reaching for a third-party CLI library.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/immich-sync/engine/internal/config"
	"github.com/immich-sync/engine/internal/engine"
)

const (
	exitOK            = 0
	exitTaskErrors    = 1
	exitInvalidConfig = 2
	exitInterrupted   = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("synccli", flag.ContinueOnError)
	configPath := fs.String("config", "config.json", "Path to the sync configuration file")
	dryRun := fs.Bool("dry-run", false, "Compute the sync plan without copying or linking any asset")
	verbose := fs.Bool("verbose", false, "Enable debug-level logging")
	workers := fs.Int("workers", 4, "Number of concurrent transfer workers")
	if err := fs.Parse(args); err != nil {
		return exitInvalidConfig
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := engine.New()
	summary, err := e.Sync(ctx, cfg.Servers, engine.Options{
		DryRun:          *dryRun,
		ProgressEnabled: true,
		Workers:         *workers,
		GroupID:         uuid.NewString(),
		Logger:          logger,
	})
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "interrupted:", err)
			return exitInterrupted
		}
		fmt.Fprintln(os.Stderr, "sync failed:", err)
		return exitInvalidConfig
	}

	fmt.Printf("checksums=%d copied=%d linked=%d errors=%d\n",
		summary.TotalChecksums, summary.Copied, summary.Linked, len(summary.Errors))
	for _, msg := range summary.Errors {
		fmt.Fprintln(os.Stderr, msg)
	}

	if ctx.Err() != nil {
		return exitInterrupted
	}
	if len(summary.Errors) > 0 {
		return exitTaskErrors
	}
	return exitOK
}
