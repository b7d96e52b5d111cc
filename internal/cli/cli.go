// ///////////////////////////////////////////////////////////////////////////
//
// # TSYNC - Table Sync Engine
//
// Copyright (C) 2024 - 2026, the TSYNC authors
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

// Package cli wires the tsync commands together.
package cli

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"

	"github.com/tsync-io/tsync/internal/auth"
	"github.com/tsync-io/tsync/internal/catalog"
	"github.com/tsync-io/tsync/internal/engine"
	"github.com/tsync-io/tsync/internal/scheduler"
	"github.com/tsync-io/tsync/pkg/config"
	"github.com/tsync-io/tsync/pkg/logger"
	"github.com/tsync-io/tsync/pkg/taskstore"
)

//go:embed default_config.yaml
var defaultConfigYAML string

// Version is stamped at build time.
var Version = "dev"

func SetupCLI() *cli.App {
	diffFlags := []cli.Flag{
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "number of comparison workers",
		},
		&cli.IntFlag{
			Name:    "block-size",
			Aliases: []string{"b"},
			Usage:   "target number of rows per hashed block",
		},
		&cli.IntFlag{
			Name:  "compare-unit-size",
			Usage: "row count below which ranges are compared row by row",
		},
		&cli.BoolFlag{
			Name:  "ensure-pgcrypto",
			Usage: "create the pgcrypto extension if it is missing",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "suppress the progress bar",
		},
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"d"},
			Usage:   "enable debug logging",
		},
		&cli.BoolFlag{
			Name:  "schedule",
			Usage: "keep running the comparison on a schedule",
		},
		&cli.StringFlag{
			Name:  "every",
			Usage: "schedule frequency, e.g. 30m or 12h (requires --schedule)",
			Value: "1h",
		},
	}

	return &cli.App{
		Name:    "tsync",
		Usage:   "Compare tables between two PostgreSQL databases",
		Version: Version,
		Commands: []*cli.Command{
			{
				Name:      "diff",
				Usage:     "Compare tables between the configured source and target",
				ArgsUsage: "<schema> [table ...]",
				Flags:     diffFlags,
				Before:    setLogLevel,
				Action: func(ctx *cli.Context) error {
					if ctx.Args().Len() == 0 {
						return fmt.Errorf("missing required argument for diff: needs <schema>")
					}
					return DiffCLI(ctx)
				},
			},
			{
				Name:      "tables",
				Usage:     "List the comparable tables in a schema on the source",
				ArgsUsage: "<schema>",
				Before:    setLogLevel,
				Action: func(ctx *cli.Context) error {
					if ctx.Args().Len() != 1 {
						return fmt.Errorf("unexpected arguments for tables (usage: <schema>)")
					}
					return TablesCLI(ctx)
				},
			},
			{
				Name:  "runs",
				Usage: "Show recent comparison runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum number of runs to show",
						Value: 20,
					},
				},
				Action: RunsCLI,
			},
			{
				Name:  "config",
				Usage: "Manage the tsync configuration",
				Subcommands: []*cli.Command{
					{
						Name:   "init",
						Usage:  "Write a starter configuration file",
						Action: ConfigInitCLI,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "path",
								Usage: "where to write the config file",
							},
							&cli.BoolFlag{
								Name:  "force",
								Usage: "overwrite an existing file",
							},
							&cli.BoolFlag{
								Name:  "stdout",
								Usage: "print the config to stdout instead",
							},
						},
					},
				},
			},
		},
	}
}

func setLogLevel(ctx *cli.Context) error {
	if ctx.Bool("debug") || (config.Cfg != nil && config.Cfg.DebugMode) {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
	return nil
}

// DiffCLI runs one comparison, or keeps re-running it when --schedule is
// set.
func DiffCLI(ctx *cli.Context) error {
	cfg := config.Cfg
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}
	applyOverrides(ctx, cfg)

	args := ctx.Args().Slice()

	task := engine.NewDiffTask(cfg)
	task.Schema = args[0]
	task.Tables = args[1:]
	task.EnsurePgcrypto = ctx.Bool("ensure-pgcrypto")
	task.QuietMode = ctx.Bool("quiet")

	if err := task.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	recorder, err := taskstore.NewRecorder(nil, cfg.TaskStorePath)
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}
	defer recorder.Close()
	task.Recorder = recorder

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !ctx.Bool("schedule") {
		return task.Execute(runCtx)
	}

	freq, err := scheduler.ParseFrequency(ctx.String("every"))
	if err != nil {
		return err
	}

	job := scheduler.Job{
		Name:       fmt.Sprintf("diff:%s", task.Schema),
		Frequency:  freq,
		RunOnStart: true,
		Task: func(jobCtx context.Context) error {
			run := task.Clone()
			run.TaskType = taskstore.TaskTypeScheduledDiff
			run.Recorder = recorder
			return run.Execute(jobCtx)
		},
	}
	return scheduler.RunSingleJob(runCtx, job)
}

// TablesCLI lists the base tables of a schema on the source database.
func TablesCLI(ctx *cli.Context) error {
	cfg := config.Cfg
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := auth.Connect(runCtx, cfg.Source, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to source: %w", err)
	}
	defer pool.Close()

	schema := ctx.Args().First()
	names, err := catalog.ListTables(runCtx, pool, schema)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Printf("%s.%s\n", schema, name)
	}
	return nil
}

// RunsCLI prints recent runs from the task store.
func RunsCLI(ctx *cli.Context) error {
	cfg := config.Cfg
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	store, err := taskstore.New(cfg.TaskStorePath)
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}
	defer store.Close()

	recs, err := store.List(ctx.Int("limit"))
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	for _, rec := range recs {
		line := fmt.Sprintf("%s  %-9s  %s -> %s  %s",
			rec.TaskID, rec.Status, rec.SourceDB, rec.TargetDB,
			strings.Join(rec.Tables, ","))
		if rec.DiffFilePath != "" {
			line += "  diffs: " + rec.DiffFilePath
		}
		fmt.Println(line)
	}
	return nil
}

// ConfigInitCLI writes the embedded starter configuration.
func ConfigInitCLI(ctx *cli.Context) error {
	outputPath := ctx.String("path")
	if outputPath == "" {
		outputPath = "tsync.yaml"
	}

	if ctx.Bool("stdout") || outputPath == "-" {
		fmt.Println(defaultConfigYAML)
		return nil
	}

	if !ctx.Bool("force") {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", outputPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("unable to verify existing config at %s: %w", outputPath, err)
		}
	}

	dir := filepath.Dir(outputPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(outputPath, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", outputPath, err)
	}

	fmt.Printf("Wrote config file to %s\n", outputPath)
	return nil
}

// applyOverrides copies any tuning flags set on the command line over the
// loaded configuration.
func applyOverrides(ctx *cli.Context, cfg *config.Config) {
	if ctx.IsSet("workers") {
		cfg.Sync.Workers = ctx.Int("workers")
	}
	if ctx.IsSet("block-size") {
		cfg.Sync.BlockSize = ctx.Int("block-size")
	}
	if ctx.IsSet("compare-unit-size") {
		cfg.Sync.CompareUnitSize = ctx.Int("compare-unit-size")
	}
}
