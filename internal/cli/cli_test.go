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

package cli

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/tsync-io/tsync/pkg/config"
)

func testContext(t *testing.T, args []string, flags []cli.Flag) *cli.Context {
	t.Helper()

	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range flags {
		if err := f.Apply(set); err != nil {
			t.Fatalf("applying flag: %v", err)
		}
	}
	if err := set.Parse(args); err != nil {
		t.Fatalf("parsing args: %v", err)
	}
	return cli.NewContext(SetupCLI(), set, nil)
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.Defaults()
	flags := []cli.Flag{
		&cli.IntFlag{Name: "workers"},
		&cli.IntFlag{Name: "block-size"},
		&cli.IntFlag{Name: "compare-unit-size"},
	}

	ctx := testContext(t, []string{"--workers", "8", "--compare-unit-size", "50"}, flags)
	applyOverrides(ctx, cfg)

	if cfg.Sync.Workers != 8 {
		t.Fatalf("expected workers override 8, got %d", cfg.Sync.Workers)
	}
	if cfg.Sync.CompareUnitSize != 50 {
		t.Fatalf("expected compare unit override 50, got %d", cfg.Sync.CompareUnitSize)
	}
	if cfg.Sync.BlockSize != 100000 {
		t.Fatalf("unset flag must not override block size, got %d", cfg.Sync.BlockSize)
	}
}

func TestDiffRequiresSchemaArg(t *testing.T) {
	t.Cleanup(func() { config.Cfg = nil })
	config.Cfg = config.Defaults()

	app := SetupCLI()
	err := app.Run([]string{"tsync", "diff"})
	if err == nil || !strings.Contains(err.Error(), "needs <schema>") {
		t.Fatalf("expected missing schema error, got %v", err)
	}
}

func TestConfigInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "tsync.yaml")

	app := SetupCLI()
	if err := app.Run([]string{"tsync", "config", "init", "--path", path}); err != nil {
		t.Fatalf("config init: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}
	if !strings.Contains(string(data), "block_size") {
		t.Fatalf("written config missing expected keys")
	}

	// The starter config must itself pass validation.
	if _, err := config.Load(path); err != nil {
		t.Fatalf("starter config does not load: %v", err)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tsync.yaml")
	if err := os.WriteFile(path, []byte("keep: me\n"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	app := SetupCLI()
	err := app.Run([]string{"tsync", "config", "init", "--path", path})
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "keep: me\n" {
		t.Fatalf("existing file was modified")
	}
}
