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

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tsync-io/tsync/internal/cli"
	"github.com/tsync-io/tsync/pkg/config"
	"github.com/tsync-io/tsync/pkg/logger"
)

func main() {
	if !shouldSkipConfig(os.Args[1:]) {
		// Config lookup order: TSYNC_CONFIG, current dir, user config
		// dir, /etc/tsync.
		var potentialPaths []string
		if envPath := os.Getenv("TSYNC_CONFIG"); envPath != "" {
			potentialPaths = append(potentialPaths, envPath)
		}
		potentialPaths = append(potentialPaths, "tsync.yaml")
		if home, err := os.UserHomeDir(); err == nil {
			potentialPaths = append(potentialPaths, filepath.Join(home, ".config", "tsync", "tsync.yaml"))
		}
		potentialPaths = append(potentialPaths, "/etc/tsync/tsync.yaml")

		var cfgPath string
		for _, p := range potentialPaths {
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
				break
			}
		}
		if cfgPath == "" {
			logger.Fatal("config file 'tsync.yaml' not found (run 'tsync config init' to create one)")
		}
		if err := config.Init(cfgPath); err != nil {
			logger.Fatal("loading config (%s): %v", cfgPath, err)
		}
	}

	app := cli.SetupCLI()
	if err := app.Run(os.Args); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

// shouldSkipConfig reports whether the invoked command can run without a
// loaded configuration.
func shouldSkipConfig(args []string) bool {
	if len(args) == 0 {
		return true
	}

	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "help" ||
			arg == "--version" || arg == "-v" {
			return true
		}
	}

	var commandPath []string
	for _, arg := range args {
		if arg == "--" {
			break
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		commandPath = append(commandPath, arg)
		if len(commandPath) >= 2 {
			break
		}
	}

	if len(commandPath) == 0 {
		return true
	}

	if commandPath[0] == "config" {
		return len(commandPath) == 1 || commandPath[1] == "init"
	}
	return false
}
