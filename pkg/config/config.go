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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source DBConfig `yaml:"source"`
	Target DBConfig `yaml:"target"`

	Postgres PostgresConfig `yaml:"postgres"`
	Sync     SyncConfig     `yaml:"sync"`

	TaskStorePath string `yaml:"task_store_path"`
	DebugMode     bool   `yaml:"debug_mode"`
}

type DBConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	DBName     string `yaml:"dbname"`
	DBUser     string `yaml:"user"`
	DBPassword string `yaml:"password"`
	SSLMode    string `yaml:"sslmode"`
}

type PostgresConfig struct {
	StatementTimeout  int `yaml:"statement_timeout"`  // ms
	ConnectionTimeout int `yaml:"connection_timeout"` // s
	PoolSize          int `yaml:"pool_size"`
}

type SyncConfig struct {
	Workers         int `yaml:"workers"`
	BlockSize       int `yaml:"block_size"`
	MinBlockSize    int `yaml:"min_block_size"`
	MaxBlockSize    int `yaml:"max_block_size"`
	CompareUnitSize int `yaml:"compare_unit_size"`
}

// Cfg holds the loaded config for the whole app.
var Cfg *Config

// Defaults returns a Config populated with the stock tuning values.
func Defaults() *Config {
	return &Config{
		Postgres: PostgresConfig{
			StatementTimeout:  60000,
			ConnectionTimeout: 10,
			PoolSize:          4,
		},
		Sync: SyncConfig{
			Workers:         4,
			BlockSize:       100000,
			MinBlockSize:    1000,
			MaxBlockSize:    1000000,
			CompareUnitSize: 100,
		},
		TaskStorePath: "tsync_tasks.db",
	}
}

// Load reads and parses path into a Config on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Defaults()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Init loads the config and assigns it to the package variable.
func Init(path string) error {
	c, err := Load(path)
	if err != nil {
		return err
	}
	Cfg = c
	return nil
}

// Validate checks the tuning values for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers)
	}
	if c.Sync.MinBlockSize < 1 || c.Sync.MaxBlockSize < c.Sync.MinBlockSize {
		return fmt.Errorf("invalid block size bounds: min=%d max=%d", c.Sync.MinBlockSize, c.Sync.MaxBlockSize)
	}
	if c.Sync.BlockSize < c.Sync.MinBlockSize || c.Sync.BlockSize > c.Sync.MaxBlockSize {
		return fmt.Errorf("sync.block_size %d outside [%d, %d]", c.Sync.BlockSize, c.Sync.MinBlockSize, c.Sync.MaxBlockSize)
	}
	if c.Sync.CompareUnitSize < 1 {
		return fmt.Errorf("sync.compare_unit_size must be at least 1, got %d", c.Sync.CompareUnitSize)
	}
	return nil
}
