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

package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{" 1h ", time.Hour, false},
		{"", 0, true},
		{"-10s", 0, true},
		{"0s", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseFrequency(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseFrequency(%q): expected error, got %v", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseFrequency(%q): unexpected error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Fatalf("ParseFrequency(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestRunWithNoJobsReturns(t *testing.T) {
	m, err := NewManager()
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run with no jobs: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run with no jobs should return immediately")
	}
}

func TestRunOnStartExecutesTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ran := make(chan struct{}, 1)
	job := Job{
		Name:       "probe",
		Frequency:  time.Hour,
		RunOnStart: true,
		Task: func(context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	}

	done := make(chan error, 1)
	go func() { done <- RunSingleJob(ctx, job) }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run on start")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunSingleJob: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not shut down after cancel")
	}
}

func TestJobWithoutScheduleFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := RunSingleJob(ctx, Job{
		Name: "broken",
		Task: func(context.Context) error { return nil },
	})
	if err == nil {
		t.Fatal("expected error for job without cron or frequency")
	}
}
