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

// Package scheduler runs table comparisons on a recurring schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/tsync-io/tsync/pkg/logger"
)

// Job is one recurring comparison. Either Cron or Frequency must be set;
// Cron wins when both are.
type Job struct {
	Name       string
	Frequency  time.Duration
	Cron       string
	RunOnStart bool
	Task       func(context.Context) error
}

// Manager owns the gocron scheduler and the jobs registered on it.
type Manager struct {
	scheduler gocron.Scheduler
	jobs      []Job
}

func NewManager() (*Manager, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	return &Manager{scheduler: sched}, nil
}

func (m *Manager) AddJob(job Job) {
	m.jobs = append(m.jobs, job)
}

// Run schedules every registered job and blocks until the context is
// cancelled. Job failures are logged, not fatal; the schedule keeps going.
func (m *Manager) Run(ctx context.Context) error {
	if len(m.jobs) == 0 {
		logger.Info("scheduler: nothing to schedule")
		return nil
	}

	for _, job := range m.jobs {
		if err := m.schedule(ctx, job); err != nil {
			return err
		}
	}

	m.scheduler.Start()
	<-ctx.Done()
	logger.Info("scheduler: shutting down")
	if err := m.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	return nil
}

func (m *Manager) schedule(ctx context.Context, job Job) error {
	if job.Task == nil {
		return fmt.Errorf("scheduler: job %q has no task", job.Name)
	}

	runFn := func() {
		if ctx.Err() != nil {
			return
		}
		if err := job.Task(ctx); err != nil {
			logger.Error("scheduler: run of %s failed: %v", job.Name, err)
		}
	}

	if job.RunOnStart && ctx.Err() == nil {
		runFn()
	}

	var (
		gJob gocron.Job
		err  error
	)
	switch {
	case job.Cron != "":
		gJob, err = m.scheduler.NewJob(gocron.CronJob(job.Cron, false), gocron.NewTask(runFn))
	case job.Frequency > 0:
		gJob, err = m.scheduler.NewJob(gocron.DurationJob(job.Frequency), gocron.NewTask(runFn))
	default:
		return fmt.Errorf("scheduler: job %q needs a cron expression or a frequency", job.Name)
	}
	if err != nil {
		return fmt.Errorf("scheduler: scheduling %q: %w", job.Name, err)
	}

	logger.Info("scheduler: %s scheduled (id %s)", job.Name, gJob.ID())
	return nil
}

// RunSingleJob schedules one job and blocks until the context is cancelled.
func RunSingleJob(ctx context.Context, job Job) error {
	manager, err := NewManager()
	if err != nil {
		return err
	}
	manager.AddJob(job)
	return manager.Run(ctx)
}

// ParseFrequency parses a Go duration string and requires it to be
// positive.
func ParseFrequency(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, errors.New("frequency cannot be empty")
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parsing frequency %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("frequency must be positive: %s", raw)
	}
	return d, nil
}
