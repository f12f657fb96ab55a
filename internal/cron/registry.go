package cron

import (
	"context"
	"fmt"
	"strings"

	robfig "github.com/robfig/cron/v3"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with its parsed schedule.
type Entry struct {
	Job      Job
	Expr     string
	Schedule robfig.Schedule
}

// Registry tracks registered cron jobs.
type Registry struct {
	entries []Entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds job under a standard five-field cron expression. Descriptors
// such as @hourly are accepted too.
func (r *Registry) Register(expr string, job Job) error {
	if job == nil {
		return fmt.Errorf("cron job required")
	}
	expr = strings.TrimSpace(expr)
	schedule, err := robfig.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("parse schedule %q for %s: %w", expr, job.Name(), err)
	}
	for _, entry := range r.entries {
		if entry.Job.Name() == job.Name() {
			return fmt.Errorf("cron job %s already registered", job.Name())
		}
	}
	r.entries = append(r.entries, Entry{Job: job, Expr: expr, Schedule: schedule})
	return nil
}

// Entries returns the registered entries in the order they were added.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}
