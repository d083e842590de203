package cron

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry tracks registered cron jobs.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry preloaded with the provided jobs.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register adds a job to the registry.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// Validate reports every blank or duplicated job name at once.
func (r *Registry) Validate() error {
	var errs error
	seen := make(map[string]bool, len(r.jobs))
	for i, job := range r.jobs {
		name := strings.TrimSpace(job.Name())
		switch {
		case name == "":
			errs = multierr.Append(errs, fmt.Errorf("job %d has no name", i))
		case seen[name]:
			errs = multierr.Append(errs, fmt.Errorf("job %q registered twice", name))
		}
		seen[name] = true
	}
	return errs
}
