package cron

import (
	"context"
	"testing"
)

type noopJob struct {
	name string
}

func (n *noopJob) Name() string              { return n.name }
func (n *noopJob) Run(context.Context) error { return nil }

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	retention := &noopJob{name: "outbox-retention"}
	allowance := &noopJob{name: "monthly-allowance"}
	registry := NewRegistry(retention)
	registry.Register(allowance)

	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != retention || jobs[1] != allowance {
		t.Fatalf("jobs returned out of order")
	}

	// Jobs hands out a copy; mutating it must not reach the registry.
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}
