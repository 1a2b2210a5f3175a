// Package pipeline groups related tasks around a shared execution
// context.
//
// A pipeline is built from task configs resolved through a registry.
// Running it creates one context for the group, associates every task
// with it, and hands the units to a scheduler; tasks communicate by
// writing results into the shared context. Teardown removes the
// pipeline's contexts once its outputs have been consumed.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/schedkit/contexts"
	"github.com/vinayprograms/schedkit/errors"
	"github.com/vinayprograms/schedkit/registry"
	"github.com/vinayprograms/schedkit/scheduler"
	"github.com/vinayprograms/schedkit/tasks"
)

// Pipeline is a group of tasks sharing one execution context.
type Pipeline struct {
	// ID identifies the pipeline and keys its context.
	ID uuid.UUID

	// Units are the scheduling-ready tasks, in config order.
	Units []*tasks.Unit

	// Timeout bounds the whole run. Zero means unbounded.
	Timeout time.Duration
}

// New resolves the configs through the registry and builds a pipeline.
// At least one task is required.
func New(reg *registry.Registry, cfgs ...tasks.Config) (*Pipeline, error) {
	if len(cfgs) == 0 {
		return nil, errors.InvalidConfig("pipeline requires at least one task")
	}

	p := &Pipeline{
		ID:    uuid.New(),
		Units: make([]*tasks.Unit, 0, len(cfgs)),
	}
	for _, cfg := range cfgs {
		unit, err := reg.Create(cfg)
		if err != nil {
			return nil, err
		}
		p.Units = append(p.Units, unit)
	}
	return p, nil
}

// Run creates the pipeline context, associates every task with it, adds
// all units to the scheduler, and runs to completion.
func (p *Pipeline) Run(ctx context.Context, sched *scheduler.Scheduler, cm *contexts.Manager) (scheduler.Result, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	shared := cm.Create(p.ID)
	for _, unit := range p.Units {
		if err := cm.Associate(unit.ID(), shared.ID); err != nil {
			return scheduler.Result{}, err
		}
	}
	for _, unit := range p.Units {
		if err := sched.Add(unit); err != nil {
			return scheduler.Result{}, err
		}
	}
	return sched.Run(ctx)
}

// Context returns the pipeline's shared context, if Run created one.
func (p *Pipeline) Context(cm *contexts.Manager) (*contexts.Context, error) {
	return cm.ForPipeline(p.ID)
}

// Teardown removes the pipeline's contexts. Call it after the
// pipeline's outputs have been read or merged elsewhere.
func (p *Pipeline) Teardown(cm *contexts.Manager) error {
	return cm.Cleanup(p.ID)
}
